package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
)

type mockTeacherRepo struct {
	teachers  map[string]models.Teacher
	lastLogin []string
}

func (m *mockTeacherRepo) FindByEmail(ctx context.Context, email string) (*models.Teacher, error) {
	for _, teacher := range m.teachers {
		if teacher.Email == email {
			t := teacher
			return &t, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherRepo) FindByID(ctx context.Context, id string) (*models.Teacher, error) {
	if teacher, ok := m.teachers[id]; ok {
		return &teacher, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockTeacherRepo) UpdateLastLogin(ctx context.Context, id string) error {
	m.lastLogin = append(m.lastLogin, id)
	return nil
}

func newAuthFixture(t *testing.T) (*AuthService, *mockTeacherRepo) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	require.NoError(t, err)
	repo := &mockTeacherRepo{teachers: map[string]models.Teacher{
		"teach-1": {ID: "teach-1", Name: "Carla Mendes", Email: "carla@school.test", PasswordHash: string(hash), Active: true},
		"teach-2": {ID: "teach-2", Name: "Old Account", Email: "old@school.test", PasswordHash: string(hash), Active: false},
	}}
	svc := NewAuthService(repo, nil, nil, AuthConfig{Secret: "test-secret", Expiration: time.Hour, Issuer: "school-attendance-api"})
	return svc, repo
}

func TestLoginIssuesToken(t *testing.T) {
	svc, repo := newAuthFixture(t)

	resp, err := svc.Login(context.Background(), models.LoginRequest{Email: "carla@school.test", Password: "s3cret"})
	require.NoError(t, err)
	assert.NotEmpty(t, resp.AccessToken)
	assert.Equal(t, "teach-1", resp.Teacher.ID)
	assert.Equal(t, []string{"teach-1"}, repo.lastLogin)

	claims, err := svc.ValidateToken(resp.AccessToken)
	require.NoError(t, err)
	assert.Equal(t, "teach-1", claims.TeacherID)
	assert.Equal(t, "carla@school.test", claims.Email)
}

func TestLoginWrongPassword(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "carla@school.test", Password: "wrong"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginUnknownEmail(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "nobody@school.test", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidCredentials.Code, appErrors.FromError(err).Code)
}

func TestLoginInactiveAccount(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.Login(context.Background(), models.LoginRequest{Email: "old@school.test", Password: "s3cret"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInactiveAccount.Code, appErrors.FromError(err).Code)
}

func TestValidateTokenRejectsGarbage(t *testing.T) {
	svc, _ := newAuthFixture(t)

	_, err := svc.ValidateToken("not-a-token")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)
}
