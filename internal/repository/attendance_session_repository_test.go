package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"
	"github.com/stretchr/testify/require"

	"github.com/academix/school-attendance-api/internal/models"
)

func newSessionRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func sessionRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "class_id", "teacher_id", "method", "start_time", "end_time", "is_finalized", "qr_code", "settings", "created_at", "updated_at"})
}

func TestAttendanceSessionRepositoryFindActiveByClass(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewAttendanceSessionRepository(db)

	rows := sessionRows().
		AddRow("sess-1", "class-1", "teach-1", models.MethodManual, time.Now(), nil, false, nil, []byte(`{}`), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, class_id, teacher_id, method, start_time, end_time, is_finalized, qr_code, settings, created_at, updated_at FROM attendance_sessions WHERE class_id = $1 AND is_finalized = FALSE")).
		WithArgs("class-1").
		WillReturnRows(rows)

	session, err := repo.FindActiveByClass(context.Background(), "class-1")
	require.NoError(t, err)
	require.Equal(t, "sess-1", session.ID)
	require.False(t, session.IsFinalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSessionRepositoryCreateMapsUniqueViolation(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewAttendanceSessionRepository(db)

	mock.ExpectExec("INSERT INTO attendance_sessions").
		WillReturnError(&pq.Error{Code: "23505"})

	session := &models.AttendanceSession{
		ClassID:   "class-1",
		TeacherID: "teach-1",
		Method:    models.MethodQRCode,
		StartTime: time.Now(),
	}
	err := repo.Create(context.Background(), session)
	require.ErrorIs(t, err, ErrActiveSessionExists)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSessionRepositoryFinalizeAlreadyFinal(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewAttendanceSessionRepository(db)

	mock.ExpectExec("UPDATE attendance_sessions SET is_finalized = TRUE").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 0))

	err := repo.Finalize(context.Background(), "sess-1")
	require.ErrorIs(t, err, ErrSessionFinalized)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSessionRepositoryFinalizeOpenSession(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewAttendanceSessionRepository(db)

	mock.ExpectExec("UPDATE attendance_sessions SET is_finalized = TRUE").
		WithArgs("sess-1").
		WillReturnResult(sqlmock.NewResult(0, 1))

	require.NoError(t, repo.Finalize(context.Background(), "sess-1"))
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestAttendanceSessionRepositoryListActiveFilter(t *testing.T) {
	db, mock, cleanup := newSessionRepoMock(t)
	defer cleanup()
	repo := NewAttendanceSessionRepository(db)

	active := true
	rows := sessionRows().
		AddRow("sess-1", "class-1", "teach-1", models.MethodManual, time.Now(), nil, false, nil, []byte(`{}`), time.Now(), time.Now())
	mock.ExpectQuery("SELECT id, class_id, .+ FROM attendance_sessions WHERE 1=1 AND class_id = \\$1 AND is_finalized = FALSE").
		WithArgs("class-1").
		WillReturnRows(rows)
	mock.ExpectQuery("SELECT COUNT\\(\\*\\) FROM attendance_sessions").
		WithArgs("class-1").
		WillReturnRows(sqlmock.NewRows([]string{"count"}).AddRow(1))

	sessions, total, err := repo.List(context.Background(), models.AttendanceSessionFilter{ClassID: "class-1", Active: &active})
	require.NoError(t, err)
	require.Len(t, sessions, 1)
	require.Equal(t, 1, total)
	require.NoError(t, mock.ExpectationsWereMet())
}
