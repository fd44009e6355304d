package service

import (
	"context"
	"database/sql"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academix/school-attendance-api/internal/models"
)

type mockStatsStore struct {
	sessions     map[string]models.AttendanceSession
	sessionCount map[string]int
	counts       map[string][]models.StatusCount
	classRecords map[string][]models.AttendanceRecord
	students     map[string][]models.Student
}

func (m *mockStatsStore) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockStatsStore) CountByClass(ctx context.Context, classID string) (int, error) {
	return m.sessionCount[classID], nil
}

func (m *mockStatsStore) StatusCountsBySession(ctx context.Context, sessionID string) ([]models.StatusCount, error) {
	return m.counts[sessionID], nil
}

func (m *mockStatsStore) ListByClass(ctx context.Context, classID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	return m.classRecords[classID], nil
}

func (m *mockStatsStore) ListByStudent(ctx context.Context, studentID, classID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	var out []models.AttendanceRecord
	for _, r := range m.classRecords[classID] {
		if r.StudentID == studentID {
			out = append(out, r)
		}
	}
	return out, nil
}

func (m *mockStatsStore) ClassExists(ctx context.Context, classID string) (bool, error) {
	_, ok := m.students[classID]
	return ok, nil
}

func (m *mockStatsStore) CountStudents(ctx context.Context, classID string) (int, error) {
	return len(m.students[classID]), nil
}

func (m *mockStatsStore) ListStudents(ctx context.Context, classID string) ([]models.Student, error) {
	return m.students[classID], nil
}

func newStatsFixture(store *mockStatsStore) *StatsService {
	return NewStatsService(store, store, store, nil, time.Minute, nil)
}

func TestSessionStatsComputesRate(t *testing.T) {
	store := &mockStatsStore{
		sessions: map[string]models.AttendanceSession{
			"sess-1": {ID: "sess-1", ClassID: "class-1"},
		},
		counts: map[string][]models.StatusCount{
			"sess-1": {
				{Status: models.StatusPresent, Count: 18},
				{Status: models.StatusLate, Count: 2},
				{Status: models.StatusAbsent, Count: 4},
				{Status: models.StatusExcused, Count: 1},
			},
		},
		students: map[string][]models.Student{
			"class-1": make([]models.Student, 25),
		},
	}
	svc := newStatsFixture(store)

	stats, err := svc.SessionStats(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 25, stats.TotalStudents)
	assert.Equal(t, 18, stats.PresentCount)
	assert.Equal(t, 2, stats.LateCount)
	assert.Equal(t, 4, stats.AbsentCount)
	assert.Equal(t, 1, stats.ExcusedCount)
	assert.InDelta(t, 80.0, stats.AttendanceRate, 0.001)
}

func TestSessionStatsZeroStudents(t *testing.T) {
	store := &mockStatsStore{
		sessions: map[string]models.AttendanceSession{
			"sess-1": {ID: "sess-1", ClassID: "class-1"},
		},
		students: map[string][]models.Student{"class-1": nil},
	}
	svc := newStatsFixture(store)

	stats, err := svc.SessionStats(context.Background(), "sess-1")
	require.NoError(t, err)
	assert.Equal(t, 0, stats.TotalStudents)
	assert.Equal(t, 0.0, stats.AttendanceRate)
}

func TestClassSummaryUsesSessionCountDenominator(t *testing.T) {
	store := &mockStatsStore{
		sessionCount: map[string]int{"class-1": 2},
		students: map[string][]models.Student{
			"class-1": {
				{ID: "stu-1", FirstName: "Ana", LastName: "Silva"},
				{ID: "stu-2", FirstName: "Ben", LastName: "Torres"},
			},
		},
		classRecords: map[string][]models.AttendanceRecord{
			"class-1": {
				{StudentID: "stu-1", Status: models.StatusPresent},
				{StudentID: "stu-1", Status: models.StatusPresent},
				{StudentID: "stu-2", Status: models.StatusPresent},
			},
		},
	}
	svc := newStatsFixture(store)

	summary, err := svc.ClassSummary(context.Background(), "class-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 2, summary.TotalSessions)
	assert.Equal(t, 2, summary.TotalStudents)
	assert.Equal(t, 3, summary.AttendanceByStatus[models.StatusPresent])
	require.Len(t, summary.StudentSummaries, 2)

	// stu-1 attended both sessions; stu-2 has a record for only one, so
	// the missing session counts against the class-level rate.
	assert.InDelta(t, 100.0, summary.StudentSummaries[0].AttendanceRate, 0.001)
	assert.InDelta(t, 50.0, summary.StudentSummaries[1].AttendanceRate, 0.001)
}

func TestStudentRateUsesOwnRecordDenominator(t *testing.T) {
	store := &mockStatsStore{
		classRecords: map[string][]models.AttendanceRecord{
			"class-1": {
				{StudentID: "stu-2", Status: models.StatusPresent},
			},
		},
	}
	svc := newStatsFixture(store)

	// One record out of two class sessions still yields 100%: the
	// student-facing rate only counts sessions the student has a
	// record for.
	studentRate, err := svc.StudentRate(context.Background(), "stu-2", "class-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 1, studentRate.TotalSessions)
	assert.InDelta(t, 100.0, studentRate.AttendanceRate, 0.001)
}

func TestStudentRateNoRecords(t *testing.T) {
	store := &mockStatsStore{}
	svc := newStatsFixture(store)

	studentRate, err := svc.StudentRate(context.Background(), "stu-9", "class-1", nil, nil)
	require.NoError(t, err)
	assert.Equal(t, 0, studentRate.TotalSessions)
	assert.Equal(t, 0.0, studentRate.AttendanceRate)
}

func TestClassSummaryUnknownClass(t *testing.T) {
	store := &mockStatsStore{}
	svc := newStatsFixture(store)

	_, err := svc.ClassSummary(context.Background(), "missing", nil, nil)
	require.Error(t, err)
}
