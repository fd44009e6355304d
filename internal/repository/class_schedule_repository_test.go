package repository

import (
	"context"
	"regexp"
	"testing"
	"time"

	sqlmock "github.com/DATA-DOG/go-sqlmock"
	"github.com/jmoiron/sqlx"
	"github.com/stretchr/testify/require"
)

func newScheduleRepoMock(t *testing.T) (*sqlx.DB, sqlmock.Sqlmock, func()) {
	db, mock, err := sqlmock.New(sqlmock.QueryMatcherOption(sqlmock.QueryMatcherRegexp))
	require.NoError(t, err)
	return sqlx.NewDb(db, "sqlmock"), mock, func() { db.Close() }
}

func scheduleRows() *sqlmock.Rows {
	return sqlmock.NewRows([]string{"id", "class_id", "room_id", "day_of_week", "start_time", "end_time", "effective_from", "effective_until", "created_at", "updated_at"})
}

func TestClassScheduleRepositoryListByRoomAndDay(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	rows := scheduleRows().
		AddRow("sched-1", "class-1", "room-1", 0, "09:00", "10:00", time.Now(), time.Now().AddDate(0, 6, 0), time.Now(), time.Now())
	mock.ExpectQuery(regexp.QuoteMeta("SELECT id, class_id, room_id, day_of_week, start_time, end_time, effective_from, effective_until, created_at, updated_at FROM class_schedules WHERE room_id = $1 AND day_of_week = $2")).
		WithArgs("room-1", 0).
		WillReturnRows(rows)

	schedules, err := repo.ListByRoomAndDay(context.Background(), "room-1", 0, "")
	require.NoError(t, err)
	require.Len(t, schedules, 1)
	require.Equal(t, "09:00", schedules[0].StartTime)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestClassScheduleRepositoryListByRoomAndDayExcludesSelf(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewClassScheduleRepository(db)

	mock.ExpectQuery("SELECT id, class_id, .+ FROM class_schedules WHERE room_id = \\$1 AND day_of_week = \\$2 AND id != \\$3").
		WithArgs("room-1", 2, "sched-9").
		WillReturnRows(scheduleRows())

	schedules, err := repo.ListByRoomAndDay(context.Background(), "room-1", 2, "sched-9")
	require.NoError(t, err)
	require.Empty(t, schedules)
	require.NoError(t, mock.ExpectationsWereMet())
}

func TestRoomRepositoryHasSchedules(t *testing.T) {
	db, mock, cleanup := newScheduleRepoMock(t)
	defer cleanup()
	repo := NewRoomRepository(db)

	mock.ExpectQuery(regexp.QuoteMeta("SELECT EXISTS (SELECT 1 FROM class_schedules WHERE room_id = $1)")).
		WithArgs("room-1").
		WillReturnRows(sqlmock.NewRows([]string{"exists"}).AddRow(true))

	occupied, err := repo.HasSchedules(context.Background(), "room-1")
	require.NoError(t, err)
	require.True(t, occupied)
	require.NoError(t, mock.ExpectationsWereMet())
}
