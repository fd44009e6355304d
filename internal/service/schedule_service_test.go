package service

import (
	"context"
	"database/sql"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
)

type mockRoomRepo struct {
	rooms     map[string]models.Room
	scheduled map[string]bool
	deleted   []string
}

func (m *mockRoomRepo) FindByID(ctx context.Context, id string) (*models.Room, error) {
	if r, ok := m.rooms[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRoomRepo) List(ctx context.Context, building string, page, pageSize int) ([]models.Room, int, error) {
	var out []models.Room
	for _, r := range m.rooms {
		if building == "" || r.Building == building {
			out = append(out, r)
		}
	}
	return out, len(out), nil
}

func (m *mockRoomRepo) Create(ctx context.Context, room *models.Room) error {
	if m.rooms == nil {
		m.rooms = make(map[string]models.Room)
	}
	if room.ID == "" {
		room.ID = fmt.Sprintf("room-%d", len(m.rooms)+1)
	}
	m.rooms[room.ID] = *room
	return nil
}

func (m *mockRoomRepo) Update(ctx context.Context, room *models.Room) error {
	m.rooms[room.ID] = *room
	return nil
}

func (m *mockRoomRepo) Delete(ctx context.Context, id string) error {
	delete(m.rooms, id)
	m.deleted = append(m.deleted, id)
	return nil
}

func (m *mockRoomRepo) HasSchedules(ctx context.Context, id string) (bool, error) {
	return m.scheduled[id], nil
}

type mockScheduleRepo struct {
	schedules map[string]models.ClassSchedule
}

func (m *mockScheduleRepo) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	if s, ok := m.schedules[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockScheduleRepo) List(ctx context.Context, filter models.ClassScheduleFilter) ([]models.ClassSchedule, int, error) {
	var out []models.ClassSchedule
	for _, s := range m.schedules {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockScheduleRepo) ListByRoomAndDay(ctx context.Context, roomID string, dayOfWeek int, excludeID string) ([]models.ClassSchedule, error) {
	var out []models.ClassSchedule
	for _, s := range m.schedules {
		if s.RoomID == roomID && s.DayOfWeek == dayOfWeek && s.ID != excludeID {
			out = append(out, s)
		}
	}
	return out, nil
}

func (m *mockScheduleRepo) Create(ctx context.Context, schedule *models.ClassSchedule) error {
	if m.schedules == nil {
		m.schedules = make(map[string]models.ClassSchedule)
	}
	if schedule.ID == "" {
		schedule.ID = fmt.Sprintf("sched-%d", len(m.schedules)+1)
	}
	m.schedules[schedule.ID] = *schedule
	return nil
}

func (m *mockScheduleRepo) Update(ctx context.Context, schedule *models.ClassSchedule) error {
	m.schedules[schedule.ID] = *schedule
	return nil
}

func (m *mockScheduleRepo) Delete(ctx context.Context, id string) error {
	delete(m.schedules, id)
	return nil
}

func newScheduleFixture() (*ScheduleService, *mockRoomRepo, *mockScheduleRepo) {
	rooms := &mockRoomRepo{
		rooms:     map[string]models.Room{"room-1": {ID: "room-1", Name: "Lab A", Capacity: 30, Building: "North"}},
		scheduled: map[string]bool{},
	}
	schedules := &mockScheduleRepo{schedules: make(map[string]models.ClassSchedule)}
	directory := &mockDirectory{classes: map[string]bool{"class-1": true, "class-2": true}}
	return NewScheduleService(rooms, schedules, directory, nil, nil), rooms, schedules
}

func slotRequest(classID, start, end string) ScheduleRequest {
	return ScheduleRequest{
		ClassID:        classID,
		RoomID:         "room-1",
		DayOfWeek:      0,
		StartTime:      start,
		EndTime:        end,
		EffectiveFrom:  time.Date(2026, 2, 1, 0, 0, 0, 0, time.UTC),
		EffectiveUntil: time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC),
	}
}

func TestCreateScheduleDetectsOverlap(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	first, err := svc.CreateSchedule(context.Background(), slotRequest("class-1", "09:00", "10:00"))
	require.NoError(t, err)

	_, err = svc.CreateSchedule(context.Background(), slotRequest("class-2", "09:30", "10:30"))
	require.Error(t, err)
	appErr := appErrors.FromError(err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErr.Code)

	conflict, err := svc.CheckConflict(context.Background(), slotRequest("class-2", "09:30", "10:30"), "")
	require.NoError(t, err)
	require.NotNil(t, conflict)
	assert.Equal(t, "time_overlap", conflict.ConflictType)
	assert.Equal(t, first.ID, conflict.ConflictingScheduleID)
}

func TestCreateScheduleBackToBackSlots(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	_, err := svc.CreateSchedule(context.Background(), slotRequest("class-1", "09:00", "10:00"))
	require.NoError(t, err)

	// Half-open intervals: a slot ending at 10:00 does not collide with
	// one starting at 10:00.
	_, err = svc.CreateSchedule(context.Background(), slotRequest("class-2", "10:00", "11:00"))
	require.NoError(t, err)
}

func TestCreateScheduleDisjointDateRanges(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	_, err := svc.CreateSchedule(context.Background(), slotRequest("class-1", "09:00", "10:00"))
	require.NoError(t, err)

	later := slotRequest("class-2", "09:00", "10:00")
	later.EffectiveFrom = time.Date(2026, 7, 1, 0, 0, 0, 0, time.UTC)
	later.EffectiveUntil = time.Date(2026, 12, 1, 0, 0, 0, 0, time.UTC)
	_, err = svc.CreateSchedule(context.Background(), later)
	require.NoError(t, err)
}

func TestUpdateScheduleIgnoresOwnSlot(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	created, err := svc.CreateSchedule(context.Background(), slotRequest("class-1", "09:00", "10:00"))
	require.NoError(t, err)

	updated, err := svc.UpdateSchedule(context.Background(), created.ID, slotRequest("class-1", "09:15", "10:15"))
	require.NoError(t, err)
	assert.Equal(t, created.ID, updated.ID)
	assert.Equal(t, "09:15", updated.StartTime)
}

func TestCreateScheduleRejectsInvertedSlot(t *testing.T) {
	svc, _, _ := newScheduleFixture()

	_, err := svc.CreateSchedule(context.Background(), slotRequest("class-1", "11:00", "10:00"))
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestDeleteRoomWithSchedules(t *testing.T) {
	svc, rooms, _ := newScheduleFixture()
	rooms.scheduled["room-1"] = true

	err := svc.DeleteRoom(context.Background(), "room-1")
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)

	rooms.scheduled["room-1"] = false
	require.NoError(t, svc.DeleteRoom(context.Background(), "room-1"))
	assert.Equal(t, []string{"room-1"}, rooms.deleted)
}
