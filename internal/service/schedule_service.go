package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/go-playground/validator/v10"
	"go.uber.org/zap"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
)

type roomRepository interface {
	FindByID(ctx context.Context, id string) (*models.Room, error)
	List(ctx context.Context, building string, page, pageSize int) ([]models.Room, int, error)
	Create(ctx context.Context, room *models.Room) error
	Update(ctx context.Context, room *models.Room) error
	Delete(ctx context.Context, id string) error
	HasSchedules(ctx context.Context, id string) (bool, error)
}

type scheduleRepository interface {
	FindByID(ctx context.Context, id string) (*models.ClassSchedule, error)
	List(ctx context.Context, filter models.ClassScheduleFilter) ([]models.ClassSchedule, int, error)
	ListByRoomAndDay(ctx context.Context, roomID string, dayOfWeek int, excludeID string) ([]models.ClassSchedule, error)
	Create(ctx context.Context, schedule *models.ClassSchedule) error
	Update(ctx context.Context, schedule *models.ClassSchedule) error
	Delete(ctx context.Context, id string) error
}

// RoomRequest creates or replaces a room.
type RoomRequest struct {
	Name     string `json:"name" validate:"required"`
	Capacity int    `json:"capacity" validate:"required,min=1"`
	Building string `json:"building" validate:"required"`
	Floor    int    `json:"floor"`
}

// ScheduleRequest creates or replaces a weekly room booking.
type ScheduleRequest struct {
	ClassID        string    `json:"class_id" validate:"required"`
	RoomID         string    `json:"room_id" validate:"required"`
	DayOfWeek      int       `json:"day_of_week" validate:"min=0,max=6"`
	StartTime      string    `json:"start_time" validate:"required,datetime=15:04"`
	EndTime        string    `json:"end_time" validate:"required,datetime=15:04"`
	EffectiveFrom  time.Time `json:"effective_from" validate:"required"`
	EffectiveUntil time.Time `json:"effective_until" validate:"required"`
}

// ScheduleService manages rooms and weekly class schedules, and rejects
// bookings that would double-book a room.
type ScheduleService struct {
	rooms     roomRepository
	schedules scheduleRepository
	directory directoryReader
	validator *validator.Validate
	logger    *zap.Logger
}

// NewScheduleService constructs ScheduleService.
func NewScheduleService(rooms roomRepository, schedules scheduleRepository, directory directoryReader, validate *validator.Validate, logger *zap.Logger) *ScheduleService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	return &ScheduleService{rooms: rooms, schedules: schedules, directory: directory, validator: validate, logger: logger}
}

// GetRoom loads a room by id.
func (s *ScheduleService) GetRoom(ctx context.Context, id string) (*models.Room, error) {
	room, err := s.rooms.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "room not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load room")
	}
	return room, nil
}

// ListRooms returns rooms with pagination metadata.
func (s *ScheduleService) ListRooms(ctx context.Context, building string, page, pageSize int) ([]models.Room, *models.Pagination, error) {
	rooms, total, err := s.rooms.List(ctx, building, page, pageSize)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list rooms")
	}
	if page < 1 {
		page = 1
	}
	if pageSize <= 0 {
		pageSize = 50
	}
	return rooms, &models.Pagination{Page: page, PageSize: pageSize, TotalCount: total}, nil
}

// CreateRoom stores a new room.
func (s *ScheduleService) CreateRoom(ctx context.Context, req RoomRequest) (*models.Room, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	room := &models.Room{Name: req.Name, Capacity: req.Capacity, Building: req.Building, Floor: req.Floor}
	if err := s.rooms.Create(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create room")
	}
	return room, nil
}

// UpdateRoom replaces a room's attributes.
func (s *ScheduleService) UpdateRoom(ctx context.Context, id string, req RoomRequest) (*models.Room, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid room payload")
	}
	room, err := s.GetRoom(ctx, id)
	if err != nil {
		return nil, err
	}
	room.Name = req.Name
	room.Capacity = req.Capacity
	room.Building = req.Building
	room.Floor = req.Floor
	if err := s.rooms.Update(ctx, room); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update room")
	}
	return room, nil
}

// DeleteRoom removes a room. Rooms referenced by schedules cannot be
// deleted.
func (s *ScheduleService) DeleteRoom(ctx context.Context, id string) error {
	if _, err := s.GetRoom(ctx, id); err != nil {
		return err
	}
	occupied, err := s.rooms.HasSchedules(ctx, id)
	if err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check room usage")
	}
	if occupied {
		return appErrors.Clone(appErrors.ErrConflict, "room has schedules and cannot be deleted")
	}
	if err := s.rooms.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete room")
	}
	return nil
}

// GetSchedule loads a schedule by id.
func (s *ScheduleService) GetSchedule(ctx context.Context, id string) (*models.ClassSchedule, error) {
	schedule, err := s.schedules.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "schedule not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load schedule")
	}
	return schedule, nil
}

// ListSchedules returns schedules with pagination metadata.
func (s *ScheduleService) ListSchedules(ctx context.Context, filter models.ClassScheduleFilter) ([]models.ClassSchedule, *models.Pagination, error) {
	schedules, total, err := s.schedules.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list schedules")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 50
	}
	return schedules, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// CreateSchedule books a room slot after checking for conflicts.
func (s *ScheduleService) CreateSchedule(ctx context.Context, req ScheduleRequest) (*models.ClassSchedule, error) {
	schedule, err := s.buildSchedule(ctx, req, "")
	if err != nil {
		return nil, err
	}
	if err := s.schedules.Create(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create schedule")
	}
	return schedule, nil
}

// UpdateSchedule replaces a booking after re-checking for conflicts,
// ignoring the booking's own slot.
func (s *ScheduleService) UpdateSchedule(ctx context.Context, id string, req ScheduleRequest) (*models.ClassSchedule, error) {
	existing, err := s.GetSchedule(ctx, id)
	if err != nil {
		return nil, err
	}
	schedule, err := s.buildSchedule(ctx, req, id)
	if err != nil {
		return nil, err
	}
	schedule.ID = existing.ID
	schedule.CreatedAt = existing.CreatedAt
	if err := s.schedules.Update(ctx, schedule); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update schedule")
	}
	return schedule, nil
}

// DeleteSchedule removes a booking.
func (s *ScheduleService) DeleteSchedule(ctx context.Context, id string) error {
	if _, err := s.GetSchedule(ctx, id); err != nil {
		return err
	}
	if err := s.schedules.Delete(ctx, id); err != nil {
		return appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to delete schedule")
	}
	return nil
}

// CheckConflict reports the first existing booking that collides with
// the requested slot, or nil when the slot is free.
func (s *ScheduleService) CheckConflict(ctx context.Context, req ScheduleRequest, excludeID string) (*models.ScheduleConflict, error) {
	if err := s.validateSlot(req); err != nil {
		return nil, err
	}
	candidates, err := s.schedules.ListByRoomAndDay(ctx, req.RoomID, req.DayOfWeek, excludeID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load conflict candidates")
	}
	return findConflict(req, candidates), nil
}

func (s *ScheduleService) buildSchedule(ctx context.Context, req ScheduleRequest, excludeID string) (*models.ClassSchedule, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid schedule payload")
	}
	if err := s.validateSlot(req); err != nil {
		return nil, err
	}

	exists, err := s.directory.ClassExists(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}
	if _, err := s.GetRoom(ctx, req.RoomID); err != nil {
		return nil, err
	}

	conflict, err := s.CheckConflict(ctx, req, excludeID)
	if err != nil {
		return nil, err
	}
	if conflict != nil {
		return nil, appErrors.Wrap(&models.ScheduleConflictError{Conflict: *conflict}, appErrors.ErrConflict.Code, appErrors.ErrConflict.Status, conflict.Message)
	}

	return &models.ClassSchedule{
		ClassID:        req.ClassID,
		RoomID:         req.RoomID,
		DayOfWeek:      req.DayOfWeek,
		StartTime:      req.StartTime,
		EndTime:        req.EndTime,
		EffectiveFrom:  req.EffectiveFrom,
		EffectiveUntil: req.EffectiveUntil,
	}, nil
}

func (s *ScheduleService) validateSlot(req ScheduleRequest) error {
	if req.StartTime >= req.EndTime {
		return appErrors.Clone(appErrors.ErrValidation, "start_time must be before end_time")
	}
	if !req.EffectiveFrom.Before(req.EffectiveUntil) {
		return appErrors.Clone(appErrors.ErrValidation, "effective_from must be before effective_until")
	}
	return nil
}

// findConflict walks the candidates in order and returns the first one
// whose time-of-day slot and effective date range both overlap the
// request. Both intervals are half-open, so back-to-back slots such as
// 09:00-10:00 and 10:00-11:00 do not collide. "HH:MM" strings order
// lexicographically, which matches chronological order.
func findConflict(req ScheduleRequest, candidates []models.ClassSchedule) *models.ScheduleConflict {
	for _, other := range candidates {
		if !intervalsOverlap(req.StartTime, req.EndTime, other.StartTime, other.EndTime) {
			continue
		}
		if !dateRangesOverlap(req.EffectiveFrom, req.EffectiveUntil, other.EffectiveFrom, other.EffectiveUntil) {
			continue
		}
		return &models.ScheduleConflict{
			ConflictType:          "time_overlap",
			Message:               fmt.Sprintf("room is already booked %s-%s by class %s", other.StartTime, other.EndTime, other.ClassID),
			ConflictingScheduleID: other.ID,
		}
	}
	return nil
}

func intervalsOverlap(aStart, aEnd, bStart, bEnd string) bool {
	return aStart < bEnd && bStart < aEnd
}

func dateRangesOverlap(aFrom, aUntil, bFrom, bUntil time.Time) bool {
	return aFrom.Before(bUntil) && bFrom.Before(aUntil)
}
