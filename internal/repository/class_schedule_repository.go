package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/academix/school-attendance-api/internal/models"
)

const scheduleColumns = "id, class_id, room_id, day_of_week, start_time, end_time, effective_from, effective_until, created_at, updated_at"

// ClassScheduleRepository provides persistence for class schedules.
type ClassScheduleRepository struct {
	db *sqlx.DB
}

// NewClassScheduleRepository creates a class schedule repository.
func NewClassScheduleRepository(db *sqlx.DB) *ClassScheduleRepository {
	return &ClassScheduleRepository{db: db}
}

// FindByID loads a schedule by id.
func (r *ClassScheduleRepository) FindByID(ctx context.Context, id string) (*models.ClassSchedule, error) {
	query := fmt.Sprintf("SELECT %s FROM class_schedules WHERE id = $1", scheduleColumns)
	var schedule models.ClassSchedule
	if err := r.db.GetContext(ctx, &schedule, query, id); err != nil {
		return nil, err
	}
	return &schedule, nil
}

// List returns schedules matching the filter.
func (r *ClassScheduleRepository) List(ctx context.Context, filter models.ClassScheduleFilter) ([]models.ClassSchedule, int, error) {
	base := "FROM class_schedules WHERE 1=1"
	var args []interface{}
	if filter.ClassID != "" {
		base += fmt.Sprintf(" AND class_id = $%d", len(args)+1)
		args = append(args, filter.ClassID)
	}
	if filter.RoomID != "" {
		base += fmt.Sprintf(" AND room_id = $%d", len(args)+1)
		args = append(args, filter.RoomID)
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 50
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY day_of_week ASC, start_time ASC LIMIT %d OFFSET %d", scheduleColumns, base, size, offset)
	var schedules []models.ClassSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list class schedules: %w", err)
	}

	var total int
	if err := r.db.GetContext(ctx, &total, fmt.Sprintf("SELECT COUNT(*) %s", base), args...); err != nil {
		return nil, 0, fmt.Errorf("count class schedules: %w", err)
	}
	return schedules, total, nil
}

// ListByRoomAndDay returns conflict candidates: every schedule for the
// room on the given weekday, excluding the schedule being updated.
func (r *ClassScheduleRepository) ListByRoomAndDay(ctx context.Context, roomID string, dayOfWeek int, excludeID string) ([]models.ClassSchedule, error) {
	query := fmt.Sprintf("SELECT %s FROM class_schedules WHERE room_id = $1 AND day_of_week = $2", scheduleColumns)
	args := []interface{}{roomID, dayOfWeek}
	if excludeID != "" {
		query += " AND id != $3"
		args = append(args, excludeID)
	}
	var schedules []models.ClassSchedule
	if err := r.db.SelectContext(ctx, &schedules, query, args...); err != nil {
		return nil, fmt.Errorf("list schedules by room/day: %w", err)
	}
	return schedules, nil
}

// Create stores a new schedule.
func (r *ClassScheduleRepository) Create(ctx context.Context, schedule *models.ClassSchedule) error {
	if schedule.ID == "" {
		schedule.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	schedule.CreatedAt = now
	schedule.UpdatedAt = now

	const query = `INSERT INTO class_schedules (id, class_id, room_id, day_of_week, start_time, end_time, effective_from, effective_until, created_at, updated_at)
		VALUES (:id, :class_id, :room_id, :day_of_week, :start_time, :end_time, :effective_from, :effective_until, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("create class schedule: %w", err)
	}
	return nil
}

// Update modifies a schedule.
func (r *ClassScheduleRepository) Update(ctx context.Context, schedule *models.ClassSchedule) error {
	schedule.UpdatedAt = time.Now().UTC()
	const query = `UPDATE class_schedules SET class_id = :class_id, room_id = :room_id, day_of_week = :day_of_week, start_time = :start_time, end_time = :end_time, effective_from = :effective_from, effective_until = :effective_until, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, schedule); err != nil {
		return fmt.Errorf("update class schedule: %w", err)
	}
	return nil
}

// Delete removes a schedule by id.
func (r *ClassScheduleRepository) Delete(ctx context.Context, id string) error {
	if _, err := r.db.ExecContext(ctx, `DELETE FROM class_schedules WHERE id = $1`, id); err != nil {
		return fmt.Errorf("delete class schedule: %w", err)
	}
	return nil
}
