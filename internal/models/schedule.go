package models

import "time"

// Room is a physical room that class schedules can book.
type Room struct {
	ID        string    `db:"id" json:"id"`
	Name      string    `db:"name" json:"name"`
	Capacity  int       `db:"capacity" json:"capacity"`
	Building  string    `db:"building" json:"building"`
	Floor     int       `db:"floor" json:"floor"`
	CreatedAt time.Time `db:"created_at" json:"created_at"`
	UpdatedAt time.Time `db:"updated_at" json:"updated_at"`
}

// ClassSchedule books a room for a class on a weekly slot within an
// effective date range. DayOfWeek is 0=Monday .. 6=Sunday. StartTime
// and EndTime are "HH:MM" wall-clock values; both time-of-day and
// effective-date intervals are half-open.
type ClassSchedule struct {
	ID             string    `db:"id" json:"id"`
	ClassID        string    `db:"class_id" json:"class_id"`
	RoomID         string    `db:"room_id" json:"room_id"`
	DayOfWeek      int       `db:"day_of_week" json:"day_of_week"`
	StartTime      string    `db:"start_time" json:"start_time"`
	EndTime        string    `db:"end_time" json:"end_time"`
	EffectiveFrom  time.Time `db:"effective_from" json:"effective_from"`
	EffectiveUntil time.Time `db:"effective_until" json:"effective_until"`
	CreatedAt      time.Time `db:"created_at" json:"created_at"`
	UpdatedAt      time.Time `db:"updated_at" json:"updated_at"`
}

// ClassScheduleFilter scopes schedule listings.
type ClassScheduleFilter struct {
	ClassID  string
	RoomID   string
	Page     int
	PageSize int
}

// ScheduleConflict describes the first existing booking that collides
// with a requested slot.
type ScheduleConflict struct {
	ConflictType          string `json:"conflict_type"`
	Message               string `json:"message"`
	ConflictingScheduleID string `json:"conflicting_schedule_id"`
}

// ScheduleConflictError is returned when a schedule collides with an
// existing booking.
type ScheduleConflictError struct {
	Conflict ScheduleConflict
}

// Error implements the error interface.
func (e *ScheduleConflictError) Error() string {
	if e == nil {
		return "<nil>"
	}
	return e.Conflict.Message
}
