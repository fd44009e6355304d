package repository

import (
	"context"
	"fmt"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/academix/school-attendance-api/internal/models"
)

// AttendanceAdjustmentRepository persists the append-only adjustment
// audit trail. There is no update or delete on purpose.
type AttendanceAdjustmentRepository struct {
	db *sqlx.DB
}

// NewAttendanceAdjustmentRepository creates an adjustment repository.
func NewAttendanceAdjustmentRepository(db *sqlx.DB) *AttendanceAdjustmentRepository {
	return &AttendanceAdjustmentRepository{db: db}
}

// Insert appends an adjustment entry.
func (r *AttendanceAdjustmentRepository) Insert(ctx context.Context, adjustment *models.AttendanceAdjustment) error {
	if adjustment.ID == "" {
		adjustment.ID = uuid.NewString()
	}
	if adjustment.AdjustedAt.IsZero() {
		adjustment.AdjustedAt = time.Now().UTC()
	}

	const query = `INSERT INTO attendance_adjustments (id, record_id, adjusted_by_id, previous_status, new_status, reason, adjusted_at)
		VALUES (:id, :record_id, :adjusted_by_id, :previous_status, :new_status, :reason, :adjusted_at)`
	if _, err := r.db.NamedExecContext(ctx, query, adjustment); err != nil {
		return fmt.Errorf("insert attendance adjustment: %w", err)
	}
	return nil
}

// ListByRecord returns a record's adjustments oldest first.
func (r *AttendanceAdjustmentRepository) ListByRecord(ctx context.Context, recordID string) ([]models.AttendanceAdjustment, error) {
	const query = `SELECT id, record_id, adjusted_by_id, previous_status, new_status, reason, adjusted_at
		FROM attendance_adjustments WHERE record_id = $1 ORDER BY adjusted_at ASC`
	var adjustments []models.AttendanceAdjustment
	if err := r.db.SelectContext(ctx, &adjustments, query, recordID); err != nil {
		return nil, fmt.Errorf("list adjustments by record: %w", err)
	}
	return adjustments, nil
}
