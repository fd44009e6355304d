package repository

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"

	"github.com/academix/school-attendance-api/internal/models"
)

const recordColumns = "id, session_id, student_id, class_id, status, recorded_at, verification_method, verification_data, notes, created_at, updated_at"

// AttendanceRecordRepository provides persistence for attendance records.
type AttendanceRecordRepository struct {
	db *sqlx.DB
}

// NewAttendanceRecordRepository creates a record repository.
func NewAttendanceRecordRepository(db *sqlx.DB) *AttendanceRecordRepository {
	return &AttendanceRecordRepository{db: db}
}

// Insert stores a record atomically with respect to session
// finalization and the (session, student) uniqueness constraint. The
// session row is locked so a concurrent finalize either lands before
// the check (ErrSessionFinalized) or after the insert commits.
func (r *AttendanceRecordRepository) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	tx, err := r.db.BeginTxx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin insert attendance record: %w", err)
	}
	defer func() {
		if err != nil {
			_ = tx.Rollback()
		}
	}()

	var finalized bool
	if err = tx.GetContext(ctx, &finalized, `SELECT is_finalized FROM attendance_sessions WHERE id = $1 FOR UPDATE`, record.SessionID); err != nil {
		return err
	}
	if finalized {
		err = ErrSessionFinalized
		return err
	}

	if record.ID == "" {
		record.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	record.CreatedAt = now
	record.UpdatedAt = now

	const query = `INSERT INTO attendance_records (id, session_id, student_id, class_id, status, recorded_at, verification_method, verification_data, notes, created_at, updated_at)
		VALUES (:id, :session_id, :student_id, :class_id, :status, :recorded_at, :verification_method, :verification_data, :notes, :created_at, :updated_at)`
	if _, err = tx.NamedExecContext(ctx, query, record); err != nil {
		if isUniqueViolation(err) {
			err = ErrDuplicateRecord
			return err
		}
		return fmt.Errorf("insert attendance record: %w", err)
	}

	if err = tx.Commit(); err != nil {
		return fmt.Errorf("commit attendance record: %w", err)
	}
	return nil
}

// FindByID loads a record by id.
func (r *AttendanceRecordRepository) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_records WHERE id = $1", recordColumns)
	var record models.AttendanceRecord
	if err := r.db.GetContext(ctx, &record, query, id); err != nil {
		return nil, err
	}
	return &record, nil
}

// UpdateStatus overwrites a record's status. Only the adjustment flow
// calls this, after appending the audit entry.
func (r *AttendanceRecordRepository) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus) error {
	if _, err := r.db.ExecContext(ctx, `UPDATE attendance_records SET status = $1, updated_at = NOW() WHERE id = $2`, status, id); err != nil {
		return fmt.Errorf("update attendance record status: %w", err)
	}
	return nil
}

// ListBySession returns all records for a session with student names.
func (r *AttendanceRecordRepository) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	const query = `SELECT r.id, r.session_id, r.student_id, r.class_id, r.status, r.recorded_at, r.verification_method, r.verification_data, r.notes, r.created_at, r.updated_at,
		s.first_name || ' ' || s.last_name AS student_name
		FROM attendance_records r JOIN students s ON s.id = r.student_id
		WHERE r.session_id = $1 ORDER BY r.recorded_at ASC`
	var records []models.AttendanceRecordDetail
	if err := r.db.SelectContext(ctx, &records, query, sessionID); err != nil {
		return nil, fmt.Errorf("list records by session: %w", err)
	}
	return records, nil
}

// StatusCountsBySession aggregates record counts per status.
func (r *AttendanceRecordRepository) StatusCountsBySession(ctx context.Context, sessionID string) ([]models.StatusCount, error) {
	const query = `SELECT status, COUNT(*) AS count FROM attendance_records WHERE session_id = $1 GROUP BY status`
	var counts []models.StatusCount
	if err := r.db.SelectContext(ctx, &counts, query, sessionID); err != nil {
		return nil, fmt.Errorf("count record statuses: %w", err)
	}
	return counts, nil
}

// ListByClass returns records across every session of a class within an
// optional recorded_at range.
func (r *AttendanceRecordRepository) ListByClass(ctx context.Context, classID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	base := fmt.Sprintf("SELECT %s FROM attendance_records WHERE class_id = $1", recordColumns)
	args := []interface{}{classID}
	base, args = appendRecordedAtRange(base, args, from, to)
	base += " ORDER BY recorded_at ASC"

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, base, args...); err != nil {
		return nil, fmt.Errorf("list records by class: %w", err)
	}
	return records, nil
}

// ListByStudent returns a student's records, optionally scoped to a
// class and a recorded_at range, newest first.
func (r *AttendanceRecordRepository) ListByStudent(ctx context.Context, studentID, classID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	base := fmt.Sprintf("SELECT %s FROM attendance_records WHERE student_id = $1", recordColumns)
	args := []interface{}{studentID}
	if classID != "" {
		base += fmt.Sprintf(" AND class_id = $%d", len(args)+1)
		args = append(args, classID)
	}
	base, args = appendRecordedAtRange(base, args, from, to)
	base += " ORDER BY recorded_at DESC"

	var records []models.AttendanceRecord
	if err := r.db.SelectContext(ctx, &records, base, args...); err != nil {
		return nil, fmt.Errorf("list records by student: %w", err)
	}
	return records, nil
}

func appendRecordedAtRange(query string, args []interface{}, from, to *time.Time) (string, []interface{}) {
	var clauses []string
	if from != nil {
		clauses = append(clauses, fmt.Sprintf("recorded_at >= $%d", len(args)+1))
		args = append(args, *from)
	}
	if to != nil {
		clauses = append(clauses, fmt.Sprintf("recorded_at <= $%d", len(args)+1))
		args = append(args, *to)
	}
	if len(clauses) > 0 {
		query += " AND " + strings.Join(clauses, " AND ")
	}
	return query, args
}
