package repository

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jmoiron/sqlx"
	"github.com/lib/pq"

	"github.com/academix/school-attendance-api/internal/models"
)

// Sentinel errors surfaced by attendance repositories. Services map
// these to typed API errors.
var (
	ErrActiveSessionExists = errors.New("active session already exists for class")
	ErrSessionFinalized    = errors.New("session is finalized")
	ErrDuplicateRecord     = errors.New("attendance already recorded for student")
)

const sessionColumns = "id, class_id, teacher_id, method, start_time, end_time, is_finalized, qr_code, settings, created_at, updated_at"

// AttendanceSessionRepository provides persistence for attendance sessions.
type AttendanceSessionRepository struct {
	db *sqlx.DB
}

// NewAttendanceSessionRepository creates a session repository.
func NewAttendanceSessionRepository(db *sqlx.DB) *AttendanceSessionRepository {
	return &AttendanceSessionRepository{db: db}
}

// FindByID loads a session by id.
func (r *AttendanceSessionRepository) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_sessions WHERE id = $1", sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, id); err != nil {
		return nil, err
	}
	return &session, nil
}

// FindActiveByClass returns the non-finalized session for a class, or
// sql.ErrNoRows when the class has none.
func (r *AttendanceSessionRepository) FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	query := fmt.Sprintf("SELECT %s FROM attendance_sessions WHERE class_id = $1 AND is_finalized = FALSE", sessionColumns)
	var session models.AttendanceSession
	if err := r.db.GetContext(ctx, &session, query, classID); err != nil {
		return nil, err
	}
	return &session, nil
}

// List returns sessions matching the filter, newest first.
func (r *AttendanceSessionRepository) List(ctx context.Context, filter models.AttendanceSessionFilter) ([]models.AttendanceSession, int, error) {
	base := "FROM attendance_sessions WHERE 1=1"
	var conditions []string
	var args []interface{}

	if filter.ClassID != "" {
		conditions = append(conditions, fmt.Sprintf("class_id = $%d", len(args)+1))
		args = append(args, filter.ClassID)
	}
	if filter.TeacherID != "" {
		conditions = append(conditions, fmt.Sprintf("teacher_id = $%d", len(args)+1))
		args = append(args, filter.TeacherID)
	}
	if filter.Active != nil {
		if *filter.Active {
			conditions = append(conditions, "is_finalized = FALSE AND (end_time IS NULL OR end_time > NOW())")
		} else {
			conditions = append(conditions, "(is_finalized = TRUE OR end_time <= NOW())")
		}
	}

	if len(conditions) > 0 {
		base += " AND " + strings.Join(conditions, " AND ")
	}

	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 || size > 100 {
		size = 20
	}
	offset := (page - 1) * size

	query := fmt.Sprintf("SELECT %s %s ORDER BY created_at DESC LIMIT %d OFFSET %d", sessionColumns, base, size, offset)
	var sessions []models.AttendanceSession
	if err := r.db.SelectContext(ctx, &sessions, query, args...); err != nil {
		return nil, 0, fmt.Errorf("list attendance sessions: %w", err)
	}

	countQuery := fmt.Sprintf("SELECT COUNT(*) %s", base)
	var total int
	if err := r.db.GetContext(ctx, &total, countQuery, args...); err != nil {
		return nil, 0, fmt.Errorf("count attendance sessions: %w", err)
	}

	return sessions, total, nil
}

// CountByClass returns the total number of sessions held for a class.
func (r *AttendanceSessionRepository) CountByClass(ctx context.Context, classID string) (int, error) {
	var total int
	if err := r.db.GetContext(ctx, &total, "SELECT COUNT(*) FROM attendance_sessions WHERE class_id = $1", classID); err != nil {
		return 0, fmt.Errorf("count sessions by class: %w", err)
	}
	return total, nil
}

// Create stores a new session. A partial unique index on
// (class_id) WHERE NOT is_finalized backs the one-active-session
// invariant; violations surface as ErrActiveSessionExists.
func (r *AttendanceSessionRepository) Create(ctx context.Context, session *models.AttendanceSession) error {
	if session.ID == "" {
		session.ID = uuid.NewString()
	}
	now := time.Now().UTC()
	session.CreatedAt = now
	session.UpdatedAt = now
	if session.Settings == nil {
		session.Settings = models.JSONMap{}
	}

	const query = `INSERT INTO attendance_sessions (id, class_id, teacher_id, method, start_time, end_time, is_finalized, qr_code, settings, created_at, updated_at)
		VALUES (:id, :class_id, :teacher_id, :method, :start_time, :end_time, :is_finalized, :qr_code, :settings, :created_at, :updated_at)`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		if isUniqueViolation(err) {
			return ErrActiveSessionExists
		}
		return fmt.Errorf("create attendance session: %w", err)
	}
	return nil
}

// Update persists the mutable session fields.
func (r *AttendanceSessionRepository) Update(ctx context.Context, session *models.AttendanceSession) error {
	session.UpdatedAt = time.Now().UTC()
	const query = `UPDATE attendance_sessions SET end_time = :end_time, settings = :settings, updated_at = :updated_at WHERE id = :id`
	if _, err := r.db.NamedExecContext(ctx, query, session); err != nil {
		return fmt.Errorf("update attendance session: %w", err)
	}
	return nil
}

// Finalize flips is_finalized for a session that is still open. It
// reports sql.ErrNoRows when the session was already finalized (or
// missing) so callers can distinguish the lost race.
func (r *AttendanceSessionRepository) Finalize(ctx context.Context, id string) error {
	res, err := r.db.ExecContext(ctx, `UPDATE attendance_sessions SET is_finalized = TRUE, updated_at = NOW() WHERE id = $1 AND is_finalized = FALSE`, id)
	if err != nil {
		return fmt.Errorf("finalize attendance session: %w", err)
	}
	affected, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("finalize attendance session: %w", err)
	}
	if affected == 0 {
		return ErrSessionFinalized
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pqErr *pq.Error
	return errors.As(err, &pqErr) && pqErr.Code == "23505"
}
