package service

import (
	"context"
	"database/sql"
	"errors"
	"time"

	"github.com/go-playground/validator/v10"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academix/school-attendance-api/internal/models"
	"github.com/academix/school-attendance-api/internal/repository"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
)

type sessionRepository interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error)
	List(ctx context.Context, filter models.AttendanceSessionFilter) ([]models.AttendanceSession, int, error)
	Create(ctx context.Context, session *models.AttendanceSession) error
	Update(ctx context.Context, session *models.AttendanceSession) error
	Finalize(ctx context.Context, id string) error
}

type recordRepository interface {
	Insert(ctx context.Context, record *models.AttendanceRecord) error
	FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error)
	UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus) error
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error)
}

type adjustmentRepository interface {
	Insert(ctx context.Context, adjustment *models.AttendanceAdjustment) error
	ListByRecord(ctx context.Context, recordID string) ([]models.AttendanceAdjustment, error)
}

type directoryReader interface {
	ClassExists(ctx context.Context, classID string) (bool, error)
	TeacherHasAccess(ctx context.Context, teacherID, classID string) (bool, error)
	StudentEnrolled(ctx context.Context, studentID, classID string) (bool, error)
}

type statsInvalidator interface {
	InvalidateSession(ctx context.Context, sessionID string)
	InvalidateClass(ctx context.Context, classID string)
}

type attendanceMetrics interface {
	SessionStarted(method models.AttendanceMethod)
	SessionFinalized()
	RecordRegistered(status models.AttendanceStatus)
	VerificationRejected(method string)
}

// CreateSessionRequest starts an attendance session for a class.
type CreateSessionRequest struct {
	ClassID  string                  `json:"class_id" validate:"required"`
	Method   models.AttendanceMethod `json:"method" validate:"required"`
	EndTime  *time.Time              `json:"end_time,omitempty"`
	Settings models.JSONMap          `json:"settings,omitempty"`
}

// UpdateSessionRequest patches an open session. Nil fields are left
// untouched; ClearEndTime removes a previously set end time.
type UpdateSessionRequest struct {
	EndTime      *time.Time      `json:"end_time,omitempty"`
	ClearEndTime bool            `json:"clear_end_time,omitempty"`
	Settings     *models.JSONMap `json:"settings,omitempty"`
}

// RecordAttendanceRequest registers one student's attendance. When the
// Verification proof is present it is checked against the session's
// method; otherwise VerificationMethod and VerificationData are stored
// as submitted, defaulting to a manual entry.
type RecordAttendanceRequest struct {
	StudentID          string                  `json:"student_id" validate:"required"`
	Status             models.AttendanceStatus `json:"status" validate:"required"`
	Notes              *string                 `json:"notes,omitempty"`
	VerificationMethod string                  `json:"verification_method,omitempty"`
	VerificationData   models.JSONMap          `json:"verification_data,omitempty"`
	Verification       VerificationInput       `json:"verification"`
}

// VerifyAttendanceRequest asks whether a presented proof matches a
// session. StudentID narrows a face match to one student when set.
type VerifyAttendanceRequest struct {
	StudentID    string    `json:"student_id,omitempty"`
	QRToken      string    `json:"qr_token,omitempty"`
	FaceEncoding []float64 `json:"face_encoding,omitempty"`
}

// BulkRecordRequest registers many students in one call.
type BulkRecordRequest struct {
	Records []RecordAttendanceRequest `json:"records" validate:"required,min=1,dive"`
}

// BulkRecordResult reports the per-item outcome of a bulk call. Items
// are independent; one failure does not roll back the others.
type BulkRecordResult struct {
	StudentID string                   `json:"student_id"`
	Record    *models.AttendanceRecord `json:"record,omitempty"`
	Error     *appErrors.Error         `json:"error,omitempty"`
}

// AdjustAttendanceRequest corrects a record's status after the fact.
type AdjustAttendanceRequest struct {
	NewStatus models.AttendanceStatus `json:"new_status" validate:"required"`
	Reason    string                  `json:"reason" validate:"required"`
}

// AttendanceService orchestrates session lifecycle, record registration,
// and status adjustments.
type AttendanceService struct {
	sessions    sessionRepository
	records     recordRepository
	adjustments adjustmentRepository
	directory   directoryReader
	verifiers   *VerifierRegistry
	stats       statsInvalidator
	metrics     attendanceMetrics
	validator   *validator.Validate
	logger      *zap.Logger

	qrPrefix     string
	bulkMaxBatch int
}

// AttendanceServiceOptions bundles the non-repository knobs.
type AttendanceServiceOptions struct {
	QRTokenPrefix    string
	BulkMaxBatchSize int
}

// NewAttendanceService constructs AttendanceService. stats and metrics
// may be nil.
func NewAttendanceService(
	sessions sessionRepository,
	records recordRepository,
	adjustments adjustmentRepository,
	directory directoryReader,
	verifiers *VerifierRegistry,
	stats statsInvalidator,
	metrics attendanceMetrics,
	opts AttendanceServiceOptions,
	validate *validator.Validate,
	logger *zap.Logger,
) *AttendanceService {
	if validate == nil {
		validate = validator.New()
	}
	if logger == nil {
		logger = zap.NewNop()
	}
	if opts.QRTokenPrefix == "" {
		opts.QRTokenPrefix = "attendance_"
	}
	if opts.BulkMaxBatchSize <= 0 {
		opts.BulkMaxBatchSize = 200
	}
	return &AttendanceService{
		sessions:     sessions,
		records:      records,
		adjustments:  adjustments,
		directory:    directory,
		verifiers:    verifiers,
		stats:        stats,
		metrics:      metrics,
		validator:    validate,
		logger:       logger,
		qrPrefix:     opts.QRTokenPrefix,
		bulkMaxBatch: opts.BulkMaxBatchSize,
	}
}

// CreateSession starts a session for a class. A class can have at most
// one non-finalized session at a time.
func (s *AttendanceService) CreateSession(ctx context.Context, teacherID string, req CreateSessionRequest) (*models.AttendanceSession, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid session payload")
	}
	if !req.Method.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported attendance method")
	}

	exists, err := s.directory.ClassExists(ctx, req.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	allowed := false
	if exists {
		allowed, err = s.directory.TeacherHasAccess(ctx, teacherID, req.ClassID)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check class access")
		}
	}
	// A missing class and a class the teacher cannot see answer the
	// same, so callers cannot probe for class existence.
	if !exists || !allowed {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}

	session := &models.AttendanceSession{
		ClassID:   req.ClassID,
		TeacherID: teacherID,
		Method:    req.Method,
		StartTime: time.Now().UTC(),
		EndTime:   req.EndTime,
		Settings:  req.Settings,
	}
	if req.Method == models.MethodQRCode {
		token := s.qrPrefix + uuid.NewString()
		session.QRCode = &token
	}

	if err := s.sessions.Create(ctx, session); err != nil {
		if errors.Is(err, repository.ErrActiveSessionExists) {
			return nil, appErrors.Clone(appErrors.ErrConflict, "class already has an active session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to create session")
	}

	if s.metrics != nil {
		s.metrics.SessionStarted(session.Method)
	}
	s.logger.Info("attendance session started",
		zap.String("session_id", session.ID),
		zap.String("class_id", session.ClassID),
		zap.String("method", string(session.Method)))
	return session, nil
}

// GetSession loads a session by id.
func (s *AttendanceService) GetSession(ctx context.Context, id string) (*models.AttendanceSession, error) {
	session, err := s.sessions.FindByID(ctx, id)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}
	return session, nil
}

// GetActiveSession returns the open session for a class, or NotFound.
func (s *AttendanceService) GetActiveSession(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	session, err := s.sessions.FindActiveByClass(ctx, classID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "class has no active session")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load active session")
	}
	return session, nil
}

// ListSessions returns sessions with pagination metadata.
func (s *AttendanceService) ListSessions(ctx context.Context, filter models.AttendanceSessionFilter) ([]models.AttendanceSession, *models.Pagination, error) {
	sessions, total, err := s.sessions.List(ctx, filter)
	if err != nil {
		return nil, nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list sessions")
	}
	page := filter.Page
	if page < 1 {
		page = 1
	}
	size := filter.PageSize
	if size <= 0 {
		size = 20
	}
	return sessions, &models.Pagination{Page: page, PageSize: size, TotalCount: total}, nil
}

// UpdateSession patches an open session. Finalized sessions are
// immutable.
func (s *AttendanceService) UpdateSession(ctx context.Context, teacherID, id string, req UpdateSessionRequest) (*models.AttendanceSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
	}
	if session.IsFinalized {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "finalized sessions cannot be modified")
	}

	if req.ClearEndTime {
		session.EndTime = nil
	} else if req.EndTime != nil {
		session.EndTime = req.EndTime
	}
	if req.Settings != nil {
		session.Settings = *req.Settings
	}

	if err := s.sessions.Update(ctx, session); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to update session")
	}
	return session, nil
}

// FinalizeSession closes a session permanently. Finalizing twice is an
// invalid state transition, not a no-op.
func (s *AttendanceService) FinalizeSession(ctx context.Context, teacherID, id string) (*models.AttendanceSession, error) {
	session, err := s.GetSession(ctx, id)
	if err != nil {
		return nil, err
	}
	if session.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "session belongs to another teacher")
	}

	if err := s.sessions.Finalize(ctx, id); err != nil {
		if errors.Is(err, repository.ErrSessionFinalized) {
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "session is already finalized")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to finalize session")
	}

	session.IsFinalized = true
	if session.EndTime == nil {
		now := time.Now().UTC()
		session.EndTime = &now
		if err := s.sessions.Update(ctx, session); err != nil {
			s.logger.Warn("failed to stamp session end time", zap.String("session_id", id), zap.Error(err))
		}
	}

	if s.metrics != nil {
		s.metrics.SessionFinalized()
	}
	if s.stats != nil {
		s.stats.InvalidateSession(ctx, id)
		s.stats.InvalidateClass(ctx, session.ClassID)
	}
	s.logger.Info("attendance session finalized", zap.String("session_id", id))
	return session, nil
}

// RecordAttendance verifies and registers one student's attendance for a
// session. Each student gets at most one record per session.
func (s *AttendanceService) RecordAttendance(ctx context.Context, sessionID string, req RecordAttendanceRequest) (*models.AttendanceRecord, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid attendance payload")
	}
	if !req.Status.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported attendance status")
	}

	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return nil, err
	}
	if session.IsFinalized {
		return nil, appErrors.Clone(appErrors.ErrInvalidState, "session is finalized; attendance can no longer be recorded")
	}

	enrolled, err := s.directory.StudentEnrolled(ctx, req.StudentID, session.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to check enrollment")
	}
	if !enrolled {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "student not found or not enrolled in this class")
	}

	// A submitted proof is checked against the session's method. Without
	// one the record is stored as the caller describes it, so a teacher
	// can mark students absent or late during a QR or face session.
	method := req.VerificationMethod
	if method == "" {
		method = string(models.MethodManual)
	}
	data := req.VerificationData
	if req.Verification.hasProof() {
		verifier, err := s.verifiers.For(session.Method)
		if err != nil {
			return nil, err
		}
		verification, err := verifier.Verify(ctx, session, req.StudentID, req.Verification)
		if err != nil {
			if s.metrics != nil {
				s.metrics.VerificationRejected(string(session.Method))
			}
			return nil, err
		}
		method = verification.Method
		data = verification.Data
	}

	record := &models.AttendanceRecord{
		SessionID:          session.ID,
		StudentID:          req.StudentID,
		ClassID:            session.ClassID,
		Status:             req.Status,
		RecordedAt:         time.Now().UTC(),
		VerificationMethod: method,
		VerificationData:   data,
		Notes:              req.Notes,
	}
	if err := s.records.Insert(ctx, record); err != nil {
		switch {
		case errors.Is(err, repository.ErrDuplicateRecord):
			return nil, appErrors.Clone(appErrors.ErrConflict, "attendance already recorded for this student")
		case errors.Is(err, repository.ErrSessionFinalized):
			return nil, appErrors.Clone(appErrors.ErrInvalidState, "session is finalized; attendance can no longer be recorded")
		default:
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to record attendance")
		}
	}

	if s.metrics != nil {
		s.metrics.RecordRegistered(record.Status)
	}
	if s.stats != nil {
		s.stats.InvalidateSession(ctx, session.ID)
		s.stats.InvalidateClass(ctx, session.ClassID)
	}
	return record, nil
}

// Verify answers whether a presented proof matches the session. It
// returns false for rejected proofs and for methods with no automatic
// verification; only a missing session is an error.
func (s *AttendanceService) Verify(ctx context.Context, sessionID string, req VerifyAttendanceRequest) (bool, error) {
	session, err := s.GetSession(ctx, sessionID)
	if err != nil {
		return false, err
	}
	if session.Method == models.MethodManual {
		return false, nil
	}

	verifier, err := s.verifiers.For(session.Method)
	if err != nil {
		return false, nil
	}

	input := VerificationInput{QRToken: req.QRToken, FaceEncoding: req.FaceEncoding}
	if _, err := verifier.Verify(ctx, session, req.StudentID, input); err != nil {
		if s.metrics != nil {
			s.metrics.VerificationRejected(string(session.Method))
		}
		return false, nil
	}
	return true, nil
}

// BulkRecordAttendance registers a batch of records. The batch is not
// atomic; the response carries one result per input in order.
func (s *AttendanceService) BulkRecordAttendance(ctx context.Context, sessionID string, req BulkRecordRequest) ([]BulkRecordResult, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid bulk payload")
	}
	if len(req.Records) > s.bulkMaxBatch {
		return nil, appErrors.Clone(appErrors.ErrValidation, "bulk batch exceeds the configured maximum")
	}

	results := make([]BulkRecordResult, 0, len(req.Records))
	for _, item := range req.Records {
		record, err := s.RecordAttendance(ctx, sessionID, item)
		result := BulkRecordResult{StudentID: item.StudentID, Record: record}
		if err != nil {
			result.Error = appErrors.FromError(err)
		}
		results = append(results, result)
	}
	return results, nil
}

// ListSessionRecords returns a session's records with student names.
func (s *AttendanceService) ListSessionRecords(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	if _, err := s.GetSession(ctx, sessionID); err != nil {
		return nil, err
	}
	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list session records")
	}
	return records, nil
}

// AdjustAttendance corrects a record's status and appends an audit
// entry. Adjustments remain possible after the session is finalized;
// the audit trail is the safeguard, not immutability.
func (s *AttendanceService) AdjustAttendance(ctx context.Context, teacherID, recordID string, req AdjustAttendanceRequest) (*models.AttendanceAdjustment, error) {
	if err := s.validator.Struct(req); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrValidation.Code, appErrors.ErrValidation.Status, "invalid adjustment payload")
	}
	if !req.NewStatus.Valid() {
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported attendance status")
	}

	record, err := s.records.FindByID(ctx, recordID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	// Adjustment rights follow session ownership, not class assignment.
	// A co-teacher on the class cannot rewrite another teacher's roll.
	session, err := s.sessions.FindByID(ctx, record.SessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record session")
	}
	if session.TeacherID != teacherID {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "record belongs to another teacher's session")
	}

	adjustment := &models.AttendanceAdjustment{
		RecordID:       record.ID,
		AdjustedByID:   teacherID,
		PreviousStatus: record.Status,
		NewStatus:      req.NewStatus,
		Reason:         req.Reason,
	}
	if err := s.adjustments.Insert(ctx, adjustment); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to store adjustment")
	}
	if err := s.records.UpdateStatus(ctx, record.ID, req.NewStatus); err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to apply adjustment")
	}

	if s.stats != nil {
		s.stats.InvalidateSession(ctx, record.SessionID)
		s.stats.InvalidateClass(ctx, record.ClassID)
	}
	s.logger.Info("attendance record adjusted",
		zap.String("record_id", record.ID),
		zap.String("previous_status", string(record.Status)),
		zap.String("new_status", string(req.NewStatus)))
	return adjustment, nil
}

// ListAdjustments returns a record's audit trail oldest first.
func (s *AttendanceService) ListAdjustments(ctx context.Context, recordID string) ([]models.AttendanceAdjustment, error) {
	if _, err := s.records.FindByID(ctx, recordID); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "attendance record not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load record")
	}
	adjustments, err := s.adjustments.ListByRecord(ctx, recordID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to list adjustments")
	}
	return adjustments, nil
}
