package service

import (
	"context"
	"database/sql"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/academix/school-attendance-api/internal/models"
	"github.com/academix/school-attendance-api/internal/repository"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
	"github.com/academix/school-attendance-api/pkg/faceclient"
)

type mockSessionRepo struct {
	sessions map[string]models.AttendanceSession
	created  *models.AttendanceSession
}

func (m *mockSessionRepo) FindByID(ctx context.Context, id string) (*models.AttendanceSession, error) {
	if s, ok := m.sessions[id]; ok {
		return &s, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) FindActiveByClass(ctx context.Context, classID string) (*models.AttendanceSession, error) {
	for _, s := range m.sessions {
		if s.ClassID == classID && !s.IsFinalized {
			return &s, nil
		}
	}
	return nil, sql.ErrNoRows
}

func (m *mockSessionRepo) List(ctx context.Context, filter models.AttendanceSessionFilter) ([]models.AttendanceSession, int, error) {
	var out []models.AttendanceSession
	for _, s := range m.sessions {
		out = append(out, s)
	}
	return out, len(out), nil
}

func (m *mockSessionRepo) Create(ctx context.Context, session *models.AttendanceSession) error {
	for _, s := range m.sessions {
		if s.ClassID == session.ClassID && !s.IsFinalized {
			return repository.ErrActiveSessionExists
		}
	}
	if m.sessions == nil {
		m.sessions = make(map[string]models.AttendanceSession)
	}
	if session.ID == "" {
		session.ID = "new-session"
	}
	m.sessions[session.ID] = *session
	m.created = session
	return nil
}

func (m *mockSessionRepo) Update(ctx context.Context, session *models.AttendanceSession) error {
	m.sessions[session.ID] = *session
	return nil
}

func (m *mockSessionRepo) Finalize(ctx context.Context, id string) error {
	s, ok := m.sessions[id]
	if !ok || s.IsFinalized {
		return repository.ErrSessionFinalized
	}
	s.IsFinalized = true
	m.sessions[id] = s
	return nil
}

type mockRecordRepo struct {
	sessions *mockSessionRepo
	records  map[string]models.AttendanceRecord
}

func (m *mockRecordRepo) Insert(ctx context.Context, record *models.AttendanceRecord) error {
	if s, ok := m.sessions.sessions[record.SessionID]; ok && s.IsFinalized {
		return repository.ErrSessionFinalized
	}
	for _, r := range m.records {
		if r.SessionID == record.SessionID && r.StudentID == record.StudentID {
			return repository.ErrDuplicateRecord
		}
	}
	if m.records == nil {
		m.records = make(map[string]models.AttendanceRecord)
	}
	if record.ID == "" {
		record.ID = fmt.Sprintf("rec-%d", len(m.records)+1)
	}
	m.records[record.ID] = *record
	return nil
}

func (m *mockRecordRepo) FindByID(ctx context.Context, id string) (*models.AttendanceRecord, error) {
	if r, ok := m.records[id]; ok {
		return &r, nil
	}
	return nil, sql.ErrNoRows
}

func (m *mockRecordRepo) UpdateStatus(ctx context.Context, id string, status models.AttendanceStatus) error {
	r := m.records[id]
	r.Status = status
	m.records[id] = r
	return nil
}

func (m *mockRecordRepo) ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error) {
	var out []models.AttendanceRecordDetail
	for _, r := range m.records {
		if r.SessionID == sessionID {
			out = append(out, models.AttendanceRecordDetail{AttendanceRecord: r})
		}
	}
	return out, nil
}

type mockAdjustmentRepo struct {
	adjustments []models.AttendanceAdjustment
}

func (m *mockAdjustmentRepo) Insert(ctx context.Context, adjustment *models.AttendanceAdjustment) error {
	if adjustment.ID == "" {
		adjustment.ID = "new-adjustment"
	}
	m.adjustments = append(m.adjustments, *adjustment)
	return nil
}

func (m *mockAdjustmentRepo) ListByRecord(ctx context.Context, recordID string) ([]models.AttendanceAdjustment, error) {
	var out []models.AttendanceAdjustment
	for _, a := range m.adjustments {
		if a.RecordID == recordID {
			out = append(out, a)
		}
	}
	return out, nil
}

type mockDirectory struct {
	classes  map[string]bool
	access   map[string]bool
	enrolled map[string]bool
	students map[string][]models.Student
}

func (m *mockDirectory) ClassExists(ctx context.Context, classID string) (bool, error) {
	return m.classes[classID], nil
}

func (m *mockDirectory) TeacherHasAccess(ctx context.Context, teacherID, classID string) (bool, error) {
	return m.access[teacherID+":"+classID], nil
}

func (m *mockDirectory) StudentEnrolled(ctx context.Context, studentID, classID string) (bool, error) {
	return m.enrolled[studentID+":"+classID], nil
}

func (m *mockDirectory) CountStudents(ctx context.Context, classID string) (int, error) {
	return len(m.students[classID]), nil
}

func (m *mockDirectory) ListStudents(ctx context.Context, classID string) ([]models.Student, error) {
	return m.students[classID], nil
}

func newAttendanceFixture() (*AttendanceService, *mockSessionRepo, *mockRecordRepo, *mockAdjustmentRepo, *mockDirectory) {
	sessions := &mockSessionRepo{sessions: make(map[string]models.AttendanceSession)}
	records := &mockRecordRepo{sessions: sessions, records: make(map[string]models.AttendanceRecord)}
	adjustments := &mockAdjustmentRepo{}
	directory := &mockDirectory{
		classes:  map[string]bool{"class-1": true},
		access:   map[string]bool{"teach-1:class-1": true},
		enrolled: map[string]bool{"stu-1:class-1": true, "stu-2:class-1": true},
	}
	svc := NewAttendanceService(
		sessions, records, adjustments, directory,
		NewVerifierRegistry(nil, 0.6),
		nil, nil,
		AttendanceServiceOptions{QRTokenPrefix: "attendance_", BulkMaxBatchSize: 10},
		nil, nil,
	)
	return svc, sessions, records, adjustments, directory
}

func TestCreateSessionGeneratesQRToken(t *testing.T) {
	svc, sessions, _, _, _ := newAttendanceFixture()

	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{
		ClassID: "class-1",
		Method:  models.MethodQRCode,
	})
	require.NoError(t, err)
	require.NotNil(t, session.QRCode)
	assert.True(t, strings.HasPrefix(*session.QRCode, "attendance_"))
	assert.NotNil(t, sessions.created)
}

func TestCreateSessionRejectsSecondActive(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	_, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	_, err = svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestCreateSessionHidesInaccessibleClass(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	// No-access and missing-class answer identically so existence cannot
	// be probed.
	_, err := svc.CreateSession(context.Background(), "teach-2", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)

	_, err = svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-9", Method: models.MethodManual})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestRecordAttendanceManual(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{
		StudentID: "stu-1",
		Status:    models.StatusPresent,
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.MethodManual), record.VerificationMethod)
	assert.Equal(t, session.ClassID, record.ClassID)
}

func TestRecordAttendanceDuplicateStudent(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	_, err = svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusPresent})
	require.NoError(t, err)

	_, err = svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusLate})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrConflict.Code, appErrors.FromError(err).Code)
}

func TestRecordAttendanceAfterFinalize(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	_, err = svc.FinalizeSession(context.Background(), "teach-1", session.ID)
	require.NoError(t, err)

	_, err = svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusPresent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestFinalizeSessionTwice(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	finalized, err := svc.FinalizeSession(context.Background(), "teach-1", session.ID)
	require.NoError(t, err)
	assert.True(t, finalized.IsFinalized)
	assert.NotNil(t, finalized.EndTime)

	_, err = svc.FinalizeSession(context.Background(), "teach-1", session.ID)
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestQRVerificationRejectsWrongToken(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodQRCode})
	require.NoError(t, err)

	_, err = svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{
		StudentID:    "stu-1",
		Status:       models.StatusPresent,
		Verification: VerificationInput{QRToken: "attendance_wrong"},
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrUnauthorized.Code, appErrors.FromError(err).Code)

	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{
		StudentID:    "stu-1",
		Status:       models.StatusPresent,
		Verification: VerificationInput{QRToken: *session.QRCode},
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.MethodQRCode), record.VerificationMethod)
}

func TestBulkRecordReportsPerItemResults(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	results, err := svc.BulkRecordAttendance(context.Background(), session.ID, BulkRecordRequest{
		Records: []RecordAttendanceRequest{
			{StudentID: "stu-1", Status: models.StatusPresent},
			{StudentID: "stu-1", Status: models.StatusLate},
			{StudentID: "stu-2", Status: models.StatusAbsent},
		},
	})
	require.NoError(t, err)
	require.Len(t, results, 3)
	assert.Nil(t, results[0].Error)
	require.NotNil(t, results[1].Error)
	assert.Equal(t, appErrors.ErrConflict.Code, results[1].Error.Code)
	assert.Nil(t, results[2].Error)
}

func TestBulkRecordRejectsOversizedBatch(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	batch := make([]RecordAttendanceRequest, 11)
	for i := range batch {
		batch[i] = RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusPresent}
	}
	_, err = svc.BulkRecordAttendance(context.Background(), session.ID, BulkRecordRequest{Records: batch})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrValidation.Code, appErrors.FromError(err).Code)
}

func TestAdjustAttendanceAppendsAuditEntry(t *testing.T) {
	svc, _, _, adjustments, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)
	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusAbsent})
	require.NoError(t, err)

	_, err = svc.FinalizeSession(context.Background(), "teach-1", session.ID)
	require.NoError(t, err)

	// Adjustments stay possible after finalization; the audit trail is
	// the safeguard.
	adjustment, err := svc.AdjustAttendance(context.Background(), "teach-1", record.ID, AdjustAttendanceRequest{
		NewStatus: models.StatusExcused,
		Reason:    "doctor's note",
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbsent, adjustment.PreviousStatus)
	assert.Equal(t, models.StatusExcused, adjustment.NewStatus)
	require.Len(t, adjustments.adjustments, 1)

	updated, err := svc.ListSessionRecords(context.Background(), session.ID)
	require.NoError(t, err)
	require.Len(t, updated, 1)
	assert.Equal(t, models.StatusExcused, updated[0].Status)
}

func TestAdjustAttendanceUnknownRecord(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	_, err := svc.AdjustAttendance(context.Background(), "teach-1", "missing", AdjustAttendanceRequest{
		NewStatus: models.StatusPresent,
		Reason:    "typo",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestUpdateSessionPatchesEndTime(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	end := time.Now().Add(time.Hour).UTC()
	updated, err := svc.UpdateSession(context.Background(), "teach-1", session.ID, UpdateSessionRequest{EndTime: &end})
	require.NoError(t, err)
	require.NotNil(t, updated.EndTime)

	updated, err = svc.UpdateSession(context.Background(), "teach-1", session.ID, UpdateSessionRequest{ClearEndTime: true})
	require.NoError(t, err)
	assert.Nil(t, updated.EndTime)
}

func TestUpdateSessionRejectsFinalized(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)
	_, err = svc.FinalizeSession(context.Background(), "teach-1", session.ID)
	require.NoError(t, err)

	end := time.Now().UTC()
	_, err = svc.UpdateSession(context.Background(), "teach-1", session.ID, UpdateSessionRequest{EndTime: &end})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrInvalidState.Code, appErrors.FromError(err).Code)
}

func TestRecordAttendanceAbsentWithoutProof(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodQRCode})
	require.NoError(t, err)

	// A roll-call entry carries no proof; the session method must not
	// block it.
	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{
		StudentID: "stu-1",
		Status:    models.StatusAbsent,
	})
	require.NoError(t, err)
	assert.Equal(t, models.StatusAbsent, record.Status)
	assert.Equal(t, string(models.MethodManual), record.VerificationMethod)

	results, err := svc.BulkRecordAttendance(context.Background(), session.ID, BulkRecordRequest{
		Records: []RecordAttendanceRequest{{StudentID: "stu-2", Status: models.StatusAbsent}},
	})
	require.NoError(t, err)
	require.Len(t, results, 1)
	assert.Nil(t, results[0].Error)
}

func TestRecordAttendanceKeepsSubmittedMethod(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{
		StudentID:          "stu-1",
		Status:             models.StatusPresent,
		VerificationMethod: string(models.MethodQRCode),
		VerificationData:   models.JSONMap{"qr_token": "attendance_scan"},
	})
	require.NoError(t, err)
	assert.Equal(t, string(models.MethodQRCode), record.VerificationMethod)
	assert.Equal(t, "attendance_scan", record.VerificationData["qr_token"])
}

func TestRecordAttendanceUnenrolledStudent(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	_, err = svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-9", Status: models.StatusPresent})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestAdjustAttendanceRequiresSessionOwner(t *testing.T) {
	svc, _, _, _, directory := newAttendanceFixture()
	directory.access["teach-2:class-1"] = true

	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)
	record, err := svc.RecordAttendance(context.Background(), session.ID, RecordAttendanceRequest{StudentID: "stu-1", Status: models.StatusAbsent})
	require.NoError(t, err)

	// Class assignment is not enough; only the session's owner may
	// adjust its records.
	_, err = svc.AdjustAttendance(context.Background(), "teach-2", record.ID, AdjustAttendanceRequest{
		NewStatus: models.StatusPresent,
		Reason:    "was present",
	})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrForbidden.Code, appErrors.FromError(err).Code)

	_, err = svc.AdjustAttendance(context.Background(), "teach-1", record.ID, AdjustAttendanceRequest{
		NewStatus: models.StatusPresent,
		Reason:    "was present",
	})
	require.NoError(t, err)
}

func TestVerifyQRToken(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodQRCode})
	require.NoError(t, err)

	verified, err := svc.Verify(context.Background(), session.ID, VerifyAttendanceRequest{QRToken: *session.QRCode})
	require.NoError(t, err)
	assert.True(t, verified)

	verified, err = svc.Verify(context.Background(), session.ID, VerifyAttendanceRequest{QRToken: "attendance_wrong"})
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestVerifyManualSessionAlwaysFalse(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodManual})
	require.NoError(t, err)

	verified, err := svc.Verify(context.Background(), session.ID, VerifyAttendanceRequest{QRToken: "anything"})
	require.NoError(t, err)
	assert.False(t, verified)
}

func TestVerifyUnknownSession(t *testing.T) {
	svc, _, _, _, _ := newAttendanceFixture()

	_, err := svc.Verify(context.Background(), "missing", VerifyAttendanceRequest{QRToken: "attendance_x"})
	require.Error(t, err)
	assert.Equal(t, appErrors.ErrNotFound.Code, appErrors.FromError(err).Code)
}

func TestVerifyFaceMatch(t *testing.T) {
	_, sessions, records, adjustments, directory := newAttendanceFixture()
	svc := NewAttendanceService(
		sessions, records, adjustments, directory,
		NewVerifierRegistry(&mockFaceMatcher{match: &faceclient.Match{Label: "stu-1", Confidence: 0.9}}, 0.6),
		nil, nil,
		AttendanceServiceOptions{},
		nil, nil,
	)
	session, err := svc.CreateSession(context.Background(), "teach-1", CreateSessionRequest{ClassID: "class-1", Method: models.MethodFaceRecognition})
	require.NoError(t, err)

	verified, err := svc.Verify(context.Background(), session.ID, VerifyAttendanceRequest{FaceEncoding: []float64{0.1, 0.2}})
	require.NoError(t, err)
	assert.True(t, verified)

	verified, err = svc.Verify(context.Background(), session.ID, VerifyAttendanceRequest{
		StudentID:    "stu-2",
		FaceEncoding: []float64{0.1, 0.2},
	})
	require.NoError(t, err)
	assert.False(t, verified)
}
