package models

import (
	"database/sql/driver"
	"encoding/json"
	"fmt"
	"time"
)

// AttendanceMethod identifies how presence is verified for a session.
type AttendanceMethod string

const (
	MethodFaceRecognition AttendanceMethod = "face_recognition"
	MethodQRCode          AttendanceMethod = "qr_code"
	MethodManual          AttendanceMethod = "manual"
)

// Valid returns true when the method is a supported value.
func (m AttendanceMethod) Valid() bool {
	switch m {
	case MethodFaceRecognition, MethodQRCode, MethodManual:
		return true
	default:
		return false
	}
}

// AttendanceStatus represents the status for attendance records.
type AttendanceStatus string

const (
	StatusPresent AttendanceStatus = "present"
	StatusAbsent  AttendanceStatus = "absent"
	StatusLate    AttendanceStatus = "late"
	StatusExcused AttendanceStatus = "excused"
)

// Valid returns true when the status is a supported value.
func (s AttendanceStatus) Valid() bool {
	switch s {
	case StatusPresent, StatusAbsent, StatusLate, StatusExcused:
		return true
	default:
		return false
	}
}

// AllStatuses lists every attendance status in a stable order.
func AllStatuses() []AttendanceStatus {
	return []AttendanceStatus{StatusPresent, StatusAbsent, StatusLate, StatusExcused}
}

// JSONMap stores free-form JSON objects in a jsonb column.
type JSONMap map[string]interface{}

// Value implements driver.Valuer.
func (m JSONMap) Value() (driver.Value, error) {
	if m == nil {
		return []byte("{}"), nil
	}
	return json.Marshal(m)
}

// Scan implements sql.Scanner.
func (m *JSONMap) Scan(src interface{}) error {
	if src == nil {
		*m = JSONMap{}
		return nil
	}
	raw, ok := src.([]byte)
	if !ok {
		return fmt.Errorf("unsupported jsonb source type %T", src)
	}
	return json.Unmarshal(raw, m)
}

// AttendanceSession is a bounded period during which attendance for one
// class is collected by one teacher. A session accepts records until it
// is finalized; finalization is terminal.
type AttendanceSession struct {
	ID          string           `db:"id" json:"id"`
	ClassID     string           `db:"class_id" json:"class_id"`
	TeacherID   string           `db:"teacher_id" json:"teacher_id"`
	Method      AttendanceMethod `db:"method" json:"method"`
	StartTime   time.Time        `db:"start_time" json:"start_time"`
	EndTime     *time.Time       `db:"end_time" json:"end_time,omitempty"`
	IsFinalized bool             `db:"is_finalized" json:"is_finalized"`
	QRCode      *string          `db:"qr_code" json:"qr_code,omitempty"`
	Settings    JSONMap          `db:"settings" json:"settings"`
	CreatedAt   time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt   time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceSessionFilter scopes session listings.
type AttendanceSessionFilter struct {
	ClassID   string
	TeacherID string
	Active    *bool
	Page      int
	PageSize  int
}

// AttendanceRecord is a single student's attendance entry for a session.
// The (session_id, student_id) pair is unique; status changes happen via
// adjustments only, never a direct overwrite.
type AttendanceRecord struct {
	ID                 string           `db:"id" json:"id"`
	SessionID          string           `db:"session_id" json:"session_id"`
	StudentID          string           `db:"student_id" json:"student_id"`
	ClassID            string           `db:"class_id" json:"class_id"`
	Status             AttendanceStatus `db:"status" json:"status"`
	RecordedAt         time.Time        `db:"recorded_at" json:"recorded_at"`
	VerificationMethod string           `db:"verification_method" json:"verification_method"`
	VerificationData   JSONMap          `db:"verification_data" json:"verification_data,omitempty"`
	Notes              *string          `db:"notes" json:"notes,omitempty"`
	CreatedAt          time.Time        `db:"created_at" json:"created_at"`
	UpdatedAt          time.Time        `db:"updated_at" json:"updated_at"`
}

// AttendanceRecordDetail extends a record with student metadata for
// reports and exports.
type AttendanceRecordDetail struct {
	AttendanceRecord
	StudentName string `db:"student_name" json:"student_name"`
}

// AttendanceAdjustment is one entry of the append-only audit trail for a
// record's status corrections.
type AttendanceAdjustment struct {
	ID             string           `db:"id" json:"id"`
	RecordID       string           `db:"record_id" json:"record_id"`
	AdjustedByID   string           `db:"adjusted_by_id" json:"adjusted_by_id"`
	PreviousStatus AttendanceStatus `db:"previous_status" json:"previous_status"`
	NewStatus      AttendanceStatus `db:"new_status" json:"new_status"`
	Reason         string           `db:"reason" json:"reason"`
	AdjustedAt     time.Time        `db:"adjusted_at" json:"adjusted_at"`
}

// StatusCount pairs a status with its record count.
type StatusCount struct {
	Status AttendanceStatus `db:"status" json:"status"`
	Count  int              `db:"count" json:"count"`
}

// SessionStats summarises a single session. TotalStudents counts class
// enrollment regardless of whether a record exists.
type SessionStats struct {
	TotalStudents  int     `json:"total_students"`
	PresentCount   int     `json:"present_count"`
	AbsentCount    int     `json:"absent_count"`
	LateCount      int     `json:"late_count"`
	ExcusedCount   int     `json:"excused_count"`
	AttendanceRate float64 `json:"attendance_rate"`
}

// StudentSummary is one student's aggregate within a class summary.
type StudentSummary struct {
	StudentID      string                   `json:"student_id"`
	StudentName    string                   `json:"student_name"`
	TotalRecords   int                      `json:"total_records"`
	StatusCounts   map[AttendanceStatus]int `json:"status_counts"`
	AttendanceRate float64                  `json:"attendance_rate"`
}

// ClassSummary aggregates attendance across all sessions of a class.
type ClassSummary struct {
	ClassID            string                   `json:"class_id"`
	TotalStudents      int                      `json:"total_students"`
	TotalSessions      int                      `json:"total_sessions"`
	AttendanceByStatus map[AttendanceStatus]int `json:"attendance_by_status"`
	StudentSummaries   []StudentSummary         `json:"student_summaries"`
}

// StudentRate reports a student's own attendance rate. The denominator
// is the student's matching record count, not the class session count.
type StudentRate struct {
	StudentID      string                   `json:"student_id"`
	TotalSessions  int                      `json:"total_sessions"`
	AttendanceRate float64                  `json:"attendance_rate"`
	StatusCounts   map[AttendanceStatus]int `json:"status_counts"`
}
