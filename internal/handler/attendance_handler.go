package handler

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/academix/school-attendance-api/internal/models"
	"github.com/academix/school-attendance-api/internal/service"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
	"github.com/academix/school-attendance-api/pkg/response"
)

// AttendanceHandler exposes session, record, and adjustment endpoints.
type AttendanceHandler struct {
	attendance *service.AttendanceService
	stats      *service.StatsService
	exports    *service.ExportService
}

// NewAttendanceHandler constructs AttendanceHandler.
func NewAttendanceHandler(attendance *service.AttendanceService, stats *service.StatsService, exports *service.ExportService) *AttendanceHandler {
	return &AttendanceHandler{attendance: attendance, stats: stats, exports: exports}
}

// CreateSession godoc
// @Summary Start an attendance session
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param payload body service.CreateSessionRequest true "Session payload"
// @Success 201 {object} response.Envelope
// @Router /attendance/sessions [post]
func (h *AttendanceHandler) CreateSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.CreateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.attendance.CreateSession(c.Request.Context(), claims.TeacherID, req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, session)
}

// ListSessions godoc
// @Summary List attendance sessions
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param classId query string false "Filter by class"
// @Param teacherId query string false "Filter by teacher"
// @Param active query bool false "Filter by active state"
// @Param page query int false "Page"
// @Param limit query int false "Page size"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions [get]
func (h *AttendanceHandler) ListSessions(c *gin.Context) {
	var filter models.AttendanceSessionFilter
	filter.ClassID = c.Query("classId")
	filter.TeacherID = c.Query("teacherId")
	if raw := c.Query("active"); raw != "" {
		if active, err := strconv.ParseBool(raw); err == nil {
			filter.Active = &active
		}
	}
	if page, err := strconv.Atoi(c.DefaultQuery("page", "1")); err == nil {
		filter.Page = page
	}
	if size, err := strconv.Atoi(c.DefaultQuery("limit", "20")); err == nil {
		filter.PageSize = size
	}

	sessions, pagination, err := h.attendance.ListSessions(c.Request.Context(), filter)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, sessions, pagination)
}

// GetSession godoc
// @Summary Get a session
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id} [get]
func (h *AttendanceHandler) GetSession(c *gin.Context) {
	session, err := h.attendance.GetSession(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// GetActiveSession godoc
// @Summary Get a class's active session
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/classes/{classId}/active-session [get]
func (h *AttendanceHandler) GetActiveSession(c *gin.Context) {
	session, err := h.attendance.GetActiveSession(c.Request.Context(), c.Param("classId"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// UpdateSession godoc
// @Summary Patch an open session
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param payload body service.UpdateSessionRequest true "Patch payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id} [patch]
func (h *AttendanceHandler) UpdateSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.UpdateSessionRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	session, err := h.attendance.UpdateSession(c.Request.Context(), claims.TeacherID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// FinalizeSession godoc
// @Summary Finalize a session
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/finalize [post]
func (h *AttendanceHandler) FinalizeSession(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	session, err := h.attendance.FinalizeSession(c.Request.Context(), claims.TeacherID, c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, session, nil)
}

// RecordAttendance godoc
// @Summary Record one student's attendance
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param payload body service.RecordAttendanceRequest true "Record payload"
// @Success 201 {object} response.Envelope
// @Router /attendance/sessions/{id}/records [post]
func (h *AttendanceHandler) RecordAttendance(c *gin.Context) {
	var req service.RecordAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	record, err := h.attendance.RecordAttendance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, record)
}

// VerifySession godoc
// @Summary Check a verification proof against a session
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param payload body service.VerifyAttendanceRequest true "Proof payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/verify [post]
func (h *AttendanceHandler) VerifySession(c *gin.Context) {
	var req service.VerifyAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	verified, err := h.attendance.Verify(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, gin.H{"verified": verified}, nil)
}

// BulkRecordAttendance godoc
// @Summary Record a batch of attendance entries
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param payload body service.BulkRecordRequest true "Batch payload"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/records/bulk [post]
func (h *AttendanceHandler) BulkRecordAttendance(c *gin.Context) {
	var req service.BulkRecordRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	results, err := h.attendance.BulkRecordAttendance(c.Request.Context(), c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, results, nil)
}

// ListSessionRecords godoc
// @Summary List a session's records
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/records [get]
func (h *AttendanceHandler) ListSessionRecords(c *gin.Context) {
	records, err := h.attendance.ListSessionRecords(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, records, nil)
}

// SessionStats godoc
// @Summary Session attendance statistics
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/sessions/{id}/stats [get]
func (h *AttendanceHandler) SessionStats(c *gin.Context) {
	stats, err := h.stats.SessionStats(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, stats, nil)
}

// ExportSession godoc
// @Summary Export a session's records
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param id path string true "Session ID"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /attendance/sessions/{id}/export [get]
func (h *AttendanceHandler) ExportSession(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	file, err := h.exports.ExportSession(c.Request.Context(), c.Param("id"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// AdjustRecord godoc
// @Summary Adjust a record's status
// @Tags Attendance
// @Accept json
// @Produce json
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Param payload body service.AdjustAttendanceRequest true "Adjustment payload"
// @Success 201 {object} response.Envelope
// @Router /attendance/records/{id}/adjustments [post]
func (h *AttendanceHandler) AdjustRecord(c *gin.Context) {
	claims := claimsFromContext(c)
	if claims == nil {
		response.Error(c, appErrors.ErrUnauthorized)
		return
	}
	var req service.AdjustAttendanceRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.Error(c, appErrors.Wrap(err, appErrors.ErrValidation.Code, http.StatusBadRequest, "invalid payload"))
		return
	}
	adjustment, err := h.attendance.AdjustAttendance(c.Request.Context(), claims.TeacherID, c.Param("id"), req)
	if err != nil {
		response.Error(c, err)
		return
	}
	response.Created(c, adjustment)
}

// ListRecordAdjustments godoc
// @Summary List a record's adjustment history
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param id path string true "Record ID"
// @Success 200 {object} response.Envelope
// @Router /attendance/records/{id}/adjustments [get]
func (h *AttendanceHandler) ListRecordAdjustments(c *gin.Context) {
	adjustments, err := h.attendance.ListAdjustments(c.Request.Context(), c.Param("id"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, adjustments, nil)
}

// ClassSummary godoc
// @Summary Class attendance summary
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param classId path string true "Class ID"
// @Param from query string false "Start date"
// @Param to query string false "End date"
// @Success 200 {object} response.Envelope
// @Router /attendance/classes/{classId}/summary [get]
func (h *AttendanceHandler) ClassSummary(c *gin.Context) {
	summary, err := h.stats.ClassSummary(c.Request.Context(), c.Param("classId"), parseDateQuery(c, "from"), parseDateQuery(c, "to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, summary, nil)
}

// StudentRate godoc
// @Summary Student attendance rate
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param classId query string false "Scope to class"
// @Param from query string false "Start date"
// @Param to query string false "End date"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{studentId}/rate [get]
func (h *AttendanceHandler) StudentRate(c *gin.Context) {
	studentRate, err := h.stats.StudentRate(c.Request.Context(), c.Param("studentId"), c.Query("classId"), parseDateQuery(c, "from"), parseDateQuery(c, "to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, studentRate, nil)
}

// StudentHistory godoc
// @Summary Student attendance history
// @Tags Attendance
// @Produce json
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param classId query string false "Scope to class"
// @Param from query string false "Start date"
// @Param to query string false "End date"
// @Success 200 {object} response.Envelope
// @Router /attendance/students/{studentId}/history [get]
func (h *AttendanceHandler) StudentHistory(c *gin.Context) {
	history, err := h.stats.StudentHistory(c.Request.Context(), c.Param("studentId"), c.Query("classId"), parseDateQuery(c, "from"), parseDateQuery(c, "to"))
	if err != nil {
		response.Error(c, err)
		return
	}
	response.JSON(c, http.StatusOK, history, nil)
}

// DownloadExport godoc
// @Summary Download an archived export by signed token
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Param token query string true "Signed download token"
// @Success 200 {file} file
// @Router /attendance/exports/download [get]
func (h *AttendanceHandler) DownloadExport(c *gin.Context) {
	file, err := h.exports.ResolveDownload(c.Query("token"))
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}

// ExportStudentHistory godoc
// @Summary Export a student's attendance history
// @Tags Attendance
// @Produce text/csv
// @Produce application/pdf
// @Security BearerAuth
// @Param studentId path string true "Student ID"
// @Param classId query string false "Scope to class"
// @Param format query string false "csv or pdf" default(csv)
// @Success 200 {file} file
// @Router /attendance/students/{studentId}/export [get]
func (h *AttendanceHandler) ExportStudentHistory(c *gin.Context) {
	format := service.ExportFormat(c.DefaultQuery("format", "csv"))
	file, err := h.exports.ExportStudentHistory(c.Request.Context(), c.Param("studentId"), c.Query("classId"), parseDateQuery(c, "from"), parseDateQuery(c, "to"), format)
	if err != nil {
		response.Error(c, err)
		return
	}
	c.Header("Content-Disposition", "attachment; filename="+file.FileName)
	c.Data(http.StatusOK, file.ContentType, file.Content)
}
