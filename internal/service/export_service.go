package service

import (
	"context"
	"fmt"
	"io"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
	"github.com/academix/school-attendance-api/pkg/export"
	"github.com/academix/school-attendance-api/pkg/storage"
)

// ExportFormat selects the rendered file type.
type ExportFormat string

const (
	FormatCSV ExportFormat = "csv"
	FormatPDF ExportFormat = "pdf"
)

type exportSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
}

type exportRecordReader interface {
	ListBySession(ctx context.Context, sessionID string) ([]models.AttendanceRecordDetail, error)
	ListByStudent(ctx context.Context, studentID, classID string, from, to *time.Time) ([]models.AttendanceRecord, error)
}

// ExportFile is a rendered report ready to send to the client. When an
// archive is configured, DownloadToken allows re-fetching the file
// until ExpiresAt without re-rendering.
type ExportFile struct {
	FileName      string
	ContentType   string
	Content       []byte
	DownloadToken string
	ExpiresAt     *time.Time
}

// ExportServiceConfig tunes export rendering.
type ExportServiceConfig struct {
	Enabled      bool
	MaxRows      int
	DateFormat   string
	DefaultTitle string
}

// ExportService renders attendance reports as CSV or PDF files.
type ExportService struct {
	sessions exportSessionReader
	records  exportRecordReader
	csv      *export.CSVExporter
	pdf      *export.PDFExporter
	archive  *storage.LocalStorage
	signer   *storage.SignedURLSigner
	cfg      ExportServiceConfig
	logger   *zap.Logger
}

// NewExportService constructs ExportService. archive and signer may be
// nil, which disables archived downloads.
func NewExportService(sessions exportSessionReader, records exportRecordReader, archive *storage.LocalStorage, signer *storage.SignedURLSigner, cfg ExportServiceConfig, logger *zap.Logger) *ExportService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cfg.MaxRows <= 0 {
		cfg.MaxRows = 5000
	}
	if cfg.DateFormat == "" {
		cfg.DateFormat = "2006-01-02 15:04:05"
	}
	if cfg.DefaultTitle == "" {
		cfg.DefaultTitle = "Attendance Report"
	}
	return &ExportService{
		sessions: sessions,
		records:  records,
		csv:      export.NewCSVExporter(),
		pdf:      export.NewPDFExporter(),
		archive:  archive,
		signer:   signer,
		cfg:      cfg,
		logger:   logger,
	}
}

var sessionExportHeaders = []string{"Student", "Status", "Recorded At", "Verification", "Notes"}

// ExportSession renders every record of a session.
func (s *ExportService) ExportSession(ctx context.Context, sessionID string, format ExportFormat) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exports are disabled")
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
	}
	records, err := s.records.ListBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session records")
	}
	if len(records) > s.cfg.MaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, "export exceeds the configured row limit")
	}

	dataset := export.Dataset{Headers: sessionExportHeaders}
	for _, record := range records {
		notes := ""
		if record.Notes != nil {
			notes = *record.Notes
		}
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Student":      record.StudentName,
			"Status":       string(record.Status),
			"Recorded At":  record.RecordedAt.Format(s.cfg.DateFormat),
			"Verification": record.VerificationMethod,
			"Notes":        notes,
		})
	}

	title := fmt.Sprintf("%s - session %s", s.cfg.DefaultTitle, session.StartTime.Format("2006-01-02"))
	return s.render(dataset, fmt.Sprintf("attendance_session_%s", sessionID), title, format)
}

var studentExportHeaders = []string{"Class", "Status", "Recorded At", "Verification"}

// ExportStudentHistory renders a student's records, optionally scoped
// to a class and date range.
func (s *ExportService) ExportStudentHistory(ctx context.Context, studentID, classID string, from, to *time.Time, format ExportFormat) (*ExportFile, error) {
	if !s.cfg.Enabled {
		return nil, appErrors.Clone(appErrors.ErrForbidden, "exports are disabled")
	}

	records, err := s.records.ListByStudent(ctx, studentID, classID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student records")
	}
	if len(records) > s.cfg.MaxRows {
		return nil, appErrors.Clone(appErrors.ErrValidation, "export exceeds the configured row limit")
	}

	dataset := export.Dataset{Headers: studentExportHeaders}
	for _, record := range records {
		dataset.Rows = append(dataset.Rows, map[string]string{
			"Class":        record.ClassID,
			"Status":       string(record.Status),
			"Recorded At":  record.RecordedAt.Format(s.cfg.DateFormat),
			"Verification": record.VerificationMethod,
		})
	}

	title := fmt.Sprintf("%s - student %s", s.cfg.DefaultTitle, studentID)
	return s.render(dataset, fmt.Sprintf("attendance_student_%s", studentID), title, format)
}

func (s *ExportService) render(dataset export.Dataset, baseName, title string, format ExportFormat) (*ExportFile, error) {
	var file *ExportFile
	switch format {
	case FormatCSV:
		content, err := s.csv.Render(dataset)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render csv")
		}
		file = &ExportFile{FileName: baseName + ".csv", ContentType: "text/csv", Content: content}
	case FormatPDF:
		content, err := s.pdf.Render(dataset, title)
		if err != nil {
			return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to render pdf")
		}
		file = &ExportFile{FileName: baseName + ".pdf", ContentType: "application/pdf", Content: content}
	default:
		return nil, appErrors.Clone(appErrors.ErrValidation, "unsupported export format")
	}

	s.archiveFile(file)
	return file, nil
}

// archiveFile keeps a copy on disk and attaches a signed download
// token. Archiving is best effort; a failed write never fails the
// export itself.
func (s *ExportService) archiveFile(file *ExportFile) {
	if s.archive == nil || s.signer == nil {
		return
	}
	exportID := uuid.NewString()
	relPath := filepath.Join(exportID, file.FileName)
	if _, err := s.archive.Save(relPath, file.Content); err != nil {
		s.logger.Warn("failed to archive export", zap.String("file", file.FileName), zap.Error(err))
		return
	}
	token, expiresAt, err := s.signer.Generate(exportID, relPath)
	if err != nil {
		s.logger.Warn("failed to sign export download", zap.String("file", file.FileName), zap.Error(err))
		return
	}
	file.DownloadToken = token
	file.ExpiresAt = &expiresAt
}

// ResolveDownload serves an archived export referenced by a signed
// token.
func (s *ExportService) ResolveDownload(token string) (*ExportFile, error) {
	if s.archive == nil || s.signer == nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export downloads are not enabled")
	}
	_, relPath, _, err := s.signer.Parse(token, false)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrUnauthorized, "invalid or expired download token")
	}
	f, err := s.archive.Open(relPath)
	if err != nil {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "export no longer available")
	}
	defer f.Close()
	content, err := io.ReadAll(f)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to read archived export")
	}

	contentType := "application/octet-stream"
	switch {
	case strings.HasSuffix(relPath, ".csv"):
		contentType = "text/csv"
	case strings.HasSuffix(relPath, ".pdf"):
		contentType = "application/pdf"
	}
	return &ExportFile{FileName: filepath.Base(relPath), ContentType: contentType, Content: content}, nil
}
