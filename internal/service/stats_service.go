package service

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	"go.uber.org/zap"

	"github.com/academix/school-attendance-api/internal/models"
	appErrors "github.com/academix/school-attendance-api/pkg/errors"
)

type statsSessionReader interface {
	FindByID(ctx context.Context, id string) (*models.AttendanceSession, error)
	CountByClass(ctx context.Context, classID string) (int, error)
}

type statsRecordReader interface {
	StatusCountsBySession(ctx context.Context, sessionID string) ([]models.StatusCount, error)
	ListByClass(ctx context.Context, classID string, from, to *time.Time) ([]models.AttendanceRecord, error)
	ListByStudent(ctx context.Context, studentID, classID string, from, to *time.Time) ([]models.AttendanceRecord, error)
}

type rosterReader interface {
	ClassExists(ctx context.Context, classID string) (bool, error)
	CountStudents(ctx context.Context, classID string) (int, error)
	ListStudents(ctx context.Context, classID string) ([]models.Student, error)
}

type statsCache interface {
	Get(ctx context.Context, key string, dest interface{}) error
	Set(ctx context.Context, key string, value interface{}, ttl time.Duration) error
	DeleteByPattern(ctx context.Context, pattern string) error
}

// StatsService computes attendance aggregates. Hot aggregates are cached
// in Redis and invalidated whenever the underlying records change.
type StatsService struct {
	sessions statsSessionReader
	records  statsRecordReader
	roster   rosterReader
	cache    statsCache
	cacheTTL time.Duration
	logger   *zap.Logger
}

// NewStatsService constructs StatsService. cache may be nil, which
// disables caching entirely.
func NewStatsService(sessions statsSessionReader, records statsRecordReader, roster rosterReader, cache statsCache, cacheTTL time.Duration, logger *zap.Logger) *StatsService {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cacheTTL <= 0 {
		cacheTTL = 2 * time.Minute
	}
	return &StatsService{sessions: sessions, records: records, roster: roster, cache: cache, cacheTTL: cacheTTL, logger: logger}
}

// attendedStatuses counts toward the attendance rate numerator.
func attended(status models.AttendanceStatus) bool {
	return status == models.StatusPresent || status == models.StatusLate
}

func rate(attendedCount, denominator int) float64 {
	if denominator == 0 {
		return 0
	}
	return float64(attendedCount) / float64(denominator) * 100
}

// SessionStats summarises one session. The denominator is the class
// enrollment, so students without a record count against the rate.
func (s *StatsService) SessionStats(ctx context.Context, sessionID string) (*models.SessionStats, error) {
	cacheKey := fmt.Sprintf("stats:session:%s", sessionID)
	if s.cache != nil {
		var cached models.SessionStats
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("session stats cache read failed", zap.String("session_id", sessionID), zap.Error(err))
		}
	}

	session, err := s.sessions.FindByID(ctx, sessionID)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, appErrors.Clone(appErrors.ErrNotFound, "session not found")
		}
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load session")
	}

	total, err := s.roster.CountStudents(ctx, session.ClassID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count students")
	}
	counts, err := s.records.StatusCountsBySession(ctx, sessionID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to aggregate records")
	}

	stats := &models.SessionStats{TotalStudents: total}
	attendedCount := 0
	for _, c := range counts {
		switch c.Status {
		case models.StatusPresent:
			stats.PresentCount = c.Count
		case models.StatusAbsent:
			stats.AbsentCount = c.Count
		case models.StatusLate:
			stats.LateCount = c.Count
		case models.StatusExcused:
			stats.ExcusedCount = c.Count
		}
		if attended(c.Status) {
			attendedCount += c.Count
		}
	}
	stats.AttendanceRate = rate(attendedCount, total)

	s.cacheSet(ctx, cacheKey, stats)
	return stats, nil
}

// ClassSummary aggregates every session of a class. Per-student rates
// use the class session count as the denominator, so missing records
// count as absences.
func (s *StatsService) ClassSummary(ctx context.Context, classID string, from, to *time.Time) (*models.ClassSummary, error) {
	cacheKey := classSummaryKey(classID, from, to)
	if s.cache != nil {
		var cached models.ClassSummary
		if err := s.cache.Get(ctx, cacheKey, &cached); err == nil {
			return &cached, nil
		} else if !errors.Is(err, appErrors.ErrCacheMiss) {
			s.logger.Warn("class summary cache read failed", zap.String("class_id", classID), zap.Error(err))
		}
	}

	exists, err := s.roster.ClassExists(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load class")
	}
	if !exists {
		return nil, appErrors.Clone(appErrors.ErrNotFound, "class not found")
	}

	totalSessions, err := s.sessions.CountByClass(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to count sessions")
	}
	students, err := s.roster.ListStudents(ctx, classID)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load roster")
	}
	records, err := s.records.ListByClass(ctx, classID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load records")
	}

	byStudent := make(map[string]map[models.AttendanceStatus]int, len(students))
	totals := make(map[models.AttendanceStatus]int)
	for _, status := range models.AllStatuses() {
		totals[status] = 0
	}
	for _, record := range records {
		if byStudent[record.StudentID] == nil {
			byStudent[record.StudentID] = make(map[models.AttendanceStatus]int)
		}
		byStudent[record.StudentID][record.Status]++
		totals[record.Status]++
	}

	summary := &models.ClassSummary{
		ClassID:            classID,
		TotalStudents:      len(students),
		TotalSessions:      totalSessions,
		AttendanceByStatus: totals,
		StudentSummaries:   make([]models.StudentSummary, 0, len(students)),
	}
	for _, student := range students {
		counts := byStudent[student.ID]
		if counts == nil {
			counts = make(map[models.AttendanceStatus]int)
		}
		recorded := 0
		attendedCount := 0
		for status, n := range counts {
			recorded += n
			if attended(status) {
				attendedCount += n
			}
		}
		summary.StudentSummaries = append(summary.StudentSummaries, models.StudentSummary{
			StudentID:      student.ID,
			StudentName:    student.FullName(),
			TotalRecords:   recorded,
			StatusCounts:   counts,
			AttendanceRate: rate(attendedCount, totalSessions),
		})
	}

	s.cacheSet(ctx, cacheKey, summary)
	return summary, nil
}

// StudentRate reports one student's attendance rate. Unlike the class
// summary, the denominator is the student's own record count, so
// sessions the student has no record for do not lower the rate.
func (s *StatsService) StudentRate(ctx context.Context, studentID, classID string, from, to *time.Time) (*models.StudentRate, error) {
	records, err := s.records.ListByStudent(ctx, studentID, classID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student records")
	}

	counts := make(map[models.AttendanceStatus]int)
	attendedCount := 0
	for _, record := range records {
		counts[record.Status]++
		if attended(record.Status) {
			attendedCount++
		}
	}

	return &models.StudentRate{
		StudentID:      studentID,
		TotalSessions:  len(records),
		AttendanceRate: rate(attendedCount, len(records)),
		StatusCounts:   counts,
	}, nil
}

// StudentHistory returns a student's records newest first.
func (s *StatsService) StudentHistory(ctx context.Context, studentID, classID string, from, to *time.Time) ([]models.AttendanceRecord, error) {
	records, err := s.records.ListByStudent(ctx, studentID, classID, from, to)
	if err != nil {
		return nil, appErrors.Wrap(err, appErrors.ErrInternal.Code, appErrors.ErrInternal.Status, "failed to load student history")
	}
	return records, nil
}

// InvalidateSession drops cached aggregates for a session.
func (s *StatsService) InvalidateSession(ctx context.Context, sessionID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("stats:session:%s", sessionID)); err != nil {
		s.logger.Warn("session stats invalidation failed", zap.String("session_id", sessionID), zap.Error(err))
	}
}

// InvalidateClass drops cached aggregates for a class.
func (s *StatsService) InvalidateClass(ctx context.Context, classID string) {
	if s.cache == nil {
		return
	}
	if err := s.cache.DeleteByPattern(ctx, fmt.Sprintf("stats:class:%s*", classID)); err != nil {
		s.logger.Warn("class stats invalidation failed", zap.String("class_id", classID), zap.Error(err))
	}
}

func (s *StatsService) cacheSet(ctx context.Context, key string, value interface{}) {
	if s.cache == nil {
		return
	}
	if err := s.cache.Set(ctx, key, value, s.cacheTTL); err != nil {
		s.logger.Warn("stats cache write failed", zap.String("key", key), zap.Error(err))
	}
}

func classSummaryKey(classID string, from, to *time.Time) string {
	fromPart, toPart := "", ""
	if from != nil {
		fromPart = from.Format("20060102")
	}
	if to != nil {
		toPart = to.Format("20060102")
	}
	return fmt.Sprintf("stats:class:%s:%s:%s", classID, fromPart, toPart)
}
