package service

import (
	"context"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/academix/school-attendance-api/pkg/jobs"
)

const (
	jobWarmSession = "warm_session_stats"
	jobWarmClass   = "warm_class_summary"
)

// StatsWarmer invalidates cached aggregates and schedules a background
// recompute so the next read is a cache hit. It stands in for the plain
// StatsService wherever an invalidator is expected.
type StatsWarmer struct {
	stats  *StatsService
	queue  *jobs.Queue
	logger *zap.Logger
}

// NewStatsWarmer builds the warmer. Call Queue().Start before serving
// traffic.
func NewStatsWarmer(stats *StatsService, cfg jobs.QueueConfig, logger *zap.Logger) *StatsWarmer {
	if logger == nil {
		logger = zap.NewNop()
	}
	w := &StatsWarmer{stats: stats, logger: logger}
	w.queue = jobs.NewQueue("stats_warmup", w.handle, cfg)
	return w
}

// Queue exposes the underlying worker queue for lifecycle control.
func (w *StatsWarmer) Queue() *jobs.Queue {
	return w.queue
}

// InvalidateSession drops the session cache and schedules a recompute.
func (w *StatsWarmer) InvalidateSession(ctx context.Context, sessionID string) {
	w.stats.InvalidateSession(ctx, sessionID)
	w.enqueue(jobWarmSession, sessionID)
}

// InvalidateClass drops the class cache and schedules a recompute.
func (w *StatsWarmer) InvalidateClass(ctx context.Context, classID string) {
	w.stats.InvalidateClass(ctx, classID)
	w.enqueue(jobWarmClass, classID)
}

func (w *StatsWarmer) enqueue(jobType, id string) {
	err := w.queue.Enqueue(jobs.Job{
		ID:      uuid.NewString(),
		Type:    jobType,
		Payload: id,
	})
	if err != nil {
		w.logger.Debug("stats warmup enqueue skipped", zap.String("type", jobType), zap.Error(err))
	}
}

func (w *StatsWarmer) handle(ctx context.Context, job jobs.Job) error {
	id, ok := job.Payload.(string)
	if !ok || id == "" {
		return nil
	}
	switch job.Type {
	case jobWarmSession:
		_, err := w.stats.SessionStats(ctx, id)
		return err
	case jobWarmClass:
		_, err := w.stats.ClassSummary(ctx, id, nil, nil)
		return err
	default:
		return nil
	}
}
