package jobs

import (
	"context"
	"log/slog"
	"time"
)

// Runner executes named jobs, logging failures and recording metrics.
type Runner struct {
	metrics *Metrics
	logger  *slog.Logger
	now     func() time.Time
}

// NewRunner creates a runner. metrics may be nil.
func NewRunner(metrics *Metrics, logger *slog.Logger) *Runner {
	if logger == nil {
		logger = slog.Default()
	}
	return &Runner{metrics: metrics, logger: logger, now: time.Now}
}

// Run executes fn once as jobType and returns its error.
func (r *Runner) Run(ctx context.Context, jobType string, fn func(context.Context) error) error {
	start := r.now()
	err := fn(ctx)
	elapsed := r.now().Sub(start)

	if r.metrics != nil {
		r.metrics.record(jobType, elapsed, err)
	}
	if err != nil {
		r.logger.ErrorContext(ctx, "background job failed",
			"job_type", jobType,
			"duration_ms", elapsed.Milliseconds(),
			"error", err,
		)
	}
	return err
}

// Every runs fn as jobType on each tick of interval until ctx is done.
// Failures are recorded and do not stop the schedule.
func (r *Runner) Every(ctx context.Context, jobType string, interval time.Duration, fn func(context.Context) error) {
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			_ = r.Run(ctx, jobType, fn)
		}
	}
}
