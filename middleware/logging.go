package middleware

import (
	"context"
	"log/slog"
	"time"

	"github.com/invenflow/jobcore/job"
)

// Logging returns middleware that logs the start and outcome of every
// job run. Retry attempts are visible through the attempt attribute.
func Logging(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		attrs := []any{
			slog.String("job_id", j.ID.String()),
			slog.String("job_name", j.Name),
			slog.String("queue", j.Queue),
			slog.Int("attempt", j.AttemptsMade),
		}
		if j.TenantID != "" {
			attrs = append(attrs, slog.String("tenant_id", j.TenantID))
		}
		logger.Info("job run started", attrs...)

		start := time.Now()
		err := next(ctx)
		attrs = append(attrs, slog.Duration("elapsed", time.Since(start)))

		if err != nil {
			logger.Error("job run failed", append(attrs, slog.String("error", err.Error()))...)
			return err
		}
		logger.Info("job run finished", attrs...)
		return nil
	}
}
