package middleware

import (
	"context"
	"log/slog"

	"github.com/invenflow/jobcore/job"
)

// Timeout returns middleware enforcing the job's execution deadline.
// Jobs without a timeout run unbounded; the queue policy is the place
// to set a default. A handler that honors ctx cancellation returns
// context.DeadlineExceeded, which counts against the attempt budget
// like any other failure.
func Timeout(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) error {
		if j.Timeout <= 0 {
			return next(ctx)
		}
		logger.Debug("job deadline armed",
			slog.String("job_id", j.ID.String()),
			slog.Duration("timeout", j.Timeout),
		)
		ctx, cancel := context.WithTimeout(ctx, j.Timeout)
		defer cancel()
		return next(ctx)
	}
}
