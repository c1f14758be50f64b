package middleware

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"

	"github.com/invenflow/jobcore/job"
)

// PanicError is the error a recovered handler panic is converted to.
// It counts as an ordinary job failure, so the retry policy applies.
type PanicError struct {
	JobName string
	Value   any
	Stack   []byte
}

func (e *PanicError) Error() string {
	return fmt.Sprintf("panic in job %s: %v", e.JobName, e.Value)
}

// Recover returns middleware that converts handler panics into
// *PanicError failures, logging the stack trace. It should be the
// outermost middleware so nothing above it can crash the worker.
func Recover(logger *slog.Logger) Middleware {
	return func(ctx context.Context, j *job.Job, next Handler) (retErr error) {
		defer func() {
			r := recover()
			if r == nil {
				return
			}
			perr := &PanicError{JobName: j.Name, Value: r, Stack: debug.Stack()}
			logger.Error("job handler panicked",
				slog.String("job_id", j.ID.String()),
				slog.String("job_name", j.Name),
				slog.String("queue", j.Queue),
				slog.Any("panic", r),
				slog.String("stack", string(perr.Stack)),
			)
			retErr = perr
		}()
		return next(ctx)
	}
}
