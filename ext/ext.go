// Package ext defines the extension system for jobcore.
// Extensions are notified of lifecycle events (job enqueued, completed,
// failed, queue paused, etc.) and react to them: logging, metrics,
// monitoring, real-time streaming.
//
// Each lifecycle hook is a separate interface so extensions opt in only
// to the events they care about.
package ext

import (
	"context"
	"time"

	"github.com/invenflow/jobcore/job"
)

// Extension is the base interface all extensions must implement.
type Extension interface {
	// Name returns a unique human-readable name for the extension.
	Name() string
}

// ──────────────────────────────────────────────────
// Job lifecycle hooks
// ──────────────────────────────────────────────────

// JobEnqueued is called after a job is successfully enqueued.
type JobEnqueued interface {
	OnJobEnqueued(ctx context.Context, j *job.Job) error
}

// JobStarted is called when a worker begins executing a job.
type JobStarted interface {
	OnJobStarted(ctx context.Context, j *job.Job) error
}

// JobProgress is called when a processor reports fractional progress.
type JobProgress interface {
	OnJobProgress(ctx context.Context, j *job.Job, percent int) error
}

// JobCompleted is called after a job finishes successfully.
type JobCompleted interface {
	OnJobCompleted(ctx context.Context, j *job.Job, elapsed time.Duration) error
}

// JobFailed is called when a job fails terminally (no more retries).
type JobFailed interface {
	OnJobFailed(ctx context.Context, j *job.Job, err error) error
}

// JobRetrying is called when a job fails but is scheduled for retry.
type JobRetrying interface {
	OnJobRetrying(ctx context.Context, j *job.Job, attempt int, nextRunAt time.Time) error
}

// JobStalled is called when a stalled job is reclaimed from a dead worker.
type JobStalled interface {
	OnJobStalled(ctx context.Context, j *job.Job) error
}

// ──────────────────────────────────────────────────
// Queue and process lifecycle hooks
// ──────────────────────────────────────────────────

// QueuePaused is called when dispatch for a queue is paused.
type QueuePaused interface {
	OnQueuePaused(ctx context.Context, queue string) error
}

// QueueResumed is called when dispatch for a queue is resumed.
type QueueResumed interface {
	OnQueueResumed(ctx context.Context, queue string) error
}

// Shutdown is called during graceful shutdown.
type Shutdown interface {
	OnShutdown(ctx context.Context) error
}
