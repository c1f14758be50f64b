package job

import (
	"context"
	"time"

	"github.com/invenflow/jobcore/id"
)

// ListOpts controls pagination and filtering for job list queries.
type ListOpts struct {
	// Limit is the maximum number of jobs to return. Zero means no limit.
	Limit int
	// Offset is the number of jobs to skip.
	Offset int
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// TenantID filters by tenant. Empty means all tenants.
	TenantID string
}

// CountOpts controls filtering for job count queries.
type CountOpts struct {
	// Queue filters by queue name. Empty means all queues.
	Queue string
	// State filters by job state. Empty means all states.
	State State
}

// Store defines the persistence contract for jobs. The waiting→active
// transition is delegated to the backend's atomic claim primitive, so
// multiple pool instances across processes never double-lease a job.
type Store interface {
	// EnqueueJob persists a new job in waiting (or delayed) state.
	EnqueueJob(ctx context.Context, j *Job) error

	// ClaimJobs atomically leases up to limit due jobs from the queue:
	// waiting jobs, plus delayed jobs whose RunAt has elapsed. Claimed
	// jobs move to active with AttemptsMade incremented, ProcessedAt and
	// HeartbeatAt set, and the worker recorded. A paused queue yields no
	// claims. Jobs are ordered by priority (descending) then RunAt.
	ClaimJobs(ctx context.Context, queue string, workerID id.WorkerID, limit int) ([]*Job, error)

	// GetJob retrieves a job by ID.
	GetJob(ctx context.Context, jobID id.JobID) (*Job, error)

	// UpdateJob persists changes to an existing job.
	UpdateJob(ctx context.Context, j *Job) error

	// DeleteJob removes a job by ID.
	DeleteJob(ctx context.Context, jobID id.JobID) error

	// ListJobsByState returns jobs matching the given state.
	ListJobsByState(ctx context.Context, state State, opts ListOpts) ([]*Job, error)

	// CountJobs returns the number of jobs matching the given options.
	CountJobs(ctx context.Context, opts CountOpts) (int64, error)

	// HeartbeatJob renews the lease on an active job, indicating the
	// worker is still alive.
	HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error

	// ReclaimStalled finds active jobs in the queue whose heartbeat is
	// older than threshold and returns them to waiting, or dead-ends
	// them to failed when the attempt budget is already spent. It
	// returns the affected jobs in their new states.
	ReclaimStalled(ctx context.Context, queue string, threshold time.Duration) ([]*Job, error)

	// PurgeJobs removes jobs in the given state finished before cutoff,
	// at most limit (zero limit means unbounded). Only terminal states
	// may be purged. Returns the number removed.
	PurgeJobs(ctx context.Context, queue string, state State, cutoff time.Time, limit int) (int64, error)

	// TrimJobs removes the oldest terminal jobs in the given state
	// beyond maxCount. Returns the number removed.
	TrimJobs(ctx context.Context, queue string, state State, maxCount int) (int64, error)

	// ObliterateQueue removes every job in the queue regardless of state.
	// Returns the number removed.
	ObliterateQueue(ctx context.Context, queue string) (int64, error)

	// PauseQueue stops the waiting→active transition for the queue.
	// Returns ErrQueuePaused if it is already paused.
	PauseQueue(ctx context.Context, queue string) error

	// ResumeQueue re-enables dispatch for the queue. Returns
	// ErrQueueNotPaused if the queue is not paused.
	ResumeQueue(ctx context.Context, queue string) error

	// IsQueuePaused reports whether dispatch is currently gated.
	IsQueuePaused(ctx context.Context, queue string) (bool, error)
}
