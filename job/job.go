package job

import (
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/backoff"
	"github.com/invenflow/jobcore/id"
)

// State represents the lifecycle state of a job.
type State string

const (
	// StateWaiting means the job is ready to be leased by a worker.
	StateWaiting State = "waiting"
	// StateDelayed means the job is scheduled for a later time, either by
	// a submission delay or by retry backoff.
	StateDelayed State = "delayed"
	// StateActive means a worker holds the lease and is executing the job.
	StateActive State = "active"
	// StateCompleted means the job finished successfully.
	StateCompleted State = "completed"
	// StateFailed means the job exhausted its attempt budget.
	StateFailed State = "failed"
)

// Terminal reports whether s is a terminal state.
func (s State) Terminal() bool {
	return s == StateCompleted || s == StateFailed
}

// States lists every job state in lifecycle order.
func States() []State {
	return []State{StateWaiting, StateDelayed, StateActive, StateCompleted, StateFailed}
}

// Job represents a unit of queued work. A job belongs to exactly one
// queue for its lifetime.
type Job struct {
	jobcore.Entity

	ID            id.JobID      `json:"id"`
	Name          string        `json:"name"`
	Queue         string        `json:"queue"`
	Payload       []byte        `json:"payload"`
	State         State         `json:"state"`
	Priority      int           `json:"priority"`
	MaxAttempts   int           `json:"max_attempts"`
	AttemptsMade  int           `json:"attempts_made"`
	Backoff       backoff.Spec  `json:"backoff"`
	Progress      int           `json:"progress"`
	Result        []byte        `json:"result,omitempty"`
	FailureReason string        `json:"failure_reason,omitempty"`
	TenantID      string        `json:"tenant_id,omitempty"`
	UserID        string        `json:"user_id,omitempty"`
	WorkerID      id.WorkerID   `json:"worker_id,omitempty"`
	RunAt         time.Time     `json:"run_at"`
	ProcessedAt   *time.Time    `json:"processed_at,omitempty"`
	FinishedAt    *time.Time    `json:"finished_at,omitempty"`
	HeartbeatAt   *time.Time    `json:"heartbeat_at,omitempty"`
	Timeout       time.Duration `json:"timeout,omitempty"`
}

// AttemptsLeft returns the remaining attempt budget.
func (j *Job) AttemptsLeft() int {
	left := j.MaxAttempts - j.AttemptsMade
	if left < 0 {
		return 0
	}
	return left
}

// ProcessingTime returns FinishedAt - ProcessedAt for terminal jobs,
// or zero when either timestamp is missing.
func (j *Job) ProcessingTime() time.Duration {
	if j.ProcessedAt == nil || j.FinishedAt == nil {
		return 0
	}
	return j.FinishedAt.Sub(*j.ProcessedAt)
}
