package cluster

import (
	"time"

	"github.com/invenflow/jobcore/id"
)

// State is the lifecycle state of a worker process.
type State string

const (
	// StateActive marks a worker that is heartbeating and leasing jobs.
	StateActive State = "active"
	// StateDraining marks a worker finishing in-flight jobs during
	// graceful shutdown; it takes no new leases.
	StateDraining State = "draining"
	// StateDead marks a worker whose heartbeat lapsed. Its leases are
	// reclaimed by the stall sweeper.
	StateDead State = "dead"
)

// Worker is one process participating in the cluster. The Queues slice
// names the queues its pools consume from.
type Worker struct {
	ID           id.WorkerID       `json:"id"`
	Hostname     string            `json:"hostname"`
	Queues       []string          `json:"queues"`
	Concurrency  int               `json:"concurrency"`
	State        State             `json:"state"`
	Leader       bool              `json:"leader"`
	LeaderExpiry *time.Time        `json:"leader_expiry,omitempty"`
	LastSeen     time.Time         `json:"last_seen"`
	Labels       map[string]string `json:"labels,omitempty"`
	CreatedAt    time.Time         `json:"created_at"`
}

// Alive reports whether the worker heartbeated within threshold.
func (w *Worker) Alive(threshold time.Duration) bool {
	return time.Since(w.LastSeen) < threshold
}
