package cluster

import (
	"context"
	"time"

	"github.com/invenflow/jobcore/id"
)

// Registry persists worker presence. Every worker process registers
// itself at startup, heartbeats while alive, and deregisters on
// graceful shutdown. Workers that stop heartbeating are expired by the
// maintenance sweeper.
type Registry interface {
	// Register adds a worker to the registry.
	Register(ctx context.Context, w *Worker) error

	// Deregister removes a worker. Any leader lease it holds is
	// released as well.
	Deregister(ctx context.Context, workerID id.WorkerID) error

	// Heartbeat refreshes the worker's last-seen timestamp.
	Heartbeat(ctx context.Context, workerID id.WorkerID) error

	// Workers returns every registered worker, dead or alive.
	Workers(ctx context.Context) ([]*Worker, error)

	// ExpireWorkers transitions workers that have been silent for
	// longer than the threshold to StateDead and returns them.
	ExpireWorkers(ctx context.Context, threshold time.Duration) ([]*Worker, error)
}

// Election is a TTL-based leader lease. Exactly one worker holds the
// lease at a time; it gates maintenance work that must run on a single
// process (retention sweeps, monitor recomputation).
type Election interface {
	// Campaign attempts to take the leader lease. Returns true when
	// this worker is now the leader. The lease lapses after ttl
	// unless extended.
	Campaign(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// Extend renews the lease held by workerID. Returns false if the
	// lease is held by someone else or has lapsed.
	Extend(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error)

	// Leader returns the current lease holder, or nil when vacant.
	Leader(ctx context.Context) (*Worker, error)
}

// Store is the full persistence contract for cluster coordination.
type Store interface {
	Registry
	Election
}
