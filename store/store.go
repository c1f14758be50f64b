// Package store defines the aggregate persistence interface. Each subsystem
// (job, approval, audit, cluster) defines its own store interface. The
// composite Store composes them all. Backends: Memory and Redis.
package store

import (
	"context"

	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/job"
)

// Store is the aggregate persistence interface.
// Each subsystem store is a composable interface; a single backend
// (memory, redis) implements all of them.
type Store interface {
	job.Store
	approval.Store
	audit.Store
	cluster.Store

	// Migrate prepares any schema or key structures the backend needs.
	Migrate(ctx context.Context) error

	// Ping checks backend connectivity.
	Ping(ctx context.Context) error

	// Close closes the store connection.
	Close() error
}
