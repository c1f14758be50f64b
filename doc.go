// Package jobcore provides the background job orchestration core for the
// Invenflow platform. It offers named, independently-configured task queues,
// bounded per-queue worker pools, a retry/backoff job lifecycle, real-time
// event propagation, queue health monitoring, and an administrative control
// plane with approval-gated destructive operations.
//
// Jobcore is designed as a library, not a service. Import it, configure a
// store and a queue catalog, and register processors as ordinary Go
// functions.
//
// # Quick Start
//
//	c, err := jobcore.New(
//	    jobcore.WithStore(redisStore),
//	    jobcore.WithEnvironment(jobcore.EnvProduction),
//	)
//
// # Architecture
//
// Jobcore follows a composable store pattern where each subsystem (job,
// control, audit, cluster) defines its own store interface. A single
// backend implements all of them.
//
// All entity IDs use TypeID — type-prefixed, K-sortable, UUIDv7-based,
// compile-time safe identifiers.
package jobcore
