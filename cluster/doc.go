// Package cluster provides distributed worker coordination: worker
// registration with heartbeats and leader election.
//
// When running multiple jobcore instances, the cluster package coordinates
// which instance is the leader (responsible for maintenance sweeps and
// periodic monitor recomputation) and which are followers.
//
// # Worker Entity
//
// Each running instance registers itself as a [Worker] with:
//   - a unique [id.WorkerID]
//   - its hostname
//   - the list of queues it polls
//   - its concurrency limit
//   - a state: [StateActive], [StateDraining], or [StateDead]
//
// Workers send periodic heartbeats. If a heartbeat is not received within
// the configured threshold, the worker is considered dead and its in-flight
// jobs are eligible for stall reclaim.
//
// # Leader Election
//
// One worker at a time holds leadership. Leadership is managed by
// [Election.Campaign] using optimistic locking with a TTL lease.
package cluster
