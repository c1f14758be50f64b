package redis

// Redis key naming conventions for jobcore data.
// All keys are prefixed with "jobcore:" to avoid collisions.

const keyPrefix = "jobcore:"

// ── Job keys ──

// jobKey returns the key for a job hash: jobcore:job:{id}
func jobKey(id string) string { return keyPrefix + "job:" + id }

// waitingKey returns the Sorted Set of claimable jobs for a queue.
func waitingKey(queue string) string { return keyPrefix + "queue:" + queue + ":waiting" }

// delayedKey returns the Sorted Set of delayed jobs for a queue,
// scored by RunAt.
func delayedKey(queue string) string { return keyPrefix + "queue:" + queue + ":delayed" }

// pausedKey returns the dispatch gate flag for a queue.
func pausedKey(queue string) string { return keyPrefix + "queue:" + queue + ":paused" }

// jobIDsKey is the Set tracking all job IDs for enumeration.
const jobIDsKey = keyPrefix + "job_ids"

// ── Approval keys ──

// approvalKey returns the key for an approval request hash.
func approvalKey(id string) string { return keyPrefix + "approval:" + id }

// approvalIDsKey is the Set tracking all approval request IDs.
const approvalIDsKey = keyPrefix + "approval_ids"

// ── Audit keys ──

// auditLogKey is the List holding the audit trail, newest first.
const auditLogKey = keyPrefix + "audit"

// ── Cluster keys ──

// workerKey returns the key for a worker hash: jobcore:worker:{id}
func workerKey(id string) string { return keyPrefix + "worker:" + id }

// workerIDsKey is the Set tracking all worker IDs for enumeration.
const workerIDsKey = keyPrefix + "worker_ids"

// leaderKey stores the current leader worker ID.
const leaderKey = keyPrefix + "leader"
