package redis

import (
	"context"
	"fmt"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/id"
)

// Register adds a worker to the cluster registry.
func (s *Store) Register(ctx context.Context, w *cluster.Worker) error {
	wID := w.ID.String()

	pipe := s.c().TxPipeline()
	pipe.HSet(ctx, workerKey(wID), workerToMap(w))
	pipe.SAdd(ctx, workerIDsKey, wID)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("register worker", err)
	}
	return nil
}

// Deregister removes a worker. If the worker holds leadership the
// leader key is released so another worker can take over immediately.
func (s *Store) Deregister(ctx context.Context, workerID id.WorkerID) error {
	wID := workerID.String()

	exists, err := s.c().Exists(ctx, workerKey(wID)).Result()
	if err != nil {
		return s.wrap("deregister worker exists", err)
	}
	if exists == 0 {
		return jobcore.ErrWorkerNotFound
	}

	leader, err := s.c().Get(ctx, leaderKey).Result()
	if err != nil && err != goredis.Nil {
		return s.wrap("deregister worker leader", err)
	}

	pipe := s.c().TxPipeline()
	pipe.Del(ctx, workerKey(wID))
	pipe.SRem(ctx, workerIDsKey, wID)
	if leader == wID {
		pipe.Del(ctx, leaderKey)
	}
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("deregister worker", err)
	}
	return nil
}

// Heartbeat refreshes the last-seen timestamp for a worker.
func (s *Store) Heartbeat(ctx context.Context, workerID id.WorkerID) error {
	key := workerKey(workerID.String())

	exists, err := s.c().Exists(ctx, key).Result()
	if err != nil {
		return s.wrap("heartbeat worker exists", err)
	}
	if exists == 0 {
		return jobcore.ErrWorkerNotFound
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.c().HSet(ctx, key, "last_seen", now).Err(); err != nil {
		return s.wrap("heartbeat worker", err)
	}
	return nil
}

// Workers returns all registered workers.
func (s *Store) Workers(ctx context.Context) ([]*cluster.Worker, error) {
	ids, err := s.c().SMembers(ctx, workerIDsKey).Result()
	if err != nil {
		return nil, s.wrap("list workers", err)
	}

	workers := make([]*cluster.Worker, 0, len(ids))
	for _, wID := range ids {
		vals, getErr := s.c().HGetAll(ctx, workerKey(wID)).Result()
		if getErr != nil || len(vals) == 0 {
			continue
		}
		w, convErr := mapToWorker(vals)
		if convErr != nil {
			continue
		}
		workers = append(workers, w)
	}
	return workers, nil
}

// ExpireWorkers marks workers whose last heartbeat is older than the
// threshold as dead and returns them. Workers already marked dead are
// skipped so each crash is reported once.
func (s *Store) ExpireWorkers(ctx context.Context, threshold time.Duration) ([]*cluster.Worker, error) {
	all, err := s.Workers(ctx)
	if err != nil {
		return nil, err
	}

	cutoff := time.Now().Add(-threshold)
	var reaped []*cluster.Worker
	for _, w := range all {
		if w.State == cluster.StateDead || !w.LastSeen.Before(cutoff) {
			continue
		}
		w.State = cluster.StateDead
		key := workerKey(w.ID.String())
		if err := s.c().HSet(ctx, key, "state", string(cluster.StateDead)).Err(); err != nil {
			return nil, s.wrap("reap worker", err)
		}
		reaped = append(reaped, w)
	}
	return reaped, nil
}

// Campaign attempts to take the leader lock with SET NX. An
// expired lock falls off via the key TTL, so acquisition needs no sweep.
func (s *Store) Campaign(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	ok, err := s.c().SetNX(ctx, leaderKey, wID, ttl).Result()
	if err != nil {
		return false, s.wrap("acquire leadership", err)
	}
	if !ok {
		// Re-acquire if this worker already holds the lock.
		current, getErr := s.c().Get(ctx, leaderKey).Result()
		if getErr != nil && getErr != goredis.Nil {
			return false, s.wrap("acquire leadership read", getErr)
		}
		if current != wID {
			return false, nil
		}
		if err := s.c().Expire(ctx, leaderKey, ttl).Err(); err != nil {
			return false, s.wrap("acquire leadership extend", err)
		}
	}

	until := time.Now().Add(ttl)
	s.markLeader(ctx, wID, &until)
	return true, nil
}

// Extend extends the lock TTL, but only for the current holder.
func (s *Store) Extend(ctx context.Context, workerID id.WorkerID, ttl time.Duration) (bool, error) {
	wID := workerID.String()

	current, err := s.c().Get(ctx, leaderKey).Result()
	if err == goredis.Nil {
		return false, nil
	}
	if err != nil {
		return false, s.wrap("renew leadership read", err)
	}
	if current != wID {
		return false, nil
	}

	if err := s.c().Expire(ctx, leaderKey, ttl).Err(); err != nil {
		return false, s.wrap("renew leadership", err)
	}
	until := time.Now().Add(ttl)
	s.markLeader(ctx, wID, &until)
	return true, nil
}

// Leader returns the current leader, or nil when the lock is vacant.
func (s *Store) Leader(ctx context.Context) (*cluster.Worker, error) {
	wID, err := s.c().Get(ctx, leaderKey).Result()
	if err == goredis.Nil {
		return nil, nil
	}
	if err != nil {
		return nil, s.wrap("get leader", err)
	}

	vals, err := s.c().HGetAll(ctx, workerKey(wID)).Result()
	if err != nil {
		return nil, s.wrap("get leader worker", err)
	}
	if len(vals) == 0 {
		return nil, nil
	}
	return mapToWorker(vals)
}

// markLeader mirrors leadership onto the worker hash for Workers
// callers. Best effort; the leader key is authoritative.
func (s *Store) markLeader(ctx context.Context, wID string, until *time.Time) {
	fields := map[string]any{"leader": "1"}
	if until != nil {
		fields["leader_expiry"] = until.UTC().Format(time.RFC3339Nano)
	}
	if err := s.c().HSet(ctx, workerKey(wID), fields).Err(); err != nil {
		s.logger.Warn("failed to mark leader on worker hash", "worker_id", wID, "error", err)
	}
}

// ── helpers ──

func workerToMap(w *cluster.Worker) map[string]any {
	m := map[string]any{
		"id":          w.ID.String(),
		"hostname":    w.Hostname,
		"queues":      marshalJSON(w.Queues),
		"concurrency": strconv.Itoa(w.Concurrency),
		"state":       string(w.State),
		"leader":   boolToStr(w.Leader),
		"last_seen":   w.LastSeen.Format(time.RFC3339Nano),
		"labels":    marshalJSON(w.Labels),
		"created_at":  w.CreatedAt.Format(time.RFC3339Nano),
	}
	if w.LeaderExpiry != nil {
		m["leader_expiry"] = w.LeaderExpiry.Format(time.RFC3339Nano)
	}
	return m
}

func mapToWorker(m map[string]string) (*cluster.Worker, error) {
	wID, err := id.ParseWorkerID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobcore/redis: parse worker id: %w", err)
	}

	concurrency, _ := strconv.Atoi(m["concurrency"])              //nolint:errcheck // best-effort parse from trusted Redis data
	lastSeen, _ := time.Parse(time.RFC3339Nano, m["last_seen"])   //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	w := &cluster.Worker{
		ID:          wID,
		Hostname:    m["hostname"],
		Queues:      unmarshalStrings(m["queues"]),
		Concurrency: concurrency,
		State:       cluster.State(m["state"]),
		Leader:    m["leader"] == "1",
		LastSeen:    lastSeen,
		Labels:    unmarshalMap(m["labels"]),
		CreatedAt:   createdAt,
	}

	if v := m["leader_expiry"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		w.LeaderExpiry = &t
	}
	return w, nil
}
