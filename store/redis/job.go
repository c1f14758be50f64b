package redis

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strconv"
	"time"

	goredis "github.com/redis/go-redis/v9"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/backoff"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
)

// EnqueueJob stores the job as a Hash and indexes it in the queue's
// waiting or delayed Sorted Set. The id is reserved first through the
// SAdd return value, so two submitters racing on the same
// caller-supplied id resolve atomically: exactly one wins, the other
// gets ErrJobAlreadyExists.
func (s *Store) EnqueueJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	added, err := s.c().SAdd(ctx, jobIDsKey, jID).Result()
	if err != nil {
		return s.wrap("enqueue reserve id", err)
	}
	if added == 0 {
		return jobcore.ErrJobAlreadyExists
	}

	pipe := s.c().TxPipeline()
	pipe.HSet(ctx, key, jobToMap(j))
	indexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		// Release the reservation so a later submit with the same id
		// is not rejected against a job that was never written.
		s.c().SRem(ctx, jobIDsKey, jID)
		return s.wrap("enqueue job", err)
	}
	return nil
}

// ClaimJobs atomically leases up to limit due jobs from the queue.
// Delayed jobs whose RunAt has elapsed are promoted first; the paused
// flag gates the whole operation.
func (s *Store) ClaimJobs(ctx context.Context, queue string, workerID id.WorkerID, limit int) ([]*job.Job, error) {
	paused, err := s.IsQueuePaused(ctx, queue)
	if err != nil {
		return nil, err
	}
	if paused {
		return nil, nil
	}

	now := time.Now().UTC()
	if err := s.promoteDelayed(ctx, queue, now); err != nil {
		return nil, err
	}

	members, err := s.c().ZPopMin(ctx, waitingKey(queue), int64(limit)).Result()
	if err != nil {
		return nil, s.wrap("claim zpopmin", err)
	}

	claimed := make([]*job.Job, 0, len(members))
	for _, z := range members {
		jID, ok := z.Member.(string)
		if !ok {
			continue
		}
		key := jobKey(jID)

		pipe := s.c().TxPipeline()
		pipe.HIncrBy(ctx, key, "attempts_made", 1)
		pipe.HSet(ctx, key,
			"state", string(job.StateActive),
			"worker_id", workerID.String(),
			"processed_at", now.Format(time.RFC3339Nano),
			"heartbeat_at", now.Format(time.RFC3339Nano),
			"updated_at", now.Format(time.RFC3339Nano),
		)
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return nil, s.wrap("claim update", pErr)
		}

		j, getErr := s.getJobByKey(ctx, key)
		if getErr != nil {
			return nil, getErr
		}
		claimed = append(claimed, j)
	}
	return claimed, nil
}

// promoteDelayed moves due delayed jobs into the waiting set.
func (s *Store) promoteDelayed(ctx context.Context, queue string, now time.Time) error {
	due, err := s.c().ZRangeByScore(ctx, delayedKey(queue), &goredis.ZRangeBy{
		Min: "-inf",
		Max: strconv.FormatInt(now.UnixMilli(), 10),
	}).Result()
	if err != nil {
		return s.wrap("promote zrange", err)
	}

	for _, jID := range due {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue
		}
		pipe := s.c().TxPipeline()
		pipe.ZRem(ctx, delayedKey(queue), jID)
		pipe.HSet(ctx, jobKey(jID), "state", string(job.StateWaiting))
		pipe.ZAdd(ctx, waitingKey(queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: jID})
		if _, pErr := pipe.Exec(ctx); pErr != nil {
			return s.wrap("promote delayed", pErr)
		}
	}
	return nil
}

// GetJob retrieves a job by ID.
func (s *Store) GetJob(ctx context.Context, jobID id.JobID) (*job.Job, error) {
	return s.getJobByKey(ctx, jobKey(jobID.String()))
}

// UpdateJob persists changes to an existing job and rebuilds its queue
// indexes for the new state.
func (s *Store) UpdateJob(ctx context.Context, j *job.Job) error {
	jID := j.ID.String()
	key := jobKey(jID)

	exists, err := s.c().Exists(ctx, key).Result()
	if err != nil {
		return s.wrap("update job exists", err)
	}
	if exists == 0 {
		return jobcore.ErrJobNotFound
	}

	fields := jobToMap(j)
	fields["updated_at"] = time.Now().UTC().Format(time.RFC3339Nano)

	pipe := s.c().TxPipeline()
	pipe.HSet(ctx, key, fields)
	// Optional timestamps are cleared on transitions back to waiting.
	if j.ProcessedAt == nil {
		pipe.HDel(ctx, key, "processed_at")
	}
	if j.FinishedAt == nil {
		pipe.HDel(ctx, key, "finished_at")
	}
	if j.HeartbeatAt == nil {
		pipe.HDel(ctx, key, "heartbeat_at")
	}
	pipe.ZRem(ctx, waitingKey(j.Queue), jID)
	pipe.ZRem(ctx, delayedKey(j.Queue), jID)
	indexJob(ctx, pipe, j)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("update job", err)
	}
	return nil
}

// DeleteJob removes a job by ID.
func (s *Store) DeleteJob(ctx context.Context, jobID id.JobID) error {
	jID := jobID.String()
	key := jobKey(jID)

	q, err := s.c().HGet(ctx, key, "queue").Result()
	if err != nil {
		if errors.Is(err, goredis.Nil) {
			return jobcore.ErrJobNotFound
		}
		return s.wrap("delete job get queue", err)
	}

	pipe := s.c().TxPipeline()
	pipe.Del(ctx, key)
	pipe.SRem(ctx, jobIDsKey, jID)
	pipe.ZRem(ctx, waitingKey(q), jID)
	pipe.ZRem(ctx, delayedKey(q), jID)
	if _, err := pipe.Exec(ctx); err != nil {
		return s.wrap("delete job", err)
	}
	return nil
}

// ListJobsByState returns jobs matching the given state, newest first.
func (s *Store) ListJobsByState(ctx context.Context, state job.State, opts job.ListOpts) ([]*job.Job, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.State != state {
			return false
		}
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		if opts.TenantID != "" && j.TenantID != opts.TenantID {
			return false
		}
		return true
	})
	if err != nil {
		return nil, err
	}

	sort.Slice(jobs, func(i, k int) bool {
		return jobs[i].CreatedAt.After(jobs[k].CreatedAt)
	})

	if opts.Offset > 0 {
		if opts.Offset >= len(jobs) {
			return nil, nil
		}
		jobs = jobs[opts.Offset:]
	}
	if opts.Limit > 0 && len(jobs) > opts.Limit {
		jobs = jobs[:opts.Limit]
	}
	return jobs, nil
}

// CountJobs returns the number of jobs matching the given options.
func (s *Store) CountJobs(ctx context.Context, opts job.CountOpts) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if opts.Queue != "" && j.Queue != opts.Queue {
			return false
		}
		if opts.State != "" && j.State != opts.State {
			return false
		}
		return true
	})
	if err != nil {
		return 0, err
	}
	return int64(len(jobs)), nil
}

// HeartbeatJob renews the lease on an active job.
func (s *Store) HeartbeatJob(ctx context.Context, jobID id.JobID, workerID id.WorkerID) error {
	key := jobKey(jobID.String())

	j, err := s.getJobByKey(ctx, key)
	if err != nil {
		return err
	}
	if j.State != job.StateActive || j.WorkerID.String() != workerID.String() {
		return jobcore.ErrLeaseTimeout
	}

	now := time.Now().UTC().Format(time.RFC3339Nano)
	if err := s.c().HSet(ctx, key, "heartbeat_at", now, "updated_at", now).Err(); err != nil {
		return s.wrap("heartbeat job", err)
	}
	return nil
}

// ReclaimStalled returns stalled active jobs to waiting, or dead-ends
// them to failed when the attempt budget is spent.
func (s *Store) ReclaimStalled(ctx context.Context, queue string, threshold time.Duration) ([]*job.Job, error) {
	now := time.Now().UTC()
	cutoff := now.Add(-threshold)

	stalled, err := s.scanJobs(ctx, func(j *job.Job) bool {
		if j.Queue != queue || j.State != job.StateActive {
			return false
		}
		last := j.ProcessedAt
		if j.HeartbeatAt != nil {
			last = j.HeartbeatAt
		}
		return last != nil && last.Before(cutoff)
	})
	if err != nil {
		return nil, err
	}

	affected := make([]*job.Job, 0, len(stalled))
	for _, j := range stalled {
		if j.AttemptsMade >= j.MaxAttempts {
			j.State = job.StateFailed
			j.FailureReason = "lease expired without heartbeat"
			j.FinishedAt = &now
		} else {
			j.State = job.StateWaiting
			j.RunAt = now
			j.ProcessedAt = nil
			// The next attempt starts its progress from scratch.
			j.Progress = 0
		}
		j.WorkerID = id.WorkerID{}
		j.HeartbeatAt = nil

		if err := s.UpdateJob(ctx, j); err != nil {
			return affected, err
		}
		affected = append(affected, j)
	}
	return affected, nil
}

// PurgeJobs removes terminal jobs finished before cutoff, oldest first.
func (s *Store) PurgeJobs(ctx context.Context, queue string, state job.State, cutoff time.Time, limit int) (int64, error) {
	if !state.Terminal() {
		return 0, jobcore.ErrInvalidState
	}

	expired, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.Queue == queue && j.State == state &&
			j.FinishedAt != nil && j.FinishedAt.Before(cutoff)
	})
	if err != nil {
		return 0, err
	}

	sort.Slice(expired, func(i, k int) bool {
		return expired[i].FinishedAt.Before(*expired[k].FinishedAt)
	})
	if limit > 0 && len(expired) > limit {
		expired = expired[:limit]
	}

	var n int64
	for _, j := range expired {
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// TrimJobs removes the oldest terminal jobs beyond maxCount.
func (s *Store) TrimJobs(ctx context.Context, queue string, state job.State, maxCount int) (int64, error) {
	if !state.Terminal() {
		return 0, jobcore.ErrInvalidState
	}

	matched, err := s.scanJobs(ctx, func(j *job.Job) bool {
		return j.Queue == queue && j.State == state
	})
	if err != nil {
		return 0, err
	}
	if maxCount < 0 {
		maxCount = 0
	}
	if len(matched) <= maxCount {
		return 0, nil
	}

	sort.Slice(matched, func(i, k int) bool {
		ti, tk := matched[i].FinishedAt, matched[k].FinishedAt
		if ti == nil || tk == nil {
			return matched[i].CreatedAt.After(matched[k].CreatedAt)
		}
		return ti.After(*tk)
	})

	var n int64
	for _, j := range matched[maxCount:] {
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}
	return n, nil
}

// ObliterateQueue removes every job in the queue regardless of state.
func (s *Store) ObliterateQueue(ctx context.Context, queue string) (int64, error) {
	jobs, err := s.scanJobs(ctx, func(j *job.Job) bool { return j.Queue == queue })
	if err != nil {
		return 0, err
	}

	var n int64
	for _, j := range jobs {
		if err := s.DeleteJob(ctx, j.ID); err != nil {
			return n, err
		}
		n++
	}

	pipe := s.c().TxPipeline()
	pipe.Del(ctx, waitingKey(queue))
	pipe.Del(ctx, delayedKey(queue))
	pipe.Del(ctx, pausedKey(queue))
	if _, err := pipe.Exec(ctx); err != nil {
		return n, s.wrap("obliterate cleanup", err)
	}
	return n, nil
}

// PauseQueue stops the waiting→active transition for the queue.
func (s *Store) PauseQueue(ctx context.Context, queue string) error {
	ok, err := s.c().SetNX(ctx, pausedKey(queue), "1", 0).Result()
	if err != nil {
		return s.wrap("pause queue", err)
	}
	if !ok {
		return jobcore.ErrQueuePaused
	}
	return nil
}

// ResumeQueue re-enables dispatch for the queue.
func (s *Store) ResumeQueue(ctx context.Context, queue string) error {
	n, err := s.c().Del(ctx, pausedKey(queue)).Result()
	if err != nil {
		return s.wrap("resume queue", err)
	}
	if n == 0 {
		return jobcore.ErrQueueNotPaused
	}
	return nil
}

// IsQueuePaused reports whether dispatch is currently gated.
func (s *Store) IsQueuePaused(ctx context.Context, queue string) (bool, error) {
	n, err := s.c().Exists(ctx, pausedKey(queue)).Result()
	if err != nil {
		return false, s.wrap("paused check", err)
	}
	return n > 0, nil
}

// ── helpers ──

// indexJob adds the job to the Sorted Set matching its state. Active
// and terminal jobs are not indexed; they are reached through the hash.
func indexJob(ctx context.Context, pipe goredis.Pipeliner, j *job.Job) {
	switch j.State {
	case job.StateWaiting:
		pipe.ZAdd(ctx, waitingKey(j.Queue), goredis.Z{Score: jobScore(j.Priority, j.RunAt), Member: j.ID.String()})
	case job.StateDelayed:
		pipe.ZAdd(ctx, delayedKey(j.Queue), goredis.Z{Score: float64(j.RunAt.UnixMilli()), Member: j.ID.String()})
	}
}

// jobScore computes a waiting-set score from priority and run_at.
// Lower score = claimed first; priority is negated so higher priority
// sorts first, with a fractional time component for FIFO within one
// priority.
func jobScore(priority int, runAt time.Time) float64 {
	return float64(-priority) + float64(runAt.UnixMilli())/1e15
}

// scanJobs loads every job and keeps those matching the filter.
func (s *Store) scanJobs(ctx context.Context, keep func(*job.Job) bool) ([]*job.Job, error) {
	ids, err := s.c().SMembers(ctx, jobIDsKey).Result()
	if err != nil {
		return nil, s.wrap("scan smembers", err)
	}

	var jobs []*job.Job
	for _, jID := range ids {
		j, getErr := s.getJobByKey(ctx, jobKey(jID))
		if getErr != nil {
			continue // skip missing
		}
		if keep(j) {
			jobs = append(jobs, j)
		}
	}
	return jobs, nil
}

func (s *Store) getJobByKey(ctx context.Context, key string) (*job.Job, error) {
	vals, err := s.c().HGetAll(ctx, key).Result()
	if err != nil {
		return nil, s.wrap("get job", err)
	}
	if len(vals) == 0 {
		return nil, jobcore.ErrJobNotFound
	}
	return mapToJob(vals)
}

func jobToMap(j *job.Job) map[string]any {
	m := map[string]any{
		"id":             j.ID.String(),
		"name":           j.Name,
		"queue":          j.Queue,
		"payload":        string(j.Payload),
		"state":          string(j.State),
		"priority":       strconv.Itoa(j.Priority),
		"max_attempts":   strconv.Itoa(j.MaxAttempts),
		"attempts_made":  strconv.Itoa(j.AttemptsMade),
		"backoff_kind":   string(j.Backoff.Kind),
		"backoff_base":   strconv.FormatInt(int64(j.Backoff.Base), 10),
		"progress":       strconv.Itoa(j.Progress),
		"result":         string(j.Result),
		"failure_reason": j.FailureReason,
		"tenant_id":      j.TenantID,
		"user_id":        j.UserID,
		"worker_id":      j.WorkerID.String(),
		"run_at":         j.RunAt.Format(time.RFC3339Nano),
		"timeout":        strconv.FormatInt(int64(j.Timeout), 10),
		"created_at":     j.CreatedAt.Format(time.RFC3339Nano),
		"updated_at":     j.UpdatedAt.Format(time.RFC3339Nano),
	}
	if j.ProcessedAt != nil {
		m["processed_at"] = j.ProcessedAt.Format(time.RFC3339Nano)
	}
	if j.FinishedAt != nil {
		m["finished_at"] = j.FinishedAt.Format(time.RFC3339Nano)
	}
	if j.HeartbeatAt != nil {
		m["heartbeat_at"] = j.HeartbeatAt.Format(time.RFC3339Nano)
	}
	return m
}

func mapToJob(m map[string]string) (*job.Job, error) {
	jID, err := id.ParseJobID(m["id"])
	if err != nil {
		return nil, fmt.Errorf("jobcore/redis: parse job id: %w", err)
	}

	priority, _ := strconv.Atoi(m["priority"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	maxAttempts, _ := strconv.Atoi(m["max_attempts"])          //nolint:errcheck // best-effort parse from trusted Redis data
	attemptsMade, _ := strconv.Atoi(m["attempts_made"])        //nolint:errcheck // best-effort parse from trusted Redis data
	progress, _ := strconv.Atoi(m["progress"])                 //nolint:errcheck // best-effort parse from trusted Redis data
	backoffBase, _ := strconv.ParseInt(m["backoff_base"], 10, 64) //nolint:errcheck // best-effort parse from trusted Redis data
	timeout, _ := strconv.ParseInt(m["timeout"], 10, 64)       //nolint:errcheck // best-effort parse from trusted Redis data

	runAt, _ := time.Parse(time.RFC3339Nano, m["run_at"])         //nolint:errcheck // best-effort parse from trusted Redis data
	createdAt, _ := time.Parse(time.RFC3339Nano, m["created_at"]) //nolint:errcheck // best-effort parse from trusted Redis data
	updatedAt, _ := time.Parse(time.RFC3339Nano, m["updated_at"]) //nolint:errcheck // best-effort parse from trusted Redis data

	j := &job.Job{
		Entity: jobcore.Entity{
			CreatedAt: createdAt,
			UpdatedAt: updatedAt,
		},
		ID:            jID,
		Name:          m["name"],
		Queue:         m["queue"],
		Payload:       []byte(m["payload"]),
		State:         job.State(m["state"]),
		Priority:      priority,
		MaxAttempts:   maxAttempts,
		AttemptsMade:  attemptsMade,
		Backoff:       backoff.Spec{Kind: backoff.Kind(m["backoff_kind"]), Base: time.Duration(backoffBase)},
		Progress:      progress,
		Result:        []byte(m["result"]),
		FailureReason: m["failure_reason"],
		TenantID:      m["tenant_id"],
		UserID:        m["user_id"],
		RunAt:         runAt,
		Timeout:       time.Duration(timeout),
	}

	if wid := m["worker_id"]; wid != "" {
		j.WorkerID, _ = id.ParseWorkerID(wid) //nolint:errcheck // best-effort parse from trusted Redis data
	}
	if v := m["processed_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.ProcessedAt = &t
	}
	if v := m["finished_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.FinishedAt = &t
	}
	if v := m["heartbeat_at"]; v != "" {
		t, _ := time.Parse(time.RFC3339Nano, v) //nolint:errcheck // best-effort parse from trusted Redis data
		j.HeartbeatAt = &t
	}

	return j, nil
}
