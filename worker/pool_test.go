package worker_test

import (
	"context"
	"encoding/json"
	"errors"
	"log/slog"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/middleware"
	"github.com/invenflow/jobcore/store/memory"
	"github.com/invenflow/jobcore/worker"
)

var errTransient = errors.New("transient backend error")

func setupTestPool(t *testing.T, concurrency int, pollInterval time.Duration, opts ...worker.PoolOption) (
	*worker.Pool, *memory.Store, *job.Registry, *lifecycleRecorder,
) {
	t.Helper()
	logger := slog.Default()
	s := memory.New()
	reg := job.NewRegistry()
	rec := &lifecycleRecorder{}
	extensions := ext.NewRegistry(logger)
	extensions.Register(rec)

	executor := worker.NewExecutor(reg, extensions, s, logger, middleware.Recover(logger))

	opts = append([]worker.PoolOption{
		worker.WithPoolConcurrency(concurrency),
		worker.WithPollInterval(pollInterval),
	}, opts...)
	pool := worker.NewPool(s, executor, extensions, logger, "default", opts...)

	t.Cleanup(func() {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		_ = pool.Stop(ctx)
	})

	return pool, s, reg, rec
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool, msg string) {
	t.Helper()
	deadline := time.After(timeout)
	for !cond() {
		select {
		case <-deadline:
			t.Fatal(msg)
		default:
			time.Sleep(5 * time.Millisecond)
		}
	}
}

func TestPool_StartStop(t *testing.T) {
	pool, _, _, _ := setupTestPool(t, 2, 50*time.Millisecond)

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected start error: %v", err)
	}
	// Double start should be no-op.
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("unexpected double-start error: %v", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected stop error: %v", err)
	}
	// Double stop should be no-op.
	if err := pool.Stop(ctx); err != nil {
		t.Fatalf("unexpected double-stop error: %v", err)
	}
}

func TestPool_ProcessesJob(t *testing.T) {
	pool, s, reg, _ := setupTestPool(t, 1, 10*time.Millisecond)

	type greetParams struct{ Name string }
	var processed atomic.Bool
	err := job.RegisterDefinition(reg, job.NewDefinition("greet", func(_ context.Context, p greetParams) ([]byte, error) {
		if p.Name != "Alice" {
			t.Errorf("payload.Name = %q, want %q", p.Name, "Alice")
		}
		processed.Store(true)
		return nil, nil
	}))
	if err != nil {
		t.Fatalf("RegisterDefinition: %v", err)
	}

	payload, _ := json.Marshal(greetParams{Name: "Alice"})
	j := testJob("greet", 3)
	j.Payload = payload
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}

	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, processed.Load, "timed out waiting for job to be processed")

	waitFor(t, time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "timed out waiting for completed state")
}

func TestPool_FailTwiceThenSucceed(t *testing.T) {
	pool, s, reg, rec := setupTestPool(t, 1, 10*time.Millisecond)

	var calls atomic.Int32
	if err := reg.Register("flaky-export", func(_ context.Context, _ *job.Job) ([]byte, error) {
		if calls.Add(1) <= 2 {
			return nil, errTransient
		}
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := testJob("flaky-export", 3)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "timed out waiting for eventual success")

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.AttemptsMade != 3 {
		t.Fatalf("AttemptsMade = %d, want 3", got.AttemptsMade)
	}

	completed, failed, _, _, retrying := rec.snapshot()
	if completed != 1 || failed != 0 {
		t.Fatalf("events: completed=%d failed=%d", completed, failed)
	}
	if len(retrying) != 2 || retrying[0] != 1 || retrying[1] != 2 {
		t.Fatalf("retrying events = %v, want [1 2]", retrying)
	}
}

func TestPool_ExhaustedJobStaysListable(t *testing.T) {
	pool, s, reg, rec := setupTestPool(t, 1, 10*time.Millisecond)

	if err := reg.Register("doomed-import", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, errTransient
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := testJob("doomed-import", 2)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateFailed
	}, "timed out waiting for terminal failure")

	got, _ := s.GetJob(context.Background(), j.ID)
	if got.AttemptsMade != 2 {
		t.Fatalf("AttemptsMade = %d, want 2", got.AttemptsMade)
	}

	failedJobs, err := s.ListJobsByState(context.Background(), job.StateFailed, job.ListOpts{Queue: "default"})
	if err != nil || len(failedJobs) != 1 {
		t.Fatalf("expected the failed job to stay listable, got %v, %v", failedJobs, err)
	}

	_, failed, _, _, retrying := rec.snapshot()
	if failed != 1 || len(retrying) != 1 {
		t.Fatalf("events: failed=%d retrying=%v", failed, retrying)
	}
}

func TestPool_ConcurrencyBound(t *testing.T) {
	const concurrency = 2
	const total = 6

	pool, s, reg, _ := setupTestPool(t, concurrency, 5*time.Millisecond)

	var inFlight, peak, done atomic.Int32
	if err := reg.Register("slow", func(_ context.Context, _ *job.Job) ([]byte, error) {
		n := inFlight.Add(1)
		for {
			p := peak.Load()
			if n <= p || peak.CompareAndSwap(p, n) {
				break
			}
		}
		time.Sleep(30 * time.Millisecond)
		inFlight.Add(-1)
		done.Add(1)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	for i := 0; i < total; i++ {
		if err := s.EnqueueJob(context.Background(), testJob("slow", 1)); err != nil {
			t.Fatalf("enqueue error: %v", err)
		}
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool { return done.Load() == total }, "timed out waiting for all jobs")

	if p := peak.Load(); p > concurrency {
		t.Fatalf("observed %d concurrent executions, bound is %d", p, concurrency)
	}
}

func TestPool_PauseGatesDispatch(t *testing.T) {
	pool, s, reg, _ := setupTestPool(t, 1, 5*time.Millisecond)

	var processed atomic.Bool
	if err := reg.Register("gated", func(_ context.Context, _ *job.Job) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	if err := s.PauseQueue(context.Background(), "default"); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}
	if err := s.EnqueueJob(context.Background(), testJob("gated", 1)); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	time.Sleep(50 * time.Millisecond)
	if processed.Load() {
		t.Fatal("job processed while queue was paused")
	}

	if err := s.ResumeQueue(context.Background(), "default"); err != nil {
		t.Fatalf("ResumeQueue: %v", err)
	}
	waitFor(t, 5*time.Second, processed.Load, "timed out waiting for processing after resume")
}

// denyingManager rejects the first n acquires, then allows everything.
type denyingManager struct {
	mu     sync.Mutex
	denies int
}

func (m *denyingManager) Acquire(_, _ string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.denies > 0 {
		m.denies--
		return false
	}
	return true
}

func (m *denyingManager) Release(_, _ string) {}

func TestPool_ThrottledClaimKeepsBudget(t *testing.T) {
	mgr := &denyingManager{denies: 2}
	pool, s, reg, _ := setupTestPool(t, 1, 5*time.Millisecond, worker.WithQueueManager(mgr))

	if err := reg.Register("limited", func(_ context.Context, _ *job.Job) ([]byte, error) {
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	j := testJob("limited", 1)
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	if err := pool.Start(context.Background()); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, func() bool {
		got, err := s.GetJob(context.Background(), j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "timed out waiting for completion after throttling")

	// Two throttled claims were rolled back, so only the real execution counts.
	got, _ := s.GetJob(context.Background(), j.ID)
	if got.AttemptsMade != 1 {
		t.Fatalf("AttemptsMade = %d, want 1", got.AttemptsMade)
	}
}

func TestPool_ReclaimsStalledLease(t *testing.T) {
	pool, s, reg, rec := setupTestPool(t, 1, 5*time.Millisecond,
		worker.WithStallThreshold(20*time.Millisecond),
	)

	var processed atomic.Bool
	if err := reg.Register("stallable", func(_ context.Context, _ *job.Job) ([]byte, error) {
		processed.Store(true)
		return nil, nil
	}); err != nil {
		t.Fatalf("Register: %v", err)
	}

	// Simulate a dead worker holding an expired lease.
	ctx := context.Background()
	j := testJob("stallable", 3)
	if err := s.EnqueueJob(ctx, j); err != nil {
		t.Fatalf("enqueue error: %v", err)
	}
	claimed, err := s.ClaimJobs(ctx, "default", id.NewWorkerID(), 1)
	if err != nil || len(claimed) != 1 {
		t.Fatalf("ClaimJobs = %v, %v", claimed, err)
	}
	stale := time.Now().UTC().Add(-time.Minute)
	claimed[0].HeartbeatAt = &stale
	if err := s.UpdateJob(ctx, claimed[0]); err != nil {
		t.Fatalf("UpdateJob: %v", err)
	}

	if err := pool.Start(ctx); err != nil {
		t.Fatalf("start error: %v", err)
	}

	waitFor(t, 5*time.Second, processed.Load, "timed out waiting for reclaim and re-execution")

	waitFor(t, time.Second, func() bool {
		got, err := s.GetJob(ctx, j.ID)
		return err == nil && got.State == job.StateCompleted
	}, "timed out waiting for completion after reclaim")

	_, _, _, stalledCount, _ := rec.snapshot()
	if stalledCount == 0 {
		t.Fatal("expected a stalled event")
	}
	got, _ := s.GetJob(ctx, j.ID)
	if got.AttemptsMade != 2 {
		t.Fatalf("AttemptsMade = %d, want 2 (stale claim plus reclaimed execution)", got.AttemptsMade)
	}
}
