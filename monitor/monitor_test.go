package monitor_test

import (
	"context"
	"log/slog"
	"testing"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/monitor"
	"github.com/invenflow/jobcore/queue"
	"github.com/invenflow/jobcore/store/memory"
)

func setupMonitor(t *testing.T) (*monitor.Monitor, *memory.Store) {
	t.Helper()
	reg, err := queue.NewRegistry(
		queue.Queue{Name: "default", Category: queue.CategorySync},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s := memory.New()
	return monitor.New(s, reg, slog.Default()), s
}

func seedJob(t *testing.T, s *memory.Store, state job.State, procTime time.Duration) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:      jobcore.NewEntity(),
		ID:          id.NewJobID(),
		Name:        "seed",
		Queue:       "default",
		State:       state,
		MaxAttempts: 3,
		RunAt:       time.Now().UTC(),
	}
	if procTime > 0 {
		started := time.Now().UTC().Add(-procTime)
		finished := time.Now().UTC()
		j.ProcessedAt = &started
		j.FinishedAt = &finished
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func TestCheckQueueHealthy(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedJob(t, s, job.StateCompleted, 100*time.Millisecond)
	}
	seedJob(t, s, job.StateWaiting, 0)

	rec, alerts, err := m.CheckQueue(ctx, "default")
	if err != nil {
		t.Fatalf("CheckQueue: %v", err)
	}
	if !rec.IsHealthy || len(alerts) != 0 {
		t.Fatalf("expected healthy record, got %+v alerts %+v", rec, alerts)
	}
	if rec.Counts[job.StateCompleted] != 3 || rec.Counts[job.StateWaiting] != 1 {
		t.Fatalf("unexpected counts: %+v", rec.Counts)
	}
	if rec.ErrorRate != 0 {
		t.Fatalf("ErrorRate = %f, want 0", rec.ErrorRate)
	}
	if rec.AvgProcessingTimeMs < 50 || rec.AvgProcessingTimeMs > 250 {
		t.Fatalf("AvgProcessingTimeMs = %f, want about 100", rec.AvgProcessingTimeMs)
	}
	if rec.Throughput <= 0 {
		t.Fatalf("Throughput = %f, want positive", rec.Throughput)
	}
}

func TestCheckQueueErrorRateAlert(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	// 1 failed out of 10 total is a 10% error rate, above the 5% threshold.
	seedJob(t, s, job.StateFailed, 0)
	for i := 0; i < 9; i++ {
		seedJob(t, s, job.StateCompleted, time.Millisecond)
	}

	rec, alerts, err := m.CheckQueue(ctx, "default")
	if err != nil {
		t.Fatalf("CheckQueue: %v", err)
	}
	if rec.IsHealthy {
		t.Fatal("expected unhealthy record")
	}
	if len(alerts) != 1 || alerts[0].Type != monitor.AlertErrorRate {
		t.Fatalf("expected one error-rate alert, got %+v", alerts)
	}
	if alerts[0].Value != 0.1 || alerts[0].Threshold != monitor.ErrorRateThreshold {
		t.Fatalf("alert = %+v", alerts[0])
	}

	// Consecutive failures accumulate across recomputes.
	rec2, _, _ := m.CheckQueue(ctx, "default")
	if rec.ConsecutiveFailures != 1 || rec2.ConsecutiveFailures != 2 {
		t.Fatalf("ConsecutiveFailures = %d then %d, want 1 then 2", rec.ConsecutiveFailures, rec2.ConsecutiveFailures)
	}
}

func TestCheckQueueOneAlertPerBreach(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	// Breach error rate and processing time at once.
	seedJob(t, s, job.StateFailed, 0)
	seedJob(t, s, job.StateCompleted, 400*time.Second)

	_, alerts, err := m.CheckQueue(ctx, "default")
	if err != nil {
		t.Fatalf("CheckQueue: %v", err)
	}
	if len(alerts) != 2 {
		t.Fatalf("expected 2 alerts, got %+v", alerts)
	}
	types := map[monitor.AlertType]bool{}
	for _, a := range alerts {
		types[a.Type] = true
	}
	if !types[monitor.AlertErrorRate] || !types[monitor.AlertProcessingTime] {
		t.Fatalf("unexpected alert types: %+v", alerts)
	}
}

func TestCheckQueueReflectsPause(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	if err := s.PauseQueue(ctx, "default"); err != nil {
		t.Fatalf("PauseQueue: %v", err)
	}
	rec, _, err := m.CheckQueue(ctx, "default")
	if err != nil {
		t.Fatalf("CheckQueue: %v", err)
	}
	if !rec.IsPaused {
		t.Fatal("expected IsPaused")
	}
}

func TestSnapshotIsCopy(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	seedJob(t, s, job.StateWaiting, 0)
	if _, _, err := m.CheckQueue(ctx, "default"); err != nil {
		t.Fatalf("CheckQueue: %v", err)
	}

	snap := m.Snapshot("default")
	if snap == nil {
		t.Fatal("expected snapshot after check")
	}
	snap.Counts[job.StateWaiting] = 999

	again := m.Snapshot("default")
	if again.Counts[job.StateWaiting] != 1 {
		t.Fatal("snapshot must be a copy, not a shared map")
	}

	if m.Snapshot("never-checked") != nil {
		t.Fatal("expected nil snapshot for unchecked queue")
	}
}

func TestCheckAll(t *testing.T) {
	m, s := setupMonitor(t)
	ctx := context.Background()

	seedJob(t, s, job.StateWaiting, 0)
	recs, err := m.CheckAll(ctx)
	if err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
	if len(recs) != 1 || recs["default"] == nil {
		t.Fatalf("unexpected records: %+v", recs)
	}
}
