package control_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/control"
	"github.com/invenflow/jobcore/ext"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/queue"
	"github.com/invenflow/jobcore/store/memory"
)

func setupPlane(t *testing.T, env jobcore.Environment, opts ...control.Option) (*control.Plane, *memory.Store) {
	t.Helper()
	reg, err := queue.NewRegistry(
		queue.Queue{Name: "default", Category: queue.CategorySync},
		queue.Queue{Name: "critical", Category: queue.CategoryNotification},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	s := memory.New()
	logger := slog.Default()
	extensions := ext.NewRegistry(logger)
	plane := control.New(s, reg, extensions, approval.ProductionGate(), env, audit.NewStoreRecorder(s), logger, opts...)
	return plane, s
}

func seedJob(t *testing.T, s *memory.Store, queueName string, state job.State, age time.Duration) *job.Job {
	t.Helper()
	j := &job.Job{
		Entity:       jobcore.NewEntity(),
		ID:           id.NewJobID(),
		Name:         "seed",
		Queue:        queueName,
		State:        state,
		MaxAttempts:  2,
		AttemptsMade: 2,
		RunAt:        time.Now().UTC(),
	}
	if state.Terminal() {
		finished := time.Now().UTC().Add(-age)
		j.FinishedAt = &finished
		j.FailureReason = "seed failure"
	}
	if err := s.EnqueueJob(context.Background(), j); err != nil {
		t.Fatalf("EnqueueJob: %v", err)
	}
	return j
}

func lastAudit(t *testing.T, s *memory.Store) *audit.Record {
	t.Helper()
	recs, err := s.ListAudit(context.Background(), 1)
	if err != nil || len(recs) == 0 {
		t.Fatalf("ListAudit = %v, %v", recs, err)
	}
	return recs[0]
}

func TestPauseImmediateOutsideProduction(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	res, err := plane.Pause(ctx, "ops@example.com", "default", "deploy window")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if res.Held() {
		t.Fatal("pause outside production must not be held")
	}

	paused, _ := s.IsQueuePaused(ctx, "default")
	if !paused {
		t.Fatal("expected queue paused")
	}

	rec := lastAudit(t, s)
	if rec.Action != string(approval.ActionPauseQueue) || rec.Actor != "ops@example.com" || rec.Target != "default" {
		t.Fatalf("unexpected audit record: %+v", rec)
	}
	if rec.Rationale != "deploy window" {
		t.Fatalf("audit rationale = %q", rec.Rationale)
	}
}

func TestPauseGatedInProduction(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvProduction)
	ctx := context.Background()

	res, err := plane.Pause(ctx, "ops", "default", "incident")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if !res.Held() {
		t.Fatal("production pause must be held for approval")
	}
	if res.Approval.Status != approval.StatusPending || res.Approval.Action != approval.ActionPauseQueue {
		t.Fatalf("unexpected request: %+v", res.Approval)
	}

	// Not executed yet.
	paused, _ := s.IsQueuePaused(ctx, "default")
	if paused {
		t.Fatal("queue must not be paused before approval")
	}

	// Approving executes the held pause.
	if _, err := plane.Resolve(ctx, "lead", res.Approval.ID, true, "confirmed"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	paused, _ = s.IsQueuePaused(ctx, "default")
	if !paused {
		t.Fatal("expected queue paused after approval")
	}

	// A resolved request cannot be resolved twice.
	if _, err := plane.Resolve(ctx, "lead", res.Approval.ID, true, ""); !errors.Is(err, jobcore.ErrApprovalResolved) {
		t.Fatalf("expected ErrApprovalResolved, got %v", err)
	}
}

func TestRejectedApprovalDoesNotExecute(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvProduction)
	ctx := context.Background()

	res, err := plane.Pause(ctx, "ops", "default", "incident")
	if err != nil {
		t.Fatalf("Pause: %v", err)
	}

	if _, err := plane.Resolve(ctx, "lead", res.Approval.ID, false, "not justified"); !errors.Is(err, jobcore.ErrApprovalNotGranted) {
		t.Fatalf("expected ErrApprovalNotGranted, got %v", err)
	}

	paused, _ := s.IsQueuePaused(ctx, "default")
	if paused {
		t.Fatal("rejected pause must not execute")
	}

	reqs, _ := plane.Approvals(ctx, approval.StatusRejected)
	if len(reqs) != 1 || reqs[0].Resolver != "lead" {
		t.Fatalf("unexpected rejected requests: %+v", reqs)
	}
}

func TestPauseUnknownQueue(t *testing.T) {
	plane, _ := setupPlane(t, jobcore.EnvDevelopment)
	if _, err := plane.Pause(context.Background(), "ops", "nope", ""); !errors.Is(err, jobcore.ErrUnknownQueue) {
		t.Fatalf("expected ErrUnknownQueue, got %v", err)
	}
}

func TestPauseAlreadyPaused(t *testing.T) {
	plane, _ := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	if _, err := plane.Pause(ctx, "ops", "default", ""); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := plane.Pause(ctx, "ops", "default", ""); !errors.Is(err, jobcore.ErrQueuePaused) {
		t.Fatalf("expected ErrQueuePaused, got %v", err)
	}
}

func TestResume(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	if _, err := plane.Resume(ctx, "ops", "default", ""); !errors.Is(err, jobcore.ErrQueueNotPaused) {
		t.Fatalf("expected ErrQueueNotPaused, got %v", err)
	}

	if _, err := plane.Pause(ctx, "ops", "default", ""); err != nil {
		t.Fatalf("Pause: %v", err)
	}
	if _, err := plane.Resume(ctx, "ops", "default", ""); err != nil {
		t.Fatalf("Resume: %v", err)
	}
	paused, _ := s.IsQueuePaused(ctx, "default")
	if paused {
		t.Fatal("expected queue resumed")
	}
}

func TestRetryFailedResetsBudget(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	for i := 0; i < 3; i++ {
		seedJob(t, s, "default", job.StateFailed, time.Hour)
	}

	res, err := plane.RetryFailed(ctx, "ops", "default", 2, "replay after fix")
	if err != nil {
		t.Fatalf("RetryFailed: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}

	waiting, _ := s.ListJobsByState(ctx, job.StateWaiting, job.ListOpts{Queue: "default"})
	if len(waiting) != 2 {
		t.Fatalf("expected 2 re-queued jobs, got %d", len(waiting))
	}
	for _, j := range waiting {
		if j.AttemptsMade != 0 || j.FailureReason != "" || j.FinishedAt != nil {
			t.Fatalf("expected fresh budget on re-queued job, got %+v", j)
		}
	}
}

func TestRetryJob(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	failed := seedJob(t, s, "default", job.StateFailed, time.Hour)
	active := seedJob(t, s, "default", job.StateActive, 0)

	if err := plane.RetryJob(ctx, "ops", failed.ID, "manual replay"); err != nil {
		t.Fatalf("RetryJob: %v", err)
	}
	got, _ := s.GetJob(ctx, failed.ID)
	if got.State != job.StateWaiting || got.AttemptsMade != 0 {
		t.Fatalf("unexpected job after retry: %+v", got)
	}

	if err := plane.RetryJob(ctx, "ops", active.ID, ""); !errors.Is(err, jobcore.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for non-failed job, got %v", err)
	}
	if err := plane.RetryJob(ctx, "ops", id.NewJobID(), ""); !errors.Is(err, jobcore.ErrJobNotFound) {
		t.Fatalf("expected ErrJobNotFound, got %v", err)
	}
}

func TestRemoveJob(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	waiting := seedJob(t, s, "default", job.StateWaiting, 0)
	active := seedJob(t, s, "default", job.StateActive, 0)

	if err := plane.RemoveJob(ctx, "ops", waiting.ID, "stale"); err != nil {
		t.Fatalf("RemoveJob: %v", err)
	}
	if _, err := s.GetJob(ctx, waiting.ID); !errors.Is(err, jobcore.ErrJobNotFound) {
		t.Fatalf("expected job removed, got %v", err)
	}

	if err := plane.RemoveJob(ctx, "ops", active.ID, ""); !errors.Is(err, jobcore.ErrInvalidState) {
		t.Fatalf("active jobs must not be removable, got %v", err)
	}
}

func TestCleanIsIdempotent(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	// Two old completed, one fresh completed, one old failed.
	oldDone := seedJob(t, s, "default", job.StateCompleted, 48*time.Hour)
	_ = oldDone
	seedJob(t, s, "default", job.StateCompleted, 30*time.Hour)
	fresh := seedJob(t, s, "default", job.StateCompleted, time.Hour)
	oldFailed := seedJob(t, s, "default", job.StateFailed, 48*time.Hour)

	res, err := plane.Clean(ctx, "ops", "default", 24*time.Hour, 0, job.StateCompleted, "retention")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}

	// Fresh completed and failed jobs are untouched.
	if _, err := s.GetJob(ctx, fresh.ID); err != nil {
		t.Fatalf("fresh job purged: %v", err)
	}
	if _, err := s.GetJob(ctx, oldFailed.ID); err != nil {
		t.Fatalf("failed job purged by completed clean: %v", err)
	}

	// Second identical call purges zero more.
	res, err = plane.Clean(ctx, "ops", "default", 24*time.Hour, 0, job.StateCompleted, "retention")
	if err != nil {
		t.Fatalf("Clean: %v", err)
	}
	if res.Count != 0 {
		t.Fatalf("second clean purged %d, want 0", res.Count)
	}

	if _, err := plane.Clean(ctx, "ops", "default", time.Hour, 0, job.StateActive, ""); !errors.Is(err, jobcore.ErrInvalidState) {
		t.Fatalf("expected ErrInvalidState for non-terminal clean, got %v", err)
	}
}

func TestDrainLeavesActive(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	seedJob(t, s, "default", job.StateWaiting, 0)
	seedJob(t, s, "default", job.StateDelayed, 0)
	seedJob(t, s, "default", job.StateCompleted, time.Hour)
	active := seedJob(t, s, "default", job.StateActive, 0)

	res, err := plane.Drain(ctx, "ops", "default", "decommission")
	if err != nil {
		t.Fatalf("Drain: %v", err)
	}
	if res.Count != 3 {
		t.Fatalf("Count = %d, want 3", res.Count)
	}
	if _, err := s.GetJob(ctx, active.ID); err != nil {
		t.Fatalf("drain must leave active jobs: %v", err)
	}
}

func TestObliterate(t *testing.T) {
	plane, s := setupPlane(t, jobcore.EnvDevelopment)
	ctx := context.Background()

	seedJob(t, s, "default", job.StateWaiting, 0)
	seedJob(t, s, "default", job.StateActive, 0)
	other := seedJob(t, s, "critical", job.StateWaiting, 0)

	res, err := plane.Obliterate(ctx, "ops", "default", "teardown")
	if err != nil {
		t.Fatalf("Obliterate: %v", err)
	}
	if res.Count != 2 {
		t.Fatalf("Count = %d, want 2", res.Count)
	}
	if _, err := s.GetJob(ctx, other.ID); err != nil {
		t.Fatalf("other queue touched: %v", err)
	}
}

// fakeRotator records rotation calls.
type fakeRotator struct{ targets []string }

func (f *fakeRotator) Rotate(_ context.Context, target string) error {
	f.targets = append(f.targets, target)
	return nil
}

func TestRotateCredentialsGatedInProduction(t *testing.T) {
	rot := &fakeRotator{}
	plane, _ := setupPlane(t, jobcore.EnvProduction, control.WithRotator(rot))
	ctx := context.Background()

	res, err := plane.RotateCredentials(ctx, "ops", "shopify", "quarterly rotation")
	if err != nil {
		t.Fatalf("RotateCredentials: %v", err)
	}
	if !res.Held() {
		t.Fatal("production rotation must be held")
	}
	if len(rot.targets) != 0 {
		t.Fatal("rotation executed before approval")
	}

	if _, err := plane.Resolve(ctx, "lead", res.Approval.ID, true, "ok"); err != nil {
		t.Fatalf("Resolve: %v", err)
	}
	if len(rot.targets) != 1 || rot.targets[0] != "shopify" {
		t.Fatalf("rotation targets = %v", rot.targets)
	}
}

func TestRotateCredentialsImmediateOutsideProduction(t *testing.T) {
	rot := &fakeRotator{}
	plane, _ := setupPlane(t, jobcore.EnvStaging, control.WithRotator(rot))

	res, err := plane.RotateCredentials(context.Background(), "ops", "xero", "")
	if err != nil {
		t.Fatalf("RotateCredentials: %v", err)
	}
	if res.Held() || len(rot.targets) != 1 {
		t.Fatalf("expected immediate rotation, held=%v targets=%v", res.Held(), rot.targets)
	}
}
