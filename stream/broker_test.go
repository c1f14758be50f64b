package stream_test

import (
	"context"
	"errors"
	"log/slog"
	"testing"
	"time"

	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/stream"
)

func newTestJob() *job.Job {
	return &job.Job{
		ID:       id.NewJobID(),
		Name:     "export-report",
		Queue:    "exports",
		TenantID: "tenant-1",
	}
}

func recvEvent(t *testing.T, sub *stream.Subscriber) *stream.Event {
	t.Helper()
	select {
	case evt, ok := <-sub.C():
		if !ok {
			t.Fatal("subscriber channel closed")
		}
		return evt
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for event")
	}
	return nil
}

func TestBroker_SubscribeAndReceive(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()

	sub := b.Subscribe("client-1", stream.JobTopic(j.ID.String()))

	if err := b.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != stream.EventJobEnqueued {
		t.Errorf("type = %s, want %s", evt.Type, stream.EventJobEnqueued)
	}
	if evt.Topic != stream.JobTopic(j.ID.String()) {
		t.Errorf("topic = %s", evt.Topic)
	}
}

func TestBroker_QueueAndTenantTopicsFanOut(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()

	queueSub := b.Subscribe("by-queue", stream.QueueTopic("exports"))
	tenantSub := b.Subscribe("by-tenant", stream.TenantTopic("tenant-1"))
	fireSub := b.Subscribe("firehose", stream.TopicFirehose)
	otherSub := b.Subscribe("other-queue", stream.QueueTopic("imports"))

	if err := b.OnJobStarted(context.Background(), j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	for name, sub := range map[string]*stream.Subscriber{
		"queue": queueSub, "tenant": tenantSub, "firehose": fireSub,
	} {
		evt := recvEvent(t, sub)
		if evt.Type != stream.EventJobStarted {
			t.Errorf("%s: type = %s", name, evt.Type)
		}
	}

	select {
	case evt := <-otherSub.C():
		t.Fatalf("other queue subscriber received %v", evt.Type)
	default:
	}
}

func TestBroker_SubscriberOnMultipleTopicsReceivesOnce(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()

	sub := b.Subscribe("multi",
		stream.JobTopic(j.ID.String()),
		stream.QueueTopic("exports"),
		stream.TopicFirehose,
	)

	if err := b.OnJobCompleted(context.Background(), j, 2*time.Second); err != nil {
		t.Fatalf("OnJobCompleted: %v", err)
	}

	recvEvent(t, sub)
	select {
	case evt := <-sub.C():
		t.Fatalf("received duplicate event %v", evt.Type)
	default:
	}
}

func TestBroker_DropWhenBufferFull(t *testing.T) {
	b := stream.NewBroker(slog.Default(), stream.WithBufferSize(1))
	j := newTestJob()

	sub := b.Subscribe("slow", stream.TopicJobs)

	ctx := context.Background()
	// First fills the buffer, second is dropped (at-most-once).
	if err := b.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := b.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != stream.EventJobEnqueued {
		t.Errorf("type = %s", evt.Type)
	}
	select {
	case evt := <-sub.C():
		t.Fatalf("expected drop, got %v", evt.Type)
	default:
	}
	if sub.Dropped() != 1 {
		t.Errorf("Dropped() = %d, want 1", sub.Dropped())
	}
	if got := b.Stats().TotalDropped; got != 1 {
		t.Errorf("Stats().TotalDropped = %d, want 1", got)
	}
}

func TestBroker_CreditsExhaustedStopsDelivery(t *testing.T) {
	b := stream.NewBroker(slog.Default(), stream.WithDefaultCredits(1))
	j := newTestJob()

	sub := b.Subscribe("metered", stream.TopicJobs)

	ctx := context.Background()
	if err := b.OnJobEnqueued(ctx, j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}
	if err := b.OnJobStarted(ctx, j); err != nil {
		t.Fatalf("OnJobStarted: %v", err)
	}

	recvEvent(t, sub)
	select {
	case evt := <-sub.C():
		t.Fatalf("expected credit exhaustion, got %v", evt.Type)
	default:
	}

	// Replenish and verify delivery resumes.
	sub.AddCredits(10)
	if err := b.OnJobProgress(ctx, j, 40); err != nil {
		t.Fatalf("OnJobProgress: %v", err)
	}
	evt := recvEvent(t, sub)
	if evt.Type != stream.EventJobProgress {
		t.Errorf("type = %s", evt.Type)
	}
}

func TestBroker_Unsubscribe(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()

	sub := b.Subscribe("fickle", stream.TopicJobs)
	b.Unsubscribe("fickle", stream.TopicJobs)

	if err := b.OnJobEnqueued(context.Background(), j); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	select {
	case evt := <-sub.C():
		t.Fatalf("received after unsubscribe: %v", evt.Type)
	default:
	}
}

func TestBroker_RemoveSubscriberClosesChannel(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	sub := b.Subscribe("gone", stream.TopicFirehose)
	b.RemoveSubscriber("gone")

	if _, ok := <-sub.C(); ok {
		t.Fatal("expected closed channel")
	}
	if _, found := b.GetSubscriber("gone"); found {
		t.Fatal("subscriber still registered")
	}
}

func TestBroker_ShutdownClosesAllSubscribers(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	sub1 := b.Subscribe("a", stream.TopicFirehose)
	sub2 := b.Subscribe("b", stream.TopicJobs)

	if err := b.OnShutdown(context.Background()); err != nil {
		t.Fatalf("OnShutdown: %v", err)
	}

	for _, sub := range []*stream.Subscriber{sub1, sub2} {
		if _, ok := <-sub.C(); ok {
			t.Fatal("expected closed channel")
		}
	}
}

func TestBroker_QueuePausedEvent(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	sub := b.Subscribe("ops", stream.QueueTopic("imports"))

	if err := b.OnQueuePaused(context.Background(), "imports"); err != nil {
		t.Fatalf("OnQueuePaused: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != stream.EventQueuePaused {
		t.Errorf("type = %s", evt.Type)
	}
}

func TestBroker_RetryingEventCarriesAttempt(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()
	sub := b.Subscribe("watch", stream.JobTopic(j.ID.String()))

	next := time.Now().Add(2 * time.Second)
	if err := b.OnJobRetrying(context.Background(), j, 2, next); err != nil {
		t.Fatalf("OnJobRetrying: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != stream.EventJobRetrying {
		t.Fatalf("type = %s", evt.Type)
	}
}

func TestBroker_FailedEventCarriesError(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	j := newTestJob()
	sub := b.Subscribe("watch", stream.JobTopic(j.ID.String()))

	if err := b.OnJobFailed(context.Background(), j, errors.New("boom")); err != nil {
		t.Fatalf("OnJobFailed: %v", err)
	}

	evt := recvEvent(t, sub)
	if evt.Type != stream.EventJobFailed {
		t.Fatalf("type = %s", evt.Type)
	}
}

func TestBroker_Stats(t *testing.T) {
	b := stream.NewBroker(slog.Default())
	b.Subscribe("one", stream.TopicFirehose)
	b.Subscribe("two", stream.TopicJobs)

	if err := b.OnJobEnqueued(context.Background(), newTestJob()); err != nil {
		t.Fatalf("OnJobEnqueued: %v", err)
	}

	stats := b.Stats()
	if stats.SubscriberCount != 2 {
		t.Errorf("SubscriberCount = %d, want 2", stats.SubscriberCount)
	}
	if stats.TopicCount != 2 {
		t.Errorf("TopicCount = %d, want 2", stats.TopicCount)
	}
	if stats.TotalPublished != 2 {
		t.Errorf("TotalPublished = %d, want 2", stats.TotalPublished)
	}
}

func TestValidateTopic(t *testing.T) {
	valid := []string{
		stream.TopicJobs, stream.TopicQueues, stream.TopicFirehose,
		stream.JobTopic("job_x"), stream.QueueTopic("exports"), stream.TenantTopic("t1"),
	}
	for _, topic := range valid {
		if err := stream.ValidateTopic(topic); err != nil {
			t.Errorf("ValidateTopic(%q) = %v", topic, err)
		}
	}

	invalid := []string{"", "nope", "bogus:x", ":x", "job:"}
	for _, topic := range invalid {
		if err := stream.ValidateTopic(topic); err == nil {
			t.Errorf("ValidateTopic(%q) succeeded, want error", topic)
		}
	}
}
