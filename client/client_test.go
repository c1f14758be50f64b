package client_test

import (
	"context"
	"encoding/json"
	"io"
	"log/slog"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	forgetesting "github.com/xraph/forge/testing"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/backoff"
	"github.com/invenflow/jobcore/client"
	"github.com/invenflow/jobcore/engine"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/queue"
	"github.com/invenflow/jobcore/store/memory"
	"github.com/invenflow/jobcore/wire"
)

// ── Test Helpers ──────────────────────────────────────

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func testCatalog(t *testing.T) *queue.Registry {
	t.Helper()
	catalog, err := queue.NewRegistry(
		queue.Queue{
			Name:     "mail",
			Category: queue.CategoryNotification,
			Policy: queue.Policy{
				MaxAttempts: 2,
				Backoff:     backoff.Spec{Kind: backoff.KindFixed, Base: 20 * time.Millisecond},
				Concurrency: 2,
			},
		},
		queue.Queue{
			Name:     "reports",
			Category: queue.CategoryAnalytics,
			Policy:   queue.Policy{Concurrency: 1},
		},
	)
	if err != nil {
		t.Fatalf("NewRegistry: %v", err)
	}
	return catalog
}

// setupClientTest creates a full Forge app with wire routes on an httptest
// server, then dials a Go client. Returns the client, engine, store, and
// a cleanup function.
func setupClientTest(t *testing.T) (*client.Client, *engine.Engine, *memory.Store, func()) {
	t.Helper()

	// 1. Build engine with memory store.
	s := memory.New()
	c, err := jobcore.New(
		jobcore.WithStore(s),
		jobcore.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("jobcore.New: %v", err)
	}

	eng, err := engine.Build(c, testCatalog(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	// 2. Create wire handler and server.
	broker := eng.Stream()
	logger := testLogger()
	handler := wire.NewHandler(eng, broker, logger)
	wireServer := wire.NewServer(broker, handler,
		wire.WithAuth(wire.NewAPIKeyAuthenticator(wire.APIKeyEntry{
			Token: "test-token",
			Identity: wire.Identity{
				Subject:  "test-user",
				TenantID: "acme",
				UserID:   "u-1",
				Scopes:   []string{wire.ScopeAll},
			},
		})),
		wire.WithLogger(logger),
	)

	// 3. Create Forge test app and register wire routes.
	fapp := forgetesting.NewTestApp("client-test-app", "0.1.0")
	wireServer.RegisterRoutes(fapp.Router())

	// 4. Start an httptest server backed by the forge router.
	ts := httptest.NewServer(fapp.Router())

	// 5. Dial the Go client to the WS endpoint.
	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/wire"
	cl, dialErr := client.DialContext(context.Background(), wsURL,
		client.WithToken("test-token"),
		client.WithLogger(logger),
	)
	if dialErr != nil {
		ts.Close()
		t.Fatalf("DialContext: %v", dialErr)
	}

	cleanup := func() {
		_ = cl.Close()
		ts.Close()
	}

	return cl, eng, s, cleanup
}

// ── Connection Tests ──────────────────────────────────

func TestClient_DialAndClose(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	// Session ID should be assigned after auth.
	if c.SessionID() == "" {
		t.Error("expected non-empty session ID after dial")
	}

	// Close should not error.
	if err := c.Close(); err != nil {
		t.Errorf("Close: %v", err)
	}
}

func TestClient_DialAuthFailure(t *testing.T) {
	// Set up server but dial with wrong token.
	s := memory.New()
	c, err := jobcore.New(
		jobcore.WithStore(s),
		jobcore.WithLogger(testLogger()),
	)
	if err != nil {
		t.Fatalf("jobcore.New: %v", err)
	}

	eng, err := engine.Build(c, testCatalog(t))
	if err != nil {
		t.Fatalf("engine.Build: %v", err)
	}

	broker := eng.Stream()
	logger := testLogger()
	handler := wire.NewHandler(eng, broker, logger)
	wireServer := wire.NewServer(broker, handler,
		wire.WithAuth(wire.NewAPIKeyAuthenticator(wire.APIKeyEntry{
			Token: "valid-token",
			Identity: wire.Identity{
				Subject: "user",
				Scopes:  []string{wire.ScopeAll},
			},
		})),
		wire.WithLogger(logger),
	)

	fapp := forgetesting.NewTestApp("auth-fail-test", "0.1.0")
	wireServer.RegisterRoutes(fapp.Router())
	ts := httptest.NewServer(fapp.Router())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/wire"
	_, dialErr := client.DialContext(context.Background(), wsURL,
		client.WithToken("wrong-token"),
		client.WithLogger(logger),
	)
	if dialErr == nil {
		t.Fatal("expected error for invalid token")
	}
	if !strings.Contains(dialErr.Error(), "auth") {
		t.Errorf("error = %q, want to contain 'auth'", dialErr.Error())
	}
}

// ── Job Tests ─────────────────────────────────────────

func TestClient_Submit(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	result, err := c.Submit(context.Background(), "mail", "send-email", map[string]string{
		"to": "user@example.com",
	})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	if result.JobID == "" {
		t.Error("expected non-empty job_id")
	}
	if result.Queue != "mail" {
		t.Errorf("queue = %q, want mail", result.Queue)
	}
	if result.State != string(job.StateWaiting) {
		t.Errorf("state = %q, want waiting", result.State)
	}
}

func TestClient_GetJob(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	// Submit first.
	result, err := c.Submit(context.Background(), "mail", "fetch-data", struct{}{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Get by ID.
	raw, getErr := c.GetJob(context.Background(), result.JobID)
	if getErr != nil {
		t.Fatalf("GetJob: %v", getErr)
	}

	if raw == nil {
		t.Fatal("expected non-nil response data")
	}

	// Verify the response contains the job ID.
	var resp map[string]interface{}
	if jsonErr := json.Unmarshal(raw, &resp); jsonErr != nil {
		t.Fatalf("unmarshal response: %v", jsonErr)
	}
	if resp["id"] != result.JobID {
		t.Errorf("response id = %v, want %q", resp["id"], result.JobID)
	}
}

func TestClient_SubmitWithOptions(t *testing.T) {
	c, _, s, cleanup := setupClientTest(t)
	defer cleanup()

	result, err := c.Submit(context.Background(), "reports", "priority-job", struct{}{},
		client.WithPriority(10),
		client.WithMaxAttempts(7),
	)
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// Verify the queue and priority in the store.
	jobID, parseErr := id.ParseJobID(result.JobID)
	if parseErr != nil {
		t.Fatalf("ParseJobID: %v", parseErr)
	}
	j, getErr := s.GetJob(context.Background(), jobID)
	if getErr != nil {
		t.Fatalf("store.GetJob: %v", getErr)
	}
	if j.Queue != "reports" {
		t.Errorf("queue = %q, want reports", j.Queue)
	}
	if j.Priority != 10 {
		t.Errorf("priority = %d, want 10", j.Priority)
	}
	if j.MaxAttempts != 7 {
		t.Errorf("max attempts = %d, want 7", j.MaxAttempts)
	}
}

func TestClient_SubmitInheritsTenant(t *testing.T) {
	c, _, s, cleanup := setupClientTest(t)
	defer cleanup()

	result, err := c.Submit(context.Background(), "mail", "tenant-job", struct{}{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	jobID, parseErr := id.ParseJobID(result.JobID)
	if parseErr != nil {
		t.Fatalf("ParseJobID: %v", parseErr)
	}
	j, getErr := s.GetJob(context.Background(), jobID)
	if getErr != nil {
		t.Fatalf("store.GetJob: %v", getErr)
	}
	if j.TenantID != "acme" {
		t.Errorf("tenant = %q, want acme", j.TenantID)
	}
	if j.UserID != "u-1" {
		t.Errorf("user = %q, want u-1", j.UserID)
	}
}

func TestClient_ListJobs(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	ctx := context.Background()
	for range 3 {
		if _, err := c.Submit(ctx, "mail", "list-target", struct{}{}); err != nil {
			t.Fatalf("Submit: %v", err)
		}
	}

	raw, err := c.ListJobs(ctx, string(job.StateWaiting), "mail", 0, 0)
	if err != nil {
		t.Fatalf("ListJobs: %v", err)
	}

	var jobs []map[string]interface{}
	if jsonErr := json.Unmarshal(raw, &jobs); jsonErr != nil {
		t.Fatalf("unmarshal: %v", jsonErr)
	}
	if len(jobs) != 3 {
		t.Errorf("len(jobs) = %d, want 3", len(jobs))
	}
}

// ── Subscription Tests ────────────────────────────────

func TestClient_SubscribeAndUnsubscribe(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	// Subscribe to a channel.
	ch, err := c.Subscribe(context.Background(), "jobs")
	if err != nil {
		t.Fatalf("Subscribe: %v", err)
	}
	if ch == nil {
		t.Fatal("expected non-nil channel")
	}

	// Unsubscribe.
	if unsubErr := c.Unsubscribe(context.Background(), "jobs"); unsubErr != nil {
		t.Fatalf("Unsubscribe: %v", unsubErr)
	}
}

func TestClient_WatchJob(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	result, err := c.Submit(context.Background(), "mail", "watch-target", struct{}{})
	if err != nil {
		t.Fatalf("Submit: %v", err)
	}

	// WatchJob uses Subscribe("job:<jobID>").
	ch, watchErr := c.WatchJob(context.Background(), result.JobID)
	if watchErr != nil {
		t.Fatalf("WatchJob: %v", watchErr)
	}
	if ch == nil {
		t.Fatal("expected non-nil watch channel")
	}
}

func TestClient_WatchQueueReceivesEvents(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	ctx := context.Background()

	ch, err := c.WatchQueue(ctx, "mail")
	if err != nil {
		t.Fatalf("WatchQueue: %v", err)
	}

	// Submitting after the subscription is live publishes job.enqueued
	// on queue:mail.
	if _, err := c.Submit(ctx, "mail", "event-source", struct{}{}); err != nil {
		t.Fatalf("Submit: %v", err)
	}

	select {
	case evt := <-ch:
		if evt == nil {
			t.Fatal("expected non-nil event")
		}
	case <-time.After(2 * time.Second):
		t.Fatal("timed out waiting for queue event")
	}
}

// ── Stats Test ────────────────────────────────────────

func TestClient_Stats(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	raw, err := c.Stats(context.Background())
	if err != nil {
		t.Fatalf("Stats: %v", err)
	}

	if raw == nil {
		t.Fatal("expected non-nil stats data")
	}

	// Verify it's valid JSON with broker stats.
	var stats map[string]interface{}
	if jsonErr := json.Unmarshal(raw, &stats); jsonErr != nil {
		t.Fatalf("stats unmarshal: %v", jsonErr)
	}
	if _, ok := stats["broker"]; !ok {
		t.Error("expected broker stats")
	}
}

// ── Error Handling Tests ──────────────────────────────

func TestClient_GetJob_NotFound(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	_, err := c.GetJob(context.Background(), id.NewJobID().String())
	if err == nil {
		t.Fatal("expected error for nonexistent job")
	}
}

func TestClient_Submit_UnknownQueue(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	_, err := c.Submit(context.Background(), "nope", "some-job", struct{}{})
	if err == nil {
		t.Fatal("expected error for unknown queue")
	}
}

// ── Context Cancellation Tests ────────────────────────

func TestClient_ContextTimeout(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	// Create a context that's already cancelled.
	ctx, cancel := context.WithTimeout(context.Background(), 1*time.Nanosecond)
	defer cancel()
	time.Sleep(5 * time.Millisecond) // Ensure timeout fires.

	_, err := c.Submit(ctx, "mail", "any-job", struct{}{})
	if err == nil {
		t.Fatal("expected error from cancelled context")
	}
}

// ── Multiple Operations Test ──────────────────────────

func TestClient_MultipleSequentialOperations(t *testing.T) {
	c, _, _, cleanup := setupClientTest(t)
	defer cleanup()

	// Submit multiple jobs sequentially.
	ctx := context.Background()
	ids := make([]string, 5)
	for i := range 5 {
		result, err := c.Submit(ctx, "mail", "multi-job", map[string]int{"n": i})
		if err != nil {
			t.Fatalf("Submit[%d]: %v", i, err)
		}
		ids[i] = result.JobID
	}

	// Verify all jobs exist by fetching them.
	for i, jobID := range ids {
		raw, err := c.GetJob(ctx, jobID)
		if err != nil {
			t.Errorf("GetJob[%d] (%s): %v", i, jobID, err)
			continue
		}
		if raw == nil {
			t.Errorf("GetJob[%d]: expected non-nil data", i)
		}
	}
}
