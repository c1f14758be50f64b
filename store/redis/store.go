// Package redis implements store.Store using Redis for production
// deployments. Jobs are stored as Hashes; per-queue Sorted Sets hold the
// waiting set (scored by priority and arrival) and the delayed set
// (scored by RunAt); approvals and workers are Hashes; the audit trail
// is a List.
//
// Usage:
//
//	b, err := broker.Connect(ctx, &redis.Options{Addr: "localhost:6379"})
//	if err != nil { ... }
//	s := redisstore.NewFromBroker(b)
//
// Every Redis failure surfaces as a *broker.Error, so callers can
// classify infrastructure outages with
// errors.Is(err, jobcore.ErrBrokerUnavailable).
package redis

import (
	"context"
	"encoding/json"
	"log/slog"

	"github.com/redis/go-redis/v9"

	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/audit"
	"github.com/invenflow/jobcore/broker"
	"github.com/invenflow/jobcore/cluster"
	"github.com/invenflow/jobcore/job"
)

// Compile-time interface checks.
var (
	_ job.Store      = (*Store)(nil)
	_ approval.Store = (*Store)(nil)
	_ audit.Store    = (*Store)(nil)
	_ cluster.Store  = (*Store)(nil)
)

// Option configures the Store.
type Option func(*Store)

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(s *Store) { s.logger = l }
}

// Store implements the composite store.Store interface backed by Redis.
type Store struct {
	client redis.Cmdable
	broker *broker.Broker
	logger *slog.Logger
}

// New creates a Redis-backed store on a caller-owned client. Failures
// are still wrapped as *broker.Error, but without a Broker there is no
// failover reconnect; production deployments should use NewFromBroker.
func New(client redis.Cmdable, opts ...Option) *Store {
	s := &Store{client: client, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// NewFromBroker creates a Redis-backed store on the broker's producer
// connection. Every operation error runs through the broker's failure
// classifier, so READONLY replica errors trigger reconnect-with-failover
// and all failures match jobcore.ErrBrokerUnavailable.
func NewFromBroker(b *broker.Broker, opts ...Option) *Store {
	s := &Store{broker: b, logger: slog.Default()}
	for _, o := range opts {
		o(s)
	}
	return s
}

// c returns the live client. Broker-backed stores re-resolve it per
// call so a failover reconnect takes effect immediately.
func (s *Store) c() redis.Cmdable {
	if s.broker != nil {
		return s.broker.Producer()
	}
	return s.client
}

// wrap classifies a Redis failure as a typed broker error. With a
// broker attached it also runs the failover predicate.
func (s *Store) wrap(op string, err error) error {
	if err == nil {
		return nil
	}
	if s.broker != nil {
		return s.broker.Check(op, err)
	}
	return &broker.Error{Op: op, Err: err}
}

// Client returns the underlying Redis client.
func (s *Store) Client() redis.Cmdable { return s.c() }

// Migrate is a no-op for Redis (schemaless).
func (s *Store) Migrate(_ context.Context) error { return nil }

// Ping verifies the Redis connection is alive.
func (s *Store) Ping(ctx context.Context) error {
	return s.wrap("ping", s.c().Ping(ctx).Err())
}

// Close is a no-op. The broker (or the caller's client) owns the
// connection lifecycle.
func (s *Store) Close() error { return nil }

// ── shared helpers ──

// marshalJSON is a helper to marshal to a JSON string.
func marshalJSON(v any) string {
	b, _ := json.Marshal(v) //nolint:errcheck // marshal should not fail for basic types
	return string(b)
}

// unmarshalStrings parses a JSON array of strings.
func unmarshalStrings(s string) []string {
	if s == "" || s == "null" {
		return nil
	}
	var out []string
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

// unmarshalMap parses a JSON map.
func unmarshalMap(s string) map[string]string {
	if s == "" || s == "null" {
		return nil
	}
	out := make(map[string]string)
	_ = json.Unmarshal([]byte(s), &out) //nolint:errcheck // best-effort parse from trusted Redis data
	return out
}

func boolToStr(b bool) string {
	if b {
		return "1"
	}
	return "0"
}
