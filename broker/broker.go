// Package broker maintains the resilient Redis connections the job core
// runs on. Blocking consumer reads must not share a connection with
// producer calls, so the broker holds three independent clients: one for
// submission, one for worker consumption, and one for event
// subscription.
//
// Connection loss surfaces as a typed [*Error] matching
// [jobcore.ErrBrokerUnavailable]; callers report it upward instead of
// silently dropping the operation.
package broker

import (
	"context"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"strings"
	"sync"
	"time"

	"github.com/redis/go-redis/v9"
)

// Reconnect backoff bounds: min(attempt*50ms, 2s) plus jitter.
const (
	reconnectStep = 50 * time.Millisecond
	reconnectCap  = 2 * time.Second
)

// FailoverPredicate reports whether an error should force a reconnect
// with failover, such as a write hitting a read-only replica after a
// primary election.
type FailoverPredicate func(error) bool

// DefaultFailoverPredicate matches the READONLY error a Redis replica
// returns for writes after failover.
func DefaultFailoverPredicate(err error) bool {
	return err != nil && strings.Contains(err.Error(), "READONLY")
}

// Broker owns the three Redis connections and their reconnect logic.
type Broker struct {
	opts     *redis.Options
	failover FailoverPredicate
	logger   *slog.Logger

	mu         sync.RWMutex
	producer   *redis.Client
	consumer   *redis.Client
	subscriber *redis.Client
	closed     bool
}

// Option configures a Broker.
type Option func(*Broker)

// WithFailoverPredicate replaces the predicate deciding which errors
// force a reconnect with failover.
func WithFailoverPredicate(p FailoverPredicate) Option {
	return func(b *Broker) { b.failover = p }
}

// WithLogger sets a custom logger.
func WithLogger(l *slog.Logger) Option {
	return func(b *Broker) { b.logger = l }
}

// Connect dials the three connections and verifies each with a ping.
func Connect(ctx context.Context, opts *redis.Options, bopts ...Option) (*Broker, error) {
	b := &Broker{
		opts:     opts,
		failover: DefaultFailoverPredicate,
		logger:   slog.Default(),
	}
	for _, o := range bopts {
		o(b)
	}

	b.producer = redis.NewClient(opts)
	b.consumer = redis.NewClient(opts)
	b.subscriber = redis.NewClient(opts)

	if err := b.Ping(ctx); err != nil {
		_ = b.Close()
		return nil, err
	}
	return b, nil
}

// Producer returns the connection for job submission.
func (b *Broker) Producer() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.producer
}

// Consumer returns the connection for blocking worker consumption.
func (b *Broker) Consumer() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.consumer
}

// Subscriber returns the connection for event subscription.
func (b *Broker) Subscriber() *redis.Client {
	b.mu.RLock()
	defer b.mu.RUnlock()
	return b.subscriber
}

// Ping verifies all three connections.
func (b *Broker) Ping(ctx context.Context) error {
	b.mu.RLock()
	defer b.mu.RUnlock()

	for name, c := range map[string]*redis.Client{
		"producer":   b.producer,
		"consumer":   b.consumer,
		"subscriber": b.subscriber,
	} {
		if err := c.Ping(ctx).Err(); err != nil {
			return &Error{Op: "ping " + name, Err: err}
		}
	}
	return nil
}

// Check classifies an error from a broker operation. It wraps the error
// as a typed broker error and, when the failover predicate matches,
// rebuilds the connections in the background.
func (b *Broker) Check(op string, err error) error {
	if err == nil {
		return nil
	}
	if b.failover(err) {
		b.logger.Warn("broker failover triggered",
			slog.String("op", op),
			slog.String("error", err.Error()),
		)
		go b.reconnect(context.Background())
	}
	return &Error{Op: op, Err: err}
}

// reconnect tears down and redials all connections with capped backoff.
func (b *Broker) reconnect(ctx context.Context) {
	for attempt := 1; ; attempt++ {
		b.mu.Lock()
		if b.closed {
			b.mu.Unlock()
			return
		}
		b.producer.Close()
		b.consumer.Close()
		b.subscriber.Close()
		b.producer = redis.NewClient(b.opts)
		b.consumer = redis.NewClient(b.opts)
		b.subscriber = redis.NewClient(b.opts)
		b.mu.Unlock()

		if err := b.Ping(ctx); err == nil {
			b.logger.Info("broker reconnected", slog.Int("attempt", attempt))
			return
		}

		delay := ReconnectDelay(attempt)
		b.logger.Warn("broker reconnect failed",
			slog.Int("attempt", attempt),
			slog.Duration("retry_in", delay),
		)
		select {
		case <-ctx.Done():
			return
		case <-time.After(delay):
		}
	}
}

// Close releases all three connections.
func (b *Broker) Close() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.closed {
		return nil
	}
	b.closed = true

	var firstErr error
	for _, c := range []*redis.Client{b.producer, b.consumer, b.subscriber} {
		if err := c.Close(); err != nil && firstErr == nil {
			firstErr = fmt.Errorf("broker: close: %w", err)
		}
	}
	return firstErr
}

// ReconnectDelay returns the backoff before reconnect attempt n:
// min(n*50ms, 2s) plus up to 20% jitter.
func ReconnectDelay(attempt int) time.Duration {
	d := time.Duration(attempt) * reconnectStep
	if d > reconnectCap {
		d = reconnectCap
	}
	jitter := time.Duration(rand.Float64() * 0.2 * float64(d)) //nolint:gosec // jitter intentionally uses non-crypto rand
	return d + jitter
}
