package cluster

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"sync"
	"time"

	"github.com/invenflow/jobcore/id"
)

// Presence keeps one worker's registration alive: it registers the worker
// at start, heartbeats on an interval, and deregisters on stop. It also
// maintains the leader lease used to gate maintenance work to a single
// process.
type Presence struct {
	store    Store
	workerID id.WorkerID
	queues   []string
	interval time.Duration
	ttl      time.Duration
	logger   *slog.Logger

	mu       sync.Mutex
	isLeader bool
	stopCh   chan struct{}
	wg       sync.WaitGroup
	running  bool
}

// PresenceOption configures a Presence.
type PresenceOption func(*Presence)

// WithHeartbeat sets the worker heartbeat interval.
func WithHeartbeat(d time.Duration) PresenceOption {
	return func(p *Presence) { p.interval = d }
}

// WithLeaderTTL sets the leader lease duration. The lease is renewed on
// every heartbeat, so it should be a small multiple of the interval.
func WithLeaderTTL(d time.Duration) PresenceOption {
	return func(p *Presence) { p.ttl = d }
}

// NewPresence creates a presence keeper for the given worker.
func NewPresence(store Store, workerID id.WorkerID, queues []string, logger *slog.Logger, opts ...PresenceOption) *Presence {
	p := &Presence{
		store:    store,
		workerID: workerID,
		queues:   queues,
		interval: 10 * time.Second,
		ttl:      30 * time.Second,
		logger:   logger,
		stopCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(p)
	}
	return p
}

// IsLeader reports whether this worker currently holds the leader lease.
func (p *Presence) IsLeader() bool {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.isLeader
}

// Start registers the worker and launches the heartbeat loop.
func (p *Presence) Start(ctx context.Context) error {
	p.mu.Lock()
	if p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = true
	p.mu.Unlock()

	hostname, _ := os.Hostname()
	w := &Worker{
		ID:        p.workerID,
		Hostname:  hostname,
		Queues:    p.queues,
		State:     StateActive,
		LastSeen:  time.Now().UTC(),
		CreatedAt: time.Now().UTC(),
	}
	if err := p.store.Register(ctx, w); err != nil {
		return fmt.Errorf("cluster: register worker: %w", err)
	}

	p.wg.Add(1)
	go p.heartbeatLoop()
	return nil
}

// Stop deregisters the worker and stops the heartbeat loop.
func (p *Presence) Stop(ctx context.Context) error {
	p.mu.Lock()
	if !p.running {
		p.mu.Unlock()
		return nil
	}
	p.running = false
	p.mu.Unlock()

	close(p.stopCh)
	p.wg.Wait()

	if err := p.store.Deregister(ctx, p.workerID); err != nil {
		return fmt.Errorf("cluster: deregister worker: %w", err)
	}
	return nil
}

func (p *Presence) heartbeatLoop() {
	defer p.wg.Done()

	// Contend for leadership immediately, then on every tick.
	p.beat()

	ticker := time.NewTicker(p.interval)
	defer ticker.Stop()

	for {
		select {
		case <-p.stopCh:
			return
		case <-ticker.C:
			p.beat()
		}
	}
}

func (p *Presence) beat() {
	ctx := context.Background()

	if err := p.store.Heartbeat(ctx, p.workerID); err != nil {
		p.logger.Warn("worker heartbeat failed",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
	}

	p.mu.Lock()
	wasLeader := p.isLeader
	p.mu.Unlock()

	var ok bool
	var err error
	if wasLeader {
		ok, err = p.store.Extend(ctx, p.workerID, p.ttl)
	} else {
		ok, err = p.store.Campaign(ctx, p.workerID, p.ttl)
	}
	if err != nil {
		p.logger.Warn("leadership check failed",
			slog.String("worker_id", p.workerID.String()),
			slog.String("error", err.Error()),
		)
		return
	}

	p.mu.Lock()
	p.isLeader = ok
	p.mu.Unlock()

	if ok && !wasLeader {
		p.logger.Info("acquired cluster leadership", slog.String("worker_id", p.workerID.String()))
	}
	if !ok && wasLeader {
		p.logger.Warn("lost cluster leadership", slog.String("worker_id", p.workerID.String()))
	}
}
