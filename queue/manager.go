package queue

import (
	"sync"
	"time"

	"golang.org/x/time/rate"
)

// queueState tracks runtime state for a single queue.
type queueState struct {
	policy  Policy
	limiter *rate.Limiter
	active  int
}

// Manager enforces per-queue and per-tenant rate limiting and concurrency.
// It is safe for concurrent use. The worker pool calls Acquire before
// executing a leased job and Release after execution completes.
type Manager struct {
	mu      sync.Mutex
	queues  map[string]*queueState
	tenants map[tenantRef]*tenantState
}

// NewManager creates a Manager for every queue in the catalog.
func NewManager(catalog *Registry) *Manager {
	m := &Manager{
		queues:  make(map[string]*queueState, catalog.Len()),
		tenants: make(map[tenantRef]*tenantState),
	}
	for _, q := range catalog.All() {
		m.queues[q.Name] = newQueueState(q.Policy)
	}
	return m
}

func newQueueState(p Policy) *queueState {
	qs := &queueState{policy: p}
	if p.RateLimit.Max > 0 && p.RateLimit.Window > 0 {
		// Token bucket sized to the window budget: sustained refill of
		// Max per Window, burst up to Max.
		interval := p.RateLimit.Window / time.Duration(p.RateLimit.Max)
		qs.limiter = rate.NewLimiter(rate.Every(interval), p.RateLimit.Max)
	}
	return qs
}

// Acquire checks rate limits and concurrency for the given queue and
// tenant. If the job is allowed to proceed it increments the active
// counter and returns true. The caller MUST call Release when the job
// completes.
func (m *Manager) Acquire(queue, tenantID string) bool {
	m.mu.Lock()
	defer m.mu.Unlock()

	// Check queue-level constraints.
	qs := m.queues[queue]
	if qs != nil {
		if qs.limiter != nil && !qs.limiter.Allow() {
			return false
		}
		if qs.policy.Concurrency > 0 && qs.active >= qs.policy.Concurrency {
			return false
		}
	}

	// Check tenant-level constraints.
	if tenantID != "" {
		ts := m.tenants[tenantRef{queue: queue, tenant: tenantID}]
		if ts != nil {
			if ts.limiter != nil && !ts.limiter.Allow() {
				return false
			}
			if ts.maxConcurrency > 0 && ts.active >= ts.maxConcurrency {
				return false
			}
			ts.active++
		}
	}

	// Increment queue active count.
	if qs != nil {
		qs.active++
	}

	return true
}

// Release decrements the active job count for the queue and tenant.
func (m *Manager) Release(queue, tenantID string) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if qs := m.queues[queue]; qs != nil && qs.active > 0 {
		qs.active--
	}

	if tenantID != "" {
		if ts := m.tenants[tenantRef{queue: queue, tenant: tenantID}]; ts != nil && ts.active > 0 {
			ts.active--
		}
	}
}

// ActiveCount returns the current number of active jobs for a queue.
func (m *Manager) ActiveCount(queue string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if qs := m.queues[queue]; qs != nil {
		return qs.active
	}
	return 0
}
