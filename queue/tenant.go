package queue

import (
	"time"

	"golang.org/x/time/rate"
)

// TenantLimit defines rate limits and concurrency for a specific tenant
// on a specific queue, identified by the job's TenantID.
type TenantLimit struct {
	// QueueName is the queue this limit applies to.
	QueueName string

	// TenantID is the tenant identifier (the job's TenantID field).
	TenantID string

	// RateLimit caps this tenant's lease rate on the queue.
	RateLimit RateLimit

	// MaxConcurrency limits simultaneous jobs for this tenant on this
	// queue. Zero means no tenant-specific concurrency limit.
	MaxConcurrency int
}

// tenantState tracks runtime state for a single queue+tenant pair.
type tenantState struct {
	limiter        *rate.Limiter
	maxConcurrency int
	active         int
}

// tenantRef keys the tenant state map on the queue+tenant pair.
type tenantRef struct {
	queue  string
	tenant string
}

// SetTenantLimit configures rate limits and concurrency for a specific
// tenant on a specific queue. Calling this multiple times for the same
// queue+tenant replaces the previous configuration.
func (m *Manager) SetTenantLimit(limit TenantLimit) {
	m.mu.Lock()
	defer m.mu.Unlock()

	key := tenantRef{queue: limit.QueueName, tenant: limit.TenantID}
	existing := m.tenants[key]

	ts := &tenantState{
		maxConcurrency: limit.MaxConcurrency,
	}
	if limit.RateLimit.Max > 0 && limit.RateLimit.Window > 0 {
		interval := limit.RateLimit.Window / time.Duration(limit.RateLimit.Max)
		ts.limiter = rate.NewLimiter(rate.Every(interval), limit.RateLimit.Max)
	}

	// Preserve current active count if reconfiguring.
	if existing != nil {
		ts.active = existing.active
	}
	m.tenants[key] = ts
}

// TenantActiveCount returns the current number of active jobs for a
// queue+tenant pair.
func (m *Manager) TenantActiveCount(queue, tenantID string) int {
	m.mu.Lock()
	defer m.mu.Unlock()
	if ts := m.tenants[tenantRef{queue: queue, tenant: tenantID}]; ts != nil {
		return ts.active
	}
	return 0
}
