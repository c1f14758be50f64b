package job

import (
	"time"

	"github.com/invenflow/jobcore/backoff"
	"github.com/invenflow/jobcore/id"
)

// Options carries per-submission overrides. Zero-valued fields fall back
// to the queue policy when the job is enqueued.
type Options struct {
	// ID pins the job identifier. Useful for idempotent submission from
	// external systems; left zero, a fresh identifier is minted.
	ID id.JobID

	// Priority orders jobs within a queue. Higher runs first.
	Priority int

	// Delay postpones the first attempt.
	Delay time.Duration

	// MaxAttempts overrides the queue's attempt budget.
	MaxAttempts int

	// Backoff overrides the queue's retry delay strategy.
	Backoff backoff.Spec

	// Timeout overrides the queue's per-attempt deadline.
	Timeout time.Duration

	// TenantID scopes the job to a tenant for quota accounting.
	TenantID string

	// UserID records the submitting principal for audit trails.
	UserID string
}

// Option mutates submission options.
type Option func(*Options)

// WithID pins the job identifier.
func WithID(jobID id.JobID) Option {
	return func(o *Options) { o.ID = jobID }
}

// WithPriority sets the job priority. Higher runs first.
func WithPriority(p int) Option {
	return func(o *Options) { o.Priority = p }
}

// WithDelay postpones the first attempt by d.
func WithDelay(d time.Duration) Option {
	return func(o *Options) { o.Delay = d }
}

// WithMaxAttempts overrides the queue's attempt budget.
func WithMaxAttempts(n int) Option {
	return func(o *Options) { o.MaxAttempts = n }
}

// WithBackoff overrides the queue's retry delay strategy.
func WithBackoff(spec backoff.Spec) Option {
	return func(o *Options) { o.Backoff = spec }
}

// WithTimeout overrides the queue's per-attempt deadline.
func WithTimeout(d time.Duration) Option {
	return func(o *Options) { o.Timeout = d }
}

// WithTenant scopes the job to a tenant.
func WithTenant(tenantID string) Option {
	return func(o *Options) { o.TenantID = tenantID }
}

// WithUser records the submitting principal.
func WithUser(userID string) Option {
	return func(o *Options) { o.UserID = userID }
}

// ApplyOptions folds opts into a fresh Options value.
func ApplyOptions(opts ...Option) Options {
	var o Options
	for _, opt := range opts {
		opt(&o)
	}
	return o
}
