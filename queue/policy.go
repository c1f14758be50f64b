package queue

import (
	"time"

	"github.com/invenflow/jobcore/backoff"
)

// Category groups queues by the kind of work they carry.
type Category string

const (
	CategoryForecast     Category = "forecast"
	CategoryOptimization Category = "optimization"
	CategorySync         Category = "sync"
	CategoryImport       Category = "import"
	CategoryExport       Category = "export"
	CategoryNotification Category = "notification"
	CategoryAnalytics    Category = "analytics"
)

// Retention bounds how long terminal jobs are kept. A job is purged when
// it is older than MaxAge OR when the terminal set exceeds MaxCount,
// whichever triggers first. Zero values disable that bound.
type Retention struct {
	MaxAge   time.Duration `json:"max_age"`
	MaxCount int           `json:"max_count"`
}

// RateLimit caps how many jobs may enter active state per window,
// independently of the concurrency bound. Zero Max disables the limit.
type RateLimit struct {
	Max    int           `json:"max"`
	Window time.Duration `json:"window"`
}

// Policy is the execution policy bound to a queue. Immutable after
// registration.
type Policy struct {
	// MaxAttempts is the total attempt budget (first run included).
	MaxAttempts int `json:"max_attempts"`

	// Backoff is the retry delay strategy.
	Backoff backoff.Spec `json:"backoff"`

	// CompletedRetention bounds retention of completed jobs.
	CompletedRetention Retention `json:"completed_retention"`

	// FailedRetention bounds retention of terminally failed jobs.
	FailedRetention Retention `json:"failed_retention"`

	// Timeout is the maximum duration one attempt may run. Zero means
	// no deadline.
	Timeout time.Duration `json:"timeout"`

	// Concurrency is the worker pool size for this queue.
	Concurrency int `json:"concurrency"`

	// RateLimit throttles lease acquisition.
	RateLimit RateLimit `json:"rate_limit"`
}

// DefaultPolicy returns the policy applied where a queue omits fields.
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts: 3,
		Backoff:     backoff.Spec{Kind: backoff.KindExponential, Base: 2 * time.Second},
		CompletedRetention: Retention{
			MaxAge:   24 * time.Hour,
			MaxCount: 1000,
		},
		FailedRetention: Retention{
			MaxAge:   7 * 24 * time.Hour,
			MaxCount: 5000,
		},
		Timeout:     5 * time.Minute,
		Concurrency: 5,
	}
}

// withDefaults fills zero-valued policy fields from DefaultPolicy.
func (p Policy) withDefaults() Policy {
	def := DefaultPolicy()
	if p.MaxAttempts <= 0 {
		p.MaxAttempts = def.MaxAttempts
	}
	if p.Backoff.Base <= 0 {
		p.Backoff = def.Backoff
	}
	if p.CompletedRetention == (Retention{}) {
		p.CompletedRetention = def.CompletedRetention
	}
	if p.FailedRetention == (Retention{}) {
		p.FailedRetention = def.FailedRetention
	}
	if p.Timeout <= 0 {
		p.Timeout = def.Timeout
	}
	if p.Concurrency <= 0 {
		p.Concurrency = def.Concurrency
	}
	return p
}
