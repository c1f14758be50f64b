// Package backoff provides pluggable retry delay strategies for job
// execution. All strategies are safe for concurrent use (they are stateless).
package backoff

import (
	"math"
	"math/rand/v2"
	"time"
)

// Strategy computes the delay before a retry attempt.
type Strategy interface {
	// Delay returns how long to wait before retry attempt n (1-indexed).
	// Attempt 1 is the first retry after the initial failure.
	Delay(attempt int) time.Duration
}

// Kind names a backoff strategy in a queue policy.
type Kind string

const (
	// KindFixed always waits the base delay between retries.
	KindFixed Kind = "fixed"
	// KindExponential doubles the base delay each retry.
	KindExponential Kind = "exponential"
)

// ──────────────────────────────────────────────────
// Fixed
// ──────────────────────────────────────────────────

// Fixed always returns the same delay regardless of attempt number.
type Fixed struct {
	Base time.Duration
}

// NewFixed creates a fixed backoff strategy.
func NewFixed(base time.Duration) *Fixed {
	return &Fixed{Base: base}
}

// Delay returns the fixed base interval.
func (f *Fixed) Delay(_ int) time.Duration {
	return f.Base
}

// ──────────────────────────────────────────────────
// Exponential
// ──────────────────────────────────────────────────

// Exponential doubles the delay each attempt.
// Delay = min(Base * 2^(attempt-1), Max). A zero Max means no cap.
type Exponential struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponential creates an exponential backoff strategy.
func NewExponential(base, maxDelay time.Duration) *Exponential {
	return &Exponential{Base: base, Max: maxDelay}
}

// Delay returns Base * 2^(attempt-1), capped at Max.
func (e *Exponential) Delay(attempt int) time.Duration {
	d := time.Duration(float64(e.Base) * math.Pow(2, float64(attempt-1)))
	if e.Max > 0 && d > e.Max {
		return e.Max
	}
	return d
}

// ──────────────────────────────────────────────────
// ExponentialWithJitter (full jitter)
// ──────────────────────────────────────────────────

// ExponentialWithJitter applies full jitter to an exponential base.
// Delay = random value in [0, min(Base * 2^(attempt-1), Max)].
// This prevents thundering herd when many retries happen simultaneously.
type ExponentialWithJitter struct {
	Base time.Duration
	Max  time.Duration
}

// NewExponentialWithJitter creates an exponential backoff with full jitter.
func NewExponentialWithJitter(base, maxDelay time.Duration) *ExponentialWithJitter {
	return &ExponentialWithJitter{Base: base, Max: maxDelay}
}

// Delay returns a random duration in [0, min(Base * 2^(attempt-1), Max)].
func (e *ExponentialWithJitter) Delay(attempt int) time.Duration {
	base := float64(e.Base) * math.Pow(2, float64(attempt-1))
	if e.Max > 0 && base > float64(e.Max) {
		base = float64(e.Max)
	}
	return time.Duration(rand.Float64() * base) //nolint:gosec // jitter intentionally uses non-crypto rand
}

// ──────────────────────────────────────────────────
// Spec — declarative form carried by policies and jobs
// ──────────────────────────────────────────────────

// Spec is the declarative form of a retry strategy, carried on queue
// policies and merged onto individual jobs at submission.
type Spec struct {
	// Kind selects the strategy (fixed or exponential).
	Kind Kind `json:"kind"`
	// Base is the base delay. Fixed waits Base every retry; exponential
	// waits Base * 2^(attempt-1).
	Base time.Duration `json:"base"`
}

// IsZero reports whether the spec is unset.
func (s Spec) IsZero() bool { return s.Kind == "" && s.Base == 0 }

// Strategy materializes the spec. An unset spec yields DefaultStrategy.
func (s Spec) Strategy() Strategy {
	if s.Base <= 0 {
		return DefaultStrategy()
	}
	return ForKind(s.Kind, s.Base)
}

// ──────────────────────────────────────────────────
// Construction from queue policy
// ──────────────────────────────────────────────────

// ForKind returns the Strategy for a policy's backoff kind and base delay.
// Unknown kinds fall back to fixed.
func ForKind(kind Kind, base time.Duration) Strategy {
	switch kind {
	case KindExponential:
		return NewExponential(base, 0)
	case KindFixed:
		return NewFixed(base)
	default:
		return NewFixed(base)
	}
}

// DefaultStrategy returns the default backoff used when a queue policy
// does not specify one: exponential with 1s base, uncapped.
func DefaultStrategy() Strategy {
	return NewExponential(1*time.Second, 0)
}
