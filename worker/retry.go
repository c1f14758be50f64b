package worker

import (
	"time"

	"github.com/invenflow/jobcore/backoff"
)

// Outcome is the result of the retry decision for a failed attempt.
type Outcome int

const (
	// OutcomeRetry schedules the job for another attempt after a delay.
	OutcomeRetry Outcome = iota
	// OutcomeDeadEnd fails the job terminally; the attempt budget is spent.
	OutcomeDeadEnd
)

// Decision describes what to do with a job after a failed attempt.
type Decision struct {
	Outcome Outcome
	// Delay is how long to wait before the next attempt. Zero for dead ends.
	Delay time.Duration
}

// Decide is the retry decision as a pure function of the attempt count,
// the budget, and the backoff spec. AttemptsMade counts the attempt that
// just failed, so the delay for the first retry uses attempt number 1.
func Decide(attemptsMade, maxAttempts int, spec backoff.Spec) Decision {
	if attemptsMade >= maxAttempts {
		return Decision{Outcome: OutcomeDeadEnd}
	}
	return Decision{
		Outcome: OutcomeRetry,
		Delay:   spec.Strategy().Delay(attemptsMade),
	}
}
