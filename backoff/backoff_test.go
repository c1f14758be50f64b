package backoff_test

import (
	"testing"
	"time"

	"github.com/invenflow/jobcore/backoff"
)

func TestFixed_ReturnsBaseDelay(t *testing.T) {
	f := backoff.NewFixed(5 * time.Second)
	for attempt := 1; attempt <= 10; attempt++ {
		if got := f.Delay(attempt); got != 5*time.Second {
			t.Errorf("Delay(%d) = %v, want %v", attempt, got, 5*time.Second)
		}
	}
}

func TestExponential_DoublesEachAttempt(t *testing.T) {
	e := backoff.NewExponential(2*time.Second, 0)

	tests := []struct {
		attempt int
		want    time.Duration
	}{
		{1, 2 * time.Second},  // 2 * 2^0
		{2, 4 * time.Second},  // 2 * 2^1
		{3, 8 * time.Second},  // 2 * 2^2
		{4, 16 * time.Second}, // 2 * 2^3
		{5, 32 * time.Second}, // 2 * 2^4
	}
	for _, tt := range tests {
		if got := e.Delay(tt.attempt); got != tt.want {
			t.Errorf("Delay(%d) = %v, want %v", tt.attempt, got, tt.want)
		}
	}
}

func TestExponential_CapsAtMax(t *testing.T) {
	e := backoff.NewExponential(time.Second, 10*time.Second)

	// Attempt 5 = 16s > 10s max → should return 10s.
	if got := e.Delay(5); got != 10*time.Second {
		t.Errorf("Delay(5) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
	if got := e.Delay(20); got != 10*time.Second {
		t.Errorf("Delay(20) = %v, want %v (capped at Max)", got, 10*time.Second)
	}
}

func TestExponentialWithJitter_StaysInRange(t *testing.T) {
	e := backoff.NewExponentialWithJitter(time.Second, time.Minute)

	for attempt := 1; attempt <= 8; attempt++ {
		got := e.Delay(attempt)
		if got < 0 {
			t.Errorf("Delay(%d) = %v, want non-negative", attempt, got)
		}
		maxAllowed := time.Duration(1<<uint(attempt-1)) * time.Second
		if maxAllowed > time.Minute {
			maxAllowed = time.Minute
		}
		if got > maxAllowed {
			t.Errorf("Delay(%d) = %v, want ≤ %v", attempt, got, maxAllowed)
		}
	}
}

func TestForKind(t *testing.T) {
	tests := []struct {
		kind    backoff.Kind
		attempt int
		want    time.Duration
	}{
		{backoff.KindFixed, 3, time.Second},
		{backoff.KindExponential, 3, 4 * time.Second},
		{backoff.Kind("bogus"), 3, time.Second}, // falls back to fixed
	}
	for _, tt := range tests {
		s := backoff.ForKind(tt.kind, time.Second)
		if got := s.Delay(tt.attempt); got != tt.want {
			t.Errorf("ForKind(%q).Delay(%d) = %v, want %v", tt.kind, tt.attempt, got, tt.want)
		}
	}
}
