package stream

import (
	"sync"
	"sync/atomic"
)

// Subscriber is one consumer of the event stream. Delivery is
// credit-gated: the consumer grants credits as it drains its channel,
// and once credits hit zero the broker drops events for it instead of
// blocking. A slow consumer therefore loses events, never stalls
// publishers.
type Subscriber struct {
	id string
	ch chan *Event

	credits   atomic.Int64
	delivered atomic.Int64
	dropped   atomic.Int64

	mu     sync.RWMutex
	topics map[string]struct{}

	// filter, when set, suppresses events the predicate rejects.
	// Filtered events do not consume credits or count as drops.
	filter func(*Event) bool

	closed atomic.Bool
}

// NewSubscriber creates a subscriber with the given channel buffer and
// initial credit grant.
func NewSubscriber(id string, bufferSize int, initialCredits int64) *Subscriber {
	s := &Subscriber{
		id:     id,
		ch:     make(chan *Event, bufferSize),
		topics: make(map[string]struct{}),
	}
	s.credits.Store(initialCredits)
	return s
}

// ID returns the subscriber identifier.
func (s *Subscriber) ID() string { return s.id }

// C returns the read-only event channel.
func (s *Subscriber) C() <-chan *Event { return s.ch }

// AddCredits replenishes flow-control credits.
func (s *Subscriber) AddCredits(n int64) { s.credits.Add(n) }

// Credits returns the current credit balance.
func (s *Subscriber) Credits() int64 { return s.credits.Load() }

// Delivered returns how many events reached the channel.
func (s *Subscriber) Delivered() int64 { return s.delivered.Load() }

// Dropped returns how many events were discarded for lack of credits
// or buffer space.
func (s *Subscriber) Dropped() int64 { return s.dropped.Load() }

// SetFilter installs an event predicate. Must be set before the
// subscriber is attached to any topic.
func (s *Subscriber) SetFilter(fn func(*Event) bool) { s.filter = fn }

func (s *Subscriber) addTopic(topic string) {
	s.mu.Lock()
	s.topics[topic] = struct{}{}
	s.mu.Unlock()
}

func (s *Subscriber) removeTopic(topic string) {
	s.mu.Lock()
	delete(s.topics, topic)
	s.mu.Unlock()
}

// Topics returns the names of all topics the subscriber is attached to.
func (s *Subscriber) Topics() []string {
	s.mu.RLock()
	defer s.mu.RUnlock()
	out := make([]string, 0, len(s.topics))
	for t := range s.topics {
		out = append(out, t)
	}
	return out
}

// takeCredit atomically consumes one credit, reporting whether any
// were available.
func (s *Subscriber) takeCredit() bool {
	for {
		cur := s.credits.Load()
		if cur <= 0 {
			return false
		}
		if s.credits.CompareAndSwap(cur, cur-1) {
			return true
		}
	}
}

// offer tries to hand an event to the subscriber without blocking.
// It reports whether the event was accepted; a filtered-out event is
// neither accepted nor counted as dropped.
func (s *Subscriber) offer(evt *Event) bool {
	if s.closed.Load() {
		return false
	}
	if s.filter != nil && !s.filter(evt) {
		return false
	}
	if !s.takeCredit() {
		s.dropped.Add(1)
		return false
	}
	select {
	case s.ch <- evt:
		s.delivered.Add(1)
		return true
	default:
		// Buffer full. Hand the credit back so draining the channel
		// resumes delivery.
		s.credits.Add(1)
		s.dropped.Add(1)
		return false
	}
}

// Close closes the event channel. Safe to call more than once.
func (s *Subscriber) Close() {
	if s.closed.CompareAndSwap(false, true) {
		close(s.ch)
	}
}
