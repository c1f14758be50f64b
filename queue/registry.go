package queue

import (
	"fmt"
	"sort"
)

// Queue is one registered queue: a name, a category, and its policy.
type Queue struct {
	// Name is the queue identifier (must match the job.Queue field).
	Name string `json:"name"`

	// Category groups the queue by workload kind.
	Category Category `json:"category"`

	// Policy is the execution policy. Zero fields are filled from
	// DefaultPolicy at registration.
	Policy Policy `json:"policy"`
}

// Registry is the static queue catalog. It is built once at process start
// and read-only afterwards, so it is safe for concurrent use without
// locking. Construct one explicitly and pass it by reference into every
// component that needs it.
type Registry struct {
	queues map[string]Queue
	names  []string
}

// NewRegistry builds a catalog from the given queues. Duplicate names and
// empty names are registration errors.
func NewRegistry(queues ...Queue) (*Registry, error) {
	r := &Registry{queues: make(map[string]Queue, len(queues))}
	for _, q := range queues {
		if q.Name == "" {
			return nil, fmt.Errorf("queue: empty queue name")
		}
		if _, dup := r.queues[q.Name]; dup {
			return nil, fmt.Errorf("queue: duplicate queue %q", q.Name)
		}
		q.Policy = q.Policy.withDefaults()
		r.queues[q.Name] = q
		r.names = append(r.names, q.Name)
	}
	sort.Strings(r.names)
	return r, nil
}

// Lookup returns the queue registered under name.
func (r *Registry) Lookup(name string) (Queue, bool) {
	q, ok := r.queues[name]
	return q, ok
}

// Names returns all registered queue names, sorted.
func (r *Registry) Names() []string {
	out := make([]string, len(r.names))
	copy(out, r.names)
	return out
}

// All returns every registered queue in name order.
func (r *Registry) All() []Queue {
	out := make([]Queue, 0, len(r.names))
	for _, name := range r.names {
		out = append(out, r.queues[name])
	}
	return out
}

// Len returns the number of registered queues.
func (r *Registry) Len() int { return len(r.queues) }
