package job

import (
	"context"
	"fmt"
	"sort"
	"sync"
)

// ProcessorFunc executes one attempt of a job. A nil error marks the
// attempt successful; the optional result is stored on the job. A non-nil
// error triggers the retry decision.
type ProcessorFunc func(ctx context.Context, j *Job) (result []byte, err error)

// Registry maps job names to their processors. Registration happens at
// startup; lookup is concurrent-safe for the lifetime of the process.
type Registry struct {
	mu         sync.RWMutex
	processors map[string]ProcessorFunc
}

// NewRegistry returns an empty processor registry.
func NewRegistry() *Registry {
	return &Registry{processors: make(map[string]ProcessorFunc)}
}

// Register binds a processor to a job name. Registering the same name
// twice is a programming error and returns one.
func (r *Registry) Register(name string, fn ProcessorFunc) error {
	if name == "" {
		return fmt.Errorf("job: processor name must not be empty")
	}
	if fn == nil {
		return fmt.Errorf("job: processor %q must not be nil", name)
	}

	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.processors[name]; exists {
		return fmt.Errorf("job: processor %q already registered", name)
	}
	r.processors[name] = fn
	return nil
}

// Lookup returns the processor for a job name.
func (r *Registry) Lookup(name string) (ProcessorFunc, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	fn, ok := r.processors[name]
	return fn, ok
}

// Names returns the registered job names in sorted order.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()

	names := make([]string, 0, len(r.processors))
	for name := range r.processors {
		names = append(names, name)
	}
	sort.Strings(names)
	return names
}

// Len returns the number of registered processors.
func (r *Registry) Len() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.processors)
}
