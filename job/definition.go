package job

import (
	"context"
	"encoding/json"
	"fmt"
)

// Definition binds a job name to a typed handler. The payload type T is
// unmarshaled from the job's JSON payload before the handler runs.
type Definition[T any] struct {
	name    string
	handler func(ctx context.Context, params T) ([]byte, error)
}

// NewDefinition creates a typed job definition. Handlers that produce no
// result should return a nil byte slice.
func NewDefinition[T any](name string, handler func(ctx context.Context, params T) ([]byte, error)) Definition[T] {
	return Definition[T]{name: name, handler: handler}
}

// Name returns the job name the definition is bound to.
func (d Definition[T]) Name() string { return d.name }

// RegisterDefinition erases a typed definition to a ProcessorFunc and
// registers it. Payloads that fail to unmarshal into T fail the attempt
// without invoking the handler.
func RegisterDefinition[T any](r *Registry, def Definition[T]) error {
	return r.Register(def.name, func(ctx context.Context, j *Job) ([]byte, error) {
		var params T
		if len(j.Payload) > 0 {
			if err := json.Unmarshal(j.Payload, &params); err != nil {
				return nil, fmt.Errorf("job %q: decode payload: %w", def.name, err)
			}
		}
		return def.handler(ctx, params)
	})
}
