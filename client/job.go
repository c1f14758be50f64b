package client

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/invenflow/jobcore/wire"
)

// JobResult contains the result of a submit operation.
type JobResult struct {
	JobID string `json:"job_id"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

// Submit enqueues a job on the named queue of the remote server.
func (c *Client) Submit(ctx context.Context, queue, name string, payload any, opts ...SubmitOption) (*JobResult, error) {
	raw, err := json.Marshal(payload)
	if err != nil {
		return nil, fmt.Errorf("marshal payload: %w", err)
	}

	req := wire.JobSubmitRequest{
		Queue:   queue,
		Name:    name,
		Payload: raw,
	}
	for _, opt := range opts {
		opt(&req)
	}

	resp, reqErr := c.call(ctx, wire.MethodJobSubmit, req)
	if reqErr != nil {
		return nil, reqErr
	}

	var result JobResult
	if err := json.Unmarshal(resp.Data, &result); err != nil {
		return nil, fmt.Errorf("unmarshal response: %w", err)
	}
	return &result, nil
}

// GetJob retrieves a job by ID.
func (c *Client) GetJob(ctx context.Context, jobID string) (json.RawMessage, error) {
	resp, err := c.call(ctx, wire.MethodJobGet, wire.JobGetRequest{
		JobID: jobID,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// ListJobs lists jobs filtered by state and queue. Empty filters match
// everything.
func (c *Client) ListJobs(ctx context.Context, state, queue string, limit, offset int) (json.RawMessage, error) {
	resp, err := c.call(ctx, wire.MethodJobList, wire.JobListRequest{
		State:  state,
		Queue:  queue,
		Limit:  limit,
		Offset: offset,
	})
	if err != nil {
		return nil, err
	}
	return resp.Data, nil
}

// SubmitOption configures a submit request.
type SubmitOption func(*wire.JobSubmitRequest)

// WithPriority sets the job priority.
func WithPriority(priority int) SubmitOption {
	return func(r *wire.JobSubmitRequest) { r.Priority = priority }
}

// WithDelay defers the first run by the given duration, rounded down to
// whole seconds.
func WithDelay(d time.Duration) SubmitOption {
	return func(r *wire.JobSubmitRequest) { r.DelaySeconds = int(d / time.Second) }
}

// WithMaxAttempts overrides the queue policy's attempt budget.
func WithMaxAttempts(n int) SubmitOption {
	return func(r *wire.JobSubmitRequest) { r.MaxAttempts = n }
}
