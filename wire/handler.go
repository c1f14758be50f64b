package wire

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/engine"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
	"github.com/invenflow/jobcore/scope"
	"github.com/invenflow/jobcore/stream"
)

// Handler dispatches protocol frames to engine operations.
type Handler struct {
	eng    *engine.Engine
	broker *stream.Broker
	logger *slog.Logger
}

// NewHandler creates a new method handler.
func NewHandler(eng *engine.Engine, broker *stream.Broker, logger *slog.Logger) *Handler {
	return &Handler{eng: eng, broker: broker, logger: logger}
}

// Handle processes a single request frame and returns a response.
func (h *Handler) Handle(ctx context.Context, frame *Frame, sess *Session) *Frame {
	// Jobs submitted over the wire inherit the session's authenticated
	// tenant and user.
	if sess.Identity != nil {
		ctx = scope.Restore(ctx, sess.Identity.TenantID, sess.Identity.UserID)
	}

	switch frame.Method {
	case MethodJobSubmit:
		return h.handleJobSubmit(ctx, frame)
	case MethodJobGet:
		return h.handleJobGet(ctx, frame)
	case MethodJobList:
		return h.handleJobList(ctx, frame)
	case MethodSubscribe:
		return h.handleSubscribe(frame)
	case MethodUnsubscribe:
		return h.handleUnsubscribe(frame)
	case MethodStats:
		return h.handleStats(ctx, frame)
	default:
		return NewErrorFrame(frame.ID, ErrCodeMethodNotFound, "unknown method: "+frame.Method)
	}
}

// mustResponseFrame creates a response frame, returning an error frame on marshal failure.
func mustResponseFrame(frameID string, data any) *Frame {
	resp, err := NewResponseFrame(frameID, data)
	if err != nil {
		return NewErrorFrame(frameID, ErrCodeInternal, "marshal response: "+err.Error())
	}
	return resp
}

// errorFrame maps jobcore sentinel errors to protocol error codes.
func errorFrame(frameID string, err error) *Frame {
	switch {
	case errors.Is(err, jobcore.ErrJobNotFound):
		return NewErrorFrame(frameID, ErrCodeNotFound, err.Error())
	case errors.Is(err, jobcore.ErrUnknownQueue),
		errors.Is(err, jobcore.ErrQueuePaused),
		errors.Is(err, jobcore.ErrInvalidState):
		return NewErrorFrame(frameID, ErrCodeBadRequest, err.Error())
	case errors.Is(err, jobcore.ErrJobAlreadyExists):
		return NewErrorFrame(frameID, ErrCodeConflict, err.Error())
	default:
		return NewErrorFrame(frameID, ErrCodeInternal, err.Error())
	}
}

func (h *Handler) handleJobSubmit(ctx context.Context, frame *Frame) *Frame {
	var req JobSubmitRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}
	if req.Queue == "" || req.Name == "" {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "queue and name are required")
	}

	opts := make([]job.Option, 0, 3)
	if req.Priority > 0 {
		opts = append(opts, job.WithPriority(req.Priority))
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}

	j, err := h.eng.SubmitRaw(ctx, req.Queue, req.Name, req.Payload, opts...)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, JobSubmitResponse{
		JobID: j.ID.String(),
		Queue: j.Queue,
		State: string(j.State),
	})
}

func (h *Handler) handleJobGet(ctx context.Context, frame *Frame) *Frame {
	var req JobGetRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	jobID, err := id.ParseJobID(req.JobID)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid job ID: "+err.Error())
	}

	j, err := h.eng.Store().GetJob(ctx, jobID)
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, j)
}

func (h *Handler) handleJobList(ctx context.Context, frame *Frame) *Frame {
	var req JobListRequest
	if len(frame.Data) > 0 {
		if err := json.Unmarshal(frame.Data, &req); err != nil {
			return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
		}
	}

	state, err := listState(req.State)
	if err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	limit := req.Limit
	if limit <= 0 || limit > 500 {
		limit = 50
	}

	jobs, err := h.eng.Store().ListJobsByState(ctx, state, job.ListOpts{
		Limit:  limit,
		Offset: req.Offset,
		Queue:  req.Queue,
	})
	if err != nil {
		return errorFrame(frame.ID, err)
	}

	return mustResponseFrame(frame.ID, jobs)
}

func (h *Handler) handleSubscribe(frame *Frame) *Frame {
	var req SubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	if err := stream.ValidateTopic(req.Channel); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, err.Error())
	}

	// Actual subscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "subscribed",
	})
}

func (h *Handler) handleUnsubscribe(frame *Frame) *Frame {
	var req UnsubscribeRequest
	if err := json.Unmarshal(frame.Data, &req); err != nil {
		return NewErrorFrame(frame.ID, ErrCodeBadRequest, "invalid request: "+err.Error())
	}

	// Actual unsubscription is done in the server loop after response is sent.
	return mustResponseFrame(frame.ID, map[string]string{
		"channel": req.Channel,
		"status":  "unsubscribed",
	})
}

func (h *Handler) handleStats(ctx context.Context, frame *Frame) *Frame {
	stats := map[string]any{
		"broker": h.broker.Stats(),
	}

	if h.eng != nil {
		counts := make(map[string]map[string]int64)
		for _, name := range h.eng.Queues().Names() {
			perState := make(map[string]int64, len(job.States()))
			for _, state := range job.States() {
				n, err := h.eng.Store().CountJobs(ctx, job.CountOpts{Queue: name, State: state})
				if err != nil {
					continue
				}
				perState[string(state)] = n
			}
			counts[name] = perState
		}
		stats["queues"] = counts
	}

	return mustResponseFrame(frame.ID, stats)
}

// listState validates a state filter. Empty means all states.
func listState(s string) (job.State, error) {
	if s == "" {
		return "", nil
	}
	for _, state := range job.States() {
		if string(state) == s {
			return state, nil
		}
	}
	return "", fmt.Errorf("unknown job state %q", s)
}
