package api

import (
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/id"
	"github.com/invenflow/jobcore/job"
)

func (a *API) submitJob(ctx forge.Context, req *SubmitJobRequest) (*job.Job, error) {
	if req.Queue == "" || req.Name == "" {
		return nil, forge.BadRequest("queue and name are required")
	}

	opts := []job.Option{
		job.WithPriority(req.Priority),
		job.WithTenant(req.TenantID),
		job.WithUser(req.UserID),
	}
	if req.DelaySeconds > 0 {
		opts = append(opts, job.WithDelay(time.Duration(req.DelaySeconds)*time.Second))
	}
	if req.MaxAttempts > 0 {
		opts = append(opts, job.WithMaxAttempts(req.MaxAttempts))
	}

	j, err := a.eng.SubmitRaw(ctx.Context(), req.Queue, req.Name, req.Payload, opts...)
	if err != nil {
		return nil, mapError(err)
	}

	return j, ctx.JSON(http.StatusCreated, j)
}

func (a *API) listJobs(ctx forge.Context, req *ListJobsRequest) ([]*job.Job, error) {
	state, err := jobStateFromString(req.State)
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	jobs, err := a.eng.Store().ListJobsByState(ctx.Context(), state, job.ListOpts{
		Limit:    defaultLimit(req.Limit),
		Offset:   req.Offset,
		Queue:    req.Queue,
		TenantID: req.TenantID,
	})
	if err != nil {
		return nil, fmt.Errorf("list jobs: %w", err)
	}

	return jobs, ctx.JSON(http.StatusOK, jobs)
}

func (a *API) getJob(ctx forge.Context) error {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	j, err := a.eng.Store().GetJob(ctx.Context(), jobID)
	if err != nil {
		return mapError(err)
	}

	return ctx.JSON(http.StatusOK, j)
}

func (a *API) retryJob(ctx forge.Context, req *ActionRequest) (*struct{}, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	if err := a.eng.Control().RetryJob(ctx.Context(), actor(req.Actor), jobID, req.Rationale); err != nil {
		return nil, mapError(err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

func (a *API) removeJob(ctx forge.Context, req *ActionRequest) (*struct{}, error) {
	jobID, err := id.ParseJobID(ctx.Param("jobId"))
	if err != nil {
		return nil, forge.BadRequest(fmt.Sprintf("invalid job ID: %v", err))
	}

	if err := a.eng.Control().RemoveJob(ctx.Context(), actor(req.Actor), jobID, req.Rationale); err != nil {
		return nil, mapError(err)
	}

	return nil, ctx.NoContent(http.StatusNoContent)
}

// jobStateFromString validates a state filter. Empty means all states.
func jobStateFromString(s string) (job.State, error) {
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

// actor falls back to a generic principal when the caller omits one.
func actor(s string) string {
	if s == "" {
		return "api"
	}
	return s
}

// mapError converts jobcore sentinel errors to forge HTTP errors.
// Policy violations map to 4xx; anything else surfaces as 5xx.
func mapError(err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, jobcore.ErrJobNotFound) || errors.Is(err, jobcore.ErrApprovalNotFound) {
		return forge.NotFound(err.Error())
	}
	if errors.Is(err, jobcore.ErrUnknownQueue) ||
		errors.Is(err, jobcore.ErrQueuePaused) ||
		errors.Is(err, jobcore.ErrQueueNotPaused) ||
		errors.Is(err, jobcore.ErrInvalidState) ||
		errors.Is(err, jobcore.ErrJobAlreadyExists) ||
		errors.Is(err, jobcore.ErrApprovalResolved) ||
		errors.Is(err, jobcore.ErrApprovalNotGranted) {
		return forge.BadRequest(err.Error())
	}
	return err
}
