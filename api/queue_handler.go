package api

import (
	"fmt"
	"net/http"
	"time"

	"github.com/xraph/forge"

	"github.com/invenflow/jobcore/control"
	"github.com/invenflow/jobcore/job"
)

func (a *API) listFailed(ctx forge.Context, req *ListFailedRequest) ([]*job.Job, error) {
	jobs, err := a.eng.Store().ListJobsByState(ctx.Context(), job.StateFailed, job.ListOpts{
		Limit:  defaultLimit(req.Limit),
		Offset: req.Offset,
		Queue:  ctx.Param("queue"),
	})
	if err != nil {
		return nil, fmt.Errorf("list failed jobs: %w", err)
	}

	return jobs, ctx.JSON(http.StatusOK, jobs)
}

func (a *API) pauseQueue(ctx forge.Context, req *ActionRequest) error {
	res, err := a.eng.Control().Pause(ctx.Context(), actor(req.Actor), ctx.Param("queue"), req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

func (a *API) resumeQueue(ctx forge.Context, req *ActionRequest) error {
	res, err := a.eng.Control().Resume(ctx.Context(), actor(req.Actor), ctx.Param("queue"), req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

func (a *API) retryFailed(ctx forge.Context, req *RetryFailedRequest) error {
	res, err := a.eng.Control().RetryFailed(ctx.Context(), actor(req.Actor), ctx.Param("queue"), req.Limit, req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

func (a *API) cleanQueue(ctx forge.Context, req *CleanRequest) error {
	state, err := jobStateFromString(req.State)
	if err != nil {
		return forge.BadRequest(err.Error())
	}
	if state == "" {
		state = job.StateCompleted
	}

	grace := time.Duration(req.GraceSeconds) * time.Second
	res, err := a.eng.Control().Clean(ctx.Context(), actor(req.Actor), ctx.Param("queue"), grace, req.Limit, state, req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

func (a *API) drainQueue(ctx forge.Context, req *ActionRequest) error {
	res, err := a.eng.Control().Drain(ctx.Context(), actor(req.Actor), ctx.Param("queue"), req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

func (a *API) obliterateQueue(ctx forge.Context, req *ActionRequest) error {
	res, err := a.eng.Control().Obliterate(ctx.Context(), actor(req.Actor), ctx.Param("queue"), req.Rationale)
	if err != nil {
		return mapError(err)
	}
	return controlResult(ctx, res)
}

// controlResult writes 202 with the pending approval for gated
// operations, 200 with the affected count otherwise.
func controlResult(ctx forge.Context, res control.Result) error {
	if res.Held() {
		return ctx.JSON(http.StatusAccepted, ControlResponse{
			ApprovalRequired: true,
			ApprovalID:       res.Approval.ID.String(),
		})
	}
	return ctx.JSON(http.StatusOK, ControlResponse{Count: res.Count})
}
