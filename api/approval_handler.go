package api

import (
	"errors"
	"fmt"
	"net/http"

	"github.com/xraph/forge"

	"github.com/invenflow/jobcore"
	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/id"
)

func (a *API) listApprovals(ctx forge.Context, req *ListApprovalsRequest) ([]*approval.Request, error) {
	status, err := approvalStatusFromString(req.Status)
	if err != nil {
		return nil, forge.BadRequest(err.Error())
	}

	reqs, err := a.eng.Control().Approvals(ctx.Context(), status)
	if err != nil {
		return nil, fmt.Errorf("list approvals: %w", err)
	}

	return reqs, ctx.JSON(http.StatusOK, reqs)
}

func (a *API) approveRequest(ctx forge.Context, req *DecisionRequest) error {
	return a.resolve(ctx, req, true)
}

func (a *API) rejectRequest(ctx forge.Context, req *DecisionRequest) error {
	return a.resolve(ctx, req, false)
}

func (a *API) resolve(ctx forge.Context, req *DecisionRequest, approve bool) error {
	approvalID, err := id.ParseApprovalID(ctx.Param("approvalId"))
	if err != nil {
		return forge.BadRequest(fmt.Sprintf("invalid approval ID: %v", err))
	}

	res, err := a.eng.Control().Resolve(ctx.Context(), actor(req.Resolver), approvalID, approve, req.Rationale)
	if err != nil {
		// A rejection resolves the request without running the held
		// operation; that is the intended outcome, not a failure.
		if !approve && errors.Is(err, jobcore.ErrApprovalNotGranted) {
			return ctx.JSON(http.StatusOK, ControlResponse{})
		}
		return mapError(err)
	}
	return ctx.JSON(http.StatusOK, ControlResponse{Count: res.Count})
}

// approvalStatusFromString validates a status filter. Empty means all.
func approvalStatusFromString(s string) (approval.Status, error) {
	switch approval.Status(s) {
	case "", approval.StatusPending, approval.StatusApproved, approval.StatusRejected:
		return approval.Status(s), nil
	default:
		return "", fmt.Errorf("unknown approval status %q", s)
	}
}
