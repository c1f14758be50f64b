package api

import (
	"encoding/json"

	"github.com/invenflow/jobcore/monitor"
)

// SubmitJobRequest is the body for job submission.
type SubmitJobRequest struct {
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	DelaySeconds int             `json:"delaySeconds,omitempty"`
	MaxAttempts  int             `json:"maxAttempts,omitempty"`
	TenantID     string          `json:"tenantId,omitempty"`
	UserID       string          `json:"userId,omitempty"`
}

// ListJobsRequest filters the job listing.
type ListJobsRequest struct {
	State    string `query:"state" json:"state,omitempty"`
	Queue    string `query:"queue" json:"queue,omitempty"`
	TenantID string `query:"tenantId" json:"tenantId,omitempty"`
	Limit    int    `query:"limit" json:"limit,omitempty"`
	Offset   int    `query:"offset" json:"offset,omitempty"`
}

// ListFailedRequest paginates the failed-job listing for one queue.
type ListFailedRequest struct {
	Limit  int `query:"limit" json:"limit,omitempty"`
	Offset int `query:"offset" json:"offset,omitempty"`
}

// ActionRequest carries the audit identity for a control operation.
type ActionRequest struct {
	Actor     string `json:"actor,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// RetryFailedRequest bounds a bulk retry.
type RetryFailedRequest struct {
	ActionRequest
	Limit int `json:"limit,omitempty"`
}

// CleanRequest parameterizes a retention clean.
type CleanRequest struct {
	ActionRequest
	GraceSeconds int    `json:"graceSeconds,omitempty"`
	Limit        int    `json:"limit,omitempty"`
	State        string `json:"state,omitempty"`
}

// ListApprovalsRequest filters the approval listing.
type ListApprovalsRequest struct {
	Status string `query:"status" json:"status,omitempty"`
}

// DecisionRequest resolves a pending approval.
type DecisionRequest struct {
	Resolver  string `json:"resolver,omitempty"`
	Rationale string `json:"rationale,omitempty"`
}

// ControlResponse is the outcome of a control operation. When the
// operation is gated, ApprovalRequired is true and ApprovalID names the
// pending request; otherwise Count holds the number of affected jobs.
type ControlResponse struct {
	Count            int64  `json:"count"`
	ApprovalRequired bool   `json:"approvalRequired,omitempty"`
	ApprovalID       string `json:"approvalId,omitempty"`
}

// QueueStatsResponse pairs a queue health record with its active alerts.
type QueueStatsResponse struct {
	Record *monitor.Record `json:"record"`
	Alerts []monitor.Alert `json:"alerts"`
}

// defaultLimit caps list sizes when the caller omits or abuses limit.
func defaultLimit(limit int) int {
	const maxLimit = 500
	if limit <= 0 {
		return 50
	}
	if limit > maxLimit {
		return maxLimit
	}
	return limit
}
