// Package api provides the Forge-based HTTP control surface for jobcore:
// job submission and inspection, per-queue statistics, administrative
// queue operations, and approval workflow endpoints.
package api

import (
	"net/http"

	"github.com/xraph/forge"

	"github.com/invenflow/jobcore/approval"
	"github.com/invenflow/jobcore/engine"
	"github.com/invenflow/jobcore/job"
)

// API wires all Forge-style HTTP handlers together for the jobcore system.
type API struct {
	eng    *engine.Engine
	router forge.Router
}

// New creates an API from a jobcore Engine.
func New(eng *engine.Engine, router forge.Router) *API {
	return &API{eng: eng, router: router}
}

// Handler returns the fully assembled http.Handler with all routes.
func (a *API) Handler() http.Handler {
	if a.router == nil {
		a.router = forge.NewRouter()
	}
	a.RegisterRoutes(a.router)
	return a.router.Handler()
}

// RegisterRoutes registers all jobcore API routes into the given Forge
// router with full OpenAPI metadata.
func (a *API) RegisterRoutes(router forge.Router) {
	a.registerJobRoutes(router)
	a.registerQueueRoutes(router)
	a.registerApprovalRoutes(router)
	a.registerStatsRoutes(router)
}

// registerJobRoutes registers job submission and management routes.
func (a *API) registerJobRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("jobs"))

	_ = g.POST("/jobs", a.submitJob,
		forge.WithSummary("Submit job"),
		forge.WithDescription("Enqueues a new job on a registered queue."),
		forge.WithOperationID("submitJob"),
		forge.WithRequestSchema(SubmitJobRequest{}),
		forge.WithCreatedResponse(&job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs", a.listJobs,
		forge.WithSummary("List jobs"),
		forge.WithDescription("Returns jobs filtered by state, queue, and tenant."),
		forge.WithOperationID("listJobs"),
		forge.WithRequestSchema(ListJobsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Job list", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/jobs/:jobId", a.getJob,
		forge.WithSummary("Get job"),
		forge.WithDescription("Returns details of a specific job."),
		forge.WithOperationID("getJob"),
		forge.WithResponseSchema(http.StatusOK, "Job details", &job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/jobs/:jobId/retry", a.retryJob,
		forge.WithSummary("Retry job"),
		forge.WithDescription("Returns a terminal job to waiting with a fresh attempt budget."),
		forge.WithOperationID("retryJob"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)

	_ = g.DELETE("/jobs/:jobId", a.removeJob,
		forge.WithSummary("Remove job"),
		forge.WithDescription("Removes a non-active job."),
		forge.WithOperationID("removeJob"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithNoContentResponse(),
		forge.WithErrorResponses(),
	)
}

// registerQueueRoutes registers administrative queue operations. Gated
// operations answer 202 with a pending approval instead of executing.
func (a *API) registerQueueRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("queues"))

	_ = g.GET("/queues/:queue/failed", a.listFailed,
		forge.WithSummary("List failed jobs"),
		forge.WithDescription("Returns terminally failed jobs for the queue."),
		forge.WithOperationID("listFailed"),
		forge.WithRequestSchema(ListFailedRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Failed jobs", []*job.Job{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/pause", a.pauseQueue,
		forge.WithSummary("Pause queue"),
		forge.WithDescription("Stops dispatch for the queue; in-flight jobs are unaffected."),
		forge.WithOperationID("pauseQueue"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/resume", a.resumeQueue,
		forge.WithSummary("Resume queue"),
		forge.WithDescription("Re-enables dispatch for a paused queue."),
		forge.WithOperationID("resumeQueue"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/retry-failed", a.retryFailed,
		forge.WithSummary("Retry failed jobs"),
		forge.WithDescription("Returns failed jobs to waiting with fresh attempt budgets."),
		forge.WithOperationID("retryFailed"),
		forge.WithRequestSchema(RetryFailedRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/clean", a.cleanQueue,
		forge.WithSummary("Clean queue"),
		forge.WithDescription("Purges terminal jobs older than the grace period."),
		forge.WithOperationID("cleanQueue"),
		forge.WithRequestSchema(CleanRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/drain", a.drainQueue,
		forge.WithSummary("Drain queue"),
		forge.WithDescription("Removes every non-active job from the queue."),
		forge.WithOperationID("drainQueue"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/queues/:queue/obliterate", a.obliterateQueue,
		forge.WithSummary("Obliterate queue"),
		forge.WithDescription("Destroys every job in the queue regardless of state."),
		forge.WithOperationID("obliterateQueue"),
		forge.WithRequestSchema(ActionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerApprovalRoutes registers the approval workflow endpoints.
func (a *API) registerApprovalRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("approvals"))

	_ = g.GET("/approvals", a.listApprovals,
		forge.WithSummary("List approval requests"),
		forge.WithDescription("Returns approval requests filtered by status."),
		forge.WithOperationID("listApprovals"),
		forge.WithRequestSchema(ListApprovalsRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Approval requests", []*approval.Request{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/approvals/:approvalId/approve", a.approveRequest,
		forge.WithSummary("Approve request"),
		forge.WithDescription("Approves a pending request and executes the held operation."),
		forge.WithOperationID("approveRequest"),
		forge.WithRequestSchema(DecisionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.POST("/approvals/:approvalId/reject", a.rejectRequest,
		forge.WithSummary("Reject request"),
		forge.WithDescription("Rejects a pending request; the held operation never runs."),
		forge.WithOperationID("rejectRequest"),
		forge.WithRequestSchema(DecisionRequest{}),
		forge.WithResponseSchema(http.StatusOK, "Operation result", ControlResponse{}),
		forge.WithErrorResponses(),
	)
}

// registerStatsRoutes registers the monitoring endpoints.
func (a *API) registerStatsRoutes(router forge.Router) {
	g := router.Group("/v1", forge.WithGroupTags("stats"))

	_ = g.GET("/stats", a.allStats,
		forge.WithSummary("All queue stats"),
		forge.WithDescription("Returns health records and alerts for every registered queue."),
		forge.WithOperationID("allStats"),
		forge.WithResponseSchema(http.StatusOK, "Queue statistics", []QueueStatsResponse{}),
		forge.WithErrorResponses(),
	)

	_ = g.GET("/queues/:queue/stats", a.queueStats,
		forge.WithSummary("Queue stats"),
		forge.WithDescription("Returns the health record and alerts for one queue."),
		forge.WithOperationID("queueStats"),
		forge.WithResponseSchema(http.StatusOK, "Queue statistics", QueueStatsResponse{}),
		forge.WithErrorResponses(),
	)
}
