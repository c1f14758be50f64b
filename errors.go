package jobcore

import "errors"

var (
	// Store errors.
	ErrNoStore     = errors.New("jobcore: no store configured")
	ErrStoreClosed = errors.New("jobcore: store closed")

	// Infrastructure errors. Broker failures wrap ErrBrokerUnavailable so
	// callers can classify them with errors.Is regardless of which
	// operation failed.
	ErrBrokerUnavailable = errors.New("jobcore: broker unavailable")
	ErrLeaseTimeout      = errors.New("jobcore: timed out acquiring lease")

	// Not found errors.
	ErrJobNotFound      = errors.New("jobcore: job not found")
	ErrApprovalNotFound = errors.New("jobcore: approval request not found")
	ErrWorkerNotFound   = errors.New("jobcore: worker not found")

	// Policy violations.
	ErrUnknownQueue     = errors.New("jobcore: unknown queue")
	ErrQueuePaused      = errors.New("jobcore: queue already paused")
	ErrQueueNotPaused   = errors.New("jobcore: queue is not paused")
	ErrJobAlreadyExists = errors.New("jobcore: job already exists")

	// State errors.
	ErrInvalidState       = errors.New("jobcore: invalid state transition")
	ErrAttemptsExhausted  = errors.New("jobcore: attempt budget exhausted")
	ErrApprovalResolved   = errors.New("jobcore: approval request already resolved")
	ErrApprovalNotGranted = errors.New("jobcore: approval request was rejected")

	// Cluster errors.
	ErrNotLeader = errors.New("jobcore: not the maintenance leader")
)
