// Package wire implements the frame-based real-time protocol for
// client↔server communication. Frames are transported over WebSocket
// (primary), SSE (read-only fallback), and HTTP (one-shot RPC), and
// carry job submissions, lookups, and stream subscriptions.
package wire

import (
	"encoding/json"
	"time"
)

// FrameType identifies the frame category.
type FrameType string

const (
	FrameRequest  FrameType = "request"
	FrameResponse FrameType = "response"
	FrameEvent    FrameType = "event"
	FrameErr      FrameType = "error"
	FramePing     FrameType = "ping"
	FramePong     FrameType = "pong"
)

// Frame is the protocol message envelope. Every message exchanged over
// the protocol is a Frame.
type Frame struct {
	// ID uniquely identifies this frame.
	ID string `json:"id" msgpack:"id"`

	// Type categorizes the frame.
	Type FrameType `json:"type" msgpack:"type"`

	// Method names the operation for request frames (e.g., "job.submit").
	Method string `json:"method,omitempty" msgpack:"method,omitempty"`

	// CorrelID links a response to its originating request.
	CorrelID string `json:"correl_id,omitempty" msgpack:"correl_id,omitempty"`

	// Token carries auth credentials (typically only on the auth frame).
	Token string `json:"token,omitempty" msgpack:"token,omitempty"`

	// TenantID scopes the request to a tenant.
	TenantID string `json:"tenant_id,omitempty" msgpack:"tenant_id,omitempty"`

	// UserID identifies the acting user within the tenant.
	UserID string `json:"user_id,omitempty" msgpack:"user_id,omitempty"`

	// Data carries the method-specific payload.
	Data json.RawMessage `json:"data,omitempty" msgpack:"data,omitempty"`

	// Error carries error details for error frames.
	Error *ErrorDetail `json:"error,omitempty" msgpack:"error,omitempty"`

	// Channel identifies the subscription channel for event/subscribe frames.
	Channel string `json:"channel,omitempty" msgpack:"channel,omitempty"`

	// Credits replenishes flow-control credits (backpressure).
	Credits int `json:"credits,omitempty" msgpack:"credits,omitempty"`

	// Timestamp records when this frame was created.
	Timestamp time.Time `json:"ts" msgpack:"ts"`
}

// ErrorDetail describes an error in a response or error frame.
type ErrorDetail struct {
	Code    int    `json:"code" msgpack:"code"`
	Message string `json:"message" msgpack:"message"`
	Details string `json:"details,omitempty" msgpack:"details,omitempty"`
}

// ── Well-known methods ──────────────────────────────

const (
	// Auth methods.
	MethodAuth = "auth"

	// Job methods.
	MethodJobSubmit = "job.submit"
	MethodJobGet    = "job.get"
	MethodJobList   = "job.list"

	// Subscription methods.
	MethodSubscribe   = "subscribe"
	MethodUnsubscribe = "unsubscribe"

	// Admin methods.
	MethodStats = "stats"
)

// ── Well-known error codes ──────────────────────────

const (
	ErrCodeBadRequest     = 400
	ErrCodeUnauthorized   = 401
	ErrCodeForbidden      = 403
	ErrCodeNotFound       = 404
	ErrCodeMethodNotFound = 405
	ErrCodeConflict       = 409
	ErrCodeInternal       = 500
)

// ── Request/Response payloads ───────────────────────

// AuthRequest is sent by clients to authenticate.
type AuthRequest struct {
	Token  string `json:"token"`
	Format string `json:"format,omitempty"` // "json" (default) or "msgpack"
}

// AuthResponse is returned after successful authentication.
type AuthResponse struct {
	Format    string `json:"format"`
	SessionID string `json:"session_id"`
}

// JobSubmitRequest submits a new job to a named queue.
type JobSubmitRequest struct {
	Queue        string          `json:"queue"`
	Name         string          `json:"name"`
	Payload      json.RawMessage `json:"payload,omitempty"`
	Priority     int             `json:"priority,omitempty"`
	DelaySeconds int             `json:"delay_seconds,omitempty"`
	MaxAttempts  int             `json:"max_attempts,omitempty"`
}

// JobSubmitResponse confirms job creation.
type JobSubmitResponse struct {
	JobID string `json:"job_id"`
	Queue string `json:"queue"`
	State string `json:"state"`
}

// JobGetRequest retrieves a job by ID.
type JobGetRequest struct {
	JobID string `json:"job_id"`
}

// JobListRequest filters the job listing.
type JobListRequest struct {
	State  string `json:"state,omitempty"`
	Queue  string `json:"queue,omitempty"`
	Limit  int    `json:"limit,omitempty"`
	Offset int    `json:"offset,omitempty"`
}

// SubscribeRequest subscribes to a topic channel.
type SubscribeRequest struct {
	Channel string `json:"channel"`
	Credits int    `json:"credits,omitempty"` // Initial credits (0 = use default)
}

// UnsubscribeRequest removes a subscription.
type UnsubscribeRequest struct {
	Channel string `json:"channel"`
}

// newFrame builds a stamped frame envelope of the given type.
func newFrame(t FrameType) *Frame {
	return &Frame{
		ID:        GenerateFrameID(),
		Type:      t,
		Timestamp: time.Now().UTC(),
	}
}

// NewRequestFrame creates a request frame with a caller-chosen ID so
// the response can be correlated back.
func NewRequestFrame(id, method string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	f := newFrame(FrameRequest)
	f.ID = id
	f.Method = method
	f.Data = raw
	return f, nil
}

// NewResponseFrame creates a response to a request.
func NewResponseFrame(correlID string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	f := newFrame(FrameResponse)
	f.CorrelID = correlID
	f.Data = raw
	return f, nil
}

// NewErrorFrame creates an error response to a request.
func NewErrorFrame(correlID string, code int, message string) *Frame {
	f := newFrame(FrameErr)
	f.CorrelID = correlID
	f.Error = &ErrorDetail{Code: code, Message: message}
	return f
}

// NewEventFrame creates an event frame for a subscription channel.
func NewEventFrame(channel string, data any) (*Frame, error) {
	raw, err := json.Marshal(data)
	if err != nil {
		return nil, err
	}
	f := newFrame(FrameEvent)
	f.Channel = channel
	f.Data = raw
	return f, nil
}

// GenerateFrameID returns a new unique frame ID. The nanosecond
// timestamp keeps IDs sortable and cheap to mint.
func GenerateFrameID() string {
	return time.Now().UTC().Format("20060102150405.000000000")
}
