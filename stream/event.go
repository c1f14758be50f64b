// Package stream provides a real-time event broker for jobcore lifecycle
// events. It bridges the ext.Extension system to connected clients via
// topic-based pub/sub with bounded per-subscriber channels. Delivery is
// at-most-once: a slow or disconnected subscriber misses events, and the
// job store remains the durable source of truth.
package stream

import (
	"encoding/json"
	"time"
)

// EventType identifies the kind of lifecycle event.
type EventType string

const (
	// Job events.
	EventJobEnqueued  EventType = "job.enqueued"
	EventJobStarted   EventType = "job.started"
	EventJobProgress  EventType = "job.progress"
	EventJobCompleted EventType = "job.completed"
	EventJobFailed    EventType = "job.failed"
	EventJobRetrying  EventType = "job.retrying"
	EventJobStalled   EventType = "job.stalled"

	// Queue events.
	EventQueuePaused  EventType = "queue.paused"
	EventQueueResumed EventType = "queue.resumed"
)

// Event is the envelope sent to subscribers on a topic channel.
type Event struct {
	// Type identifies the lifecycle event.
	Type EventType `json:"type"`

	// Timestamp is when the event was emitted.
	Timestamp time.Time `json:"ts"`

	// Topic is the primary channel this event was published on.
	Topic string `json:"topic"`

	// Data is the event-specific payload.
	Data json.RawMessage `json:"data"`
}

// JobEventData is the payload for job lifecycle events.
type JobEventData struct {
	JobID     string `json:"job_id"`
	JobName   string `json:"job_name"`
	Queue     string `json:"queue"`
	TenantID  string `json:"tenant_id,omitempty"`
	UserID    string `json:"user_id,omitempty"`
	Progress  int    `json:"progress,omitempty"`
	ElapsedMs int64  `json:"elapsed_ms,omitempty"`
	Error     string `json:"error,omitempty"`
	Attempt   int    `json:"attempt,omitempty"`
	NextRunAt string `json:"next_run_at,omitempty"`
}

// QueueEventData is the payload for queue lifecycle events.
type QueueEventData struct {
	Queue string `json:"queue"`
}
