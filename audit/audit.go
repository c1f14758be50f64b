// Package audit records control-plane mutations to a durable trail.
//
// Every administrative operation (pausing a queue, retrying failed jobs,
// obliterating a queue, resolving an approval) produces one [Record]
// carrying who did it, what they did, what it was done to, and why.
// Records flow through the [Recorder] interface so deployments can choose
// their backend: structured logs, the jobcore store, or a Postgres table.
package audit

import (
	"context"
	"time"

	"github.com/invenflow/jobcore/id"
)

// Record is one immutable audit trail entry.
type Record struct {
	ID        id.AuditID `json:"id"`
	Actor     string     `json:"actor"`
	Action    string     `json:"action"`
	Target    string     `json:"target"`
	Rationale string     `json:"rationale,omitempty"`
	// Outcome is "success" or "failure".
	Outcome   string    `json:"outcome"`
	Error     string    `json:"error,omitempty"`
	CreatedAt time.Time `json:"created_at"`
}

// Outcome values for a Record.
const (
	OutcomeSuccess = "success"
	OutcomeFailure = "failure"
)

// NewRecord builds a Record with a fresh ID and timestamp.
func NewRecord(actor, action, target, rationale string) *Record {
	return &Record{
		ID:        id.NewAuditID(),
		Actor:     actor,
		Action:    action,
		Target:    target,
		Rationale: rationale,
		Outcome:   OutcomeSuccess,
		CreatedAt: time.Now().UTC(),
	}
}

// Failed marks the record as a failed operation carrying the error text.
func (r *Record) Failed(err error) *Record {
	r.Outcome = OutcomeFailure
	if err != nil {
		r.Error = err.Error()
	}
	return r
}

// Recorder persists audit records. Implementations must be safe for
// concurrent use and should not block control-plane operations for long.
type Recorder interface {
	Record(ctx context.Context, rec *Record) error
}

// RecorderFunc adapts a plain function to the Recorder interface.
type RecorderFunc func(ctx context.Context, rec *Record) error

// Record implements Recorder.
func (f RecorderFunc) Record(ctx context.Context, rec *Record) error {
	return f(ctx, rec)
}

// Store defines the persistence contract for the audit trail.
type Store interface {
	// AppendAudit persists one record. Records are append-only.
	AppendAudit(ctx context.Context, rec *Record) error

	// ListAudit returns the most recent records, newest first, up to limit.
	// A limit of zero or less returns all records.
	ListAudit(ctx context.Context, limit int) ([]*Record, error)
}
