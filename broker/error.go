package broker

import (
	"errors"

	"github.com/invenflow/jobcore"
)

// Error is a typed broker failure. It matches
// [jobcore.ErrBrokerUnavailable] under errors.Is so callers can
// distinguish infrastructure errors from job-level failures without
// depending on this package.
type Error struct {
	// Op names the operation that failed.
	Op string
	// Err is the underlying client error.
	Err error
}

// Error implements the error interface.
func (e *Error) Error() string {
	return "broker: " + e.Op + ": " + e.Err.Error()
}

// Unwrap returns the underlying client error.
func (e *Error) Unwrap() error { return e.Err }

// Is matches jobcore.ErrBrokerUnavailable.
func (e *Error) Is(target error) bool {
	return errors.Is(target, jobcore.ErrBrokerUnavailable)
}
