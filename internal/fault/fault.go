// Package fault defines the error taxonomy shared across amrbridge.
// Callers branch on kinds with errors.Is rather than string matching.
package fault

import (
	"errors"
	"fmt"
)

// Kind classifies an error for caller branching.
type Kind string

const (
	// ValidationFailed marks missing or malformed required fields.
	// Surfaced to the caller, never retried.
	ValidationFailed Kind = "VALIDATION_FAILED"
	// Conflict marks a duplicate requestId or missionCode. The caller
	// must resubmit with new identifiers.
	Conflict Kind = "CONFLICT"
	// LockNotHeld marks schedule lease contention. Logged and skipped,
	// not surfaced as a failure.
	LockNotHeld Kind = "LOCK_NOT_HELD"
	// UpstreamUnavailable marks an unreachable AMR gateway. Recorded on
	// the record or schedule, retried on the next natural cycle.
	UpstreamUnavailable Kind = "UPSTREAM_UNAVAILABLE"
	// InvalidSchedule marks bad trigger parameters, rejected before
	// anything is persisted.
	InvalidSchedule Kind = "INVALID_SCHEDULE"
	// NotFound marks a lookup miss for a mission, schedule, or robot.
	NotFound Kind = "NOT_FOUND"
)

// Error carries a kind plus a human-readable message and optional cause.
type Error struct {
	Kind    Kind
	Message string
	Cause   error
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, e.Message, e.Cause)
	}
	return fmt.Sprintf("%s: %s", e.Kind, e.Message)
}

func (e *Error) Unwrap() error { return e.Cause }

// Is matches two fault errors by kind, so errors.Is(err, fault.New(kind, ""))
// works; most callers use IsKind instead.
func (e *Error) Is(target error) bool {
	var fe *Error
	if errors.As(target, &fe) {
		return fe.Kind == e.Kind
	}
	return false
}

// New builds an Error of the given kind.
func New(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Wrap builds an Error of the given kind around a cause.
func Wrap(kind Kind, cause error, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...), Cause: cause}
}

// IsKind reports whether err or anything it wraps carries the given kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}

// KindOf returns the kind carried by err, or "" when err carries none.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return ""
}
