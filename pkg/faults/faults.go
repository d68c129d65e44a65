// Package faults defines the error taxonomy shared across the control plane.
// Callers branch on Kind via errors.As while messages stay wrapped with %w.
package faults

import (
	"errors"
	"fmt"
)

// Kind classifies an error for propagation policy decisions.
type Kind string

const (
	// Validation marks malformed input, rejected before any state change.
	Validation Kind = "validation"
	// NotFound marks an unknown plugin, agent, or session id.
	NotFound Kind = "not_found"
	// AccessViolation marks a permission or resource-limit breach.
	AccessViolation Kind = "access_violation"
	// Conflict marks a duplicate install or capability clash.
	Conflict Kind = "conflict"
	// ProviderFailure marks a sync provider error or timeout.
	ProviderFailure Kind = "provider_failure"
	// HandlerFailure marks a hook handler error.
	HandlerFailure Kind = "handler_failure"
	// Fatal marks process-level errors that propagate to the caller.
	Fatal Kind = "fatal"
)

// Error is a classified error.
type Error struct {
	Kind Kind
	Msg  string
	Err  error
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Err != nil {
		return e.Msg + ": " + e.Err.Error()
	}
	return e.Msg
}

// Unwrap returns the wrapped error, if any.
func (e *Error) Unwrap() error {
	return e.Err
}

// New creates a classified error with a formatted message.
func New(kind Kind, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...)}
}

// Wrap creates a classified error wrapping err.
func Wrap(kind Kind, err error, format string, args ...any) *Error {
	return &Error{Kind: kind, Msg: fmt.Sprintf(format, args...), Err: err}
}

// KindOf returns the kind of err, or Fatal if err carries no classification.
func KindOf(err error) Kind {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind
	}
	return Fatal
}

// IsKind reports whether err is classified as kind.
func IsKind(err error, kind Kind) bool {
	var fe *Error
	if errors.As(err, &fe) {
		return fe.Kind == kind
	}
	return false
}
