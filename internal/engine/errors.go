package engine

import (
	"errors"
	"fmt"
)

// ErrorKind classifies engine failures for the distributor's degradation
// policy. All kinds are recoverable at the session level.
type ErrorKind int

const (
	KindTimeout ErrorKind = iota
	KindAuthFailure
	KindRateLimited
	KindUnavailable
)

// String returns the string representation of the kind.
func (k ErrorKind) String() string {
	switch k {
	case KindTimeout:
		return "TIMEOUT"
	case KindAuthFailure:
		return "AUTH_FAILURE"
	case KindRateLimited:
		return "RATE_LIMITED"
	case KindUnavailable:
		return "UNAVAILABLE"
	default:
		return fmt.Sprintf("UNKNOWN(%d)", k)
	}
}

// Error is a classified failure of one engine.
type Error struct {
	Engine string
	Kind   ErrorKind
	Err    error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("engine %s: %s: %v", e.Engine, e.Kind, e.Err)
	}
	return fmt.Sprintf("engine %s: %s", e.Engine, e.Kind)
}

func (e *Error) Unwrap() error {
	return e.Err
}

// NewError wraps err as a classified engine failure.
func NewError(engineID string, kind ErrorKind, err error) *Error {
	return &Error{Engine: engineID, Kind: kind, Err: err}
}

// KindOf extracts the failure kind from err, defaulting to KindUnavailable
// for unclassified errors.
func KindOf(err error) ErrorKind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindUnavailable
}
