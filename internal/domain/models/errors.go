package models

import (
	"errors"
	"fmt"
	"strings"
)

// Error taxonomy shared by the engine, the workflow and the API edge.
var (
	ErrDataUnavailable     = errors.New("data unavailable")
	ErrMissingPrerequisite = errors.New("missing prerequisite")
	ErrInvalidState        = errors.New("invalid state")
	ErrExecutionFailure    = errors.New("execution failure")
	ErrInvariantViolation  = errors.New("invariant violation")
	ErrNotFound            = errors.New("not found")
)

// DomainError carries the operator context of a failure.
type DomainError struct {
	Kind   error
	Op     string
	Regime RegimeType
	Action ActionKind
	Err    error
}

func (e *DomainError) Error() string {
	var b strings.Builder
	b.WriteString(e.Op)
	b.WriteString(": ")
	b.WriteString(e.Kind.Error())
	if e.Regime != "" {
		fmt.Fprintf(&b, " [regime=%s]", e.Regime)
	}
	if e.Action != "" {
		fmt.Fprintf(&b, " [action=%s]", e.Action)
	}
	if e.Err != nil {
		b.WriteString(": ")
		b.WriteString(e.Err.Error())
	}
	return b.String()
}

func (e *DomainError) Unwrap() error { return e.Err }

// Is matches the taxonomy sentinel in addition to the wrapped chain.
func (e *DomainError) Is(target error) bool { return e.Kind == target }

// NewError builds a DomainError of the given kind.
func NewError(kind error, op string, err error) *DomainError {
	return &DomainError{Kind: kind, Op: op, Err: err}
}

// Errorf builds a DomainError with a formatted cause.
func Errorf(kind error, op, format string, args ...interface{}) *DomainError {
	return &DomainError{Kind: kind, Op: op, Err: fmt.Errorf(format, args...)}
}

// WithRegime annotates the error with the regime in force.
func (e *DomainError) WithRegime(r RegimeType) *DomainError {
	e.Regime = r
	return e
}

// WithAction annotates the error with the action being processed.
func (e *DomainError) WithAction(k ActionKind) *DomainError {
	e.Action = k
	return e
}

// KindOf returns the taxonomy sentinel of err, or nil when err is outside it.
func KindOf(err error) error {
	for _, k := range []error{
		ErrInvariantViolation,
		ErrDataUnavailable,
		ErrMissingPrerequisite,
		ErrInvalidState,
		ErrExecutionFailure,
		ErrNotFound,
	} {
		if errors.Is(err, k) {
			return k
		}
	}
	return nil
}
