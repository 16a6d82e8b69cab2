package workflow

import (
	"errors"
	"fmt"
)

var (
	// ErrNotFound is returned when a referenced bill does not exist
	ErrNotFound = errors.New("bill not found")

	// ErrInvalidState is returned when a state is not one of the canonical states
	ErrInvalidState = errors.New("invalid state")

	// ErrGuardViolation is returned when no edge matches or a data precondition fails
	ErrGuardViolation = errors.New("guard violation")

	// ErrTerminalState is returned when a bill is already Completed or Rejected
	ErrTerminalState = errors.New("bill is in a terminal state")

	// ErrPermissionDenied is returned when the caller may not perform the action
	ErrPermissionDenied = errors.New("permission denied")

	// ErrRoleNotPermitted is returned when none of the caller's roles take part in the workflow
	ErrRoleNotPermitted = fmt.Errorf("%w: role not permitted for workflow", ErrPermissionDenied)

	// ErrWrongStep is returned when the caller's role does not act at the bill's current stage
	ErrWrongStep = fmt.Errorf("%w: bill is not at the caller's workflow step", ErrPermissionDenied)

	// ErrStaleState is returned when the persisted bill changed since it was observed
	ErrStaleState = errors.New("stale bill state")

	// ErrInvalidInput is returned for malformed requests
	ErrInvalidInput = errors.New("invalid input")

	// ErrPersistence is returned when the store fails
	ErrPersistence = errors.New("persistence failure")

	// ErrInvariant is returned when a bill breaks the state model invariants
	ErrInvariant = errors.New("workflow invariant violated")
)

// GuardError carries the human-readable reason a transition was refused
type GuardError struct {
	Reason string
}

func (e *GuardError) Error() string {
	return e.Reason
}

// Unwrap lets errors.Is match ErrGuardViolation
func (e *GuardError) Unwrap() error {
	return ErrGuardViolation
}

// guardf builds a GuardError
func guardf(format string, args ...interface{}) error {
	return &GuardError{Reason: fmt.Sprintf(format, args...)}
}

// Failure codes reported per bill
const (
	CodeNotFound         = "NOT_FOUND"
	CodeGuardViolation   = "GUARD_VIOLATION"
	CodePermissionDenied = "PERMISSION_DENIED"
	CodeStaleState       = "STALE_STATE"
	CodeInvalidInput     = "INVALID_INPUT"
	CodePersistence      = "PERSISTENCE_FAILURE"
)

// Classify maps an error onto a failure code
func Classify(err error) string {
	switch {
	case errors.Is(err, ErrNotFound):
		return CodeNotFound
	case errors.Is(err, ErrGuardViolation), errors.Is(err, ErrTerminalState), errors.Is(err, ErrInvalidState):
		return CodeGuardViolation
	case errors.Is(err, ErrPermissionDenied):
		return CodePermissionDenied
	case errors.Is(err, ErrStaleState):
		return CodeStaleState
	case errors.Is(err, ErrInvalidInput):
		return CodeInvalidInput
	default:
		return CodePersistence
	}
}
