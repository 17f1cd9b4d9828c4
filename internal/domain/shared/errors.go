// Package shared contains common domain types, errors and events
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
// They form the error taxonomy every layer maps onto.
var (
	// Entity errors
	ErrNotFound = errors.New("entity not found")
	ErrConflict = errors.New("conflicting entity exists")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")

	// State errors
	ErrStateTransition  = errors.New("invalid state transition")
	ErrCapacityExceeded = errors.New("capacity exceeded")

	// Infrastructure errors
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrOutcomeUnknown     = errors.New("operation outcome unknown")

	// Authorization errors
	ErrUnauthorized = errors.New("unauthorized")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "mentorship", "store"
	Op      string // Operation that failed, e.g., "Request", "Respond"
	Kind    error  // Base error type for errors.Is() checking
	Message string // Human-readable message
	Err     error  // Underlying error (optional)
}

// Error implements the error interface.
func (e *DomainError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s.%s: %s: %v", e.Domain, e.Op, e.Message, e.Err)
	}
	return fmt.Sprintf("%s.%s: %s", e.Domain, e.Op, e.Message)
}

// Unwrap returns the underlying error for errors.Unwrap().
func (e *DomainError) Unwrap() error {
	if e.Err != nil {
		return e.Err
	}
	return e.Kind
}

// Is implements errors.Is() matching.
func (e *DomainError) Is(target error) bool {
	if t, ok := target.(*DomainError); ok && e.sameSentinel(t) {
		return true
	}
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
}

func (e *DomainError) sameSentinel(t *DomainError) bool {
	return e.Domain == t.Domain && e.Op == t.Op && e.Message == t.Message && e.Kind == t.Kind
}

// NewDomainError creates a new domain error.
func NewDomainError(domain, op string, kind error, message string) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
	}
}

// WrapError wraps an existing error with domain context.
func WrapError(domain, op string, kind error, message string, err error) *DomainError {
	return &DomainError{
		Domain:  domain,
		Op:      op,
		Kind:    kind,
		Message: message,
		Err:     err,
	}
}

// With returns a copy of the sentinel carrying an underlying cause.
// errors.Is(copy, sentinel) still holds.
func (e *DomainError) With(err error) *DomainError {
	c := *e
	c.Err = err
	return &c
}

// Mentorship domain errors
var (
	ErrUserNotFound       = NewDomainError("mentorship", "FindUser", ErrNotFound, "user not found")
	ErrStudentNotFound    = NewDomainError("mentorship", "FindStudent", ErrNotFound, "student not found")
	ErrMentorNotFound     = NewDomainError("mentorship", "FindMentor", ErrNotFound, "mentor not found")
	ErrEdgeNotFound       = NewDomainError("mentorship", "FindEdge", ErrNotFound, "no mentorship exists for this pair")
	ErrOpenEdgeExists     = NewDomainError("mentorship", "Request", ErrConflict, "a pending or active mentorship already exists")
	ErrInvalidTransition  = NewDomainError("mentorship", "Transition", ErrStateTransition, "mentorship is not in the required state")
	ErrMentorAtCapacity   = NewDomainError("mentorship", "Accept", ErrCapacityExceeded, "mentor has no free mentee slots")
	ErrSelfMentorship     = NewDomainError("mentorship", "Request", ErrInvalidInput, "cannot mentor self")
	ErrInvalidDecision    = NewDomainError("mentorship", "Respond", ErrInvalidInput, "decision must be accept or reject")
	ErrInvalidUser        = NewDomainError("mentorship", "Validate", ErrValidation, "invalid user profile")
	ErrStoreUnavailable   = NewDomainError("store", "Execute", ErrServiceUnavailable, "relationship store is unavailable")
	ErrOperationAbandoned = NewDomainError("mentorship", "Execute", ErrOutcomeUnknown, "caller gave up before the operation finished")
	ErrOperationTimedOut  = NewDomainError("mentorship", "Execute", ErrOutcomeUnknown, "operation timed out, re-read the mentorship state")
)

// IsNotFound checks if the error is a "not found" error.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// IsConflict checks if the error reports a duplicate open mentorship.
func IsConflict(err error) bool {
	return errors.Is(err, ErrConflict)
}

// IsInvalidTransition checks if the edge was not in the expected source state.
func IsInvalidTransition(err error) bool {
	return errors.Is(err, ErrStateTransition)
}

// IsCapacityExceeded checks if a mentor had no free slot at acceptance time.
func IsCapacityExceeded(err error) bool {
	return errors.Is(err, ErrCapacityExceeded)
}

// IsOutcomeUnknown checks if the caller stopped waiting before the outcome was known.
func IsOutcomeUnknown(err error) bool {
	return errors.Is(err, ErrOutcomeUnknown)
}

// IsValidation checks if the error is a validation error.
func IsValidation(err error) bool {
	return errors.Is(err, ErrValidation) ||
		errors.Is(err, ErrInvalidID) ||
		errors.Is(err, ErrInvalidInput) ||
		errors.Is(err, ErrNegativeValue) ||
		errors.Is(err, ErrValueOutOfRange)
}

// IsRetryable checks if the operation can be retried.
// Only an unreachable store qualifies; every other kind is a definite answer.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrServiceUnavailable)
}
