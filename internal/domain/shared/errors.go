// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages. This package has zero external dependencies.
package shared

import (
	"errors"
	"fmt"
)

// Base domain errors that can be used for error checking with errors.Is().
var (
	// Entity errors
	ErrNotFound      = errors.New("entity not found")
	ErrAlreadyExists = errors.New("entity already exists")
	ErrInvalidEntity = errors.New("invalid entity")

	// Validation errors
	ErrValidation      = errors.New("validation error")
	ErrInvalidID       = errors.New("invalid ID")
	ErrInvalidInput    = errors.New("invalid input")
	ErrEmptyValue      = errors.New("value cannot be empty")
	ErrNegativeValue   = errors.New("value cannot be negative")
	ErrValueOutOfRange = errors.New("value out of range")
	ErrFutureTimestamp = errors.New("timestamp cannot be in the future")

	// Data sufficiency. Deliberately not a validation error: routines that hit
	// it return conservative defaults with a reduced confidence signal instead
	// of failing, and callers that need to distinguish can check with errors.Is.
	ErrInsufficientData = errors.New("insufficient data")

	// State errors
	ErrInvalidState    = errors.New("invalid state")
	ErrStateTransition = errors.New("invalid state transition")
	ErrCapacityReached = errors.New("capacity reached")
	ErrExpired         = errors.New("expired")

	// Concurrency errors
	ErrConcurrentModification = errors.New("concurrent modification detected")

	// External service errors
	ErrExternalService    = errors.New("external service error")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrTimeout            = errors.New("operation timeout")
	ErrRateLimited        = errors.New("rate limited")
)

// DomainError represents a domain-specific error with context.
type DomainError struct {
	Domain  string // e.g., "prediction", "experiment", "retention"
	Op      string // Operation that failed, e.g., "Train", "AssignVariant"
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
	if e.Kind != nil && errors.Is(e.Kind, target) {
		return true
	}
	if e.Err != nil && errors.Is(e.Err, target) {
		return true
	}
	return false
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

// Prediction domain errors
var (
	ErrTooFewTrainingExamples = NewDomainError("prediction", "Train", ErrValidation, "at least 50 labeled examples required to train")
	ErrModelNotTrained        = NewDomainError("prediction", "Predict", ErrInvalidState, "model has not been trained")
	ErrPredictionNotFound     = NewDomainError("prediction", "Find", ErrNotFound, "prediction record not found")
	ErrOutcomeAlreadySet      = NewDomainError("prediction", "Resolve", ErrStateTransition, "prediction outcome already resolved")
)

// Experiment domain errors
var (
	ErrExperimentNotFound   = NewDomainError("experiment", "Find", ErrNotFound, "experiment not found")
	ErrExperimentFull       = NewDomainError("experiment", "AssignVariant", ErrCapacityReached, "experiment reached its target user count")
	ErrExperimentNotRunning = NewDomainError("experiment", "AssignVariant", ErrInvalidState, "experiment is not running")
	ErrAssignmentNotFound   = NewDomainError("experiment", "RecordMetrics", ErrNotFound, "user has no assignment in this experiment")
	ErrTargetTooSmall       = NewDomainError("experiment", "Create", ErrValidation, "target user count must be at least twice the per-variant minimum")
)

// Signal domain errors
var (
	ErrUserNotFound      = NewDomainError("signal", "Find", ErrNotFound, "user not found")
	ErrObjectiveNotFound = NewDomainError("signal", "Find", ErrNotFound, "objective not found")
)
