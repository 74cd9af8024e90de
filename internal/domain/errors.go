package domain

import (
	"errors"
	"fmt"
)

// Sentinel errors used across all layers.
var (
	ErrNotFound      = errors.New("not found")
	ErrAlreadyExists = errors.New("already exists")
	ErrValidation    = errors.New("validation error")
	ErrConflict      = errors.New("conflict")

	// ErrMissingUserID is returned by the dispatcher when a job carries no
	// user id; every projection update is scoped to exactly one user.
	ErrMissingUserID = errors.New("missing user id")

	// ErrUserBusy is returned when the per-user advisory lock is held by a
	// concurrent unit of work. The caller must requeue, never proceed
	// unlocked.
	ErrUserBusy = errors.New("user stream busy")
)

// UnknownHandlerError is returned when a retry job names a handler absent
// from the registry. It is fatal: the job is dead-lettered, not retried.
type UnknownHandlerError struct {
	Name string
}

func (e *UnknownHandlerError) Error() string {
	return fmt.Sprintf("unknown handler %q", e.Name)
}

// InferenceFailureClass is the sub-taxonomy for failures of statistical
// handlers, recorded as telemetry separately from the generic retry job.
type InferenceFailureClass string

const (
	InferenceInsufficientData   InferenceFailureClass = "insufficient_data"
	InferenceNumericInstability InferenceFailureClass = "numeric_instability"
	InferenceEngineUnavailable  InferenceFailureClass = "engine_unavailable"
	InferenceUnexpected         InferenceFailureClass = "unexpected"
)

// InferenceError classifies a failure of an inference-style handler.
type InferenceError struct {
	Class InferenceFailureClass
	Err   error
}

func (e *InferenceError) Error() string {
	return fmt.Sprintf("inference failure (%s): %v", e.Class, e.Err)
}

func (e *InferenceError) Unwrap() error { return e.Err }

// ClassifyInference extracts the inference failure class from an error
// chain. The second return is false for failures that are not
// inference-related; those produce a retry job but no telemetry run.
func ClassifyInference(err error) (InferenceFailureClass, bool) {
	var ie *InferenceError
	if errors.As(err, &ie) {
		return ie.Class, true
	}
	return "", false
}

// FieldError describes a validation error for a specific field.
type FieldError struct {
	Field   string
	Message string
}

// ValidationError contains a list of field-level validation errors.
type ValidationError struct {
	Errors []FieldError
}

func (e *ValidationError) Error() string {
	if len(e.Errors) == 1 {
		return fmt.Sprintf("validation: %s — %s", e.Errors[0].Field, e.Errors[0].Message)
	}
	return fmt.Sprintf("validation: %d errors", len(e.Errors))
}

func (e *ValidationError) Unwrap() error { return ErrValidation }

// NewValidationError creates a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	return &ValidationError{
		Errors: []FieldError{{Field: field, Message: message}},
	}
}

// NewValidationErrors creates a ValidationError from multiple field errors.
func NewValidationErrors(errs []FieldError) *ValidationError {
	return &ValidationError{Errors: errs}
}
