// Package apperrors provides structured application errors with exit code mapping.
package apperrors

import (
	"errors"
	"fmt"
)

// Sentinel errors for classification via errors.Is().
var (
	ErrUsage      = errors.New("usage error")
	ErrValidation = errors.New("validation error")
	ErrNotReady   = errors.New("not ready")
	ErrProcess    = errors.New("process error")
	ErrConflict   = errors.New("conflict")
	ErrInternal   = errors.New("internal error")
)

// Error provides structured error with context.
type Error struct {
	Sentinel error  // Wrapped sentinel for errors.Is() classification
	Message  string // Human-readable message
	Field    string // For validation errors (e.g., "testName", "viewerBin")
	Step     string // Capture step that failed (e.g., "record", "live-overlay")
	Op       string // Operation that failed (e.g., "launch.start")
	Cause    error  // Underlying error
}

// Error returns the human-readable error message.
func (e *Error) Error() string {
	return e.Message
}

// Unwrap returns the sentinel and the cause so both are visible to errors.Is().
func (e *Error) Unwrap() []error {
	if e.Cause == nil {
		return []error{e.Sentinel}
	}
	return []error{e.Sentinel, e.Cause}
}

// Usage creates a usage error. The message is shown to the invoker verbatim.
func Usage(message string) error {
	return &Error{
		Sentinel: ErrUsage,
		Message:  message,
	}
}

// Validation creates a validation error for a specific field.
func Validation(field, message string) error {
	return &Error{
		Sentinel: ErrValidation,
		Message:  message,
		Field:    field,
	}
}

// NotReady creates an error for a readiness condition that was never met.
func NotReady(step, what string, cause error) error {
	return &Error{
		Sentinel: ErrNotReady,
		Message:  fmt.Sprintf("%s: %s not ready: %v", step, what, cause),
		Step:     step,
		Cause:    cause,
	}
}

// Process creates an error for an external command that failed to start or exited badly.
func Process(step, op string, cause error) error {
	return &Error{
		Sentinel: ErrProcess,
		Message:  fmt.Sprintf("%s: %s: %v", step, op, cause),
		Step:     step,
		Op:       op,
		Cause:    cause,
	}
}

// Conflict creates a conflict error for a resource held by someone else.
func Conflict(resource, reason string) error {
	return &Error{
		Sentinel: ErrConflict,
		Message:  fmt.Sprintf("%s: %s", resource, reason),
		Field:    resource,
	}
}

// Internal creates an internal error wrapping an underlying cause.
func Internal(op string, cause error) error {
	return &Error{
		Sentinel: ErrInternal,
		Message:  fmt.Sprintf("%s: %v", op, cause),
		Op:       op,
		Cause:    cause,
	}
}
