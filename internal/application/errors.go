package application

import (
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/example/counselling-scheduler/internal/scheduler"
)

var (
	// ErrUnauthorized is returned when the caller failed service authentication.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrCounsellorNotFound is returned when the referenced counsellor does not exist.
	ErrCounsellorNotFound = errors.New("application: counsellor not found")
	// ErrSessionNotFound is returned when the referenced session does not exist.
	ErrSessionNotFound = errors.New("application: session not found")
	// ErrSlotUnavailable is returned when the requested time overlaps a session that still holds its slot.
	ErrSlotUnavailable = errors.New("application: slot unavailable")
	// ErrInvalidTransition is returned when the session status forbids the operation.
	ErrInvalidTransition = errors.New("application: invalid transition")
	// ErrCancellationWindow is returned when a cancellation arrives with less notice than required.
	ErrCancellationWindow = errors.New("application: cancellation window violated")
)

// TransitionError reports the operation and status that made a transition invalid.
type TransitionError struct {
	Operation string
	From      scheduler.Status
}

func (e *TransitionError) Error() string {
	return fmt.Sprintf("cannot %s a session in status %s", e.Operation, e.From)
}

// Is lets errors.Is(err, ErrInvalidTransition) match.
func (e *TransitionError) Is(target error) bool {
	return target == ErrInvalidTransition
}

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	if len(v.FieldErrors) == 0 {
		return "validation failed"
	}
	fields := make([]string, 0, len(v.FieldErrors))
	for field := range v.FieldErrors {
		fields = append(fields, field)
	}
	sort.Strings(fields)
	parts := make([]string, 0, len(fields))
	for _, field := range fields {
		parts = append(parts, field+": "+v.FieldErrors[field])
	}
	return "validation failed: " + strings.Join(parts, "; ")
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error. The first message for a field wins.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
	}
	if _, exists := v.FieldErrors[field]; exists {
		return
	}
	v.FieldErrors[field] = message
}

// merge copies entries from another validation error into the receiver.
func (v *ValidationError) merge(other *ValidationError) {
	if other == nil || len(other.FieldErrors) == 0 {
		return
	}
	for field, msg := range other.FieldErrors {
		v.add(field, msg)
	}
}

// NewValidationError builds a ValidationError for a single field.
func NewValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}
