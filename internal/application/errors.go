package application

import (
	"errors"
	"fmt"
	"strings"

	"github.com/example/fleet-reservations/internal/scheduler"
)

var (
	// ErrUnauthorized is returned when the acting principal lacks permission for an operation.
	ErrUnauthorized = errors.New("application: unauthorized")
	// ErrNotFound is returned when the requested resource does not exist.
	ErrNotFound = errors.New("application: not found")
	// ErrStaleState is returned when a reservation changed between read and write.
	ErrStaleState = errors.New("application: reservation changed concurrently")
	// ErrSyncGuardSkipped marks a synchronization call that did nothing because a guard was held.
	// It is an outcome, not a failure.
	ErrSyncGuardSkipped = errors.New("application: sync guard held, skipped")
)

// ValidationError captures field level validation issues that callers can surface to users.
type ValidationError struct {
	FieldErrors map[string]string
}

// Error implements the error interface.
func (v *ValidationError) Error() string {
	if v == nil {
		return ""
	}
	return "validation failed"
}

// HasErrors reports whether any field level issues were recorded.
func (v *ValidationError) HasErrors() bool {
	return v != nil && len(v.FieldErrors) > 0
}

// add records a field level validation error.
func (v *ValidationError) add(field, message string) {
	if v.FieldErrors == nil {
		v.FieldErrors = make(map[string]string)
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

func newValidationError(field, message string) *ValidationError {
	vErr := &ValidationError{}
	vErr.add(field, message)
	return vErr
}

// ConflictError reports that a window overlaps another active reservation on the vehicle.
type ConflictError struct {
	VehicleID string
	Conflicts []scheduler.Conflict
}

func (e *ConflictError) Error() string {
	ids := make([]string, 0, len(e.Conflicts))
	for _, c := range e.Conflicts {
		ids = append(ids, c.WithReservationID)
	}
	return fmt.Sprintf("vehicle %s is already reserved (%s)", e.VehicleID, strings.Join(ids, ", "))
}

// RestGapError reports a broken booking rule: rest gap, maximum length or night-shift boundary.
type RestGapError struct {
	Violations []scheduler.RuleViolation
}

func (e *RestGapError) Error() string {
	parts := make([]string, 0, len(e.Violations))
	for _, v := range e.Violations {
		parts = append(parts, v.String())
	}
	return "booking rule violated: " + strings.Join(parts, "; ")
}

// HasRule reports whether the given rule is among the violations.
func (e *RestGapError) HasRule(rule scheduler.Rule) bool {
	for _, v := range e.Violations {
		if v.Rule == rule {
			return true
		}
	}
	return false
}

// InvalidTransitionError reports an operation attempted from a status that does not permit it.
type InvalidTransitionError struct {
	ReservationID string
	Operation     string
	From          Status
	To            Status
}

func (e *InvalidTransitionError) Error() string {
	if e.To != "" {
		return fmt.Sprintf("reservation %s: cannot %s from %s to %s", e.ReservationID, e.Operation, e.From, e.To)
	}
	return fmt.Sprintf("reservation %s: cannot %s while %s", e.ReservationID, e.Operation, e.From)
}
