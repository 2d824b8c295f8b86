/*
errors.go - Typed failures returned by the engine

PURPOSE:
  Every failure crossing the engine boundary is one of six kinds. Callers
  branch on kind with errors.Is; structured errors carry the ids involved.

ERROR KINDS:
  NotFound          referenced village/hamlet/user/payment does not exist
  CapacityExceeded  village already owns MaxHamletsPerVillage hamlets
  Mismatch          hamlet does not belong to the stated village
  Conflict          duplicate village code or username, or a blocked reassignment
  Forbidden         caller's scope does not cover the target
  Invalid           schema-level constraint violated

USAGE:
  if errors.Is(err, pbb.ErrCapacityExceeded) {
      // tell the operator the village is full
  }

SEE ALSO:
  - validator.go: Produces NotFound, CapacityExceeded, Mismatch, Conflict, Invalid
  - scope.go: Produces Forbidden
  - api/errors.go: Maps kinds to HTTP statuses
*/
package pbb

import (
	"errors"
	"fmt"
)

// =============================================================================
// SENTINEL ERRORS - Use with errors.Is()
// =============================================================================

var (
	ErrNotFound         = errors.New("not found")
	ErrCapacityExceeded = errors.New("capacity exceeded")
	ErrMismatch         = errors.New("mismatch")
	ErrConflict         = errors.New("conflict")
	ErrForbidden        = errors.New("forbidden")
	ErrInvalid          = errors.New("invalid")
)

// =============================================================================
// STRUCTURED ERRORS - Carry additional context
// =============================================================================

// NotFoundError names the missing entity.
type NotFoundError struct {
	Entity string // "village", "hamlet", "user", "payment"
	ID     int64
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %d not found", e.Entity, e.ID)
}

func (e *NotFoundError) Unwrap() error { return ErrNotFound }

// CapacityError is returned when a village already owns Limit hamlets.
type CapacityError struct {
	VillageID VillageID
	Limit     int
}

func (e *CapacityError) Error() string {
	return fmt.Sprintf("village %d already has the maximum of %d hamlets", e.VillageID, e.Limit)
}

func (e *CapacityError) Unwrap() error { return ErrCapacityExceeded }

// MismatchError is returned when a hamlet is referenced under a village
// that does not own it.
type MismatchError struct {
	HamletID        HamletID
	VillageID       VillageID
	ActualVillageID VillageID
}

func (e *MismatchError) Error() string {
	return fmt.Sprintf("hamlet %d belongs to village %d, not village %d",
		e.HamletID, e.ActualVillageID, e.VillageID)
}

func (e *MismatchError) Unwrap() error { return ErrMismatch }

// ConflictError reports a uniqueness or state conflict on one field.
type ConflictError struct {
	Field   string
	Value   string
	Message string
}

func (e *ConflictError) Error() string {
	if e.Message != "" {
		return e.Message
	}
	return fmt.Sprintf("%s %q already exists", e.Field, e.Value)
}

func (e *ConflictError) Unwrap() error { return ErrConflict }

// ValidationError reports a schema-level constraint violation on one field.
type ValidationError struct {
	Field   string
	Message string
}

func (e *ValidationError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Message)
}

func (e *ValidationError) Unwrap() error { return ErrInvalid }

func invalid(field, format string, args ...any) error {
	return &ValidationError{Field: field, Message: fmt.Sprintf(format, args...)}
}

func forbidden(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrForbidden, fmt.Sprintf(format, args...))
}

// =============================================================================
// ERROR HELPERS
// =============================================================================

// ErrorKind is the stable, machine-readable name of an error kind.
type ErrorKind string

const (
	KindNotFound         ErrorKind = "not_found"
	KindCapacityExceeded ErrorKind = "capacity_exceeded"
	KindMismatch         ErrorKind = "mismatch"
	KindConflict         ErrorKind = "conflict"
	KindForbidden        ErrorKind = "forbidden"
	KindInvalid          ErrorKind = "invalid"
	KindInternal         ErrorKind = "internal"
)

// KindOf classifies err. Errors outside the engine's kinds are internal.
func KindOf(err error) ErrorKind {
	switch {
	case errors.Is(err, ErrNotFound):
		return KindNotFound
	case errors.Is(err, ErrCapacityExceeded):
		return KindCapacityExceeded
	case errors.Is(err, ErrMismatch):
		return KindMismatch
	case errors.Is(err, ErrConflict):
		return KindConflict
	case errors.Is(err, ErrForbidden):
		return KindForbidden
	case errors.Is(err, ErrInvalid):
		return KindInvalid
	}
	return KindInternal
}

// IsClientError returns true if the error is due to the caller's input or scope.
func IsClientError(err error) bool {
	return KindOf(err) != KindInternal
}
