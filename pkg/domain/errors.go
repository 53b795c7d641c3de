package domain

import (
	"errors"
	"fmt"
)

// Failure kinds surfaced by the entity store and the scheduling service.
// Callers match them with errors.Is.
var (
	ErrNotFound           = errors.New("not found")
	ErrConflict           = errors.New("conflict")
	ErrInvalidArgument    = errors.New("invalid argument")
	ErrInvalidCursor      = fmt.Errorf("%w: invalid cursor", ErrInvalidArgument)
	ErrStorageUnavailable = errors.New("storage unavailable")
)

// EntityError describes a failed operation on a single record.
type EntityError struct {
	Op     string
	Entity EntityType
	ID     string
	Err    error
}

func (e *EntityError) Error() string {
	if e.ID == "" {
		return fmt.Sprintf("%s %s: %v", e.Op, e.Entity, e.Err)
	}
	return fmt.Sprintf("%s %s %q: %v", e.Op, e.Entity, e.ID, e.Err)
}

func (e *EntityError) Unwrap() error { return e.Err }

// NewEntityError wraps err with operation context.
func NewEntityError(op string, entity EntityType, id string, err error) error {
	return &EntityError{Op: op, Entity: entity, ID: id, Err: err}
}

// ValidationError reports a missing or malformed input field.
type ValidationError struct {
	Field  string
	Reason string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Reason)
}

// Unwrap lets errors.Is(err, ErrInvalidArgument) match validation failures.
func (e ValidationError) Unwrap() error { return ErrInvalidArgument }

// Invalid builds a ValidationError.
func Invalid(field, reason string) error {
	return ValidationError{Field: field, Reason: reason}
}

// StorageError marks err as a backing-medium failure. Nil stays nil.
func StorageError(op string, err error) error {
	if err == nil {
		return nil
	}
	if errors.Is(err, ErrStorageUnavailable) {
		return err
	}
	return fmt.Errorf("%s: %w: %w", op, ErrStorageUnavailable, err)
}

// IsRetryable reports whether the caller may retry the failed operation.
func IsRetryable(err error) bool {
	return errors.Is(err, ErrStorageUnavailable)
}
