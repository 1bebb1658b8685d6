package domain

import (
	"errors"
	"fmt"
)

// ErrNotFound indicates the requested entity does not exist.
var ErrNotFound = errors.New("not found")

// ErrForbidden indicates the caller is not authorized for the operation.
var ErrForbidden = errors.New("forbidden")

// InvalidValueError indicates input that violates a value type's
// contract (CPF shape, description bounds, unknown enum value).
// Reported to the user, never retried.
type InvalidValueError struct {
	Field  string
	Reason string
}

func (e *InvalidValueError) Error() string {
	return fmt.Sprintf("invalid %s: %s", e.Field, e.Reason)
}

// NewInvalidValue builds an InvalidValueError.
func NewInvalidValue(field, reason string) error {
	return &InvalidValueError{Field: field, Reason: reason}
}

// IsInvalidValue reports whether err is an InvalidValueError.
func IsInvalidValue(err error) bool {
	var ive *InvalidValueError
	return errors.As(err, &ive)
}

// IllegalTransitionError indicates a forbidden state machine transition.
// This is a programming error and is logged at error level.
type IllegalTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *IllegalTransitionError) Error() string {
	return fmt.Sprintf("%s: illegal transition %s -> %s", e.Entity, e.From, e.To)
}

// IsIllegalTransition reports whether err is an IllegalTransitionError.
func IsIllegalTransition(err error) bool {
	var ite *IllegalTransitionError
	return errors.As(err, &ite)
}

// ConflictError indicates a business conflict the caller must act on
// (active ticket already open, CPF bound to another account). It is a
// result, not a failure: use cases translate it into an actionable
// response instead of propagating it.
type ConflictError struct {
	Reason  string
	Details map[string]string
}

func (e *ConflictError) Error() string {
	return "conflict: " + e.Reason
}

// IsConflict reports whether err is a ConflictError.
func IsConflict(err error) bool {
	var ce *ConflictError
	return errors.As(err, &ce)
}
