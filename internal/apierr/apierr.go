package apierr

import (
	"errors"
	"fmt"
)

// The orchestration core classifies failures into five kinds. Handlers map
// them to HTTP statuses; the job worker uses IsRetryable to decide between
// rescheduling and escalating to a terminal deck failure.

type ValidationError struct {
	Field string
	Msg   string
}

func (e *ValidationError) Error() string {
	if e.Field != "" {
		return fmt.Sprintf("validation failed for %s: %s", e.Field, e.Msg)
	}
	return "validation failed: " + e.Msg
}

func NewValidation(field, msg string) *ValidationError {
	return &ValidationError{Field: field, Msg: msg}
}

type InvalidTransitionError struct {
	Entity string
	From   string
	To     string
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("illegal %s transition %s -> %s", e.Entity, e.From, e.To)
}

func NewInvalidTransition(entity, from, to string) *InvalidTransitionError {
	return &InvalidTransitionError{Entity: entity, From: from, To: to}
}

type NotFoundError struct {
	Entity string
	ID     string
}

func (e *NotFoundError) Error() string {
	return fmt.Sprintf("%s %s not found", e.Entity, e.ID)
}

func NewNotFound(entity, id string) *NotFoundError {
	return &NotFoundError{Entity: entity, ID: id}
}

// GenerationError wraps a content-generator failure. Retryable by contract:
// the job worker backs off and re-runs until the attempt cap, then the deck
// is marked FAILED.
type GenerationError struct {
	Op  string
	Err error
}

func (e *GenerationError) Error() string {
	return fmt.Sprintf("content generation %s failed: %v", e.Op, e.Err)
}

func (e *GenerationError) Unwrap() error { return e.Err }

func NewGeneration(op string, err error) *GenerationError {
	return &GenerationError{Op: op, Err: err}
}

// ConflictError signals an optimistic-concurrency violation on a slide edit.
// The caller retries with a fresh base version.
type ConflictError struct {
	Entity   string
	Expected int
	Actual   int
}

func (e *ConflictError) Error() string {
	return fmt.Sprintf("%s changed concurrently: base version %d, current %d", e.Entity, e.Expected, e.Actual)
}

func NewConflict(entity string, expected, actual int) *ConflictError {
	return &ConflictError{Entity: entity, Expected: expected, Actual: actual}
}

func IsValidation(err error) bool {
	var t *ValidationError
	return errors.As(err, &t)
}

func IsInvalidTransition(err error) bool {
	var t *InvalidTransitionError
	return errors.As(err, &t)
}

func IsNotFound(err error) bool {
	var t *NotFoundError
	return errors.As(err, &t)
}

func IsConflict(err error) bool {
	var t *ConflictError
	return errors.As(err, &t)
}

// IsRetryable reports whether the job worker should reschedule the work that
// produced err. Only generator failures are retryable; everything else is a
// caller or state error that repeating cannot fix.
func IsRetryable(err error) bool {
	var t *GenerationError
	return errors.As(err, &t)
}
