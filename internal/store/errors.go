package store

import (
	"context"
	"errors"
	"fmt"
)

// Error is a backend failure: an I/O, transaction or connection error
// raised by a backing store. Cancellation is never wrapped in an Error.
type Error struct {
	Op      string // operation, e.g. "get", "values_in_range"
	Backend string // backend name, e.g. "bolt", "dynamodb"
	Err     error
}

func (e *Error) Error() string {
	return fmt.Sprintf("store: %s %s: %v", e.Backend, e.Op, e.Err)
}

func (e *Error) Unwrap() error { return e.Err }

// Wrap returns err as a backend failure for op on backend. Nil errors,
// context errors and errors that already are an *Error pass through
// unchanged so callers can tell cancellation from failure.
func Wrap(backend, op string, err error) error {
	if err == nil || IsCancellation(err) {
		return err
	}
	var se *Error
	if errors.As(err, &se) {
		return err
	}
	return &Error{Op: op, Backend: backend, Err: err}
}

// IsCancellation reports whether err means the caller asked to stop.
func IsCancellation(err error) bool {
	return errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded)
}

// IsBackendFailure reports whether err is a wrapped backend failure.
func IsBackendFailure(err error) bool {
	var se *Error
	return errors.As(err, &se)
}
