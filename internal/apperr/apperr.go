// Package apperr defines the error kinds shared by the reminder and calendar
// packages. Callers classify failures with errors.Is against the Err*
// sentinels; the HTTP layer maps kinds to status codes.
package apperr

import (
	"errors"
	"fmt"
)

// Kind classifies an Error.
type Kind string

const (
	KindInvalidRecurrence Kind = "INVALID_RECURRENCE"
	KindInvalidAnchor     Kind = "INVALID_ANCHOR"
	KindInvalidEvent      Kind = "INVALID_EVENT"
	KindNotFound          Kind = "NOT_FOUND"
	KindValidation        Kind = "VALIDATION_ERROR"
	KindInternal          Kind = "INTERNAL"
)

// Sentinels for errors.Is. An *Error matches the sentinel of its Kind.
var (
	ErrInvalidRecurrence = &Error{Kind: KindInvalidRecurrence}
	ErrInvalidAnchor     = &Error{Kind: KindInvalidAnchor}
	ErrInvalidEvent      = &Error{Kind: KindInvalidEvent}
	ErrNotFound          = &Error{Kind: KindNotFound}
	ErrValidation        = &Error{Kind: KindValidation}
	ErrInternal          = &Error{Kind: KindInternal}
)

// Error is a typed failure. Field names the offending input when there is one.
type Error struct {
	Kind    Kind
	Field   string
	Message string
	Err     error
}

func (e *Error) Error() string {
	msg := e.Message
	if msg == "" {
		msg = string(e.Kind)
	}
	if e.Field != "" {
		msg = e.Field + ": " + msg
	}
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Kind, msg, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Kind, msg)
}

func (e *Error) Unwrap() error { return e.Err }

// Is reports kind equality so that errors.Is(err, ErrNotFound) works for any
// *Error of that kind.
func (e *Error) Is(target error) bool {
	var t *Error
	if !errors.As(target, &t) {
		return false
	}
	return t.Kind == e.Kind
}

func newf(kind Kind, field, format string, args ...any) *Error {
	return &Error{Kind: kind, Field: field, Message: fmt.Sprintf(format, args...)}
}

func InvalidRecurrence(field, format string, args ...any) *Error {
	return newf(KindInvalidRecurrence, field, format, args...)
}

func InvalidAnchor(field, format string, args ...any) *Error {
	return newf(KindInvalidAnchor, field, format, args...)
}

func InvalidEvent(field, format string, args ...any) *Error {
	return newf(KindInvalidEvent, field, format, args...)
}

func NotFound(field, format string, args ...any) *Error {
	return newf(KindNotFound, field, format, args...)
}

func Validation(field, format string, args ...any) *Error {
	return newf(KindValidation, field, format, args...)
}

// Internal wraps an unexpected failure (storage, I/O).
func Internal(err error, format string, args ...any) *Error {
	e := newf(KindInternal, "", format, args...)
	e.Err = err
	return e
}

// KindOf returns the Kind of err, or KindInternal when err is not an *Error.
func KindOf(err error) Kind {
	var e *Error
	if errors.As(err, &e) {
		return e.Kind
	}
	return KindInternal
}
