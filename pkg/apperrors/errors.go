// Package apperrors defines the error taxonomy shared by the tenancy domain
// packages and the HTTP boundary.
package apperrors

import (
	"errors"
	"fmt"
)

// Kind classifies a failure for callers that need to react to it.
type Kind int

const (
	// KindStore is an opaque persistence or internal failure.
	KindStore Kind = iota
	KindConflict
	KindNotFound
	KindForbidden
	KindValidation
	KindUnauthorized
)

func (k Kind) String() string {
	switch k {
	case KindConflict:
		return "conflict"
	case KindNotFound:
		return "not_found"
	case KindForbidden:
		return "forbidden"
	case KindValidation:
		return "validation_failed"
	case KindUnauthorized:
		return "unauthorized"
	default:
		return "store_failure"
	}
}

// Error is a classified error carrying a caller-safe message.
type Error struct {
	Kind    Kind
	Message string
	Err     error
}

func (e *Error) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Err
}

// Is matches any *Error of the same kind, so the sentinels below work with errors.Is.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	if !ok {
		return false
	}
	return t.Kind == e.Kind
}

// PublicMessage is the message that is safe to show outside the process.
func (e *Error) PublicMessage() string {
	if e.Kind == KindStore {
		return "internal error"
	}
	return e.Message
}

var (
	ErrConflict     = &Error{Kind: KindConflict, Message: "conflict"}
	ErrNotFound     = &Error{Kind: KindNotFound, Message: "not found"}
	ErrForbidden    = &Error{Kind: KindForbidden, Message: "forbidden"}
	ErrValidation   = &Error{Kind: KindValidation, Message: "validation failed"}
	ErrStore        = &Error{Kind: KindStore, Message: "internal error"}
	ErrUnauthorized = &Error{Kind: KindUnauthorized, Message: "unauthorized"}
)

func newf(kind Kind, format string, args ...interface{}) *Error {
	return &Error{Kind: kind, Message: fmt.Sprintf(format, args...)}
}

// Conflictf returns a KindConflict error.
func Conflictf(format string, args ...interface{}) *Error {
	return newf(KindConflict, format, args...)
}

// NotFoundf returns a KindNotFound error.
func NotFoundf(format string, args ...interface{}) *Error {
	return newf(KindNotFound, format, args...)
}

// Forbiddenf returns a KindForbidden error.
func Forbiddenf(format string, args ...interface{}) *Error {
	return newf(KindForbidden, format, args...)
}

// Validationf returns a KindValidation error.
func Validationf(format string, args ...interface{}) *Error {
	return newf(KindValidation, format, args...)
}

// Unauthorizedf returns a KindUnauthorized error.
func Unauthorizedf(format string, args ...interface{}) *Error {
	return newf(KindUnauthorized, format, args...)
}

// Store wraps a persistence failure. Already classified errors pass through unchanged.
func Store(err error, message string) error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return err
	}
	return &Error{Kind: KindStore, Message: message, Err: err}
}

// KindOf classifies err. Unclassified errors are store failures.
func KindOf(err error) Kind {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.Kind
	}
	return KindStore
}

// Is reports whether err carries the given kind.
func Is(err error, kind Kind) bool {
	if err == nil {
		return false
	}
	return KindOf(err) == kind
}

// Public returns the caller-safe message for err.
func Public(err error) string {
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr.PublicMessage()
	}
	return "internal error"
}
