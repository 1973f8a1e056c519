// Package apperrors defines the error taxonomy shared by the auth services and
// the HTTP boundary that converts it into status codes.
package apperrors

import (
	"errors"
	"net/http"
	"time"
)

// Kind classifies an error for the client.
type Kind string

const (
	KindInvalidInput Kind = "INVALID_INPUT"
	KindRateLimited  Kind = "RATE_LIMITED"
	KindUnauthorized Kind = "UNAUTHORIZED"
	KindNotFound     Kind = "NOT_FOUND"
	KindInternal     Kind = "INTERNAL"
)

// HTTPStatus maps the kind to its response status.
func (k Kind) HTTPStatus() int {
	switch k {
	case KindInvalidInput:
		return http.StatusBadRequest
	case KindRateLimited:
		return http.StatusTooManyRequests
	case KindUnauthorized:
		return http.StatusUnauthorized
	case KindNotFound:
		return http.StatusNotFound
	default:
		return http.StatusInternalServerError
	}
}

// Error is the domain error returned by services.
type Error struct {
	Kind       Kind          // Client-facing classification
	Message    string        // Client-safe message
	Cause      error         // Wrapped underlying error, never sent to clients
	RetryAfter time.Duration // Set for KindRateLimited
}

func (e *Error) Error() string {
	if e.Cause != nil {
		return e.Message + ": " + e.Cause.Error()
	}
	return e.Message
}

func (e *Error) Unwrap() error {
	return e.Cause
}

// Is reports whether target carries the same kind.
func (e *Error) Is(target error) bool {
	if t, ok := target.(*Error); ok {
		return e.Kind == t.Kind
	}
	return false
}

func New(kind Kind, message string) *Error {
	return &Error{Kind: kind, Message: message}
}

func Wrap(kind Kind, message string, cause error) *Error {
	return &Error{Kind: kind, Message: message, Cause: cause}
}

func InvalidInput(message string) *Error {
	return New(KindInvalidInput, message)
}

func Unauthorized(message string) *Error {
	return New(KindUnauthorized, message)
}

func Internal(message string, cause error) *Error {
	return Wrap(KindInternal, message, cause)
}

func RateLimited(message string, retryAfter time.Duration) *Error {
	return &Error{Kind: KindRateLimited, Message: message, RetryAfter: retryAfter}
}

// As extracts the domain error from err. Errors outside the taxonomy are
// reported as internal.
func As(err error) *Error {
	if err == nil {
		return nil
	}
	var appErr *Error
	if errors.As(err, &appErr) {
		return appErr
	}
	return Internal("internal error", err)
}

// KindOf returns the kind of err, KindInternal for foreign errors.
// A nil error has no kind.
func KindOf(err error) Kind {
	if err == nil {
		return ""
	}
	return As(err).Kind
}
