// Package apperror defines the error taxonomy shared by every layer.
//
// Services and the auth resolver return these errors; only the HTTP handlers
// translate them into status codes (see handler.writeError).
package apperror

import (
	"errors"
	"fmt"
	"time"
)

var (
	ErrNotFound           = errors.New("not found")
	ErrValidation         = errors.New("validation error")
	ErrConflict           = errors.New("conflict")
	ErrForbidden          = errors.New("forbidden")
	ErrUnauthorized       = errors.New("unauthorized")
	ErrTooManyRequests    = errors.New("too many requests")
	ErrServiceUnavailable = errors.New("service unavailable")
	ErrUpstream           = errors.New("upstream failure")
)

type AppError struct {
	Err     error  // sentinel, matched with errors.Is
	Message string // safe to show to the caller
	Field   string // optional: field causing the error

	// RetryAfter is set on ErrTooManyRequests errors.
	RetryAfter time.Duration

	cause error
}

func (e *AppError) Error() string {
	return e.Message
}

// Unwrap exposes both the sentinel and, when present, the underlying cause.
func (e *AppError) Unwrap() []error {
	if e.cause == nil {
		return []error{e.Err}
	}
	return []error{e.Err, e.cause}
}

func NotFound(resource, id string) *AppError {
	return &AppError{
		Err:     ErrNotFound,
		Message: fmt.Sprintf("%s not found with id %s", resource, id),
	}
}

func ValidationFailed(field, message string) *AppError {
	return &AppError{
		Err:     ErrValidation,
		Message: message,
		Field:   field,
	}
}

func Conflict(resource, id string) *AppError {
	return &AppError{
		Err:     ErrConflict,
		Message: fmt.Sprintf("%s conflict with id %s", resource, id),
	}
}

// Forbidden returns an AppError indicating the caller lacks permission.
// HTTP handlers map this to 403 Forbidden.
func Forbidden(message string) *AppError {
	return &AppError{
		Err:     ErrForbidden,
		Message: message,
	}
}

// Unauthorized means the credential was missing, unknown or expired.
func Unauthorized(message string) *AppError {
	return &AppError{
		Err:     ErrUnauthorized,
		Message: message,
	}
}

func TooManyRequests(message string, retryAfter time.Duration) *AppError {
	return &AppError{
		Err:        ErrTooManyRequests,
		Message:    message,
		RetryAfter: retryAfter,
	}
}

func ServiceUnavailable(message string) *AppError {
	return &AppError{
		Err:     ErrServiceUnavailable,
		Message: message,
	}
}

// Upstream wraps a failure of an external API (GA4, Google OAuth).
// The message is returned to the caller; cause is kept for logs only.
func Upstream(message string, cause error) *AppError {
	return &AppError{
		Err:     ErrUpstream,
		Message: message,
		cause:   cause,
	}
}
