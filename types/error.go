package types

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unified error code across the broker.
type ErrorCode string

const (
	// ErrCodeValidation marks malformed caller input (bad query or entry
	// shape). Never retried; surfaced to the caller immediately.
	ErrCodeValidation ErrorCode = "VALIDATION"

	// ErrCodeProviderUnavailable marks exhaustion of every eligible
	// backend. Store operations surface it; retrieve operations degrade
	// to partial or empty results instead.
	ErrCodeProviderUnavailable ErrorCode = "PROVIDER_UNAVAILABLE"

	// ErrCodeSerialization marks content that cannot be encoded for a
	// backend. The backend is skipped; fatal only when it was the sole
	// eligible one.
	ErrCodeSerialization ErrorCode = "SERIALIZATION"

	// ErrCodeNotFound marks an explicit id lookup miss. Category and time
	// queries never produce it; they simply omit.
	ErrCodeNotFound ErrorCode = "NOT_FOUND"

	// ErrCodeInternal marks unexpected broker-side failures.
	ErrCodeInternal ErrorCode = "INTERNAL"
)

// Error represents a structured broker error with code, message, and
// metadata.
type Error struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"retryable"`
	Backend   string    `json:"backend,omitempty"`
	Cause     error     `json:"-"`
}

// Error implements the error interface.
func (e *Error) Error() string {
	if e.Cause != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Cause)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the underlying cause.
func (e *Error) Unwrap() error {
	return e.Cause
}

// NewError creates a new Error with the given code and message.
func NewError(code ErrorCode, message string) *Error {
	return &Error{Code: code, Message: message}
}

// WithCause adds a cause to the error.
func (e *Error) WithCause(cause error) *Error {
	e.Cause = cause
	return e
}

// WithBackend tags the error with the backend it originated from.
func (e *Error) WithBackend(backend string) *Error {
	e.Backend = backend
	return e
}

// WithRetryable marks the error as retryable.
func (e *Error) WithRetryable(retryable bool) *Error {
	e.Retryable = retryable
	return e
}

// HTTPStatus maps the code to an HTTP response status.
func (e *Error) HTTPStatus() int {
	switch e.Code {
	case ErrCodeValidation:
		return 400
	case ErrCodeNotFound:
		return 404
	case ErrCodeSerialization:
		return 422
	case ErrCodeProviderUnavailable:
		return 503
	default:
		return 500
	}
}

// GetErrorCode extracts the error code from an error, unwrapping as needed.
func GetErrorCode(err error) ErrorCode {
	var e *Error
	if errors.As(err, &e) {
		return e.Code
	}
	return ""
}

// IsRetryable checks if an error is retryable.
func IsRetryable(err error) bool {
	var e *Error
	if errors.As(err, &e) {
		return e.Retryable
	}
	return false
}

// IsValidation reports whether err carries ErrCodeValidation.
func IsValidation(err error) bool { return GetErrorCode(err) == ErrCodeValidation }

// IsProviderUnavailable reports whether err carries ErrCodeProviderUnavailable.
func IsProviderUnavailable(err error) bool { return GetErrorCode(err) == ErrCodeProviderUnavailable }

// IsSerialization reports whether err carries ErrCodeSerialization.
func IsSerialization(err error) bool { return GetErrorCode(err) == ErrCodeSerialization }

// IsNotFound reports whether err carries ErrCodeNotFound.
func IsNotFound(err error) bool { return GetErrorCode(err) == ErrCodeNotFound }
