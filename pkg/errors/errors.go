package errors

import (
	"errors"
	"fmt"
)

// ErrorCode represents a unique error code
type ErrorCode int

// Common error codes
const (
	ErrNotFound ErrorCode = iota + 1000
	ErrBadRequest
	ErrConflict
	ErrUnavailable
	ErrValidationFailed
	ErrInternal
)

// AppError represents an application error. Retryable marks transient store
// failures (lock contention, timeouts) that callers may retry; everything
// else is terminal for the operation that produced it.
type AppError struct {
	Code      ErrorCode `json:"code"`
	Message   string    `json:"message"`
	Retryable bool      `json:"-"`
	Err       error     `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %v", e.Message, e.Err)
	}
	return e.Message
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func NotFound(resource string, err error) *AppError {
	return &AppError{
		Code:    ErrNotFound,
		Message: fmt.Sprintf("%s not found", resource),
		Err:     err,
	}
}

func BadRequest(message string, err error) *AppError {
	return &AppError{
		Code:    ErrBadRequest,
		Message: message,
		Err:     err,
	}
}

// Conflict covers duplicate-key races on upsert; retryable so the caller can
// take the update branch on the next attempt.
func Conflict(message string, err error) *AppError {
	return &AppError{
		Code:      ErrConflict,
		Message:   message,
		Retryable: true,
		Err:       err,
	}
}

// Unavailable covers store timeouts and lock contention.
func Unavailable(message string, err error) *AppError {
	return &AppError{
		Code:      ErrUnavailable,
		Message:   message,
		Retryable: true,
		Err:       err,
	}
}

// ValidationFailed distinguishes business-rule non-conformance from
// operational failure. It is an expected partial-success signal, never a bug.
func ValidationFailed(message string) *AppError {
	return &AppError{
		Code:    ErrValidationFailed,
		Message: message,
	}
}

func Internal(err error) *AppError {
	return &AppError{
		Code:    ErrInternal,
		Message: "internal error",
		Err:     err,
	}
}

// IsRetryable reports whether err is a transient failure worth retrying.
func IsRetryable(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Retryable
	}
	return false
}

// IsNotFound reports whether err is a not-found condition.
func IsNotFound(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrNotFound
	}
	return false
}

// IsBadRequest reports whether err is a caller error.
func IsBadRequest(err error) bool {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code == ErrBadRequest
	}
	return false
}

// CodeOf extracts the application error code, defaulting to ErrInternal.
func CodeOf(err error) ErrorCode {
	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr.Code
	}
	return ErrInternal
}
