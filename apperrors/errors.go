package apperrors

import (
	"errors"
	"fmt"

	"github.com/gofiber/fiber/v2"
)

// ErrorCode represents application-specific error codes
type ErrorCode string

const (
	// Classification
	ErrCodeDecodeFailed ErrorCode = "DECODE_FAILED"

	// Authorization
	ErrCodeNotFound  ErrorCode = "NOT_FOUND"
	ErrCodeForbidden ErrorCode = "FORBIDDEN"

	// Relay
	ErrCodeRelayTimeout     ErrorCode = "RELAY_TIMEOUT"
	ErrCodeRelayRejected    ErrorCode = "RELAY_REJECTED"
	ErrCodeRelayUnavailable ErrorCode = "RELAY_UNAVAILABLE"

	// Storage
	ErrCodeStorage ErrorCode = "STORAGE_ERROR"

	// Surface
	ErrCodeMethodNotAllowed ErrorCode = "METHOD_NOT_ALLOWED"
	ErrCodeNotImplemented   ErrorCode = "NOT_IMPLEMENTED"
	ErrCodeRateLimited      ErrorCode = "RATE_LIMITED"
	ErrCodeUnavailable      ErrorCode = "SERVICE_UNAVAILABLE"
	ErrCodeInternal         ErrorCode = "INTERNAL_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       ErrorCode      `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Internal   error          `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
}

// Error implements the error interface
func (e *AppError) Error() string {
	if e.Internal != nil {
		return fmt.Sprintf("[%s] %s: %v", e.Code, e.Message, e.Internal)
	}
	return fmt.Sprintf("[%s] %s", e.Code, e.Message)
}

// Unwrap returns the wrapped error
func (e *AppError) Unwrap() error {
	return e.Internal
}

// WithDetails adds contextual details to the error
func (e *AppError) WithDetails(key string, value any) *AppError {
	if e.Details == nil {
		e.Details = make(map[string]any)
	}
	e.Details[key] = value
	return e
}

// WithInternal wraps an internal error
func (e *AppError) WithInternal(err error) *AppError {
	e.Internal = err
	return e
}

// LogFields flattens the error for the structured logger
func (e *AppError) LogFields() map[string]any {
	fields := map[string]any{
		"code":   string(e.Code),
		"status": e.StatusCode,
	}
	for k, v := range e.Details {
		fields[k] = v
	}
	if e.Internal != nil {
		fields["internal"] = e.Internal.Error()
	}
	return fields
}

// New creates a new AppError
func New(code ErrorCode, message string, statusCode int) *AppError {
	return &AppError{
		Code:       code,
		Message:    message,
		StatusCode: statusCode,
	}
}

// IsAppError checks if an error is an AppError
func IsAppError(err error) bool {
	var appErr *AppError
	return errors.As(err, &appErr)
}

// HasCode reports whether err is an AppError carrying code
func HasCode(err error, code ErrorCode) bool {
	var appErr *AppError
	return errors.As(err, &appErr) && appErr.Code == code
}

// FromError converts a standard error to AppError if possible
func FromError(err error) *AppError {
	if err == nil {
		return nil
	}

	var appErr *AppError
	if errors.As(err, &appErr) {
		return appErr
	}

	var fiberErr *fiber.Error
	if errors.As(err, &fiberErr) {
		switch fiberErr.Code {
		case fiber.StatusNotFound:
			return New(ErrCodeNotFound, "Resource not found", fiber.StatusNotFound)
		case fiber.StatusMethodNotAllowed:
			return NewMethodNotAllowed()
		case fiber.StatusBadRequest:
			return NewDecodeFailure(fiberErr.Message)
		default:
			return New(ErrCodeInternal, fiberErr.Message, fiberErr.Code)
		}
	}

	return NewInternalError("").WithInternal(err)
}

// HTTPStatus exposes the status code to middleware that runs before the error handler
func (e *AppError) HTTPStatus() int {
	return e.StatusCode
}
