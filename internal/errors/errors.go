// Package errors defines the service error type shared by all CAMS modules.
package errors

import (
	"errors"
	"fmt"
	"net/http"
)

// Code identifies a class of service error.
type Code string

const (
	CodeValidation    Code = "validation_error"
	CodeNotFound      Code = "not_found"
	CodeConflict      Code = "conflict"
	CodeUnauthorized  Code = "unauthorized"
	CodeForbidden     Code = "forbidden"
	CodeInvalidToken  Code = "invalid_token"
	CodeRateLimited   Code = "rate_limit_exceeded"
	CodeLocked        Code = "account_locked"
	CodeUnavailable   Code = "unavailable"
	CodeInternal      Code = "internal_error"
)

// ServiceError is the canonical error carried across service and HTTP
// boundaries. Details are safe to return to API clients.
type ServiceError struct {
	Code       Code                   `json:"code"`
	Message    string                 `json:"message"`
	HTTPStatus int                    `json:"-"`
	Details    map[string]interface{} `json:"details,omitempty"`
	cause      error
}

func (e *ServiceError) Error() string {
	if e.cause != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.cause)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// Unwrap exposes the wrapped cause for errors.Is/As.
func (e *ServiceError) Unwrap() error { return e.cause }

// Is matches service errors by code.
func (e *ServiceError) Is(target error) bool {
	var se *ServiceError
	if errors.As(target, &se) {
		return e.Code == se.Code
	}
	return false
}

// WithDetails attaches a key/value pair and returns the error for chaining.
func (e *ServiceError) WithDetails(key string, value interface{}) *ServiceError {
	if e.Details == nil {
		e.Details = make(map[string]interface{})
	}
	e.Details[key] = value
	return e
}

func newError(code Code, status int, message string, cause error) *ServiceError {
	return &ServiceError{Code: code, Message: message, HTTPStatus: status, cause: cause}
}

// Validation reports invalid input.
func Validation(format string, args ...interface{}) *ServiceError {
	return newError(CodeValidation, http.StatusBadRequest, fmt.Sprintf(format, args...), nil)
}

// NotFound reports a missing entity.
func NotFound(entity, id string) *ServiceError {
	return newError(CodeNotFound, http.StatusNotFound, fmt.Sprintf("%s %q not found", entity, id), nil)
}

// Conflict reports a uniqueness or state conflict.
func Conflict(format string, args ...interface{}) *ServiceError {
	return newError(CodeConflict, http.StatusConflict, fmt.Sprintf(format, args...), nil)
}

// Unauthorized reports missing or failed authentication.
func Unauthorized(message string) *ServiceError {
	return newError(CodeUnauthorized, http.StatusUnauthorized, message, nil)
}

// Forbidden reports an authenticated caller without the required permission.
func Forbidden(permission string) *ServiceError {
	return newError(CodeForbidden, http.StatusForbidden, "missing permission", nil).
		WithDetails("permission", permission)
}

// InvalidToken reports a token that failed validation.
func InvalidToken(cause error) *ServiceError {
	return newError(CodeInvalidToken, http.StatusUnauthorized, "invalid or expired token", cause)
}

// RateLimitExceeded reports a rejected request due to rate limiting.
func RateLimitExceeded(limit int, window string) *ServiceError {
	return newError(CodeRateLimited, http.StatusTooManyRequests, "rate limit exceeded", nil).
		WithDetails("limit", limit).
		WithDetails("window", window)
}

// Locked reports an account locked out after repeated failures.
func Locked(message string) *ServiceError {
	return newError(CodeLocked, http.StatusForbidden, message, nil)
}

// Unavailable reports a dependency that is down or not configured.
func Unavailable(message string, cause error) *ServiceError {
	return newError(CodeUnavailable, http.StatusServiceUnavailable, message, cause)
}

// Internal wraps an unexpected failure.
func Internal(cause error) *ServiceError {
	return newError(CodeInternal, http.StatusInternalServerError, "internal error", cause)
}

// AsService extracts a *ServiceError from err, wrapping unknown errors as
// internal so handlers always have a status to write.
func AsService(err error) *ServiceError {
	var se *ServiceError
	if errors.As(err, &se) {
		return se
	}
	return Internal(err)
}

// IsCode reports whether err carries the given code.
func IsCode(err error, code Code) bool {
	var se *ServiceError
	return errors.As(err, &se) && se.Code == code
}
