package errors

import (
	"fmt"
	"net/http"
)

// StatusTokenExpired is the non-standard status used for an expired session
// or a mismatched anti-forgery token.
const StatusTokenExpired = 419

// Error codes
const (
	// 4xx Client Errors
	CodeInvalidInput    = "INVALID_INPUT"
	CodeNotFound        = "NOT_FOUND"
	CodeUnauthorized    = "UNAUTHORIZED"
	CodeForbidden       = "FORBIDDEN"
	CodeTokenMismatch   = "TOKEN_MISMATCH"
	CodeSessionExpired  = "SESSION_EXPIRED"
	CodeTooManyRequests = "TOO_MANY_REQUESTS"

	// 5xx Server Errors
	CodeInternal     = "INTERNAL_ERROR"
	CodeDBError      = "DB_ERROR"
	CodeSessionStore = "SESSION_STORE_ERROR"
)

// AppError represents a structured application error
type AppError struct {
	Code       string         `json:"code"`
	Message    string         `json:"message"`
	StatusCode int            `json:"-"`
	Details    map[string]any `json:"details,omitempty"`
	Err        error          `json:"-"`
}

func (e *AppError) Error() string {
	if e.Err != nil {
		return fmt.Sprintf("%s: %s: %v", e.Code, e.Message, e.Err)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

func (e *AppError) Unwrap() error {
	return e.Err
}

func (e *AppError) WithDetails(details map[string]any) *AppError {
	e.Details = details
	return e
}

func (e *AppError) WithError(err error) *AppError {
	e.Err = err
	return e
}

// Error constructors

func InvalidInput(message string) *AppError {
	return &AppError{
		Code:       CodeInvalidInput,
		Message:    message,
		StatusCode: http.StatusBadRequest,
	}
}

func NotFound(resource string) *AppError {
	return &AppError{
		Code:       CodeNotFound,
		Message:    fmt.Sprintf("%s not found", resource),
		StatusCode: http.StatusNotFound,
	}
}

func Unauthorized(message string) *AppError {
	return &AppError{
		Code:       CodeUnauthorized,
		Message:    message,
		StatusCode: http.StatusUnauthorized,
	}
}

func Forbidden(message string) *AppError {
	return &AppError{
		Code:       CodeForbidden,
		Message:    message,
		StatusCode: http.StatusForbidden,
	}
}

// TokenMismatch is returned when the request's anti-forgery token does not
// match the session. Clients recover by refreshing the token and retrying.
func TokenMismatch() *AppError {
	return &AppError{
		Code:       CodeTokenMismatch,
		Message:    "CSRF token mismatch.",
		StatusCode: StatusTokenExpired,
	}
}

func SessionExpired() *AppError {
	return &AppError{
		Code:       CodeSessionExpired,
		Message:    "Session has expired.",
		StatusCode: StatusTokenExpired,
	}
}

func TooManyRequests(message string) *AppError {
	return &AppError{
		Code:       CodeTooManyRequests,
		Message:    message,
		StatusCode: http.StatusTooManyRequests,
	}
}

func Internal(message string) *AppError {
	return &AppError{
		Code:       CodeInternal,
		Message:    message,
		StatusCode: http.StatusInternalServerError,
	}
}

func DBError(err error) *AppError {
	return &AppError{
		Code:       CodeDBError,
		Message:    "Database error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

func SessionStoreError(err error) *AppError {
	return &AppError{
		Code:       CodeSessionStore,
		Message:    "Session storage error occurred",
		StatusCode: http.StatusInternalServerError,
		Err:        err,
	}
}

// AsAppError converts an error to AppError if possible
func AsAppError(err error) (*AppError, bool) {
	if appErr, ok := err.(*AppError); ok {
		return appErr, true
	}
	return nil, false
}
