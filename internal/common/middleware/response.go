package middleware

import (
	"net/http"

	"github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/gin-gonic/gin"
)

// ErrorResponse represents the standard error response format
type ErrorResponse struct {
	Error ErrorBody `json:"error"`
}

// ErrorBody contains error details
type ErrorBody struct {
	Code      string         `json:"code"`
	Message   string         `json:"message"`
	RequestID string         `json:"request_id,omitempty"`
	Details   map[string]any `json:"details,omitempty"`
}

// SuccessResponse represents the standard success response format
type SuccessResponse struct {
	Data any `json:"data"`
}

// RespondSuccess sends a successful JSON response
func RespondSuccess(c *gin.Context, statusCode int, data any) {
	c.JSON(statusCode, SuccessResponse{Data: data})
}

// RespondError sends an error JSON response
// Handles both *errors.AppError and generic errors
func RespondError(c *gin.Context, err error) {
	c.JSON(statusFor(err), errorBody(c, err))
}

// AbortWithError is RespondError for middleware: it stops the handler chain.
func AbortWithError(c *gin.Context, err error) {
	_ = c.Error(err)
	c.AbortWithStatusJSON(statusFor(err), errorBody(c, err))
}

func statusFor(err error) int {
	if appErr, ok := errors.AsAppError(err); ok {
		return appErr.StatusCode
	}
	return http.StatusInternalServerError
}

func errorBody(c *gin.Context, err error) ErrorResponse {
	appErr, ok := errors.AsAppError(err)
	if !ok {
		// Wrap unknown errors as internal error
		appErr = errors.Internal("An unexpected error occurred")
	}

	return ErrorResponse{
		Error: ErrorBody{
			Code:      appErr.Code,
			Message:   appErr.Message,
			RequestID: GetRequestID(c),
			Details:   appErr.Details,
		},
	}
}

// RespondCreated sends a 201 Created response
func RespondCreated(c *gin.Context, data any) {
	RespondSuccess(c, http.StatusCreated, data)
}

// RespondOK sends a 200 OK response
func RespondOK(c *gin.Context, data any) {
	RespondSuccess(c, http.StatusOK, data)
}

// RespondNoContent sends a 204 No Content response
func RespondNoContent(c *gin.Context) {
	c.Status(http.StatusNoContent)
}
