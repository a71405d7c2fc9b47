package middleware

import (
	"time"

	apperrors "github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// SessionIDKey is the gin context key under which the session middleware
// publishes the current session ID.
const SessionIDKey = "session_id"

// Logger middleware logs each HTTP request with structured fields.
// Token-expired responses are part of the normal recovery flow and are
// logged separately from other client errors.
func Logger(logger *zap.Logger) gin.HandlerFunc {
	return func(c *gin.Context) {
		start := time.Now()
		path := c.Request.URL.Path
		query := c.Request.URL.RawQuery

		c.Next()

		latency := time.Since(start)
		statusCode := c.Writer.Status()

		fields := []zap.Field{
			zap.String("request_id", GetRequestID(c)),
			zap.String("method", c.Request.Method),
			zap.String("path", path),
			zap.String("query", query),
			zap.Int("status", statusCode),
			zap.Duration("latency", latency),
			zap.String("client_ip", c.ClientIP()),
			zap.String("user_agent", c.Request.UserAgent()),
		}
		if sid := c.GetString(SessionIDKey); sid != "" {
			fields = append(fields, zap.String("session_id", sid))
		}

		if len(c.Errors) > 0 {
			fields = append(fields, zap.String("errors", c.Errors.String()))
		}

		switch {
		case statusCode >= 500:
			logger.Error("server error", fields...)
		case statusCode == apperrors.StatusTokenExpired:
			logger.Warn("csrf token expired", fields...)
		case statusCode >= 400:
			logger.Warn("client error", fields...)
		default:
			logger.Info("request completed", fields...)
		}
	}
}
