package csrf

import (
	"crypto/subtle"

	apperrors "github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/ahwlsqja/csrf-recovery/internal/common/middleware"
	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Verify rejects state-changing requests whose token does not match the
// session token. Rejections use status 419 so clients can tell an expired
// token apart from an authorization failure.
//
// Must run after session.Manager.Middleware.
func Verify(cfg Config, logger *zap.Logger) gin.HandlerFunc {
	cfg = cfg.withDefaults()

	return func(c *gin.Context) {
		if safeMethod(c.Request.Method) || cfg.exempt(c.Request.URL.Path) {
			c.Next()
			return
		}

		sess, ok := session.FromContext(c)
		if !ok || sess.CSRFToken == "" {
			reject(c, logger, "no_session", apperrors.SessionExpired())
			return
		}

		supplied := c.GetHeader(cfg.HeaderName)
		if supplied == "" {
			supplied = c.PostForm(cfg.FieldName)
		}

		if supplied == "" || subtle.ConstantTimeCompare([]byte(supplied), []byte(sess.CSRFToken)) != 1 {
			if session.Replaced(c) {
				reject(c, logger, "session_expired", apperrors.SessionExpired())
				return
			}
			reason := "mismatch"
			if supplied == "" {
				reason = "missing"
			}
			reject(c, logger, reason, apperrors.TokenMismatch())
			return
		}

		c.Next()
	}
}

func reject(c *gin.Context, logger *zap.Logger, reason string, err *apperrors.AppError) {
	metrics.TokenRejections.WithLabelValues(reason).Inc()
	logger.Info("csrf token rejected",
		zap.String("reason", reason),
		zap.String("method", c.Request.Method),
		zap.String("path", c.Request.URL.Path),
		zap.String("request_id", middleware.GetRequestID(c)),
	)
	middleware.AbortWithError(c, err)
}
