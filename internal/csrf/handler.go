package csrf

import (
	"net/http"

	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

// Handler serves the token refresh endpoint.
type Handler struct {
	cfg     Config
	manager *session.Manager
	limiter *Limiter
	logger  *zap.Logger
}

// NewHandler creates a refresh handler.
func NewHandler(cfg Config, manager *session.Manager, logger *zap.Logger) (*Handler, error) {
	cfg = cfg.withDefaults()
	limiter, err := NewLimiter(cfg.RefreshRate, cfg.RefreshBurst, cfg.TrackedSessions)
	if err != nil {
		return nil, err
	}
	return &Handler{
		cfg:     cfg,
		manager: manager,
		limiter: limiter,
		logger:  logger,
	}, nil
}

// RegisterRoutes registers the refresh endpoint on the router
func (h *Handler) RegisterRoutes(r gin.IRouter) {
	r.GET(h.cfg.RefreshPath, h.Refresh)
}

// Refresh godoc
// @Summary Refresh CSRF token
// @Description Returns the anti-forgery token bound to the caller's session. The token is not rotated, so requests already carrying it stay valid.
// @Tags csrf
// @Produce json
// @Success 200 {object} RefreshResponse "Current token"
// @Failure 401 {object} RefreshResponse "No session"
// @Failure 429 {object} RefreshResponse "Too many refreshes"
// @Failure 500 {object} RefreshResponse "Session store failure"
// @Router /refresh-csrf [get]
func (h *Handler) Refresh(c *gin.Context) {
	c.Header("Cache-Control", "no-store")

	sess, ok := session.FromContext(c)
	if !ok {
		h.fail(c, http.StatusUnauthorized, "no_session", "Session not found.")
		return
	}

	if !h.limiter.Allow(sess.ID) {
		h.fail(c, http.StatusTooManyRequests, "rate_limited", "Too many token refreshes.")
		return
	}

	if !session.ValidToken(sess.CSRFToken) {
		if _, err := sess.RegenerateToken(); err != nil {
			h.logger.Error("failed to generate csrf token", zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "error", "Could not issue token.")
			return
		}
		if err := h.manager.Save(c.Request.Context(), sess); err != nil {
			h.logger.Error("failed to save session", zap.String("session_id", sess.ID), zap.Error(err))
			h.fail(c, http.StatusInternalServerError, "error", "Could not issue token.")
			return
		}
	}

	metrics.TokensIssued.WithLabelValues("ok").Inc()
	c.JSON(http.StatusOK, RefreshResponse{Success: true, CSRFToken: sess.CSRFToken})
}

func (h *Handler) fail(c *gin.Context, status int, result, message string) {
	metrics.TokensIssued.WithLabelValues(result).Inc()
	c.JSON(status, RefreshResponse{Success: false, Message: message})
}
