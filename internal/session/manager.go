package session

import (
	"context"
	"errors"
	"net/http"
	"time"

	apperrors "github.com/ahwlsqja/csrf-recovery/internal/common/errors"
	"github.com/ahwlsqja/csrf-recovery/internal/common/middleware"
	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"github.com/gin-gonic/gin"
	"go.uber.org/zap"
)

const (
	// ContextKey is the gin context key holding the current *Session.
	ContextKey = "session"

	// ReplacedKey is set when the request carried a cookie for a session
	// that no longer exists and a fresh one was started in its place.
	ReplacedKey = "session_replaced"
)

// Config controls the session cookie.
type Config struct {
	CookieName string
	Lifetime   time.Duration
	Secure     bool
	Domain     string
}

// Manager loads and persists the session for each request.
type Manager struct {
	store  Store
	cfg    Config
	logger *zap.Logger
	now    func() time.Time
}

// NewManager creates a session manager.
func NewManager(store Store, cfg Config, logger *zap.Logger) *Manager {
	if cfg.CookieName == "" {
		cfg.CookieName = "app_session"
	}
	if cfg.Lifetime <= 0 {
		cfg.Lifetime = 2 * time.Hour
	}
	return &Manager{
		store:  store,
		cfg:    cfg,
		logger: logger,
		now:    time.Now,
	}
}

// Store returns the backing store.
func (m *Manager) Store() Store {
	return m.store
}

// Middleware resolves the session from the cookie, starting a new one when
// the cookie is missing or points at an expired, unknown or corrupt
// session. A replacement session carries a new token, so a form submitted
// with the old one fails verification with 419.
func (m *Manager) Middleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		ctx := c.Request.Context()
		now := m.now()

		sess, replaced, err := m.load(ctx, c, now)
		if err != nil {
			middleware.AbortWithError(c, apperrors.SessionStoreError(err))
			return
		}

		sess.Touch(now, m.cfg.Lifetime)
		if err := m.store.Save(ctx, sess); err != nil {
			middleware.AbortWithError(c, apperrors.SessionStoreError(err))
			return
		}

		c.SetSameSite(http.SameSiteLaxMode)
		c.SetCookie(m.cfg.CookieName, sess.ID, int(m.cfg.Lifetime/time.Second), "/", m.cfg.Domain, m.cfg.Secure, true)
		c.Set(ContextKey, sess)
		c.Set(middleware.SessionIDKey, sess.ID)
		if replaced {
			c.Set(ReplacedKey, true)
		}

		c.Next()
	}
}

func (m *Manager) load(ctx context.Context, c *gin.Context, now time.Time) (*Session, bool, error) {
	id, err := c.Cookie(m.cfg.CookieName)
	stale := err == nil && id != ""
	if stale {
		sess, err := m.store.Get(ctx, id)
		switch {
		case err == nil && !sess.Expired(now):
			if sess.CSRFToken == "" {
				if _, err := sess.RegenerateToken(); err != nil {
					return nil, false, err
				}
			}
			return sess, false, nil
		case err == nil:
			m.logger.Info("session expired, starting a new one", zap.String("session_id", id))
			_ = m.store.Delete(ctx, id)
		case errors.Is(err, ErrSessionNotFound):
			m.logger.Debug("unknown session cookie", zap.String("session_id", id))
		case errors.Is(err, ErrCorruptSession):
			m.logger.Warn("discarding corrupt session", zap.String("session_id", id))
			_ = m.store.Delete(ctx, id)
		default:
			return nil, false, err
		}
	}

	sess, err := New(now, m.cfg.Lifetime)
	if err != nil {
		return nil, false, err
	}
	metrics.SessionsStarted.Inc()
	return sess, stale, nil
}

// Save persists changes a handler made to the session.
func (m *Manager) Save(ctx context.Context, sess *Session) error {
	return m.store.Save(ctx, sess)
}

// Replaced reports whether Middleware had to start a new session because
// the cookie pointed at one that expired or vanished.
func Replaced(c *gin.Context) bool {
	return c.GetBool(ReplacedKey)
}

// FromContext returns the session attached by Middleware.
func FromContext(c *gin.Context) (*Session, bool) {
	v, ok := c.Get(ContextKey)
	if !ok {
		return nil, false
	}
	sess, ok := v.(*Session)
	return sess, ok && sess != nil
}
