package csrfclient

import (
	"errors"
	"net/url"
	"strings"
	"time"
)

const (
	// StatusTokenExpired is the status the server answers with when the
	// session or its anti-forgery token has expired.
	StatusTokenExpired = 419

	// HeaderName carries the anti-forgery token on outgoing requests.
	HeaderName = "X-CSRF-TOKEN"

	// DefaultRefreshPath is the token-issuing endpoint.
	DefaultRefreshPath = "/refresh-csrf"

	DefaultMaxAttempts    = 3
	DefaultBaseDelay      = time.Second
	DefaultRefreshTimeout = 10 * time.Second
)

// DefaultExemptPaths lists the authentication endpoints that are never retried.
// Replaying a credential submission under a fresh token would resend stale
// credentials, so a 419 from these routes goes straight back to the caller.
var DefaultExemptPaths = []string{
	"/login",
	"/register",
	"/password/reset",
	"/password/email",
	"/forgot-password",
	"/reset-password",
}

var (
	ErrRefreshFailed   = errors.New("csrfclient: token refresh failed")
	ErrRefreshRejected = errors.New("csrfclient: token refresh rejected by server")
	ErrNoRefreshURL    = errors.New("csrfclient: refresh url cannot be resolved")
)

// Config controls the recovery behaviour.
type Config struct {
	// BaseURL is the page origin (e.g. "https://app.example.com"). When empty
	// the refresh endpoint is resolved against the failing request's origin.
	BaseURL string

	// RefreshPath is the token-issuing endpoint, relative to BaseURL, or an
	// absolute URL.
	RefreshPath string

	// ExpiredStatus is the status code that triggers recovery.
	ExpiredStatus int

	// MaxAttempts bounds the number of refresh-and-retry rounds per request.
	MaxAttempts int

	// BaseDelay is multiplied by the attempt number before each retry.
	BaseDelay time.Duration

	// RefreshTimeout bounds a single call to the refresh endpoint.
	RefreshTimeout time.Duration

	// ExemptPaths are URL path substrings that disable retry wrapping.
	ExemptPaths []string

	// CoalesceRefresh shares a single in-flight refresh between concurrent
	// failing requests instead of letting each issue its own.
	CoalesceRefresh bool
}

// DefaultConfig returns the stock recovery settings.
func DefaultConfig() Config {
	return Config{
		RefreshPath:     DefaultRefreshPath,
		ExpiredStatus:   StatusTokenExpired,
		MaxAttempts:     DefaultMaxAttempts,
		BaseDelay:       DefaultBaseDelay,
		RefreshTimeout:  DefaultRefreshTimeout,
		ExemptPaths:     append([]string(nil), DefaultExemptPaths...),
		CoalesceRefresh: true,
	}
}

func (c Config) withDefaults() Config {
	d := DefaultConfig()
	if c.RefreshPath == "" {
		c.RefreshPath = d.RefreshPath
	}
	if c.ExpiredStatus == 0 {
		c.ExpiredStatus = d.ExpiredStatus
	}
	if c.MaxAttempts <= 0 {
		c.MaxAttempts = d.MaxAttempts
	}
	if c.BaseDelay < 0 {
		c.BaseDelay = 0
	}
	if c.RefreshTimeout <= 0 {
		c.RefreshTimeout = d.RefreshTimeout
	}
	if c.ExemptPaths == nil {
		c.ExemptPaths = d.ExemptPaths
	}
	return c
}

// refreshURL resolves the refresh endpoint. origin is the URL of the request
// that triggered the refresh and may be nil.
func (c Config) refreshURL(origin *url.URL) (string, error) {
	ref, err := url.Parse(c.RefreshPath)
	if err != nil {
		return "", err
	}
	if ref.IsAbs() {
		return ref.String(), nil
	}

	base := origin
	if c.BaseURL != "" {
		base, err = url.Parse(c.BaseURL)
		if err != nil {
			return "", err
		}
	}
	if base == nil || base.Scheme == "" || base.Host == "" {
		return "", ErrNoRefreshURL
	}
	root := &url.URL{Scheme: base.Scheme, Host: base.Host, User: base.User}
	return root.ResolveReference(ref).String(), nil
}

// ExemptMatcher reports whether a URL targets an exempt route.
type ExemptMatcher []string

// Match reports whether u's path contains any exempt substring.
func (m ExemptMatcher) Match(u *url.URL) bool {
	if u == nil {
		return false
	}
	for _, p := range m {
		if p != "" && strings.Contains(u.Path, p) {
			return true
		}
	}
	return false
}
