package csrf

import (
	"net/http"
	"strings"
)

const (
	DefaultHeaderName  = "X-CSRF-TOKEN"
	DefaultFieldName   = "_token"
	DefaultRefreshPath = "/refresh-csrf"
)

// Config controls token verification and the refresh endpoint.
type Config struct {
	HeaderName  string
	FieldName   string
	RefreshPath string

	// Except lists path prefixes that skip verification (webhooks and the like).
	Except []string

	// RefreshRate is the sustained refreshes per second allowed per session.
	RefreshRate float64
	// RefreshBurst is the number of refreshes allowed back to back.
	RefreshBurst int
	// TrackedSessions bounds how many per-session limiters are kept in memory.
	TrackedSessions int
}

func (c Config) withDefaults() Config {
	if c.HeaderName == "" {
		c.HeaderName = DefaultHeaderName
	}
	if c.FieldName == "" {
		c.FieldName = DefaultFieldName
	}
	if c.RefreshPath == "" {
		c.RefreshPath = DefaultRefreshPath
	}
	if c.RefreshRate <= 0 {
		c.RefreshRate = 1
	}
	if c.RefreshBurst <= 0 {
		c.RefreshBurst = 5
	}
	if c.TrackedSessions <= 0 {
		c.TrackedSessions = 10000
	}
	return c
}

func (c Config) exempt(path string) bool {
	for _, prefix := range c.Except {
		if prefix != "" && strings.HasPrefix(path, prefix) {
			return true
		}
	}
	return false
}

func safeMethod(method string) bool {
	switch method {
	case http.MethodGet, http.MethodHead, http.MethodOptions:
		return true
	}
	return false
}
