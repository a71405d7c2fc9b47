package csrfclient

import (
	"context"
	"io"
	"net/http"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/singleflight"
)

// Notifier tells the user that the session could not be recovered.
type Notifier interface {
	NotifyExpired(ctx context.Context)
}

// NotifierFunc adapts a function to the Notifier interface.
type NotifierFunc func(ctx context.Context)

// NotifyExpired calls f(ctx).
func (f NotifierFunc) NotifyExpired(ctx context.Context) { f(ctx) }

// Observer receives recovery events, typically to feed metrics.
type Observer interface {
	RetryScheduled(attempt int, delay time.Duration)
	RefreshCompleted(err error)
	RetriesExhausted()
}

type nopObserver struct{}

func (nopObserver) RetryScheduled(int, time.Duration) {}
func (nopObserver) RefreshCompleted(error)            {}
func (nopObserver) RetriesExhausted()                 {}

// Option configures a Client.
type Option func(*Client)

// WithLogger sets the logger. The default discards everything.
func WithLogger(logger *zap.Logger) Option {
	return func(c *Client) {
		if logger != nil {
			c.logger = logger
		}
	}
}

// WithBaseTransport sets the transport used for Dispatch and for the refresh call.
func WithBaseTransport(rt http.RoundTripper) Option {
	return func(c *Client) {
		if rt != nil {
			c.base = rt
		}
	}
}

// WithCookieJar shares a cookie jar between the refresh call and retried requests,
// so a session cookie rotated by the refresh endpoint reaches the retry.
func WithCookieJar(jar http.CookieJar) Option {
	return func(c *Client) { c.jar = jar }
}

// WithNotifier sets who is told when recovery fails.
func WithNotifier(n Notifier) Option {
	return func(c *Client) { c.notifier = n }
}

// WithObserver registers an event observer.
func WithObserver(o Observer) Option {
	return func(c *Client) {
		if o != nil {
			c.observer = o
		}
	}
}

// WithSleep replaces the backoff wait. Tests use it to avoid real delays.
func WithSleep(sleep func(ctx context.Context, d time.Duration) error) Option {
	return func(c *Client) {
		if sleep != nil {
			c.sleep = sleep
		}
	}
}

// Client recovers requests rejected because the anti-forgery token expired.
type Client struct {
	cfg      Config
	state    *TokenState
	exempt   ExemptMatcher
	base     http.RoundTripper
	jar      http.CookieJar
	notifier Notifier
	observer Observer
	logger   *zap.Logger
	sleep    func(ctx context.Context, d time.Duration) error
	group    singleflight.Group
}

// New creates a recovery client bound to state. A nil state starts empty.
func New(cfg Config, state *TokenState, opts ...Option) *Client {
	if state == nil {
		state = NewTokenState("")
	}
	cfg = cfg.withDefaults()
	c := &Client{
		cfg:      cfg,
		state:    state,
		exempt:   ExemptMatcher(cfg.ExemptPaths),
		base:     http.DefaultTransport,
		observer: nopObserver{},
		logger:   zap.NewNop(),
		sleep:    sleepContext,
	}
	for _, opt := range opts {
		opt(c)
	}
	return c
}

// State returns the token state the client reads from and refreshes.
func (c *Client) State() *TokenState {
	return c.state
}

// Config returns the effective configuration.
func (c *Client) Config() Config {
	return c.cfg
}

// Dispatch performs req through the base transport with token recovery.
func (c *Client) Dispatch(ctx context.Context, req *http.Request) (*http.Response, error) {
	if ctx != nil && ctx != req.Context() {
		req = req.WithContext(ctx)
	}
	return c.dispatch(req, c.base)
}

func (c *Client) dispatch(req *http.Request, base http.RoundTripper) (*http.Response, error) {
	ctx := req.Context()

	if c.exempt.Match(req.URL) {
		out := req.Clone(ctx)
		c.state.applyDefaults(out.Header, false)
		return base.RoundTrip(out)
	}

	rc, err := newRetryContext(req)
	if err != nil {
		return nil, err
	}

	for {
		out, err := rc.request(ctx, c.state, c.jar)
		if err != nil {
			return nil, err
		}

		resp, err := base.RoundTrip(out)
		if err != nil {
			return nil, err
		}
		if resp.StatusCode != c.cfg.ExpiredStatus {
			return resp, nil
		}

		rc.attempt++
		if rc.attempt > c.cfg.MaxAttempts {
			c.logger.Warn("csrf recovery exhausted",
				zap.String("method", rc.method),
				zap.String("url", rc.url.String()),
				zap.Int("attempts", c.cfg.MaxAttempts),
			)
			c.observer.RetriesExhausted()
			c.NotifyUserOfExpiry(ctx)
			return resp, nil
		}
		// The caller never sees this response, so keep any replacement
		// session cookie it carried.
		if c.jar != nil {
			if cookies := resp.Cookies(); len(cookies) > 0 {
				c.jar.SetCookies(rc.url, cookies)
			}
		}
		discard(resp)

		// Refresh failures are logged inside refresh; the attempt counter
		// still bounds the loop.
		_, _ = c.refresh(ctx, rc.url)

		delay := time.Duration(rc.attempt) * c.cfg.BaseDelay
		c.observer.RetryScheduled(rc.attempt, delay)
		c.logger.Debug("retrying after token refresh",
			zap.String("method", rc.method),
			zap.String("url", rc.url.String()),
			zap.Int("attempt", rc.attempt),
			zap.Duration("delay", delay),
		)
		if err := c.sleep(ctx, delay); err != nil {
			return nil, err
		}
	}
}

// NotifyUserOfExpiry tells the configured notifier that recovery failed.
// It returns immediately; the notifier runs on its own goroutine.
func (c *Client) NotifyUserOfExpiry(ctx context.Context) {
	if c.notifier == nil {
		return
	}
	if ctx == nil {
		ctx = context.Background()
	}
	go c.notifier.NotifyExpired(context.WithoutCancel(ctx))
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

// discard drains a bounded amount of the body so the connection can be reused.
func discard(resp *http.Response) {
	if resp == nil || resp.Body == nil {
		return
	}
	_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, 64<<10))
	_ = resp.Body.Close()
}
