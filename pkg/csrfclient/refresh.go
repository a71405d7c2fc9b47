package csrfclient

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"

	gjson "github.com/goccy/go-json"
	"go.uber.org/zap"
)

const maxRefreshBody = 1 << 20

// refreshResponse is the payload of the token-issuing endpoint.
type refreshResponse struct {
	Success   bool   `json:"success"`
	CSRFToken string `json:"csrf_token"`
	Message   string `json:"message,omitempty"`
}

// RefreshToken fetches a fresh token from the configured endpoint and, on
// success, stores it in the token state. On failure the state is untouched.
func (c *Client) RefreshToken(ctx context.Context) (string, error) {
	if ctx == nil {
		ctx = context.Background()
	}
	return c.refresh(ctx, nil)
}

func (c *Client) refresh(ctx context.Context, origin *url.URL) (string, error) {
	target, err := c.cfg.refreshURL(origin)
	if err != nil {
		c.logger.Error("cannot resolve refresh endpoint", zap.String("path", c.cfg.RefreshPath), zap.Error(err))
		c.observer.RefreshCompleted(err)
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}

	var token string
	if c.cfg.CoalesceRefresh {
		// The shared call must not die with whichever caller started it.
		// Only the caller that ran it reports the outcome.
		v, sfErr, shared := c.group.Do(target, func() (any, error) {
			tok, ferr := c.fetchToken(context.WithoutCancel(ctx), target)
			c.observer.RefreshCompleted(ferr)
			return tok, ferr
		})
		if shared {
			c.logger.Debug("joined in-flight token refresh", zap.String("url", target))
		}
		err = sfErr
		token, _ = v.(string)
	} else {
		token, err = c.fetchToken(ctx, target)
		c.observer.RefreshCompleted(err)
	}

	if err != nil {
		c.logger.Warn("csrf token refresh failed", zap.String("url", target), zap.Error(err))
		return "", err
	}

	c.state.Set(token)
	c.logger.Debug("csrf token refreshed", zap.String("url", target))
	return token, nil
}

func (c *Client) fetchToken(ctx context.Context, target string) (string, error) {
	ctx, cancel := context.WithTimeout(ctx, c.cfg.RefreshTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, target, nil)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	req.Header.Set("Accept", "application/json")
	req.Header.Set("X-Requested-With", "XMLHttpRequest")

	hc := &http.Client{Transport: c.base, Jar: c.jar}
	resp, err := hc.Do(req)
	if err != nil {
		return "", fmt.Errorf("%w: %w", ErrRefreshFailed, err)
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		_, _ = io.Copy(io.Discard, io.LimitReader(resp.Body, maxRefreshBody))
		return "", fmt.Errorf("%w: status %d", ErrRefreshFailed, resp.StatusCode)
	}

	var payload refreshResponse
	if err := gjson.NewDecoder(io.LimitReader(resp.Body, maxRefreshBody)).Decode(&payload); err != nil {
		return "", fmt.Errorf("%w: decode response: %w", ErrRefreshFailed, err)
	}
	if !payload.Success || payload.CSRFToken == "" {
		if payload.Message != "" {
			return "", fmt.Errorf("%w: %s", ErrRefreshRejected, payload.Message)
		}
		return "", ErrRefreshRejected
	}
	return payload.CSRFToken, nil
}
