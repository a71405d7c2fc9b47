package csrfclient

import (
	"bytes"
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
)

// retryContext is the per-request record needed to replay a request.
type retryContext struct {
	method  string
	url     *url.URL
	header  http.Header
	body    []byte
	getBody func() (io.ReadCloser, error)
	orig    *http.Request
	attempt int
}

func newRetryContext(req *http.Request) (*retryContext, error) {
	rc := &retryContext{
		method:  req.Method,
		url:     req.URL,
		header:  req.Header.Clone(),
		getBody: req.GetBody,
		orig:    req,
	}
	if rc.header == nil {
		rc.header = make(http.Header)
	}

	if req.Body != nil && req.Body != http.NoBody && req.GetBody == nil {
		body, err := io.ReadAll(req.Body)
		_ = req.Body.Close()
		if err != nil {
			return nil, fmt.Errorf("buffer request body: %w", err)
		}
		rc.body = body
	}
	return rc, nil
}

// request builds the outgoing request for the current attempt. The first
// attempt keeps explicitly set token headers; retries always carry the
// current token and, when a jar is known, the current cookies.
func (rc *retryContext) request(ctx context.Context, state *TokenState, jar http.CookieJar) (*http.Request, error) {
	out := rc.orig.Clone(ctx)
	out.Header = rc.header.Clone()

	switch {
	case rc.getBody != nil:
		if rc.attempt > 0 {
			body, err := rc.getBody()
			if err != nil {
				return nil, fmt.Errorf("rewind request body: %w", err)
			}
			out.Body = body
		}
	case rc.body != nil:
		out.Body = io.NopCloser(bytes.NewReader(rc.body))
		out.ContentLength = int64(len(rc.body))
		body := rc.body
		out.GetBody = func() (io.ReadCloser, error) {
			return io.NopCloser(bytes.NewReader(body)), nil
		}
	}

	retry := rc.attempt > 0
	state.applyDefaults(out.Header, retry)

	if retry && jar != nil {
		if cookies := jar.Cookies(rc.url); len(cookies) > 0 {
			out.Header.Del("Cookie")
			for _, ck := range cookies {
				out.AddCookie(ck)
			}
		}
	}
	return out, nil
}
