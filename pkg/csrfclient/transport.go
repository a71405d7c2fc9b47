package csrfclient

import (
	"net/http"
)

// Transport is the request hook: an http.RoundTripper that routes every
// request through the client's recovery loop before reaching Base.
type Transport struct {
	client *Client
	base   http.RoundTripper
}

// RoundTrip implements http.RoundTripper.
func (t *Transport) RoundTrip(req *http.Request) (*http.Response, error) {
	return t.client.dispatch(req, t.base)
}

// Client returns the recovery client behind the transport.
func (t *Transport) Client() *Client {
	return t.client
}

// Transport wraps base (or the client's own base transport when nil).
func (c *Client) Transport(base http.RoundTripper) *Transport {
	if base == nil {
		base = c.base
	}
	if t, ok := base.(*Transport); ok {
		base = t.base
	}
	return &Transport{client: c, base: base}
}

// Install hooks the client into hc so that every request made through hc
// is covered. A recovery transport that belongs to another client is
// replaced, keeping its base; reinstalling the same client is a no-op.
// The client and hc end up sharing one cookie jar: hc adopts the client's
// jar when it has none, otherwise the client adopts hc's for its refresh
// calls and retries. A nil hc gets a new http.Client.
func (c *Client) Install(hc *http.Client) *http.Client {
	if hc == nil {
		hc = &http.Client{}
	}
	if t, ok := hc.Transport.(*Transport); ok && t.client == c {
		return hc
	}
	hc.Transport = c.Transport(hc.Transport)
	switch {
	case hc.Jar == nil && c.jar != nil:
		hc.Jar = c.jar
	case c.jar == nil && hc.Jar != nil:
		c.jar = hc.Jar
	}
	return hc
}

// Installed reports whether hc already routes through a recovery transport.
func Installed(hc *http.Client) bool {
	if hc == nil {
		return false
	}
	_, ok := hc.Transport.(*Transport)
	return ok
}
