package csrfclient

import (
	"context"
	"errors"
	"io"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/goleak"
	"go.uber.org/zap/zaptest"
)

func TestMain(m *testing.M) {
	goleak.VerifyTestMain(m,
		goleak.IgnoreTopFunction("net/http.(*persistConn).readLoop"),
		goleak.IgnoreTopFunction("net/http.(*persistConn).writeLoop"),
		goleak.IgnoreTopFunction("internal/poll.runtime_pollWait"),
	)
}

type roundTripFunc func(*http.Request) (*http.Response, error)

func (f roundTripFunc) RoundTrip(r *http.Request) (*http.Response, error) { return f(r) }

// delayRecorder stands in for the backoff wait.
type delayRecorder struct {
	mu     sync.Mutex
	delays []time.Duration
}

func (r *delayRecorder) sleep(_ context.Context, d time.Duration) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.delays = append(r.delays, d)
	return nil
}

func (r *delayRecorder) recorded() []time.Duration {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]time.Duration(nil), r.delays...)
}

// fakeApp is a stand-in application server with a refresh endpoint.
type fakeApp struct {
	refreshCalls atomic.Int32
	orderCalls   atomic.Int32
	loginCalls   atomic.Int32

	mu            sync.Mutex
	orderHeaders  []string
	orderBodies   []string
	refreshStatus int
	refreshBody   string
	orders        func(call int32, r *http.Request) (int, string)
}

// refreshCounter counts reported refresh outcomes.
type refreshCounter struct {
	completed atomic.Int32
}

func (r *refreshCounter) RetryScheduled(int, time.Duration) {}
func (r *refreshCounter) RefreshCompleted(error)            { r.completed.Add(1) }
func (r *refreshCounter) RetriesExhausted()                 {}

func newFakeApp(t *testing.T) (*fakeApp, *httptest.Server) {
	t.Helper()
	app := &fakeApp{
		refreshStatus: http.StatusOK,
		refreshBody:   `{"success":true,"csrf_token":"abc123"}`,
		orders: func(int32, *http.Request) (int, string) {
			return StatusTokenExpired, `{"message":"CSRF token mismatch."}`
		},
	}

	mux := http.NewServeMux()
	mux.HandleFunc(DefaultRefreshPath, func(w http.ResponseWriter, r *http.Request) {
		app.refreshCalls.Add(1)
		app.mu.Lock()
		status, body := app.refreshStatus, app.refreshBody
		app.mu.Unlock()
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, body)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		call := app.orderCalls.Add(1)
		body, _ := io.ReadAll(r.Body)
		app.mu.Lock()
		app.orderHeaders = append(app.orderHeaders, r.Header.Get(HeaderName))
		app.orderBodies = append(app.orderBodies, string(body))
		handle := app.orders
		app.mu.Unlock()
		status, payload := handle(call, r)
		w.Header().Set("Content-Type", "application/json")
		w.WriteHeader(status)
		_, _ = io.WriteString(w, payload)
	})
	mux.HandleFunc("/login", func(w http.ResponseWriter, r *http.Request) {
		app.loginCalls.Add(1)
		w.WriteHeader(StatusTokenExpired)
	})

	srv := httptest.NewServer(mux)
	t.Cleanup(srv.Close)
	return app, srv
}

func (a *fakeApp) headers() []string {
	a.mu.Lock()
	defer a.mu.Unlock()
	return append([]string(nil), a.orderHeaders...)
}

func newTestClient(t *testing.T, srv *httptest.Server, rec *delayRecorder, notified chan struct{}, opts ...Option) *Client {
	t.Helper()
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL

	all := []Option{
		WithLogger(zaptest.NewLogger(t)),
		WithBaseTransport(srv.Client().Transport),
		WithSleep(rec.sleep),
		WithNotifier(NotifierFunc(func(context.Context) { notified <- struct{}{} })),
	}
	return New(cfg, NewTokenState("stale"), append(all, opts...)...)
}

func waitNotified(t *testing.T, notified chan struct{}) {
	t.Helper()
	select {
	case <-notified:
	case <-time.After(2 * time.Second):
		t.Fatal("expected expiry notice")
	}
}

func assertNotNotified(t *testing.T, notified chan struct{}) {
	t.Helper()
	select {
	case <-notified:
		t.Fatal("unexpected expiry notice")
	case <-time.After(50 * time.Millisecond):
	}
}

func get(t *testing.T, c *Client, url string) *http.Response {
	t.Helper()
	req, err := http.NewRequest(http.MethodGet, url, nil)
	require.NoError(t, err)
	resp, err := c.Dispatch(context.Background(), req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func TestDispatch_RecoversAfterOneRefresh(t *testing.T) {
	app, srv := newFakeApp(t)
	app.orders = func(call int32, r *http.Request) (int, string) {
		if call == 1 {
			return StatusTokenExpired, `{}`
		}
		return http.StatusOK, `{"data":[{"id":1}]}`
	}
	rec := &delayRecorder{}
	notified := make(chan struct{}, 1)
	c := newTestClient(t, srv, rec, notified)

	resp := get(t, c, srv.URL+"/orders")

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"data":[{"id":1}]}`, string(body))
	assert.Equal(t, int32(1), app.refreshCalls.Load())
	assert.Equal(t, int32(2), app.orderCalls.Load())
	assert.Equal(t, []string{"stale", "abc123"}, app.headers())
	assert.Equal(t, []time.Duration{time.Second}, rec.recorded())
	assert.Equal(t, "abc123", c.State().Token())
	assertNotNotified(t, notified)
}

func TestDispatch_ExhaustsAfterMaxAttempts(t *testing.T) {
	app, srv := newFakeApp(t)
	rec := &delayRecorder{}
	notified := make(chan struct{}, 1)
	c := newTestClient(t, srv, rec, notified)

	resp := get(t, c, srv.URL+"/orders")

	assert.Equal(t, StatusTokenExpired, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), "CSRF token mismatch")
	assert.Equal(t, int32(3), app.refreshCalls.Load())
	assert.Equal(t, int32(4), app.orderCalls.Load())
	assert.Equal(t, []time.Duration{time.Second, 2 * time.Second, 3 * time.Second}, rec.recorded())
	waitNotified(t, notified)
}

func TestDispatch_ExemptPathNotRetried(t *testing.T) {
	app, srv := newFakeApp(t)
	rec := &delayRecorder{}
	notified := make(chan struct{}, 1)
	c := newTestClient(t, srv, rec, notified)

	resp := get(t, c, srv.URL+"/login")

	assert.Equal(t, StatusTokenExpired, resp.StatusCode)
	assert.Equal(t, int32(1), app.loginCalls.Load())
	assert.Zero(t, app.refreshCalls.Load())
	assert.Empty(t, rec.recorded())
	assertNotNotified(t, notified)
}

func TestDispatch_RefreshEndpointFailing(t *testing.T) {
	app, srv := newFakeApp(t)
	app.refreshStatus = http.StatusInternalServerError
	app.refreshBody = `{"success":false}`
	rec := &delayRecorder{}
	notified := make(chan struct{}, 1)
	c := newTestClient(t, srv, rec, notified)

	resp := get(t, c, srv.URL+"/orders")

	assert.Equal(t, StatusTokenExpired, resp.StatusCode)
	assert.Equal(t, int32(3), app.refreshCalls.Load())
	assert.Equal(t, int32(4), app.orderCalls.Load())
	assert.Len(t, rec.recorded(), 3)
	assert.Equal(t, "stale", c.State().Token())
	waitNotified(t, notified)
}

func TestDispatch_OtherStatusReturnedUnmodified(t *testing.T) {
	app, srv := newFakeApp(t)
	app.orders = func(int32, *http.Request) (int, string) {
		return http.StatusUnprocessableEntity, `{"error":"invalid"}`
	}
	rec := &delayRecorder{}
	c := newTestClient(t, srv, rec, make(chan struct{}, 1))

	resp := get(t, c, srv.URL+"/orders")

	assert.Equal(t, http.StatusUnprocessableEntity, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.JSONEq(t, `{"error":"invalid"}`, string(body))
	assert.Zero(t, app.refreshCalls.Load())
	assert.Empty(t, rec.recorded())
}

func TestDispatch_TransportErrorPropagates(t *testing.T) {
	boom := errors.New("connection refused")
	var refreshed atomic.Int32
	base := roundTripFunc(func(r *http.Request) (*http.Response, error) {
		if r.URL.Path == DefaultRefreshPath {
			refreshed.Add(1)
		}
		return nil, boom
	})
	cfg := DefaultConfig()
	cfg.BaseURL = "http://app.test"
	rec := &delayRecorder{}
	c := New(cfg, nil, WithBaseTransport(base), WithSleep(rec.sleep))

	req, err := http.NewRequest(http.MethodGet, "http://app.test/orders", nil)
	require.NoError(t, err)
	resp, err := c.Dispatch(context.Background(), req)

	assert.Nil(t, resp)
	assert.ErrorIs(t, err, boom)
	assert.Zero(t, refreshed.Load())
	assert.Empty(t, rec.recorded())
}

func TestDispatch_ReplaysBodyAndHeaders(t *testing.T) {
	app, srv := newFakeApp(t)
	app.orders = func(call int32, r *http.Request) (int, string) {
		if call == 1 {
			return StatusTokenExpired, `{}`
		}
		if r.Header.Get("X-Trace") != "t-1" {
			return http.StatusBadRequest, `{}`
		}
		return http.StatusCreated, `{"data":{"id":7}}`
	}
	rec := &delayRecorder{}
	c := newTestClient(t, srv, rec, make(chan struct{}, 1))

	req, err := http.NewRequest(http.MethodPost, srv.URL+"/orders", strings.NewReader(`{"item":"bibimbap"}`))
	require.NoError(t, err)
	req.Header.Set("X-Trace", "t-1")
	req.Header.Set("Content-Type", "application/json")
	resp, err := c.Dispatch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusCreated, resp.StatusCode)
	app.mu.Lock()
	defer app.mu.Unlock()
	assert.Equal(t, []string{`{"item":"bibimbap"}`, `{"item":"bibimbap"}`}, app.orderBodies)
	assert.Equal(t, []string{"stale", "abc123"}, app.orderHeaders)
}

func TestDispatch_ExplicitHeaderReplacedOnRetry(t *testing.T) {
	app, srv := newFakeApp(t)
	app.orders = func(call int32, r *http.Request) (int, string) {
		if r.Header.Get(HeaderName) != "abc123" {
			return StatusTokenExpired, `{}`
		}
		return http.StatusOK, `{}`
	}
	c := newTestClient(t, srv, &delayRecorder{}, make(chan struct{}, 1))

	req, err := http.NewRequest(http.MethodDelete, srv.URL+"/orders", nil)
	require.NoError(t, err)
	req.Header.Set(HeaderName, "from-caller")
	resp, err := c.Dispatch(context.Background(), req)
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, []string{"from-caller", "abc123"}, app.headers())
}

func TestDispatch_BackoffHonorsContext(t *testing.T) {
	_, srv := newFakeApp(t)
	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	cfg.BaseDelay = time.Hour
	c := New(cfg, nil, WithBaseTransport(srv.Client().Transport))

	ctx, cancel := context.WithTimeout(context.Background(), 100*time.Millisecond)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/orders", nil)
	require.NoError(t, err)

	_, err = c.Dispatch(ctx, req)
	assert.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDispatch_ConcurrentRefreshes(t *testing.T) {
	tests := []struct {
		name     string
		coalesce bool
	}{
		{name: "independent", coalesce: false},
		{name: "coalesced", coalesce: true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			var refreshes atomic.Int32
			release := make(chan struct{})
			mux := http.NewServeMux()
			mux.HandleFunc(DefaultRefreshPath, func(w http.ResponseWriter, r *http.Request) {
				refreshes.Add(1)
				<-release
				_, _ = io.WriteString(w, `{"success":true,"csrf_token":"fresh"}`)
			})
			var expired atomic.Int32
			mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
				if r.Header.Get(HeaderName) != "fresh" {
					expired.Add(1)
					w.WriteHeader(StatusTokenExpired)
					return
				}
				w.WriteHeader(http.StatusOK)
			})
			srv := httptest.NewServer(mux)
			defer srv.Close()

			cfg := DefaultConfig()
			cfg.BaseURL = srv.URL
			cfg.CoalesceRefresh = tt.coalesce
			counter := &refreshCounter{}
			c := New(cfg, nil,
				WithBaseTransport(srv.Client().Transport),
				WithSleep((&delayRecorder{}).sleep),
				WithObserver(counter),
			)

			const n = 5
			var wg sync.WaitGroup
			statuses := make(chan int, n)
			for i := 0; i < n; i++ {
				wg.Add(1)
				go func() {
					defer wg.Done()
					req, _ := http.NewRequest(http.MethodGet, srv.URL+"/orders", nil)
					resp, err := c.Dispatch(context.Background(), req)
					if err != nil {
						statuses <- -1
						return
					}
					resp.Body.Close()
					statuses <- resp.StatusCode
				}()
			}

			require.Eventually(t, func() bool { return expired.Load() == n }, 2*time.Second, 5*time.Millisecond)
			if tt.coalesce {
				require.Eventually(t, func() bool { return refreshes.Load() >= 1 }, 2*time.Second, 5*time.Millisecond)
			} else {
				require.Eventually(t, func() bool { return refreshes.Load() == n }, 2*time.Second, 5*time.Millisecond)
			}
			time.Sleep(50 * time.Millisecond)
			close(release)
			wg.Wait()
			close(statuses)

			for status := range statuses {
				assert.Equal(t, http.StatusOK, status)
			}
			if tt.coalesce {
				assert.Equal(t, int32(1), refreshes.Load())
			} else {
				assert.Equal(t, int32(n), refreshes.Load())
			}
			assert.Equal(t, refreshes.Load(), counter.completed.Load())
		})
	}
}

func TestInstall_Idempotent(t *testing.T) {
	app, srv := newFakeApp(t)
	app.orders = func(call int32, r *http.Request) (int, string) {
		if call == 1 {
			return StatusTokenExpired, `{}`
		}
		return http.StatusOK, `{}`
	}
	c := newTestClient(t, srv, &delayRecorder{}, make(chan struct{}, 1))

	hc := &http.Client{Transport: srv.Client().Transport}
	c.Install(hc)
	first := hc.Transport
	c.Install(hc)

	require.True(t, Installed(hc))
	assert.Same(t, first, hc.Transport)

	resp, err := hc.Get(srv.URL + "/orders")
	require.NoError(t, err)
	defer resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, int32(1), app.refreshCalls.Load())
	assert.Equal(t, int32(2), app.orderCalls.Load())
}

func TestInstall_NilClient(t *testing.T) {
	c := New(DefaultConfig(), nil)
	hc := c.Install(nil)
	require.NotNil(t, hc)
	assert.True(t, Installed(hc))

	tr := c.Transport(hc.Transport)
	assert.NotSame(t, hc.Transport, tr)
	assert.Same(t, hc.Transport.(*Transport).base, tr.base)
}

func TestInstall_RebindsOtherClient(t *testing.T) {
	_, srv := newFakeApp(t)
	base := srv.Client().Transport
	first := newTestClient(t, srv, &delayRecorder{}, make(chan struct{}, 1))
	second := newTestClient(t, srv, &delayRecorder{}, make(chan struct{}, 1))

	hc := &http.Client{Transport: base}
	first.Install(hc)
	second.Install(hc)

	tr, ok := hc.Transport.(*Transport)
	require.True(t, ok)
	assert.Same(t, second, tr.Client())
	assert.Equal(t, base, tr.base)
}

func TestInstall_AdoptsClientJar(t *testing.T) {
	var refreshCookie atomic.Value
	refreshCookie.Store("")
	mux := http.NewServeMux()
	mux.HandleFunc("/", func(w http.ResponseWriter, r *http.Request) {
		http.SetCookie(w, &http.Cookie{Name: "app_session", Value: "s-1", Path: "/"})
	})
	mux.HandleFunc(DefaultRefreshPath, func(w http.ResponseWriter, r *http.Request) {
		if ck, err := r.Cookie("app_session"); err == nil {
			refreshCookie.Store(ck.Value)
		}
		_, _ = io.WriteString(w, `{"success":true,"csrf_token":"fresh"}`)
	})
	mux.HandleFunc("/orders", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get(HeaderName) != "fresh" {
			w.WriteHeader(StatusTokenExpired)
			return
		}
		w.WriteHeader(http.StatusOK)
	})
	srv := httptest.NewServer(mux)
	defer srv.Close()

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{Transport: srv.Client().Transport, Jar: jar}
	resp, err := hc.Get(srv.URL + "/")
	require.NoError(t, err)
	resp.Body.Close()

	cfg := DefaultConfig()
	cfg.BaseURL = srv.URL
	c := New(cfg, NewTokenState("stale"), WithBaseTransport(srv.Client().Transport), WithSleep((&delayRecorder{}).sleep))
	c.Install(hc)
	assert.Same(t, jar, hc.Jar)

	resp, err = hc.Get(srv.URL + "/orders")
	require.NoError(t, err)
	resp.Body.Close()

	assert.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "s-1", refreshCookie.Load())
}
