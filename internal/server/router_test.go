package server

import (
	"context"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/config"
	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"github.com/ahwlsqja/csrf-recovery/internal/order"
	"github.com/ahwlsqja/csrf-recovery/internal/session"
	"github.com/ahwlsqja/csrf-recovery/pkg/csrfclient"
	"github.com/ahwlsqja/csrf-recovery/pkg/notice"
	"github.com/ahwlsqja/csrf-recovery/pkg/page"
	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func init() {
	gin.SetMode(gin.TestMode)
}

type testServer struct {
	*httptest.Server
	mr *miniredis.Miniredis
}

func newTestServer(t *testing.T, csrfCfg config.CSRFConfig) *testServer {
	t.Helper()
	mr := miniredis.RunT(t)
	rdb := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = rdb.Close() })

	logger := zaptest.NewLogger(t)
	if csrfCfg.RefreshRate == 0 {
		csrfCfg.RefreshRate = 100
		csrfCfg.RefreshBurst = 100
	}
	cfg := &config.Config{
		Server:  config.ServerConfig{Port: 8080, Environment: "test"},
		Session: config.SessionConfig{CookieName: "app_session", Lifetime: time.Hour},
		CSRF:    csrfCfg,
	}

	router, err := NewRouter(Deps{
		Config:   cfg,
		Logger:   logger,
		Redis:    rdb,
		Sessions: session.NewRedisStore(rdb, logger),
		Orders:   order.NewMemoryRepository(),
	})
	require.NoError(t, err)

	srv := httptest.NewServer(router)
	t.Cleanup(srv.Close)
	return &testServer{Server: srv, mr: mr}
}

type browser struct {
	http   *http.Client
	client *csrfclient.Client
	doc    *page.Document
	board  *notice.Board
}

// openPage loads the order form and wires a recovery client to it the way a
// browser page would: the document is the token target and shows notices.
func openPage(t *testing.T, srv *testServer, cfg csrfclient.Config) *browser {
	t.Helper()
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)

	resp, err := (&http.Client{Jar: jar}).Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	doc, err := page.Parse(resp.Body)
	require.NoError(t, err)
	require.True(t, session.ValidToken(doc.Token()))

	logger := zaptest.NewLogger(t)
	board := notice.NewBoard(notice.Config{}, doc.NoticeHooks(nil), logger)
	client := csrfclient.New(cfg, csrfclient.NewTokenState(doc.Token(), doc),
		csrfclient.WithCookieJar(jar),
		csrfclient.WithNotifier(board),
		csrfclient.WithObserver(metrics.ClientObserver{}),
		csrfclient.WithLogger(logger),
		csrfclient.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)

	return &browser{
		http:   client.Install(&http.Client{Jar: jar}),
		client: client,
		doc:    doc,
		board:  board,
	}
}

func (b *browser) placeOrder(t *testing.T, srv *testServer) *http.Response {
	t.Helper()
	resp, err := b.http.Post(srv.URL+"/api/v1/orders", "application/json",
		strings.NewReader(`{"item":"espresso beans","quantity":1}`))
	require.NoError(t, err)
	t.Cleanup(func() { _ = resp.Body.Close() })
	return resp
}

func clientConfig(srv *testServer) csrfclient.Config {
	cfg := csrfclient.DefaultConfig()
	cfg.BaseURL = srv.URL
	return cfg
}

func TestRouter_Probes(t *testing.T) {
	srv := newTestServer(t, config.CSRFConfig{})

	for _, path := range []string{"/health", "/ready", "/metrics"} {
		resp, err := http.Get(srv.URL + path)
		require.NoError(t, err)
		resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode, path)
	}
}

func TestRouter_RejectsWithoutToken(t *testing.T) {
	srv := newTestServer(t, config.CSRFConfig{})

	resp, err := http.Post(srv.URL+"/api/v1/orders", "application/json",
		strings.NewReader(`{"item":"x","quantity":1}`))
	require.NoError(t, err)
	defer resp.Body.Close()
	assert.Equal(t, 419, resp.StatusCode)
}

func TestRecovery_SessionExpired(t *testing.T) {
	srv := newTestServer(t, config.CSRFConfig{})
	b := openPage(t, srv, clientConfig(srv))
	before := b.doc.Token()

	require.Equal(t, http.StatusCreated, b.placeOrder(t, srv).StatusCode)

	// The session outlives its lifetime while the page stays open.
	srv.mr.FastForward(2 * time.Hour)

	resp := b.placeOrder(t, srv)
	assert.Equal(t, http.StatusCreated, resp.StatusCode)

	after := b.doc.Token()
	assert.NotEqual(t, before, after)
	assert.Equal(t, []string{after}, b.doc.HiddenTokens())
	assert.Empty(t, b.doc.NoticeID())

	// Orders placed under the new session are visible to it.
	list, err := b.http.Get(srv.URL + "/api/v1/orders")
	require.NoError(t, err)
	defer list.Body.Close()
	assert.Equal(t, http.StatusOK, list.StatusCode)
}

func TestRecovery_InstalledIntoClientWithJar(t *testing.T) {
	srv := newTestServer(t, config.CSRFConfig{})
	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	hc := &http.Client{Jar: jar}

	resp, err := hc.Get(srv.URL + "/")
	require.NoError(t, err)
	defer resp.Body.Close()
	doc, err := page.Parse(resp.Body)
	require.NoError(t, err)
	before := doc.Token()

	// The recovery client is given no jar of its own.
	client := csrfclient.New(clientConfig(srv), csrfclient.NewTokenState(before, doc),
		csrfclient.WithLogger(zaptest.NewLogger(t)),
		csrfclient.WithSleep(func(context.Context, time.Duration) error { return nil }),
	)
	b := &browser{http: client.Install(hc), client: client, doc: doc}
	require.Same(t, jar, b.http.Jar)

	require.Equal(t, http.StatusCreated, b.placeOrder(t, srv).StatusCode)

	srv.mr.FastForward(2 * time.Hour)

	assert.Equal(t, http.StatusCreated, b.placeOrder(t, srv).StatusCode)
	assert.NotEqual(t, before, doc.Token())
}

func TestRecovery_ExhaustedShowsNotice(t *testing.T) {
	srv := newTestServer(t, config.CSRFConfig{RefreshRate: 0.0001, RefreshBurst: 1})
	b := openPage(t, srv, clientConfig(srv))

	// Spend the only refresh the server allows, then lose the token.
	tokenResp, err := b.http.Get(srv.URL + "/refresh-csrf")
	require.NoError(t, err)
	tokenResp.Body.Close()
	require.Equal(t, http.StatusOK, tokenResp.StatusCode)

	bogus := strings.Repeat("0", session.TokenLength)
	b.client.State().Set(bogus)
	require.Equal(t, bogus, b.doc.Token())

	resp := b.placeOrder(t, srv)
	assert.Equal(t, 419, resp.StatusCode)

	require.Eventually(t, func() bool { return b.doc.NoticeID() != "" }, time.Second, 10*time.Millisecond)
	assert.Len(t, b.board.Active(), 1)
	assert.Contains(t, b.doc.String(), notice.ExpiredMessage)
}
