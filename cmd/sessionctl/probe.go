package main

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/http/cookiejar"
	"os"
	"strings"
	"sync"
	"time"

	"github.com/ahwlsqja/csrf-recovery/internal/metrics"
	"github.com/ahwlsqja/csrf-recovery/pkg/csrfclient"
	"github.com/ahwlsqja/csrf-recovery/pkg/notice"
	"github.com/ahwlsqja/csrf-recovery/pkg/page"
	gjson "github.com/goccy/go-json"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/net/publicsuffix"
)

const (
	maxBodyPreview = 4 << 10
	noticeWait     = 2 * time.Second
)

type probeOptions struct {
	Method      string
	URL         string
	Data        string
	ContentType string
	// PageURL is fetched first to pick up the session cookie and the token
	// embedded in the page. Empty skips the bootstrap.
	PageURL string
	Timeout time.Duration

	Client    csrfclient.Config
	NoticeTTL time.Duration
}

type probeResult struct {
	Status    int    `json:"status"`
	Token     string `json:"token,omitempty"`
	Retries   int    `json:"retries"`
	Refreshes int    `json:"refreshes"`
	Exhausted bool   `json:"exhausted"`
	Notice    string `json:"notice,omitempty"`
	Body      string `json:"body,omitempty"`
}

func newProbeCmd() *cobra.Command {
	var (
		data        string
		contentType string
		pageURL     string
		attempts    int
		delay       time.Duration
	)

	cmd := &cobra.Command{
		Use:   "probe <method> <url>",
		Short: "Send a request through the CSRF recovery client",
		Long: `Send a single request through the CSRF recovery client and report how it
was recovered: refreshes, retries and whether the user would have been told
to reload the page.`,
		Example: `  sessionctl probe POST http://localhost:8080/api/v1/orders --data '{"item":"beans","quantity":1}'`,
		Args:    cobra.ExactArgs(2),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig()
			if err != nil {
				return err
			}

			clientCfg := csrfclient.DefaultConfig()
			clientCfg.BaseURL = cfg.Client.BaseURL
			clientCfg.RefreshPath = cfg.CSRF.RefreshPath
			clientCfg.MaxAttempts = cfg.Client.MaxAttempts
			clientCfg.BaseDelay = cfg.Client.BaseDelay
			clientCfg.CoalesceRefresh = cfg.Client.Coalesce
			if cmd.Flags().Changed("attempts") {
				clientCfg.MaxAttempts = attempts
			}
			if cmd.Flags().Changed("delay") {
				clientCfg.BaseDelay = delay
			}
			if !cmd.Flags().Changed("page") {
				pageURL = strings.TrimRight(cfg.Client.BaseURL, "/") + "/"
			}

			opts := probeOptions{
				Method:      strings.ToUpper(args[0]),
				URL:         args[1],
				Data:        data,
				ContentType: contentType,
				PageURL:     pageURL,
				Timeout:     cfg.Client.Timeout,
				Client:      clientCfg,
				NoticeTTL:   cfg.Client.NoticeTTL,
			}

			result, err := runProbe(cmd.Context(), os.Stderr, opts, newLogger())
			if err != nil {
				errorColor.Fprintln(os.Stderr, "✗ "+err.Error())
				return err
			}
			return printProbe(result, clientCfg.ExpiredStatus)
		},
	}

	cmd.Flags().StringVarP(&data, "data", "d", "", "Request body")
	cmd.Flags().StringVar(&contentType, "content-type", "application/json", "Content-Type of --data")
	cmd.Flags().StringVar(&pageURL, "page", "", "Page to load first for the session cookie and token (default: client base URL)")
	cmd.Flags().IntVar(&attempts, "attempts", csrfclient.DefaultMaxAttempts, "Maximum refresh-and-retry rounds")
	cmd.Flags().DurationVar(&delay, "delay", csrfclient.DefaultBaseDelay, "Base retry delay")
	return cmd
}

// probeObserver counts recovery events, echoes them to the terminal and
// forwards them to the Prometheus collectors.
type probeObserver struct {
	mu        sync.Mutex
	out       io.Writer
	retries   int
	refreshes int
	exhausted bool
	metrics   metrics.ClientObserver
}

func (o *probeObserver) RetryScheduled(attempt int, delay time.Duration) {
	o.mu.Lock()
	o.retries++
	o.mu.Unlock()
	infoColor.Fprintf(o.out, "↻ retry %d in %s\n", attempt, delay)
	o.metrics.RetryScheduled(attempt, delay)
}

func (o *probeObserver) RefreshCompleted(err error) {
	o.mu.Lock()
	o.refreshes++
	o.mu.Unlock()
	if err != nil {
		warningColor.Fprintf(o.out, "! token refresh failed: %v\n", err)
	} else {
		infoColor.Fprintln(o.out, "↻ token refreshed")
	}
	o.metrics.RefreshCompleted(err)
}

func (o *probeObserver) RetriesExhausted() {
	o.mu.Lock()
	o.exhausted = true
	o.mu.Unlock()
	o.metrics.RetriesExhausted()
}

func runProbe(ctx context.Context, out io.Writer, opts probeOptions, logger *zap.Logger) (probeResult, error) {
	var result probeResult

	jar, err := cookiejar.New(&cookiejar.Options{PublicSuffixList: publicsuffix.List})
	if err != nil {
		return result, err
	}

	var sinks []csrfclient.Sink
	var doc *page.Document
	token := ""
	if opts.PageURL != "" {
		doc, err = loadPage(ctx, jar, opts.PageURL, opts.Timeout)
		if err != nil {
			return result, err
		}
		token = doc.Token()
		sinks = append(sinks, doc)
	}
	state := csrfclient.NewTokenState(token, sinks...)

	hooks := notice.Hooks{}
	if doc != nil {
		hooks = doc.NoticeHooks(nil)
	}
	show := hooks.OnShow
	hooks.OnShow = func(n notice.Notice) {
		if show != nil {
			show(n)
		}
		warningColor.Fprintf(out, "! %s [%s]\n", n.Message, n.ActionLabel)
	}
	board := notice.NewBoard(notice.Config{VisibleFor: opts.NoticeTTL}, hooks, logger)

	shown := make(chan notice.Notice, 1)
	notifier := csrfclient.NotifierFunc(func(ctx context.Context) {
		board.NotifyExpired(ctx)
		if active := board.Active(); len(active) > 0 {
			shown <- active[0]
		}
	})

	observer := &probeObserver{out: out}
	client := csrfclient.New(opts.Client, state,
		csrfclient.WithCookieJar(jar),
		csrfclient.WithNotifier(notifier),
		csrfclient.WithObserver(observer),
		csrfclient.WithLogger(logger),
	)
	hc := client.Install(&http.Client{Jar: jar, Timeout: opts.Timeout})

	var body io.Reader
	if opts.Data != "" {
		body = strings.NewReader(opts.Data)
	}
	req, err := http.NewRequestWithContext(ctx, opts.Method, opts.URL, body)
	if err != nil {
		return result, err
	}
	if opts.Data != "" && opts.ContentType != "" {
		req.Header.Set("Content-Type", opts.ContentType)
	}
	req.Header.Set("Accept", "application/json")

	resp, err := hc.Do(req)
	if err != nil {
		return result, err
	}
	defer resp.Body.Close()

	preview, err := io.ReadAll(io.LimitReader(resp.Body, maxBodyPreview))
	if err != nil {
		return result, err
	}

	observer.mu.Lock()
	result = probeResult{
		Status:    resp.StatusCode,
		Token:     state.Token(),
		Retries:   observer.retries,
		Refreshes: observer.refreshes,
		Exhausted: observer.exhausted,
		Body:      strings.TrimSpace(string(preview)),
	}
	observer.mu.Unlock()

	if result.Exhausted {
		select {
		case n := <-shown:
			result.Notice = n.Message
		case <-time.After(noticeWait):
		}
	}
	return result, nil
}

func loadPage(ctx context.Context, jar http.CookieJar, pageURL string, timeout time.Duration) (*page.Document, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, pageURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("Accept", "text/html")

	resp, err := (&http.Client{Jar: jar, Timeout: timeout}).Do(req)
	if err != nil {
		return nil, fmt.Errorf("load page: %w", err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("load page: unexpected status %d", resp.StatusCode)
	}
	return page.Parse(resp.Body)
}

func printProbe(result probeResult, expiredStatus int) error {
	if outputJSON {
		out, err := gjson.MarshalIndent(result, "", "  ")
		if err != nil {
			return err
		}
		fmt.Println(string(out))
		return nil
	}

	printHeader("Probe result")
	printField("Status", statusColor(result.Status, expiredStatus))
	printField("Refreshes", result.Refreshes)
	printField("Retries", result.Retries)
	if result.Token != "" {
		printField("Token", abbreviate(result.Token))
	}
	if result.Body != "" {
		printField("Body", result.Body)
	}

	switch {
	case result.Exhausted:
		errorColor.Println("✗ recovery exhausted, the user would be asked to reload")
	case result.Retries > 0:
		successColor.Println("✓ recovered after token refresh")
	default:
		successColor.Println("✓ no recovery needed")
	}
	return nil
}

func statusColor(status, expiredStatus int) string {
	switch {
	case status == expiredStatus:
		return errorColor.Sprint(status)
	case status >= 400:
		return warningColor.Sprint(status)
	default:
		return successColor.Sprint(status)
	}
}

func abbreviate(token string) string {
	if len(token) <= 12 {
		return token
	}
	return token[:6] + "…" + token[len(token)-6:]
}
