package metrics

import (
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"
)

var (
	SessionsStarted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_sessions_started_total",
			Help: "Total number of sessions started",
		},
	)

	SessionsRepaired = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_sessions_repaired_total",
			Help: "Sessions fixed by the repair job",
		},
		[]string{"kind"},
	)

	TokenRejections = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_token_rejections_total",
			Help: "Requests rejected with 419",
		},
		[]string{"reason"},
	)

	TokensIssued = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_tokens_issued_total",
			Help: "Responses served by the token refresh endpoint",
		},
		[]string{"result"},
	)

	ClientRetries = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_client_retries_total",
			Help: "Requests replayed after a token refresh",
		},
	)

	ClientRetryDelay = promauto.NewHistogram(
		prometheus.HistogramOpts{
			Name:    "csrf_client_retry_delay_seconds",
			Help:    "Backoff applied before a replay",
			Buckets: []float64{0.5, 1, 2, 3, 5, 10},
		},
	)

	ClientRefreshes = promauto.NewCounterVec(
		prometheus.CounterOpts{
			Name: "csrf_client_refreshes_total",
			Help: "Token refresh calls made by the recovery client",
		},
		[]string{"result"},
	)

	ClientExhausted = promauto.NewCounter(
		prometheus.CounterOpts{
			Name: "csrf_client_exhausted_total",
			Help: "Requests that still failed after every retry",
		},
	)
)

// ClientObserver feeds recovery-client events into the collectors above.
// It satisfies csrfclient.Observer.
type ClientObserver struct{}

func (ClientObserver) RetryScheduled(_ int, delay time.Duration) {
	ClientRetries.Inc()
	ClientRetryDelay.Observe(delay.Seconds())
}

func (ClientObserver) RefreshCompleted(err error) {
	if err != nil {
		ClientRefreshes.WithLabelValues("failure").Inc()
		return
	}
	ClientRefreshes.WithLabelValues("success").Inc()
}

func (ClientObserver) RetriesExhausted() {
	ClientExhausted.Inc()
}
