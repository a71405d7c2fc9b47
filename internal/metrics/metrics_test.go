package metrics

import (
	"errors"
	"testing"
	"time"

	"github.com/ahwlsqja/csrf-recovery/pkg/csrfclient"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
)

var _ csrfclient.Observer = ClientObserver{}

func TestMetricsRegistration(t *testing.T) {
	assert.NotNil(t, SessionsStarted)
	assert.NotNil(t, SessionsRepaired)
	assert.NotNil(t, TokenRejections)
	assert.NotNil(t, TokensIssued)
	assert.NotNil(t, ClientRetries)
	assert.NotNil(t, ClientRefreshes)
	assert.NotNil(t, ClientExhausted)
}

func TestClientObserver(t *testing.T) {
	var o ClientObserver

	retries := testutil.ToFloat64(ClientRetries)
	ok := testutil.ToFloat64(ClientRefreshes.WithLabelValues("success"))
	failed := testutil.ToFloat64(ClientRefreshes.WithLabelValues("failure"))
	exhausted := testutil.ToFloat64(ClientExhausted)

	o.RetryScheduled(1, time.Second)
	o.RefreshCompleted(nil)
	o.RefreshCompleted(errors.New("boom"))
	o.RetriesExhausted()

	assert.Equal(t, retries+1, testutil.ToFloat64(ClientRetries))
	assert.Equal(t, ok+1, testutil.ToFloat64(ClientRefreshes.WithLabelValues("success")))
	assert.Equal(t, failed+1, testutil.ToFloat64(ClientRefreshes.WithLabelValues("failure")))
	assert.Equal(t, exhausted+1, testutil.ToFloat64(ClientExhausted))
}
