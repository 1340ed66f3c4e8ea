package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/liamcoop/grl/internal/logger"
)

// TestObserveExecution verifies execution observations reach the collectors
func TestObserveExecution(t *testing.T) {
	m := New()
	m.ObserveExecution("acme", 3*time.Millisecond, 2, 4)
	m.ObserveExecution("acme", time.Millisecond, 1, 1)

	assert.Equal(t, 5.0, testutil.ToFloat64(m.rulesFired.WithLabelValues("acme")))
	assert.Equal(t, 1, testutil.CollectAndCount(m.executionDuration))
}

// TestCounterFuncsTrackLogger verifies logger counters are read at scrape time
func TestCounterFuncsTrackLogger(t *testing.T) {
	m := New()
	before := logger.Executions.Load()
	logger.RecordExecution(0, false)

	count, err := testutil.GatherAndCount(m.Registry(), "grl_executions_total")
	require.NoError(t, err)
	assert.Equal(t, 1, count)

	c := counterFunc("probe_total", "probe", &logger.Executions)
	assert.Equal(t, float64(before+1), testutil.ToFloat64(c))
}

// TestHandler verifies the scrape endpoint serves the text format
func TestHandler(t *testing.T) {
	m := New()
	m.ObserveRequest(http.MethodGet, "/api/v1/health", http.StatusOK, time.Millisecond)

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), `grl_http_request_duration_seconds_count{method="GET",route="/api/v1/health",status="200"} 1`)
	assert.Contains(t, string(body), "grl_log_errors_total")
	assert.Contains(t, string(body), "go_goroutines")
}
