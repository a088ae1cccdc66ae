package metrics

import (
	"io"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestMetrics() *Metrics {
	reg := prometheus.NewRegistry()
	return NewWith(reg)
}

func TestObservePoll(t *testing.T) {
	m := newTestMetrics()

	m.ObservePoll(PollReceived, 20*time.Millisecond)
	m.ObservePoll(PollReceived, 30*time.Millisecond)
	m.ObservePoll(PollFailed, time.Second)
	m.ObservePoll(PollSkipped, 0)

	assert.Equal(t, 2.0, testutil.ToFloat64(m.FeedPolls.WithLabelValues(PollReceived)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedPolls.WithLabelValues(PollFailed)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.FeedPolls.WithLabelValues(PollSkipped)))
	assert.Equal(t, 1, testutil.CollectAndCount(m.FeedFetchDuration))
}

func TestObserveStream(t *testing.T) {
	m := newTestMetrics()

	m.ObserveStream(StreamCompleted, 12, time.Second)
	m.ObserveStream(StreamFailed, 3, time.Second)

	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssistantStreams.WithLabelValues(StreamCompleted)))
	assert.Equal(t, 1.0, testutil.ToFloat64(m.AssistantStreams.WithLabelValues(StreamFailed)))
	assert.Equal(t, 15.0, testutil.ToFloat64(m.AssistantTokens))
}

func TestNilMetricsRecordNothing(t *testing.T) {
	var m *Metrics
	assert.NotPanics(t, func() {
		m.ObservePoll(PollReceived, time.Second)
		m.ObserveIngest("feed", "High")
		m.ObserveStream(StreamCompleted, 1, time.Second)
		m.ObserveNotification("Critical")
		m.ObserveGenerated("t1", "Low")
	})

	next := http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {})
	assert.NotNil(t, m.HTTPMiddleware(next))
}

func TestHTTPMiddlewareUsesRoutePattern(t *testing.T) {
	m := newTestMetrics()

	r := chi.NewRouter()
	r.Use(m.HTTPMiddleware)
	r.Get("/alerts/{id}", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	})

	for _, id := range []string{"a-1", "a-2"} {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/alerts/"+id, nil))
		require.Equal(t, http.StatusTeapot, rec.Code)
	}

	assert.Equal(t, 2.0, testutil.ToFloat64(m.HTTPRequestsTotal.WithLabelValues(http.MethodGet, "/alerts/{id}", "418")))
}

func TestHandlerExposesCollectors(t *testing.T) {
	m := newTestMetrics()
	m.ObserveNotification("Critical")
	m.ObserveIngest("kafka", "High")

	rec := httptest.NewRecorder()
	m.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.True(t, strings.Contains(string(body), `threatwatch_notifications_total{severity="Critical"} 1`))
	assert.True(t, strings.Contains(string(body), `threatwatch_alerts_ingested_total{severity="High",source="kafka"} 1`))
}
