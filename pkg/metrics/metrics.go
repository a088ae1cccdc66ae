// Package metrics provides Prometheus instrumentation for the alert feed, the
// assistant stream, notifications and the feed simulator.
package metrics

import (
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/prometheus/client_golang/prometheus/promauto"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const namespace = "threatwatch"

// Feed poll outcomes.
const (
	PollReceived  = "received"
	PollEmpty     = "empty"
	PollDuplicate = "duplicate"
	PollFailed    = "failed"
	PollSkipped   = "skipped"
)

// Assistant stream outcomes.
const (
	StreamCompleted = "completed"
	StreamFailed    = "failed"
	StreamCancelled = "cancelled"
)

// Metrics holds every collector. The zero value is not usable; a nil
// *Metrics is, and records nothing.
type Metrics struct {
	registry *prometheus.Registry

	FeedPolls         *prometheus.CounterVec
	FeedFetchDuration prometheus.Histogram
	AlertsIngested    *prometheus.CounterVec

	AssistantStreams        *prometheus.CounterVec
	AssistantTokens         prometheus.Counter
	AssistantStreamDuration prometheus.Histogram

	Notifications *prometheus.CounterVec

	AlertsGenerated     *prometheus.CounterVec
	HTTPRequestsTotal   *prometheus.CounterVec
	HTTPRequestDuration *prometheus.HistogramVec
}

// New registers the collectors on a fresh registry that also carries the Go
// runtime and process collectors.
func New() *Metrics {
	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	return NewWith(reg)
}

// NewWith registers the collectors on reg and serves reg from Handler.
func NewWith(reg *prometheus.Registry) *Metrics {
	f := promauto.With(reg)
	return &Metrics{
		registry: reg,

		FeedPolls: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feed_polls_total",
			Help:      "Alert feed polls by outcome",
		}, []string{"outcome"}),
		FeedFetchDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "feed_fetch_duration_seconds",
			Help:      "Duration of create-alert requests",
			Buckets:   []float64{0.01, 0.05, 0.1, 0.25, 0.5, 1, 2.5, 5},
		}),
		AlertsIngested: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "alerts_ingested_total",
			Help:      "Alerts added to the repository by source and severity",
		}, []string{"source", "severity"}),

		AssistantStreams: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_streams_total",
			Help:      "Assistant streams by outcome",
		}, []string{"outcome"}),
		AssistantTokens: f.NewCounter(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "assistant_tokens_total",
			Help:      "Decoded chunks delivered from assistant streams",
		}),
		AssistantStreamDuration: f.NewHistogram(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "assistant_stream_duration_seconds",
			Help:      "Duration of assistant streams",
			Buckets:   []float64{0.1, 0.5, 1, 2, 5, 10, 30, 60, 120},
		}),

		Notifications: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "notifications_total",
			Help:      "High-severity notifications raised",
		}, []string{"severity"}),

		AlertsGenerated: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "feedsim_alerts_generated_total",
			Help:      "Alerts generated by the feed simulator",
		}, []string{"tenant", "severity"}),
		HTTPRequestsTotal: f.NewCounterVec(prometheus.CounterOpts{
			Namespace: namespace,
			Name:      "http_requests_total",
			Help:      "HTTP requests processed",
		}, []string{"method", "route", "status_code"}),
		HTTPRequestDuration: f.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: namespace,
			Name:      "http_request_duration_seconds",
			Help:      "HTTP request duration in seconds",
			Buckets:   prometheus.DefBuckets,
		}, []string{"method", "route"}),
	}
}

// Handler serves the registry in the Prometheus exposition format.
func (m *Metrics) Handler() http.Handler {
	return promhttp.HandlerFor(m.registry, promhttp.HandlerOpts{})
}

// ObservePoll records one feed poll.
func (m *Metrics) ObservePoll(outcome string, took time.Duration) {
	if m == nil {
		return
	}
	m.FeedPolls.WithLabelValues(outcome).Inc()
	if outcome != PollSkipped {
		m.FeedFetchDuration.Observe(took.Seconds())
	}
}

// ObserveIngest records an alert accepted into the repository.
func (m *Metrics) ObserveIngest(source, severity string) {
	if m == nil {
		return
	}
	m.AlertsIngested.WithLabelValues(source, severity).Inc()
}

// ObserveStream records one finished assistant stream.
func (m *Metrics) ObserveStream(outcome string, tokens int, took time.Duration) {
	if m == nil {
		return
	}
	m.AssistantStreams.WithLabelValues(outcome).Inc()
	m.AssistantTokens.Add(float64(tokens))
	m.AssistantStreamDuration.Observe(took.Seconds())
}

// ObserveNotification records a raised notification.
func (m *Metrics) ObserveNotification(severity string) {
	if m == nil {
		return
	}
	m.Notifications.WithLabelValues(severity).Inc()
}

// ObserveGenerated records an alert produced by the feed simulator.
func (m *Metrics) ObserveGenerated(tenantID, severity string) {
	if m == nil {
		return
	}
	m.AlertsGenerated.WithLabelValues(tenantID, severity).Inc()
}

// HTTPMiddleware counts requests by chi route pattern.
func (m *Metrics) HTTPMiddleware(next http.Handler) http.Handler {
	if m == nil {
		return next
	}
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		route := r.URL.Path
		if rctx := chi.RouteContext(r.Context()); rctx != nil {
			if pattern := rctx.RoutePattern(); pattern != "" {
				route = pattern
			}
		}
		status := ww.Status()
		if status == 0 {
			status = http.StatusOK
		}

		m.HTTPRequestsTotal.WithLabelValues(r.Method, route, strconv.Itoa(status)).Inc()
		m.HTTPRequestDuration.WithLabelValues(r.Method, route).Observe(time.Since(start).Seconds())
	})
}
