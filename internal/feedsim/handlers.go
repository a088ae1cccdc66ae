// Package feedsim serves the create-alert endpoint polled by the alert feed,
// generating a fresh alert for the requested tenant on every call.
package feedsim

import (
	"context"
	"encoding/json"
	"net/http"
	"time"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/alertgen"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/kafka"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/logger"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/metrics"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/multitenancy"
	"github.com/quantumlayerhq/ql-threatwatch/pkg/telemetry"
)

// Publisher publishes generated alerts. *kafka.Producer implements it.
type Publisher interface {
	PublishEvent(ctx context.Context, topic string, event kafka.Event) error
}

// Config holds the handler configuration.
type Config struct {
	// Catalog defaults to the demo tenants.
	Catalog   *multitenancy.Catalog
	Generator *alertgen.Generator
	Logger    *logger.Logger
	// Publisher is optional. When set, every generated alert is also
	// published as an alert.created event on Topic.
	Publisher Publisher
	Topic     string
	// Metrics is optional. When set, /metrics serves it.
	Metrics     *metrics.Metrics
	ServiceName string
	BuildInfo   BuildInfo
}

// BuildInfo contains build information.
type BuildInfo struct {
	Version   string
	BuildTime string
	GitCommit string
}

// Handler provides the feed simulator's HTTP handlers.
type Handler struct {
	catalog     *multitenancy.Catalog
	generator   *alertgen.Generator
	log         *logger.Logger
	publisher   Publisher
	topic       string
	metrics     *metrics.Metrics
	serviceName string
	buildInfo   BuildInfo
}

// New creates a new Handler.
func New(cfg Config) *Handler {
	log := cfg.Logger
	if log == nil {
		log = logger.Nop()
	}
	generator := cfg.Generator
	if generator == nil {
		generator = alertgen.New()
	}
	catalog := cfg.Catalog
	if catalog == nil {
		catalog = multitenancy.MustCatalog(multitenancy.DemoTenants())
	}
	serviceName := cfg.ServiceName
	if serviceName == "" {
		serviceName = "feedsim"
	}
	return &Handler{
		catalog:     catalog,
		generator:   generator,
		log:         log.WithComponent("feedsim"),
		publisher:   cfg.Publisher,
		topic:       cfg.Topic,
		metrics:     cfg.Metrics,
		serviceName: serviceName,
		buildInfo:   cfg.BuildInfo,
	}
}

// Router returns the HTTP router.
func (h *Handler) Router() http.Handler {
	r := chi.NewRouter()

	r.Use(chimw.RequestID)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(h.loggingMiddleware)
	r.Use(telemetry.HTTPMiddleware(h.serviceName))
	r.Use(h.metrics.HTTPMiddleware)
	r.Use(chimw.Timeout(60 * time.Second))

	r.MethodNotAllowed(func(w http.ResponseWriter, r *http.Request) {
		h.respond(w, http.StatusMethodNotAllowed, map[string]string{"error": "Method not allowed"})
	})

	r.Get("/health", h.healthCheck)
	if h.metrics != nil {
		r.Handle("/metrics", h.metrics.Handler())
	}

	r.Route("/api", func(r chi.Router) {
		r.With(multitenancy.NewMiddleware(h.catalog).RequireTenant()).
			Post("/create-alert", h.createAlert)
	})

	return r
}

func (h *Handler) loggingMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		ww := chimw.NewWrapResponseWriter(w, r.ProtoMajor)
		next.ServeHTTP(ww, r)

		h.log.Debug("http request",
			"method", r.Method,
			"path", r.URL.Path,
			"status", ww.Status(),
			"duration", time.Since(start),
			"request_id", chimw.GetReqID(r.Context()),
		)
	})
}

func (h *Handler) healthCheck(w http.ResponseWriter, r *http.Request) {
	h.respond(w, http.StatusOK, map[string]interface{}{
		"status":    "healthy",
		"service":   h.serviceName,
		"version":   h.buildInfo.Version,
		"timestamp": time.Now().UTC(),
	})
}

func (h *Handler) createAlert(w http.ResponseWriter, r *http.Request) {
	tenant := multitenancy.GetTenantFromContext(r.Context())
	if tenant == nil {
		h.respond(w, http.StatusBadRequest, map[string]string{"error": "tenantId is required"})
		return
	}

	alert, err := h.generator.Alert(*tenant)
	if err != nil {
		h.log.Error("failed to generate alert", "error", err, "tenant_id", tenant.ID)
		h.respond(w, http.StatusInternalServerError, map[string]string{"error": "Internal server error"})
		return
	}
	h.metrics.ObserveGenerated(alert.TenantID, string(alert.Severity))

	if h.publisher != nil {
		ev, err := kafka.NewEvent(kafka.EventAlertCreated, alert.TenantID, alert)
		if err == nil {
			err = h.publisher.PublishEvent(r.Context(), h.topic, ev)
		}
		if err != nil {
			h.log.Warn("failed to publish generated alert", "error", err, "alert_id", alert.ID)
		}
	}

	h.log.Debug("generated alert",
		"alert_id", alert.ID,
		"tenant_id", alert.TenantID,
		"project_id", alert.ProjectID,
		"severity", alert.Severity,
	)
	h.respond(w, http.StatusOK, alert)
}

func (h *Handler) respond(w http.ResponseWriter, status int, data interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(data); err != nil {
		h.log.Error("failed to encode response", "error", err)
	}
}
