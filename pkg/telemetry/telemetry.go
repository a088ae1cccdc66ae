// Package telemetry provides OpenTelemetry tracing for the alert feed, the
// assistant stream and the feed simulator.
package telemetry

import (
	"context"
	"fmt"
	"net/http"
	"os"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracegrpc"
	"go.opentelemetry.io/otel/exporters/otlp/otlptrace/otlptracehttp"
	"go.opentelemetry.io/otel/exporters/stdout/stdouttrace"
	"go.opentelemetry.io/otel/propagation"
	"go.opentelemetry.io/otel/sdk/resource"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	semconv "go.opentelemetry.io/otel/semconv/v1.24.0"
	"go.opentelemetry.io/otel/trace"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
)

// Config holds configuration for telemetry.
type Config struct {
	ServiceName    string
	ServiceVersion string
	Environment    string
	Enabled        bool

	// Exporter configuration
	ExporterType ExporterType // stdout, otlp_grpc, otlp_http
	OTLPEndpoint string       // OTLP collector endpoint
	OTLPInsecure bool         // Use insecure connection (for dev)

	// Sampling
	SampleRate float64 // 0.0 to 1.0

	// Resource attributes
	Attributes map[string]string
}

// ExporterType defines the type of trace exporter.
type ExporterType string

const (
	ExporterStdout   ExporterType = "stdout"
	ExporterOTLPGRPC ExporterType = "otlp_grpc"
	ExporterOTLPHTTP ExporterType = "otlp_http"
)

// Provider wraps the OpenTelemetry TracerProvider.
type Provider struct {
	cfg      *Config
	provider *sdktrace.TracerProvider
	tracer   trace.Tracer
}

// DefaultConfig returns default telemetry configuration.
func DefaultConfig() *Config {
	return &Config{
		ServiceName:    "threatwatch",
		ServiceVersion: "0.1.0",
		Environment:    os.Getenv("TW_ENV"),
		Enabled:        true,
		ExporterType:   ExporterStdout,
		SampleRate:     1.0,
		Attributes:     make(map[string]string),
	}
}

// FromConfig builds a telemetry config from application configuration.
func FromConfig(cfg config.TelemetryConfig, version, env string) *Config {
	c := DefaultConfig()
	c.Enabled = cfg.Enabled
	if cfg.ServiceName != "" {
		c.ServiceName = cfg.ServiceName
	}
	if version != "" {
		c.ServiceVersion = version
	}
	c.Environment = env
	c.ExporterType = ExporterType(cfg.Exporter)
	c.OTLPEndpoint = cfg.OTLPEndpoint
	c.OTLPInsecure = cfg.OTLPInsecure
	c.SampleRate = cfg.SampleRate
	return c
}

// NewProvider creates a new telemetry provider.
func NewProvider(cfg *Config) (*Provider, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}

	if !cfg.Enabled {
		return &Provider{
			cfg:    cfg,
			tracer: otel.Tracer(cfg.ServiceName),
		}, nil
	}

	// Create resource
	res, err := resource.Merge(
		resource.Default(),
		resource.NewWithAttributes(
			semconv.SchemaURL,
			semconv.ServiceName(cfg.ServiceName),
			semconv.ServiceVersion(cfg.ServiceVersion),
			semconv.DeploymentEnvironment(cfg.Environment),
		),
	)
	if err != nil {
		return nil, fmt.Errorf("failed to create resource: %w", err)
	}

	// Add custom attributes
	for k, v := range cfg.Attributes {
		res, _ = resource.Merge(res, resource.NewWithAttributes(
			semconv.SchemaURL,
			attribute.String(k, v),
		))
	}

	// Create exporter
	exporter, err := createExporter(cfg)
	if err != nil {
		return nil, fmt.Errorf("failed to create exporter: %w", err)
	}

	// Create sampler
	var sampler sdktrace.Sampler
	if cfg.SampleRate >= 1.0 {
		sampler = sdktrace.AlwaysSample()
	} else if cfg.SampleRate <= 0.0 {
		sampler = sdktrace.NeverSample()
	} else {
		sampler = sdktrace.TraceIDRatioBased(cfg.SampleRate)
	}

	// Create TracerProvider
	tp := sdktrace.NewTracerProvider(
		sdktrace.WithBatcher(exporter),
		sdktrace.WithResource(res),
		sdktrace.WithSampler(sampler),
	)

	// Set global TracerProvider
	otel.SetTracerProvider(tp)

	// Set global propagator
	otel.SetTextMapPropagator(propagation.NewCompositeTextMapPropagator(
		propagation.TraceContext{},
		propagation.Baggage{},
	))

	return &Provider{
		cfg:      cfg,
		provider: tp,
		tracer:   tp.Tracer(cfg.ServiceName),
	}, nil
}

func createExporter(cfg *Config) (sdktrace.SpanExporter, error) {
	ctx := context.Background()

	switch cfg.ExporterType {
	case ExporterOTLPGRPC:
		opts := []otlptracegrpc.Option{
			otlptracegrpc.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracegrpc.WithInsecure())
		}
		return otlptracegrpc.New(ctx, opts...)

	case ExporterOTLPHTTP:
		opts := []otlptracehttp.Option{
			otlptracehttp.WithEndpoint(cfg.OTLPEndpoint),
		}
		if cfg.OTLPInsecure {
			opts = append(opts, otlptracehttp.WithInsecure())
		}
		return otlptracehttp.New(ctx, opts...)

	case ExporterStdout:
		fallthrough
	default:
		return stdouttrace.New(
			stdouttrace.WithPrettyPrint(),
		)
	}
}

// Shutdown gracefully shuts down the telemetry provider.
func (p *Provider) Shutdown(ctx context.Context) error {
	if p.provider != nil {
		return p.provider.Shutdown(ctx)
	}
	return nil
}

// Tracer returns the configured tracer.
func (p *Provider) Tracer() trace.Tracer {
	return p.tracer
}

// Span represents a traced operation.
type Span struct {
	trace.Span
	ctx context.Context
}

// StartSpan is a convenience function to start a span.
func StartSpan(ctx context.Context, name string, opts ...trace.SpanStartOption) (context.Context, *Span) {
	ctx, span := otel.Tracer("").Start(ctx, name, opts...)
	return ctx, &Span{Span: span, ctx: ctx}
}

// SetError records an error on the span.
func (s *Span) SetError(err error) {
	s.RecordError(err)
	s.SetStatus(codes.Error, err.Error())
}

// SetOK marks the span as successful.
func (s *Span) SetOK() {
	s.SetStatus(codes.Ok, "")
}

// HTTPMiddleware returns middleware that traces HTTP requests.
func HTTPMiddleware(serviceName string) func(next http.Handler) http.Handler {
	tracer := otel.Tracer(serviceName)
	propagator := otel.GetTextMapPropagator()

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			// Extract trace context from incoming headers
			ctx := propagator.Extract(r.Context(), propagation.HeaderCarrier(r.Header))

			// Start span
			spanName := fmt.Sprintf("%s %s", r.Method, r.URL.Path)
			ctx, span := tracer.Start(ctx, spanName,
				trace.WithSpanKind(trace.SpanKindServer),
				trace.WithAttributes(
					semconv.HTTPRequestMethodKey.String(r.Method),
					semconv.URLFull(r.URL.String()),
					semconv.HTTPRouteKey.String(r.URL.Path),
					semconv.UserAgentOriginal(r.UserAgent()),
					semconv.ServerAddress(r.Host),
				),
			)
			defer span.End()

			// Wrap response writer
			rw := &responseRecorder{ResponseWriter: w, statusCode: http.StatusOK}

			// Serve request
			next.ServeHTTP(rw, r.WithContext(ctx))

			// Record response
			span.SetAttributes(semconv.HTTPResponseStatusCode(rw.statusCode))

			if rw.statusCode >= 400 {
				span.SetStatus(codes.Error, http.StatusText(rw.statusCode))
			} else {
				span.SetStatus(codes.Ok, "")
			}
		})
	}
}

type responseRecorder struct {
	http.ResponseWriter
	statusCode int
}

func (rr *responseRecorder) WriteHeader(code int) {
	rr.statusCode = code
	rr.ResponseWriter.WriteHeader(code)
}

// FeedFetchSpan starts a span for one poll of the alert feed.
func FeedFetchSpan(ctx context.Context, endpoint, tenantID string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, "feed.fetch",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		semconv.HTTPRequestMethodKey.String(http.MethodPost),
		semconv.URLFull(endpoint),
		attribute.String("tenant.id", tenantID),
	)
	return ctx, span
}

// AssistantStreamSpan starts a span covering a whole streamed assistant response.
func AssistantStreamSpan(ctx context.Context, endpoint string, selectedAlerts, historyLen int) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, "assistant.stream",
		trace.WithSpanKind(trace.SpanKindClient),
	)
	span.SetAttributes(
		semconv.URLFull(endpoint),
		attribute.Int("assistant.selected_alerts", selectedAlerts),
		attribute.Int("assistant.history_length", historyLen),
	)
	return ctx, span
}

// RecordStreamUsage records what a streamed response delivered.
func RecordStreamUsage(span *Span, chunks, bytes int, latencyMs int64) {
	span.SetAttributes(
		attribute.Int("assistant.chunks", chunks),
		attribute.Int("assistant.bytes", bytes),
		attribute.Int64("assistant.latency_ms", latencyMs),
	)
}

// NotificationSpan starts a span for publishing a high-severity notification.
func NotificationSpan(ctx context.Context, sink, severity string) (context.Context, *Span) {
	ctx, span := StartSpan(ctx, fmt.Sprintf("notify.%s", sink),
		trace.WithSpanKind(trace.SpanKindProducer),
	)
	span.SetAttributes(
		attribute.String("notify.sink", sink),
		attribute.String("alert.severity", severity),
	)
	return ctx, span
}

// GetTraceID returns the trace ID from context.
func GetTraceID(ctx context.Context) string {
	span := trace.SpanFromContext(ctx)
	if span.SpanContext().IsValid() {
		return span.SpanContext().TraceID().String()
	}
	return ""
}

// InjectHTTPHeaders injects trace context into HTTP headers for outgoing requests.
func InjectHTTPHeaders(ctx context.Context, headers http.Header) {
	otel.GetTextMapPropagator().Inject(ctx, propagation.HeaderCarrier(headers))
}
