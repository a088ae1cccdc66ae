package telemetry

import (
	"context"
	"errors"
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
	sdktrace "go.opentelemetry.io/otel/sdk/trace"
	"go.opentelemetry.io/otel/sdk/trace/tracetest"

	"github.com/quantumlayerhq/ql-threatwatch/pkg/config"
)

func installRecorder(t *testing.T) *tracetest.SpanRecorder {
	t.Helper()
	rec := tracetest.NewSpanRecorder()
	tp := sdktrace.NewTracerProvider(sdktrace.WithSpanProcessor(rec))
	prev := otel.GetTracerProvider()
	otel.SetTracerProvider(tp)
	t.Cleanup(func() {
		otel.SetTracerProvider(prev)
		_ = tp.Shutdown(context.Background())
	})
	return rec
}

func attrMap(attrs []attribute.KeyValue) map[string]string {
	m := make(map[string]string, len(attrs))
	for _, kv := range attrs {
		m[string(kv.Key)] = kv.Value.Emit()
	}
	return m
}

func TestFeedFetchSpan(t *testing.T) {
	rec := installRecorder(t)

	_, span := FeedFetchSpan(context.Background(), "http://feed/api/create-alert", "t1")
	span.SetError(errors.New("status 500"))
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "feed.fetch", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "t1", attrs["tenant.id"])
	assert.Equal(t, "http://feed/api/create-alert", attrs["url.full"])
}

func TestAssistantStreamSpan(t *testing.T) {
	rec := installRecorder(t)

	_, span := AssistantStreamSpan(context.Background(), "http://chat", 2, 4)
	RecordStreamUsage(span, 7, 120, 35)
	span.SetOK()
	span.End()

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "assistant.stream", spans[0].Name())

	attrs := attrMap(spans[0].Attributes())
	assert.Equal(t, "2", attrs["assistant.selected_alerts"])
	assert.Equal(t, "4", attrs["assistant.history_length"])
	assert.Equal(t, "7", attrs["assistant.chunks"])
	assert.Equal(t, "120", attrs["assistant.bytes"])
}

func TestHTTPMiddleware_RecordsStatus(t *testing.T) {
	rec := installRecorder(t)

	h := HTTPMiddleware("feedsim")(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNotFound)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodPost, "/api/create-alert", nil))

	spans := rec.Ended()
	require.Len(t, spans, 1)
	assert.Equal(t, "POST /api/create-alert", spans[0].Name())
	assert.Equal(t, codes.Error, spans[0].Status().Code)
}

func TestFromConfig(t *testing.T) {
	c := FromConfig(config.TelemetryConfig{
		Enabled:      true,
		ServiceName:  "threatwatch-test",
		Exporter:     "otlp_http",
		OTLPEndpoint: "collector:4318",
		SampleRate:   0.5,
	}, "1.2.3", "staging")

	assert.True(t, c.Enabled)
	assert.Equal(t, "threatwatch-test", c.ServiceName)
	assert.Equal(t, "1.2.3", c.ServiceVersion)
	assert.Equal(t, "staging", c.Environment)
	assert.Equal(t, ExporterOTLPHTTP, c.ExporterType)
	assert.Equal(t, 0.5, c.SampleRate)
}

func TestNewProvider_Disabled(t *testing.T) {
	p, err := NewProvider(&Config{ServiceName: "threatwatch", Enabled: false})
	require.NoError(t, err)
	assert.NotNil(t, p.Tracer())
	assert.NoError(t, p.Shutdown(context.Background()))
}
