package logger

import (
	"bytes"
	"context"
	"errors"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestParseLevel(t *testing.T) {
	tests := []struct {
		in   string
		want slog.Level
	}{
		{"debug", slog.LevelDebug},
		{"INFO", slog.LevelInfo},
		{"warning", slog.LevelWarn},
		{"warn", slog.LevelWarn},
		{"error", slog.LevelError},
		{"bogus", slog.LevelInfo},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			assert.Equal(t, tt.want, parseLevel(tt.in))
		})
	}
}

func TestWithContext_AddsScopeAttributes(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "info", "json")

	ctx := SetContextValue(context.Background(), TenantIDKey, "t1")
	ctx = SetContextValue(ctx, ProjectIDKey, "p1")

	log.InfoContext(ctx, "scoped message")

	out := buf.String()
	assert.Contains(t, out, `"tenant_id":"t1"`)
	assert.Contains(t, out, `"project_id":"p1"`)
	assert.Equal(t, "t1", GetTenantID(ctx))
	assert.Equal(t, "p1", GetProjectID(ctx))
}

func TestWithContext_EmptyContextReturnsSameLogger(t *testing.T) {
	log := Nop()
	assert.Same(t, log, log.WithContext(context.Background()))
}

func TestWithError(t *testing.T) {
	var buf bytes.Buffer
	log := NewWithWriter(&buf, "debug", "text")

	assert.Same(t, log, log.WithError(nil))

	log.WithError(errors.New("boom")).WithComponent("feed").Warn("fetch failed")
	assert.Contains(t, buf.String(), "error=boom")
	assert.Contains(t, buf.String(), "component=feed")
}
