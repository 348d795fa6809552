package infrastructure

import (
	"bytes"
	"context"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.opentelemetry.io/otel"

	"isxlicense/internal/config"
)

// TestOTelInitialization tests OpenTelemetry initialization
func TestOTelInitialization(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{}, "info")

	providers, err := InitializeOTel(nil, logger)
	require.NoError(t, err)
	require.NotNil(t, providers)

	assert.Nil(t, providers.TracerProvider, "default trace exporter is none")
	assert.NotNil(t, providers.MeterProvider)
	assert.NotNil(t, providers.Meter)
	assert.NotNil(t, providers.PrometheusHTTP)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	assert.NoError(t, providers.Shutdown(ctx))
}

// TestOTelReinitialization tests that providers can be built repeatedly
func TestOTelReinitialization(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{}, "info")
	for i := 0; i < 2; i++ {
		providers, err := InitializeOTel(DefaultOTelConfig(), logger)
		require.NoError(t, err)
		require.NoError(t, providers.Shutdown(context.Background()))
	}
}

// TestUnsupportedExporters tests configuration errors
func TestUnsupportedExporters(t *testing.T) {
	logger := NewLogger(&bytes.Buffer{}, "info")

	cfg := DefaultOTelConfig()
	cfg.TraceExporter = "jaeger"
	_, err := InitializeOTel(cfg, logger)
	assert.Error(t, err)

	cfg = DefaultOTelConfig()
	cfg.MetricExporter = "statsd"
	_, err = InitializeOTel(cfg, logger)
	assert.Error(t, err)
}

// TestOTelConfigFrom tests mapping from the telemetry config section
func TestOTelConfigFrom(t *testing.T) {
	cfg := OTelConfigFrom(config.TelemetryConfig{
		Environment:    "production",
		TraceExporter:  "stdout",
		MetricExporter: "none",
		SampleRatio:    0.25,
	})
	assert.Equal(t, "production", cfg.Environment)
	assert.True(t, cfg.EnableTracing)
	assert.False(t, cfg.EnableMetrics)
	assert.Equal(t, 0.25, cfg.SampleRatio)
}

// TestPrometheusHandler tests that recorded metrics are exposed
func TestPrometheusHandler(t *testing.T) {
	providers, err := InitializeOTel(DefaultOTelConfig(), NewLogger(&bytes.Buffer{}, "info"))
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	metrics, err := CreateHTTPMetrics(providers.Meter)
	require.NoError(t, err)
	metrics.RequestsTotal.Add(context.Background(), 3)

	rec := httptest.NewRecorder()
	providers.PrometheusHTTP.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))

	assert.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), "http_requests_total")
}

// TestSpanHelpers tests span helpers against a live tracer
func TestSpanHelpers(t *testing.T) {
	cfg := DefaultOTelConfig()
	cfg.TraceExporter = "stdout"
	cfg.EnableTracing = true
	cfg.MetricExporter = "none"
	cfg.EnableMetrics = false

	providers, err := InitializeOTel(cfg, NewLogger(&bytes.Buffer{}, "info"))
	require.NoError(t, err)
	defer providers.Shutdown(context.Background())

	ctx, span := otel.Tracer("test").Start(context.Background(), "op")
	defer span.End()

	assert.Len(t, TraceIDFromContext(ctx), 32)
	assert.Empty(t, TraceIDFromContext(context.Background()))

	// must not panic on a recording span or a no-op one
	AddSpanEvent(ctx, "evt", map[string]interface{}{"a": "b", "n": 1, "f": 1.5, "ok": true, "x": struct{}{}})
	SetSpanAttributes(ctx, map[string]interface{}{"k": int64(2)})
	RecordError(ctx, assert.AnError)
	AddSpanEvent(context.Background(), "noop", nil)
}
