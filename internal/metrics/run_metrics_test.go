package metrics

import (
	"context"
	"io"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunMetrics_Creation(t *testing.T) {
	t.Run("successfully create run metrics", func(t *testing.T) {
		metrics, err := NewRunMetrics()
		require.NoError(t, err)
		assert.NotNil(t, metrics)
		assert.NotNil(t, metrics.runsStartedCounter)
		assert.NotNil(t, metrics.runsAcceptedCounter)
		assert.NotNil(t, metrics.runsFailedCounter)
		assert.NotNil(t, metrics.runDurationHistogram)
		assert.NotNil(t, metrics.runIterations)
		assert.NotNil(t, metrics.runsActiveGauge)
		assert.NotNil(t, metrics.stepDuration)
		assert.NotNil(t, metrics.cacheHitsCounter)
	})
}

func TestRunMetrics_Lifecycle(t *testing.T) {
	metrics, err := NewRunMetrics()
	require.NoError(t, err)
	ctx := context.Background()

	t.Run("accepted run", func(t *testing.T) {
		assert.NotPanics(t, func() {
			metrics.RecordRunStarted(ctx, OriginAPI)
			metrics.RecordStep(ctx, "generating", 2*time.Second)
			metrics.RecordStep(ctx, "validating", time.Second)
			metrics.RecordRunAccepted(ctx, OriginAPI, 1, 3*time.Second)
		})
	})

	t.Run("failed runs across origins", func(t *testing.T) {
		for _, origin := range []string{OriginAPI, OriginWebSocket, OriginCLI} {
			metrics.RecordRunStarted(ctx, origin)
			metrics.RecordRunFailed(ctx, origin, "max_iterations_exceeded", 5, time.Minute)
		}
	})

	t.Run("cache hit", func(t *testing.T) {
		assert.NotPanics(t, func() {
			metrics.RecordCacheHit(ctx, OriginCLI)
		})
	})
}

func TestTelemetry_PrometheusHandler(t *testing.T) {
	tel, err := InitTelemetry(context.Background(), TelemetryConfig{ServiceName: "mcp-config-builder-test"})
	require.NoError(t, err)
	defer tel.Shutdown(context.Background())

	metrics, err := NewRunMetrics()
	require.NoError(t, err)
	metrics.RecordRunStarted(context.Background(), OriginAPI)
	metrics.RecordRunAccepted(context.Background(), OriginAPI, 2, time.Second)

	rec := httptest.NewRecorder()
	tel.Handler().ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/metrics", nil))
	require.Equal(t, http.StatusOK, rec.Code)

	body, err := io.ReadAll(rec.Body)
	require.NoError(t, err)
	assert.Contains(t, string(body), "mcp_config_builder_runs_accepted")
	assert.Contains(t, string(body), "go_goroutines")
}

func TestTelemetry_UnknownExporter(t *testing.T) {
	_, err := InitTelemetry(context.Background(), TelemetryConfig{TraceExporter: "zipkin"})
	assert.ErrorIs(t, err, ErrUnknownExporter)
}
