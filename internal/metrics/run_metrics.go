package metrics

import (
	"context"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

var meter = otel.Meter("conversion-metrics")

// Run origins.
const (
	OriginAPI       = "api"
	OriginWebSocket = "ws"
	OriginCLI       = "cli"
)

// RunMetrics provides metrics collection for conversion runs
type RunMetrics struct {
	runsStartedCounter   metric.Int64Counter
	runsAcceptedCounter  metric.Int64Counter
	runsFailedCounter    metric.Int64Counter
	runDurationHistogram metric.Float64Histogram
	runIterations        metric.Int64Histogram
	runsActiveGauge      metric.Int64UpDownCounter
	stepDuration         metric.Float64Histogram
	cacheHitsCounter     metric.Int64Counter
}

// NewRunMetrics creates a new run metrics collector
func NewRunMetrics() (*RunMetrics, error) {
	runsStartedCounter, err := meter.Int64Counter(
		"mcp_config_builder.runs.started",
		metric.WithDescription("Total number of conversion runs started"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsAcceptedCounter, err := meter.Int64Counter(
		"mcp_config_builder.runs.accepted",
		metric.WithDescription("Total number of runs that produced an accepted configuration"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runsFailedCounter, err := meter.Int64Counter(
		"mcp_config_builder.runs.failed",
		metric.WithDescription("Total number of runs that failed"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	runDurationHistogram, err := meter.Float64Histogram(
		"mcp_config_builder.run.duration",
		metric.WithDescription("Duration of conversion runs in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	runIterations, err := meter.Int64Histogram(
		"mcp_config_builder.run.iterations",
		metric.WithDescription("Generate/validate rounds per finished run"),
		metric.WithUnit("{iteration}"),
	)
	if err != nil {
		return nil, err
	}

	runsActiveGauge, err := meter.Int64UpDownCounter(
		"mcp_config_builder.runs.active",
		metric.WithDescription("Number of currently active runs"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	stepDuration, err := meter.Float64Histogram(
		"mcp_config_builder.step.duration",
		metric.WithDescription("Time spent in each phase of a run, in seconds"),
		metric.WithUnit("s"),
	)
	if err != nil {
		return nil, err
	}

	cacheHitsCounter, err := meter.Int64Counter(
		"mcp_config_builder.cache.hits",
		metric.WithDescription("Conversions answered from the result cache"),
		metric.WithUnit("{run}"),
	)
	if err != nil {
		return nil, err
	}

	return &RunMetrics{
		runsStartedCounter:   runsStartedCounter,
		runsAcceptedCounter:  runsAcceptedCounter,
		runsFailedCounter:    runsFailedCounter,
		runDurationHistogram: runDurationHistogram,
		runIterations:        runIterations,
		runsActiveGauge:      runsActiveGauge,
		stepDuration:         stepDuration,
		cacheHitsCounter:     cacheHitsCounter,
	}, nil
}

// RecordRunStarted records a new run
func (rm *RunMetrics) RecordRunStarted(ctx context.Context, origin string) {
	rm.runsStartedCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
	rm.runsActiveGauge.Add(ctx, 1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
}

// RecordRunAccepted records a run ending with an accepted configuration
func (rm *RunMetrics) RecordRunAccepted(ctx context.Context, origin string, iterations int, duration time.Duration) {
	attrs := metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("status", "accepted"),
	)
	rm.runsAcceptedCounter.Add(ctx, 1, attrs)
	rm.runDurationHistogram.Record(ctx, duration.Seconds(), attrs)
	rm.runIterations.Record(ctx, int64(iterations), attrs)
	rm.runsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
}

// RecordRunFailed records a failed run; errorKind is the run's error kind
func (rm *RunMetrics) RecordRunFailed(ctx context.Context, origin, errorKind string, iterations int, duration time.Duration) {
	rm.runsFailedCounter.Add(ctx, 1,
		metric.WithAttributes(
			attribute.String("origin", origin),
			attribute.String("status", "failed"),
			attribute.String("error.type", errorKind),
		),
	)
	attrs := metric.WithAttributes(
		attribute.String("origin", origin),
		attribute.String("status", "failed"),
	)
	rm.runDurationHistogram.Record(ctx, duration.Seconds(), attrs)
	rm.runIterations.Record(ctx, int64(iterations), attrs)
	rm.runsActiveGauge.Add(ctx, -1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
}

// RecordStep records time spent in one phase of a run
func (rm *RunMetrics) RecordStep(ctx context.Context, phase string, duration time.Duration) {
	rm.stepDuration.Record(ctx, duration.Seconds(),
		metric.WithAttributes(attribute.String("phase", phase)),
	)
}

// RecordCacheHit records a conversion served from cache
func (rm *RunMetrics) RecordCacheHit(ctx context.Context, origin string) {
	rm.cacheHitsCounter.Add(ctx, 1,
		metric.WithAttributes(attribute.String("origin", origin)),
	)
}
