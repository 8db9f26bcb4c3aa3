package observability

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"go.opentelemetry.io/otel"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/metric"
)

// MetricsRecorder records crowdgate metrics.
// Use NewMetricsRecorder() for OTel metrics or NoopMetrics{} when disabled.
type MetricsRecorder interface {
	// RecordIngest records one sensor event and its outcome
	// (applied, debounced, ignored, rate_limited, invalid_event).
	RecordIngest(ctx context.Context, zoneID int64, outcome string)

	// RecordRedirect records a redirect action (issued, cleared, retried).
	RecordRedirect(ctx context.Context, action string)

	// RecordEscalation records an escalation and what triggered it
	// (density, retry_limit).
	RecordEscalation(ctx context.Context, cause string)

	// RecordTick records one decision loop pass.
	RecordTick(ctx context.Context, loop string, duration time.Duration, err error)
}

// otelMetrics implements MetricsRecorder using OpenTelemetry.
type otelMetrics struct {
	ingestEvents metric.Int64Counter
	redirects    metric.Int64Counter
	escalations  metric.Int64Counter
	tickLatency  metric.Float64Histogram
	tickErrors   metric.Int64Counter
}

var (
	defaultMetrics     *otelMetrics
	defaultMetricsOnce sync.Once
	defaultMetricsErr  error
)

// getDefaultMetrics returns the default OTel metrics instance.
// Lazily initializes the metrics on first call.
func getDefaultMetrics() (*otelMetrics, error) {
	defaultMetricsOnce.Do(func() {
		defaultMetrics, defaultMetricsErr = newOtelMetrics()
	})
	return defaultMetrics, defaultMetricsErr
}

// newOtelMetrics creates a new OTel metrics instance.
func newOtelMetrics() (*otelMetrics, error) {
	meter := otel.Meter("crowdgate")

	ingestEvents, err := meter.Int64Counter("crowdgate.ingest.events",
		metric.WithDescription("Number of sensor events by outcome"),
	)
	if err != nil {
		return nil, err
	}

	redirects, err := meter.Int64Counter("crowdgate.decision.redirects",
		metric.WithDescription("Number of redirect actions"),
	)
	if err != nil {
		return nil, err
	}

	escalations, err := meter.Int64Counter("crowdgate.decision.escalations",
		metric.WithDescription("Number of escalations created"),
	)
	if err != nil {
		return nil, err
	}

	tickLatency, err := meter.Float64Histogram("crowdgate.tick.latency_ms",
		metric.WithDescription("Decision tick latency in milliseconds"),
		metric.WithUnit("ms"),
	)
	if err != nil {
		return nil, err
	}

	tickErrors, err := meter.Int64Counter("crowdgate.tick.errors",
		metric.WithDescription("Number of failed decision ticks"),
	)
	if err != nil {
		return nil, err
	}

	return &otelMetrics{
		ingestEvents: ingestEvents,
		redirects:    redirects,
		escalations:  escalations,
		tickLatency:  tickLatency,
		tickErrors:   tickErrors,
	}, nil
}

// NewMetricsRecorder returns a MetricsRecorder that uses OpenTelemetry.
// If metrics initialization fails, returns a no-op recorder.
//
// The recorder uses the global OTel meter provider. Configure the provider
// before calling this function:
//
//	import "go.opentelemetry.io/otel"
//	otel.SetMeterProvider(yourProvider)
func NewMetricsRecorder() MetricsRecorder {
	m, err := getDefaultMetrics()
	if err != nil {
		slog.Warn("metrics initialization failed, using no-op recorder",
			slog.String("error", err.Error()))
		return NoopMetrics{}
	}
	return m
}

// RecordIngest records a sensor event outcome.
func (m *otelMetrics) RecordIngest(ctx context.Context, zoneID int64, outcome string) {
	m.ingestEvents.Add(ctx, 1, metric.WithAttributes(
		attribute.Int64("zone_id", zoneID),
		attribute.String("outcome", outcome),
	))
}

// RecordRedirect records a redirect action.
func (m *otelMetrics) RecordRedirect(ctx context.Context, action string) {
	m.redirects.Add(ctx, 1, metric.WithAttributes(attribute.String("action", action)))
}

// RecordEscalation records an escalation.
func (m *otelMetrics) RecordEscalation(ctx context.Context, cause string) {
	m.escalations.Add(ctx, 1, metric.WithAttributes(attribute.String("cause", cause)))
}

// RecordTick records a decision tick.
func (m *otelMetrics) RecordTick(ctx context.Context, loop string, duration time.Duration, err error) {
	attrs := metric.WithAttributes(attribute.String("loop", loop))
	m.tickLatency.Record(ctx, float64(duration.Microseconds())/1000, attrs)
	if err != nil {
		m.tickErrors.Add(ctx, 1, attrs)
	}
}
