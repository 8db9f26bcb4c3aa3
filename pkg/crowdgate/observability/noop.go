package observability

import (
	"context"
	"time"

	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/trace"
	"go.opentelemetry.io/otel/trace/noop"
)

// NoopMetrics is a MetricsRecorder that does nothing.
// Use when metrics are disabled to avoid overhead.
type NoopMetrics struct{}

// Compile-time interface check.
var _ MetricsRecorder = NoopMetrics{}

// RecordIngest does nothing.
func (NoopMetrics) RecordIngest(_ context.Context, _ int64, _ string) {}

// RecordRedirect does nothing.
func (NoopMetrics) RecordRedirect(_ context.Context, _ string) {}

// RecordEscalation does nothing.
func (NoopMetrics) RecordEscalation(_ context.Context, _ string) {}

// RecordTick does nothing.
func (NoopMetrics) RecordTick(_ context.Context, _ string, _ time.Duration, _ error) {}

// NoopSpanManager is a SpanManager that does nothing.
// Use when tracing is disabled to avoid overhead.
type NoopSpanManager struct{}

// Compile-time interface check.
var _ SpanManager = NoopSpanManager{}

// noopSpan is a span that does nothing.
var noopSpan = noop.Span{}

// StartTickSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartTickSpan(ctx context.Context, _, _ string) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// StartIngestSpan returns the context unchanged and a no-op span.
func (NoopSpanManager) StartIngestSpan(ctx context.Context, _ int64) (context.Context, trace.Span) {
	return ctx, noopSpan
}

// EndSpanWithError does nothing.
func (NoopSpanManager) EndSpanWithError(_ trace.Span, _ error) {}

// AddSpanEvent does nothing.
func (NoopSpanManager) AddSpanEvent(_ context.Context, _ string, _ ...attribute.KeyValue) {}
