package crowdgate

import (
	"log/slog"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
)

// Option configures an Engine.
type Option func(*Engine)

// WithLogger sets the logger used by the engine and every component it
// builds. Default: slog.Default()
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) {
		if l != nil {
			e.logger = l
		}
	}
}

// WithMetrics enables OpenTelemetry metrics for ingestion, decisions and
// ticks. Default: no metrics.
//
// Example:
//
//	engine, err := crowdgate.New(store, settings,
//	    crowdgate.WithMetrics(observability.NewMetricsRecorder()))
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(e *Engine) {
		if m != nil {
			e.metrics = m
		}
	}
}

// WithSpanManager enables tracing of ticks and ingest calls.
func WithSpanManager(s observability.SpanManager) Option {
	return func(e *Engine) {
		if s != nil {
			e.spans = s
		}
	}
}

// WithEmitter sets where notifications go. Use a notify.Dispatcher to fan
// out to several sinks. Default: notifications are discarded.
func WithEmitter(em notify.Emitter) Option {
	return func(e *Engine) {
		if em != nil {
			e.emitter = em
		}
	}
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(e *Engine) {
		if now != nil {
			e.now = now
		}
	}
}
