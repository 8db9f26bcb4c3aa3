// Package observability provides logging, metrics and tracing for crowdgate.
//
// Features:
//   - Structured logging via slog (Go stdlib)
//   - Metrics via OpenTelemetry
//   - Tracing via OpenTelemetry
//   - A Prometheus collector exporting live zone gauges
//
// All features are opt-in and have no-op implementations when disabled.
package observability

import (
	"log/slog"
	"time"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
)

// EnrichLogger adds component and zone context to a logger.
//
// Example:
//
//	enriched := EnrichLogger(logger, "planner", 3)
//	enriched.Info("evaluating") // includes component, zone_id
func EnrichLogger(logger *slog.Logger, component string, zoneID int64) *slog.Logger {
	if logger == nil {
		return nil
	}
	return logger.With(
		slog.String("component", component),
		slog.Int64("zone_id", zoneID),
	)
}

// LogTickComplete logs a finished decision tick.
func LogTickComplete(logger *slog.Logger, loop string, durationMs float64, actions int) {
	if logger == nil {
		return
	}
	logger.Debug("tick completed",
		slog.String("loop", loop),
		slog.Float64("duration_ms", durationMs),
		slog.Int("actions", actions),
	)
}

// LogTickError logs a failed decision tick. The loop keeps running.
func LogTickError(logger *slog.Logger, loop string, err error, durationMs float64) {
	if logger == nil {
		return
	}
	logger.Error("tick failed",
		slog.String("loop", loop),
		slog.String("error", err.Error()),
		slog.Float64("duration_ms", durationMs),
	)
}

// LogRedirect logs a redirect issue, clear or retry.
func LogRedirect(logger *slog.Logger, action string, fromZoneID, toZoneID int64, attempt int) {
	if logger == nil {
		return
	}
	logger.Info("redirect "+action,
		slog.Int64("from_zone_id", fromZoneID),
		slog.Int64("to_zone_id", toZoneID),
		slog.Int("attempt", attempt),
	)
}

// LogEscalation logs an escalation to human operators.
func LogEscalation(logger *slog.Logger, zoneID int64, reason string, density float64) {
	if logger == nil {
		return
	}
	logger.Warn("escalation created",
		slog.Int64("zone_id", zoneID),
		slog.String("reason", reason),
		slog.Float64("density", density),
		slog.String("category", cgerrors.CategoryHumanRequired.String()),
	)
}

// LogIngestRejected logs a sensor event that did not change the count.
func LogIngestRejected(logger *slog.Logger, zoneID int64, reason string) {
	if logger == nil {
		return
	}
	logger.Debug("sensor event rejected",
		slog.Int64("zone_id", zoneID),
		slog.String("reason", reason),
	)
}

// LogNotifyFailed logs a notification that a sink could not deliver.
func LogNotifyFailed(logger *slog.Logger, sink, eventType string, err error) {
	if logger == nil {
		return
	}
	logger.Warn("notification dropped",
		slog.String("sink", sink),
		slog.String("event_type", eventType),
		slog.String("error", err.Error()),
	)
}

// TimedOperation measures the duration of an operation.
// Returns a function that, when called, returns the elapsed time in milliseconds.
//
// Example:
//
//	done := TimedOperation()
//	// ... do work ...
//	durationMs := done()
func TimedOperation() func() float64 {
	start := time.Now()
	return func() float64 {
		return float64(time.Since(start).Microseconds()) / 1000
	}
}
