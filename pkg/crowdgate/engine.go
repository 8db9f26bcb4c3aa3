package crowdgate

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/decision"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/ingest"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// Engine wires the ingestor and both decision loops around one store and
// one lock table.
type Engine struct {
	store      zone.Store
	locks      *zone.LockTable
	settings   config.Settings
	classifier density.Classifier

	ingestor    *ingest.Ingestor
	planner     *decision.Planner
	monitor     *decision.Monitor
	plannerLoop *decision.Loop
	monitorLoop *decision.Loop

	emitter notify.Emitter
	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager
	now     func() time.Time

	mu      sync.Mutex
	started bool
}

// New builds an engine over store. settings are validated first; the
// engine does not start its loops until Start.
func New(store zone.Store, settings config.Settings, opts ...Option) (*Engine, error) {
	if store == nil {
		return nil, errors.New("crowdgate: store is required")
	}
	if err := settings.Validate(); err != nil {
		return nil, fmt.Errorf("crowdgate: invalid settings: %w", err)
	}

	e := &Engine{
		store:    store,
		locks:    zone.NewLockTable(),
		settings: settings,
		classifier: density.Classifier{
			SafeThreshold:     settings.Density.SafeThreshold,
			ModerateThreshold: settings.Density.ModerateThreshold,
		},
		emitter: notify.Discard,
		logger:  slog.Default(),
		metrics: observability.NoopMetrics{},
		spans:   observability.NoopSpanManager{},
		now:     time.Now,
	}
	for _, opt := range opts {
		opt(e)
	}

	e.ingestor = ingest.New(store, e.locks,
		ingest.Config{
			DebounceWindow: settings.Ingest.DebounceWindow,
			RateLimit:      settings.Ingest.RateLimitPerSec,
			RateWindow:     time.Second,
		},
		ingest.WithClassifier(e.classifier),
		ingest.WithEmitter(e.emitter),
		ingest.WithLogger(e.logger.With("component", "ingest")),
		ingest.WithMetrics(e.metrics),
		ingest.WithSpanManager(e.spans),
		ingest.WithClock(e.now),
	)

	decisionOpts := func(component string) []decision.Option {
		return []decision.Option{
			decision.WithClassifier(e.classifier),
			decision.WithEmitter(e.emitter),
			decision.WithLogger(e.logger.With("component", component)),
			decision.WithMetrics(e.metrics),
			decision.WithClock(e.now),
		}
	}
	e.planner = decision.NewPlanner(store, e.locks, settings.Decision.RedirectCooldown,
		decisionOpts("planner")...)
	e.monitor = decision.NewMonitor(store, e.locks, decision.MonitorConfig{
		EscalationThreshold: settings.Decision.EscalationThreshold,
		RetryLimit:          settings.Decision.RetryLimit,
		Policy:              decision.EscalationPolicy(settings.Decision.EscalationPolicy),
	}, decisionOpts("monitor")...)

	loopOpts := []decision.LoopOption{
		decision.WithLoopLogger(e.logger),
		decision.WithLoopMetrics(e.metrics),
		decision.WithLoopSpans(e.spans),
	}
	e.plannerLoop = decision.NewLoop(e.planner, settings.Decision.DecisionInterval, loopOpts...)
	e.monitorLoop = decision.NewLoop(e.monitor, settings.Decision.CheckInterval, loopOpts...)

	return e, nil
}

// Settings returns the settings the engine was built with.
func (e *Engine) Settings() config.Settings { return e.settings }

// Classifier returns the density classifier in use.
func (e *Engine) Classifier() density.Classifier { return e.classifier }

// Start launches the planner and monitor loops. Cancelling ctx has the
// same effect as Stop.
func (e *Engine) Start(ctx context.Context) error {
	e.mu.Lock()
	defer e.mu.Unlock()

	if err := e.plannerLoop.Start(ctx); err != nil {
		return fmt.Errorf("start planner: %w", err)
	}
	if err := e.monitorLoop.Start(ctx); err != nil {
		_ = e.plannerLoop.Stop()
		return fmt.Errorf("start monitor: %w", err)
	}
	e.started = true

	e.logger.Info("engine started",
		"decision_interval", e.settings.Decision.DecisionInterval.String(),
		"check_interval", e.settings.Decision.CheckInterval.String(),
	)
	return nil
}

// Stop stops both loops and waits for in-flight ticks. It is safe to call
// more than once, and before Start.
func (e *Engine) Stop() error {
	e.mu.Lock()
	started := e.started
	e.mu.Unlock()
	if !started {
		return nil
	}

	return errors.Join(e.plannerLoop.Stop(), e.monitorLoop.Stop())
}

// RunPlanner runs one planner tick synchronously.
func (e *Engine) RunPlanner(ctx context.Context) (int, error) {
	return e.plannerLoop.RunOnce(ctx)
}

// RunMonitor runs one monitor tick synchronously.
func (e *Engine) RunMonitor(ctx context.Context) (int, error) {
	return e.monitorLoop.RunOnce(ctx)
}

// Ingest applies one sensor event. See ingest.Ingestor.Ingest.
func (e *Engine) Ingest(ctx context.Context, evt ingest.SensorEvent) (ingest.Result, error) {
	return e.ingestor.Ingest(ctx, evt)
}

// IngestRaw validates and applies a JSON sensor payload.
func (e *Engine) IngestRaw(ctx context.Context, raw []byte) (ingest.Result, error) {
	return e.ingestor.IngestRaw(ctx, raw)
}

// Close closes the store. Call Stop first.
func (e *Engine) Close() error {
	return e.store.Close()
}
