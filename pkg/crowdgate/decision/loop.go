package decision

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
)

// Ticker is one pass of a periodic decision loop.
type Ticker interface {
	Name() string
	// Tick runs one pass and returns the number of actions taken.
	Tick(ctx context.Context) (int, error)
}

// Loop lifecycle errors.
var (
	ErrLoopAlreadyStarted = errors.New("loop already started")
	ErrLoopAlreadyStopped = errors.New("loop already stopped")
	ErrLoopNotStarted     = errors.New("loop not started")
)

// LoopOption configures a Loop.
type LoopOption func(*Loop)

// WithLoopLogger sets the loop logger.
func WithLoopLogger(l *slog.Logger) LoopOption {
	return func(lp *Loop) { lp.logger = l }
}

// WithLoopMetrics sets the metrics recorder for tick durations and errors.
func WithLoopMetrics(m observability.MetricsRecorder) LoopOption {
	return func(lp *Loop) { lp.metrics = m }
}

// WithLoopSpans sets the span manager.
func WithLoopSpans(s observability.SpanManager) LoopOption {
	return func(lp *Loop) { lp.spans = s }
}

// Loop runs a Ticker on a fixed interval in a background goroutine.
// Ticks never overlap, including RunOnce calls made while the loop runs; a
// tick that panics or fails is logged and the loop keeps going.
type Loop struct {
	ticker   Ticker
	interval time.Duration

	logger  *slog.Logger
	metrics observability.MetricsRecorder
	spans   observability.SpanManager

	tickMu sync.Mutex

	lastMu   sync.RWMutex
	lastTick time.Time
	lastErr  error

	// Lifecycle management
	mu      sync.Mutex
	started bool
	stopped bool
	stopCh  chan struct{}
	doneCh  chan struct{}
}

// NewLoop creates a loop that calls t every interval.
func NewLoop(t Ticker, interval time.Duration, opts ...LoopOption) *Loop {
	lp := &Loop{
		ticker:   t,
		interval: interval,
		logger:   slog.Default(),
		metrics:  observability.NoopMetrics{},
		spans:    observability.NoopSpanManager{},
		stopCh:   make(chan struct{}),
		doneCh:   make(chan struct{}),
	}
	for _, opt := range opts {
		opt(lp)
	}
	return lp
}

// Name returns the ticker name.
func (l *Loop) Name() string { return l.ticker.Name() }

// Start launches the loop. The first tick runs one interval after Start.
// Cancelling ctx stops the loop the same way Stop does, but in-flight
// ticks always run to completion.
func (l *Loop) Start(ctx context.Context) error {
	if l.interval <= 0 {
		return fmt.Errorf("%s loop: interval must be positive, got %s", l.Name(), l.interval)
	}

	l.mu.Lock()
	defer l.mu.Unlock()

	if l.stopped {
		return ErrLoopAlreadyStopped
	}
	if l.started {
		return ErrLoopAlreadyStarted
	}

	l.started = true
	go l.run(ctx)
	return nil
}

// Stop signals the loop and waits for the current tick to finish.
// Calling Stop more than once is safe.
func (l *Loop) Stop() error {
	l.mu.Lock()
	if !l.started {
		l.mu.Unlock()
		return ErrLoopNotStarted
	}
	if l.stopped {
		l.mu.Unlock()
		return nil
	}
	l.stopped = true
	l.mu.Unlock()

	close(l.stopCh)
	<-l.doneCh
	return nil
}

// LastTick returns when the most recent tick finished and its error.
// The time is zero before the first tick.
func (l *Loop) LastTick() (time.Time, error) {
	l.lastMu.RLock()
	defer l.lastMu.RUnlock()
	return l.lastTick, l.lastErr
}

func (l *Loop) run(ctx context.Context) {
	defer close(l.doneCh)

	t := time.NewTicker(l.interval)
	defer t.Stop()

	for {
		select {
		case <-l.stopCh:
			return
		case <-ctx.Done():
			return
		case <-t.C:
			l.RunOnce(ctx)
		}
	}
}

// RunOnce executes a single tick synchronously with the loop's logging,
// tracing and panic recovery. It waits for any tick already in progress.
func (l *Loop) RunOnce(ctx context.Context) (int, error) {
	l.tickMu.Lock()
	defer l.tickMu.Unlock()

	tickID := event.NewCorrelationID()
	// Shutdown must not abort a tick halfway through a zone.
	tickCtx := WithTickID(context.WithoutCancel(ctx), tickID)
	tickCtx, span := l.spans.StartTickSpan(tickCtx, l.Name(), tickID)

	done := observability.TimedOperation()
	actions, err := l.safeTick(tickCtx)
	elapsed := done()

	l.spans.EndSpanWithError(span, err)
	l.metrics.RecordTick(tickCtx, l.Name(), time.Duration(elapsed*float64(time.Millisecond)), err)
	if err != nil {
		observability.LogTickError(l.logger, l.Name(), err, elapsed)
	} else {
		observability.LogTickComplete(l.logger, l.Name(), elapsed, actions)
	}

	l.lastMu.Lock()
	l.lastTick = time.Now()
	l.lastErr = err
	l.lastMu.Unlock()

	return actions, err
}

func (l *Loop) safeTick(ctx context.Context) (actions int, err error) {
	defer func() {
		if r := recover(); r != nil {
			err = fmt.Errorf("%s tick panicked: %v", l.Name(), r)
		}
	}()
	return l.ticker.Tick(ctx)
}
