package ingest

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"go.opentelemetry.io/otel/attribute"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// Reasons reported in Result.Reason and the audit log.
const (
	ReasonDebounced = "debounced"
)

// Outcomes recorded by the ingest metrics.
const (
	outcomeApplied  = "applied"
	outcomeNoChange = "no_change"
)

// SensorEvent is one beam transition reported by a zone gate.
type SensorEvent struct {
	ZoneID     int64
	Kind       zone.SensorKind
	Edge       zone.Edge
	Timestamp  time.Time // zero means ingestion time
	Simulation bool
}

// Result is the outcome of ingesting one event.
type Result struct {
	Accepted bool   `json:"accepted"`
	Reason   string `json:"reason,omitempty"`
	Delta    int    `json:"delta"`
	NewCount int    `json:"newCount"`
}

// Config tunes an Ingestor.
type Config struct {
	// DebounceWindow suppresses entry breaks closer than this to the last
	// accepted one. Default: 600ms
	DebounceWindow time.Duration

	// RateLimit is the attempts admitted per zone within RateWindow.
	// Default: 10
	RateLimit int

	// RateWindow is the sliding window of the rate limit.
	// Default: 1s
	RateWindow time.Duration
}

// DefaultConfig returns the default ingest tuning.
func DefaultConfig() Config {
	return Config{
		DebounceWindow: 600 * time.Millisecond,
		RateLimit:      10,
		RateWindow:     time.Second,
	}
}

// Ingestor turns sensor events into count changes.
// Safe for concurrent use; events for one zone are serialised by the
// zone's lock.
type Ingestor struct {
	store      zone.Store
	locks      *zone.LockTable
	limiter    *RateLimiter
	debouncer  *Debouncer
	classifier density.Classifier
	emitter    notify.Emitter
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	spans      observability.SpanManager
	now        func() time.Time
}

// Option configures an Ingestor.
type Option func(*Ingestor)

// WithClassifier sets the classifier used for snapshots.
func WithClassifier(c density.Classifier) Option {
	return func(i *Ingestor) { i.classifier = c }
}

// WithEmitter sets where platforms_updated snapshots go.
func WithEmitter(e notify.Emitter) Option {
	return func(i *Ingestor) { i.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Ingestor) { i.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(i *Ingestor) { i.metrics = m }
}

// WithSpanManager sets the span manager.
func WithSpanManager(s observability.SpanManager) Option {
	return func(i *Ingestor) { i.spans = s }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(i *Ingestor) { i.now = now }
}

// New creates an Ingestor over store. locks must be the table shared with
// the decision loops.
func New(store zone.Store, locks *zone.LockTable, cfg Config, opts ...Option) *Ingestor {
	def := DefaultConfig()
	if cfg.DebounceWindow < 0 {
		cfg.DebounceWindow = def.DebounceWindow
	}
	if cfg.RateLimit <= 0 {
		cfg.RateLimit = def.RateLimit
	}
	if cfg.RateWindow <= 0 {
		cfg.RateWindow = def.RateWindow
	}

	i := &Ingestor{
		store:      store,
		locks:      locks,
		limiter:    NewRateLimiter(cfg.RateLimit, cfg.RateWindow),
		debouncer:  NewDebouncer(cfg.DebounceWindow),
		classifier: density.DefaultClassifier,
		emitter:    notify.Discard,
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		spans:      observability.NoopSpanManager{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(i)
	}
	return i
}

// Validate checks the fields of evt.
func Validate(evt SensorEvent) error {
	switch {
	case evt.ZoneID <= 0:
		return cgerrors.Invalid("zoneId", "must be a positive integer, got %d", evt.ZoneID)
	case !evt.Kind.Valid():
		return cgerrors.Invalid("sensorKind", "must be \"entry\" or \"exit\", got %q", evt.Kind)
	case !evt.Edge.Valid():
		return cgerrors.Invalid("edge", "must be \"break\" or \"make\", got %q", evt.Edge)
	}
	return nil
}

// IngestRaw parses a JSON payload and ingests it.
func (i *Ingestor) IngestRaw(ctx context.Context, raw []byte) (Result, error) {
	evt, err := ParseSensorEvent(raw)
	if err != nil {
		i.metrics.RecordIngest(ctx, 0, cgerrors.ReasonInvalidEvent)
		return Result{Reason: cgerrors.ReasonInvalidEvent}, err
	}
	return i.Ingest(ctx, evt)
}

// Ingest applies one sensor event.
//
// Invalid events return a *errors.ValidationError and touch nothing.
// Unknown zones return a *errors.NotFoundError. Events over the zone's rate
// ceiling return a *errors.RateLimitedError and are audited as unprocessed.
// Debounced events are not errors: they return Accepted=false with
// Reason "debounced".
func (i *Ingestor) Ingest(ctx context.Context, evt SensorEvent) (Result, error) {
	if err := Validate(evt); err != nil {
		i.metrics.RecordIngest(ctx, evt.ZoneID, cgerrors.ReasonInvalidEvent)
		return Result{Reason: cgerrors.ReasonInvalidEvent}, err
	}

	ctx, span := i.spans.StartIngestSpan(ctx, evt.ZoneID)
	res, applied, err := i.ingestLocked(ctx, evt)
	i.spans.EndSpanWithError(span, err)

	outcome := res.Reason
	switch {
	case err != nil && outcome == "":
		outcome = cgerrors.Reason(err)
	case applied:
		outcome = outcomeApplied
	case outcome == "":
		outcome = outcomeNoChange
	}
	i.metrics.RecordIngest(ctx, evt.ZoneID, outcome)
	if outcome != outcomeApplied && outcome != outcomeNoChange {
		observability.LogIngestRejected(i.logger, evt.ZoneID, outcome)
	}

	if applied {
		i.emitSnapshot(ctx)
	}
	return res, err
}

func (i *Ingestor) ingestLocked(ctx context.Context, evt SensorEvent) (Result, bool, error) {
	unlock := i.locks.Lock(evt.ZoneID)
	defer unlock()

	received := i.now()
	if evt.Timestamp.IsZero() {
		evt.Timestamp = received
	}
	rec := zone.AuditRecord{
		ZoneID:     evt.ZoneID,
		Kind:       evt.Kind,
		Edge:       evt.Edge,
		Timestamp:  evt.Timestamp,
		Simulation: evt.Simulation,
		ReceivedAt: received,
	}

	z, err := i.store.Zone(ctx, evt.ZoneID)
	if err != nil {
		if errors.Is(err, zone.ErrNotFound) {
			return Result{Reason: cgerrors.ReasonNotFound},
				false, &cgerrors.NotFoundError{Resource: "zone", ID: evt.ZoneID, Err: err}
		}
		return Result{}, false, fmt.Errorf("load zone %d: %w", evt.ZoneID, err)
	}

	if ok, retryAfter := i.limiter.Allow(evt.ZoneID, received); !ok {
		rec.Reason = cgerrors.ReasonRateLimited
		if err := i.store.AppendAudit(ctx, rec); err != nil {
			return Result{}, false, fmt.Errorf("audit rate-limited event: %w", err)
		}
		return Result{Reason: cgerrors.ReasonRateLimited, NewCount: z.Count}, false,
			&cgerrors.RateLimitedError{
				ZoneID:     evt.ZoneID,
				Limit:      i.limiter.Limit(),
				Window:     i.limiter.Window(),
				RetryAfter: retryAfter,
			}
	}

	entryBreak := evt.Kind == zone.Entry && evt.Edge == zone.Break
	if entryBreak && !evt.Simulation && i.debouncer.Suppressed(evt.ZoneID, evt.Kind, evt.Timestamp) {
		rec.Reason = ReasonDebounced
		if err := i.store.AppendAudit(ctx, rec); err != nil {
			return Result{}, false, fmt.Errorf("audit debounced event: %w", err)
		}
		return Result{Reason: ReasonDebounced, NewCount: z.Count}, false, nil
	}

	delta := Delta(evt.Kind, evt.Edge)
	if delta == 0 {
		rec.Processed = true
		if err := i.store.AppendAudit(ctx, rec); err != nil {
			return Result{}, false, fmt.Errorf("audit event: %w", err)
		}
		return Result{Accepted: true, NewCount: z.Count}, false, nil
	}

	count, err := i.store.ApplyEvent(ctx, rec, delta)
	if err != nil {
		return Result{}, false, fmt.Errorf("apply event to zone %d: %w", evt.ZoneID, err)
	}
	if entryBreak {
		i.debouncer.Accept(evt.ZoneID, evt.Kind, evt.Timestamp)
	}
	i.spans.AddSpanEvent(ctx, "count_updated",
		attribute.Int("delta", delta),
		attribute.Int("count", count),
	)
	return Result{Accepted: true, Delta: delta, NewCount: count}, true, nil
}

// Delta is the count change caused by a sensor transition: entry breaks add
// one, exit breaks remove one, restores change nothing.
func Delta(kind zone.SensorKind, edge zone.Edge) int {
	if edge != zone.Break {
		return 0
	}
	switch kind {
	case zone.Entry:
		return 1
	case zone.Exit:
		return -1
	}
	return 0
}

// Forget drops the debounce state of a zone, so the next entry break is
// counted regardless of timing.
func (i *Ingestor) Forget(zoneID int64) {
	i.debouncer.Forget(zoneID)
}

func (i *Ingestor) emitSnapshot(ctx context.Context) {
	snap, err := zone.Snapshot(ctx, i.store, i.classifier)
	if err != nil {
		i.logger.Warn("snapshot after ingest failed", slog.String("error", err.Error()))
		return
	}
	i.emitter.Emit(ctx, event.New(event.TypePlatformsUpdated, event.SourceIngest,
		event.ZonesSnapshot{Zones: snap}))
}
