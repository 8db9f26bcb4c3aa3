package decision

import (
	"context"
	"log/slog"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// deps are the collaborators shared by the planner and the monitor.
type deps struct {
	store      zone.Store
	locks      *zone.LockTable
	classifier density.Classifier
	emitter    notify.Emitter
	logger     *slog.Logger
	metrics    observability.MetricsRecorder
	now        func() time.Time
}

func newDeps(store zone.Store, locks *zone.LockTable, opts []Option) deps {
	d := deps{
		store:      store,
		locks:      locks,
		classifier: density.DefaultClassifier,
		emitter:    notify.Discard,
		logger:     slog.Default(),
		metrics:    observability.NoopMetrics{},
		now:        time.Now,
	}
	for _, opt := range opts {
		opt(&d)
	}
	return d
}

// Option configures a Planner or Monitor.
type Option func(*deps)

// WithClassifier sets the density classifier.
func WithClassifier(c density.Classifier) Option {
	return func(d *deps) { d.classifier = c }
}

// WithEmitter sets where notifications go.
func WithEmitter(e notify.Emitter) Option {
	return func(d *deps) { d.emitter = e }
}

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(d *deps) { d.logger = l }
}

// WithMetrics sets the metrics recorder.
func WithMetrics(m observability.MetricsRecorder) Option {
	return func(d *deps) { d.metrics = m }
}

// WithClock replaces time.Now, for tests.
func WithClock(now func() time.Time) Option {
	return func(d *deps) { d.now = now }
}

type tickIDKey struct{}

// WithTickID attaches a tick id to ctx. Events emitted during the tick
// carry it as their correlation id.
func WithTickID(ctx context.Context, id string) context.Context {
	return context.WithValue(ctx, tickIDKey{}, id)
}

// TickID returns the tick id in ctx, or "".
func TickID(ctx context.Context) string {
	id, _ := ctx.Value(tickIDKey{}).(string)
	return id
}

// ensureTickID returns ctx with a tick id, generating one if absent.
func ensureTickID(ctx context.Context) (context.Context, string) {
	if id := TickID(ctx); id != "" {
		return ctx, id
	}
	id := event.NewCorrelationID()
	return WithTickID(ctx, id), id
}

// snapshot returns every zone's status, indexed by id.
func (d *deps) snapshot(ctx context.Context) ([]zone.Status, map[int64]zone.Status, error) {
	statuses, err := zone.Snapshot(ctx, d.store, d.classifier)
	if err != nil {
		return nil, nil, err
	}
	byID := make(map[int64]zone.Status, len(statuses))
	for _, s := range statuses {
		byID[s.ID] = s
	}
	return statuses, byID, nil
}

func (d *deps) zoneName(ctx context.Context, id int64) string {
	z, err := d.store.Zone(ctx, id)
	if err != nil {
		return ""
	}
	return z.Name
}

func (d *deps) emitRedirect(ctx context.Context, eventType, source string, r zone.Redirect, from zone.Status, toName string) {
	d.emitter.Emit(ctx, event.New(eventType, source, event.RedirectNotice{
		RedirectID:   r.ID,
		FromZoneID:   r.FromZoneID,
		FromZoneName: from.Name,
		ToZoneID:     r.ToZoneID,
		ToZoneName:   toName,
		Attempt:      r.Attempt,
		Density:      from.Density,
	}, event.WithCorrelationID(TickID(ctx))))
}
