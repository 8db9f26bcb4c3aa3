package ingest_test

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/ingest"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

// fakeClock is a manually advanced clock.
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

// recorder collects emitted notifications.
type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(_ context.Context, evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) count() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.events)
}

var _ notify.Emitter = (*recorder)(nil)

type fixture struct {
	store    *zone.MemoryStore
	ingestor *ingest.Ingestor
	clock    *fakeClock
	events   *recorder
	zoneID   int64
}

func newFixture(t *testing.T, cfg ingest.Config) *fixture {
	t.Helper()
	store := zone.NewMemoryStore()
	t.Cleanup(func() { store.Close() })

	z, err := store.CreateZone(context.Background(), "Platform 1", 1000)
	require.NoError(t, err)

	f := &fixture{store: store, clock: &fakeClock{now: t0}, events: &recorder{}, zoneID: z.ID}
	f.ingestor = ingest.New(store, zone.NewLockTable(), cfg,
		ingest.WithClock(f.clock.Now),
		ingest.WithEmitter(f.events),
	)
	return f
}

func (f *fixture) sensor(kind zone.SensorKind, edge zone.Edge, ts time.Time) ingest.SensorEvent {
	return ingest.SensorEvent{ZoneID: f.zoneID, Kind: kind, Edge: edge, Timestamp: ts}
}

func (f *fixture) count(t *testing.T) int {
	t.Helper()
	z, err := f.store.Zone(context.Background(), f.zoneID)
	require.NoError(t, err)
	return z.Count
}

func TestIngest_Deltas(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	res, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0))
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Accepted: true, Delta: 1, NewCount: 1}, res)

	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Make, t0.Add(50*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Accepted: true, Delta: 0, NewCount: 1}, res)

	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0.Add(100*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, ingest.Result{Accepted: true, Delta: -1, NewCount: 0}, res)

	// Exit on an empty zone is accepted but the count stays at zero
	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0.Add(200*time.Millisecond)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 0, res.NewCount)
	assert.Equal(t, 0, f.count(t))

	log, err := f.store.AuditLog(ctx, f.zoneID, 10)
	require.NoError(t, err)
	require.Len(t, log, 4)
	for _, rec := range log {
		assert.True(t, rec.Processed)
	}
}

func TestDelta(t *testing.T) {
	tests := []struct {
		kind zone.SensorKind
		edge zone.Edge
		want int
	}{
		{zone.Entry, zone.Break, 1},
		{zone.Exit, zone.Break, -1},
		{zone.Entry, zone.Make, 0},
		{zone.Exit, zone.Make, 0},
	}
	for _, tt := range tests {
		t.Run(string(tt.kind)+"/"+string(tt.edge), func(t *testing.T) {
			assert.Equal(t, tt.want, ingest.Delta(tt.kind, tt.edge))
		})
	}
}

func TestIngest_Debounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0))
	require.NoError(t, err)

	res, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(300*time.Millisecond)))
	require.NoError(t, err, "debounce is not an error")
	assert.Equal(t, ingest.Result{Accepted: false, Reason: "debounced", Delta: 0, NewCount: 1}, res)

	// Exactly one window later is accepted
	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(600*time.Millisecond)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.NewCount)

	// Exits are never debounced
	for i := 0; i < 2; i++ {
		res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0.Add(610*time.Millisecond)))
		require.NoError(t, err)
		assert.True(t, res.Accepted)
	}
	assert.Equal(t, 0, f.count(t))

	log, err := f.store.AuditLog(ctx, f.zoneID, 10)
	require.NoError(t, err)
	var debounced int
	for _, rec := range log {
		if rec.Reason == "debounced" {
			debounced++
			assert.False(t, rec.Processed)
		}
	}
	assert.Equal(t, 1, debounced)
}

func TestIngest_SimulationBypassesDebounce(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0))
	require.NoError(t, err)

	sim := f.sensor(zone.Entry, zone.Break, t0.Add(100*time.Millisecond))
	sim.Simulation = true
	res, err := f.ingestor.Ingest(ctx, sim)
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 2, res.NewCount)

	// The simulated break still moved the debounce reference point:
	// 650ms after the first break but only 550ms after the simulated one
	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(650*time.Millisecond)))
	require.NoError(t, err)
	assert.Equal(t, "debounced", res.Reason)
}

func TestIngest_RateLimit(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	// Ten attempts inside one second of ingestion time; event times are far
	// apart so debounce never interferes.
	for i := 0; i < 10; i++ {
		res, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(time.Duration(i)*time.Second)))
		require.NoError(t, err, "attempt %d", i+1)
		require.True(t, res.Accepted)
		f.clock.Advance(50 * time.Millisecond)
	}

	res, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(20*time.Second)))
	require.Error(t, err)

	var rateErr *cgerrors.RateLimitedError
	require.True(t, errors.As(err, &rateErr))
	assert.Equal(t, f.zoneID, rateErr.ZoneID)
	assert.Equal(t, 10, rateErr.Limit)
	assert.Equal(t, 500*time.Millisecond, rateErr.RetryAfter)
	assert.Equal(t, "rate_limited", res.Reason)
	assert.False(t, res.Accepted)
	assert.Equal(t, 10, f.count(t), "rejected event must not change the count")
	assert.True(t, cgerrors.IsRetryable(err))

	log, err := f.store.AuditLog(ctx, f.zoneID, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.False(t, log[0].Processed)
	assert.Equal(t, "rate_limited", log[0].Reason)

	// Once the first attempt leaves the window the zone is admitted again
	f.clock.Advance(500 * time.Millisecond)
	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(30*time.Second)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
}

func TestIngest_RateLimitedLeavesDebounceUntouched(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.Config{RateLimit: 1})

	// Fill the window with an exit so the entry debounce key stays empty
	_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0.Add(-10*time.Second)))
	require.NoError(t, err)

	res, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0))
	require.Error(t, err)
	assert.Equal(t, "rate_limited", res.Reason)

	f.clock.Advance(time.Second)
	res, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(100*time.Millisecond)))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Empty(t, res.Reason, "rejected break must not become the debounce reference")
	assert.Equal(t, 1, res.Delta)
	assert.Equal(t, 1, res.NewCount)
}

func TestIngest_RateLimitIsPerZone(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.Config{RateLimit: 2})

	other, err := f.store.CreateZone(ctx, "Platform 2", 1000)
	require.NoError(t, err)

	for i := 0; i < 2; i++ {
		_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0))
		require.NoError(t, err)
	}
	_, err = f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0))
	assert.Error(t, err)

	_, err = f.ingestor.Ingest(ctx, ingest.SensorEvent{ZoneID: other.ID, Kind: zone.Exit, Edge: zone.Break})
	assert.NoError(t, err)
}

func TestIngest_InvalidEvents(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.Config{RateLimit: 3})

	tests := []struct {
		name  string
		evt   ingest.SensorEvent
		field string
	}{
		{"zero zone", ingest.SensorEvent{Kind: zone.Entry, Edge: zone.Break}, "zoneId"},
		{"negative zone", ingest.SensorEvent{ZoneID: -1, Kind: zone.Entry, Edge: zone.Break}, "zoneId"},
		{"camera sensor", ingest.SensorEvent{ZoneID: f.zoneID, Kind: "camera", Edge: zone.Break}, "sensorKind"},
		{"restore edge", ingest.SensorEvent{ZoneID: f.zoneID, Kind: zone.Entry, Edge: "restore"}, "edge"},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			res, err := f.ingestor.Ingest(ctx, tt.evt)
			var valErr *cgerrors.ValidationError
			require.True(t, errors.As(err, &valErr))
			assert.Equal(t, tt.field, valErr.Field)
			assert.Equal(t, "invalid_event", res.Reason)
			assert.Equal(t, "invalid_event", cgerrors.Reason(err))
		})
	}

	// Invalid events are not audited and do not consume the rate budget
	log, err := f.store.AuditLog(ctx, f.zoneID, 10)
	require.NoError(t, err)
	assert.Empty(t, log)
	for i := 0; i < 3; i++ {
		_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Exit, zone.Break, t0))
		require.NoError(t, err)
	}
}

func TestIngest_UnknownZone(t *testing.T) {
	f := newFixture(t, ingest.DefaultConfig())

	res, err := f.ingestor.Ingest(context.Background(), ingest.SensorEvent{ZoneID: 99, Kind: zone.Entry, Edge: zone.Break})
	var nfErr *cgerrors.NotFoundError
	require.True(t, errors.As(err, &nfErr))
	assert.Equal(t, int64(99), nfErr.ID)
	assert.ErrorIs(t, err, zone.ErrNotFound)
	assert.Equal(t, "not_found", res.Reason)
}

func TestIngest_EmitsSnapshotOnlyWhenApplied(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	_, err := f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0))
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Break, t0.Add(10*time.Millisecond)))
	require.NoError(t, err)
	_, err = f.ingestor.Ingest(ctx, f.sensor(zone.Entry, zone.Make, t0.Add(20*time.Millisecond)))
	require.NoError(t, err)

	require.Equal(t, 1, f.events.count())
	evt := f.events.events[0]
	assert.Equal(t, event.TypePlatformsUpdated, evt.Type())
	assert.Equal(t, event.SourceIngest, evt.Source())

	snap, ok := evt.Data().(event.ZonesSnapshot)
	require.True(t, ok)
	require.Len(t, snap.Zones, 1)
	assert.Equal(t, 1, snap.Zones[0].Count)
}

func TestIngest_DefaultTimestamp(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	_, err := f.ingestor.Ingest(ctx, ingest.SensorEvent{ZoneID: f.zoneID, Kind: zone.Entry, Edge: zone.Break})
	require.NoError(t, err)

	log, err := f.store.AuditLog(ctx, f.zoneID, 1)
	require.NoError(t, err)
	require.Len(t, log, 1)
	assert.True(t, log[0].Timestamp.Equal(t0))
}

func TestIngest_ConcurrentCountsAreExact(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.Config{RateLimit: 10000})

	const workers, perWorker = 20, 25
	var wg sync.WaitGroup
	for w := 0; w < workers; w++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				evt := f.sensor(zone.Entry, zone.Break, time.Time{})
				evt.Simulation = true
				_, err := f.ingestor.Ingest(ctx, evt)
				assert.NoError(t, err)
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, workers*perWorker, f.count(t))
}

func TestIngestRaw(t *testing.T) {
	ctx := context.Background()
	f := newFixture(t, ingest.DefaultConfig())

	res, err := f.ingestor.IngestRaw(ctx, []byte(`{"platformId": 1, "sensor": "entry", "event": "break", "ts": "2026-03-01T08:00:00Z"}`))
	require.NoError(t, err)
	assert.True(t, res.Accepted)
	assert.Equal(t, 1, res.NewCount)

	res, err = f.ingestor.IngestRaw(ctx, []byte(`{"zoneId": 1, "sensorKind": "camera", "edge": "break"}`))
	var valErr *cgerrors.ValidationError
	require.True(t, errors.As(err, &valErr))
	assert.Equal(t, "invalid_event", res.Reason)
	assert.Equal(t, 1, f.count(t))
}
