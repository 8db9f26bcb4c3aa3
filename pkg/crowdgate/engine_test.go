package crowdgate_test

import (
	"context"
	"errors"
	"math"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/ingest"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

var t0 = time.Date(2026, 3, 1, 8, 0, 0, 0, time.UTC)

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

type recorder struct {
	mu     sync.Mutex
	events []event.Event
}

func (r *recorder) Emit(_ context.Context, evt event.Event) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, evt)
}

func (r *recorder) ofType(typ string) []event.Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []event.Event
	for _, e := range r.events {
		if e.Type() == typ {
			out = append(out, e)
		}
	}
	return out
}

type fixture struct {
	engine *crowdgate.Engine
	store  *zone.MemoryStore
	clock  *fakeClock
	events *recorder
	zones  []zone.Status
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	store := zone.NewMemoryStore()
	f := &fixture{store: store, clock: &fakeClock{now: t0}, events: &recorder{}}

	settings := config.Defaults()
	settings.Store.Driver = "memory"
	engine, err := crowdgate.New(store, settings,
		crowdgate.WithClock(f.clock.Now),
		crowdgate.WithEmitter(f.events),
	)
	require.NoError(t, err)
	t.Cleanup(func() {
		_ = engine.Stop()
		_ = engine.Close()
	})
	f.engine = engine

	n, err := engine.EnsureZones(context.Background(), config.DefaultZones())
	require.NoError(t, err)
	require.Equal(t, 3, n)

	f.zones, err = engine.Zones(context.Background())
	require.NoError(t, err)
	return f
}

// enter ingests n simulated entry breaks into a zone, advancing the clock
// past the rate window between batches.
func (f *fixture) enter(t *testing.T, zoneID int64, n int) {
	t.Helper()
	for i := 0; i < n; i++ {
		if i > 0 && i%10 == 0 {
			f.clock.Advance(time.Second)
		}
		res, err := f.engine.Ingest(context.Background(), ingest.SensorEvent{
			ZoneID: zoneID, Kind: zone.Entry, Edge: zone.Break, Simulation: true,
		})
		require.NoError(t, err)
		require.True(t, res.Accepted)
	}
	f.clock.Advance(time.Second)
}

func TestNew_ValidatesSettings(t *testing.T) {
	settings := config.Defaults()
	settings.Decision.RetryLimit = 0

	_, err := crowdgate.New(zone.NewMemoryStore(), settings)
	var valErr *cgerrors.ValidationError
	require.ErrorAs(t, err, &valErr)
	assert.Equal(t, "decision.retry_limit", valErr.Field)

	_, err = crowdgate.New(nil, config.Defaults())
	assert.Error(t, err)
}

func TestEngine_EnsureZonesOnlySeedsEmptyStore(t *testing.T) {
	f := newFixture(t)

	n, err := f.engine.EnsureZones(context.Background(), []config.ZoneSeed{{Name: "Extra", AreaM2: 10}})
	require.NoError(t, err)
	assert.Zero(t, n)

	zones, err := f.engine.Zones(context.Background())
	require.NoError(t, err)
	assert.Len(t, zones, 3)
}

func TestEngine_CreateZoneValidation(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.CreateZone(ctx, "  ", 100)
	assert.Equal(t, cgerrors.ReasonInvalidEvent, cgerrors.Reason(err))

	for _, area := range []float64{0, -1, math.NaN(), math.Inf(1)} {
		_, err := f.engine.CreateZone(ctx, "Platform 9", area)
		var valErr *cgerrors.ValidationError
		assert.ErrorAs(t, err, &valErr, "area %v", area)
	}

	_, err = f.engine.CreateZone(ctx, "Platform 1", 100)
	assert.ErrorIs(t, err, zone.ErrDuplicateName)
}

func TestEngine_Zone(t *testing.T) {
	f := newFixture(t)
	id := f.zones[0].ID
	f.enter(t, id, 3)

	status, err := f.engine.Zone(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, 3, status.Count)
	assert.InDelta(t, 0.003, status.Density, 1e-9)
	assert.Equal(t, density.Safe, status.Level)

	_, err = f.engine.Zone(context.Background(), 999)
	var nf *cgerrors.NotFoundError
	require.ErrorAs(t, err, &nf)
	assert.ErrorIs(t, err, zone.ErrNotFound)
}

func TestEngine_SetZoneArea(t *testing.T) {
	f := newFixture(t)
	id := f.zones[0].ID
	f.enter(t, id, 80)

	// 80 people on 100 m2 is overcrowded.
	require.NoError(t, f.engine.SetZoneArea(context.Background(), id, 100))
	status, err := f.engine.Zone(context.Background(), id)
	require.NoError(t, err)
	assert.Equal(t, density.Overcrowded, status.Level)

	updates := f.events.ofType(event.TypePlatformsUpdated)
	require.NotEmpty(t, updates)
	last := updates[len(updates)-1]
	assert.Equal(t, event.SourceAdmin, last.Source())

	assert.Error(t, f.engine.SetZoneArea(context.Background(), id, 0))
	assert.ErrorIs(t, f.engine.SetZoneArea(context.Background(), 999, 10), zone.ErrNotFound)
}

func TestEngine_IssueRetryEscalate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a, b := f.zones[0].ID, f.zones[1].ID

	f.enter(t, a, 750)
	f.enter(t, f.zones[2].ID, 200)

	actions, err := f.engine.RunPlanner(ctx)
	require.NoError(t, err)
	assert.Equal(t, 1, actions)

	redirects, err := f.engine.ActiveRedirects(ctx)
	require.NoError(t, err)
	require.Len(t, redirects, 1)
	assert.Equal(t, a, redirects[0].FromZoneID)
	assert.Equal(t, b, redirects[0].ToZoneID)
	assert.Equal(t, "Platform 1", redirects[0].FromZoneName)
	assert.Equal(t, "Platform 2", redirects[0].ToZoneName)

	f.clock.Advance(10 * time.Second)
	_, err = f.engine.RunMonitor(ctx)
	require.NoError(t, err)
	f.clock.Advance(10 * time.Second)
	_, err = f.engine.RunMonitor(ctx)
	require.NoError(t, err)

	escalations, err := f.engine.RecentEscalations(ctx, 0)
	require.NoError(t, err)
	require.Len(t, escalations, 1)
	assert.Equal(t, "Platform 1", escalations[0].ZoneName)
	assert.Equal(t, "Redirect retry limit (2) exceeded", escalations[0].Reason)

	require.NoError(t, f.engine.ResolveEscalation(ctx, escalations[0].ID))
	escalations, err = f.engine.RecentEscalations(ctx, 0)
	require.NoError(t, err)
	assert.Empty(t, escalations)

	var nf *cgerrors.NotFoundError
	assert.ErrorAs(t, f.engine.ResolveEscalation(ctx, 999), &nf)

	planner, monitor := f.engine.Health(ctx).LastPlannerTick, f.engine.Health(ctx).LastMonitorTick
	assert.False(t, planner.IsZero())
	assert.False(t, monitor.IsZero())
}

func TestEngine_ResetZone(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.zones[0].ID

	f.enter(t, a, 750)
	_, err := f.engine.RunPlanner(ctx)
	require.NoError(t, err)

	require.NoError(t, f.engine.ResetZone(ctx, a))
	status, err := f.engine.Zone(ctx, a)
	require.NoError(t, err)
	assert.Zero(t, status.Count)

	redirects, err := f.engine.ActiveRedirects(ctx)
	require.NoError(t, err)
	assert.Empty(t, redirects)

	cleared := f.events.ofType(event.TypeRedirectCleared)
	require.Len(t, cleared, 1)
	assert.Equal(t, event.SourceAdmin, cleared[0].Source())

	// Idempotent: a second reset succeeds and clears nothing.
	require.NoError(t, f.engine.ResetZone(ctx, a))
	assert.Len(t, f.events.ofType(event.TypeRedirectCleared), 1)

	assert.ErrorIs(t, f.engine.ResetZone(ctx, 999), zone.ErrNotFound)
}

func TestEngine_ResetForgetsDebounce(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.zones[0].ID
	entry := func() ingest.Result {
		res, err := f.engine.Ingest(ctx, ingest.SensorEvent{ZoneID: a, Kind: zone.Entry, Edge: zone.Break})
		require.NoError(t, err)
		return res
	}

	require.True(t, entry().Accepted)
	require.NoError(t, f.engine.ResetZone(ctx, a))
	assert.True(t, entry().Accepted, "reset drops the debounce window")
}

func TestEngine_ClearRedirect(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	a := f.zones[0].ID

	_, err := f.engine.ClearRedirect(ctx, a)
	var nf *cgerrors.NotFoundError
	require.ErrorAs(t, err, &nf)

	f.enter(t, a, 750)
	_, err = f.engine.RunPlanner(ctx)
	require.NoError(t, err)

	r, err := f.engine.ClearRedirect(ctx, a)
	require.NoError(t, err)
	require.NotNil(t, r.ClearedAt)

	notices := f.events.ofType(event.TypeRedirectCleared)
	require.Len(t, notices, 1)
	notice := notices[0].Data().(event.RedirectNotice)
	assert.Equal(t, "Platform 1", notice.FromZoneName)
	assert.Equal(t, "Platform 2", notice.ToZoneName)
}

func TestEngine_ZoneGauges(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, f.zones[0].ID, 750)
	_, err := f.engine.RunPlanner(ctx)
	require.NoError(t, err)

	gauges, err := f.engine.ZoneGauges(ctx)
	require.NoError(t, err)
	require.Len(t, gauges, 3)
	assert.True(t, gauges[0].Overcrowded)
	assert.True(t, gauges[0].Redirected)
	assert.Equal(t, 750, gauges[0].Count)
	assert.False(t, gauges[1].Redirected)
}

func TestEngine_AuditLog(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()
	f.enter(t, f.zones[0].ID, 2)

	log, err := f.engine.AuditLog(ctx, f.zones[0].ID, 10)
	require.NoError(t, err)
	assert.Len(t, log, 2)

	_, err = f.engine.AuditLog(ctx, 999, 10)
	assert.ErrorIs(t, err, zone.ErrNotFound)
}

func TestEngine_Health(t *testing.T) {
	f := newFixture(t)
	h := f.engine.Health(context.Background())
	assert.Equal(t, crowdgate.HealthOK, h.Status)
	assert.Equal(t, 3, h.Zones)
	assert.True(t, h.LastPlannerTick.IsZero())

	require.NoError(t, f.store.Close())
	h = f.engine.Health(context.Background())
	assert.Equal(t, crowdgate.HealthDegraded, h.Status)
	assert.NotEmpty(t, h.StoreError)
}

func TestEngine_StartStop(t *testing.T) {
	settings := config.Defaults()
	settings.Store.Driver = "memory"
	settings.Decision.DecisionInterval = 5 * time.Millisecond
	settings.Decision.CheckInterval = 5 * time.Millisecond

	engine, err := crowdgate.New(zone.NewMemoryStore(), settings)
	require.NoError(t, err)
	defer engine.Close()

	assert.NoError(t, engine.Stop(), "Stop before Start is a no-op")
	require.NoError(t, engine.Start(context.Background()))
	assert.Error(t, engine.Start(context.Background()))

	assert.Eventually(t, func() bool {
		h := engine.Health(context.Background())
		return !h.LastPlannerTick.IsZero() && !h.LastMonitorTick.IsZero()
	}, time.Second, time.Millisecond)

	require.NoError(t, engine.Stop())
	assert.NoError(t, engine.Stop())
}

func TestEngine_IngestErrors(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	_, err := f.engine.Ingest(ctx, ingest.SensorEvent{ZoneID: 999, Kind: zone.Entry, Edge: zone.Break})
	assert.Equal(t, cgerrors.ReasonNotFound, cgerrors.Reason(err))

	res, err := f.engine.IngestRaw(ctx, []byte(`{"zoneId":1,"sensorKind":"sideways","edge":"break"}`))
	assert.Equal(t, cgerrors.ReasonInvalidEvent, res.Reason)
	var valErr *cgerrors.ValidationError
	assert.True(t, errors.As(err, &valErr))
}
