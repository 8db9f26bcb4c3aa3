package crowdgate

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// DefaultEscalationLimit is used by RecentEscalations when limit <= 0.
const DefaultEscalationLimit = 10

// RedirectView is an active redirect joined with its zone names.
type RedirectView struct {
	zone.Redirect
	FromZoneName string `json:"fromZoneName"`
	ToZoneName   string `json:"toZoneName"`
}

// EscalationView is an escalation joined with its zone name.
type EscalationView struct {
	zone.Escalation
	ZoneName string `json:"zoneName"`
}

// Health reports engine liveness.
type Health struct {
	Status          string    `json:"status"`
	StoreError      string    `json:"storeError,omitempty"`
	LastPlannerTick time.Time `json:"lastPlannerTick"`
	LastMonitorTick time.Time `json:"lastMonitorTick"`
	Zones           int       `json:"zones"`
}

// Health status values.
const (
	HealthOK       = "ok"
	HealthDegraded = "degraded"
)

func notFound(resource string, id int64, err error) error {
	if errors.Is(err, zone.ErrNotFound) {
		return &cgerrors.NotFoundError{Resource: resource, ID: id, Err: err}
	}
	return err
}

func validArea(areaM2 float64) error {
	if math.IsNaN(areaM2) || math.IsInf(areaM2, 0) || areaM2 <= 0 {
		return cgerrors.Invalid("area_m2", "must be a finite number > 0, got %v", areaM2)
	}
	return nil
}

// Zones returns the status of every zone, ordered by id.
func (e *Engine) Zones(ctx context.Context) ([]zone.Status, error) {
	return zone.Snapshot(ctx, e.store, e.classifier)
}

// Zone returns the status of one zone.
func (e *Engine) Zone(ctx context.Context, id int64) (zone.Status, error) {
	z, err := e.store.Zone(ctx, id)
	if err != nil {
		return zone.Status{}, notFound("zone", id, err)
	}
	return zone.StatusOf(z, e.classifier), nil
}

// CreateZone provisions a zone.
func (e *Engine) CreateZone(ctx context.Context, name string, areaM2 float64) (zone.Zone, error) {
	name = strings.TrimSpace(name)
	if name == "" {
		return zone.Zone{}, cgerrors.Invalid("name", "must not be empty")
	}
	if err := validArea(areaM2); err != nil {
		return zone.Zone{}, err
	}
	z, err := e.store.CreateZone(ctx, name, areaM2)
	if err != nil {
		return zone.Zone{}, fmt.Errorf("create zone %q: %w", name, err)
	}
	e.logger.Info("zone created", "zone_id", z.ID, "name", z.Name, "area_m2", z.AreaM2)
	return z, nil
}

// EnsureZones provisions seeds only when the store has no zones, and
// returns how many were created.
func (e *Engine) EnsureZones(ctx context.Context, seeds []config.ZoneSeed) (int, error) {
	existing, err := e.store.Zones(ctx)
	if err != nil {
		return 0, fmt.Errorf("list zones: %w", err)
	}
	if len(existing) > 0 {
		return 0, nil
	}
	for i, s := range seeds {
		if _, err := e.CreateZone(ctx, s.Name, s.AreaM2); err != nil {
			return i, err
		}
	}
	return len(seeds), nil
}

// SetZoneArea replaces a zone's area.
func (e *Engine) SetZoneArea(ctx context.Context, id int64, areaM2 float64) error {
	if err := validArea(areaM2); err != nil {
		return err
	}

	unlock := e.locks.Lock(id)
	err := e.store.SetArea(ctx, id, areaM2)
	unlock()
	if err != nil {
		return notFound("zone", id, err)
	}

	e.logger.Info("zone area updated", "zone_id", id, "area_m2", areaM2)
	e.emitSnapshot(ctx)
	return nil
}

// ResetZone zeroes a zone's count and clears its active redirect, if any.
// Resetting an already reset zone is a no-op apart from the snapshot.
func (e *Engine) ResetZone(ctx context.Context, id int64) error {
	unlock := e.locks.Lock(id)
	cleared, err := e.resetLocked(ctx, id)
	unlock()
	if err != nil {
		return err
	}

	e.logger.Info("zone reset", "zone_id", id, "redirect_cleared", cleared != nil)
	e.emitSnapshot(ctx)
	if cleared != nil {
		e.metrics.RecordRedirect(ctx, "cleared")
		e.emitCleared(ctx, *cleared)
	}
	return nil
}

func (e *Engine) resetLocked(ctx context.Context, id int64) (*zone.Redirect, error) {
	if err := e.store.ResetCount(ctx, id); err != nil {
		return nil, notFound("zone", id, err)
	}
	e.ingestor.Forget(id)

	cleared, err := e.store.ClearRedirect(ctx, id, e.now())
	if err != nil {
		return nil, fmt.Errorf("clear redirect of zone %d: %w", id, err)
	}
	return cleared, nil
}

// ClearRedirect clears a zone's active redirect on an operator's request.
// Returns a NotFoundError if the zone has none.
func (e *Engine) ClearRedirect(ctx context.Context, zoneID int64) (zone.Redirect, error) {
	unlock := e.locks.Lock(zoneID)
	cleared, err := e.store.ClearRedirect(ctx, zoneID, e.now())
	unlock()
	if err != nil {
		return zone.Redirect{}, fmt.Errorf("clear redirect of zone %d: %w", zoneID, err)
	}
	if cleared == nil {
		return zone.Redirect{}, &cgerrors.NotFoundError{Resource: "redirect for zone", ID: zoneID, Err: zone.ErrNotFound}
	}

	observability.LogRedirect(e.logger, "cleared", cleared.FromZoneID, cleared.ToZoneID, cleared.Attempt)
	e.metrics.RecordRedirect(ctx, "cleared")
	e.emitCleared(ctx, *cleared)
	return *cleared, nil
}

// ActiveRedirects returns every active redirect, newest first.
func (e *Engine) ActiveRedirects(ctx context.Context) ([]RedirectView, error) {
	redirects, err := e.store.ActiveRedirects(ctx)
	if err != nil {
		return nil, err
	}
	names, err := e.zoneNames(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]RedirectView, 0, len(redirects))
	for _, r := range redirects {
		views = append(views, RedirectView{
			Redirect:     r,
			FromZoneName: names[r.FromZoneID],
			ToZoneName:   names[r.ToZoneID],
		})
	}
	return views, nil
}

// RecentEscalations returns unresolved escalations, newest first.
func (e *Engine) RecentEscalations(ctx context.Context, limit int) ([]EscalationView, error) {
	if limit <= 0 {
		limit = DefaultEscalationLimit
	}
	escalations, err := e.store.RecentEscalations(ctx, limit)
	if err != nil {
		return nil, err
	}
	names, err := e.zoneNames(ctx)
	if err != nil {
		return nil, err
	}

	views := make([]EscalationView, 0, len(escalations))
	for _, esc := range escalations {
		views = append(views, EscalationView{Escalation: esc, ZoneName: names[esc.ZoneID]})
	}
	return views, nil
}

// ResolveEscalation marks an escalation handled.
func (e *Engine) ResolveEscalation(ctx context.Context, id int64) error {
	if err := e.store.ResolveEscalation(ctx, id, e.now()); err != nil {
		return notFound("escalation", id, err)
	}
	e.logger.Info("escalation resolved", "escalation_id", id)
	return nil
}

// AuditLog returns the most recent sensor events recorded for a zone.
func (e *Engine) AuditLog(ctx context.Context, zoneID int64, limit int) ([]zone.AuditRecord, error) {
	if _, err := e.store.Zone(ctx, zoneID); err != nil {
		return nil, notFound("zone", zoneID, err)
	}
	return e.store.AuditLog(ctx, zoneID, limit)
}

// Health pings the store and reports the last tick of each loop.
func (e *Engine) Health(ctx context.Context) Health {
	h := Health{Status: HealthOK}
	h.LastPlannerTick, _ = e.plannerLoop.LastTick()
	h.LastMonitorTick, _ = e.monitorLoop.LastTick()

	if err := e.store.Ping(ctx); err != nil {
		h.Status = HealthDegraded
		h.StoreError = err.Error()
		return h
	}
	if zones, err := e.store.Zones(ctx); err == nil {
		h.Zones = len(zones)
	}
	return h
}

// ZoneGauges reports per-zone occupancy for the Prometheus collector.
func (e *Engine) ZoneGauges(ctx context.Context) ([]observability.ZoneGauge, error) {
	statuses, err := e.Zones(ctx)
	if err != nil {
		return nil, err
	}
	redirects, err := e.store.ActiveRedirects(ctx)
	if err != nil {
		return nil, err
	}
	redirected := make(map[int64]bool, len(redirects))
	for _, r := range redirects {
		redirected[r.FromZoneID] = true
	}

	gauges := make([]observability.ZoneGauge, 0, len(statuses))
	for _, s := range statuses {
		gauges = append(gauges, observability.ZoneGauge{
			ZoneID:      s.ID,
			Name:        s.Name,
			Count:       s.Count,
			Density:     s.Density,
			Overcrowded: s.Level == density.Overcrowded,
			Redirected:  redirected[s.ID],
		})
	}
	return gauges, nil
}

func (e *Engine) zoneNames(ctx context.Context) (map[int64]string, error) {
	zones, err := e.store.Zones(ctx)
	if err != nil {
		return nil, err
	}
	names := make(map[int64]string, len(zones))
	for _, z := range zones {
		names[z.ID] = z.Name
	}
	return names, nil
}

func (e *Engine) emitSnapshot(ctx context.Context) {
	snap, err := e.Zones(ctx)
	if err != nil {
		e.logger.Warn("snapshot failed", "error", err.Error())
		return
	}
	e.emitter.Emit(ctx, event.New(event.TypePlatformsUpdated, event.SourceAdmin,
		event.ZonesSnapshot{Zones: snap}))
}

func (e *Engine) emitCleared(ctx context.Context, r zone.Redirect) {
	notice := event.RedirectNotice{
		RedirectID: r.ID,
		FromZoneID: r.FromZoneID,
		ToZoneID:   r.ToZoneID,
		Attempt:    r.Attempt,
	}
	if from, err := e.Zone(ctx, r.FromZoneID); err == nil {
		notice.FromZoneName = from.Name
		notice.Density = from.Density
	}
	if to, err := e.store.Zone(ctx, r.ToZoneID); err == nil {
		notice.ToZoneName = to.Name
	}
	e.emitter.Emit(ctx, event.New(event.TypeRedirectCleared, event.SourceAdmin, notice))
}
