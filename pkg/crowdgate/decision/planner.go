package decision

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// Planner issues redirects away from overcrowded zones and clears them once
// the zone recovers.
type Planner struct {
	deps
	cooldown *Cooldown
}

// NewPlanner creates a planner. cooldown is the minimum time between two
// redirects issued for the same zone.
func NewPlanner(store zone.Store, locks *zone.LockTable, cooldown time.Duration, opts ...Option) *Planner {
	return &Planner{
		deps:     newDeps(store, locks, opts),
		cooldown: NewCooldown(cooldown),
	}
}

// Name implements Ticker.
func (p *Planner) Name() string { return "planner" }

// Cooldown exposes the planner's per-zone cooldown state.
func (p *Planner) Cooldown() *Cooldown { return p.cooldown }

// Tick evaluates every zone once, in id order. A failure on one zone is
// logged and joined into the returned error; the other zones still run.
// It returns the number of redirects issued or cleared.
func (p *Planner) Tick(ctx context.Context) (int, error) {
	ctx, _ = ensureTickID(ctx)

	zones, err := p.store.Zones(ctx)
	if err != nil {
		return 0, fmt.Errorf("list zones: %w", err)
	}

	var errs []error
	actions := 0
	for _, z := range zones {
		acted, err := p.evaluate(ctx, z.ID)
		if err != nil {
			observability.EnrichLogger(p.logger, p.Name(), z.ID).Error("zone evaluation failed",
				"error", err.Error())
			errs = append(errs, fmt.Errorf("zone %d: %w", z.ID, err))
			continue
		}
		if acted {
			actions++
		}
	}
	return actions, errors.Join(errs...)
}

func (p *Planner) evaluate(ctx context.Context, zoneID int64) (bool, error) {
	unlock := p.locks.Lock(zoneID)
	defer unlock()

	z, err := p.store.Zone(ctx, zoneID)
	if err != nil {
		return false, err
	}
	status := zone.StatusOf(z, p.classifier)

	active, err := p.store.ActiveRedirect(ctx, zoneID)
	if err != nil {
		return false, err
	}

	if status.Level == density.Overcrowded {
		if active != nil {
			return false, nil
		}
		return p.issue(ctx, status, active)
	}
	if active != nil {
		return p.clear(ctx, status, active)
	}
	return false, nil
}

func (p *Planner) issue(ctx context.Context, from zone.Status, active *zone.Redirect) (bool, error) {
	now := p.now()
	if !p.cooldown.Ready(from.ID, now) {
		p.logger.Debug("redirect cooldown active",
			"zone_id", from.ID,
			"remaining", p.cooldown.Remaining(from.ID, now).String(),
		)
		return false, nil
	}

	statuses, _, err := p.snapshot(ctx)
	if err != nil {
		return false, err
	}
	target, ok := Safest(statuses, from.ID)
	if !ok {
		return false, nil
	}

	if err := checkTransition(from.ID, PhaseOf(active), PhaseIssued); err != nil {
		return false, err
	}
	r, err := p.store.CreateRedirect(ctx, from.ID, target.ID, 1, now)
	if err != nil {
		return false, fmt.Errorf("create redirect: %w", err)
	}
	p.cooldown.Record(from.ID, now)

	observability.LogRedirect(p.logger, "issued", r.FromZoneID, r.ToZoneID, r.Attempt)
	p.metrics.RecordRedirect(ctx, "issued")
	p.emitRedirect(ctx, event.TypeRedirectIssued, event.SourcePlanner, r, from, target.Name)
	return true, nil
}

func (p *Planner) clear(ctx context.Context, from zone.Status, active *zone.Redirect) (bool, error) {
	if err := checkTransition(from.ID, PhaseOf(active), PhaseCleared); err != nil {
		return false, err
	}
	cleared, err := p.store.ClearRedirect(ctx, from.ID, p.now())
	if err != nil {
		return false, fmt.Errorf("clear redirect: %w", err)
	}
	if cleared == nil {
		return false, nil
	}

	observability.LogRedirect(p.logger, "cleared", cleared.FromZoneID, cleared.ToZoneID, cleared.Attempt)
	p.metrics.RecordRedirect(ctx, "cleared")
	p.emitRedirect(ctx, event.TypeRedirectCleared, event.SourcePlanner, *cleared, from,
		p.zoneName(ctx, cleared.ToZoneID))
	return true, nil
}
