package decision

import (
	"context"
	"errors"
	"fmt"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// EscalationPolicy decides whether a zone that keeps meeting the escalation
// criteria is escalated again.
type EscalationPolicy string

const (
	// EscalateOpenOnce skips zones that already have an unresolved escalation.
	EscalateOpenOnce EscalationPolicy = config.EscalateOpenOnce
	// EscalateEveryTick escalates on every monitor pass.
	EscalateEveryTick EscalationPolicy = config.EscalateEveryTick
)

// MonitorConfig tunes the feedback monitor.
type MonitorConfig struct {
	// EscalationThreshold is the density at or above which a still
	// redirected zone is escalated immediately. Default: 0.85
	EscalationThreshold float64

	// RetryLimit is the redirect attempt at which the zone is escalated
	// instead of retried. Default: 2
	RetryLimit int

	// Policy controls repeated escalations. Default: EscalateOpenOnce
	Policy EscalationPolicy
}

// DefaultMonitorConfig returns the default monitor tuning.
func DefaultMonitorConfig() MonitorConfig {
	return MonitorConfig{
		EscalationThreshold: 0.85,
		RetryLimit:          2,
		Policy:              EscalateOpenOnce,
	}
}

// Escalation causes recorded in metrics.
const (
	causeDensity    = "density"
	causeRetryLimit = "retry_limit"
)

// Monitor checks whether redirects are working. A zone still overcrowded
// under an active redirect is either redirected again to the current
// safest zone or escalated to operators.
type Monitor struct {
	deps
	cfg MonitorConfig
}

// NewMonitor creates a monitor.
func NewMonitor(store zone.Store, locks *zone.LockTable, cfg MonitorConfig, opts ...Option) *Monitor {
	def := DefaultMonitorConfig()
	if cfg.EscalationThreshold <= 0 {
		cfg.EscalationThreshold = def.EscalationThreshold
	}
	if cfg.RetryLimit <= 0 {
		cfg.RetryLimit = def.RetryLimit
	}
	if cfg.Policy == "" {
		cfg.Policy = def.Policy
	}
	return &Monitor{deps: newDeps(store, locks, opts), cfg: cfg}
}

// Name implements Ticker.
func (m *Monitor) Name() string { return "monitor" }

// Tick checks every zone once, in id order, and returns the number of
// retries and escalations.
func (m *Monitor) Tick(ctx context.Context) (int, error) {
	ctx, _ = ensureTickID(ctx)

	zones, err := m.store.Zones(ctx)
	if err != nil {
		return 0, fmt.Errorf("list zones: %w", err)
	}

	var errs []error
	actions := 0
	for _, z := range zones {
		acted, err := m.check(ctx, z.ID)
		if err != nil {
			observability.EnrichLogger(m.logger, m.Name(), z.ID).Error("zone check failed",
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

// EscalationReason returns why a zone at density d on redirect attempt
// attempt must be escalated, or "" if it need not be. Density takes
// precedence over the retry limit.
func (m *Monitor) EscalationReason(d float64, attempt int) (reason, cause string) {
	switch {
	case d >= m.cfg.EscalationThreshold:
		return fmt.Sprintf("Density %.1f%% exceeds escalation threshold", d*100), causeDensity
	case attempt >= m.cfg.RetryLimit:
		return fmt.Sprintf("Redirect retry limit (%d) exceeded", m.cfg.RetryLimit), causeRetryLimit
	}
	return "", ""
}

func (m *Monitor) check(ctx context.Context, zoneID int64) (bool, error) {
	unlock := m.locks.Lock(zoneID)
	defer unlock()

	z, err := m.store.Zone(ctx, zoneID)
	if err != nil {
		return false, err
	}
	status := zone.StatusOf(z, m.classifier)
	if status.Level != density.Overcrowded {
		return false, nil
	}

	active, err := m.store.ActiveRedirect(ctx, zoneID)
	if err != nil {
		return false, err
	}
	if active == nil {
		return false, nil
	}

	if reason, cause := m.EscalationReason(status.Density, active.Attempt); reason != "" {
		return m.escalate(ctx, status, reason, cause)
	}
	return m.retry(ctx, status, active)
}

func (m *Monitor) escalate(ctx context.Context, status zone.Status, reason, cause string) (bool, error) {
	if m.cfg.Policy == EscalateOpenOnce {
		open, err := m.store.OpenEscalation(ctx, status.ID)
		if err != nil {
			return false, err
		}
		if open != nil {
			return false, nil
		}
	}

	esc, err := m.store.CreateEscalation(ctx, status.ID, reason, status.Density, m.now())
	if err != nil {
		return false, fmt.Errorf("create escalation: %w", err)
	}

	observability.LogEscalation(m.logger, status.ID, reason, status.Density)
	m.metrics.RecordEscalation(ctx, cause)
	m.emitter.Emit(ctx, event.New(event.TypeEscalationCreated, event.SourceMonitor, event.EscalationNotice{
		EscalationID: esc.ID,
		ZoneID:       status.ID,
		ZoneName:     status.Name,
		Reason:       reason,
		Density:      status.Density,
	}, event.WithCorrelationID(TickID(ctx))))
	return true, nil
}

func (m *Monitor) retry(ctx context.Context, from zone.Status, active *zone.Redirect) (bool, error) {
	if err := checkTransition(from.ID, PhaseOf(active), PhaseRetrying); err != nil {
		return false, err
	}

	statuses, _, err := m.snapshot(ctx)
	if err != nil {
		return false, err
	}
	target, ok := Safest(statuses, from.ID)
	if !ok {
		return false, nil
	}

	r, err := m.store.ReplaceRedirect(ctx, from.ID, target.ID, active.Attempt+1, m.now())
	if err != nil {
		return false, fmt.Errorf("replace redirect: %w", err)
	}

	observability.LogRedirect(m.logger, "retried", r.FromZoneID, r.ToZoneID, r.Attempt)
	m.metrics.RecordRedirect(ctx, "retried")
	m.emitRedirect(ctx, event.TypeRedirectRetried, event.SourceMonitor, r, from, target.Name)
	return true, nil
}
