package decision

import (
	"fmt"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

// Phase is where a zone's redirect stands. Escalation is recorded
// alongside a phase, never as one.
type Phase string

const (
	PhaseNone     Phase = "none"
	PhaseIssued   Phase = "issued"
	PhaseRetrying Phase = "retrying"
	PhaseCleared  Phase = "cleared"
)

// transitions lists the allowed successors of each phase.
var transitions = map[Phase][]Phase{
	PhaseNone:     {PhaseIssued},
	PhaseIssued:   {PhaseRetrying, PhaseCleared},
	PhaseRetrying: {PhaseRetrying, PhaseCleared},
	PhaseCleared:  {PhaseIssued},
}

// PhaseOf derives the phase of a zone from its latest redirect.
// A nil redirect means none was ever issued.
func PhaseOf(r *zone.Redirect) Phase {
	switch {
	case r == nil:
		return PhaseNone
	case !r.Active():
		return PhaseCleared
	case r.Attempt > 1:
		return PhaseRetrying
	default:
		return PhaseIssued
	}
}

// CanTransition reports whether from -> to is allowed.
func CanTransition(from, to Phase) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// InvalidTransitionError is returned when a decision would skip the
// redirect lifecycle.
type InvalidTransitionError struct {
	ZoneID int64
	From   Phase
	To     Phase
}

func (e *InvalidTransitionError) Error() string {
	return fmt.Sprintf("zone %d: invalid redirect transition %s -> %s", e.ZoneID, e.From, e.To)
}

func checkTransition(zoneID int64, from, to Phase) error {
	if !CanTransition(from, to) {
		return &InvalidTransitionError{ZoneID: zoneID, From: from, To: to}
	}
	return nil
}
