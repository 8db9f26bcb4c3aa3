package decision

import "github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"

// Safest picks the redirect target for a zone: the lowest density among the
// other zones, lowest id on ties. statuses need not be sorted.
func Safest(statuses []zone.Status, exclude int64) (zone.Status, bool) {
	var best zone.Status
	found := false
	for _, s := range statuses {
		if s.ID == exclude {
			continue
		}
		if !found || s.Density < best.Density || (s.Density == best.Density && s.ID < best.ID) {
			best = s
			found = true
		}
	}
	return best, found
}
