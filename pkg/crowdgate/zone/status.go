package zone

import (
	"context"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
)

// Snapshot returns the status of every zone ordered by id.
func Snapshot(ctx context.Context, store Store, c density.Classifier) ([]Status, error) {
	zones, err := store.Zones(ctx)
	if err != nil {
		return nil, err
	}
	out := make([]Status, len(zones))
	for i, z := range zones {
		out[i] = StatusOf(z, c)
	}
	return out, nil
}
