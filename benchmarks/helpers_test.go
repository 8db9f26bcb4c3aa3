package benchmarks

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"testing"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

var quiet = slog.New(slog.NewTextHandler(io.Discard, nil))

// benchSettings lifts the per-zone rate limit so benchmarks measure the
// ingest path rather than rejections.
func benchSettings(zones int) config.Settings {
	s := config.Defaults()
	s.Store.Driver = "memory"
	s.Ingest.RateLimitPerSec = 1 << 30
	s.Zones = make([]config.ZoneSeed, zones)
	for i := range s.Zones {
		s.Zones[i] = config.ZoneSeed{Name: fmt.Sprintf("Platform %d", i+1), AreaM2: 1000}
	}
	return s
}

func mustEngine(b *testing.B, store zone.Store, zones int) *crowdgate.Engine {
	b.Helper()
	settings := benchSettings(zones)
	engine, err := crowdgate.New(store, settings, crowdgate.WithLogger(quiet))
	if err != nil {
		b.Fatal(err)
	}
	if _, err := engine.EnsureZones(context.Background(), settings.Zones); err != nil {
		b.Fatal(err)
	}
	b.Cleanup(func() { engine.Close() })
	return engine
}

func mustSQLite(b *testing.B) zone.Store {
	b.Helper()
	store, err := zone.OpenSQLite(":memory:")
	if err != nil {
		b.Fatal(err)
	}
	return store
}
