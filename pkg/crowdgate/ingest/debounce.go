package ingest

import (
	"time"

	"github.com/puzpuzpuz/xsync/v4"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

type debounceKey struct {
	zoneID int64
	kind   zone.SensorKind
}

// Debouncer suppresses repeated beam breaks from one person crossing a gate.
// Times are event times, not arrival times.
type Debouncer struct {
	window time.Duration
	last   *xsync.Map[debounceKey, time.Time]
}

// NewDebouncer suppresses breaks closer than window to the last accepted one.
func NewDebouncer(window time.Duration) *Debouncer {
	return &Debouncer{
		window: window,
		last:   xsync.NewMap[debounceKey, time.Time](),
	}
}

// Suppressed reports whether a break at ts falls inside the window of the
// last accepted break for (zoneID, kind). The first break always passes.
func (d *Debouncer) Suppressed(zoneID int64, kind zone.SensorKind, ts time.Time) bool {
	last, ok := d.last.Load(debounceKey{zoneID, kind})
	if !ok {
		return false
	}
	return ts.Sub(last) < d.window
}

// Accept records ts as the last accepted break for (zoneID, kind).
func (d *Debouncer) Accept(zoneID int64, kind zone.SensorKind, ts time.Time) {
	d.last.Store(debounceKey{zoneID, kind}, ts)
}

// Forget drops the state of a zone.
func (d *Debouncer) Forget(zoneID int64) {
	d.last.Delete(debounceKey{zoneID, zone.Entry})
	d.last.Delete(debounceKey{zoneID, zone.Exit})
}
