package zone

import (
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/density"
)

// SensorKind identifies which beam of a zone gate fired.
type SensorKind string

const (
	Entry SensorKind = "entry"
	Exit  SensorKind = "exit"
)

// Valid reports whether k is a known sensor kind.
func (k SensorKind) Valid() bool {
	return k == Entry || k == Exit
}

// Edge is the beam transition reported by a sensor.
type Edge string

const (
	// Break is the beam being interrupted. Only breaks move counts.
	Break Edge = "break"
	// Make is the beam being restored.
	Make Edge = "make"
)

// Valid reports whether e is a known edge.
func (e Edge) Valid() bool {
	return e == Break || e == Make
}

// Zone is a monitored area with a live occupancy count.
type Zone struct {
	ID        int64     `json:"id"`
	Name      string    `json:"name"`
	AreaM2    float64   `json:"area"`
	Count     int       `json:"count"`
	UpdatedAt time.Time `json:"updatedAt"`
}

// Status is a zone with its derived density and class.
type Status struct {
	Zone
	Density float64       `json:"density"`
	Level   density.Level `json:"status"`
}

// StatusOf derives the density class of z using c.
func StatusOf(z Zone, c density.Classifier) Status {
	d, level := c.ClassifyZone(z.Count, z.AreaM2)
	return Status{Zone: z, Density: d, Level: level}
}

// AuditRecord is one ingested sensor event and its outcome.
type AuditRecord struct {
	ID         int64      `json:"id"`
	ZoneID     int64      `json:"zoneId"`
	Kind       SensorKind `json:"sensorKind"`
	Edge       Edge       `json:"edge"`
	Timestamp  time.Time  `json:"timestamp"`
	Simulation bool       `json:"isSimulation"`
	Processed  bool       `json:"processed"`
	Reason     string     `json:"reason,omitempty"`
	ReceivedAt time.Time  `json:"receivedAt"`
}

// Redirect directs arrivals away from FromZoneID toward ToZoneID.
// A redirect is active while ClearedAt is nil.
type Redirect struct {
	ID         int64      `json:"id"`
	FromZoneID int64      `json:"fromZoneId"`
	ToZoneID   int64      `json:"toZoneId"`
	CreatedAt  time.Time  `json:"createdAt"`
	ClearedAt  *time.Time `json:"clearedAt,omitempty"`
	Attempt    int        `json:"attempt"`
}

// Active reports whether the redirect has not been cleared.
func (r Redirect) Active() bool {
	return r.ClearedAt == nil
}

// Escalation records that a zone needs human attention.
type Escalation struct {
	ID         int64      `json:"id"`
	ZoneID     int64      `json:"zoneId"`
	Reason     string     `json:"reason"`
	Density    float64    `json:"density"`
	CreatedAt  time.Time  `json:"createdAt"`
	ResolvedAt *time.Time `json:"resolvedAt,omitempty"`
}
