package event

import "github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"

// Notification types.
const (
	TypePlatformsUpdated  = "platforms_updated"
	TypeRedirectIssued    = "redirect_issued"
	TypeRedirectCleared   = "redirect_cleared"
	TypeRedirectRetried   = "redirect_retried"
	TypeEscalationCreated = "escalation_created"
)

// AllTypes lists every notification type.
var AllTypes = []string{
	TypePlatformsUpdated,
	TypeRedirectIssued,
	TypeRedirectCleared,
	TypeRedirectRetried,
	TypeEscalationCreated,
}

// Event sources.
const (
	SourceIngest  = "ingest"
	SourcePlanner = "planner"
	SourceMonitor = "monitor"
	SourceAdmin   = "admin"
	SourceStream  = "stream"
)

// ZonesSnapshot is the payload of platforms_updated.
type ZonesSnapshot struct {
	Zones []zone.Status `json:"platforms"`
}

// RedirectNotice is the payload of redirect_issued, redirect_cleared and
// redirect_retried.
type RedirectNotice struct {
	RedirectID   int64   `json:"redirectId"`
	FromZoneID   int64   `json:"fromZoneId"`
	FromZoneName string  `json:"fromZoneName"`
	ToZoneID     int64   `json:"toZoneId"`
	ToZoneName   string  `json:"toZoneName"`
	Attempt      int     `json:"attempt"`
	Density      float64 `json:"density"`
}

// EscalationNotice is the payload of escalation_created.
type EscalationNotice struct {
	EscalationID int64   `json:"escalationId"`
	ZoneID       int64   `json:"zoneId"`
	ZoneName     string  `json:"zoneName"`
	Reason       string  `json:"reason"`
	Density      float64 `json:"density"`
}
