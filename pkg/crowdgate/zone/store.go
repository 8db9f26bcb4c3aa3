// Package zone holds the authoritative state of monitored zones: occupancy
// counts, the sensor audit log, redirects and escalations.
package zone

import (
	"context"
	"errors"
	"time"
)

// Store persists zone state.
// Implementations must be safe for concurrent use. Every method is atomic on
// its own; callers that read and then write (the decision loops) additionally
// hold the zone's lock from a LockTable.
type Store interface {
	// CreateZone provisions a zone. Names are unique.
	CreateZone(ctx context.Context, name string, areaM2 float64) (Zone, error)

	// Zone returns one zone.
	// Returns ErrNotFound if the zone doesn't exist.
	Zone(ctx context.Context, id int64) (Zone, error)

	// Zones returns every zone ordered by id.
	Zones(ctx context.Context) ([]Zone, error)

	// SetArea replaces a zone's area.
	// Returns ErrNotFound if the zone doesn't exist.
	SetArea(ctx context.Context, id int64, areaM2 float64) error

	// ResetCount sets a zone's count to zero.
	// Returns ErrNotFound if the zone doesn't exist.
	ResetCount(ctx context.Context, id int64) error

	// ApplyEvent appends rec to the audit log marked processed and adds
	// delta to the zone count, flooring at zero, in one atomic step.
	// Returns the new count, or ErrNotFound if the zone doesn't exist.
	ApplyEvent(ctx context.Context, rec AuditRecord, delta int) (int, error)

	// AppendAudit appends an event that did not change the count.
	AppendAudit(ctx context.Context, rec AuditRecord) error

	// AuditLog returns the most recent audit records for a zone, newest first.
	AuditLog(ctx context.Context, zoneID int64, limit int) ([]AuditRecord, error)

	// ActiveRedirect returns the zone's active redirect, or nil if none.
	ActiveRedirect(ctx context.Context, fromZoneID int64) (*Redirect, error)

	// ActiveRedirects returns all active redirects, newest first.
	ActiveRedirects(ctx context.Context) ([]Redirect, error)

	// CreateRedirect inserts an active redirect.
	// Returns ErrActiveRedirectExists if fromZoneID already has one.
	CreateRedirect(ctx context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error)

	// ClearRedirect clears the zone's active redirect and returns it.
	// Returns nil (not an error) if there was none.
	ClearRedirect(ctx context.Context, fromZoneID int64, at time.Time) (*Redirect, error)

	// ReplaceRedirect clears the active redirect and inserts its successor
	// in one atomic step.
	// Returns ErrNoActiveRedirect if fromZoneID has none.
	ReplaceRedirect(ctx context.Context, fromZoneID, toZoneID int64, attempt int, at time.Time) (Redirect, error)

	// CreateEscalation records an escalation.
	CreateEscalation(ctx context.Context, zoneID int64, reason string, density float64, at time.Time) (Escalation, error)

	// OpenEscalation returns the zone's newest unresolved escalation, or nil.
	OpenEscalation(ctx context.Context, zoneID int64) (*Escalation, error)

	// RecentEscalations returns unresolved escalations, newest first.
	RecentEscalations(ctx context.Context, limit int) ([]Escalation, error)

	// ResolveEscalation marks an escalation resolved.
	// Returns ErrNotFound if it doesn't exist or is already resolved.
	ResolveEscalation(ctx context.Context, id int64, at time.Time) error

	// Ping reports whether the backing storage is reachable.
	Ping(ctx context.Context) error

	// Close releases any resources (connections, files).
	Close() error
}

// Limits applied when callers pass a non-positive limit.
const (
	defaultAuditLimit      = 100
	defaultEscalationLimit = 10
)

// Sentinel errors for store operations.
var (
	// ErrNotFound indicates the zone, redirect or escalation doesn't exist.
	ErrNotFound = errors.New("zone: not found")

	// ErrActiveRedirectExists indicates the zone already has an active redirect.
	ErrActiveRedirectExists = errors.New("zone: active redirect exists")

	// ErrNoActiveRedirect indicates the zone has no redirect to replace.
	ErrNoActiveRedirect = errors.New("zone: no active redirect")

	// ErrDuplicateName indicates a zone with the same name exists.
	ErrDuplicateName = errors.New("zone: duplicate name")

	// ErrStoreClosed indicates the store has been closed.
	ErrStoreClosed = errors.New("zone: store closed")

	// ErrUnknownDriver indicates Open was given an unsupported driver name.
	ErrUnknownDriver = errors.New("zone: unknown store driver")
)
