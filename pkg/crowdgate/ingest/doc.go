// Package ingest turns raw beam-break sensor events into occupancy counts.
//
// Each event passes, in order, through validation, a per-zone sliding-window
// rate limit on the ingestion clock, and a debounce on entry breaks measured
// on event time. Events that survive change the zone count through
// zone.Store.ApplyEvent; every other outcome is still written to the audit
// log with the reason it was not applied.
//
// All steps for one zone run under the zone's lock from the LockTable
// shared with the decision loops.
package ingest
