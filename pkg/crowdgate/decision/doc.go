// Package decision holds the two periodic loops that act on zone density.
//
// The Planner runs every few seconds. For each zone, under that zone's lock,
// it issues a redirect to the safest other zone when the zone is
// overcrowded and has none, and clears the redirect once the zone drops
// below the overcrowded level. Issuance is rate limited per zone by a
// Cooldown.
//
// The Monitor runs less often and checks whether redirects are working.
// A zone that is still overcrowded under an active redirect is escalated
// when its density reaches the escalation threshold or its redirect has
// reached the retry limit. Otherwise the redirect is replaced with a new
// attempt pointing at the current safest zone. Escalation never changes the
// redirect itself.
//
// Both implement Ticker and are driven by a Loop:
//
//	planner := decision.NewPlanner(store, locks, 15*time.Second, decision.WithEmitter(d))
//	loop := decision.NewLoop(planner, 5*time.Second)
//	if err := loop.Start(ctx); err != nil {
//		return err
//	}
//	defer loop.Stop()
//
// Every event emitted during a tick carries the tick id as its correlation id.
package decision
