// Package event carries the notifications crowdgate emits when zone state
// changes: count snapshots, redirect issue/clear/retry and escalations.
//
// # Events
//
// BaseEvent[T] pairs Metadata with a typed payload. Every event gets a UUID
// and a correlation ID; the decision loops reuse one correlation ID per tick
// so subscribers can group the redirects a single pass produced.
//
//	evt := event.New(event.TypeRedirectIssued, event.SourcePlanner, notice,
//	    event.WithCorrelationID(tickID))
//
// # Bus
//
// LocalBus fans events out to in-process subscribers, each with its own
// buffered channel and goroutine. In NonBlocking mode a full subscriber
// buffer drops the event (reported via OnDrop) instead of stalling the
// publisher, which is what the decision loops require: notification delivery
// is best effort and at most once.
//
//	bus := event.NewBus(event.BusConfig{NonBlocking: true})
//	sub := bus.Subscribe([]string{event.TypeEscalationCreated}, handler)
//	defer sub.Unsubscribe()
package event
