/*
Package crowdgate regulates crowd density across monitored zones.

# Overview

Break-beam sensors at each zone's entrances report entry and exit
transitions. crowdgate keeps a live occupancy count per zone, classifies its
density, redirects arrivals away from overcrowded zones to the least crowded
alternative, retries redirects that are not working and escalates to
operators when retries run out or density becomes extreme.

The Engine wires the parts together:

  - ingest: validates sensor events, rate limits and debounces them, and
    updates zone counts
  - decision: the planner (issue/clear redirects) and monitor (retry or
    escalate) loops
  - zone: the store holding counts, the audit log, redirects and escalations
  - notify: best-effort delivery of notifications to the UI bus, Kafka or NATS

# Basic Usage

	store, err := zone.OpenSQLite("crowdgate.db")
	if err != nil {
	    log.Fatal(err)
	}
	defer store.Close()

	engine, err := crowdgate.New(store, config.Defaults(),
	    crowdgate.WithEmitter(dispatcher))
	if err != nil {
	    log.Fatal(err)
	}
	if _, err := engine.EnsureZones(ctx, config.DefaultZones()); err != nil {
	    log.Fatal(err)
	}
	if err := engine.Start(ctx); err != nil {
	    log.Fatal(err)
	}
	defer engine.Stop()

	res, err := engine.Ingest(ctx, ingest.SensorEvent{
	    ZoneID: 1,
	    Kind:   zone.Entry,
	    Edge:   zone.Break,
	})

# Errors

Ingestion and admin operations return typed errors from the errors
subpackage. Use errors.As to tell them apart:

	var rl *cgerrors.RateLimitedError
	if errors.As(err, &rl) {
	    retryIn := rl.RetryAfter
	}

Debounced events are not errors: they come back with Accepted false and
Reason "debounced".

# Thread Safety

Engine is safe for concurrent use. Ingestion and both loops take the same
per-zone lock, so events for one zone apply in arrival order and never
interleave with a decision about that zone.

# Subpackages

  - config: typed settings and the map-backed Config accessor
  - density: density and classification
  - decision: Planner, Monitor, Loop and the redirect Phase machine
  - errors: error types and categories
  - event: notification events and the in-process bus
  - httpapi: REST and websocket transport
  - ingest: the sensor event path
  - mqttin: MQTT sensor ingress and load simulator
  - notify: sinks and the fan-out Dispatcher
  - observability: logging, metrics and tracing helpers
  - zone: Store implementations (memory, SQLite, Postgres)
*/
package crowdgate
