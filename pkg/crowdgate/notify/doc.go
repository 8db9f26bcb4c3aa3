// Package notify delivers crowdgate notifications to external consumers.
//
// Delivery is best effort. A Dispatcher fans each event out to its sinks,
// logs failures and never returns them, so a slow or broken consumer can
// neither block the decision loops nor roll back a state change.
//
// Sinks:
//   - BusSink publishes onto an in-process event.Bus (websocket stream, tests)
//   - KafkaSink writes JSON messages to a Kafka topic from a buffered queue
//   - NATSSink publishes JSON messages on a NATS subject
//   - LogSink writes each event to a slog.Logger
package notify
