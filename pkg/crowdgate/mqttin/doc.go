// Package mqttin carries sensor events over MQTT.
//
// Subscriber feeds every message on a topic to the ingestor, exactly as if
// it had been POSTed to /api/sensor. Simulator is the other end: it
// publishes synthetic, simulation-flagged break/make pairs for load tests
// and demos.
package mqttin
