package ingest

import (
	"bytes"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"sync"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v6"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/zone"
)

const sensorEventSchemaURL = "https://crowdgate.local/schema/sensor-event.json"

// SensorEventSchema is the JSON schema for raw sensor payloads posted over
// HTTP or MQTT. The legacy names platformId, sensor, event and ts are
// accepted as aliases of zoneId, sensorKind, edge and timestamp.
const SensorEventSchema = `{
  "$schema": "https://json-schema.org/draft/2020-12/schema",
  "type": "object",
  "properties": {
    "zoneId":       {"type": "integer", "minimum": 1},
    "platformId":   {"type": "integer", "minimum": 1},
    "sensorKind":   {"enum": ["entry", "exit"]},
    "sensor":       {"enum": ["entry", "exit"]},
    "edge":         {"enum": ["break", "make"]},
    "event":        {"enum": ["break", "make"]},
    "timestamp":    {"type": "string", "format": "date-time"},
    "ts":           {"type": "string", "format": "date-time"},
    "isSimulation": {"type": "boolean"}
  },
  "allOf": [
    {"anyOf": [{"required": ["zoneId"]}, {"required": ["platformId"]}]},
    {"anyOf": [{"required": ["sensorKind"]}, {"required": ["sensor"]}]},
    {"anyOf": [{"required": ["edge"]}, {"required": ["event"]}]}
  ]
}`

var (
	schemaOnce     sync.Once
	compiledSchema *jsonschema.Schema
	schemaErr      error
)

func sensorSchema() (*jsonschema.Schema, error) {
	schemaOnce.Do(func() {
		doc, err := jsonschema.UnmarshalJSON(strings.NewReader(SensorEventSchema))
		if err != nil {
			schemaErr = fmt.Errorf("parse sensor schema: %w", err)
			return
		}
		c := jsonschema.NewCompiler()
		c.AssertFormat()
		if err := c.AddResource(sensorEventSchemaURL, doc); err != nil {
			schemaErr = fmt.Errorf("add sensor schema: %w", err)
			return
		}
		compiledSchema, schemaErr = c.Compile(sensorEventSchemaURL)
	})
	return compiledSchema, schemaErr
}

// wireEvent is the JSON shape of a sensor payload.
type wireEvent struct {
	ZoneID       int64   `json:"zoneId"`
	PlatformID   int64   `json:"platformId"`
	SensorKind   string  `json:"sensorKind"`
	Sensor       string  `json:"sensor"`
	Edge         string  `json:"edge"`
	Event        string  `json:"event"`
	Timestamp    *string `json:"timestamp"`
	TS           *string `json:"ts"`
	IsSimulation bool    `json:"isSimulation"`
}

// pick returns primary unless it is empty.
func pick(primary, alias string) string {
	if primary != "" {
		return primary
	}
	return alias
}

// ParseSensorEvent validates raw against SensorEventSchema and decodes it.
// Schema violations are returned as *errors.ValidationError.
func ParseSensorEvent(raw []byte) (SensorEvent, error) {
	schema, err := sensorSchema()
	if err != nil {
		return SensorEvent{}, err
	}

	inst, err := jsonschema.UnmarshalJSON(bytes.NewReader(raw))
	if err != nil {
		return SensorEvent{}, cgerrors.Invalid("body", "malformed JSON: %v", err)
	}
	if err := schema.Validate(inst); err != nil {
		return SensorEvent{}, schemaViolation(err)
	}

	var w wireEvent
	if err := json.Unmarshal(raw, &w); err != nil {
		return SensorEvent{}, cgerrors.Invalid("body", "%v", err)
	}

	evt := SensorEvent{
		ZoneID:     w.ZoneID,
		Kind:       zone.SensorKind(pick(w.SensorKind, w.Sensor)),
		Edge:       zone.Edge(pick(w.Edge, w.Event)),
		Simulation: w.IsSimulation,
	}
	if evt.ZoneID == 0 {
		evt.ZoneID = w.PlatformID
	}
	field, stamp := "timestamp", w.Timestamp
	if stamp == nil {
		field, stamp = "ts", w.TS
	}
	if stamp != nil {
		ts, err := time.Parse(time.RFC3339Nano, *stamp)
		if err != nil {
			return SensorEvent{}, cgerrors.Invalid(field, "not an RFC 3339 timestamp: %q", *stamp)
		}
		evt.Timestamp = ts
	}
	return evt, nil
}

// schemaViolation reports the first leaf violation of a schema error.
func schemaViolation(err error) error {
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return cgerrors.Invalid("body", "%v", err)
	}
	leaf := ve
	for len(leaf.Causes) > 0 {
		leaf = leaf.Causes[0]
	}
	field := strings.Join(leaf.InstanceLocation, ".")
	if field == "" {
		field = "body"
	}
	return &cgerrors.ValidationError{Field: field, Message: lastLine(ve.Error())}
}

func lastLine(s string) string {
	s = strings.TrimSpace(s)
	if i := strings.LastIndexByte(s, '\n'); i >= 0 {
		s = s[i+1:]
	}
	return strings.TrimSpace(strings.TrimPrefix(strings.TrimSpace(s), "- "))
}
