package notify

import (
	"encoding/json"
	"time"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
)

// Envelope is the wire form of a notification on Kafka, NATS and the
// websocket stream.
type Envelope struct {
	ID            string          `json:"id"`
	Type          string          `json:"type"`
	Source        string          `json:"source"`
	CorrelationID string          `json:"correlationId,omitempty"`
	Timestamp     time.Time       `json:"timestamp"`
	Data          json.RawMessage `json:"data"`
}

// EnvelopeOf builds the wire form of evt.
func EnvelopeOf(evt event.Event) Envelope {
	data := evt.DataBytes()
	if data == nil {
		data = json.RawMessage("null")
	}
	return Envelope{
		ID:            evt.ID(),
		Type:          evt.Type(),
		Source:        evt.Source(),
		CorrelationID: evt.CorrelationID(),
		Timestamp:     evt.Timestamp(),
		Data:          data,
	}
}

// Encode returns the JSON wire form of evt.
func Encode(evt event.Event) ([]byte, error) {
	return json.Marshal(EnvelopeOf(evt))
}
