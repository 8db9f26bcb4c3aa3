package event

import (
	"context"
	"encoding/json"
	"time"

	"github.com/google/uuid"
)

// Event is a notification emitted by the engine.
// Events are immutable once created.
type Event interface {
	// Identity
	ID() string     // Unique event identifier
	Type() string   // Notification type (e.g., "redirect_issued")
	Source() string // Emitting component (e.g., "planner", "admin")

	// CorrelationID groups the events emitted by one decision tick or one
	// admin call.
	CorrelationID() string

	// Timestamp is when the event occurred.
	Timestamp() time.Time

	// Payload
	Data() any         // Strongly-typed payload
	DataBytes() []byte // Serialized payload for transport
}

// Metadata contains common event metadata fields.
type Metadata struct {
	EventID       string    `json:"id"`
	EventType     string    `json:"type"`
	EventSource   string    `json:"source"`
	CorrelationID string    `json:"correlationId"`
	Timestamp     time.Time `json:"timestamp"`
}

// BaseEvent provides a generic event implementation.
// T is the payload type for type-safe access.
type BaseEvent[T any] struct {
	Meta    Metadata `json:"metadata"`
	Payload T        `json:"payload"`

	// Cached serialization (computed lazily)
	cachedBytes []byte
}

// ID returns the unique event identifier.
func (e *BaseEvent[T]) ID() string {
	return e.Meta.EventID
}

// Type returns the event type.
func (e *BaseEvent[T]) Type() string {
	return e.Meta.EventType
}

// Source returns the event source.
func (e *BaseEvent[T]) Source() string {
	return e.Meta.EventSource
}

// CorrelationID returns the correlation ID.
func (e *BaseEvent[T]) CorrelationID() string {
	return e.Meta.CorrelationID
}

// Timestamp returns when the event occurred.
func (e *BaseEvent[T]) Timestamp() time.Time {
	return e.Meta.Timestamp
}

// Data returns the event payload.
func (e *BaseEvent[T]) Data() any {
	return e.Payload
}

// TypedData returns the strongly-typed payload.
func (e *BaseEvent[T]) TypedData() T {
	return e.Payload
}

// DataBytes returns the serialized payload, computed when the event was
// created or decoded.
func (e *BaseEvent[T]) DataBytes() []byte {
	if e.cachedBytes == nil {
		// Best effort - errors are ignored for interface compliance
		e.cachedBytes, _ = json.Marshal(e.Payload)
	}
	return e.cachedBytes
}

// MarshalJSON implements json.Marshaler.
func (e *BaseEvent[T]) MarshalJSON() ([]byte, error) {
	type alias BaseEvent[T]
	return json.Marshal((*alias)(e))
}

// UnmarshalJSON implements json.Unmarshaler.
func (e *BaseEvent[T]) UnmarshalJSON(data []byte) error {
	type alias BaseEvent[T]
	if err := json.Unmarshal(data, (*alias)(e)); err != nil {
		return err
	}
	e.cachedBytes, _ = json.Marshal(e.Payload)
	return nil
}

// EventOption configures event creation.
type EventOption func(*eventConfig)

type eventConfig struct {
	id            string
	correlationID string
	timestamp     time.Time
}

// WithEventID sets a specific event ID (default: auto-generated UUID).
func WithEventID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.id = id
	}
}

// WithCorrelationID sets the correlation ID.
func WithCorrelationID(id string) EventOption {
	return func(cfg *eventConfig) {
		cfg.correlationID = id
	}
}

// WithTimestamp sets a specific timestamp (default: time.Now()).
func WithTimestamp(t time.Time) EventOption {
	return func(cfg *eventConfig) {
		cfg.timestamp = t
	}
}

// New creates a new event with the given type, source, and payload.
func New[T any](eventType, source string, payload T, opts ...EventOption) *BaseEvent[T] {
	cfg := &eventConfig{
		id:        uuid.New().String(),
		timestamp: time.Now(),
	}

	for _, opt := range opts {
		opt(cfg)
	}

	// If no correlation ID, use event ID as the root
	if cfg.correlationID == "" {
		cfg.correlationID = cfg.id
	}

	evt := &BaseEvent[T]{
		Meta: Metadata{
			EventID:       cfg.id,
			EventType:     eventType,
			EventSource:   source,
			CorrelationID: cfg.correlationID,
			Timestamp:     cfg.timestamp,
		},
		Payload: payload,
	}
	// Serialize up front: events are read concurrently by every sink.
	evt.cachedBytes, _ = json.Marshal(payload)
	return evt
}

// NewCorrelationID returns a fresh correlation ID.
func NewCorrelationID() string {
	return uuid.New().String()
}

// Handler consumes events delivered by a Bus.
type Handler interface {
	Handle(ctx context.Context, evt Event) error
}

// HandlerFunc adapts a function to the Handler interface.
type HandlerFunc func(ctx context.Context, evt Event) error

// Handle implements Handler.
func (f HandlerFunc) Handle(ctx context.Context, evt Event) error {
	return f(ctx, evt)
}
