package notify

import (
	"context"
	"errors"
	"log/slog"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
)

// ErrBufferFull is returned by sinks that queue events when the queue is full.
var ErrBufferFull = errors.New("notify: buffer full")

// ErrSinkClosed is returned after a sink has been closed.
var ErrSinkClosed = errors.New("notify: sink closed")

// Sink delivers one notification. Implementations must return quickly;
// anything slow belongs behind a queue.
type Sink interface {
	Notify(ctx context.Context, evt event.Event) error
}

// SinkFunc adapts a function to Sink.
type SinkFunc func(ctx context.Context, evt event.Event) error

// Notify calls f.
func (f SinkFunc) Notify(ctx context.Context, evt event.Event) error {
	return f(ctx, evt)
}

// Emitter is what producers of notifications depend on.
type Emitter interface {
	Emit(ctx context.Context, evt event.Event)
}

// Discard is an Emitter that drops everything.
var Discard Emitter = discard{}

type discard struct{}

func (discard) Emit(context.Context, event.Event) {}

type namedSink struct {
	name string
	sink Sink
}

// Dispatcher fans events out to named sinks.
type Dispatcher struct {
	sinks   []namedSink
	logger  *slog.Logger
	onError func(sink string, evt event.Event, err error)
}

// DispatcherOption configures a Dispatcher.
type DispatcherOption func(*Dispatcher)

// WithLogger sets the logger used for delivery failures.
func WithLogger(logger *slog.Logger) DispatcherOption {
	return func(d *Dispatcher) {
		d.logger = logger
	}
}

// WithErrorHandler is called for every failed delivery, after logging.
func WithErrorHandler(fn func(sink string, evt event.Event, err error)) DispatcherOption {
	return func(d *Dispatcher) {
		d.onError = fn
	}
}

// NewDispatcher creates a Dispatcher with no sinks.
func NewDispatcher(opts ...DispatcherOption) *Dispatcher {
	d := &Dispatcher{logger: slog.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

// Add registers a sink. Not safe to call concurrently with Emit.
func (d *Dispatcher) Add(name string, sink Sink) *Dispatcher {
	d.sinks = append(d.sinks, namedSink{name: name, sink: sink})
	return d
}

// Len returns the number of registered sinks.
func (d *Dispatcher) Len() int {
	if d == nil {
		return 0
	}
	return len(d.sinks)
}

// Emit delivers evt to every sink in registration order. A panicking or
// failing sink is logged and skipped.
func (d *Dispatcher) Emit(ctx context.Context, evt event.Event) {
	if d == nil || evt == nil {
		return
	}
	for _, s := range d.sinks {
		if err := d.deliver(ctx, s.sink, evt); err != nil {
			observability.LogNotifyFailed(d.logger, s.name, evt.Type(), err)
			if d.onError != nil {
				d.onError(s.name, evt, err)
			}
		}
	}
}

func (d *Dispatcher) deliver(ctx context.Context, sink Sink, evt event.Event) (err error) {
	defer func() {
		if r := recover(); r != nil {
			err = &event.EventError{Event: evt, Message: "sink panicked"}
		}
	}()
	return sink.Notify(ctx, evt)
}

// BusSink publishes events onto an event.Bus. Configure the bus as
// non-blocking so that Publish never waits on a slow subscriber.
type BusSink struct {
	Bus event.Bus
}

// Notify publishes evt.
func (s BusSink) Notify(ctx context.Context, evt event.Event) error {
	return s.Bus.Publish(ctx, evt)
}

// LogSink writes each event to a logger at debug level.
type LogSink struct {
	Logger *slog.Logger
}

// Notify logs evt.
func (s LogSink) Notify(ctx context.Context, evt event.Event) error {
	logger := s.Logger
	if logger == nil {
		logger = slog.Default()
	}
	logger.DebugContext(ctx, "notification",
		slog.String("event_id", evt.ID()),
		slog.String("event_type", evt.Type()),
		slog.String("source", evt.Source()),
		slog.String("correlation_id", evt.CorrelationID()),
	)
	return nil
}
