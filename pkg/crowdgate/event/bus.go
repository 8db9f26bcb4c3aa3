package event

import (
	"context"
	"strconv"
	"sync"
	"sync/atomic"

	"github.com/puzpuzpuz/xsync/v4"
)

// Bus fans notifications out to in-process subscribers such as the live
// stream connections.
type Bus interface {
	// Publish delivers evt to every subscriber whose filter matches.
	Publish(ctx context.Context, evt Event) error

	// Subscribe receives only the listed notification types.
	Subscribe(types []string, handler Handler) Subscription

	// SubscribeAll receives every notification.
	SubscribeAll(handler Handler) Subscription

	// Close stops every subscription. Publish fails afterwards.
	Close() error
}

// Subscription is one registered handler.
type Subscription interface {
	// ID identifies the subscription in OnDrop and OnError callbacks.
	ID() string

	// Unsubscribe stops delivery. Safe to call more than once.
	Unsubscribe()

	// Dropped counts events discarded because the buffer was full.
	Dropped() uint64
}

// BusConfig configures a LocalBus.
type BusConfig struct {
	// BufferSize is the per-subscription queue length.
	// Default: 256
	BufferSize int

	// MaxSubscribers caps concurrent subscriptions, e.g. open streams.
	// Default: 0 (unlimited)
	MaxSubscribers int

	// NonBlocking drops events for a subscriber whose queue is full
	// instead of waiting. The engine always uses a non-blocking bus so a
	// slow stream client cannot stall a decision tick.
	NonBlocking bool

	// OnDrop is called for each dropped event.
	OnDrop func(evt Event, subscriberID string)

	// OnError is called when a handler returns an error.
	OnError func(evt Event, subscriberID string, err error)
}

// DefaultBusConfig provides reasonable defaults.
var DefaultBusConfig = BusConfig{
	BufferSize: 256,
}

// LocalBus is an in-memory Bus.
type LocalBus struct {
	config BusConfig

	// admit serialises the subscriber cap check with insertion.
	admit sync.Mutex
	subs  *xsync.Map[string, *subscription]

	nextID  atomic.Int64
	closed  atomic.Bool
	closeCh chan struct{}
}

// NewBus creates a LocalBus.
func NewBus(config BusConfig) *LocalBus {
	if config.BufferSize <= 0 {
		config.BufferSize = DefaultBusConfig.BufferSize
	}
	return &LocalBus{
		config:  config,
		subs:    xsync.NewMap[string, *subscription](),
		closeCh: make(chan struct{}),
	}
}

type subscription struct {
	id       string
	types    map[string]struct{} // nil matches every type
	handler  Handler
	events   chan Event
	dropped  atomic.Uint64
	done     chan struct{}
	stopOnce sync.Once
	bus      *LocalBus
}

func (s *subscription) wants(eventType string) bool {
	if s.types == nil {
		return true
	}
	_, ok := s.types[eventType]
	return ok
}

// Publish delivers evt to matching subscribers. In blocking mode it waits
// for queue space until ctx is done or the bus closes.
func (b *LocalBus) Publish(ctx context.Context, evt Event) error {
	if b.closed.Load() {
		return &EventError{Event: evt, Message: "bus is closed"}
	}

	var err error
	b.subs.Range(func(_ string, sub *subscription) bool {
		if !sub.wants(evt.Type()) {
			return true
		}
		if b.config.NonBlocking {
			select {
			case sub.events <- evt:
			default:
				sub.dropped.Add(1)
				if b.config.OnDrop != nil {
					b.config.OnDrop(evt, sub.id)
				}
			}
			return true
		}
		select {
		case sub.events <- evt:
			return true
		case <-sub.done:
			return true
		case <-ctx.Done():
			err = ctx.Err()
		case <-b.closeCh:
			err = &EventError{Event: evt, Message: "bus closed during publish"}
		}
		return false
	})
	return err
}

// Subscribe registers handler for the given types. An empty list matches
// every type. Returns nil if the bus is closed or full.
func (b *LocalBus) Subscribe(types []string, handler Handler) Subscription {
	sub := b.subscribe(types, handler)
	if sub == nil {
		return nil
	}
	return sub
}

// SubscribeAll registers handler for every type.
func (b *LocalBus) SubscribeAll(handler Handler) Subscription {
	return b.Subscribe(nil, handler)
}

func (b *LocalBus) subscribe(types []string, handler Handler) *subscription {
	b.admit.Lock()
	defer b.admit.Unlock()

	if b.closed.Load() {
		return nil
	}
	if b.config.MaxSubscribers > 0 && b.subs.Size() >= b.config.MaxSubscribers {
		return nil
	}

	sub := &subscription{
		id:      "sub-" + strconv.FormatInt(b.nextID.Add(1), 10),
		handler: handler,
		events:  make(chan Event, b.config.BufferSize),
		done:    make(chan struct{}),
		bus:     b,
	}
	if len(types) > 0 {
		sub.types = make(map[string]struct{}, len(types))
		for _, t := range types {
			sub.types[t] = struct{}{}
		}
	}
	b.subs.Store(sub.id, sub)

	go sub.process()
	return sub
}

// Len returns the number of active subscriptions.
func (b *LocalBus) Len() int {
	return b.subs.Size()
}

// Close stops every subscription. Calling it again is a no-op.
func (b *LocalBus) Close() error {
	b.admit.Lock()
	defer b.admit.Unlock()

	if !b.closed.CompareAndSwap(false, true) {
		return nil
	}
	close(b.closeCh)

	b.subs.Range(func(id string, sub *subscription) bool {
		sub.stop()
		b.subs.Delete(id)
		return true
	})
	return nil
}

func (s *subscription) process() {
	for {
		select {
		case evt := <-s.events:
			if err := s.handler.Handle(context.Background(), evt); err != nil && s.bus.config.OnError != nil {
				s.bus.config.OnError(evt, s.id, err)
			}
		case <-s.done:
			return
		}
	}
}

func (s *subscription) stop() {
	s.stopOnce.Do(func() { close(s.done) })
}

// ID implements Subscription.
func (s *subscription) ID() string {
	return s.id
}

// Unsubscribe implements Subscription.
func (s *subscription) Unsubscribe() {
	s.bus.subs.Delete(s.id)
	s.stop()
}

// Dropped implements Subscription.
func (s *subscription) Dropped() uint64 {
	return s.dropped.Load()
}
