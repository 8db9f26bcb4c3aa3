package notify

import (
	"context"
	"log/slog"
	"sync"
	"time"

	"github.com/segmentio/kafka-go"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
)

// messageWriter is the subset of *kafka.Writer used by KafkaSink.
type messageWriter interface {
	WriteMessages(ctx context.Context, msgs ...kafka.Message) error
	Close() error
}

// KafkaConfig configures a KafkaSink.
type KafkaConfig struct {
	Brokers []string
	Topic   string

	// QueueSize bounds the events waiting to be written.
	// Default: 1024
	QueueSize int

	// WriteTimeout bounds one batch write.
	// Default: 5s
	WriteTimeout time.Duration

	Logger *slog.Logger
}

// KafkaSink writes notifications to a Kafka topic keyed by event type.
// Notify only enqueues; a background goroutine performs the writes, so a
// broker outage fills the queue and then drops events with ErrBufferFull.
type KafkaSink struct {
	writer       messageWriter
	queue        chan kafka.Message
	writeTimeout time.Duration
	logger       *slog.Logger

	mu     sync.RWMutex
	closed bool
	done   chan struct{}
}

// NewKafkaSink creates a sink writing to cfg.Topic on cfg.Brokers.
func NewKafkaSink(cfg KafkaConfig) *KafkaSink {
	w := &kafka.Writer{
		Addr:         kafka.TCP(cfg.Brokers...),
		Topic:        cfg.Topic,
		Balancer:     &kafka.Hash{},
		RequiredAcks: kafka.RequireOne,
		BatchTimeout: 50 * time.Millisecond,
	}
	return newKafkaSink(w, cfg)
}

func newKafkaSink(w messageWriter, cfg KafkaConfig) *KafkaSink {
	if cfg.QueueSize <= 0 {
		cfg.QueueSize = 1024
	}
	if cfg.WriteTimeout <= 0 {
		cfg.WriteTimeout = 5 * time.Second
	}
	logger := cfg.Logger
	if logger == nil {
		logger = slog.Default()
	}
	s := &KafkaSink{
		writer:       w,
		queue:        make(chan kafka.Message, cfg.QueueSize),
		writeTimeout: cfg.WriteTimeout,
		logger:       logger.With(slog.String("component", "kafka-sink")),
		done:         make(chan struct{}),
	}
	go s.run()
	return s
}

// Notify enqueues evt for writing.
func (s *KafkaSink) Notify(_ context.Context, evt event.Event) error {
	data, err := Encode(evt)
	if err != nil {
		return err
	}
	msg := kafka.Message{
		Key:   []byte(evt.Type()),
		Value: data,
		Time:  evt.Timestamp(),
		Headers: []kafka.Header{
			{Key: "event-id", Value: []byte(evt.ID())},
			{Key: "correlation-id", Value: []byte(evt.CorrelationID())},
		},
	}

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.closed {
		return ErrSinkClosed
	}
	select {
	case s.queue <- msg:
		return nil
	default:
		return ErrBufferFull
	}
}

func (s *KafkaSink) run() {
	defer close(s.done)
	for msg := range s.queue {
		batch := []kafka.Message{msg}
	drain:
		for len(batch) < 100 {
			select {
			case next, ok := <-s.queue:
				if !ok {
					break drain
				}
				batch = append(batch, next)
			default:
				break drain
			}
		}

		ctx, cancel := context.WithTimeout(context.Background(), s.writeTimeout)
		if err := s.writer.WriteMessages(ctx, batch...); err != nil {
			s.logger.Warn("kafka write failed",
				slog.Int("messages", len(batch)),
				slog.String("error", err.Error()),
			)
		}
		cancel()
	}
}

// Close stops accepting events, flushes the queue and closes the writer.
func (s *KafkaSink) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	close(s.queue)
	s.mu.Unlock()

	<-s.done
	return s.writer.Close()
}
