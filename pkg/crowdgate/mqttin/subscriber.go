package mqttin

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/ingest"
)

// Ingestor accepts raw sensor payloads. *crowdgate.Engine and
// *ingest.Ingestor both satisfy it.
type Ingestor interface {
	IngestRaw(ctx context.Context, raw []byte) (ingest.Result, error)
}

// SubscriberConfig configures a Subscriber.
type SubscriberConfig struct {
	// Broker is the broker URL, e.g. "tcp://localhost:1883".
	Broker string

	// Topic is subscribed to as given; MQTT wildcards are allowed.
	// Default: "crowdgate/sensors"
	Topic string

	// ClientID identifies the connection. Default: "crowdgate"
	ClientID string

	// QoS of the subscription. Default: 1
	QoS byte

	// ConnectTimeout bounds the initial connect. Default: 10s
	ConnectTimeout time.Duration

	Logger *slog.Logger
}

// Subscriber ingests sensor events received over MQTT.
type Subscriber struct {
	cfg      SubscriberConfig
	ingestor Ingestor
	logger   *slog.Logger
	client   mqtt.Client

	mu     sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
}

// NewSubscriber creates a subscriber. It does not connect until Start.
func NewSubscriber(ing Ingestor, cfg SubscriberConfig) *Subscriber {
	if cfg.Topic == "" {
		cfg.Topic = "crowdgate/sensors"
	}
	if cfg.ClientID == "" {
		cfg.ClientID = "crowdgate"
	}
	if cfg.QoS == 0 {
		cfg.QoS = 1
	}
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = 10 * time.Second
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}

	s := &Subscriber{
		cfg:      cfg,
		ingestor: ing,
		logger:   cfg.Logger.With("component", "mqtt", "topic", cfg.Topic),
		ctx:      context.Background(),
	}

	opts := mqtt.NewClientOptions().
		AddBroker(cfg.Broker).
		SetClientID(cfg.ClientID).
		SetAutoReconnect(true).
		SetCleanSession(true).
		SetOnConnectHandler(s.onConnect).
		SetConnectionLostHandler(func(_ mqtt.Client, err error) {
			s.logger.Warn("mqtt connection lost", "error", err.Error())
		})
	s.client = mqtt.NewClient(opts)
	return s
}

// Start connects and subscribes. Messages are ingested on ctx; Stop or
// cancelling ctx ends the subscription.
func (s *Subscriber) Start(ctx context.Context) error {
	s.mu.Lock()
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.mu.Unlock()

	token := s.client.Connect()
	if !token.WaitTimeout(s.cfg.ConnectTimeout) {
		return fmt.Errorf("mqtt connect to %s: timed out after %s", s.cfg.Broker, s.cfg.ConnectTimeout)
	}
	if err := token.Error(); err != nil {
		return fmt.Errorf("mqtt connect to %s: %w", s.cfg.Broker, err)
	}
	return nil
}

// onConnect (re)subscribes after every connect, so auto-reconnects keep
// receiving.
func (s *Subscriber) onConnect(c mqtt.Client) {
	token := c.Subscribe(s.cfg.Topic, s.cfg.QoS, s.onMessage)
	if token.Wait() && token.Error() != nil {
		s.logger.Error("mqtt subscribe failed", "error", token.Error().Error())
		return
	}
	s.logger.Info("mqtt subscribed", "broker", s.cfg.Broker)
}

// Stop unsubscribes and disconnects.
func (s *Subscriber) Stop() {
	s.mu.Lock()
	if s.cancel != nil {
		s.cancel()
	}
	s.mu.Unlock()

	if s.client.IsConnected() {
		s.client.Unsubscribe(s.cfg.Topic).WaitTimeout(time.Second)
		s.client.Disconnect(250)
	}
}

func (s *Subscriber) onMessage(_ mqtt.Client, msg mqtt.Message) {
	s.mu.Lock()
	ctx := s.ctx
	s.mu.Unlock()
	s.Handle(ctx, msg.Topic(), msg.Payload())
}

// Handle ingests one message payload and logs the outcome. Messages are
// never redelivered: a rejected event is dropped.
func (s *Subscriber) Handle(ctx context.Context, topic string, payload []byte) (ingest.Result, error) {
	res, err := s.ingestor.IngestRaw(ctx, payload)
	switch {
	case err == nil && res.Accepted:
		s.logger.Debug("sensor event ingested", "mqtt_topic", topic, "delta", res.Delta, "count", res.NewCount)
	case err == nil:
		s.logger.Debug("sensor event not counted", "mqtt_topic", topic, "reason", res.Reason)
	case cgerrors.IsRetryable(err):
		// Rate limited: the sensor is chattering, not broken.
		s.logger.Debug("sensor event rejected", "mqtt_topic", topic, "reason", cgerrors.Reason(err))
	default:
		var valErr *cgerrors.ValidationError
		level := slog.LevelError
		if errors.As(err, &valErr) || cgerrors.Reason(err) == cgerrors.ReasonNotFound {
			level = slog.LevelWarn
		}
		s.logger.Log(ctx, level, "sensor event rejected",
			"mqtt_topic", topic,
			"reason", cgerrors.Reason(err),
			"error", err.Error(),
		)
	}
	return res, err
}
