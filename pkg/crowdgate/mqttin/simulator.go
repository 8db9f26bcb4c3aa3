package mqttin

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"sync"
	"sync/atomic"
	"time"

	mqtt "github.com/eclipse/paho.mqtt.golang"
)

// publisher is the subset of mqtt.Client the simulator uses.
type publisher interface {
	Publish(topic string, qos byte, retained bool, payload any) mqtt.Token
}

// SimulatorConfig configures a Simulator.
type SimulatorConfig struct {
	Broker   string
	Topic    string
	ClientID string

	// ZoneIDs are the zones events are spread over. Required.
	ZoneIDs []int64

	// Interval between people. Default: 500ms
	Interval time.Duration

	// EntryRatio is the probability that a person enters rather than
	// leaves. Values above 0.5 fill zones up. Default: 0.6
	EntryRatio float64

	// Seed makes the sequence reproducible. Zero seeds from the clock.
	Seed uint64

	Logger *slog.Logger
}

// simPayload is the wire form of a simulated sensor event.
type simPayload struct {
	ZoneID       int64  `json:"zoneId"`
	SensorKind   string `json:"sensorKind"`
	Edge         string `json:"edge"`
	Timestamp    string `json:"timestamp"`
	IsSimulation bool   `json:"isSimulation"`
}

// Simulator publishes synthetic sensor traffic: each person is a break
// followed by a make on an entry or exit beam.
type Simulator struct {
	cfg    SimulatorConfig
	client publisher
	conn   mqtt.Client
	rng    *rand.Rand
	logger *slog.Logger

	mu        sync.Mutex
	published int
	started   atomic.Bool
	stopOnce  sync.Once
	quit      chan struct{}
	done      chan struct{}
}

// NewSimulator connects to the broker and returns a simulator ready to Start.
func NewSimulator(cfg SimulatorConfig) (*Simulator, error) {
	if cfg.ClientID == "" {
		cfg.ClientID = "crowdgate-simulator"
	}
	opts := mqtt.NewClientOptions().AddBroker(cfg.Broker).SetClientID(cfg.ClientID)
	c := mqtt.NewClient(opts)
	if token := c.Connect(); token.Wait() && token.Error() != nil {
		return nil, fmt.Errorf("mqtt connect to %s: %w", cfg.Broker, token.Error())
	}
	s, err := newSimulator(c, cfg)
	if err != nil {
		c.Disconnect(250)
		return nil, err
	}
	s.conn = c
	return s, nil
}

func newSimulator(client publisher, cfg SimulatorConfig) (*Simulator, error) {
	if len(cfg.ZoneIDs) == 0 {
		return nil, fmt.Errorf("simulator: at least one zone id is required")
	}
	if cfg.Topic == "" {
		cfg.Topic = "crowdgate/sensors"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 500 * time.Millisecond
	}
	if cfg.EntryRatio <= 0 || cfg.EntryRatio > 1 {
		cfg.EntryRatio = 0.6
	}
	if cfg.Seed == 0 {
		cfg.Seed = uint64(time.Now().UnixNano())
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	return &Simulator{
		cfg:    cfg,
		client: client,
		rng:    rand.New(rand.NewPCG(cfg.Seed, cfg.Seed^0x9e3779b97f4a7c15)),
		logger: cfg.Logger.With("component", "simulator"),
		quit:   make(chan struct{}),
		done:   make(chan struct{}),
	}, nil
}

// Start publishes one person per interval until Stop or ctx is done.
func (s *Simulator) Start(ctx context.Context) {
	if !s.started.CompareAndSwap(false, true) {
		return
	}
	go func() {
		defer close(s.done)
		ticker := time.NewTicker(s.cfg.Interval)
		defer ticker.Stop()
		for {
			select {
			case <-s.quit:
				return
			case <-ctx.Done():
				return
			case t := <-ticker.C:
				if err := s.Step(t); err != nil {
					s.logger.Warn("simulated publish failed", "error", err.Error())
				}
			}
		}
	}()
}

// Step publishes one simulated person at time t.
func (s *Simulator) Step(t time.Time) error {
	s.mu.Lock()
	zoneID := s.cfg.ZoneIDs[s.rng.IntN(len(s.cfg.ZoneIDs))]
	sensor := "exit"
	if s.rng.Float64() < s.cfg.EntryRatio {
		sensor = "entry"
	}
	s.mu.Unlock()

	for _, edge := range []string{"break", "make"} {
		payload, err := json.Marshal(simPayload{
			ZoneID:       zoneID,
			SensorKind:   sensor,
			Edge:         edge,
			Timestamp:    t.UTC().Format(time.RFC3339Nano),
			IsSimulation: true,
		})
		if err != nil {
			return err
		}
		token := s.client.Publish(s.cfg.Topic, 0, false, payload)
		token.Wait()
		if err := token.Error(); err != nil {
			return err
		}
	}

	s.mu.Lock()
	s.published++
	s.mu.Unlock()
	return nil
}

// Published returns how many people have been simulated.
func (s *Simulator) Published() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.published
}

// Stop halts the simulator and disconnects. It waits for the publish
// goroutine if one was started.
func (s *Simulator) Stop() {
	s.stopOnce.Do(func() {
		close(s.quit)
		if s.started.Load() {
			<-s.done
		}
		if s.conn != nil {
			s.conn.Disconnect(250)
		}
	})
}
