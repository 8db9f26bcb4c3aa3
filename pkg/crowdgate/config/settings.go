package config

import (
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
)

// Escalation de-duplication policies.
const (
	// EscalateOpenOnce records a new escalation only when the zone has no
	// unresolved one.
	EscalateOpenOnce = "open_once"
	// EscalateEveryTick records an escalation on every monitor pass that
	// meets the criteria.
	EscalateEveryTick = "every_tick"
)

// IngestSettings tunes the sensor event path.
type IngestSettings struct {
	DebounceWindow  time.Duration
	RateLimitPerSec int
}

// DensitySettings holds the classification thresholds in people per m2.
type DensitySettings struct {
	SafeThreshold     float64
	ModerateThreshold float64
}

// DecisionSettings tunes the planner and monitor loops.
type DecisionSettings struct {
	EscalationThreshold float64
	RedirectCooldown    time.Duration
	RetryLimit          int
	DecisionInterval    time.Duration
	CheckInterval       time.Duration
	EscalationPolicy    string
}

// StoreSettings selects the zone store backend.
type StoreSettings struct {
	Driver string
	DSN    string
}

// HTTPSettings configures the HTTP API.
type HTTPSettings struct {
	Addr           string
	AdminKey       string
	AllowedOrigins []string
}

// KafkaSettings configures the Kafka notification sink. Empty Brokers disables it.
type KafkaSettings struct {
	Brokers []string
	Topic   string
}

// NATSSettings configures the NATS notification sink. Empty URL disables it.
type NATSSettings struct {
	URL     string
	Subject string
}

// MQTTSettings configures sensor ingress over MQTT. Empty Broker disables it.
type MQTTSettings struct {
	Broker   string
	Topic    string
	ClientID string
}

// LogSettings configures the slog handler.
type LogSettings struct {
	Level  string
	Format string
}

// ZoneSeed describes a zone provisioned into an empty store.
type ZoneSeed struct {
	Name   string
	AreaM2 float64
}

// Settings is the typed configuration of a crowdgate process.
type Settings struct {
	Ingest   IngestSettings
	Density  DensitySettings
	Decision DecisionSettings
	Store    StoreSettings
	HTTP     HTTPSettings
	Kafka    KafkaSettings
	NATS     NATSSettings
	MQTT     MQTTSettings
	Log      LogSettings
	Zones    []ZoneSeed
}

// DefaultZones returns the three platforms of 1000 m2 used when no zones
// are configured.
func DefaultZones() []ZoneSeed {
	return []ZoneSeed{
		{Name: "Platform 1", AreaM2: 1000},
		{Name: "Platform 2", AreaM2: 1000},
		{Name: "Platform 3", AreaM2: 1000},
	}
}

// Defaults returns the built-in settings.
func Defaults() Settings {
	return Settings{
		Ingest: IngestSettings{
			DebounceWindow:  600 * time.Millisecond,
			RateLimitPerSec: 10,
		},
		Density: DensitySettings{
			SafeThreshold:     0.40,
			ModerateThreshold: 0.70,
		},
		Decision: DecisionSettings{
			EscalationThreshold: 0.85,
			RedirectCooldown:    15 * time.Second,
			RetryLimit:          2,
			DecisionInterval:    5 * time.Second,
			CheckInterval:       10 * time.Second,
			EscalationPolicy:    EscalateOpenOnce,
		},
		Store: StoreSettings{Driver: "sqlite", DSN: "crowdgate.db"},
		HTTP:  HTTPSettings{Addr: ":3001"},
		Kafka: KafkaSettings{Topic: "crowdgate.notifications"},
		NATS:  NATSSettings{Subject: "crowdgate.notifications"},
		MQTT:  MQTTSettings{Topic: "crowdgate/sensors", ClientID: "crowdgate"},
		Log:   LogSettings{Level: "info", Format: "json"},
		Zones: DefaultZones(),
	}
}

// SettingsFrom overlays cfg on Defaults. Missing keys keep their default.
func SettingsFrom(cfg Config) Settings {
	s := Defaults()

	s.Ingest.DebounceWindow = cfg.Duration("ingest.debounce_window", s.Ingest.DebounceWindow)
	s.Ingest.RateLimitPerSec = cfg.Int("ingest.rate_limit_per_sec", s.Ingest.RateLimitPerSec)

	s.Density.SafeThreshold = cfg.Float("density.safe_threshold", s.Density.SafeThreshold)
	s.Density.ModerateThreshold = cfg.Float("density.moderate_threshold", s.Density.ModerateThreshold)

	d := &s.Decision
	d.EscalationThreshold = cfg.Float("decision.escalation_threshold", d.EscalationThreshold)
	d.RedirectCooldown = cfg.Duration("decision.redirect_cooldown", d.RedirectCooldown)
	d.RetryLimit = cfg.Int("decision.retry_limit", d.RetryLimit)
	d.DecisionInterval = cfg.Duration("decision.decision_interval", d.DecisionInterval)
	d.CheckInterval = cfg.Duration("decision.check_interval", d.CheckInterval)
	d.EscalationPolicy = strings.ToLower(cfg.String("decision.escalation_policy", d.EscalationPolicy))

	s.Store.Driver = strings.ToLower(cfg.String("store.driver", s.Store.Driver))
	s.Store.DSN = cfg.String("store.dsn", s.Store.DSN)

	s.HTTP.Addr = cfg.String("http.addr", s.HTTP.Addr)
	s.HTTP.AdminKey = cfg.String("http.admin_key", s.HTTP.AdminKey)
	s.HTTP.AllowedOrigins = cfg.StringSlice("http.allowed_origins", s.HTTP.AllowedOrigins)

	s.Kafka.Brokers = cfg.StringSlice("kafka.brokers", s.Kafka.Brokers)
	s.Kafka.Topic = cfg.String("kafka.topic", s.Kafka.Topic)
	s.NATS.URL = cfg.String("nats.url", s.NATS.URL)
	s.NATS.Subject = cfg.String("nats.subject", s.NATS.Subject)
	s.MQTT.Broker = cfg.String("mqtt.broker", s.MQTT.Broker)
	s.MQTT.Topic = cfg.String("mqtt.topic", s.MQTT.Topic)
	s.MQTT.ClientID = cfg.String("mqtt.client_id", s.MQTT.ClientID)

	s.Log.Level = strings.ToLower(cfg.String("log.level", s.Log.Level))
	s.Log.Format = strings.ToLower(cfg.String("log.format", s.Log.Format))

	if sections := cfg.Sections("zones"); len(sections) > 0 {
		s.Zones = make([]ZoneSeed, 0, len(sections))
		for _, z := range sections {
			s.Zones = append(s.Zones, ZoneSeed{
				Name:   z.String("name", ""),
				AreaM2: z.Float("area_m2", 0),
			})
		}
	}
	return s
}

// Validate reports every invalid field, joined.
func (s Settings) Validate() error {
	var errs []error
	add := func(field, format string, args ...any) {
		errs = append(errs, cgerrors.Invalid(field, format, args...))
	}

	if s.Ingest.DebounceWindow < 0 {
		add("ingest.debounce_window", "must not be negative")
	}
	if s.Ingest.RateLimitPerSec <= 0 {
		add("ingest.rate_limit_per_sec", "must be positive, got %d", s.Ingest.RateLimitPerSec)
	}
	// Thresholds are fractions of nominal capacity.
	inUnit := func(v float64) bool { return v >= 0 && v <= 1 }
	switch {
	case !inUnit(s.Density.SafeThreshold):
		add("density.safe_threshold", "must be in [0, 1], got %g", s.Density.SafeThreshold)
	case s.Density.SafeThreshold >= s.Density.ModerateThreshold:
		add("density.safe_threshold", "must be below moderate_threshold %g, got %g",
			s.Density.ModerateThreshold, s.Density.SafeThreshold)
	}
	if !inUnit(s.Density.ModerateThreshold) {
		add("density.moderate_threshold", "must be in [0, 1], got %g", s.Density.ModerateThreshold)
	}
	switch {
	case !inUnit(s.Decision.EscalationThreshold):
		add("decision.escalation_threshold", "must be in [0, 1], got %g", s.Decision.EscalationThreshold)
	case s.Decision.EscalationThreshold <= s.Density.ModerateThreshold:
		add("decision.escalation_threshold", "must exceed moderate_threshold %g, got %g",
			s.Density.ModerateThreshold, s.Decision.EscalationThreshold)
	}
	if s.Decision.RedirectCooldown < 0 {
		add("decision.redirect_cooldown", "must not be negative")
	}
	if s.Decision.RetryLimit < 1 {
		add("decision.retry_limit", "must be at least 1, got %d", s.Decision.RetryLimit)
	}
	if s.Decision.DecisionInterval <= 0 {
		add("decision.decision_interval", "must be positive")
	}
	if s.Decision.CheckInterval <= 0 {
		add("decision.check_interval", "must be positive")
	}
	switch s.Decision.EscalationPolicy {
	case EscalateOpenOnce, EscalateEveryTick:
	default:
		add("decision.escalation_policy", "unknown policy %q", s.Decision.EscalationPolicy)
	}
	switch s.Store.Driver {
	case "memory", "sqlite", "postgres":
	default:
		add("store.driver", "unknown driver %q", s.Store.Driver)
	}
	if s.Store.Driver != "memory" && s.Store.DSN == "" {
		add("store.dsn", "required for driver %q", s.Store.Driver)
	}
	if len(s.Kafka.Brokers) > 0 && s.Kafka.Topic == "" {
		add("kafka.topic", "required when brokers are set")
	}
	seen := make(map[string]bool, len(s.Zones))
	for i, z := range s.Zones {
		field := fmt.Sprintf("zones[%d]", i)
		if strings.TrimSpace(z.Name) == "" {
			add(field+".name", "must not be empty")
		} else if seen[z.Name] {
			add(field+".name", "duplicate zone %q", z.Name)
		}
		seen[z.Name] = true
		if math.IsNaN(z.AreaM2) || math.IsInf(z.AreaM2, 0) || z.AreaM2 <= 0 {
			add(field+".area_m2", "must be a positive finite number, got %g", z.AreaM2)
		}
	}
	return errors.Join(errs...)
}
