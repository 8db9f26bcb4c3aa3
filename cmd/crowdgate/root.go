package main

import (
	"errors"
	"fmt"
	"io"
	"log/slog"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
)

const envPrefix = "CROWDGATE"

// settingKeys are the scalar keys that may be set from the environment,
// e.g. CROWDGATE_DECISION_RETRY_LIMIT for decision.retry_limit.
var settingKeys = []string{
	"ingest.debounce_window",
	"ingest.rate_limit_per_sec",
	"density.safe_threshold",
	"density.moderate_threshold",
	"decision.escalation_threshold",
	"decision.redirect_cooldown",
	"decision.retry_limit",
	"decision.decision_interval",
	"decision.check_interval",
	"decision.escalation_policy",
	"store.driver",
	"store.dsn",
	"http.addr",
	"http.admin_key",
	"http.allowed_origins",
	"kafka.brokers",
	"kafka.topic",
	"nats.url",
	"nats.subject",
	"mqtt.broker",
	"mqtt.topic",
	"mqtt.client_id",
	"log.level",
	"log.format",
}

func newRootCmd() *cobra.Command {
	v := viper.New()

	root := &cobra.Command{
		Use:   "crowdgate",
		Short: "Crowd-density regulation engine",
		Long: `crowdgate counts people entering and leaving zones from gate sensor
events, classifies each zone's density, redirects arrivals away from
overcrowded zones and escalates to operators when redirects do not help.`,
		SilenceUsage: true,
	}
	root.PersistentFlags().StringP("config", "c", "", "config file (yaml or json)")
	_ = v.BindPFlag("config", root.PersistentFlags().Lookup("config"))

	root.AddCommand(
		newServeCmd(v),
		newSeedCmd(v),
		newSimulateCmd(v),
	)
	return root
}

// loadSettings reads the optional config file and environment into Settings.
func loadSettings(v *viper.Viper) (config.Settings, error) {
	v.SetEnvPrefix(envPrefix)
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()
	for _, key := range settingKeys {
		_ = v.BindEnv(key)
	}

	if path := v.GetString("config"); path != "" {
		file, err := config.Load(path)
		if err != nil {
			return config.Settings{}, err
		}
		if err := v.MergeConfigMap(file.Raw()); err != nil {
			return config.Settings{}, fmt.Errorf("merge config %s: %w", path, err)
		}
	}

	settings := config.SettingsFrom(config.New(v.AllSettings()))
	if err := settings.Validate(); err != nil {
		return config.Settings{}, err
	}
	return settings, nil
}

// newLogger builds the process logger from log settings.
func newLogger(s config.LogSettings, w io.Writer) (*slog.Logger, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s.Level)); err != nil {
		return nil, fmt.Errorf("log.level: %w", err)
	}
	opts := &slog.HandlerOptions{Level: level}

	switch s.Format {
	case "json", "":
		return slog.New(slog.NewJSONHandler(w, opts)), nil
	case "text":
		return slog.New(slog.NewTextHandler(w, opts)), nil
	default:
		return nil, errors.New("log.format: must be json or text")
	}
}

func stderrLogger(s config.Settings) (*slog.Logger, error) {
	logger, err := newLogger(s.Log, os.Stderr)
	if err != nil {
		return nil, err
	}
	slog.SetDefault(logger)
	return logger, nil
}
