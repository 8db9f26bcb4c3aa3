package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/config"
	cgerrors "github.com/randalmurphal/crowdgate/pkg/crowdgate/errors"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/event"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/httpapi"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/mqttin"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/notify"
	"github.com/randalmurphal/crowdgate/pkg/crowdgate/observability"
)

func newServeCmd(v *viper.Viper) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Run the engine, decision loops and HTTP API",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(v)
			if err != nil {
				return err
			}
			logger, err := stderrLogger(settings)
			if err != nil {
				return err
			}
			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			return serve(ctx, settings, logger)
		},
	}
	cmd.Flags().String("addr", ":3001", "HTTP listen address")
	_ = v.BindPFlag("http.addr", cmd.Flags().Lookup("addr"))
	return cmd
}

// serve runs until ctx is cancelled. Shutdown order is the reverse of
// startup: transports first, then the loops, then sinks and the store.
func serve(ctx context.Context, settings config.Settings, logger *slog.Logger) error {
	store, err := openStore(ctx, settings.Store, logger)
	if err != nil {
		return err
	}

	bus := event.NewBus(event.BusConfig{
		NonBlocking: true,
		OnDrop: func(evt event.Event, subscriberID string) {
			logger.Debug("stream subscriber lagging, event dropped",
				"event_type", evt.Type(), "subscriber", subscriberID)
		},
	})
	defer bus.Close()

	dispatcher, closeSinks, err := buildDispatcher(ctx, settings, bus, logger)
	if err != nil {
		store.Close()
		return err
	}
	defer closeSinks()

	engine, err := crowdgate.New(store, settings,
		crowdgate.WithLogger(logger),
		crowdgate.WithEmitter(dispatcher),
		crowdgate.WithMetrics(observability.NewMetricsRecorder()),
		crowdgate.WithSpanManager(observability.NewSpanManager()),
	)
	if err != nil {
		store.Close()
		return err
	}
	defer engine.Close()

	seeded, err := engine.EnsureZones(ctx, settings.Zones)
	if err != nil {
		return fmt.Errorf("seed zones: %w", err)
	}
	if seeded > 0 {
		logger.Info("zones seeded", "count", seeded)
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
		observability.NewZoneCollector(engine.ZoneGauges),
	)
	httpMetrics, err := observability.NewHTTPMetrics(reg)
	if err != nil {
		return err
	}

	if err := engine.Start(ctx); err != nil {
		return err
	}
	defer func() {
		if err := engine.Stop(); err != nil {
			logger.Warn("engine stop", "error", err)
		}
	}()

	if settings.MQTT.Broker != "" {
		sub := mqttin.NewSubscriber(engine, mqttin.SubscriberConfig{
			Broker:   settings.MQTT.Broker,
			Topic:    settings.MQTT.Topic,
			ClientID: settings.MQTT.ClientID,
			Logger:   logger,
		})
		if err := sub.Start(ctx); err != nil {
			return err
		}
		defer sub.Stop()
	}

	if settings.HTTP.AdminKey == "" {
		logger.Warn("http.admin_key is not set, admin routes are disabled")
	}
	server := httpapi.New(engine, httpapi.Config{
		Addr:           settings.HTTP.Addr,
		AdminKey:       settings.HTTP.AdminKey,
		AllowedOrigins: settings.HTTP.AllowedOrigins,
		Bus:            bus,
		Gatherer:       reg,
		Metrics:        httpMetrics,
		AccessLog:      os.Stdout,
		Logger:         logger,
	})
	err = server.ListenAndServe(ctx)
	logger.Info("shutting down")
	return err
}

// buildDispatcher fans notifications out to the stream bus, the log and
// whichever brokers are configured. The returned func closes the brokers.
func buildDispatcher(ctx context.Context, s config.Settings, bus event.Bus, logger *slog.Logger) (*notify.Dispatcher, func(), error) {
	dispatcher := notify.NewDispatcher(notify.WithLogger(logger)).
		Add("stream", notify.BusSink{Bus: bus}).
		Add("log", notify.LogSink{Logger: logger})

	var closers []func()
	closeAll := func() {
		for i := len(closers) - 1; i >= 0; i-- {
			closers[i]()
		}
	}

	if len(s.Kafka.Brokers) > 0 {
		sink := notify.NewKafkaSink(notify.KafkaConfig{
			Brokers: s.Kafka.Brokers,
			Topic:   s.Kafka.Topic,
			Logger:  logger,
		})
		dispatcher.Add("kafka", sink)
		closers = append(closers, func() {
			if err := sink.Close(); err != nil {
				logger.Warn("kafka sink close", "error", err)
			}
		})
		logger.Info("kafka notifications enabled", "topic", s.Kafka.Topic)
	}

	if s.NATS.URL != "" {
		_, err := retryConnect(ctx, logger, "nats connect", func(context.Context) error {
			conn, err := notify.ConnectNATS(s.NATS.URL, "crowdgate")
			if err != nil {
				return cgerrors.Transient(err, "nats connect")
			}
			dispatcher.Add("nats", notify.NewNATSSink(conn, s.NATS.Subject))
			closers = append(closers, conn.Close)
			return nil
		})
		if err != nil {
			closeAll()
			return nil, nil, fmt.Errorf("connect nats: %w", err)
		}
		logger.Info("nats notifications enabled", "subject", s.NATS.Subject)
	}

	return dispatcher, closeAll, nil
}
