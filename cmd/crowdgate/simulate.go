package main

import (
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate/mqttin"
)

func newSimulateCmd(v *viper.Viper) *cobra.Command {
	var (
		zoneIDs    []int64
		interval   time.Duration
		entryRatio float64
		seed       uint64
	)

	cmd := &cobra.Command{
		Use:   "simulate",
		Short: "Publish simulated gate sensor events to the MQTT broker",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(v)
			if err != nil {
				return err
			}
			logger, err := stderrLogger(settings)
			if err != nil {
				return err
			}
			if settings.MQTT.Broker == "" {
				return fmt.Errorf("mqtt.broker is required: pass --broker or set CROWDGATE_MQTT_BROKER")
			}

			sim, err := mqttin.NewSimulator(mqttin.SimulatorConfig{
				Broker:     settings.MQTT.Broker,
				Topic:      settings.MQTT.Topic,
				ClientID:   settings.MQTT.ClientID + "-simulator",
				ZoneIDs:    zoneIDs,
				Interval:   interval,
				EntryRatio: entryRatio,
				Seed:       seed,
				Logger:     logger,
			})
			if err != nil {
				return err
			}

			ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
			defer stop()
			sim.Start(ctx)
			<-ctx.Done()
			sim.Stop()
			fmt.Fprintf(cmd.OutOrStdout(), "simulated %d people\n", sim.Published())
			return nil
		},
	}

	cmd.Flags().Int64SliceVar(&zoneIDs, "zones", []int64{1, 2, 3}, "zone ids to simulate")
	cmd.Flags().DurationVar(&interval, "interval", 500*time.Millisecond, "time between simulated people")
	cmd.Flags().Float64Var(&entryRatio, "entry-ratio", 0.6, "probability a simulated person enters")
	cmd.Flags().Uint64Var(&seed, "seed", 0, "random seed (0 picks one)")
	cmd.Flags().String("broker", "", "MQTT broker URL (overrides mqtt.broker)")
	_ = v.BindPFlag("mqtt.broker", cmd.Flags().Lookup("broker"))
	return cmd
}
