package main

import (
	"fmt"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/randalmurphal/crowdgate/pkg/crowdgate"
)

func newSeedCmd(v *viper.Viper) *cobra.Command {
	return &cobra.Command{
		Use:   "seed",
		Short: "Provision the configured zones into an empty store",
		RunE: func(cmd *cobra.Command, _ []string) error {
			settings, err := loadSettings(v)
			if err != nil {
				return err
			}
			logger, err := stderrLogger(settings)
			if err != nil {
				return err
			}

			ctx := cmd.Context()
			store, err := openStore(ctx, settings.Store, logger)
			if err != nil {
				return err
			}
			engine, err := crowdgate.New(store, settings, crowdgate.WithLogger(logger))
			if err != nil {
				store.Close()
				return err
			}
			defer engine.Close()

			n, err := engine.EnsureZones(ctx, settings.Zones)
			if err != nil {
				return err
			}
			zones, err := engine.Zones(ctx)
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			fmt.Fprintf(out, "seeded %d zone(s)\n", n)
			for _, z := range zones {
				fmt.Fprintf(out, "%4d  %-20s %8.1f m2  %d people\n", z.ID, z.Name, z.AreaM2, z.Count)
			}
			return nil
		},
	}
}
