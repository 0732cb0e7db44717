package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/devicescore/pkg/generate"
	dscsv "github.com/hed1ad/devicescore/pkg/io/csv"
)

func newGenerateCmd(a *app) *cobra.Command {
	cfg := generate.DefaultConfig()
	var output string

	cmd := &cobra.Command{
		Use:   "generate",
		Short: "Write a synthetic telemetry CSV",
		Long: `Generate writes a reproducible synthetic fleet with the columns device_id,
uptime_hours, failures, avg_latency_ms and error_rate.

Examples:

  devicescore generate --output data/raw/system_logs.csv
  devicescore generate --devices 500 --outliers 0.02 --seed 7`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			ds, err := generate.Dataset(cfg)
			if err != nil {
				return err
			}

			var dst io.Writer = nopCloser{a.stdout}
			if output != "" && output != "-" {
				f, err := os.Create(output)
				if err != nil {
					return err
				}
				dst = f
			}

			w := dscsv.NewWriter(dst)
			if err := w.WriteDataset(ds); err != nil {
				w.Close()
				return fmt.Errorf("write dataset: %w", err)
			}
			if err := w.Close(); err != nil {
				return err
			}
			a.logger.Info("dataset generated",
				zap.Int("devices", cfg.Devices),
				zap.Uint64("seed", cfg.Seed),
				zap.String("output", output),
			)
			return nil
		},
	}

	cmd.Flags().IntVarP(&cfg.Devices, "devices", "n", cfg.Devices, "number of devices")
	cmd.Flags().Uint64Var(&cfg.Seed, "seed", cfg.Seed, "random seed")
	cmd.Flags().Float64Var(&cfg.OutlierFraction, "outliers", cfg.OutlierFraction, "fraction of devices with injected faults")
	cmd.Flags().StringVarP(&output, "output", "o", "-", "output path, - for stdout")
	return cmd
}
