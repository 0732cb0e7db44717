package cli

import (
	"fmt"
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	dsio "github.com/hed1ad/devicescore/pkg/io"
	dscsv "github.com/hed1ad/devicescore/pkg/io/csv"
	dsjson "github.com/hed1ad/devicescore/pkg/io/json"
	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

type scoreOptions struct {
	input  string
	output string
	format string
	quiet  bool
}

func newScoreCmd(a *app) *cobra.Command {
	var (
		opts scoreOptions
		pf   pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "score",
		Short: "Score a telemetry CSV and write the enriched records",
		Long: `Score reads device telemetry, derives failure_rate, scores every device with an
isolation forest and projects the fleet onto its principal components.

Output is written to stdout unless --output is given.

Examples:

  devicescore score --input data/raw/system_logs.csv
  devicescore score --input logs.csv --format json --output report.json
  devicescore score --input logs.csv --contamination 0.1 --features failure_rate,avg_latency_ms,error_rate`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := validateFormat(opts.format); err != nil {
				return err
			}
			cfg := a.cfg.Pipeline
			pf.apply(cmd, &cfg)
			if opts.input == "" {
				opts.input = a.cfg.Input.Path
			}
			return a.runScore(cmd, opts, cfg)
		},
	}

	cmd.Flags().StringVarP(&opts.input, "input", "i", "", "telemetry CSV (default from config)")
	cmd.Flags().StringVarP(&opts.output, "output", "o", "-", "output path, - for stdout")
	cmd.Flags().StringVarP(&opts.format, "format", "f", "csv", "output format: csv or json")
	cmd.Flags().BoolVarP(&opts.quiet, "quiet", "q", false, "do not print the summary")
	pf.register(cmd)
	return cmd
}

func (a *app) runScore(cmd *cobra.Command, opts scoreOptions, cfg pipeline.Config) error {
	ds, err := dscsv.ReadFile(opts.input, dscsv.WithRequired(telemetry.RequiredColumns...))
	if err != nil {
		return fmt.Errorf("read %s: %w", opts.input, err)
	}
	a.logger.Debug("dataset loaded", zap.String("path", opts.input), zap.Int("records", ds.Len()))

	report, err := pipeline.New(cfg, pipeline.WithLogger(a.logger)).Run(cmd.Context(), ds)
	if err != nil {
		return err
	}

	w, err := a.openWriter(opts.output, opts.format)
	if err != nil {
		return err
	}
	if err := w.Write(report); err != nil {
		w.Close()
		return fmt.Errorf("write report: %w", err)
	}
	if err := w.Close(); err != nil {
		return fmt.Errorf("write report: %w", err)
	}

	if !opts.quiet {
		printSummary(a.stderr, report)
	}
	return nil
}

func validateFormat(format string) error {
	switch format {
	case "csv", "json":
		return nil
	}
	return fmt.Errorf("unknown format %q: want csv or json", format)
}

// openWriter creates path only after format is known to be valid.
func (a *app) openWriter(path, format string) (dsio.Writer, error) {
	if err := validateFormat(format); err != nil {
		return nil, err
	}

	var dst io.Writer = nopCloser{a.stdout}
	if path != "" && path != "-" {
		f, err := os.Create(path)
		if err != nil {
			return nil, err
		}
		dst = f
	}

	if format == "json" {
		return dsjson.NewWriter(dst), nil
	}
	return dscsv.NewWriter(dst), nil
}

func printSummary(w io.Writer, report *pipeline.Report) {
	s := report.Summary
	fmt.Fprintf(w, "run %s scored %d records from %d devices in %s\n", report.RunID, s.Count, s.Devices, report.Duration)
	fmt.Fprintf(w, "  anomalies:        %d\n", s.Anomalies)
	fmt.Fprintf(w, "  decision offset:  %.4f\n", s.Offset)
	fmt.Fprintf(w, "  mean latency ms:  %.2f\n", s.MeanLatencyMS)
	fmt.Fprintf(w, "  max latency ms:   %.2f\n", s.MaxLatencyMS)
	for i, v := range report.ExplainedVariance {
		fmt.Fprintf(w, "  pc%d variance:     %.1f%%\n", i+1, v*100)
	}
}

// nopCloser keeps writers from closing the process streams.
type nopCloser struct {
	io.Writer
}

func (nopCloser) Close() error { return nil }

// pipelineFlags overrides pipeline settings that were set on the command line.
type pipelineFlags struct {
	trees         int
	subsample     int
	contamination float64
	seed          int64
	components    int
	workers       int
	features      []string
}

func (p *pipelineFlags) register(cmd *cobra.Command) {
	def := pipeline.DefaultConfig()
	cmd.Flags().IntVar(&p.trees, "trees", def.NumTrees, "number of isolation trees")
	cmd.Flags().IntVar(&p.subsample, "subsample", def.SubsampleSize, "rows drawn per tree")
	cmd.Flags().Float64Var(&p.contamination, "contamination", def.Contamination, "expected anomalous fraction in (0, 1)")
	cmd.Flags().Int64Var(&p.seed, "seed", def.RandomSeed, "random seed")
	cmd.Flags().IntVar(&p.components, "components", def.NumComponents, "principal components to keep")
	cmd.Flags().IntVar(&p.workers, "workers", def.Workers, "tree building workers, 0 for one per CPU")
	cmd.Flags().StringSliceVar(&p.features, "features", def.Features, "feature columns to score")
}

func (p *pipelineFlags) apply(cmd *cobra.Command, cfg *pipeline.Config) {
	flags := cmd.Flags()
	if flags.Changed("trees") {
		cfg.NumTrees = p.trees
	}
	if flags.Changed("subsample") {
		cfg.SubsampleSize = p.subsample
	}
	if flags.Changed("contamination") {
		cfg.Contamination = p.contamination
	}
	if flags.Changed("seed") {
		cfg.RandomSeed = p.seed
	}
	if flags.Changed("components") {
		cfg.NumComponents = p.components
	}
	if flags.Changed("workers") {
		cfg.Workers = p.workers
	}
	if flags.Changed("features") {
		cfg.Features = p.features
	}
}
