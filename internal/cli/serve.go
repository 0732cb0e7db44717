package cli

import (
	"context"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/collectors"
	"github.com/spf13/cobra"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/hed1ad/devicescore/internal/api"
	"github.com/hed1ad/devicescore/internal/config"
	"github.com/hed1ad/devicescore/internal/metrics"
	dscsv "github.com/hed1ad/devicescore/pkg/io/csv"
	"github.com/hed1ad/devicescore/pkg/pipeline"
	"github.com/hed1ad/devicescore/pkg/telemetry"
)

func newServeCmd(a *app) *cobra.Command {
	var (
		addr  string
		input string
		watch bool
		pf    pipelineFlags
	)

	cmd := &cobra.Command{
		Use:   "serve",
		Short: "Serve the latest report over HTTP",
		Long: `Serve scores the input once at startup and exposes the report under /api/v1.
With --watch the report is rebuilt whenever the input file changes.

Examples:

  devicescore serve --input data/raw/system_logs.csv
  devicescore serve --addr :9090 --watch`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg := *a.cfg
			pf.apply(cmd, &cfg.Pipeline)
			if cmd.Flags().Changed("addr") {
				cfg.Server.Address = addr
			}
			if cmd.Flags().Changed("input") {
				cfg.Input.Path = input
			}
			if cmd.Flags().Changed("watch") {
				cfg.Server.Watch = watch
			}
			return a.runServe(cmd.Context(), cfg)
		},
	}

	cmd.Flags().StringVar(&addr, "addr", ":8080", "listen address")
	cmd.Flags().StringVarP(&input, "input", "i", "", "telemetry CSV (default from config)")
	cmd.Flags().BoolVarP(&watch, "watch", "w", false, "rebuild the report when the input changes")
	pf.register(cmd)
	return cmd
}

func (a *app) runServe(ctx context.Context, cfg config.Config) error {
	if err := cfg.Pipeline.Validate(); err != nil {
		return err
	}

	reg := prometheus.NewRegistry()
	reg.MustRegister(
		collectors.NewGoCollector(),
		collectors.NewProcessCollector(collectors.ProcessCollectorOpts{}),
	)
	collector := metrics.NewCollector()
	if err := collector.Register(reg); err != nil {
		return err
	}

	path := cfg.Input.Path
	load := func(context.Context) (*telemetry.Dataset, error) {
		return dscsv.ReadFile(path, dscsv.WithRequired(telemetry.RequiredColumns...))
	}
	pipe := pipeline.New(cfg.Pipeline,
		pipeline.WithLogger(a.logger),
		pipeline.WithObserver(collector),
	)
	srv := api.New(pipe, load, api.WithLogger(a.logger), api.WithGatherer(reg))

	if err := srv.Refresh(ctx); err != nil {
		a.logger.Warn("initial refresh failed; serving 503 until the input is valid",
			zap.String("path", path), zap.Error(err))
	}

	g, ctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return srv.ListenAndServe(ctx, cfg.Server.Address, cfg.Server.GracefulTimeout)
	})
	if cfg.Server.Watch {
		g.Go(func() error {
			return srv.Watch(ctx, path)
		})
	}
	if cfg.Server.RefreshInterval > 0 {
		g.Go(func() error {
			srv.Poll(ctx, cfg.Server.RefreshInterval)
			return nil
		})
	}
	return g.Wait()
}
