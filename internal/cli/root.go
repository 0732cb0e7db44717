// Package cli implements the devicescore command tree.
package cli

import (
	"io"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap"

	"github.com/hed1ad/devicescore/internal/config"
	"github.com/hed1ad/devicescore/internal/logging"
)

type app struct {
	configPath string
	logLevel   string
	logJSON    bool

	cfg    *config.Config
	logger *zap.Logger
	stdout io.Writer
	stderr io.Writer
}

// NewRootCommand returns the devicescore command bound to the process streams.
func NewRootCommand() *cobra.Command {
	return newRootCommand(os.Stdout, os.Stderr)
}

// NewRootCommandWithIO returns the devicescore command writing to out and errOut.
func NewRootCommandWithIO(out, errOut io.Writer) *cobra.Command {
	return newRootCommand(out, errOut)
}

func newRootCommand(out, errOut io.Writer) *cobra.Command {
	a := &app{stdout: out, stderr: errOut}

	cmd := &cobra.Command{
		Use:           "devicescore",
		Short:         "Score device telemetry for anomalies",
		Long:          "devicescore derives failure rates from device telemetry, scores every device with an isolation forest and projects the fleet onto its principal components.",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, _ []string) error {
			return a.init(cmd)
		},
		PersistentPostRun: func(*cobra.Command, []string) {
			if a.logger != nil {
				_ = a.logger.Sync()
			}
		},
	}
	cmd.SetOut(out)
	cmd.SetErr(errOut)

	cmd.PersistentFlags().StringVar(&a.configPath, "config", "", "path to a YAML config file (env DEVICESCORE_CONFIG)")
	cmd.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level: debug, info, warn or error")
	cmd.PersistentFlags().BoolVar(&a.logJSON, "log-json", false, "emit logs as JSON")

	cmd.AddCommand(
		newScoreCmd(a),
		newGenerateCmd(a),
		newServeCmd(a),
	)
	return cmd
}

func (a *app) init(cmd *cobra.Command) error {
	cfg, err := config.Load(a.configPath)
	if err != nil {
		return err
	}
	if a.logLevel != "" {
		cfg.Logging.Level = a.logLevel
	}
	if cmd.Flags().Changed("log-json") {
		cfg.Logging.JSON = a.logJSON
	}

	var logger *zap.Logger
	if cfg.Logging.File != "" {
		logger, err = logging.New(cfg.Logging)
	} else {
		logger, err = logging.NewWithWriter(cfg.Logging, a.stderr)
	}
	if err != nil {
		return err
	}

	a.cfg = cfg
	a.logger = logger
	return nil
}
