// Package cli implements the tcpscope command line.
package cli

import (
	"TCPScope/internal/analysis/duration"
	"TCPScope/internal/config"
	"TCPScope/internal/logging"
	"errors"
	"fmt"
	"os"

	log "github.com/sirupsen/logrus"
	"github.com/spf13/cobra"
)

const defaultConfigPath = "configs/config.yaml"

// app carries the state shared by all subcommands.
type app struct {
	configPath string
	logLevel   string
	cfg        *config.Config
}

// NewRootCommand builds the tcpscope command tree.
func NewRootCommand() *cobra.Command {
	a := &app{}

	root := &cobra.Command{
		Use:   "tcpscope",
		Short: "TCPScope - TCP connection lifecycle and transport behaviour analysis",
		Long: `TCPScope infers TCP connection lifetimes from packet captures, computes
capture statistics, monitors live traffic and runs the Nagle / Delayed-ACK
measurement client and server.`,
		SilenceUsage:      true,
		PersistentPreRunE: a.setup,
	}

	root.PersistentFlags().StringVarP(&a.configPath, "config", "c", defaultConfigPath, "config file path")
	root.PersistentFlags().StringVar(&a.logLevel, "log-level", "", "log level (overrides log.level)")

	root.AddCommand(newLifecycleCommand(a))
	root.AddCommand(newCapStatsCommand(a))
	root.AddCommand(newMonitorCommand(a))
	root.AddCommand(newSubscribeCommand(a))
	root.AddCommand(newNagleCommand(a))
	root.AddCommand(newQueryCommand(a))
	return root
}

// Execute runs the root command.
func Execute() error {
	return NewRootCommand().Execute()
}

// setup loads the config and configures logging. A missing default config
// file falls back to built-in defaults; an explicit --config must exist.
func (a *app) setup(cmd *cobra.Command, _ []string) error {
	cfg, err := config.LoadConfig(a.configPath)
	if err != nil {
		if cmd.Flags().Changed("config") || !errors.Is(err, os.ErrNotExist) {
			return err
		}
		cfg = config.Default()
	}
	if a.logLevel != "" {
		cfg.Log.Level = a.logLevel
	}
	if err := logging.Setup(cfg.Log); err != nil {
		return fmt.Errorf("failed to set up logging: %w", err)
	}
	a.cfg = cfg
	log.Debugf("Configuration loaded from %s", a.configPath)
	return nil
}

// analysisOptions maps the lifecycle config onto duration options.
func (a *app) analysisOptions() (duration.Options, duration.PlotOptions) {
	lc := a.cfg.Lifecycle
	plotOpts := duration.DefaultPlotOptions()
	if lc.PlotTitle != "" {
		plotOpts.Title = lc.PlotTitle
	}
	plotOpts.Window = duration.Window{
		Start: config.Duration(lc.AttackStart, plotOpts.Window.Start),
		End:   config.Duration(lc.AttackEnd, plotOpts.Window.End),
	}
	return duration.Options{Sentinel: config.Duration(lc.OpenSentinel, duration.DefaultSentinel)}, plotOpts
}
