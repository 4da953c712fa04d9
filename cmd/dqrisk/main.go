package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/raaihank/dq-sentinel/internal/config"
	"github.com/raaihank/dq-sentinel/internal/engine"
	"github.com/raaihank/dq-sentinel/internal/logger"
)

var (
	// Global flags
	cfgFile string
	output  string
	verbose bool
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "dqrisk",
	Short: "Probabilistic data-quality risk analysis",
	Long: `dqrisk scans a dataset with the rule catalog, estimates the error
probability of each quality dimension and scores the risk for each usage.

Core Commands:
  analyze      Scan a dataset and score its risk per usage
  contract     Export the quality section of a data contract
  rules        List or import catalog rules
  weights      Show usage presets or elicit weights with AHP

Learned rule frequencies are stored in the configured learning backend, so
repeated scans prioritise the rules that fire most often.`,
	SilenceUsage: true,
}

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "Config file (default: ./config.yaml)")
	rootCmd.PersistentFlags().StringVarP(&output, "output", "o", "table", "Output format (table, json, yaml)")
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "Log at debug level")
}

// setup loads the configuration and builds the engine. Callers must Close the engine.
func setup(ctx context.Context) (*config.Config, *engine.Engine, error) {
	cfg, err := loadConfig()
	if err != nil {
		return nil, nil, err
	}
	log, err := newLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	eng, err := engine.New(ctx, cfg, nil, log)
	if err != nil {
		return nil, nil, err
	}
	return cfg, eng, nil
}

func loadConfig() (*config.Config, error) {
	cfg, err := config.Load(cfgFile)
	if err != nil {
		return nil, fmt.Errorf("load configuration: %w", err)
	}
	return cfg, nil
}

// newLogger keeps the CLI quiet unless --verbose is set.
func newLogger(cfg *config.Config) (*logger.Logger, error) {
	level := "warn"
	if verbose {
		level = "debug"
	}
	lc := logger.Config{Level: level, Format: "console"}
	if cfg.Logging.File.Enabled {
		lc.File = &logger.FileConfig{Enabled: true, Path: cfg.Logging.File.Path}
	}
	return logger.New(lc)
}
