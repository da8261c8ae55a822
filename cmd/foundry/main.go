// Package main implements the foundry CLI: orchestrated feature builds from
// a declarative request file.
package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.uber.org/zap/zapcore"

	"github.com/fyrsmithlabs/foundry/internal/config"
	"github.com/fyrsmithlabs/foundry/internal/logging"
)

var (
	// cfgFile is the optional YAML config path; env vars override it.
	cfgFile string
	// version information
	version = "dev"
)

func main() {
	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:   "foundry",
	Short: "Orchestrate parallel feature builds from a request file",
	Long: `foundry takes a declarative build request, schedules its features into
dependency waves, dispatches role workers in parallel, integrates finished
branches in order, and gates the result behind verification and a quality
score.`,
	Version:      version,
	SilenceUsage: true,
}

func init() {
	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (YAML); FOUNDRY_* env vars override")
	rootCmd.AddCommand(runCmd)
	rootCmd.AddCommand(validateCmd)
	rootCmd.AddCommand(resumeCmd)
	rootCmd.AddCommand(patternsCmd)
}

// setup loads config and builds the logger every subcommand shares.
func setup() (*config.Config, *logging.Logger, error) {
	cfg, err := config.LoadWithFile(cfgFile)
	if err != nil {
		return nil, nil, fmt.Errorf("load config: %w", err)
	}

	log, err := buildLogger(cfg)
	if err != nil {
		return nil, nil, err
	}
	return cfg, log, nil
}

// buildLogger maps the user-facing logging knobs onto the logger config. The
// level arrives as a string from YAML or env and must parse.
func buildLogger(cfg *config.Config) (*logging.Logger, error) {
	level, err := zapcore.ParseLevel(cfg.Logging.Level)
	if err != nil {
		return nil, fmt.Errorf("invalid log level %q: %w", cfg.Logging.Level, err)
	}
	logCfg := logging.NewDefaultConfig()
	logCfg.Level = level
	logCfg.Format = cfg.Logging.Format
	log, err := logging.NewLogger(logCfg)
	if err != nil {
		return nil, fmt.Errorf("create logger: %w", err)
	}
	return log, nil
}
