package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/yairfalse/discovery/internal/config"
	"github.com/yairfalse/discovery/internal/telemetry"
)

var (
	version = "0.1.0"

	configPath string
	envFile    string
	debug      bool
	logFormat  string

	rootCmd = &cobra.Command{
		Use:   "discovery",
		Short: "Compute inventory reconciliation",
		Long: `Discovery - compute inventory reconciliation

Discovery inventories compute resources from AWS organizations, OpenStack
clusters and network scans, joins them against the Qualys asset inventory,
and publishes the cross-referenced reports to Google Sheets.

Every sync rebuilds its snapshot from scratch. Nothing carries over
between cycles.`,
		Version:           version,
		SilenceUsage:      true,
		SilenceErrors:     true,
		PersistentPreRunE: setupLogging,
	}
)

// Execute runs the root command
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "Error: %v\n", err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.SetVersionTemplate(`Discovery {{.Version}}
`)

	rootCmd.PersistentFlags().StringVarP(&configPath, "config", "c", "", "Job configuration file (YAML)")
	rootCmd.PersistentFlags().StringVar(&envFile, "env-file", ".env", "Optional dotenv file")
	rootCmd.PersistentFlags().BoolVar(&debug, "debug", false, "Enable debug logging")
	rootCmd.PersistentFlags().StringVar(&logFormat, "log-format", "console", "Log format: console, json")
}

func setupLogging(cmd *cobra.Command, _ []string) error {
	level := "info"
	if debug {
		level = "debug"
	}
	return telemetry.SetupLogger(cmd.ErrOrStderr(), level, logFormat)
}

// loadConfig reads the dotenv file, then the job file, and validates the result.
func loadConfig() (*config.Config, error) {
	if err := config.LoadDotEnv(envFile); err != nil {
		return nil, err
	}
	cfg, err := config.Load(configPath)
	if err != nil {
		return nil, err
	}
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if !debug && cfg.Log.Level != "" {
		if err := telemetry.SetupLogger(rootCmd.ErrOrStderr(), cfg.Log.Level, logFormat); err != nil {
			return nil, err
		}
	}
	return cfg, nil
}
