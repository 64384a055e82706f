package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
)

var logLevel string

var rootCmd = &cobra.Command{
	Use:   "bundle-monitor",
	Short: "Guideline bundle compliance monitor",
	Long: `bundle-monitor detects bundle triggers in clinical data, tracks each
element of the triggered bundle against its time window and alerts when an
element is not met.`,
	SilenceUsage: true,
}

// Execute runs the root command.
func Execute() {
	if err := rootCmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func init() {
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "", "override LOG_LEVEL (debug, info, warn, error)")
}

// loadConfig reads the environment and initializes logging.
func loadConfig() *config.Config {
	cfg := config.Load()
	if logLevel != "" {
		cfg.LogLevel = logLevel
	}
	logger.Init(cfg.LogLevel)
	return cfg
}
