package main

import (
	"encoding/json"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/haslamdb/aegis-sub000/pkg/monitor"
)

var runCmd = &cobra.Command{
	Use:       "run <trigger-scan|deadline-sweep|recompute>",
	Short:     "Run one monitor pass and print its summary",
	Args:      cobra.MatchAll(cobra.ExactArgs(1), cobra.OnlyValidArgs),
	ValidArgs: []string{monitor.JobTriggerScan, monitor.JobDeadlineSweep, monitor.JobRecompute},
	RunE:      runPass,
}

func init() {
	rootCmd.AddCommand(runCmd)
}

func runPass(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	job, ok := a.jobs()[args[0]]
	if !ok {
		return fmt.Errorf("unknown pass %q", args[0])
	}
	summary, err := job(ctx)
	if err != nil {
		return err
	}
	enc := json.NewEncoder(cmd.OutOrStdout())
	enc.SetIndent("", "  ")
	return enc.Encode(summary)
}
