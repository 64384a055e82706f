package main

import (
	"context"
	"fmt"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/haslamdb/aegis-sub000/pkg/alerts"
	"github.com/haslamdb/aegis-sub000/pkg/common/kafka"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/gateway/routes"
	"github.com/haslamdb/aegis-sub000/pkg/monitor"
	"github.com/haslamdb/aegis-sub000/pkg/scheduler"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Run the scheduled passes and the ops API",
	Long: `Start the trigger scan, deadline sweep and adherence recompute on their
cron schedules, serve health, readiness, metrics and episode routes, and
consume alert acknowledgements when Kafka delivery is enabled.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg := loadConfig()
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	a, err := newApp(ctx, cfg)
	if err != nil {
		return err
	}
	defer a.Close()

	sched := scheduler.New()
	schedules := []struct{ name, schedule string }{
		{monitor.JobTriggerScan, cfg.TriggerScanSchedule},
		{monitor.JobDeadlineSweep, cfg.DeadlineSweepSchedule},
		{monitor.JobRecompute, cfg.RecomputeSchedule},
	}
	jobs := a.jobs()
	for _, s := range schedules {
		run := jobs[s.name]
		if err := sched.Add(s.name, s.schedule, func(ctx context.Context) error {
			_, err := run(ctx)
			return err
		}); err != nil {
			return err
		}
	}

	if cfg.KafkaAckEnabled && cfg.AlertBackend != "memory" {
		consumer := kafka.NewConsumer(cfg.KafkaBrokers, cfg.AlertAckTopic, cfg.KafkaGroupID)
		defer consumer.Close()
		go func() {
			if err := consumer.Consume(ctx, alerts.AckHandler(a.dispatcher)); err != nil && ctx.Err() == nil {
				logger.Log.WithError(err).Error("Alert ack consumer stopped")
			}
		}()
	}

	server := &http.Server{
		Addr: fmt.Sprintf("%s:%s", cfg.ServerHost, cfg.ServerPort),
		Handler: routes.NewRouter(routes.RouterConfig{
			Store:     a.store,
			Probes:    a.probes,
			Jobs:      jobs,
			TokenHash: cfg.APITokenHash,
			RateLimit: cfg.APIRateLimit,
		}),
		ReadTimeout:  cfg.ReadTimeout,
		WriteTimeout: cfg.WriteTimeout,
		IdleTimeout:  120 * time.Second,
	}

	errCh := make(chan error, 1)
	go func() {
		logger.WithFields(logrus.Fields{
			"host":    cfg.ServerHost,
			"port":    cfg.ServerPort,
			"bundles": len(a.bundles.ListEnabled()),
		}).Info("Bundle monitor started")
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()
	sched.Start(ctx)
	for name, next := range sched.NextRuns() {
		logger.WithFields(logrus.Fields{"job": name, "next_run": next}).Info("Next scheduled run")
	}

	select {
	case <-ctx.Done():
	case err = <-errCh:
		logger.Log.WithError(err).Error("Ops server failed")
	}

	logger.Log.Info("Shutting down bundle monitor...")
	sched.Stop()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()
	if serr := server.Shutdown(shutdownCtx); serr != nil {
		logger.Log.WithError(serr).Error("Server forced to shutdown")
	}
	logger.Log.Info("Bundle monitor stopped")
	return err
}
