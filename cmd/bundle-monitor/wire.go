package main

import (
	"context"
	"fmt"
	"strings"

	"gorm.io/gorm"

	"github.com/haslamdb/aegis-sub000/pkg/alerts"
	"github.com/haslamdb/aegis-sub000/pkg/bundles"
	"github.com/haslamdb/aegis-sub000/pkg/checkers"
	"github.com/haslamdb/aegis-sub000/pkg/common/config"
	"github.com/haslamdb/aegis-sub000/pkg/common/database"
	"github.com/haslamdb/aegis-sub000/pkg/common/kafka"
	"github.com/haslamdb/aegis-sub000/pkg/common/logger"
	"github.com/haslamdb/aegis-sub000/pkg/datasource"
	"github.com/haslamdb/aegis-sub000/pkg/datasource/fhir"
	"github.com/haslamdb/aegis-sub000/pkg/episodes"
	"github.com/haslamdb/aegis-sub000/pkg/gateway/routes"
	"github.com/haslamdb/aegis-sub000/pkg/monitor"
	"github.com/haslamdb/aegis-sub000/pkg/nlp"
	"github.com/haslamdb/aegis-sub000/pkg/terminology"
)

type app struct {
	cfg        *config.Config
	bundles    *bundles.Registry
	checkers   *checkers.Registry
	store      episodes.Store
	dispatcher *alerts.Dispatcher
	monitor    *monitor.Monitor
	probes     map[string]routes.Probe
	closers    []func() error
}

// buildRegistries loads the bundle catalog and terminology and binds the
// checkers. It fails when any enabled bundle cannot be evaluated.
func buildRegistries(cfg *config.Config) (*bundles.Registry, *checkers.Registry, error) {
	cat, err := bundles.Load(cfg.BundleCatalogPath)
	if err != nil {
		return nil, nil, err
	}
	reg, err := bundles.NewRegistry(cat.Bundles, cfg.EnabledBundles)
	if err != nil {
		return nil, nil, err
	}
	terms, err := terminology.Load(cfg.TerminologyPath)
	if err != nil {
		return nil, nil, fmt.Errorf("load terminology: %w", err)
	}
	classifier, err := nlp.New(cfg, terms)
	if err != nil {
		return nil, nil, err
	}
	chk := checkers.DefaultRegistry(checkers.Deps{
		Catalog:    terms,
		Thresholds: cfg.Thresholds,
		Classifier: classifier,
	})
	if err := chk.Validate(reg.ListEnabled()); err != nil {
		return nil, nil, fmt.Errorf("bundle configuration: %w", err)
	}
	return reg, chk, nil
}

func newApp(ctx context.Context, cfg *config.Config) (*app, error) {
	reg, chk, err := buildRegistries(cfg)
	if err != nil {
		return nil, err
	}
	a := &app{cfg: cfg, bundles: reg, checkers: chk, probes: make(map[string]routes.Probe)}

	source, err := a.openSource(ctx)
	if err != nil {
		a.Close()
		return nil, err
	}
	if a.store, err = a.openStore(); err != nil {
		a.Close()
		return nil, err
	}
	if a.dispatcher, err = a.openAlerts(ctx); err != nil {
		a.Close()
		return nil, err
	}

	a.monitor = monitor.New(reg, chk, source, a.store, a.dispatcher, monitor.Options{
		MaxParallelPatients: cfg.MaxParallelPatients,
	})
	return a, nil
}

func (a *app) openSource(ctx context.Context) (datasource.Source, error) {
	if a.cfg.FHIRFixturePath != "" {
		src, err := datasource.LoadFixture(a.cfg.FHIRFixturePath)
		if err != nil {
			return nil, err
		}
		logger.WithField("path", a.cfg.FHIRFixturePath).Warn("Using fixture data source")
		return src, nil
	}
	return fhir.New(ctx, fhir.OptionsFromConfig(a.cfg)), nil
}

func (a *app) openStore() (episodes.Store, error) {
	switch strings.ToLower(a.cfg.StoreBackend) {
	case "memory":
		logger.Log.Warn("Using in-memory episode store; state is lost on restart")
		return episodes.NewMemoryStore(a.cfg.DedupTolerance), nil
	case "", "postgres":
		db, err := database.OpenPostgres(a.cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, func() error { return database.ClosePostgres(db) })
		a.probes["postgres"] = pingPostgres(db)
		return episodes.NewRepository(db, a.cfg.DedupTolerance), nil
	default:
		return nil, fmt.Errorf("unknown STORE_BACKEND %q", a.cfg.StoreBackend)
	}
}

func (a *app) openAlerts(ctx context.Context) (*alerts.Dispatcher, error) {
	switch strings.ToLower(a.cfg.AlertBackend) {
	case "memory":
		return alerts.NewDispatcher(alerts.NewMemoryLedger(), alerts.NewRecordingPublisher()), nil
	case "", "kafka":
		client, err := database.OpenRedis(ctx, a.cfg)
		if err != nil {
			return nil, err
		}
		a.closers = append(a.closers, client.Close)
		a.probes["redis"] = func(ctx context.Context) error { return client.Ping(ctx).Err() }

		producer := kafka.NewProducer(a.cfg.KafkaBrokers, a.cfg.AlertTopic)
		a.closers = append(a.closers, producer.Close)
		return alerts.NewDispatcher(alerts.NewRedisLedger(client, a.cfg.AlertDedupTTL), alerts.NewKafkaPublisher(producer)), nil
	default:
		return nil, fmt.Errorf("unknown ALERT_BACKEND %q", a.cfg.AlertBackend)
	}
}

// jobs exposes the three passes by name.
func (a *app) jobs() map[string]routes.JobFunc {
	return map[string]routes.JobFunc{
		monitor.JobTriggerScan: func(ctx context.Context) (interface{}, error) {
			return a.monitor.TriggerScan(ctx)
		},
		monitor.JobDeadlineSweep: func(ctx context.Context) (interface{}, error) {
			return a.monitor.DeadlineSweep(ctx)
		},
		monitor.JobRecompute: func(ctx context.Context) (interface{}, error) {
			return a.monitor.RecomputeAdherence(ctx)
		},
	}
}

func (a *app) Close() {
	for i := len(a.closers) - 1; i >= 0; i-- {
		if err := a.closers[i](); err != nil {
			logger.Log.WithError(err).Warn("close failed")
		}
	}
	a.closers = nil
}

func pingPostgres(db *gorm.DB) routes.Probe {
	return func(ctx context.Context) error {
		sqlDB, err := db.DB()
		if err != nil {
			return err
		}
		return sqlDB.PingContext(ctx)
	}
}
