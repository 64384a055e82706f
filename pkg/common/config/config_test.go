package config

import (
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg := Load()
	if cfg.StoreBackend != "postgres" {
		t.Fatalf("expected postgres store backend, got %s", cfg.StoreBackend)
	}
	if cfg.Thresholds.LactateMmolL != 2.0 {
		t.Fatalf("expected lactate threshold 2.0, got %v", cfg.Thresholds.LactateMmolL)
	}
	if cfg.AlertBackend != "kafka" || cfg.APIRateLimit != 50 {
		t.Fatalf("unexpected alert backend %q or rate limit %d", cfg.AlertBackend, cfg.APIRateLimit)
	}
	if cfg.DedupTolerance != 0 {
		t.Fatalf("expected exact trigger dedup by default, got %v", cfg.DedupTolerance)
	}
}

func TestLoadOverrides(t *testing.T) {
	t.Setenv("KAFKA_BROKERS", "a:9092, b:9092")
	t.Setenv("TRIGGER_DEDUP_TOLERANCE", "2m")
	t.Setenv("LACTATE_THRESHOLD", "4")
	t.Setenv("ENABLED_BUNDLES", "sepsis_peds_2024,cdiff_testing_2024")

	cfg := Load()
	if len(cfg.KafkaBrokers) != 2 || cfg.KafkaBrokers[1] != "b:9092" {
		t.Fatalf("unexpected brokers %v", cfg.KafkaBrokers)
	}
	if cfg.DedupTolerance != 2*time.Minute {
		t.Fatalf("expected 2m tolerance, got %v", cfg.DedupTolerance)
	}
	if cfg.Thresholds.LactateMmolL != 4 {
		t.Fatalf("expected lactate override, got %v", cfg.Thresholds.LactateMmolL)
	}
	if len(cfg.EnabledBundles) != 2 {
		t.Fatalf("expected two enabled bundles, got %v", cfg.EnabledBundles)
	}
}
