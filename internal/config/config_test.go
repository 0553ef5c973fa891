package config

import (
	"os"
	"path/filepath"
	"testing"
	"time"
)

func TestLoadDefaults(t *testing.T) {
	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load defaults: %v", err)
	}
	if cfg.Server.HTTPAddress != ":8080" || cfg.Server.HealthAddress != ":50051" || cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("unexpected default addresses: %+v", cfg.Server)
	}
	if cfg.Detection.Threshold.ErrorThreshold != 5 || cfg.Detection.Threshold.TimeWindow != 5*time.Minute {
		t.Fatalf("unexpected threshold defaults: %+v", cfg.Detection.Threshold)
	}
	if cfg.Detection.Anomaly.Contamination != 0.1 || cfg.Detection.Anomaly.MinTrainingSamples != 100 {
		t.Fatalf("unexpected anomaly defaults: %+v", cfg.Detection.Anomaly)
	}
	if cfg.Recovery.MaxConcurrent != 3 || cfg.Recovery.AllowHighRisk || !cfg.Recovery.AutoRollback {
		t.Fatalf("unexpected recovery defaults: %+v", cfg.Recovery)
	}
	if cfg.Cache.Enabled {
		t.Fatalf("cache must default to disabled")
	}
}

func TestLoadFromFile(t *testing.T) {
	content := `
server:
  httpAddress: ":9090"
  gracefulTimeout: 5s
detection:
  threshold:
    enabled: true
    errorThreshold: 10
    timeWindow: 2m
recovery:
  maxConcurrent: 5
  allowHighRisk: true
effector:
  baseURL: "http://effector:8081"
`
	path := filepath.Join(t.TempDir(), "config.yaml")
	if err := os.WriteFile(path, []byte(content), 0o644); err != nil {
		t.Fatalf("write config: %v", err)
	}

	cfg, err := Load(path)
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":9090" || cfg.Server.GracefulTimeout != 5*time.Second {
		t.Fatalf("file values not applied: %+v", cfg.Server)
	}
	if cfg.Detection.Threshold.ErrorThreshold != 10 || cfg.Detection.Threshold.TimeWindow != 2*time.Minute {
		t.Fatalf("threshold overrides not applied: %+v", cfg.Detection.Threshold)
	}
	if cfg.Recovery.MaxConcurrent != 5 || !cfg.Recovery.AllowHighRisk {
		t.Fatalf("recovery overrides not applied: %+v", cfg.Recovery)
	}
	if cfg.Effector.BaseURL != "http://effector:8081" {
		t.Fatalf("effector override not applied: %+v", cfg.Effector)
	}
	// Untouched sections keep their defaults.
	if cfg.Server.MetricsAddress != ":2112" {
		t.Fatalf("defaults lost on partial file: %+v", cfg.Server)
	}
}

func TestLoadMissingFileErrors(t *testing.T) {
	if _, err := Load(filepath.Join(t.TempDir(), "absent.yaml")); err == nil {
		t.Fatalf("expected error for missing explicit config path")
	}
}

func TestEnvOverrides(t *testing.T) {
	t.Setenv("MIRADOR_HEAL_HTTP_ADDRESS", ":7070")
	t.Setenv("MIRADOR_HEAL_LOG_FORMAT", "json")
	t.Setenv("MIRADOR_HEAL_ALLOW_HIGH_RISK", "true")
	t.Setenv("MIRADOR_HEAL_COOLDOWN", "90s")
	t.Setenv("MIRADOR_HEAL_CACHE_ENABLED", "1")
	t.Setenv("MIRADOR_HEAL_CACHE_ADDR", "valkey:6379")

	cfg, err := Load("")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if cfg.Server.HTTPAddress != ":7070" {
		t.Fatalf("http address override not applied: %+v", cfg.Server)
	}
	if !cfg.Logging.JSON {
		t.Fatalf("log format override not applied")
	}
	if !cfg.Recovery.AllowHighRisk || cfg.Recovery.Cooldown != 90*time.Second {
		t.Fatalf("recovery overrides not applied: %+v", cfg.Recovery)
	}
	if !cfg.Cache.Enabled || cfg.Cache.Addr != "valkey:6379" {
		t.Fatalf("cache overrides not applied: %+v", cfg.Cache)
	}
}
