package config

import (
	"errors"
	"fmt"
	"io/fs"
	"os"
	"strconv"
	"strings"
	"time"

	"gopkg.in/yaml.v3"
)

// Config captures the settings required to boot the heal engine.
type Config struct {
	Server    ServerConfig    `yaml:"server"`
	Logging   LoggingConfig   `yaml:"logging"`
	Detection DetectionConfig `yaml:"detection"`
	Recovery  RecoveryConfig  `yaml:"recovery"`
	Effector  EffectorConfig  `yaml:"effector"`
	Rules     RulesConfig     `yaml:"rules"`
	Cache     CacheConfig     `yaml:"cache"`
}

// ServerConfig controls the three listeners: the JSON ingestion API, the
// gRPC health/probe endpoint, and the Prometheus scrape endpoint.
type ServerConfig struct {
	HTTPAddress     string        `yaml:"httpAddress"`
	HealthAddress   string        `yaml:"healthAddress"`
	MetricsAddress  string        `yaml:"metricsAddress"`
	GracefulTimeout time.Duration `yaml:"gracefulTimeout"`
}

// LoggingConfig controls structured logging.
type LoggingConfig struct {
	Level string `yaml:"level"`
	JSON  bool   `yaml:"json"`
}

// DetectionConfig tunes the three detector strategies.
type DetectionConfig struct {
	Threshold ThresholdConfig `yaml:"threshold"`
	Anomaly   AnomalyConfig   `yaml:"anomaly"`
	Pattern   PatternConfig   `yaml:"pattern"`
}

// ThresholdConfig tunes the sliding-window rate detector.
type ThresholdConfig struct {
	Enabled        bool          `yaml:"enabled"`
	ErrorThreshold int           `yaml:"errorThreshold"`
	TimeWindow     time.Duration `yaml:"timeWindow"`
}

// AnomalyConfig tunes the statistical outlier detector.
type AnomalyConfig struct {
	Enabled            bool    `yaml:"enabled"`
	Contamination      float64 `yaml:"contamination"`
	MinTrainingSamples int     `yaml:"minTrainingSamples"`
	RetrainInterval    int     `yaml:"retrainInterval"`
}

// PatternConfig tunes the rolling-history pattern detector.
type PatternConfig struct {
	Enabled        bool `yaml:"enabled"`
	MaxHistorySize int  `yaml:"maxHistorySize"`
}

// RecoveryConfig tunes the orchestrator policy.
type RecoveryConfig struct {
	MaxConcurrent      int           `yaml:"maxConcurrent"`
	AllowHighRisk      bool          `yaml:"allowHighRisk"`
	AutoRollback       bool          `yaml:"autoRollback"`
	Cooldown           time.Duration `yaml:"cooldown"`
	BreakerMaxFailures int           `yaml:"breakerMaxFailures"`
	BreakerCooldown    time.Duration `yaml:"breakerCooldown"`
}

// EffectorConfig configures the remediation endpoint the actions call.
// An empty BaseURL selects the no-op effector.
type EffectorConfig struct {
	BaseURL string        `yaml:"baseURL"`
	Timeout time.Duration `yaml:"timeout"`
}

// RulesConfig controls rule-pack loading for the recovery advisor.
type RulesConfig struct {
	Path string `yaml:"path"`
}

// CacheConfig controls the Valkey-backed cooldown store.
type CacheConfig struct {
	Enabled      bool          `yaml:"enabled"`
	Addr         string        `yaml:"addr"`
	Username     string        `yaml:"username"`
	Password     string        `yaml:"password"`
	DB           int           `yaml:"db"`
	DialTimeout  time.Duration `yaml:"dialTimeout"`
	ReadTimeout  time.Duration `yaml:"readTimeout"`
	WriteTimeout time.Duration `yaml:"writeTimeout"`
	MaxRetries   int           `yaml:"maxRetries"`
	TLS          bool          `yaml:"tls"`
}

// Load initialises Config from a YAML file and optional environment overrides.
func Load(path string) (*Config, error) {
	if path == "" {
		path = os.Getenv("MIRADOR_HEAL_CONFIG")
	}

	cfg := defaultConfig()

	if path != "" {
		data, err := os.ReadFile(path)
		if err != nil {
			if errors.Is(err, fs.ErrNotExist) {
				return nil, fmt.Errorf("config file %s not found: %w", path, err)
			}
			return nil, fmt.Errorf("read config: %w", err)
		}
		if err := yaml.Unmarshal(data, &cfg); err != nil {
			return nil, fmt.Errorf("parse config: %w", err)
		}
	}

	applyEnvOverrides(&cfg)
	return &cfg, nil
}

func defaultConfig() Config {
	return Config{
		Server: ServerConfig{
			HTTPAddress:     ":8080",
			HealthAddress:   ":50051",
			MetricsAddress:  ":2112",
			GracefulTimeout: 10 * time.Second,
		},
		Logging: LoggingConfig{Level: "info", JSON: false},
		Detection: DetectionConfig{
			Threshold: ThresholdConfig{
				Enabled:        true,
				ErrorThreshold: 5,
				TimeWindow:     5 * time.Minute,
			},
			Anomaly: AnomalyConfig{
				Enabled:            true,
				Contamination:      0.1,
				MinTrainingSamples: 100,
				RetrainInterval:    500,
			},
			Pattern: PatternConfig{
				Enabled:        true,
				MaxHistorySize: 1000,
			},
		},
		Recovery: RecoveryConfig{
			MaxConcurrent:      3,
			AllowHighRisk:      false,
			AutoRollback:       true,
			Cooldown:           5 * time.Minute,
			BreakerMaxFailures: 5,
			BreakerCooldown:    2 * time.Minute,
		},
		Effector: EffectorConfig{Timeout: 10 * time.Second},
		Rules:    RulesConfig{Path: "configs/rules/default.yaml"},
		Cache: CacheConfig{
			Enabled:      false,
			DialTimeout:  2 * time.Second,
			ReadTimeout:  500 * time.Millisecond,
			WriteTimeout: 500 * time.Millisecond,
			MaxRetries:   2,
		},
	}
}

func applyEnvOverrides(cfg *Config) {
	if v := os.Getenv("MIRADOR_HEAL_HTTP_ADDRESS"); v != "" {
		cfg.Server.HTTPAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_HEALTH_ADDRESS"); v != "" {
		cfg.Server.HealthAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_METRICS_ADDRESS"); v != "" {
		cfg.Server.MetricsAddress = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_LEVEL"); v != "" {
		cfg.Logging.Level = v
	}
	if v := os.Getenv("MIRADOR_HEAL_LOG_FORMAT"); v == "json" {
		cfg.Logging.JSON = true
	}
	if v := os.Getenv("MIRADOR_HEAL_EFFECTOR_BASE_URL"); v != "" {
		cfg.Effector.BaseURL = v
	}
	if v := os.Getenv("MIRADOR_HEAL_EFFECTOR_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Effector.Timeout = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_RULES_PATH"); v != "" {
		cfg.Rules.Path = v
	}
	if v := os.Getenv("MIRADOR_HEAL_MAX_CONCURRENT"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			cfg.Recovery.MaxConcurrent = n
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_ALLOW_HIGH_RISK"); v != "" {
		cfg.Recovery.AllowHighRisk = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_HEAL_AUTO_ROLLBACK"); v != "" {
		cfg.Recovery.AutoRollback = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_HEAL_COOLDOWN"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Recovery.Cooldown = d
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ENABLED"); v != "" {
		cfg.Cache.Enabled = isTrue(v)
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_ADDR"); v != "" {
		cfg.Cache.Addr = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_USERNAME"); v != "" {
		cfg.Cache.Username = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_PASSWORD"); v != "" {
		cfg.Cache.Password = v
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_DB"); v != "" {
		if db, err := strconv.Atoi(v); err == nil {
			cfg.Cache.DB = db
		}
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_TLS"); isTrue(v) {
		cfg.Cache.TLS = true
	}
	if v := os.Getenv("MIRADOR_HEAL_CACHE_DIAL_TIMEOUT"); v != "" {
		if d, err := time.ParseDuration(v); err == nil {
			cfg.Cache.DialTimeout = d
		}
	}
}

func isTrue(v string) bool {
	return strings.EqualFold(v, "true") || v == "1"
}
