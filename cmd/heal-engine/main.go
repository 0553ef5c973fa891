package main

import (
	"context"
	"errors"
	"flag"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"golang.org/x/sync/errgroup"

	"github.com/miradorstack/mirador-heal/internal/actions"
	"github.com/miradorstack/mirador-heal/internal/api"
	"github.com/miradorstack/mirador-heal/internal/cache"
	"github.com/miradorstack/mirador-heal/internal/config"
	"github.com/miradorstack/mirador-heal/internal/detectors"
	"github.com/miradorstack/mirador-heal/internal/effector"
	"github.com/miradorstack/mirador-heal/internal/engine"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/services"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

func main() {
	var configPath string
	flag.StringVar(&configPath, "config", "", "Path to configuration file")
	flag.Parse()

	cfg, err := config.Load(configPath)
	if err != nil {
		slog.Error("failed to load config", slog.String("path", configPath), slog.Any("error", err))
		os.Exit(1)
	}

	logger := utils.NewLogger(cfg.Logging.Level, cfg.Logging.JSON)
	logger.Info("starting mirador-heal", slog.String("http_address", cfg.Server.HTTPAddress))

	if err := metrics.Register(prometheus.DefaultRegisterer); err != nil {
		logger.Error("failed to register metrics", slog.Any("error", err))
		os.Exit(1)
	}

	var cooldowns cache.Provider = cache.NoopProvider{}
	if cfg.Cache.Enabled && cfg.Cache.Addr != "" {
		provider, err := cache.NewValkeyProvider(cache.ValkeyConfig{
			Addr:         cfg.Cache.Addr,
			Username:     cfg.Cache.Username,
			Password:     cfg.Cache.Password,
			DB:           cfg.Cache.DB,
			DialTimeout:  cfg.Cache.DialTimeout,
			ReadTimeout:  cfg.Cache.ReadTimeout,
			WriteTimeout: cfg.Cache.WriteTimeout,
			MaxRetries:   cfg.Cache.MaxRetries,
			TLS:          cfg.Cache.TLS,
		})
		if err != nil {
			logger.Warn("valkey cooldown store unavailable", slog.Any("error", err))
		} else {
			cooldowns = provider
			defer provider.Close()
		}
	}

	var eff effector.Effector = effector.NoopEffector{}
	if cfg.Effector.BaseURL != "" {
		eff = effector.NewHTTPEffector(cfg.Effector.BaseURL, cfg.Effector.Timeout)
	} else {
		logger.Warn("no effector configured, remediation calls are no-ops")
	}

	var detectorSet []detectors.Detector
	if cfg.Detection.Threshold.Enabled {
		detectorSet = append(detectorSet, detectors.NewThresholdDetector(
			cfg.Detection.Threshold.ErrorThreshold,
			cfg.Detection.Threshold.TimeWindow,
		))
	}
	if cfg.Detection.Anomaly.Enabled {
		detectorSet = append(detectorSet, detectors.NewAnomalyDetector(
			cfg.Detection.Anomaly.MinTrainingSamples,
			cfg.Detection.Anomaly.Contamination,
			cfg.Detection.Anomaly.RetrainInterval,
		))
	}
	if cfg.Detection.Pattern.Enabled {
		detectorSet = append(detectorSet, detectors.NewPatternDetector(cfg.Detection.Pattern.MaxHistorySize))
	}

	advisor, err := engine.NewAdvisor(cfg.Rules.Path, logger)
	if err != nil {
		logger.Error("failed to load rule pack", slog.Any("error", err))
		os.Exit(1)
	}

	detection := engine.NewDetectionEngine(detectorSet, advisor, logger)

	registry := actions.NewRegistry(
		actions.NewRestartService(eff, logger),
		actions.NewClearCache(eff, logger),
		actions.NewScaleResources(eff, logger),
	)
	assessor := engine.NewRiskAssessor(logger)
	orchestrator := engine.NewOrchestrator(engine.OrchestratorConfig{
		MaxConcurrent:      cfg.Recovery.MaxConcurrent,
		AllowHighRisk:      cfg.Recovery.AllowHighRisk,
		AutoRollback:       cfg.Recovery.AutoRollback,
		Cooldown:           cfg.Recovery.Cooldown,
		BreakerMaxFailures: uint32(cfg.Recovery.BreakerMaxFailures),
		BreakerCooldown:    cfg.Recovery.BreakerCooldown,
	}, registry, assessor, cooldowns, logger)

	detection.AddCallback(func(event models.ErrorEvent, result models.DetectionResult) {
		logger.Info("attention required",
			slog.String("fingerprint", event.Fingerprint()),
			slog.String("component", event.Component),
			slog.Float64("confidence", result.Confidence),
			slog.Any("methods", result.DetectionMethods))
	})
	orchestrator.AddCallback(func(exec models.RecoveryExecution) {
		logger.Info("recovery outcome",
			slog.String("execution_id", exec.ID),
			slog.String("action", exec.ActionName),
			slog.String("status", string(exec.Status)))
	})

	healService := services.NewHealService(logger, detection, orchestrator)
	httpServer := api.NewHTTPServer(cfg.Server, healService, logger)

	probeServer, err := api.NewProbeServer(cfg.Server)
	if err != nil {
		logger.Error("failed to create health server", slog.Any("error", err))
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	var metricsServer *http.Server
	if cfg.Server.MetricsAddress != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer = &http.Server{
			Addr:         cfg.Server.MetricsAddress,
			Handler:      mux,
			ReadTimeout:  5 * time.Second,
			WriteTimeout: 15 * time.Second,
		}
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		logger.Info("http server listening", slog.String("address", cfg.Server.HTTPAddress))
		return httpServer.Start()
	})
	g.Go(func() error {
		logger.Info("health server listening", slog.String("address", cfg.Server.HealthAddress))
		return probeServer.Start()
	})
	if metricsServer != nil {
		g.Go(func() error {
			logger.Info("metrics server listening", slog.String("address", cfg.Server.MetricsAddress))
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return err
			}
			return nil
		})
	}

	<-gctx.Done()
	logger.Info("shutdown signal received")
	probeServer.SetNotServing()

	shutdownCtx, cancel := context.WithTimeout(context.Background(), cfg.Server.GracefulTimeout)
	defer cancel()

	if err := httpServer.Shutdown(shutdownCtx); err != nil {
		logger.Warn("http server shutdown", slog.Any("error", err))
	}
	probeServer.Shutdown(shutdownCtx)
	if metricsServer != nil {
		if err := metricsServer.Shutdown(shutdownCtx); err != nil && !errors.Is(err, http.ErrServerClosed) {
			logger.Warn("metrics server shutdown", slog.Any("error", err))
		}
	}
	orchestrator.Shutdown()

	if err := g.Wait(); err != nil {
		logger.Error("server exited", slog.Any("error", err))
	}

	// Give remaining goroutines time to finish logging
	time.Sleep(100 * time.Millisecond)
	logger.Info("mirador-heal stopped")
}
