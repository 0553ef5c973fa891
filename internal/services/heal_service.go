package services

import (
	"context"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/engine"
	"github.com/miradorstack/mirador-heal/internal/models"
	"github.com/miradorstack/mirador-heal/internal/utils"
)

// HealService is the facade over the detection engine and the recovery
// orchestrator. Both entry points return fully populated results for
// ordinary operational conditions; neither surfaces operational errors.
type HealService struct {
	logger       *slog.Logger
	detection    *engine.DetectionEngine
	orchestrator *engine.Orchestrator
	latencies    *utils.LatencyTracker
}

// NewHealService constructs the service facade.
func NewHealService(logger *slog.Logger, detection *engine.DetectionEngine, orchestrator *engine.Orchestrator) *HealService {
	if logger == nil {
		logger = slog.Default()
	}
	return &HealService{
		logger:       logger,
		detection:    detection,
		orchestrator: orchestrator,
		latencies:    utils.NewLatencyTracker(1024),
	}
}

// ProcessError runs detection only.
func (s *HealService) ProcessError(ctx context.Context, event models.ErrorEvent) models.DetectionResult {
	start := time.Now()
	result := s.detection.ProcessError(ctx, event)
	duration := time.Since(start)

	s.latencies.Observe(duration)
	if count := s.latencies.Count(); count >= 20 && count%20 == 0 {
		p95 := s.latencies.Percentile(95)
		s.logger.Info("detection latency", slog.Duration("p95", p95), slog.Int("samples", count))
	}

	s.logger.Debug("error processed",
		slog.String("fingerprint", event.Fingerprint()),
		slog.Bool("requires_attention", result.RequiresAttention),
		slog.Float64("confidence", result.Confidence))
	return result
}

// ExecuteRecovery runs the orchestrator directly, bypassing detection.
// Callers use it after an out-of-band attention signal.
func (s *HealService) ExecuteRecovery(ctx context.Context, event models.ErrorEvent, systemState map[string]float64) models.RecoveryExecution {
	return s.orchestrator.ExecuteRecovery(ctx, event, systemState)
}

// HandleError is the end-to-end path: detect, then recover if the verdict
// requires attention. The returned execution is nil when no recovery ran.
func (s *HealService) HandleError(ctx context.Context, event models.ErrorEvent, systemState map[string]float64) (models.DetectionResult, *models.RecoveryExecution) {
	detection := s.ProcessError(ctx, event)
	if !detection.RequiresAttention {
		return detection, nil
	}
	exec := s.orchestrator.ExecuteRecovery(ctx, event, systemState)
	return detection, &exec
}

// History returns the terminal executions recorded for a fingerprint.
func (s *HealService) History(fingerprint string) []models.RecoveryExecution {
	return s.orchestrator.History(fingerprint)
}

// ActiveRecoveries snapshots the executions currently running.
func (s *HealService) ActiveRecoveries() []models.RecoveryExecution {
	return s.orchestrator.ActiveRecoveries()
}

// RecentRecoveries returns up to limit of the latest terminal executions.
func (s *HealService) RecentRecoveries(limit int) []models.RecoveryExecution {
	return s.orchestrator.RecentRecoveries(limit)
}
