package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/effector"
	"github.com/miradorstack/mirador-heal/internal/models"
)

// RestartService bounces the failing component and verifies it comes back via
// a health probe. There is no true undo for a restart, so rollback is a
// best-effort state inspection.
type RestartService struct {
	Metadata
	effector effector.Effector
	logger   *slog.Logger
}

// NewRestartService constructs the restart action.
func NewRestartService(eff effector.Effector, logger *slog.Logger) *RestartService {
	if logger == nil {
		logger = slog.Default()
	}
	return &RestartService{
		Metadata: newMetadata("restart_service", models.RiskMedium, 0.85, time.Minute),
		effector: eff,
		logger:   logger,
	}
}

// CanHandle accepts API, performance, and resource errors of high or medium
// severity; a restart is too blunt for anything milder.
func (a *RestartService) CanHandle(event models.ErrorEvent) bool {
	if !categoryIn(event.Category, models.CategoryAPI, models.CategoryPerformance, models.CategoryResource) {
		return false
	}
	return event.Severity == models.SeverityHigh || event.Severity == models.SeverityMedium
}

// Execute restarts the component and runs a post-restart health check; the
// attempt fails when the health check does not pass.
func (a *RestartService) Execute(ctx context.Context, rc models.RecoveryContext) (models.RecoveryResult, error) {
	component := rc.Event.Component
	start := time.Now()

	if err := a.effector.RestartService(ctx, component); err != nil {
		return models.RecoveryResult{
			ExecutionTime: time.Since(start),
			Output:        fmt.Sprintf("restart of %s failed", component),
			Error:         err.Error(),
		}, nil
	}

	if err := a.effector.CheckHealth(ctx, component); err != nil {
		return models.RecoveryResult{
			ExecutionTime: time.Since(start),
			Output:        fmt.Sprintf("%s restarted but failed the health check", component),
			Error:         err.Error(),
		}, nil
	}

	return models.RecoveryResult{
		Success:       true,
		ExecutionTime: time.Since(start),
		Output:        fmt.Sprintf("%s restarted and passed the health check", component),
		Metadata:      map[string]any{"component": component},
	}, nil
}

// Rollback inspects the component's health; a restart cannot be undone.
func (a *RestartService) Rollback(ctx context.Context, rc models.RecoveryContext) (bool, error) {
	err := a.effector.CheckHealth(ctx, rc.Event.Component)
	if err != nil {
		a.logger.Warn("post-restart inspection failed",
			slog.String("component", rc.Event.Component), slog.Any("error", err))
		return false, nil
	}
	return true, nil
}
