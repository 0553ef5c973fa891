package actions

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/miradorstack/mirador-heal/internal/effector"
	"github.com/miradorstack/mirador-heal/internal/models"
)

var scaleTerms = []string{"cpu", "memory", "resource", "overload", "capacity"}

// ScaleResources grows the failing component's allocation. Scaling touches
// shared capacity, so it carries high intrinsic risk and sits behind the
// high-risk gate by default.
type ScaleResources struct {
	Metadata
	effector effector.Effector
	logger   *slog.Logger
}

// NewScaleResources constructs the scaling action.
func NewScaleResources(eff effector.Effector, logger *slog.Logger) *ScaleResources {
	if logger == nil {
		logger = slog.Default()
	}
	return &ScaleResources{
		Metadata: newMetadata("scale_resources", models.RiskHigh, 0.75, 2*time.Minute),
		effector: eff,
		logger:   logger,
	}
}

// CanHandle accepts performance and resource errors whose message points at
// a capacity problem.
func (a *ScaleResources) CanHandle(event models.ErrorEvent) bool {
	if !categoryIn(event.Category, models.CategoryPerformance, models.CategoryResource) {
		return false
	}
	_, mentioned := messageMentions(event.Message, scaleTerms...)
	return mentioned
}

// Execute scales the component along the dimension the message points at.
func (a *ScaleResources) Execute(ctx context.Context, rc models.RecoveryContext) (models.RecoveryResult, error) {
	component := rc.Event.Component
	dimension := scaleDimension(rc.Event.Message)
	start := time.Now()

	if err := a.effector.ScaleResources(ctx, component, dimension); err != nil {
		return models.RecoveryResult{
			ExecutionTime: time.Since(start),
			Output:        fmt.Sprintf("scaling %s of %s failed", dimension, component),
			Error:         err.Error(),
		}, nil
	}

	return models.RecoveryResult{
		Success:       true,
		ExecutionTime: time.Since(start),
		Output:        fmt.Sprintf("scaled %s of %s", dimension, component),
		Metadata:      map[string]any{"component": component, "dimension": dimension},
	}, nil
}

// Rollback reverts the component to its previous allocation.
func (a *ScaleResources) Rollback(ctx context.Context, rc models.RecoveryContext) (bool, error) {
	if err := a.effector.RevertScale(ctx, rc.Event.Component); err != nil {
		a.logger.Warn("scale revert failed",
			slog.String("component", rc.Event.Component), slog.Any("error", err))
		return false, nil
	}
	return true, nil
}

// scaleDimension picks cpu, memory, or both from the message content.
func scaleDimension(message string) string {
	lower := strings.ToLower(message)
	cpu := strings.Contains(lower, "cpu")
	memory := strings.Contains(lower, "memory")
	switch {
	case cpu && memory:
		return "both"
	case memory:
		return "memory"
	case cpu:
		return "cpu"
	default:
		return "both"
	}
}
