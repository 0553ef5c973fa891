package actions

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/miradorstack/mirador-heal/internal/effector"
	"github.com/miradorstack/mirador-heal/internal/models"
)

var cacheTerms = []string{"cache", "stale", "redis", "memcached", "valkey"}

// ClearCache flushes the failing component's cache tier. Low risk and cheap,
// so it usually ranks first among applicable actions.
type ClearCache struct {
	Metadata
	effector effector.Effector
	logger   *slog.Logger
}

// NewClearCache constructs the cache-flush action.
func NewClearCache(eff effector.Effector, logger *slog.Logger) *ClearCache {
	if logger == nil {
		logger = slog.Default()
	}
	return &ClearCache{
		Metadata: newMetadata("clear_cache", models.RiskLow, 0.95, 30*time.Second),
		effector: eff,
		logger:   logger,
	}
}

// CanHandle accepts performance, API, and database errors whose message
// points at a cache problem.
func (a *ClearCache) CanHandle(event models.ErrorEvent) bool {
	if !categoryIn(event.Category, models.CategoryPerformance, models.CategoryAPI, models.CategoryDatabase) {
		return false
	}
	_, mentioned := messageMentions(event.Message, cacheTerms...)
	return mentioned
}

// Execute flushes the cache for the event's component.
func (a *ClearCache) Execute(ctx context.Context, rc models.RecoveryContext) (models.RecoveryResult, error) {
	component := rc.Event.Component
	start := time.Now()

	if err := a.effector.ClearCache(ctx, component); err != nil {
		return models.RecoveryResult{
			ExecutionTime: time.Since(start),
			Output:        fmt.Sprintf("cache flush for %s failed", component),
			Error:         err.Error(),
		}, nil
	}

	return models.RecoveryResult{
		Success:       true,
		ExecutionTime: time.Since(start),
		Output:        fmt.Sprintf("cache flushed for %s", component),
		Metadata:      map[string]any{"component": component},
	}, nil
}

// Rollback warms critical entries so the flush does not leave the component
// serving entirely cold.
func (a *ClearCache) Rollback(ctx context.Context, rc models.RecoveryContext) (bool, error) {
	if err := a.effector.WarmCache(ctx, rc.Event.Component); err != nil {
		a.logger.Warn("cache warm-up failed",
			slog.String("component", rc.Event.Component), slog.Any("error", err))
		return false, nil
	}
	return true, nil
}
