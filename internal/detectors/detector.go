package detectors

import (
	"context"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// Detector judges, from one error event plus its own accumulated state,
// whether the event warrants attention. Implementations keep their state
// private and guard it for concurrent Analyze calls.
type Detector interface {
	Name() string
	Analyze(ctx context.Context, event models.ErrorEvent) (models.DetectionResult, error)
}

func clamp(value, min, max float64) float64 {
	if value < min {
		return min
	}
	if value > max {
		return max
	}
	return value
}
