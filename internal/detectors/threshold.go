package detectors

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

// ThresholdDetector flags components whose error rate exceeds a fixed count
// within a sliding time window. State is a per-component list of timestamps.
type ThresholdDetector struct {
	mu        sync.Mutex
	threshold int
	window    time.Duration
	arrivals  map[string][]time.Time
	now       func() time.Time
}

// NewThresholdDetector constructs a rate detector; non-positive arguments fall
// back to 5 events per 5 minutes.
func NewThresholdDetector(threshold int, window time.Duration) *ThresholdDetector {
	if threshold <= 0 {
		threshold = 5
	}
	if window <= 0 {
		window = 5 * time.Minute
	}
	return &ThresholdDetector{
		threshold: threshold,
		window:    window,
		arrivals:  make(map[string][]time.Time),
		now:       time.Now,
	}
}

// Name identifies the strategy in aggregated results.
func (d *ThresholdDetector) Name() string { return "threshold" }

// Analyze records the event's arrival and reports attention once the
// in-window count for the component reaches the threshold.
func (d *ThresholdDetector) Analyze(_ context.Context, event models.ErrorEvent) (models.DetectionResult, error) {
	at := event.Timestamp
	if at.IsZero() {
		at = d.now()
	}

	d.mu.Lock()
	defer d.mu.Unlock()

	window := append(d.arrivals[event.Component], at)
	cutoff := at.Add(-d.window)
	pruned := window[:0]
	for _, ts := range window {
		if ts.After(cutoff) {
			pruned = append(pruned, ts)
		}
	}
	d.arrivals[event.Component] = pruned

	count := len(pruned)
	result := models.DetectionResult{
		Confidence:       clamp(float64(count)/float64(d.threshold), 0, 1),
		DetectionMethods: []string{d.Name()},
	}
	if count >= d.threshold {
		result.RequiresAttention = true
		result.Metadata = map[string]any{
			"reason":    "error rate threshold exceeded",
			"component": event.Component,
			"count":     count,
			"threshold": d.threshold,
			"window":    d.window.String(),
		}
	}
	return result, nil
}
