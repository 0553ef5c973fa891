package detectors

import (
	"context"
	"testing"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

func thresholdEvent(component string, at time.Time) models.ErrorEvent {
	return models.ErrorEvent{
		Timestamp: at,
		Severity:  models.SeverityHigh,
		Category:  models.CategoryAPI,
		Component: component,
		Message:   "request failed",
	}
}

func TestThresholdDetectorMonotonicity(t *testing.T) {
	detector := NewThresholdDetector(5, 5*time.Minute)
	now := time.Now()

	for i := 0; i < 4; i++ {
		result, err := detector.Analyze(context.Background(), thresholdEvent("checkout", now.Add(time.Duration(i)*time.Second)))
		if err != nil {
			t.Fatalf("analyze: %v", err)
		}
		if result.RequiresAttention {
			t.Fatalf("expected no attention at %d events below threshold", i+1)
		}
	}

	result, err := detector.Analyze(context.Background(), thresholdEvent("checkout", now.Add(4*time.Second)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if !result.RequiresAttention {
		t.Fatalf("expected attention at threshold")
	}
	if result.Confidence != 1.0 {
		t.Fatalf("expected confidence 1.0 at threshold, got %f", result.Confidence)
	}
}

func TestThresholdDetectorWindowExpiry(t *testing.T) {
	detector := NewThresholdDetector(3, time.Minute)
	now := time.Now()

	for i := 0; i < 2; i++ {
		if _, err := detector.Analyze(context.Background(), thresholdEvent("orders", now.Add(time.Duration(i)*time.Second))); err != nil {
			t.Fatalf("analyze: %v", err)
		}
	}

	// The third event arrives after the earlier two left the window.
	result, err := detector.Analyze(context.Background(), thresholdEvent("orders", now.Add(2*time.Minute)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.RequiresAttention {
		t.Fatalf("expected expired events to be pruned from the window")
	}
}

func TestThresholdDetectorPerComponentState(t *testing.T) {
	detector := NewThresholdDetector(2, time.Minute)
	now := time.Now()

	if _, err := detector.Analyze(context.Background(), thresholdEvent("alpha", now)); err != nil {
		t.Fatalf("analyze: %v", err)
	}
	result, err := detector.Analyze(context.Background(), thresholdEvent("beta", now.Add(time.Second)))
	if err != nil {
		t.Fatalf("analyze: %v", err)
	}
	if result.RequiresAttention {
		t.Fatalf("expected components to be counted independently")
	}
}
