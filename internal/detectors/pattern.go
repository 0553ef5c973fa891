package detectors

import (
	"context"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/models"
)

const (
	recentSlice        = 10
	escalationSlice    = 5
	rapidSuccessionMin = 3
	rapidSuccessionMax = 300 * time.Second
	cascadeMin         = 3
)

// matchedPattern names a recognised failure shape and its own severity tag.
type matchedPattern struct {
	Name     string `json:"name"`
	Severity string `json:"severity"`
}

// PatternDetector keeps a bounded rolling history of recent events and checks
// the newest slice for known failure shapes: bursts of the same error, a
// worsening severity trend, and failures spreading across components.
type PatternDetector struct {
	mu         sync.Mutex
	maxHistory int
	history    []models.ErrorEvent
}

// NewPatternDetector constructs a pattern detector; a non-positive cap falls
// back to 1000 retained events.
func NewPatternDetector(maxHistory int) *PatternDetector {
	if maxHistory <= 0 {
		maxHistory = 1000
	}
	return &PatternDetector{maxHistory: maxHistory}
}

// Name identifies the strategy in aggregated results.
func (d *PatternDetector) Name() string { return "pattern" }

// Analyze appends the event to the history and evaluates all pattern checks.
// Confidence grows with the number of simultaneously matching patterns.
func (d *PatternDetector) Analyze(_ context.Context, event models.ErrorEvent) (models.DetectionResult, error) {
	d.mu.Lock()
	defer d.mu.Unlock()

	d.history = append(d.history, event)
	if len(d.history) > d.maxHistory {
		d.history = d.history[len(d.history)-d.maxHistory:]
	}

	matched := make([]matchedPattern, 0, 3)
	if d.rapidSuccession() {
		matched = append(matched, matchedPattern{Name: "rapid_succession", Severity: "high"})
	}
	if d.escalatingSeverity() {
		matched = append(matched, matchedPattern{Name: "escalating_severity", Severity: "high"})
	}
	if d.cascadingFailure() {
		matched = append(matched, matchedPattern{Name: "cascading_failure", Severity: "medium"})
	}

	result := models.DetectionResult{
		DetectionMethods: []string{d.Name()},
	}
	if len(matched) > 0 {
		result.RequiresAttention = true
		result.Confidence = clamp(0.3*float64(len(matched)), 0, 1)
		result.Metadata = map[string]any{
			"reason":   "recent history matches known failure patterns",
			"patterns": matched,
		}
	}
	return result, nil
}

// rapidSuccession looks for three or more events sharing category and
// component within the most recent entries, all inside a 300 second span.
func (d *PatternDetector) rapidSuccession() bool {
	recent := d.recent(recentSlice)

	type span struct {
		count    int
		earliest time.Time
		latest   time.Time
	}
	groups := make(map[string]*span)
	for _, ev := range recent {
		key := string(ev.Category) + "|" + ev.Component
		g, ok := groups[key]
		if !ok {
			g = &span{earliest: ev.Timestamp, latest: ev.Timestamp}
			groups[key] = g
		}
		g.count++
		if ev.Timestamp.Before(g.earliest) {
			g.earliest = ev.Timestamp
		}
		if ev.Timestamp.After(g.latest) {
			g.latest = ev.Timestamp
		}
	}
	for _, g := range groups {
		if g.count >= rapidSuccessionMin && g.latest.Sub(g.earliest) <= rapidSuccessionMax {
			return true
		}
	}
	return false
}

// escalatingSeverity reports whether the last five events are getting worse
// or holding steady, newest ranking at least as severe as each predecessor.
func (d *PatternDetector) escalatingSeverity() bool {
	recent := d.recent(escalationSlice)
	if len(recent) < escalationSlice {
		return false
	}
	for i := 1; i < len(recent); i++ {
		if recent[i].Severity.Rank() < recent[i-1].Severity.Rank() {
			return false
		}
	}
	return true
}

// cascadingFailure reports whether failures are spreading: three or more
// distinct components among the most recent entries.
func (d *PatternDetector) cascadingFailure() bool {
	recent := d.recent(recentSlice)
	components := make(map[string]struct{}, len(recent))
	for _, ev := range recent {
		if ev.Component != "" {
			components[ev.Component] = struct{}{}
		}
	}
	return len(components) >= cascadeMin
}

func (d *PatternDetector) recent(n int) []models.ErrorEvent {
	if len(d.history) <= n {
		return d.history
	}
	return d.history[len(d.history)-n:]
}
