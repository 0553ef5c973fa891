package engine

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	"github.com/miradorstack/mirador-heal/internal/detectors"
	"github.com/miradorstack/mirador-heal/internal/metrics"
	"github.com/miradorstack/mirador-heal/internal/models"
)

// DetectionCallback is invoked whenever an aggregated verdict requires
// attention. Callbacks are fire-and-log: a panic inside one is recovered
// and never reaches the caller or the other callbacks.
type DetectionCallback func(models.ErrorEvent, models.DetectionResult)

// DetectionEngine fans one event out to every registered detector and
// merges their verdicts into a single DetectionResult.
type DetectionEngine struct {
	detectors []detectors.Detector
	advisor   *Advisor
	logger    *slog.Logger

	mu        sync.Mutex
	callbacks []DetectionCallback
}

// NewDetectionEngine builds an engine over the given detectors. The advisor
// may be nil.
func NewDetectionEngine(ds []detectors.Detector, advisor *Advisor, logger *slog.Logger) *DetectionEngine {
	if logger == nil {
		logger = slog.Default()
	}
	return &DetectionEngine{
		detectors: ds,
		advisor:   advisor,
		logger:    logger,
	}
}

// AddCallback registers a callback for attention-requiring verdicts.
func (e *DetectionEngine) AddCallback(cb DetectionCallback) {
	if cb == nil {
		return
	}
	e.mu.Lock()
	e.callbacks = append(e.callbacks, cb)
	e.mu.Unlock()
}

type detectorVerdict struct {
	name   string
	result models.DetectionResult
	err    error
}

// ProcessError runs every detector concurrently against the event and
// aggregates the surviving verdicts: OR on attention, mean confidence,
// union of methods and recommended actions. A detector that errors or
// panics is excluded; if all of them fail, a conservative fallback verdict
// is returned instead of a benign one.
func (e *DetectionEngine) ProcessError(ctx context.Context, event models.ErrorEvent) models.DetectionResult {
	started := time.Now()

	verdicts := make([]detectorVerdict, len(e.detectors))
	var wg sync.WaitGroup
	for i, d := range e.detectors {
		wg.Add(1)
		go func(i int, d detectors.Detector) {
			defer wg.Done()
			defer func() {
				if r := recover(); r != nil {
					verdicts[i] = detectorVerdict{name: d.Name(), err: fmt.Errorf("detector panic: %v", r)}
				}
			}()
			result, err := d.Analyze(ctx, event)
			verdicts[i] = detectorVerdict{name: d.Name(), result: result, err: err}
		}(i, d)
	}
	wg.Wait()

	aggregate := e.aggregate(event, verdicts)
	metrics.ObserveDetection(time.Since(started), aggregate.RequiresAttention)

	if aggregate.RequiresAttention {
		e.notify(event, aggregate)
	}
	return aggregate
}

func (e *DetectionEngine) aggregate(event models.ErrorEvent, verdicts []detectorVerdict) models.DetectionResult {
	surviving := make([]detectorVerdict, 0, len(verdicts))
	for _, v := range verdicts {
		if v.err != nil {
			e.logger.Warn("detector failed, excluding from aggregation",
				"detector", v.name,
				"fingerprint", event.Fingerprint(),
				"error", v.err)
			metrics.RecordDetectorFailure(v.name)
			continue
		}
		surviving = append(surviving, v)
	}

	if len(e.detectors) == 0 {
		return models.DetectionResult{}
	}
	if len(surviving) == 0 {
		// Total detection failure must surface as a positive signal,
		// never a silent pass.
		e.logger.Error("all detectors failed, returning conservative verdict",
			"fingerprint", event.Fingerprint())
		return models.DetectionResult{
			RequiresAttention:  true,
			Confidence:         0.5,
			DetectionMethods:   []string{"error_fallback"},
			RecommendedActions: []string{"manual_investigation"},
			Metadata: map[string]any{
				"reason": "all detectors failed",
			},
		}
	}

	var (
		attention  bool
		confidence float64
		methods    []string
		actions    []string
		metadata   = make(map[string]any, len(surviving))
	)
	for _, v := range surviving {
		if v.result.RequiresAttention {
			attention = true
		}
		confidence += v.result.Confidence
		methods = appendUnique(methods, v.result.DetectionMethods...)
		actions = appendUnique(actions, v.result.RecommendedActions...)
		if len(v.result.Metadata) > 0 {
			metadata[v.name] = v.result.Metadata
		}
	}
	confidence /= float64(len(surviving))

	if attention {
		actions = appendUnique(actions, e.advisor.Recommend(event)...)
	}
	sort.Strings(methods)

	return models.DetectionResult{
		RequiresAttention:  attention,
		Confidence:         confidence,
		DetectionMethods:   methods,
		RecommendedActions: actions,
		Metadata:           metadata,
	}
}

func (e *DetectionEngine) notify(event models.ErrorEvent, result models.DetectionResult) {
	e.mu.Lock()
	callbacks := make([]DetectionCallback, len(e.callbacks))
	copy(callbacks, e.callbacks)
	e.mu.Unlock()

	for _, cb := range callbacks {
		func() {
			defer func() {
				if r := recover(); r != nil {
					e.logger.Error("detection callback panicked",
						"fingerprint", event.Fingerprint(),
						"panic", r)
				}
			}()
			cb(event, result)
		}()
	}
}
