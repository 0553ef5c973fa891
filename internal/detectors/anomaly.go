package detectors

import (
	"context"
	"hash/fnv"
	"math"
	"sort"
	"sync"

	"github.com/miradorstack/mirador-heal/internal/models"
)

const (
	featureCount = 8
	maxReservoir = 2048
)

// AnomalyDetector scores events against a one-class outlier model trained on
// the stream itself. Until the minimum sample count is reached it stays
// neutral rather than guessing. The model standardises feature vectors with a
// fitted scaler and places the anomaly cutoff at the (1-contamination)
// quantile of the training scores, so roughly the configured fraction of
// training traffic would have been called anomalous.
type AnomalyDetector struct {
	mu              sync.Mutex
	minSamples      int
	contamination   float64
	retrainInterval int

	reservoir    [][]float64
	sinceTrained int
	trained      bool
	mean         []float64
	std          []float64
	cutoff       float64
}

// NewAnomalyDetector constructs an outlier detector. Non-positive arguments
// fall back to 100 training samples and 10% contamination. retrainInterval is
// the number of accepted samples between refits; zero disables retraining
// after the initial fit.
func NewAnomalyDetector(minSamples int, contamination float64, retrainInterval int) *AnomalyDetector {
	if minSamples <= 0 {
		minSamples = 100
	}
	if contamination <= 0 || contamination >= 1 {
		contamination = 0.1
	}
	if retrainInterval < 0 {
		retrainInterval = 0
	}
	return &AnomalyDetector{
		minSamples:      minSamples,
		contamination:   contamination,
		retrainInterval: retrainInterval,
	}
}

// Name identifies the strategy in aggregated results.
func (d *AnomalyDetector) Name() string { return "anomaly" }

// Analyze folds the event into the training reservoir and, once a model is
// fitted, scores the event against it.
func (d *AnomalyDetector) Analyze(_ context.Context, event models.ErrorEvent) (models.DetectionResult, error) {
	vector := featureVector(event)

	d.mu.Lock()
	defer d.mu.Unlock()

	d.reservoir = append(d.reservoir, vector)
	if len(d.reservoir) > maxReservoir {
		d.reservoir = d.reservoir[len(d.reservoir)-maxReservoir:]
	}
	d.sinceTrained++

	if !d.trained {
		if len(d.reservoir) < d.minSamples {
			return models.DetectionResult{
				DetectionMethods: []string{d.Name()},
				Metadata: map[string]any{
					"training_samples":     len(d.reservoir),
					"min_training_samples": d.minSamples,
				},
			}, nil
		}
		d.fit()
	} else if d.retrainInterval > 0 && d.sinceTrained >= d.retrainInterval {
		d.fit()
	}

	score := d.score(vector)
	result := models.DetectionResult{
		DetectionMethods: []string{d.Name()},
	}
	if score > d.cutoff {
		result.RequiresAttention = true
		result.Confidence = anomalyConfidence(score, d.cutoff)
		result.Metadata = map[string]any{
			"reason":        "event deviates from learned error profile",
			"anomaly_score": score,
			"cutoff":        d.cutoff,
		}
	}
	return result, nil
}

// fit standardises the reservoir and derives the contamination cutoff.
func (d *AnomalyDetector) fit() {
	n := len(d.reservoir)
	d.mean = make([]float64, featureCount)
	d.std = make([]float64, featureCount)

	for _, v := range d.reservoir {
		for i, f := range v {
			d.mean[i] += f
		}
	}
	for i := range d.mean {
		d.mean[i] /= float64(n)
	}
	for _, v := range d.reservoir {
		for i, f := range v {
			diff := f - d.mean[i]
			d.std[i] += diff * diff
		}
	}
	for i := range d.std {
		d.std[i] = math.Sqrt(d.std[i] / float64(n))
		if d.std[i] == 0 {
			// Constant features carry no signal; keep them at z=0.
			d.std[i] = 1
		}
	}

	scores := make([]float64, 0, n)
	for _, v := range d.reservoir {
		scores = append(scores, d.score(v))
	}
	sort.Float64s(scores)
	idx := int(math.Ceil((1-d.contamination)*float64(n))) - 1
	if idx < 0 {
		idx = 0
	}
	if idx >= n {
		idx = n - 1
	}
	d.cutoff = scores[idx]
	d.trained = true
	d.sinceTrained = 0
}

// score is the mean absolute z-score of the vector under the fitted scaler.
func (d *AnomalyDetector) score(vector []float64) float64 {
	total := 0.0
	for i, f := range vector {
		total += math.Abs((f - d.mean[i]) / d.std[i])
	}
	return total / featureCount
}

func anomalyConfidence(score, cutoff float64) float64 {
	if cutoff <= 0 {
		return clamp(score, 0, 1)
	}
	return clamp((score-cutoff)/cutoff, 0, 1)
}

// featureVector projects an event into the model's feature space.
func featureVector(event models.ErrorEvent) []float64 {
	stackPresent := 0.0
	if event.StackTrace != "" {
		stackPresent = 1.0
	}
	return []float64{
		float64(event.Severity.Rank()),
		float64(event.Timestamp.Hour()),
		float64(event.Timestamp.Weekday()),
		float64(len(event.Message)),
		stackPresent,
		float64(len(event.StackTrace)),
		float64(len(event.Context)),
		componentHash(event.Component),
	}
}

// componentHash folds the component name into [0,1) so the model can separate
// per-component behaviour without unbounded cardinality.
func componentHash(component string) float64 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(component))
	return float64(h.Sum32()) / float64(math.MaxUint32+1)
}
