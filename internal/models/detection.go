package models

// DetectionResult is the verdict of one detector, or the aggregate verdict of
// the detection engine. Confidence is only meaningful alongside the reasoning
// recorded in Metadata.
type DetectionResult struct {
	RequiresAttention  bool
	Confidence         float64
	DetectionMethods   []string
	RecommendedActions []string
	Metadata           map[string]any
}
