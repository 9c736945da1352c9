package prediction

import (
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// MODEL EVALUATION
// ══════════════════════════════════════════════════════════════════════════════

// decisionThreshold converts a probability into a binary struggle call.
const decisionThreshold = 0.5

// ConfusionMatrix counts prediction outcomes on a labeled set.
type ConfusionMatrix struct {
	TruePositives  int
	FalsePositives int
	TrueNegatives  int
	FalseNegatives int
}

// Total returns the number of classified examples.
func (m ConfusionMatrix) Total() int {
	return m.TruePositives + m.FalsePositives + m.TrueNegatives + m.FalseNegatives
}

// ModelMetrics summarizes an evaluation run. All rates are in [0, 1];
// undefined ratios (zero denominators) report 0 rather than NaN.
type ModelMetrics struct {
	// Accuracy is the fraction of correct calls.
	Accuracy float64

	// Precision is TP / (TP + FP).
	Precision float64

	// Recall is TP / (TP + FN).
	Recall float64

	// F1 is the harmonic mean of precision and recall.
	F1 float64

	// Calibration is 1 minus the mean absolute error between predicted
	// probability and observed label.
	Calibration float64

	// Confusion is the raw confusion matrix.
	Confusion ConfusionMatrix

	// ExampleCount is the size of the full training set (train + test).
	ExampleCount int

	// TrainedAt is when the training run finished.
	TrainedAt time.Time
}

// evaluate scores the trained weights against the holdout set.
func evaluate(weights *ModelWeights, testSet []TrainingExample) *ModelMetrics {
	metrics := &ModelMetrics{}
	if len(testSet) == 0 {
		return metrics
	}

	var absoluteErrorSum float64
	for _, example := range testSet {
		z := weights.Bias
		for j, value := range example.Features.Values() {
			z += weights.Weights[j] * value
		}
		probability := sigmoid(z)
		absoluteErrorSum += math.Abs(probability - float64(example.Label))

		predicted := probability > decisionThreshold
		actual := example.Label == 1
		switch {
		case predicted && actual:
			metrics.Confusion.TruePositives++
		case predicted && !actual:
			metrics.Confusion.FalsePositives++
		case !predicted && !actual:
			metrics.Confusion.TrueNegatives++
		default:
			metrics.Confusion.FalseNegatives++
		}
	}

	m := metrics.Confusion
	total := float64(m.Total())
	metrics.Accuracy = float64(m.TruePositives+m.TrueNegatives) / total

	if m.TruePositives+m.FalsePositives > 0 {
		metrics.Precision = float64(m.TruePositives) / float64(m.TruePositives+m.FalsePositives)
	}
	if m.TruePositives+m.FalseNegatives > 0 {
		metrics.Recall = float64(m.TruePositives) / float64(m.TruePositives+m.FalseNegatives)
	}
	if metrics.Precision+metrics.Recall > 0 {
		metrics.F1 = 2 * metrics.Precision * metrics.Recall / (metrics.Precision + metrics.Recall)
	}
	metrics.Calibration = 1 - absoluteErrorSum/total

	return metrics
}
