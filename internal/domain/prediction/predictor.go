// Package prediction implements the struggle prediction model: a rule-based
// strategy and a trained logistic regression behind one Predictor interface,
// with confusion-matrix evaluation and a per-prediction outcome state
// machine.
package prediction

import (
	"math"
	"sort"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTOR CONTRACT
// ══════════════════════════════════════════════════════════════════════════════

// Predictor estimates the probability that a learner will struggle with an
// objective, given its extracted feature vector.
type Predictor interface {
	// Predict returns a calibrated struggle probability with reasoning.
	// Insufficient data yields a neutral low-confidence result, never an
	// error; the error return covers only programmer mistakes such as a
	// malformed vector.
	Predict(v features.Vector) (Result, error)

	// Name identifies the strategy for logging and persistence.
	Name() string
}

// Result is the outcome of one prediction.
type Result struct {
	// Probability is the struggle probability in [0, 1].
	Probability shared.Probability

	// Confidence expresses how much signal backs the probability.
	Confidence shared.Confidence

	// Reasoning explains the probability in human-readable terms.
	Reasoning Reasoning
}

// Reasoning carries the explanation attached to a prediction.
type Reasoning struct {
	// TopFeatures lists the features that moved the probability most,
	// strongest first.
	TopFeatures []FeatureContribution

	// RiskFactors are human-readable conditions that raised the probability.
	RiskFactors []string

	// ProtectiveFactors are conditions that lowered it.
	ProtectiveFactors []string
}

// FeatureContribution records how much one feature moved the probability.
type FeatureContribution struct {
	// Name is the canonical feature name.
	Name string

	// Value is the feature's extracted value.
	Value float64

	// Contribution is the signed effect on the probability.
	Contribution float64
}

// ══════════════════════════════════════════════════════════════════════════════
// TRAINING TYPES
// ══════════════════════════════════════════════════════════════════════════════

// TrainingExample is one labeled observation for model training.
type TrainingExample struct {
	// Features is the extracted vector at prediction time.
	Features features.Vector

	// Label is 1 when the learner actually struggled, 0 otherwise.
	Label int

	// Weight scales the example's influence during training; must be >= 0.
	// Zero-weight examples are skipped.
	Weight float64

	// Timestamp orders examples for the chronological train/test split.
	Timestamp time.Time
}

// ModelWeights holds the parameters of a trained logistic model. A weights
// value is owned exclusively by the model instance that trained it.
type ModelWeights struct {
	// Bias is the intercept term.
	Bias float64

	// Weights holds one coefficient per feature, in FeatureNames order.
	Weights []float64

	// FeatureNames pins the feature order the weights were trained against.
	FeatureNames []string
}

// MinTrainingExamples is the hard floor Train enforces.
const MinTrainingExamples = 50

// ══════════════════════════════════════════════════════════════════════════════
// SHARED HELPERS
// ══════════════════════════════════════════════════════════════════════════════

// neutralResult is the conservative default returned when there is not
// enough signal to say anything. Confidence scales with whatever data
// quality the vector carries.
func neutralResult(dataQuality float64) Result {
	return Result{
		Probability: shared.ClampProbability(0.5),
		Confidence:  shared.ClampConfidence(0.1 * dataQuality),
		Reasoning: Reasoning{
			RiskFactors: []string{"insufficient data for a confident prediction"},
		},
	}
}

// topContributions ranks contributions by absolute effect and returns the
// strongest limit entries.
func topContributions(contributions []FeatureContribution, limit int) []FeatureContribution {
	sorted := make([]FeatureContribution, len(contributions))
	copy(sorted, contributions)
	sort.SliceStable(sorted, func(i, j int) bool {
		return math.Abs(sorted[i].Contribution) > math.Abs(sorted[j].Contribution)
	})
	if len(sorted) > limit {
		sorted = sorted[:limit]
	}
	return sorted
}

// sigmoid is the logistic function, guarded against overflow.
func sigmoid(z float64) float64 {
	if z > 35 {
		return 1
	}
	if z < -35 {
		return 0
	}
	return 1 / (1 + math.Exp(-z))
}
