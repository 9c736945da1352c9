package prediction

import (
	"fmt"
	"sort"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// LOGISTIC REGRESSION PREDICTOR
// Full-batch gradient descent with L2 regularization over the 15-feature
// vector. Training is batch-on-demand: a retrain re-runs on the complete
// accumulated example set, there is no incremental update path.
// ══════════════════════════════════════════════════════════════════════════════

// Training hyperparameters.
const (
	// TrainingEpochs is the number of full-batch gradient descent passes.
	TrainingEpochs = 1000

	// LearningRate is the gradient descent step size.
	LearningRate = 0.01

	// L2Lambda is the L2 regularization strength. The bias term is not
	// regularized.
	L2Lambda = 0.01

	// trainSplitRatio is the chronological train share of the 80/20 split.
	trainSplitRatio = 0.8
)

// LogisticPredictor is the trained strategy. It is safe for concurrent
// Predict calls; Train swaps the weights atomically under a lock.
type LogisticPredictor struct {
	mu      sync.RWMutex
	weights *ModelWeights
	metrics *ModelMetrics
}

// NewLogisticPredictor creates an untrained logistic predictor. Until Train
// succeeds, Predict returns the neutral default.
func NewLogisticPredictor() *LogisticPredictor {
	return &LogisticPredictor{}
}

// Name implements Predictor.
func (p *LogisticPredictor) Name() string {
	return "logistic_regression"
}

// IsTrained reports whether the model holds trained weights.
func (p *LogisticPredictor) IsTrained() bool {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.weights != nil
}

// Weights returns a copy of the trained weights, or nil when untrained.
// The internal weights are owned exclusively by the model.
func (p *LogisticPredictor) Weights() *ModelWeights {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.weights == nil {
		return nil
	}
	cloned := &ModelWeights{
		Bias:         p.weights.Bias,
		Weights:      append([]float64(nil), p.weights.Weights...),
		FeatureNames: append([]string(nil), p.weights.FeatureNames...),
	}
	return cloned
}

// Metrics returns the evaluation metrics of the last training run, or nil.
func (p *LogisticPredictor) Metrics() *ModelMetrics {
	p.mu.RLock()
	defer p.mu.RUnlock()
	if p.metrics == nil {
		return nil
	}
	copied := *p.metrics
	return &copied
}

// Restore installs previously persisted weights, e.g. at worker startup.
func (p *LogisticPredictor) Restore(w ModelWeights) error {
	if len(w.Weights) != features.FieldCount || len(w.FeatureNames) != features.FieldCount {
		return shared.NewDomainError("prediction", "Restore", shared.ErrInvalidInput,
			fmt.Sprintf("expected %d weights, got %d", features.FieldCount, len(w.Weights)))
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.weights = &ModelWeights{
		Bias:         w.Bias,
		Weights:      append([]float64(nil), w.Weights...),
		FeatureNames: append([]string(nil), w.FeatureNames...),
	}
	return nil
}

// Predict implements Predictor.
func (p *LogisticPredictor) Predict(v features.Vector) (Result, error) {
	if !v.IsValid() {
		return neutralResult(0), shared.NewDomainError("prediction", "Predict", shared.ErrInvalidInput, "feature vector out of range")
	}

	p.mu.RLock()
	weights := p.weights
	metrics := p.metrics
	p.mu.RUnlock()

	if weights == nil {
		return neutralResult(v.Meta.DataQuality), nil
	}

	values := v.Values()
	z := weights.Bias
	contributions := make([]FeatureContribution, 0, features.FieldCount)
	for i, value := range values {
		term := weights.Weights[i] * (value - features.Neutral)
		z += weights.Weights[i] * value
		contributions = append(contributions, FeatureContribution{
			Name:         weights.FeatureNames[i],
			Value:        value,
			Contribution: term,
		})
	}
	probability := sigmoid(z)

	var riskFactors, protective []string
	for _, c := range topContributions(contributions, 5) {
		if c.Contribution > 0.02 {
			riskFactors = append(riskFactors, fmt.Sprintf("%s elevated (%.2f)", c.Name, c.Value))
		} else if c.Contribution < -0.02 {
			protective = append(protective, fmt.Sprintf("%s favorable (%.2f)", c.Name, c.Value))
		}
	}

	calibration := 0.5
	if metrics != nil {
		calibration = metrics.Calibration
	}

	return Result{
		Probability: shared.ClampProbability(probability),
		Confidence:  shared.ClampConfidence(calibration * (0.5 + 0.5*v.Meta.DataQuality)),
		Reasoning: Reasoning{
			TopFeatures:       topContributions(contributions, 5),
			RiskFactors:       riskFactors,
			ProtectiveFactors: protective,
		},
	}, nil
}

// Train fits the model on the full example set with batch gradient descent
// and evaluates it on the chronological 20% holdout. It is the one entry
// point that enforces the hard example floor: fewer than
// MinTrainingExamples labeled examples is a validation error.
func (p *LogisticPredictor) Train(examples []TrainingExample) (*ModelMetrics, error) {
	usable := make([]TrainingExample, 0, len(examples))
	for _, example := range examples {
		if example.Weight < 0 {
			return nil, shared.NewDomainError("prediction", "Train", shared.ErrNegativeValue, "training example weight cannot be negative")
		}
		if example.Weight == 0 {
			continue
		}
		if example.Label != 0 && example.Label != 1 {
			return nil, shared.NewDomainError("prediction", "Train", shared.ErrInvalidInput, "labels must be 0 or 1")
		}
		usable = append(usable, example)
	}
	if len(usable) < MinTrainingExamples {
		return nil, shared.ErrTooFewTrainingExamples
	}

	// Chronological split: train on the past, evaluate on the most recent.
	sort.SliceStable(usable, func(i, j int) bool {
		return usable[i].Timestamp.Before(usable[j].Timestamp)
	})
	splitAt := int(float64(len(usable)) * trainSplitRatio)
	trainSet, testSet := usable[:splitAt], usable[splitAt:]

	weights := fitLogistic(trainSet)
	metrics := evaluate(weights, testSet)
	metrics.ExampleCount = len(usable)
	metrics.TrainedAt = time.Now().UTC()

	p.mu.Lock()
	p.weights = weights
	p.metrics = metrics
	p.mu.Unlock()

	copied := *metrics
	return &copied, nil
}

// fitLogistic runs full-batch gradient descent over the training set.
func fitLogistic(trainSet []TrainingExample) *ModelWeights {
	weights := make([]float64, features.FieldCount)
	bias := 0.0

	inputs := make([][]float64, len(trainSet))
	for i, example := range trainSet {
		inputs[i] = example.Features.Values()
	}

	var totalWeight float64
	for _, example := range trainSet {
		totalWeight += example.Weight
	}

	for epoch := 0; epoch < TrainingEpochs; epoch++ {
		gradients := make([]float64, features.FieldCount)
		biasGradient := 0.0

		for i, example := range trainSet {
			z := bias
			for j, value := range inputs[i] {
				z += weights[j] * value
			}
			residual := (sigmoid(z) - float64(example.Label)) * example.Weight
			biasGradient += residual
			for j, value := range inputs[i] {
				gradients[j] += residual * value
			}
		}

		bias -= LearningRate * biasGradient / totalWeight
		for j := range weights {
			// L2 penalty on the coefficients only, never the bias.
			gradient := gradients[j]/totalWeight + L2Lambda*weights[j]
			weights[j] -= LearningRate * gradient
		}
	}

	return &ModelWeights{
		Bias:         bias,
		Weights:      weights,
		FeatureNames: features.FieldNames(),
	}
}
