package prediction

import (
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// syntheticExamples builds an alternating sequence of clearly risky (label
// 1) and clearly safe (label 0) examples so the chronological holdout
// contains both classes.
func syntheticExamples(n int) []TrainingExample {
	base := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	examples := make([]TrainingExample, 0, n)
	for i := 0; i < n; i++ {
		var v features.Vector
		var label int
		if i%2 == 0 {
			v = riskyVector()
			label = 1
		} else {
			v = safeVector()
			label = 0
		}
		examples = append(examples, TrainingExample{
			Features:  v,
			Label:     label,
			Weight:    1,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}
	return examples
}

func riskyVector() features.Vector {
	v := features.FromValues([]float64{
		0.1, 0.9, 0.3, 0.9, 0.9, 0.8, 0.8, 0.9, 0.8, 0.2, 0.3, 0.2, 0.8, 0.9, 0.2,
	})
	v.Meta.DataQuality = 1
	return v
}

func safeVector() features.Vector {
	v := features.FromValues([]float64{
		0.9, 0.1, 0.7, 0.1, 0.0, 0.1, 0.3, 0.0, 0.2, 0.8, 0.9, 0.8, 0.3, 0.1, 0.9,
	})
	v.Meta.DataQuality = 1
	return v
}

func TestLogistic_TrainRejectsTooFewExamples(t *testing.T) {
	p := NewLogisticPredictor()

	_, err := p.Train(syntheticExamples(49))
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
	assert.False(t, p.IsTrained())
}

func TestLogistic_TrainRejectsNegativeWeight(t *testing.T) {
	p := NewLogisticPredictor()
	examples := syntheticExamples(60)
	examples[3].Weight = -1

	_, err := p.Train(examples)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrNegativeValue))
}

func TestLogistic_ZeroWeightExamplesDoNotCount(t *testing.T) {
	p := NewLogisticPredictor()
	examples := syntheticExamples(60)
	for i := 20; i < 60; i++ {
		examples[i].Weight = 0
	}

	// Only 20 usable examples remain.
	_, err := p.Train(examples)
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrValidation))
}

func TestLogistic_LearnsSeparableClasses(t *testing.T) {
	p := NewLogisticPredictor()

	metrics, err := p.Train(syntheticExamples(100))
	require.NoError(t, err)
	require.True(t, p.IsTrained())

	assert.Equal(t, 100, metrics.ExampleCount)
	assert.GreaterOrEqual(t, metrics.Accuracy, 0.9)
	assert.GreaterOrEqual(t, metrics.F1, 0.9)
	assert.Greater(t, metrics.Calibration, 0.5)
	assert.Equal(t, 20, metrics.Confusion.Total())

	risky, err := p.Predict(riskyVector())
	require.NoError(t, err)
	safe, err := p.Predict(safeVector())
	require.NoError(t, err)

	assert.Greater(t, risky.Probability.Float64(), safe.Probability.Float64())
	assert.Greater(t, risky.Probability.Float64(), 0.5)
	assert.Less(t, safe.Probability.Float64(), 0.5)
}

func TestLogistic_UntrainedPredictsNeutral(t *testing.T) {
	p := NewLogisticPredictor()

	result, err := p.Predict(riskyVector())
	require.NoError(t, err)

	assert.InDelta(t, 0.5, result.Probability.Float64(), 1e-9)
	assert.LessOrEqual(t, result.Confidence.Float64(), 0.1)
}

func TestLogistic_RetrainReplacesWeights(t *testing.T) {
	p := NewLogisticPredictor()

	_, err := p.Train(syntheticExamples(100))
	require.NoError(t, err)
	first := p.Weights()
	require.NotNil(t, first)

	// Retraining on an extended accumulated set re-fits from scratch.
	_, err = p.Train(syntheticExamples(200))
	require.NoError(t, err)
	second := p.Weights()
	require.NotNil(t, second)

	assert.Equal(t, features.FieldNames(), second.FeatureNames)
	assert.Len(t, second.Weights, features.FieldCount)
}

func TestLogistic_WeightsAreCopied(t *testing.T) {
	p := NewLogisticPredictor()
	_, err := p.Train(syntheticExamples(100))
	require.NoError(t, err)

	exported := p.Weights()
	exported.Weights[0] = 999

	// Mutating the exported copy must not corrupt the model.
	fresh := p.Weights()
	assert.NotEqual(t, 999.0, fresh.Weights[0])
}

func TestLogistic_RestoreValidatesShape(t *testing.T) {
	p := NewLogisticPredictor()

	err := p.Restore(ModelWeights{Weights: []float64{1, 2, 3}})
	require.Error(t, err)
	assert.True(t, errors.Is(err, shared.ErrInvalidInput))

	valid := ModelWeights{
		Bias:         -0.2,
		Weights:      make([]float64, features.FieldCount),
		FeatureNames: features.FieldNames(),
	}
	require.NoError(t, p.Restore(valid))
	assert.True(t, p.IsTrained())
}
