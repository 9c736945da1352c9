package command

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

type fakePredictionRepo struct {
	mu       sync.Mutex
	examples []prediction.TrainingExample

	savedWeights *prediction.ModelWeights
	savedMetrics *prediction.ModelMetrics
}

func (r *fakePredictionRepo) SaveRecord(ctx context.Context, record *prediction.Record) error {
	return nil
}

func (r *fakePredictionRepo) UpdateRecord(ctx context.Context, record *prediction.Record) error {
	return nil
}

func (r *fakePredictionRepo) GetRecord(ctx context.Context, id string) (*prediction.Record, error) {
	return nil, shared.ErrPredictionNotFound
}

func (r *fakePredictionRepo) PendingForUser(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*prediction.Record, error) {
	return nil, nil
}

func (r *fakePredictionRepo) ResolvedExamples(ctx context.Context) ([]prediction.TrainingExample, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.examples, nil
}

func (r *fakePredictionRepo) SaveWeights(ctx context.Context, weights *prediction.ModelWeights, metrics *prediction.ModelMetrics) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.savedWeights = weights
	r.savedMetrics = metrics
	return nil
}

func (r *fakePredictionRepo) LatestWeights(ctx context.Context) (*prediction.ModelWeights, *prediction.ModelMetrics, error) {
	return nil, nil, shared.ErrNotFound
}

// separableExamples builds a linearly separable training set: struggling
// learners sit high on every feature, non-struggling ones low.
func separableExamples(n int) []prediction.TrainingExample {
	examples := make([]prediction.TrainingExample, 0, n)
	base := time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC)

	for i := 0; i < n; i++ {
		label := i % 2
		value := 0.2
		if label == 1 {
			value = 0.8
		}

		values := make([]float64, features.FieldCount)
		for j := range values {
			values[j] = value
		}

		examples = append(examples, prediction.TrainingExample{
			Features:  features.FromValues(values),
			Label:     label,
			Weight:    1,
			Timestamp: base.Add(time.Duration(i) * time.Hour),
		})
	}

	return examples
}

func TestTrainModelHandlerSkipsBelowFloor(t *testing.T) {
	repo := &fakePredictionRepo{examples: separableExamples(prediction.MinTrainingExamples - 1)}
	handler := NewTrainModelHandler(repo, prediction.NewLogisticPredictor(), &captureBus{}, testLogger())

	result, err := handler.Handle(context.Background(), TrainModelCommand{})
	require.NoError(t, err)
	assert.False(t, result.Trained)
	assert.Contains(t, result.SkipReason, "required")
	assert.Nil(t, repo.savedWeights)
}

func TestTrainModelHandlerTrains(t *testing.T) {
	repo := &fakePredictionRepo{examples: separableExamples(80)}
	model := prediction.NewLogisticPredictor()
	bus := &captureBus{}
	handler := NewTrainModelHandler(repo, model, bus, testLogger())

	result, err := handler.Handle(context.Background(), TrainModelCommand{})
	require.NoError(t, err)
	assert.True(t, result.Trained)
	assert.Equal(t, 80, result.ExampleCount)
	require.NotNil(t, result.Metrics)

	// A cleanly separable set should evaluate well on the holdout.
	assert.Greater(t, result.Metrics.Accuracy, 0.9)

	assert.True(t, model.IsTrained())
	require.NotNil(t, repo.savedWeights)
	assert.Len(t, repo.savedWeights.Weights, features.FieldCount)
	assert.Equal(t, 1, bus.countOf(shared.EventModelTrained))
}

func TestTrainModelHandlerSkipsUnchangedSet(t *testing.T) {
	repo := &fakePredictionRepo{examples: separableExamples(80)}
	model := prediction.NewLogisticPredictor()
	handler := NewTrainModelHandler(repo, model, &captureBus{}, testLogger())

	first, err := handler.Handle(context.Background(), TrainModelCommand{})
	require.NoError(t, err)
	require.True(t, first.Trained)

	// Same example count, no Force: the run is skipped.
	second, err := handler.Handle(context.Background(), TrainModelCommand{})
	require.NoError(t, err)
	assert.False(t, second.Trained)
	assert.Contains(t, second.SkipReason, "no new resolved examples")

	// Force retrains regardless.
	forced, err := handler.Handle(context.Background(), TrainModelCommand{Force: true})
	require.NoError(t, err)
	assert.True(t, forced.Trained)
}
