package eventhandler

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

type stubPredictionRepo struct {
	mu      sync.Mutex
	records map[string]*prediction.Record
}

func newStubPredictionRepo() *stubPredictionRepo {
	return &stubPredictionRepo{records: make(map[string]*prediction.Record)}
}

func (r *stubPredictionRepo) SaveRecord(_ context.Context, record *prediction.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.records[record.ID] = record
	return nil
}

func (r *stubPredictionRepo) UpdateRecord(_ context.Context, record *prediction.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.records[record.ID]; !ok {
		return shared.ErrPredictionNotFound
	}
	r.records[record.ID] = record
	return nil
}

func (r *stubPredictionRepo) GetRecord(_ context.Context, id string) (*prediction.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	record, ok := r.records[id]
	if !ok {
		return nil, shared.ErrPredictionNotFound
	}
	return record, nil
}

func (r *stubPredictionRepo) PendingForUser(_ context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*prediction.Record, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var pending []*prediction.Record
	for _, record := range r.records {
		if record.UserID != userID || record.Outcome != prediction.OutcomePending {
			continue
		}
		if objectiveID != "" && record.ObjectiveID != objectiveID {
			continue
		}
		pending = append(pending, record)
	}
	return pending, nil
}

func (r *stubPredictionRepo) ResolvedExamples(_ context.Context) ([]prediction.TrainingExample, error) {
	return nil, nil
}

func (r *stubPredictionRepo) SaveWeights(_ context.Context, _ *prediction.ModelWeights, _ *prediction.ModelMetrics) error {
	return nil
}

func (r *stubPredictionRepo) LatestWeights(_ context.Context) (*prediction.ModelWeights, *prediction.ModelMetrics, error) {
	return nil, nil, shared.ErrNotFound
}

type recordingBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *recordingBus) Publish(_ context.Context, event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *recordingBus) Subscribe(shared.EventType, shared.EventHandler) error {
	return nil
}

func (b *recordingBus) published() []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	return append([]shared.Event(nil), b.events...)
}

func pendingRecord(t *testing.T, userID shared.UserID, objectiveID shared.ObjectiveID, probability float64) *prediction.Record {
	t.Helper()
	result := prediction.Result{
		Probability: shared.ClampProbability(probability),
		Confidence:  shared.ClampConfidence(0.6),
	}
	values := make([]float64, 15)
	for i := range values {
		values[i] = 0.5
	}
	return prediction.NewRecord(userID, objectiveID, "rule_based", values, 0.8, result,
		time.Date(2026, 3, 1, 10, 0, 0, 0, time.UTC))
}

func TestOnSessionCompleted(t *testing.T) {
	userID, err := shared.NewUserID(uuid.NewString())
	require.NoError(t, err)
	objectiveID, err := shared.NewObjectiveID(uuid.NewString())
	require.NoError(t, err)

	sessionEvent := func(score float64, againCount int, validationScore float64) shared.SessionCompletedEvent {
		return shared.SessionCompletedEvent{
			BaseEvent:       shared.NewBaseEvent(shared.EventSessionCompleted, userID.String()),
			UserID:          userID.String(),
			ObjectiveID:     objectiveID.String(),
			Score:           score,
			AgainCount:      againCount,
			ValidationScore: validationScore,
			CompletedAt:     time.Date(2026, 3, 2, 10, 0, 0, 0, time.UTC),
		}
	}

	t.Run("confirms a predicted struggle on a weak session", func(t *testing.T) {
		repo := newStubPredictionRepo()
		bus := &recordingBus{}
		record := pendingRecord(t, userID, objectiveID, 0.8)
		require.NoError(t, repo.SaveRecord(context.Background(), record))

		handler := NewOnSessionCompletedHandler(repo, bus, nil)
		require.NoError(t, handler.Handle(context.Background(), sessionEvent(0.5, 0, -1)))

		stored, err := repo.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, prediction.OutcomeConfirmed, stored.Outcome)
		require.NotNil(t, stored.ResolvedAt)

		events := bus.published()
		require.Len(t, events, 1)
		resolved, ok := events[0].(shared.PredictionResolvedEvent)
		require.True(t, ok)
		assert.Equal(t, record.ID, resolved.PredictionID)
		assert.Equal(t, string(prediction.OutcomeConfirmed), resolved.Outcome)
	})

	t.Run("marks a predicted struggle false positive on a strong session", func(t *testing.T) {
		repo := newStubPredictionRepo()
		bus := &recordingBus{}
		record := pendingRecord(t, userID, objectiveID, 0.8)
		require.NoError(t, repo.SaveRecord(context.Background(), record))

		handler := NewOnSessionCompletedHandler(repo, bus, nil)
		require.NoError(t, handler.Handle(context.Background(), sessionEvent(0.9, 0, 0.85)))

		stored, err := repo.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, prediction.OutcomeFalsePositive, stored.Outcome)
	})

	t.Run("marks a missed struggle when again ratings pile up", func(t *testing.T) {
		repo := newStubPredictionRepo()
		bus := &recordingBus{}
		record := pendingRecord(t, userID, objectiveID, 0.2)
		require.NoError(t, repo.SaveRecord(context.Background(), record))

		handler := NewOnSessionCompletedHandler(repo, bus, nil)
		require.NoError(t, handler.Handle(context.Background(), sessionEvent(0.9, 3, -1)))

		stored, err := repo.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, prediction.OutcomeMissed, stored.Outcome)
	})

	t.Run("ignores predictions for other objectives", func(t *testing.T) {
		repo := newStubPredictionRepo()
		bus := &recordingBus{}
		otherObjective, err := shared.NewObjectiveID(uuid.NewString())
		require.NoError(t, err)
		record := pendingRecord(t, userID, otherObjective, 0.8)
		require.NoError(t, repo.SaveRecord(context.Background(), record))

		handler := NewOnSessionCompletedHandler(repo, bus, nil)
		require.NoError(t, handler.Handle(context.Background(), sessionEvent(0.5, 0, -1)))

		stored, err := repo.GetRecord(context.Background(), record.ID)
		require.NoError(t, err)
		assert.Equal(t, prediction.OutcomePending, stored.Outcome)
		assert.Empty(t, bus.published())
	})

	t.Run("rejects foreign event types", func(t *testing.T) {
		handler := NewOnSessionCompletedHandler(newStubPredictionRepo(), &recordingBus{}, nil)
		err := handler.Handle(context.Background(), shared.JobCompletedEvent{
			BaseEvent: shared.NewBaseEvent(shared.EventJobCompleted, "job"),
		})
		assert.Error(t, err)
	})
}
