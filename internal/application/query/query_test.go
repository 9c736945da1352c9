package query

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/retention"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

type captureBus struct {
	mu     sync.Mutex
	events []shared.Event
}

func (b *captureBus) Publish(ctx context.Context, event shared.Event) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.events = append(b.events, event)
	return nil
}

func (b *captureBus) Subscribe(eventType shared.EventType, handler shared.EventHandler) error {
	return nil
}

func (b *captureBus) countOf(eventType shared.EventType) int {
	b.mu.Lock()
	defer b.mu.Unlock()
	n := 0
	for _, e := range b.events {
		if e.EventType() == eventType {
			n++
		}
	}
	return n
}

// emptySignalRepo has no telemetry at all: extraction falls back to neutral
// values and curve fitting falls back to the population baseline.
type emptySignalRepo struct{}

func (emptySignalRepo) ReviewHistory(ctx context.Context, userID shared.UserID) ([]signal.ReviewEvent, error) {
	return nil, nil
}

func (emptySignalRepo) ReviewsForObjective(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]signal.ReviewEvent, error) {
	return nil, nil
}

func (emptySignalRepo) LastReviewAt(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (time.Time, error) {
	return time.Time{}, nil
}

func (emptySignalRepo) RecentSessions(ctx context.Context, userID shared.UserID, window time.Duration) ([]signal.SessionRecord, error) {
	return nil, nil
}

func (emptySignalRepo) ObjectiveMeta(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (*signal.ObjectiveMeta, error) {
	return nil, shared.ErrObjectiveNotFound
}

func (emptySignalRepo) UserProfile(ctx context.Context, userID shared.UserID) (*signal.UserProfile, error) {
	return nil, shared.ErrUserNotFound
}

func (emptySignalRepo) PerformanceSummary(ctx context.Context, userID shared.UserID) (*signal.PerformanceSummary, error) {
	return &signal.PerformanceSummary{
		RetentionScore: -1,
		LapseRate:      -1,
		RecentAccuracy: -1,
		PriorAccuracy:  -1,
	}, nil
}

type recordingPredictionRepo struct {
	mu    sync.Mutex
	saved []*prediction.Record
}

func (r *recordingPredictionRepo) SaveRecord(ctx context.Context, record *prediction.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, record)
	return nil
}

func (r *recordingPredictionRepo) UpdateRecord(ctx context.Context, record *prediction.Record) error {
	return nil
}

func (r *recordingPredictionRepo) GetRecord(ctx context.Context, id string) (*prediction.Record, error) {
	return nil, shared.ErrPredictionNotFound
}

func (r *recordingPredictionRepo) PendingForUser(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*prediction.Record, error) {
	return nil, nil
}

func (r *recordingPredictionRepo) ResolvedExamples(ctx context.Context) ([]prediction.TrainingExample, error) {
	return nil, nil
}

func (r *recordingPredictionRepo) SaveWeights(ctx context.Context, weights *prediction.ModelWeights, metrics *prediction.ModelMetrics) error {
	return nil
}

func (r *recordingPredictionRepo) LatestWeights(ctx context.Context) (*prediction.ModelWeights, *prediction.ModelMetrics, error) {
	return nil, nil, shared.ErrNotFound
}

type memoryExperimentRepo struct {
	mu          sync.Mutex
	experiments map[shared.ExperimentID]*experiment.Experiment
	assignments map[string]*experiment.Assignment
}

func newMemoryExperimentRepo() *memoryExperimentRepo {
	return &memoryExperimentRepo{
		experiments: make(map[shared.ExperimentID]*experiment.Experiment),
		assignments: make(map[string]*experiment.Assignment),
	}
}

func (r *memoryExperimentRepo) CreateExperiment(_ context.Context, e *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *e
	r.experiments[e.ID] = &copied
	return nil
}

func (r *memoryExperimentRepo) GetExperiment(_ context.Context, id shared.ExperimentID) (*experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	e, ok := r.experiments[id]
	if !ok {
		return nil, shared.ErrExperimentNotFound
	}
	copied := *e
	return &copied, nil
}

func (r *memoryExperimentRepo) UpdateExperiment(_ context.Context, e *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[e.ID]; !ok {
		return shared.ErrExperimentNotFound
	}
	copied := *e
	r.experiments[e.ID] = &copied
	return nil
}

func (r *memoryExperimentRepo) ListRunning(_ context.Context) ([]*experiment.Experiment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var running []*experiment.Experiment
	for _, e := range r.experiments {
		if e.Status == experiment.StatusRunning {
			copied := *e
			running = append(running, &copied)
		}
	}
	return running, nil
}

func (r *memoryExperimentRepo) CreateAssignment(_ context.Context, a *experiment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	copied := *a
	r.assignments[a.UserID.String()+"/"+a.ExperimentID.String()] = &copied
	return nil
}

func (r *memoryExperimentRepo) GetAssignment(_ context.Context, userID shared.UserID, experimentID shared.ExperimentID) (*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[userID.String()+"/"+experimentID.String()]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memoryExperimentRepo) UpdateAssignment(_ context.Context, a *experiment.Assignment) error {
	return r.CreateAssignment(context.Background(), a)
}

func (r *memoryExperimentRepo) AssignmentsForExperiment(_ context.Context, experimentID shared.ExperimentID) ([]*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out []*experiment.Assignment
	for _, a := range r.assignments {
		if a.ExperimentID == experimentID {
			copied := *a
			out = append(out, &copied)
		}
	}
	return out, nil
}

func (r *memoryExperimentRepo) CountByVariant(_ context.Context, experimentID shared.ExperimentID) (map[experiment.Variant]int, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	counts := make(map[experiment.Variant]int)
	for _, a := range r.assignments {
		if a.ExperimentID == experimentID {
			counts[a.Variant]++
		}
	}
	return counts, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Struggle prediction query
// ─────────────────────────────────────────────────────────────────────────────

func TestGetStrugglePredictionFallsBackToRules(t *testing.T) {
	repo := &recordingPredictionRepo{}
	bus := &captureBus{}
	handler := NewGetStrugglePredictionHandler(
		features.NewPipeline(emptySignalRepo{}),
		prediction.NewLogisticPredictor(), // untrained: rules take over
		prediction.NewRuleBasedPredictor(),
		repo,
		bus,
		testLogger(),
	)

	dto, err := handler.Handle(context.Background(), GetStrugglePredictionQuery{
		UserID:      uuid.NewString(),
		ObjectiveID: uuid.NewString(),
	})
	require.NoError(t, err)

	assert.Equal(t, "rule_based", dto.Strategy)
	assert.GreaterOrEqual(t, dto.Probability, 0.0)
	assert.LessOrEqual(t, dto.Probability, 1.0)
	assert.NotEmpty(t, dto.PredictionID)

	repo.mu.Lock()
	assert.Len(t, repo.saved, 1)
	repo.mu.Unlock()
	assert.Equal(t, 1, bus.countOf(shared.EventPredictionIssued))
}

func TestGetStrugglePredictionValidation(t *testing.T) {
	handler := NewGetStrugglePredictionHandler(
		features.NewPipeline(emptySignalRepo{}),
		prediction.NewLogisticPredictor(),
		prediction.NewRuleBasedPredictor(),
		&recordingPredictionRepo{},
		&captureBus{},
		testLogger(),
	)

	_, err := handler.Handle(context.Background(), GetStrugglePredictionQuery{
		UserID:      "not-a-uuid",
		ObjectiveID: uuid.NewString(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

// ─────────────────────────────────────────────────────────────────────────────
// Retention forecast query
// ─────────────────────────────────────────────────────────────────────────────

func TestGetRetentionForecastBaseline(t *testing.T) {
	bus := &captureBus{}
	handler := NewGetRetentionForecastHandler(
		retention.NewAnalyzer(emptySignalRepo{}),
		bus,
		testLogger(),
	)

	dto, err := handler.Handle(context.Background(), GetRetentionForecastQuery{
		UserID: uuid.NewString(),
	})
	require.NoError(t, err)

	// No history: the Ebbinghaus baseline applies.
	assert.True(t, dto.Baseline)
	assert.InDelta(t, 1.0, dto.R0, 1e-9)
	assert.InDelta(t, 0.14, dto.DecayRate, 1e-9)

	require.Len(t, dto.Projection, 6)
	assert.Equal(t, 1, dto.Projection[0].Days)
	assert.Equal(t, 90, dto.Projection[len(dto.Projection)-1].Days)
	for i := 1; i < len(dto.Projection); i++ {
		assert.Less(t, dto.Projection[i].Retention, dto.Projection[i-1].Retention,
			"retention decays monotonically")
	}

	// No objective anchor requested: anchored fields stay empty.
	assert.Empty(t, dto.ObjectiveID)
	assert.Nil(t, dto.CurrentRetention)

	assert.Equal(t, 1, bus.countOf(shared.EventCurveFitted))
}

func TestGetRetentionForecastValidation(t *testing.T) {
	handler := NewGetRetentionForecastHandler(retention.NewAnalyzer(emptySignalRepo{}), &captureBus{}, testLogger())

	_, err := handler.Handle(context.Background(), GetRetentionForecastQuery{UserID: "nope"})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

// ─────────────────────────────────────────────────────────────────────────────
// Experiment analysis query
// ─────────────────────────────────────────────────────────────────────────────

func TestAnalyzeExperimentInsufficientData(t *testing.T) {
	repo := newMemoryExperimentRepo()
	engine := experiment.NewEngine(repo)
	handler := NewAnalyzeExperimentHandler(engine, testLogger())

	created, err := engine.CreateExperiment(context.Background(), experiment.Config{
		Name:            "fresh",
		PrimaryMetric:   "retention_score",
		TargetUserCount: 100,
	})
	require.NoError(t, err)

	dto, err := handler.Handle(context.Background(), AnalyzeExperimentQuery{
		ExperimentID: created.ID.String(),
	})
	require.NoError(t, err)

	assert.Equal(t, "insufficient_data", dto.Status)
	assert.Nil(t, dto.Statistical)
	assert.Empty(t, dto.Winner)
	assert.NotEmpty(t, dto.UnmetRequirements)
}

func TestAnalyzeExperimentUnknown(t *testing.T) {
	handler := NewAnalyzeExperimentHandler(experiment.NewEngine(newMemoryExperimentRepo()), testLogger())

	_, err := handler.Handle(context.Background(), AnalyzeExperimentQuery{
		ExperimentID: uuid.NewString(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}
