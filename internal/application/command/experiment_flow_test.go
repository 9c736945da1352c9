package command

import (
	"context"
	"io"
	"log/slog"
	"sync"
	"testing"

	"github.com/google/uuid"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Fakes
// ─────────────────────────────────────────────────────────────────────────────

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

func assignmentKey(userID shared.UserID, experimentID shared.ExperimentID) string {
	return userID.String() + "/" + experimentID.String()
}

func (r *memoryExperimentRepo) CreateExperiment(_ context.Context, e *experiment.Experiment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.experiments[e.ID]; ok {
		return shared.ErrAlreadyExists
	}
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
	key := assignmentKey(a.UserID, a.ExperimentID)
	if _, ok := r.assignments[key]; ok {
		return shared.ErrAlreadyExists
	}
	copied := *a
	r.assignments[key] = &copied
	return nil
}

func (r *memoryExperimentRepo) GetAssignment(_ context.Context, userID shared.UserID, experimentID shared.ExperimentID) (*experiment.Assignment, error) {
	r.mu.Lock()
	defer r.mu.Unlock()
	a, ok := r.assignments[assignmentKey(userID, experimentID)]
	if !ok {
		return nil, shared.ErrAssignmentNotFound
	}
	copied := *a
	return &copied, nil
}

func (r *memoryExperimentRepo) UpdateAssignment(_ context.Context, a *experiment.Assignment) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	key := assignmentKey(a.UserID, a.ExperimentID)
	if _, ok := r.assignments[key]; !ok {
		return shared.ErrAssignmentNotFound
	}
	copied := *a
	r.assignments[key] = &copied
	return nil
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

// ─────────────────────────────────────────────────────────────────────────────
// Experiment lifecycle through the command handlers
// ─────────────────────────────────────────────────────────────────────────────

func TestExperimentCommandFlow(t *testing.T) {
	ctx := context.Background()
	repo := newMemoryExperimentRepo()
	engine := experiment.NewEngine(repo)
	bus := &captureBus{}

	create := NewCreateExperimentHandler(engine, testLogger())
	assign := NewAssignVariantHandler(engine, bus, testLogger())
	record := NewRecordMetricsHandler(engine, testLogger())
	conclude := NewConcludeExperimentHandler(engine, bus, testLogger())

	created, err := create.Handle(ctx, CreateExperimentCommand{
		Name:            "adaptive-intervals",
		Description:     "Adaptive vs fixed review intervals",
		PrimaryMetric:   "retention_score",
		TargetUserCount: 200,
	})
	require.NoError(t, err)
	assert.Equal(t, experiment.DefaultMinUsersPerVariant, created.MinUsersPerVariant)
	assert.Equal(t, experiment.DefaultMinDurationDays, created.MinDurationDays)

	// Enrollment balances across arms and is idempotent per user.
	variantsSeen := make(map[string]int)
	var firstUser string
	var firstVariant string
	for i := 0; i < 10; i++ {
		userID := uuid.NewString()
		result, err := assign.Handle(ctx, AssignVariantCommand{
			UserID:       userID,
			ExperimentID: created.ExperimentID,
		})
		require.NoError(t, err)
		variantsSeen[result.Variant]++

		if i == 0 {
			firstUser, firstVariant = userID, result.Variant
		}
	}
	assert.Equal(t, 5, variantsSeen["A"])
	assert.Equal(t, 5, variantsSeen["B"])
	assert.Equal(t, 10, bus.countOf(shared.EventVariantAssigned))

	again, err := assign.Handle(ctx, AssignVariantCommand{
		UserID:       firstUser,
		ExperimentID: created.ExperimentID,
	})
	require.NoError(t, err)
	assert.Equal(t, firstVariant, again.Variant, "re-assignment returns the existing arm")

	require.NoError(t, record.Handle(ctx, RecordMetricsCommand{
		UserID:       firstUser,
		ExperimentID: created.ExperimentID,
		Metrics:      map[string]float64{"retention_score": 0.8},
	}))

	// Conclusion is refused while the gate is unmet (too few users, too
	// little elapsed time).
	_, err = conclude.Handle(ctx, ConcludeExperimentCommand{ExperimentID: created.ExperimentID})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "cannot conclude")
	assert.Equal(t, 0, bus.countOf(shared.EventExperimentConcluded))
}

func TestAssignVariantValidation(t *testing.T) {
	assign := NewAssignVariantHandler(experiment.NewEngine(newMemoryExperimentRepo()), &captureBus{}, testLogger())

	_, err := assign.Handle(context.Background(), AssignVariantCommand{
		UserID:       "not-a-uuid",
		ExperimentID: uuid.NewString(),
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "validation failed")
}

func TestRecordMetricsValidation(t *testing.T) {
	record := NewRecordMetricsHandler(experiment.NewEngine(newMemoryExperimentRepo()), testLogger())

	err := record.Handle(context.Background(), RecordMetricsCommand{
		UserID:       uuid.NewString(),
		ExperimentID: uuid.NewString(),
		Metrics:      nil,
	})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "metrics blob cannot be empty")
}

func TestConcludeExperimentUnknown(t *testing.T) {
	conclude := NewConcludeExperimentHandler(experiment.NewEngine(newMemoryExperimentRepo()), &captureBus{}, testLogger())

	_, err := conclude.Handle(context.Background(), ConcludeExperimentCommand{
		ExperimentID: uuid.NewString(),
	})
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrNotFound)
}

func TestCreateExperimentValidation(t *testing.T) {
	create := NewCreateExperimentHandler(experiment.NewEngine(newMemoryExperimentRepo()), testLogger())

	_, err := create.Handle(context.Background(), CreateExperimentCommand{
		Name:          "",
		PrimaryMetric: "retention_score",
	})
	require.Error(t, err)
}
