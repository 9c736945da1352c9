package jobs

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/application/query"
	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
	"github.com/studyloop/insight-engine/internal/infrastructure/external/lms"
)

const (
	testUserA      = shared.UserID("11111111-1111-1111-1111-111111111111")
	testUserB      = shared.UserID("22222222-2222-2222-2222-222222222222")
	testObjectiveA = shared.ObjectiveID("aaaaaaaa-aaaa-aaaa-aaaa-aaaaaaaaaaaa")
	testObjectiveB = shared.ObjectiveID("bbbbbbbb-bbbb-bbbb-bbbb-bbbbbbbbbbbb")
	testObjectiveC = shared.ObjectiveID("cccccccc-cccc-cccc-cccc-cccccccccccc")
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// ─────────────────────────────────────────────────────────────────────────────
// Stubs
// ─────────────────────────────────────────────────────────────────────────────

type stubTelemetryClient struct {
	batches []*lms.TelemetryBatch
	err     error

	calls  int
	tokens []string
}

func (c *stubTelemetryClient) FetchBatch(ctx context.Context, syncToken string) (*lms.TelemetryBatch, error) {
	c.tokens = append(c.tokens, syncToken)
	if c.err != nil {
		return nil, c.err
	}
	if c.calls >= len(c.batches) {
		return &lms.TelemetryBatch{}, nil
	}
	batch := c.batches[c.calls]
	c.calls++
	return batch, nil
}

type stubTelemetryStore struct {
	failAll bool

	profiles   int
	objectives int
	masteries  int
	reviews    int
	sessions   int
	outcomes   int
}

func (s *stubTelemetryStore) fail() error {
	if s.failAll {
		return errors.New("storage unavailable")
	}
	return nil
}

func (s *stubTelemetryStore) UpsertUserProfile(ctx context.Context, profile *signal.UserProfile) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.profiles++
	return nil
}

func (s *stubTelemetryStore) UpsertObjective(ctx context.Context, meta *signal.ObjectiveMeta) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.objectives++
	return nil
}

func (s *stubTelemetryStore) UpsertMastery(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, mastery float64) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.masteries++
	return nil
}

func (s *stubTelemetryStore) InsertReviewEvents(ctx context.Context, userID shared.UserID, reviews []signal.ReviewEvent) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.reviews += len(reviews)
	return nil
}

func (s *stubTelemetryStore) InsertSession(ctx context.Context, userID shared.UserID, session signal.SessionRecord) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.sessions++
	return nil
}

func (s *stubTelemetryStore) RecordObjectiveOutcome(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, struggled bool) error {
	if err := s.fail(); err != nil {
		return err
	}
	s.outcomes++
	return nil
}

type stubSyncState struct {
	token      string
	savedToken string
	lastSyncAt time.Time
}

func (s *stubSyncState) SyncToken(ctx context.Context) (string, error) { return s.token, nil }

func (s *stubSyncState) SetSyncToken(ctx context.Context, token string) error {
	s.savedToken = token
	return nil
}

func (s *stubSyncState) SetLastSyncTime(ctx context.Context, t time.Time) error {
	s.lastSyncAt = t
	return nil
}

type stubInvalidator struct {
	mu          sync.Mutex
	invalidated map[shared.UserID]int
}

func (s *stubInvalidator) InvalidateUser(ctx context.Context, userID shared.UserID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.invalidated == nil {
		s.invalidated = make(map[shared.UserID]int)
	}
	s.invalidated[userID]++
	return nil
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

func (b *captureBus) ofType(eventType shared.EventType) []shared.Event {
	b.mu.Lock()
	defer b.mu.Unlock()
	var out []shared.Event
	for _, e := range b.events {
		if e.EventType() == eventType {
			out = append(out, e)
		}
	}
	return out
}

// ─────────────────────────────────────────────────────────────────────────────
// Sync telemetry job
// ─────────────────────────────────────────────────────────────────────────────

func TestSyncTelemetryJobRun(t *testing.T) {
	now := time.Now()
	client := &stubTelemetryClient{
		batches: []*lms.TelemetryBatch{
			{
				Profiles:   []signal.UserProfile{{UserID: testUserA}},
				Objectives: []signal.ObjectiveMeta{{ObjectiveID: testObjectiveA}},
				Masteries: []lms.MasteryRecord{
					{UserID: testUserA, ObjectiveID: testObjectiveA, Mastery: 0.6},
				},
				Reviews: map[shared.UserID][]signal.ReviewEvent{
					testUserA: {
						{ObjectiveID: testObjectiveA, Rating: shared.RatingGood, ReviewedAt: now},
						{ObjectiveID: testObjectiveA, Rating: shared.RatingAgain, ReviewedAt: now},
					},
				},
				NextSyncToken: "token-2",
			},
			{
				Sessions: []lms.UserSession{
					{UserID: testUserB, Session: signal.SessionRecord{
						ObjectiveID: testObjectiveB,
						Score:       0.4,
						AgainCount:  3,
						CompletedAt: now,
					}},
				},
				Outcomes: []lms.OutcomeRecord{
					{UserID: testUserB, ObjectiveID: testObjectiveB, Struggled: true},
				},
				NextSyncToken: "",
			},
		},
	}
	store := &stubTelemetryStore{}
	syncState := &stubSyncState{token: "token-1"}
	invalidator := &stubInvalidator{}
	bus := &captureBus{}

	job := NewSyncTelemetryJob(client, store, syncState, invalidator, bus, testLogger(),
		DefaultSyncTelemetryConfig())

	require.NoError(t, job.Run(context.Background()))

	// The second fetch uses the token from the first batch.
	assert.Equal(t, []string{"token-1", "token-2"}, client.tokens)
	assert.Equal(t, "token-2", syncState.savedToken)
	assert.False(t, syncState.lastSyncAt.IsZero())

	assert.Equal(t, 1, store.profiles)
	assert.Equal(t, 1, store.objectives)
	assert.Equal(t, 1, store.masteries)
	assert.Equal(t, 2, store.reviews)
	assert.Equal(t, 1, store.sessions)
	assert.Equal(t, 1, store.outcomes)

	// Synced sessions are republished for outcome resolution.
	assert.Len(t, bus.ofType(shared.EventSessionCompleted), 1)

	// Both learners were written to, both caches dropped.
	assert.Len(t, invalidator.invalidated, 2)

	stats := job.LastStats()
	require.NotNil(t, stats)
	assert.Equal(t, 2, stats.Batches)
	assert.Equal(t, 2, stats.UsersTouched)
	assert.Equal(t, 0, stats.FailedWrites)
}

func TestSyncTelemetryJobFetchError(t *testing.T) {
	client := &stubTelemetryClient{err: errors.New("upstream unavailable")}
	job := NewSyncTelemetryJob(client, &stubTelemetryStore{}, &stubSyncState{}, nil, nil,
		testLogger(), DefaultSyncTelemetryConfig())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to fetch telemetry batch")
}

func TestSyncTelemetryJobAllWritesFailed(t *testing.T) {
	client := &stubTelemetryClient{
		batches: []*lms.TelemetryBatch{
			{
				Profiles: []signal.UserProfile{{UserID: testUserA}},
				Reviews: map[shared.UserID][]signal.ReviewEvent{
					testUserA: {{ObjectiveID: testObjectiveA, Rating: shared.RatingGood}},
				},
			},
		},
	}
	store := &stubTelemetryStore{failAll: true}
	job := NewSyncTelemetryJob(client, store, &stubSyncState{}, nil, nil,
		testLogger(), DefaultSyncTelemetryConfig())

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "writes failed")
}

// ─────────────────────────────────────────────────────────────────────────────
// Predict struggles job
// ─────────────────────────────────────────────────────────────────────────────

type stubUserLister struct {
	ids []shared.UserID
	err error
}

func (s *stubUserLister) ActiveUserIDs(ctx context.Context, since time.Time) ([]shared.UserID, error) {
	return s.ids, s.err
}

// stubSignalRepo serves a fixed review history and neutral everything else.
type stubSignalRepo struct {
	history []signal.ReviewEvent
}

func (r *stubSignalRepo) ReviewHistory(ctx context.Context, userID shared.UserID) ([]signal.ReviewEvent, error) {
	return r.history, nil
}

func (r *stubSignalRepo) ReviewsForObjective(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]signal.ReviewEvent, error) {
	var out []signal.ReviewEvent
	for _, rev := range r.history {
		if rev.ObjectiveID == objectiveID {
			out = append(out, rev)
		}
	}
	return out, nil
}

func (r *stubSignalRepo) LastReviewAt(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (time.Time, error) {
	return time.Time{}, nil
}

func (r *stubSignalRepo) RecentSessions(ctx context.Context, userID shared.UserID, window time.Duration) ([]signal.SessionRecord, error) {
	return nil, nil
}

func (r *stubSignalRepo) ObjectiveMeta(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (*signal.ObjectiveMeta, error) {
	return &signal.ObjectiveMeta{ObjectiveID: objectiveID, Complexity: 0.5, MasteryLevel: 0.5}, nil
}

func (r *stubSignalRepo) UserProfile(ctx context.Context, userID shared.UserID) (*signal.UserProfile, error) {
	return &signal.UserProfile{UserID: userID}, nil
}

func (r *stubSignalRepo) PerformanceSummary(ctx context.Context, userID shared.UserID) (*signal.PerformanceSummary, error) {
	return &signal.PerformanceSummary{
		RetentionScore: -1,
		LapseRate:      -1,
		RecentAccuracy: -1,
		PriorAccuracy:  -1,
	}, nil
}

// stubPredictionRepo records saved predictions and nothing else.
type stubPredictionRepo struct {
	mu    sync.Mutex
	saved []*prediction.Record
}

func (r *stubPredictionRepo) SaveRecord(ctx context.Context, record *prediction.Record) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.saved = append(r.saved, record)
	return nil
}

func (r *stubPredictionRepo) UpdateRecord(ctx context.Context, record *prediction.Record) error {
	return nil
}

func (r *stubPredictionRepo) GetRecord(ctx context.Context, id string) (*prediction.Record, error) {
	return nil, shared.ErrPredictionNotFound
}

func (r *stubPredictionRepo) PendingForUser(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*prediction.Record, error) {
	return nil, nil
}

func (r *stubPredictionRepo) ResolvedExamples(ctx context.Context) ([]prediction.TrainingExample, error) {
	return nil, nil
}

func (r *stubPredictionRepo) SaveWeights(ctx context.Context, weights *prediction.ModelWeights, metrics *prediction.ModelMetrics) error {
	return nil
}

func (r *stubPredictionRepo) LatestWeights(ctx context.Context) (*prediction.ModelWeights, *prediction.ModelMetrics, error) {
	return nil, nil, shared.ErrNotFound
}

func (r *stubPredictionRepo) savedCount() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.saved)
}

func TestPredictStrugglesJobRun(t *testing.T) {
	now := time.Now()
	signals := &stubSignalRepo{
		history: []signal.ReviewEvent{
			// Old review outside the window; its objective is skipped.
			{ObjectiveID: testObjectiveC, Rating: shared.RatingGood, ReviewedAt: now.Add(-30 * 24 * time.Hour)},
			{ObjectiveID: testObjectiveA, Rating: shared.RatingGood, ReviewedAt: now.Add(-48 * time.Hour)},
			{ObjectiveID: testObjectiveB, Rating: shared.RatingAgain, ReviewedAt: now.Add(-24 * time.Hour)},
			// Duplicate objective within the window counts once.
			{ObjectiveID: testObjectiveA, Rating: shared.RatingHard, ReviewedAt: now.Add(-time.Hour)},
		},
	}
	predictionRepo := &stubPredictionRepo{}
	bus := &captureBus{}

	handler := query.NewGetStrugglePredictionHandler(
		features.NewPipeline(signals),
		prediction.NewLogisticPredictor(),
		prediction.NewRuleBasedPredictor(),
		predictionRepo,
		bus,
		testLogger(),
	)

	job := NewPredictStrugglesJob(
		&stubUserLister{ids: []shared.UserID{testUserA}},
		signals,
		handler,
		testLogger(),
		DefaultPredictStrugglesConfig(),
	)

	require.NoError(t, job.Run(context.Background()))

	// Two distinct objectives reviewed within the window.
	assert.Equal(t, 2, predictionRepo.savedCount())
	assert.Len(t, bus.ofType(shared.EventPredictionIssued), 2)
}

func TestPredictStrugglesJobNoActiveUsers(t *testing.T) {
	job := NewPredictStrugglesJob(
		&stubUserLister{},
		&stubSignalRepo{},
		nil,
		testLogger(),
		DefaultPredictStrugglesConfig(),
	)

	require.NoError(t, job.Run(context.Background()))
}

func TestPredictStrugglesJobListError(t *testing.T) {
	job := NewPredictStrugglesJob(
		&stubUserLister{err: errors.New("db down")},
		&stubSignalRepo{},
		nil,
		testLogger(),
		DefaultPredictStrugglesConfig(),
	)

	err := job.Run(context.Background())
	require.Error(t, err)
	assert.Contains(t, err.Error(), "failed to list active users")
}

func TestPredictStrugglesRecentObjectives(t *testing.T) {
	now := time.Now()
	var history []signal.ReviewEvent
	for _, obj := range []shared.ObjectiveID{testObjectiveA, testObjectiveB, testObjectiveC} {
		history = append(history, signal.ReviewEvent{
			ObjectiveID: obj,
			Rating:      shared.RatingGood,
			ReviewedAt:  now.Add(-time.Hour),
		})
	}

	cfg := DefaultPredictStrugglesConfig()
	cfg.MaxObjectivesPerUser = 2
	job := NewPredictStrugglesJob(nil, &stubSignalRepo{history: history}, nil, testLogger(), cfg)

	objectives, err := job.recentObjectives(context.Background(), testUserA, now.Add(-24*time.Hour))
	require.NoError(t, err)
	require.Len(t, objectives, 2)

	// Most recently reviewed first.
	assert.Equal(t, testObjectiveC, objectives[0])
	assert.Equal(t, testObjectiveB, objectives[1])
}
