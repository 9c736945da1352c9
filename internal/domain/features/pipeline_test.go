package features

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

const (
	testUserID      = shared.UserID("11111111-1111-1111-1111-111111111111")
	testObjectiveID = shared.ObjectiveID("22222222-2222-2222-2222-222222222222")
)

var testNow = time.Date(2025, 11, 10, 12, 0, 0, 0, time.UTC)

// stubRepo is an in-memory signal.Repository for pipeline tests.
type stubRepo struct {
	reviews     []signal.ReviewEvent
	sessions    []signal.SessionRecord
	meta        *signal.ObjectiveMeta
	profile     *signal.UserProfile
	performance *signal.PerformanceSummary
	lastReview  time.Time
	err         error
}

func (s *stubRepo) ReviewHistory(context.Context, shared.UserID) ([]signal.ReviewEvent, error) {
	return s.reviews, s.err
}

func (s *stubRepo) ReviewsForObjective(context.Context, shared.UserID, shared.ObjectiveID) ([]signal.ReviewEvent, error) {
	return s.reviews, s.err
}

func (s *stubRepo) LastReviewAt(context.Context, shared.UserID, shared.ObjectiveID) (time.Time, error) {
	return s.lastReview, s.err
}

func (s *stubRepo) RecentSessions(context.Context, shared.UserID, time.Duration) ([]signal.SessionRecord, error) {
	return s.sessions, s.err
}

func (s *stubRepo) ObjectiveMeta(context.Context, shared.UserID, shared.ObjectiveID) (*signal.ObjectiveMeta, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.meta == nil {
		return nil, shared.ErrObjectiveNotFound
	}
	return s.meta, nil
}

func (s *stubRepo) UserProfile(context.Context, shared.UserID) (*signal.UserProfile, error) {
	if s.err != nil {
		return nil, s.err
	}
	if s.profile == nil {
		return nil, shared.ErrUserNotFound
	}
	return s.profile, nil
}

func (s *stubRepo) PerformanceSummary(context.Context, shared.UserID) (*signal.PerformanceSummary, error) {
	return s.performance, s.err
}

func newTestPipeline(repo signal.Repository) *Pipeline {
	return NewPipeline(repo, WithClock(func() time.Time { return testNow }))
}

func TestExtract_NoSignalYieldsNeutralVector(t *testing.T) {
	p := newTestPipeline(&stubRepo{})

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)

	for i, value := range v.Values() {
		assert.Equal(t, Neutral, value, "field %s should be neutral", FieldNames()[i])
	}
	assert.Equal(t, 0.0, v.Meta.DataQuality)
	assert.Equal(t, testNow, v.Meta.ExtractedAt)
}

func TestExtract_UpstreamErrorsNeverPropagate(t *testing.T) {
	p := newTestPipeline(&stubRepo{err: errors.New("connection refused")})

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)
	assert.True(t, v.IsValid())
	assert.Equal(t, 0.0, v.Meta.DataQuality)
}

func TestExtract_ZeroPrerequisitesIsTrueAbsence(t *testing.T) {
	repo := &stubRepo{
		meta: &signal.ObjectiveMeta{
			ObjectiveID:   testObjectiveID,
			Complexity:    0.7,
			MasteryLevel:  0.4,
			Prerequisites: []signal.Prerequisite{},
		},
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)

	// A declared-empty prerequisite list means no gap, not "unknown".
	assert.Equal(t, 0.0, v.PrerequisiteGapCount)
	assert.Equal(t, 0.0, v.PrerequisiteMasteryGap)
	assert.InDelta(t, 0.7, v.ObjectiveComplexity, 1e-9)
	assert.InDelta(t, 0.3, v.ComplexityMismatch, 1e-9)
	assert.Greater(t, v.Meta.DataQuality, 0.0)
}

func TestExtract_PrerequisiteGaps(t *testing.T) {
	repo := &stubRepo{
		meta: &signal.ObjectiveMeta{
			ObjectiveID:  testObjectiveID,
			Complexity:   0.5,
			MasteryLevel: 0.5,
			Prerequisites: []signal.Prerequisite{
				{Mastery: 0.2},
				{Mastery: 0.3},
				{Mastery: 0.9},
			},
		},
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)

	// Two prerequisites below the 0.6 mastery floor, scaled by 1/5.
	assert.InDelta(t, 0.4, v.PrerequisiteGapCount, 1e-9)
	// 1 - mean(0.2, 0.3, 0.9).
	assert.InDelta(t, 1-(0.2+0.3+0.9)/3, v.PrerequisiteMasteryGap, 1e-9)
}

func TestExtract_PerformanceSignals(t *testing.T) {
	repo := &stubRepo{
		performance: &signal.PerformanceSummary{
			RetentionScore:      0.8,
			LapseRate:           0.1,
			RecentAccuracy:      0.9,
			PriorAccuracy:       0.7,
			StruggledObjectives: 2,
			CompletedObjectives: 10,
		},
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)

	assert.InDelta(t, 0.8, v.RetentionScore, 1e-9)
	assert.InDelta(t, 0.1, v.ReviewLapseRate, 1e-9)
	assert.InDelta(t, 0.6, v.AccuracyTrend, 1e-9) // 0.5 + (0.9-0.7)/2
	assert.InDelta(t, 0.2, v.HistoricalStruggleRate, 1e-9)
	assert.InDelta(t, 4.0/15.0, v.Meta.DataQuality, 1e-9)
}

func TestExtract_NoReviewHistoryYieldsNeutralLapseRate(t *testing.T) {
	repo := &stubRepo{
		performance: &signal.PerformanceSummary{
			RetentionScore: 0.7,
			LapseRate:      -1, // no reviews in window
			RecentAccuracy: -1,
			PriorAccuracy:  -1,
		},
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)

	assert.Equal(t, Neutral, v.ReviewLapseRate)
	assert.InDelta(t, 0.7, v.RetentionScore, 1e-9)
}

func TestExtract_BehavioralAndContextual(t *testing.T) {
	repo := &stubRepo{
		sessions: []signal.SessionRecord{
			{Duration: 30 * time.Minute, CompletedAt: testNow.AddDate(0, 0, -1), ReviewsCompleted: 20},
			{Duration: 30 * time.Minute, CompletedAt: testNow.AddDate(0, 0, -5), ReviewsCompleted: 10},
		},
		profile: &signal.UserProfile{
			UserID:                 testUserID,
			OptimalSessionDuration: 30 * time.Minute,
			ContentPreferences:     []string{"video", "exercise"},
			TopicFamiliesSeen:      []string{"algebra"},
		},
		meta: &signal.ObjectiveMeta{
			ObjectiveID:  testObjectiveID,
			Complexity:   0.5,
			MasteryLevel: 0.6,
			TopicFamily:  "algebra",
			ContentTypes: []string{"video", "text"},
			Prerequisites: []signal.Prerequisite{
				{Mastery: 0.8},
			},
		},
		lastReview: testNow.AddDate(0, 0, -15),
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)
	require.True(t, v.IsValid())

	assert.InDelta(t, 2.0/14.0, v.SessionConsistency, 1e-9)
	assert.InDelta(t, 1.0, v.SessionDurationFit, 1e-9)    // both sessions at optimal length
	assert.InDelta(t, 0.75, v.EngagementScore, 1e-9)      // 15 reviews/session over 20 expected
	assert.InDelta(t, 0.5, v.TimeSinceLastReview, 1e-9)   // 15 of 30 days
	assert.InDelta(t, 0.2, v.NoveltyFactor, 1e-9)         // family already seen
	assert.InDelta(t, 0.5, v.ContentStyleMatch, 1e-9)     // video matches, text does not
	assert.Equal(t, 0.0, v.ComplexityMismatch)            // mastery covers complexity
}

func TestExtract_AllFieldsAlwaysInRange(t *testing.T) {
	// Out-of-range upstream values must be clamped, never returned raw.
	repo := &stubRepo{
		performance: &signal.PerformanceSummary{
			RetentionScore:      3.5,
			LapseRate:           0.2,
			RecentAccuracy:      1.0,
			PriorAccuracy:       0.0,
			StruggledObjectives: 50,
			CompletedObjectives: 10,
		},
		meta: &signal.ObjectiveMeta{
			Complexity:   1.8,
			MasteryLevel: -0.5,
			Prerequisites: []signal.Prerequisite{
				{Mastery: 0}, {Mastery: 0}, {Mastery: 0},
				{Mastery: 0}, {Mastery: 0}, {Mastery: 0},
				{Mastery: 0}, {Mastery: 0},
			},
		},
	}
	p := newTestPipeline(repo)

	v, err := p.Extract(context.Background(), testUserID, testObjectiveID)
	require.NoError(t, err)
	require.True(t, v.IsValid())

	assert.Equal(t, 1.0, v.RetentionScore)
	assert.Equal(t, 1.0, v.PrerequisiteGapCount) // 8 gaps capped at 1
	assert.Equal(t, 1.0, v.HistoricalStruggleRate)
}

func TestExtract_CancelledContext(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	p := newTestPipeline(&stubRepo{})
	v, err := p.Extract(ctx, testUserID, testObjectiveID)
	assert.Error(t, err)
	assert.True(t, v.IsValid())
}

func TestFieldNamesAndValuesStayAligned(t *testing.T) {
	require.Len(t, FieldNames(), FieldCount)
	require.Len(t, Vector{}.Values(), FieldCount)

	// FromValues round-trips canonical order.
	in := []float64{0.1, 0.2, 0.3, 0.4, 0.5, 0.6, 0.7, 0.8, 0.9, 1.0, 0.0, 0.25, 0.75, 0.35, 0.65}
	out := FromValues(in).Values()
	assert.Equal(t, in, out)
}
