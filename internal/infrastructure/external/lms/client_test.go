package lms

import (
	"encoding/json"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

const (
	testLearnerID   = "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b"
	testObjectiveID = "9ca4322d-ebd5-4ffa-a340-56fe811bbab1"
	testPrereqID    = "1b2f0c77-0a44-4d5e-9a1f-3c6f8e2d4b5a"
)

func TestSyncDeltaDTO_Parsing(t *testing.T) {
	jsonData := `{
    "learners": [
        {
            "id": "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b",
            "learning_style": "visual",
            "content_preferences": ["video", "exercise"],
            "optimal_session_minutes": 25,
            "topic_families": ["algebra", "geometry"],
            "is_active": true
        }
    ],
    "objectives": [
        {
            "id": "9ca4322d-ebd5-4ffa-a340-56fe811bbab1",
            "complexity": 0.7,
            "topic_family": "algebra",
            "content_types": ["video", "text"],
            "prerequisites": [
                {"objective_id": "1b2f0c77-0a44-4d5e-9a1f-3c6f8e2d4b5a"}
            ]
        }
    ],
    "reviews": [
        {
            "learner_id": "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b",
            "card_id": "card-42",
            "objective_id": "9ca4322d-ebd5-4ffa-a340-56fe811bbab1",
            "rating": "good",
            "reviewed_at": "2026-03-01T10:00:00Z"
        }
    ],
    "sessions": [
        {
            "learner_id": "7ed99bd0-87b2-4dbb-a97b-596c3f29c49b",
            "objective_id": "9ca4322d-ebd5-4ffa-a340-56fe811bbab1",
            "duration_seconds": 1500,
            "reviews_completed": 18,
            "score": 0.82,
            "again_count": 2,
            "validation_score": 0.75,
            "completed_at": "2026-03-01T10:30:00Z"
        }
    ],
    "outcomes": [],
    "next_sync_token": "tok-123",
    "server_time": "2026-03-01T11:00:00Z"
}`

	var delta SyncDeltaDTO
	err := json.Unmarshal([]byte(jsonData), &delta)
	require.NoError(t, err)

	require.Len(t, delta.Learners, 1)
	assert.Equal(t, testLearnerID, delta.Learners[0].ID)
	assert.Equal(t, "visual", delta.Learners[0].LearningStyle)
	assert.Equal(t, 25, delta.Learners[0].OptimalSessionMinutes)

	require.Len(t, delta.Objectives, 1)
	assert.Equal(t, 0.7, delta.Objectives[0].Complexity)
	require.Len(t, delta.Objectives[0].Prerequisites, 1)

	require.Len(t, delta.Reviews, 1)
	assert.Equal(t, "good", delta.Reviews[0].Rating)

	require.Len(t, delta.Sessions, 1)
	require.NotNil(t, delta.Sessions[0].ValidationScore)
	assert.Equal(t, 0.75, *delta.Sessions[0].ValidationScore)

	assert.Equal(t, "tok-123", delta.NextSyncToken)
}

func TestMapperBatchFromDelta(t *testing.T) {
	validation := 0.75
	delta := &SyncDeltaDTO{
		Learners: []LearnerDTO{
			{ID: testLearnerID, LearningStyle: "visual", OptimalSessionMinutes: 25},
			{ID: "not-a-uuid"}, // dropped
		},
		Objectives: []ObjectiveDTO{
			{
				ID:            testObjectiveID,
				Complexity:    1.4, // clamped to 1.0
				TopicFamily:   "algebra",
				Prerequisites: []PrerequisiteDTO{{ObjectiveID: testPrereqID}},
				Mastery:       map[string]float64{testLearnerID: 0.6},
			},
		},
		Reviews: []ReviewDTO{
			{LearnerID: testLearnerID, CardID: "card-1", ObjectiveID: testObjectiveID, Rating: "again", ReviewedAt: time.Now()},
			{LearnerID: testLearnerID, CardID: "card-2", ObjectiveID: testObjectiveID, Rating: "perfect", ReviewedAt: time.Now()}, // unknown rating, dropped
		},
		Sessions: []SessionDTO{
			{
				LearnerID:       testLearnerID,
				ObjectiveID:     testObjectiveID,
				DurationSeconds: 1500,
				Score:           0.82,
				ValidationScore: &validation,
				CompletedAt:     time.Now(),
			},
			{
				LearnerID:       testLearnerID,
				ObjectiveID:     testObjectiveID,
				DurationSeconds: 600,
				Score:           0.5,
				CompletedAt:     time.Now(),
			},
		},
		Outcomes: []OutcomeDTO{
			{LearnerID: testLearnerID, ObjectiveID: testObjectiveID, Struggled: true},
		},
		NextSyncToken: "tok-next",
	}

	batch := NewMapper().BatchFromDelta(delta)

	assert.Equal(t, 2, batch.Dropped)
	assert.Equal(t, "tok-next", batch.NextSyncToken)

	require.Len(t, batch.Profiles, 1)
	assert.Equal(t, shared.UserID(testLearnerID), batch.Profiles[0].UserID)
	assert.Equal(t, 25*time.Minute, batch.Profiles[0].OptimalSessionDuration)

	require.Len(t, batch.Objectives, 1)
	assert.Equal(t, 1.0, batch.Objectives[0].Complexity, "complexity clamped to [0, 1]")
	require.Len(t, batch.Masteries, 1)
	assert.Equal(t, 0.6, batch.Masteries[0].Mastery)

	reviews := batch.Reviews[shared.UserID(testLearnerID)]
	require.Len(t, reviews, 1)
	assert.Equal(t, shared.RatingAgain, reviews[0].Rating)

	require.Len(t, batch.Sessions, 2)
	assert.Equal(t, 0.75, batch.Sessions[0].Session.ValidationScore)
	assert.Equal(t, -1.0, batch.Sessions[1].Session.ValidationScore, "missing validation maps to -1")

	require.Len(t, batch.Outcomes, 1)
	assert.True(t, batch.Outcomes[0].Struggled)
}

func TestTokenExpiry(t *testing.T) {
	never := TokenDTO{AccessToken: "t"}
	assert.False(t, never.IsExpired(), "tokens without expiry never expire client-side")

	expired := TokenDTO{AccessToken: "t", ExpiresAt: time.Now().Add(-time.Minute)}
	assert.True(t, expired.IsExpired())

	live := TokenDTO{AccessToken: "t", ExpiresAt: time.Now().Add(time.Hour)}
	assert.False(t, live.IsExpired())
}
