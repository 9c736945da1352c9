package prediction

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

var (
	recordUserID      = shared.UserID("11111111-1111-1111-1111-111111111111")
	recordObjectiveID = shared.ObjectiveID("22222222-2222-2222-2222-222222222222")
	recordNow         = time.Date(2025, 11, 10, 9, 0, 0, 0, time.UTC)
)

func newTestRecord(t *testing.T, probability float64) *Record {
	t.Helper()
	result := Result{
		Probability: shared.ClampProbability(probability),
		Confidence:  shared.ClampConfidence(0.8),
	}
	record := NewRecord(recordUserID, recordObjectiveID, "rule_based", make([]float64, 15), 0.9, result, recordNow)
	require.NotEmpty(t, record.ID)
	return record
}

func TestRecord_StateMachine(t *testing.T) {
	tests := []struct {
		name        string
		probability float64
		actual      bool
		want        Outcome
	}{
		{"predicted and occurred", 0.8, true, OutcomeConfirmed},
		{"predicted but did not occur", 0.8, false, OutcomeFalsePositive},
		{"not predicted but occurred", 0.2, true, OutcomeMissed},
		{"not predicted and did not occur", 0.2, false, OutcomeConfirmed},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			record := newTestRecord(t, tt.probability)
			assert.Equal(t, OutcomePending, record.Outcome)
			assert.Equal(t, tt.probability > 0.5, record.PredictedStruggle)

			resolvedAt := recordNow.Add(2 * time.Hour)
			require.NoError(t, record.Resolve(tt.actual, resolvedAt))
			assert.Equal(t, tt.want, record.Outcome)
			require.NotNil(t, record.ResolvedAt)
			assert.Equal(t, resolvedAt, *record.ResolvedAt)
		})
	}
}

func TestRecord_DoubleResolveRejected(t *testing.T) {
	record := newTestRecord(t, 0.8)
	require.NoError(t, record.Resolve(true, recordNow))

	err := record.Resolve(false, recordNow)
	require.Error(t, err)
	assert.ErrorIs(t, err, shared.ErrStateTransition)
	assert.Equal(t, OutcomeConfirmed, record.Outcome)
}

func TestRecord_Label(t *testing.T) {
	struggled := newTestRecord(t, 0.9)
	require.NoError(t, struggled.Resolve(true, recordNow))
	assert.Equal(t, 1, struggled.Label())

	missed := newTestRecord(t, 0.1)
	require.NoError(t, missed.Resolve(true, recordNow))
	assert.Equal(t, 1, missed.Label())

	clean := newTestRecord(t, 0.1)
	require.NoError(t, clean.Resolve(false, recordNow))
	assert.Equal(t, 0, clean.Label())

	falseAlarm := newTestRecord(t, 0.9)
	require.NoError(t, falseAlarm.Resolve(false, recordNow))
	assert.Equal(t, 0, falseAlarm.Label())
}

func TestRecord_TrainingExample(t *testing.T) {
	values := []float64{0.8, 0.2, 0.6, 0.4, 0.5, 0.7, 0.3, 0.9, 0.1, 0.5, 0.5, 0.5, 0.5, 0.5, 0.5}
	result := Result{
		Probability: shared.ClampProbability(0.9),
		Confidence:  shared.ClampConfidence(0.8),
	}
	record := NewRecord(recordUserID, recordObjectiveID, "logistic", values, 0.85, result, recordNow)
	require.NoError(t, record.Resolve(true, recordNow.Add(time.Hour)))

	example := record.TrainingExample()
	require.True(t, example.Features.IsValid())
	assert.Equal(t, values, example.Features.Values())
	assert.Equal(t, 1, example.Label)
	assert.Equal(t, 0.85, example.Weight)
	assert.Equal(t, recordNow, example.Timestamp)
}

func TestActualStruggle_Heuristic(t *testing.T) {
	tests := []struct {
		name    string
		session signal.SessionRecord
		want    bool
	}{
		{
			"clean session",
			signal.SessionRecord{Score: 0.85, AgainCount: 0, ValidationScore: 0.9},
			false,
		},
		{
			"score below floor",
			signal.SessionRecord{Score: 0.64, AgainCount: 0, ValidationScore: 0.9},
			true,
		},
		{
			"score exactly at floor passes",
			signal.SessionRecord{Score: 0.65, AgainCount: 0, ValidationScore: 0.9},
			false,
		},
		{
			"three again ratings",
			signal.SessionRecord{Score: 0.9, AgainCount: 3, ValidationScore: 0.9},
			true,
		},
		{
			"two again ratings pass",
			signal.SessionRecord{Score: 0.9, AgainCount: 2, ValidationScore: 0.9},
			false,
		},
		{
			"validation below floor",
			signal.SessionRecord{Score: 0.9, AgainCount: 0, ValidationScore: 0.55},
			true,
		},
		{
			"no validation taken is ignored",
			signal.SessionRecord{Score: 0.9, AgainCount: 0, ValidationScore: -1},
			false,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.want, ActualStruggle(tt.session))
		})
	}
}
