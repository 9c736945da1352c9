package prediction

import (
	"time"

	"github.com/google/uuid"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION RECORDS
// Every issued prediction is stored as a record that moves through a small
// state machine once the real outcome is observed:
//
//	PENDING ──> CONFIRMED       (prediction matched the outcome)
//	        ──> FALSE_POSITIVE  (struggle predicted, none occurred)
//	        ──> MISSED          (struggle occurred, none predicted)
//
// Resolved records become the labeled training examples for the logistic
// strategy.
// ══════════════════════════════════════════════════════════════════════════════

// Outcome is the resolution state of a prediction record.
type Outcome string

const (
	// OutcomePending - no session outcome observed yet.
	OutcomePending Outcome = "pending"

	// OutcomeConfirmed - the prediction matched what happened.
	OutcomeConfirmed Outcome = "confirmed"

	// OutcomeFalsePositive - struggle was predicted but did not occur.
	OutcomeFalsePositive Outcome = "false_positive"

	// OutcomeMissed - struggle occurred but was not predicted.
	OutcomeMissed Outcome = "missed"
)

// IsTerminal reports whether the outcome is a final state.
func (o Outcome) IsTerminal() bool {
	return o == OutcomeConfirmed || o == OutcomeFalsePositive || o == OutcomeMissed
}

// Record is one stored prediction awaiting (or holding) its outcome.
type Record struct {
	// ID is the record's UUID.
	ID string

	// UserID is the learner the prediction concerns.
	UserID shared.UserID

	// ObjectiveID is the objective the prediction concerns.
	ObjectiveID shared.ObjectiveID

	// Strategy names the predictor that produced the result.
	Strategy string

	// Features is the vector the prediction was made from, kept so the
	// record can later serve as a training example.
	Features featuresSnapshot

	// Probability is the predicted struggle probability.
	Probability shared.Probability

	// Confidence backs the probability.
	Confidence shared.Confidence

	// PredictedStruggle is true when Probability exceeded 0.5.
	PredictedStruggle bool

	// Outcome is the resolution state.
	Outcome Outcome

	// CreatedAt is when the prediction was issued.
	CreatedAt time.Time

	// ResolvedAt is when the outcome was observed (nil while pending).
	ResolvedAt *time.Time
}

// featuresSnapshot is the persisted form of the vector: raw values in
// canonical order plus the data quality at extraction time.
type featuresSnapshot struct {
	Values      []float64
	DataQuality float64
}

// NewRecord creates a pending record from a prediction result.
func NewRecord(userID shared.UserID, objectiveID shared.ObjectiveID, strategy string, vectorValues []float64, dataQuality float64, result Result, now time.Time) *Record {
	return &Record{
		ID:          uuid.NewString(),
		UserID:      userID,
		ObjectiveID: objectiveID,
		Strategy:    strategy,
		Features: featuresSnapshot{
			Values:      append([]float64(nil), vectorValues...),
			DataQuality: dataQuality,
		},
		Probability:       result.Probability,
		Confidence:        result.Confidence,
		PredictedStruggle: result.Probability.Float64() > decisionThreshold,
		Outcome:           OutcomePending,
		CreatedAt:         now,
	}
}

// FeatureValues returns the snapshotted vector values in canonical order.
func (r *Record) FeatureValues() []float64 {
	return append([]float64(nil), r.Features.Values...)
}

// DataQuality returns the data quality at extraction time.
func (r *Record) DataQuality() float64 {
	return r.Features.DataQuality
}

// RestoreSnapshot sets the feature snapshot when rehydrating a record from
// storage.
func (r *Record) RestoreSnapshot(values []float64, dataQuality float64) {
	r.Features = featuresSnapshot{
		Values:      append([]float64(nil), values...),
		DataQuality: dataQuality,
	}
}

// Resolve settles the record against the observed outcome. Resolving an
// already-terminal record is a state error.
func (r *Record) Resolve(actualStruggle bool, observedAt time.Time) error {
	if r.Outcome.IsTerminal() {
		return shared.ErrOutcomeAlreadySet
	}

	switch {
	case r.PredictedStruggle && actualStruggle:
		r.Outcome = OutcomeConfirmed
	case r.PredictedStruggle && !actualStruggle:
		r.Outcome = OutcomeFalsePositive
	case !r.PredictedStruggle && actualStruggle:
		r.Outcome = OutcomeMissed
	default:
		// Correctly predicted no struggle.
		r.Outcome = OutcomeConfirmed
	}

	at := observedAt
	r.ResolvedAt = &at
	return nil
}

// Label returns the training label of a resolved record: 1 when the learner
// actually struggled.
func (r *Record) Label() int {
	switch r.Outcome {
	case OutcomeConfirmed:
		if r.PredictedStruggle {
			return 1
		}
		return 0
	case OutcomeMissed:
		return 1
	default:
		return 0
	}
}

// TrainingExample converts the record into a labeled training example. The
// snapshotted raw values are rebuilt into a vector and the data quality at
// extraction time becomes the example weight.
func (r *Record) TrainingExample() TrainingExample {
	return TrainingExample{
		Features:  features.FromValues(r.FeatureValues()),
		Label:     r.Label(),
		Weight:    r.DataQuality(),
		Timestamp: r.CreatedAt,
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// OUTCOME HEURISTIC
// ══════════════════════════════════════════════════════════════════════════════

// Session-completion heuristic thresholds.
const (
	// struggleScoreFloor - a session score below this counts as struggle.
	struggleScoreFloor = 0.65

	// struggleAgainCount - this many "again" ratings count as struggle.
	struggleAgainCount = 3

	// struggleValidationFloor - a validation score below this counts as struggle.
	struggleValidationFloor = 0.60
)

// ActualStruggle derives the observed struggle label from a completed
// session: score under 65%, three or more "again" ratings, or a validation
// score under 60%. A negative validation score means no validation was
// taken and is ignored.
func ActualStruggle(session signal.SessionRecord) bool {
	if session.Score < struggleScoreFloor {
		return true
	}
	if session.AgainCount >= struggleAgainCount {
		return true
	}
	if session.ValidationScore >= 0 && session.ValidationScore < struggleValidationFloor {
		return true
	}
	return false
}
