package retention

import (
	"context"
	"math"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// DECAY QUERIES
// ══════════════════════════════════════════════════════════════════════════════

// reviewTargetRetention is the retention level the recommended next review
// aims to catch the learner at.
const reviewTargetRetention = 0.7

// forgettingThreshold is the retention level below which material counts as
// forgotten.
const forgettingThreshold = 0.5

// DecayPrediction answers "how much does this learner still remember, and
// when should they review next" for one objective.
type DecayPrediction struct {
	// Curve is the model the prediction was computed against.
	Curve CurveModel

	// LastReviewedAt is the anchor review time; zero when the learner has
	// never reviewed the objective.
	LastReviewedAt time.Time

	// CurrentRetention is the modeled retention right now, in [0, 1].
	CurrentRetention float64

	// DaysUntilForgotten is how many days remain until retention decays
	// below 0.5 (0 when already below).
	DaysUntilForgotten float64

	// RecommendedReviewAt is when the next review should happen to catch
	// retention at the 0.7 target. Never in the past: an overdue objective
	// recommends reviewing now.
	RecommendedReviewAt time.Time
}

// PredictDecay computes the retention decay prediction for one objective.
// A learner with no review history for the objective is assumed freshly
// unexposed: retention starts at R0 from now. Non-finite intermediates fall
// back to the baseline decay constant - the query never returns NaN.
func (a *Analyzer) PredictDecay(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (DecayPrediction, error) {
	curve, err := a.CalculatePersonalizedCurve(ctx, userID)
	if err != nil {
		return DecayPrediction{}, err
	}

	lastReview, err := a.repo.LastReviewAt(ctx, userID, objectiveID)
	if err != nil {
		return DecayPrediction{}, shared.WrapError("retention", "PredictDecay", shared.ErrExternalService, "loading last review", err)
	}

	now := a.now()
	anchor := lastReview
	if anchor.IsZero() {
		anchor = now
	}
	elapsedDays := timeutil.DaysBetween(anchor, now)
	if elapsedDays < 0 {
		elapsedDays = 0
	}

	currentRetention := curve.RetentionAt(elapsedDays)
	if !isFinite(currentRetention) {
		// Recompute against the baseline constant.
		currentRetention = clamp(curve.R0*math.Exp(-BaselineDecayRate*elapsedDays), 0, 1)
	}

	forgottenAt := curve.DaysToRetention(forgettingThreshold)
	daysUntilForgotten := forgottenAt - elapsedDays
	if !isFinite(daysUntilForgotten) || daysUntilForgotten < 0 {
		daysUntilForgotten = 0
	}

	targetAt := curve.DaysToRetention(reviewTargetRetention)
	if !isFinite(targetAt) {
		targetAt = math.Log(curve.R0/reviewTargetRetention) / BaselineDecayRate
		if !isFinite(targetAt) || targetAt < 0 {
			targetAt = 0
		}
	}
	recommended := anchor.Add(time.Duration(targetAt * 24 * float64(time.Hour)))
	if recommended.Before(now) {
		recommended = now
	}

	return DecayPrediction{
		Curve:               curve,
		LastReviewedAt:      lastReview,
		CurrentRetention:    currentRetention,
		DaysUntilForgotten:  daysUntilForgotten,
		RecommendedReviewAt: recommended,
	}, nil
}
