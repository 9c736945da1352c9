package prediction

import (
	"fmt"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RULE-BASED PREDICTOR
// Probability accumulates from weighted risk clauses; when the clauses
// alone stay below the fallback threshold, a fully linear 15-term baseline
// takes over. Each triggered clause also appends a human-readable risk
// factor so the caller can surface the "why".
// ══════════════════════════════════════════════════════════════════════════════

// FallbackThreshold is the accumulated-risk level below which the rule
// clauses are considered too weak and the linear baseline is used instead.
// The value is a tunable carried over from production behavior, not a
// derived constant.
const FallbackThreshold = 0.4

// LinearBase is the intercept of the linear baseline.
const LinearBase = 0.3

// linearWeights holds the signed per-feature weights of the baseline, in
// canonical feature order. Each weight multiplies the feature's deviation
// from the 0.5 neutral point, so an all-neutral vector scores exactly
// LinearBase.
var linearWeights = [features.FieldCount]float64{
	-0.50, // retention_score: low retention raises risk
	+0.15, // review_lapse_rate
	-0.10, // accuracy_trend: improving trend lowers risk
	+0.25, // historical_struggle_rate
	+0.60, // prerequisite_gap_count
	+0.30, // prerequisite_mastery_gap
	+0.15, // objective_complexity
	+0.40, // complexity_mismatch
	+0.10, // novelty_factor
	-0.20, // session_consistency
	-0.10, // session_duration_fit
	-0.20, // engagement_score
	+0.15, // fatigue_index
	+0.10, // time_since_last_review
	-0.10, // content_style_match
}

// RuleBasedPredictor is the zero-training strategy. It needs no state and
// is safe for concurrent use.
type RuleBasedPredictor struct{}

// NewRuleBasedPredictor creates a rule-based predictor.
func NewRuleBasedPredictor() *RuleBasedPredictor {
	return &RuleBasedPredictor{}
}

// Name implements Predictor.
func (p *RuleBasedPredictor) Name() string {
	return "rule_based"
}

// Predict implements Predictor.
func (p *RuleBasedPredictor) Predict(v features.Vector) (Result, error) {
	if !v.IsValid() {
		return neutralResult(0), shared.NewDomainError("prediction", "Predict", shared.ErrInvalidInput, "feature vector out of range")
	}

	var (
		accumulated   float64
		contributions []FeatureContribution
		riskFactors   []string
	)

	addClause := func(name string, value, contribution float64, factor string) {
		accumulated += contribution
		contributions = append(contributions, FeatureContribution{Name: name, Value: value, Contribution: contribution})
		riskFactors = append(riskFactors, factor)
	}

	// Retention deficit contributes up to 0.2, proportional to how far
	// below 0.5 the retention score sits.
	if v.RetentionScore < 0.5 {
		deficit := (0.5 - v.RetentionScore) / 0.5
		addClause("retention_score", v.RetentionScore, 0.2*deficit,
			fmt.Sprintf("retention score %.2f is below the 0.50 floor", v.RetentionScore))
	}

	// Prerequisite gaps contribute up to 0.35.
	if v.PrerequisiteGapCount > 0.2 {
		addClause("prerequisite_gap_count", v.PrerequisiteGapCount, 0.35*v.PrerequisiteGapCount,
			"unmastered prerequisites detected for this objective")
	}

	// Complexity beyond the learner's mastery contributes up to 0.2.
	if v.ComplexityMismatch > 0.6 {
		addClause("complexity_mismatch", v.ComplexityMismatch, 0.2*(v.ComplexityMismatch-0.6)/0.4,
			"objective complexity substantially exceeds current mastery")
	}

	// A pattern of past struggle contributes up to 0.12.
	if v.HistoricalStruggleRate > 0.5 {
		addClause("historical_struggle_rate", v.HistoricalStruggleRate, 0.12*(v.HistoricalStruggleRate-0.5)/0.5,
			"learner has struggled with a majority of past objectives")
	}

	// Frequent lapses contribute up to 0.1.
	if v.ReviewLapseRate > 0.6 {
		addClause("review_lapse_rate", v.ReviewLapseRate, 0.1*(v.ReviewLapseRate-0.6)/0.4,
			"high rate of failed reviews")
	}

	probability := accumulated
	if accumulated < FallbackThreshold {
		probability, contributions = p.linearBaseline(v, contributions)
	}

	protective := protectiveFactors(v)

	return Result{
		Probability: shared.ClampProbability(probability),
		Confidence:  shared.ClampConfidence(0.35 + 0.5*v.Meta.DataQuality),
		Reasoning: Reasoning{
			TopFeatures:       topContributions(contributions, 5),
			RiskFactors:       riskFactors,
			ProtectiveFactors: protective,
		},
	}, nil
}

// linearBaseline computes the 15-term weighted fallback. Clause
// contributions already collected are replaced by the linear terms so
// TopFeatures reflects what actually set the probability.
func (p *RuleBasedPredictor) linearBaseline(v features.Vector, _ []FeatureContribution) (float64, []FeatureContribution) {
	names := features.FieldNames()
	values := v.Values()

	probability := LinearBase
	contributions := make([]FeatureContribution, 0, features.FieldCount)
	for i, value := range values {
		term := linearWeights[i] * (value - features.Neutral)
		probability += term
		contributions = append(contributions, FeatureContribution{
			Name:         names[i],
			Value:        value,
			Contribution: term,
		})
	}
	return probability, contributions
}

// protectiveFactors names the strongly favorable conditions in the vector.
func protectiveFactors(v features.Vector) []string {
	var protective []string
	if v.RetentionScore >= 0.8 {
		protective = append(protective, "strong retention of reviewed material")
	}
	if v.PrerequisiteGapCount == 0 && v.PrerequisiteMasteryGap <= 0.2 {
		protective = append(protective, "all prerequisites mastered")
	}
	if v.SessionConsistency >= 0.7 {
		protective = append(protective, "consistent daily study habit")
	}
	if v.AccuracyTrend >= 0.7 {
		protective = append(protective, "accuracy improving week over week")
	}
	return protective
}
