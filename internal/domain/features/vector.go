// Package features builds the fixed-schema normalized feature vector the
// struggle predictor consumes. Extraction never fails on missing telemetry:
// absent signals substitute the neutral 0.5 and lower the vector's data
// quality instead.
package features

import (
	"math"
	"time"
)

// FieldCount is the fixed number of features in a Vector.
const FieldCount = 15

// Neutral is the value substituted for any feature whose signal is missing.
const Neutral = 0.5

// Vector is the fixed-schema feature vector for one (user, objective) pair.
// Every field is normalized to [0, 1]. AccuracyTrend is the one centered
// field: 0.5 means flat, below means declining, above improving.
type Vector struct {
	// ─────────────────────────────────────────────────────────────────────────
	// Performance
	// ─────────────────────────────────────────────────────────────────────────

	// RetentionScore is the fraction of due-card reviews rated correct.
	RetentionScore float64

	// ReviewLapseRate is the fraction of reviews rated "again". An objective
	// with no review history yields the neutral 0.5, not zero: zero would
	// claim the learner never lapses.
	ReviewLapseRate float64

	// AccuracyTrend compares the last week's accuracy to the week before,
	// centered at 0.5.
	AccuracyTrend float64

	// HistoricalStruggleRate is the fraction of past objectives the learner
	// struggled with.
	HistoricalStruggleRate float64

	// ─────────────────────────────────────────────────────────────────────────
	// Prerequisite
	// ─────────────────────────────────────────────────────────────────────────

	// PrerequisiteGapCount is the number of unmastered prerequisites, scaled
	// by 1/5 and capped at 1. An objective that declares zero prerequisites
	// yields 0 here - a true absence of gap, not an unknown.
	PrerequisiteGapCount float64

	// PrerequisiteMasteryGap is one minus the mean mastery across the
	// objective's prerequisites.
	PrerequisiteMasteryGap float64

	// ─────────────────────────────────────────────────────────────────────────
	// Complexity
	// ─────────────────────────────────────────────────────────────────────────

	// ObjectiveComplexity is the objective's declared difficulty.
	ObjectiveComplexity float64

	// ComplexityMismatch is how far the objective's complexity exceeds the
	// learner's mastery level (0 when mastery covers it).
	ComplexityMismatch float64

	// NoveltyFactor is high when the objective's topic family is new to the
	// learner.
	NoveltyFactor float64

	// ─────────────────────────────────────────────────────────────────────────
	// Behavioral
	// ─────────────────────────────────────────────────────────────────────────

	// SessionConsistency is the fraction of recent days with at least one
	// study session.
	SessionConsistency float64

	// SessionDurationFit is how closely actual session lengths track the
	// learner's optimal duration (1 = perfect fit).
	SessionDurationFit float64

	// EngagementScore is reviews completed per session against the expected
	// load.
	EngagementScore float64

	// ─────────────────────────────────────────────────────────────────────────
	// Contextual
	// ─────────────────────────────────────────────────────────────────────────

	// FatigueIndex compares the last three days' study load to the learner's
	// baseline; 0.5 means at baseline.
	FatigueIndex float64

	// TimeSinceLastReview is days since the last related review, scaled by
	// 1/30 and capped at 1.
	TimeSinceLastReview float64

	// ContentStyleMatch is the overlap between the objective's content types
	// and the learner's preferences.
	ContentStyleMatch float64

	// Meta carries extraction metadata; it is not a model input.
	Meta Meta
}

// Meta describes how the vector was produced.
type Meta struct {
	// ExtractedAt is when extraction ran.
	ExtractedAt time.Time

	// DataQuality is the fraction of fields backed by real signal rather
	// than the neutral default, in [0, 1].
	DataQuality float64
}

// fieldNames lists the feature fields in canonical order. This order is the
// contract between extraction and trained model weights.
var fieldNames = [FieldCount]string{
	"retention_score",
	"review_lapse_rate",
	"accuracy_trend",
	"historical_struggle_rate",
	"prerequisite_gap_count",
	"prerequisite_mastery_gap",
	"objective_complexity",
	"complexity_mismatch",
	"novelty_factor",
	"session_consistency",
	"session_duration_fit",
	"engagement_score",
	"fatigue_index",
	"time_since_last_review",
	"content_style_match",
}

// FieldNames returns the canonical ordered feature names.
func FieldNames() []string {
	names := make([]string, FieldCount)
	copy(names, fieldNames[:])
	return names
}

// Values returns the feature values in canonical field order.
func (v Vector) Values() []float64 {
	return []float64{
		v.RetentionScore,
		v.ReviewLapseRate,
		v.AccuracyTrend,
		v.HistoricalStruggleRate,
		v.PrerequisiteGapCount,
		v.PrerequisiteMasteryGap,
		v.ObjectiveComplexity,
		v.ComplexityMismatch,
		v.NoveltyFactor,
		v.SessionConsistency,
		v.SessionDurationFit,
		v.EngagementScore,
		v.FatigueIndex,
		v.TimeSinceLastReview,
		v.ContentStyleMatch,
	}
}

// FromValues builds a Vector from values in canonical field order. Inputs
// are clamped to [0, 1]; short slices leave remaining fields neutral.
func FromValues(values []float64) Vector {
	padded := make([]float64, FieldCount)
	for i := range padded {
		if i < len(values) {
			padded[i] = clamp01(values[i])
		} else {
			padded[i] = Neutral
		}
	}
	return Vector{
		RetentionScore:         padded[0],
		ReviewLapseRate:        padded[1],
		AccuracyTrend:          padded[2],
		HistoricalStruggleRate: padded[3],
		PrerequisiteGapCount:   padded[4],
		PrerequisiteMasteryGap: padded[5],
		ObjectiveComplexity:    padded[6],
		ComplexityMismatch:     padded[7],
		NoveltyFactor:          padded[8],
		SessionConsistency:     padded[9],
		SessionDurationFit:     padded[10],
		EngagementScore:        padded[11],
		FatigueIndex:           padded[12],
		TimeSinceLastReview:    padded[13],
		ContentStyleMatch:      padded[14],
	}
}

// NeutralVector returns a vector with every field at the neutral default and
// zero data quality.
func NeutralVector(extractedAt time.Time) Vector {
	v := FromValues(nil)
	v.Meta = Meta{ExtractedAt: extractedAt, DataQuality: 0}
	return v
}

// IsValid checks that every field and the data quality lie in [0, 1].
func (v Vector) IsValid() bool {
	for _, value := range v.Values() {
		if math.IsNaN(value) || value < 0 || value > 1 {
			return false
		}
	}
	q := v.Meta.DataQuality
	return !math.IsNaN(q) && q >= 0 && q <= 1
}

// clamp01 clamps v into [0, 1], mapping NaN to the neutral default.
func clamp01(v float64) float64 {
	if math.IsNaN(v) {
		return Neutral
	}
	if v < 0 {
		return 0
	}
	if v > 1 {
		return 1
	}
	return v
}
