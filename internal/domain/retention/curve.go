// Package retention fits a personalized exponential forgetting curve
// R(t) = R0·e^(−k·t) per learner from spaced-repetition history and answers
// decay queries against it. Fitting degrades to the Ebbinghaus baseline
// instead of failing when history is too thin.
package retention

import (
	"math"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// CURVE MODEL
// ══════════════════════════════════════════════════════════════════════════════

// Fit parameter bounds. Fits outside these are degenerate and get clamped.
const (
	// MinR0 and MaxR0 bound the initial retention.
	MinR0 = 0.5
	MaxR0 = 1.0

	// MinDecayRate and MaxDecayRate bound the decay constant k (per day).
	MinDecayRate = 0.05
	MaxDecayRate = 0.5
)

// Ebbinghaus baseline used when per-learner history cannot support a fit.
const (
	// BaselineR0 is the baseline initial retention.
	BaselineR0 = 1.0

	// BaselineDecayRate is the classical Ebbinghaus decay constant.
	BaselineDecayRate = 0.14
)

// Minimum-data gate for a personalized fit.
const (
	// MinReviewsForFit is the minimum total review count.
	MinReviewsForFit = 50

	// MinSpanDays is the minimum history span in days.
	MinSpanDays = 30
)

// CurveModel is a fitted (or baseline) forgetting curve.
type CurveModel struct {
	// R0 is the modeled retention immediately after review, in [0.5, 1.0].
	R0 float64

	// DecayRate is k in R(t) = R0·e^(−k·t), per day, in [0.05, 0.5].
	DecayRate float64

	// HalfLife is ln2/k: days until modeled retention halves.
	HalfLife float64

	// Confidence is how much observed data backs the fit, in [0, 1].
	Confidence float64

	// Deviation is the root-mean-square error between the fitted curve and
	// the observed retention samples (0 for the baseline).
	Deviation float64

	// Baseline is true when the Ebbinghaus fallback was returned instead of
	// a personalized fit.
	Baseline bool

	// FittedAt is when the fit ran.
	FittedAt time.Time
}

// RetentionAt evaluates the curve at t days after a review. The result is
// clamped to [0, 1].
func (m CurveModel) RetentionAt(days float64) float64 {
	if days < 0 {
		days = 0
	}
	r := m.R0 * math.Exp(-m.DecayRate*days)
	if math.IsNaN(r) || r < 0 {
		return 0
	}
	if r > 1 {
		return 1
	}
	return r
}

// DaysToRetention inverts the curve: days after review until retention
// decays to the target. Targets at or above R0 return 0.
func (m CurveModel) DaysToRetention(target float64) float64 {
	if target <= 0 || target >= m.R0 {
		return 0
	}
	days := math.Log(m.R0/target) / m.DecayRate
	if math.IsNaN(days) || math.IsInf(days, 0) || days < 0 {
		return 0
	}
	return days
}

// baselineCurve returns the Ebbinghaus fallback with the given confidence.
func baselineCurve(confidence float64, fittedAt time.Time) CurveModel {
	return CurveModel{
		R0:         BaselineR0,
		DecayRate:  BaselineDecayRate,
		HalfLife:   math.Ln2 / BaselineDecayRate,
		Confidence: confidence,
		Deviation:  0,
		Baseline:   true,
		FittedAt:   fittedAt,
	}
}
