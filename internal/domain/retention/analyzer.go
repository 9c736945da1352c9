package retention

import (
	"context"
	"math"
	"sort"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
	"github.com/studyloop/insight-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// FORGETTING CURVE ANALYZER
// The fit linearizes R(t) = R0·e^(−k·t) as ln R = ln R0 − k·t and solves by
// ordinary least squares over retention sampled at the target intervals.
// ══════════════════════════════════════════════════════════════════════════════

// targetIntervalsDays are the review distances (in days) retention is
// sampled at.
var targetIntervalsDays = [...]float64{1, 3, 7, 14, 30, 90}

// intervalTolerance is the relative window around each target: an actual
// review within ±20% of the target distance counts as a sample at it.
const intervalTolerance = 0.2

// sample is one aggregated retention observation; not persisted.
type sample struct {
	days      float64
	retention float64
}

// Analyzer fits forgetting curves from review history.
type Analyzer struct {
	repo signal.Repository
	now  func() time.Time
}

// AnalyzerOption customizes analyzer construction.
type AnalyzerOption func(*Analyzer)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) AnalyzerOption {
	return func(a *Analyzer) {
		a.now = now
	}
}

// NewAnalyzer creates a forgetting-curve analyzer reading from repo.
func NewAnalyzer(repo signal.Repository, opts ...AnalyzerOption) *Analyzer {
	a := &Analyzer{
		repo: repo,
		now:  func() time.Time { return time.Now().UTC() },
	}
	for _, opt := range opts {
		opt(a)
	}
	return a
}

// CalculatePersonalizedCurve fits the learner's forgetting curve from their
// full review history. Thin history returns the Ebbinghaus baseline with
// proportional confidence; only infrastructure failures return an error.
func (a *Analyzer) CalculatePersonalizedCurve(ctx context.Context, userID shared.UserID) (CurveModel, error) {
	reviews, err := a.repo.ReviewHistory(ctx, userID)
	if err != nil {
		return baselineCurve(0, a.now()), shared.WrapError("retention", "CalculatePersonalizedCurve", shared.ErrExternalService, "loading review history", err)
	}
	return a.Fit(reviews), nil
}

// Fit computes the curve from an explicit review history. It is the pure
// core of the analyzer and never fails: ungated or degenerate input yields
// the baseline.
func (a *Analyzer) Fit(reviews []signal.ReviewEvent) CurveModel {
	now := a.now()

	if len(reviews) < MinReviewsForFit {
		return baselineCurve(gateConfidence(len(reviews)), now)
	}
	if historySpanDays(reviews) < MinSpanDays {
		return baselineCurve(gateConfidence(len(reviews)), now)
	}

	samples := sampleRetention(reviews)
	if len(samples) < 2 {
		return baselineCurve(gateConfidence(len(reviews)), now)
	}

	// Linearize: ln R = ln R0 − k·t, then ordinary least squares.
	intercept, slope, ok := linearLeastSquares(samples)
	if !ok {
		return baselineCurve(gateConfidence(len(reviews)), now)
	}

	r0 := math.Exp(intercept)
	k := -slope
	if !isFinite(r0) || !isFinite(k) {
		return baselineCurve(gateConfidence(len(reviews)), now)
	}

	// Clamp to the plausible band; rejects degenerate fits.
	r0 = clamp(r0, MinR0, MaxR0)
	k = clamp(k, MinDecayRate, MaxDecayRate)

	model := CurveModel{
		R0:        r0,
		DecayRate: k,
		HalfLife:  math.Ln2 / k,
		Baseline:  false,
		FittedAt:  now,
	}
	model.Deviation = fitDeviation(model, samples)
	model.Confidence = fitConfidence(len(reviews), model.Deviation)
	return model
}

// sampleRetention aggregates per-card review outcomes into one retention
// fraction per target interval. For every card with at least two reviews,
// each target interval is matched against the card's later reviews: the
// first review whose distance from the card's anchor falls within ±20% of
// the target provides the sample, and the scan for that target stops as
// soon as a review lands beyond the window.
func sampleRetention(reviews []signal.ReviewEvent) []sample {
	byCard := make(map[shared.CardID][]signal.ReviewEvent)
	for _, review := range reviews {
		byCard[review.CardID] = append(byCard[review.CardID], review)
	}

	type bucket struct {
		correct int
		total   int
	}
	buckets := make(map[float64]*bucket, len(targetIntervalsDays))
	for _, target := range targetIntervalsDays {
		buckets[target] = &bucket{}
	}

	for _, cardReviews := range byCard {
		if len(cardReviews) < 2 {
			continue
		}
		sort.Slice(cardReviews, func(i, j int) bool {
			return cardReviews[i].ReviewedAt.Before(cardReviews[j].ReviewedAt)
		})
		anchor := cardReviews[0].ReviewedAt

		for _, target := range targetIntervalsDays {
			lower := target * (1 - intervalTolerance)
			upper := target * (1 + intervalTolerance)
			for _, review := range cardReviews[1:] {
				elapsed := timeutil.DaysBetween(anchor, review.ReviewedAt)
				if elapsed > upper {
					break
				}
				if elapsed >= lower {
					b := buckets[target]
					b.total++
					if review.Rating.IsCorrect() {
						b.correct++
					}
					break
				}
			}
		}
	}

	samples := make([]sample, 0, len(targetIntervalsDays))
	for _, target := range targetIntervalsDays {
		b := buckets[target]
		if b.total == 0 {
			continue
		}
		rate := float64(b.correct) / float64(b.total)
		// A zero rate has no finite logarithm and carries no slope
		// information beyond "fully decayed"; skip it.
		if rate <= 0 {
			continue
		}
		samples = append(samples, sample{days: target, retention: rate})
	}
	return samples
}

// linearLeastSquares fits y = a + b·x over (days, ln retention).
func linearLeastSquares(samples []sample) (intercept, slope float64, ok bool) {
	n := float64(len(samples))
	var sumX, sumY, sumXX, sumXY float64
	for _, s := range samples {
		y := math.Log(s.retention)
		sumX += s.days
		sumY += y
		sumXX += s.days * s.days
		sumXY += s.days * y
	}

	denominator := n*sumXX - sumX*sumX
	if denominator == 0 {
		return 0, 0, false
	}
	slope = (n*sumXY - sumX*sumY) / denominator
	intercept = (sumY - slope*sumX) / n
	if !isFinite(slope) || !isFinite(intercept) {
		return 0, 0, false
	}
	return intercept, slope, true
}

// fitDeviation is the RMSE between the fitted curve and the samples.
func fitDeviation(model CurveModel, samples []sample) float64 {
	var squaredSum float64
	for _, s := range samples {
		d := model.RetentionAt(s.days) - s.retention
		squaredSum += d * d
	}
	deviation := math.Sqrt(squaredSum / float64(len(samples)))
	if !isFinite(deviation) {
		return 1
	}
	return deviation
}

// fitConfidence combines data volume with fit quality.
func fitConfidence(totalReviews int, deviation float64) float64 {
	volume := math.Min(1, float64(totalReviews)/100)
	quality := 1 - math.Min(1, deviation)
	return clamp(volume*quality, 0, 1)
}

// gateConfidence is the confidence reported with the baseline when the
// minimum-data gate fails.
func gateConfidence(totalReviews int) float64 {
	return math.Min(1, float64(totalReviews)/float64(MinReviewsForFit))
}

// historySpanDays is the distance between the oldest and newest review.
func historySpanDays(reviews []signal.ReviewEvent) float64 {
	if len(reviews) == 0 {
		return 0
	}
	times := make([]time.Time, len(reviews))
	for i, review := range reviews {
		times[i] = review.ReviewedAt
	}
	return timeutil.Days(timeutil.Span(times))
}

func clamp(v, lo, hi float64) float64 {
	if v < lo {
		return lo
	}
	if v > hi {
		return hi
	}
	return v
}

func isFinite(v float64) bool {
	return !math.IsNaN(v) && !math.IsInf(v, 0)
}
