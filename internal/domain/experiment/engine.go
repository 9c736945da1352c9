package experiment

import (
	"context"
	"errors"
	"fmt"
	"math"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"golang.org/x/crypto/blake2b"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/pkg/stats"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT STATISTICS ENGINE
// Assignment is serialized per experiment, never globally: two concurrent
// enrollments into the same experiment must not both observe equal arm
// counts and both pick A, but enrollments into different experiments are
// independent.
// ══════════════════════════════════════════════════════════════════════════════

// SignificanceLevel is the two-tailed p-value threshold for a verdict.
const SignificanceLevel = 0.05

// SaturatedTStatistic stands in for a diverging t statistic (both arms at
// zero variance with differing means). The reported p-value is 0 and the
// result is maximally significant; the saturation only keeps the stored
// number finite.
const SaturatedTStatistic = 1e6

// Engine runs assignment, metric recording, and analysis for experiments.
type Engine struct {
	repo Repository
	now  func() time.Time

	// locksMu guards the lazily built per-experiment lock table.
	locksMu sync.Mutex
	locks   map[shared.ExperimentID]*sync.Mutex
}

// EngineOption customizes engine construction.
type EngineOption func(*Engine)

// WithClock injects the time source, for deterministic tests.
func WithClock(now func() time.Time) EngineOption {
	return func(e *Engine) {
		e.now = now
	}
}

// NewEngine creates an experiment engine over the repository.
func NewEngine(repo Repository, opts ...EngineOption) *Engine {
	e := &Engine{
		repo:  repo,
		now:   func() time.Time { return time.Now().UTC() },
		locks: make(map[shared.ExperimentID]*sync.Mutex),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// experimentLock returns the mutex serializing assignment for one experiment.
func (e *Engine) experimentLock(id shared.ExperimentID) *sync.Mutex {
	e.locksMu.Lock()
	defer e.locksMu.Unlock()
	lock, ok := e.locks[id]
	if !ok {
		lock = &sync.Mutex{}
		e.locks[id] = lock
	}
	return lock
}

// ─────────────────────────────────────────────────────────────────────────────
// Creation
// ─────────────────────────────────────────────────────────────────────────────

// CreateExperiment validates the config and opens a running experiment.
func (e *Engine) CreateExperiment(ctx context.Context, config Config) (*Experiment, error) {
	if err := config.Validate(); err != nil {
		return nil, err
	}

	experiment := &Experiment{
		ID:                 shared.ExperimentID(uuid.NewString()),
		Name:               config.Name,
		Description:        config.Description,
		PrimaryMetric:      config.PrimaryMetric,
		TargetUserCount:    config.TargetUserCount,
		MinUsersPerVariant: config.MinUsersPerVariant,
		MinDurationDays:    config.MinDurationDays,
		Status:             StatusRunning,
		StartedAt:          e.now(),
	}
	if err := e.repo.CreateExperiment(ctx, experiment); err != nil {
		return nil, err
	}
	return experiment, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assignment
// ─────────────────────────────────────────────────────────────────────────────

// AssignVariant enrolls the user into the experiment and returns their arm.
//
// The call is idempotent: an already-enrolled user gets their existing arm
// back without touching the counters. A fresh user joins whichever arm
// currently has fewer members; ties break on a deterministic hash of
// userID+experimentID so replays land identically. Enrollment beyond the
// experiment's target user count is a capacity error.
func (e *Engine) AssignVariant(ctx context.Context, userID shared.UserID, experimentID shared.ExperimentID) (Variant, error) {
	lock := e.experimentLock(experimentID)
	lock.Lock()
	defer lock.Unlock()

	existing, err := e.repo.GetAssignment(ctx, userID, experimentID)
	if err == nil {
		return existing.Variant, nil
	}
	if !isNotFound(err) {
		return "", err
	}

	experiment, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return "", err
	}
	if experiment.Status != StatusRunning {
		return "", shared.ErrExperimentNotRunning
	}

	counts, err := e.repo.CountByVariant(ctx, experimentID)
	if err != nil {
		return "", err
	}
	total := counts[VariantA] + counts[VariantB]
	if total >= experiment.TargetUserCount {
		return "", shared.ErrExperimentFull
	}

	variant := pickBalancedVariant(counts, userID, experimentID)
	assignment := &Assignment{
		UserID:       userID,
		ExperimentID: experimentID,
		Variant:      variant,
		Metrics:      map[string]float64{},
		AssignedAt:   e.now(),
	}
	if err := e.repo.CreateAssignment(ctx, assignment); err != nil {
		return "", err
	}
	return variant, nil
}

// pickBalancedVariant chooses the smaller arm, breaking ties with a
// deterministic hash so balance converges to |count(A)−count(B)| ≤ 1.
func pickBalancedVariant(counts map[Variant]int, userID shared.UserID, experimentID shared.ExperimentID) Variant {
	switch {
	case counts[VariantA] < counts[VariantB]:
		return VariantA
	case counts[VariantB] < counts[VariantA]:
		return VariantB
	default:
		if assignmentHash(userID, experimentID)%2 == 0 {
			return VariantA
		}
		return VariantB
	}
}

// assignmentHash is a stable digest of the (user, experiment) pair.
func assignmentHash(userID shared.UserID, experimentID shared.ExperimentID) uint64 {
	digest := blake2b.Sum256([]byte(userID.String() + experimentID.String()))
	var h uint64
	for i := 0; i < 8; i++ {
		h = h<<8 | uint64(digest[i])
	}
	return h
}

// ─────────────────────────────────────────────────────────────────────────────
// Metrics
// ─────────────────────────────────────────────────────────────────────────────

// RecordMetrics replaces the user's metric blob for the experiment. The
// blob is overwritten whole; analysis always reads the latest state.
func (e *Engine) RecordMetrics(ctx context.Context, userID shared.UserID, experimentID shared.ExperimentID, metrics map[string]float64) error {
	assignment, err := e.repo.GetAssignment(ctx, userID, experimentID)
	if err != nil {
		return err
	}

	replaced := make(map[string]float64, len(metrics))
	for key, value := range metrics {
		if math.IsNaN(value) || math.IsInf(value, 0) {
			return shared.NewDomainError("experiment", "RecordMetrics", shared.ErrInvalidInput,
				fmt.Sprintf("metric %q is not finite", key))
		}
		replaced[key] = value
	}
	assignment.Metrics = replaced
	assignment.MetricsUpdatedAt = e.now()
	return e.repo.UpdateAssignment(ctx, assignment)
}

// ─────────────────────────────────────────────────────────────────────────────
// Analysis
// ─────────────────────────────────────────────────────────────────────────────

// AnalyzeExperiment computes fresh per-arm statistics and, when the
// conclusion gate passes, the Welch's t-test verdict. With either arm
// under its user floor or the experiment younger than its duration floor
// the analysis reports insufficient_data with a nil statistical block -
// a partial verdict is never surfaced.
func (e *Engine) AnalyzeExperiment(ctx context.Context, experimentID shared.ExperimentID) (*Analysis, error) {
	experiment, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	assignments, err := e.repo.AssignmentsForExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}

	now := e.now()
	analysis := &Analysis{
		ExperimentID: experimentID,
		VariantA:     variantStats(VariantA, assignments, experiment.PrimaryMetric),
		VariantB:     variantStats(VariantB, assignments, experiment.PrimaryMetric),
		ElapsedDays:  experiment.ElapsedDays(now),
		AnalyzedAt:   now,
	}

	analysis.UnmetRequirements = unmetRequirements(experiment, analysis)
	if len(analysis.UnmetRequirements) > 0 {
		analysis.Status = AnalysisInsufficientData
		analysis.Recommendation = "Not enough data to draw a conclusion yet: " + strings.Join(analysis.UnmetRequirements, "; ") + "."
		return analysis, nil
	}

	analysis.Status = AnalysisComplete
	analysis.Statistical = welchTest(analysis.VariantA, analysis.VariantB)
	analysis.Winner = selectWinner(analysis.VariantA, analysis.VariantB, analysis.Statistical)
	analysis.Recommendation = recommendation(experiment, analysis)
	return analysis, nil
}

// ConcludeExperiment finalizes the experiment. Conclusion before the gate
// passes is a validation error naming every unmet requirement.
func (e *Engine) ConcludeExperiment(ctx context.Context, experimentID shared.ExperimentID) (*Analysis, error) {
	analysis, err := e.AnalyzeExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if analysis.Status != AnalysisComplete {
		return nil, shared.NewDomainError("experiment", "Conclude", shared.ErrValidation,
			"cannot conclude: "+strings.Join(analysis.UnmetRequirements, "; "))
	}

	experiment, err := e.repo.GetExperiment(ctx, experimentID)
	if err != nil {
		return nil, err
	}
	if experiment.Status == StatusConcluded {
		return analysis, nil
	}
	concludedAt := e.now()
	experiment.Status = StatusConcluded
	experiment.ConcludedAt = &concludedAt
	if err := e.repo.UpdateExperiment(ctx, experiment); err != nil {
		return nil, err
	}
	return analysis, nil
}

// unmetRequirements lists every gating condition the experiment has not met.
func unmetRequirements(experiment *Experiment, analysis *Analysis) []string {
	var unmet []string
	if analysis.VariantA.UserCount < experiment.MinUsersPerVariant {
		unmet = append(unmet, fmt.Sprintf("variant A has %d of %d required users",
			analysis.VariantA.UserCount, experiment.MinUsersPerVariant))
	}
	if analysis.VariantB.UserCount < experiment.MinUsersPerVariant {
		unmet = append(unmet, fmt.Sprintf("variant B has %d of %d required users",
			analysis.VariantB.UserCount, experiment.MinUsersPerVariant))
	}
	if analysis.ElapsedDays < float64(experiment.MinDurationDays) {
		unmet = append(unmet, fmt.Sprintf("experiment has run %.1f of %d required days",
			analysis.ElapsedDays, experiment.MinDurationDays))
	}
	return unmet
}

// variantStats aggregates one arm's primary-metric observations.
func variantStats(variant Variant, assignments []*Assignment, metric string) VariantStats {
	result := VariantStats{Variant: variant}
	var values []float64
	for _, assignment := range assignments {
		if assignment.Variant != variant {
			continue
		}
		result.UserCount++
		if value, ok := assignment.Metrics[metric]; ok {
			values = append(values, value)
		}
	}
	result.SampleCount = len(values)
	result.Mean = stats.Mean(values)
	result.Variance = stats.SampleVariance(values)
	result.StdDev = stats.SampleStdDev(values)
	return result
}

// welchTest runs the unequal-variance two-sample t-test between the arms.
func welchTest(a, b VariantStats) *StatisticalResult {
	result := &StatisticalResult{
		MeanDifference: a.Mean - b.Mean,
	}

	n1, n2 := float64(a.SampleCount), float64(b.SampleCount)
	if n1 < 2 || n2 < 2 {
		// Cannot estimate variance; report the flat no-verdict result.
		result.PValue = 1
		result.DegreesOfFreedom = 1
		return result
	}

	se1 := a.Variance / n1
	se2 := b.Variance / n2
	standardError := math.Sqrt(se1 + se2)

	if standardError == 0 {
		// Zero within-group variance in both arms. Any nonzero mean
		// difference drives t to infinity and p to zero; identical means
		// are a perfect null.
		result.DegreesOfFreedom = n1 + n2 - 2
		if result.MeanDifference == 0 {
			result.PValue = 1
			return result
		}
		result.TStatistic = math.Copysign(SaturatedTStatistic, result.MeanDifference)
		result.PValue = 0
		result.Significant = true
		result.EffectSize = math.Copysign(SaturatedTStatistic, result.MeanDifference)
		result.ConfidenceIntervalLow = result.MeanDifference
		result.ConfidenceIntervalHigh = result.MeanDifference
		return result
	}

	result.TStatistic = result.MeanDifference / standardError

	// Welch–Satterthwaite degrees of freedom.
	dfDenominator := se1*se1/(n1-1) + se2*se2/(n2-1)
	if dfDenominator > 0 {
		result.DegreesOfFreedom = (se1 + se2) * (se1 + se2) / dfDenominator
	} else {
		result.DegreesOfFreedom = n1 + n2 - 2
	}

	result.PValue = stats.PValue(result.TStatistic, result.DegreesOfFreedom)
	result.Significant = result.PValue < SignificanceLevel

	critical := stats.TCritical(result.DegreesOfFreedom, SignificanceLevel)
	margin := critical * standardError
	result.ConfidenceIntervalLow = result.MeanDifference - margin
	result.ConfidenceIntervalHigh = result.MeanDifference + margin

	// Cohen's d with pooled variance.
	pooledVariance := ((n1-1)*a.Variance + (n2-1)*b.Variance) / (n1 + n2 - 2)
	if pooledVariance > 0 {
		result.EffectSize = result.MeanDifference / math.Sqrt(pooledVariance)
	} else {
		result.EffectSize = math.Copysign(SaturatedTStatistic, result.MeanDifference)
	}
	return result
}

// selectWinner picks the higher-mean arm when the difference is
// significant, inconclusive otherwise.
func selectWinner(a, b VariantStats, statistical *StatisticalResult) Winner {
	if statistical == nil || !statistical.Significant {
		return WinnerInconclusive
	}
	if a.Mean > b.Mean {
		return WinnerA
	}
	return WinnerB
}

// recommendation renders the natural-language summary of a complete analysis.
func recommendation(experiment *Experiment, analysis *Analysis) string {
	s := analysis.Statistical
	if !s.Significant {
		return fmt.Sprintf(
			"No statistically significant difference in %s between variants (p=%.3f). Consider running longer or concluding as inconclusive.",
			experiment.PrimaryMetric, s.PValue)
	}

	winner, loser := analysis.VariantA, analysis.VariantB
	if analysis.Winner == WinnerB {
		winner, loser = analysis.VariantB, analysis.VariantA
	}
	return fmt.Sprintf(
		"Variant %s outperforms variant %s on %s (%.3f vs %.3f, p=%.3g, effect size %.2f). Recommend rolling out variant %s.",
		winner.Variant, loser.Variant, experiment.PrimaryMetric,
		winner.Mean, loser.Mean, s.PValue, s.EffectSize, winner.Variant)
}

// isNotFound reports a missing-entity repository error.
func isNotFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}
