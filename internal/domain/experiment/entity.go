// Package experiment implements two-arm experiment evaluation: balanced
// idempotent variant assignment, metric aggregation, and Welch's t-test
// significance analysis with winner selection.
package experiment

import (
	"strings"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/pkg/timeutil"
)

// ══════════════════════════════════════════════════════════════════════════════
// VARIANTS
// ══════════════════════════════════════════════════════════════════════════════

// Variant is an experiment arm.
type Variant string

const (
	// VariantA is the control arm.
	VariantA Variant = "A"

	// VariantB is the treatment arm.
	VariantB Variant = "B"
)

// IsValid checks that the variant is a known arm.
func (v Variant) IsValid() bool {
	return v == VariantA || v == VariantB
}

// String returns the string representation.
func (v Variant) String() string {
	return string(v)
}

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT
// ══════════════════════════════════════════════════════════════════════════════

// Status is the lifecycle state of an experiment.
type Status string

const (
	// StatusRunning - accepting assignments and metrics.
	StatusRunning Status = "running"

	// StatusConcluded - analysis finalized, no further assignments.
	StatusConcluded Status = "concluded"
)

// Conclusion gating defaults.
const (
	// DefaultMinUsersPerVariant is the per-arm user floor for analysis.
	DefaultMinUsersPerVariant = 20

	// DefaultMinDurationDays is the elapsed-time floor for analysis.
	DefaultMinDurationDays = 14
)

// Config is the caller-supplied experiment definition.
type Config struct {
	// Name is a short human-readable experiment name.
	Name string

	// Description explains what is being tested.
	Description string

	// PrimaryMetric is the metric key analysis compares across arms.
	PrimaryMetric string

	// TargetUserCount caps total enrollment. Must be at least twice the
	// per-variant minimum.
	TargetUserCount int

	// MinUsersPerVariant overrides the per-arm analysis floor (optional).
	MinUsersPerVariant int

	// MinDurationDays overrides the elapsed-time floor (optional).
	MinDurationDays int
}

// Validate checks the config and applies gating defaults.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Name) == "" {
		return shared.NewDomainError("experiment", "Create", shared.ErrEmptyValue, "experiment name is required")
	}
	if strings.TrimSpace(c.PrimaryMetric) == "" {
		return shared.NewDomainError("experiment", "Create", shared.ErrEmptyValue, "primary metric is required")
	}
	if c.MinUsersPerVariant <= 0 {
		c.MinUsersPerVariant = DefaultMinUsersPerVariant
	}
	if c.MinDurationDays <= 0 {
		c.MinDurationDays = DefaultMinDurationDays
	}
	if c.TargetUserCount < 2*c.MinUsersPerVariant {
		return shared.ErrTargetTooSmall
	}
	return nil
}

// Experiment is a running or concluded two-arm experiment.
type Experiment struct {
	// ID is the experiment's UUID.
	ID shared.ExperimentID

	// Name is the experiment name.
	Name string

	// Description explains what is being tested.
	Description string

	// PrimaryMetric is the metric key analysis compares.
	PrimaryMetric string

	// TargetUserCount caps total enrollment.
	TargetUserCount int

	// MinUsersPerVariant is the per-arm analysis floor.
	MinUsersPerVariant int

	// MinDurationDays is the elapsed-time analysis floor.
	MinDurationDays int

	// Status is the lifecycle state.
	Status Status

	// StartedAt is when assignment opened.
	StartedAt time.Time

	// ConcludedAt is when the experiment was concluded (nil while running).
	ConcludedAt *time.Time
}

// ElapsedDays is the experiment's running time in fractional days as of now.
func (e *Experiment) ElapsedDays(now time.Time) float64 {
	end := now
	if e.ConcludedAt != nil {
		end = *e.ConcludedAt
	}
	days := timeutil.DaysBetween(e.StartedAt, end)
	if days < 0 {
		return 0
	}
	return days
}

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGNMENTS
// ══════════════════════════════════════════════════════════════════════════════

// Assignment enrolls one user in one experiment arm. There is exactly one
// assignment per (user, experiment); it is created once and its metrics
// blob is only ever replaced through RecordMetrics.
type Assignment struct {
	// UserID is the enrolled user.
	UserID shared.UserID

	// ExperimentID is the experiment.
	ExperimentID shared.ExperimentID

	// Variant is the assigned arm.
	Variant Variant

	// Metrics is the latest recorded metric blob, keyed by metric name.
	Metrics map[string]float64

	// AssignedAt is when the user was enrolled.
	AssignedAt time.Time

	// MetricsUpdatedAt is when Metrics was last replaced (zero if never).
	MetricsUpdatedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// ANALYSIS RESULTS
// Derived values, recomputed on every analysis call - never cached, since
// the underlying assignments keep mutating while the experiment runs.
// ══════════════════════════════════════════════════════════════════════════════

// AnalysisStatus states whether an analysis produced a verdict.
type AnalysisStatus string

const (
	// AnalysisComplete - gating passed, statistical block populated.
	AnalysisComplete AnalysisStatus = "complete"

	// AnalysisInsufficientData - gating failed, no partial verdict given.
	AnalysisInsufficientData AnalysisStatus = "insufficient_data"
)

// Winner identifies the variant analysis favors.
type Winner string

const (
	// WinnerA - variant A is significantly better.
	WinnerA Winner = "A"

	// WinnerB - variant B is significantly better.
	WinnerB Winner = "B"

	// WinnerInconclusive - no significant difference.
	WinnerInconclusive Winner = "inconclusive"
)

// VariantStats summarizes one arm's primary-metric observations.
type VariantStats struct {
	// Variant is the arm.
	Variant Variant

	// UserCount is the number of users enrolled in the arm.
	UserCount int

	// SampleCount is the number of users with the primary metric recorded.
	SampleCount int

	// Mean is the primary-metric mean over the samples.
	Mean float64

	// Variance is the unbiased sample variance.
	Variance float64

	// StdDev is the sample standard deviation.
	StdDev float64
}

// StatisticalResult is the Welch's t-test outcome for the two arms.
type StatisticalResult struct {
	// TStatistic is the Welch t value. When both arms have zero variance
	// and differing means the true statistic diverges; it saturates at
	// ±SaturatedTStatistic with PValue 0.
	TStatistic float64

	// DegreesOfFreedom is the Welch–Satterthwaite approximation.
	DegreesOfFreedom float64

	// PValue is the two-tailed p-value, finite and in [0, 1].
	PValue float64

	// Significant is true when PValue < 0.05.
	Significant bool

	// MeanDifference is mean(A) − mean(B).
	MeanDifference float64

	// ConfidenceIntervalLow and ConfidenceIntervalHigh bound the 95% CI on
	// the mean difference.
	ConfidenceIntervalLow  float64
	ConfidenceIntervalHigh float64

	// EffectSize is Cohen's d with pooled variance, saturated like the
	// t statistic when pooled variance is zero.
	EffectSize float64
}

// Analysis is the full result of analyzing an experiment.
type Analysis struct {
	// ExperimentID is the analyzed experiment.
	ExperimentID shared.ExperimentID

	// Status reports whether gating passed.
	Status AnalysisStatus

	// VariantA and VariantB summarize the arms. Always populated, even
	// when gating failed.
	VariantA VariantStats
	VariantB VariantStats

	// ElapsedDays is the running time at analysis.
	ElapsedDays float64

	// Statistical is the test outcome; nil when Status is
	// AnalysisInsufficientData - partial verdicts are never surfaced.
	Statistical *StatisticalResult

	// Winner is set only on a complete analysis.
	Winner Winner

	// Recommendation is a generated natural-language summary.
	Recommendation string

	// UnmetRequirements lists what gating still needs (empty when
	// complete).
	UnmetRequirements []string

	// AnalyzedAt is when the analysis ran.
	AnalyzedAt time.Time
}
