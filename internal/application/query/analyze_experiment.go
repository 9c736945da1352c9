package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ANALYZE EXPERIMENT QUERY
// Computes fresh per-arm statistics and, once the conclusion gate has
// passed, the significance verdict. Read-only: the experiment keeps
// running regardless of what the analysis says.
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeExperimentQuery identifies the experiment.
type AnalyzeExperimentQuery struct {
	// ExperimentID is the experiment to analyze.
	ExperimentID string
}

// Validate validates the query.
func (q AnalyzeExperimentQuery) Validate() error {
	if !shared.ExperimentID(q.ExperimentID).IsValid() {
		return shared.NewDomainError("experiment", "Analyze", shared.ErrInvalidID,
			"experiment ID must be a UUID")
	}
	return nil
}

// VariantStatsDTO summarizes one arm.
type VariantStatsDTO struct {
	// Variant is "A" or "B".
	Variant string `json:"variant"`

	// UserCount is the number of users enrolled in the arm.
	UserCount int `json:"user_count"`

	// SampleCount is the number of users with the primary metric recorded.
	SampleCount int `json:"sample_count"`

	// Mean is the primary-metric mean.
	Mean float64 `json:"mean"`

	// StdDev is the sample standard deviation.
	StdDev float64 `json:"std_dev"`
}

// StatisticalResultDTO is the significance test outcome.
type StatisticalResultDTO struct {
	// TStatistic is the Welch t value.
	TStatistic float64 `json:"t_statistic"`

	// DegreesOfFreedom is the Welch–Satterthwaite approximation.
	DegreesOfFreedom float64 `json:"degrees_of_freedom"`

	// PValue is the two-tailed p-value.
	PValue float64 `json:"p_value"`

	// Significant is true when PValue < 0.05.
	Significant bool `json:"significant"`

	// MeanDifference is mean(A) − mean(B).
	MeanDifference float64 `json:"mean_difference"`

	// ConfidenceIntervalLow and ConfidenceIntervalHigh bound the 95% CI.
	ConfidenceIntervalLow  float64 `json:"confidence_interval_low"`
	ConfidenceIntervalHigh float64 `json:"confidence_interval_high"`

	// EffectSize is Cohen's d.
	EffectSize float64 `json:"effect_size"`
}

// ExperimentAnalysisDTO is the analysis returned to callers.
type ExperimentAnalysisDTO struct {
	// ExperimentID is the analyzed experiment.
	ExperimentID string `json:"experiment_id"`

	// Status is "complete" or "insufficient_data".
	Status string `json:"status"`

	// VariantA and VariantB summarize the arms.
	VariantA VariantStatsDTO `json:"variant_a"`
	VariantB VariantStatsDTO `json:"variant_b"`

	// ElapsedDays is the experiment's running time.
	ElapsedDays float64 `json:"elapsed_days"`

	// Statistical is nil while Status is "insufficient_data".
	Statistical *StatisticalResultDTO `json:"statistical,omitempty"`

	// Winner is "A", "B", or "inconclusive"; empty while insufficient.
	Winner string `json:"winner,omitempty"`

	// Recommendation is the generated summary.
	Recommendation string `json:"recommendation"`

	// UnmetRequirements lists what gating still needs.
	UnmetRequirements []string `json:"unmet_requirements,omitempty"`

	// AnalyzedAt is when the analysis ran.
	AnalyzedAt time.Time `json:"analyzed_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AnalyzeExperimentHandler handles the AnalyzeExperimentQuery.
type AnalyzeExperimentHandler struct {
	engine *experiment.Engine
	logger *slog.Logger
}

// NewAnalyzeExperimentHandler creates a new AnalyzeExperimentHandler.
func NewAnalyzeExperimentHandler(engine *experiment.Engine, logger *slog.Logger) *AnalyzeExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AnalyzeExperimentHandler{
		engine: engine,
		logger: logger.With("handler", "analyze_experiment"),
	}
}

// Handle executes the query.
func (h *AnalyzeExperimentHandler) Handle(ctx context.Context, q AnalyzeExperimentQuery) (*ExperimentAnalysisDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("analyze_experiment: validation failed: %w", err)
	}

	analysis, err := h.engine.AnalyzeExperiment(ctx, shared.ExperimentID(q.ExperimentID))
	if err != nil {
		return nil, fmt.Errorf("analyze_experiment: %w", err)
	}

	dto := &ExperimentAnalysisDTO{
		ExperimentID:      q.ExperimentID,
		Status:            string(analysis.Status),
		VariantA:          toVariantStatsDTO(analysis.VariantA),
		VariantB:          toVariantStatsDTO(analysis.VariantB),
		ElapsedDays:       analysis.ElapsedDays,
		Winner:            string(analysis.Winner),
		Recommendation:    analysis.Recommendation,
		UnmetRequirements: analysis.UnmetRequirements,
		AnalyzedAt:        analysis.AnalyzedAt,
	}
	if analysis.Statistical != nil {
		s := analysis.Statistical
		dto.Statistical = &StatisticalResultDTO{
			TStatistic:             s.TStatistic,
			DegreesOfFreedom:       s.DegreesOfFreedom,
			PValue:                 s.PValue,
			Significant:            s.Significant,
			MeanDifference:         s.MeanDifference,
			ConfidenceIntervalLow:  s.ConfidenceIntervalLow,
			ConfidenceIntervalHigh: s.ConfidenceIntervalHigh,
			EffectSize:             s.EffectSize,
		}
	}
	return dto, nil
}

func toVariantStatsDTO(stats experiment.VariantStats) VariantStatsDTO {
	return VariantStatsDTO{
		Variant:     stats.Variant.String(),
		UserCount:   stats.UserCount,
		SampleCount: stats.SampleCount,
		Mean:        stats.Mean,
		StdDev:      stats.StdDev,
	}
}
