package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/application/query"
	"github.com/studyloop/insight-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// SWEEP EXPERIMENTS JOB
// ══════════════════════════════════════════════════════════════════════════════

// SweepExperimentsJob walks every running experiment, runs the statistical
// analysis, and logs its readiness. It never concludes an experiment; that
// stays an explicit operator decision.
type SweepExperimentsJob struct {
	experiments experiment.Repository
	analyze     *query.AnalyzeExperimentHandler
	logger      *slog.Logger
	timeout     time.Duration
}

// NewSweepExperimentsJob creates a new sweep job.
func NewSweepExperimentsJob(
	experiments experiment.Repository,
	analyze *query.AnalyzeExperimentHandler,
	logger *slog.Logger,
	timeout time.Duration,
) *SweepExperimentsJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 5 * time.Minute
	}

	return &SweepExperimentsJob{
		experiments: experiments,
		analyze:     analyze,
		logger:      logger,
		timeout:     timeout,
	}
}

// Name returns the job name.
func (j *SweepExperimentsJob) Name() string {
	return "sweep_experiments"
}

// Description returns a human-readable description.
func (j *SweepExperimentsJob) Description() string {
	return "Analyzes running experiments and logs their readiness"
}

// Run executes the sweep job.
func (j *SweepExperimentsJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	running, err := j.experiments.ListRunning(ctx)
	if err != nil {
		return fmt.Errorf("failed to list running experiments: %w", err)
	}

	j.logger.Info("starting experiment sweep", "running", len(running))

	var failed int
	for _, exp := range running {
		analysis, err := j.analyze.Handle(ctx, query.AnalyzeExperimentQuery{
			ExperimentID: exp.ID.String(),
		})
		if err != nil {
			failed++
			j.logger.Error("experiment analysis failed",
				"experiment_id", exp.ID,
				"name", exp.Name,
				"error", err,
			)
			continue
		}

		if analysis.Status == "insufficient_data" {
			j.logger.Info("experiment not ready",
				"experiment_id", exp.ID,
				"name", exp.Name,
				"elapsed_days", analysis.ElapsedDays,
				"unmet", analysis.UnmetRequirements,
			)
			continue
		}

		j.logger.Info("experiment ready for conclusion",
			"experiment_id", exp.ID,
			"name", exp.Name,
			"winner", analysis.Winner,
			"p_value", analysis.Statistical.PValue,
			"significant", analysis.Statistical.Significant,
			"effect_size", analysis.Statistical.EffectSize,
		)
	}

	if failed > 0 && failed == len(running) {
		return fmt.Errorf("analysis failed for all %d running experiments", failed)
	}

	return nil
}
