package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/application/command"
)

// ══════════════════════════════════════════════════════════════════════════════
// RETRAIN MODEL JOB
// ══════════════════════════════════════════════════════════════════════════════

// RetrainModelJob retrains the struggle prediction model on the accumulated
// set of resolved predictions. A skipped run (too few examples, nothing new)
// is a success, not a failure.
type RetrainModelJob struct {
	handler *command.TrainModelHandler
	logger  *slog.Logger
	timeout time.Duration
}

// NewRetrainModelJob creates a new retrain job.
func NewRetrainModelJob(handler *command.TrainModelHandler, logger *slog.Logger, timeout time.Duration) *RetrainModelJob {
	if logger == nil {
		logger = slog.Default()
	}
	if timeout <= 0 {
		timeout = 10 * time.Minute
	}

	return &RetrainModelJob{
		handler: handler,
		logger:  logger,
		timeout: timeout,
	}
}

// Name returns the job name.
func (j *RetrainModelJob) Name() string {
	return "retrain_model"
}

// Description returns a human-readable description.
func (j *RetrainModelJob) Description() string {
	return "Retrains the struggle prediction model on resolved predictions"
}

// Run executes the retrain job.
func (j *RetrainModelJob) Run(ctx context.Context) error {
	ctx, cancel := context.WithTimeout(ctx, j.timeout)
	defer cancel()

	result, err := j.handler.Handle(ctx, command.TrainModelCommand{})
	if err != nil {
		return fmt.Errorf("training run failed: %w", err)
	}

	if !result.Trained {
		j.logger.Info("training run skipped",
			"reason", result.SkipReason,
			"examples", result.ExampleCount,
		)
		return nil
	}

	j.logger.Info("model retrained",
		"examples", result.ExampleCount,
		"accuracy", result.Metrics.Accuracy,
		"precision", result.Metrics.Precision,
		"recall", result.Metrics.Recall,
		"f1", result.Metrics.F1,
	)

	return nil
}
