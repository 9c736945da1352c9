// Package command contains write operations (CQRS - Commands).
// Commands are responsible for changing the state of the system.
package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// TRAIN MODEL COMMAND
// Retrains the logistic model on the accumulated set of resolved
// predictions. Each run trains on everything resolved so far, not a
// sliding window, so the model keeps improving as outcomes accumulate.
// ══════════════════════════════════════════════════════════════════════════════

// TrainModelCommand triggers a training run.
type TrainModelCommand struct {
	// Force trains even when the example count has not grown since the
	// last run.
	Force bool

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c TrainModelCommand) Validate() error {
	return nil
}

// TrainModelResult contains the outcome of a training run.
type TrainModelResult struct {
	// Trained is false when the run was skipped (too few examples, or no
	// new examples without Force).
	Trained bool

	// SkipReason explains a skipped run.
	SkipReason string

	// ExampleCount is the number of examples the model trained on.
	ExampleCount int

	// Metrics holds the holdout evaluation of the new weights (nil when
	// skipped).
	Metrics *prediction.ModelMetrics

	// TrainedAt is when training finished.
	TrainedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// TrainModelHandler handles the TrainModelCommand.
type TrainModelHandler struct {
	predictionRepo prediction.Repository
	model          *prediction.LogisticPredictor
	eventBus       shared.EventBus
	logger         *slog.Logger
}

// NewTrainModelHandler creates a new TrainModelHandler.
func NewTrainModelHandler(
	predictionRepo prediction.Repository,
	model *prediction.LogisticPredictor,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *TrainModelHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &TrainModelHandler{
		predictionRepo: predictionRepo,
		model:          model,
		eventBus:       eventBus,
		logger:         logger.With("handler", "train_model"),
	}
}

// Handle executes the training run.
func (h *TrainModelHandler) Handle(ctx context.Context, cmd TrainModelCommand) (*TrainModelResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("train_model: validation failed: %w", err)
	}

	examples, err := h.predictionRepo.ResolvedExamples(ctx)
	if err != nil {
		return nil, fmt.Errorf("train_model: failed to load examples: %w", err)
	}

	if len(examples) < prediction.MinTrainingExamples {
		h.logger.Info("skipping training run",
			"examples", len(examples),
			"required", prediction.MinTrainingExamples)
		return &TrainModelResult{
			Trained: false,
			SkipReason: fmt.Sprintf("%d resolved examples, %d required",
				len(examples), prediction.MinTrainingExamples),
			ExampleCount: len(examples),
		}, nil
	}

	if !cmd.Force {
		if previous := h.model.Metrics(); previous != nil && previous.ExampleCount == len(examples) {
			return &TrainModelResult{
				Trained:      false,
				SkipReason:   "no new resolved examples since the last run",
				ExampleCount: len(examples),
			}, nil
		}
	}

	metrics, err := h.model.Train(examples)
	if err != nil {
		return nil, fmt.Errorf("train_model: training failed: %w", err)
	}

	weights := h.model.Weights()
	if err := h.predictionRepo.SaveWeights(ctx, weights, metrics); err != nil {
		return nil, fmt.Errorf("train_model: failed to persist weights: %w", err)
	}

	event := shared.ModelTrainedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventModelTrained, "model"),
		ExampleCount: metrics.ExampleCount,
		Accuracy:     metrics.Accuracy,
		F1:           metrics.F1,
		Calibration:  metrics.Calibration,
	}
	if err := h.eventBus.Publish(ctx, event); err != nil {
		// The model is already trained and persisted; a dropped event
		// only delays downstream consumers until the next run.
		h.logger.Warn("failed to publish model trained event", "error", err)
	}

	h.logger.Info("model retrained",
		"examples", metrics.ExampleCount,
		"accuracy", metrics.Accuracy,
		"f1", metrics.F1)

	return &TrainModelResult{
		Trained:      true,
		ExampleCount: metrics.ExampleCount,
		Metrics:      metrics,
		TrainedAt:    metrics.TrainedAt,
	}, nil
}
