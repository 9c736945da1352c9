package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// CONCLUDE EXPERIMENT COMMAND
// Finalizes an experiment. Refused with a full list of unmet requirements
// while the conclusion gate has not passed.
// ══════════════════════════════════════════════════════════════════════════════

// ConcludeExperimentCommand requests experiment conclusion.
type ConcludeExperimentCommand struct {
	// ExperimentID is the experiment to conclude.
	ExperimentID string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c ConcludeExperimentCommand) Validate() error {
	if !shared.ExperimentID(c.ExperimentID).IsValid() {
		return shared.NewDomainError("experiment", "Conclude", shared.ErrInvalidID,
			"experiment ID must be a UUID")
	}
	return nil
}

// ConcludeExperimentResult contains the final verdict.
type ConcludeExperimentResult struct {
	// ExperimentID is the concluded experiment.
	ExperimentID string `json:"experiment_id"`

	// Winner is "A", "B", or "inconclusive".
	Winner string `json:"winner"`

	// PValue is the final two-tailed p-value.
	PValue float64 `json:"p_value"`

	// Recommendation is the generated summary.
	Recommendation string `json:"recommendation"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// ConcludeExperimentHandler handles the ConcludeExperimentCommand.
type ConcludeExperimentHandler struct {
	engine   *experiment.Engine
	eventBus shared.EventBus
	logger   *slog.Logger
}

// NewConcludeExperimentHandler creates a new ConcludeExperimentHandler.
func NewConcludeExperimentHandler(
	engine *experiment.Engine,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *ConcludeExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &ConcludeExperimentHandler{
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With("handler", "conclude_experiment"),
	}
}

// Handle executes the conclude experiment command.
func (h *ConcludeExperimentHandler) Handle(ctx context.Context, cmd ConcludeExperimentCommand) (*ConcludeExperimentResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("conclude_experiment: validation failed: %w", err)
	}

	analysis, err := h.engine.ConcludeExperiment(ctx, shared.ExperimentID(cmd.ExperimentID))
	if err != nil {
		return nil, fmt.Errorf("conclude_experiment: %w", err)
	}

	event := shared.ExperimentConcludedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventExperimentConcluded, cmd.ExperimentID),
		ExperimentID: cmd.ExperimentID,
		Winner:       string(analysis.Winner),
		PValue:       analysis.Statistical.PValue,
	}
	if err := h.eventBus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish experiment concluded event", "error", err)
	}

	h.logger.Info("experiment concluded",
		"experiment_id", cmd.ExperimentID,
		"winner", string(analysis.Winner),
		"p_value", analysis.Statistical.PValue)

	return &ConcludeExperimentResult{
		ExperimentID:   cmd.ExperimentID,
		Winner:         string(analysis.Winner),
		PValue:         analysis.Statistical.PValue,
		Recommendation: analysis.Recommendation,
	}, nil
}
