package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// ASSIGN VARIANT COMMAND
// Enrolls a user into an experiment arm. Safe to issue repeatedly: an
// already-enrolled user gets their existing arm back.
// ══════════════════════════════════════════════════════════════════════════════

// AssignVariantCommand contains the enrollment request.
type AssignVariantCommand struct {
	// UserID is the user to enroll.
	UserID string

	// ExperimentID is the experiment to enroll into.
	ExperimentID string

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c AssignVariantCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !shared.ExperimentID(c.ExperimentID).IsValid() {
		return shared.NewDomainError("experiment", "AssignVariant", shared.ErrInvalidID,
			"experiment ID must be a UUID")
	}
	return nil
}

// AssignVariantResult contains the assigned arm.
type AssignVariantResult struct {
	// UserID is the enrolled user.
	UserID string `json:"user_id"`

	// ExperimentID is the experiment.
	ExperimentID string `json:"experiment_id"`

	// Variant is the assigned arm, "A" or "B".
	Variant string `json:"variant"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// AssignVariantHandler handles the AssignVariantCommand.
type AssignVariantHandler struct {
	engine   *experiment.Engine
	eventBus shared.EventBus
	logger   *slog.Logger
}

// NewAssignVariantHandler creates a new AssignVariantHandler.
func NewAssignVariantHandler(
	engine *experiment.Engine,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *AssignVariantHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &AssignVariantHandler{
		engine:   engine,
		eventBus: eventBus,
		logger:   logger.With("handler", "assign_variant"),
	}
}

// Handle executes the assign variant command.
func (h *AssignVariantHandler) Handle(ctx context.Context, cmd AssignVariantCommand) (*AssignVariantResult, error) {
	if err := cmd.Validate(); err != nil {
		return nil, fmt.Errorf("assign_variant: validation failed: %w", err)
	}

	userID := shared.UserID(cmd.UserID)
	experimentID := shared.ExperimentID(cmd.ExperimentID)

	variant, err := h.engine.AssignVariant(ctx, userID, experimentID)
	if err != nil {
		return nil, fmt.Errorf("assign_variant: %w", err)
	}

	event := shared.VariantAssignedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventVariantAssigned, cmd.ExperimentID),
		UserID:       cmd.UserID,
		ExperimentID: cmd.ExperimentID,
		Variant:      variant.String(),
	}
	if err := h.eventBus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish variant assigned event", "error", err)
	}

	return &AssignVariantResult{
		UserID:       cmd.UserID,
		ExperimentID: cmd.ExperimentID,
		Variant:      variant.String(),
	}, nil
}
