package command

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
)

// ══════════════════════════════════════════════════════════════════════════════
// CREATE EXPERIMENT COMMAND
// Opens a new two-arm experiment for enrollment.
// ══════════════════════════════════════════════════════════════════════════════

// CreateExperimentCommand contains the experiment definition.
type CreateExperimentCommand struct {
	// Name is a short human-readable experiment name.
	Name string

	// Description explains what is being tested.
	Description string

	// PrimaryMetric is the metric key analysis compares across arms.
	PrimaryMetric string

	// TargetUserCount caps total enrollment.
	TargetUserCount int

	// MinUsersPerVariant overrides the per-arm analysis floor (optional).
	MinUsersPerVariant int

	// MinDurationDays overrides the elapsed-time floor (optional).
	MinDurationDays int

	// CorrelationID for tracing across services.
	CorrelationID string
}

// CreateExperimentResult contains the created experiment.
type CreateExperimentResult struct {
	// ExperimentID is the new experiment's UUID.
	ExperimentID string `json:"experiment_id"`

	// MinUsersPerVariant is the effective per-arm floor after defaults.
	MinUsersPerVariant int `json:"min_users_per_variant"`

	// MinDurationDays is the effective duration floor after defaults.
	MinDurationDays int `json:"min_duration_days"`

	// StartedAt is when enrollment opened.
	StartedAt time.Time `json:"started_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// CreateExperimentHandler handles the CreateExperimentCommand.
type CreateExperimentHandler struct {
	engine *experiment.Engine
	logger *slog.Logger
}

// NewCreateExperimentHandler creates a new CreateExperimentHandler.
func NewCreateExperimentHandler(engine *experiment.Engine, logger *slog.Logger) *CreateExperimentHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &CreateExperimentHandler{
		engine: engine,
		logger: logger.With("handler", "create_experiment"),
	}
}

// Handle executes the create experiment command.
func (h *CreateExperimentHandler) Handle(ctx context.Context, cmd CreateExperimentCommand) (*CreateExperimentResult, error) {
	created, err := h.engine.CreateExperiment(ctx, experiment.Config{
		Name:               cmd.Name,
		Description:        cmd.Description,
		PrimaryMetric:      cmd.PrimaryMetric,
		TargetUserCount:    cmd.TargetUserCount,
		MinUsersPerVariant: cmd.MinUsersPerVariant,
		MinDurationDays:    cmd.MinDurationDays,
	})
	if err != nil {
		return nil, fmt.Errorf("create_experiment: %w", err)
	}

	h.logger.Info("experiment created",
		"experiment_id", created.ID.String(),
		"name", created.Name,
		"primary_metric", created.PrimaryMetric,
		"target_users", created.TargetUserCount)

	return &CreateExperimentResult{
		ExperimentID:       created.ID.String(),
		MinUsersPerVariant: created.MinUsersPerVariant,
		MinDurationDays:    created.MinDurationDays,
		StartedAt:          created.StartedAt,
	}, nil
}
