package command

import (
	"context"
	"fmt"
	"log/slog"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// RECORD METRICS COMMAND
// Replaces a user's metric blob for an experiment. Metrics are cumulative
// snapshots computed upstream; the latest blob always wins.
// ══════════════════════════════════════════════════════════════════════════════

// RecordMetricsCommand contains the metric snapshot.
type RecordMetricsCommand struct {
	// UserID is the enrolled user.
	UserID string

	// ExperimentID is the experiment.
	ExperimentID string

	// Metrics is the full metric blob, keyed by metric name.
	Metrics map[string]float64

	// CorrelationID for tracing across services.
	CorrelationID string
}

// Validate validates the command.
func (c RecordMetricsCommand) Validate() error {
	if _, err := shared.NewUserID(c.UserID); err != nil {
		return err
	}
	if !shared.ExperimentID(c.ExperimentID).IsValid() {
		return shared.NewDomainError("experiment", "RecordMetrics", shared.ErrInvalidID,
			"experiment ID must be a UUID")
	}
	if len(c.Metrics) == 0 {
		return shared.NewDomainError("experiment", "RecordMetrics", shared.ErrEmptyValue,
			"metrics blob cannot be empty")
	}
	return nil
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// RecordMetricsHandler handles the RecordMetricsCommand.
type RecordMetricsHandler struct {
	engine *experiment.Engine
	logger *slog.Logger
}

// NewRecordMetricsHandler creates a new RecordMetricsHandler.
func NewRecordMetricsHandler(engine *experiment.Engine, logger *slog.Logger) *RecordMetricsHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &RecordMetricsHandler{
		engine: engine,
		logger: logger.With("handler", "record_metrics"),
	}
}

// Handle executes the record metrics command.
func (h *RecordMetricsHandler) Handle(ctx context.Context, cmd RecordMetricsCommand) error {
	if err := cmd.Validate(); err != nil {
		return fmt.Errorf("record_metrics: validation failed: %w", err)
	}

	err := h.engine.RecordMetrics(ctx,
		shared.UserID(cmd.UserID),
		shared.ExperimentID(cmd.ExperimentID),
		cmd.Metrics)
	if err != nil {
		return fmt.Errorf("record_metrics: %w", err)
	}

	h.logger.Debug("metrics recorded",
		"user_id", cmd.UserID,
		"experiment_id", cmd.ExperimentID,
		"metric_count", len(cmd.Metrics))
	return nil
}
