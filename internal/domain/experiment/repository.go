package experiment

import (
	"context"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// Implementations live in infrastructure/persistence. Assignment rows are
// unique per (user, experiment).
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores experiments and their assignments.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Experiments
	// ─────────────────────────────────────────────────────────────────────────

	// CreateExperiment persists a new experiment.
	// Returns shared.ErrAlreadyExists on ID collision.
	CreateExperiment(ctx context.Context, experiment *Experiment) error

	// GetExperiment returns the experiment by ID.
	// Returns shared.ErrExperimentNotFound for unknown IDs.
	GetExperiment(ctx context.Context, id shared.ExperimentID) (*Experiment, error)

	// UpdateExperiment persists lifecycle changes.
	// Returns shared.ErrExperimentNotFound for unknown IDs.
	UpdateExperiment(ctx context.Context, experiment *Experiment) error

	// ListRunning returns all experiments still accepting assignments.
	ListRunning(ctx context.Context) ([]*Experiment, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Assignments
	// ─────────────────────────────────────────────────────────────────────────

	// CreateAssignment persists a new assignment.
	// Returns shared.ErrAlreadyExists when the (user, experiment) pair
	// already has one.
	CreateAssignment(ctx context.Context, assignment *Assignment) error

	// GetAssignment returns the user's assignment in the experiment.
	// Returns shared.ErrAssignmentNotFound when there is none.
	GetAssignment(ctx context.Context, userID shared.UserID, experimentID shared.ExperimentID) (*Assignment, error)

	// UpdateAssignment replaces the assignment's metrics blob.
	// Returns shared.ErrAssignmentNotFound when there is none.
	UpdateAssignment(ctx context.Context, assignment *Assignment) error

	// AssignmentsForExperiment returns every assignment in the experiment.
	AssignmentsForExperiment(ctx context.Context, experimentID shared.ExperimentID) ([]*Assignment, error)

	// CountByVariant returns the current per-arm enrollment.
	CountByVariant(ctx context.Context, experimentID shared.ExperimentID) (map[Variant]int, error)
}
