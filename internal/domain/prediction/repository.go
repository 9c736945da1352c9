package prediction

import (
	"context"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACES
// Implementations live in infrastructure/persistence.
// ══════════════════════════════════════════════════════════════════════════════

// Repository stores prediction records and trained model weights.
type Repository interface {
	// SaveRecord persists a new prediction record.
	SaveRecord(ctx context.Context, record *Record) error

	// UpdateRecord persists outcome changes to an existing record.
	// Returns shared.ErrPredictionNotFound for unknown IDs.
	UpdateRecord(ctx context.Context, record *Record) error

	// GetRecord returns a record by ID.
	// Returns shared.ErrPredictionNotFound for unknown IDs.
	GetRecord(ctx context.Context, id string) (*Record, error)

	// PendingForUser returns the user's unresolved records for the
	// objective, oldest first. An empty objective ID matches all.
	PendingForUser(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*Record, error)

	// ResolvedExamples returns every resolved record converted to a
	// training example, oldest first. This is the accumulated set a
	// retrain runs on.
	ResolvedExamples(ctx context.Context) ([]TrainingExample, error)

	// SaveWeights persists trained model weights for warm restarts.
	SaveWeights(ctx context.Context, weights *ModelWeights, metrics *ModelMetrics) error

	// LatestWeights returns the most recently persisted weights, or
	// shared.ErrNotFound when the model has never been trained.
	LatestWeights(ctx context.Context) (*ModelWeights, *ModelMetrics, error)
}
