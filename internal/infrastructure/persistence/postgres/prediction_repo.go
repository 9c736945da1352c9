package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"

	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICTION REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// PredictionRepository implements prediction.Repository for PostgreSQL.
type PredictionRepository struct {
	conn *Connection
}

// NewPredictionRepository creates a new PredictionRepository.
func NewPredictionRepository(conn *Connection) *PredictionRepository {
	return &PredictionRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Records
// ─────────────────────────────────────────────────────────────────────────────

// SaveRecord persists a new prediction record.
func (r *PredictionRepository) SaveRecord(ctx context.Context, record *prediction.Record) error {
	query := `
		INSERT INTO prediction_records (
			id, user_id, objective_id, strategy, feature_values, data_quality,
			probability, confidence, predicted_struggle, outcome, created_at, resolved_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`

	_, err := r.conn.Exec(ctx, query,
		record.ID,
		record.UserID.String(),
		record.ObjectiveID.String(),
		record.Strategy,
		record.FeatureValues(),
		record.DataQuality(),
		record.Probability.Float64(),
		record.Confidence.Float64(),
		record.PredictedStruggle,
		string(record.Outcome),
		record.CreatedAt,
		record.ResolvedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to save prediction record: %w", err)
	}
	return nil
}

// UpdateRecord persists outcome changes to an existing record.
func (r *PredictionRepository) UpdateRecord(ctx context.Context, record *prediction.Record) error {
	query := `
		UPDATE prediction_records
		SET outcome = $2, resolved_at = $3
		WHERE id = $1
	`

	tag, err := r.conn.Exec(ctx, query, record.ID, string(record.Outcome), record.ResolvedAt)
	if err != nil {
		return fmt.Errorf("failed to update prediction record: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrPredictionNotFound
	}
	return nil
}

// GetRecord returns a record by ID.
func (r *PredictionRepository) GetRecord(ctx context.Context, id string) (*prediction.Record, error) {
	query := recordSelect + ` WHERE id = $1`

	rows, err := r.conn.Query(ctx, query, id)
	if err != nil {
		return nil, fmt.Errorf("failed to query prediction record: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}
	if len(records) == 0 {
		return nil, shared.ErrPredictionNotFound
	}
	return records[0], nil
}

// PendingForUser returns the user's unresolved records, oldest first. An
// empty objective ID matches all objectives.
func (r *PredictionRepository) PendingForUser(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]*prediction.Record, error) {
	query := recordSelect + `
		WHERE user_id = $1
		  AND outcome = 'pending'
		  AND ($2 = '' OR objective_id::text = $2)
		ORDER BY created_at ASC
	`

	rows, err := r.conn.Query(ctx, query, userID.String(), objectiveID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query pending records: %w", err)
	}
	defer rows.Close()

	return scanRecords(rows)
}

// ResolvedExamples returns every resolved record as a training example,
// oldest first.
func (r *PredictionRepository) ResolvedExamples(ctx context.Context) ([]prediction.TrainingExample, error) {
	rows, err := r.conn.Query(ctx, recordSelect+`
		WHERE outcome != 'pending'
		ORDER BY created_at ASC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to query resolved records: %w", err)
	}
	defer rows.Close()

	records, err := scanRecords(rows)
	if err != nil {
		return nil, err
	}

	examples := make([]prediction.TrainingExample, 0, len(records))
	for _, record := range records {
		examples = append(examples, record.TrainingExample())
	}
	return examples, nil
}

const recordSelect = `
	SELECT id, user_id, objective_id, strategy, feature_values, data_quality,
		   probability, confidence, predicted_struggle, outcome, created_at, resolved_at
	FROM prediction_records
`

func scanRecords(rows pgx.Rows) ([]*prediction.Record, error) {
	var records []*prediction.Record
	for rows.Next() {
		var record prediction.Record
		var userID, objectiveID, outcome string
		var featureValues []float64
		var dataQuality, probability, confidence float64
		var resolvedAt *time.Time

		err := rows.Scan(
			&record.ID,
			&userID,
			&objectiveID,
			&record.Strategy,
			&featureValues,
			&dataQuality,
			&probability,
			&confidence,
			&record.PredictedStruggle,
			&outcome,
			&record.CreatedAt,
			&resolvedAt,
		)
		if err != nil {
			return nil, fmt.Errorf("failed to scan prediction record: %w", err)
		}

		record.UserID = shared.UserID(userID)
		record.ObjectiveID = shared.ObjectiveID(objectiveID)
		record.Probability = shared.ClampProbability(probability)
		record.Confidence = shared.ClampConfidence(confidence)
		record.Outcome = prediction.Outcome(outcome)
		record.ResolvedAt = resolvedAt
		record.RestoreSnapshot(featureValues, dataQuality)

		records = append(records, &record)
	}
	return records, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Model weights
// ─────────────────────────────────────────────────────────────────────────────

// SaveWeights persists trained model weights. Weight rows are append-only;
// the newest row is the live model.
func (r *PredictionRepository) SaveWeights(ctx context.Context, weights *prediction.ModelWeights, metrics *prediction.ModelMetrics) error {
	query := `
		INSERT INTO model_weights (
			bias, weights, feature_names, example_count,
			accuracy, precision_score, recall, f1, calibration, trained_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.conn.Exec(ctx, query,
		weights.Bias,
		weights.Weights,
		weights.FeatureNames,
		metrics.ExampleCount,
		metrics.Accuracy,
		metrics.Precision,
		metrics.Recall,
		metrics.F1,
		metrics.Calibration,
		metrics.TrainedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to save model weights: %w", err)
	}
	return nil
}

// LatestWeights returns the most recently persisted weights.
func (r *PredictionRepository) LatestWeights(ctx context.Context) (*prediction.ModelWeights, *prediction.ModelMetrics, error) {
	query := `
		SELECT bias, weights, feature_names, example_count,
			   accuracy, precision_score, recall, f1, calibration, trained_at
		FROM model_weights
		ORDER BY trained_at DESC
		LIMIT 1
	`

	var weights prediction.ModelWeights
	var metrics prediction.ModelMetrics
	err := r.conn.QueryRow(ctx, query).Scan(
		&weights.Bias,
		&weights.Weights,
		&weights.FeatureNames,
		&metrics.ExampleCount,
		&metrics.Accuracy,
		&metrics.Precision,
		&metrics.Recall,
		&metrics.F1,
		&metrics.Calibration,
		&metrics.TrainedAt,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, nil, shared.ErrNotFound
		}
		return nil, nil, fmt.Errorf("failed to query model weights: %w", err)
	}
	return &weights, &metrics, nil
}
