package postgres

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/experiment"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// EXPERIMENT REPOSITORY IMPLEMENTATION
// ══════════════════════════════════════════════════════════════════════════════

// ExperimentRepository implements experiment.Repository for PostgreSQL.
type ExperimentRepository struct {
	conn *Connection
}

// NewExperimentRepository creates a new ExperimentRepository.
func NewExperimentRepository(conn *Connection) *ExperimentRepository {
	return &ExperimentRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Experiments
// ─────────────────────────────────────────────────────────────────────────────

// CreateExperiment persists a new experiment.
func (r *ExperimentRepository) CreateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	query := `
		INSERT INTO experiments (
			id, name, description, primary_metric, target_user_count,
			min_users_per_variant, min_duration_days, status, started_at, concluded_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`

	_, err := r.conn.Exec(ctx, query,
		exp.ID.String(),
		exp.Name,
		exp.Description,
		exp.PrimaryMetric,
		exp.TargetUserCount,
		exp.MinUsersPerVariant,
		exp.MinDurationDays,
		string(exp.Status),
		exp.StartedAt,
		exp.ConcludedAt,
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create experiment: %w", err)
	}
	return nil
}

// GetExperiment returns the experiment by ID.
func (r *ExperimentRepository) GetExperiment(ctx context.Context, id shared.ExperimentID) (*experiment.Experiment, error) {
	query := `
		SELECT id, name, description, primary_metric, target_user_count,
			   min_users_per_variant, min_duration_days, status, started_at, concluded_at
		FROM experiments
		WHERE id = $1
	`

	exp, err := r.scanExperiment(r.conn.QueryRow(ctx, query, id.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrExperimentNotFound
		}
		return nil, fmt.Errorf("failed to query experiment: %w", err)
	}
	return exp, nil
}

// UpdateExperiment persists lifecycle changes.
func (r *ExperimentRepository) UpdateExperiment(ctx context.Context, exp *experiment.Experiment) error {
	query := `
		UPDATE experiments
		SET status = $2, concluded_at = $3
		WHERE id = $1
	`

	tag, err := r.conn.Exec(ctx, query, exp.ID.String(), string(exp.Status), exp.ConcludedAt)
	if err != nil {
		return fmt.Errorf("failed to update experiment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrExperimentNotFound
	}
	return nil
}

// ListRunning returns all experiments still accepting assignments.
func (r *ExperimentRepository) ListRunning(ctx context.Context) ([]*experiment.Experiment, error) {
	query := `
		SELECT id, name, description, primary_metric, target_user_count,
			   min_users_per_variant, min_duration_days, status, started_at, concluded_at
		FROM experiments
		WHERE status = 'running'
		ORDER BY started_at ASC
	`

	rows, err := r.conn.Query(ctx, query)
	if err != nil {
		return nil, fmt.Errorf("failed to query running experiments: %w", err)
	}
	defer rows.Close()

	var experiments []*experiment.Experiment
	for rows.Next() {
		exp, err := r.scanExperiment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan experiment: %w", err)
		}
		experiments = append(experiments, exp)
	}
	return experiments, rows.Err()
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...interface{}) error
}

func (r *ExperimentRepository) scanExperiment(row rowScanner) (*experiment.Experiment, error) {
	var exp experiment.Experiment
	var id, status string
	var concludedAt *time.Time

	err := row.Scan(
		&id,
		&exp.Name,
		&exp.Description,
		&exp.PrimaryMetric,
		&exp.TargetUserCount,
		&exp.MinUsersPerVariant,
		&exp.MinDurationDays,
		&status,
		&exp.StartedAt,
		&concludedAt,
	)
	if err != nil {
		return nil, err
	}

	exp.ID = shared.ExperimentID(id)
	exp.Status = experiment.Status(status)
	exp.ConcludedAt = concludedAt
	return &exp, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Assignments
// ─────────────────────────────────────────────────────────────────────────────

// CreateAssignment persists a new assignment.
func (r *ExperimentRepository) CreateAssignment(ctx context.Context, assignment *experiment.Assignment) error {
	metricsJSON, err := json.Marshal(assignment.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		INSERT INTO experiment_assignments (
			user_id, experiment_id, variant, metrics, assigned_at, metrics_updated_at
		) VALUES ($1, $2, $3, $4, $5, $6)
	`

	_, err = r.conn.Exec(ctx, query,
		assignment.UserID.String(),
		assignment.ExperimentID.String(),
		assignment.Variant.String(),
		metricsJSON,
		assignment.AssignedAt,
		nullableTime(assignment.MetricsUpdatedAt),
	)
	if err != nil {
		if IsUniqueViolation(err) {
			return shared.ErrAlreadyExists
		}
		return fmt.Errorf("failed to create assignment: %w", err)
	}
	return nil
}

// GetAssignment returns the user's assignment in the experiment.
func (r *ExperimentRepository) GetAssignment(ctx context.Context, userID shared.UserID, experimentID shared.ExperimentID) (*experiment.Assignment, error) {
	query := `
		SELECT user_id, experiment_id, variant, metrics, assigned_at, metrics_updated_at
		FROM experiment_assignments
		WHERE user_id = $1 AND experiment_id = $2
	`

	assignment, err := scanAssignment(r.conn.QueryRow(ctx, query, userID.String(), experimentID.String()))
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrAssignmentNotFound
		}
		return nil, fmt.Errorf("failed to query assignment: %w", err)
	}
	return assignment, nil
}

// UpdateAssignment replaces the assignment's metrics blob.
func (r *ExperimentRepository) UpdateAssignment(ctx context.Context, assignment *experiment.Assignment) error {
	metricsJSON, err := json.Marshal(assignment.Metrics)
	if err != nil {
		return fmt.Errorf("failed to marshal metrics: %w", err)
	}

	query := `
		UPDATE experiment_assignments
		SET metrics = $3, metrics_updated_at = $4
		WHERE user_id = $1 AND experiment_id = $2
	`

	tag, err := r.conn.Exec(ctx, query,
		assignment.UserID.String(),
		assignment.ExperimentID.String(),
		metricsJSON,
		nullableTime(assignment.MetricsUpdatedAt),
	)
	if err != nil {
		return fmt.Errorf("failed to update assignment: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return shared.ErrAssignmentNotFound
	}
	return nil
}

// AssignmentsForExperiment returns every assignment in the experiment.
func (r *ExperimentRepository) AssignmentsForExperiment(ctx context.Context, experimentID shared.ExperimentID) ([]*experiment.Assignment, error) {
	query := `
		SELECT user_id, experiment_id, variant, metrics, assigned_at, metrics_updated_at
		FROM experiment_assignments
		WHERE experiment_id = $1
		ORDER BY assigned_at ASC
	`

	rows, err := r.conn.Query(ctx, query, experimentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query assignments: %w", err)
	}
	defer rows.Close()

	var assignments []*experiment.Assignment
	for rows.Next() {
		assignment, err := scanAssignment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assignment: %w", err)
		}
		assignments = append(assignments, assignment)
	}
	return assignments, rows.Err()
}

// CountByVariant returns the current per-arm enrollment.
func (r *ExperimentRepository) CountByVariant(ctx context.Context, experimentID shared.ExperimentID) (map[experiment.Variant]int, error) {
	query := `
		SELECT variant, COUNT(*)
		FROM experiment_assignments
		WHERE experiment_id = $1
		GROUP BY variant
	`

	rows, err := r.conn.Query(ctx, query, experimentID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to count assignments: %w", err)
	}
	defer rows.Close()

	counts := map[experiment.Variant]int{
		experiment.VariantA: 0,
		experiment.VariantB: 0,
	}
	for rows.Next() {
		var variant string
		var count int
		if err := rows.Scan(&variant, &count); err != nil {
			return nil, fmt.Errorf("failed to scan count: %w", err)
		}
		counts[experiment.Variant(variant)] = count
	}
	return counts, rows.Err()
}

func scanAssignment(row rowScanner) (*experiment.Assignment, error) {
	var assignment experiment.Assignment
	var userID, experimentID, variant string
	var metricsJSON []byte
	var metricsUpdatedAt *time.Time

	err := row.Scan(
		&userID,
		&experimentID,
		&variant,
		&metricsJSON,
		&assignment.AssignedAt,
		&metricsUpdatedAt,
	)
	if err != nil {
		return nil, err
	}

	assignment.UserID = shared.UserID(userID)
	assignment.ExperimentID = shared.ExperimentID(experimentID)
	assignment.Variant = experiment.Variant(variant)
	assignment.Metrics = map[string]float64{}
	if len(metricsJSON) > 0 {
		if err := json.Unmarshal(metricsJSON, &assignment.Metrics); err != nil {
			return nil, fmt.Errorf("failed to unmarshal metrics: %w", err)
		}
	}
	if metricsUpdatedAt != nil {
		assignment.MetricsUpdatedAt = *metricsUpdatedAt
	}
	return &assignment, nil
}

// nullableTime maps the zero time to NULL.
func nullableTime(t time.Time) *time.Time {
	if t.IsZero() {
		return nil
	}
	return &t
}
