package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// Keys in the sync_state table.
const (
	syncStateKeyToken    = "lms_sync_token"
	syncStateKeyLastSync = "lms_last_sync_at"
)

// SyncStateRepository persists the cursor state of the incremental LMS
// telemetry sync and answers which learners have recent activity.
type SyncStateRepository struct {
	conn *Connection
}

// NewSyncStateRepository creates a new SyncStateRepository.
func NewSyncStateRepository(conn *Connection) *SyncStateRepository {
	return &SyncStateRepository{conn: conn}
}

// SyncToken returns the stored sync cursor, or "" when no sync has run yet.
func (r *SyncStateRepository) SyncToken(ctx context.Context) (string, error) {
	return r.getValue(ctx, syncStateKeyToken)
}

// SetSyncToken stores the sync cursor returned by the LMS.
func (r *SyncStateRepository) SetSyncToken(ctx context.Context, token string) error {
	return r.setValue(ctx, syncStateKeyToken, token)
}

// LastSyncTime returns when the last successful sync completed, or the zero
// time when no sync has run yet.
func (r *SyncStateRepository) LastSyncTime(ctx context.Context) (time.Time, error) {
	value, err := r.getValue(ctx, syncStateKeyLastSync)
	if err != nil || value == "" {
		return time.Time{}, err
	}

	t, err := time.Parse(time.RFC3339Nano, value)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to parse last sync time: %w", err)
	}

	return t, nil
}

// SetLastSyncTime records when a successful sync completed.
func (r *SyncStateRepository) SetLastSyncTime(ctx context.Context, t time.Time) error {
	return r.setValue(ctx, syncStateKeyLastSync, t.UTC().Format(time.RFC3339Nano))
}

// ActiveUserIDs returns the IDs of learners with review or session activity
// since the given time, for batch jobs that walk the active population.
func (r *SyncStateRepository) ActiveUserIDs(ctx context.Context, since time.Time) ([]shared.UserID, error) {
	query := `
		SELECT user_id FROM review_events WHERE reviewed_at >= $1
		UNION
		SELECT user_id FROM study_sessions WHERE completed_at >= $1
	`

	rows, err := r.conn.Query(ctx, query, since)
	if err != nil {
		return nil, fmt.Errorf("failed to query active users: %w", err)
	}
	defer rows.Close()

	var userIDs []shared.UserID
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("failed to scan user id: %w", err)
		}
		userIDs = append(userIDs, shared.UserID(id))
	}

	return userIDs, rows.Err()
}

func (r *SyncStateRepository) getValue(ctx context.Context, key string) (string, error) {
	var value string
	err := r.conn.QueryRow(ctx, `SELECT value FROM sync_state WHERE key = $1`, key).Scan(&value)
	if err != nil {
		if IsNoRows(err) {
			return "", nil
		}
		return "", fmt.Errorf("failed to read sync state %q: %w", key, err)
	}
	return value, nil
}

func (r *SyncStateRepository) setValue(ctx context.Context, key, value string) error {
	query := `
		INSERT INTO sync_state (key, value, updated_at)
		VALUES ($1, $2, NOW())
		ON CONFLICT (key) DO UPDATE SET value = EXCLUDED.value, updated_at = NOW()
	`
	if _, err := r.conn.Exec(ctx, query, key, value); err != nil {
		return fmt.Errorf("failed to write sync state %q: %w", key, err)
	}
	return nil
}
