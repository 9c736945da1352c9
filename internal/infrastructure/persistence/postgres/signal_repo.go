package postgres

import (
	"context"
	"fmt"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL REPOSITORY IMPLEMENTATION
// Read side implements signal.Repository for the analytics core; the write
// side is the ingest surface the telemetry sync job feeds.
// ══════════════════════════════════════════════════════════════════════════════

// SignalRepository implements signal.Repository for PostgreSQL.
type SignalRepository struct {
	conn *Connection
}

// NewSignalRepository creates a new SignalRepository.
func NewSignalRepository(conn *Connection) *SignalRepository {
	return &SignalRepository{conn: conn}
}

// ─────────────────────────────────────────────────────────────────────────────
// Reviews
// ─────────────────────────────────────────────────────────────────────────────

// ReviewHistory returns all reviews of the user, oldest first.
func (r *SignalRepository) ReviewHistory(ctx context.Context, userID shared.UserID) ([]signal.ReviewEvent, error) {
	query := `
		SELECT card_id, objective_id, rating, reviewed_at
		FROM review_events
		WHERE user_id = $1
		ORDER BY reviewed_at ASC
	`
	return r.queryReviews(ctx, query, userID.String())
}

// ReviewsForObjective returns the user's reviews for one objective, oldest first.
func (r *SignalRepository) ReviewsForObjective(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]signal.ReviewEvent, error) {
	query := `
		SELECT card_id, objective_id, rating, reviewed_at
		FROM review_events
		WHERE user_id = $1 AND objective_id = $2
		ORDER BY reviewed_at ASC
	`
	return r.queryReviews(ctx, query, userID.String(), objectiveID.String())
}

func (r *SignalRepository) queryReviews(ctx context.Context, query string, args ...interface{}) ([]signal.ReviewEvent, error) {
	rows, err := r.conn.Query(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to query reviews: %w", err)
	}
	defer rows.Close()

	var reviews []signal.ReviewEvent
	for rows.Next() {
		var cardID, objectiveID, rating string
		var reviewedAt time.Time
		if err := rows.Scan(&cardID, &objectiveID, &rating, &reviewedAt); err != nil {
			return nil, fmt.Errorf("failed to scan review: %w", err)
		}
		reviews = append(reviews, signal.ReviewEvent{
			CardID:      shared.CardID(cardID),
			ObjectiveID: shared.ObjectiveID(objectiveID),
			Rating:      shared.Rating(rating),
			ReviewedAt:  reviewedAt,
		})
	}
	return reviews, rows.Err()
}

// LastReviewAt returns the most recent review time for the objective, or
// the zero time when the user never reviewed it.
func (r *SignalRepository) LastReviewAt(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (time.Time, error) {
	query := `
		SELECT MAX(reviewed_at)
		FROM review_events
		WHERE user_id = $1 AND objective_id = $2
	`

	var last *time.Time
	err := r.conn.QueryRow(ctx, query, userID.String(), objectiveID.String()).Scan(&last)
	if err != nil {
		return time.Time{}, fmt.Errorf("failed to query last review: %w", err)
	}
	if last == nil {
		return time.Time{}, nil
	}
	return *last, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Sessions
// ─────────────────────────────────────────────────────────────────────────────

// RecentSessions returns the user's sessions within the window, newest first.
func (r *SignalRepository) RecentSessions(ctx context.Context, userID shared.UserID, window time.Duration) ([]signal.SessionRecord, error) {
	query := `
		SELECT objective_id, duration_seconds, completed_at, reviews_completed,
			   score, again_count, validation_score
		FROM study_sessions
		WHERE user_id = $1 AND completed_at >= $2
		ORDER BY completed_at DESC
	`
	cutoff := time.Now().UTC().Add(-window)

	rows, err := r.conn.Query(ctx, query, userID.String(), cutoff)
	if err != nil {
		return nil, fmt.Errorf("failed to query sessions: %w", err)
	}
	defer rows.Close()

	var sessions []signal.SessionRecord
	for rows.Next() {
		var objectiveID string
		var durationSeconds, reviewsCompleted, againCount int
		var completedAt time.Time
		var score, validationScore float64
		if err := rows.Scan(&objectiveID, &durationSeconds, &completedAt,
			&reviewsCompleted, &score, &againCount, &validationScore); err != nil {
			return nil, fmt.Errorf("failed to scan session: %w", err)
		}
		sessions = append(sessions, signal.SessionRecord{
			ObjectiveID:      shared.ObjectiveID(objectiveID),
			Duration:         time.Duration(durationSeconds) * time.Second,
			CompletedAt:      completedAt,
			ReviewsCompleted: reviewsCompleted,
			Score:            score,
			AgainCount:       againCount,
			ValidationScore:  validationScore,
		})
	}
	return sessions, rows.Err()
}

// ─────────────────────────────────────────────────────────────────────────────
// Objectives & Profiles
// ─────────────────────────────────────────────────────────────────────────────

// ObjectiveMeta returns the objective metadata scoped to the user.
func (r *SignalRepository) ObjectiveMeta(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (*signal.ObjectiveMeta, error) {
	query := `
		SELECT o.complexity, o.topic_family, o.content_types,
			   COALESCE(m.mastery, 0)
		FROM objectives o
		LEFT JOIN objective_mastery m
			ON m.objective_id = o.id AND m.user_id = $1
		WHERE o.id = $2
	`

	meta := &signal.ObjectiveMeta{ObjectiveID: objectiveID}
	var contentTypes []string
	err := r.conn.QueryRow(ctx, query, userID.String(), objectiveID.String()).Scan(
		&meta.Complexity,
		&meta.TopicFamily,
		&contentTypes,
		&meta.MasteryLevel,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrObjectiveNotFound
		}
		return nil, fmt.Errorf("failed to query objective: %w", err)
	}
	meta.ContentTypes = contentTypes

	prereqQuery := `
		SELECT p.prerequisite_id, COALESCE(m.mastery, 0)
		FROM objective_prerequisites p
		LEFT JOIN objective_mastery m
			ON m.objective_id = p.prerequisite_id AND m.user_id = $1
		WHERE p.objective_id = $2
		ORDER BY p.prerequisite_id
	`
	rows, err := r.conn.Query(ctx, prereqQuery, userID.String(), objectiveID.String())
	if err != nil {
		return nil, fmt.Errorf("failed to query prerequisites: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var prereq signal.Prerequisite
		var prereqID string
		if err := rows.Scan(&prereqID, &prereq.Mastery); err != nil {
			return nil, fmt.Errorf("failed to scan prerequisite: %w", err)
		}
		prereq.ObjectiveID = shared.ObjectiveID(prereqID)
		meta.Prerequisites = append(meta.Prerequisites, prereq)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	return meta, nil
}

// UserProfile returns the learner profile.
func (r *SignalRepository) UserProfile(ctx context.Context, userID shared.UserID) (*signal.UserProfile, error) {
	query := `
		SELECT learning_style, content_preferences, optimal_session_minutes, topic_families
		FROM user_profiles
		WHERE user_id = $1
	`

	profile := &signal.UserProfile{UserID: userID}
	var optimalMinutes int
	err := r.conn.QueryRow(ctx, query, userID.String()).Scan(
		&profile.LearningStyle,
		&profile.ContentPreferences,
		&optimalMinutes,
		&profile.TopicFamiliesSeen,
	)
	if err != nil {
		if IsNoRows(err) {
			return nil, shared.ErrUserNotFound
		}
		return nil, fmt.Errorf("failed to query profile: %w", err)
	}
	profile.OptimalSessionDuration = time.Duration(optimalMinutes) * time.Minute
	return profile, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Aggregates
// ─────────────────────────────────────────────────────────────────────────────

// PerformanceSummary rolls up the user's recent review performance. Windows
// with no reviews report -1 so the extractor can tell "no signal" from a
// genuine zero.
func (r *SignalRepository) PerformanceSummary(ctx context.Context, userID shared.UserID) (*signal.PerformanceSummary, error) {
	now := time.Now().UTC()

	query := `
		SELECT
			COUNT(*) FILTER (WHERE reviewed_at >= $2),
			COUNT(*) FILTER (WHERE reviewed_at >= $2 AND rating != 'again'),
			COUNT(*) FILTER (WHERE reviewed_at >= $2 AND rating = 'again'),
			COUNT(*) FILTER (WHERE reviewed_at >= $3),
			COUNT(*) FILTER (WHERE reviewed_at >= $3 AND rating != 'again'),
			COUNT(*) FILTER (WHERE reviewed_at >= $4 AND reviewed_at < $3),
			COUNT(*) FILTER (WHERE reviewed_at >= $4 AND reviewed_at < $3 AND rating != 'again')
		FROM review_events
		WHERE user_id = $1
	`

	var monthTotal, monthCorrect, monthLapses int
	var weekTotal, weekCorrect int
	var priorTotal, priorCorrect int
	err := r.conn.QueryRow(ctx, query,
		userID.String(),
		now.AddDate(0, 0, -30),
		now.AddDate(0, 0, -7),
		now.AddDate(0, 0, -14),
	).Scan(&monthTotal, &monthCorrect, &monthLapses,
		&weekTotal, &weekCorrect, &priorTotal, &priorCorrect)
	if err != nil {
		return nil, fmt.Errorf("failed to query performance rollup: %w", err)
	}

	summary := &signal.PerformanceSummary{
		RetentionScore: -1,
		LapseRate:      -1,
		RecentAccuracy: -1,
		PriorAccuracy:  -1,
	}
	if monthTotal > 0 {
		summary.RetentionScore = float64(monthCorrect) / float64(monthTotal)
		summary.LapseRate = float64(monthLapses) / float64(monthTotal)
	}
	if weekTotal > 0 {
		summary.RecentAccuracy = float64(weekCorrect) / float64(weekTotal)
	}
	if priorTotal > 0 {
		summary.PriorAccuracy = float64(priorCorrect) / float64(priorTotal)
	}

	outcomeQuery := `
		SELECT
			COUNT(*) FILTER (WHERE struggled),
			COUNT(*)
		FROM objective_outcomes
		WHERE user_id = $1
	`
	err = r.conn.QueryRow(ctx, outcomeQuery, userID.String()).
		Scan(&summary.StruggledObjectives, &summary.CompletedObjectives)
	if err != nil {
		return nil, fmt.Errorf("failed to query outcome counts: %w", err)
	}
	return summary, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Ingest (write side, fed by the telemetry sync job)
// ─────────────────────────────────────────────────────────────────────────────

// UpsertUserProfile stores or refreshes a learner profile.
func (r *SignalRepository) UpsertUserProfile(ctx context.Context, profile *signal.UserProfile) error {
	query := `
		INSERT INTO user_profiles (user_id, learning_style, content_preferences, optimal_session_minutes, topic_families, synced_at)
		VALUES ($1, $2, $3, $4, $5, NOW())
		ON CONFLICT (user_id) DO UPDATE SET
			learning_style = EXCLUDED.learning_style,
			content_preferences = EXCLUDED.content_preferences,
			optimal_session_minutes = EXCLUDED.optimal_session_minutes,
			topic_families = EXCLUDED.topic_families,
			synced_at = NOW()
	`
	_, err := r.conn.Exec(ctx, query,
		profile.UserID.String(),
		profile.LearningStyle,
		profile.ContentPreferences,
		int(profile.OptimalSessionDuration.Minutes()),
		profile.TopicFamiliesSeen,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert profile: %w", err)
	}
	return nil
}

// UpsertObjective stores or refreshes an objective with its prerequisite
// links. Per-learner mastery is written separately via UpsertMastery.
func (r *SignalRepository) UpsertObjective(ctx context.Context, meta *signal.ObjectiveMeta) error {
	query := `
		INSERT INTO objectives (id, complexity, topic_family, content_types, synced_at)
		VALUES ($1, $2, $3, $4, NOW())
		ON CONFLICT (id) DO UPDATE SET
			complexity = EXCLUDED.complexity,
			topic_family = EXCLUDED.topic_family,
			content_types = EXCLUDED.content_types,
			synced_at = NOW()
	`
	_, err := r.conn.Exec(ctx, query,
		meta.ObjectiveID.String(),
		meta.Complexity,
		meta.TopicFamily,
		meta.ContentTypes,
	)
	if err != nil {
		return fmt.Errorf("failed to upsert objective: %w", err)
	}

	for _, prereq := range meta.Prerequisites {
		linkQuery := `
			INSERT INTO objective_prerequisites (objective_id, prerequisite_id)
			VALUES ($1, $2)
			ON CONFLICT DO NOTHING
		`
		if _, err := r.conn.Exec(ctx, linkQuery, meta.ObjectiveID.String(), prereq.ObjectiveID.String()); err != nil {
			return fmt.Errorf("failed to upsert prerequisite link: %w", err)
		}
	}
	return nil
}

// UpsertMastery stores the learner's mastery of an objective.
func (r *SignalRepository) UpsertMastery(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, mastery float64) error {
	query := `
		INSERT INTO objective_mastery (user_id, objective_id, mastery, updated_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, objective_id) DO UPDATE SET
			mastery = EXCLUDED.mastery,
			updated_at = NOW()
	`
	if _, err := r.conn.Exec(ctx, query, userID.String(), objectiveID.String(), mastery); err != nil {
		return fmt.Errorf("failed to upsert mastery: %w", err)
	}
	return nil
}

// InsertReviewEvents appends a batch of review events for the user.
func (r *SignalRepository) InsertReviewEvents(ctx context.Context, userID shared.UserID, reviews []signal.ReviewEvent) error {
	if len(reviews) == 0 {
		return nil
	}

	query := `
		INSERT INTO review_events (user_id, card_id, objective_id, rating, reviewed_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, review := range reviews {
		_, err := r.conn.Exec(ctx, query,
			userID.String(),
			review.CardID.String(),
			review.ObjectiveID.String(),
			string(review.Rating),
			review.ReviewedAt,
		)
		if err != nil {
			return fmt.Errorf("failed to insert review: %w", err)
		}
	}
	return nil
}

// InsertSession appends a study session summary.
func (r *SignalRepository) InsertSession(ctx context.Context, userID shared.UserID, session signal.SessionRecord) error {
	query := `
		INSERT INTO study_sessions (user_id, objective_id, duration_seconds, completed_at,
			reviews_completed, score, again_count, validation_score)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`
	_, err := r.conn.Exec(ctx, query,
		userID.String(),
		session.ObjectiveID.String(),
		int(session.Duration.Seconds()),
		session.CompletedAt,
		session.ReviewsCompleted,
		session.Score,
		session.AgainCount,
		session.ValidationScore,
	)
	if err != nil {
		return fmt.Errorf("failed to insert session: %w", err)
	}
	return nil
}

// RecordObjectiveOutcome upserts whether the learner ultimately struggled
// with an objective. Later sessions overwrite earlier verdicts.
func (r *SignalRepository) RecordObjectiveOutcome(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, struggled bool) error {
	query := `
		INSERT INTO objective_outcomes (user_id, objective_id, struggled, completed_at)
		VALUES ($1, $2, $3, NOW())
		ON CONFLICT (user_id, objective_id) DO UPDATE SET
			struggled = EXCLUDED.struggled,
			completed_at = NOW()
	`
	if _, err := r.conn.Exec(ctx, query, userID.String(), objectiveID.String(), struggled); err != nil {
		return fmt.Errorf("failed to record objective outcome: %w", err)
	}
	return nil
}
