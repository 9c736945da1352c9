package signal

import (
	"context"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REPOSITORY INTERFACE
// The contract the analytics core reads telemetry through. Implementations
// live in infrastructure/persistence and infrastructure/external; the core
// never issues queries of its own.
// ══════════════════════════════════════════════════════════════════════════════

// Repository provides read access to learner telemetry.
//
// Missing data is not an error: methods return empty slices or zero-valued
// summaries when nothing is recorded, and the callers substitute neutral
// defaults. Only infrastructure failures surface as errors.
type Repository interface {
	// ─────────────────────────────────────────────────────────────────────────
	// Reviews
	// ─────────────────────────────────────────────────────────────────────────

	// ReviewHistory returns all reviews of the user, oldest first.
	ReviewHistory(ctx context.Context, userID shared.UserID) ([]ReviewEvent, error)

	// ReviewsForObjective returns the user's reviews of cards belonging to
	// the objective, oldest first.
	ReviewsForObjective(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]ReviewEvent, error)

	// LastReviewAt returns the time of the user's most recent review of any
	// card related to the objective, or the zero time when none exists.
	LastReviewAt(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (time.Time, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Sessions
	// ─────────────────────────────────────────────────────────────────────────

	// RecentSessions returns the user's sessions within the window, newest first.
	RecentSessions(ctx context.Context, userID shared.UserID, window time.Duration) ([]SessionRecord, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Objectives & Profiles
	// ─────────────────────────────────────────────────────────────────────────

	// ObjectiveMeta returns the objective metadata scoped to the user
	// (prerequisite mastery is learner-specific).
	// Returns shared.ErrObjectiveNotFound when the objective is unknown.
	ObjectiveMeta(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (*ObjectiveMeta, error)

	// UserProfile returns the learner profile.
	// Returns shared.ErrUserNotFound when the user is unknown.
	UserProfile(ctx context.Context, userID shared.UserID) (*UserProfile, error)

	// ─────────────────────────────────────────────────────────────────────────
	// Aggregates
	// ─────────────────────────────────────────────────────────────────────────

	// PerformanceSummary returns the rolled-up recent performance of the user.
	PerformanceSummary(ctx context.Context, userID shared.UserID) (*PerformanceSummary, error)
}
