// Package signal defines the upstream telemetry consumed by the analytics
// core: review events, session records, objective metadata, and user
// profiles. The Repository interface is the single seam between the pure
// statistical components and whatever data layer feeds them.
package signal

import (
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// REVIEW EVENTS
// ══════════════════════════════════════════════════════════════════════════════

// ReviewEvent is a single spaced-repetition review of a card.
type ReviewEvent struct {
	// CardID identifies the reviewed card.
	CardID shared.CardID

	// ObjectiveID is the learning objective the card belongs to.
	ObjectiveID shared.ObjectiveID

	// Rating is the learner's self-assessment.
	Rating shared.Rating

	// ReviewedAt is when the review happened.
	ReviewedAt time.Time
}

// ══════════════════════════════════════════════════════════════════════════════
// SESSION RECORDS
// ══════════════════════════════════════════════════════════════════════════════

// SessionRecord summarizes one study session.
type SessionRecord struct {
	// ObjectiveID is the primary objective studied in this session.
	ObjectiveID shared.ObjectiveID

	// Duration is the total session length.
	Duration time.Duration

	// CompletedAt is when the session ended.
	CompletedAt time.Time

	// ReviewsCompleted is the number of reviews finished in the session.
	ReviewsCompleted int

	// Score is the session score in [0, 1].
	Score float64

	// AgainCount is the number of "again" ratings given in the session.
	AgainCount int

	// ValidationScore is the post-session validation check score in [0, 1],
	// or -1 when no validation was taken.
	ValidationScore float64
}

// ══════════════════════════════════════════════════════════════════════════════
// OBJECTIVE METADATA
// ══════════════════════════════════════════════════════════════════════════════

// Prerequisite is a single prerequisite of an objective together with the
// learner-independent link strength and the learner's mastery of it.
type Prerequisite struct {
	// ObjectiveID identifies the prerequisite objective.
	ObjectiveID shared.ObjectiveID

	// Mastery is the learner's mastery of the prerequisite in [0, 1].
	Mastery float64
}

// ObjectiveMeta describes a learning objective for one learner.
type ObjectiveMeta struct {
	// ObjectiveID identifies the objective.
	ObjectiveID shared.ObjectiveID

	// Complexity is the declared difficulty in [0, 1].
	Complexity float64

	// Prerequisites lists prerequisite objectives with the learner's mastery.
	// An empty slice means the objective genuinely has no prerequisites,
	// which is different from "prerequisites unknown".
	Prerequisites []Prerequisite

	// MasteryLevel is the learner's current mastery of this objective's
	// topic area in [0, 1].
	MasteryLevel float64

	// TopicFamily groups related objectives (used for novelty detection).
	TopicFamily string

	// ContentTypes lists the content formats the objective uses
	// (e.g. "video", "text", "exercise").
	ContentTypes []string
}

// ══════════════════════════════════════════════════════════════════════════════
// USER PROFILES
// ══════════════════════════════════════════════════════════════════════════════

// UserProfile holds the stable per-learner preferences.
type UserProfile struct {
	// UserID identifies the learner.
	UserID shared.UserID

	// LearningStyle is a free-form style tag from onboarding.
	LearningStyle string

	// ContentPreferences lists preferred content formats.
	ContentPreferences []string

	// OptimalSessionDuration is the learner's self-reported or inferred
	// best session length.
	OptimalSessionDuration time.Duration

	// TopicFamiliesSeen lists topic families the learner has studied.
	TopicFamiliesSeen []string
}

// ══════════════════════════════════════════════════════════════════════════════
// PERFORMANCE AGGREGATES
// ══════════════════════════════════════════════════════════════════════════════

// PerformanceSummary is the precomputed per-user rollup the performance
// extractor consumes. Values default to -1 when the window had no data so
// the extractor can tell "no signal" from a genuine zero.
type PerformanceSummary struct {
	// RetentionScore is the fraction of due-card reviews rated correct in
	// the recent window, or -1 with no reviews.
	RetentionScore float64

	// LapseRate is the fraction of reviews rated "again", or -1.
	LapseRate float64

	// RecentAccuracy is accuracy over the last 7 days, or -1.
	RecentAccuracy float64

	// PriorAccuracy is accuracy over the 7 days before that, or -1.
	PriorAccuracy float64

	// StruggledObjectives is the count of past objectives the learner
	// struggled with.
	StruggledObjectives int

	// CompletedObjectives is the count of past objectives completed.
	CompletedObjectives int
}
