package lms

import (
	"fmt"
	"time"
)

// ══════════════════════════════════════════════════════════════════════════════
// RESPONSE ENVELOPE
// ══════════════════════════════════════════════════════════════════════════════

// APIResponse is the standard LMS API response envelope.
type APIResponse[T any] struct {
	Success bool   `json:"success"`
	Data    T      `json:"data"`
	Error   string `json:"error,omitempty"`
	Meta    *Meta  `json:"meta,omitempty"`
}

// Meta contains pagination metadata.
type Meta struct {
	Page       int `json:"page"`
	PerPage    int `json:"per_page"`
	TotalItems int `json:"total_items"`
	TotalPages int `json:"total_pages"`
}

// APIErrorDTO is the error payload the LMS returns on 4xx/5xx.
type APIErrorDTO struct {
	Code    string `json:"code"`
	Message string `json:"message"`
	Details string `json:"details,omitempty"`
}

// Error implements the error interface.
func (e *APIErrorDTO) Error() string {
	if e.Details != "" {
		return fmt.Sprintf("%s: %s (%s)", e.Code, e.Message, e.Details)
	}
	return fmt.Sprintf("%s: %s", e.Code, e.Message)
}

// ══════════════════════════════════════════════════════════════════════════════
// AUTHENTICATION
// ══════════════════════════════════════════════════════════════════════════════

// TokenDTO holds the bearer token returned by the signin endpoint.
type TokenDTO struct {
	AccessToken string    `json:"access_token"`
	TokenType   string    `json:"token_type"`
	ExpiresAt   time.Time `json:"expires_at,omitempty"`
}

// IsExpired reports whether the token has passed its expiry.
// Tokens without an expiry never expire client-side.
func (t *TokenDTO) IsExpired() bool {
	if t.ExpiresAt.IsZero() {
		return false
	}
	return time.Now().After(t.ExpiresAt)
}

// ══════════════════════════════════════════════════════════════════════════════
// TELEMETRY PAYLOADS
// ══════════════════════════════════════════════════════════════════════════════

// LearnerDTO is the LMS representation of a learner profile.
type LearnerDTO struct {
	ID                    string   `json:"id"`
	LearningStyle         string   `json:"learning_style"`
	ContentPreferences    []string `json:"content_preferences"`
	OptimalSessionMinutes int      `json:"optimal_session_minutes"`
	TopicFamilies         []string `json:"topic_families"`
	IsActive              bool     `json:"is_active"`
	UpdatedAt             string   `json:"updated_at,omitempty"`
}

// ObjectiveDTO is the LMS representation of a learning objective.
type ObjectiveDTO struct {
	ID            string             `json:"id"`
	Complexity    float64            `json:"complexity"`
	TopicFamily   string             `json:"topic_family"`
	ContentTypes  []string           `json:"content_types"`
	Prerequisites []PrerequisiteDTO  `json:"prerequisites"`
	Mastery       map[string]float64 `json:"mastery,omitempty"` // learner ID -> mastery
}

// PrerequisiteDTO links an objective to one of its prerequisites.
type PrerequisiteDTO struct {
	ObjectiveID string `json:"objective_id"`
}

// ReviewDTO is a single spaced-repetition review event.
type ReviewDTO struct {
	LearnerID   string    `json:"learner_id"`
	CardID      string    `json:"card_id"`
	ObjectiveID string    `json:"objective_id"`
	Rating      string    `json:"rating"` // again | hard | good | easy
	ReviewedAt  time.Time `json:"reviewed_at"`
}

// SessionDTO summarizes a completed study session.
type SessionDTO struct {
	LearnerID        string    `json:"learner_id"`
	ObjectiveID      string    `json:"objective_id"`
	DurationSeconds  int       `json:"duration_seconds"`
	ReviewsCompleted int       `json:"reviews_completed"`
	Score            float64   `json:"score"`
	AgainCount       int       `json:"again_count"`
	ValidationScore  *float64  `json:"validation_score,omitempty"` // nil when no validation taken
	CompletedAt      time.Time `json:"completed_at"`
}

// OutcomeDTO records whether a learner ultimately struggled with an objective.
type OutcomeDTO struct {
	LearnerID   string `json:"learner_id"`
	ObjectiveID string `json:"objective_id"`
	Struggled   bool   `json:"struggled"`
}

// ══════════════════════════════════════════════════════════════════════════════
// SYNC
// ══════════════════════════════════════════════════════════════════════════════

// SyncDeltaDTO is the incremental sync payload: everything that changed since
// the given sync token.
type SyncDeltaDTO struct {
	Learners      []LearnerDTO   `json:"learners"`
	Objectives    []ObjectiveDTO `json:"objectives"`
	Reviews       []ReviewDTO    `json:"reviews"`
	Sessions      []SessionDTO   `json:"sessions"`
	Outcomes      []OutcomeDTO   `json:"outcomes"`
	NextSyncToken string         `json:"next_sync_token"`
	ServerTime    time.Time      `json:"server_time"`
}

// LearnersRequestDTO filters the learner listing endpoint.
type LearnersRequestDTO struct {
	IsActive      *bool
	ModifiedSince *time.Time
	Page          int
	PerPage       int
}
