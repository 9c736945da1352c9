package redis

import (
	"context"
	"errors"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// SIGNAL CACHE
// Read-through cache in front of the telemetry repository. Only the small,
// repeatedly-read lookups are cached (profiles, objective metadata,
// performance rollups); review and session streams always hit the source -
// they are consumed whole and change on every sync.
//
// Cache failures degrade to the inner repository: feature extraction must
// not break because Redis is down.
// ══════════════════════════════════════════════════════════════════════════════

// SignalCache wraps a signal.Repository with Redis caching.
type SignalCache struct {
	inner  signal.Repository
	cache  *Cache
	logger *slog.Logger
}

// NewSignalCache creates a caching decorator over the repository.
func NewSignalCache(inner signal.Repository, cache *Cache, logger *slog.Logger) *SignalCache {
	if logger == nil {
		logger = slog.Default()
	}

	return &SignalCache{
		inner:  inner,
		cache:  cache,
		logger: logger.With("component", "signal_cache"),
	}
}

// ─────────────────────────────────────────────────────────────────────────────
// Passthrough reads
// ─────────────────────────────────────────────────────────────────────────────

// ReviewHistory always reads the source of truth.
func (c *SignalCache) ReviewHistory(ctx context.Context, userID shared.UserID) ([]signal.ReviewEvent, error) {
	return c.inner.ReviewHistory(ctx, userID)
}

// ReviewsForObjective always reads the source of truth.
func (c *SignalCache) ReviewsForObjective(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) ([]signal.ReviewEvent, error) {
	return c.inner.ReviewsForObjective(ctx, userID, objectiveID)
}

// LastReviewAt always reads the source of truth.
func (c *SignalCache) LastReviewAt(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (time.Time, error) {
	return c.inner.LastReviewAt(ctx, userID, objectiveID)
}

// RecentSessions always reads the source of truth.
func (c *SignalCache) RecentSessions(ctx context.Context, userID shared.UserID, window time.Duration) ([]signal.SessionRecord, error) {
	return c.inner.RecentSessions(ctx, userID, window)
}

// ─────────────────────────────────────────────────────────────────────────────
// Cached reads
// ─────────────────────────────────────────────────────────────────────────────

// cachedObjectiveMeta is the serialized cache form of signal.ObjectiveMeta.
type cachedObjectiveMeta struct {
	ObjectiveID   string               `json:"objective_id"`
	Complexity    float64              `json:"complexity"`
	Prerequisites []cachedPrerequisite `json:"prerequisites"`
	MasteryLevel  float64              `json:"mastery_level"`
	TopicFamily   string               `json:"topic_family"`
	ContentTypes  []string             `json:"content_types"`
}

type cachedPrerequisite struct {
	ObjectiveID string  `json:"objective_id"`
	Mastery     float64 `json:"mastery"`
}

// ObjectiveMeta serves the per-learner objective metadata from cache when
// fresh enough, falling back to the source on miss or cache failure.
func (c *SignalCache) ObjectiveMeta(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (*signal.ObjectiveMeta, error) {
	key := ObjectiveKey(userID.String(), objectiveID.String())

	var cached cachedObjectiveMeta
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		meta := &signal.ObjectiveMeta{
			ObjectiveID:  shared.ObjectiveID(cached.ObjectiveID),
			Complexity:   cached.Complexity,
			MasteryLevel: cached.MasteryLevel,
			TopicFamily:  cached.TopicFamily,
			ContentTypes: cached.ContentTypes,
		}
		for _, prereq := range cached.Prerequisites {
			meta.Prerequisites = append(meta.Prerequisites, signal.Prerequisite{
				ObjectiveID: shared.ObjectiveID(prereq.ObjectiveID),
				Mastery:     prereq.Mastery,
			})
		}
		return meta, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("objective cache read failed", "error", err)
	}

	meta, err := c.inner.ObjectiveMeta(ctx, userID, objectiveID)
	if err != nil {
		return nil, err
	}

	toCache := cachedObjectiveMeta{
		ObjectiveID:  meta.ObjectiveID.String(),
		Complexity:   meta.Complexity,
		MasteryLevel: meta.MasteryLevel,
		TopicFamily:  meta.TopicFamily,
		ContentTypes: meta.ContentTypes,
	}
	for _, prereq := range meta.Prerequisites {
		toCache.Prerequisites = append(toCache.Prerequisites, cachedPrerequisite{
			ObjectiveID: prereq.ObjectiveID.String(),
			Mastery:     prereq.Mastery,
		})
	}
	if err := c.cache.Set(ctx, key, toCache, TTLObjectiveMeta); err != nil {
		c.logger.Warn("objective cache write failed", "error", err)
	}
	return meta, nil
}

// cachedUserProfile is the serialized cache form of signal.UserProfile.
type cachedUserProfile struct {
	UserID                string   `json:"user_id"`
	LearningStyle         string   `json:"learning_style"`
	ContentPreferences    []string `json:"content_preferences"`
	OptimalSessionMinutes int      `json:"optimal_session_minutes"`
	TopicFamiliesSeen     []string `json:"topic_families_seen"`
}

// UserProfile serves the learner profile from cache when fresh enough.
func (c *SignalCache) UserProfile(ctx context.Context, userID shared.UserID) (*signal.UserProfile, error) {
	key := ProfileKey(userID.String())

	var cached cachedUserProfile
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return &signal.UserProfile{
			UserID:                 shared.UserID(cached.UserID),
			LearningStyle:          cached.LearningStyle,
			ContentPreferences:     cached.ContentPreferences,
			OptimalSessionDuration: time.Duration(cached.OptimalSessionMinutes) * time.Minute,
			TopicFamiliesSeen:      cached.TopicFamiliesSeen,
		}, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("profile cache read failed", "error", err)
	}

	profile, err := c.inner.UserProfile(ctx, userID)
	if err != nil {
		return nil, err
	}

	toCache := cachedUserProfile{
		UserID:                profile.UserID.String(),
		LearningStyle:         profile.LearningStyle,
		ContentPreferences:    profile.ContentPreferences,
		OptimalSessionMinutes: int(profile.OptimalSessionDuration.Minutes()),
		TopicFamiliesSeen:     profile.TopicFamiliesSeen,
	}
	if err := c.cache.Set(ctx, key, toCache, TTLUserProfile); err != nil {
		c.logger.Warn("profile cache write failed", "error", err)
	}
	return profile, nil
}

// PerformanceSummary serves the rollup from cache when fresh enough. The
// short TTL keeps the extractor at most half an hour behind the reviews.
func (c *SignalCache) PerformanceSummary(ctx context.Context, userID shared.UserID) (*signal.PerformanceSummary, error) {
	key := PerformanceKey(userID.String())

	var cached signal.PerformanceSummary
	err := c.cache.Get(ctx, key, &cached)
	if err == nil {
		return &cached, nil
	}
	if !errors.Is(err, ErrCacheMiss) {
		c.logger.Warn("performance cache read failed", "error", err)
	}

	summary, err := c.inner.PerformanceSummary(ctx, userID)
	if err != nil {
		return nil, err
	}
	if err := c.cache.Set(ctx, key, summary, TTLPerformanceSummary); err != nil {
		c.logger.Warn("performance cache write failed", "error", err)
	}
	return summary, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Invalidation
// ─────────────────────────────────────────────────────────────────────────────

// InvalidateUser drops the user's cached profile and performance rollup.
// Called after a telemetry sync touches the user.
func (c *SignalCache) InvalidateUser(ctx context.Context, userID shared.UserID) error {
	return c.cache.Delete(ctx,
		ProfileKey(userID.String()),
		PerformanceKey(userID.String()),
		CurveKey(userID.String()),
	)
}
