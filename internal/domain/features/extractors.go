package features

import (
	"context"
	"errors"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// SUB-EXTRACTORS
// Five independent extractors, one per signal category. Each returns only
// the fields it could actually compute; the pipeline merges partials over
// the neutral default. Extractors treat every upstream failure as "no
// signal" - they never propagate errors.
// ══════════════════════════════════════════════════════════════════════════════

// partial holds the subset of feature fields one extractor computed,
// keyed by canonical field name.
type partial map[string]float64

// subExtractor computes one signal category's feature fields.
type subExtractor interface {
	// name identifies the extractor for metrics.
	name() string

	// extract computes the extractor's fields. A nil or empty partial means
	// no signal was available; errors are treated the same way.
	extract(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (partial, error)
}

// notFound reports whether err is a missing-entity error, which extraction
// treats as absent signal rather than failure.
func notFound(err error) bool {
	return errors.Is(err, shared.ErrNotFound)
}

// ─────────────────────────────────────────────────────────────────────────────
// Performance
// ─────────────────────────────────────────────────────────────────────────────

type performanceExtractor struct {
	repo signal.Repository
}

func (e *performanceExtractor) name() string { return "performance" }

func (e *performanceExtractor) extract(ctx context.Context, userID shared.UserID, _ shared.ObjectiveID) (partial, error) {
	summary, err := e.repo.PerformanceSummary(ctx, userID)
	if err != nil || summary == nil {
		return nil, err
	}

	p := partial{}
	if summary.RetentionScore >= 0 {
		p["retention_score"] = summary.RetentionScore
	}
	if summary.LapseRate >= 0 {
		p["review_lapse_rate"] = summary.LapseRate
	}
	if summary.RecentAccuracy >= 0 && summary.PriorAccuracy >= 0 {
		// Centered: 0.5 flat, 1 strongly improving, 0 strongly declining.
		p["accuracy_trend"] = 0.5 + (summary.RecentAccuracy-summary.PriorAccuracy)/2
	}
	if summary.CompletedObjectives > 0 {
		p["historical_struggle_rate"] = float64(summary.StruggledObjectives) / float64(summary.CompletedObjectives)
	}
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Prerequisite
// ─────────────────────────────────────────────────────────────────────────────

// prerequisiteMasteryFloor is the mastery below which a prerequisite counts
// as a gap.
const prerequisiteMasteryFloor = 0.6

type prerequisiteExtractor struct {
	repo signal.Repository
}

func (e *prerequisiteExtractor) name() string { return "prerequisite" }

func (e *prerequisiteExtractor) extract(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (partial, error) {
	meta, err := e.repo.ObjectiveMeta(ctx, userID, objectiveID)
	if err != nil || meta == nil {
		if notFound(err) {
			err = nil
		}
		return nil, err
	}

	// Zero declared prerequisites is real information: there is no gap.
	if len(meta.Prerequisites) == 0 {
		return partial{
			"prerequisite_gap_count":   0,
			"prerequisite_mastery_gap": 0,
		}, nil
	}

	gaps := 0
	masterySum := 0.0
	for _, prereq := range meta.Prerequisites {
		if prereq.Mastery < prerequisiteMasteryFloor {
			gaps++
		}
		masterySum += prereq.Mastery
	}

	return partial{
		"prerequisite_gap_count":   float64(gaps) / 5,
		"prerequisite_mastery_gap": 1 - masterySum/float64(len(meta.Prerequisites)),
	}, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Complexity
// ─────────────────────────────────────────────────────────────────────────────

type complexityExtractor struct {
	repo signal.Repository
}

func (e *complexityExtractor) name() string { return "complexity" }

func (e *complexityExtractor) extract(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (partial, error) {
	meta, err := e.repo.ObjectiveMeta(ctx, userID, objectiveID)
	if err != nil || meta == nil {
		if notFound(err) {
			err = nil
		}
		return nil, err
	}

	p := partial{
		"objective_complexity": meta.Complexity,
	}
	mismatch := meta.Complexity - meta.MasteryLevel
	if mismatch < 0 {
		mismatch = 0
	}
	p["complexity_mismatch"] = mismatch

	if meta.TopicFamily != "" {
		profile, profileErr := e.repo.UserProfile(ctx, userID)
		if profileErr == nil && profile != nil {
			novelty := 0.8
			for _, family := range profile.TopicFamiliesSeen {
				if family == meta.TopicFamily {
					novelty = 0.2
					break
				}
			}
			p["novelty_factor"] = novelty
		}
	}
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Behavioral
// ─────────────────────────────────────────────────────────────────────────────

// behavioralWindow is the lookback for session-based features.
const behavioralWindow = 14 * 24 * time.Hour

// expectedReviewsPerSession anchors the engagement normalization.
const expectedReviewsPerSession = 20.0

type behavioralExtractor struct {
	repo signal.Repository
}

func (e *behavioralExtractor) name() string { return "behavioral" }

func (e *behavioralExtractor) extract(ctx context.Context, userID shared.UserID, _ shared.ObjectiveID) (partial, error) {
	sessions, err := e.repo.RecentSessions(ctx, userID, behavioralWindow)
	if err != nil || len(sessions) == 0 {
		return nil, err
	}

	activeDays := map[string]struct{}{}
	totalReviews := 0
	for _, session := range sessions {
		activeDays[session.CompletedAt.UTC().Format("2006-01-02")] = struct{}{}
		totalReviews += session.ReviewsCompleted
	}

	windowDays := behavioralWindow.Hours() / 24
	p := partial{
		"session_consistency": float64(len(activeDays)) / windowDays,
		"engagement_score":    float64(totalReviews) / float64(len(sessions)) / expectedReviewsPerSession,
	}

	profile, profileErr := e.repo.UserProfile(ctx, userID)
	if profileErr == nil && profile != nil && profile.OptimalSessionDuration > 0 {
		deviationSum := 0.0
		for _, session := range sessions {
			deviation := (session.Duration - profile.OptimalSessionDuration).Abs()
			deviationSum += deviation.Minutes() / profile.OptimalSessionDuration.Minutes()
		}
		p["session_duration_fit"] = 1 - deviationSum/float64(len(sessions))
	}
	return p, nil
}

// ─────────────────────────────────────────────────────────────────────────────
// Contextual
// ─────────────────────────────────────────────────────────────────────────────

// recentLoadDays is the span of the "current load" window for fatigue.
const recentLoadDays = 3

type contextualExtractor struct {
	repo signal.Repository
	now  func() time.Time
}

func (e *contextualExtractor) name() string { return "contextual" }

func (e *contextualExtractor) extract(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID) (partial, error) {
	p := partial{}
	now := e.now()

	sessions, err := e.repo.RecentSessions(ctx, userID, behavioralWindow)
	if err == nil && len(sessions) > 0 {
		recentCutoff := now.AddDate(0, 0, -recentLoadDays)
		var recentMinutes, priorMinutes float64
		for _, session := range sessions {
			if session.CompletedAt.After(recentCutoff) {
				recentMinutes += session.Duration.Minutes()
			} else {
				priorMinutes += session.Duration.Minutes()
			}
		}
		priorDays := behavioralWindow.Hours()/24 - recentLoadDays
		priorDaily := priorMinutes / priorDays
		if priorDaily > 0 {
			// 0.5 = recent load matches baseline; 1 = double or more.
			p["fatigue_index"] = recentMinutes / float64(recentLoadDays) / priorDaily / 2
		}
	}

	lastReview, err := e.repo.LastReviewAt(ctx, userID, objectiveID)
	if err == nil && !lastReview.IsZero() {
		days := now.Sub(lastReview).Hours() / 24
		p["time_since_last_review"] = days / 30
	}

	meta, metaErr := e.repo.ObjectiveMeta(ctx, userID, objectiveID)
	if metaErr == nil && meta != nil && len(meta.ContentTypes) > 0 {
		profile, profileErr := e.repo.UserProfile(ctx, userID)
		if profileErr == nil && profile != nil && len(profile.ContentPreferences) > 0 {
			preferred := map[string]struct{}{}
			for _, pref := range profile.ContentPreferences {
				preferred[pref] = struct{}{}
			}
			matched := 0
			for _, contentType := range meta.ContentTypes {
				if _, ok := preferred[contentType]; ok {
					matched++
				}
			}
			p["content_style_match"] = float64(matched) / float64(len(meta.ContentTypes))
		}
	}

	if len(p) == 0 {
		return nil, nil
	}
	return p, nil
}
