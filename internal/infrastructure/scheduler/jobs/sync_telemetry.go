// Package jobs contains the insight engine's scheduled batch jobs: the
// nightly telemetry sync, model retraining, forgetting curve refits, and
// experiment sweeps.
package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
	"github.com/studyloop/insight-engine/internal/infrastructure/external/lms"
)

// ══════════════════════════════════════════════════════════════════════════════
// SYNC TELEMETRY JOB
// ══════════════════════════════════════════════════════════════════════════════

// TelemetryClient fetches incremental telemetry batches from the LMS.
type TelemetryClient interface {
	FetchBatch(ctx context.Context, syncToken string) (*lms.TelemetryBatch, error)
}

// TelemetryStore persists synced telemetry.
// Implemented by postgres.SignalRepository.
type TelemetryStore interface {
	UpsertUserProfile(ctx context.Context, profile *signal.UserProfile) error
	UpsertObjective(ctx context.Context, meta *signal.ObjectiveMeta) error
	UpsertMastery(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, mastery float64) error
	InsertReviewEvents(ctx context.Context, userID shared.UserID, reviews []signal.ReviewEvent) error
	InsertSession(ctx context.Context, userID shared.UserID, session signal.SessionRecord) error
	RecordObjectiveOutcome(ctx context.Context, userID shared.UserID, objectiveID shared.ObjectiveID, struggled bool) error
}

// SyncStateStore persists the sync cursor between runs.
// Implemented by postgres.SyncStateRepository.
type SyncStateStore interface {
	SyncToken(ctx context.Context) (string, error)
	SetSyncToken(ctx context.Context, token string) error
	SetLastSyncTime(ctx context.Context, t time.Time) error
}

// CacheInvalidator drops cached reads for learners touched by a sync.
// Implemented by redis.SignalCache.
type CacheInvalidator interface {
	InvalidateUser(ctx context.Context, userID shared.UserID) error
}

// SyncTelemetryJob pulls the incremental telemetry delta from the LMS and
// persists it. Each synced session is republished as a SessionCompletedEvent
// so pending struggle predictions resolve against fresh outcomes.
type SyncTelemetryJob struct {
	client      TelemetryClient
	store       TelemetryStore
	syncState   SyncStateStore
	invalidator CacheInvalidator
	eventBus    shared.EventBus
	logger      *slog.Logger
	config      SyncTelemetryConfig

	lastStats atomic.Value // *SyncStats
}

// SyncTelemetryConfig contains configuration for the sync job.
type SyncTelemetryConfig struct {
	// Timeout is the maximum duration for the entire sync run.
	Timeout time.Duration

	// MaxBatches caps how many delta batches a single run will chase.
	MaxBatches int
}

// DefaultSyncTelemetryConfig returns sensible defaults.
func DefaultSyncTelemetryConfig() SyncTelemetryConfig {
	return SyncTelemetryConfig{
		Timeout:    15 * time.Minute,
		MaxBatches: 20,
	}
}

// SyncStats contains statistics from a sync run.
type SyncStats struct {
	StartedAt    time.Time
	CompletedAt  time.Time
	Duration     time.Duration
	Batches      int
	Profiles     int
	Objectives   int
	Reviews      int
	Sessions     int
	Outcomes     int
	Dropped      int
	FailedWrites int
	UsersTouched int
}

// NewSyncTelemetryJob creates a new sync job.
func NewSyncTelemetryJob(
	client TelemetryClient,
	store TelemetryStore,
	syncState SyncStateStore,
	invalidator CacheInvalidator,
	eventBus shared.EventBus,
	logger *slog.Logger,
	config SyncTelemetryConfig,
) *SyncTelemetryJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.MaxBatches <= 0 {
		config.MaxBatches = 20
	}

	return &SyncTelemetryJob{
		client:      client,
		store:       store,
		syncState:   syncState,
		invalidator: invalidator,
		eventBus:    eventBus,
		logger:      logger,
		config:      config,
	}
}

// Name returns the job name.
func (j *SyncTelemetryJob) Name() string {
	return "sync_telemetry"
}

// Description returns a human-readable description.
func (j *SyncTelemetryJob) Description() string {
	return "Pulls the incremental learner telemetry delta from the LMS"
}

// Run executes the sync job.
func (j *SyncTelemetryJob) Run(ctx context.Context) error {
	startedAt := time.Now()
	stats := &SyncStats{StartedAt: startedAt}

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	token, err := j.syncState.SyncToken(ctx)
	if err != nil {
		return fmt.Errorf("failed to load sync token: %w", err)
	}

	j.logger.Info("starting telemetry sync", "has_token", token != "")

	touched := make(map[shared.UserID]struct{})

	for stats.Batches < j.config.MaxBatches {
		batch, err := j.client.FetchBatch(ctx, token)
		if err != nil {
			return fmt.Errorf("failed to fetch telemetry batch: %w", err)
		}

		stats.Batches++
		stats.Dropped += batch.Dropped

		j.applyBatch(ctx, batch, stats, touched)

		if batch.NextSyncToken == "" || batch.NextSyncToken == token {
			break
		}
		token = batch.NextSyncToken

		if batchEmpty(batch) {
			break
		}
	}

	if token != "" {
		if err := j.syncState.SetSyncToken(ctx, token); err != nil {
			j.logger.Error("failed to persist sync token", "error", err)
		}
	}
	if err := j.syncState.SetLastSyncTime(ctx, time.Now()); err != nil {
		j.logger.Error("failed to persist last sync time", "error", err)
	}

	j.invalidateTouched(ctx, touched)

	stats.UsersTouched = len(touched)
	stats.CompletedAt = time.Now()
	stats.Duration = stats.CompletedAt.Sub(startedAt)
	j.lastStats.Store(stats)

	j.logger.Info("telemetry sync completed",
		"duration", stats.Duration.String(),
		"batches", stats.Batches,
		"profiles", stats.Profiles,
		"objectives", stats.Objectives,
		"reviews", stats.Reviews,
		"sessions", stats.Sessions,
		"outcomes", stats.Outcomes,
		"dropped", stats.Dropped,
		"failed_writes", stats.FailedWrites,
		"users_touched", stats.UsersTouched,
	)

	if stats.FailedWrites > 0 && stats.FailedWrites >= stats.Profiles+stats.Reviews+stats.Sessions {
		return fmt.Errorf("telemetry sync: all %d writes failed", stats.FailedWrites)
	}

	return nil
}

// applyBatch persists one delta batch. Individual write failures are counted
// and logged rather than aborting the run; the next sync retries the delta.
func (j *SyncTelemetryJob) applyBatch(
	ctx context.Context,
	batch *lms.TelemetryBatch,
	stats *SyncStats,
	touched map[shared.UserID]struct{},
) {
	for i := range batch.Profiles {
		profile := &batch.Profiles[i]
		if err := j.store.UpsertUserProfile(ctx, profile); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to upsert profile", "user_id", profile.UserID, "error", err)
			continue
		}
		stats.Profiles++
		touched[profile.UserID] = struct{}{}
	}

	for i := range batch.Objectives {
		meta := &batch.Objectives[i]
		if err := j.store.UpsertObjective(ctx, meta); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to upsert objective", "objective_id", meta.ObjectiveID, "error", err)
			continue
		}
		stats.Objectives++
	}

	for _, m := range batch.Masteries {
		if err := j.store.UpsertMastery(ctx, m.UserID, m.ObjectiveID, m.Mastery); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to upsert mastery",
				"user_id", m.UserID, "objective_id", m.ObjectiveID, "error", err)
			continue
		}
		touched[m.UserID] = struct{}{}
	}

	for userID, reviews := range batch.Reviews {
		if err := j.store.InsertReviewEvents(ctx, userID, reviews); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to insert reviews", "user_id", userID, "error", err)
			continue
		}
		stats.Reviews += len(reviews)
		touched[userID] = struct{}{}
	}

	for _, us := range batch.Sessions {
		if err := j.store.InsertSession(ctx, us.UserID, us.Session); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to insert session", "user_id", us.UserID, "error", err)
			continue
		}
		stats.Sessions++
		touched[us.UserID] = struct{}{}
		j.publishSessionCompleted(ctx, us)
	}

	for _, o := range batch.Outcomes {
		if err := j.store.RecordObjectiveOutcome(ctx, o.UserID, o.ObjectiveID, o.Struggled); err != nil {
			stats.FailedWrites++
			j.logger.Error("failed to record outcome",
				"user_id", o.UserID, "objective_id", o.ObjectiveID, "error", err)
			continue
		}
		stats.Outcomes++
		touched[o.UserID] = struct{}{}
	}
}

// publishSessionCompleted re-emits a synced session on the event bus so the
// prediction resolver can settle pending predictions against it.
func (j *SyncTelemetryJob) publishSessionCompleted(ctx context.Context, us lms.UserSession) {
	if j.eventBus == nil {
		return
	}

	event := shared.SessionCompletedEvent{
		BaseEvent:       shared.NewBaseEvent(shared.EventSessionCompleted, us.UserID.String()),
		UserID:          us.UserID.String(),
		ObjectiveID:     us.Session.ObjectiveID.String(),
		Score:           us.Session.Score,
		AgainCount:      us.Session.AgainCount,
		ValidationScore: us.Session.ValidationScore,
		CompletedAt:     us.Session.CompletedAt,
	}

	if err := j.eventBus.Publish(ctx, event); err != nil {
		j.logger.Warn("failed to publish session completed event",
			"user_id", us.UserID, "error", err)
	}
}

// invalidateTouched drops cached reads for every learner the sync updated.
func (j *SyncTelemetryJob) invalidateTouched(ctx context.Context, touched map[shared.UserID]struct{}) {
	if j.invalidator == nil {
		return
	}

	for userID := range touched {
		if err := j.invalidator.InvalidateUser(ctx, userID); err != nil {
			j.logger.Warn("failed to invalidate cache", "user_id", userID, "error", err)
		}
	}
}

// LastStats returns statistics from the most recent sync run.
func (j *SyncTelemetryJob) LastStats() *SyncStats {
	stats := j.lastStats.Load()
	if stats == nil {
		return nil
	}
	return stats.(*SyncStats)
}

// batchEmpty reports whether a delta batch carried no records at all.
func batchEmpty(b *lms.TelemetryBatch) bool {
	return len(b.Profiles) == 0 &&
		len(b.Objectives) == 0 &&
		len(b.Masteries) == 0 &&
		len(b.Reviews) == 0 &&
		len(b.Sessions) == 0 &&
		len(b.Outcomes) == 0
}
