package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/retention"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/infrastructure/persistence/redis"
)

// ══════════════════════════════════════════════════════════════════════════════
// REFIT CURVES JOB
// ══════════════════════════════════════════════════════════════════════════════

// ActiveUserLister returns learners with recent activity.
// Implemented by postgres.SyncStateRepository.
type ActiveUserLister interface {
	ActiveUserIDs(ctx context.Context, since time.Time) ([]shared.UserID, error)
}

// RefitCurvesJob refits the personalized forgetting curve for every recently
// active learner and warms the curve cache, so interactive retention queries
// hit precomputed fits.
type RefitCurvesJob struct {
	users    ActiveUserLister
	analyzer *retention.Analyzer
	cache    *redis.Cache
	logger   *slog.Logger
	config   RefitCurvesConfig
}

// RefitCurvesConfig contains configuration for the refit job.
type RefitCurvesConfig struct {
	// ActiveWindow selects learners with activity within this window.
	ActiveWindow time.Duration

	// Concurrency is the number of fits run in parallel.
	Concurrency int

	// Timeout is the maximum duration for the entire refit run.
	Timeout time.Duration
}

// DefaultRefitCurvesConfig returns sensible defaults.
func DefaultRefitCurvesConfig() RefitCurvesConfig {
	return RefitCurvesConfig{
		ActiveWindow: 30 * 24 * time.Hour,
		Concurrency:  4,
		Timeout:      20 * time.Minute,
	}
}

// NewRefitCurvesJob creates a new refit job.
func NewRefitCurvesJob(
	users ActiveUserLister,
	analyzer *retention.Analyzer,
	cache *redis.Cache,
	logger *slog.Logger,
	config RefitCurvesConfig,
) *RefitCurvesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = 30 * 24 * time.Hour
	}

	return &RefitCurvesJob{
		users:    users,
		analyzer: analyzer,
		cache:    cache,
		logger:   logger,
		config:   config,
	}
}

// Name returns the job name.
func (j *RefitCurvesJob) Name() string {
	return "refit_curves"
}

// Description returns a human-readable description.
func (j *RefitCurvesJob) Description() string {
	return "Refits forgetting curves for active learners and warms the cache"
}

// Run executes the refit job.
func (j *RefitCurvesJob) Run(ctx context.Context) error {
	startedAt := time.Now()

	if j.config.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, j.config.Timeout)
		defer cancel()
	}

	since := time.Now().Add(-j.config.ActiveWindow)
	userIDs, err := j.users.ActiveUserIDs(ctx, since)
	if err != nil {
		return fmt.Errorf("failed to list active users: %w", err)
	}

	j.logger.Info("starting curve refit", "users", len(userIDs))

	if len(userIDs) == 0 {
		return nil
	}

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Concurrency)
		mu        sync.Mutex
		fitted    int
		baseline  int
		failed    int
	)

	for _, userID := range userIDs {
		select {
		case <-ctx.Done():
			return ctx.Err()
		default:
		}

		wg.Add(1)
		semaphore <- struct{}{}

		go func(id shared.UserID) {
			defer wg.Done()
			defer func() { <-semaphore }()

			curve, err := j.analyzer.CalculatePersonalizedCurve(ctx, id)

			mu.Lock()
			defer mu.Unlock()

			if err != nil {
				failed++
				j.logger.Error("curve fit failed", "user_id", id, "error", err)
				return
			}

			if curve.Baseline {
				baseline++
			} else {
				fitted++
			}

			if j.cache != nil {
				if err := j.cache.Set(ctx, redis.CurveKey(id.String()), curve, redis.TTLCurveCache); err != nil {
					j.logger.Warn("failed to warm curve cache", "user_id", id, "error", err)
				}
			}
		}(userID)
	}

	wg.Wait()

	j.logger.Info("curve refit completed",
		"duration", time.Since(startedAt).String(),
		"fitted", fitted,
		"baseline", baseline,
		"failed", failed,
	)

	if failed > len(userIDs)/2 {
		return fmt.Errorf("curve refit failed for more than half of users (%d/%d)", failed, len(userIDs))
	}

	return nil
}
