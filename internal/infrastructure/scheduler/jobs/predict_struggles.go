package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/internal/application/query"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// PREDICT STRUGGLES JOB
// ══════════════════════════════════════════════════════════════════════════════

// PredictStrugglesJob issues struggle predictions ahead of time for every
// objective a recently active learner is working on. Issued predictions are
// recorded as pending and settle when the matching session completes, which
// is what grows the training set.
type PredictStrugglesJob struct {
	users   ActiveUserLister
	signals signal.Repository
	predict *query.GetStrugglePredictionHandler
	logger  *slog.Logger
	config  PredictStrugglesConfig
}

// PredictStrugglesConfig contains configuration for the prediction job.
type PredictStrugglesConfig struct {
	// ActiveWindow selects learners and objectives with activity within it.
	ActiveWindow time.Duration

	// MaxObjectivesPerUser caps predictions per learner per run.
	MaxObjectivesPerUser int

	// Concurrency is the number of learners processed in parallel.
	Concurrency int

	// Timeout is the maximum duration for the entire run.
	Timeout time.Duration
}

// DefaultPredictStrugglesConfig returns sensible defaults.
func DefaultPredictStrugglesConfig() PredictStrugglesConfig {
	return PredictStrugglesConfig{
		ActiveWindow:         7 * 24 * time.Hour,
		MaxObjectivesPerUser: 5,
		Concurrency:          4,
		Timeout:              15 * time.Minute,
	}
}

// NewPredictStrugglesJob creates a new prediction job.
func NewPredictStrugglesJob(
	users ActiveUserLister,
	signals signal.Repository,
	predict *query.GetStrugglePredictionHandler,
	logger *slog.Logger,
	config PredictStrugglesConfig,
) *PredictStrugglesJob {
	if logger == nil {
		logger = slog.Default()
	}
	if config.Concurrency <= 0 {
		config.Concurrency = 4
	}
	if config.ActiveWindow <= 0 {
		config.ActiveWindow = 7 * 24 * time.Hour
	}
	if config.MaxObjectivesPerUser <= 0 {
		config.MaxObjectivesPerUser = 5
	}

	return &PredictStrugglesJob{
		users:   users,
		signals: signals,
		predict: predict,
		logger:  logger,
		config:  config,
	}
}

// Name returns the job name.
func (j *PredictStrugglesJob) Name() string {
	return "predict_struggles"
}

// Description returns a human-readable description.
func (j *PredictStrugglesJob) Description() string {
	return "Issues struggle predictions for active learners' current objectives"
}

// Run executes the prediction job.
func (j *PredictStrugglesJob) Run(ctx context.Context) error {
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

	j.logger.Info("starting struggle prediction run", "users", len(userIDs))

	if len(userIDs) == 0 {
		return nil
	}

	var (
		wg        sync.WaitGroup
		semaphore = make(chan struct{}, j.config.Concurrency)
		mu        sync.Mutex
		issued    int
		highRisk  int
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

			userIssued, userHighRisk, userFailed := j.predictForUser(ctx, id, since)

			mu.Lock()
			issued += userIssued
			highRisk += userHighRisk
			failed += userFailed
			mu.Unlock()
		}(userID)
	}

	wg.Wait()

	j.logger.Info("struggle prediction run completed",
		"duration", time.Since(startedAt).String(),
		"issued", issued,
		"high_risk", highRisk,
		"failed", failed,
	)

	if failed > 0 && issued == 0 {
		return fmt.Errorf("all %d predictions failed", failed)
	}

	return nil
}

// predictForUser issues one prediction per recently reviewed objective.
func (j *PredictStrugglesJob) predictForUser(ctx context.Context, userID shared.UserID, since time.Time) (issued, highRisk, failed int) {
	objectives, err := j.recentObjectives(ctx, userID, since)
	if err != nil {
		j.logger.Error("failed to load recent objectives", "user_id", userID, "error", err)
		return 0, 0, 1
	}

	for _, objectiveID := range objectives {
		dto, err := j.predict.Handle(ctx, query.GetStrugglePredictionQuery{
			UserID:      userID.String(),
			ObjectiveID: objectiveID.String(),
		})
		if err != nil {
			failed++
			j.logger.Error("prediction failed",
				"user_id", userID,
				"objective_id", objectiveID,
				"error", err,
			)
			continue
		}

		issued++
		if dto.Probability >= 0.7 {
			highRisk++
			j.logger.Info("high struggle risk",
				"user_id", userID,
				"objective_id", objectiveID,
				"probability", dto.Probability,
				"strategy", dto.Strategy,
			)
		}
	}

	return issued, highRisk, failed
}

// recentObjectives returns the objectives the user reviewed within the
// window, most recently reviewed first, capped by config.
func (j *PredictStrugglesJob) recentObjectives(ctx context.Context, userID shared.UserID, since time.Time) ([]shared.ObjectiveID, error) {
	reviews, err := j.signals.ReviewHistory(ctx, userID)
	if err != nil {
		return nil, err
	}

	seen := make(map[shared.ObjectiveID]bool)
	var objectives []shared.ObjectiveID

	// History is oldest first; walk backwards for recency order.
	for i := len(reviews) - 1; i >= 0; i-- {
		review := reviews[i]
		if review.ReviewedAt.Before(since) {
			break
		}
		if seen[review.ObjectiveID] {
			continue
		}
		seen[review.ObjectiveID] = true
		objectives = append(objectives, review.ObjectiveID)

		if len(objectives) >= j.config.MaxObjectivesPerUser {
			break
		}
	}

	return objectives, nil
}
