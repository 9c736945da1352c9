// Package eventhandler contains domain event handlers.
package eventhandler

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/internal/domain/signal"
)

// ══════════════════════════════════════════════════════════════════════════════
// ON SESSION COMPLETED HANDLER
// Settles pending struggle predictions when a study session finishes.
//
// The session summary is reduced to a single observed label by the outcome
// heuristic (low score, repeated "again" ratings, or a failed validation),
// and every pending prediction for the (user, objective) pair is resolved
// against it. Resolved predictions become training examples for the next
// model retrain.
// ══════════════════════════════════════════════════════════════════════════════

// OnSessionCompletedHandler resolves pending predictions against observed
// session outcomes.
type OnSessionCompletedHandler struct {
	predictionRepo prediction.Repository
	eventBus       shared.EventBus
	logger         *slog.Logger
}

// NewOnSessionCompletedHandler creates a new OnSessionCompletedHandler.
func NewOnSessionCompletedHandler(
	predictionRepo prediction.Repository,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *OnSessionCompletedHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &OnSessionCompletedHandler{
		predictionRepo: predictionRepo,
		eventBus:       eventBus,
		logger:         logger.With("handler", "on_session_completed"),
	}
}

// Name implements shared.EventHandler.
func (h *OnSessionCompletedHandler) Name() string {
	return "on_session_completed"
}

// Handle implements shared.EventHandler.
func (h *OnSessionCompletedHandler) Handle(ctx context.Context, event shared.Event) error {
	completed, ok := event.(shared.SessionCompletedEvent)
	if !ok {
		return fmt.Errorf("on_session_completed: unexpected event type %s", event.EventType())
	}

	userID, err := shared.NewUserID(completed.UserID)
	if err != nil {
		return fmt.Errorf("on_session_completed: %w", err)
	}
	objectiveID, err := shared.NewObjectiveID(completed.ObjectiveID)
	if err != nil {
		return fmt.Errorf("on_session_completed: %w", err)
	}

	actualStruggle := prediction.ActualStruggle(signal.SessionRecord{
		ObjectiveID:     objectiveID,
		CompletedAt:     completed.CompletedAt,
		Score:           completed.Score,
		AgainCount:      completed.AgainCount,
		ValidationScore: completed.ValidationScore,
	})

	pending, err := h.predictionRepo.PendingForUser(ctx, userID, objectiveID)
	if err != nil {
		return fmt.Errorf("on_session_completed: loading pending predictions: %w", err)
	}
	if len(pending) == 0 {
		return nil
	}

	resolved := 0
	for _, record := range pending {
		if err := record.Resolve(actualStruggle, completed.CompletedAt); err != nil {
			// Another consumer settled it between load and resolve.
			if errors.Is(err, shared.ErrStateTransition) {
				continue
			}
			return fmt.Errorf("on_session_completed: resolving %s: %w", record.ID, err)
		}
		if err := h.predictionRepo.UpdateRecord(ctx, record); err != nil {
			return fmt.Errorf("on_session_completed: persisting %s: %w", record.ID, err)
		}
		resolved++

		resolvedEvent := shared.PredictionResolvedEvent{
			BaseEvent:    shared.NewBaseEvent(shared.EventPredictionResolved, completed.UserID),
			PredictionID: record.ID,
			UserID:       completed.UserID,
			Outcome:      string(record.Outcome),
		}
		if err := h.eventBus.Publish(ctx, resolvedEvent); err != nil {
			h.logger.Warn("failed to publish prediction resolved event",
				"prediction_id", record.ID, "error", err)
		}
	}

	h.logger.Info("session outcome settled predictions",
		"user_id", completed.UserID,
		"objective_id", completed.ObjectiveID,
		"actual_struggle", actualStruggle,
		"resolved", resolved)
	return nil
}
