package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/retention"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET RETENTION FORECAST QUERY
// Fits (or falls back to the Ebbinghaus baseline for) the user's personal
// forgetting curve and projects retention over the standard horizons.
// With an objective given, the forecast is anchored at that objective's
// last review and includes the recommended review date.
// ══════════════════════════════════════════════════════════════════════════════

// forecastHorizonsDays are the projection horizons in the DTO.
var forecastHorizonsDays = []int{1, 3, 7, 14, 30, 90}

// GetRetentionForecastQuery identifies the user, with an optional objective.
type GetRetentionForecastQuery struct {
	// UserID is the learner.
	UserID string

	// ObjectiveID optionally anchors the forecast to one objective's
	// review history. Empty means a user-level curve only.
	ObjectiveID string
}

// Validate validates the query.
func (q GetRetentionForecastQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if q.ObjectiveID != "" {
		if _, err := shared.NewObjectiveID(q.ObjectiveID); err != nil {
			return err
		}
	}
	return nil
}

// RetentionPointDTO is projected retention at one horizon.
type RetentionPointDTO struct {
	// Days is the horizon in days after a review.
	Days int `json:"days"`

	// Retention is the projected retention in [0, 1].
	Retention float64 `json:"retention"`
}

// RetentionForecastDTO is the forecast returned to callers.
type RetentionForecastDTO struct {
	// UserID is the learner.
	UserID string `json:"user_id"`

	// R0 is the fitted initial retention.
	R0 float64 `json:"r0"`

	// DecayRate is the fitted exponential decay constant per day.
	DecayRate float64 `json:"decay_rate"`

	// HalfLifeDays is when retention falls to half of R0.
	HalfLifeDays float64 `json:"half_life_days"`

	// Confidence expresses how much history backs the fit.
	Confidence float64 `json:"confidence"`

	// Baseline is true when the Ebbinghaus default was used instead of a
	// personal fit.
	Baseline bool `json:"baseline"`

	// Projection is retention at each standard horizon.
	Projection []RetentionPointDTO `json:"projection"`

	// ─────────────────────────────────────────────────────────────────────────
	// Objective anchor (only with an objective ID)
	// ─────────────────────────────────────────────────────────────────────────

	// ObjectiveID is the anchoring objective, empty for user-level curves.
	ObjectiveID string `json:"objective_id,omitempty"`

	// CurrentRetention is the projected retention right now (nil without
	// an objective).
	CurrentRetention *float64 `json:"current_retention,omitempty"`

	// DaysUntilForgotten is days until retention crosses the forgetting
	// threshold (nil without an objective).
	DaysUntilForgotten *float64 `json:"days_until_forgotten,omitempty"`

	// RecommendedReviewAt is when the next review should happen (nil
	// without an objective).
	RecommendedReviewAt *time.Time `json:"recommended_review_at,omitempty"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetRetentionForecastHandler handles the GetRetentionForecastQuery.
type GetRetentionForecastHandler struct {
	analyzer *retention.Analyzer
	eventBus shared.EventBus
	logger   *slog.Logger
}

// NewGetRetentionForecastHandler creates a new GetRetentionForecastHandler.
func NewGetRetentionForecastHandler(
	analyzer *retention.Analyzer,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *GetRetentionForecastHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &GetRetentionForecastHandler{
		analyzer: analyzer,
		eventBus: eventBus,
		logger:   logger.With("handler", "get_retention_forecast"),
	}
}

// Handle executes the query.
func (h *GetRetentionForecastHandler) Handle(ctx context.Context, q GetRetentionForecastQuery) (*RetentionForecastDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_retention_forecast: validation failed: %w", err)
	}

	userID := shared.UserID(q.UserID)

	var curve retention.CurveModel
	var dto *RetentionForecastDTO

	if q.ObjectiveID != "" {
		decay, err := h.analyzer.PredictDecay(ctx, userID, shared.ObjectiveID(q.ObjectiveID))
		if err != nil {
			return nil, fmt.Errorf("get_retention_forecast: decay prediction failed: %w", err)
		}
		curve = decay.Curve

		currentRetention := decay.CurrentRetention
		daysUntilForgotten := decay.DaysUntilForgotten
		recommendedReviewAt := decay.RecommendedReviewAt
		dto = &RetentionForecastDTO{
			ObjectiveID:         q.ObjectiveID,
			CurrentRetention:    &currentRetention,
			DaysUntilForgotten:  &daysUntilForgotten,
			RecommendedReviewAt: &recommendedReviewAt,
		}
	} else {
		fitted, err := h.analyzer.CalculatePersonalizedCurve(ctx, userID)
		if err != nil {
			return nil, fmt.Errorf("get_retention_forecast: curve fit failed: %w", err)
		}
		curve = fitted
		dto = &RetentionForecastDTO{}
	}

	dto.UserID = q.UserID
	dto.R0 = curve.R0
	dto.DecayRate = curve.DecayRate
	dto.HalfLifeDays = curve.HalfLife
	dto.Confidence = curve.Confidence
	dto.Baseline = curve.Baseline
	dto.Projection = make([]RetentionPointDTO, 0, len(forecastHorizonsDays))
	for _, days := range forecastHorizonsDays {
		dto.Projection = append(dto.Projection, RetentionPointDTO{
			Days:      days,
			Retention: curve.RetentionAt(float64(days)),
		})
	}

	event := shared.CurveFittedEvent{
		BaseEvent:  shared.NewBaseEvent(shared.EventCurveFitted, q.UserID),
		UserID:     q.UserID,
		R0:         curve.R0,
		DecayRate:  curve.DecayRate,
		Confidence: curve.Confidence,
		Baseline:   curve.Baseline,
	}
	if err := h.eventBus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish curve fitted event", "error", err)
	}

	return dto, nil
}
