// Package query contains read operations (CQRS - Queries).
package query

import (
	"context"
	"fmt"
	"log/slog"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/features"
	"github.com/studyloop/insight-engine/internal/domain/prediction"
	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// GET STRUGGLE PREDICTION QUERY
// Extracts the user's current feature vector for an objective and runs the
// active predictor over it. The issued prediction is recorded as pending
// so a later session completion can settle it and feed training.
// ══════════════════════════════════════════════════════════════════════════════

// GetStrugglePredictionQuery identifies the user/objective pair.
type GetStrugglePredictionQuery struct {
	// UserID is the learner.
	UserID string

	// ObjectiveID is the learning objective.
	ObjectiveID string
}

// Validate validates the query.
func (q GetStrugglePredictionQuery) Validate() error {
	if _, err := shared.NewUserID(q.UserID); err != nil {
		return err
	}
	if _, err := shared.NewObjectiveID(q.ObjectiveID); err != nil {
		return err
	}
	return nil
}

// FeatureContributionDTO is one feature's effect on the probability.
type FeatureContributionDTO struct {
	// Name is the canonical feature name.
	Name string `json:"name"`

	// Value is the extracted feature value in [0, 1].
	Value float64 `json:"value"`

	// Contribution is the signed effect on the probability.
	Contribution float64 `json:"contribution"`
}

// StrugglePredictionDTO is the prediction returned to callers.
type StrugglePredictionDTO struct {
	// PredictionID identifies the pending record created for this
	// prediction.
	PredictionID string `json:"prediction_id"`

	// UserID is the learner.
	UserID string `json:"user_id"`

	// ObjectiveID is the learning objective.
	ObjectiveID string `json:"objective_id"`

	// Probability is the struggle probability in [0, 1].
	Probability float64 `json:"probability"`

	// Confidence expresses how much signal backs the probability.
	Confidence float64 `json:"confidence"`

	// Strategy names the predictor that produced the result.
	Strategy string `json:"strategy"`

	// DataQuality is the fraction of features computed from real signal.
	DataQuality float64 `json:"data_quality"`

	// TopFeatures lists the strongest contributions, strongest first.
	TopFeatures []FeatureContributionDTO `json:"top_features"`

	// RiskFactors are human-readable conditions that raised the probability.
	RiskFactors []string `json:"risk_factors"`

	// ProtectiveFactors are conditions that lowered it.
	ProtectiveFactors []string `json:"protective_factors"`

	// PredictedAt is when the prediction was issued.
	PredictedAt time.Time `json:"predicted_at"`
}

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER
// ══════════════════════════════════════════════════════════════════════════════

// GetStrugglePredictionHandler handles the GetStrugglePredictionQuery.
type GetStrugglePredictionHandler struct {
	pipeline       *features.Pipeline
	model          *prediction.LogisticPredictor
	fallback       *prediction.RuleBasedPredictor
	predictionRepo prediction.Repository
	eventBus       shared.EventBus
	logger         *slog.Logger
	now            func() time.Time
}

// NewGetStrugglePredictionHandler creates a new GetStrugglePredictionHandler.
func NewGetStrugglePredictionHandler(
	pipeline *features.Pipeline,
	model *prediction.LogisticPredictor,
	fallback *prediction.RuleBasedPredictor,
	predictionRepo prediction.Repository,
	eventBus shared.EventBus,
	logger *slog.Logger,
) *GetStrugglePredictionHandler {
	if logger == nil {
		logger = slog.Default()
	}

	return &GetStrugglePredictionHandler{
		pipeline:       pipeline,
		model:          model,
		fallback:       fallback,
		predictionRepo: predictionRepo,
		eventBus:       eventBus,
		logger:         logger.With("handler", "get_struggle_prediction"),
		now:            func() time.Time { return time.Now().UTC() },
	}
}

// Handle executes the query.
func (h *GetStrugglePredictionHandler) Handle(ctx context.Context, q GetStrugglePredictionQuery) (*StrugglePredictionDTO, error) {
	if err := q.Validate(); err != nil {
		return nil, fmt.Errorf("get_struggle_prediction: validation failed: %w", err)
	}

	userID := shared.UserID(q.UserID)
	objectiveID := shared.ObjectiveID(q.ObjectiveID)

	vector, err := h.pipeline.Extract(ctx, userID, objectiveID)
	if err != nil {
		return nil, fmt.Errorf("get_struggle_prediction: feature extraction failed: %w", err)
	}

	// The trained model takes over from the rules once it exists; until
	// then every prediction comes from the rule-based strategy.
	predictor := h.activePredictor()
	result, err := predictor.Predict(vector)
	if err != nil {
		return nil, fmt.Errorf("get_struggle_prediction: %s predictor failed: %w", predictor.Name(), err)
	}

	record := prediction.NewRecord(userID, objectiveID, predictor.Name(),
		vector.Values(), vector.Meta.DataQuality, result, h.now())
	if err := h.predictionRepo.SaveRecord(ctx, record); err != nil {
		return nil, fmt.Errorf("get_struggle_prediction: failed to store record: %w", err)
	}

	event := shared.PredictionIssuedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventPredictionIssued, q.UserID),
		PredictionID: record.ID,
		UserID:       q.UserID,
		ObjectiveID:  q.ObjectiveID,
		Probability:  result.Probability.Float64(),
		Confidence:   result.Confidence.Float64(),
	}
	if err := h.eventBus.Publish(ctx, event); err != nil {
		h.logger.Warn("failed to publish prediction issued event", "error", err)
	}

	return toPredictionDTO(record, result), nil
}

// activePredictor returns the trained model when available, otherwise the
// rule-based fallback.
func (h *GetStrugglePredictionHandler) activePredictor() prediction.Predictor {
	if h.model != nil && h.model.IsTrained() {
		return h.model
	}
	return h.fallback
}

func toPredictionDTO(record *prediction.Record, result prediction.Result) *StrugglePredictionDTO {
	topFeatures := make([]FeatureContributionDTO, 0, len(result.Reasoning.TopFeatures))
	for _, contribution := range result.Reasoning.TopFeatures {
		topFeatures = append(topFeatures, FeatureContributionDTO{
			Name:         contribution.Name,
			Value:        contribution.Value,
			Contribution: contribution.Contribution,
		})
	}

	return &StrugglePredictionDTO{
		PredictionID:      record.ID,
		UserID:            record.UserID.String(),
		ObjectiveID:       record.ObjectiveID.String(),
		Probability:       result.Probability.Float64(),
		Confidence:        result.Confidence.Float64(),
		Strategy:          record.Strategy,
		DataQuality:       record.DataQuality(),
		TopFeatures:       topFeatures,
		RiskFactors:       result.Reasoning.RiskFactors,
		ProtectiveFactors: result.Reasoning.ProtectiveFactors,
		PredictedAt:       record.CreatedAt,
	}
}
