// Package shared contains common domain types, errors, events, and value objects
// that are used across all domain packages.
package shared

import (
	"context"
	"time"
)

// EventType represents the type of domain event.
type EventType string

// Domain event types - these drive the event-driven architecture.
// Each event represents something significant that happened in the domain.
const (
	// Prediction events
	EventPredictionIssued   EventType = "prediction.issued"
	EventPredictionResolved EventType = "prediction.resolved"
	EventModelTrained       EventType = "prediction.model_trained"

	// Retention events
	EventCurveFitted EventType = "retention.curve_fitted"

	// Experiment events
	EventExperimentCreated   EventType = "experiment.created"
	EventVariantAssigned     EventType = "experiment.variant_assigned"
	EventMetricsRecorded     EventType = "experiment.metrics_recorded"
	EventExperimentConcluded EventType = "experiment.concluded"

	// Telemetry events
	EventSessionCompleted EventType = "telemetry.session_completed"

	// System events
	EventJobCompleted EventType = "system.job_completed"
	EventJobFailed    EventType = "system.job_failed"
)

// Event is the base interface for all domain events.
type Event interface {
	// EventType returns the type of the event.
	EventType() EventType

	// OccurredAt returns when the event occurred.
	OccurredAt() time.Time

	// AggregateID returns the ID of the aggregate that produced this event.
	AggregateID() string

	// Payload returns the event data as a map for serialization.
	Payload() map[string]interface{}
}

// EventHandler processes a domain event. Handlers must be safe for
// concurrent invocation; the bus may dispatch from multiple workers.
type EventHandler interface {
	// Handle processes the event. Returning an error marks the delivery
	// failed; the bus logs it but does not retry.
	Handle(ctx context.Context, event Event) error

	// Name returns a stable handler name for logging and metrics.
	Name() string
}

// EventHandlerFunc adapts a function to the EventHandler interface.
type EventHandlerFunc struct {
	HandlerName string
	Func        func(ctx context.Context, event Event) error
}

// Handle implements EventHandler.
func (f EventHandlerFunc) Handle(ctx context.Context, event Event) error {
	return f.Func(ctx, event)
}

// Name implements EventHandler.
func (f EventHandlerFunc) Name() string {
	return f.HandlerName
}

// EventBus publishes domain events to subscribed handlers.
type EventBus interface {
	// Publish delivers the event to all handlers subscribed to its type.
	Publish(ctx context.Context, event Event) error

	// Subscribe registers a handler for the given event type.
	Subscribe(eventType EventType, handler EventHandler) error
}

// BaseEvent provides common event functionality.
type BaseEvent struct {
	Type        EventType `json:"type"`
	Timestamp   time.Time `json:"timestamp"`
	AggregateId string    `json:"aggregate_id"`
	Version     int       `json:"version"`
}

// EventType implements Event interface.
func (e BaseEvent) EventType() EventType {
	return e.Type
}

// OccurredAt implements Event interface.
func (e BaseEvent) OccurredAt() time.Time {
	return e.Timestamp
}

// AggregateID implements Event interface.
func (e BaseEvent) AggregateID() string {
	return e.AggregateId
}

// NewBaseEvent creates a new base event.
func NewBaseEvent(eventType EventType, aggregateID string) BaseEvent {
	return BaseEvent{
		Type:        eventType,
		Timestamp:   time.Now().UTC(),
		AggregateId: aggregateID,
		Version:     1,
	}
}

// ═══════════════════════════════════════════════════════════════════════════
// Concrete Events
// ═══════════════════════════════════════════════════════════════════════════

// PredictionIssuedEvent is published when a struggle prediction is stored.
type PredictionIssuedEvent struct {
	BaseEvent
	PredictionID string  `json:"prediction_id"`
	UserID       string  `json:"user_id"`
	ObjectiveID  string  `json:"objective_id"`
	Probability  float64 `json:"probability"`
	Confidence   float64 `json:"confidence"`
}

// Payload implements Event interface.
func (e PredictionIssuedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"prediction_id": e.PredictionID,
		"user_id":       e.UserID,
		"objective_id":  e.ObjectiveID,
		"probability":   e.Probability,
		"confidence":    e.Confidence,
	}
}

// PredictionResolvedEvent is published when an observed outcome settles a
// pending prediction.
type PredictionResolvedEvent struct {
	BaseEvent
	PredictionID string `json:"prediction_id"`
	UserID       string `json:"user_id"`
	Outcome      string `json:"outcome"` // confirmed | false_positive | missed
}

// Payload implements Event interface.
func (e PredictionResolvedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"prediction_id": e.PredictionID,
		"user_id":       e.UserID,
		"outcome":       e.Outcome,
	}
}

// ModelTrainedEvent is published after a successful training run.
type ModelTrainedEvent struct {
	BaseEvent
	ExampleCount int     `json:"example_count"`
	Accuracy     float64 `json:"accuracy"`
	F1           float64 `json:"f1"`
	Calibration  float64 `json:"calibration"`
}

// Payload implements Event interface.
func (e ModelTrainedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"example_count": e.ExampleCount,
		"accuracy":      e.Accuracy,
		"f1":            e.F1,
		"calibration":   e.Calibration,
	}
}

// CurveFittedEvent is published after a forgetting-curve fit.
type CurveFittedEvent struct {
	BaseEvent
	UserID     string  `json:"user_id"`
	R0         float64 `json:"r0"`
	DecayRate  float64 `json:"decay_rate"`
	Confidence float64 `json:"confidence"`
	Baseline   bool    `json:"baseline"` // true when the Ebbinghaus fallback was used
}

// Payload implements Event interface.
func (e CurveFittedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":    e.UserID,
		"r0":         e.R0,
		"decay_rate": e.DecayRate,
		"confidence": e.Confidence,
		"baseline":   e.Baseline,
	}
}

// VariantAssignedEvent is published when a user joins an experiment arm.
type VariantAssignedEvent struct {
	BaseEvent
	UserID       string `json:"user_id"`
	ExperimentID string `json:"experiment_id"`
	Variant      string `json:"variant"`
}

// Payload implements Event interface.
func (e VariantAssignedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":       e.UserID,
		"experiment_id": e.ExperimentID,
		"variant":       e.Variant,
	}
}

// ExperimentConcludedEvent is published when an experiment is concluded.
type ExperimentConcludedEvent struct {
	BaseEvent
	ExperimentID string  `json:"experiment_id"`
	Winner       string  `json:"winner"` // A | B | inconclusive
	PValue       float64 `json:"p_value"`
}

// Payload implements Event interface.
func (e ExperimentConcludedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"experiment_id": e.ExperimentID,
		"winner":        e.Winner,
		"p_value":       e.PValue,
	}
}

// SessionCompletedEvent carries the session summary the outcome heuristic
// needs to settle pending predictions for the user.
type SessionCompletedEvent struct {
	BaseEvent
	UserID          string    `json:"user_id"`
	ObjectiveID     string    `json:"objective_id"`
	Score           float64   `json:"score"`            // session score in [0,1]
	AgainCount      int       `json:"again_count"`      // number of "again" ratings
	ValidationScore float64   `json:"validation_score"` // post-session check score in [0,1], -1 if absent
	CompletedAt     time.Time `json:"completed_at"`
}

// Payload implements Event interface.
func (e SessionCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"user_id":          e.UserID,
		"objective_id":     e.ObjectiveID,
		"score":            e.Score,
		"again_count":      e.AgainCount,
		"validation_score": e.ValidationScore,
		"completed_at":     e.CompletedAt,
	}
}

// JobCompletedEvent is published by the scheduler after a job run.
type JobCompletedEvent struct {
	BaseEvent
	JobName  string        `json:"job_name"`
	Duration time.Duration `json:"duration"`
	Success  bool          `json:"success"`
}

// Payload implements Event interface.
func (e JobCompletedEvent) Payload() map[string]interface{} {
	return map[string]interface{}{
		"job_name": e.JobName,
		"duration": e.Duration.String(),
		"success":  e.Success,
	}
}
