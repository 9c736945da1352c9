// Package observability exposes Prometheus metrics for the insight engine's
// core operations and batch jobs. An event-bus observer translates domain
// events into metric updates, so the domain layer stays metrics-free.
package observability

import (
	"context"
	"log/slog"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/promauto"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

// ══════════════════════════════════════════════════════════════════════════════
// METRICS
// ══════════════════════════════════════════════════════════════════════════════

// Metrics holds the engine's Prometheus collectors.
type Metrics struct {
	// PredictionsIssued counts issued struggle predictions.
	PredictionsIssued prometheus.Counter

	// PredictionsResolved counts resolved predictions by outcome
	// (confirmed, false_positive, missed).
	PredictionsResolved *prometheus.CounterVec

	// TrainingRuns counts completed model training runs.
	TrainingRuns prometheus.Counter

	// ModelAccuracy is the holdout accuracy of the most recent training run.
	ModelAccuracy prometheus.Gauge

	// ModelF1 is the holdout F1 of the most recent training run.
	ModelF1 prometheus.Gauge

	// TrainingExamples is the training-set size of the most recent run.
	TrainingExamples prometheus.Gauge

	// CurveFits counts forgetting curve fits by kind (personalized, baseline).
	CurveFits *prometheus.CounterVec

	// VariantAssignments counts experiment assignments by variant.
	VariantAssignments *prometheus.CounterVec

	// ExperimentsConcluded counts concluded experiments by winner
	// (A, B, inconclusive).
	ExperimentsConcluded *prometheus.CounterVec

	// JobDuration observes scheduled job run durations by job name.
	JobDuration *prometheus.HistogramVec

	// JobRuns counts scheduled job runs by job name and status
	// (success, failure).
	JobRuns *prometheus.CounterVec
}

// NewMetrics registers the engine's collectors with the given registerer.
func NewMetrics(reg prometheus.Registerer) *Metrics {
	factory := promauto.With(reg)

	return &Metrics{
		PredictionsIssued: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "prediction",
			Name:      "issued_total",
			Help:      "Total struggle predictions issued.",
		}),
		PredictionsResolved: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "prediction",
			Name:      "resolved_total",
			Help:      "Total struggle predictions resolved, by outcome.",
		}, []string{"outcome"}),
		TrainingRuns: factory.NewCounter(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "model",
			Name:      "training_runs_total",
			Help:      "Total completed model training runs.",
		}),
		ModelAccuracy: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insight",
			Subsystem: "model",
			Name:      "accuracy",
			Help:      "Holdout accuracy of the most recent training run.",
		}),
		ModelF1: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insight",
			Subsystem: "model",
			Name:      "f1",
			Help:      "Holdout F1 of the most recent training run.",
		}),
		TrainingExamples: factory.NewGauge(prometheus.GaugeOpts{
			Namespace: "insight",
			Subsystem: "model",
			Name:      "training_examples",
			Help:      "Training-set size of the most recent run.",
		}),
		CurveFits: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "retention",
			Name:      "curve_fits_total",
			Help:      "Total forgetting curve fits, by kind.",
		}, []string{"kind"}),
		VariantAssignments: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "experiment",
			Name:      "assignments_total",
			Help:      "Total experiment variant assignments, by variant.",
		}, []string{"variant"}),
		ExperimentsConcluded: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "experiment",
			Name:      "concluded_total",
			Help:      "Total concluded experiments, by winner.",
		}, []string{"winner"}),
		JobDuration: factory.NewHistogramVec(prometheus.HistogramOpts{
			Namespace: "insight",
			Subsystem: "jobs",
			Name:      "duration_seconds",
			Help:      "Scheduled job run durations.",
			Buckets:   prometheus.ExponentialBuckets(0.1, 2, 14), // 100ms .. ~14min
		}, []string{"job"}),
		JobRuns: factory.NewCounterVec(prometheus.CounterOpts{
			Namespace: "insight",
			Subsystem: "jobs",
			Name:      "runs_total",
			Help:      "Scheduled job runs, by status.",
		}, []string{"job", "status"}),
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// EVENT OBSERVER
// ══════════════════════════════════════════════════════════════════════════════

// EventObserver is an event-bus handler that turns domain events into metric
// updates. Register it with SubscribeAll so it sees every event.
type EventObserver struct {
	metrics *Metrics
	logger  *slog.Logger
}

// NewEventObserver creates a new observer over the given metrics.
func NewEventObserver(metrics *Metrics, logger *slog.Logger) *EventObserver {
	if logger == nil {
		logger = slog.Default()
	}

	return &EventObserver{
		metrics: metrics,
		logger:  logger,
	}
}

// Name implements shared.EventHandler.
func (o *EventObserver) Name() string {
	return "metrics_observer"
}

// Handle implements shared.EventHandler. Unknown event types are ignored.
func (o *EventObserver) Handle(ctx context.Context, event shared.Event) error {
	switch e := event.(type) {
	case shared.PredictionIssuedEvent:
		o.metrics.PredictionsIssued.Inc()

	case shared.PredictionResolvedEvent:
		o.metrics.PredictionsResolved.WithLabelValues(e.Outcome).Inc()

	case shared.ModelTrainedEvent:
		o.metrics.TrainingRuns.Inc()
		o.metrics.ModelAccuracy.Set(e.Accuracy)
		o.metrics.ModelF1.Set(e.F1)
		o.metrics.TrainingExamples.Set(float64(e.ExampleCount))

	case shared.CurveFittedEvent:
		kind := "personalized"
		if e.Baseline {
			kind = "baseline"
		}
		o.metrics.CurveFits.WithLabelValues(kind).Inc()

	case shared.VariantAssignedEvent:
		o.metrics.VariantAssignments.WithLabelValues(e.Variant).Inc()

	case shared.ExperimentConcludedEvent:
		o.metrics.ExperimentsConcluded.WithLabelValues(e.Winner).Inc()

	case shared.JobCompletedEvent:
		status := "success"
		if !e.Success {
			status = "failure"
		}
		o.metrics.JobDuration.WithLabelValues(e.JobName).Observe(e.Duration.Seconds())
		o.metrics.JobRuns.WithLabelValues(e.JobName, status).Inc()
	}

	return nil
}
