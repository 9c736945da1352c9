package observability

import (
	"context"
	"io"
	"log/slog"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/prometheus/client_golang/prometheus/testutil"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/shared"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func newTestObserver(t *testing.T) (*EventObserver, *Metrics) {
	t.Helper()
	metrics := NewMetrics(prometheus.NewRegistry())
	return NewEventObserver(metrics, testLogger()), metrics
}

func TestEventObserverPredictions(t *testing.T) {
	observer, metrics := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, observer.Handle(ctx, shared.PredictionIssuedEvent{
		BaseEvent:   shared.NewBaseEvent(shared.EventPredictionIssued, "user-1"),
		Probability: 0.8,
	}))
	require.NoError(t, observer.Handle(ctx, shared.PredictionResolvedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPredictionResolved, "user-1"),
		Outcome:   "confirmed",
	}))
	require.NoError(t, observer.Handle(ctx, shared.PredictionResolvedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventPredictionResolved, "user-2"),
		Outcome:   "false_positive",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionsIssued))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionsResolved.WithLabelValues("confirmed")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.PredictionsResolved.WithLabelValues("false_positive")))
	assert.Equal(t, 0.0, testutil.ToFloat64(metrics.PredictionsResolved.WithLabelValues("missed")))
}

func TestEventObserverModelTrained(t *testing.T) {
	observer, metrics := newTestObserver(t)

	require.NoError(t, observer.Handle(context.Background(), shared.ModelTrainedEvent{
		BaseEvent:    shared.NewBaseEvent(shared.EventModelTrained, "model"),
		ExampleCount: 120,
		Accuracy:     0.83,
		F1:           0.79,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.TrainingRuns))
	assert.Equal(t, 0.83, testutil.ToFloat64(metrics.ModelAccuracy))
	assert.Equal(t, 0.79, testutil.ToFloat64(metrics.ModelF1))
	assert.Equal(t, 120.0, testutil.ToFloat64(metrics.TrainingExamples))
}

func TestEventObserverCurveFits(t *testing.T) {
	observer, metrics := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, observer.Handle(ctx, shared.CurveFittedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCurveFitted, "user-1"),
		Baseline:  false,
	}))
	require.NoError(t, observer.Handle(ctx, shared.CurveFittedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventCurveFitted, "user-2"),
		Baseline:  true,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CurveFits.WithLabelValues("personalized")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.CurveFits.WithLabelValues("baseline")))
}

func TestEventObserverExperiments(t *testing.T) {
	observer, metrics := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, observer.Handle(ctx, shared.VariantAssignedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventVariantAssigned, "user-1"),
		Variant:   "A",
	}))
	require.NoError(t, observer.Handle(ctx, shared.ExperimentConcludedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventExperimentConcluded, "exp-1"),
		Winner:    "B",
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.VariantAssignments.WithLabelValues("A")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.ExperimentsConcluded.WithLabelValues("B")))
}

func TestEventObserverJobRuns(t *testing.T) {
	observer, metrics := newTestObserver(t)
	ctx := context.Background()

	require.NoError(t, observer.Handle(ctx, shared.JobCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventJobCompleted, "sync_telemetry"),
		JobName:   "sync_telemetry",
		Duration:  2 * time.Second,
		Success:   true,
	}))
	require.NoError(t, observer.Handle(ctx, shared.JobCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventJobFailed, "sync_telemetry"),
		JobName:   "sync_telemetry",
		Duration:  time.Second,
		Success:   false,
	}))

	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("sync_telemetry", "success")))
	assert.Equal(t, 1.0, testutil.ToFloat64(metrics.JobRuns.WithLabelValues("sync_telemetry", "failure")))
}

func TestEventObserverIgnoresUnknownEvents(t *testing.T) {
	observer, _ := newTestObserver(t)

	require.NoError(t, observer.Handle(context.Background(), shared.SessionCompletedEvent{
		BaseEvent: shared.NewBaseEvent(shared.EventSessionCompleted, "user-1"),
	}))
}
