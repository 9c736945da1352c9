package messaging

import (
	"context"
	"errors"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/pkg/retry"
)

type recordedEvent struct {
	eventType shared.EventType
}

func (e recordedEvent) EventType() shared.EventType     { return e.eventType }
func (e recordedEvent) OccurredAt() time.Time           { return time.Now() }
func (e recordedEvent) AggregateID() string             { return "agg-1" }
func (e recordedEvent) Payload() map[string]interface{} { return map[string]interface{}{} }

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func countingHandler(name string, counter *int, mu *sync.Mutex) shared.EventHandler {
	return shared.EventHandlerFunc{
		HandlerName: name,
		Func: func(ctx context.Context, event shared.Event) error {
			mu.Lock()
			defer mu.Unlock()
			*counter++
			return nil
		},
	}
}

func TestInMemoryEventBusSync(t *testing.T) {
	bus := NewInMemoryEventBus(InMemoryEventBusConfig{
		AsyncMode:     false,
		EnableMetrics: true,
	})
	defer bus.Close()

	var mu sync.Mutex
	var typed, global int

	require.NoError(t, bus.Subscribe(shared.EventPredictionIssued, countingHandler("typed", &typed, &mu)))
	require.NoError(t, bus.SubscribeAll(countingHandler("global", &global, &mu)))

	ctx := context.Background()
	require.NoError(t, bus.Publish(ctx, recordedEvent{eventType: shared.EventPredictionIssued}))
	require.NoError(t, bus.Publish(ctx, recordedEvent{eventType: shared.EventModelTrained}))

	mu.Lock()
	defer mu.Unlock()
	assert.Equal(t, 1, typed, "typed handler sees only its event type")
	assert.Equal(t, 2, global, "global handler sees every event")

	snap := bus.Metrics().Snapshot()
	assert.Equal(t, int64(2), snap.TotalPublished)
}

func TestInMemoryEventBusClosed(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	require.NoError(t, bus.Close())

	err := bus.Publish(context.Background(), recordedEvent{eventType: shared.EventModelTrained})
	assert.ErrorIs(t, err, ErrEventBusClosed)

	err = bus.Subscribe(shared.EventModelTrained, countingHandler("late", new(int), &sync.Mutex{}))
	assert.ErrorIs(t, err, ErrEventBusClosed)
}

func TestInMemoryEventBusNilArguments(t *testing.T) {
	bus := NewInMemoryEventBus(DefaultInMemoryEventBusConfig())
	defer bus.Close()

	assert.Error(t, bus.Subscribe(shared.EventModelTrained, nil))
	assert.Error(t, bus.Publish(context.Background(), nil))
}

func TestRecoveryMiddleware(t *testing.T) {
	panicking := shared.EventHandlerFunc{
		HandlerName: "panicker",
		Func: func(ctx context.Context, event shared.Event) error {
			panic("boom")
		},
	}

	wrapped := Wrap(panicking, RecoveryMiddleware(testLogger()))

	err := wrapped.Handle(context.Background(), recordedEvent{eventType: shared.EventModelTrained})
	require.Error(t, err)
	assert.Contains(t, err.Error(), "handler panic")
	assert.Equal(t, "panicker", wrapped.Name())
}

func TestRetryMiddlewareDeadLetters(t *testing.T) {
	var attempts int
	failing := shared.EventHandlerFunc{
		HandlerName: "always-fails",
		Func: func(ctx context.Context, event shared.Event) error {
			attempts++
			return errors.New("transient")
		},
	}

	dlq := NewDeadLetterQueue(10)
	retrier := retry.New(
		retry.WithMaxAttempts(3),
		retry.WithInitialDelay(time.Millisecond),
		retry.WithMaxDelay(2*time.Millisecond),
		retry.WithRetryIf(func(err error) bool { return !retry.IsPermanent(err) }),
	)

	wrapped := Wrap(failing, RetryMiddleware(retrier, dlq, testLogger()))

	err := wrapped.Handle(context.Background(), recordedEvent{eventType: shared.EventSessionCompleted})
	require.Error(t, err)
	assert.Equal(t, 3, attempts)

	require.Equal(t, 1, dlq.Size())
	entry, ok := dlq.Pop()
	require.True(t, ok)
	assert.Equal(t, "always-fails", entry.HandlerName)
	assert.Equal(t, shared.EventSessionCompleted, entry.Event.EventType())
	assert.Equal(t, 0, dlq.Size())
}

func TestRetryMiddlewarePermanentError(t *testing.T) {
	var attempts int
	failing := shared.EventHandlerFunc{
		HandlerName: "permanent",
		Func: func(ctx context.Context, event shared.Event) error {
			attempts++
			return retry.Permanent(errors.New("bad payload"))
		},
	}

	retrier := retry.New(
		retry.WithMaxAttempts(5),
		retry.WithInitialDelay(time.Millisecond),
	)

	wrapped := Wrap(failing, RetryMiddleware(retrier, nil, testLogger()))

	err := wrapped.Handle(context.Background(), recordedEvent{eventType: shared.EventSessionCompleted})
	require.Error(t, err)
	assert.Equal(t, 1, attempts, "permanent errors must not be retried")
}

func TestDeadLetterQueueBounded(t *testing.T) {
	dlq := NewDeadLetterQueue(2)

	for i := 0; i < 3; i++ {
		dlq.Add(DeadLetterEntry{HandlerName: "h", FailedAt: time.Now()})
	}

	assert.Equal(t, 2, dlq.Size(), "oldest entry dropped at capacity")
}
