package messaging

import (
	"context"
	"fmt"
	"log/slog"
	"runtime/debug"
	"sync"
	"time"

	"github.com/studyloop/insight-engine/internal/domain/shared"
	"github.com/studyloop/insight-engine/pkg/retry"
)

// ══════════════════════════════════════════════════════════════════════════════
// HANDLER MIDDLEWARE
// Handlers registered on the bus are wrapped before subscription: recovery,
// logging, timeouts and retries compose around the application handler, and
// deliveries that exhaust their retries land in the dead letter queue for
// inspection.
// ══════════════════════════════════════════════════════════════════════════════

// Middleware wraps handler execution.
type Middleware func(shared.EventHandler) shared.EventHandler

// Wrap applies the middlewares to the handler, outermost first.
func Wrap(handler shared.EventHandler, middlewares ...Middleware) shared.EventHandler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		handler = middlewares[i](handler)
	}
	return handler
}

// RecoveryMiddleware recovers from panics in handlers.
func RecoveryMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return shared.EventHandlerFunc{
			HandlerName: next.Name(),
			Func: func(ctx context.Context, event shared.Event) (err error) {
				defer func() {
					if r := recover(); r != nil {
						stack := string(debug.Stack())
						logger.Error("handler panic recovered",
							"event_type", event.EventType(),
							"handler", next.Name(),
							"panic", r,
							"stack", stack,
						)
						err = fmt.Errorf("handler panic: %v", r)
					}
				}()
				return next.Handle(ctx, event)
			},
		}
	}
}

// LoggingMiddleware logs handler execution.
func LoggingMiddleware(logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return shared.EventHandlerFunc{
			HandlerName: next.Name(),
			Func: func(ctx context.Context, event shared.Event) error {
				start := time.Now()
				err := next.Handle(ctx, event)
				duration := time.Since(start)

				if err != nil {
					logger.Error("handler failed",
						"event_type", event.EventType(),
						"handler", next.Name(),
						"aggregate_id", event.AggregateID(),
						"duration", duration,
						"error", err,
					)
				} else {
					logger.Debug("handler completed",
						"event_type", event.EventType(),
						"handler", next.Name(),
						"aggregate_id", event.AggregateID(),
						"duration", duration,
					)
				}

				return err
			},
		}
	}
}

// TimeoutMiddleware bounds handler execution time.
func TimeoutMiddleware(timeout time.Duration) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return shared.EventHandlerFunc{
			HandlerName: next.Name(),
			Func: func(ctx context.Context, event shared.Event) error {
				ctx, cancel := context.WithTimeout(ctx, timeout)
				defer cancel()
				return next.Handle(ctx, event)
			},
		}
	}
}

// RetryMiddleware retries failed deliveries with exponential backoff.
// Errors marked retry.Permanent are not retried. When a dead letter queue
// is provided, deliveries that exhaust their retries are recorded there.
func RetryMiddleware(retrier *retry.Retrier, dlq *DeadLetterQueue, logger *slog.Logger) Middleware {
	return func(next shared.EventHandler) shared.EventHandler {
		return shared.EventHandlerFunc{
			HandlerName: next.Name(),
			Func: func(ctx context.Context, event shared.Event) error {
				err := retrier.Do(ctx, func(ctx context.Context) error {
					return next.Handle(ctx, event)
				})
				if err == nil {
					return nil
				}

				if dlq != nil {
					dlq.Add(DeadLetterEntry{
						Event:       event,
						HandlerName: next.Name(),
						Error:       err,
						FailedAt:    time.Now(),
					})
					logger.Warn("delivery dead-lettered",
						"event_type", event.EventType(),
						"handler", next.Name(),
						"error", err,
					)
				}
				return err
			},
		}
	}
}

// ══════════════════════════════════════════════════════════════════════════════
// DEAD LETTER QUEUE
// ══════════════════════════════════════════════════════════════════════════════

// DeadLetterEntry represents a failed delivery.
type DeadLetterEntry struct {
	Event       shared.Event
	HandlerName string
	Error       error
	FailedAt    time.Time
}

// DeadLetterQueue stores events that failed processing. It is bounded;
// the oldest entry is dropped when a new one arrives at capacity.
type DeadLetterQueue struct {
	mu      sync.RWMutex
	entries []DeadLetterEntry
	maxSize int
}

// NewDeadLetterQueue creates a new dead letter queue.
func NewDeadLetterQueue(maxSize int) *DeadLetterQueue {
	if maxSize <= 0 {
		maxSize = 1000
	}
	return &DeadLetterQueue{
		entries: make([]DeadLetterEntry, 0),
		maxSize: maxSize,
	}
}

// Add adds an entry to the queue.
func (q *DeadLetterQueue) Add(entry DeadLetterEntry) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) >= q.maxSize {
		q.entries = q.entries[1:]
	}

	q.entries = append(q.entries, entry)
}

// Entries returns a copy of all entries.
func (q *DeadLetterQueue) Entries() []DeadLetterEntry {
	q.mu.RLock()
	defer q.mu.RUnlock()

	result := make([]DeadLetterEntry, len(q.entries))
	copy(result, q.entries)
	return result
}

// Size returns the current queue size.
func (q *DeadLetterQueue) Size() int {
	q.mu.RLock()
	defer q.mu.RUnlock()
	return len(q.entries)
}

// Pop removes and returns the oldest entry.
func (q *DeadLetterQueue) Pop() (DeadLetterEntry, bool) {
	q.mu.Lock()
	defer q.mu.Unlock()

	if len(q.entries) == 0 {
		return DeadLetterEntry{}, false
	}

	entry := q.entries[0]
	q.entries = q.entries[1:]
	return entry, true
}

// Clear removes all entries.
func (q *DeadLetterQueue) Clear() {
	q.mu.Lock()
	defer q.mu.Unlock()
	q.entries = make([]DeadLetterEntry, 0)
}
