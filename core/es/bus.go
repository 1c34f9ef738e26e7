package es

import (
	"context"
	"errors"
	"log/slog"
	"sync"
	"time"
)

// EventBus receives committed events. It is only called after a successful commit,
// in the order the events were appended. Delivery failures are the bus' concern.
type EventBus interface {
	Publish(ctx context.Context, e Event) error
}

type (
	Handler interface {
		Handle(ctx context.Context, e Event) error
	}
	HandleFunc           func(ctx context.Context, e Event) error
	HandlerMiddleware    func(next Handler) Handler
	MiddlewareHandleFunc func(ctx context.Context, e Event, next Handler) error
)

func applyMiddlewares(h Handler, middlewares []HandlerMiddleware) Handler {
	for i := len(middlewares) - 1; i >= 0; i-- {
		h = middlewares[i](h)
	}
	return h
}

// === handler func ===

func (f HandleFunc) Handle(ctx context.Context, e Event) error { return f(ctx, e) }

// === middleware ===

type middleware struct {
	next Handler
	mw   MiddlewareHandleFunc
}

func (m *middleware) Handle(ctx context.Context, e Event) error { return m.mw(ctx, e, m.next) }

func MiddlewareHandle(mw MiddlewareHandleFunc) HandlerMiddleware {
	return func(next Handler) Handler {
		return &middleware{
			next: next,
			mw:   mw,
		}
	}
}

// === log ===

func NewLogMiddleware(log *slog.Logger, attrs ...any) HandlerMiddleware {
	return MiddlewareHandle(func(ctx context.Context, e Event, next Handler) (err error) {
		handleAt := time.Now()

		log := log.With(attrs...).With(slog.Any("event", e))

		err = next.Handle(ctx, e)
		if err != nil {
			log.Error("failed", slog.Any("error", err), slog.Duration("duration", time.Since(handleAt)))
		} else {
			log.Debug("handled", slog.Duration("duration", time.Since(handleAt)))
		}

		return err
	})
}

// === in-memory bus ===

type subscription struct {
	eventType string
	h         Handler
}

// InMemoryBus dispatches events synchronously to its subscribers.
type InMemoryBus struct {
	mu          sync.RWMutex
	subs        []subscription
	middlewares []HandlerMiddleware
}

func NewInMemoryBus(middlewares ...HandlerMiddleware) *InMemoryBus {
	return &InMemoryBus{middlewares: middlewares}
}

// Subscribe registers h for events of eventType. An empty eventType subscribes to all events.
func (b *InMemoryBus) Subscribe(eventType string, h Handler) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.subs = append(b.subs, subscription{eventType: eventType, h: applyMiddlewares(h, b.middlewares)})
}

func (b *InMemoryBus) Publish(ctx context.Context, e Event) error {
	b.mu.RLock()
	subs := b.subs
	b.mu.RUnlock()

	var errs []error
	for _, s := range subs {
		if s.eventType != "" && s.eventType != e.Type() {
			continue
		}
		if err := s.h.Handle(ctx, e); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}

// === recording bus ===

// RecordingBus keeps every published event. Useful in tests.
type RecordingBus struct {
	mu     sync.Mutex
	events []Event
}

func (r *RecordingBus) Publish(_ context.Context, e Event) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.events = append(r.events, e)
	return nil
}

func (r *RecordingBus) Events() []Event {
	r.mu.Lock()
	defer r.mu.Unlock()
	out := make([]Event, len(r.events))
	copy(out, r.events)
	return out
}

var (
	_ EventBus = (*InMemoryBus)(nil)
	_ EventBus = (*RecordingBus)(nil)
	_ Handler  = HandleFunc(nil)
)
