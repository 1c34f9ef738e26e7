package es

import (
	"fmt"
	"log/slog"
	"sync"
	"time"
)

// Payload is the typed business data of an event.
// Every aggregate owns a closed set of payload types which it switches over in Handle.
type Payload interface {
	EventType() string
}

// Event is an immutable fact about one stream.
type Event struct {
	ID         EventID
	StreamID   StreamID
	Version    Version
	ActorID    ActorID
	OccurredOn time.Time
	// IsDeleted is nil when the event does not change the deletion state of its stream,
	// true when it deletes the stream and false when it restores it.
	IsDeleted *bool
	Payload   Payload
}

// Type returns the registered type name of the payload.
func (e Event) Type() string {
	if e.Payload == nil {
		return ""
	}
	return e.Payload.EventType()
}

func (e Event) LogValue() slog.Value {
	attrs := []slog.Attr{
		slog.String("id", e.ID.String()),
		slog.String("stream", e.StreamID.String()),
		e.Version.SlogAttr(),
		slog.String("type", e.Type()),
	}
	if !e.ActorID.IsZero() {
		attrs = append(attrs, slog.String("actor", e.ActorID.String()))
	}
	if e.IsDeleted != nil {
		attrs = append(attrs, slog.Bool("deleted", *e.IsDeleted))
	}
	return slog.GroupValue(attrs...)
}

func boolPtr(b bool) *bool { return &b }

// === Registry ===

// EventRegistry maps event type names to constructors so persisted payloads can be decoded.
type EventRegistry struct {
	mu   sync.RWMutex
	news map[string]func() Payload
}

func NewRegistry() *EventRegistry {
	return &EventRegistry{news: map[string]func() Payload{}}
}

type Registrar interface {
	Register(eventType string, ctor func() Payload)
}

func (r *EventRegistry) Register(eventType string, ctor func() Payload) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.news[eventType] = ctor
}

// New constructs an empty payload for eventType.
func (r *EventRegistry) New(eventType string) (Payload, error) {
	r.mu.RLock()
	ctor, ok := r.news[eventType]
	r.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrTypeNotFound, eventType)
	}
	return ctor(), nil
}

func (r *EventRegistry) Has(eventType string) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.news[eventType]
	return ok
}

func (r *EventRegistry) Types() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.news))
	for t := range r.news {
		out = append(out, t)
	}
	return out
}

var _ Registrar = (*EventRegistry)(nil)

type payloadPtr[T any] interface {
	*T
	Payload
}

// Ctor returns a constructor producing a fresh *T per call.
func Ctor[T any, PT payloadPtr[T]]() func() Payload {
	return func() Payload { return PT(new(T)) }
}

// Register registers *T under the type name it reports.
func Register[T any, PT payloadPtr[T]](r Registrar) {
	RegisterEvents(r, Ctor[T, PT]())
}

// RegisterEvents registers constructors under the type name of a sample they produce.
func RegisterEvents(r Registrar, ctors ...func() Payload) {
	for _, ctor := range ctors {
		r.Register(ctor().EventType(), ctor)
	}
}
