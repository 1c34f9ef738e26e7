package es

import "context"

type counted struct {
	N int `json:"n"`
}

type renamed struct {
	Name string `json:"name"`
}

type unhandled struct{}

func (counted) EventType() string   { return "counted" }
func (renamed) EventType() string   { return "renamed" }
func (unhandled) EventType() string { return "unhandled" }

type counter struct {
	BaseAggregate
	total int
	name  string
}

func newCounter() *counter { return &counter{} }

func (c *counter) AggregateType() string { return "counter" }

func (c *counter) Handle(e Event) error {
	switch p := e.Payload.(type) {
	case *counted:
		c.total += p.N
	case *renamed:
		c.name = p.Name
	default:
		return HandlerNotFound(c, e)
	}
	return nil
}

func testRegistry() *EventRegistry {
	r := NewRegistry()
	Register[counted](r)
	Register[renamed](r)
	return r
}

func newTestStore(opts ...StoreOption) *EventStore {
	return NewEventStore(NewMemoryBackend(), NewJSONSerializer(testRegistry()), opts...)
}

func events(payloads ...Payload) []Event {
	out := make([]Event, len(payloads))
	for i, p := range payloads {
		out[i] = Event{Payload: p}
	}
	return out
}

func commit(ctx context.Context, s *EventStore, id StreamID, expect StreamExpectation, payloads ...Payload) error {
	uow, err := UnitOfWork{}.Append(id, "counter", expect, events(payloads...)...)
	if err != nil {
		return err
	}
	return s.Commit(ctx, uow)
}

// failingBus fails every publication.
type failingBus struct{ calls int }

func (f *failingBus) Publish(context.Context, Event) error {
	f.calls++
	return context.DeadlineExceeded
}
