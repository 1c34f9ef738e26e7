package es

import (
	"fmt"
	"reflect"
	"slices"
	"time"
)

// Aggregate is the contract of event-sourced domain objects.
//
// An aggregate maintains:
//   - Identity: the id of the stream it is rebuilt from
//   - Version: the version of the last applied event
//   - Audit metadata: created/updated by/on and the deletion flag
//   - Changes: events raised but not yet persisted
//
// Implementations embed BaseAggregate and switch over their closed set of payload
// types in Handle. The default branch returns HandlerNotFound:
//
//	func (u *User) Handle(e es.Event) error {
//	    switch p := e.Payload.(type) {
//	    case *UserCreated:
//	        u.email = p.Email
//	    default:
//	        return es.HandlerNotFound(u, e)
//	    }
//	    return nil
//	}
type Aggregate interface {
	// AggregateType is the stream type persisted along the stream.
	AggregateType() string
	// Handle mutates the aggregate state for one event.
	Handle(e Event) error

	root() *BaseAggregate
}

// BaseAggregate is an embeddable helper that tracks identity, version, audit metadata
// and pending changes.
type BaseAggregate struct {
	id        StreamID
	version   Version
	createdBy ActorID
	createdOn time.Time
	updatedBy ActorID
	updatedOn time.Time
	isDeleted bool
	changes   []Event
}

func (b *BaseAggregate) root() *BaseAggregate { return b }

func (b *BaseAggregate) ID() StreamID         { return b.id }
func (b *BaseAggregate) Version() Version     { return b.version }
func (b *BaseAggregate) CreatedBy() ActorID   { return b.createdBy }
func (b *BaseAggregate) CreatedOn() time.Time { return b.createdOn }
func (b *BaseAggregate) UpdatedBy() ActorID   { return b.updatedBy }
func (b *BaseAggregate) UpdatedOn() time.Time { return b.updatedOn }
func (b *BaseAggregate) IsDeleted() bool      { return b.isDeleted }
func (b *BaseAggregate) HasChanges() bool     { return len(b.changes) > 0 }
func (b *BaseAggregate) ClearChanges()        { b.changes = nil }

// Changes returns a copy of the events raised since the last load or save.
func (b *BaseAggregate) Changes() []Event { return slices.Clone(b.changes) }

// SetID assigns the stream id of an aggregate that has not applied any event yet.
func (b *BaseAggregate) SetID(id StreamID) error {
	if b.version > 0 {
		return fmt.Errorf("cannot change id of aggregate %s at version %d", b.id, b.version)
	}
	if err := id.Validate(); err != nil {
		return err
	}
	b.id = id
	return nil
}

// persistedVersion is the version the aggregate had before its pending changes.
func (b *BaseAggregate) persistedVersion() Version {
	return b.version - Version(len(b.changes))
}

// === Raise ===

type (
	raiseOpts struct {
		actor      ActorID
		occurredOn time.Time
		isDeleted  *bool
	}
	RaiseOption      interface{ applyToRaise(*raiseOpts) }
	ActorOption      valueOption[ActorID]
	OccurredOnOption valueOption[time.Time]
	DeleteOption     valueOption[bool]
)

func WithActor(actor ActorID) ActorOption            { return ActorOption{v: actor} }
func WithOccurredOn(t time.Time) OccurredOnOption    { return OccurredOnOption{v: t} }
func WithDelete() DeleteOption                       { return DeleteOption{v: true} }
func WithUndelete() DeleteOption                     { return DeleteOption{v: false} }
func (o ActorOption) applyToRaise(r *raiseOpts)      { r.actor = o.v }
func (o OccurredOnOption) applyToRaise(r *raiseOpts) { r.occurredOn = o.v }
func (o DeleteOption) applyToRaise(r *raiseOpts)     { r.isDeleted = boolPtr(o.v) }

// Raise stamps p as the next event of a, applies it and records it as a pending change.
// An aggregate without id gets a random one on its first raised event.
func Raise(a Aggregate, p Payload, opts ...RaiseOption) error {
	options := raiseOpts{}
	for _, opt := range opts {
		opt.applyToRaise(&options)
	}
	if err := options.actor.Validate(); err != nil {
		return err
	}

	if v, ok := p.(interface{ Validate() error }); ok {
		if err := v.Validate(); err != nil {
			return fmt.Errorf("invalid event %T: %w", p, err)
		}
	}

	b := a.root()
	if b.id == "" {
		b.id = NewStreamID()
	}

	occurredOn := options.occurredOn
	if occurredOn.IsZero() {
		occurredOn = time.Now().UTC()
	}

	e := Event{
		ID:         NewEventID(),
		StreamID:   b.id,
		Version:    b.version.Next(),
		ActorID:    options.actor,
		OccurredOn: occurredOn,
		IsDeleted:  options.isDeleted,
		Payload:    p,
	}
	if err := apply(a, e); err != nil {
		return err
	}
	b.changes = append(b.changes, e)
	return nil
}

// LoadFromChanges replays events, in version order, onto a.
func LoadFromChanges(a Aggregate, id StreamID, events []Event) error {
	b := a.root()
	if b.id == "" && b.version == 0 {
		b.id = id
	}
	sorted := slices.Clone(events)
	slices.SortStableFunc(sorted, func(x, y Event) int {
		switch {
		case x.Version < y.Version:
			return -1
		case x.Version > y.Version:
			return 1
		default:
			return 0
		}
	})
	for _, e := range sorted {
		if err := apply(a, e); err != nil {
			return err
		}
	}
	return nil
}

func apply(a Aggregate, e Event) error {
	b := a.root()
	if e.StreamID != b.id {
		return orderingError(b, e, ErrStreamMismatch)
	}
	if e.Version <= b.version {
		return orderingError(b, e, ErrPastEvent)
	}
	if e.Version != b.version+1 {
		return orderingError(b, e, ErrVersionGap)
	}

	if err := a.Handle(e); err != nil {
		return err
	}

	b.version = e.Version
	if b.createdOn.IsZero() {
		b.createdBy = e.ActorID
		b.createdOn = e.OccurredOn
	}
	b.updatedBy = e.ActorID
	b.updatedOn = e.OccurredOn
	if e.IsDeleted != nil {
		b.isDeleted = *e.IsDeleted
	}
	return nil
}

func orderingError(b *BaseAggregate, e Event, err error) error {
	return &EventOrderingError{
		StreamID:       b.id,
		CurrentVersion: b.version,
		EventStreamID:  e.StreamID,
		EventVersion:   e.Version,
		Err:            err,
	}
}

// SameAggregate reports whether x and y are the same concrete aggregate type with the same id.
func SameAggregate(x, y Aggregate) bool {
	if x == nil || y == nil {
		return x == y
	}
	return reflect.TypeOf(x) == reflect.TypeOf(y) && x.root().id == y.root().id
}

// StreamIDOf returns the stream id of a.
func StreamIDOf(a Aggregate) StreamID { return a.root().id }

// VersionOf returns the version of a.
func VersionOf(a Aggregate) Version { return a.root().version }
