package es

import "slices"

// AppendToStream is one pending append of a unit of work.
type AppendToStream struct {
	StreamID    StreamID
	Type        string
	Expectation StreamExpectation
	Events      []Event
}

// UnitOfWork is an immutable list of pending appends. Every Append returns a new value,
// the receiver is left untouched. Hand the final value to EventStore.Commit.
type UnitOfWork struct {
	units []AppendToStream
}

// Append adds an append of events to stream id.
func (u UnitOfWork) Append(id StreamID, streamType string, expect StreamExpectation, events ...Event) (UnitOfWork, error) {
	if err := id.Validate(); err != nil {
		return u, err
	}
	if len(events) == 0 {
		return u, ErrNoEvents
	}
	unit := AppendToStream{
		StreamID:    id,
		Type:        streamType,
		Expectation: expect,
		Events:      slices.Clone(events),
	}
	return UnitOfWork{units: append(slices.Clip(u.units), unit)}, nil
}

// AppendNew adds an append of events to a new stream with a random id.
func (u UnitOfWork) AppendNew(streamType string, expect StreamExpectation, events ...Event) (UnitOfWork, StreamID, error) {
	id := NewStreamID()
	next, err := u.Append(id, streamType, expect, events...)
	if err != nil {
		return u, "", err
	}
	return next, id, nil
}

func (u UnitOfWork) Units() []AppendToStream { return slices.Clone(u.units) }
func (u UnitOfWork) Len() int                { return len(u.units) }
func (u UnitOfWork) IsEmpty() bool           { return len(u.units) == 0 }

// EventCount is the number of events over all appends.
func (u UnitOfWork) EventCount() (n int) {
	for _, unit := range u.units {
		n += len(unit.Events)
	}
	return n
}
