package es

import (
	"encoding/json"
	"fmt"
	"time"
)

// Record is the backend neutral durable shape of an event.
type Record struct {
	ID         EventID         `json:"id"`
	Version    Version         `json:"version"`
	ActorID    ActorID         `json:"actor_id,omitempty"`
	OccurredOn time.Time       `json:"occurred_on"`
	IsDeleted  *bool           `json:"is_deleted,omitempty"`
	TypeName   string          `json:"type_name"`
	Payload    json.RawMessage `json:"payload"`
}

func (r Record) Validate() error {
	if r.ID == "" {
		return fmt.Errorf("record id is empty")
	}
	if r.Version == 0 {
		return fmt.Errorf("record version is zero")
	}
	if r.OccurredOn.IsZero() {
		return fmt.Errorf("record occurred on is zero")
	}
	if r.TypeName == "" {
		return fmt.Errorf("record type name is empty")
	}
	return nil
}

type (
	converterOpts struct {
		now   func() time.Time
		newID func() EventID
	}
	ConverterOption interface{ applyToConverter(*converterOpts) }
	ClockOption     valueOption[func() time.Time]
	EventIDOption   valueOption[func() EventID]
)

// WithClock replaces time.Now as the source of default event timestamps.
func WithClock(now func() time.Time) ClockOption { return ClockOption{v: now} }

// WithEventIDGenerator replaces NewEventID as the source of default event ids.
func WithEventIDGenerator(gen func() EventID) EventIDOption { return EventIDOption{v: gen} }

func (o ClockOption) applyToConverter(c *converterOpts)   { c.now = o.v }
func (o EventIDOption) applyToConverter(c *converterOpts) { c.newID = o.v }

// Converter maps events to records and back.
type Converter struct {
	serializer EventSerializer
	now        func() time.Time
	newID      func() EventID
}

func NewConverter(serializer EventSerializer, opts ...ConverterOption) *Converter {
	options := converterOpts{
		now:   func() time.Time { return time.Now().UTC() },
		newID: NewEventID,
	}
	for _, opt := range opts {
		opt.applyToConverter(&options)
	}
	return &Converter{serializer: serializer, now: options.now, newID: options.newID}
}

// Stamp fills the metadata events may leave unset when they are appended to stream id
// currently at version head: a fresh id, version head+position and the current time.
// Events that already carry a version must carry exactly that one.
func (c *Converter) Stamp(id StreamID, head Version, events []Event, expect StreamExpectation) ([]Event, error) {
	out := make([]Event, len(events))
	for i, e := range events {
		want := head + Version(i+1)
		if e.StreamID != "" && e.StreamID != id {
			return nil, &EventOrderingError{
				StreamID:       id,
				CurrentVersion: head,
				EventStreamID:  e.StreamID,
				EventVersion:   e.Version,
				Err:            ErrStreamMismatch,
			}
		}
		if e.Version != 0 && e.Version != want {
			return nil, &UnexpectedStreamStateError{StreamID: id, Expected: expect, Observed: head}
		}
		if err := e.ActorID.Validate(); err != nil {
			return nil, err
		}

		e.StreamID = id
		e.Version = want
		if e.ID == "" {
			e.ID = c.newID()
		}
		if e.OccurredOn.IsZero() {
			e.OccurredOn = c.now()
		}
		out[i] = e
	}
	return out, nil
}

// ToRecord serializes a stamped event.
func (c *Converter) ToRecord(e Event) (Record, error) {
	typeName, data, err := c.serializer.Serialize(e.Payload)
	if err != nil {
		return Record{}, err
	}
	r := Record{
		ID:         e.ID,
		Version:    e.Version,
		ActorID:    e.ActorID,
		OccurredOn: e.OccurredOn,
		IsDeleted:  e.IsDeleted,
		TypeName:   typeName,
		Payload:    data,
	}
	if err := r.Validate(); err != nil {
		return Record{}, fmt.Errorf("invalid record for stream %s: %w", e.StreamID, err)
	}
	return r, nil
}

func (c *Converter) ToRecords(events []Event) ([]Record, error) {
	out := make([]Record, len(events))
	for i, e := range events {
		r, err := c.ToRecord(e)
		if err != nil {
			return nil, err
		}
		out[i] = r
	}
	return out, nil
}

// FromRecord deserializes a record of stream id.
func (c *Converter) FromRecord(id StreamID, r Record) (Event, error) {
	p, err := c.serializer.Deserialize(r.TypeName, r.Payload)
	if err != nil {
		return Event{}, err
	}
	return Event{
		ID:         r.ID,
		StreamID:   id,
		Version:    r.Version,
		ActorID:    r.ActorID,
		OccurredOn: r.OccurredOn,
		IsDeleted:  r.IsDeleted,
		Payload:    p,
	}, nil
}

func (c *Converter) FromRecords(id StreamID, records []Record) ([]Event, error) {
	out := make([]Event, len(records))
	for i, r := range records {
		e, err := c.FromRecord(id, r)
		if err != nil {
			return nil, err
		}
		out[i] = e
	}
	return out, nil
}
