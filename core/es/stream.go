package es

import "time"

// Stream is the projection of the events returned for one stream.
type Stream struct {
	ID        StreamID
	Type      string
	Version   Version
	CreatedBy ActorID
	CreatedOn time.Time
	UpdatedBy ActorID
	UpdatedOn time.Time
	IsDeleted bool
	Events    []Event
}

// ProjectStream computes the stream projection of events, which must be ordered by version.
// It returns nil when there are no events.
func ProjectStream(id StreamID, streamType string, events []Event) *Stream {
	if len(events) == 0 {
		return nil
	}
	first, last := events[0], events[len(events)-1]
	s := &Stream{
		ID:        id,
		Type:      streamType,
		Version:   last.Version,
		CreatedBy: first.ActorID,
		CreatedOn: first.OccurredOn,
		UpdatedBy: last.ActorID,
		UpdatedOn: last.OccurredOn,
		Events:    events,
	}
	for i := len(events) - 1; i >= 0; i-- {
		if d := events[i].IsDeleted; d != nil {
			s.IsDeleted = *d
			break
		}
	}
	return s
}

type (
	fetchOpts struct {
		from    Version
		to      Version
		deleted *bool
	}
	FetchOption       interface{ applyToFetch(*fetchOpts) }
	FromVersionOption valueOption[Version]
	ToVersionOption   valueOption[Version]
	DeletedOption     valueOption[*bool]
)

// FromVersion skips events below v.
func FromVersion(v Version) FromVersionOption { return FromVersionOption{v: v} }

// ToVersion skips events above v. Zero means no upper bound.
func ToVersion(v Version) ToVersionOption { return ToVersionOption{v: v} }

// FetchDeleted only returns the stream when its deletion flag equals deleted.
func FetchDeleted(deleted bool) DeletedOption { return DeletedOption{v: boolPtr(deleted)} }

func (o FromVersionOption) applyToFetch(f *fetchOpts) { f.from = o.v }
func (o ToVersionOption) applyToFetch(f *fetchOpts)   { f.to = o.v }
func (o DeletedOption) applyToFetch(f *fetchOpts)     { f.deleted = o.v }

func newFetchOpts(opts ...FetchOption) fetchOpts {
	options := fetchOpts{from: 1}
	for _, opt := range opts {
		opt.applyToFetch(&options)
	}
	if options.from == 0 {
		options.from = 1
	}
	return options
}
