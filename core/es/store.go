package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
)

type (
	storeOpts struct {
		log       *slog.Logger
		buses     []EventBus
		metrics   ESMetrics
		converter []ConverterOption
	}
	StoreOption interface{ applyToStore(*storeOpts) }
)

func (o ClockOption) applyToStore(s *storeOpts)   { s.converter = append(s.converter, o) }
func (o EventIDOption) applyToStore(s *storeOpts) { s.converter = append(s.converter, o) }

// EventStore enforces stream expectations on top of a Backend, converts events to
// records and publishes committed events.
// It holds no pending state; pending appends live in caller-owned UnitOfWork values.
type EventStore struct {
	log       *slog.Logger
	backend   Backend
	converter *Converter
	buses     []EventBus
	metrics   ESMetrics
}

func NewEventStore(backend Backend, serializer EventSerializer, opts ...StoreOption) *EventStore {
	options := storeOpts{
		log:     slog.Default(),
		metrics: NopESMetrics(),
	}
	for _, opt := range opts {
		opt.applyToStore(&options)
	}
	return &EventStore{
		log:       options.log.With(slog.String("store", fmt.Sprintf("%T", backend))),
		backend:   backend,
		converter: NewConverter(serializer, options.converter...),
		buses:     options.buses,
		metrics:   options.metrics,
	}
}

func (s *EventStore) Backend() Backend      { return s.backend }
func (s *EventStore) Converter() *Converter { return s.converter }
func (s *EventStore) NewSession() *Session  { return &Session{store: s} }

// Fetch reads stream id. It returns nil when the stream does not exist, when the
// requested range holds no events or when the deletion filter does not match.
func (s *EventStore) Fetch(ctx context.Context, id StreamID, opts ...FetchOption) (*Stream, error) {
	if err := id.Validate(); err != nil {
		return nil, err
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	options := newFetchOpts(opts...)

	head, ok, err := s.backend.Head(ctx, id)
	if err != nil {
		return nil, fmt.Errorf("failed to read head of stream %s: %w", id, err)
	}
	if !ok {
		return nil, nil
	}
	defer s.metrics.StoreFetchDuration(head.Type).ObserveDuration()

	records, err := s.backend.ReadRange(ctx, id, options.from, options.to)
	if err != nil {
		return nil, fmt.Errorf("failed to read stream %s: %w", id, err)
	}
	events, err := s.converter.FromRecords(id, records)
	if err != nil {
		return nil, err
	}

	stream := ProjectStream(id, head.Type, events)
	if stream == nil {
		return nil, nil
	}
	if options.deleted != nil && stream.IsDeleted != *options.deleted {
		return nil, nil
	}

	s.log.Debug(
		"fetched",
		slog.Group("stream", slog.String("id", id.String()), slog.String("type", head.Type), stream.Version.SlogAttr()),
		slog.Int("count", len(events)),
	)
	return stream, nil
}

// StreamIDs lists the persisted streams of streamType.
func (s *EventStore) StreamIDs(ctx context.Context, streamType string) ([]StreamID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	return s.backend.StreamIDs(ctx, streamType)
}

// Commit durably appends every unit of uow, then publishes the appended events in
// order to every bus.
//
// All expectations are checked before anything is written and again, atomically with
// each append, by the backend. On a StreamAtomic backend a failure after the first
// committed unit returns a *PartialCommitError naming the committed streams; the
// events of those streams are published before it is returned.
func (s *EventStore) Commit(ctx context.Context, uow UnitOfWork) (err error) {
	units := uow.Units()
	if len(units) == 0 {
		return nil
	}
	if err := ctx.Err(); err != nil {
		return err
	}
	defer s.metrics.StoreCommitDuration().ObserveDuration()

	if err := s.precheck(ctx, units); err != nil {
		return err
	}

	var (
		committed []StreamID
		published []Event
	)
	err = s.backend.Write(ctx, func(tx BackendTx) error {
		committed, published = nil, nil
		for _, unit := range units {
			if err := ctx.Err(); err != nil {
				return err
			}
			events, err := s.appendUnit(ctx, tx, unit)
			if err != nil {
				return s.failedUnit(committed, unit.StreamID, err)
			}
			committed = append(committed, unit.StreamID)
			published = append(published, events...)
		}
		return nil
	})
	var pce *PartialCommitError
	if errors.As(err, &pce) {
		// committed streams stay durable, so their events are delivered too
		return errors.Join(err, s.publish(ctx, published))
	}
	if err != nil {
		return err
	}

	for _, unit := range units {
		s.metrics.EventsAppended(unit.Type, len(unit.Events))
	}
	s.log.Debug("committed", slog.Int("streams", len(units)), slog.Int("events", len(published)))

	return s.publish(ctx, published)
}

func (s *EventStore) failedUnit(committed []StreamID, failed StreamID, err error) error {
	if s.backend.Atomicity() == StreamAtomic && len(committed) > 0 {
		return &PartialCommitError{Committed: committed, Failed: failed, Err: err}
	}
	return err
}

// precheck evaluates every expectation against the current heads, accounting for
// several units appending to the same stream.
func (s *EventStore) precheck(ctx context.Context, units []AppendToStream) error {
	heads := map[StreamID]Version{}
	for _, unit := range units {
		if err := ctx.Err(); err != nil {
			return err
		}
		cur, seen := heads[unit.StreamID]
		if !seen {
			head, _, err := s.backend.Head(ctx, unit.StreamID)
			if err != nil {
				return fmt.Errorf("failed to read head of stream %s: %w", unit.StreamID, err)
			}
			cur = head.Version
		}
		if err := unit.Expectation.Check(unit.StreamID, cur, len(unit.Events)); err != nil {
			s.metrics.ConcurrencyViolation(unit.Type)
			return err
		}
		heads[unit.StreamID] = cur + Version(len(unit.Events))
	}
	return nil
}

func (s *EventStore) appendUnit(ctx context.Context, tx BackendTx, unit AppendToStream) ([]Event, error) {
	head, exists, err := tx.Head(ctx, unit.StreamID)
	if err != nil {
		return nil, fmt.Errorf("failed to read head of stream %s: %w", unit.StreamID, err)
	}
	if err := unit.Expectation.Check(unit.StreamID, head.Version, len(unit.Events)); err != nil {
		s.metrics.ConcurrencyViolation(unit.Type)
		return nil, err
	}
	if exists && unit.Type != "" && head.Type != "" && head.Type != unit.Type {
		return nil, fmt.Errorf("%w: stream %s has type %s, not %s", ErrAggregateTypeMismatch, unit.StreamID, head.Type, unit.Type)
	}

	events, err := s.converter.Stamp(unit.StreamID, head.Version, unit.Events, unit.Expectation)
	if err != nil {
		return nil, err
	}
	records, err := s.converter.ToRecords(events)
	if err != nil {
		return nil, err
	}

	err = tx.CompareAndAppend(ctx, AppendRequest{
		StreamID: unit.StreamID,
		Type:     unit.Type,
		Expected: head.Version,
		Records:  records,
	})
	if errors.Is(err, ErrVersionConflict) {
		s.metrics.ConcurrencyViolation(unit.Type)
		observed := head.Version
		if h, _, herr := tx.Head(ctx, unit.StreamID); herr == nil {
			observed = h.Version
		}
		return nil, &UnexpectedStreamStateError{StreamID: unit.StreamID, Expected: unit.Expectation, Observed: observed}
	}
	if err != nil {
		return nil, fmt.Errorf("failed to append to stream %s: %w", unit.StreamID, err)
	}

	s.log.Debug(
		"appended",
		slog.Group("stream", slog.String("id", unit.StreamID.String()), slog.String("type", unit.Type)),
		unit.Expectation.SlogAttr(),
		head.Version.SlogAttrWithKey("from_version"),
		slog.Int("count", len(events)),
	)
	return events, nil
}

// publish delivers events to every bus. Bus failures are logged and not retried.
func (s *EventStore) publish(ctx context.Context, events []Event) error {
	if len(s.buses) == 0 {
		return nil
	}
	for i, e := range events {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("%w: %d of %d events not published: %w", ErrPublishInterrupted, len(events)-i, len(events), err)
		}
		for _, bus := range s.buses {
			err := bus.Publish(ctx, e)
			s.metrics.EventPublished(e.Type(), err == nil)
			if err != nil {
				s.log.Error(
					"failed to publish event",
					slog.String("bus", fmt.Sprintf("%T", bus)),
					slog.Any("event", e),
					slog.Any("error", err),
				)
			}
		}
	}
	return nil
}
