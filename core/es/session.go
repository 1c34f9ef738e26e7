package es

import (
	"context"
	"errors"
)

// Session accumulates appends for one caller and commits them with SaveChanges.
// A Session is owned by a single goroutine; it is not safe for concurrent use.
type Session struct {
	store *EventStore
	uow   UnitOfWork
}

// Append enqueues events for stream id. Nothing is written before SaveChanges.
func (s *Session) Append(id StreamID, streamType string, expect StreamExpectation, events ...Event) error {
	uow, err := s.uow.Append(id, streamType, expect, events...)
	if err != nil {
		return err
	}
	s.uow = uow
	return nil
}

// AppendNew enqueues events for a new stream and returns its random id.
func (s *Session) AppendNew(streamType string, expect StreamExpectation, events ...Event) (StreamID, error) {
	uow, id, err := s.uow.AppendNew(streamType, expect, events...)
	if err != nil {
		return "", err
	}
	s.uow = uow
	return id, nil
}

// SaveChanges commits the pending appends. They are discarded once the commit succeeded
// and kept when nothing was written, so the caller decides between ClearChanges and a retry.
func (s *Session) SaveChanges(ctx context.Context) error {
	err := s.store.Commit(ctx, s.uow)
	if err == nil || (errors.Is(err, ErrPublishInterrupted) && !errors.Is(err, ErrPartialCommit)) {
		s.uow = UnitOfWork{}
	}
	return err
}

func (s *Session) ClearChanges()       { s.uow = UnitOfWork{} }
func (s *Session) HasChanges() bool    { return !s.uow.IsEmpty() }
func (s *Session) Pending() UnitOfWork { return s.uow }
