package estests

import (
	"log/slog"
	"testing"
	"time"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"
	"golang.org/x/text/language"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
)

func newID(prefix string) es.StreamID { return es.StreamID(prefix + "-" + gonanoid.Must(8)) }

func signIns(n int) []es.Payload {
	out := make([]es.Payload, n)
	for i := range out {
		out[i] = &domain.UserSignedIn{At: time.Date(2024, 5, 1, 12, i, 0, 0, time.UTC)}
	}
	return out
}

func created(email string) *domain.UserCreated {
	return &domain.UserCreated{Email: email, Role: domain.RoleAdmin, Locale: language.MustParse("de-CH")}
}

func TestEventStore_All(t *testing.T) {
	slog.SetLogLoggerLevel(slog.LevelDebug)

	t.Run("should be at version counts the batch", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			id = newID("user")
		)
		te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldNotExist(), created("a@b.c"))
		te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldBeAtVersion(2), signIns(1)...)
		te.Assert().StreamVersion(t.Context(), id, 2)

		uow, err := es.UnitOfWork{}.Append(id, domain.AggregateType, es.ShouldBeAtVersion(2), es.Event{Payload: signIns(1)[0]})
		require.NoError(t, err)
		err = te.Store().Commit(t.Context(), uow)
		require.ErrorIs(t, err, es.ErrConcurrencyViolation)

		var use *es.UnexpectedStreamStateError
		require.ErrorAs(t, err, &use)
		require.Equal(t, id, use.StreamID)
		require.Equal(t, es.Version(2), use.Observed)
		te.Assert().StreamVersion(t.Context(), id, 2)
	}))

	t.Run("fetch range", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			id = newID("user")
		)
		te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldNotExist(), append([]es.Payload{created("a@b.c")}, signIns(3)...)...)

		s, err := te.Store().Fetch(t.Context(), id, es.FromVersion(2), es.ToVersion(3))
		require.NoError(t, err)
		require.NotNil(t, s)
		require.Len(t, s.Events, 2)
		require.Equal(t, es.Version(2), s.Events[0].Version)
		require.Equal(t, es.Version(3), s.Events[1].Version)
		require.Equal(t, es.Version(3), s.Version)
		require.Equal(t, domain.AggregateType, s.Type)

		s, err = te.Store().Fetch(t.Context(), id, es.FromVersion(5))
		require.NoError(t, err)
		require.Nil(t, s, "empty range")

		s, err = te.Store().Fetch(t.Context(), newID("missing"))
		require.NoError(t, err)
		require.Nil(t, s)
	}))

	t.Run("should not exist creates the stream", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			id = newID("user")
		)
		te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldNotExist(), append([]es.Payload{created("a@b.c")}, signIns(2)...)...)
		te.Assert().StreamVersion(t.Context(), id, 3)

		uow, err := es.UnitOfWork{}.Append(id, domain.AggregateType, es.ShouldNotExist(), es.Event{Payload: signIns(1)[0]})
		require.NoError(t, err)
		require.ErrorIs(t, te.Store().Commit(t.Context(), uow), es.ErrConcurrencyViolation)
	}))

	t.Run("should exist", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			id = newID("user")
		)
		uow, err := es.UnitOfWork{}.Append(id, domain.AggregateType, es.ShouldExist(), es.Event{Payload: created("a@b.c")})
		require.NoError(t, err)
		require.ErrorIs(t, te.Store().Commit(t.Context(), uow), es.ErrConcurrencyViolation)

		te.Assert().Append(t.Context(), id, domain.AggregateType, es.NoExpectation(), created("a@b.c"))
		te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldExist(), signIns(1)...)
		te.Assert().StreamVersion(t.Context(), id, 2)
	}))

	t.Run("failed expectation writes nothing", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			a  = newID("user")
			b  = newID("user")
		)
		uow, err := es.UnitOfWork{}.Append(a, domain.AggregateType, es.ShouldNotExist(), es.Event{Payload: created("a@b.c")})
		require.NoError(t, err)
		uow, err = uow.Append(b, domain.AggregateType, es.ShouldExist(), es.Event{Payload: signIns(1)[0]})
		require.NoError(t, err)

		require.ErrorIs(t, te.Store().Commit(t.Context(), uow), es.ErrConcurrencyViolation)

		for _, id := range []es.StreamID{a, b} {
			s, err := te.Store().Fetch(t.Context(), id)
			require.NoError(t, err)
			require.Nil(t, s)
		}
	}))

	t.Run("metadata round trip", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te = tef()
			id = newID("user")
			at = time.Date(2023, 12, 24, 18, 30, 0, 0, time.UTC)
		)
		uow, err := es.UnitOfWork{}.Append(id, domain.AggregateType, es.ShouldNotExist(),
			es.Event{Payload: created("a@b.c"), ActorID: "admin", OccurredOn: at},
			es.Event{Payload: &domain.UserDeleted{}, ActorID: "root", OccurredOn: at.Add(time.Hour), IsDeleted: ptr(true)},
		)
		require.NoError(t, err)

		rec := &es.RecordingBus{}
		te2 := tef(es.WithBus(rec))
		require.NoError(t, te2.Store().Commit(t.Context(), uow))

		s, err := te.Store().Fetch(t.Context(), id)
		require.NoError(t, err)
		require.NotNil(t, s)
		require.Equal(t, es.ActorID("admin"), s.CreatedBy)
		require.True(t, at.Equal(s.CreatedOn))
		require.Equal(t, es.ActorID("root"), s.UpdatedBy)
		require.True(t, at.Add(time.Hour).Equal(s.UpdatedOn))
		require.True(t, s.IsDeleted)

		first := s.Events[0]
		require.NotEmpty(t, first.ID)
		require.Equal(t, id, first.StreamID)
		require.Equal(t, created("a@b.c"), first.Payload)
		require.Nil(t, first.IsDeleted)

		published := rec.Events()
		require.Len(t, published, 2)
		require.Equal(t, first.ID, published[0].ID)
		require.Equal(t, s.Events[1].ID, published[1].ID)

		deleted, err := te.Store().Fetch(t.Context(), id, es.FetchDeleted(false))
		require.NoError(t, err)
		require.Nil(t, deleted)
	}))

	t.Run("caller set event ids", eachBackend(func(t *testing.T, tef Tef) {
		var (
			rec = &es.RecordingBus{}
			te  = tef(es.WithBus(rec))
			a   = newID("user")
			b   = newID("user")
			eid = es.EventID("evt-" + gonanoid.Must(8))
		)
		for _, id := range []es.StreamID{a, b} {
			uow, err := es.UnitOfWork{}.Append(id, domain.AggregateType, es.ShouldNotExist(), es.Event{ID: eid, Payload: created("a@b.c")})
			require.NoError(t, err)
			require.NoError(t, te.Store().Commit(t.Context(), uow))
		}
		uow, err := es.UnitOfWork{}.Append(a, domain.AggregateType, es.ShouldBeAtVersion(2), es.Event{ID: eid, Payload: signIns(1)[0]})
		require.NoError(t, err)
		require.NoError(t, te.Store().Commit(t.Context(), uow))

		te.Assert().StreamVersion(t.Context(), a, 2)
		te.Assert().StreamVersion(t.Context(), b, 1)
		for _, id := range []es.StreamID{a, b} {
			s, err := te.Store().Fetch(t.Context(), id)
			require.NoError(t, err)
			require.NotNil(t, s)
			for _, e := range s.Events {
				require.Equal(t, eid, e.ID)
			}
		}
		require.Len(t, rec.Events(), 3)
	}))

	t.Run("stream ids", eachBackend(func(t *testing.T, tef Tef) {
		var (
			te    = tef()
			users = []es.StreamID{newID("user"), newID("user")}
			other = newID("order")
		)
		for _, id := range users {
			te.Assert().Append(t.Context(), id, domain.AggregateType, es.ShouldNotExist(), created("a@b.c"))
		}
		te.Assert().Append(t.Context(), other, "order", es.ShouldNotExist(), signIns(1)...)

		ids, err := te.Store().StreamIDs(t.Context(), domain.AggregateType)
		require.NoError(t, err)
		require.ElementsMatch(t, users, ids)
	}))
}

func ptr[T any](v T) *T { return &v }
