package nats

import (
	"encoding/json"
	"log/slog"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/streamstore/core/es"
)

func newTestStore(t *testing.T, connect Connector) *EventStore {
	store, err := NewEventStore(EventStoreConfig{
		Connect:       connect,
		Log:           slog.Default(),
		SubjectPrefix: "foo.tenant-1",
		ReadBatch:     2,
	})
	require.NoError(t, err)
	require.NotNil(t, store)
	t.Cleanup(func() { _ = store.Close() })
	return store
}

func records(from es.Version, n int) []es.Record {
	out := make([]es.Record, n)
	for i := range out {
		out[i] = es.Record{
			ID:         es.NewEventID(),
			Version:    from + es.Version(i),
			OccurredOn: time.Now().UTC(),
			TypeName:   "foobar",
			Payload:    json.RawMessage(`{}`),
		}
	}
	return out
}

func TestStore_Append(t *testing.T) {
	store := newTestStore(t, NewTestContainer(t))
	ctx := t.Context()

	require.Equal(t, "foo.tenant-1.YS5i", store.subject("a.b"))
	id, err := store.streamIDOf("foo.tenant-1.YS5i")
	require.NoError(t, err)
	require.Equal(t, es.StreamID("a.b"), id)

	t.Run("stream info", func(t *testing.T) {
		si, err := store.stream.Info(ctx)
		require.NoError(t, err)
		require.Equal(t, "STREAMSTORE_ES", si.Config.Name)
		require.Equal(t, []string{"foo.tenant-1.>"}, si.Config.Subjects)
	})

	appendTo := func(id es.StreamID, expected es.Version, recs []es.Record) error {
		return store.Write(ctx, func(tx es.BackendTx) error {
			return tx.CompareAndAppend(ctx, es.AppendRequest{StreamID: id, Type: "test", Expected: expected, Records: recs})
		})
	}

	t.Run("compare and append", func(t *testing.T) {
		require.NoError(t, appendTo("123", 0, records(1, 3)))
		require.NoError(t, appendTo("123", 3, records(4, 2)))
		require.ErrorIs(t, appendTo("123", 3, records(4, 1)), es.ErrVersionConflict)
		require.ErrorIs(t, appendTo("123", 0, records(1, 1)), es.ErrVersionConflict)

		h, ok, err := store.Head(ctx, "123")
		require.NoError(t, err)
		require.True(t, ok)
		require.Equal(t, es.StreamHead{ID: "123", Type: "test", Version: 5}, h)
	})

	t.Run("read range", func(t *testing.T) {
		all, err := store.ReadRange(ctx, "123", 1, 0)
		require.NoError(t, err)
		require.Len(t, all, 5)
		for i, r := range all {
			require.Equal(t, es.Version(i+1), r.Version)
		}

		mid, err := store.ReadRange(ctx, "123", 2, 4)
		require.NoError(t, err)
		require.Len(t, mid, 3)
		require.Equal(t, es.Version(2), mid[0].Version)

		tail, err := store.ReadRange(ctx, "123", 5, 0)
		require.NoError(t, err)
		require.Len(t, tail, 1)
		require.Equal(t, es.Version(5), tail[0].Version)

		head, err := store.ReadRange(ctx, "123", 1, 2)
		require.NoError(t, err)
		require.Len(t, head, 2)
		require.Equal(t, es.Version(2), head[1].Version)

		none, err := store.ReadRange(ctx, "nope", 1, 0)
		require.NoError(t, err)
		require.Empty(t, none)
	})

	t.Run("stream ids", func(t *testing.T) {
		require.NoError(t, store.Write(ctx, func(tx es.BackendTx) error {
			return tx.CompareAndAppend(ctx, es.AppendRequest{StreamID: "other", Type: "other", Records: records(1, 1)})
		}))
		ids, err := store.StreamIDs(ctx, "test")
		require.NoError(t, err)
		require.Equal(t, []es.StreamID{"123"}, ids)

		ids, err = store.StreamIDs(ctx, "")
		require.NoError(t, err)
		require.Equal(t, []es.StreamID{"123", "other"}, ids)
	})

	t.Run("event ids may repeat across appends", func(t *testing.T) {
		first := records(1, 1)
		require.NoError(t, appendTo("dup-a", 0, first))
		require.NoError(t, appendTo("dup-b", 0, first))

		again := records(2, 1)
		again[0].ID = first[0].ID
		require.NoError(t, appendTo("dup-a", 1, again))

		for id, version := range map[es.StreamID]es.Version{"dup-a": 2, "dup-b": 1} {
			recs, err := store.ReadRange(ctx, id, 1, 0)
			require.NoError(t, err)
			require.Len(t, recs, int(version))
			require.Equal(t, first[0].ID, recs[0].ID)
		}
	})
}
