package nats

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/codewandler/streamstore/ports/kv"
)

func TestKV(t *testing.T) {
	type fooBar struct {
		Fruit string
		Count int
	}
	ctx := t.Context()
	store, err := NewKvStore(KvConfig{
		Bucket:        "fruits",
		Connect:       NewTestContainer(t),
		MemoryStorage: true,
	})
	require.NoError(t, err)
	t.Cleanup(func() { _ = store.Close() })
	require.Greater(t, store.MaxValueSize(), 0)

	keys, err := store.Keys(ctx)
	require.NoError(t, err)
	require.Empty(t, keys)

	_, _, err = kv.Get[fooBar](ctx, store, "apple")
	require.ErrorIs(t, err, kv.ErrNotFound)

	rev, err := kv.Put(ctx, store, "apple", fooBar{Fruit: "apple", Count: 10}, 0)
	require.NoError(t, err)

	_, err = kv.Put(ctx, store, "apple", fooBar{Fruit: "apple", Count: 11}, 0)
	require.ErrorIs(t, err, kv.ErrKeyExists)

	next, err := kv.Put(ctx, store, "apple", fooBar{Fruit: "apple", Count: 12}, rev)
	require.NoError(t, err)

	_, err = kv.Put(ctx, store, "apple", fooBar{Fruit: "apple", Count: 13}, rev)
	require.ErrorIs(t, err, kv.ErrRevisionMismatch)

	v, got, err := kv.Get[fooBar](ctx, store, "apple")
	require.NoError(t, err)
	require.Equal(t, fooBar{Fruit: "apple", Count: 12}, v)
	require.Equal(t, next, got)

	keys, err = store.Keys(ctx)
	require.NoError(t, err)
	require.Equal(t, []string{"apple"}, keys)

	require.NoError(t, store.Delete(ctx, "apple"))
	_, _, err = kv.Get[fooBar](ctx, store, "apple")
	require.ErrorIs(t, err, kv.ErrNotFound)
}
