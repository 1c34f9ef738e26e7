package kv

import (
	"context"
	"encoding/json"
	"errors"
)

var (
	ErrNotFound         = errors.New("not found")
	ErrKeyExists        = errors.New("key exists")
	ErrRevisionMismatch = errors.New("revision mismatch")
)

// Entry is a stored value and the revision it was written at.
type Entry struct {
	Key      string
	Data     []byte
	Revision uint64
}

// Store is a key value store with compare-and-set writes. Revisions grow
// monotonically; a key that was never written has no revision.
type Store interface {
	Get(ctx context.Context, key string) (Entry, error)
	// Create writes key only if it does not exist, ErrKeyExists otherwise.
	Create(ctx context.Context, key string, data []byte) (revision uint64, err error)
	// Update writes key only if its current revision is lastRevision, ErrRevisionMismatch otherwise.
	Update(ctx context.Context, key string, data []byte, lastRevision uint64) (revision uint64, err error)
	Delete(ctx context.Context, key string) error
	Keys(ctx context.Context) ([]string, error)
}

// Get decodes the JSON value of key.
func Get[T any](ctx context.Context, store Store, key string) (out T, revision uint64, err error) {
	entry, err := store.Get(ctx, key)
	if err != nil {
		return
	}
	err = json.Unmarshal(entry.Data, &out)
	if err != nil {
		return
	}
	return out, entry.Revision, nil
}

// Put encodes v as JSON and creates key when lastRevision is 0, or updates it otherwise.
func Put[T any](ctx context.Context, store Store, key string, v T, lastRevision uint64) (uint64, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return 0, err
	}
	if lastRevision == 0 {
		return store.Create(ctx, key, data)
	}
	return store.Update(ctx, key, data, lastRevision)
}
