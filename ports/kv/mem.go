package kv

import (
	"context"
	"slices"
	"sync"
)

type MemStore struct {
	mu       sync.RWMutex
	data     map[string]Entry
	revision uint64
}

func NewMemStore() *MemStore {
	return &MemStore{data: map[string]Entry{}}
}

func (m *MemStore) Get(ctx context.Context, key string) (Entry, error) {
	if err := ctx.Err(); err != nil {
		return Entry{}, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	entry, ok := m.data[key]
	if !ok {
		return Entry{}, ErrNotFound
	}
	entry.Data = slices.Clone(entry.Data)
	return entry, nil
}

func (m *MemStore) Create(ctx context.Context, key string, data []byte) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if _, ok := m.data[key]; ok {
		return 0, ErrKeyExists
	}
	return m.put(key, data), nil
}

func (m *MemStore) Update(ctx context.Context, key string, data []byte, lastRevision uint64) (uint64, error) {
	if err := ctx.Err(); err != nil {
		return 0, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	if cur, ok := m.data[key]; !ok || cur.Revision != lastRevision {
		return 0, ErrRevisionMismatch
	}
	return m.put(key, data), nil
}

func (m *MemStore) put(key string, data []byte) uint64 {
	m.revision++
	m.data[key] = Entry{Key: key, Data: slices.Clone(data), Revision: m.revision}
	return m.revision
}

func (m *MemStore) Delete(_ context.Context, key string) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.data, key)
	return nil
}

func (m *MemStore) Keys(ctx context.Context) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.RLock()
	defer m.mu.RUnlock()

	keys := make([]string, 0, len(m.data))
	for k := range m.data {
		keys = append(keys, k)
	}
	slices.Sort(keys)
	return keys, nil
}

var _ Store = (*MemStore)(nil)
