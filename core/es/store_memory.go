package es

import (
	"context"
	"fmt"
	"log/slog"
	"slices"
	"sync"
)

type (
	memoryOpts          struct{ log *slog.Logger }
	MemoryBackendOption interface{ applyToMemory(*memoryOpts) }
)

type memStream struct {
	typ     string
	records []Record
}

// MemoryBackend keeps streams in process memory. It is batch atomic and meant for tests
// and local development.
type MemoryBackend struct {
	mu      sync.Mutex
	log     *slog.Logger
	streams map[StreamID]*memStream
	order   []StreamID
}

func NewMemoryBackend(opts ...MemoryBackendOption) *MemoryBackend {
	options := memoryOpts{log: slog.Default()}
	for _, opt := range opts {
		opt.applyToMemory(&options)
	}
	return &MemoryBackend{
		log:     options.log.With(slog.String("backend", "memory")),
		streams: map[StreamID]*memStream{},
	}
}

func (m *MemoryBackend) Atomicity() Atomicity { return BatchAtomic }

func (m *MemoryBackend) Head(ctx context.Context, id StreamID) (StreamHead, bool, error) {
	if err := ctx.Err(); err != nil {
		return StreamHead{}, false, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	h, ok := headOf(id, m.streams[id])
	return h, ok, nil
}

func (m *MemoryBackend) ReadRange(ctx context.Context, id StreamID, from, to Version) ([]Record, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	s, ok := m.streams[id]
	if !ok {
		return nil, nil
	}
	out := make([]Record, 0, len(s.records))
	for _, r := range s.records {
		if r.Version < from {
			continue
		}
		if to > 0 && r.Version > to {
			break
		}
		out = append(out, r)
	}
	return out, nil
}

func (m *MemoryBackend) StreamIDs(ctx context.Context, streamType string) ([]StreamID, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make([]StreamID, 0, len(m.order))
	for _, id := range m.order {
		if streamType == "" || m.streams[id].typ == streamType {
			out = append(out, id)
		}
	}
	return out, nil
}

// Write holds the backend lock for the duration of fn and publishes the staged
// appends only when fn succeeds.
func (m *MemoryBackend) Write(ctx context.Context, fn func(tx BackendTx) error) error {
	m.mu.Lock()
	defer m.mu.Unlock()

	tx := &memTx{m: m, staged: map[StreamID]*memStream{}}
	if err := fn(tx); err != nil {
		return err
	}
	if err := ctx.Err(); err != nil {
		return err
	}

	for _, id := range tx.order {
		if _, ok := m.streams[id]; !ok {
			m.order = append(m.order, id)
		}
		m.streams[id] = tx.staged[id]
	}

	m.log.Debug("committed", slog.Int("streams", len(tx.order)))
	return nil
}

type memTx struct {
	m      *MemoryBackend
	staged map[StreamID]*memStream
	order  []StreamID
}

func (t *memTx) stream(id StreamID) *memStream {
	if s, ok := t.staged[id]; ok {
		return s
	}
	return t.m.streams[id]
}

func (t *memTx) Head(ctx context.Context, id StreamID) (StreamHead, bool, error) {
	if err := ctx.Err(); err != nil {
		return StreamHead{}, false, err
	}
	h, ok := headOf(id, t.stream(id))
	return h, ok, nil
}

func (t *memTx) CompareAndAppend(ctx context.Context, req AppendRequest) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if len(req.Records) == 0 {
		return ErrNoEvents
	}

	cur := t.stream(req.StreamID)
	head, _ := headOf(req.StreamID, cur)
	if head.Version != req.Expected {
		return fmt.Errorf("%w: stream %s is at %d, expected %d", ErrVersionConflict, req.StreamID, head.Version, req.Expected)
	}

	next := &memStream{typ: req.Type}
	if cur != nil {
		next.typ = cur.typ
		next.records = slices.Clone(cur.records)
	}
	for i, r := range req.Records {
		if r.Version != req.Expected+Version(i+1) {
			return fmt.Errorf("%w: record version %d is not gapless after %d", ErrVersionConflict, r.Version, req.Expected)
		}
		next.records = append(next.records, r)
	}

	if _, ok := t.staged[req.StreamID]; !ok {
		t.order = append(t.order, req.StreamID)
	}
	t.staged[req.StreamID] = next
	return nil
}

func headOf(id StreamID, s *memStream) (StreamHead, bool) {
	if s == nil || len(s.records) == 0 {
		return StreamHead{ID: id}, false
	}
	return StreamHead{ID: id, Type: s.typ, Version: s.records[len(s.records)-1].Version}, true
}

var (
	_ Backend   = (*MemoryBackend)(nil)
	_ BackendTx = (*memTx)(nil)
)
