// Package docstore keeps streams in a kv.Store. Every stream has a head document
// holding its type, its version and the records of its latest append; appends
// compare-and-set the head. Earlier appends are moved to immutable batch keys.
package docstore

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"slices"
	"strconv"
	"strings"

	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/ports/kv"
)

const defaultKeyPrefix = "stream."

// ErrBatchTooLarge is returned when one append does not fit into a single value of the store.
var ErrBatchTooLarge = errors.New("append too large for document store")

type Config struct {
	Store     kv.Store
	Log       *slog.Logger
	KeyPrefix string
	// MaxValueSize is the largest value Store accepts. Zero means unlimited.
	MaxValueSize int
}

// head is the compare-and-set token of a stream. Tail holds the records of the
// latest append; every earlier append lives under its batch key.
type head struct {
	Type    string      `json:"type"`
	Version es.Version  `json:"version"`
	Tail    []es.Record `json:"tail"`
}

func (h head) tailFirst() es.Version {
	if len(h.Tail) == 0 {
		return h.Version + 1
	}
	return h.Tail[0].Version
}

// EventStore is stream atomic: each append is one compare-and-set of one head.
type EventStore struct {
	kv       kv.Store
	log      *slog.Logger
	prefix   string
	maxValue int
}

func New(cfg Config) (*EventStore, error) {
	if cfg.Store == nil {
		return nil, errors.New("kv store is required")
	}
	log := cfg.Log
	if log == nil {
		log = slog.Default()
	}
	prefix := cfg.KeyPrefix
	if prefix == "" {
		prefix = defaultKeyPrefix
	}
	return &EventStore{
		kv:       cfg.Store,
		log:      log.With(slog.String("backend", "docstore"), slog.String("store", fmt.Sprintf("%T", cfg.Store))),
		prefix:   prefix,
		maxValue: cfg.MaxValueSize,
	}, nil
}

func (s *EventStore) Atomicity() es.Atomicity { return es.StreamAtomic }

func (s *EventStore) Head(ctx context.Context, id es.StreamID) (es.StreamHead, bool, error) {
	h, _, ok, err := s.load(ctx, id)
	if err != nil || !ok {
		return es.StreamHead{ID: id}, false, err
	}
	return es.StreamHead{ID: id, Type: h.Type, Version: h.Version}, true, nil
}

// ReadRange walks the batch keys of stream id from version 1 up to the tail of
// its head. Batches before from are read to find the next batch key.
func (s *EventStore) ReadRange(ctx context.Context, id es.StreamID, from, to es.Version) ([]es.Record, error) {
	h, _, ok, err := s.load(ctx, id)
	if err != nil || !ok {
		return nil, err
	}

	var (
		out  []es.Record
		last = h.tailFirst()
	)
	for v := es.Version(1); v < last; {
		if to > 0 && v > to {
			return out, nil
		}
		if err := ctx.Err(); err != nil {
			return nil, err
		}
		batch, err := s.loadBatch(ctx, id, v)
		if err != nil {
			return nil, err
		}
		out = filterRange(out, batch, from, to)
		v = batch[len(batch)-1].Version + 1
	}
	return filterRange(out, h.Tail, from, to), nil
}

func (s *EventStore) StreamIDs(ctx context.Context, streamType string) ([]es.StreamID, error) {
	keys, err := s.kv.Keys(ctx)
	if err != nil {
		return nil, err
	}

	var ids []es.StreamID
	for _, key := range keys {
		token, ok := strings.CutPrefix(key, s.prefix)
		if !ok || strings.Contains(token, ".") {
			continue
		}
		raw, err := base64.RawURLEncoding.DecodeString(token)
		if err != nil {
			s.log.Warn("skipping foreign key", slog.String("key", key))
			continue
		}
		id := es.StreamID(raw)
		if streamType != "" {
			h, _, ok, err := s.load(ctx, id)
			if err != nil {
				return nil, err
			}
			if !ok || h.Type != streamType {
				continue
			}
		}
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids, nil
}

func (s *EventStore) Write(ctx context.Context, fn func(tx es.BackendTx) error) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	return fn(s)
}

// CompareAndAppend moves the tail of the head to its batch key, then replaces the
// head if its revision did not change. A batch key is written only with records
// that are already committed, so concurrent writers store the same value.
func (s *EventStore) CompareAndAppend(ctx context.Context, req es.AppendRequest) error {
	if len(req.Records) == 0 {
		return es.ErrNoEvents
	}

	h, rev, exists, err := s.load(ctx, req.StreamID)
	if err != nil {
		return err
	}
	if h.Version != req.Expected {
		return fmt.Errorf("%w: stream %s is at %d, expected %d", es.ErrVersionConflict, req.StreamID, h.Version, req.Expected)
	}
	for i, r := range req.Records {
		if r.Version != req.Expected+es.Version(i+1) {
			return fmt.Errorf("%w: record version %d is not gapless after %d", es.ErrVersionConflict, r.Version, req.Expected)
		}
	}

	next := head{Type: h.Type, Version: req.Records[len(req.Records)-1].Version, Tail: req.Records}
	if !exists {
		next.Type = req.Type
	}
	data, err := json.Marshal(next)
	if err != nil {
		return err
	}
	if s.maxValue > 0 && len(data) > s.maxValue {
		return fmt.Errorf("%w: %d records of stream %s encode to %d bytes, max is %d", ErrBatchTooLarge, len(req.Records), req.StreamID, len(data), s.maxValue)
	}

	if exists && len(h.Tail) > 0 {
		if err := s.archive(ctx, req.StreamID, h.Tail); err != nil {
			return err
		}
	}

	key := s.key(req.StreamID)
	if exists {
		_, err = s.kv.Update(ctx, key, data, rev)
	} else {
		_, err = s.kv.Create(ctx, key, data)
	}
	if errors.Is(err, kv.ErrKeyExists) || errors.Is(err, kv.ErrRevisionMismatch) {
		return fmt.Errorf("%w: head %s changed concurrently", es.ErrVersionConflict, key)
	}
	if err != nil {
		return fmt.Errorf("failed to write stream %s: %w", req.StreamID, err)
	}

	s.log.Debug("appended", slog.String("stream_id", req.StreamID.String()), next.Version.SlogAttr())
	return nil
}

func (s *EventStore) archive(ctx context.Context, id es.StreamID, tail []es.Record) error {
	data, err := json.Marshal(tail)
	if err != nil {
		return err
	}
	key := s.batchKey(id, tail[0].Version)
	_, err = s.kv.Create(ctx, key, data)
	if err != nil && !errors.Is(err, kv.ErrKeyExists) {
		return fmt.Errorf("failed to archive batch %s: %w", key, err)
	}
	return nil
}

func (s *EventStore) load(ctx context.Context, id es.StreamID) (head, uint64, bool, error) {
	var h head
	entry, err := s.kv.Get(ctx, s.key(id))
	if errors.Is(err, kv.ErrNotFound) {
		return h, 0, false, nil
	}
	if err != nil {
		return h, 0, false, fmt.Errorf("failed to read stream %s: %w", id, err)
	}
	if err := json.Unmarshal(entry.Data, &h); err != nil {
		return h, 0, false, fmt.Errorf("failed to decode stream %s: %w", id, err)
	}
	return h, entry.Revision, h.Version > 0, nil
}

func (s *EventStore) loadBatch(ctx context.Context, id es.StreamID, first es.Version) ([]es.Record, error) {
	key := s.batchKey(id, first)
	entry, err := s.kv.Get(ctx, key)
	if errors.Is(err, kv.ErrNotFound) {
		return nil, fmt.Errorf("stream %s misses batch %s", id, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read batch %s: %w", key, err)
	}
	var batch []es.Record
	if err := json.Unmarshal(entry.Data, &batch); err != nil {
		return nil, fmt.Errorf("failed to decode batch %s: %w", key, err)
	}
	if len(batch) == 0 || batch[0].Version != first {
		return nil, fmt.Errorf("batch %s does not start at version %d", key, first)
	}
	return batch, nil
}

func (s *EventStore) key(id es.StreamID) string {
	return s.prefix + base64.RawURLEncoding.EncodeToString([]byte(id))
}

func (s *EventStore) batchKey(id es.StreamID, first es.Version) string {
	return s.key(id) + "." + strconv.FormatUint(first.Uint64(), 10)
}

func filterRange(dst, batch []es.Record, from, to es.Version) []es.Record {
	for _, r := range batch {
		if r.Version < from {
			continue
		}
		if to > 0 && r.Version > to {
			break
		}
		dst = append(dst, r)
	}
	return dst
}

var (
	_ es.Backend   = (*EventStore)(nil)
	_ es.BackendTx = (*EventStore)(nil)
)
