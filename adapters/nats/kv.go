package nats

import (
	"context"
	"errors"
	"fmt"
	"slices"
	"time"

	"github.com/nats-io/nats.go/jetstream"

	"github.com/codewandler/streamstore/ports/kv"
)

// kvHeaderRoom is kept free of the server max payload for the headers of a
// compare-and-set write.
const kvHeaderRoom = 1024

type KvConfig struct {
	Connect       Connector
	Bucket        string
	MemoryStorage bool
	MaxBytes      int64
}

// KvStore is a kv.Store on a JetStream key value bucket. Revisions are the
// sequences of the bucket's stream.
type KvStore struct {
	bucket    jetstream.KeyValue
	closeConn closeFunc
	maxValue  int
}

func NewKvStore(cfg KvConfig) (*KvStore, error) {
	if cfg.Bucket == "" {
		return nil, errors.New("bucket is required")
	}

	doConnect := cfg.Connect
	if doConnect == nil {
		doConnect = ConnectDefault()
	}

	nc, closeConn, err := doConnect()
	if err != nil {
		return nil, err
	}

	js, err := jetstream.New(nc)
	if err != nil {
		closeConn()
		return nil, err
	}

	storage := jetstream.FileStorage
	if cfg.MemoryStorage {
		storage = jetstream.MemoryStorage
	}
	maxBytes := cfg.MaxBytes
	if maxBytes == 0 {
		maxBytes = -1
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	bucket, err := js.CreateOrUpdateKeyValue(ctx, jetstream.KeyValueConfig{
		Bucket:   cfg.Bucket,
		Storage:  storage,
		MaxBytes: maxBytes,
	})
	if err != nil {
		closeConn()
		return nil, fmt.Errorf("failed to create bucket %s: %w", cfg.Bucket, err)
	}

	return &KvStore{
		bucket:    bucket,
		closeConn: closeConn,
		maxValue:  int(nc.MaxPayload()) - kvHeaderRoom,
	}, nil
}

// MaxValueSize is the largest value the connected server accepts.
func (k *KvStore) MaxValueSize() int { return k.maxValue }

func (k *KvStore) Close() error {
	k.closeConn()
	return nil
}

func (k *KvStore) Get(ctx context.Context, key string) (kv.Entry, error) {
	v, err := k.bucket.Get(ctx, key)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyNotFound) {
			return kv.Entry{}, kv.ErrNotFound
		}
		return kv.Entry{}, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return kv.Entry{Key: key, Data: v.Value(), Revision: v.Revision()}, nil
}

func (k *KvStore) Create(ctx context.Context, key string, data []byte) (uint64, error) {
	rev, err := k.bucket.Create(ctx, key, data)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) {
			return 0, kv.ErrKeyExists
		}
		return 0, fmt.Errorf("failed to create %s: %w", key, err)
	}
	return rev, nil
}

func (k *KvStore) Update(ctx context.Context, key string, data []byte, lastRevision uint64) (uint64, error) {
	rev, err := k.bucket.Update(ctx, key, data, lastRevision)
	if err != nil {
		if errors.Is(err, jetstream.ErrKeyExists) || isWrongLastSequence(err) {
			return 0, kv.ErrRevisionMismatch
		}
		return 0, fmt.Errorf("failed to update %s: %w", key, err)
	}
	return rev, nil
}

func (k *KvStore) Delete(ctx context.Context, key string) error {
	if err := k.bucket.Delete(ctx, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (k *KvStore) Keys(ctx context.Context) ([]string, error) {
	lister, err := k.bucket.ListKeys(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list keys: %w", err)
	}
	defer func() { _ = lister.Stop() }()

	var keys []string
	for key := range lister.Keys() {
		keys = append(keys, key)
	}
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	slices.Sort(keys)
	return keys, nil
}

var _ kv.Store = (*KvStore)(nil)
