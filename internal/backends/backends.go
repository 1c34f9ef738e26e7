// Package backends opens the es.Backend and event buses selected by a config.Config.
package backends

import (
	"errors"
	"fmt"
	"log/slog"

	"github.com/codewandler/streamstore/adapters/docstore"
	"github.com/codewandler/streamstore/adapters/nats"
	"github.com/codewandler/streamstore/adapters/sql"
	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/config"
	"github.com/codewandler/streamstore/ports/kv"
)

// Opened holds what Open created. Close releases all of it.
type Opened struct {
	Backend es.Backend
	Buses   []es.EventBus

	closers []func() error
}

// EnvOptions returns the options wiring the backend and the buses into an es.Env.
func (o *Opened) EnvOptions() []es.EnvOption {
	opts := []es.EnvOption{es.WithBackend(o.Backend)}
	if len(o.Buses) > 0 {
		opts = append(opts, es.WithBus(o.Buses...))
	}
	return opts
}

// Close releases resources in reverse order of creation.
func (o *Opened) Close() error {
	var errs []error
	for i := len(o.closers) - 1; i >= 0; i-- {
		errs = append(errs, o.closers[i]())
	}
	o.closers = nil
	return errors.Join(errs...)
}

func (o *Opened) onClose(fn func() error) { o.closers = append(o.closers, fn) }

// Open creates the backend of cfg.Backend. Every NATS component shares one
// connection.
func Open(cfg config.Config, log *slog.Logger) (_ *Opened, err error) {
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	if log == nil {
		log = slog.Default()
	}

	o := &Opened{}
	defer func() {
		if err != nil {
			_ = o.Close()
		}
	}()

	var connect nats.Connector
	if cfg.UsesNATS() {
		connect = nats.ReuseConnection(nats.ConnectURL(cfg.NATS.URL))
	}

	switch cfg.Backend {
	case config.BackendMemory:
		o.Backend = es.NewMemoryBackend(es.WithLog(log))

	case config.BackendSQLite, config.BackendPostgres:
		sqlCfg := sql.Config{Log: log, Debug: cfg.SQL.Debug}
		if cfg.Backend == config.BackendPostgres {
			sqlCfg.PostgresDSN = cfg.SQL.PostgresDSN
		} else {
			sqlCfg.SQLitePath = cfg.SQL.SQLitePath
		}
		store, err := sql.Open(sqlCfg)
		if err != nil {
			return nil, fmt.Errorf("failed to open %s backend: %w", cfg.Backend, err)
		}
		o.onClose(store.Close)
		o.Backend = store

	case config.BackendNATS:
		store, err := nats.NewEventStore(nats.EventStoreConfig{
			Connect:       connect,
			Log:           log,
			SubjectPrefix: cfg.NATS.SubjectPrefix,
			StreamName:    cfg.NATS.Stream,
			Replicas:      cfg.NATS.Replicas,
			MemoryStorage: cfg.NATS.MemoryStorage,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open nats backend: %w", err)
		}
		o.onClose(store.Close)
		o.Backend = store

	case config.BackendDocstoreMemory, config.BackendDocstoreNATS:
		var (
			store    kv.Store = kv.NewMemStore()
			maxValue int
		)
		if cfg.Backend == config.BackendDocstoreNATS {
			natsKV, err := nats.NewKvStore(nats.KvConfig{
				Connect:       connect,
				Bucket:        cfg.NATS.Bucket,
				MemoryStorage: cfg.NATS.MemoryStorage,
			})
			if err != nil {
				return nil, fmt.Errorf("failed to open docstore backend: %w", err)
			}
			o.onClose(natsKV.Close)
			store, maxValue = natsKV, natsKV.MaxValueSize()
		}
		docs, err := docstore.New(docstore.Config{
			Store:        store,
			Log:          log,
			KeyPrefix:    cfg.Docstore.KeyPrefix,
			MaxValueSize: maxValue,
		})
		if err != nil {
			return nil, err
		}
		o.Backend = docs
	}

	if cfg.NATS.Bus {
		bus, err := nats.NewBus(nats.BusConfig{
			Connect:       connect,
			Log:           log,
			SubjectPrefix: cfg.NATS.BusPrefix,
		})
		if err != nil {
			return nil, fmt.Errorf("failed to open nats bus: %w", err)
		}
		o.onClose(bus.Close)
		o.Buses = append(o.Buses, bus)
	}

	log.Debug("opened backend", slog.String("kind", cfg.Backend), slog.Int("buses", len(o.Buses)))
	return o, nil
}
