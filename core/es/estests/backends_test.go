package estests

import (
	"fmt"
	"log/slog"
	"testing"

	gonanoid "github.com/matoous/go-nanoid/v2"
	"github.com/stretchr/testify/require"

	"github.com/codewandler/streamstore/adapters/docstore"
	"github.com/codewandler/streamstore/adapters/nats"
	"github.com/codewandler/streamstore/adapters/sql"
	"github.com/codewandler/streamstore/core/es"
	"github.com/codewandler/streamstore/internal/domain"
	"github.com/codewandler/streamstore/ports/kv"
)

type testCase struct {
	name    string
	backend func(t *testing.T) es.Backend
}

func getBackendSUTs() []testCase {
	return []testCase{
		{
			name:    "memory",
			backend: func(*testing.T) es.Backend { return es.NewMemoryBackend() },
		},
		{
			name: "sqlite",
			backend: func(t *testing.T) es.Backend {
				s, err := sql.Open(sql.Config{SQLitePath: fmt.Sprintf("file:%s?mode=memory&cache=shared", gonanoid.Must())})
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "docstore/memory",
			backend: func(t *testing.T) es.Backend {
				s, err := docstore.New(docstore.Config{Store: kv.NewMemStore()})
				require.NoError(t, err)
				return s
			},
		},
		{
			name: "postgres",
			backend: func(t *testing.T) es.Backend {
				s, err := sql.Open(sql.Config{PostgresDSN: sql.NewPostgresTestContainer(t)})
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "nats",
			backend: func(t *testing.T) es.Backend {
				s, err := nats.NewEventStore(nats.EventStoreConfig{
					Log:           slog.Default(),
					Connect:       nats.NewTestContainer(t),
					SubjectPrefix: "streamstore.es.tenant-1",
					MemoryStorage: true,
				})
				require.NoError(t, err)
				t.Cleanup(func() { _ = s.Close() })
				return s
			},
		},
		{
			name: "docstore/nats",
			backend: func(t *testing.T) es.Backend {
				store, err := nats.NewKvStore(nats.KvConfig{
					Connect:       nats.NewTestContainer(t),
					Bucket:        "streams",
					MemoryStorage: true,
				})
				require.NoError(t, err)
				t.Cleanup(func() { _ = store.Close() })

				s, err := docstore.New(docstore.Config{Store: store, MaxValueSize: store.MaxValueSize()})
				require.NoError(t, err)
				return s
			},
		},
	}
}

type Tef func(opts ...es.EnvOption) *es.TestingEnv
type TestFunc func(t *testing.T, tef Tef)

// eachBackend runs testFunc once per backend. Every call of tef returns a new
// environment sharing the backend of that run.
func eachBackend(testFunc TestFunc) func(t *testing.T) {
	return func(t *testing.T) {
		for _, sut := range getBackendSUTs() {
			t.Run(sut.name, func(t *testing.T) {
				if testing.Short() && sut.name != "memory" {
					t.Skip("short mode")
				}
				backend := sut.backend(t)
				testFunc(
					t,
					func(opts ...es.EnvOption) *es.TestingEnv {
						return es.StartTestEnv(
							t,
							es.WithBackend(backend),
							es.WithEvents(domain.Events()...),
							es.WithEnvOpts(opts...),
						)
					},
				)
			})
		}
	}
}
