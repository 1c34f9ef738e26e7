package es

import (
	"log/slog"

	gonanoid "github.com/matoous/go-nanoid/v2"
)

type (
	envOptions struct {
		log      *slog.Logger
		backend  Backend
		events   []func() Payload
		buses    []EventBus
		metrics  ESMetrics
		repoOpts []RepositoryOption
	}

	EnvOption interface {
		applyToEnv(*envOptions)
	}
)

func newEnvOptions(opts ...EnvOption) envOptions {
	options := envOptions{metrics: NopESMetrics()}
	for _, opt := range opts {
		opt.applyToEnv(&options)
	}
	if options.log == nil {
		options.log = slog.Default()
	}
	if options.backend == nil {
		options.backend = NewMemoryBackend(WithLog(options.log))
	}
	return options
}

// Env wires a backend, an event registry, the event store and a repository.
type Env struct {
	id       string
	log      *slog.Logger
	registry *EventRegistry
	store    *EventStore
	repo     *Repository
}

func NewEnv(opts ...EnvOption) *Env {
	var (
		id      = gonanoid.Must(6)
		options = newEnvOptions(opts...)
		log     = options.log.With(slog.String("env", id))
	)

	registry := NewRegistry()
	RegisterEvents(registry, options.events...)
	for _, t := range registry.Types() {
		log.Debug("registered event", slog.String("type", t))
	}

	store := NewEventStore(
		options.backend,
		NewJSONSerializer(registry),
		WithLog(log),
		WithBus(options.buses...),
		WithMetrics(options.metrics),
	)

	repoOpts := append([]RepositoryOption{WithLog(log), WithMetrics(options.metrics)}, options.repoOpts...)

	return &Env{
		id:       id,
		log:      log,
		registry: registry,
		store:    store,
		repo:     NewRepository(store, repoOpts...),
	}
}

func (e *Env) ID() string               { return e.id }
func (e *Env) Log() *slog.Logger        { return e.log }
func (e *Env) Registry() *EventRegistry { return e.registry }
func (e *Env) Store() *EventStore       { return e.store }
func (e *Env) Repository() *Repository  { return e.repo }
func (e *Env) Backend() Backend         { return e.store.Backend() }
func (e *Env) NewSession() *Session     { return e.store.NewSession() }

// NewTypedRepositoryFrom returns a typed repository sharing the repository of env.
func NewTypedRepositoryFrom[T Aggregate](env *Env, newFunc func() T) *TypedRepository[T] {
	return NewTypedRepository(env.repo, newFunc)
}
