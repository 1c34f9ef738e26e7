package es

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"golang.org/x/sync/errgroup"
)

type (
	repoOpts struct {
		log         *slog.Logger
		metrics     ESMetrics
		concurrency int
	}
	RepositoryOption  interface{ applyToRepository(*repoOpts) }
	ConcurrencyOption valueOption[int]
)

// WithLoadConcurrency bounds the number of streams LoadMany fetches in parallel.
func WithLoadConcurrency(n int) ConcurrencyOption { return ConcurrencyOption{v: n} }

func (o ConcurrencyOption) applyToRepository(r *repoOpts) { r.concurrency = o.v }
func (o ConcurrencyOption) applyToEnv(e *envOptions)      { e.repoOpts = append(e.repoOpts, o) }

type (
	loadOpts struct {
		version Version
		deleted *bool
	}
	LoadOption      interface{ applyToLoad(*loadOpts) }
	AtVersionOption valueOption[Version]
)

// AtVersion loads the aggregate as it was at version v.
func AtVersion(v Version) AtVersionOption { return AtVersionOption{v: v} }

// WithDeleted only loads aggregates whose deletion flag equals deleted.
func WithDeleted(deleted bool) DeletedOption { return DeletedOption{v: boolPtr(deleted)} }

func (o AtVersionOption) applyToLoad(l *loadOpts) { l.version = o.v }
func (o DeletedOption) applyToLoad(l *loadOpts)   { l.deleted = o.v }

func (l loadOpts) fetchOpts() []FetchOption {
	opts := []FetchOption{ToVersion(l.version)}
	if l.deleted != nil {
		opts = append(opts, DeletedOption{v: l.deleted})
	}
	return opts
}

// Repository rebuilds aggregates from their streams and persists their changes.
type Repository struct {
	log         *slog.Logger
	store       *EventStore
	metrics     ESMetrics
	concurrency int
}

func NewRepository(store *EventStore, opts ...RepositoryOption) *Repository {
	options := repoOpts{
		log:         slog.Default(),
		metrics:     NopESMetrics(),
		concurrency: 8,
	}
	for _, opt := range opts {
		opt.applyToRepository(&options)
	}
	if options.concurrency < 1 {
		options.concurrency = 1
	}
	return &Repository{
		log:         options.log.With(slog.String("repo", fmt.Sprintf("%T", store.Backend()))),
		store:       store,
		metrics:     options.metrics,
		concurrency: options.concurrency,
	}
}

func (r *Repository) Store() *EventStore { return r.store }

// Load replays stream id into agg, which must be freshly constructed.
// It reports false, without error, when there is nothing to load.
func (r *Repository) Load(ctx context.Context, agg Aggregate, id StreamID, opts ...LoadOption) (bool, error) {
	aggType := agg.AggregateType()
	defer r.metrics.RepoLoadDuration(aggType).ObserveDuration()

	options := loadOpts{}
	for _, opt := range opts {
		opt.applyToLoad(&options)
	}

	b := agg.root()
	if b.version != 0 || b.HasChanges() {
		return false, fmt.Errorf("cannot load stream %s into an aggregate at version %d", id, b.version)
	}

	stream, err := r.store.Fetch(ctx, id, options.fetchOpts()...)
	if err != nil {
		return false, err
	}
	if stream == nil {
		return false, nil
	}
	if stream.Type != "" && stream.Type != aggType {
		return false, fmt.Errorf("%w: stream %s has type %s, not %s", ErrAggregateTypeMismatch, id, stream.Type, aggType)
	}

	if err := LoadFromChanges(agg, id, stream.Events); err != nil {
		return false, err
	}

	r.log.Debug(
		"loaded",
		slog.Group("agg", slog.String("type", aggType), slog.String("id", id.String()), b.version.SlogAttr()),
	)
	return true, nil
}

// Save commits the changes of every aggregate in one unit of work. Aggregates without
// changes are skipped; when none has changes the store is not called.
//
// An aggregate loaded from a persisted version is saved with ShouldBeAtVersion of its
// current version, a new aggregate without expectation. Changes are cleared only after
// a successful commit.
func (r *Repository) Save(ctx context.Context, aggs ...Aggregate) error {
	var (
		uow   UnitOfWork
		dirty []Aggregate
		err   error
	)
	for _, a := range aggs {
		b := a.root()
		if !b.HasChanges() {
			continue
		}
		expect := NoExpectation()
		if b.persistedVersion() > 0 {
			expect = ShouldBeAtVersion(b.version)
		}
		uow, err = uow.Append(b.id, a.AggregateType(), expect, b.changes...)
		if err != nil {
			return err
		}
		dirty = append(dirty, a)
	}
	if uow.IsEmpty() {
		return nil
	}

	defer r.metrics.RepoSaveDuration().ObserveDuration()

	err = r.store.Commit(ctx, uow)
	if err != nil && (errors.Is(err, ErrPartialCommit) || !errors.Is(err, ErrPublishInterrupted)) {
		return err
	}

	for _, a := range dirty {
		a.root().ClearChanges()
		r.log.Debug(
			"saved",
			slog.Group("agg", slog.String("type", a.AggregateType()), slog.String("id", a.root().id.String()), a.root().version.SlogAttr()),
		)
	}
	return err
}

// === TypedRepository ===

// TypedRepository loads and saves aggregates of one concrete type.
type TypedRepository[T Aggregate] struct {
	r       *Repository
	newFunc func() T
	aggType string
}

func NewTypedRepository[T Aggregate](r *Repository, newFunc func() T) *TypedRepository[T] {
	return &TypedRepository[T]{r: r, newFunc: newFunc, aggType: newFunc().AggregateType()}
}

func (t *TypedRepository[T]) AggregateType() string { return t.aggType }
func (t *TypedRepository[T]) New() T                { return t.newFunc() }

// Load returns the aggregate of stream id, or false when it does not exist or does
// not match the options.
func (t *TypedRepository[T]) Load(ctx context.Context, id StreamID, opts ...LoadOption) (T, bool, error) {
	a := t.newFunc()
	ok, err := t.r.Load(ctx, a, id, opts...)
	if err != nil || !ok {
		var zero T
		return zero, false, err
	}
	return a, true, nil
}

// LoadMany loads the aggregates of ids, in order. Missing ids are skipped.
func (t *TypedRepository[T]) LoadMany(ctx context.Context, ids []StreamID, opts ...LoadOption) ([]T, error) {
	var (
		results = make([]T, len(ids))
		found   = make([]bool, len(ids))
	)

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(t.r.concurrency)
	for i, id := range ids {
		g.Go(func() error {
			a, ok, err := t.Load(gctx, id, opts...)
			if err != nil {
				return err
			}
			results[i], found[i] = a, ok
			return nil
		})
	}
	if err := g.Wait(); err != nil {
		return nil, err
	}

	out := make([]T, 0, len(ids))
	for i, ok := range found {
		if ok {
			out = append(out, results[i])
		}
	}
	return out, nil
}

// LoadAll loads every aggregate of this type.
func (t *TypedRepository[T]) LoadAll(ctx context.Context, opts ...LoadOption) ([]T, error) {
	ids, err := t.r.store.StreamIDs(ctx, t.aggType)
	if err != nil {
		return nil, err
	}
	return t.LoadMany(ctx, ids, opts...)
}

func (t *TypedRepository[T]) Save(ctx context.Context, aggs ...T) error {
	all := make([]Aggregate, len(aggs))
	for i, a := range aggs {
		all[i] = a
	}
	return t.r.Save(ctx, all...)
}
