package es

import "log/slog"

type (
	valueOption[T any] struct{ v T }
	LogOption          valueOption[*slog.Logger]
	BackendOption      valueOption[Backend]
	BusOption          valueOption[[]EventBus]
	MemoryOption       struct{}
	EventsOption       valueOption[[]func() Payload]
	MultiOption[T any] struct{ opts []T }
	EnvOpts            MultiOption[EnvOption]
)

func WithLog(l *slog.Logger) LogOption                { return LogOption{v: l} }
func WithBackend(b Backend) BackendOption             { return BackendOption{v: b} }
func WithBus(buses ...EventBus) BusOption             { return BusOption{v: buses} }
func WithInMemory() MemoryOption                      { return MemoryOption{} }
func WithEvents(ctors ...func() Payload) EventsOption { return EventsOption{v: ctors} }
func WithEnvOpts(opts ...EnvOption) EnvOpts           { return EnvOpts{opts: opts} }

// WithEvent registers the payload type *T.
func WithEvent[T any, PT payloadPtr[T]]() EventsOption {
	return EventsOption{v: []func() Payload{Ctor[T, PT]()}}
}

func (o LogOption) applyToEnv(e *envOptions)      { e.log = o.v }
func (o LogOption) applyToStore(s *storeOpts)     { s.log = o.v }
func (o LogOption) applyToRepository(r *repoOpts) { r.log = o.v }
func (o LogOption) applyToMemory(m *memoryOpts)   { m.log = o.v }
func (o BackendOption) applyToEnv(e *envOptions)  { e.backend = o.v }
func (o BusOption) applyToEnv(e *envOptions)      { e.buses = append(e.buses, o.v...) }
func (o BusOption) applyToStore(s *storeOpts)     { s.buses = append(s.buses, o.v...) }
func (o MemoryOption) applyToEnv(e *envOptions)   { e.backend = NewMemoryBackend() }
func (o EventsOption) applyToEnv(e *envOptions)   { e.events = append(e.events, o.v...) }
func (o EnvOpts) applyToEnv(e *envOptions) {
	for _, opt := range o.opts {
		opt.applyToEnv(e)
	}
}
