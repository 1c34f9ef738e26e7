package es

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

// === Helpers ===

type TestingEnv struct {
	*Env
	t *testing.T
}

func (e *TestingEnv) Assert() *TestingEnvAssert {
	return &TestingEnvAssert{env: e}
}

// StartTestEnv returns an Env backed by memory unless opts name another backend.
func StartTestEnv(
	t *testing.T,
	opts ...EnvOption,
) *TestingEnv {
	t.Helper()
	return &TestingEnv{
		t:   t,
		Env: NewEnv(WithEnvOpts(opts...)),
	}
}

type TestingEnvAssert struct {
	env *TestingEnv
}

// Append commits events to stream id and fails the test on error.
func (t *TestingEnvAssert) Append(
	ctx context.Context,
	id StreamID,
	streamType string,
	expect StreamExpectation,
	payloads ...Payload,
) {
	t.env.t.Helper()
	events := make([]Event, len(payloads))
	for i, p := range payloads {
		events[i] = Event{Payload: p}
	}
	uow, err := UnitOfWork{}.Append(id, streamType, expect, events...)
	require.NoError(t.env.t, err)
	require.NoError(t.env.t, t.env.Store().Commit(ctx, uow))
}

// StreamVersion fetches stream id and requires it to be at version v.
func (t *TestingEnvAssert) StreamVersion(ctx context.Context, id StreamID, v Version) {
	t.env.t.Helper()
	s, err := t.env.Store().Fetch(ctx, id)
	require.NoError(t.env.t, err)
	require.NotNil(t.env.t, s, "stream %s not found", id)
	require.Equal(t.env.t, v, s.Version)
}
