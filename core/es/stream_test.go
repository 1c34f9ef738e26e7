package es

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestProjectStream(t *testing.T) {
	require.Nil(t, ProjectStream("s", "counter", nil))

	t0 := time.Date(2025, 1, 1, 0, 0, 0, 0, time.UTC)
	evs := []Event{
		{StreamID: "s", Version: 1, ActorID: "a", OccurredOn: t0},
		{StreamID: "s", Version: 2, ActorID: "b", OccurredOn: t0.Add(time.Minute), IsDeleted: boolPtr(true)},
		{StreamID: "s", Version: 3, ActorID: "c", OccurredOn: t0.Add(2 * time.Minute)},
	}
	s := ProjectStream("s", "counter", evs)
	require.NotNil(t, s)
	require.Equal(t, Version(3), s.Version)
	require.Equal(t, ActorID("a"), s.CreatedBy)
	require.Equal(t, t0, s.CreatedOn)
	require.Equal(t, ActorID("c"), s.UpdatedBy)
	require.Equal(t, t0.Add(2*time.Minute), s.UpdatedOn)
	require.True(t, s.IsDeleted, "latest non-nil delete flag wins")

	evs = append(evs, Event{StreamID: "s", Version: 4, IsDeleted: boolPtr(false)})
	require.False(t, ProjectStream("s", "counter", evs).IsDeleted)
}

func TestProjectStream_MatchesReplay(t *testing.T) {
	c := newCounter()
	require.NoError(t, Raise(c, &counted{N: 1}, WithActor("a")))
	require.NoError(t, Raise(c, &renamed{Name: "x"}, WithActor("b"), WithDelete()))
	require.NoError(t, Raise(c, &counted{N: 1}, WithActor("c")))

	s := ProjectStream(c.ID(), "counter", c.Changes())

	replayed := newCounter()
	require.NoError(t, LoadFromChanges(replayed, c.ID(), c.Changes()))
	require.Equal(t, s.Version, replayed.Version())
	require.Equal(t, s.CreatedBy, replayed.CreatedBy())
	require.Equal(t, s.CreatedOn, replayed.CreatedOn())
	require.Equal(t, s.UpdatedBy, replayed.UpdatedBy())
	require.Equal(t, s.UpdatedOn, replayed.UpdatedOn())
	require.Equal(t, s.IsDeleted, replayed.IsDeleted())
}
