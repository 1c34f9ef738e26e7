package es

import (
	"strings"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestParseStreamID(t *testing.T) {
	for _, tc := range []struct {
		name string
		in   string
		err  error
	}{
		{name: "ascii", in: "user-1"},
		{name: "max ascii", in: strings.Repeat("a", MaxIDLength)},
		{name: "max multibyte", in: strings.Repeat("é", MaxIDLength)},
		{name: "too long ascii", in: strings.Repeat("a", MaxIDLength+1), err: ErrIDTooLong},
		{name: "too long multibyte", in: strings.Repeat("é", MaxIDLength+1), err: ErrIDTooLong},
		{name: "blank", in: " \t", err: ErrBlankStreamID},
	} {
		t.Run(tc.name, func(t *testing.T) {
			id, err := ParseStreamID(tc.in)
			if tc.err != nil {
				require.ErrorIs(t, err, tc.err)
				return
			}
			require.NoError(t, err)
			require.Equal(t, StreamID(tc.in), id)
		})
	}
}

func TestActorID_Validate(t *testing.T) {
	require.NoError(t, ActorID(strings.Repeat("ü", MaxIDLength)).Validate())
	require.ErrorIs(t, ActorID(strings.Repeat("ü", MaxIDLength+1)).Validate(), ErrIDTooLong)
	require.NoError(t, ActorID("").Validate())
}
