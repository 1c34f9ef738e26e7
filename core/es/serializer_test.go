package es

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func TestJSONSerializer_RoundTrip(t *testing.T) {
	s := NewJSONSerializer(testRegistry())

	for _, p := range []Payload{&counted{N: 42}, &renamed{Name: "föö"}} {
		typeName, data, err := s.Serialize(p)
		require.NoError(t, err)
		require.Equal(t, p.EventType(), typeName)

		got, err := s.Deserialize(typeName, data)
		require.NoError(t, err)
		require.Equal(t, p, got)
	}
}

func TestJSONSerializer_Failures(t *testing.T) {
	s := NewJSONSerializer(testRegistry())

	t.Run("type not found", func(t *testing.T) {
		_, err := s.Deserialize("nope", []byte(`{}`))
		require.ErrorIs(t, err, ErrTypeNotFound)
		require.ErrorIs(t, err, ErrSerialization)

		var se *SerializationError
		require.ErrorAs(t, err, &se)
		require.Equal(t, "nope", se.TypeName)
		require.Equal(t, []byte(`{}`), se.Payload)
	})

	for name, data := range map[string]string{"empty": "", "blank": "  ", "null": "null", "malformed": `{"n":`} {
		t.Run(name, func(t *testing.T) {
			_, err := s.Deserialize("counted", []byte(data))
			require.ErrorIs(t, err, ErrDeserializationFailed)

			var se *SerializationError
			require.ErrorAs(t, err, &se)
			require.Equal(t, "counted", se.TypeName)
		})
	}

	t.Run("nil payload", func(t *testing.T) {
		_, _, err := s.Serialize(nil)
		require.ErrorIs(t, err, ErrSerialization)
	})
}

func TestEventRegistry(t *testing.T) {
	r := testRegistry()
	require.True(t, r.Has("counted"))
	require.False(t, r.Has("unhandled"))
	require.ElementsMatch(t, []string{"counted", "renamed"}, r.Types())

	a, err := r.New("counted")
	require.NoError(t, err)
	b, err := r.New("counted")
	require.NoError(t, err)
	require.NotSame(t, a, b, "every decode gets a fresh payload")

	_, err = r.New("unhandled")
	require.ErrorIs(t, err, ErrTypeNotFound)
}
