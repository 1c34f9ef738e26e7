package es

import (
	"encoding/json"
	"log/slog"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestVersion(t *testing.T) {
	var zero Version
	require.Equal(t, Version(1), zero.Next(), "first event of a stream")
	require.True(t, Version(1) < Version(2))

	data, err := json.Marshal(Version(42))
	require.NoError(t, err)
	require.Equal(t, `42`, string(data))

	var x Version
	require.NoError(t, json.Unmarshal([]byte("1234"), &x))
	require.Equal(t, uint64(1234), x.Uint64())
}

func TestVersion_SlogAttr(t *testing.T) {
	require.Equal(t, slog.Uint64("version", 3), Version(3).SlogAttr())
	require.Equal(t, slog.Uint64("from_version", 0), Version(0).SlogAttrWithKey("from_version"))
}
