package codec

import (
	"bytes"
	"testing"

	"github.com/stretchr/testify/require"
)

type doc struct {
	Name  string `json:"name" yaml:"name"`
	Count int    `json:"count" yaml:"count"`
}

func TestForFormat(t *testing.T) {
	for _, format := range []string{"", "json", "yaml", "yml"} {
		c, err := ForFormat(format)
		require.NoError(t, err, format)

		var buf bytes.Buffer
		require.NoError(t, Write(&buf, c, doc{Name: "ada", Count: 2}))
		require.Equal(t, byte('\n'), buf.Bytes()[buf.Len()-1])

		var out doc
		require.NoError(t, c.Unmarshal(buf.Bytes(), &out))
		require.Equal(t, doc{Name: "ada", Count: 2}, out)
	}

	_, err := ForFormat("xml")
	require.Error(t, err)
}

func TestWrite_YAML(t *testing.T) {
	var buf bytes.Buffer
	require.NoError(t, Write(&buf, YAMLCodec{}, doc{Name: "ada", Count: 2}))
	require.Equal(t, "name: ada\ncount: 2\n", buf.String())
}
