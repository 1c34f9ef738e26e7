// Package codec renders CLI output.
package codec

import (
	"encoding/json"
	"fmt"
	"io"

	"gopkg.in/yaml.v3"
)

type Codec interface {
	Marshal(v any) ([]byte, error)
	Unmarshal(data []byte, v any) error
}

type JSONCodec struct{}

func (JSONCodec) Marshal(v any) ([]byte, error)   { return json.MarshalIndent(v, "", "  ") }
func (JSONCodec) Unmarshal(b []byte, v any) error { return json.Unmarshal(b, v) }

type YAMLCodec struct{}

func (YAMLCodec) Marshal(v any) ([]byte, error)   { return yaml.Marshal(v) }
func (YAMLCodec) Unmarshal(b []byte, v any) error { return yaml.Unmarshal(b, v) }

// ForFormat returns the codec of an output format name.
func ForFormat(format string) (Codec, error) {
	switch format {
	case "json", "":
		return JSONCodec{}, nil
	case "yaml", "yml":
		return YAMLCodec{}, nil
	}
	return nil, fmt.Errorf("unknown output format %q", format)
}

// Write marshals v with c and writes it to w followed by a newline.
func Write(w io.Writer, c Codec, v any) error {
	b, err := c.Marshal(v)
	if err != nil {
		return err
	}
	if len(b) == 0 || b[len(b)-1] != '\n' {
		b = append(b, '\n')
	}
	_, err = w.Write(b)
	return err
}
