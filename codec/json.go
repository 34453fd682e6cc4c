package codec

import (
	"encoding/json"

	gojson "github.com/goccy/go-json"
)

// GoJSON is backed by github.com/goccy/go-json. Float32 tensors make up
// almost all of a checkpoint and go-json encodes them considerably faster.
type GoJSON struct{}

// Marshal implements Codec.
func (GoJSON) Marshal(v any) ([]byte, error) { return gojson.Marshal(v) }

// Unmarshal implements Codec.
func (GoJSON) Unmarshal(data []byte, v any) error { return gojson.Unmarshal(data, v) }

// Name implements Codec.
func (GoJSON) Name() string { return "go-json" }

// JSON is the encoding/json codec. Both codecs produce plain JSON, so a
// checkpoint written by either decodes with the other.
type JSON struct{}

// Marshal implements Codec.
func (JSON) Marshal(v any) ([]byte, error) { return json.Marshal(v) }

// Unmarshal implements Codec.
func (JSON) Unmarshal(data []byte, v any) error { return json.Unmarshal(data, v) }

// Name implements Codec.
func (JSON) Name() string { return "json" }
