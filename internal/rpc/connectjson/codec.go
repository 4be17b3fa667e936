// Package connectjson carries the delegation stream's plain JSON structs over
// Connect without generated protobuf types.
package connectjson

import (
	"encoding/json"

	"github.com/bufbuild/connect-go"
)

// Codec is a schemaless connect.Codec backed by encoding/json.
type Codec struct{}

// Name identifies the codec in Connect content-type negotiation.
func (Codec) Name() string {
	return "json"
}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

var _ connect.Codec = (*Codec)(nil)
