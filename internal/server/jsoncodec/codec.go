// Package jsoncodec registers a gRPC codec that carries messages as JSON. Services defined with plain Go
// structs use it instead of protobuf; clients select it with grpc.CallContentSubtype(Name).
package jsoncodec

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// Name is the codec name and the gRPC content subtype ("application/grpc+json").
const Name = "json"

func init() {
	encoding.RegisterCodec(Codec{})
}

// Codec marshals gRPC messages with encoding/json.
type Codec struct{}

func (Codec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (Codec) Unmarshal(data []byte, v any) error {
	if len(data) == 0 {
		return nil
	}
	return json.Unmarshal(data, v)
}

func (Codec) Name() string {
	return Name
}
