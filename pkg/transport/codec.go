// Package transport implements catalog's wire protocol: a gRPC service
// whose messages are plain Go structs (pkg/consensus's RPC types)
// marshaled as JSON rather than protobuf. catalog has no need for
// protobuf's schema evolution machinery — every peer runs the same
// binary — so a custom grpc/encoding.Codec keeps gRPC's connection
// management, multiplexing, and flow control while avoiding a .proto
// build step for a tightly-coupled internal RPC surface.
package transport

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

const codecName = "catalog-json"

// jsonCodec marshals arbitrary Go values as JSON instead of requiring
// proto.Message, per this package's doc comment.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("transport: unmarshal: %w", err)
	}
	return nil
}

func (jsonCodec) Name() string { return codecName }

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
