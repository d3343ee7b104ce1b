package derpb

import (
	"encoding/json"
	"fmt"

	"google.golang.org/grpc/encoding"
)

// codecName is the wire codec this package registers and requires of
// its ClientConn/Server (via grpc.CallContentSubtype / grpc.CallOption).
// A real protoc-gen-go build would use protobuf binary framing; absent
// a .proto toolchain in this build, messages are framed as JSON inside
// the same length-prefixed gRPC message envelope. See DESIGN.md.
const codecName = "derpb-json"

func init() {
	encoding.RegisterCodec(jsonCodec{})
}

type jsonCodec struct{}

func (jsonCodec) Name() string { return codecName }

func (jsonCodec) Marshal(v any) ([]byte, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return nil, fmt.Errorf("derpb: marshal %T: %w", v, err)
	}
	return data, nil
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	if err := json.Unmarshal(data, v); err != nil {
		return fmt.Errorf("derpb: unmarshal into %T: %w", v, err)
	}
	return nil
}
