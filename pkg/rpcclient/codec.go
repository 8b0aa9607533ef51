package rpcclient

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodecName is registered as a gRPC content-subtype so calls can select
// it via grpc.CallContentSubtype without protoc-generated bindings.
const jsonCodecName = "json"

// jsonCodec implements google.golang.org/grpc/encoding.Codec over
// encoding/json, standing in for protoc-generated protobuf marshaling.
type jsonCodec struct{}

func (jsonCodec) Marshal(v interface{}) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v interface{}) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return jsonCodecName
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
