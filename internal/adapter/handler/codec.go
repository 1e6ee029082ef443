package handler

import (
	"encoding/json"

	"google.golang.org/grpc/encoding"
)

// jsonCodec carries gRPC messages as JSON so terminals can reuse the
// snapshot shape they already send over HTTP.
type jsonCodec struct{}

func (jsonCodec) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (jsonCodec) Unmarshal(data []byte, v any) error {
	return json.Unmarshal(data, v)
}

func (jsonCodec) Name() string {
	return "json"
}

func JSONCodec() encoding.Codec {
	return jsonCodec{}
}

func init() {
	encoding.RegisterCodec(jsonCodec{})
}
