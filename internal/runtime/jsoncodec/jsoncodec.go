// Package jsoncodec encodes payloads as JSON. Protobuf messages go through
// protojson so their canonical JSON mapping is kept; everything else uses
// sonic with standard library compatible settings.
package jsoncodec

import (
	"github.com/bytedance/sonic"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/proto"
)

var defaultConfig = sonic.ConfigStd

var (
	protoMarshal   = protojson.MarshalOptions{}
	protoUnmarshal = protojson.UnmarshalOptions{DiscardUnknown: true}
)

// Marshal encodes v. Protobuf messages use protojson.
func Marshal(v any) ([]byte, error) {
	if msg, ok := v.(proto.Message); ok {
		return protoMarshal.Marshal(msg)
	}
	return defaultConfig.Marshal(v)
}

// Unmarshal decodes data into v, which must be a pointer. Protobuf messages
// use protojson and ignore unknown fields.
func Unmarshal(data []byte, v any) error {
	if msg, ok := v.(proto.Message); ok {
		return protoUnmarshal.Unmarshal(data, msg)
	}
	return defaultConfig.Unmarshal(data, v)
}

// IsProto reports whether v is encoded with protojson.
func IsProto(v any) bool {
	_, ok := v.(proto.Message)
	return ok
}
