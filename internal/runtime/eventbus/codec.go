package eventbus

import (
	"fmt"

	"google.golang.org/protobuf/proto"

	errspkg "github.com/drblury/relay/internal/runtime/errors"
	"github.com/drblury/relay/internal/runtime/jsoncodec"
)

// Content types written to the relay_content_type header.
const (
	ContentTypeJSON     = "application/json"
	ContentTypeProtobuf = "application/x-protobuf"
)

// Codec encodes event notifications for the wire.
type Codec interface {
	ContentType() string
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes into v, which is a pointer or a protobuf message.
	Unmarshal(data []byte, v any) error
}

// JSONCodec encodes with jsoncodec: protojson for protobuf messages, sonic
// otherwise.
type JSONCodec struct{}

func (JSONCodec) ContentType() string { return ContentTypeJSON }

func (JSONCodec) Marshal(v any) ([]byte, error) { return jsoncodec.Marshal(v) }

func (JSONCodec) Unmarshal(data []byte, v any) error { return jsoncodec.Unmarshal(data, v) }

// ProtoCodec uses the protobuf binary encoding. Only protobuf messages are
// supported.
type ProtoCodec struct{}

func (ProtoCodec) ContentType() string { return ContentTypeProtobuf }

func (ProtoCodec) Marshal(v any) ([]byte, error) {
	msg, ok := v.(proto.Message)
	if !ok {
		return nil, fmt.Errorf("%w: %T is not a protobuf message", errspkg.ErrUnexpectedPayload, v)
	}
	return proto.Marshal(msg)
}

func (ProtoCodec) Unmarshal(data []byte, v any) error {
	msg, ok := v.(proto.Message)
	if !ok {
		return fmt.Errorf("%w: %T is not a protobuf message", errspkg.ErrUnexpectedPayload, v)
	}
	return proto.Unmarshal(data, msg)
}

var builtinCodecs = map[string]Codec{
	ContentTypeJSON:     JSONCodec{},
	ContentTypeProtobuf: ProtoCodec{},
}

// codecFor picks the codec named by contentType, preferring fallback when it
// matches or the content type is unknown.
func codecFor(contentType string, fallback Codec) Codec {
	if fallback != nil && (contentType == "" || contentType == fallback.ContentType()) {
		return fallback
	}
	if c, ok := builtinCodecs[contentType]; ok {
		return c
	}
	if fallback != nil {
		return fallback
	}
	return JSONCodec{}
}
