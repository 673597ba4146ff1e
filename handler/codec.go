package handler

import (
	"encoding/json"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// Supported payload content types. An empty content type means JSON.
const (
	ContentTypeJSON    = "application/json"
	ContentTypeMsgpack = "application/msgpack"
)

// Encode serializes v for an envelope with the given content type.
func Encode(contentType string, v any) ([]byte, error) {
	switch contentType {
	case ContentTypeMsgpack:
		return msgpack.Marshal(v)
	case "", ContentTypeJSON:
		return json.Marshal(v)
	default:
		return nil, fmt.Errorf("handler: unsupported content type %q", contentType)
	}
}

// Decode deserializes data into v according to contentType.
func Decode(contentType string, data []byte, v any) error {
	switch contentType {
	case ContentTypeMsgpack:
		return msgpack.Unmarshal(data, v)
	case "", ContentTypeJSON:
		return json.Unmarshal(data, v)
	default:
		return fmt.Errorf("handler: unsupported content type %q", contentType)
	}
}
