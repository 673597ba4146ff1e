package envelope

import (
	"errors"
	"fmt"

	"github.com/vmihailenco/msgpack/v5"
)

// ErrEmptyBody is returned when decoding a zero-length body.
var ErrEmptyBody = errors.New("envelope: empty body")

// Serialize encodes the envelope into the body stored in every envelope
// table and handed to transports.
func Serialize(e *Envelope) ([]byte, error) {
	data, err := msgpack.Marshal(e)
	if err != nil {
		return nil, fmt.Errorf("envelope: serialize %s: %w", e.ID, err)
	}
	return data, nil
}

// Deserialize decodes a body produced by Serialize.
func Deserialize(body []byte) (*Envelope, error) {
	if len(body) == 0 {
		return nil, ErrEmptyBody
	}
	var e Envelope
	if err := msgpack.Unmarshal(body, &e); err != nil {
		return nil, fmt.Errorf("envelope: deserialize: %w", err)
	}
	return &e, nil
}
