package serializer

import (
	"fmt"

	"github.com/fxamacker/cbor/v2"

	"github.com/sandrolain/mqtt-rpc/wire"
)

// CBOR serializes values as application/cbor, matching the teacher's CBOR
// encoder for compact binary payloads.
type CBOR[T any] struct{}

var _ Serializer[any] = CBOR[any]{}

func (CBOR[T]) ContentType() string { return "application/cbor" }

func (CBOR[T]) Serialize(value T) ([]byte, wire.PayloadFormat, error) {
	data, err := cbor.Marshal(value)
	if err != nil {
		return nil, 0, fmt.Errorf("serializer: cbor marshal: %w", err)
	}
	return data, wire.PayloadFormatBytes, nil
}

func (CBOR[T]) Deserialize(data []byte, contentType string, _ wire.PayloadFormat) (T, error) {
	var value T
	if contentType != "" && contentType != "application/cbor" {
		return value, fmt.Errorf("serializer: unsupported content-type %q for cbor serializer", contentType)
	}
	if err := cbor.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("serializer: cbor unmarshal: %w", err)
	}
	return value, nil
}
