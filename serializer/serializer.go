// Package serializer defines the payload serializer contract the command
// executor, command invoker, and telemetry endpoints are parameterized
// over, plus JSON, CBOR, and raw-bytes implementations.
package serializer

import "github.com/sandrolain/mqtt-rpc/wire"

// Serializer converts between a typed payload value and the wire triple of
// (bytes, content-type, payload-format-indicator). Implementations must
// satisfy Serialize ∘ Deserialize = identity over their accepted domain.
type Serializer[T any] interface {
	// ContentType is the MIME type advertised on every message this
	// serializer produces.
	ContentType() string
	// Serialize converts a value to wire bytes and its payload-format
	// indicator.
	Serialize(value T) ([]byte, wire.PayloadFormat, error)
	// Deserialize parses wire bytes (with the content-type and
	// payload-format indicator the message carried) back into a value.
	Deserialize(data []byte, contentType string, format wire.PayloadFormat) (T, error)
}
