package serializer

import (
	"fmt"

	"github.com/sandrolain/mqtt-rpc/wire"
)

// Raw passes []byte payloads through unchanged, advertising
// application/octet-stream and PayloadFormatBytes. Useful for telemetry of
// pre-encoded data or custom wire formats the framework does not need to
// understand.
type Raw struct{}

var _ Serializer[[]byte] = Raw{}

func (Raw) ContentType() string { return "application/octet-stream" }

func (Raw) Serialize(value []byte) ([]byte, wire.PayloadFormat, error) {
	return value, wire.PayloadFormatBytes, nil
}

func (Raw) Deserialize(data []byte, _ string, _ wire.PayloadFormat) ([]byte, error) {
	return data, nil
}

// Text passes strings through as UTF-8, advertising text/plain and
// PayloadFormatUTF8.
type Text struct{}

var _ Serializer[string] = Text{}

func (Text) ContentType() string { return "text/plain" }

func (Text) Serialize(value string) ([]byte, wire.PayloadFormat, error) {
	return []byte(value), wire.PayloadFormatUTF8, nil
}

func (Text) Deserialize(data []byte, contentType string, _ wire.PayloadFormat) (string, error) {
	if contentType != "" && contentType != "text/plain" {
		return "", fmt.Errorf("serializer: unsupported content-type %q for text serializer", contentType)
	}
	return string(data), nil
}
