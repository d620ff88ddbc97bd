package serializer

import (
	"fmt"

	"github.com/bytedance/sonic"

	"github.com/sandrolain/mqtt-rpc/wire"
)

// JSON serializes values as application/json using sonic, the teacher's
// JSON engine of choice.
type JSON[T any] struct{}

var _ Serializer[any] = JSON[any]{}

func (JSON[T]) ContentType() string { return "application/json" }

func (JSON[T]) Serialize(value T) ([]byte, wire.PayloadFormat, error) {
	data, err := sonic.Marshal(value)
	if err != nil {
		return nil, 0, fmt.Errorf("serializer: json marshal: %w", err)
	}
	return data, wire.PayloadFormatUTF8, nil
}

func (JSON[T]) Deserialize(data []byte, contentType string, _ wire.PayloadFormat) (T, error) {
	var value T
	if contentType != "" && contentType != "application/json" {
		return value, fmt.Errorf("serializer: unsupported content-type %q for json serializer", contentType)
	}
	if err := sonic.Unmarshal(data, &value); err != nil {
		return value, fmt.Errorf("serializer: json unmarshal: %w", err)
	}
	return value, nil
}
