package mqtterrors

import (
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestErrorMessageFormatting(t *testing.T) {
	plain := New(ArgumentInvalid, "bad input")
	require.Equal(t, "ArgumentInvalid: bad input", plain.Error())

	wrapped := Wrap(PayloadInvalid, "decode failed", errors.New("unexpected EOF"))
	require.Equal(t, "PayloadInvalid: decode failed: unexpected EOF", wrapped.Error())
	require.Equal(t, "unexpected EOF", wrapped.Unwrap().Error())
}

func TestErrorIsMatchesByKindOnly(t *testing.T) {
	err := Wrap(Timeout, "deadline exceeded", errors.New("ctx done"))
	require.True(t, errors.Is(err, ErrTimeout))
	require.False(t, errors.Is(err, ErrMqtt))
}

func TestWithStatusBuildsInvocationError(t *testing.T) {
	err := WithStatus(422, "validation failed")
	require.Equal(t, InvocationError, err.Kind)
	require.Equal(t, 422, err.Status)
	require.True(t, errors.Is(err, ErrInvocation))
}

func TestQueueFullIsMqttKind(t *testing.T) {
	require.True(t, errors.Is(ErrQueueFull, ErrMqtt))
}

func TestKindStringUnknownDefault(t *testing.T) {
	var k Kind = 999
	require.Equal(t, "UnknownError", k.String())
}
