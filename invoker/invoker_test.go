package invoker

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/hlc"
	"github.com/sandrolain/mqtt-rpc/serializer"
	"github.com/sandrolain/mqtt-rpc/wire"
)

func newTestInvoker() *Invoker[string, string] {
	clock := hlc.New("test-invoker", nil)
	return New[string, string](nil, Options{RequestTopic: "cmd/req", ResponseTopic: "cmd/res"}, serializer.Text{}, serializer.Text{}, clock)
}

func TestHandleResponseDeliversToWaiter(t *testing.T) {
	inv := newTestInvoker()

	correlation := []byte("corr-1")
	ch := make(chan pendingResult[string], 1)
	inv.pending[string(correlation)] = ch

	resp := &wire.Message{
		CorrelationData: correlation,
		Payload:         []byte("hello"),
	}
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropStatus, "200")

	inv.handleResponse(resp)

	select {
	case result := <-ch:
		require.NoError(t, result.err)
		require.Equal(t, "hello", result.resp)
	case <-time.After(time.Second):
		t.Fatal("expected response to be delivered")
	}
}

func TestHandleResponseUnknownCorrelationIsDropped(t *testing.T) {
	inv := newTestInvoker()
	resp := &wire.Message{CorrelationData: []byte("unknown")}
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropStatus, "200")

	require.NotPanics(t, func() { inv.handleResponse(resp) })
}

func TestHandleResponseErrorStatus(t *testing.T) {
	inv := newTestInvoker()
	correlation := []byte("corr-2")
	ch := make(chan pendingResult[string], 1)
	inv.pending[string(correlation)] = ch

	resp := &wire.Message{CorrelationData: correlation}
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropStatus, "422")
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropStatusMessage, "bad input")

	inv.handleResponse(resp)

	result := <-ch
	require.Error(t, result.err)
}
