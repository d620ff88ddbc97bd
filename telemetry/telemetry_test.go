package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/hlc"
	"github.com/sandrolain/mqtt-rpc/serializer"
	"github.com/sandrolain/mqtt-rpc/wire"
)

func TestSenderRejectsReservedMetadataKey(t *testing.T) {
	s := NewSender[string](nil, "telemetry/room1", serializer.Text{}, hlc.New("n", nil))
	err := s.Send(context.Background(), "hi", wire.PropertyList{{Key: wire.UserPropTimestamp, Value: "x"}})
	require.Error(t, err)
}

func TestReceiverHandleStripsReservedMetadataAndRoutes(t *testing.T) {
	var gotSource string
	var gotValue string
	var gotMeta wire.PropertyList

	r := NewReceiver[string](nil, "telemetry/+", "", serializer.Text{}, hlc.New("n", nil), func(_ context.Context, sourceID string, value string, metadata wire.PropertyList) {
		gotSource = sourceID
		gotValue = value
		gotMeta = metadata
	})

	msg := &wire.Message{Topic: "telemetry/room1", Payload: []byte("23.5C")}
	msg.UserProperties = msg.UserProperties.Set(wire.UserPropSourceID, "sensor-1")
	msg.UserProperties = msg.UserProperties.Set(wire.UserPropTimestamp, "1:0:sensor-1")
	msg.UserProperties = msg.UserProperties.Set("room", "kitchen")

	require.NoError(t, r.handle(context.Background(), msg))
	require.Equal(t, "sensor-1", gotSource)
	require.Equal(t, "23.5C", gotValue)
	require.Len(t, gotMeta, 1)
	require.Equal(t, "room", gotMeta[0].Key)
}

func TestReceiverHandleIgnoresNonMatchingTopic(t *testing.T) {
	called := false
	r := NewReceiver[string](nil, "telemetry/room1", "", serializer.Text{}, hlc.New("n", nil), func(context.Context, string, string, wire.PropertyList) {
		called = true
	})
	msg := &wire.Message{Topic: "telemetry/room2", Payload: []byte("x")}
	require.NoError(t, r.handle(context.Background(), msg))
	require.False(t, called)
}
