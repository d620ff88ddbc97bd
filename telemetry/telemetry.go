// Package telemetry implements the sender/receiver pair for fire-and-forget
// publication: identical on the wire to executor/invoker except no
// correlation-data, no response-topic, and no response cache. Grounded on
// spec §4.5, reusing the session client, HLC, and serializer contracts the
// RPC path already wires.
package telemetry

import (
	"context"
	"strconv"

	"github.com/sandrolain/mqtt-rpc/hlc"
	"github.com/sandrolain/mqtt-rpc/mqtterrors"
	"github.com/sandrolain/mqtt-rpc/serializer"
	"github.com/sandrolain/mqtt-rpc/session"
	"github.com/sandrolain/mqtt-rpc/topic"
	"github.com/sandrolain/mqtt-rpc/wire"
)

// Sender publishes telemetry payloads to a fixed topic.
type Sender[T any] struct {
	client *session.Client
	topic  string
	ser    serializer.Serializer[T]
	clock  *hlc.Clock
}

// NewSender constructs a Sender bound to a resolved concrete topic.
func NewSender[T any](client *session.Client, topic string, ser serializer.Serializer[T], clock *hlc.Clock) *Sender[T] {
	return &Sender[T]{client: client, topic: topic, ser: ser, clock: clock}
}

// Send publishes value with QoS 1, stamped with the current HLC timestamp,
// source-id, and protocol version, plus any caller-supplied non-reserved
// metadata.
func (s *Sender[T]) Send(ctx context.Context, value T, metadata wire.PropertyList) error {
	for _, p := range metadata {
		if wire.IsReservedKey(p.Key) {
			return mqtterrors.New(mqtterrors.ArgumentInvalid, "telemetry metadata may not set reserved key "+p.Key)
		}
	}

	payload, format, err := s.ser.Serialize(value)
	if err != nil {
		return mqtterrors.Wrap(mqtterrors.PayloadInvalid, "serialize telemetry payload", err)
	}

	props := metadata
	props = props.Set(wire.UserPropSourceID, s.client.ClientID())
	props = props.Set(wire.UserPropProtocolVersion, strconv.Itoa(wire.CurrentProtocolVersion.Major)+"."+strconv.Itoa(wire.CurrentProtocolVersion.Minor))
	props = props.Set(wire.UserPropTimestamp, hlc.Encode(s.clock.Now()))

	msg := &wire.Message{
		Topic:          s.topic,
		Payload:        payload,
		QoS:            wire.QoS1,
		ContentType:    s.ser.ContentType(),
		PayloadFormat:  format,
		UserProperties: props,
	}
	if err := s.client.Publish(ctx, msg); err != nil {
		return mqtterrors.Wrap(mqtterrors.MqttError, "publish telemetry", err)
	}
	return nil
}

// Callback processes one delivered telemetry value, receiving the
// originating client-id and any non-reserved metadata alongside the
// decoded payload.
type Callback[T any] func(ctx context.Context, sourceID string, value T, metadata wire.PropertyList)

// Receiver subscribes to a topic filter (optionally within a shared
// subscription group) and dispatches decoded telemetry to a Callback
// through the session client's shared dispatcher.
type Receiver[T any] struct {
	client     *session.Client
	filter     string
	shareGroup string
	ser        serializer.Serializer[T]
	clock      *hlc.Clock
	cb         Callback[T]
	handlerRef session.Handle
}

// NewReceiver constructs a Receiver. shareGroup may be empty for an
// unshared subscription.
func NewReceiver[T any](client *session.Client, filter, shareGroup string, ser serializer.Serializer[T], clock *hlc.Clock, cb Callback[T]) *Receiver[T] {
	return &Receiver[T]{client: client, filter: filter, shareGroup: shareGroup, ser: ser, clock: clock, cb: cb}
}

// Start subscribes and begins delivering telemetry to the callback.
func (r *Receiver[T]) Start(ctx context.Context) error {
	subFilter := r.filter
	if r.shareGroup != "" {
		subFilter = "$share/" + r.shareGroup + "/" + r.filter
	}
	r.handlerRef = r.client.RegisterMessageHandler(func(ctx context.Context, msg *wire.Message) error {
		return r.handle(ctx, msg)
	})
	return r.client.Subscribe(ctx, subFilter, wire.QoS1, false)
}

// Stop deregisters the handler and unsubscribes.
func (r *Receiver[T]) Stop(ctx context.Context) error {
	subFilter := r.filter
	if r.shareGroup != "" {
		subFilter = "$share/" + r.shareGroup + "/" + r.filter
	}
	r.client.Deregister(r.handlerRef)
	return r.client.Unsubscribe(ctx, subFilter)
}

func (r *Receiver[T]) handle(ctx context.Context, msg *wire.Message) error {
	if !topic.Matches(r.filter, msg.Topic) {
		return nil
	}

	if ts, present := msg.UserProperties.Get(wire.UserPropTimestamp); present {
		if parsed, err := hlc.Decode(ts); err == nil {
			_ = r.clock.Update(parsed)
		}
	}

	value, err := r.ser.Deserialize(msg.Payload, msg.ContentType, msg.PayloadFormat)
	if err != nil {
		return mqtterrors.Wrap(mqtterrors.PayloadInvalid, "deserialize telemetry payload", err)
	}

	sourceID, _ := msg.UserProperties.Get(wire.UserPropSourceID)
	metadata := msg.UserProperties.
		WithoutKey(wire.UserPropSourceID).
		WithoutKey(wire.UserPropProtocolVersion).
		WithoutKey(wire.UserPropTimestamp)

	r.cb(ctx, sourceID, value, metadata)
	return nil
}
