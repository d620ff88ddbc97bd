// Package invoker implements the command-invoker side of the RPC pattern:
// constructs and publishes request messages, tracks pending invocations by
// correlation-id, and resolves them from matching responses delivered to a
// dedicated response-topic subscription. Grounded on spec §4.4 and on the
// reference AwaitReplyOrStatus select pattern (src/common/await.go in the
// reference repo), generalized from a single in-flight reply channel to a
// correlation table of concurrently pending invocations.
package invoker

import (
	"context"
	"fmt"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/sandrolain/mqtt-rpc/hlc"
	"github.com/sandrolain/mqtt-rpc/mqtterrors"
	"github.com/sandrolain/mqtt-rpc/serializer"
	"github.com/sandrolain/mqtt-rpc/session"
	"github.com/sandrolain/mqtt-rpc/wire"
)

// Options configures an Invoker.
type Options struct {
	RequestTopic  string // resolved concrete topic, tokens already substituted
	ResponseTopic string // resolved concrete topic the invoker subscribes to

	// Targeting a specific executor is a topic token resolution detail
	// handled by the caller before building Options; the invoker itself is
	// agnostic to whether the request topic is shared or targeted.
}

// Invoker sends requests on one (request-topic, response-topic) pair and
// resolves them against replies matched by correlation-id.
type Invoker[Req, Resp any] struct {
	client  *session.Client
	opts    Options
	reqSer  serializer.Serializer[Req]
	respSer serializer.Serializer[Resp]
	clock   *hlc.Clock

	mu      sync.Mutex
	pending map[string]chan pendingResult[Resp]

	subscribed bool
	handlerRef session.Handle
}

type pendingResult[Resp any] struct {
	resp Resp
	err  error
}

// New constructs an Invoker. Call Start once before the first Invoke to
// establish the response-topic subscription.
func New[Req, Resp any](client *session.Client, opts Options, reqSer serializer.Serializer[Req], respSer serializer.Serializer[Resp], clock *hlc.Clock) *Invoker[Req, Resp] {
	return &Invoker[Req, Resp]{
		client:  client,
		opts:    opts,
		reqSer:  reqSer,
		respSer: respSer,
		clock:   clock,
		pending: make(map[string]chan pendingResult[Resp]),
	}
}

// Start subscribes to the response topic, exactly once, idempotently.
func (inv *Invoker[Req, Resp]) Start(ctx context.Context) error {
	inv.mu.Lock()
	if inv.subscribed {
		inv.mu.Unlock()
		return nil
	}
	inv.subscribed = true
	inv.mu.Unlock()

	inv.handlerRef = inv.client.RegisterMessageHandler(func(_ context.Context, msg *wire.Message) error {
		if msg.Topic != inv.opts.ResponseTopic {
			return nil
		}
		inv.handleResponse(msg)
		return nil
	})
	return inv.client.Subscribe(ctx, inv.opts.ResponseTopic, wire.QoS1, false)
}

// Stop unsubscribes and deregisters the response handler.
func (inv *Invoker[Req, Resp]) Stop(ctx context.Context) error {
	inv.client.Deregister(inv.handlerRef)
	return inv.client.Unsubscribe(ctx, inv.opts.ResponseTopic)
}

// Invoke sends req and blocks until a response arrives, timeout elapses, or
// ctx is cancelled. timeout must be at least one millisecond.
func (inv *Invoker[Req, Resp]) Invoke(ctx context.Context, payload Req, timeout time.Duration, metadata wire.PropertyList) (Resp, error) {
	var zero Resp
	if timeout < time.Millisecond {
		return zero, mqtterrors.New(mqtterrors.ArgumentInvalid, "invoke timeout must be at least 1ms")
	}

	correlation := uuid.New()
	correlationData := correlation[:]

	body, format, err := inv.reqSer.Serialize(payload)
	if err != nil {
		return zero, mqtterrors.Wrap(mqtterrors.PayloadInvalid, "serialize request", err)
	}

	props := metadata
	for _, p := range props {
		if wire.IsReservedKey(p.Key) {
			return zero, mqtterrors.New(mqtterrors.ArgumentInvalid, fmt.Sprintf("user metadata may not set reserved key %q", p.Key))
		}
	}
	props = props.Set(wire.UserPropSourceID, inv.client.ClientID())
	props = props.Set(wire.UserPropProtocolVersion, strconv.Itoa(wire.CurrentProtocolVersion.Major)+"."+strconv.Itoa(wire.CurrentProtocolVersion.Minor))
	props = props.Set(wire.UserPropTimestamp, hlc.Encode(inv.clock.Now()))

	req := &wire.Message{
		Topic:           inv.opts.RequestTopic,
		Payload:         body,
		QoS:             wire.QoS1,
		ContentType:     inv.reqSer.ContentType(),
		PayloadFormat:   format,
		MessageExpiry:   ceilToSeconds(timeout),
		CorrelationData: correlationData,
		ResponseTopic:   inv.opts.ResponseTopic,
		UserProperties:  props,
	}

	resultCh := make(chan pendingResult[Resp], 1)
	key := string(correlationData)
	inv.mu.Lock()
	inv.pending[key] = resultCh
	inv.mu.Unlock()
	defer func() {
		inv.mu.Lock()
		delete(inv.pending, key)
		inv.mu.Unlock()
	}()

	if err := inv.client.Publish(ctx, req); err != nil {
		return zero, mqtterrors.Wrap(mqtterrors.MqttError, "publish request", err)
	}

	timer := time.NewTimer(timeout)
	defer timer.Stop()

	select {
	case result := <-resultCh:
		return result.resp, result.err
	case <-timer.C:
		return zero, mqtterrors.New(mqtterrors.Timeout, "invoke timed out waiting for response")
	case <-ctx.Done():
		return zero, ctx.Err()
	}
}

// ceilToSeconds rounds d up to the next whole second so that
// message-expiry-interval never expires before the caller's own timeout:
// rounding to nearest (or down) could advertise a shorter expiry than the
// invoker actually waits, letting the executor discard the request while
// the invoker is still listening for a reply.
func ceilToSeconds(d time.Duration) time.Duration {
	if d <= 0 {
		return time.Second
	}
	secs := (d + time.Second - 1) / time.Second
	return secs * time.Second
}

func (inv *Invoker[Req, Resp]) handleResponse(msg *wire.Message) {
	key := string(msg.CorrelationData)
	inv.mu.Lock()
	ch, ok := inv.pending[key]
	inv.mu.Unlock()
	if !ok {
		return // unknown correlation-id: dropped (and acked by the caller)
	}

	if ts, present := msg.UserProperties.Get(wire.UserPropTimestamp); present {
		if parsed, err := hlc.Decode(ts); err == nil {
			_ = inv.clock.Update(parsed)
		}
	}

	statusStr, _ := msg.UserProperties.Get(wire.UserPropStatus)
	status, _ := strconv.Atoi(statusStr)

	if wire.Status(status) != wire.StatusOK {
		msgText, _ := msg.UserProperties.Get(wire.UserPropStatusMessage)
		select {
		case ch <- pendingResult[Resp]{err: mqtterrors.WithStatus(status, msgText)}:
		default:
		}
		return
	}

	respVal, err := inv.respSer.Deserialize(msg.Payload, msg.ContentType, msg.PayloadFormat)
	if err != nil {
		select {
		case ch <- pendingResult[Resp]{err: mqtterrors.Wrap(mqtterrors.PayloadInvalid, "deserialize response", err)}:
		default:
		}
		return
	}
	select {
	case ch <- pendingResult[Resp]{resp: respVal}:
	default:
	}
}
