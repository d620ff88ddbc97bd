// Package executor implements the command-executor side of the RPC
// pattern: subscribe to a resolved request topic, validate and deduplicate
// inbound requests via the response cache, dispatch user execution
// concurrently through a bounded worker pool, and publish a response with
// the reserved status/version/timestamp headers. Grounded on spec §4.3 and
// wired through session.Client, cache.Cache, dispatcher.Dispatcher,
// topic.Pattern, and serializer.Serializer.
package executor

import (
	"context"
	"errors"
	"strconv"
	"time"

	"github.com/google/uuid"

	"github.com/sandrolain/mqtt-rpc/cache"
	"github.com/sandrolain/mqtt-rpc/dispatcher"
	"github.com/sandrolain/mqtt-rpc/hlc"
	"github.com/sandrolain/mqtt-rpc/serializer"
	"github.com/sandrolain/mqtt-rpc/session"
	"github.com/sandrolain/mqtt-rpc/topic"
	"github.com/sandrolain/mqtt-rpc/wire"
)

// Handler executes one command invocation. sourceID is the requesting
// client's __srcId. A returned *ValidationError maps to 400 BadRequest; any
// other error maps to 408 RequestTimeout if the execution context is done by
// then, and to 422 InvocationError otherwise; the handler must never set a
// reserved-prefix (__) property on the response it builds indirectly - that
// is enforced by the framework by construction, not by the handler.
type Handler[Req, Resp any] func(ctx context.Context, sourceID string, req Req) (Resp, error)

// ValidationError signals a malformed request; PropertyName/PropertyValue,
// when set, populate the response's __invalidPropertyName/__invalidPropertyValue
// headers.
type ValidationError struct {
	PropertyName  string
	PropertyValue string
	Message       string
}

func (e *ValidationError) Error() string { return e.Message }

// Options configures an Executor.
type Options struct {
	CommandName string
	ModelID     string
	ShareGroup  string // optional; joins a $share/<group>/ subscription

	Idempotent bool
	CacheTTL   time.Duration

	Concurrency int // default dispatcher.DefaultConcurrency

	// RequestTopicHasExecutorToken controls whether the source-id
	// participates in cache request-equivalence (see cache.New).
	RequestTopicHasExecutorToken bool
}

// Executor runs one command's request/response loop over a session.Client.
type Executor[Req, Resp any] struct {
	client     *session.Client
	pattern    *topic.Pattern
	reqSer     serializer.Serializer[Req]
	respSer    serializer.Serializer[Resp]
	handler    Handler[Req, Resp]
	opts       Options
	clock      *hlc.Clock
	cache      *cache.Cache
	dispatch   *dispatcher.Dispatcher
	handlerRef session.Handle
}

// New constructs an Executor bound to requestTopic (a parsed topic.Pattern,
// already resolved to a concrete subscription filter by the caller).
func New[Req, Resp any](
	client *session.Client,
	pattern *topic.Pattern,
	reqSer serializer.Serializer[Req],
	respSer serializer.Serializer[Resp],
	handler Handler[Req, Resp],
	clock *hlc.Clock,
	opts Options,
) *Executor[Req, Resp] {
	if opts.Concurrency <= 0 {
		opts.Concurrency = dispatcher.DefaultConcurrency
	}
	return &Executor[Req, Resp]{
		client:   client,
		pattern:  pattern,
		reqSer:   reqSer,
		respSer:  respSer,
		handler:  handler,
		opts:     opts,
		clock:    clock,
		cache:    cache.New(cache.SystemClock{}, opts.CacheTTL, opts.RequestTopicHasExecutorToken),
		dispatch: dispatcher.New(dispatcher.WithConcurrency(opts.Concurrency)),
	}
}

// Start subscribes to the resolved request topic (optionally shared) and
// begins processing requests.
func (e *Executor[Req, Resp]) Start(ctx context.Context, subscribeFilter string) error {
	filter := subscribeFilter
	if e.opts.ShareGroup != "" {
		filter = "$share/" + e.opts.ShareGroup + "/" + subscribeFilter
	}
	e.handlerRef = e.client.RegisterMessageHandler(func(ctx context.Context, msg *wire.Message) error {
		if !topic.Matches(subscribeFilter, msg.Topic) {
			return nil
		}
		e.handleRequest(ctx, msg)
		return nil
	})
	return e.client.Subscribe(ctx, filter, wire.QoS1, false)
}

// Stop deregisters the handler, unsubscribes, and drains the dispatcher.
func (e *Executor[Req, Resp]) Stop(ctx context.Context, subscribeFilter string) error {
	filter := subscribeFilter
	if e.opts.ShareGroup != "" {
		filter = "$share/" + e.opts.ShareGroup + "/" + subscribeFilter
	}
	e.client.Deregister(e.handlerRef)
	e.dispatch.Close()
	return e.client.Unsubscribe(ctx, filter)
}

func (e *Executor[Req, Resp]) handleRequest(ctx context.Context, req *wire.Message) {
	protVer, _ := req.UserProperties.Get(wire.UserPropProtocolVersion)

	if protVer != "" && protVer != protocolVersionString(wire.CurrentProtocolVersion) {
		e.publish(ctx, req, errorResponse(wire.StatusNotSupportedVersion, "unsupported protocol version", e.clock), protVer)
		return
	}
	if _, err := uuid.FromBytes(req.CorrelationData); err != nil {
		e.publish(ctx, req, errorResponse(wire.StatusBadRequest, "missing or non-UUID correlation-data", e.clock), protVer)
		return
	}

	deadline := time.Now()
	if req.MessageExpiry > 0 {
		deadline = deadline.Add(req.MessageExpiry)
	}

	resp, err := e.cache.Exec(req, e.opts.Idempotent, func() (*wire.Message, error) {
		return e.execute(ctx, req, deadline)
	})
	if err != nil {
		e.publish(ctx, req, errorResponse(wire.StatusInternalServerError, err.Error(), e.clock), protVer)
		return
	}
	if resp == nil {
		return // superseded duplicate; silently dropped per cache contract
	}
	e.publishResponse(ctx, req, resp)
}

func (e *Executor[Req, Resp]) execute(ctx context.Context, req *wire.Message, deadline time.Time) (*wire.Message, error) {
	respCh := make(chan *wire.Message, 1)
	submitErr := e.dispatch.Submit(ctx, func(ctx context.Context) {
		execCtx, cancel := context.WithDeadline(ctx, deadline)
		defer cancel()
		respCh <- e.runHandler(execCtx, req)
	})
	if submitErr != nil {
		return nil, submitErr
	}

	select {
	case resp := <-respCh:
		return resp, nil
	case <-ctx.Done():
		if time.Now().Before(deadline) {
			return errorResponse(wire.StatusRequestTimeout, "execution cancelled before deadline", e.clock), nil
		}
		return nil, nil // deadline already passed: discard per §4.3
	}
}

func (e *Executor[Req, Resp]) runHandler(ctx context.Context, req *wire.Message) *wire.Message {
	reqVal, err := e.reqSer.Deserialize(req.Payload, req.ContentType, req.PayloadFormat)
	if err != nil {
		return errorResponse(wire.StatusBadRequest, "payload deserialize failed", e.clock)
	}

	sourceID, _ := req.UserProperties.Get(wire.UserPropSourceID)
	respVal, err := e.handler(ctx, sourceID, reqVal)
	if err != nil {
		var verr *ValidationError
		if errors.As(err, &verr) {
			resp := errorResponse(wire.StatusBadRequest, verr.Message, e.clock)
			resp.UserProperties = resp.UserProperties.Set(wire.UserPropInvalidPropertyName, verr.PropertyName)
			resp.UserProperties = resp.UserProperties.Set(wire.UserPropInvalidPropertyValue, verr.PropertyValue)
			return resp
		}
		if ctx.Err() != nil {
			return errorResponse(wire.StatusRequestTimeout, "execution deadline exceeded", e.clock)
		}
		resp := errorResponse(wire.StatusInvocationError, err.Error(), e.clock)
		resp.UserProperties = resp.UserProperties.Set(wire.UserPropIsApplicationError, "true")
		return resp
	}

	payload, format, err := e.respSer.Serialize(respVal)
	if err != nil {
		return errorResponse(wire.StatusInternalServerError, "response serialize failed", e.clock)
	}

	msg := &wire.Message{
		Payload:       payload,
		PayloadFormat: format,
		ContentType:   e.respSer.ContentType(),
		QoS:           wire.QoS0,
	}
	msg.UserProperties = msg.UserProperties.Set(wire.UserPropStatus, statusString(wire.StatusOK))
	return msg
}

func (e *Executor[Req, Resp]) publishResponse(ctx context.Context, req *wire.Message, resp *wire.Message) {
	e.publish(ctx, req, resp, "")
}

func (e *Executor[Req, Resp]) publish(ctx context.Context, req *wire.Message, resp *wire.Message, requestProtVer string) {
	resp.Topic = req.ResponseTopic
	resp.CorrelationData = req.CorrelationData
	resp.MessageExpiry = req.MessageExpiry

	ts := e.clock.Now()
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropTimestamp, hlc.Encode(ts))
	resp.UserProperties = resp.UserProperties.Set(wire.UserPropProtocolVersion, protocolVersionString(wire.CurrentProtocolVersion))
	if requestProtVer != "" {
		resp.UserProperties = resp.UserProperties.Set(wire.UserPropSupportedMajorVersions, strconv.Itoa(wire.CurrentProtocolVersion.Major))
		resp.UserProperties = resp.UserProperties.Set(wire.UserPropRequestProtocolVersion, requestProtVer)
	}

	_ = e.client.Publish(ctx, resp)
}

func errorResponse(status wire.Status, message string, clock *hlc.Clock) *wire.Message {
	msg := &wire.Message{QoS: wire.QoS0}
	msg.UserProperties = msg.UserProperties.Set(wire.UserPropStatus, statusString(status))
	msg.UserProperties = msg.UserProperties.Set(wire.UserPropStatusMessage, message)
	return msg
}

func statusString(s wire.Status) string {
	return strconv.Itoa(int(s))
}

func protocolVersionString(v wire.ProtocolVersion) string {
	return strconv.Itoa(v.Major) + "." + strconv.Itoa(v.Minor)
}
