// Package session implements the MQTT v5 session client: a single logical,
// possibly long-lived connection to a broker that transparently reconnects
// with jittered exponential backoff, replays queued outbound operations in
// receipt order once reconnected, and guarantees inbound acknowledgements
// are emitted in the order messages were received regardless of the order
// in which their handlers complete. Grounded on the reference session
// client (other_examples/a3b011ef..._session_client.go.go) and on
// nicholas-fedor-shoutrrr's eclipse/paho.golang wiring, adapted from
// wrapping paho.mqtt.golang (v3.1.1-only, no user properties/reason codes)
// to wrapping paho.golang/paho (full MQTT v5 support). See DESIGN.md.
package session

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/pem"
	"fmt"
	"log/slog"
	"math/rand"
	"net"
	"os"
	"sync"
	"time"

	"github.com/eclipse/paho.golang/paho"

	"github.com/sandrolain/mqtt-rpc/dispatcher"
	"github.com/sandrolain/mqtt-rpc/mqtterrors"
	"github.com/sandrolain/mqtt-rpc/wire"
)

// State is the session client's connection lifecycle state.
type State int32

const (
	StateNotStarted State = iota
	StateConnecting
	StateConnected
	StateReconnecting
	StateShutDown
)

func (s State) String() string {
	switch s {
	case StateNotStarted:
		return "not-started"
	case StateConnecting:
		return "connecting"
	case StateConnected:
		return "connected"
	case StateReconnecting:
		return "reconnecting"
	case StateShutDown:
		return "shut-down"
	default:
		return "unknown"
	}
}

// MessageHandler processes one inbound message. For QoS1 deliveries, the
// PUBACK is withheld until MessageHandler returns, and is then ordered
// relative to every other inbound message's ack by the client's
// ackSequencer rather than by handler completion order.
type MessageHandler func(ctx context.Context, msg *wire.Message) error

// ConnectHandler is notified after every successful (re)connection.
type ConnectHandler func(sessionPresent bool)

// DisconnectHandler is notified whenever the connection is lost, with the
// reason code if one was supplied by the broker (0 for client-initiated or
// transport-level disconnects).
type DisconnectHandler func(reasonCode uint8, retrying bool)

// FatalHandler is notified once, when the client gives up permanently:
// either a non-retryable reason code was received, or retries were
// exhausted under a configured MaxReconnectAttempts.
type FatalHandler func(err error)

// AuthContinuer implements enhanced (SASL-style) re-authentication:
// given the broker's latest AUTH packet data, it returns the next AUTH
// packet's data to send, or ok=false once the exchange is complete.
type AuthContinuer func(serverData []byte) (data []byte, ok bool, err error)

// Client is a managed MQTT v5 session over a single logical connection.
type Client struct {
	settings      Settings
	dial          func(ctx context.Context) (net.Conn, error)
	clientFactory ClientFactory
	continuer     AuthContinuer
	logger        *slog.Logger

	mu           sync.RWMutex
	state        State
	conn         PahoClient
	connGen      uint64
	disconnected chan struct{}
	// draining is true from the moment a reconnect installs a new conn
	// until flushQueue has fully drained the outbound queue against it.
	// submit() consults it, alongside conn, so operations submitted during
	// the flush enqueue behind the replay instead of racing ahead of it.
	draining bool

	queue *outboundQueue
	acks  *ackSequencer

	onConnect       *handlerList[ConnectHandler]
	onDisconnect    *handlerList[DisconnectHandler]
	onFatal         *handlerList[FatalHandler]
	messageHandlers *handlerList[MessageHandler]

	dispatch *dispatcher.Dispatcher

	cancel context.CancelFunc
	stopped chan struct{}

	rng *rand.Rand
}

// Option customizes a Client at construction time.
type Option func(*Client)

// WithDialer overrides how the client opens the underlying transport. The
// default dials plain TCP or TLS per Settings.UseTLS.
func WithDialer(dial func(ctx context.Context) (net.Conn, error)) Option {
	return func(c *Client) { c.dial = dial }
}

// WithLogger overrides the client's structured logger.
func WithLogger(logger *slog.Logger) Option {
	return func(c *Client) { c.logger = logger }
}

// WithAuthContinuer installs an enhanced-authentication continuation
// function, used to respond to broker-initiated AUTH challenges and by
// Reauthenticate. Settings.AuthRefreshPeriod is not read; re-authentication
// runs only when Reauthenticate is called.
func WithAuthContinuer(fn AuthContinuer) Option {
	return func(c *Client) { c.continuer = fn }
}

// WithDispatcher overrides the dispatcher used to run message handlers
// concurrently. The default matches dispatcher.New()'s defaults.
func WithDispatcher(d *dispatcher.Dispatcher) Option {
	return func(c *Client) { c.dispatch = d }
}

// WithClientFactory overrides how the client builds its PahoClient for each
// connection attempt. The default wraps paho.NewClient; tests substitute a
// fake transport so the reconnect and ack-ordering machinery can be driven
// without a real broker.
func WithClientFactory(factory ClientFactory) Option {
	return func(c *Client) { c.clientFactory = factory }
}

// New constructs a Client. Call Start to establish the connection.
func New(settings Settings, opts ...Option) (*Client, error) {
	c := &Client{
		settings:        settings,
		state:           StateNotStarted,
		queue:           newOutboundQueue(settings.OutgoingQueueCapacity),
		acks:            newAckSequencer(),
		onConnect:       newHandlerList[ConnectHandler](),
		onDisconnect:    newHandlerList[DisconnectHandler](),
		onFatal:         newHandlerList[FatalHandler](),
		messageHandlers: newHandlerList[MessageHandler](),
		dispatch:        dispatcher.New(),
		stopped:         make(chan struct{}),
		rng:             rand.New(rand.NewSource(time.Now().UnixNano())),
		logger:          slog.Default(),
		clientFactory:   defaultClientFactory,
	}
	for _, opt := range opts {
		opt(c)
	}
	if c.dial == nil {
		c.dial = c.defaultDial
	}
	return c, nil
}

func (c *Client) defaultDial(ctx context.Context) (net.Conn, error) {
	dialer := &net.Dialer{Timeout: c.settings.ConnectionTimeout}
	addr := c.settings.address()
	if !c.settings.UseTLS {
		return dialer.DialContext(ctx, "tcp", addr)
	}
	tlsConf, err := c.buildTLSConfig()
	if err != nil {
		return nil, err
	}
	return tls.DialWithDialer(dialer, "tcp", addr, tlsConf)
}

// buildTLSConfig assembles the client TLS configuration, grounded on the
// teacher's tlsconfig.BuildClientConfig (see
// _examples/sandrolain-events-bridge/src/common/tlsconfig/tlsconfig.go):
// secure cipher suites, a custom CA pool when CAFile is set, and an
// optional client certificate (decrypting its key when KeyFilePassword is
// set).
func (c *Client) buildTLSConfig() (*tls.Config, error) {
	conf := &tls.Config{
		ServerName:   c.settings.Hostname,
		MinVersion:   tls.VersionTLS12,
		CipherSuites: secureCipherSuites(),
	}

	if c.settings.CAFile != "" {
		caCert, err := os.ReadFile(c.settings.CAFile)
		if err != nil {
			return nil, mqtterrors.Wrap(mqtterrors.ConfigurationInvalid, "read CA certificate", err)
		}
		pool := x509.NewCertPool()
		if !pool.AppendCertsFromPEM(caCert) {
			return nil, mqtterrors.New(mqtterrors.ConfigurationInvalid, "parse CA certificate")
		}
		conf.RootCAs = pool
	}

	if c.settings.CertFile == "" {
		return conf, nil
	}

	cert, err := loadClientCertificate(c.settings.CertFile, c.settings.KeyFile, c.settings.KeyFilePassword)
	if err != nil {
		return nil, mqtterrors.Wrap(mqtterrors.ConfigurationInvalid, "load client certificate", err)
	}
	conf.Certificates = []tls.Certificate{cert}
	return conf, nil
}

// secureCipherSuites mirrors the teacher's getSecureCipherSuites: forward
// secrecy only, no CBC-mode or RC4 suites.
func secureCipherSuites() []uint16 {
	return []uint16{
		tls.TLS_ECDHE_RSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_RSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_ECDSA_WITH_AES_128_GCM_SHA256,
		tls.TLS_ECDHE_ECDSA_WITH_AES_256_GCM_SHA384,
		tls.TLS_ECDHE_RSA_WITH_CHACHA20_POLY1305,
		tls.TLS_ECDHE_ECDSA_WITH_CHACHA20_POLY1305,
	}
}

// loadClientCertificate reads certFile/keyFile and builds a tls.Certificate,
// decrypting keyFile's PEM block with keyPassword first when one is
// configured. x509.DecryptPEMBlock is deprecated by the standard library
// but has no maintained third-party replacement in this module's dependency
// set (the pack carries no PKCS#8/PEM-encryption library); it only runs
// once per connection attempt, not on a hot path.
func loadClientCertificate(certFile, keyFile, keyPassword string) (tls.Certificate, error) {
	certPEM, err := os.ReadFile(certFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read certificate file: %w", err)
	}
	keyPEM, err := os.ReadFile(keyFile)
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("read key file: %w", err)
	}
	if keyPassword == "" {
		return tls.X509KeyPair(certPEM, keyPEM)
	}

	block, _ := pem.Decode(keyPEM)
	if block == nil {
		return tls.Certificate{}, fmt.Errorf("decode key file: no PEM block found")
	}
	//lint:ignore SA1019 see loadClientCertificate's doc comment
	decrypted, err := x509.DecryptPEMBlock(block, []byte(keyPassword)) //nolint:staticcheck
	if err != nil {
		return tls.Certificate{}, fmt.Errorf("decrypt private key: %w", err)
	}
	keyDER := pem.EncodeToMemory(&pem.Block{Type: block.Type, Bytes: decrypted})
	return tls.X509KeyPair(certPEM, keyDER)
}

// ClientID returns the configured MQTT client identifier.
func (c *Client) ClientID() string { return c.settings.ClientID }

// State reports the client's current lifecycle state.
func (c *Client) State() State {
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.state
}

func (c *Client) setState(s State) {
	c.mu.Lock()
	c.state = s
	c.mu.Unlock()
}

// OnConnect registers fn to be called after every successful connection.
func (c *Client) OnConnect(fn ConnectHandler) Handle { return c.onConnect.Append(fn) }

// OnDisconnect registers fn to be called whenever the connection is lost.
func (c *Client) OnDisconnect(fn DisconnectHandler) Handle { return c.onDisconnect.Append(fn) }

// OnFatalError registers fn to be called once, when the client gives up.
func (c *Client) OnFatalError(fn FatalHandler) Handle { return c.onFatal.Append(fn) }

// Deregister removes a previously registered handler, regardless of which
// On* method returned the handle.
func (c *Client) Deregister(h Handle) {
	c.onConnect.Remove(h)
	c.onDisconnect.Remove(h)
	c.onFatal.Remove(h)
	c.messageHandlers.Remove(h)
}

// RegisterMessageHandler registers fn to process every inbound message.
func (c *Client) RegisterMessageHandler(fn MessageHandler) Handle {
	return c.messageHandlers.Append(fn)
}

// Start establishes the initial connection, retrying with jittered
// exponential backoff until it succeeds, ctx is cancelled, or the broker
// returns a non-retryable reason code. It then launches the background
// connection manager that keeps the session alive.
func (c *Client) Start(ctx context.Context) error {
	if c.State() != StateNotStarted {
		return mqtterrors.New(mqtterrors.StateInvalid, "session client already started")
	}
	runCtx, cancel := context.WithCancel(context.WithoutCancel(ctx))
	c.cancel = cancel

	c.setState(StateConnecting)
	if err := c.connectOnce(ctx); err != nil {
		c.setState(StateShutDown)
		return err
	}

	go c.manage(runCtx)
	return nil
}

// Stop gracefully disconnects and shuts down the client. Queued outbound
// operations that have not been sent are discarded.
func (c *Client) Stop(ctx context.Context) error {
	c.mu.Lock()
	if c.state == StateShutDown {
		c.mu.Unlock()
		return nil
	}
	conn := c.conn
	c.state = StateShutDown
	c.mu.Unlock()

	if c.cancel != nil {
		c.cancel()
	}
	if conn != nil {
		_ = conn.Disconnect(&paho.Disconnect{ReasonCode: 0x00})
	}
	c.dispatch.Close()
	close(c.stopped)
	return nil
}

// Publish sends msg, queuing it for in-order delivery if not currently
// connected. A queued publish returns nil once enqueued; it does not wait
// for the replay after reconnection.
func (c *Client) Publish(ctx context.Context, msg *wire.Message) error {
	return c.submit(ctx, &outboundOp{kind: opPublish, ctx: ctx, publish: &publishRequest{msg: msg}})
}

// Subscribe subscribes to topic at the given QoS, queuing if not currently
// connected.
func (c *Client) Subscribe(ctx context.Context, topic string, qos wire.QoS, noLocal bool) error {
	return c.submit(ctx, &outboundOp{kind: opSubscribe, ctx: ctx, subscribe: &subscribeRequest{topic: topic, qos: qos, noLocal: noLocal}})
}

// Unsubscribe removes a subscription, queuing if not currently connected.
func (c *Client) Unsubscribe(ctx context.Context, topic string) error {
	return c.submit(ctx, &outboundOp{kind: opUnsubscribe, ctx: ctx, unsubscribe: &unsubscribeRequest{topic: topic}})
}

type publishRequest struct{ msg *wire.Message }
type subscribeRequest struct {
	topic   string
	qos     wire.QoS
	noLocal bool
}
type unsubscribeRequest struct{ topic string }

// submit queues op behind the outbound queue whenever the client has no
// live connection, or while a post-reconnect flushQueue is still replaying
// the queue (draining). Holding the read lock across the enqueue decision
// keeps this call from racing flushQueue's exclusive-locked drain/flip of
// draining: either submit observes draining and enqueues behind it, or
// flushQueue's Lock() doesn't proceed until this RLock is released, in
// which case the next drain iteration picks the op back up.
func (c *Client) submit(ctx context.Context, op *outboundOp) error {
	c.mu.RLock()
	conn := c.conn
	state := c.state
	draining := c.draining
	if state == StateShutDown {
		c.mu.RUnlock()
		return mqtterrors.New(mqtterrors.StateInvalid, "session client is shut down")
	}
	if conn == nil || draining {
		op.done = make(chan error, 1)
		err := c.queue.enqueue(op)
		c.mu.RUnlock()
		return err
	}
	c.mu.RUnlock()
	return c.execute(ctx, conn, op)
}

func (c *Client) execute(ctx context.Context, conn PahoClient, op *outboundOp) error {
	switch op.kind {
	case opPublish:
		return c.doPublish(ctx, conn, op.publish)
	case opSubscribe:
		return c.doSubscribe(ctx, conn, op.subscribe)
	case opUnsubscribe:
		return c.doUnsubscribe(ctx, conn, op.unsubscribe)
	default:
		return fmt.Errorf("session: unknown outbound op kind %d", op.kind)
	}
}

func (c *Client) doPublish(ctx context.Context, conn PahoClient, req *publishRequest) error {
	pub := toPahoPublish(req.msg)
	_, err := conn.Publish(ctx, pub)
	if err != nil {
		return mqtterrors.Wrap(mqtterrors.MqttError, "publish", err)
	}
	return nil
}

func (c *Client) doSubscribe(ctx context.Context, conn PahoClient, req *subscribeRequest) error {
	_, err := conn.Subscribe(ctx, &paho.Subscribe{
		Subscriptions: []paho.SubscribeOptions{
			{Topic: req.topic, QoS: byte(req.qos), NoLocal: req.noLocal},
		},
	})
	if err != nil {
		return mqtterrors.Wrap(mqtterrors.MqttError, "subscribe", err)
	}
	return nil
}

func (c *Client) doUnsubscribe(ctx context.Context, conn PahoClient, req *unsubscribeRequest) error {
	_, err := conn.Unsubscribe(ctx, &paho.Unsubscribe{Topics: []string{req.topic}})
	if err != nil {
		return mqtterrors.Wrap(mqtterrors.MqttError, "unsubscribe", err)
	}
	return nil
}

func toPahoPublish(msg *wire.Message) *paho.Publish {
	props := &paho.PublishProperties{
		CorrelationData: msg.CorrelationData,
		ContentType:     msg.ContentType,
		ResponseTopic:   msg.ResponseTopic,
	}
	for _, p := range msg.UserProperties {
		props.User.Add(p.Key, p.Value)
	}
	if msg.MessageExpiry > 0 {
		secs := uint32(msg.MessageExpiry.Seconds())
		props.MessageExpiry = &secs
	}
	format := byte(msg.PayloadFormat)
	props.PayloadFormat = &format

	return &paho.Publish{
		QoS:        byte(msg.QoS),
		Retain:     msg.Retain,
		Topic:      msg.Topic,
		Payload:    msg.Payload,
		Properties: props,
	}
}

func fromPahoPublish(p *paho.Publish) *wire.Message {
	msg := &wire.Message{
		Topic:   p.Topic,
		Payload: p.Payload,
		QoS:     wire.QoS(p.QoS),
		Retain:  p.Retain,
	}
	if p.Properties == nil {
		return msg
	}
	msg.CorrelationData = p.Properties.CorrelationData
	msg.ContentType = p.Properties.ContentType
	msg.ResponseTopic = p.Properties.ResponseTopic
	if p.Properties.PayloadFormat != nil {
		msg.PayloadFormat = wire.PayloadFormat(*p.Properties.PayloadFormat)
	}
	if p.Properties.MessageExpiry != nil {
		msg.MessageExpiry = time.Duration(*p.Properties.MessageExpiry) * time.Second
	}
	for _, up := range p.Properties.User {
		msg.UserProperties = append(msg.UserProperties, wire.Property{Key: up.Key, Value: up.Value})
	}
	return msg
}
