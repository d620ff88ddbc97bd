package session

import (
	"context"
	"sync"

	"github.com/eapache/go-resiliency/retrier"
	"github.com/eclipse/paho.golang/paho"

	"github.com/sandrolain/mqtt-rpc/internal/retry"
	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

// fatalConnectError wraps a CONNACK/DISCONNECT-derived error the retrier
// must not retry past.
type fatalConnectError struct{ err error }

func (f *fatalConnectError) Error() string { return f.err.Error() }
func (f *fatalConnectError) Unwrap() error { return f.err }

func classifyConnectError(err error) retrier.Action {
	if err == nil {
		return retrier.Succeed
	}
	if _, ok := err.(*fatalConnectError); ok {
		return retrier.Fail
	}
	return retrier.Retry
}

// connectOnce performs the initial connection attempt, retrying per the
// configured backoff schedule until it succeeds, ctx is done, or a
// non-retryable CONNACK reason code is received.
func (c *Client) connectOnce(ctx context.Context) error {
	schedule := retry.Schedule(c.settings.MinReconnectBackoff, c.settings.MaxReconnectBackoff, c.settings.MaxReconnectAttempts, c.rng)
	r := retry.New(schedule, classifyConnectError)

	return r.RunCtx(ctx, func(ctx context.Context) error {
		err := c.dialAndConnect(ctx, true)
		if err != nil {
			c.logger.Warn("session connect attempt failed", "error", err)
		}
		return err
	})
}

// manage runs for the lifetime of the client after the first successful
// connection, watching for disconnects and driving reconnection.
func (c *Client) manage(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case <-c.stopped:
			return
		default:
		}

		c.waitForDisconnect(ctx)

		select {
		case <-ctx.Done():
			return
		default:
		}

		c.setState(StateReconnecting)
		schedule := retry.Schedule(c.settings.MinReconnectBackoff, c.settings.MaxReconnectBackoff, c.settings.MaxReconnectAttempts, c.rng)
		r := retry.New(schedule, classifyConnectError)
		err := r.RunCtx(ctx, func(ctx context.Context) error {
			err := c.dialAndConnect(ctx, false)
			if err != nil {
				c.logger.Warn("session reconnect attempt failed", "error", err)
			}
			return err
		})
		if err != nil {
			c.setState(StateShutDown)
			for _, fn := range c.onFatal.Snapshot() {
				fn(err)
			}
			return
		}
	}
}

// waitForDisconnect blocks until the current connection is lost or ctx is
// cancelled. The underlying paho client surfaces disconnects through
// OnServerDisconnect/OnClientError callbacks wired in dialAndConnect, which
// close this channel.
func (c *Client) waitForDisconnect(ctx context.Context) {
	c.mu.RLock()
	ch := c.disconnected
	c.mu.RUnlock()
	if ch == nil {
		return
	}
	select {
	case <-ch:
	case <-ctx.Done():
	}
}

// dialAndConnect opens a fresh transport, performs the MQTT CONNECT
// handshake, and on success installs the new connection, replaying any
// outbound operations queued while disconnected in receipt order.
func (c *Client) dialAndConnect(ctx context.Context, first bool) error {
	connectCtx, cancel := context.WithTimeout(ctx, c.settings.ConnectionTimeout)
	defer cancel()

	conn, err := c.dial(connectCtx)
	if err != nil {
		return err
	}

	disconnected := make(chan struct{})
	var once sync.Once

	password, err := c.settings.resolvePassword()
	if err != nil {
		return &fatalConnectError{err}
	}
	authData, err := c.settings.resolveAuthData()
	if err != nil {
		return &fatalConnectError{err}
	}

	pahoConf := paho.ClientConfig{
		ClientID: c.settings.ClientID,
		Conn:     conn,
		// Acks are emitted explicitly from ackSequencer, never as a side
		// effect of the router handler returning, so ordering can be
		// enforced independent of handler completion order.
		EnableManualAcknowledgement: true,
		OnServerDisconnect: func(d *paho.Disconnect) {
			c.handleDisconnect(d.ReasonCode, disconnected, &once)
		},
		OnClientError: func(_ error) {
			c.handleDisconnect(0, disconnected, &once)
		},
	}
	if c.continuer != nil {
		pahoConf.AuthHandler = &pahoAuther{continuer: c.continuer, authMethod: c.settings.AuthMethod}
	}

	var client PahoClient
	client = c.clientFactory(pahoConf, func(p *paho.Publish) { c.onInboundPublish(client, p) })

	cp := &paho.Connect{
		KeepAlive:    uint16(c.settings.KeepAlive.Seconds()),
		ClientID:     c.settings.ClientID,
		CleanStart:   c.settings.CleanStart && first,
		UsernameFlag: c.settings.Username != "",
		Username:     c.settings.Username,
		PasswordFlag: password != "",
		Password:     []byte(password),
		Properties: &paho.ConnectProperties{
			ReceiveMaximum: &c.settings.ReceiveMaximum,
		},
	}
	if c.settings.SessionExpiryInterval > 0 {
		sec := uint32(c.settings.SessionExpiryInterval.Seconds())
		cp.Properties.SessionExpiryInterval = &sec
	}
	if c.settings.AuthMethod != "" {
		cp.Properties.AuthMethod = c.settings.AuthMethod
		cp.Properties.AuthData = authData
	}

	ack, err := client.Connect(connectCtx, cp)
	if err != nil {
		return err
	}
	if ack.ReasonCode != 0x00 {
		if !RetryableConnack(ack.ReasonCode) {
			return &fatalConnectError{mqtterrors.New(mqtterrors.MqttError, connackReasonMessage(ack.ReasonCode))}
		}
		return mqtterrors.New(mqtterrors.MqttError, connackReasonMessage(ack.ReasonCode))
	}
	if !first && !ack.SessionPresent {
		return &fatalConnectError{mqtterrors.ErrSessionLost}
	}

	c.mu.Lock()
	c.conn = client
	c.connGen++
	c.disconnected = disconnected
	// draining blocks new submissions from racing ahead of the replay
	// flushQueue is about to run; it's cleared only once the queue is
	// genuinely empty (see flushQueue).
	c.draining = true
	c.mu.Unlock()
	c.acks.resetForNewConnection()
	c.setState(StateConnected)

	c.flushQueue(ctx, client)

	for _, fn := range c.onConnect.Snapshot() {
		fn(ack.SessionPresent)
	}
	return nil
}

func (c *Client) handleDisconnect(reasonCode uint8, ch chan struct{}, once *sync.Once) {
	retrying := RetryableDisconnect(reasonCode)
	fatal := false
	once.Do(func() {
		c.mu.Lock()
		c.conn = nil
		if !retrying && c.state != StateShutDown {
			c.state = StateShutDown
			fatal = true
		}
		c.mu.Unlock()
		if fatal && c.cancel != nil {
			c.cancel() // stops manage before it can start a reconnect
		}
		close(ch)
	})
	for _, fn := range c.onDisconnect.Snapshot() {
		fn(reasonCode, retrying)
	}
	if fatal {
		err := mqtterrors.New(mqtterrors.MqttError, "disconnect reason code "+byteToHex(reasonCode))
		for _, fn := range c.onFatal.Snapshot() {
			fn(err)
		}
	}
}

// flushQueue replays every outbound operation queued while disconnected, in
// the order it was enqueued, and only then clears draining - which submit()
// consults so concurrent Publish/Subscribe calls enqueue behind this replay
// instead of reaching the broker ahead of it. It loops rather than draining
// once, because a queued op's done channel is only created while holding
// c.mu (see submit), so any op enqueued during this call's unlocked execute
// phase is still picked up by the next iteration instead of being left
// stranded in the queue until some future reconnect.
func (c *Client) flushQueue(ctx context.Context, conn PahoClient) {
	for {
		c.mu.Lock()
		ops := c.queue.drainInto(nil)
		if len(ops) == 0 {
			c.draining = false
			c.mu.Unlock()
			return
		}
		c.mu.Unlock()

		for _, op := range ops {
			opCtx := op.ctx
			if opCtx == nil {
				opCtx = ctx
			}
			err := c.execute(opCtx, conn, op)
			if op.done != nil {
				op.done <- err
			}
		}
	}
}

func connackReasonMessage(code uint8) string {
	return "connack reason code " + byteToHex(code)
}

func byteToHex(b uint8) string {
	const hexDigits = "0123456789abcdef"
	return "0x" + string([]byte{hexDigits[b>>4], hexDigits[b&0x0f]})
}
