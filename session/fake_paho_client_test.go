package session

import (
	"context"
	"sync"

	"github.com/eclipse/paho.golang/paho"
)

// clientHooks lets a test reach into a specific connection attempt's
// fakePahoClient before it exists, keyed by the order dialAndConnect
// constructs it in (0 = first connect, 1 = first reconnect, ...).
type clientHooks struct {
	// blockFirstPublish, if set, is read from before that client's first
	// Publish call returns - lets a test hold a queued op mid-flight to
	// probe what a concurrent submission does while the queue is draining.
	blockFirstPublish chan struct{}
	// publishStarted, if set, is closed the instant the first Publish call
	// begins waiting on blockFirstPublish.
	publishStarted chan struct{}
}

// fakeBroker is a PahoClient factory driving session.Client through its
// reconnect and ack-ordering machinery without ever dialing a real broker.
// Each dialAndConnect attempt gets its own fakePahoClient; the broker
// records every attempt and publish, and lets a test trigger a
// broker-initiated disconnect via disconnectLatest.
type fakeBroker struct {
	mu           sync.Mutex
	factoryCalls int
	connectCalls int
	connacks     []*paho.Connack // per attempt index; last entry reused if shorter
	connectErrs  []error         // per attempt index
	hooks        map[int]*clientHooks
	clients      []*fakePahoClient
	publishes    []*paho.Publish
}

func newFakeBroker() *fakeBroker {
	return &fakeBroker{hooks: make(map[int]*clientHooks)}
}

func (b *fakeBroker) factory(conf paho.ClientConfig, onPublish func(*paho.Publish)) PahoClient {
	b.mu.Lock()
	idx := b.factoryCalls
	b.factoryCalls++
	h := b.hooks[idx]
	b.mu.Unlock()

	cl := &fakePahoClient{broker: b, conf: conf, onPublish: onPublish, idx: idx}
	if h != nil {
		cl.blockFirstPublish = h.blockFirstPublish
		cl.publishStarted = h.publishStarted
	}

	b.mu.Lock()
	b.clients = append(b.clients, cl)
	b.mu.Unlock()
	return cl
}

// disconnectLatest invokes the most recently constructed client's
// OnServerDisconnect callback, simulating a broker-initiated disconnect.
func (b *fakeBroker) disconnectLatest(reasonCode uint8) {
	b.mu.Lock()
	cl := b.clients[len(b.clients)-1]
	b.mu.Unlock()
	cl.conf.OnServerDisconnect(&paho.Disconnect{ReasonCode: reasonCode})
}

func (b *fakeBroker) connackFor(idx int) (*paho.Connack, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if idx < len(b.connectErrs) && b.connectErrs[idx] != nil {
		return nil, b.connectErrs[idx]
	}
	if len(b.connacks) == 0 {
		return &paho.Connack{ReasonCode: 0x00}, nil
	}
	if idx < len(b.connacks) {
		return b.connacks[idx], nil
	}
	return b.connacks[len(b.connacks)-1], nil
}

func (b *fakeBroker) recordPublish(p *paho.Publish) {
	b.mu.Lock()
	b.publishes = append(b.publishes, p)
	b.mu.Unlock()
}

type fakePahoClient struct {
	broker    *fakeBroker
	conf      paho.ClientConfig
	onPublish func(*paho.Publish)
	idx       int

	blockFirstPublish chan struct{}
	publishStarted    chan struct{}

	mu           sync.Mutex
	publishCalls int
	published    []*paho.Publish
}

func (c *fakePahoClient) Connect(ctx context.Context, cp *paho.Connect) (*paho.Connack, error) {
	c.broker.mu.Lock()
	idx := c.broker.connectCalls
	c.broker.connectCalls++
	c.broker.mu.Unlock()
	return c.broker.connackFor(idx)
}

func (c *fakePahoClient) Publish(ctx context.Context, p *paho.Publish) (*paho.PublishResponse, error) {
	c.mu.Lock()
	c.publishCalls++
	first := c.publishCalls == 1
	c.mu.Unlock()

	if first && c.blockFirstPublish != nil {
		if c.publishStarted != nil {
			close(c.publishStarted)
		}
		<-c.blockFirstPublish
	}

	c.mu.Lock()
	c.published = append(c.published, p)
	c.mu.Unlock()
	c.broker.recordPublish(p)
	return &paho.PublishResponse{ReasonCode: 0x00}, nil
}

func (c *fakePahoClient) Subscribe(ctx context.Context, s *paho.Subscribe) (*paho.Suback, error) {
	return &paho.Suback{}, nil
}

func (c *fakePahoClient) Unsubscribe(ctx context.Context, u *paho.Unsubscribe) (*paho.Unsuback, error) {
	return &paho.Unsuback{}, nil
}

func (c *fakePahoClient) Authenticate(ctx context.Context, a *paho.Auth) (*paho.AuthResponse, error) {
	return &paho.AuthResponse{ReasonCode: 0x00}, nil
}

func (c *fakePahoClient) Disconnect(d *paho.Disconnect) error { return nil }

func (c *fakePahoClient) Ack(p *paho.Publish) error { return nil }

// deliver feeds an inbound publish to this connection's router, as the real
// paho.Client's router would on receipt of a PUBLISH packet.
func (c *fakePahoClient) deliver(p *paho.Publish) {
	c.onPublish(p)
}
