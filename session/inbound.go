package session

import (
	"context"

	"github.com/eclipse/paho.golang/paho"
)

// onInboundPublish is the router callback for every inbound PUBLISH on the
// current connection. It assigns the message a receipt sequence number
// synchronously (before dispatching), runs registered handlers
// concurrently via the dispatcher, and then defers to c.acks to emit the
// PUBACK once every earlier-received message has also been acknowledged -
// independent of how long this message's own handler took.
func (c *Client) onInboundPublish(conn PahoClient, p *paho.Publish) {
	seq := c.acks.issue()
	msg := fromPahoPublish(p)
	handlers := c.messageHandlers.Snapshot()

	ack := func() {
		if p.QoS == 0 {
			return
		}
		c.ackPublish(conn, p)
	}

	err := c.dispatch.Submit(context.Background(), func(ctx context.Context) {
		for _, h := range handlers {
			if herr := h(ctx, msg); herr != nil {
				c.logger.Error("message handler failed", "topic", msg.Topic, "error", herr)
			}
		}
		c.acks.complete(seq, ack)
	})
	if err != nil {
		// Dispatcher backpressure: still must ack in order so the session
		// doesn't stall behind a dropped handler invocation.
		c.logger.Error("dispatcher rejected inbound message", "topic", msg.Topic, "error", err)
		c.acks.complete(seq, ack)
	}
}

// ackPublish sends the broker-side acknowledgement for a QoS1 PUBLISH. The
// session client configures its paho.Client with auto-ack disabled so that
// acks are only sent once ack ordering (c.acks) releases them, never as a
// side effect of the router handler returning.
func (c *Client) ackPublish(conn PahoClient, p *paho.Publish) {
	if err := conn.Ack(p); err != nil {
		c.logger.Error("failed to ack publish", "topic", p.Topic, "error", err)
	}
}
