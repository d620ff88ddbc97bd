package session

import (
	"context"

	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

// opKind distinguishes the three outbound operation types that queue while
// the client is disconnected and replay, in order, once reconnected.
type opKind int

const (
	opPublish opKind = iota
	opSubscribe
	opUnsubscribe
)

// outboundOp is one queued outbound operation. flushQueue sends the replay
// result on done, but submit returns as soon as the op is enqueued and does
// not wait on done, so the original caller does not see a replay error.
type outboundOp struct {
	kind opKind
	ctx  context.Context

	publish     *publishRequest
	subscribe   *subscribeRequest
	unsubscribe *unsubscribeRequest

	done chan error
}

// outboundQueue is a bounded FIFO of pending outbound operations, submitted
// while the client is not connected (or while a connection attempt is in
// flight) and flushed in receipt order once a connection is established.
// Grounded on the reference session client's send-queue design (see
// DESIGN.md); implemented here as a fixed-capacity buffered channel, since
// ordered FIFO draining with bounded capacity and non-blocking enqueue is
// simpler to reason about as a channel than as container/list.
type outboundQueue struct {
	ch chan *outboundOp
}

func newOutboundQueue(capacity int) *outboundQueue {
	if capacity <= 0 {
		capacity = 65535
	}
	return &outboundQueue{ch: make(chan *outboundOp, capacity)}
}

// enqueue appends op to the queue, failing with ErrQueueFull if the bounded
// capacity is already exhausted.
func (q *outboundQueue) enqueue(op *outboundOp) error {
	select {
	case q.ch <- op:
		return nil
	default:
		return mqtterrors.ErrQueueFull
	}
}

// drainInto reads all currently queued ops without blocking, preserving
// FIFO order, for replay against a newly established connection.
func (q *outboundQueue) drainInto(out []*outboundOp) []*outboundOp {
	for {
		select {
		case op := <-q.ch:
			out = append(out, op)
		default:
			return out
		}
	}
}
