package session

import (
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

func TestOutboundQueueFIFOOrder(t *testing.T) {
	q := newOutboundQueue(4)

	var ops []*outboundOp
	for i := 0; i < 3; i++ {
		op := &outboundOp{kind: opPublish, publish: &publishRequest{msg: nil}}
		ops = append(ops, op)
		require.NoError(t, q.enqueue(op))
	}

	drained := q.drainInto(nil)
	require.Len(t, drained, 3)
	for i := range ops {
		require.Same(t, ops[i], drained[i])
	}
}

func TestOutboundQueueRejectsWhenFull(t *testing.T) {
	q := newOutboundQueue(1)
	require.NoError(t, q.enqueue(&outboundOp{kind: opPublish}))
	err := q.enqueue(&outboundOp{kind: opPublish})
	require.ErrorIs(t, err, mqtterrors.ErrQueueFull)
}

func TestOutboundQueueDrainIsEmptyAfterDraining(t *testing.T) {
	q := newOutboundQueue(4)
	require.NoError(t, q.enqueue(&outboundOp{kind: opSubscribe}))
	first := q.drainInto(nil)
	require.Len(t, first, 1)
	second := q.drainInto(nil)
	require.Empty(t, second)
}
