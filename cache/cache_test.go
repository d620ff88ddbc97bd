package cache_test

import (
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/cache"
	"github.com/sandrolain/mqtt-rpc/wire"
)

type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func TestExecDeduplicatesExactCorrelation(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := cache.New(clk, 10*time.Second, true)

	req := &wire.Message{
		Topic:           "svc/exec-1/cmd",
		CorrelationData: []byte("corr-1"),
		Payload:         []byte("payload"),
		MessageExpiry:   5 * time.Second,
	}

	var calls int32
	cb := func() (*wire.Message, error) {
		atomic.AddInt32(&calls, 1)
		return &wire.Message{Payload: []byte("response")}, nil
	}

	msg1, err := c.Exec(req, false, cb)
	require.NoError(t, err)
	msg2, err := c.Exec(req, false, cb)
	require.NoError(t, err)

	require.Equal(t, msg1.Payload, msg2.Payload)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls))
}

func TestExecExpiresAfterDeadline(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := cache.New(clk, 0, true)

	req := &wire.Message{
		Topic:           "svc/exec-1/cmd",
		CorrelationData: []byte("corr-1"),
		MessageExpiry:   1 * time.Second,
	}

	var calls int32
	cb := func() (*wire.Message, error) {
		atomic.AddInt32(&calls, 1)
		return &wire.Message{Payload: []byte("r")}, nil
	}

	_, err := c.Exec(req, false, cb)
	require.NoError(t, err)

	clk.advance(2 * time.Second)

	_, err = c.Exec(req, false, cb)
	require.NoError(t, err)
	require.EqualValues(t, 2, atomic.LoadInt32(&calls), "entry past its deadline must be dropped and re-executed")
}

func TestExecIdempotentEquivalentRequestReuses(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := cache.New(clk, 10*time.Second, false)

	base := &wire.Message{
		Topic:   "svc/cmd",
		Payload: []byte("same-payload"),
		UserProperties: wire.PropertyList{
			{Key: wire.UserPropSourceID, Value: "invoker-a"},
		},
		MessageExpiry: 5 * time.Second,
	}
	reqA := *base
	reqA.CorrelationData = []byte("corr-a")
	reqB := *base
	reqB.CorrelationData = []byte("corr-b")
	reqB.UserProperties = wire.PropertyList{
		{Key: wire.UserPropSourceID, Value: "invoker-b"},
	}

	var calls int32
	cb := func() (*wire.Message, error) {
		atomic.AddInt32(&calls, 1)
		return &wire.Message{Payload: []byte("shared-response")}, nil
	}

	msgA, err := c.Exec(&reqA, true, cb)
	require.NoError(t, err)
	msgB, err := c.Exec(&reqB, true, cb)
	require.NoError(t, err)

	require.Equal(t, msgA.Payload, msgB.Payload)
	require.EqualValues(t, 1, atomic.LoadInt32(&calls), "idempotent equivalent request from a different source must not re-execute")
}

func TestExecNonIdempotentDoesNotShareAcrossSources(t *testing.T) {
	clk := &fakeClock{now: time.Unix(0, 0)}
	c := cache.New(clk, 10*time.Second, false)

	base := &wire.Message{
		Topic:         "svc/cmd",
		Payload:       []byte("same-payload"),
		MessageExpiry: 5 * time.Second,
	}
	reqA := *base
	reqA.CorrelationData = []byte("corr-a")
	reqB := *base
	reqB.CorrelationData = []byte("corr-b")

	var calls int32
	cb := func() (*wire.Message, error) {
		atomic.AddInt32(&calls, 1)
		return &wire.Message{Payload: []byte("r")}, nil
	}

	_, err := c.Exec(&reqA, false, cb)
	require.NoError(t, err)
	_, err = c.Exec(&reqB, false, cb)
	require.NoError(t, err)

	require.EqualValues(t, 2, atomic.LoadInt32(&calls), "non-idempotent commands must not dedup across distinct correlation ids")
}
