package dispatcher_test

import (
	"context"
	"sync/atomic"
	"testing"
	"time"

	"github.com/stretchr/testify/require"

	"github.com/sandrolain/mqtt-rpc/dispatcher"
	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

func TestConcurrencyIsBounded(t *testing.T) {
	d := dispatcher.New(dispatcher.WithConcurrency(2), dispatcher.WithQueueCapacity(10))
	defer d.Close()

	var inFlight int32
	var maxSeen int32
	release := make(chan struct{})

	for i := 0; i < 5; i++ {
		err := d.Submit(context.Background(), func(ctx context.Context) {
			n := atomic.AddInt32(&inFlight, 1)
			for {
				old := atomic.LoadInt32(&maxSeen)
				if n <= old || atomic.CompareAndSwapInt32(&maxSeen, old, n) {
					break
				}
			}
			<-release
			atomic.AddInt32(&inFlight, -1)
		})
		require.NoError(t, err)
	}

	time.Sleep(50 * time.Millisecond)
	require.LessOrEqual(t, atomic.LoadInt32(&maxSeen), int32(2))
	close(release)
}

func TestSubmitRejectsWhenQueueFull(t *testing.T) {
	d := dispatcher.New(dispatcher.WithConcurrency(1), dispatcher.WithQueueCapacity(1))
	defer d.Close()

	block := make(chan struct{})
	require.NoError(t, d.Submit(context.Background(), func(ctx context.Context) { <-block }))
	// Fill the only queue slot behind the worker that's blocked.
	require.NoError(t, d.Submit(context.Background(), func(ctx context.Context) {}))

	err := d.Submit(context.Background(), func(ctx context.Context) {})
	require.ErrorIs(t, err, mqtterrors.ErrQueueFull)

	close(block)
}

func TestCloseDrainsInFlightWork(t *testing.T) {
	d := dispatcher.New()
	var ran int32
	require.NoError(t, d.Submit(context.Background(), func(ctx context.Context) {
		time.Sleep(10 * time.Millisecond)
		atomic.StoreInt32(&ran, 1)
	}))
	d.Close()
	require.EqualValues(t, 1, atomic.LoadInt32(&ran))
}
