// Package dispatcher implements the bounded, per-session-client execution
// queue that feeds command-executor and telemetry-receiver user callbacks:
// FIFO submission, concurrency capped at a configurable limit, with
// retryable backpressure once the queue is full. It intentionally does not
// decide ack ordering — that invariant belongs to the session client,
// which acknowledges in receipt order independent of when dispatched work
// completes (see session.Client).
package dispatcher

import (
	"context"
	"sync"

	"github.com/sandrolain/mqtt-rpc/mqtterrors"
)

// DefaultConcurrency matches the spec's default worker pool size.
const DefaultConcurrency = 10

// DefaultQueueCapacity bounds the number of work items waiting for a free
// worker slot before Submit starts rejecting with ErrQueueFull.
const DefaultQueueCapacity = 1024

// Work is a unit of dispatched execution.
type Work func(ctx context.Context)

// Dispatcher runs Work items concurrently, up to Concurrency at a time, in
// the order they are submitted.
type Dispatcher struct {
	queue chan queuedWork
	sem   chan struct{}

	wg        sync.WaitGroup
	closeOnce sync.Once
}

type queuedWork struct {
	ctx  context.Context
	work Work
}

// Option configures a Dispatcher at construction time.
type Option func(*options)

type options struct {
	concurrency int
	capacity    int
}

// WithConcurrency overrides the default concurrent-worker limit.
func WithConcurrency(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.concurrency = n
		}
	}
}

// WithQueueCapacity overrides the default bounded-queue capacity.
func WithQueueCapacity(n int) Option {
	return func(o *options) {
		if n > 0 {
			o.capacity = n
		}
	}
}

// New constructs a running Dispatcher. Call Close to stop accepting new
// work and wait for in-flight work to drain.
func New(opts ...Option) *Dispatcher {
	o := options{concurrency: DefaultConcurrency, capacity: DefaultQueueCapacity}
	for _, opt := range opts {
		opt(&o)
	}

	d := &Dispatcher{
		queue: make(chan queuedWork, o.capacity),
		sem:   make(chan struct{}, o.concurrency),
	}

	d.wg.Add(1)
	go d.run()

	return d
}

func (d *Dispatcher) run() {
	defer d.wg.Done()
	var workers sync.WaitGroup
	for {
		// Take a worker slot before dequeuing, so work waiting for a slot
		// stays in the bounded queue and counts against its capacity.
		d.sem <- struct{}{}
		qw, ok := <-d.queue
		if !ok {
			<-d.sem
			break
		}
		workers.Add(1)
		go func(qw queuedWork) {
			defer workers.Done()
			defer func() { <-d.sem }()
			qw.work(qw.ctx)
		}(qw)
	}
	workers.Wait()
}

// Submit enqueues work for eventual execution. It returns ErrQueueFull
// immediately if the bounded queue is full, or ctx.Err() if ctx is already
// cancelled; it does not block waiting for a free worker slot.
func (d *Dispatcher) Submit(ctx context.Context, work Work) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	select {
	case d.queue <- queuedWork{ctx: ctx, work: work}:
		return nil
	default:
		return mqtterrors.ErrQueueFull
	}
}

// Close stops accepting new work and blocks until in-flight work drains.
func (d *Dispatcher) Close() {
	d.closeOnce.Do(func() {
		close(d.queue)
	})
	d.wg.Wait()
}
