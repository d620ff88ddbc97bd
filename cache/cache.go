// Package cache implements the executor's response cache: per-entry TTL
// response memoisation keyed by (correlation-id, request topic), with
// additional equivalent-request reuse for idempotent commands and
// bounded, cost-weighted eviction under memory pressure, grounded
// directly on the reference caching implementation retrieved for this
// framework (see DESIGN.md).
package cache

import (
	"bytes"
	"strings"
	"sync"
	"time"

	"github.com/sandrolain/mqtt-rpc/internal/container"
	"github.com/sandrolain/mqtt-rpc/wire"
)

// Clock abstracts wall-clock access for deterministic tests.
type Clock interface {
	Now() time.Time
}

// SystemClock is the default Clock backed by time.Now.
type SystemClock struct{}

func (SystemClock) Now() time.Time { return time.Now() }

// Callback computes the response for a request. It is invoked at most once
// per logically-distinct request, even if Exec is called concurrently for
// duplicates.
type Callback func() (*wire.Message, error)

// Limits bounds the cache's resource usage under memory pressure. New always
// applies DefaultLimits; it takes no Limits argument.
type Limits struct {
	MaxEntryCount       int
	MaxAggregateBytes   int
}

// DefaultLimits matches the reference implementation's bounds.
var DefaultLimits = Limits{
	MaxEntryCount:     10000,
	MaxAggregateBytes: 10_000_000,
}

const (
	fixedProcessingOverheadMs = 10
	fixedStorageOverheadBytes = 100
)

type key struct {
	correlation string
	topic       string
}

type result struct {
	once sync.Once
	msg  *wire.Message
	err  error
	end  time.Time
	refs int
	size int
}

type entry struct {
	req      *wire.Message
	idempotent bool
	*result
	start    time.Time
	reqTTL   time.Time
	cacheTTL time.Time
}

// Cache memoises command-executor responses for deduplication of repeated
// requests within their expiry window.
type Cache struct {
	clock  Clock
	ttl    time.Duration
	limits Limits

	// ignoreClient mirrors the reference implementation's workaround: when
	// the request topic is not parameterized per-executor (no
	// {executorId} token), the source-id is not part of request
	// equivalence, since every executor instance shares the same topic.
	ignoreClient bool

	bytes int
	mu    sync.Mutex

	timeStore *container.PriorityMap[key, *entry, int64]
	costStore *container.PriorityMap[key, *entry, float64]
}

// New creates a Cache with the given default TTL for idempotent
// equivalent-request reuse, and whether the bound request topic contains an
// {executorId} token (used to decide if source-id participates in request
// equivalence).
func New(clock Clock, ttl time.Duration, requestTopicHasExecutorToken bool) *Cache {
	if clock == nil {
		clock = SystemClock{}
	}
	limits := DefaultLimits
	return &Cache{
		clock:        clock,
		ttl:          ttl,
		limits:       limits,
		ignoreClient: !requestTopicHasExecutorToken,
		timeStore:    container.NewPriorityMap[key, *entry, int64](),
		costStore:    container.NewPriorityMap[key, *entry, float64](),
	}
}

// Exec returns the cached response for req, executing cb to produce it if
// necessary. A nil message with no error means the request should be
// silently dropped (e.g. it has already expired, or is a superseded
// duplicate of an in-flight request whose result is no longer needed).
// idempotent controls whether a different-source equivalent request may
// reuse this request's in-flight or cached result.
func (c *Cache) Exec(req *wire.Message, idempotent bool, cb Callback) (*wire.Message, error) {
	e := c.get(req, idempotent, cb)
	if e == nil {
		return nil, nil
	}
	var msg *wire.Message
	var err error
	e.once.Do(func() {
		msg, err = cb()
		msg, err = c.set(e, msg, err, c.clock.Now().UTC())
	})
	if msg == nil && err == nil {
		// A concurrent caller already ran the callback; surface its result.
		msg, err = e.msg, e.err
	}
	return msg, err
}

func (c *Cache) get(req *wire.Message, idempotent bool, _ Callback) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := getKey(req)
	now := c.clock.Now().UTC()

	if cached, ok := c.timeStore.Get(id); ok {
		if !cached.end.IsZero() && now.After(cached.cacheTTL) {
			// Past its deadline: evict and treat the request as a miss.
			c.remove(id, cached)
		} else {
			if cached.end.IsZero() || now.After(cached.reqTTL) {
				return nil
			}
			return cached
		}
	}

	e := &entry{
		req:        req,
		idempotent: idempotent,
		start:      now,
		reqTTL:     now.Add(req.MessageExpiry),
		result:     &result{},
	}
	e.cacheTTL = e.reqTTL
	c.timeStore.Set(id, e, e.cacheTTL.UnixNano())

	if idempotent {
		if equiv, ok := c.costStore.Find(func(cached *entry) bool {
			return cached.idempotent &&
				c.equivalentRequest(req, cached.req) &&
				now.Before(cached.end.Add(c.ttl))
		}); ok {
			e.result = equiv.result
			e.refs++
		}
	}

	return e
}

func (c *Cache) set(e *entry, msg *wire.Message, err error, now time.Time) (*wire.Message, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	id := getKey(e.req)
	e.end = now
	e.msg = msg
	e.err = err

	if c.ttl > 0 && msg != nil && err == nil {
		if e.end.Add(c.ttl).After(e.cacheTTL) {
			e.cacheTTL = e.end.Add(c.ttl)
			c.timeStore.Set(id, e, e.cacheTTL.UnixNano())
		}
		c.costStore.Set(id, e, costWeightedBenefit(msg, e.end.Sub(e.start)))
	} else {
		if e.end.After(e.cacheTTL) {
			c.timeStore.Delete(id)
			return nil, nil
		}
		e.req = nil
	}

	if msg != nil {
		e.size = len(msg.Payload)
		c.bytes += e.size
	}

	c.trim(now)
	return msg, err
}

func (c *Cache) trim(now time.Time) {
	for {
		id, e, ok := c.timeStore.Next()
		if !ok || now.Before(e.cacheTTL) {
			break
		}
		c.remove(id, e)
	}

	for c.timeStore.Len() >= c.limits.MaxEntryCount || c.bytes >= c.limits.MaxAggregateBytes {
		id, e, ok := c.costStore.Next()
		if !ok {
			break
		}
		if now.After(e.reqTTL) {
			c.remove(id, e)
		} else {
			e.req = nil
			e.cacheTTL = e.reqTTL
			c.timeStore.Set(id, e, e.cacheTTL.UnixNano())
			c.costStore.Delete(id)
		}
	}
}

func (c *Cache) remove(id key, e *entry) {
	c.timeStore.Delete(id)
	c.costStore.Delete(id)
	e.refs--
	if e.refs < 0 {
		c.bytes -= e.size
	}
}

func costWeightedBenefit(msg *wire.Message, exec time.Duration) float64 {
	benefit := fixedProcessingOverheadMs + float64(exec.Milliseconds())
	cost := fixedStorageOverheadBytes + float64(len(msg.Payload))
	return benefit / cost
}

func getKey(msg *wire.Message) key {
	return key{correlation: string(msg.CorrelationData), topic: msg.Topic}
}

// equivalentRequest reports whether req may reuse cached's in-flight or
// stored result: same topic and payload, compatible user properties, but a
// *different* correlation-id (an exact correlation-id match is handled by
// the primary timeStore key, not here).
func (c *Cache) equivalentRequest(req, cached *wire.Message) bool {
	if cached == nil {
		return false
	}
	if bytes.Equal(req.CorrelationData, cached.CorrelationData) {
		return false
	}
	if req.Topic != cached.Topic {
		return false
	}
	if !bytes.Equal(req.Payload, cached.Payload) {
		return false
	}
	if len(req.UserProperties) != len(cached.UserProperties) {
		return false
	}
	reqMap := req.UserProperties.ToMap()
	cachedMap := cached.UserProperties.ToMap()
	for k, v := range reqMap {
		if c.ignoreMetadata(k) {
			continue
		}
		if cachedMap[k] != v {
			return false
		}
	}
	return true
}

func (c *Cache) ignoreMetadata(key string) bool {
	switch {
	case key == wire.UserPropTimestamp:
		return true
	case key == wire.UserPropSourceID:
		return c.ignoreClient
	case strings.HasPrefix(key, wire.ReservedPrefix):
		return false
	default:
		return false
	}
}
