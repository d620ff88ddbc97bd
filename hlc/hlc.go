// Package hlc implements the Hybrid Logical Clock used to stamp every
// message exchanged by the session client, executor, invoker, and
// telemetry endpoints under the reserved __ts user property.
package hlc

import (
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"
)

// Clock is a monotonic (wall_ms, counter, node) triple. The zero value is
// not ready for use; construct with New.
type Clock struct {
	mu      sync.Mutex
	wallMs  uint64
	counter uint16
	node    string
	nowFunc func() time.Time
}

// maxSkew bounds how far a peer's clock may run ahead of ours before we
// reject it as a malformed update rather than silently jumping forward.
const maxSkew = 60 * 60 * 1000 // 1 hour, in milliseconds

// New creates a Clock for the given node (typically the client-id). An
// optional nowFunc injects a fake wall clock for deterministic tests; nil
// uses time.Now.
func New(node string, nowFunc func() time.Time) *Clock {
	if nowFunc == nil {
		nowFunc = time.Now
	}
	return &Clock{node: node, nowFunc: nowFunc}
}

// Timestamp is the decoded form of an HLC value.
type Timestamp struct {
	WallMs  uint64
	Counter uint16
	Node    string
}

// Now advances the clock and returns the new timestamp. The pair
// (WallMs, Counter) is strictly increasing across successive calls.
func (c *Clock) Now() Timestamp {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := uint64(c.nowFunc().UnixMilli())
	if wall > c.wallMs {
		c.wallMs = wall
		c.counter = 0
	} else {
		c.counter++
	}
	return Timestamp{WallMs: c.wallMs, Counter: c.counter, Node: c.node}
}

// Update folds a peer timestamp into the clock, preserving monotonicity and
// causal ordering. Returns an error if the peer timestamp is malformed or
// implausibly far in the future.
func (c *Clock) Update(other Timestamp) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	wall := uint64(c.nowFunc().UnixMilli())
	if other.WallMs > wall+maxSkew {
		return fmt.Errorf("hlc: peer timestamp %d ms exceeds allowed skew over local %d ms", other.WallMs, wall)
	}

	max := wall
	if c.wallMs > max {
		max = c.wallMs
	}
	if other.WallMs > max {
		max = other.WallMs
	}

	switch {
	case max == c.wallMs && max == other.WallMs:
		if other.Counter >= c.counter {
			c.counter = other.Counter + 1
		} else {
			c.counter++
		}
	case max == c.wallMs:
		c.counter++
	case max == other.WallMs:
		c.counter = other.Counter + 1
	default:
		c.counter = 0
	}
	c.wallMs = max
	return nil
}

// Compare orders two timestamps by (WallMs, Counter); Node is not
// significant to ordering, only to provenance.
func Compare(a, b Timestamp) int {
	switch {
	case a.WallMs != b.WallMs:
		if a.WallMs < b.WallMs {
			return -1
		}
		return 1
	case a.Counter != b.Counter:
		if a.Counter < b.Counter {
			return -1
		}
		return 1
	default:
		return 0
	}
}

// Encode renders a timestamp into the fixed-format string stored under the
// __ts user property: "<wallMs>:<counter>:<node>".
func Encode(t Timestamp) string {
	return fmt.Sprintf("%d:%d:%s", t.WallMs, t.Counter, t.Node)
}

// Decode parses the __ts wire format produced by Encode.
func Decode(s string) (Timestamp, error) {
	parts := strings.SplitN(s, ":", 3)
	if len(parts) != 3 {
		return Timestamp{}, fmt.Errorf("hlc: malformed timestamp %q", s)
	}
	wall, err := strconv.ParseUint(parts[0], 10, 64)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed wall time in %q: %w", s, err)
	}
	counter, err := strconv.ParseUint(parts[1], 10, 16)
	if err != nil {
		return Timestamp{}, fmt.Errorf("hlc: malformed counter in %q: %w", s, err)
	}
	return Timestamp{WallMs: wall, Counter: uint16(counter), Node: parts[2]}, nil
}
