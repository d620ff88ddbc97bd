// Package retry builds the jittered exponential backoff schedule the
// session client replays through github.com/eapache/go-resiliency's
// retrier, and classifies connection errors as retryable or fatal for it.
package retry

import (
	"math/rand"
	"time"

	"github.com/eapache/go-resiliency/retrier"
)

// scheduleLength caps how many distinct backoff steps are precomputed
// before the schedule flattens out at the maximum delay. go-resiliency's
// retrier.Run stops once it exhausts the slice, so an "unlimited retries"
// policy needs a schedule long enough that a service will be operated on,
// restarted, or failed over long before it is exhausted.
const scheduleLength = 100000

// Schedule produces a jittered exponential backoff slice: doubling from min
// up to max, each value perturbed by a uniform [0.95, 1.05) multiplier, then
// held at max for the remainder of the schedule. maxAttempts, if non-zero,
// truncates the schedule to that many entries.
func Schedule(min, max time.Duration, maxAttempts int, rng *rand.Rand) []time.Duration {
	if min <= 0 {
		min = 128 * time.Millisecond
	}
	if max <= 0 || max < min {
		max = 60 * time.Second
	}
	if rng == nil {
		rng = rand.New(rand.NewSource(1))
	}

	n := scheduleLength
	if maxAttempts > 0 && maxAttempts < n {
		n = maxAttempts
	}

	out := make([]time.Duration, n)
	cur := min
	for i := 0; i < n; i++ {
		jitter := 0.95 + 0.10*rng.Float64()
		out[i] = time.Duration(float64(cur) * jitter)
		if cur < max {
			cur *= 2
			if cur > max {
				cur = max
			}
		}
	}
	return out
}

// ClassifierFunc adapts a plain function to retrier.Classifier.
type ClassifierFunc func(error) retrier.Action

func (f ClassifierFunc) Classify(err error) retrier.Action { return f(err) }

// New builds a retrier.Retrier over the given schedule using classify to
// decide, per attempt error, whether to Retry, Fail outright (fatal), or
// Succeed (treat as resolved despite a non-nil error, unused here but part
// of the Classifier contract).
func New(schedule []time.Duration, classify func(error) retrier.Action) *retrier.Retrier {
	return retrier.New(schedule, ClassifierFunc(classify))
}
