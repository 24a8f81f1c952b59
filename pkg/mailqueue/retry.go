package mailqueue

import (
	"fmt"
	"math"
	"time"
)

// DefaultRetryIntervals are the delays before the second and third attempts.
var DefaultRetryIntervals = []time.Duration{5 * time.Minute, time.Hour}

// RetryPolicy is an ordered sequence of delays. A message gets one attempt
// more than there are delays; the n-th failure waits Intervals[n-1].
type RetryPolicy struct {
	Intervals []time.Duration
}

// DefaultRetryPolicy returns the 5 minute, 1 hour policy.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{Intervals: append([]time.Duration(nil), DefaultRetryIntervals...)}
}

// NewRetryPolicy validates intervals and returns a policy.
func NewRetryPolicy(intervals ...time.Duration) (RetryPolicy, error) {
	for i, d := range intervals {
		if d <= 0 {
			return RetryPolicy{}, fmt.Errorf("%w: interval %d is %v", ErrInvalidRetryPolicy, i, d)
		}
	}
	return RetryPolicy{Intervals: append([]time.Duration(nil), intervals...)}, nil
}

// MaxAttempts is the total number of delivery attempts allowed.
func (p RetryPolicy) MaxAttempts() int {
	return len(p.Intervals) + 1
}

// Exhausted reports whether attempts has used up the budget.
func (p RetryPolicy) Exhausted(attempts int) bool {
	return attempts >= p.MaxAttempts()
}

// Delay returns the wait after the given number of failed attempts.
// Out-of-range attempts clamp to the nearest interval.
func (p RetryPolicy) Delay(attempts int) time.Duration {
	if len(p.Intervals) == 0 {
		return 0
	}
	i := min(max(attempts, 1), len(p.Intervals)) - 1
	return p.Intervals[i]
}

// ExponentialIntervals builds n delays growing from initial by multiplier,
// capped at maxInterval.
// Formula: min(initial * (multiplier ^ i), maxInterval) for i in [0, n)
func ExponentialIntervals(initial, maxInterval time.Duration, multiplier float64, n int) []time.Duration {
	if n <= 0 {
		return nil
	}
	if initial <= 0 {
		initial = time.Minute
	}
	if multiplier <= 0 {
		multiplier = 2
	}

	out := make([]time.Duration, n)
	for i := range out {
		interval := float64(initial) * math.Pow(multiplier, float64(i))
		if maxInterval > 0 && interval > float64(maxInterval) {
			interval = float64(maxInterval)
		}
		out[i] = time.Duration(interval)
	}
	return out
}
