package backoff

import (
	"context"
	"time"

	"github.com/jonboulle/clockwork"
	"lukechampine.com/frand"
)

var (
	// BackoffTable is used for upstream API retries.  Rate limits on the upstream
	// API reset quickly, so the table never waits for longer than a few seconds.
	BackoffTable = []time.Duration{
		500 * time.Millisecond,
		time.Second,
		2 * time.Second,
		4 * time.Second,
		8 * time.Second,
	}

	backoffLen = len(BackoffTable) - 1

	DefaultBackoff BackoffFunc = TableBackoff
)

// BackoffFunc returns how long to wait before the given (zero-indexed) retry.
type BackoffFunc func(attemptNum int) time.Duration

// ExponentialJitterBackoff doubles base for every attempt, adds up to 15% jitter and
// caps the result at max.
func ExponentialJitterBackoff(base, max time.Duration) BackoffFunc {
	return func(attemptNum int) time.Duration {
		if attemptNum < 0 {
			attemptNum = 0
		}
		if attemptNum > 30 {
			attemptNum = 30
		}
		dur := base * time.Duration(uint(1)<<uint(attemptNum))
		dur += time.Duration(float64(dur) * 0.15 * frand.Float64())
		if dur <= 0 || dur > max {
			return max
		}
		return dur
	}
}

// TableBackoff returns a fixed backoff maxing out at the last table entry, with up to
// 250 milliseconds of jitter.
func TableBackoff(attemptNum int) time.Duration {
	if attemptNum < 0 {
		attemptNum = 0
	}
	if attemptNum > backoffLen {
		attemptNum = backoffLen
	}
	jitter := time.Duration(frand.Intn(250)) * time.Millisecond
	return BackoffTable[attemptNum] + jitter
}

// GetLinearBackoffFunc returns a backoff function that returns a fixed interval
// between attempts.
func GetLinearBackoffFunc(interval time.Duration) BackoffFunc {
	return func(attemptNum int) time.Duration {
		return interval
	}
}

// Wait blocks for the attempt's backoff, returning early with the context's error.
func Wait(ctx context.Context, clock clockwork.Clock, fn BackoffFunc, attemptNum int) error {
	if clock == nil {
		clock = clockwork.NewRealClock()
	}
	if fn == nil {
		fn = DefaultBackoff
	}

	t := clock.NewTimer(fn(attemptNum))
	defer t.Stop()

	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.Chan():
		return nil
	}
}
