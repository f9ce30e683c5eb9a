package chain

import (
	"fmt"
	"strings"
	"time"

	"github.com/sethvargo/go-retry"
)

// Backoff builds a fresh delay sequence for one strategy run. Backoffs from
// go-retry are stateful, so every run gets its own.
type Backoff func() retry.Backoff

// None retries without waiting.
func None() Backoff {
	return func() retry.Backoff {
		return retry.BackoffFunc(func() (time.Duration, bool) { return 0, false })
	}
}

// Constant waits d between tries.
func Constant(d time.Duration) Backoff {
	if d <= 0 {
		return None()
	}
	return func() retry.Backoff { return retry.NewConstant(d) }
}

// Linear waits step, 2*step, 3*step, ...
func Linear(step time.Duration) Backoff {
	if step <= 0 {
		return None()
	}
	return func() retry.Backoff {
		var n int64
		return retry.BackoffFunc(func() (time.Duration, bool) {
			n++
			return time.Duration(n) * step, false
		})
	}
}

// Exponential waits base, 2*base, 4*base, ...
func Exponential(base time.Duration) Backoff {
	if base <= 0 {
		return None()
	}
	return func() retry.Backoff { return retry.NewExponential(base) }
}

// Capped limits every delay produced by b to max.
func Capped(max time.Duration, b Backoff) Backoff {
	if max <= 0 {
		return b
	}
	return func() retry.Backoff { return retry.WithCappedDuration(max, b()) }
}

// ParseBackoff maps a policy name from settings to a Backoff.
func ParseBackoff(policy string, base, max time.Duration) (Backoff, error) {
	var b Backoff
	switch strings.ToLower(strings.TrimSpace(policy)) {
	case "", "exponential":
		b = Exponential(base)
	case "linear":
		b = Linear(base)
	case "constant":
		b = Constant(base)
	case "none":
		return None(), nil
	default:
		return nil, fmt.Errorf("unknown backoff policy %q (want linear, exponential, constant or none)", policy)
	}
	return Capped(max, b), nil
}
