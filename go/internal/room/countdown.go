package room

import (
	"fmt"
	"math/rand/v2"
	"time"

	"github.com/jonboulle/clockwork"
)

// Default countdown window: [1s, 10s).
const (
	DefaultCountdownMin = 1000 * time.Millisecond
	DefaultCountdownMax = 10000 * time.Millisecond
)

// Timers schedules one-shot callbacks. clockwork.Clock satisfies it; the
// coordinator wraps a clock so callbacks run on its event loop.
type Timers interface {
	AfterFunc(d time.Duration, f func()) clockwork.Timer
}

// DelayPolicy samples countdown delays uniformly from [Min, Max) at
// millisecond granularity.
type DelayPolicy struct {
	Min time.Duration
	Max time.Duration

	rng *rand.Rand
}

// NewDelayPolicy validates the window. A nil rng uses the global source.
func NewDelayPolicy(min, max time.Duration, rng *rand.Rand) (*DelayPolicy, error) {
	if min <= 0 {
		return nil, fmt.Errorf("countdown min must be positive, got %s", min)
	}
	if max-min < time.Millisecond {
		return nil, fmt.Errorf("countdown max %s must exceed min %s by at least 1ms", max, min)
	}
	return &DelayPolicy{Min: min, Max: max, rng: rng}, nil
}

// DefaultDelayPolicy returns the [1s, 10s) policy.
func DefaultDelayPolicy() *DelayPolicy {
	return &DelayPolicy{Min: DefaultCountdownMin, Max: DefaultCountdownMax}
}

// Sample draws one delay.
func (p *DelayPolicy) Sample() time.Duration {
	span := int64((p.Max - p.Min) / time.Millisecond)
	var n int64
	if p.rng != nil {
		n = p.rng.Int64N(span)
	} else {
		n = rand.Int64N(span)
	}
	return p.Min + time.Duration(n)*time.Millisecond
}

// countdown is the session-owned handle for a scheduled go signal. Identity of
// the pointer is what makes a late callback recognisable as stale.
type countdown struct {
	timer    clockwork.Timer
	delay    time.Duration
	deadline time.Time
}

func (c *countdown) stop() {
	if c != nil && c.timer != nil {
		c.timer.Stop()
	}
}
