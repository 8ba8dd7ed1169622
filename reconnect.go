package dbusclient

import (
	"math/rand"
	"time"
)

// backoff computes exponential reconnect delays with jitter (§4.7
// "Auto-reconnect"): each attempt doubles the previous delay, capped at
// max, then scales by a uniform random factor in [0.5, 1.0) so that
// many clients reconnecting after the same outage don't all retry in
// lockstep.
type backoff struct {
	initial time.Duration
	max     time.Duration
	attempt int
}

func newBackoff(initial, max time.Duration) *backoff {
	return &backoff{initial: initial, max: max}
}

func (b *backoff) reset() { b.attempt = 0 }

func (b *backoff) next() time.Duration {
	d := b.initial << uint(b.attempt)
	if d <= 0 || d > b.max {
		d = b.max
	}
	b.attempt++
	jitter := 0.5 + rand.Float64()*0.5
	return time.Duration(float64(d) * jitter)
}
