package transport

import "time"

// Backoff describes bounded exponential reconnect delays:
// delay(n) = min(Base * 2^n, Max) for n in [0, MaxAttempts).
type Backoff struct {
	Base        time.Duration
	Max         time.Duration
	MaxAttempts int
}

// DefaultBackoff returns the socket transport defaults.
func DefaultBackoff() Backoff {
	return Backoff{
		Base:        500 * time.Millisecond,
		Max:         8 * time.Second,
		MaxAttempts: 5,
	}
}

// Delay returns the wait before the given zero-based attempt.
func (b Backoff) Delay(attempt int) time.Duration {
	if attempt < 0 {
		attempt = 0
	}
	d := b.Base
	for i := 0; i < attempt; i++ {
		d *= 2
		if d >= b.Max || d <= 0 {
			return b.Max
		}
	}
	if d > b.Max {
		return b.Max
	}
	return d
}

// Exhausted reports whether no attempts remain after the given count.
func (b Backoff) Exhausted(attempts int) bool {
	return attempts >= b.MaxAttempts
}

// Schedule returns every delay in order. Useful for logging and tests.
func (b Backoff) Schedule() []time.Duration {
	out := make([]time.Duration, 0, b.MaxAttempts)
	for n := 0; n < b.MaxAttempts; n++ {
		out = append(out, b.Delay(n))
	}
	return out
}
