package conversation

import (
	"sync"
	"time"

	"github.com/teslashibe/go-parley/internal/clock"
)

// countdown enforces the maximum session length. Remaining time never
// increases, the warning is raised once, and expiry fires once.
type countdown struct {
	clk    clock.Clock
	max    time.Duration
	tick   time.Duration
	warnAt time.Duration

	onTick   func(remaining time.Duration, warn bool)
	onExpire func()

	mu        sync.Mutex
	startedAt time.Time
	remaining time.Duration
	timer     clock.Timer
	warned    bool
	stopped   bool
}

func newCountdown(clk clock.Clock, max, tick time.Duration, warnFraction float64, onTick func(time.Duration, bool), onExpire func()) *countdown {
	if tick <= 0 {
		tick = time.Second
	}
	if warnFraction <= 0 || warnFraction > 1 {
		warnFraction = 0.8
	}
	return &countdown{
		clk:      clk,
		max:      max,
		tick:     tick,
		warnAt:   time.Duration(float64(max) * warnFraction),
		onTick:   onTick,
		onExpire: onExpire,
	}
}

// start records the start time and schedules the first tick.
func (c *countdown) start() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.startedAt = c.clk.Now()
	c.remaining = c.max
	c.timer = c.clk.AfterFunc(c.tick, c.fire)
	return c.startedAt
}

func (c *countdown) fire() {
	c.mu.Lock()
	if c.stopped {
		c.mu.Unlock()
		return
	}
	elapsed := c.clk.Now().Sub(c.startedAt)
	remaining := max(0, c.max-elapsed)
	if remaining > c.remaining {
		remaining = c.remaining
	}
	c.remaining = remaining

	warn := !c.warned && elapsed >= c.warnAt
	if warn {
		c.warned = true
	}
	expired := remaining == 0
	if expired {
		c.stopped = true
		c.timer = nil
	} else {
		c.timer = c.clk.AfterFunc(c.tick, c.fire)
	}
	c.mu.Unlock()

	c.onTick(remaining, warn)
	if expired {
		c.onExpire()
	}
}

// stop cancels the pending tick. Safe to call repeatedly.
func (c *countdown) stop() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.stopped = true
	if c.timer != nil {
		c.timer.Stop()
		c.timer = nil
	}
}
