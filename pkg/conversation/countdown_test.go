package conversation

import (
	"testing"
	"time"

	"github.com/teslashibe/go-parley/internal/clock"
)

type tickLog struct {
	remaining []time.Duration
	warnings  int
	expired   int
}

func newTestCountdown(clk clock.Clock, max time.Duration) (*countdown, *tickLog) {
	log := &tickLog{}
	cd := newCountdown(clk, max, time.Second, 0.8,
		func(remaining time.Duration, warn bool) {
			log.remaining = append(log.remaining, remaining)
			if warn {
				log.warnings++
			}
		},
		func() { log.expired++ })
	return cd, log
}

func TestCountdownExpiresOnce(t *testing.T) {
	clk := clock.NewFake(t0)
	cd, log := newTestCountdown(clk, 10*time.Second)

	if got := cd.start(); !got.Equal(t0) {
		t.Fatalf("startedAt = %v", got)
	}

	clk.Advance(7 * time.Second)
	if log.warnings != 0 {
		t.Fatalf("warned at 7s of 10s")
	}
	clk.Advance(time.Second)
	if log.warnings != 1 {
		t.Fatalf("warnings = %d at 8s, want 1", log.warnings)
	}

	clk.Advance(30 * time.Second)
	if log.expired != 1 {
		t.Errorf("expired = %d, want 1", log.expired)
	}
	if log.warnings != 1 {
		t.Errorf("warnings = %d, want 1", log.warnings)
	}
	if clk.Pending() != 0 {
		t.Errorf("%d timers left after expiry", clk.Pending())
	}
	for i := 1; i < len(log.remaining); i++ {
		if log.remaining[i] > log.remaining[i-1] {
			t.Fatalf("remaining increased: %v", log.remaining)
		}
	}
	if last := log.remaining[len(log.remaining)-1]; last != 0 {
		t.Errorf("final remaining = %v", last)
	}
}

func TestCountdownStop(t *testing.T) {
	clk := clock.NewFake(t0)
	cd, log := newTestCountdown(clk, 5*time.Second)

	cd.start()
	clk.Advance(2 * time.Second)
	cd.stop()
	cd.stop()

	clk.Advance(time.Minute)
	if log.expired != 0 {
		t.Errorf("stopped countdown expired")
	}
	if len(log.remaining) != 2 {
		t.Errorf("ticks after stop: %v", log.remaining)
	}
	if last := log.remaining[len(log.remaining)-1]; last != 3*time.Second {
		t.Errorf("remaining = %v, want 3s", last)
	}
}
