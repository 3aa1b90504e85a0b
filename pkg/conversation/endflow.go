package conversation

import (
	"log/slog"
	"sync"
	"time"

	"github.com/teslashibe/go-parley/internal/clock"
	"github.com/teslashibe/go-parley/internal/metrics"
)

// Resolutions recorded for an end flow.
const (
	resolutionGrace     = "grace"
	resolutionFallback  = "fallback"
	resolutionCancelled = "cancelled"
)

// endFlow coordinates a graceful end: once requested, it waits for the
// assistant's farewell and the end of that turn, then fires after a grace
// delay. A fallback timer fires if the farewell never comes.
type endFlow struct {
	clk      clock.Clock
	fallback time.Duration
	grace    time.Duration
	onFire   func(resolution string)
	logger   *slog.Logger

	mu            sync.Mutex
	requested     bool
	farewell      bool
	trigger       EndTrigger
	fallbackTimer clock.Timer
	graceTimer    clock.Timer
	fired         bool
	epoch         int
}

func newEndFlow(clk clock.Clock, fallback, grace time.Duration, logger *slog.Logger, onFire func(string)) *endFlow {
	return &endFlow{
		clk:      clk,
		fallback: fallback,
		grace:    grace,
		onFire:   onFire,
		logger:   logger.With("component", "conversation.endflow"),
	}
}

// request starts the flow. It reports false if a flow is already running
// or has fired.
func (f *endFlow) request(trigger EndTrigger) bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.requested || f.fired {
		return false
	}
	f.requested = true
	f.farewell = false
	f.trigger = trigger
	f.fallbackTimer = f.arm(f.fallback, resolutionFallback)
	f.logger.Info("end requested", "trigger", trigger, "fallback", f.fallback)
	return true
}

// observeFarewell marks the assistant's closing speech. It reports whether
// this call changed anything.
func (f *endFlow) observeFarewell() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.requested || f.farewell || f.fired {
		return false
	}
	f.farewell = true
	return true
}

// turnDone arms the grace timer once the farewell turn has finished.
func (f *endFlow) turnDone() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.requested || !f.farewell || f.fired || f.graceTimer != nil {
		return
	}
	if f.fallbackTimer != nil {
		f.fallbackTimer.Stop()
		f.fallbackTimer = nil
	}
	f.graceTimer = f.arm(f.grace, resolutionGrace)
}

// cancel abandons a requested flow. It reports whether one was running.
func (f *endFlow) cancel() bool {
	f.mu.Lock()
	if !f.requested || f.fired {
		f.mu.Unlock()
		return false
	}
	trigger := f.trigger
	f.clearLocked()
	f.mu.Unlock()

	metrics.EndFlowsTotal.WithLabelValues(string(trigger), resolutionCancelled).Inc()
	f.logger.Info("end flow cancelled", "trigger", trigger)
	return true
}

// reset clears every timer without recording a resolution.
func (f *endFlow) reset() {
	f.mu.Lock()
	f.clearLocked()
	f.mu.Unlock()
}

func (f *endFlow) clearLocked() {
	if f.fallbackTimer != nil {
		f.fallbackTimer.Stop()
		f.fallbackTimer = nil
	}
	if f.graceTimer != nil {
		f.graceTimer.Stop()
		f.graceTimer = nil
	}
	f.requested = false
	f.farewell = false
	f.trigger = ""
	f.epoch++
}

func (f *endFlow) arm(d time.Duration, resolution string) clock.Timer {
	epoch := f.epoch
	return f.clk.AfterFunc(d, func() { f.fire(epoch, resolution) })
}

func (f *endFlow) fire(epoch int, resolution string) {
	f.mu.Lock()
	if epoch != f.epoch || f.fired || !f.requested {
		f.mu.Unlock()
		return
	}
	f.fired = true
	trigger := f.trigger
	f.clearLocked()
	f.mu.Unlock()

	metrics.EndFlowsTotal.WithLabelValues(string(trigger), resolution).Inc()
	f.logger.Info("end flow fired", "trigger", trigger, "resolution", resolution)
	f.onFire(resolution)
}
