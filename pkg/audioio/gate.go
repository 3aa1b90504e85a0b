package audioio

import (
	"fmt"
	"sync"
	"time"
)

// Decision is the outcome of admitting one captured chunk through the Gate.
type Decision int

const (
	// Drop discards the chunk; nothing is forwarded.
	Drop Decision = iota
	// Forward passes the chunk through unchanged.
	Forward
	// BargeIn passes the chunk through and reports that the user
	// interrupted the assistant. The gate is open afterwards.
	BargeIn
)

func (d Decision) String() string {
	switch d {
	case Drop:
		return "drop"
	case Forward:
		return "forward"
	case BargeIn:
		return "barge_in"
	default:
		return fmt.Sprintf("decision(%d)", int(d))
	}
}

// GateConfig holds echo-gating parameters.
type GateConfig struct {
	// Threshold is the normalized RMS level at or above which a chunk counts
	// toward barge-in.
	Threshold float64 `toml:"threshold" json:"threshold"`

	// RequiredCount is the number of consecutive loud chunks that confirm
	// a barge-in.
	RequiredCount int `toml:"required_count" json:"required_count"`

	// Cooldown keeps the gate closed after the assistant stops speaking to
	// absorb the reverberation tail.
	Cooldown time.Duration `toml:"cooldown" json:"cooldown"`
}

// DefaultGateConfig returns the default gating parameters.
func DefaultGateConfig() GateConfig {
	return GateConfig{
		Threshold:     0.15,
		RequiredCount: 3,
		Cooldown:      500 * time.Millisecond,
	}
}

// Validate checks that the configuration is usable.
func (c GateConfig) Validate() error {
	if c.Threshold <= 0 || c.Threshold > 1 {
		return fmt.Errorf("gate threshold must be in (0, 1], got %v", c.Threshold)
	}
	if c.RequiredCount < 1 {
		return fmt.Errorf("gate required_count must be at least 1, got %d", c.RequiredCount)
	}
	if c.Cooldown < 0 {
		return fmt.Errorf("gate cooldown must not be negative, got %v", c.Cooldown)
	}
	return nil
}

// Gate suppresses microphone audio while the assistant is speaking so its
// own voice does not leak back into the input. It has no device dependency.
type Gate struct {
	cfg GateConfig
	now func() time.Time

	mu            sync.Mutex
	speaking      bool
	cooldownUntil time.Time
	loud          int
}

// NewGate creates a gate. A nil now uses time.Now.
func NewGate(cfg GateConfig, now func() time.Time) *Gate {
	if now == nil {
		now = time.Now
	}
	if cfg.RequiredCount < 1 {
		cfg.RequiredCount = 1
	}
	return &Gate{cfg: cfg, now: now}
}

// SetAISpeaking closes the gate while the assistant speaks. Clearing it
// starts the cooldown window.
func (g *Gate) SetAISpeaking(speaking bool) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if speaking {
		g.speaking = true
		g.cooldownUntil = time.Time{}
		return
	}
	if g.speaking {
		g.cooldownUntil = g.now().Add(g.cfg.Cooldown)
	}
	g.speaking = false
	g.loud = 0
}

// Closed reports whether chunks are currently being gated.
func (g *Gate) Closed() bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	return g.closedLocked()
}

func (g *Gate) closedLocked() bool {
	return g.speaking || g.now().Before(g.cooldownUntil)
}

// Admit decides what happens to a chunk with the given level.
func (g *Gate) Admit(level float64) Decision {
	g.mu.Lock()
	defer g.mu.Unlock()

	if !g.closedLocked() {
		g.loud = 0
		return Forward
	}

	if level < g.cfg.Threshold {
		g.loud = 0
		return Drop
	}

	g.loud++
	if g.loud < g.cfg.RequiredCount {
		return Drop
	}

	g.speaking = false
	g.cooldownUntil = time.Time{}
	g.loud = 0
	return BargeIn
}

// Reset opens the gate and clears all counters.
func (g *Gate) Reset() {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.speaking = false
	g.cooldownUntil = time.Time{}
	g.loud = 0
}

// Config returns the gate configuration.
func (g *Gate) Config() GateConfig {
	return g.cfg
}
