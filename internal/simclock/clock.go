// Package simclock is the simulator's virtual clock: a nonnegative real
// advancing only when the engine pops an event, plus a fixed additive skew
// per node.
package simclock

import (
	"sync"

	"distsim/internal/check"
)

// Clock is the engine-owned virtual clock. It is not safe for concurrent
// mutation from multiple goroutines — the engine is single-threaded — but
// reads are protected so observers (harness predicates, telemetry) can poll
// it without racing the step loop.
type Clock struct {
	mu   sync.RWMutex
	now  float64
	skew map[string]float64
}

// New creates a Clock starting at simulated time zero.
func New() *Clock {
	return &Clock{skew: make(map[string]float64)}
}

// Now returns the current simulated time.
func (c *Clock) Now() float64 {
	check.Assert(c != nil, "simclock.Clock.Now: receiver must not be nil")
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.now
}

// Advance moves the clock forward to t. t must be >= Now(); the engine never
// moves time backward.
func (c *Clock) Advance(t float64) {
	check.Assert(c != nil, "simclock.Clock.Advance: receiver must not be nil")
	c.mu.Lock()
	defer c.mu.Unlock()
	if t > c.now {
		c.now = t
	}
}

// SetSkew fixes the additive clock skew for a node for its entire lifetime.
// Called once at node construction; re-setting a skew for the same id
// changes what future LocalTime observes for that id (used only across a
// crash/recovery cycle, never mid-lifetime).
func (c *Clock) SetSkew(nodeID string, skew float64) {
	check.Assert(c != nil, "simclock.Clock.SetSkew: receiver must not be nil")
	c.mu.Lock()
	defer c.mu.Unlock()
	c.skew[nodeID] = skew
}

// Skew returns the configured skew for nodeID, or 0 if none was set.
func (c *Clock) Skew(nodeID string) float64 {
	check.Assert(c != nil, "simclock.Clock.Skew: receiver must not be nil")
	c.mu.RLock()
	defer c.mu.RUnlock()
	return c.skew[nodeID]
}

// LocalTime returns now() + skew(nodeID) — what the node's adapter observes
// when it reads "local time".
func (c *Clock) LocalTime(nodeID string) float64 {
	check.Assert(c != nil, "simclock.Clock.LocalTime: receiver must not be nil")
	return c.Now() + c.Skew(nodeID)
}
