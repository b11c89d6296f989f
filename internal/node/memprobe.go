package node

import "distsim/internal/check"

// MemoryTracker implements the max-size probe: every Freq handler
// invocations it records a memory snapshot via the Instance's optional
// MemoryProber, and it queryably remembers the maximum value observed.
// A Freq of 0 disables sampling (the zero value is a no-op tracker).
type MemoryTracker struct {
	freq        uint64
	invocations uint64
	max         uint64
}

// SetFreq configures the sampling frequency: a snapshot is taken on every
// Freq-th invocation (the engine calls Tick once per handler invocation).
func (t *MemoryTracker) SetFreq(freq uint64) {
	check.Assert(t != nil, "node.MemoryTracker.SetFreq: receiver must not be nil")
	t.freq = freq
}

// Tick is called once per handler invocation; it samples memory when due.
func (t *MemoryTracker) Tick(inst Instance) {
	check.Assert(t != nil, "node.MemoryTracker.Tick: receiver must not be nil")
	if t.freq == 0 {
		return
	}
	t.invocations++
	if t.invocations%t.freq != 0 {
		return
	}
	prober, ok := inst.(MemoryProber)
	if !ok {
		return
	}
	if v := prober.SnapshotMemory(); v > t.max {
		t.max = v
	}
}

// Max returns the largest memory snapshot observed so far.
func (t *MemoryTracker) Max() uint64 {
	check.Assert(t != nil, "node.MemoryTracker.Max: receiver must not be nil")
	return t.max
}
