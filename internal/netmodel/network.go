// Package netmodel is the simulator's per-link delay/drop/duplication model
// and connectivity state: global defaults, disconnects, asymmetric
// incoming/outgoing blocking, directed link disables, and partitions. It
// owns no clock and no event queue — the engine calls Decide once per
// attempted send and BlockedAtDelivery once more immediately before dispatch,
// threading both results through its own prng.Stream and eventqueue.Queue
// so draws happen in a fixed, reproducible order.
package netmodel

import (
	"sync"

	"distsim/internal/check"
	"distsim/internal/prng"
)

type link struct{ src, dst string }

// Model holds the network-wide configuration and connectivity state shared
// by all nodes in one engine instance. It is an engine-owned struct, never a
// singleton, so multiple independent engines can coexist in one address
// space.
type Model struct {
	mu sync.Mutex

	delayMin float64
	delayMax float64
	pinned   bool // set_delay was called; delayMin==delayMax==pinned value
	dropRate float64
	duplRate float64

	disconnected map[string]bool
	outBlocked   map[string]bool
	inBlocked    map[string]bool
	disabled     map[link]bool
}

// New creates a Model with reliable defaults: zero delay, zero drop, zero
// duplication, no connectivity restrictions.
func New() *Model {
	return &Model{
		disconnected: make(map[string]bool),
		outBlocked:   make(map[string]bool),
		inBlocked:    make(map[string]bool),
		disabled:     make(map[link]bool),
	}
}

// SetDelays configures a uniform delay range [min, max) for future sends.
func (m *Model) SetDelays(min, max float64) {
	check.Assert(m != nil, "netmodel.Model.SetDelays: receiver must not be nil")
	check.Assertf(min >= 0 && max >= min, "netmodel.Model.SetDelays: invalid range [%v, %v)", min, max)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayMin, m.delayMax, m.pinned = min, max, false
}

// SetDelay pins every future send to a constant delay d.
func (m *Model) SetDelay(d float64) {
	check.Assert(m != nil, "netmodel.Model.SetDelay: receiver must not be nil")
	check.Assertf(d >= 0, "netmodel.Model.SetDelay: delay must be >= 0, got %v", d)
	m.mu.Lock()
	defer m.mu.Unlock()
	m.delayMin, m.delayMax, m.pinned = d, d, true
}

// SetDropRate sets the probability, in [0, 1], that an attempted send is
// discarded at the wire.
func (m *Model) SetDropRate(p float64) {
	check.Assert(m != nil, "netmodel.Model.SetDropRate: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.dropRate = clamp01(p)
}

// SetDuplRate sets the probability, in [0, 1], that an attempted send also
// produces an independently-delayed duplicate.
func (m *Model) SetDuplRate(p float64) {
	check.Assert(m != nil, "netmodel.Model.SetDuplRate: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.duplRate = clamp01(p)
}

// DisconnectNode discards all future messages to or from id until
// ConnectNode restores it.
func (m *Model) DisconnectNode(id string) {
	check.Assert(m != nil, "netmodel.Model.DisconnectNode: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected[id] = true
}

// ConnectNode restores bidirectional delivery for id.
func (m *Model) ConnectNode(id string) {
	check.Assert(m != nil, "netmodel.Model.ConnectNode: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.disconnected, id)
}

// DropIncoming blocks delivery of messages arriving at id, while id can
// still send.
func (m *Model) DropIncoming(id string) {
	check.Assert(m != nil, "netmodel.Model.DropIncoming: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.inBlocked[id] = true
}

// PassIncoming undoes DropIncoming.
func (m *Model) PassIncoming(id string) {
	check.Assert(m != nil, "netmodel.Model.PassIncoming: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.inBlocked, id)
}

// DropOutgoing blocks id from sending, while id can still receive.
func (m *Model) DropOutgoing(id string) {
	check.Assert(m != nil, "netmodel.Model.DropOutgoing: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.outBlocked[id] = true
}

// PassOutgoing undoes DropOutgoing.
func (m *Model) PassOutgoing(id string) {
	check.Assert(m != nil, "netmodel.Model.PassOutgoing: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.outBlocked, id)
}

// DisableLink blocks one directed link (src -> dst); the reverse direction
// is unaffected.
func (m *Model) DisableLink(src, dst string) {
	check.Assert(m != nil, "netmodel.Model.DisableLink: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disabled[link{src, dst}] = true
}

// EnableLink reverses a previous DisableLink for the directed pair.
func (m *Model) EnableLink(src, dst string) {
	check.Assert(m != nil, "netmodel.Model.EnableLink: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.disabled, link{src, dst})
}

// MakePartition disables every link crossing the two groups, in both
// directions.
func (m *Model) MakePartition(groupA, groupB []string) {
	check.Assert(m != nil, "netmodel.Model.MakePartition: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	for _, a := range groupA {
		for _, b := range groupB {
			m.disabled[link{a, b}] = true
			m.disabled[link{b, a}] = true
		}
	}
}

// ResetNetwork clears every partition, disconnect, asymmetric block, and
// disabled link, restoring full connectivity. Delay/drop/duplication rate
// configuration is untouched.
func (m *Model) ResetNetwork() {
	check.Assert(m != nil, "netmodel.Model.ResetNetwork: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	m.disconnected = make(map[string]bool)
	m.outBlocked = make(map[string]bool)
	m.inBlocked = make(map[string]bool)
	m.disabled = make(map[link]bool)
}

// Blocked reports whether a message from src to dst is currently discarded
// for connectivity reasons (disconnect, asymmetric block, or disabled
// link) — independent of the per-send drop-rate coin flip. The engine calls
// this at send time, evaluating both src's and dst's side of
// the link since the message has not left src yet.
func (m *Model) Blocked(src, dst string) bool {
	check.Assert(m != nil, "netmodel.Model.Blocked: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected[src] || m.disconnected[dst] {
		return true
	}
	if m.outBlocked[src] || m.inBlocked[dst] {
		return true
	}
	if m.disabled[link{src, dst}] {
		return true
	}
	return false
}

// BlockedAtDelivery reports whether a message already in flight from src to
// dst should be discarded at dispatch time. This
// recheck is narrower than Blocked: it only evaluates dst's side of the
// link — dst's incoming block, dst's disconnect, and the directed
// src->dst link disable — because by dispatch time the message has already
// left src; src going on to disconnect or block its outgoing traffic after
// that point has no bearing on a message already in the network. This is
// what lets a "late disconnect" of dst discard an in-flight message while a
// late disconnect of src (which already sent) does not.
func (m *Model) BlockedAtDelivery(src, dst string) bool {
	check.Assert(m != nil, "netmodel.Model.BlockedAtDelivery: receiver must not be nil")
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.disconnected[dst] {
		return true
	}
	if m.inBlocked[dst] {
		return true
	}
	if m.disabled[link{src, dst}] {
		return true
	}
	return false
}

// Decision is the outcome of one attempted send's wire-level roll.
// Blocked sends never reach Decide (the engine checks Blocked
// first); Decide only ever evaluates the drop/delay/duplicate roll.
type Decision struct {
	Dropped  bool
	Delay    float64
	Dup      bool
	DupDelay float64
}

// Decide draws the send-time drop/delay/duplicate decision for one attempted
// send, consuming rng in the fixed order: drop coin, delay, duplicate coin,
// duplicate delay. Reordering these draws breaks run-to-run reproducibility
// for any existing recorded trace.
func (m *Model) Decide(rng *prng.Stream) Decision {
	check.Assert(m != nil, "netmodel.Model.Decide: receiver must not be nil")
	check.Assert(rng != nil, "netmodel.Model.Decide: rng must not be nil")

	m.mu.Lock()
	dropRate, duplRate, delayMin, delayMax := m.dropRate, m.duplRate, m.delayMin, m.delayMax
	m.mu.Unlock()

	if rng.Float64() < dropRate {
		return Decision{Dropped: true}
	}

	delay := m.drawDelay(rng, delayMin, delayMax)

	dec := Decision{Delay: delay}
	if rng.Float64() < duplRate {
		dec.Dup = true
		dec.DupDelay = m.drawDelay(rng, delayMin, delayMax)
	}
	return dec
}

func (m *Model) drawDelay(rng *prng.Stream, lo, hi float64) float64 {
	if hi <= lo {
		return lo
	}
	return rng.Float64Range(lo, hi)
}

func clamp01(p float64) float64 {
	if p < 0 {
		return 0
	}
	if p > 1 {
		return 1
	}
	return p
}
