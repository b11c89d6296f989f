// Package node defines the adapter boundary through which the engine drives
// an externally-supplied node implementation.
// The boundary is intentionally opaque: a NodeInstance may be backed by
// native Go code linked directly into the process (any Go type implementing
// Instance, wrapped by a Factory), or by a process running inside a container and
// driven over attached stdio (distsim/internal/adapter/containerbridge).
// The engine only ever talks to the Instance interface below.
package node

import (
	"distsim/internal/message"
)

// Outbound is one message a handler invocation wants delivered to dst.
type Outbound struct {
	Dst     string
	Message message.Envelope
}

// TimerSet arms or replaces a timer named Name to fire after Delay simulated
// seconds.
type TimerSet struct {
	Name  string
	Delay float64
}

// Emissions is the batch of effects one handler invocation produces. A
// well-formed node implementation may leave any field nil/empty; the
// engine never assumes a non-empty shape.
type Emissions struct {
	Outbound     []Outbound
	SetTimers    []TimerSet
	CancelTimers []string
	LocalOutputs []message.Envelope
}

// Instance is the capability surface a single running node exposes. All
// three receive methods are called by the engine only between step-loop
// suspension points; the engine never invokes a second method on the same
// Instance while a prior call is in progress — single-threaded,
// non-reentrant.
type Instance interface {
	// ReceiveMessage handles a message arriving from src.
	ReceiveMessage(src string, m message.Envelope) (Emissions, error)
	// ReceiveTimer handles a previously armed timer named name firing.
	ReceiveTimer(name string) (Emissions, error)
	// ReceiveLocal handles a local input injected by the harness.
	ReceiveLocal(m message.Envelope) (Emissions, error)
}

// MemoryProber is optionally implemented by an Instance that can report its
// own approximate memory footprint; used by the max-size probe.
type MemoryProber interface {
	SnapshotMemory() uint64
}

// Factory builds a fresh Instance for a node id. ctorArgs is a small,
// protocol-specific tuple fixed per harness (e.g. peer ids for the
// broadcast harness); seed is shared with the engine so node-internal
// randomness (if any) is also deterministic — implementations should derive
// any internal PRNG only from this seed, never from OS entropy: the
// engine's prng.Stream is the sole source of non-determinism for the
// simulator itself, but a node implementation is free to run its own PRNG
// as long as it is seeded this way.
type Factory interface {
	Build(id string, ctorArgs any, seed int64) (Instance, error)
}

// FactoryFunc adapts a plain function to Factory.
type FactoryFunc func(id string, ctorArgs any, seed int64) (Instance, error)

// Build implements Factory.
func (f FactoryFunc) Build(id string, ctorArgs any, seed int64) (Instance, error) {
	return f(id, ctorArgs, seed)
}
