// Package engine is the simulator's step loop: the single piece of code
// that owns the event queue, the virtual clock, the network model, the
// PRNG stream, and the observability log, and drives node instances
// through them one event at a time. Nothing else in this module advances
// simulated time or invokes a node handler. Construction uses the
// functional-options shape; crash/recovery bookkeeping lives alongside the
// node registry.
package engine

import (
	"fmt"
	"log/slog"

	"distsim/internal/check"
	"distsim/internal/eventqueue"
	"distsim/internal/message"
	"distsim/internal/netmodel"
	"distsim/internal/node"
	"distsim/internal/observability"
	"distsim/internal/prng"
	"distsim/internal/simclock"
)

// nodeEntry is everything the engine keeps about one registered node.
type nodeEntry struct {
	factory  node.Factory
	ctorArgs any
	seed     int64
	instance node.Instance
	crashed  bool
}

// Engine is one deterministic simulation: a clock, an event queue, a network
// model, a PRNG stream, an observability log, and a set of node instances.
// It is not safe for concurrent use from multiple goroutines — the engine is
// the serialization point for a single run.
type Engine struct {
	seed int64
	rng  *prng.Stream

	clock *simclock.Clock
	net   *netmodel.Model
	queue *eventqueue.Queue
	obs   *observability.Observability

	nodes map[string]*nodeEntry

	log *slog.Logger
}

// Option configures an Engine at construction.
type Option func(*Engine)

// WithLogger overrides the engine's logger (default: slog.Default()).
func WithLogger(l *slog.Logger) Option {
	return func(e *Engine) { e.log = l }
}

// New creates an Engine seeded with seed. seed is the sole source of
// randomness for the engine itself and is also handed, unmodified, to every
// node factory Build call: node-internal randomness shares the engine's
// seed so a run is reproducible end to end.
func New(seed int64, opts ...Option) *Engine {
	e := &Engine{
		seed:  seed,
		rng:   prng.New(seed),
		clock: simclock.New(),
		net:   netmodel.New(),
		queue: eventqueue.New(),
		obs:   observability.New(),
		nodes: make(map[string]*nodeEntry),
		log:   slog.Default(),
	}
	for _, opt := range opts {
		opt(e)
	}
	return e
}

// Network returns the engine's network model, for scenario setup
// (SetDelays, DisconnectNode, MakePartition, and so on).
func (e *Engine) Network() *netmodel.Model {
	check.Assert(e != nil, "engine.Engine.Network: receiver must not be nil")
	return e.net
}

// Observability returns the engine's read-only observation surface.
func (e *Engine) Observability() *observability.Observability {
	check.Assert(e != nil, "engine.Engine.Observability: receiver must not be nil")
	return e.obs
}

// Clock returns the engine's virtual clock.
func (e *Engine) Clock() *simclock.Clock {
	check.Assert(e != nil, "engine.Engine.Clock: receiver must not be nil")
	return e.clock
}

// Rand returns the engine's own PRNG stream, for scenario code that needs to
// draw from the same deterministic source the engine uses internally (e.g.
// to pick which node to inject local input into next).
func (e *Engine) Rand() *prng.Stream {
	check.Assert(e != nil, "engine.Engine.Rand: receiver must not be nil")
	return e.rng
}

// AddNode constructs a fresh instance for id via factory and registers it.
// Re-adding an id that already exists models recovery (a node may be
// recreated under the same id after a crash) and starts a new incarnation:
// any pending events still addressed to the old instance are dropped first,
// and the observability log for id is reset, since the log is a record of
// one incarnation's handler invocations, not of the id across its whole
// lifetime.
func (e *Engine) AddNode(id string, factory node.Factory, ctorArgs any) error {
	check.Assert(e != nil, "engine.Engine.AddNode: receiver must not be nil")
	check.Assertf(id != "", "engine.Engine.AddNode: id must not be empty")
	check.Assert(factory != nil, "engine.Engine.AddNode: factory must not be nil")

	if _, exists := e.nodes[id]; exists {
		e.queue.DropTarget(id)
	}

	inst, err := factory.Build(id, ctorArgs, e.seed)
	if err != nil {
		return fmt.Errorf("engine: build node %q: %w", id, err)
	}

	e.nodes[id] = &nodeEntry{factory: factory, ctorArgs: ctorArgs, seed: e.seed, instance: inst}
	e.obs.AddNode(id)
	return nil
}

// SetClockSkew fixes id's additive clock skew for its current incarnation.
func (e *Engine) SetClockSkew(id string, skew float64) {
	check.Assert(e != nil, "engine.Engine.SetClockSkew: receiver must not be nil")
	e.clock.SetSkew(id, skew)
}

// SetMemoryProbeFreq configures the max-size sampling frequency for id.
func (e *Engine) SetMemoryProbeFreq(id string, freq uint64) {
	check.Assert(e != nil, "engine.Engine.SetMemoryProbeFreq: receiver must not be nil")
	e.obs.SetMaxSizeFreq(id, freq)
}

// CrashNode marks id crashed (terminal for this incarnation) and silently
// drops every event already queued for it.
func (e *Engine) CrashNode(id string) error {
	check.Assert(e != nil, "engine.Engine.CrashNode: receiver must not be nil")
	entry, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("engine: crash unknown node %q", id)
	}
	entry.crashed = true
	e.queue.DropTarget(id)
	e.obs.MarkCrashed(id)
	return nil
}

// RecoverNode is AddNode under another name for the common case where the
// caller wants to make the "this call models a recovery" intent explicit at
// the call site; behavior is identical.
func (e *Engine) RecoverNode(id string, factory node.Factory, ctorArgs any) error {
	check.Assert(e != nil, "engine.Engine.RecoverNode: receiver must not be nil")
	return e.AddNode(id, factory, ctorArgs)
}

// NodeIDs returns every node id ever registered, in construction order.
func (e *Engine) NodeIDs() []string {
	check.Assert(e != nil, "engine.Engine.NodeIDs: receiver must not be nil")
	return e.obs.GetNodeIDs()
}

// SendLocal injects m into id as a local input: it is appended to id's
// observability log and dispatched synchronously, with no effect on
// simulated time (local input injection does not advance the clock).
func (e *Engine) SendLocal(id string, m message.Envelope) error {
	check.Assert(e != nil, "engine.Engine.SendLocal: receiver must not be nil")
	entry, ok := e.nodes[id]
	if !ok {
		return fmt.Errorf("engine: send local to unknown node %q", id)
	}
	if entry.crashed {
		return nil
	}
	e.obs.AppendLocal(id, message.LocalEvent{Kind: message.LocalInput, Time: e.clock.LocalTime(id), Message: m})
	em, err := entry.instance.ReceiveLocal(m)
	if err != nil {
		return fmt.Errorf("engine: node %q ReceiveLocal: %w", id, err)
	}
	e.obs.TickMemory(id, entry.instance)
	return e.processEmissions(id, em)
}

// Step pops and processes the single next-due event. ran is false if the
// queue was empty. An event addressed to a node that has since crashed is
// silently discarded without invoking any handler.
func (e *Engine) Step() (ran bool, err error) {
	check.Assert(e != nil, "engine.Engine.Step: receiver must not be nil")
	ev, ok := e.queue.Pop()
	if !ok {
		return false, nil
	}
	e.clock.Advance(ev.DeliverAt)
	if err := e.dispatch(ev); err != nil {
		return true, err
	}
	return true, nil
}

// dispatch handles one popped event: it re-checks connectivity for
// NetworkDeliver (the "late disconnect" rule: a message already in flight
// when its destination disconnects is still discarded at delivery time, even
// though the drop/duplicate roll already happened at send time), then
// invokes the appropriate handler if the target is alive.
func (e *Engine) dispatch(ev eventqueue.Event) error {
	entry, ok := e.nodes[ev.Target]
	if !ok || entry.crashed {
		return nil
	}

	var (
		em  node.Emissions
		err error
	)
	switch ev.Kind {
	case eventqueue.NetworkDeliver:
		if e.net.BlockedAtDelivery(ev.Source, ev.Target) {
			return nil
		}
		m, _ := ev.Message.(message.Envelope)
		e.obs.RecordReceive(ev.Target)
		em, err = entry.instance.ReceiveMessage(ev.Source, m)
	case eventqueue.TimerFire:
		em, err = entry.instance.ReceiveTimer(ev.TimerName)
	case eventqueue.LocalInject:
		m, _ := ev.Message.(message.Envelope)
		e.obs.AppendLocal(ev.Target, message.LocalEvent{Kind: message.LocalInput, Time: e.clock.LocalTime(ev.Target), Message: m})
		em, err = entry.instance.ReceiveLocal(m)
	default:
		check.Assertf(false, "engine: unknown event kind %d", ev.Kind)
	}
	if err != nil {
		return fmt.Errorf("engine: node %q handler: %w", ev.Target, err)
	}
	e.obs.TickMemory(ev.Target, entry.instance)
	return e.processEmissions(ev.Target, em)
}

// processEmissions applies one handler invocation's effects: timers are
// armed or cancelled against the event queue, outbound messages run the
// send-time network decision, and local outputs are appended to the
// log.
func (e *Engine) processEmissions(id string, em node.Emissions) error {
	for _, name := range em.CancelTimers {
		e.queue.RemoveTimer(id, name)
	}
	for _, t := range em.SetTimers {
		// Setting a timer under a name that is already pending replaces it:
		// the old firing never happens.
		e.queue.RemoveTimer(id, t.Name)
		e.queue.Push(eventqueue.Event{
			DeliverAt: e.clock.Now() + t.Delay,
			Kind:      eventqueue.TimerFire,
			Target:    id,
			TimerName: t.Name,
		})
	}
	for _, out := range em.Outbound {
		if err := e.send(id, out.Dst, out.Message); err != nil {
			return err
		}
	}
	for _, lo := range em.LocalOutputs {
		e.obs.AppendLocal(id, message.LocalEvent{Kind: message.LocalOutput, Time: e.clock.LocalTime(id), Message: lo})
	}
	return nil
}

// send runs the wire model for one attempted send: a connectivity check
// against the network model, then the drop/delay/duplicate roll, in that
// fixed order. A send blocked by connectivity or discarded by the drop roll
// is silent: it is never counted and never reaches the event queue.
func (e *Engine) send(src, dst string, m message.Envelope) error {
	if _, ok := e.nodes[dst]; !ok {
		return fmt.Errorf("engine: send from %q to unknown node %q", src, dst)
	}
	if e.net.Blocked(src, dst) {
		return nil
	}
	dec := e.net.Decide(e.rng)
	if dec.Dropped {
		return nil
	}

	e.obs.RecordSend(src, len(m.Payload))
	e.queue.Push(eventqueue.Event{
		DeliverAt: e.clock.Now() + dec.Delay,
		Kind:      eventqueue.NetworkDeliver,
		Source:    src,
		Target:    dst,
		Message:   m,
	})
	if dec.Dup {
		e.obs.RecordSend(src, len(m.Payload))
		e.queue.Push(eventqueue.Event{
			DeliverAt: e.clock.Now() + dec.DupDelay,
			Kind:      eventqueue.NetworkDeliver,
			Source:    src,
			Target:    dst,
			Message:   m,
		})
	}
	return nil
}
