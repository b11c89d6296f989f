// Package eventqueue is the deterministic priority queue of pending
// simulator events. Every pop is the smallest (deliver_at, sequence) pair;
// sequence is assigned monotonically at insertion so ties in deliver_at
// always break by insertion order. Do not trust container/heap's iteration
// order for anything but the documented Pop semantics — the explicit
// sequence field is what makes tie-breaking a pure function of the queue's
// contents, independent of the underlying heap implementation.
package eventqueue

import (
	"container/heap"

	"distsim/internal/check"
)

// Kind distinguishes the three event shapes the engine schedules.
type Kind int

const (
	// NetworkDeliver is a message arriving at a node.
	NetworkDeliver Kind = iota
	// TimerFire is a previously-armed timer expiring.
	TimerFire
	// LocalInject is a scheduled local input injection. The engine
	// dispatches one if queued, but nothing in this module enqueues one:
	// harnesses inject local input synchronously via engine.SendLocal.
	LocalInject
)

// Event is one pending occurrence in the simulator. Sequence doubles as the
// delivery-attempt identifier: it is unique and monotone across the whole
// run, so no separate field is needed.
type Event struct {
	DeliverAt float64
	Sequence  uint64
	Kind      Kind
	Source    string // empty for TimerFire/LocalInject
	Target    string
	TimerName string // set only for Kind == TimerFire
	Message   any    // set only for Kind == NetworkDeliver/LocalInject; typically message.Envelope
}

// Queue is a time-ordered, tie-broken priority queue of Events.
type Queue struct {
	h       innerHeap
	nextSeq uint64
}

// New creates an empty Queue.
func New() *Queue {
	return &Queue{}
}

// Len reports the number of pending events.
func (q *Queue) Len() int {
	check.Assert(q != nil, "eventqueue.Queue.Len: receiver must not be nil")
	return len(q.h)
}

// Push enqueues ev, assigning it the next monotone sequence number, and
// returns that sequence number (doubles as the event's delivery-attempt
// identifier; also used by tests asserting insertion order).
func (q *Queue) Push(ev Event) uint64 {
	check.Assert(q != nil, "eventqueue.Queue.Push: receiver must not be nil")
	ev.Sequence = q.nextSeq
	q.nextSeq++
	heap.Push(&q.h, ev)
	return ev.Sequence
}

// Pop removes and returns the event with the smallest (DeliverAt, Sequence)
// key. ok is false if the queue is empty.
func (q *Queue) Pop() (Event, bool) {
	check.Assert(q != nil, "eventqueue.Queue.Pop: receiver must not be nil")
	if len(q.h) == 0 {
		return Event{}, false
	}
	ev := heap.Pop(&q.h).(Event)
	return ev, true
}

// PeekDeliverAt returns the DeliverAt of the next event without removing it.
// ok is false if the queue is empty.
func (q *Queue) PeekDeliverAt() (float64, bool) {
	check.Assert(q != nil, "eventqueue.Queue.PeekDeliverAt: receiver must not be nil")
	if len(q.h) == 0 {
		return 0, false
	}
	return q.h[0].DeliverAt, true
}

// RemoveTimer removes any pending TimerFire event for (node, name), used to
// implement timer replacement and explicit cancel_timers. Returns true if an
// event was removed.
func (q *Queue) RemoveTimer(node, name string) bool {
	check.Assert(q != nil, "eventqueue.Queue.RemoveTimer: receiver must not be nil")
	for i, ev := range q.h {
		if ev.Kind == TimerFire && ev.Target == node && ev.TimerName == name {
			heap.Remove(&q.h, i)
			return true
		}
	}
	return false
}

// DropTarget removes every pending event addressed to node, used when a node
// crashes: pending events already targeting it are silently dropped.
func (q *Queue) DropTarget(node string) int {
	check.Assert(q != nil, "eventqueue.Queue.DropTarget: receiver must not be nil")
	dropped := 0
	kept := q.h[:0:0]
	for _, ev := range q.h {
		if ev.Target == node {
			dropped++
			continue
		}
		kept = append(kept, ev)
	}
	q.h = kept
	heap.Init(&q.h)
	return dropped
}

// innerHeap implements container/heap.Interface over Events, ordered by
// (DeliverAt, Sequence) lexicographically.
type innerHeap []Event

func (h innerHeap) Len() int { return len(h) }

func (h innerHeap) Less(i, j int) bool {
	if h[i].DeliverAt != h[j].DeliverAt {
		return h[i].DeliverAt < h[j].DeliverAt
	}
	return h[i].Sequence < h[j].Sequence
}

func (h innerHeap) Swap(i, j int) { h[i], h[j] = h[j], h[i] }

func (h *innerHeap) Push(x any) {
	*h = append(*h, x.(Event))
}

func (h *innerHeap) Pop() any {
	old := *h
	n := len(old)
	ev := old[n-1]
	*h = old[:n-1]
	return ev
}
