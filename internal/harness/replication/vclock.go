package replication

import (
	"encoding/json"
	"sort"
)

// vclock is a per-replica write counter: vclock[id] is the number of writes
// replica id has coordinated that are reflected in this clock.
type vclock map[string]uint64

func decodeClock(s string) vclock {
	if s == "" {
		return vclock{}
	}
	var v vclock
	if err := json.Unmarshal([]byte(s), &v); err != nil {
		return vclock{}
	}
	return v
}

func (c vclock) encode() string {
	buf, _ := json.Marshal(c)
	return string(buf)
}

func (c vclock) clone() vclock {
	out := make(vclock, len(c))
	for k, v := range c {
		out[k] = v
	}
	return out
}

// dominates reports whether c causally supersedes other: c >= other in
// every component, and strictly greater in at least one.
func (c vclock) dominates(other vclock) bool {
	strictlyGreater := false
	for k, v := range other {
		if c[k] < v {
			return false
		}
		if c[k] > v {
			strictlyGreater = true
		}
	}
	for k, v := range c {
		if v > other[k] {
			strictlyGreater = true
		}
	}
	return strictlyGreater || len(c) > 0 && len(other) == 0
}

// concurrent reports whether neither clock dominates the other (true
// conflicting siblings requiring client-side reconciliation).
func (c vclock) concurrent(other vclock) bool {
	return !c.dominates(other) && !other.dominates(c) && !equalClock(c, other)
}

func equalClock(a, b vclock) bool {
	if len(a) != len(b) {
		return false
	}
	for k, v := range a {
		if b[k] != v {
			return false
		}
	}
	return true
}

// merge returns the component-wise max of c and other, the "combined
// context" a multi-sibling GET response hands back to the client so its
// next PUT causally dominates everything it read.
func merge(c, other vclock) vclock {
	out := make(vclock, len(c)+len(other))
	for k, v := range c {
		out[k] = v
	}
	for k, v := range other {
		if v > out[k] {
			out[k] = v
		}
	}
	return out
}

// sibling is one causally-independent value for a key.
type sibling struct {
	Value string
	Clock vclock
}

// reconcile folds an incoming (value, clock) write into an existing sibling
// set: any existing sibling dominated by the incoming clock is dropped, and
// the incoming value is added unless some existing sibling already
// dominates it (a stale/duplicate write).
func reconcile(existing []sibling, incoming sibling) []sibling {
	out := make([]sibling, 0, len(existing)+1)
	dominated := false
	for _, s := range existing {
		if incoming.Clock.dominates(s.Clock) {
			continue
		}
		if s.Clock.dominates(incoming.Clock) || equalClock(s.Clock, incoming.Clock) {
			dominated = true
		}
		out = append(out, s)
	}
	if !dominated {
		out = append(out, incoming)
	}
	return out
}

// mergeSiblingSets unions two sibling sets, dropping any sibling dominated
// by another sibling present in the union.
func mergeSiblingSets(a, b []sibling) []sibling {
	out := append([]sibling(nil), a...)
	for _, s := range b {
		out = reconcile(out, s)
	}
	return out
}

func siblingValues(sibs []sibling) []string {
	out := make([]string, 0, len(sibs))
	for _, s := range sibs {
		out = append(out, s.Value)
	}
	sort.Strings(out)
	return out
}

func combinedContext(sibs []sibling) vclock {
	out := vclock{}
	for _, s := range sibs {
		out = merge(out, s.Clock)
	}
	return out
}
