// Package broadcast implements the reliable-broadcast test harness:
// no-creation, no-duplication, validity, uniform-agreement, and
// causal-order over arbitrary interleavings of sends, crashes, partitions,
// and recoveries among N nodes.
//
// The five predicates below work entirely off each node's local event log:
// whether a LocalEvent was an input (the node being told to broadcast) or
// an output (the node delivering a message), and the "text" payload field
// of each. CheckAll never inspects the broadcast message's envelope kind.
package broadcast

import (
	"distsim/internal/engine"
	"distsim/internal/errclass"
	"distsim/internal/message"
	"distsim/internal/node"
)

type textPayload struct {
	Text string `json:"text"`
}

// BuildNodes constructs one instance per id in nodeIDs, each with ctor_args
// (id, nodeIDs) — the full peer set, as the original harness's BroadcastNode
// ctor_args shape requires.
func BuildNodes(e *engine.Engine, factory node.Factory, nodeIDs []string) error {
	for _, id := range nodeIDs {
		if err := e.AddNode(id, factory, broadcastCtorArgs{ID: id, Peers: nodeIDs}); err != nil {
			return err
		}
	}
	return nil
}

type broadcastCtorArgs struct {
	ID    string
	Peers []string
}

// Send injects a SEND local input carrying text into node id, asking it to
// broadcast text to the group.
func Send(e *engine.Engine, id, text string) error {
	return e.SendLocal(id, message.MustNew("SEND", textPayload{Text: text}))
}

// RecoverNode rebuilds a crashed node with the same ctor_args (id, full peer
// set) it was originally constructed with, as the original harness's
// recover_node operation does.
func RecoverNode(e *engine.Engine, factory node.Factory, id string, nodeIDs []string) error {
	return e.RecoverNode(id, factory, broadcastCtorArgs{ID: id, Peers: nodeIDs})
}

// history is one node's combined, chronologically-ordered view of messages
// it was asked to send and messages it delivered — the sequence the
// original harness builds per node to compute causal "past" sets.
type history struct {
	sent      []string // texts this node was asked to broadcast, send order
	delivered []string // texts this node delivered, delivery order
	combined  []string // sent and delivered texts interleaved in event order
}

func collectHistories(e *engine.Engine, nodeIDs []string) map[string]history {
	out := make(map[string]history, len(nodeIDs))
	for _, id := range nodeIDs {
		var h history
		for _, ev := range e.Observability().GetLocalEvents(id) {
			var p textPayload
			if err := ev.Message.Decode(&p); err != nil {
				continue
			}
			h.combined = append(h.combined, p.Text)
			if ev.Kind == message.LocalInput {
				h.sent = append(h.sent, p.Text)
			} else {
				h.delivered = append(h.delivered, p.Text)
			}
		}
		out[id] = h
	}
	return out
}

// CheckAll runs every broadcast predicate over the current observation log
// and returns the first violation found, or nil if all five hold.
func CheckAll(e *engine.Engine, nodeIDs []string) error {
	histories := collectHistories(e, nodeIDs)

	allSent := make(map[string]bool)
	allDelivered := make(map[string]bool)
	for _, h := range histories {
		for _, m := range h.sent {
			allSent[m] = true
		}
		for _, m := range h.delivered {
			allDelivered[m] = true
		}
	}

	if err := checkNoDuplication(histories); err != nil {
		return err
	}
	if err := checkNoCreation(histories, allSent); err != nil {
		return err
	}
	if err := checkValidity(e, histories); err != nil {
		return err
	}
	if err := checkUniformAgreement(e, nodeIDs, histories, allDelivered); err != nil {
		return err
	}
	if err := checkCausalOrder(e, nodeIDs, histories, allDelivered); err != nil {
		return err
	}
	return nil
}

func checkNoDuplication(histories map[string]history) error {
	for id, h := range histories {
		seen := make(map[string]bool)
		for _, m := range h.delivered {
			if seen[m] {
				return errclass.Failf("node %q delivered %q more than once", id, m)
			}
			seen[m] = true
		}
	}
	return nil
}

func checkNoCreation(histories map[string]history, allSent map[string]bool) error {
	for id, h := range histories {
		for _, m := range h.delivered {
			if !allSent[m] {
				return errclass.Failf("node %q delivered %q, which was never sent by any node", id, m)
			}
		}
	}
	return nil
}

func checkValidity(e *engine.Engine, histories map[string]history) error {
	for id, h := range histories {
		if e.Observability().NodeIsCrashed(id) {
			continue
		}
		delivered := make(map[string]bool)
		for _, m := range h.delivered {
			delivered[m] = true
		}
		for _, m := range h.sent {
			if !delivered[m] {
				return errclass.Failf("node %q never delivered its own message %q", id, m)
			}
		}
	}
	return nil
}

func checkUniformAgreement(e *engine.Engine, nodeIDs []string, histories map[string]history, allDelivered map[string]bool) error {
	for m := range allDelivered {
		for _, id := range nodeIDs {
			if e.Observability().NodeIsCrashed(id) {
				continue
			}
			delivered := false
			for _, d := range histories[id].delivered {
				if d == m {
					delivered = true
					break
				}
			}
			if !delivered {
				return errclass.Failf("message %q delivered somewhere but not by correct node %q", m, id)
			}
		}
	}
	return nil
}

// pastBefore returns the set of texts appearing in seq strictly before the
// first occurrence of target.
func pastBefore(seq []string, target string) map[string]bool {
	past := make(map[string]bool)
	for _, e := range seq {
		if e == target {
			break
		}
		past[e] = true
	}
	return past
}

func checkCausalOrder(e *engine.Engine, nodeIDs []string, histories map[string]history, allDelivered map[string]bool) error {
	for src, h := range histories {
		for _, m := range h.sent {
			if !allDelivered[m] {
				continue
			}
			srcPast := pastBefore(h.combined, m)
			for _, dst := range nodeIDs {
				if e.Observability().NodeIsCrashed(dst) {
					continue
				}
				dstPast := pastBefore(histories[dst].delivered, m)
				for p := range srcPast {
					if !dstPast[p] {
						return errclass.Failf("causal order violation: %q delivered %q before %q from %q", dst, m, p, src)
					}
				}
			}
		}
	}
	return nil
}
