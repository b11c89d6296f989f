package broadcast

import (
	"distsim/internal/message"
	"distsim/internal/node"
)

// floodNode is the simplest reliable-broadcast implementation: on SEND,
// deliver locally and relay to every peer; on receiving a relayed message
// for the first time, deliver locally and relay onward. Exactly the
// textbook "eager reliable broadcast" construction this harness is meant to
// validate implementations of.
type floodNode struct {
	id    string
	peers []string
	seen  map[string]bool
}

func (n *floodNode) deliver(text string) node.Emissions {
	if n.seen[text] {
		return node.Emissions{}
	}
	n.seen[text] = true
	em := node.Emissions{LocalOutputs: []message.Envelope{message.MustNew("DELIVER", textPayload{Text: text})}}
	for _, p := range n.peers {
		if p == n.id {
			continue
		}
		em.Outbound = append(em.Outbound, node.Outbound{Dst: p, Message: message.MustNew("RELAY", textPayload{Text: text})})
	}
	return em
}

func (n *floodNode) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	var p textPayload
	if err := m.Decode(&p); err != nil {
		return node.Emissions{}, nil
	}
	return n.deliver(p.Text), nil
}

func (n *floodNode) ReceiveTimer(name string) (node.Emissions, error) {
	return node.Emissions{}, nil
}

func (n *floodNode) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	var p textPayload
	if err := m.Decode(&p); err != nil {
		return node.Emissions{}, nil
	}
	return n.deliver(p.Text), nil
}

// FloodFactory builds the reference flood-broadcast fixture above.
var FloodFactory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
	args, _ := ctorArgs.(broadcastCtorArgs)
	return &floodNode{id: id, peers: args.Peers, seen: make(map[string]bool)}, nil
})
