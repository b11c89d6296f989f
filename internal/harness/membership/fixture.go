package membership

import (
	"math/rand"
	"sort"

	"distsim/internal/message"
	"distsim/internal/node"
)

// gossipPayload carries one anti-entropy round: the sender's view of who is
// a member and who has explicitly left (a tombstone, so a LEAVE
// announcement cannot be undone by a stale GOSSIP from a node that hasn't
// heard it yet).
type gossipPayload struct {
	Members []string `json:"members"`
	Left    []string `json:"left"`
}

// gossipNode is a minimal anti-entropy membership protocol: JOIN seeds the
// local view from one known peer and arms a recurring gossip timer; each
// tick, the node relays its view to one peer drawn from its own node-local
// PRNG (seeded from the shared construction seed, per the node-adapter
// contract, never from OS entropy); LEAVE tombstones the node and gossips
// once more before going quiet.
type gossipNode struct {
	id      string
	members map[string]bool
	left    map[string]bool
	rng     *rand.Rand
	departed bool
}

const gossipInterval = 1.0

func (n *gossipNode) peers() []string {
	out := make([]string, 0, len(n.members))
	for id := range n.members {
		if id != n.id && !n.left[id] {
			out = append(out, id)
		}
	}
	sort.Strings(out)
	return out
}

func (n *gossipNode) gossipTo(dst string) node.Outbound {
	members := make([]string, 0, len(n.members))
	for id := range n.members {
		members = append(members, id)
	}
	left := make([]string, 0, len(n.left))
	for id := range n.left {
		left = append(left, id)
	}
	sort.Strings(members)
	sort.Strings(left)
	return node.Outbound{Dst: dst, Message: message.MustNew("GOSSIP", gossipPayload{Members: members, Left: left})}
}

func (n *gossipNode) merge(p gossipPayload) {
	for _, id := range p.Left {
		n.left[id] = true
		delete(n.members, id)
	}
	for _, id := range p.Members {
		if !n.left[id] {
			n.members[id] = true
		}
	}
}

func (n *gossipNode) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	if m.Kind != "GOSSIP" {
		return node.Emissions{}, nil
	}
	var p gossipPayload
	if err := m.Decode(&p); err != nil {
		return node.Emissions{}, nil
	}
	n.merge(p)
	return node.Emissions{}, nil
}

func (n *gossipNode) ReceiveTimer(name string) (node.Emissions, error) {
	if name != "gossip" || n.departed {
		return node.Emissions{}, nil
	}
	peers := n.peers()
	var em node.Emissions
	if len(peers) > 0 {
		target := peers[n.rng.Intn(len(peers))]
		em.Outbound = []node.Outbound{n.gossipTo(target)}
	}
	em.SetTimers = []node.TimerSet{{Name: "gossip", Delay: gossipInterval}}
	return em, nil
}

func (n *gossipNode) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	switch m.Kind {
	case "JOIN":
		var p struct {
			Seed string `json:"seed"`
		}
		_ = m.Decode(&p)
		n.members[n.id] = true
		if p.Seed != "" && p.Seed != n.id {
			n.members[p.Seed] = true
		}
		return node.Emissions{SetTimers: []node.TimerSet{{Name: "gossip", Delay: gossipInterval}}}, nil

	case "LEAVE":
		n.departed = true
		n.left[n.id] = true
		em := node.Emissions{CancelTimers: []string{"gossip"}}
		for _, p := range n.peers() {
			em.Outbound = append(em.Outbound, n.gossipTo(p))
		}
		return em, nil

	case "GET_MEMBERS":
		out := n.peers()
		if !n.departed {
			out = append(out, n.id)
			sort.Strings(out)
		}
		return node.Emissions{LocalOutputs: []message.Envelope{message.MustNew("MEMBERS", membersPayload{Members: out})}}, nil
	}
	return node.Emissions{}, nil
}

// GossipFactory builds the reference anti-entropy gossip fixture above.
var GossipFactory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
	return &gossipNode{
		id:      id,
		members: make(map[string]bool),
		left:    make(map[string]bool),
		rng:     rand.New(rand.NewSource(seed)),
	}, nil
})
