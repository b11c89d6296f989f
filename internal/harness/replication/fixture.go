package replication

import (
	"strconv"

	"distsim/internal/message"
	"distsim/internal/node"
)

const handoffInterval = 2.0

type replicaPutPayload struct {
	Key     string `json:"key"`
	ReqID   int    `json:"req_id"`
	Value   string `json:"value,omitempty"`
	Clock   string `json:"clock,omitempty"`
	Cart    string `json:"cart,omitempty"`
	ForNode string `json:"for_node,omitempty"` // set when this is a hinted (sloppy) write
}

type replicaPutAck struct {
	Key   string `json:"key"`
	ReqID int    `json:"req_id"`
}

type replicaGetPayload struct {
	Key   string `json:"key"`
	ReqID int    `json:"req_id"`
}

type replicaGetReply struct {
	Key    string        `json:"key"`
	ReqID  int           `json:"req_id"`
	Plain  []siblingWire `json:"plain,omitempty"`
	Cart   string        `json:"cart,omitempty"`
	IsCart bool          `json:"is_cart"`
}

type siblingWire struct {
	Value string `json:"value"`
	Clock string `json:"clock"`
}

type handoffPayload struct {
	Key    string        `json:"key"`
	Plain  []siblingWire `json:"plain,omitempty"`
	Cart   string        `json:"cart,omitempty"`
	IsCart bool          `json:"is_cart"`
}

// record is what a node stores locally for one key: either plain
// version-vector siblings, or a cart CRDT state.
type record struct {
	isCart bool
	sibs   []sibling
	cart   cartState
}

// pendingOp tracks one in-flight client GET/PUT this node is coordinating.
type pendingOp struct {
	isPut       bool
	key         string
	quorum      int
	acksFrom    map[string]bool
	gotPlain    []sibling
	gotCart     cartState
	writeValue  string
	writeValues []string // for cart keys: the client's desired item list
}

// replicationNode is the reference coordinator-and-replica implementation:
// any node accepts a local GET/PUT for any key and acts as coordinator,
// fanning out to the key's natural replicas plus a couple of sloppy
// fallback candidates so a temporarily unreachable replica doesn't block
// quorum; a fallback that accepts a write on another replica's behalf keeps
// it as a hint, serves it to reads, and hands it off to that replica on a
// recurring timer (a hint is dropped once sent, whether or not it arrives).
type replicationNode struct {
	id      string
	ring    []string
	store   map[string]record
	hints   map[string]map[string]record // key -> intended owner -> record
	pending map[int]*pendingOp
	nextReq int
	tagSeq  int
}

func (n *replicationNode) tag() string {
	n.tagSeq++
	return n.id + ":" + strconv.Itoa(n.tagSeq)
}

// candidates returns key's natural replicas followed by up to two sloppy
// fallback nodes, so quorum can still be met when a replica is unreachable.
func (n *replicationNode) candidates(key string) []string {
	replicas := KeyReplicas(key, n.ring)
	rest := KeyNonReplicas(key, n.ring)
	slack := 2
	if slack > len(rest) {
		slack = len(rest)
	}
	return append(append([]string(nil), replicas...), rest[:slack]...)
}

func (n *replicationNode) handleReplicaPut(src string, p replicaPutPayload) node.Emissions {
	if p.ForNode != "" && p.ForNode != n.id {
		if n.hints[p.Key] == nil {
			n.hints[p.Key] = map[string]record{}
		}
		hr := n.hints[p.Key][p.ForNode]
		n.mergeInto(&hr, p)
		n.hints[p.Key][p.ForNode] = hr
	} else {
		rec := n.store[p.Key]
		n.mergeInto(&rec, p)
		n.store[p.Key] = rec
	}
	ack := message.MustNew("REPLICA_PUT_ACK", replicaPutAck{Key: p.Key, ReqID: p.ReqID})
	em := node.Emissions{Outbound: []node.Outbound{{Dst: src, Message: ack}}}
	if p.ForNode != "" && p.ForNode != n.id {
		em.SetTimers = []node.TimerSet{{Name: "handoff", Delay: handoffInterval}}
	}
	return em
}

func (n *replicationNode) mergeInto(rec *record, p replicaPutPayload) {
	if IsCartKey(p.Key) || IsXCartKey(p.Key) {
		if rec.cart.Tags == nil {
			*rec = record{isCart: true, cart: newCartState()}
		}
		rec.cart = mergeCart(rec.cart, decodeCart(p.Cart))
		return
	}
	rec.sibs = reconcile(rec.sibs, sibling{Value: p.Value, Clock: decodeClock(p.Clock)})
}

func (n *replicationNode) handleReplicaGet(src string, p replicaGetPayload) node.Emissions {
	rec := n.store[p.Key]
	sibs, cart := rec.sibs, rec.cart
	for _, hr := range n.hints[p.Key] {
		sibs = mergeSiblingSets(sibs, hr.sibs)
		cart = mergeCart(cart, hr.cart)
	}
	reply := replicaGetReply{Key: p.Key, ReqID: p.ReqID}
	if IsCartKey(p.Key) || IsXCartKey(p.Key) {
		reply.IsCart = true
		reply.Cart = cart.encode()
	} else {
		for _, s := range sibs {
			reply.Plain = append(reply.Plain, siblingWire{Value: s.Value, Clock: s.Clock.encode()})
		}
	}
	return node.Emissions{Outbound: []node.Outbound{{Dst: src, Message: message.MustNew("REPLICA_GET_REPLY", reply)}}}
}

func (n *replicationNode) handleReplicaPutAck(src string, ack replicaPutAck) node.Emissions {
	op, ok := n.pending[ack.ReqID]
	if !ok || !op.isPut {
		return node.Emissions{}
	}
	op.acksFrom[src] = true
	if len(op.acksFrom) < op.quorum {
		return node.Emissions{}
	}
	delete(n.pending, ack.ReqID)
	if IsCartKey(op.key) || IsXCartKey(op.key) {
		resp := message.MustNew("PUT_RESP", putRespPayload{Key: op.key, Values: []string{joinCartValue(op.writeValues)}})
		return node.Emissions{LocalOutputs: []message.Envelope{resp}}
	}
	resp := message.MustNew("PUT_RESP", putRespPayload{Key: op.key, Values: []string{op.writeValue}})
	return node.Emissions{LocalOutputs: []message.Envelope{resp}}
}

func (n *replicationNode) handleReplicaGetReply(src string, reply replicaGetReply) node.Emissions {
	op, ok := n.pending[reply.ReqID]
	if !ok || op.isPut {
		return node.Emissions{}
	}
	if reply.IsCart {
		op.gotCart = mergeCart(op.gotCart, decodeCart(reply.Cart))
	} else {
		var sibs []sibling
		for _, w := range reply.Plain {
			sibs = append(sibs, sibling{Value: w.Value, Clock: decodeClock(w.Clock)})
		}
		op.gotPlain = mergeSiblingSets(op.gotPlain, sibs)
	}
	op.acksFrom[src] = true
	if len(op.acksFrom) < op.quorum {
		return node.Emissions{}
	}
	delete(n.pending, reply.ReqID)
	if IsCartKey(op.key) || IsXCartKey(op.key) {
		items := op.gotCart.items()
		// carts round-trip as a single comma-joined value, like the app
		// layer's own serialization, not one sibling per item; the context
		// a client hands back on its next PUT is that same item list, so
		// applyCartWrite can tell a real removal from an item it never saw.
		joined := joinCartValue(items)
		resp := getRespPayload{Key: op.key, Values: []string{joined}, Context: joined}
		return node.Emissions{LocalOutputs: []message.Envelope{message.MustNew("GET_RESP", resp)}}
	}
	resp := getRespPayload{Key: op.key, Values: siblingValues(op.gotPlain), Context: combinedContext(op.gotPlain).encode()}
	return node.Emissions{LocalOutputs: []message.Envelope{message.MustNew("GET_RESP", resp)}}
}

func (n *replicationNode) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	switch m.Kind {
	case "REPLICA_PUT":
		var p replicaPutPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		return n.handleReplicaPut(src, p), nil
	case "REPLICA_PUT_ACK":
		var a replicaPutAck
		if err := m.Decode(&a); err != nil {
			return node.Emissions{}, nil
		}
		return n.handleReplicaPutAck(src, a), nil
	case "REPLICA_GET":
		var p replicaGetPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		return n.handleReplicaGet(src, p), nil
	case "REPLICA_GET_REPLY":
		var r replicaGetReply
		if err := m.Decode(&r); err != nil {
			return node.Emissions{}, nil
		}
		return n.handleReplicaGetReply(src, r), nil
	case "HANDOFF":
		var p handoffPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		rec := n.store[p.Key]
		if p.IsCart {
			if rec.cart.Tags == nil {
				rec = record{isCart: true, cart: newCartState()}
			}
			rec.cart = mergeCart(rec.cart, decodeCart(p.Cart))
		} else {
			for _, w := range p.Plain {
				rec.sibs = reconcile(rec.sibs, sibling{Value: w.Value, Clock: decodeClock(w.Clock)})
			}
		}
		n.store[p.Key] = rec
		return node.Emissions{}, nil
	}
	return node.Emissions{}, nil
}

func (n *replicationNode) ReceiveTimer(name string) (node.Emissions, error) {
	if name != "handoff" {
		return node.Emissions{}, nil
	}
	var em node.Emissions
	for key, byOwner := range n.hints {
		for owner, rec := range byOwner {
			payload := handoffPayload{Key: key, IsCart: rec.isCart}
			if rec.isCart {
				payload.Cart = rec.cart.encode()
			} else {
				for _, s := range rec.sibs {
					payload.Plain = append(payload.Plain, siblingWire{Value: s.Value, Clock: s.Clock.encode()})
				}
			}
			em.Outbound = append(em.Outbound, node.Outbound{Dst: owner, Message: message.MustNew("HANDOFF", payload)})
			delete(byOwner, owner)
		}
		if len(byOwner) == 0 {
			delete(n.hints, key)
		}
	}
	em.SetTimers = []node.TimerSet{{Name: "handoff", Delay: handoffInterval}}
	return em, nil
}

func (n *replicationNode) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	switch m.Kind {
	case "GET":
		var p getPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		candidates := n.candidates(p.Key)
		reqID := n.nextReq
		n.nextReq++
		n.pending[reqID] = &pendingOp{key: p.Key, quorum: p.Quorum, acksFrom: map[string]bool{}}

		var em node.Emissions
		for _, c := range candidates {
			msg := message.MustNew("REPLICA_GET", replicaGetPayload{Key: p.Key, ReqID: reqID})
			em.Outbound = append(em.Outbound, node.Outbound{Dst: c, Message: msg})
		}
		return em, nil

	case "PUT":
		var p putPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		candidates := n.candidates(p.Key)
		replicas := KeyReplicas(p.Key, n.ring)
		isReplica := make(map[string]bool, len(replicas))
		for _, r := range replicas {
			isReplica[r] = true
		}

		reqID := n.nextReq
		n.nextReq++
		op := &pendingOp{isPut: true, key: p.Key, quorum: p.Quorum, acksFrom: map[string]bool{}, writeValue: p.Value}
		n.pending[reqID] = op

		var cart string
		var clock vclock
		if IsCartKey(p.Key) || IsXCartKey(p.Key) {
			priorView := splitCartValue(p.Context)
			want := splitCartValue(p.Value)
			op.writeValues = want
			cart = applyCartWrite(newCartState(), priorView, want, IsXCartKey(p.Key), n.tag).encode()
		} else {
			clock = decodeClock(p.Context).clone()
			clock[n.id]++
		}

		var em node.Emissions
		for _, c := range candidates {
			pp := replicaPutPayload{Key: p.Key, ReqID: reqID, Value: p.Value, Cart: cart}
			if clock != nil {
				pp.Clock = clock.encode()
			}
			if !isReplica[c] && len(replicas) > 0 {
				pp.ForNode = replicas[0]
			}
			em.Outbound = append(em.Outbound, node.Outbound{Dst: c, Message: message.MustNew("REPLICA_PUT", pp)})
		}
		return em, nil
	}
	return node.Emissions{}, nil
}

// Factory builds the reference quorum-replica coordinator fixture above.
var Factory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
	args, _ := ctorArgs.(replicationCtorArgs)
	return &replicationNode{
		id:      id,
		ring:    args.Peers,
		store:   map[string]record{},
		hints:   map[string]map[string]record{},
		pending: map[int]*pendingOp{},
	}, nil
})
