package sharding

import (
	"hash/fnv"
	"sort"

	"distsim/internal/message"
	"distsim/internal/node"
)

// owner computes the deterministic target node for key under the given
// (sorted) peer list: FNV-1a of the key modulo the peer count. This is a
// plain modulo scheme, not consistent hashing: adding or removing one peer
// reassigns most keys, not only those of the changed peer, so migration
// after a membership change exceeds CheckMovedKeys's 10% bound.
func owner(key string, peers []string) string {
	h := fnv.New64a()
	_, _ = h.Write([]byte(key))
	return peers[h.Sum64()%uint64(len(peers))]
}

type migratePayload struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

type forwardPayload struct {
	ReqID int    `json:"req_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
}

type forwardRespPayload struct {
	ReqID int    `json:"req_id"`
	Key   string `json:"key"`
	Value string `json:"value"`
	Found bool   `json:"found"`
}

type pendingRequest struct {
	origKind string
	key      string
}

// shardNode is the reference single-replica sharding implementation: each
// node keeps its own copy of the peer list and a local key/value store.
// GET/PUT/DELETE for a key this node doesn't own are forwarded over the
// network to whichever node does; NODE_ADDED/NODE_REMOVED rehash the local
// store against the new peer list and migrate any keys that changed owner.
type shardNode struct {
	id      string
	peers   []string
	store   map[string]string
	pending map[int]pendingRequest
	nextReq int
}

func (n *shardNode) setPeers(peers []string) {
	cp := append([]string(nil), peers...)
	sort.Strings(cp)
	n.peers = cp
}

func (n *shardNode) addPeer(id string) {
	for _, p := range n.peers {
		if p == id {
			return
		}
	}
	n.peers = append(n.peers, id)
	sort.Strings(n.peers)
}

func (n *shardNode) removePeer(id string) {
	out := n.peers[:0:0]
	for _, p := range n.peers {
		if p != id {
			out = append(out, p)
		}
	}
	n.peers = out
}

// rehome migrates every locally stored key that no longer hashes to this
// node under the current peer list.
func (n *shardNode) rehome() node.Emissions {
	var em node.Emissions
	if len(n.peers) == 0 {
		return em
	}
	for k, v := range n.store {
		target := owner(k, n.peers)
		if target == n.id {
			continue
		}
		em.Outbound = append(em.Outbound, node.Outbound{Dst: target, Message: message.MustNew("MIGRATE", migratePayload{Key: k, Value: v})})
		delete(n.store, k)
	}
	return em
}

func (n *shardNode) ReceiveMessage(src string, m message.Envelope) (node.Emissions, error) {
	switch m.Kind {
	case "MIGRATE":
		var p migratePayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		n.store[p.Key] = p.Value
		return node.Emissions{}, nil

	case "FORWARD_GET":
		var p forwardPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		v, found := n.store[p.Key]
		resp := message.MustNew("FORWARD_RESP", forwardRespPayload{ReqID: p.ReqID, Key: p.Key, Value: v, Found: found})
		return node.Emissions{Outbound: []node.Outbound{{Dst: src, Message: resp}}}, nil

	case "FORWARD_PUT":
		var p forwardPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		n.store[p.Key] = p.Value
		resp := message.MustNew("FORWARD_RESP", forwardRespPayload{ReqID: p.ReqID, Key: p.Key, Value: p.Value, Found: true})
		return node.Emissions{Outbound: []node.Outbound{{Dst: src, Message: resp}}}, nil

	case "FORWARD_DELETE":
		var p forwardPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		v, found := n.store[p.Key]
		delete(n.store, p.Key)
		resp := message.MustNew("FORWARD_RESP", forwardRespPayload{ReqID: p.ReqID, Key: p.Key, Value: v, Found: found})
		return node.Emissions{Outbound: []node.Outbound{{Dst: src, Message: resp}}}, nil

	case "FORWARD_RESP":
		var p forwardRespPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		req, ok := n.pending[p.ReqID]
		if !ok {
			return node.Emissions{}, nil
		}
		delete(n.pending, p.ReqID)
		switch req.origKind {
		case "GET":
			out := message.MustNew("GET_RESP", getRespPayload{Key: p.Key, Value: p.Value, Found: p.Found})
			return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil
		case "PUT":
			out := message.MustNew("PUT_RESP", struct {
				Key string `json:"key"`
			}{Key: p.Key})
			return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil
		case "DELETE":
			out := message.MustNew("DELETE_RESP", struct {
				Key   string `json:"key"`
				Found bool   `json:"found"`
			}{Key: p.Key, Found: p.Found})
			return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil
		}
		return node.Emissions{}, nil
	}
	return node.Emissions{}, nil
}

func (n *shardNode) ReceiveTimer(name string) (node.Emissions, error) {
	return node.Emissions{}, nil
}

func (n *shardNode) forward(kind, key, value string) node.Emissions {
	target := owner(key, n.peers)
	reqID := n.nextReq
	n.nextReq++
	n.pending[reqID] = pendingRequest{origKind: kind, key: key}
	fwdKind := "FORWARD_" + kind
	msg := message.MustNew(fwdKind, forwardPayload{ReqID: reqID, Key: key, Value: value})
	return node.Emissions{Outbound: []node.Outbound{{Dst: target, Message: msg}}}
}

func (n *shardNode) ReceiveLocal(m message.Envelope) (node.Emissions, error) {
	switch m.Kind {
	case "GET":
		var p getPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		if owner(p.Key, n.peers) != n.id {
			return n.forward("GET", p.Key, ""), nil
		}
		v, found := n.store[p.Key]
		out := message.MustNew("GET_RESP", getRespPayload{Key: p.Key, Value: v, Found: found})
		return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil

	case "PUT":
		var p putPayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		if owner(p.Key, n.peers) != n.id {
			return n.forward("PUT", p.Key, p.Value), nil
		}
		n.store[p.Key] = p.Value
		out := message.MustNew("PUT_RESP", struct {
			Key string `json:"key"`
		}{Key: p.Key})
		return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil

	case "DELETE":
		var p deletePayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		if owner(p.Key, n.peers) != n.id {
			return n.forward("DELETE", p.Key, ""), nil
		}
		_, found := n.store[p.Key]
		delete(n.store, p.Key)
		out := message.MustNew("DELETE_RESP", struct {
			Key   string `json:"key"`
			Found bool   `json:"found"`
		}{Key: p.Key, Found: found})
		return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil

	case "DUMP_KEYS":
		keys := make([]string, 0, len(n.store))
		for k := range n.store {
			keys = append(keys, k)
		}
		sort.Strings(keys)
		out := message.MustNew("DUMP_KEYS_RESP", dumpKeysRespPayload{Keys: keys})
		return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil

	case "COUNT_RECORDS":
		out := message.MustNew("COUNT_RECORDS_RESP", countRecordsRespPayload{Count: uint64(len(n.store))})
		return node.Emissions{LocalOutputs: []message.Envelope{out}}, nil

	case "NODE_ADDED":
		var p nodeChangePayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		n.addPeer(p.ID)
		return n.rehome(), nil

	case "NODE_REMOVED":
		var p nodeChangePayload
		if err := m.Decode(&p); err != nil {
			return node.Emissions{}, nil
		}
		if p.ID == n.id {
			// this node is leaving the ring. Drop itself from its own peer
			// list first so rehome sends every key it holds to whichever
			// remaining node now owns it, then go inactive.
			n.removePeer(p.ID)
			em := n.rehome()
			n.peers = nil
			return em, nil
		}
		n.removePeer(p.ID)
		return n.rehome(), nil
	}
	return node.Emissions{}, nil
}

// ShardFactory builds the reference forwarding sharding fixture above.
var ShardFactory = node.FactoryFunc(func(id string, ctorArgs any, seed int64) (node.Instance, error) {
	args, _ := ctorArgs.(shardCtorArgs)
	n := &shardNode{id: id, store: make(map[string]string), pending: make(map[int]pendingRequest)}
	n.setPeers(args.Peers)
	return n, nil
})
