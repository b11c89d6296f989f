// Package sharding implements the key-value sharding test harness:
// GET/PUT/DELETE correctness, single ownership of each key, balanced
// distribution (within 10% of the per-node target), and low migration cost
// on membership change (moved keys within 10% of the theoretical optimum).
//
// COUNT_RECORDS/DUMP_KEYS polling drives a stabilization loop that repeats
// bounded step runs until every node's record count stops changing and the
// sum matches the expected total; single-ownership and balance are checked
// within a 10% deviation bound, alongside a moved-keys-vs-target
// migration-efficiency predicate.
package sharding

import (
	"distsim/internal/engine"
	"distsim/internal/errclass"
	"distsim/internal/message"
	"distsim/internal/node"
)

type (
	getPayload struct {
		Key string `json:"key"`
	}
	getRespPayload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
		Found bool   `json:"found"`
	}
	putPayload struct {
		Key   string `json:"key"`
		Value string `json:"value"`
	}
	deletePayload struct {
		Key string `json:"key"`
	}
	dumpKeysRespPayload struct {
		Keys []string `json:"keys"`
	}
	countRecordsRespPayload struct {
		Count uint64 `json:"count"`
	}
	nodeChangePayload struct {
		ID string `json:"id"`
	}
)

// BuildNodes constructs one instance per id in nodeIDs, with ctor_args
// (id, nodeIDs) so each node knows the full ring membership up front.
func BuildNodes(e *engine.Engine, factory node.Factory, nodeIDs []string) error {
	for _, id := range nodeIDs {
		if err := e.AddNode(id, factory, shardCtorArgs{ID: id, Peers: nodeIDs}); err != nil {
			return err
		}
	}
	return nil
}

type shardCtorArgs struct {
	ID    string
	Peers []string
}

// Get sends GET{key} to node and waits (bounded to 100 steps, matching the
// original harness's step_until_local_message_max_steps) for GET_RESP.
func Get(e *engine.Engine, node, key string) (value string, found bool, err error) {
	if err := e.SendLocal(node, message.MustNew("GET", getPayload{Key: key})); err != nil {
		return "", false, err
	}
	if err := e.StepUntilLocalMessageMaxSteps(node, 100); err != nil {
		return "", false, errclass.Failf("GET_RESP not returned by %q: %v", node, err)
	}
	var p getRespPayload
	if err := lastReply(e, node, "GET_RESP", &p); err != nil {
		return "", false, err
	}
	return p.Value, p.Found, nil
}

// Put sends PUT{key,value} to node and waits for PUT_RESP.
func Put(e *engine.Engine, node, key, value string) error {
	if err := e.SendLocal(node, message.MustNew("PUT", putPayload{Key: key, Value: value})); err != nil {
		return err
	}
	if err := e.StepUntilLocalMessageMaxSteps(node, 100); err != nil {
		return errclass.Failf("PUT_RESP not returned by %q: %v", node, err)
	}
	return lastReply(e, node, "PUT_RESP", &struct{}{})
}

// Delete sends DELETE{key} to node and waits for DELETE_RESP.
func Delete(e *engine.Engine, node, key string) error {
	if err := e.SendLocal(node, message.MustNew("DELETE", deletePayload{Key: key})); err != nil {
		return err
	}
	if err := e.StepUntilLocalMessageMaxSteps(node, 100); err != nil {
		return errclass.Failf("DELETE_RESP not returned by %q: %v", node, err)
	}
	return lastReply(e, node, "DELETE_RESP", &struct{}{})
}

// DumpKeys sends DUMP_KEYS{} to node and returns its reported key set.
func DumpKeys(e *engine.Engine, node string) ([]string, error) {
	if err := e.SendLocal(node, message.MustNew("DUMP_KEYS", struct{}{})); err != nil {
		return nil, err
	}
	if err := e.StepUntilLocalMessageMaxSteps(node, 100); err != nil {
		return nil, errclass.Failf("DUMP_KEYS_RESP not returned by %q: %v", node, err)
	}
	var p dumpKeysRespPayload
	if err := lastReply(e, node, "DUMP_KEYS_RESP", &p); err != nil {
		return nil, err
	}
	return p.Keys, nil
}

// CountRecords sends COUNT_RECORDS{} to node and returns its reported count.
func CountRecords(e *engine.Engine, node string) (uint64, error) {
	if err := e.SendLocal(node, message.MustNew("COUNT_RECORDS", struct{}{})); err != nil {
		return 0, err
	}
	if err := e.StepUntilLocalMessageMaxSteps(node, 100); err != nil {
		return 0, errclass.Failf("COUNT_RECORDS_RESP not returned by %q: %v", node, err)
	}
	var p countRecordsRespPayload
	if err := lastReply(e, node, "COUNT_RECORDS_RESP", &p); err != nil {
		return 0, err
	}
	return p.Count, nil
}

// BroadcastNodeAdded tells every node in nodeIDs that added has joined.
func BroadcastNodeAdded(e *engine.Engine, nodeIDs []string, added string) error {
	for _, id := range nodeIDs {
		if err := e.SendLocal(id, message.MustNew("NODE_ADDED", nodeChangePayload{ID: added})); err != nil {
			return err
		}
	}
	return nil
}

// BroadcastNodeRemoved tells every node in nodeIDs that removed has left.
func BroadcastNodeRemoved(e *engine.Engine, nodeIDs []string, removed string) error {
	for _, id := range nodeIDs {
		if err := e.SendLocal(id, message.MustNew("NODE_REMOVED", nodeChangePayload{ID: removed})); err != nil {
			return err
		}
	}
	return nil
}

func lastReply(e *engine.Engine, node, wantKind string, into any) error {
	events := e.Observability().GetLocalEvents(node)
	last := events[len(events)-1]
	if last.Message.Kind != wantKind {
		return errclass.Failf("node %q replied with kind %q, want %q", node, last.Message.Kind, wantKind)
	}
	return last.Message.Decode(into)
}
