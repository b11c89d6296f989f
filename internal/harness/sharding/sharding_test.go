package sharding_test

import (
	"fmt"
	"testing"

	"distsim/internal/engine"
	"distsim/internal/harness/sharding"
)

func nodeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("n%d", i)
	}
	return ids
}

func putAll(t *testing.T, e *engine.Engine, entry string, kv map[string]string) {
	t.Helper()
	for k, v := range kv {
		if err := sharding.Put(e, entry, k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
}

func TestGetPutDeleteRoundTripThroughAnyEntryNode(t *testing.T) {
	e := engine.New(1)
	ids := nodeIDs(5)
	if err := sharding.BuildNodes(e, sharding.ShardFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	if err := sharding.Put(e, "n0", "alpha", "1"); err != nil {
		t.Fatalf("Put: %v", err)
	}
	v, found, err := sharding.Get(e, "n3", "alpha")
	if err != nil {
		t.Fatalf("Get: %v", err)
	}
	if !found || v != "1" {
		t.Fatalf("Get(alpha) via n3 = (%q, %v), want (1, true)", v, found)
	}
	if err := sharding.Delete(e, "n1", "alpha"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if _, found, err := sharding.Get(e, "n2", "alpha"); err != nil {
		t.Fatalf("Get after delete: %v", err)
	} else if found {
		t.Fatalf("Get(alpha) after delete still found")
	}
}

func TestKeysAreSingleOwnedAndBalancedAcrossFiveNodes(t *testing.T) {
	e := engine.New(2)
	ids := nodeIDs(5)
	if err := sharding.BuildNodes(e, sharding.ShardFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	expected := make([]string, 0, 200)
	values := make(map[string]string, 200)
	for i := 0; i < 200; i++ {
		k := fmt.Sprintf("KEY%03d", i)
		v := fmt.Sprintf("val%d", i)
		expected = append(expected, k)
		values[k] = v
		if err := sharding.Put(e, ids[i%len(ids)], k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	if err := sharding.StepUntilStabilized(e, ids, uint64(len(expected)), 2000); err != nil {
		t.Fatalf("StepUntilStabilized: %v", err)
	}
	ownership, err := sharding.CollectOwnership(e, ids)
	if err != nil {
		t.Fatalf("CollectOwnership: %v", err)
	}
	if err := sharding.CheckSingleOwnership(e, ownership, expected, values); err != nil {
		t.Fatalf("CheckSingleOwnership: %v", err)
	}
	if err := sharding.CheckBalance(ownership, len(expected)); err != nil {
		t.Fatalf("CheckBalance: %v", err)
	}
}

func TestNodeRemovedRedistributesKeysWithBoundedMovement(t *testing.T) {
	e := engine.New(3)
	ids := nodeIDs(10)
	if err := sharding.BuildNodes(e, sharding.ShardFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	expected := make([]string, 0, 100)
	values := make(map[string]string, 100)
	for i := 0; i < 100; i++ {
		k := fmt.Sprintf("K%03d", i)
		v := fmt.Sprintf("v%d", i)
		expected = append(expected, k)
		values[k] = v
		if err := sharding.Put(e, ids[i%len(ids)], k, v); err != nil {
			t.Fatalf("Put(%s): %v", k, err)
		}
	}
	if err := sharding.StepUntilStabilized(e, ids, uint64(len(expected)), 2000); err != nil {
		t.Fatalf("StepUntilStabilized (initial): %v", err)
	}
	before, err := sharding.CollectOwnership(e, ids)
	if err != nil {
		t.Fatalf("CollectOwnership (before): %v", err)
	}

	removed := "n3"
	if err := sharding.BroadcastNodeRemoved(e, ids, removed); err != nil {
		t.Fatalf("BroadcastNodeRemoved: %v", err)
	}
	survivors := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != removed {
			survivors = append(survivors, id)
		}
	}
	if err := sharding.StepUntilStabilized(e, survivors, uint64(len(expected)), 2000); err != nil {
		t.Fatalf("StepUntilStabilized (after remove): %v", err)
	}

	after, err := sharding.CollectOwnership(e, survivors)
	if err != nil {
		t.Fatalf("CollectOwnership (after): %v", err)
	}
	if err := sharding.CheckSingleOwnership(e, after, expected, values); err != nil {
		t.Fatalf("CheckSingleOwnership (after remove): %v", err)
	}
	if err := sharding.CheckMovedKeys(before, after, len(survivors)); err != nil {
		t.Fatalf("CheckMovedKeys: %v", err)
	}
}
