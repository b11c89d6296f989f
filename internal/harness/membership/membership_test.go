package membership_test

import (
	"fmt"
	"testing"

	"distsim/internal/engine"
	"distsim/internal/harness/membership"
)

func nodeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	return ids
}

func TestGroupStabilizesAfterAllJoin(t *testing.T) {
	e := engine.New(1)
	ids := nodeIDs(5)
	if err := membership.BuildNodes(e, membership.GossipFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	for i, id := range ids {
		seed := id
		if i > 0 {
			seed = ids[0]
		}
		if err := membership.Join(e, id, seed); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}
	if err := membership.StabilizeUntilConverged(e, ids); err != nil {
		t.Fatalf("StabilizeUntilConverged: %v", err)
	}
}

func TestLeaveIsReflectedAfterStabilization(t *testing.T) {
	e := engine.New(2)
	ids := nodeIDs(4)
	if err := membership.BuildNodes(e, membership.GossipFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	for i, id := range ids {
		seed := id
		if i > 0 {
			seed = ids[0]
		}
		if err := membership.Join(e, id, seed); err != nil {
			t.Fatalf("Join(%s): %v", id, err)
		}
	}
	if err := membership.StabilizeUntilConverged(e, ids); err != nil {
		t.Fatalf("StabilizeUntilConverged (initial): %v", err)
	}

	if err := membership.Leave(e, "3"); err != nil {
		t.Fatalf("Leave: %v", err)
	}
	remaining := ids[:3]
	if err := membership.StabilizeUntilConverged(e, remaining); err != nil {
		t.Fatalf("StabilizeUntilConverged (after leave): %v", err)
	}
}
