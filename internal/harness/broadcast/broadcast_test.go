package broadcast_test

import (
	"testing"

	"distsim/internal/engine"
	"distsim/internal/harness/broadcast"
)

func nodeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = string(rune('0' + i))
	}
	return ids
}

func TestFloodBroadcastSatisfiesAllPredicatesOverReliableNetwork(t *testing.T) {
	e := engine.New(10)
	ids := nodeIDs(5)
	if err := broadcast.BuildNodes(e, broadcast.FloodFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	if err := broadcast.Send(e, "0", "0:Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := e.StepUntilNoEvents(); err != nil {
		t.Fatalf("StepUntilNoEvents: %v", err)
	}
	if err := broadcast.CheckAll(e, ids); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
}

func TestSenderCrashStillSatisfiesUniformAgreement(t *testing.T) {
	e := engine.New(11)
	ids := nodeIDs(5)
	if err := broadcast.BuildNodes(e, broadcast.FloodFactory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	if err := broadcast.Send(e, "0", "0:Hello"); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if _, err := e.Steps(2); err != nil {
		t.Fatalf("Steps: %v", err)
	}
	if err := e.CrashNode("0"); err != nil {
		t.Fatalf("CrashNode: %v", err)
	}
	if _, err := e.StepUntilNoEvents(); err != nil {
		t.Fatalf("StepUntilNoEvents: %v", err)
	}
	// Validity is skipped for the crashed node; uniform agreement among the
	// four surviving nodes, and no-creation/no-duplication, must still hold.
	if err := broadcast.CheckAll(e, ids); err != nil {
		t.Fatalf("CheckAll: %v", err)
	}
}
