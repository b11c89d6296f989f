package replication_test

import (
	"fmt"
	"sort"
	"strings"
	"testing"

	"distsim/internal/engine"
	"distsim/internal/harness/replication"
)

func nodeIDs(n int) []string {
	ids := make([]string, n)
	for i := range ids {
		ids[i] = fmt.Sprintf("%d", i)
	}
	return ids
}

func TestGetPutRoundTripAcrossReplicasAndNonReplicas(t *testing.T) {
	e := engine.New(1)
	ids := nodeIDs(8)
	if err := replication.BuildNodes(e, replication.Factory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	key := "ALPHA"
	replicas := replication.KeyReplicas(key, ids)
	nonReplicas := replication.KeyNonReplicas(key, ids)
	if len(replicas) != 3 || len(nonReplicas) != len(ids)-3 {
		t.Fatalf("replicas=%v nonReplicas=%v, want 3 and %d", replicas, nonReplicas, len(ids)-3)
	}

	values, _, err := replication.Get(e, ids[0], key, 2, 100)
	if err != nil {
		t.Fatalf("Get (empty): %v", err)
	}
	if len(values) != 0 {
		t.Fatalf("Get on unwritten key = %v, want empty", values)
	}

	values, _, err = replication.Put(e, replicas[0], key, "v1", "", 2, 100)
	if err != nil {
		t.Fatalf("Put: %v", err)
	}
	if len(values) != 1 || values[0] != "v1" {
		t.Fatalf("Put result = %v, want [v1]", values)
	}

	values, ctx, err := replication.Get(e, replicas[2], key, 2, 100)
	if err != nil {
		t.Fatalf("Get (last replica): %v", err)
	}
	if len(values) != 1 || values[0] != "v1" {
		t.Fatalf("Get (last replica) = %v, want [v1]", values)
	}

	values, _, err = replication.Put(e, nonReplicas[0], key, "v2", ctx, 2, 100)
	if err != nil {
		t.Fatalf("Put v2: %v", err)
	}
	if len(values) != 1 || values[0] != "v2" {
		t.Fatalf("Put v2 result = %v, want [v2]", values)
	}

	values, _, err = replication.Get(e, ids[0], key, 2, 100)
	if err != nil {
		t.Fatalf("Get (final): %v", err)
	}
	if len(values) != 1 || values[0] != "v2" {
		t.Fatalf("Get (final) = %v, want [v2]", values)
	}
}

func TestConcurrentWritesWithSameContextSurfaceAsSiblings(t *testing.T) {
	e := engine.New(2)
	ids := nodeIDs(8)
	if err := replication.BuildNodes(e, replication.Factory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	key := "BETA"
	nonReplicas := replication.KeyNonReplicas(key, ids)
	node1, node2, node3 := nonReplicas[0], nonReplicas[1], nonReplicas[2]

	if err := replication.SendPut(e, node1, key, "v1", "", 2); err != nil {
		t.Fatalf("SendPut v1: %v", err)
	}
	if err := replication.SendPut(e, node2, key, "v2", "", 2); err != nil {
		t.Fatalf("SendPut v2: %v", err)
	}
	if _, _, err := replication.CheckPutResult(e, node1, key, 100); err != nil {
		t.Fatalf("CheckPutResult node1: %v", err)
	}
	if _, _, err := replication.CheckPutResult(e, node2, key, 100); err != nil {
		t.Fatalf("CheckPutResult node2: %v", err)
	}

	values, ctx, err := replication.Get(e, node3, key, 2, 200)
	if err != nil {
		t.Fatalf("Get (siblings): %v", err)
	}
	sort.Strings(values)
	if len(values) != 2 || values[0] != "v1" || values[1] != "v2" {
		t.Fatalf("Get (siblings) = %v, want [v1 v2]", values)
	}

	reconciled := "v1+v2"
	if _, _, err := replication.Put(e, node3, key, reconciled, ctx, 2, 100); err != nil {
		t.Fatalf("Put reconciled: %v", err)
	}
	values, _, err = replication.Get(e, node1, key, 2, 100)
	if err != nil {
		t.Fatalf("Get (after reconcile): %v", err)
	}
	if len(values) != 1 || values[0] != reconciled {
		t.Fatalf("Get (after reconcile) = %v, want [%s]", values, reconciled)
	}
}

func TestShoppingCartMergesConcurrentAdditions(t *testing.T) {
	e := engine.New(3)
	ids := nodeIDs(8)
	if err := replication.BuildNodes(e, replication.Factory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	key := "CART-GROCERIES"
	nonReplicas := replication.KeyNonReplicas(key, ids)
	node1, node2 := nonReplicas[0], nonReplicas[1]

	values, ctx1, err := replication.Put(e, node1, key, "milk", "", 2, 100)
	if err != nil {
		t.Fatalf("Put milk: %v", err)
	}
	if len(values) != 1 || values[0] != "milk" {
		t.Fatalf("Put milk result = %v, want [milk]", values)
	}

	values, ctx2, err := replication.Put(e, node2, key, "eggs", "", 2, 100)
	if err != nil {
		t.Fatalf("Put eggs: %v", err)
	}
	if len(values) != 1 || values[0] != "eggs" {
		t.Fatalf("Put eggs result = %v, want [eggs]", values)
	}

	if _, _, err := replication.Put(e, node1, key, "milk,flour", ctx1, 2, 100); err != nil {
		t.Fatalf("Put milk,flour: %v", err)
	}
	if _, _, err := replication.Put(e, node2, key, "eggs,ham", ctx2, 2, 100); err != nil {
		t.Fatalf("Put eggs,ham: %v", err)
	}

	values, _, err = replication.Get(e, node1, key, 2, 200)
	if err != nil {
		t.Fatalf("Get merged cart: %v", err)
	}
	if len(values) != 1 {
		t.Fatalf("Get merged cart = %v, want a single merged value", values)
	}
	got := toSet(strings.Split(values[0], ","))
	want := toSet([]string{"milk", "flour", "eggs", "ham"})
	if len(got) != len(want) {
		t.Fatalf("merged cart items = %v, want %v", got, want)
	}
	for item := range want {
		if !got[item] {
			t.Fatalf("merged cart missing %q, got %v", item, got)
		}
	}
}

func TestShoppingXCartObservesRemoves(t *testing.T) {
	e := engine.New(4)
	ids := nodeIDs(8)
	if err := replication.BuildNodes(e, replication.Factory, ids); err != nil {
		t.Fatalf("BuildNodes: %v", err)
	}
	key := "XCART-GROCERIES"
	nonReplicas := replication.KeyNonReplicas(key, ids)
	node1, node2, node3 := nonReplicas[0], nonReplicas[1], nonReplicas[2]

	if _, _, err := replication.Put(e, node1, key, "milk,eggs", "", 2, 100); err != nil {
		t.Fatalf("Put milk,eggs: %v", err)
	}
	values, ctx, err := replication.Get(e, node1, key, 2, 200)
	if err != nil {
		t.Fatalf("Get after initial put: %v", err)
	}
	if len(values) != 1 || values[0] != "eggs,milk" {
		t.Fatalf("Get after initial put = %v, want [eggs,milk]", values)
	}

	// node1 drops eggs, having observed the full cart via ctx; node2
	// concurrently adds ham without ever having observed milk or eggs.
	if _, _, err := replication.Put(e, node1, key, "milk", ctx, 2, 100); err != nil {
		t.Fatalf("Put milk (drop eggs): %v", err)
	}
	if _, _, err := replication.Put(e, node2, key, "ham", "", 2, 100); err != nil {
		t.Fatalf("Put ham: %v", err)
	}

	values, _, err = replication.Get(e, node3, key, 2, 200)
	if err != nil {
		t.Fatalf("Get merged cart: %v", err)
	}
	if len(values) != 1 || values[0] != "ham,milk" {
		t.Fatalf("merged cart = %v, want [ham,milk]: eggs should be observed-removed, milk and the concurrent ham add should survive", values)
	}
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
