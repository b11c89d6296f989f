// Command replication is the quorum-replication test harness binary: it
// drives an N-node ring (built-in sloppy-quorum/hinted-handoff
// reference fixture by default, or an external --impl image) through
// GET/PUT round trips, concurrent-write sibling reconciliation, and
// shopping-cart CRDT merges.
package main

import (
	"context"
	"fmt"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"distsim/internal/engine"
	"distsim/internal/harness"
	"distsim/internal/harness/cli"
	"distsim/internal/harness/libconfig"
	"distsim/internal/harness/replication"
	"distsim/internal/node"
	"distsim/internal/telemetry"
)

func main() {
	f := &cli.Flags{}
	root := &cobra.Command{
		Use:           "replication",
		Short:         "Quorum-replication test harness",
		SilenceErrors: true,
		SilenceUsage:  true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			return cli.ConfigureLogging(f.Debug)
		},
		RunE: func(cmd *cobra.Command, args []string) error {
			os.Exit(run(cmd.Context(), f))
			return nil
		},
	}
	cli.RegisterCommon(root, f)
	cli.RegisterNodeCount(root, f, 6)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *cli.Flags) int {
	return cli.WithTelemetry(ctx, func(ctx context.Context, tel *telemetry.Provider) int {
		factory, cleanup, err := cli.ResolveFactory(f, "replication", replication.Factory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer cleanup()

		lib, err := cli.LoadLibrary(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		seed := cli.EffectiveSeed(f, lib)
		ids := cli.NodeIDs(lib, "", f.NodeCount)

		suite := harness.NewSuite(nil)
		runOne := func(name string, fn func() error) {
			if f.Test != "" && name != f.Test {
				return
			}
			suite.Run(name, func() error { return tel.TraceScenario(ctx, name, fn) })
		}

		runOne("GET_PUT_ROUND_TRIP", func() error { return roundTrip(seed, factory, ids, lib) })
		runOne("CONCURRENT_WRITES_2", func() error { return concurrentWrites2(seed, factory, ids, lib) })
		runOne("SHOPPING_CART_MERGE", func() error { return cartMerge(seed, factory, ids, lib) })

		return cli.RunSuite(suite)
	})
}

func roundTrip(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := replication.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	key := "ALPHA"
	replicas := replication.KeyReplicas(key, ids)
	nonReplicas := replication.KeyNonReplicas(key, ids)

	if _, _, err := replication.Put(e, replicas[0], key, "v1", "", 2, 100); err != nil {
		return err
	}
	values, ctx, err := replication.Get(e, replicas[2], key, 2, 100)
	if err != nil {
		return err
	}
	if len(values) != 1 || values[0] != "v1" {
		return fmt.Errorf("Get(%s) = %v, want [v1]", key, values)
	}
	if _, _, err := replication.Put(e, nonReplicas[0], key, "v2", ctx, 2, 100); err != nil {
		return err
	}
	values, _, err = replication.Get(e, ids[0], key, 2, 100)
	if err != nil {
		return err
	}
	if len(values) != 1 || values[0] != "v2" {
		return fmt.Errorf("Get(%s) after reconciling Put = %v, want [v2]", key, values)
	}
	return nil
}

// concurrentWrites2: 6 nodes; two concurrent PUT{key=K, quorum=2} from
// distinct non-replicas without context; a
// subsequent GET{quorum=2} must return both values plus a context that
// collapses the replica set to a single reconciled value on a reconciling
// PUT.
func concurrentWrites2(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := replication.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	key := "K"
	nonReplicas := replication.KeyNonReplicas(key, ids)
	if len(nonReplicas) < 3 {
		return fmt.Errorf("need at least 3 non-replicas for key %q, got %d", key, len(nonReplicas))
	}
	node1, node2, node3 := nonReplicas[0], nonReplicas[1], nonReplicas[2]

	if err := replication.SendPut(e, node1, key, "v1", "", 2); err != nil {
		return err
	}
	if err := replication.SendPut(e, node2, key, "v2", "", 2); err != nil {
		return err
	}
	if _, _, err := replication.CheckPutResult(e, node1, key, 100); err != nil {
		return err
	}
	if _, _, err := replication.CheckPutResult(e, node2, key, 100); err != nil {
		return err
	}

	values, ctx, err := replication.Get(e, node3, key, 2, 200)
	if err != nil {
		return err
	}
	sort.Strings(values)
	if len(values) != 2 || values[0] != "v1" || values[1] != "v2" {
		return fmt.Errorf("Get(%s) siblings = %v, want [v1 v2]", key, values)
	}

	if _, _, err := replication.Put(e, node3, key, "v1+v2", ctx, 2, 100); err != nil {
		return err
	}
	values, _, err = replication.Get(e, node1, key, 2, 100)
	if err != nil {
		return err
	}
	if len(values) != 1 || values[0] != "v1+v2" {
		return fmt.Errorf("Get(%s) after reconciling Put = %v, want [v1+v2]", key, values)
	}
	return nil
}

func cartMerge(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := replication.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	key := "CART-GROCERIES"
	nonReplicas := replication.KeyNonReplicas(key, ids)
	node1, node2 := nonReplicas[0], nonReplicas[1]

	_, ctx1, err := replication.Put(e, node1, key, "milk", "", 2, 100)
	if err != nil {
		return err
	}
	_, ctx2, err := replication.Put(e, node2, key, "eggs", "", 2, 100)
	if err != nil {
		return err
	}
	if _, _, err := replication.Put(e, node1, key, "milk,flour", ctx1, 2, 100); err != nil {
		return err
	}
	if _, _, err := replication.Put(e, node2, key, "eggs,ham", ctx2, 2, 100); err != nil {
		return err
	}

	values, _, err := replication.Get(e, node1, key, 2, 200)
	if err != nil {
		return err
	}
	if len(values) != 1 {
		return fmt.Errorf("merged cart = %v, want a single merged value", values)
	}
	got := toSet(strings.Split(values[0], ","))
	want := toSet([]string{"milk", "flour", "eggs", "ham"})
	if len(got) != len(want) {
		return fmt.Errorf("merged cart items = %v, want %v", got, want)
	}
	for item := range want {
		if !got[item] {
			return fmt.Errorf("merged cart missing %q, got %v", item, got)
		}
	}
	return nil
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}
