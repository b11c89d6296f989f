// Command sharding is the key-value sharding test harness binary: it
// drives an N-node ring (built-in modulo-hash reference
// fixture by default, or an external --impl image) through GET/PUT/DELETE
// round trips and membership-change rebalancing, checking single
// ownership, balance, and bounded key movement.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"distsim/internal/engine"
	"distsim/internal/harness"
	"distsim/internal/harness/cli"
	"distsim/internal/harness/libconfig"
	"distsim/internal/harness/sharding"
	"distsim/internal/node"
	"distsim/internal/telemetry"
)

func main() {
	f := &cli.Flags{}
	root := &cobra.Command{
		Use:           "sharding",
		Short:         "Key-value sharding test harness",
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
	cli.RegisterNodeCount(root, f, 10)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *cli.Flags) int {
	return cli.WithTelemetry(ctx, func(ctx context.Context, tel *telemetry.Provider) int {
		factory, cleanup, err := cli.ResolveFactory(f, "sharding", sharding.ShardFactory)
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
		ids := cli.NodeIDs(lib, "n", f.NodeCount)

		suite := harness.NewSuite(nil)
		runOne := func(name string, fn func() error) {
			if f.Test != "" && name != f.Test {
				return
			}
			suite.Run(name, func() error { return tel.TraceScenario(ctx, name, fn) })
		}

		runOne("GET_PUT_DELETE_ROUND_TRIP", func() error { return roundTrip(seed, factory, ids, lib) })
		runOne("BALANCED_ACROSS_NODES", func() error { return balancedAcrossNodes(seed, factory, ids, lib) })
		runOne("NODE_REMOVED", func() error { return nodeRemoved(seed, factory, ids, lib) })

		return cli.RunSuite(suite)
	})
}

func roundTrip(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := sharding.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	if err := sharding.Put(e, ids[0], "alpha", "1"); err != nil {
		return err
	}
	v, found, err := sharding.Get(e, ids[len(ids)-1], "alpha")
	if err != nil {
		return err
	}
	if !found || v != "1" {
		return fmt.Errorf("Get(alpha) = (%q, %v), want (1, true)", v, found)
	}
	if err := sharding.Delete(e, ids[1%len(ids)], "alpha"); err != nil {
		return err
	}
	if _, found, err := sharding.Get(e, ids[2%len(ids)], "alpha"); err != nil {
		return err
	} else if found {
		return fmt.Errorf("Get(alpha) after delete still found")
	}
	return nil
}

const upperAlphabet = "ABCDEFGHIJKLMNOPQRSTUVWXYZ"

func randomUpperKey(e *engine.Engine, n int) string {
	out := make([]byte, n)
	for i := range out {
		out[i] = upperAlphabet[e.Rand().IntRange(0, len(upperAlphabet))]
	}
	return string(out)
}

func seedKeys(e *engine.Engine, factory node.Factory, ids []string, lib libconfig.Library, count int, keyLen int) (keys []string, values map[string]string, err error) {
	if err := sharding.BuildNodes(e, factory, ids); err != nil {
		return nil, nil, err
	}
	cli.ApplyNetworkDefaults(e, lib)
	values = make(map[string]string, count)
	for i := 0; i < count; i++ {
		k := randomUpperKey(e, keyLen)
		v := fmt.Sprintf("val%d", i)
		keys = append(keys, k)
		values[k] = v
		if err := sharding.Put(e, ids[i%len(ids)], k, v); err != nil {
			return nil, nil, err
		}
	}
	return keys, values, nil
}

func balancedAcrossNodes(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	keys, values, err := seedKeys(e, factory, ids, lib, 200, 8)
	if err != nil {
		return err
	}
	if err := sharding.StepUntilStabilized(e, ids, uint64(len(keys)), 4000); err != nil {
		return err
	}
	ownership, err := sharding.CollectOwnership(e, ids)
	if err != nil {
		return err
	}
	if err := sharding.CheckSingleOwnership(e, ownership, keys, values); err != nil {
		return err
	}
	return sharding.CheckBalance(ownership, len(keys))
}

// nodeRemoved: 10 nodes; 100 random 8-char upper-case keys inserted;
// NODE_REMOVED{id=r} broadcast; after
// stabilization the survivors collectively store exactly the same 100
// keys, each on exactly one node, with bounded migration cost.
func nodeRemoved(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	keys, values, err := seedKeys(e, factory, ids, lib, 100, 8)
	if err != nil {
		return err
	}
	if err := sharding.StepUntilStabilized(e, ids, uint64(len(keys)), 4000); err != nil {
		return err
	}
	before, err := sharding.CollectOwnership(e, ids)
	if err != nil {
		return err
	}

	removed := ids[len(ids)/2]
	if err := sharding.BroadcastNodeRemoved(e, ids, removed); err != nil {
		return err
	}
	survivors := make([]string, 0, len(ids)-1)
	for _, id := range ids {
		if id != removed {
			survivors = append(survivors, id)
		}
	}
	if err := sharding.StepUntilStabilized(e, survivors, uint64(len(keys)), 4000); err != nil {
		return err
	}

	after, err := sharding.CollectOwnership(e, survivors)
	if err != nil {
		return err
	}
	if err := sharding.CheckSingleOwnership(e, after, keys, values); err != nil {
		return err
	}
	for _, k := range keys {
		v, found, err := sharding.Get(e, survivors[0], k)
		if err != nil {
			return err
		}
		if !found || v != values[k] {
			return fmt.Errorf("Get(%s) after removal = (%q, %v), want (%q, true)", k, v, found, values[k])
		}
	}
	return sharding.CheckMovedKeys(before, after, len(survivors))
}
