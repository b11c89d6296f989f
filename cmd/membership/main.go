// Command membership is the group-membership test harness binary: it
// drives an N-node group (built-in anti-entropy gossip reference
// fixture by default, or an external --impl image) through join, leave,
// and network-partition scenarios and checks stabilization to the expected
// membership view.
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
	"distsim/internal/harness/membership"
	"distsim/internal/node"
	"distsim/internal/prng"
	"distsim/internal/telemetry"
)

func joinAll(e *engine.Engine, ids []string) error {
	for i, id := range ids {
		seed := ids[0]
		if i == 0 {
			seed = id
		}
		if err := membership.Join(e, id, seed); err != nil {
			return err
		}
	}
	return nil
}

func main() {
	f := &cli.Flags{}
	root := &cobra.Command{
		Use:           "membership",
		Short:         "Group-membership test harness",
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
		factory, cleanup, err := cli.ResolveFactory(f, "membership", membership.GossipFactory)
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

		runOne("ALL_JOIN", func() error { return allJoin(seed, factory, ids, lib) })
		runOne("LEAVE_AFTER_STABILIZE", func() error { return leaveAfterStabilize(seed, factory, ids, lib) })
		runOne("NETWORK_PARTITION", func() error { return networkPartition(seed, factory, ids, lib) })
		runOne("SCALABILITY_SWEEP", func() error { return scalabilitySweep(seed, factory, f.NodeCount) })

		return cli.RunSuite(suite)
	})
}

func allJoin(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := membership.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	if err := joinAll(e, ids); err != nil {
		return err
	}
	return membership.StabilizeUntilConverged(e, ids)
}

func leaveAfterStabilize(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := membership.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	if err := joinAll(e, ids); err != nil {
		return err
	}
	if err := membership.StabilizeUntilConverged(e, ids); err != nil {
		return err
	}
	leaving := ids[len(ids)-1]
	if err := membership.Leave(e, leaving); err != nil {
		return err
	}
	return membership.StabilizeUntilConverged(e, ids[:len(ids)-1])
}

// networkPartition: 10 nodes all join via one seed; then make_partition(A,
// B) with a random 60/40 split; within 300
// simulated seconds A must stabilize to exactly A, B to exactly B.
func networkPartition(seed int64, factory node.Factory, ids []string, lib libconfig.Library) error {
	e := engine.New(seed)
	if err := membership.BuildNodes(e, factory, ids); err != nil {
		return err
	}
	cli.ApplyNetworkDefaults(e, lib)
	if err := joinAll(e, ids); err != nil {
		return err
	}
	if err := membership.StabilizeUntilConverged(e, ids); err != nil {
		return err
	}

	shuffled := append([]string(nil), ids...)
	prng.Shuffle(e.Rand(), shuffled)
	split := int(float64(len(shuffled)) * 0.6)
	groupA, groupB := shuffled[:split], shuffled[split:]
	e.Network().MakePartition(groupA, groupB)

	if err := membership.StabilizeUntilConverged(e, groupA); err != nil {
		return err
	}
	return membership.StabilizeUntilConverged(e, groupB)
}

// scalabilitySweep records how join traffic grows as the group size scales
// from 2 up through the configured --node-count, one independent group per
// size.
func scalabilitySweep(seed int64, factory node.Factory, maxNodes int) error {
	var counts []int
	for n := 2; n <= maxNodes; n += 2 {
		counts = append(counts, n)
	}
	samples, err := membership.ScalabilitySweep(seed, factory, func(n int) []string {
		return cli.NodeIDs(libconfig.Library{}, "", n)
	}, counts)
	if err != nil {
		return err
	}
	for i := 1; i < len(samples); i++ {
		if samples[i].LoadPerNode < samples[i-1].LoadPerNode*0.5 {
			return fmt.Errorf("load per node dropped sharply from %d to %d nodes (%.2f -> %.2f); unexpected scaling behavior",
				samples[i-1].NodeCount, samples[i].NodeCount, samples[i-1].LoadPerNode, samples[i].LoadPerNode)
		}
	}
	return nil
}
