// Command guarantees is the delivery-guarantee test harness binary: it
// drives a sender/receiver node pair (built-in reference fixture by
// default, or an external --impl image) through the message corpus and
// fault-injection scenarios below and reports which of AMO/ALO/EO/EOO each
// one satisfies.
package main

import (
	"context"
	"fmt"
	"os"

	"github.com/spf13/cobra"

	"distsim/internal/engine"
	"distsim/internal/harness"
	"distsim/internal/harness/cli"
	"distsim/internal/harness/guarantees"
	"distsim/internal/node"
	"distsim/internal/telemetry"
)

type scenario struct {
	name             string
	guarantee        guarantees.Guarantee
	messageCount     int
	faulty           bool
	configureNetwork func(e *engine.Engine)
}

func scenarios() []scenario {
	all := []guarantees.Guarantee{guarantees.AtMostOnce, guarantees.AtLeastOnce, guarantees.ExactlyOnce, guarantees.ExactlyOnceOrdered}
	var out []scenario
	for _, g := range all {
		out = append(out,
			scenario{name: fmt.Sprintf("%s/NORMAL", g), guarantee: g, messageCount: 5},
			scenario{
				name:         fmt.Sprintf("%s/DUPLICATED", g),
				guarantee:    g,
				messageCount: 5,
				faulty:       true,
				configureNetwork: func(e *engine.Engine) {
					e.Network().SetDuplRate(0.3)
				},
			},
		)
	}
	return out
}

func main() {
	f := &cli.Flags{}
	root := &cobra.Command{
		Use:           "guarantees",
		Short:         "Delivery-guarantee test harness (AMO/ALO/EO/EOO)",
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
	cli.RegisterGuarantee(root, f)
	cli.RegisterOverhead(root, f)

	if err := root.Execute(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context, f *cli.Flags) int {
	return cli.WithTelemetry(ctx, func(ctx context.Context, tel *telemetry.Provider) int {
		senderFactory, receiverCleanup1, err := cli.ResolveFactory(f, "guarantees-sender", guarantees.ReliableSenderFactory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer receiverCleanup1()
		receiverFactory, receiverCleanup2, err := cli.ResolveFactory(f, "guarantees-receiver", guarantees.ReliableReceiverFactory)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		defer receiverCleanup2()

		lib, err := cli.LoadLibrary(f)
		if err != nil {
			fmt.Fprintf(os.Stderr, "error: %v\n", err)
			return 1
		}
		seed := cli.EffectiveSeed(f, lib)

		suite := harness.NewSuite(nil)
		for _, sc := range scenarios() {
			if f.Test != "" && sc.name != f.Test {
				continue
			}
			if f.Guarantee != "" && string(sc.guarantee) != f.Guarantee {
				continue
			}
			sc := sc
			suite.Run(sc.name, func() error {
				return tel.TraceScenario(ctx, sc.name, func() error {
					return runScenario(seed, senderFactory, receiverFactory, sc, f.Overhead)
				})
			})
		}
		return cli.RunSuite(suite)
	})
}

func runScenario(seed int64, senderFactory, receiverFactory node.Factory, sc scenario, overhead bool) error {
	if overhead {
		if err := guarantees.Run(seed, senderFactory, receiverFactory, sc.guarantee, sc.messageCount, false, sc.configureNetwork); err != nil {
			return err
		}
		return guarantees.RunWithOverhead(seed, senderFactory, receiverFactory, sc.guarantee, sc.messageCount, sc.faulty, sc.configureNetwork)
	}
	return guarantees.Run(seed, senderFactory, receiverFactory, sc.guarantee, sc.messageCount, false, sc.configureNetwork)
}
