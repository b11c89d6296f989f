// Package cli is the flag surface and wiring every harness binary under
// cmd/ shares: --impl, --test, --debug, --seed, --lib plus the
// harness-specific flags, a
// PersistentPreRunE logging setup every binary installs before its RunE
// runs, and the glue that turns --impl into a containerbridge-backed node.Factory
// instead of a harness's own built-in reference fixture.
package cli

import (
	"context"
	"fmt"
	"os"

	"github.com/docker/docker/client"
	"github.com/muesli/termenv"
	"github.com/spf13/cobra"

	"distsim/internal/adapter/containerbridge"
	"distsim/internal/engine"
	"distsim/internal/harness"
	"distsim/internal/harness/libconfig"
	"distsim/internal/harness/report"
	"distsim/internal/node"
	"distsim/internal/support/logging"
	"distsim/internal/telemetry"
)

// Flags holds the shared and harness-specific flag values one cobra.Command
// parses into. Harness-specific fields are left at their zero value by
// binaries that don't register them.
type Flags struct {
	Impl      string
	Test      string
	Debug     bool
	Seed      int64
	Lib       string
	Guarantee string
	NodeCount int
	Monkeys   int
	Overhead  bool
}

// RegisterCommon adds the flags every harness binary accepts regardless of
// protocol: --impl, --test, --debug, --seed, --lib.
func RegisterCommon(cmd *cobra.Command, f *Flags) {
	cmd.Flags().StringVar(&f.Impl, "impl", "", "docker image of an external node implementation to bridge; built-in reference fixture if omitted")
	cmd.Flags().StringVar(&f.Test, "test", "", "run only the named scenario (default: run all)")
	cmd.Flags().BoolVar(&f.Debug, "debug", false, "enable debug logging")
	cmd.Flags().Int64Var(&f.Seed, "seed", 1, "engine PRNG seed")
	cmd.Flags().StringVar(&f.Lib, "lib", "", "path to a scenario library manifest")
}

// RegisterNodeCount adds --node-count, used by every harness whose
// scenarios scale over an arbitrary node set (broadcast, membership,
// sharding, replication).
func RegisterNodeCount(cmd *cobra.Command, f *Flags, def int) {
	cmd.Flags().IntVar(&f.NodeCount, "node-count", def, "number of nodes to construct")
}

// RegisterMonkeys adds --monkeys, the chaos-monkey round count a harness's
// randomized-fault scenarios accept.
func RegisterMonkeys(cmd *cobra.Command, f *Flags, def int) {
	cmd.Flags().IntVar(&f.Monkeys, "monkeys", def, "number of chaos-monkey rounds to run")
}

// RegisterGuarantee adds --guarantee, restricting the guarantees harness to
// one of AMO/ALO/EO/EOO.
func RegisterGuarantee(cmd *cobra.Command, f *Flags) {
	cmd.Flags().StringVar(&f.Guarantee, "guarantee", "", "restrict to one guarantee (AMO, ALO, EO, EOO); default: all")
}

// RegisterOverhead adds --overhead, switching the guarantees harness into
// its overhead-budget-checking mode.
func RegisterOverhead(cmd *cobra.Command, f *Flags) {
	cmd.Flags().BoolVar(&f.Overhead, "overhead", false, "check sender/receiver memory and network overhead against the published budget table")
}

// ConfigureLogging installs the process-wide logger at debug or warn level,
// mirroring cmd/ployz/main.go's PersistentPreRunE.
func ConfigureLogging(debug bool) error {
	level := logging.LevelWarn
	if debug {
		level = logging.LevelDebug
	}
	return logging.Configure(level)
}

// LoadLibrary loads f.Lib if set, returning a zero Library (not an error)
// when no --lib flag was given — callers fall back to their own defaults.
func LoadLibrary(f *Flags) (libconfig.Library, error) {
	if f.Lib == "" {
		return libconfig.Library{}, nil
	}
	return libconfig.Load(f.Lib)
}

// NodeIDs returns lib's explicit node id list if it declares any, otherwise
// count generated ids of the shape "prefix<i>" — the node set every
// scenario below builds from when no --lib manifest was given.
func NodeIDs(lib libconfig.Library, prefix string, count int) []string {
	if len(lib.Nodes) > 0 {
		ids := make([]string, len(lib.Nodes))
		for i, n := range lib.Nodes {
			ids[i] = n.ID
		}
		return ids
	}
	ids := make([]string, count)
	for i := range ids {
		ids[i] = fmt.Sprintf("%s%d", prefix, i)
	}
	return ids
}

// EffectiveSeed returns lib.Seed when a --lib manifest set a nonzero one,
// otherwise the --seed flag's value.
func EffectiveSeed(f *Flags, lib libconfig.Library) int64 {
	if lib.Seed != 0 {
		return lib.Seed
	}
	return f.Seed
}

// ApplyNetworkDefaults applies lib's network section to e, if --lib was
// given and set it. Called after a harness's own BuildNodes so a library
// manifest can override a harness's built-in network defaults (e.g.
// membership's fixed [0.01, 0.1) delay range).
func ApplyNetworkDefaults(e *engine.Engine, lib libconfig.Library) {
	net := lib.Network
	if net.DelayMin != 0 || net.DelayMax != 0 {
		e.Network().SetDelays(net.DelayMin, net.DelayMax)
	}
	if net.DropRate != 0 {
		e.Network().SetDropRate(net.DropRate)
	}
	if net.DuplRate != 0 {
		e.Network().SetDuplRate(net.DuplRate)
	}
}

// ResolveFactory returns fallback unmodified when f.Impl is empty.
// Otherwise it dials the local Docker daemon and returns a
// containerbridge.Bridge targeting f.Impl as the image every node in the
// run is built from. The returned cleanup closes the Docker client; it does
// not stop or remove the containers the bridge created.
func ResolveFactory(f *Flags, harnessName string, fallback node.Factory) (node.Factory, func(), error) {
	if f.Impl == "" {
		return fallback, func() {}, nil
	}
	cli, err := client.NewClientWithOpts(client.FromEnv, client.WithAPIVersionNegotiation())
	if err != nil {
		return nil, nil, fmt.Errorf("cli: connect to docker: %w", err)
	}
	bridge := containerbridge.New(cli, containerbridge.Config{Image: f.Impl}, harnessName)
	cleanup := func() { _ = cli.Close() }
	return bridge, cleanup, nil
}

// RunSuite prints suite's results to stderr and returns the process exit
// code: 0 if every scenario passed, 1 otherwise.
func RunSuite(suite *harness.Suite) int {
	report.Print(os.Stderr, suite, termenv.ColorProfile())
	if suite.Passed() {
		return 0
	}
	return 1
}

// WithTelemetry starts an OTel provider, runs fn, and shuts the provider
// down before returning — the same lifecycle cmd/ployz/main.go uses around
// its whole command tree, scoped here to a single harness invocation.
func WithTelemetry(ctx context.Context, fn func(ctx context.Context, tel *telemetry.Provider) int) int {
	tel := telemetry.NewProvider()
	defer func() { _ = tel.Shutdown(ctx) }()
	return fn(ctx, tel)
}
