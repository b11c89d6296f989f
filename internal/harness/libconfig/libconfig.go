// Package libconfig loads the `--lib <path>` scenario-library manifests
// every harness binary accepts: a flat YAML description of the node
// set, per-node clock skew, and the default network model a scenario
// should start from, so a scenario catalog can be parameterized without
// recompiling the harness.
//
// A flat YAML schema decoded with gopkg.in/yaml.v3: a small, harness-
// specific shape rather than a general deployment-manifest format.
package libconfig

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// NodeSpec describes one node to construct.
type NodeSpec struct {
	ID        string         `yaml:"id"`
	CtorArgs  map[string]any `yaml:"ctor_args,omitempty"`
	ClockSkew float64        `yaml:"clock_skew,omitempty"`
}

// NetworkDefaults seeds the network model before any scenario-specific
// fault injection runs.
type NetworkDefaults struct {
	DelayMin float64 `yaml:"delay_min,omitempty"`
	DelayMax float64 `yaml:"delay_max,omitempty"`
	DropRate float64 `yaml:"drop_rate,omitempty"`
	DuplRate float64 `yaml:"dupl_rate,omitempty"`
}

// Library is one `--lib` manifest: a named node set plus the network
// defaults a scenario run should start from.
type Library struct {
	Name    string          `yaml:"name"`
	Seed    int64           `yaml:"seed,omitempty"`
	Nodes   []NodeSpec      `yaml:"nodes"`
	Network NetworkDefaults `yaml:"network,omitempty"`
}

// Load reads and parses a Library manifest from path.
func Load(path string) (Library, error) {
	buf, err := os.ReadFile(path)
	if err != nil {
		return Library{}, fmt.Errorf("libconfig: read %s: %w", path, err)
	}
	var lib Library
	if err := yaml.Unmarshal(buf, &lib); err != nil {
		return Library{}, fmt.Errorf("libconfig: parse %s: %w", path, err)
	}
	if len(lib.Nodes) == 0 {
		return Library{}, fmt.Errorf("libconfig: %s: must declare at least one node", path)
	}
	return lib, nil
}
