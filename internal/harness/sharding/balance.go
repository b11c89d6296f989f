package sharding

import (
	"distsim/internal/engine"
	"distsim/internal/errclass"
)

// maxDeviation is the balance/migration tolerance used throughout this
// package: a node's actual share may differ from its theoretical target
// share by at most 10%.
const maxDeviation = 0.10

// StepUntilStabilized repeatedly steps the engine forward (in batches of
// stepBatch) until the sum of every node's reported record count equals
// expectedTotal and no single node's count changed since the previous
// iteration, or maxSteps total steps have run. Uses a count-based
// convergence test rather than polling key contents directly.
func StepUntilStabilized(e *engine.Engine, nodeIDs []string, expectedTotal uint64, maxSteps int) error {
	prev := make(map[string]uint64, len(nodeIDs))
	ran := 0
	for {
		counts := make(map[string]uint64, len(nodeIDs))
		var total uint64
		for _, id := range nodeIDs {
			c, err := CountRecords(e, id)
			if err != nil {
				return err
			}
			counts[id] = c
			total += c
		}
		if total == expectedTotal && sameCounts(prev, counts) {
			return nil
		}
		prev = counts
		if ran >= maxSteps {
			return errclass.Timeoutf("sharding: record counts did not stabilize to %d within %d steps (last total %d)", expectedTotal, maxSteps, total)
		}
		const stepBatch = 10
		n, err := e.Steps(stepBatch)
		if err != nil {
			return err
		}
		ran += n
		if n == 0 {
			// no more events queued; one more comparison pass, then give up
			if total == expectedTotal && sameCounts(prev, counts) {
				return nil
			}
			return errclass.Timeoutf("sharding: event queue drained before record counts stabilized to %d (last total %d)", expectedTotal, total)
		}
	}
}

func sameCounts(a, b map[string]uint64) bool {
	if len(a) != len(b) {
		return false
	}
	for id, v := range a {
		if b[id] != v {
			return false
		}
	}
	return true
}

// Ownership is the result of dumping keys from every shard node: the set of
// keys each node claims to hold.
type Ownership map[string][]string

// CollectOwnership dumps keys from every node in nodeIDs.
func CollectOwnership(e *engine.Engine, nodeIDs []string) (Ownership, error) {
	out := make(Ownership, len(nodeIDs))
	for _, id := range nodeIDs {
		keys, err := DumpKeys(e, id)
		if err != nil {
			return nil, err
		}
		out[id] = keys
	}
	return out, nil
}

// CheckSingleOwnership asserts every key in expected is stored on exactly
// one node across ownership, and (if expectedValues is non-nil) that GET
// returns the expected value for each.
func CheckSingleOwnership(e *engine.Engine, ownership Ownership, expected []string, expectedValues map[string]string) error {
	owner := make(map[string]string, len(expected))
	for node, keys := range ownership {
		for _, k := range keys {
			if prior, ok := owner[k]; ok {
				return errclass.Failf("sharding: key %q stored on both %q and %q", k, prior, node)
			}
			owner[k] = node
		}
	}
	for _, k := range expected {
		node, ok := owner[k]
		if !ok {
			return errclass.Failf("sharding: expected key %q missing from every node", k)
		}
		if expectedValues != nil {
			want := expectedValues[k]
			got, found, err := Get(e, node, k)
			if err != nil {
				return err
			}
			if !found || got != want {
				return errclass.Failf("sharding: GET %q on %q = (%q, found=%v), want (%q, true)", k, node, got, found, want)
			}
		}
	}
	return nil
}

// CheckBalance asserts every node's share of len(expected) keys deviates
// from the even target (len(expected)/len(ownership)) by no more than
// maxDeviation.
func CheckBalance(ownership Ownership, expectedCount int) error {
	nodeCount := len(ownership)
	if nodeCount == 0 {
		return nil
	}
	target := float64(expectedCount) / float64(nodeCount)
	if target == 0 {
		return nil
	}
	for node, keys := range ownership {
		deviation := (target - float64(len(keys))) / target
		if deviation < 0 {
			deviation = -deviation
		}
		if deviation > maxDeviation {
			return errclass.Failf("sharding: node %q holds %d keys, target %.1f, deviation %.2f exceeds %.2f", node, len(keys), target, deviation, maxDeviation)
		}
	}
	return nil
}

// CheckMovedKeys compares a before/after ownership snapshot and asserts the
// number of keys that changed owner does not exceed the theoretical optimum
// by more than maxDeviation. The optimum for adding or removing one node
// out of n is len(expected)/n keys moving; moving meaningfully more than
// that indicates a rebalancing scheme that migrates more data than
// necessary.
func CheckMovedKeys(before, after Ownership, nodeCountAfter int) error {
	beforeOwner := ownerIndex(before)
	afterOwner := ownerIndex(after)

	total := len(beforeOwner)
	if total == 0 || nodeCountAfter == 0 {
		return nil
	}
	notMoved := 0
	for k, owner := range beforeOwner {
		if afterOwner[k] == owner {
			notMoved++
		}
	}
	moved := total - notMoved
	target := float64(total) / float64(nodeCountAfter)
	if target == 0 {
		return nil
	}
	deviation := (float64(moved) - target) / target
	if deviation > maxDeviation {
		return errclass.Failf("sharding: %d of %d keys moved, target %.1f, deviation %.2f exceeds %.2f", moved, total, target, deviation, maxDeviation)
	}
	return nil
}

func ownerIndex(o Ownership) map[string]string {
	out := make(map[string]string)
	for node, keys := range o {
		for _, k := range keys {
			out[k] = node
		}
	}
	return out
}
