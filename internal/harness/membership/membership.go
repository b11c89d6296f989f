// Package membership implements the group-membership test harness:
// JOIN/LEAVE/GET_MEMBERS round driving and the stabilization loop that
// waits for every node's reported membership list to converge.
//
// The default network delay range is (0.01, 0.1); each node gets an
// independent random clock skew in [0, 10); convergence is checked by a
// loop that periodically advances simulated time by 5 seconds and polls
// every node's GET_MEMBERS with a 10-second per-node timeout, capped at
// 300 simulated seconds overall.
package membership

import (
	"distsim/internal/engine"
	"distsim/internal/errclass"
	"distsim/internal/message"
	"distsim/internal/node"
)

type joinPayload struct {
	Seed string `json:"seed"`
}

type membersPayload struct {
	Members []string `json:"members"`
}

// BuildNodes constructs one instance per id in nodeIDs with ctor_args
// (id,), pins the default network delay range to [0.01, 0.1), and assigns
// each node an independent clock skew drawn uniformly from [0, 10).
func BuildNodes(e *engine.Engine, factory node.Factory, nodeIDs []string) error {
	e.Network().SetDelays(0.01, 0.1)
	for _, id := range nodeIDs {
		if err := e.AddNode(id, factory, struct{ ID string }{ID: id}); err != nil {
			return err
		}
		e.SetClockSkew(id, e.Rand().Float64Range(0, 10))
	}
	return nil
}

// RecoverNode rebuilds id after a crash, with the same ctor_args shape
// BuildNodes uses.
func RecoverNode(e *engine.Engine, factory node.Factory, id string) error {
	return e.RecoverNode(id, factory, struct{ ID string }{ID: id})
}

// Join sends a JOIN{seed} local input to id, where seed is the id of any
// already-running member (or id itself, for the first node in the group).
func Join(e *engine.Engine, id, seed string) error {
	return e.SendLocal(id, message.MustNew("JOIN", joinPayload{Seed: seed}))
}

// Leave sends a LEAVE{} local input to id.
func Leave(e *engine.Engine, id string) error {
	return e.SendLocal(id, message.MustNew("LEAVE", struct{}{}))
}

// GetMembers sends a GET_MEMBERS{} local input to id and waits (up to a
// 10-simulated-second timeout) for the MEMBERS{members} reply, returning
// the reported set of member ids.
func GetMembers(e *engine.Engine, id string) ([]string, error) {
	before := len(e.Observability().GetLocalEvents(id))
	if err := e.SendLocal(id, message.MustNew("GET_MEMBERS", struct{}{})); err != nil {
		return nil, err
	}
	// A node may answer synchronously inside SendLocal (log grows by input
	// plus reply); only step the engine when no reply is there yet.
	if len(e.Observability().GetLocalEvents(id)) <= before+1 {
		if err := e.StepUntilLocalMessageWithTimeout(id, 10); err != nil {
			return nil, errclass.Failf("members list not returned by %q: %v", id, err)
		}
	}
	events := e.Observability().GetLocalEvents(id)
	last := events[len(events)-1]
	if last.Message.Kind != "MEMBERS" {
		return nil, errclass.Failf("node %q replied with kind %q, want MEMBERS", id, last.Message.Kind)
	}
	var p membersPayload
	if err := last.Message.Decode(&p); err != nil {
		return nil, errclass.Fatalf("membership: malformed MEMBERS payload from %q: %v", id, err)
	}
	return p.Members, nil
}

// StabilizeUntilConverged repeatedly advances simulated time in 5-second
// increments and polls every node in group for its membership list, until
// every node's reported set equals group or 300 simulated seconds elapse —
// whichever comes first.
func StabilizeUntilConverged(e *engine.Engine, group []string) error {
	want := toSet(group)
	deadline := e.Clock().Now() + 300

	for {
		stabilized := make(map[string]bool)
		for _, id := range group {
			members, err := GetMembers(e, id)
			if err != nil {
				return err
			}
			if toSet(members).equal(want) {
				stabilized[id] = true
			}
		}
		if len(stabilized) == len(group) {
			return nil
		}
		if e.Clock().Now() >= deadline {
			return errclass.Timeoutf("membership: group did not stabilize to %v within 300s (got %v)", group, stabilized)
		}
		if err := e.StepForDuration(5); err != nil {
			return err
		}
	}
}

// ScaleSample is one point of a scalability sweep: the group size tested,
// the total network messages and bytes the join-and-stabilize round cost,
// and the per-node load ratio (messages divided by group size) the original
// harness's scalability measurement mode tracks to see how join traffic
// grows with group size.
type ScaleSample struct {
	NodeCount    int
	MessageCount uint64
	TrafficBytes uint64
	LoadPerNode  float64
}

// ScalabilitySweep builds a fresh group at each node count in counts, joins
// every node via a single shared seed, stabilizes it, and records traffic
// growth, the original harness's scalability measurement mode.
func ScalabilitySweep(seed int64, factory node.Factory, nodeIDsAt func(n int) []string, counts []int) ([]ScaleSample, error) {
	samples := make([]ScaleSample, 0, len(counts))
	for _, n := range counts {
		e := engine.New(seed)
		ids := nodeIDsAt(n)
		if err := BuildNodes(e, factory, ids); err != nil {
			return nil, err
		}
		for i, id := range ids {
			seedID := ids[0]
			if i == 0 {
				seedID = id
			}
			if err := Join(e, id, seedID); err != nil {
				return nil, err
			}
		}
		if err := StabilizeUntilConverged(e, ids); err != nil {
			return nil, err
		}
		msgCount := e.Observability().GetNetworkMessageCount()
		samples = append(samples, ScaleSample{
			NodeCount:    n,
			MessageCount: msgCount,
			TrafficBytes: e.Observability().GetNetworkTraffic(),
			LoadPerNode:  float64(msgCount) / float64(n),
		})
	}
	return samples, nil
}

type stringSet map[string]bool

func toSet(ids []string) stringSet {
	s := make(stringSet, len(ids))
	for _, id := range ids {
		s[id] = true
	}
	return s
}

func (s stringSet) equal(other stringSet) bool {
	if len(s) != len(other) {
		return false
	}
	for k := range s {
		if !other[k] {
			return false
		}
	}
	return true
}
