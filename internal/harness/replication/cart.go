package replication

import (
	"encoding/json"
	"sort"
	"strings"
)

// cartState is an OR-Set: each item is present as long as at least one of
// its add tags is not also in removed. "cart-" keys never populate removed
// (plain union, adds only); "xcart-" keys add a tag's own identity to
// removed when the client's PUT drops an item it had previously observed,
// giving add-wins observed-remove semantics: a concurrent add of the same
// item from another replica carries a fresh tag that survives the remove.
type cartState struct {
	Tags    map[string]map[string]bool `json:"tags"`    // item -> set of add tags
	Removed map[string]bool            `json:"removed"` // tag -> removed
}

func newCartState() cartState {
	return cartState{Tags: map[string]map[string]bool{}, Removed: map[string]bool{}}
}

func decodeCart(s string) cartState {
	st := newCartState()
	if s == "" {
		return st
	}
	_ = json.Unmarshal([]byte(s), &st)
	if st.Tags == nil {
		st.Tags = map[string]map[string]bool{}
	}
	if st.Removed == nil {
		st.Removed = map[string]bool{}
	}
	return st
}

func (c cartState) encode() string {
	buf, _ := json.Marshal(c)
	return string(buf)
}

// items returns the items currently visible: those with at least one
// non-removed tag.
func (c cartState) items() []string {
	out := make([]string, 0, len(c.Tags))
	for item, tags := range c.Tags {
		for tag := range tags {
			if !c.Removed[tag] {
				out = append(out, item)
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func (c cartState) clone() cartState {
	out := newCartState()
	for item, tags := range c.Tags {
		cp := make(map[string]bool, len(tags))
		for t := range tags {
			cp[t] = true
		}
		out.Tags[item] = cp
	}
	for tag := range c.Removed {
		out.Removed[tag] = true
	}
	return out
}

// mergeCart unions two cart states: every tag and every removal from both
// sides is kept, so an item is visible iff it has a surviving tag in the
// union.
func mergeCart(a, b cartState) cartState {
	out := a.clone()
	for item, tags := range b.Tags {
		if out.Tags[item] == nil {
			out.Tags[item] = map[string]bool{}
		}
		for t := range tags {
			out.Tags[item][t] = true
		}
	}
	for tag := range b.Removed {
		out.Removed[tag] = true
	}
	return out
}

// applyCartWrite folds a client's desired membership list (wantItems) into
// current, given the client's priorView (the item list it last read, i.e.
// the context it was handed by a prior GET). New tags are minted with
// nextTag for items wantItems adds that weren't in priorView. For xcart
// keys, items priorView had that wantItems drops have every tag the client
// could have observed (i.e. every tag already present when priorView was
// computed) marked removed; for cart keys, removals are ignored entirely —
// the plain union never shrinks.
func applyCartWrite(current cartState, priorView, wantItems []string, observeRemoves bool, nextTag func() string) cartState {
	out := current.clone()
	priorSet := toSet(priorView)
	wantSet := toSet(wantItems)

	if observeRemoves {
		for item := range priorSet {
			if wantSet[item] {
				continue
			}
			for tag := range out.Tags[item] {
				out.Removed[tag] = true
			}
		}
	}
	for item := range wantSet {
		if priorSet[item] {
			continue
		}
		if out.Tags[item] == nil {
			out.Tags[item] = map[string]bool{}
		}
		out.Tags[item][nextTag()] = true
	}
	return out
}

func toSet(items []string) map[string]bool {
	out := make(map[string]bool, len(items))
	for _, it := range items {
		out[it] = true
	}
	return out
}

func splitCartValue(value string) []string {
	if value == "" {
		return nil
	}
	return strings.Split(value, ",")
}

func joinCartValue(items []string) string {
	return strings.Join(items, ",")
}
