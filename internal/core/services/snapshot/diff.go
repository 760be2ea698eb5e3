// Package snapshot reconciles freshly built record populations with
// the persisted live state, producing structural diffs that replay
// back to the live record byte-for-byte.
package snapshot

import (
	"sort"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

var diffSymbols = map[string]struct{}{
	domain.SymInsert:  {},
	domain.SymUpdate:  {},
	domain.SymDelete:  {},
	domain.SymAdd:     {},
	domain.SymDiscard: {},
}

// isDiffNode reports whether a Map is a structural diff rather than a
// plain value: non-empty and keyed exclusively by diff symbols.
func isDiffNode(m serde.Map) bool {
	if len(m) == 0 {
		return false
	}
	for k := range m {
		if _, ok := diffSymbols[k]; !ok {
			return false
		}
	}
	return true
}

// Diff computes the structural difference between two canonical trees
// of the same shape. An empty Map means the trees are equal.
func Diff(old, new serde.Map) serde.Map {
	return diffMaps(old, new)
}

func diffMaps(old, new serde.Map) serde.Map {
	out := serde.Map{}
	inserted := serde.Map{}
	updated := serde.Map{}
	var deleted serde.List

	for k, nv := range new {
		ov, ok := old[k]
		if !ok {
			inserted[k] = nv
			continue
		}
		if serde.Equal(ov, nv) {
			continue
		}
		updated[k] = diffValues(ov, nv)
	}
	keys := make([]string, 0, len(old))
	for k := range old {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		if _, ok := new[k]; !ok {
			deleted = append(deleted, k)
		}
	}

	if len(inserted) > 0 {
		out[domain.SymInsert] = inserted
	}
	if len(updated) > 0 {
		out[domain.SymUpdate] = updated
	}
	if len(deleted) > 0 {
		out[domain.SymDelete] = deleted
	}
	return out
}

// diffValues returns either a nested structural diff, when both sides
// are containers of the same kind, or the replacement value.
func diffValues(old, new any) any {
	switch ov := old.(type) {
	case serde.Map:
		if nv, ok := new.(serde.Map); ok {
			return diffMaps(ov, nv)
		}
	case serde.List:
		if nv, ok := new.(serde.List); ok {
			return diffLists(ov, nv)
		}
	case *serde.Set:
		if nv, ok := new.(*serde.Set); ok {
			return diffSets(ov, nv)
		}
	}
	return new
}

// diffLists trims the common prefix and suffix, then deletes the old
// middle (indices listed high-to-low so pops stay valid) and inserts
// the new middle as (position, value) pairs.
func diffLists(old, new serde.List) serde.Map {
	prefix := 0
	for prefix < len(old) && prefix < len(new) && serde.Equal(old[prefix], new[prefix]) {
		prefix++
	}
	suffix := 0
	for suffix < len(old)-prefix && suffix < len(new)-prefix &&
		serde.Equal(old[len(old)-1-suffix], new[len(new)-1-suffix]) {
		suffix++
	}

	out := serde.Map{}
	var deleted serde.List
	for i := len(old) - suffix - 1; i >= prefix; i-- {
		deleted = append(deleted, i)
	}
	var inserted serde.List
	for i := prefix; i < len(new)-suffix; i++ {
		inserted = append(inserted, serde.List{i, new[i]})
	}
	if len(deleted) > 0 {
		out[domain.SymDelete] = deleted
	}
	if len(inserted) > 0 {
		out[domain.SymInsert] = inserted
	}
	return out
}

func diffSets(old, new *serde.Set) serde.Map {
	out := serde.Map{}
	added := serde.NewSet()
	for _, e := range new.Elems() {
		if !old.Contains(e) {
			added.Add(e)
		}
	}
	discarded := serde.NewSet()
	for _, e := range old.Elems() {
		if !new.Contains(e) {
			discarded.Add(e)
		}
	}
	if added.Len() > 0 {
		out[domain.SymAdd] = added
	}
	if discarded.Len() > 0 {
		out[domain.SymDiscard] = discarded
	}
	return out
}
