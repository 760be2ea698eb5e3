package snapshot

import (
	"fmt"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

// Apply applies a structural diff to a canonical tree and returns the
// resulting tree. The input is not modified.
func Apply(tree serde.Map, diff serde.Map) (serde.Map, error) {
	cloned, err := serde.Clone(tree)
	if err != nil {
		return nil, err
	}
	target, ok := cloned.(serde.Map)
	if !ok {
		return nil, fmt.Errorf("snapshot: record root is %T, want mapping", cloned)
	}
	if err := applyMap(target, diff); err != nil {
		return nil, err
	}
	return target, nil
}

func applyMap(target serde.Map, diff serde.Map) error {
	if ins, ok := diff[domain.SymInsert].(serde.Map); ok {
		for k, v := range ins {
			target[k] = v
		}
	}
	if upd, ok := diff[domain.SymUpdate].(serde.Map); ok {
		for k, dv := range upd {
			nested, isMap := dv.(serde.Map)
			cur, exists := target[k]
			if !isMap || !isDiffNode(nested) || !exists {
				target[k] = dv
				continue
			}
			applied, err := applyValue(cur, nested)
			if err != nil {
				return fmt.Errorf("key %q: %w", k, err)
			}
			target[k] = applied
		}
	}
	if del, ok := diff[domain.SymDelete].(serde.List); ok {
		for _, k := range del {
			key, ok := k.(string)
			if !ok {
				return fmt.Errorf("snapshot: mapping delete key is %T, want string", k)
			}
			delete(target, key)
		}
	}
	return nil
}

func applyValue(cur any, diff serde.Map) (any, error) {
	switch c := cur.(type) {
	case serde.Map:
		if err := applyMap(c, diff); err != nil {
			return nil, err
		}
		return c, nil
	case serde.List:
		return applyList(c, diff)
	case *serde.Set:
		return applySet(c, diff), nil
	default:
		return nil, fmt.Errorf("snapshot: nested diff against scalar %T", cur)
	}
}

func applyList(cur serde.List, diff serde.Map) (serde.List, error) {
	out := make(serde.List, len(cur))
	copy(out, cur)
	if del, ok := diff[domain.SymDelete].(serde.List); ok {
		for _, raw := range del {
			i, err := asIndex(raw)
			if err != nil {
				return nil, err
			}
			if i < 0 || i >= len(out) {
				return nil, fmt.Errorf("snapshot: list delete index %d out of range", i)
			}
			out = append(out[:i], out[i+1:]...)
		}
	}
	if ins, ok := diff[domain.SymInsert].(serde.List); ok {
		for _, raw := range ins {
			pair, ok := raw.(serde.List)
			if !ok || len(pair) != 2 {
				return nil, fmt.Errorf("snapshot: list insert entry %v, want (pos, value)", raw)
			}
			i, err := asIndex(pair[0])
			if err != nil {
				return nil, err
			}
			if i < 0 || i > len(out) {
				return nil, fmt.Errorf("snapshot: list insert index %d out of range", i)
			}
			out = append(out[:i], append(serde.List{pair[1]}, out[i:]...)...)
		}
	}
	return out, nil
}

func applySet(cur *serde.Set, diff serde.Map) *serde.Set {
	out := cur.Clone()
	if add, ok := diff[domain.SymAdd].(*serde.Set); ok {
		for _, e := range add.Elems() {
			out.Add(e)
		}
	}
	if discard, ok := diff[domain.SymDiscard].(*serde.Set); ok {
		for _, e := range discard.Elems() {
			out.Discard(e)
		}
	}
	return out
}

// asIndex accepts both native ints and the float64 form JSON decoding
// produces.
func asIndex(v any) (int, error) {
	switch n := v.(type) {
	case int:
		return n, nil
	case float64:
		return int(n), nil
	default:
		return 0, fmt.Errorf("snapshot: list index is %T, want number", v)
	}
}

// Replay reconstructs a digest's live record from its diff log in
// timestamp order. The first diff must be of type new; change diffs
// apply structurally; remove and back carry no payload and only move
// the digest between the live and removed states.
func Replay(diffs []domain.DiffRecord) (serde.Map, error) {
	if len(diffs) == 0 {
		return nil, fmt.Errorf("snapshot: empty diff log")
	}
	var record serde.Map
	for i, d := range diffs {
		switch d.Type {
		case domain.DiffNew:
			decoded, err := serde.Unmarshal(d.Diff)
			if err != nil {
				return nil, fmt.Errorf("diff %d: %w", i, err)
			}
			m, ok := decoded.(serde.Map)
			if !ok {
				return nil, fmt.Errorf("diff %d: new payload is %T, want mapping", i, decoded)
			}
			record = m
		case domain.DiffChange:
			if record == nil {
				return nil, fmt.Errorf("diff %d: change before new", i)
			}
			decoded, err := serde.Unmarshal(d.Diff)
			if err != nil {
				return nil, fmt.Errorf("diff %d: %w", i, err)
			}
			diff, ok := decoded.(serde.Map)
			if !ok {
				return nil, fmt.Errorf("diff %d: change payload is %T, want mapping", i, decoded)
			}
			record, err = Apply(record, diff)
			if err != nil {
				return nil, fmt.Errorf("diff %d: %w", i, err)
			}
		case domain.DiffRemove, domain.DiffBack:
			// State transitions only, the record is untouched.
		default:
			return nil, fmt.Errorf("diff %d: unknown type %q", i, d.Type)
		}
	}
	if record == nil {
		return nil, fmt.Errorf("snapshot: diff log for digest %s has no new diff", diffs[0].DGST)
	}
	return record, nil
}

// Verify replays a digest's diff log and checks the result against the
// live record under canonical serialization.
func Verify(diffs []domain.DiffRecord, live []byte) error {
	replayed, err := Replay(diffs)
	if err != nil {
		return err
	}
	encoded, err := serde.Marshal(replayed)
	if err != nil {
		return err
	}
	if string(encoded) != string(live) {
		return &domain.ReplayMismatchError{DGST: diffs[0].DGST}
	}
	return nil
}
