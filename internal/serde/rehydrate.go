package serde

import "fmt"

// rehydrators maps a "_type" tag to a constructor for the concrete
// value. Domain packages register their types at init time.
var rehydrators = map[string]func(Map) (any, error){}

// RegisterType installs a rehydrator for class-typed mappings carrying
// the given "_type" tag.
func RegisterType(name string, fn func(Map) (any, error)) {
	rehydrators[name] = fn
}

// Rehydrate walks a decoded tree and replaces class-typed Maps with the
// concrete values their registered constructors produce. Children are
// rehydrated before their parent.
func Rehydrate(v any) (any, error) {
	switch t := v.(type) {
	case Map:
		out := make(Map, len(t))
		for k, val := range t {
			r, err := Rehydrate(val)
			if err != nil {
				return nil, err
			}
			out[k] = r
		}
		if name, ok := out["_type"].(string); ok {
			fn, known := rehydrators[name]
			if !known {
				return nil, fmt.Errorf("serde: no rehydrator for type %q", name)
			}
			return fn(out)
		}
		return out, nil
	case List:
		out := make(List, len(t))
		for i, val := range t {
			r, err := Rehydrate(val)
			if err != nil {
				return nil, err
			}
			out[i] = r
		}
		return out, nil
	case *Set:
		out := NewSet()
		for _, e := range t.Elems() {
			r, err := Rehydrate(e)
			if err != nil {
				return nil, err
			}
			out.Add(r)
		}
		return out, nil
	default:
		return v, nil
	}
}
