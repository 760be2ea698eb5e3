// Package serde implements the canonical JSON form used for every
// persisted record: deterministic key order, typed encodings for sets,
// dates and paths, and full-stop escaping in mapping keys. Diff
// computation and replay operate on the generic tree produced here, so
// encode/decode must round-trip byte-for-byte.
package serde

import (
	"encoding/json"
	"fmt"
	"sort"
	"strings"
	"time"
)

// Generic tree node types. A canonical document is built from Map, List,
// *Set, Date, Path and JSON scalars only.
type (
	Map  = map[string]any
	List = []any
)

// Path marks a filesystem path value.
type Path string

// Date is a calendar date without time-of-day.
type Date struct {
	Time time.Time
}

// NewDate builds a Date from year, month, day.
func NewDate(year int, month time.Month, day int) Date {
	return Date{Time: time.Date(year, month, day, 0, 0, 0, 0, time.UTC)}
}

// ParseDate parses a YYYY-MM-DD string.
func ParseDate(s string) (Date, error) {
	t, err := time.Parse("2006-01-02", s)
	if err != nil {
		return Date{}, fmt.Errorf("invalid date %q: %w", s, err)
	}
	return Date{Time: t}, nil
}

func (d Date) String() string     { return d.Time.Format("2006-01-02") }
func (d Date) IsZero() bool       { return d.Time.IsZero() }
func (d Date) Before(o Date) bool { return d.Time.Before(o.Time) }

// Set is an unordered collection with deterministic serialization.
// Elements are identified by their canonical encoding, so any
// marshalable value can be a member, including typed Maps.
type Set struct {
	elems map[string]any
}

// NewSet builds a set from the given elements.
func NewSet(items ...any) *Set {
	s := &Set{elems: make(map[string]any, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

// NewStringSet builds a set of strings.
func NewStringSet(items ...string) *Set {
	s := &Set{elems: make(map[string]any, len(items))}
	for _, it := range items {
		s.Add(it)
	}
	return s
}

func (s *Set) Add(v any)     { s.elems[mustKey(v)] = v }
func (s *Set) Discard(v any) { delete(s.elems, mustKey(v)) }

func (s *Set) Contains(v any) bool {
	_, ok := s.elems[mustKey(v)]
	return ok
}

func (s *Set) Len() int {
	if s == nil {
		return 0
	}
	return len(s.elems)
}

// Elems returns the elements sorted by their canonical encoding.
func (s *Set) Elems() []any {
	if s == nil {
		return nil
	}
	keys := make([]string, 0, len(s.elems))
	for k := range s.elems {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	out := make([]any, len(keys))
	for i, k := range keys {
		out[i] = s.elems[k]
	}
	return out
}

// Strings returns the elements as sorted strings. Non-string members
// are skipped.
func (s *Set) Strings() []string {
	var out []string
	for _, e := range s.Elems() {
		if str, ok := e.(string); ok {
			out = append(out, str)
		}
	}
	return out
}

// Clone returns an independent copy of the set.
func (s *Set) Clone() *Set {
	c := &Set{elems: make(map[string]any, len(s.elems))}
	for k, v := range s.elems {
		c.elems[k] = v
	}
	return c
}

func mustKey(v any) string {
	b, err := Marshal(v)
	if err != nil {
		panic(fmt.Sprintf("serde: unmarshalable set element %T: %v", v, err))
	}
	return string(b)
}

// escapeKey maps the literal "." in mapping keys to U+FF0E so that keys
// stay usable in stores that reserve the dot.
func escapeKey(k string) string   { return strings.ReplaceAll(k, ".", "．") }
func unescapeKey(k string) string { return strings.ReplaceAll(k, "．", ".") }

// Marshal encodes a canonical tree to deterministic JSON.
func Marshal(v any) ([]byte, error) {
	plain, err := encode(v)
	if err != nil {
		return nil, err
	}
	return json.Marshal(plain)
}

func encode(v any) (any, error) {
	switch t := v.(type) {
	case nil, bool, string, float64, float32, int, int8, int16, int32, int64, uint, uint8, uint16, uint32, uint64, json.Number:
		return t, nil
	case Map:
		out := make(map[string]any, len(t))
		for k, val := range t {
			enc, err := encode(val)
			if err != nil {
				return nil, fmt.Errorf("key %q: %w", k, err)
			}
			out[escapeKey(k)] = enc
		}
		return out, nil
	case List:
		out := make([]any, len(t))
		for i, val := range t {
			enc, err := encode(val)
			if err != nil {
				return nil, fmt.Errorf("index %d: %w", i, err)
			}
			out[i] = enc
		}
		return out, nil
	case *Set:
		elems := t.Elems()
		out := make([]any, len(elems))
		for i, e := range elems {
			enc, err := encode(e)
			if err != nil {
				return nil, err
			}
			out[i] = enc
		}
		return map[string]any{"_type": "set", "_value": out}, nil
	case Date:
		return map[string]any{"_type": "date", "_value": t.String()}, nil
	case Path:
		return map[string]any{"_type": "Path", "_value": string(t)}, nil
	default:
		if c, ok := v.(Canonicalizable); ok {
			return encode(c.ToCanonical())
		}
		return nil, fmt.Errorf("serde: unsupported type %T", v)
	}
}

// Canonicalizable lets domain types take part in canonical trees. The
// returned Map must carry the "_type" tag matching the registered
// rehydrator so the decoder can restore the concrete value.
type Canonicalizable interface {
	ToCanonical() Map
}

// Unmarshal decodes canonical JSON into a generic tree. Typed wrappers
// for sets, dates and paths are restored; class-typed mappings keep
// their "_type" tag and stay Maps until Rehydrate is called.
func Unmarshal(data []byte) (any, error) {
	var raw any
	if err := json.Unmarshal(data, &raw); err != nil {
		return nil, err
	}
	return decode(raw)
}

func decode(raw any) (any, error) {
	switch t := raw.(type) {
	case map[string]any:
		switch t["_type"] {
		case "set":
			items, _ := t["_value"].([]any)
			s := NewSet()
			for _, it := range items {
				dec, err := decode(it)
				if err != nil {
					return nil, err
				}
				s.Add(dec)
			}
			return s, nil
		case "date":
			str, _ := t["_value"].(string)
			return ParseDate(str)
		case "Path":
			str, _ := t["_value"].(string)
			return Path(str), nil
		}
		out := make(Map, len(t))
		for k, val := range t {
			dec, err := decode(val)
			if err != nil {
				return nil, err
			}
			out[unescapeKey(k)] = dec
		}
		return out, nil
	case []any:
		out := make(List, len(t))
		for i, val := range t {
			dec, err := decode(val)
			if err != nil {
				return nil, err
			}
			out[i] = dec
		}
		return out, nil
	default:
		return raw, nil
	}
}

// Equal reports whether two canonical trees serialize identically.
func Equal(a, b any) bool {
	ab, err := Marshal(a)
	if err != nil {
		return false
	}
	bb, err := Marshal(b)
	if err != nil {
		return false
	}
	return string(ab) == string(bb)
}

// Clone deep-copies a canonical tree through its serialized form.
func Clone(v any) (any, error) {
	b, err := Marshal(v)
	if err != nil {
		return nil, err
	}
	return Unmarshal(b)
}
