package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/seccorpus/certmap/internal/serde"
)

// Query selects live records of a dataset by a JSON filter and writes
// them out, optionally reduced to a projection.
//
// The filter is a JSON object of dotted paths to required values, for
// example {"scheme":"DE","heuristics.cert_id":"BSI-DSZ-CC-1234-2024"}.
// The projection is a JSON array of dotted paths to keep.
func (a *App) Query(ctx context.Context, dataset, filterJSON, projectionJSON string, w io.Writer) error {
	filter := map[string]any{}
	if filterJSON != "" {
		if err := json.Unmarshal([]byte(filterJSON), &filter); err != nil {
			return fmt.Errorf("parsing filter: %w", err)
		}
	}
	var projection []string
	if projectionJSON != "" {
		if err := json.Unmarshal([]byte(projectionJSON), &projection); err != nil {
			return fmt.Errorf("parsing projection: %w", err)
		}
	}

	live, err := a.store.LiveAll(ctx, dataset)
	if err != nil {
		return err
	}
	dgsts := make([]string, 0, len(live))
	for dgst := range live {
		dgsts = append(dgsts, dgst)
	}
	sort.Strings(dgsts)

	var results []any
	for _, dgst := range dgsts {
		decoded, err := serde.Unmarshal(live[dgst])
		if err != nil {
			return fmt.Errorf("decoding %s: %w", dgst, err)
		}
		record, ok := decoded.(serde.Map)
		if !ok {
			continue
		}
		if !matches(record, filter) {
			continue
		}
		if len(projection) > 0 {
			results = append(results, project(record, projection))
		} else {
			results = append(results, record)
		}
	}
	return writeIndented(w, results)
}

func matches(record serde.Map, filter map[string]any) bool {
	for path, want := range filter {
		got, ok := lookup(record, path)
		if !ok || !serde.Equal(got, want) {
			return false
		}
	}
	return true
}

func project(record serde.Map, paths []string) serde.Map {
	out := serde.Map{}
	for _, path := range paths {
		if v, ok := lookup(record, path); ok {
			out[path] = v
		}
	}
	return out
}

// lookup walks a dotted path through nested mappings.
func lookup(record serde.Map, path string) (any, bool) {
	var cur any = record
	for _, part := range strings.Split(path, ".") {
		m, ok := cur.(serde.Map)
		if !ok {
			return nil, false
		}
		cur, ok = m[part]
		if !ok {
			return nil, false
		}
	}
	return cur, true
}

func writeIndented(w io.Writer, v any) error {
	data, err := serde.Marshal(v)
	if err != nil {
		return err
	}
	var buf any
	if err := json.Unmarshal(data, &buf); err != nil {
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(buf)
}
