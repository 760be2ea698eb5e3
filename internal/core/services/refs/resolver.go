// Package refs turns the identifiers a certificate mentions into a
// directed graph over the canonical certificate population and exposes
// the direct and transitive reference closures in both directions.
package refs

import (
	"log/slog"
	"sort"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/services/canonical"
	"github.com/seccorpus/certmap/internal/serde"
)

// EdgeKind distinguishes report-derived from target-derived edges.
type EdgeKind string

const (
	EdgeReport EdgeKind = "report"
	EdgeST     EdgeKind = "st"
)

// Collision records two digests claiming the same canonical id. Both
// sides are kept for audit; the winner stays in the index.
type Collision struct {
	CertID string
	Winner string
	Loser  string
}

// Resolver resolves mentioned identifiers against the canonical cert
// population.
type Resolver struct {
	canon        *canonical.Canonicalizer
	keepUnknowns bool
}

// NewResolver builds a resolver. With keepUnknowns, ids that match no
// known digest are retained on the certificate's dangling list instead
// of being dropped silently.
func NewResolver(canon *canonical.Canonicalizer, keepUnknowns bool) *Resolver {
	return &Resolver{canon: canon, keepUnknowns: keepUnknowns}
}

// Result carries the id index and any collisions found while building
// it.
type Result struct {
	Index      map[string]string // canonical cert id -> digest
	Collisions []Collision
}

// Resolve computes all four reference sets per certificate and edge
// kind, writing them onto each certificate's heuristics. Certificates
// without a canonical id emit no edges but may still be referenced.
func (r *Resolver) Resolve(certs []*domain.Certificate) *Result {
	sorted := make([]*domain.Certificate, len(certs))
	copy(sorted, certs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DGST() < sorted[j].DGST() })

	result := r.buildIndex(sorted)

	for _, kind := range []EdgeKind{EdgeReport, EdgeST} {
		out := r.directEdges(sorted, kind, result.Index)
		in := invert(out)
		indirectOut := closure(out)
		indirectIn := invert(indirectOut)

		for _, c := range sorted {
			dgst := c.DGST()
			sets := domain.RefSets{
				DirectlyReferencing:    toSet(out[dgst]),
				DirectlyReferencedBy:   toSet(in[dgst]),
				IndirectlyReferencing:  toSet(indirectOut[dgst]),
				IndirectlyReferencedBy: toSet(indirectIn[dgst]),
			}
			switch kind {
			case EdgeReport:
				c.Heuristics.ReportRefs = sets
			case EdgeST:
				c.Heuristics.STRefs = sets
			}
		}
	}

	for _, c := range sorted {
		c.Heuristics.DanglingRefs = dedupe(c.Heuristics.DanglingRefs)
	}
	return result
}

// buildIndex maps canonical ids to digests. When two digests claim the
// same id, the certificate with the older not-valid-before date wins;
// a missing date loses, a residual tie falls back to the smaller
// digest.
func (r *Resolver) buildIndex(sorted []*domain.Certificate) *Result {
	result := &Result{Index: make(map[string]string)}
	byDgst := make(map[string]*domain.Certificate, len(sorted))
	for _, c := range sorted {
		byDgst[c.DGST()] = c
	}
	for _, c := range sorted {
		id := c.Heuristics.CertID
		if id == "" {
			continue
		}
		dgst := c.DGST()
		existing, taken := result.Index[id]
		if !taken {
			result.Index[id] = dgst
			continue
		}
		winner, loser := existing, dgst
		if olderFirst(c, byDgst[existing]) {
			winner, loser = dgst, existing
		}
		slog.Warn("cert id claimed by two digests",
			"cert_id", id, "winner", winner, "loser", loser)
		result.Index[id] = winner
		result.Collisions = append(result.Collisions, Collision{CertID: id, Winner: winner, Loser: loser})
	}
	return result
}

func olderFirst(a, b *domain.Certificate) bool {
	av, bv := a.NotValidBefore, b.NotValidBefore
	switch {
	case av == nil && bv == nil:
		return a.DGST() < b.DGST()
	case av == nil:
		return false
	case bv == nil:
		return true
	case !av.Time.Equal(bv.Time):
		return av.Before(*bv)
	default:
		return a.DGST() < b.DGST()
	}
}

func (r *Resolver) directEdges(sorted []*domain.Certificate, kind EdgeKind, index map[string]string) map[string]map[string]struct{} {
	out := make(map[string]map[string]struct{})
	for _, c := range sorted {
		if c.Heuristics.CertID == "" {
			continue
		}
		doc := c.PDFData.Report
		if kind == EdgeST {
			doc = c.PDFData.ST
		}
		if doc == nil || doc.Keywords == nil {
			continue
		}
		dgst := c.DGST()
		for _, matches := range doc.Keywords[canonical.CertIDCategory] {
			for raw := range matches {
				id, ok := r.canon.Canonicalize(raw, c.Scheme)
				if !ok || id == c.Heuristics.CertID {
					continue
				}
				target, known := index[id]
				if !known {
					if r.keepUnknowns {
						c.Heuristics.DanglingRefs = append(c.Heuristics.DanglingRefs, id)
					}
					continue
				}
				if target == dgst {
					continue
				}
				if out[dgst] == nil {
					out[dgst] = make(map[string]struct{})
				}
				out[dgst][target] = struct{}{}
			}
		}
	}
	return out
}

// closure computes the transitive closure by iterated union. Cycles
// are tolerated: the iteration stabilizes once a full pass adds no new
// member. Self loops introduced by cycles are not reported.
func closure(direct map[string]map[string]struct{}) map[string]map[string]struct{} {
	indirect := make(map[string]map[string]struct{}, len(direct))
	for n, outs := range direct {
		indirect[n] = make(map[string]struct{}, len(outs))
		for m := range outs {
			indirect[n][m] = struct{}{}
		}
	}
	for changed := true; changed; {
		changed = false
		for n, outs := range indirect {
			reached := make([]string, 0, len(outs))
			for m := range outs {
				reached = append(reached, m)
			}
			for _, m := range reached {
				for k := range indirect[m] {
					if k == n {
						continue
					}
					if _, ok := outs[k]; !ok {
						outs[k] = struct{}{}
						changed = true
					}
				}
			}
		}
	}
	return indirect
}

func invert(edges map[string]map[string]struct{}) map[string]map[string]struct{} {
	in := make(map[string]map[string]struct{})
	for from, tos := range edges {
		for to := range tos {
			if in[to] == nil {
				in[to] = make(map[string]struct{})
			}
			in[to][from] = struct{}{}
		}
	}
	return in
}

func toSet(m map[string]struct{}) *serde.Set {
	s := serde.NewSet()
	for k := range m {
		s.Add(k)
	}
	return s
}

func dedupe(items []string) []string {
	if len(items) == 0 {
		return nil
	}
	seen := make(map[string]struct{}, len(items))
	var out []string
	for _, it := range items {
		if _, ok := seen[it]; ok {
			continue
		}
		seen[it] = struct{}{}
		out = append(out, it)
	}
	sort.Strings(out)
	return out
}
