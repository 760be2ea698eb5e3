// Package vulns derives the set of CVEs applicable to each certificate
// from its CPE matches and the reference graph.
package vulns

import (
	"context"
	"log/slog"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
	"github.com/seccorpus/certmap/internal/serde"
)

// ExpandConfigurations resolves every criteria id of every CVE against
// the match-string dictionary once, caching the per-conjunct CPE URI
// disjunctions on the configuration. When corpus is non-nil, expanded
// URIs are filtered to the universe actually present in the corpus. A
// missing criteria id leaves its contribution empty and is logged.
func ExpandConfigurations(ctx context.Context, cves []domain.CVE, dict ports.MatchDictionary, corpus *serde.Set) error {
	for i := range cves {
		for _, cfg := range cves[i].Configurations {
			cfg.Expanded = make([][]string, len(cfg.Criteria))
			for j, disjunction := range cfg.Criteria {
				var uris []string
				for _, crit := range disjunction {
					expanded, err := dict.Expand(ctx, crit.CriteriaID)
					if err != nil {
						slog.Warn("criteria id missing from match dictionary",
							"cve", cves[i].ID, "error", &domain.MissingExpansionError{CriteriaID: crit.CriteriaID})
						continue
					}
					for _, uri := range expanded {
						if corpus != nil && !corpus.Contains(uri) {
							continue
						}
						uris = append(uris, uri)
					}
				}
				cfg.Expanded[j] = uris
			}
		}
	}
	return ctx.Err()
}

// Linker computes CVE sets for certificates.
type Linker struct {
	cves  []domain.CVE
	byURI map[string][]int
}

// NewLinker indexes the CVE dataset by every CPE URI a CVE can match
// through, so per-certificate linking only evaluates candidates.
func NewLinker(cves []domain.CVE) *Linker {
	l := &Linker{cves: cves, byURI: make(map[string][]int)}
	for i, cve := range cves {
		seen := make(map[string]struct{})
		for _, uri := range cve.VulnerableCPEs {
			seen[uri] = struct{}{}
		}
		for _, cfg := range cve.Configurations {
			for _, disjunction := range cfg.Expanded {
				for _, uri := range disjunction {
					seen[uri] = struct{}{}
				}
			}
		}
		for uri := range seen {
			l.byURI[uri] = append(l.byURI[uri], i)
		}
	}
	return l
}

// DirectCVEs returns the CVE ids a CPE match set is linked to: either
// a directly vulnerable CPE URI intersects, or at least one match
// configuration is satisfied under AND-of-ORs semantics.
func (l *Linker) DirectCVEs(cpeMatches *serde.Set) *serde.Set {
	related := serde.NewSet()
	if cpeMatches.Len() == 0 {
		return related
	}
	candidates := make(map[int]struct{})
	for _, uri := range cpeMatches.Strings() {
		for _, idx := range l.byURI[uri] {
			candidates[idx] = struct{}{}
		}
	}
	for idx := range candidates {
		cve := l.cves[idx]
		if l.linked(cve, cpeMatches) {
			related.Add(cve.ID)
		}
	}
	return related
}

func (l *Linker) linked(cve domain.CVE, cpeMatches *serde.Set) bool {
	for _, uri := range cve.VulnerableCPEs {
		if cpeMatches.Contains(uri) {
			return true
		}
	}
	for _, cfg := range cve.Configurations {
		if cfg.Matches(cpeMatches) {
			return true
		}
	}
	return false
}

// Link writes related, direct-transitive and indirect-transitive CVE
// sets onto every certificate. Transitive sets follow the union of the
// report and target reference closures.
func (l *Linker) Link(certs []*domain.Certificate) {
	relatedBy := make(map[string]*serde.Set, len(certs))
	for _, c := range certs {
		related := l.DirectCVEs(c.Heuristics.CPEMatches)
		c.Heuristics.RelatedCVEs = related
		relatedBy[c.DGST()] = related
	}
	for _, c := range certs {
		direct := relatedBy[c.DGST()].Clone()
		for _, dgst := range unionStrings(
			c.Heuristics.ReportRefs.DirectlyReferencing,
			c.Heuristics.STRefs.DirectlyReferencing,
		) {
			mergeInto(direct, relatedBy[dgst])
		}
		c.Heuristics.DirectTransitiveCVEs = direct

		indirect := serde.NewSet()
		for _, dgst := range unionStrings(
			c.Heuristics.ReportRefs.IndirectlyReferencing,
			c.Heuristics.STRefs.IndirectlyReferencing,
		) {
			mergeInto(indirect, relatedBy[dgst])
		}
		c.Heuristics.IndirectTransitiveCVEs = indirect
	}
}

func unionStrings(sets ...*serde.Set) []string {
	seen := make(map[string]struct{})
	var out []string
	for _, s := range sets {
		for _, v := range s.Strings() {
			if _, ok := seen[v]; ok {
				continue
			}
			seen[v] = struct{}{}
			out = append(out, v)
		}
	}
	return out
}

func mergeInto(dst, src *serde.Set) {
	if src == nil {
		return
	}
	for _, v := range src.Strings() {
		dst.Add(v)
	}
}
