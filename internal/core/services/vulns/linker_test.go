package vulns

import (
	"context"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

const (
	cpeX = "cpe:2.3:a:acme:x:1.0:*:*:*:*:*:*:*"
	cpeY = "cpe:2.3:a:acme:y:1.0:*:*:*:*:*:*:*"
	cpeZ = "cpe:2.3:a:acme:z:1.0:*:*:*:*:*:*:*"
)

func expandedCVE(id string, conjuncts ...[]string) domain.CVE {
	return domain.CVE{
		ID:             id,
		Configurations: []*domain.CPEMatchConfiguration{{Expanded: conjuncts}},
	}
}

func TestDirectCVEsByVulnerableList(t *testing.T) {
	l := NewLinker([]domain.CVE{
		{ID: "CVE-2020-0001", VulnerableCPEs: []string{cpeX}},
		{ID: "CVE-2020-0002", VulnerableCPEs: []string{cpeY}},
	})

	got := l.DirectCVEs(serde.NewStringSet(cpeX, cpeZ))
	assert.Equal(t, []string{"CVE-2020-0001"}, got.Strings())
}

func TestDirectCVEsAndOfOrs(t *testing.T) {
	// Configuration [[A,B],[C]] where A={X}, B={Y}, C={Z}.
	cve := expandedCVE("CVE-2021-1111", []string{cpeX, cpeY}, []string{cpeZ})
	l := NewLinker([]domain.CVE{cve})

	tests := []struct {
		name    string
		matches *serde.Set
		linked  bool
	}{
		{"both conjuncts satisfied", serde.NewStringSet(cpeX, cpeZ), true},
		{"second conjunct satisfied via Y", serde.NewStringSet(cpeY, cpeZ), true},
		{"first conjunct only", serde.NewStringSet(cpeX), false},
		{"second conjunct only", serde.NewStringSet(cpeZ), false},
		{"empty", serde.NewSet(), false},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := l.DirectCVEs(tt.matches)
			if tt.linked {
				assert.Equal(t, []string{"CVE-2021-1111"}, got.Strings())
			} else {
				assert.Empty(t, got.Strings())
			}
		})
	}
}

func TestEmptyExpandedConjunctIsAlwaysFalse(t *testing.T) {
	cve := expandedCVE("CVE-2021-2222", []string{cpeX}, nil)
	l := NewLinker([]domain.CVE{cve})
	assert.Empty(t, l.DirectCVEs(serde.NewStringSet(cpeX, cpeZ)).Strings())
}

func linkCert(t *testing.T, name string, matches ...string) *domain.Certificate {
	t.Helper()
	cert, err := domain.NewCertificate(domain.SchemeDE, "ICs", name, "Acme",
		"https://x/"+name+"-r.pdf", "https://x/"+name+"-s.pdf")
	require.NoError(t, err)
	for _, m := range matches {
		cert.Heuristics.CPEMatches.Add(m)
	}
	return cert
}

func TestLinkTransitive(t *testing.T) {
	a := linkCert(t, "a", cpeX)
	b := linkCert(t, "b", cpeY)
	c := linkCert(t, "c", cpeZ)

	// a -> b directly, a -> c indirectly.
	a.Heuristics.ReportRefs.DirectlyReferencing.Add(b.DGST())
	a.Heuristics.ReportRefs.IndirectlyReferencing.Add(b.DGST())
	a.Heuristics.ReportRefs.IndirectlyReferencing.Add(c.DGST())

	l := NewLinker([]domain.CVE{
		{ID: "CVE-X", VulnerableCPEs: []string{cpeX}},
		{ID: "CVE-Y", VulnerableCPEs: []string{cpeY}},
		{ID: "CVE-Z", VulnerableCPEs: []string{cpeZ}},
	})
	l.Link([]*domain.Certificate{a, b, c})

	assert.Equal(t, []string{"CVE-X"}, a.Heuristics.RelatedCVEs.Strings())
	assert.ElementsMatch(t, []string{"CVE-X", "CVE-Y"}, a.Heuristics.DirectTransitiveCVEs.Strings())
	assert.ElementsMatch(t, []string{"CVE-Y", "CVE-Z"}, a.Heuristics.IndirectTransitiveCVEs.Strings())

	// Leaf certificates only carry their own CVEs.
	assert.Equal(t, []string{"CVE-Z"}, c.Heuristics.DirectTransitiveCVEs.Strings())
	assert.Empty(t, c.Heuristics.IndirectTransitiveCVEs.Strings())
}

type mapDictionary map[string][]string

func (d mapDictionary) Expand(_ context.Context, criteriaID string) ([]string, error) {
	uris, ok := d[criteriaID]
	if !ok {
		return nil, &domain.MissingExpansionError{CriteriaID: criteriaID}
	}
	return uris, nil
}

func TestExpandConfigurations(t *testing.T) {
	cves := []domain.CVE{{
		ID: "CVE-2022-3333",
		Configurations: []*domain.CPEMatchConfiguration{{
			Criteria: [][]domain.CPEMatchCriteria{
				{{CriteriaID: "crit-a"}, {CriteriaID: "crit-b"}},
				{{CriteriaID: "crit-missing"}},
			},
		}},
	}}
	dict := mapDictionary{
		"crit-a": {cpeX},
		"crit-b": {cpeY, "cpe:2.3:a:other:w:1.0:*:*:*:*:*:*:*"},
	}
	corpus := serde.NewStringSet(cpeX, cpeY, cpeZ)

	require.NoError(t, ExpandConfigurations(context.Background(), cves, dict, corpus))

	cfg := cves[0].Configurations[0]
	require.Len(t, cfg.Expanded, 2)
	assert.ElementsMatch(t, []string{cpeX, cpeY}, cfg.Expanded[0])
	// Missing criteria contribute nothing; the conjunct stays empty.
	assert.Empty(t, cfg.Expanded[1])
}
