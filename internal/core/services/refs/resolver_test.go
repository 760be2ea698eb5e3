package refs

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/services/canonical"
	"github.com/seccorpus/certmap/internal/serde"
)

func testCanon(t *testing.T) *canonical.Canonicalizer {
	t.Helper()
	table, err := canonical.CompileRules(map[string][]string{
		"DE": {`ID-[A-Z]`},
	})
	require.NoError(t, err)
	return canonical.New(table)
}

// refCert builds a certificate whose report mentions the given ids.
func refCert(t *testing.T, name, certID string, mentions ...string) *domain.Certificate {
	t.Helper()
	cert, err := domain.NewCertificate(domain.SchemeDE, "ICs", name, "Acme",
		fmt.Sprintf("https://x/%s-r.pdf", name), fmt.Sprintf("https://x/%s-s.pdf", name))
	require.NoError(t, err)
	cert.Heuristics.CertID = certID

	matches := make(map[string]int)
	for _, id := range mentions {
		matches[id] = 1
	}
	cert.PDFData.Report = &domain.DocumentData{
		Keywords: domain.KeywordMap{
			canonical.CertIDCategory: {"cert_id": matches},
		},
	}
	return cert
}

func TestResolveTransitiveClosure(t *testing.T) {
	// X -> Y -> Z through report mentions.
	x := refCert(t, "x", "ID-X", "ID-Y")
	y := refCert(t, "y", "ID-Y", "ID-Z")
	z := refCert(t, "z", "ID-Z")
	certs := []*domain.Certificate{x, y, z}

	r := NewResolver(testCanon(t), false)
	result := r.Resolve(certs)
	require.Len(t, result.Collisions, 0)

	assert.Equal(t, []string{y.DGST()}, x.Heuristics.ReportRefs.DirectlyReferencing.Strings())
	assert.ElementsMatch(t, []string{y.DGST(), z.DGST()}, x.Heuristics.ReportRefs.IndirectlyReferencing.Strings())
	assert.ElementsMatch(t, []string{x.DGST(), y.DGST()}, z.Heuristics.ReportRefs.IndirectlyReferencedBy.Strings())

	// Direct edges appear inverted on the target.
	assert.Contains(t, y.Heuristics.ReportRefs.DirectlyReferencedBy.Strings(), x.DGST())

	// Direct is a subset of indirect.
	for _, c := range certs {
		for _, dgst := range c.Heuristics.ReportRefs.DirectlyReferencing.Strings() {
			assert.True(t, c.Heuristics.ReportRefs.IndirectlyReferencing.Contains(dgst))
		}
	}
}

func TestResolveCycleTolerated(t *testing.T) {
	a := refCert(t, "a", "ID-A", "ID-B")
	b := refCert(t, "b", "ID-B", "ID-A")

	r := NewResolver(testCanon(t), false)
	r.Resolve([]*domain.Certificate{a, b})

	// No self loops from the cycle.
	assert.False(t, a.Heuristics.ReportRefs.IndirectlyReferencing.Contains(a.DGST()))
	assert.True(t, a.Heuristics.ReportRefs.IndirectlyReferencing.Contains(b.DGST()))
}

func TestResolveSelfReferenceDropped(t *testing.T) {
	a := refCert(t, "a", "ID-A", "ID-A", "ID-B")
	b := refCert(t, "b", "ID-B")

	r := NewResolver(testCanon(t), false)
	r.Resolve([]*domain.Certificate{a, b})

	assert.Equal(t, []string{b.DGST()}, a.Heuristics.ReportRefs.DirectlyReferencing.Strings())
}

func TestResolveEmptySetsNeverNil(t *testing.T) {
	a := refCert(t, "a", "ID-A")
	r := NewResolver(testCanon(t), false)
	r.Resolve([]*domain.Certificate{a})

	sets := a.Heuristics.ReportRefs
	for _, s := range []*serde.Set{
		sets.DirectlyReferencing, sets.DirectlyReferencedBy,
		sets.IndirectlyReferencing, sets.IndirectlyReferencedBy,
	} {
		require.NotNil(t, s)
		assert.Equal(t, 0, s.Len())
	}
}

func TestResolveDanglingRefs(t *testing.T) {
	a := refCert(t, "a", "ID-A", "ID-Q")

	keep := NewResolver(testCanon(t), true)
	keep.Resolve([]*domain.Certificate{a})
	assert.Equal(t, []string{"ID-Q"}, a.Heuristics.DanglingRefs)

	a.Heuristics.DanglingRefs = nil
	drop := NewResolver(testCanon(t), false)
	drop.Resolve([]*domain.Certificate{a})
	assert.Empty(t, a.Heuristics.DanglingRefs)
}

func TestResolveCollisionOlderWins(t *testing.T) {
	older := refCert(t, "older", "ID-A")
	newer := refCert(t, "newer", "ID-A")
	d1 := serde.NewDate(2019, 1, 1)
	d2 := serde.NewDate(2022, 6, 1)
	older.NotValidBefore = &d1
	newer.NotValidBefore = &d2

	source := refCert(t, "source", "ID-B", "ID-A")

	r := NewResolver(testCanon(t), false)
	result := r.Resolve([]*domain.Certificate{older, newer, source})

	require.Len(t, result.Collisions, 1)
	assert.Equal(t, older.DGST(), result.Collisions[0].Winner)
	assert.Equal(t, older.DGST(), result.Index["ID-A"])
	assert.Equal(t, []string{older.DGST()}, source.Heuristics.ReportRefs.DirectlyReferencing.Strings())
}

func TestResolveCollisionNilDateLoses(t *testing.T) {
	dated := refCert(t, "dated", "ID-A")
	d := serde.NewDate(2021, 3, 1)
	dated.NotValidBefore = &d
	undated := refCert(t, "undated", "ID-A")

	r := NewResolver(testCanon(t), false)
	result := r.Resolve([]*domain.Certificate{dated, undated})
	assert.Equal(t, dated.DGST(), result.Index["ID-A"])
}
