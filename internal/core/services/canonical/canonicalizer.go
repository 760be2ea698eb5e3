// Package canonical picks one canonical identifier per certificate
// from the ambiguous candidate strings the other components surface.
package canonical

import (
	"sort"
	"strings"

	"github.com/seccorpus/certmap/internal/core/domain"
)

// CertIDCategory is the keyword-map category holding cert-id matches.
const CertIDCategory = "cc_cert_id"

// Source weights. Candidates come from four sources of increasing
// trust; occurrence counts are scaled by the source weight.
const (
	weightReport    = 1.0
	weightST        = 1.2
	weightFilename  = 5.0
	weightFrontpage = 10.0
)

// Canonicalizer applies the per-scheme rule table to candidate id
// strings and selects the winner by weighted vote.
type Canonicalizer struct {
	rules RuleTable
}

// New builds a canonicalizer over the given rule table.
func New(rules RuleTable) *Canonicalizer {
	return &Canonicalizer{rules: rules}
}

var idPrefixes = []string{"CERTIFICATE-", "CERTIFICATE "}

// Canonicalize normalizes a raw candidate and validates it against the
// scheme's id format. The result is a fixed point: canonicalizing a
// canonical id returns it unchanged.
func (c *Canonicalizer) Canonicalize(raw string, scheme domain.Scheme) (string, bool) {
	s := strings.Join(strings.Fields(raw), " ")
	for _, p := range idPrefixes {
		if len(s) > len(p) && strings.EqualFold(s[:len(p)], p) {
			s = s[len(p):]
		}
	}
	s = strings.TrimRight(strings.TrimSpace(s), ".,;:")
	for _, re := range c.rules[scheme] {
		if re.MatchString(s) {
			return s, true
		}
	}
	return "", false
}

type candidate struct {
	id     string
	weight float64
}

// Pick selects the canonical id for a certificate. Filename and
// frontpage candidates come from the scheme-specific collectors; the
// keyword candidates are read off the certificate's PDF data. An empty
// return means no candidate survived and the certificate is excluded
// from the reference graph as a source.
func (c *Canonicalizer) Pick(cert *domain.Certificate, filenameIDs, frontpageIDs []string) string {
	// A name that already carries a scheme-valid id wins outright.
	if id := c.idInName(cert); id != "" {
		return id
	}

	weights := make(map[string]float64)
	c.collectKeywords(weights, cert.PDFData.Report, cert.Scheme, weightReport)
	c.collectKeywords(weights, cert.PDFData.ST, cert.Scheme, weightST)
	for _, raw := range filenameIDs {
		if id, ok := c.Canonicalize(raw, cert.Scheme); ok {
			weights[id] += weightFilename
		}
	}
	for _, raw := range frontpageIDs {
		if id, ok := c.Canonicalize(raw, cert.Scheme); ok {
			weights[id] += weightFrontpage
		}
	}
	if len(weights) == 0 {
		return ""
	}

	cands := make([]candidate, 0, len(weights))
	for id, w := range weights {
		cands = append(cands, candidate{id: id, weight: w})
	}
	// Max weight wins; ties break to the longer string, then to
	// lexicographic order.
	sort.Slice(cands, func(i, j int) bool {
		if cands[i].weight != cands[j].weight {
			return cands[i].weight > cands[j].weight
		}
		if len(cands[i].id) != len(cands[j].id) {
			return len(cands[i].id) > len(cands[j].id)
		}
		return cands[i].id < cands[j].id
	})
	return cands[0].id
}

func (c *Canonicalizer) idInName(cert *domain.Certificate) string {
	var found []string
	if id, ok := c.Canonicalize(cert.Name, cert.Scheme); ok {
		found = append(found, id)
	}
	// Rules are anchored, so embedded ids are probed token-wise.
	for _, tok := range strings.Fields(cert.Name) {
		if id, ok := c.Canonicalize(tok, cert.Scheme); ok {
			found = append(found, id)
		}
	}
	if len(found) == 0 {
		return ""
	}
	sort.Slice(found, func(i, j int) bool {
		if len(found[i]) != len(found[j]) {
			return len(found[i]) > len(found[j])
		}
		return found[i] < found[j]
	})
	return found[0]
}

func (c *Canonicalizer) collectKeywords(weights map[string]float64, doc *domain.DocumentData, scheme domain.Scheme, factor float64) {
	if doc == nil || doc.Keywords == nil {
		return
	}
	for _, matches := range doc.Keywords[CertIDCategory] {
		for raw, count := range matches {
			if id, ok := c.Canonicalize(raw, scheme); ok {
				weights[id] += float64(count) * factor
			}
		}
	}
}
