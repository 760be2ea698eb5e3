// Package cpematch proposes CPE URIs whose vendor, product and version
// plausibly denote the same product as a certificate. Matching is
// fuzzy-string based with an explicit ladder of relaxation passes.
package cpematch

import (
	"sort"
	"strings"

	fuzzy "github.com/paul-mannino/go-fuzzywuzzy"
	"github.com/seccorpus/certmap/internal/core/domain"
)

const (
	// DefaultThreshold is the minimum score a candidate must reach.
	DefaultThreshold = 80
	// relaxedVersionThreshold applies in the relax-version pass, where
	// only the version-less dictionary entries are in play and only
	// near-exact titles count.
	relaxedVersionThreshold = 100
	// DefaultMaxMatches caps the returned list.
	DefaultMaxMatches = 10
	// minItemNameLen filters dictionary entries whose item name is so
	// short that they match nearly everything.
	minItemNameLen = 4
)

type pass struct {
	threshold    int
	relaxTitle   bool
	relaxVersion bool
}

// Matcher indexes the CPE universe for per-certificate prediction.
type Matcher struct {
	vendors          map[string]struct{}
	versionsByVendor map[string]map[string]struct{}
	byVendorVersion  map[string]map[string][]domain.CPE
	threshold        int
	maxMatches       int
}

// NewMatcher builds the vendor/version indices once from the CPE
// universe. Entries with very short item names are dropped.
func NewMatcher(cpes []domain.CPE, threshold, maxMatches int) *Matcher {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if maxMatches <= 0 {
		maxMatches = DefaultMaxMatches
	}
	m := &Matcher{
		vendors:          make(map[string]struct{}),
		versionsByVendor: make(map[string]map[string]struct{}),
		byVendorVersion:  make(map[string]map[string][]domain.CPE),
		threshold:        threshold,
		maxMatches:       maxMatches,
	}
	for _, cpe := range cpes {
		if len(cpe.ItemName) < minItemNameLen {
			continue
		}
		vendor := Sanitize(cpe.Vendor)
		m.vendors[vendor] = struct{}{}
		if m.versionsByVendor[vendor] == nil {
			m.versionsByVendor[vendor] = make(map[string]struct{})
			m.byVendorVersion[vendor] = make(map[string][]domain.CPE)
		}
		m.versionsByVendor[vendor][cpe.Version] = struct{}{}
		m.byVendorVersion[vendor][cpe.Version] = append(m.byVendorVersion[vendor][cpe.Version], cpe)
	}
	return m
}

// Predict returns up to maxMatches CPE URIs ordered by score, or nil
// when no candidate reaches the threshold in any pass. Unknown vendors
// and products are a nil result, not an error.
func (m *Matcher) Predict(vendor, product string, versions []string) []string {
	passes := []pass{
		{threshold: m.threshold},
		{threshold: m.threshold, relaxTitle: true},
		{threshold: relaxedVersionThreshold, relaxTitle: true, relaxVersion: true},
	}
	for _, p := range passes {
		if uris := m.predict(vendor, product, versions, p); len(uris) > 0 {
			return uris
		}
	}
	return nil
}

type scored struct {
	uri   string
	score int
}

func (m *Matcher) predict(vendor, product string, versions []string, p pass) []string {
	candVendors := m.candidateVendors(vendor)
	if len(candVendors) == 0 {
		return nil
	}
	productSan := Sanitize(product)

	best := make(map[string]int)
	for _, cv := range candVendors {
		for _, ver := range m.candidateVersions(cv, versions, p.relaxVersion) {
			for _, cpe := range m.byVendorVersion[cv][ver] {
				score := m.score(productSan, cv, versions, cpe, p.relaxTitle)
				if score < p.threshold {
					continue
				}
				if score > best[cpe.URI] {
					best[cpe.URI] = score
				}
			}
		}
	}
	if len(best) == 0 {
		return nil
	}

	ranked := make([]scored, 0, len(best))
	for uri, score := range best {
		ranked = append(ranked, scored{uri: uri, score: score})
	}
	sort.Slice(ranked, func(i, j int) bool {
		if ranked[i].score != ranked[j].score {
			return ranked[i].score > ranked[j].score
		}
		return ranked[i].uri < ranked[j].uri
	})
	if len(ranked) > m.maxMatches {
		ranked = ranked[:m.maxMatches]
	}
	uris := make([]string, len(ranked))
	for i, r := range ranked {
		uris[i] = r.uri
	}
	return uris
}

// score is max(token_set_ratio, partial_ratio) against the CPE title;
// the relax-title variant additionally scores the vendor+version
// stripped product name against the bare item name.
func (m *Matcher) score(productSan, vendor string, versions []string, cpe domain.CPE, relaxTitle bool) int {
	titleSan := Sanitize(cpe.Title)
	score := fuzzy.TokenSetRatio(productSan, titleSan)
	if s := fuzzy.PartialRatio(productSan, titleSan); s > score {
		score = s
	}
	if relaxTitle {
		stripped := stripVendorVersions(productSan, vendor, versions)
		itemSan := Sanitize(cpe.ItemName)
		if s := fuzzy.TokenSetRatio(stripped, itemSan); s > score {
			score = s
		}
		if s := fuzzy.PartialRatio(stripped, itemSan); s > score {
			score = s
		}
	}
	return score
}

// candidateVendors resolves the certificate vendor to known dictionary
// vendors: direct hit, comma/slash components, leading-token prefixes
// and the alias table. Splitting happens on the raw string because
// sanitization erases the separators.
func (m *Matcher) candidateVendors(vendor string) []string {
	found := make(map[string]struct{})
	m.collectVendors(vendor, found, 0)
	out := make([]string, 0, len(found))
	for v := range found {
		out = append(out, v)
	}
	sort.Strings(out)
	return out
}

func (m *Matcher) collectVendors(raw string, found map[string]struct{}, depth int) {
	if depth > 3 {
		return
	}
	san := Sanitize(raw)
	if san == "" {
		return
	}
	if _, ok := m.vendors[san]; ok {
		found[san] = struct{}{}
	}
	if alias, ok := vendorAliases[san]; ok {
		if _, known := m.vendors[alias]; known {
			found[alias] = struct{}{}
		}
	}
	if strings.ContainsAny(raw, ",/") {
		for _, part := range strings.FieldsFunc(raw, func(r rune) bool { return r == ',' || r == '/' }) {
			m.collectVendors(part, found, depth+1)
		}
	}
	tokens := strings.Fields(san)
	if len(tokens) > 1 {
		m.collectVendors(tokens[0], found, depth+1)
		if len(tokens) > 2 {
			m.collectVendors(tokens[0]+" "+tokens[1], found, depth+1)
		}
	}
}

// candidateVersions intersects the vendor's known versions with the
// certificate's extracted versions. The relax-version pass collapses
// the constraint to the "-" placeholder: version-specific entries of
// other versions never become candidates.
func (m *Matcher) candidateVersions(vendor string, versions []string, relax bool) []string {
	known := m.versionsByVendor[vendor]
	if relax {
		if _, ok := known[domain.VersionNA]; ok {
			return []string{domain.VersionNA}
		}
		return nil
	}
	if len(versions) == 0 {
		// No extracted versions: only the "not applicable" marker can
		// pair up.
		if _, ok := known[domain.VersionNA]; ok {
			return []string{domain.VersionNA}
		}
		return nil
	}
	var out []string
	seen := make(map[string]struct{})
	for kv := range known {
		for _, cv := range versions {
			if versionsCompatible(kv, cv) {
				if _, dup := seen[kv]; !dup {
					seen[kv] = struct{}{}
					out = append(out, kv)
				}
				break
			}
		}
	}
	sort.Strings(out)
	return out
}

func stripVendorVersions(productSan, vendor string, versions []string) string {
	tokens := strings.Fields(productSan)
	drop := make(map[string]struct{})
	for _, t := range strings.Fields(vendor) {
		drop[t] = struct{}{}
	}
	for _, v := range versions {
		for _, t := range strings.Fields(Sanitize(v)) {
			drop[t] = struct{}{}
		}
	}
	var kept []string
	for _, t := range tokens {
		if _, ok := drop[t]; ok {
			continue
		}
		kept = append(kept, t)
	}
	return strings.Join(kept, " ")
}
