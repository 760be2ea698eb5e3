// Package keywords applies a regex rule catalog to certificate text
// and yields per-document keyword maps with occurrence counts.
package keywords

import (
	"fmt"
	"os"
	"regexp"
	"sort"
	"strings"

	"github.com/seccorpus/certmap/internal/core/domain"
)

// separatorClass is appended to every rule so that bare-prefix rules
// do not consume trailing tokens.
const separatorClass = `[ ,;\]”)(]`

// DefaultByteLimit bounds how much of a document is examined.
const DefaultByteLimit = 16 << 20

type compiledRule struct {
	label string
	res   []*regexp.Regexp
}

type compiledCategory struct {
	name  string
	rules []compiledRule
}

// Extractor is a stateless, regex-driven keyword extractor.
type Extractor struct {
	categories []compiledCategory
	limit      int
}

// NewExtractor compiles the catalog. Rule order within a label is
// preserved; categories and labels are processed in sorted order so
// the padding of earlier matches is deterministic.
func NewExtractor(catalog Catalog, limit int) (*Extractor, error) {
	if limit <= 0 {
		limit = DefaultByteLimit
	}
	e := &Extractor{limit: limit}
	catNames := make([]string, 0, len(catalog))
	for name := range catalog {
		catNames = append(catNames, name)
	}
	sort.Strings(catNames)
	for _, name := range catNames {
		cc := compiledCategory{name: name}
		labels := make([]string, 0, len(catalog[name]))
		for label := range catalog[name] {
			labels = append(labels, label)
		}
		sort.Strings(labels)
		for _, label := range labels {
			cr := compiledRule{label: label}
			for _, rule := range catalog[name][label] {
				re, err := regexp.Compile("(" + rule + ")" + separatorClass)
				if err != nil {
					return nil, fmt.Errorf("rule %s/%s: %w", name, label, err)
				}
				cr.res = append(cr.res, re)
			}
			cc.rules = append(cc.rules, cr)
		}
		e.categories = append(e.categories, cc)
	}
	return e, nil
}

// Extract runs the catalog over the text. It returns the keyword map
// and the sanitized text in which every matched substring has been
// replaced by fixed-width padding, so later rules cannot straddle
// earlier matches. Absence of any match yields an empty map.
func (e *Extractor) Extract(text string) (domain.KeywordMap, string) {
	if len(text) > e.limit {
		text = text[:e.limit]
	}
	work := []byte(tolerantClean(text) + " ")

	result := make(domain.KeywordMap)
	for _, cat := range e.categories {
		for _, rule := range cat.rules {
			for _, re := range rule.res {
				current := string(work)
				for _, m := range re.FindAllStringSubmatchIndex(current, -1) {
					start, end := m[2], m[3]
					match := normalizeMatch(current[start:end])
					if match == "" {
						continue
					}
					if result[cat.name] == nil {
						result[cat.name] = make(map[string]map[string]int)
					}
					if result[cat.name][rule.label] == nil {
						result[cat.name][rule.label] = make(map[string]int)
					}
					result[cat.name][rule.label][match]++
					for i := start; i < end; i++ {
						work[i] = '_'
					}
				}
			}
		}
	}
	return result, string(work[:len(work)-1])
}

// ExtractFile reads a text rendering from disk and extracts keywords.
// Unreadable files are reported through the error, never a panic.
func (e *Extractor) ExtractFile(path string) (domain.KeywordMap, string, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, "", &domain.ExtractError{Path: path, Reason: err.Error()}
	}
	km, sanitized := e.Extract(string(data))
	return km, sanitized, nil
}

// tolerantClean drops invalid UTF-8 line by line instead of failing
// the whole document.
func tolerantClean(text string) string {
	lines := strings.Split(text, "\n")
	for i, line := range lines {
		lines[i] = strings.ToValidUTF8(line, "")
	}
	return strings.Join(lines, "\n")
}

const trailingPunct = ".,;:\"')”"

// normalizeMatch strips surrounding whitespace and trailing
// punctuation, and collapses internal double spaces.
func normalizeMatch(s string) string {
	s = strings.TrimSpace(s)
	s = strings.TrimRight(s, trailingPunct)
	for strings.Contains(s, "  ") {
		s = strings.ReplaceAll(s, "  ", " ")
	}
	return s
}
