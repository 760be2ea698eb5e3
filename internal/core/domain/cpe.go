package domain

import (
	"fmt"
	"strings"

	"github.com/seccorpus/certmap/internal/serde"
)

// VersionNA is the canonical "not applicable" version marker. The
// dictionary strings "" and "*" are normalized to it on construction.
const VersionNA = "-"

// CPE is a frozen Common Platform Enumeration entry.
type CPE struct {
	CPEID    string
	URI      string
	Vendor   string
	ItemName string
	Version  string
	Title    string
}

// NewCPE parses a cpe:2.3 formatted URI and normalizes the version.
func NewCPE(cpeID, uri, title string) (CPE, error) {
	fields := splitCPEURI(uri)
	if len(fields) < 6 || fields[0] != "cpe" {
		return CPE{}, fmt.Errorf("malformed CPE URI %q", uri)
	}
	version := fields[5]
	if version == "" || version == "*" {
		version = VersionNA
	}
	return CPE{
		CPEID:    cpeID,
		URI:      uri,
		Vendor:   fields[3],
		ItemName: fields[4],
		Version:  version,
		Title:    title,
	}, nil
}

// splitCPEURI splits on unescaped colons; "\:" inside a component is
// kept literal.
func splitCPEURI(uri string) []string {
	var fields []string
	var cur strings.Builder
	escaped := false
	for _, r := range uri {
		switch {
		case escaped:
			cur.WriteRune(r)
			escaped = false
		case r == '\\':
			cur.WriteRune(r)
			escaped = true
		case r == ':':
			fields = append(fields, cur.String())
			cur.Reset()
		default:
			cur.WriteRune(r)
		}
	}
	fields = append(fields, cur.String())
	return fields
}

func (c CPE) ToCanonical() serde.Map {
	m := serde.Map{
		"_type":     "CPE",
		"cpe_id":    c.CPEID,
		"uri":       c.URI,
		"vendor":    c.Vendor,
		"item_name": c.ItemName,
		"version":   c.Version,
	}
	if c.Title != "" {
		m["title"] = c.Title
	}
	return m
}

// VersionBound is one end of a criteria version range.
type VersionBound struct {
	Including bool
	Version   string
}

// CPEMatchCriteria is one NVD match criterion. Equality and hashing
// are by CriteriaID.
type CPEMatchCriteria struct {
	Vulnerable   bool
	Criteria     string
	CriteriaID   string
	VersionStart *VersionBound
	VersionEnd   *VersionBound
}

func (c CPEMatchCriteria) ToCanonical() serde.Map {
	m := serde.Map{
		"_type":       "CPEMatchCriteria",
		"vulnerable":  c.Vulnerable,
		"criteria":    c.Criteria,
		"criteria_id": c.CriteriaID,
	}
	if c.VersionStart != nil {
		m["version_start"] = boundCanonical(*c.VersionStart)
	}
	if c.VersionEnd != nil {
		m["version_end"] = boundCanonical(*c.VersionEnd)
	}
	return m
}

func boundCanonical(b VersionBound) serde.List {
	kind := "excluding"
	if b.Including {
		kind = "including"
	}
	return serde.List{kind, b.Version}
}

// CPEMatchConfiguration is an AND-of-ORs over match criteria: the outer
// list is a conjunction, each inner list a disjunction. Expanded holds
// the per-conjunct CPE URI disjunctions computed once at build time
// from the match-string dictionary.
type CPEMatchConfiguration struct {
	Criteria [][]CPEMatchCriteria
	Expanded [][]string
}

// Matches reports whether the CPE URI set satisfies the expanded
// configuration: every conjunct must contribute at least one URI. An
// empty expanded conjunct is always false.
func (c *CPEMatchConfiguration) Matches(uris *serde.Set) bool {
	if len(c.Expanded) == 0 {
		return false
	}
	for _, disjunction := range c.Expanded {
		hit := false
		for _, uri := range disjunction {
			if uris.Contains(uri) {
				hit = true
				break
			}
		}
		if !hit {
			return false
		}
	}
	return true
}

func init() {
	serde.RegisterType("CPE", func(m serde.Map) (any, error) {
		return CPE{
			CPEID:    asString(m["cpe_id"]),
			URI:      asString(m["uri"]),
			Vendor:   asString(m["vendor"]),
			ItemName: asString(m["item_name"]),
			Version:  asString(m["version"]),
			Title:    asString(m["title"]),
		}, nil
	})
	serde.RegisterType("CPEMatchCriteria", func(m serde.Map) (any, error) {
		c := CPEMatchCriteria{
			Vulnerable: m["vulnerable"] == true,
			Criteria:   asString(m["criteria"]),
			CriteriaID: asString(m["criteria_id"]),
		}
		c.VersionStart = boundFrom(m["version_start"])
		c.VersionEnd = boundFrom(m["version_end"])
		return c, nil
	})
}

func boundFrom(v any) *VersionBound {
	l, ok := v.(serde.List)
	if !ok || len(l) != 2 {
		return nil
	}
	return &VersionBound{Including: asString(l[0]) == "including", Version: asString(l[1])}
}
