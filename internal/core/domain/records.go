package domain

import (
	"fmt"
	"regexp"
	"strconv"

	"github.com/seccorpus/certmap/internal/serde"
)

// MaintenanceReport is a frozen record of one maintenance update.
// Equality is by tuple; ordering is by date.
type MaintenanceReport struct {
	Date       serde.Date
	Title      string
	ReportLink string
	STLink     string
}

// Less orders maintenance reports by date, then title for stability.
func (m MaintenanceReport) Less(o MaintenanceReport) bool {
	if !m.Date.Time.Equal(o.Date.Time) {
		return m.Date.Before(o.Date)
	}
	return m.Title < o.Title
}

func (m MaintenanceReport) ToCanonical() serde.Map {
	return serde.Map{
		"_type":       "MaintenanceReport",
		"date":        m.Date,
		"title":       m.Title,
		"report_link": m.ReportLink,
		"st_link":     m.STLink,
	}
}

// ProtectionProfile is a frozen reusable requirement set a certificate
// may claim conformance to. Equality is on (name, link).
type ProtectionProfile struct {
	Name string
	EAL  string
	Link string
	IDs  []string
}

// DGST is the stable identity of a profile within the pp dataset.
func (p ProtectionProfile) DGST() string {
	return inProcessDigest(p.Name, p.Link)
}

func (p ProtectionProfile) ToCanonical() serde.Map {
	m := serde.Map{
		"_type": "ProtectionProfile",
		"name":  p.Name,
		"link":  p.Link,
	}
	if p.EAL != "" {
		m["eal"] = p.EAL
	}
	if len(p.IDs) > 0 {
		ids := make(serde.List, len(p.IDs))
		for i, id := range p.IDs {
			ids[i] = id
		}
		m["ids"] = ids
	}
	return m
}

var sarRe = regexp.MustCompile(`^([A-Z]{3}_[A-Z]{3,4}(?:_[A-Z]+)?)\.(\d+)$`)

// SAR is a security assurance requirement such as ALC_FLR.2, parsed
// into its family and level. The total order is lexicographic on the
// stringified form.
type SAR struct {
	Family string
	Level  int
}

// ParseSAR parses a token of the form <CLASS>_<FAM>(_<SUB>)?.<LEVEL>.
func ParseSAR(token string) (SAR, error) {
	m := sarRe.FindStringSubmatch(token)
	if m == nil {
		return SAR{}, fmt.Errorf("not a SAR token: %q", token)
	}
	level, err := strconv.Atoi(m[2])
	if err != nil {
		return SAR{}, fmt.Errorf("SAR level in %q: %w", token, err)
	}
	return SAR{Family: m[1], Level: level}, nil
}

func (s SAR) String() string { return fmt.Sprintf("%s.%d", s.Family, s.Level) }

// Less is the lexicographic order on the stringified SAR.
func (s SAR) Less(o SAR) bool { return s.String() < o.String() }

func (s SAR) ToCanonical() serde.Map {
	return serde.Map{
		"_type":  "SAR",
		"family": s.Family,
		"level":  s.Level,
	}
}

func init() {
	serde.RegisterType("MaintenanceReport", func(m serde.Map) (any, error) {
		date, ok := m["date"].(serde.Date)
		if !ok {
			return nil, fmt.Errorf("MaintenanceReport: missing date")
		}
		return MaintenanceReport{
			Date:       date,
			Title:      asString(m["title"]),
			ReportLink: asString(m["report_link"]),
			STLink:     asString(m["st_link"]),
		}, nil
	})
	serde.RegisterType("ProtectionProfile", func(m serde.Map) (any, error) {
		pp := ProtectionProfile{
			Name: asString(m["name"]),
			EAL:  asString(m["eal"]),
			Link: asString(m["link"]),
		}
		if ids, ok := m["ids"].(serde.List); ok {
			for _, id := range ids {
				pp.IDs = append(pp.IDs, asString(id))
			}
		}
		return pp, nil
	})
	serde.RegisterType("SAR", func(m serde.Map) (any, error) {
		return SAR{Family: asString(m["family"]), Level: asInt(m["level"])}, nil
	})
}

func asString(v any) string {
	s, _ := v.(string)
	return s
}

func asInt(v any) int {
	switch t := v.(type) {
	case int:
		return t
	case float64:
		return int(t)
	}
	return 0
}
