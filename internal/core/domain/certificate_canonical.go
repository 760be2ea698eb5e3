package domain

import (
	"fmt"
	"sort"

	"github.com/seccorpus/certmap/internal/serde"
)

// ToCanonical converts the certificate to its canonical tree. The tree
// is the unit of persistence and diffing; field names follow the
// serialized corpus format, not Go naming.
func (c *Certificate) ToCanonical() serde.Map {
	m := serde.Map{
		"_type":        "Certificate",
		"scheme":       string(c.Scheme),
		"category":     c.Category,
		"name":         c.Name,
		"manufacturer": c.Manufacturer,
		"status":       string(c.Status),
		"report_link":  c.ReportLink,
		"st_link":      c.STLink,
		"cert_link":    c.CertLink,

		"security_level":          orEmptySet(c.SecurityLevel),
		"protection_profile_refs": orEmptySet(c.ProtectionProfiles),
		"maintenance_updates":     maintenanceList(c.MaintenanceUpdates),

		"state":      stateCanonical(c.State),
		"pdf_data":   pdfDataCanonical(c.PDFData),
		"heuristics": heuristicsCanonical(c.Heuristics),
	}
	m["not_valid_before"] = dateOrNil(c.NotValidBefore)
	m["not_valid_after"] = dateOrNil(c.NotValidAfter)
	return m
}

func dateOrNil(d *serde.Date) any {
	if d == nil {
		return nil
	}
	return *d
}

func orEmptySet(s *serde.Set) *serde.Set {
	if s == nil {
		return serde.NewSet()
	}
	return s
}

func maintenanceList(mus []MaintenanceReport) serde.List {
	sorted := make([]MaintenanceReport, len(mus))
	copy(sorted, mus)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].Less(sorted[j]) })
	out := make(serde.List, len(sorted))
	for i, mu := range sorted {
		out[i] = mu.ToCanonical()
	}
	return out
}

func stateCanonical(s CertState) serde.Map {
	return serde.Map{
		"report": docStateCanonical(s.Report),
		"st":     docStateCanonical(s.ST),
		"cert":   docStateCanonical(s.Cert),
	}
}

func docStateCanonical(d DocumentState) serde.Map {
	errs := make(serde.List, len(d.Errors))
	for i, e := range d.Errors {
		errs[i] = e
	}
	return serde.Map{
		"download_ok": d.DownloadOK,
		"convert_ok":  d.ConvertOK,
		"extract_ok":  d.ExtractOK,
		"pdf_hash":    d.PDFHash,
		"txt_hash":    d.TxtHash,
		"errors":      errs,
	}
}

func pdfDataCanonical(p PDFData) serde.Map {
	return serde.Map{
		"report": docDataCanonical(p.Report),
		"st":     docDataCanonical(p.ST),
		"cert":   docDataCanonical(p.Cert),
	}
}

func docDataCanonical(d *DocumentData) any {
	if d == nil {
		return nil
	}
	meta := make(serde.Map, len(d.Metadata))
	for k, v := range d.Metadata {
		meta[k] = v
	}
	return serde.Map{
		"metadata":  meta,
		"frontpage": d.Frontpage,
		"keywords":  keywordsCanonical(d.Keywords),
	}
}

func keywordsCanonical(km KeywordMap) serde.Map {
	out := make(serde.Map, len(km))
	for cat, labels := range km {
		lm := make(serde.Map, len(labels))
		for label, matches := range labels {
			mm := make(serde.Map, len(matches))
			for match, count := range matches {
				mm[match] = count
			}
			lm[label] = mm
		}
		out[cat] = lm
	}
	return out
}

func heuristicsCanonical(h Heuristics) serde.Map {
	dangling := make(serde.List, len(h.DanglingRefs))
	for i, d := range h.DanglingRefs {
		dangling[i] = d
	}
	sars := serde.NewSet()
	for _, s := range h.SARs {
		sars.Add(s.ToCanonical())
	}
	m := serde.Map{
		"extracted_versions":       orEmptySet(h.ExtractedVersions),
		"cpe_matches":              orEmptySet(h.CPEMatches),
		"related_cves":             orEmptySet(h.RelatedCVEs),
		"direct_transitive_cves":   orEmptySet(h.DirectTransitiveCVEs),
		"indirect_transitive_cves": orEmptySet(h.IndirectTransitiveCVEs),
		"report_references":        refSetsCanonical(h.ReportRefs),
		"st_references":            refSetsCanonical(h.STRefs),
		"dangling_refs":            dangling,
		"extracted_sars":           sars,
	}
	if h.CertID != "" {
		m["cert_id"] = h.CertID
	} else {
		m["cert_id"] = nil
	}
	return m
}

func refSetsCanonical(r RefSets) serde.Map {
	return serde.Map{
		"directly_referencing":     orEmptySet(r.DirectlyReferencing),
		"directly_referenced_by":   orEmptySet(r.DirectlyReferencedBy),
		"indirectly_referencing":   orEmptySet(r.IndirectlyReferencing),
		"indirectly_referenced_by": orEmptySet(r.IndirectlyReferencedBy),
	}
}

// CertificateFromCanonical rebuilds a certificate from a rehydrated
// canonical tree.
func CertificateFromCanonical(m serde.Map) (*Certificate, error) {
	c := &Certificate{
		Scheme:       Scheme(asString(m["scheme"])),
		Category:     asString(m["category"]),
		Name:         asString(m["name"]),
		Manufacturer: asString(m["manufacturer"]),
		Status:       Status(asString(m["status"])),
		ReportLink:   asString(m["report_link"]),
		STLink:       asString(m["st_link"]),
		CertLink:     asString(m["cert_link"]),
	}
	if c.Category == "" || c.Name == "" || c.ReportLink == "" || c.STLink == "" {
		return nil, fmt.Errorf("canonical certificate %q: digest inputs incomplete", c.Name)
	}
	c.NotValidBefore = datePtr(m["not_valid_before"])
	c.NotValidAfter = datePtr(m["not_valid_after"])
	c.SecurityLevel = asSet(m["security_level"])
	c.ProtectionProfiles = asSet(m["protection_profile_refs"])

	if mus, ok := m["maintenance_updates"].(serde.List); ok {
		for _, el := range mus {
			if mu, ok := el.(MaintenanceReport); ok {
				c.MaintenanceUpdates = append(c.MaintenanceUpdates, mu)
			}
		}
	}
	if st, ok := m["state"].(serde.Map); ok {
		c.State = CertState{
			Report: docStateFrom(st["report"]),
			ST:     docStateFrom(st["st"]),
			Cert:   docStateFrom(st["cert"]),
		}
	}
	if pd, ok := m["pdf_data"].(serde.Map); ok {
		c.PDFData = PDFData{
			Report: docDataFrom(pd["report"]),
			ST:     docDataFrom(pd["st"]),
			Cert:   docDataFrom(pd["cert"]),
		}
	}
	if h, ok := m["heuristics"].(serde.Map); ok {
		c.Heuristics = heuristicsFrom(h)
	}
	return c, nil
}

func datePtr(v any) *serde.Date {
	if d, ok := v.(serde.Date); ok {
		return &d
	}
	return nil
}

func asSet(v any) *serde.Set {
	if s, ok := v.(*serde.Set); ok {
		return s
	}
	return serde.NewSet()
}

func docStateFrom(v any) DocumentState {
	m, ok := v.(serde.Map)
	if !ok {
		return DocumentState{}
	}
	d := DocumentState{
		DownloadOK: m["download_ok"] == true,
		ConvertOK:  m["convert_ok"] == true,
		ExtractOK:  m["extract_ok"] == true,
		PDFHash:    asString(m["pdf_hash"]),
		TxtHash:    asString(m["txt_hash"]),
	}
	if errs, ok := m["errors"].(serde.List); ok {
		for _, e := range errs {
			d.Errors = append(d.Errors, asString(e))
		}
	}
	return d
}

func docDataFrom(v any) *DocumentData {
	m, ok := v.(serde.Map)
	if !ok {
		return nil
	}
	d := &DocumentData{Frontpage: asString(m["frontpage"])}
	if meta, ok := m["metadata"].(serde.Map); ok {
		d.Metadata = make(map[string]string, len(meta))
		for k, val := range meta {
			d.Metadata[k] = asString(val)
		}
	}
	if kw, ok := m["keywords"].(serde.Map); ok {
		d.Keywords = make(KeywordMap, len(kw))
		for cat, labels := range kw {
			lm, ok := labels.(serde.Map)
			if !ok {
				continue
			}
			d.Keywords[cat] = make(map[string]map[string]int, len(lm))
			for label, matches := range lm {
				mm, ok := matches.(serde.Map)
				if !ok {
					continue
				}
				d.Keywords[cat][label] = make(map[string]int, len(mm))
				for match, count := range mm {
					d.Keywords[cat][label][match] = asInt(count)
				}
			}
		}
	}
	return d
}

func heuristicsFrom(m serde.Map) Heuristics {
	h := Heuristics{
		CertID:                 asString(m["cert_id"]),
		ExtractedVersions:      asSet(m["extracted_versions"]),
		CPEMatches:             asSet(m["cpe_matches"]),
		RelatedCVEs:            asSet(m["related_cves"]),
		DirectTransitiveCVEs:   asSet(m["direct_transitive_cves"]),
		IndirectTransitiveCVEs: asSet(m["indirect_transitive_cves"]),
		ReportRefs:             refSetsFrom(m["report_references"]),
		STRefs:                 refSetsFrom(m["st_references"]),
	}
	if dr, ok := m["dangling_refs"].(serde.List); ok {
		for _, d := range dr {
			h.DanglingRefs = append(h.DanglingRefs, asString(d))
		}
	}
	if sars, ok := m["extracted_sars"].(*serde.Set); ok {
		for _, el := range sars.Elems() {
			if sar, ok := el.(SAR); ok {
				h.SARs = append(h.SARs, sar)
			}
		}
		sort.Slice(h.SARs, func(i, j int) bool { return h.SARs[i].Less(h.SARs[j]) })
	}
	return h
}

func refSetsFrom(v any) RefSets {
	m, ok := v.(serde.Map)
	if !ok {
		return NewRefSets()
	}
	return RefSets{
		DirectlyReferencing:    asSet(m["directly_referencing"]),
		DirectlyReferencedBy:   asSet(m["directly_referenced_by"]),
		IndirectlyReferencing:  asSet(m["indirectly_referencing"]),
		IndirectlyReferencedBy: asSet(m["indirectly_referenced_by"]),
	}
}

func init() {
	serde.RegisterType("Certificate", func(m serde.Map) (any, error) {
		return CertificateFromCanonical(m)
	})
}
