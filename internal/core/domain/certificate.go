package domain

import (
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"net/url"
	"strings"

	"github.com/seccorpus/certmap/internal/serde"
)

// KeywordMap is the output of the keyword extractor:
// category -> rule label -> matched string -> occurrence count.
type KeywordMap map[string]map[string]map[string]int

// DocumentState tracks per-document extraction progress. Flags are
// independent across documents: a failed report download does not stop
// processing of the security target.
type DocumentState struct {
	DownloadOK bool     `json:"download_ok"`
	ConvertOK  bool     `json:"convert_ok"`
	ExtractOK  bool     `json:"extract_ok"`
	PDFHash    string   `json:"pdf_hash,omitempty"`
	TxtHash    string   `json:"txt_hash,omitempty"`
	Errors     []string `json:"errors,omitempty"`
}

// CertState groups the document states of a certificate.
type CertState struct {
	Report DocumentState `json:"report"`
	ST     DocumentState `json:"st"`
	Cert   DocumentState `json:"cert"`
}

// DocumentData holds what was extracted from one PDF document.
type DocumentData struct {
	Metadata  map[string]string `json:"metadata,omitempty"`
	Frontpage string            `json:"frontpage,omitempty"`
	Keywords  KeywordMap        `json:"keywords,omitempty"`
}

// PDFData groups extracted document data per document kind.
type PDFData struct {
	Report *DocumentData `json:"report,omitempty"`
	ST     *DocumentData `json:"st,omitempty"`
	Cert   *DocumentData `json:"cert,omitempty"`
}

// RefSets holds the four reference closures of one edge kind. The sets
// are always allocated; a node without edges has empty sets, never nil.
type RefSets struct {
	DirectlyReferencing    *serde.Set
	DirectlyReferencedBy   *serde.Set
	IndirectlyReferencing  *serde.Set
	IndirectlyReferencedBy *serde.Set
}

// NewRefSets returns RefSets with all four sets allocated and empty.
func NewRefSets() RefSets {
	return RefSets{
		DirectlyReferencing:    serde.NewSet(),
		DirectlyReferencedBy:   serde.NewSet(),
		IndirectlyReferencing:  serde.NewSet(),
		IndirectlyReferencedBy: serde.NewSet(),
	}
}

// Heuristics carries the derived outputs of the linking pipeline.
type Heuristics struct {
	CertID                 string
	ExtractedVersions      *serde.Set
	CPEMatches             *serde.Set
	RelatedCVEs            *serde.Set
	DirectTransitiveCVEs   *serde.Set
	IndirectTransitiveCVEs *serde.Set
	ReportRefs             RefSets
	STRefs                 RefSets
	DanglingRefs           []string
	SARs                   []SAR
}

// Certificate is the central entity of the corpus.
type Certificate struct {
	Scheme       Scheme
	Category     string
	Name         string
	Manufacturer string
	Status       Status

	NotValidBefore *serde.Date
	NotValidAfter  *serde.Date

	ReportLink string
	STLink     string
	CertLink   string

	SecurityLevel      *serde.Set // tokens such as "EAL4+", "ALC_FLR.2"
	ProtectionProfiles *serde.Set // of ProtectionProfile
	MaintenanceUpdates []MaintenanceReport

	State      CertState
	PDFData    PDFData
	Heuristics Heuristics
}

// NewCertificate builds a certificate and validates the four digest
// inputs. Name, category, report link and security-target link must be
// present at creation time because identity is derived from them.
func NewCertificate(scheme Scheme, category, name, manufacturer, reportLink, stLink string) (*Certificate, error) {
	if category == "" || name == "" || reportLink == "" || stLink == "" {
		return nil, fmt.Errorf("certificate %q: category, name, report link and st link are all required", name)
	}
	return &Certificate{
		Scheme:             scheme,
		Category:           category,
		Name:               name,
		Manufacturer:       manufacturer,
		Status:             StatusActive,
		ReportLink:         reportLink,
		STLink:             stLink,
		SecurityLevel:      serde.NewSet(),
		ProtectionProfiles: serde.NewSet(),
		Heuristics: Heuristics{
			ExtractedVersions:      serde.NewSet(),
			CPEMatches:             serde.NewSet(),
			RelatedCVEs:            serde.NewSet(),
			DirectTransitiveCVEs:   serde.NewSet(),
			IndirectTransitiveCVEs: serde.NewSet(),
			ReportRefs:             NewRefSets(),
			STRefs:                 NewRefSets(),
		},
	}, nil
}

// SanitizeLink normalizes a document URI for digest computation:
// whitespace runs become %20 and the scheme and host are lowercased.
// Everything after the host is preserved as-is.
func SanitizeLink(link string) string {
	link = strings.TrimSpace(link)
	link = strings.Join(strings.Fields(link), "%20")
	u, err := url.Parse(link)
	if err != nil || u.Host == "" {
		return link
	}
	u.Scheme = strings.ToLower(u.Scheme)
	u.Host = strings.ToLower(u.Host)
	return u.String()
}

// DGST is the stable primary key: the first 16 bytes of SHA-256 over
// category, name and the two sanitized document links, hex encoded.
// Changing any of the four inputs produces a new identity.
func (c *Certificate) DGST() string {
	input := strings.Join([]string{
		c.Category,
		c.Name,
		SanitizeLink(c.ReportLink),
		SanitizeLink(c.STLink),
	}, "|")
	sum := sha256.Sum256([]byte(input))
	return hex.EncodeToString(sum[:16])
}

// RecordError appends an error string to the given document state and
// clears the corresponding flag.
func (s *DocumentState) RecordError(msg string) {
	s.Errors = append(s.Errors, msg)
}
