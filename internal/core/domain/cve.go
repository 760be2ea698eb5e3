package domain

// CVE is one vulnerability record from the NVD feed, keyed by its
// CVE-ID. It carries the URIs of directly vulnerable CPEs plus the
// match configurations evaluated under AND-of-ORs semantics.
type CVE struct {
	ID             string
	VulnerableCPEs []string
	Configurations []*CPEMatchConfiguration

	// Metadata used by the run report; not part of linking.
	Published string
	CVSS      float64
}
