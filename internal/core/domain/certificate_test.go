package domain

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/serde"
)

func newTestCert(t *testing.T) *Certificate {
	t.Helper()
	cert, err := NewCertificate(SchemeDE, "ICs", "Secure Chip v2", "Acme",
		"https://example.org/report.pdf", "https://example.org/st.pdf")
	require.NoError(t, err)
	return cert
}

func TestNewCertificateRequiresDigestInputs(t *testing.T) {
	tests := []struct {
		name     string
		category string
		certName string
		report   string
		st       string
	}{
		{"missing category", "", "n", "r", "s"},
		{"missing name", "c", "", "r", "s"},
		{"missing report link", "c", "n", "", "s"},
		{"missing st link", "c", "n", "r", ""},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := NewCertificate(SchemeDE, tt.category, tt.certName, "m", tt.report, tt.st)
			assert.Error(t, err)
		})
	}
}

func TestDGSTStableAcrossDerivedFields(t *testing.T) {
	a := newTestCert(t)
	b := newTestCert(t)
	b.Status = StatusArchived
	b.Manufacturer = "Somebody Else"
	b.Heuristics.CertID = "BSI-DSZ-CC-1111-2024"

	assert.Equal(t, a.DGST(), b.DGST())
	assert.Len(t, a.DGST(), 32)
}

func TestDGSTChangesWithIdentityInputs(t *testing.T) {
	base := newTestCert(t)
	tests := []struct {
		name   string
		mutate func(*Certificate)
	}{
		{"category", func(c *Certificate) { c.Category = "Other" }},
		{"name", func(c *Certificate) { c.Name = "Secure Chip v3" }},
		{"report link", func(c *Certificate) { c.ReportLink = "https://example.org/other.pdf" }},
		{"st link", func(c *Certificate) { c.STLink = "https://example.org/other-st.pdf" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			c := newTestCert(t)
			tt.mutate(c)
			assert.NotEqual(t, base.DGST(), c.DGST())
		})
	}
}

func TestSanitizeLink(t *testing.T) {
	tests := []struct {
		in   string
		want string
	}{
		{"  https://Example.ORG/Report.pdf ", "https://example.org/Report.pdf"},
		{"https://example.org/a b c.pdf", "https://example.org/a%20b%20c.pdf"},
		{"HTTP://HOST/Path", "http://host/Path"},
		{"not a url", "not%20a%20url"},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, SanitizeLink(tt.in), "input %q", tt.in)
	}
}

func TestCertificateCanonicalRoundTrip(t *testing.T) {
	cert := newTestCert(t)
	d := serde.NewDate(2024, 1, 15)
	cert.NotValidBefore = &d
	cert.SecurityLevel.Add("EAL4+")
	cert.Heuristics.CertID = "BSI-DSZ-CC-1234-2024"
	cert.Heuristics.CPEMatches.Add("cpe:2.3:a:acme:chip:2.0:*:*:*:*:*:*:*")
	cert.State.Report.DownloadOK = true
	cert.State.Report.RecordError("convert-failed(x)")

	tree := cert.ToCanonical()
	encoded, err := serde.Marshal(tree)
	require.NoError(t, err)
	decoded, err := serde.Unmarshal(encoded)
	require.NoError(t, err)

	back, err := CertificateFromCanonical(decoded.(serde.Map))
	require.NoError(t, err)
	assert.Equal(t, cert.DGST(), back.DGST())

	again, err := serde.Marshal(back.ToCanonical())
	require.NoError(t, err)
	assert.Equal(t, string(encoded), string(again))
}

func TestParseSAR(t *testing.T) {
	tests := []struct {
		token  string
		family string
		level  int
		ok     bool
	}{
		{"ALC_FLR.2", "ALC_FLR", 2, true},
		{"AVA_VAN.5", "AVA_VAN", 5, true},
		{"ASE_TSS_COMP.1", "ASE_TSS_COMP", 1, true},
		{"ALC_FLR", "", 0, false},
		{"alc_flr.2", "", 0, false},
		{"EAL4", "", 0, false},
	}
	for _, tt := range tests {
		sar, err := ParseSAR(tt.token)
		if !tt.ok {
			assert.Error(t, err, tt.token)
			continue
		}
		require.NoError(t, err, tt.token)
		assert.Equal(t, tt.family, sar.Family)
		assert.Equal(t, tt.level, sar.Level)
		assert.Equal(t, tt.token, sar.String())
	}
}

func TestInProcessDigestParity(t *testing.T) {
	iut := IUTEntry{ModuleName: "mod", VendorName: "vend", Standard: "FIPS 140-3"}
	mip := MIPEntry{ModuleName: "mod", VendorName: "vend", Standard: "FIPS 140-3", Status: "Review"}
	assert.Equal(t, iut.DGST(), mip.DGST())
	assert.Len(t, iut.DGST(), 32)
}
