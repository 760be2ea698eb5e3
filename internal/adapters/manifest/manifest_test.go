package manifest

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

func manifestCert(t *testing.T, name string) *domain.Certificate {
	t.Helper()
	cert, err := domain.NewCertificate(domain.SchemeDE, "ICs", name, "Acme",
		"https://x/"+name+"-r.pdf", "https://x/"+name+"-s.pdf")
	require.NoError(t, err)
	return cert
}

func TestCertificateManifestRoundTrip(t *testing.T) {
	a := manifestCert(t, "alpha")
	a.Heuristics.CertID = "BSI-DSZ-CC-0001-2020"
	b := manifestCert(t, "beta")

	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, WriteCertificates(path, []*domain.Certificate{b, a}))

	loaded, err := LoadCertificates(path)
	require.NoError(t, err)
	require.Len(t, loaded, 2)

	// Written sorted by digest, independent of input order.
	assert.True(t, loaded[0].DGST() < loaded[1].DGST())

	byName := map[string]*domain.Certificate{loaded[0].Name: loaded[0], loaded[1].Name: loaded[1]}
	assert.Equal(t, "BSI-DSZ-CC-0001-2020", byName["alpha"].Heuristics.CertID)
	assert.Equal(t, a.DGST(), byName["alpha"].DGST())
}

func TestManifestRoundTripKeepsTypedMembers(t *testing.T) {
	cert := manifestCert(t, "alpha")
	cert.MaintenanceUpdates = []domain.MaintenanceReport{{
		Date:       serde.NewDate(2021, 6, 1),
		Title:      "alpha v1.1 maintenance",
		ReportLink: "https://x/alpha-m-r.pdf",
		STLink:     "https://x/alpha-m-s.pdf",
	}}
	cert.Heuristics.SARs = []domain.SAR{{Family: "ALC_FLR", Level: 2}}

	path := filepath.Join(t.TempDir(), "dataset.json")
	require.NoError(t, WriteCertificates(path, []*domain.Certificate{cert}))

	loaded, err := LoadCertificates(path)
	require.NoError(t, err)
	require.Len(t, loaded, 1)

	require.Len(t, loaded[0].MaintenanceUpdates, 1)
	assert.Equal(t, "alpha v1.1 maintenance", loaded[0].MaintenanceUpdates[0].Title)
	assert.Equal(t, "2021-06-01", loaded[0].MaintenanceUpdates[0].Date.String())
	require.Len(t, loaded[0].Heuristics.SARs, 1)
	assert.Equal(t, domain.SAR{Family: "ALC_FLR", Level: 2}, loaded[0].Heuristics.SARs[0])
}

func TestAttachAuxiliary(t *testing.T) {
	cert := manifestCert(t, "alpha")
	dir := t.TempDir()

	mu := domain.MaintenanceReport{
		Date:       serde.NewDate(2022, 3, 15),
		Title:      "alpha v1.1 maintenance",
		ReportLink: "https://x/alpha-m-r.pdf",
		STLink:     "https://x/alpha-m-s.pdf",
	}
	muData, err := serde.Marshal(serde.Map{
		cert.DGST():    serde.List{mu.ToCanonical()},
		"unknowndigest": serde.List{mu.ToCanonical()},
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "maintenance_updates.json"), muData, 0o644))

	ppData, err := serde.Marshal(serde.Map{
		cert.DGST(): serde.NewStringSet("PP-0084", "PP-0096"),
	})
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "protection_profiles.json"), ppData, 0o644))

	require.NoError(t, AttachAuxiliary(dir, []*domain.Certificate{cert}))

	require.Len(t, cert.MaintenanceUpdates, 1)
	assert.Equal(t, "alpha v1.1 maintenance", cert.MaintenanceUpdates[0].Title)
	assert.True(t, cert.ProtectionProfiles.Contains("PP-0084"))
	assert.True(t, cert.ProtectionProfiles.Contains("PP-0096"))
}

func TestAttachAuxiliaryMissingFilesOK(t *testing.T) {
	cert := manifestCert(t, "alpha")
	require.NoError(t, AttachAuxiliary(t.TempDir(), []*domain.Certificate{cert}))
	assert.Empty(t, cert.MaintenanceUpdates)
}

func TestLoadInProcess(t *testing.T) {
	iut := domain.IUTEntry{ModuleName: "mod", VendorName: "vend", Standard: "FIPS 140-3"}
	data, err := serde.Marshal(serde.List{iut.ToCanonical()})
	require.NoError(t, err)
	path := filepath.Join(t.TempDir(), "iut.json")
	require.NoError(t, os.WriteFile(path, data, 0o644))

	entries, err := LoadInProcess(path)
	require.NoError(t, err)
	require.Len(t, entries, 1)
	got, ok := entries[0].(domain.IUTEntry)
	require.True(t, ok)
	assert.Equal(t, iut.DGST(), got.DGST())
}
