package keywords

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
)

func testCatalog() Catalog {
	return Catalog{
		"cc_cert_id": {
			"cert_id": {`BSI-DSZ-CC-[0-9]{4}-[0-9]{4}`},
		},
		"crypto_algorithm": {
			"symmetric": {`AES(?:-256)?`},
		},
	}
}

func TestExtractCountsOccurrences(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	text := "Uses AES-256, then AES-256 again and plain AES too.\n"
	km, _ := e.Extract(text)

	require.Contains(t, km, "crypto_algorithm")
	matches := km["crypto_algorithm"]["symmetric"]
	assert.Equal(t, 2, matches["AES-256"])
	assert.Equal(t, 1, matches["AES"])
}

func TestExtractPadsMatchedRegions(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	text := "id BSI-DSZ-CC-1234-2024 end"
	km, sanitized := e.Extract(text)

	assert.Equal(t, 1, km["cc_cert_id"]["cert_id"]["BSI-DSZ-CC-1234-2024"])
	assert.NotContains(t, sanitized, "BSI-DSZ-CC-1234-2024")
	// Padding keeps offsets fixed.
	assert.Len(t, sanitized, len(text))
}

func TestExtractNormalizesTrailingPunctuation(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	km, _ := e.Extract("certified under BSI-DSZ-CC-9999-2023, see annex.\n")
	assert.Equal(t, 1, km["cc_cert_id"]["cert_id"]["BSI-DSZ-CC-9999-2023"])
}

func TestExtractNoMatchesYieldsEmptyMap(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	km, _ := e.Extract("nothing of interest here")
	assert.Empty(t, km)
}

func TestExtractHonorsByteLimit(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 16)
	require.NoError(t, err)

	km, _ := e.Extract("0123456789abcdef AES-256 beyond the limit ")
	assert.Empty(t, km)
}

func TestExtractInvalidUTF8IsTolerated(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	km, _ := e.Extract("garbage \xff\xfe line\nuses AES here ")
	assert.Equal(t, 1, km["crypto_algorithm"]["symmetric"]["AES"])
}

func TestExtractFile(t *testing.T) {
	e, err := NewExtractor(testCatalog(), 0)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "doc.txt")
	require.NoError(t, os.WriteFile(path, []byte("AES inside "), 0o644))

	km, _, err := e.ExtractFile(path)
	require.NoError(t, err)
	assert.Equal(t, 1, km["crypto_algorithm"]["symmetric"]["AES"])

	_, _, err = e.ExtractFile(filepath.Join(t.TempDir(), "missing.txt"))
	var extractErr *domain.ExtractError
	require.ErrorAs(t, err, &extractErr)
}

func TestCompileErrorSurfacesRule(t *testing.T) {
	_, err := NewExtractor(Catalog{"bad": {"label": {`(`}}}, 0)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "bad/label")
}
