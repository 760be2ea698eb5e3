package pipeline

import (
	"context"
	"crypto/sha256"
	"encoding/hex"
	"fmt"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
	"github.com/seccorpus/certmap/internal/core/services/canonical"
	"github.com/seccorpus/certmap/internal/core/services/cpematch"
	"github.com/seccorpus/certmap/internal/core/services/keywords"
	"github.com/seccorpus/certmap/internal/core/services/refs"
	"github.com/seccorpus/certmap/internal/core/services/snapshot"
	"github.com/seccorpus/certmap/internal/core/services/vulns"
)

// flatStore keeps every artifact in one temp directory; enough for a
// single-run pipeline exercise.
type flatStore struct {
	root string
}

func (s *flatStore) Path(kind ports.DocumentKind, format ports.DocumentFormat, dgst string) string {
	return filepath.Join(s.root, fmt.Sprintf("%s_%s_%s.%s", kind, dgst, format, format))
}

func (s *flatStore) Acquire(kind ports.DocumentKind, format ports.DocumentFormat, dgst string, produce func(string) error) (string, bool, error) {
	path := s.Path(kind, format, dgst)
	if err := produce(path); err != nil {
		return "", false, err
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return "", false, err
	}
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:]), true, nil
}

// mapFetcher serves canned document bodies by URL.
type mapFetcher struct {
	docs map[string]string
}

func (f *mapFetcher) Fetch(_ context.Context, url, dst string) error {
	body, ok := f.docs[url]
	if !ok {
		return &domain.DownloadError{URL: url, Code: 404}
	}
	return os.WriteFile(dst, []byte(body), 0o644)
}

// copyConverter stands in for pdftotext by copying bytes through.
type copyConverter struct{}

func (copyConverter) Convert(_ context.Context, pdfPath, txtPath string) error {
	data, err := os.ReadFile(pdfPath)
	if err != nil {
		return err
	}
	return os.WriteFile(txtPath, data, 0o644)
}

type runStore struct {
	live     map[string][]byte
	log      []domain.DiffRecord
	runs     []domain.RunRecord
	released bool
}

func newRunStore() *runStore { return &runStore{live: make(map[string][]byte)} }

func (s *runStore) EnsureSchema(context.Context) error { return nil }
func (s *runStore) Drop(context.Context, string) error { return nil }
func (s *runStore) Close() error                       { return nil }

func (s *runStore) LiveAll(context.Context, string) (map[string][]byte, error) {
	out := make(map[string][]byte, len(s.live))
	for k, v := range s.live {
		out[k] = v
	}
	return out, nil
}

func (s *runStore) LiveGet(_ context.Context, _ string, dgst string) ([]byte, error) {
	return s.live[dgst], nil
}

func (s *runStore) UpsertLive(_ context.Context, _ string, records map[string][]byte) error {
	for k, v := range records {
		s.live[k] = v
	}
	return nil
}

func (s *runStore) AppendDiffs(_ context.Context, _ string, diffs []domain.DiffRecord) error {
	s.log = append(s.log, diffs...)
	return nil
}

func (s *runStore) LastDiffType(_ context.Context, _ string, dgst string) (domain.DiffType, error) {
	for i := len(s.log) - 1; i >= 0; i-- {
		if s.log[i].DGST == dgst {
			return s.log[i].Type, nil
		}
	}
	return "", nil
}

func (s *runStore) DiffsFor(_ context.Context, _ string, dgst string) ([]domain.DiffRecord, error) {
	var out []domain.DiffRecord
	for _, d := range s.log {
		if d.DGST == dgst {
			out = append(out, d)
		}
	}
	return out, nil
}

func (s *runStore) AppendRun(_ context.Context, run domain.RunRecord) error {
	s.runs = append(s.runs, run)
	return nil
}

func (s *runStore) LastRun(context.Context, string) (*domain.RunRecord, error) {
	if len(s.runs) == 0 {
		return nil, nil
	}
	return &s.runs[len(s.runs)-1], nil
}

func (s *runStore) AcquireRunLock(context.Context, string, time.Duration) (func() error, error) {
	return func() error {
		s.released = true
		return nil
	}, nil
}

func testDeps(t *testing.T, store *runStore, fetcher *mapFetcher) Deps {
	t.Helper()

	extractor, err := keywords.NewExtractor(keywords.Catalog{
		canonical.CertIDCategory: {
			"cert_id": {`BSI-DSZ-CC-[0-9]{4}-[0-9]{4}`},
		},
		SARCategory: {
			"sar": {`ALC_FLR\.[0-9]`},
		},
	}, 0)
	require.NoError(t, err)

	table, err := canonical.CompileRules(map[string][]string{
		"DE": {`BSI-DSZ-CC-[0-9]{4}-[0-9]{4}`},
	})
	require.NoError(t, err)
	canon := canonical.New(table)

	cpe, err := domain.NewCPE("id-1", "cpe:2.3:a:acme:foobar:2.1:*:*:*:*:*:*:*", "Acme FooBar 2.1")
	require.NoError(t, err)

	return Deps{
		Artifacts: &flatStore{root: t.TempDir()},
		Fetcher:   fetcher,
		Converter: copyConverter{},
		Extractor: extractor,
		Canon:     canon,
		Resolver:  refs.NewResolver(canon, false),
		Matcher:   cpematch.NewMatcher([]domain.CPE{cpe}, 0, 0),
		Linker: vulns.NewLinker([]domain.CVE{
			{ID: "CVE-2021-1111", VulnerableCPEs: []string{cpe.URI}},
		}),
		Updater: snapshot.NewUpdater(store, nil, "cc", "test"),
		Store:   store,
	}
}

func TestRunEndToEnd(t *testing.T) {
	cert, err := domain.NewCertificate(domain.SchemeDE, "ICs", "FooBar 2.1", "Acme",
		"https://certs.example/report.pdf", "https://certs.example/st.pdf")
	require.NoError(t, err)

	fetcher := &mapFetcher{docs: map[string]string{
		"https://certs.example/report.pdf": "Certification Report\nBSI-DSZ-CC-1234-2024\nALC_FLR.1 and ALC_FLR.2\n",
		"https://certs.example/st.pdf":     "Security Target for FooBar 2.1\n",
	}}
	store := newRunStore()
	p := New(testDeps(t, store, fetcher), "cc", 2, 0)

	run, err := p.Run(context.Background(), []*domain.Certificate{cert})
	require.NoError(t, err)

	assert.True(t, run.OK)
	assert.Equal(t, 1, run.Stats.NewCerts)
	assert.Equal(t, 1, run.Stats.CertStates["report_extract_ok"])
	assert.Equal(t, 1, run.Stats.CertStates["st_extract_ok"])
	assert.True(t, store.released)

	assert.True(t, cert.State.Report.DownloadOK)
	assert.True(t, cert.State.Report.ConvertOK)
	assert.True(t, cert.State.Report.ExtractOK)

	assert.Equal(t, "BSI-DSZ-CC-1234-2024", cert.Heuristics.CertID)

	// The higher flaw remediation level wins within the family.
	require.Len(t, cert.Heuristics.SARs, 1)
	assert.Equal(t, "ALC_FLR", cert.Heuristics.SARs[0].Family)
	assert.Equal(t, 2, cert.Heuristics.SARs[0].Level)

	assert.True(t, cert.Heuristics.CPEMatches.Contains("cpe:2.3:a:acme:foobar:2.1:*:*:*:*:*:*:*"))
	assert.Equal(t, []string{"CVE-2021-1111"}, cert.Heuristics.RelatedCVEs.Strings())

	assert.Contains(t, store.live, cert.DGST())
}

func TestRunDocumentFailureDoesNotAbort(t *testing.T) {
	good, err := domain.NewCertificate(domain.SchemeDE, "ICs", "FooBar 2.1", "Acme",
		"https://certs.example/report.pdf", "https://certs.example/st.pdf")
	require.NoError(t, err)
	broken, err := domain.NewCertificate(domain.SchemeDE, "ICs", "Gadget", "Other",
		"https://certs.example/missing.pdf", "https://certs.example/missing-st.pdf")
	require.NoError(t, err)

	fetcher := &mapFetcher{docs: map[string]string{
		"https://certs.example/report.pdf": "BSI-DSZ-CC-1234-2024\n",
		"https://certs.example/st.pdf":     "Security Target\n",
	}}
	store := newRunStore()
	p := New(testDeps(t, store, fetcher), "cc", 2, 0)

	run, err := p.Run(context.Background(), []*domain.Certificate{good, broken})
	require.NoError(t, err)

	assert.True(t, run.OK)
	assert.Equal(t, 2, run.Stats.NewCerts)

	assert.False(t, broken.State.Report.DownloadOK)
	assert.NotEmpty(t, broken.State.Report.Errors)
	assert.Contains(t, store.live, broken.DGST())
}

func TestFilenameCandidates(t *testing.T) {
	got := filenameCandidates("https://certs.example/reports/BSI-DSZ-CC-1234-2024_report%20final.pdf")
	assert.Contains(t, got, "BSI-DSZ-CC-1234-2024")
	assert.Contains(t, got, "report final")
	assert.Contains(t, got, "BSI-DSZ-CC-1234-2024_report final")
}

func TestFrontpageCandidates(t *testing.T) {
	doc := &domain.DocumentData{Frontpage: "  Title \n\n Second line\n"}
	assert.Equal(t, []string{"Title", "Second line"}, frontpageCandidates(doc))
	assert.Nil(t, frontpageCandidates(nil))
}
