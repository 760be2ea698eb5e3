// Package pipeline drives one full dataset run: document acquisition,
// extraction, canonicalization, reference resolution, CPE matching,
// CVE linkage and snapshot reconciliation.
package pipeline

import (
	"context"
	"fmt"
	"log/slog"
	"path"
	"sort"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
	"github.com/seccorpus/certmap/internal/core/services/canonical"
	"github.com/seccorpus/certmap/internal/core/services/cpematch"
	"github.com/seccorpus/certmap/internal/core/services/keywords"
	"github.com/seccorpus/certmap/internal/core/services/refs"
	"github.com/seccorpus/certmap/internal/core/services/snapshot"
	"github.com/seccorpus/certmap/internal/core/services/vulns"
	"github.com/seccorpus/certmap/internal/serde"
	"github.com/seccorpus/certmap/internal/telemetry"
)

// SARCategory is the keyword-map category holding assurance
// requirement matches.
const SARCategory = "cc_sar"

// frontpageBytes bounds how much of the sanitized text is kept as the
// document frontpage.
const frontpageBytes = 4096

// DefaultLockTTL is how long a run may hold the global lock before a
// successor treats it as crashed.
const DefaultLockTTL = 2 * time.Hour

// Deps bundles the collaborators of a pipeline run.
type Deps struct {
	Artifacts ports.ArtifactStore
	Fetcher   ports.DocumentFetcher
	Converter ports.Converter
	Extractor *keywords.Extractor
	Canon     *canonical.Canonicalizer
	Resolver  *refs.Resolver
	Matcher   *cpematch.Matcher
	Linker    *vulns.Linker
	Updater   *snapshot.Updater
	Store     ports.SnapshotStore
}

// Pipeline runs the per-dataset batch. One run at a time, globally.
type Pipeline struct {
	deps    Deps
	dataset string
	workers int
	lockTTL time.Duration
}

// New builds a pipeline. workers bounds the per-certificate
// parallelism of the document stages.
func New(deps Deps, dataset string, workers int, lockTTL time.Duration) *Pipeline {
	if workers <= 0 {
		workers = 4
	}
	if lockTTL <= 0 {
		lockTTL = DefaultLockTTL
	}
	return &Pipeline{deps: deps, dataset: dataset, workers: workers, lockTTL: lockTTL}
}

// Run processes the population end to end and reconciles it with the
// persisted snapshot. The returned run record is also appended to the
// run log, ok=false with the error string when any stage failed.
func (p *Pipeline) Run(ctx context.Context, certs []*domain.Certificate) (domain.RunRecord, error) {
	release, err := p.deps.Store.AcquireRunLock(ctx, "run:"+p.dataset, p.lockTTL)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("run lock release failed", "dataset", p.dataset, "error", err)
		}
	}()

	slog.Info("run started", "dataset", p.dataset, "certs", len(certs), "workers", p.workers)

	p.processDocuments(ctx, certs)
	p.canonicalize(certs)
	result := p.deps.Resolver.Resolve(certs)
	for range result.Collisions {
		telemetry.ReferenceCollisions.Inc()
	}
	p.matchCPEs(certs)
	p.deps.Linker.Link(certs)

	records := make([]snapshot.Record, len(certs))
	for i, c := range certs {
		records[i] = c
	}
	run, err := p.deps.Updater.Reconcile(ctx, records, stateCounts(certs))
	telemetry.RunsTotal.WithLabelValues(p.dataset, strconv.FormatBool(run.OK)).Inc()
	return run, err
}

// processDocuments fans the report and security-target documents of
// every certificate out over the worker pool. Per-certificate work is
// independent; failures land on the certificate state, never abort the
// run.
func (p *Pipeline) processDocuments(ctx context.Context, certs []*domain.Certificate) {
	jobs := make(chan *domain.Certificate)
	var wg sync.WaitGroup
	for i := 0; i < p.workers; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for cert := range jobs {
				p.processDocument(ctx, cert, ports.KindReport)
				p.processDocument(ctx, cert, ports.KindST)
			}
		}()
	}
	for _, c := range certs {
		jobs <- c
	}
	close(jobs)
	wg.Wait()
}

func (p *Pipeline) processDocument(ctx context.Context, cert *domain.Certificate, kind ports.DocumentKind) {
	link, state, slot := p.documentSlot(cert, kind)
	if link == "" {
		return
	}
	dgst := cert.DGST()
	label := string(kind)

	pdfHash, _, err := p.deps.Artifacts.Acquire(kind, ports.FormatPDF, dgst, func(dst string) error {
		if err := p.deps.Fetcher.Fetch(ctx, link, dst); err != nil {
			return err
		}
		return nil
	})
	if err != nil {
		state.RecordError(err.Error())
		telemetry.DocumentsProcessed.WithLabelValues(label, "download_failed").Inc()
		return
	}
	state.DownloadOK = true
	state.PDFHash = pdfHash

	pdfPath := p.deps.Artifacts.Path(kind, ports.FormatPDF, dgst)
	txtHash, _, err := p.deps.Artifacts.Acquire(kind, ports.FormatTxt, dgst, func(dst string) error {
		return p.deps.Converter.Convert(ctx, pdfPath, dst)
	})
	if err != nil {
		state.RecordError((&domain.ConvertError{Path: pdfPath, Err: err}).Error())
		telemetry.DocumentsProcessed.WithLabelValues(label, "convert_failed").Inc()
		return
	}
	state.ConvertOK = true
	state.TxtHash = txtHash

	txtPath := p.deps.Artifacts.Path(kind, ports.FormatTxt, dgst)
	km, sanitized, err := p.deps.Extractor.ExtractFile(txtPath)
	if err != nil {
		state.RecordError(err.Error())
		telemetry.DocumentsProcessed.WithLabelValues(label, "extract_failed").Inc()
		return
	}
	state.ExtractOK = true
	*slot = &domain.DocumentData{
		Frontpage: frontpage(sanitized),
		Keywords:  km,
	}
	telemetry.DocumentsProcessed.WithLabelValues(label, "ok").Inc()
}

func (p *Pipeline) documentSlot(cert *domain.Certificate, kind ports.DocumentKind) (string, *domain.DocumentState, **domain.DocumentData) {
	switch kind {
	case ports.KindST:
		return cert.STLink, &cert.State.ST, &cert.PDFData.ST
	default:
		return cert.ReportLink, &cert.State.Report, &cert.PDFData.Report
	}
}

func frontpage(text string) string {
	if len(text) > frontpageBytes {
		text = text[:frontpageBytes]
	}
	return text
}

// canonicalize picks the canonical id per certificate and derives the
// name-based heuristics that depend only on local data.
func (p *Pipeline) canonicalize(certs []*domain.Certificate) {
	for _, c := range certs {
		c.Heuristics.CertID = p.deps.Canon.Pick(c, filenameCandidates(c.ReportLink), frontpageCandidates(c.PDFData.Report))
		for _, v := range cpematch.ExtractVersions(c.Name) {
			c.Heuristics.ExtractedVersions.Add(v)
		}
		c.Heuristics.SARs = collectSARs(c.PDFData)
	}
}

// filenameCandidates splits the report link basename on the usual
// separators; scheme ids regularly hide in filenames.
func filenameCandidates(link string) []string {
	base := path.Base(link)
	if i := strings.LastIndex(base, "."); i > 0 {
		base = base[:i]
	}
	parts := strings.FieldsFunc(base, func(r rune) bool {
		return r == '_' || r == '+'
	})
	decoded := make([]string, 0, len(parts)+1)
	for _, part := range parts {
		decoded = append(decoded, strings.ReplaceAll(part, "%20", " "))
	}
	decoded = append(decoded, strings.ReplaceAll(base, "%20", " "))
	return decoded
}

func frontpageCandidates(doc *domain.DocumentData) []string {
	if doc == nil || doc.Frontpage == "" {
		return nil
	}
	var out []string
	for _, line := range strings.Split(doc.Frontpage, "\n") {
		line = strings.TrimSpace(line)
		if line != "" {
			out = append(out, line)
		}
	}
	return out
}

func collectSARs(data domain.PDFData) []domain.SAR {
	seen := make(map[string]domain.SAR)
	for _, doc := range []*domain.DocumentData{data.Report, data.ST} {
		if doc == nil || doc.Keywords == nil {
			continue
		}
		for _, matches := range doc.Keywords[SARCategory] {
			for raw := range matches {
				sar, err := domain.ParseSAR(raw)
				if err != nil {
					continue
				}
				if prev, dup := seen[sar.Family]; !dup || sar.Level > prev.Level {
					seen[sar.Family] = sar
				}
			}
		}
	}
	out := make([]domain.SAR, 0, len(seen))
	for _, sar := range seen {
		out = append(out, sar)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].Less(out[j]) })
	return out
}

func (p *Pipeline) matchCPEs(certs []*domain.Certificate) {
	for _, c := range certs {
		uris := p.deps.Matcher.Predict(c.Manufacturer, c.Name, c.Heuristics.ExtractedVersions.Strings())
		c.Heuristics.CPEMatches = serde.NewSet()
		for _, uri := range uris {
			c.Heuristics.CPEMatches.Add(uri)
		}
		if len(uris) > 0 {
			telemetry.CPEMatchesFound.WithLabelValues(string(c.Scheme)).Inc()
		}
	}
}

func stateCounts(certs []*domain.Certificate) map[string]int {
	counts := make(map[string]int)
	for _, c := range certs {
		for label, st := range map[string]domain.DocumentState{
			"report": c.State.Report,
			"st":     c.State.ST,
		} {
			if st.DownloadOK {
				counts[label+"_download_ok"]++
			}
			if st.ConvertOK {
				counts[label+"_convert_ok"]++
			}
			if st.ExtractOK {
				counts[label+"_extract_ok"]++
			}
		}
	}
	return counts
}
