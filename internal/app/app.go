// Package app wires configuration, adapters and services into the
// dataset commands exposed by the CLI.
package app

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/seccorpus/certmap/internal/adapters/artifacts"
	"github.com/seccorpus/certmap/internal/adapters/manifest"
	"github.com/seccorpus/certmap/internal/adapters/nvd"
	"github.com/seccorpus/certmap/internal/adapters/reporting"
	"github.com/seccorpus/certmap/internal/adapters/storage"
	"github.com/seccorpus/certmap/internal/adapters/web"
	"github.com/seccorpus/certmap/internal/config"
	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/services/canonical"
	"github.com/seccorpus/certmap/internal/core/services/cpematch"
	"github.com/seccorpus/certmap/internal/core/services/keywords"
	"github.com/seccorpus/certmap/internal/core/services/pipeline"
	"github.com/seccorpus/certmap/internal/core/services/refs"
	"github.com/seccorpus/certmap/internal/core/services/snapshot"
	"github.com/seccorpus/certmap/internal/core/services/vulns"
	"github.com/seccorpus/certmap/internal/serde"
	"github.com/seccorpus/certmap/internal/telemetry"
)

// Version is stamped into run-log records.
const Version = "1.0.0"

// Datasets the CLI can address.
const (
	DatasetCC   = "cc"
	DatasetFIPS = "fips"
	DatasetPP   = "pp"
)

// App owns the long-lived resources of one invocation.
type App struct {
	cfg       *config.Config
	store     *storage.SQLiteStore
	broadcast *web.WSBroadcaster
}

// New opens the snapshot store and registers metrics.
func New(cfg *config.Config) (*App, error) {
	telemetry.InitMetrics()
	store, err := storage.NewSQLiteStore(cfg.DBPath)
	if err != nil {
		return nil, fmt.Errorf("opening snapshot store: %w", err)
	}
	return &App{cfg: cfg, store: store, broadcast: web.NewWSBroadcaster()}, nil
}

// Close releases the store.
func (a *App) Close() error { return a.store.Close() }

// Create initializes the snapshot schema.
func (a *App) Create(ctx context.Context) error {
	return a.store.EnsureSchema(ctx)
}

// Drop removes every record of the dataset.
func (a *App) Drop(ctx context.Context, dataset string) error {
	return a.store.Drop(ctx, dataset)
}

// Update reconciles the dataset from the given manifest. The cc
// dataset runs the full document pipeline; fips and pp feed their
// records straight through the differ.
func (a *App) Update(ctx context.Context, dataset, manifestPath string) (domain.RunRecord, error) {
	if a.cfg.Addr != "" {
		srvCtx, cancel := context.WithCancel(ctx)
		defer cancel()
		go func() {
			if err := a.Serve(srvCtx); err != nil {
				slog.Warn("status server stopped", "error", err)
			}
		}()
	}
	switch dataset {
	case DatasetCC:
		return a.updateCertificates(ctx, manifestPath)
	case DatasetFIPS, DatasetPP:
		return a.updateAuxiliary(ctx, dataset, manifestPath)
	default:
		return domain.RunRecord{}, fmt.Errorf("unknown dataset %q", dataset)
	}
}

func (a *App) updateCertificates(ctx context.Context, manifestPath string) (domain.RunRecord, error) {
	certs, err := manifest.LoadCertificates(manifestPath)
	if err != nil {
		return domain.RunRecord{}, err
	}
	auxDir := filepath.Join(filepath.Dir(manifestPath), "auxiliary_datasets")
	if err := manifest.AttachAuxiliary(auxDir, certs); err != nil {
		return domain.RunRecord{}, err
	}

	catalog, err := keywords.LoadCatalog(a.cfg.CatalogPath)
	if err != nil {
		return domain.RunRecord{}, err
	}
	extractor, err := keywords.NewExtractor(catalog, 0)
	if err != nil {
		return domain.RunRecord{}, err
	}
	rules, err := canonical.LoadRules(a.cfg.RulesPath)
	if err != nil {
		return domain.RunRecord{}, err
	}
	canon := canonical.New(rules)

	nvdDB, err := nvd.Open(a.cfg.NVDDBPath)
	if err != nil {
		return domain.RunRecord{}, err
	}
	defer nvdDB.Close()

	cpes, err := nvd.NewCPERepository(nvdDB).All(ctx)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("loading CPE dictionary: %w", err)
	}
	cves, err := nvd.NewCVERepository(nvdDB).All(ctx)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("loading CVE dataset: %w", err)
	}
	corpus := serde.NewSet()
	for _, cpe := range cpes {
		corpus.Add(cpe.URI)
	}
	if err := vulns.ExpandConfigurations(ctx, cves, nvd.NewMatchStringRepository(nvdDB), corpus); err != nil {
		return domain.RunRecord{}, err
	}

	store, err := artifacts.New(a.cfg.ArtifactRoot)
	if err != nil {
		return domain.RunRecord{}, err
	}

	deps := pipeline.Deps{
		Artifacts: store,
		Fetcher:   artifacts.NewHTTPFetcher(a.cfg.FetchTimeout),
		Converter: artifacts.NewPdftotextConverter(a.cfg.Pdftotext),
		Extractor: extractor,
		Canon:     canon,
		Resolver:  refs.NewResolver(canon, a.cfg.KeepUnknowns),
		Matcher:   cpematch.NewMatcher(cpes, 0, 0),
		Linker:    vulns.NewLinker(cves),
		Updater:   snapshot.NewUpdater(a.store, a.broadcast, DatasetCC, Version),
		Store:     a.store,
	}
	return pipeline.New(deps, DatasetCC, a.cfg.Workers, a.cfg.LockTTL).Run(ctx, certs)
}

func (a *App) updateAuxiliary(ctx context.Context, dataset, manifestPath string) (domain.RunRecord, error) {
	entries, err := manifest.LoadInProcess(manifestPath)
	if err != nil {
		return domain.RunRecord{}, err
	}
	records := make([]snapshot.Record, 0, len(entries))
	for i, e := range entries {
		record, ok := e.(snapshot.Record)
		if !ok {
			return domain.RunRecord{}, fmt.Errorf("manifest entry %d: %T has no digest", i, e)
		}
		records = append(records, record)
	}

	release, err := a.store.AcquireRunLock(ctx, "run:"+dataset, a.cfg.LockTTL)
	if err != nil {
		return domain.RunRecord{}, fmt.Errorf("acquiring run lock: %w", err)
	}
	defer func() {
		if err := release(); err != nil {
			slog.Warn("run lock release failed", "dataset", dataset, "error", err)
		}
	}()

	updater := snapshot.NewUpdater(a.store, a.broadcast, dataset, Version)
	return updater.Reconcile(ctx, records, nil)
}

// Status writes a JSON summary of every dataset plus the NVD feed
// bookkeeping.
func (a *App) Status(ctx context.Context, w io.Writer) error {
	type status struct {
		Dataset string            `json:"dataset"`
		Count   int               `json:"count"`
		LastRun *domain.RunRecord `json:"last_run,omitempty"`
	}
	var out struct {
		Datasets []status         `json:"datasets"`
		NVDFeeds []nvd.SyncStatus `json:"nvd_feeds,omitempty"`
	}
	for _, dataset := range []string{DatasetCC, DatasetFIPS, DatasetPP} {
		live, err := a.store.LiveAll(ctx, dataset)
		if err != nil {
			return err
		}
		run, err := a.store.LastRun(ctx, dataset)
		if err != nil {
			return err
		}
		out.Datasets = append(out.Datasets, status{Dataset: dataset, Count: len(live), LastRun: run})
	}
	if nvdDB, err := nvd.Open(a.cfg.NVDDBPath); err == nil {
		if feeds, err := nvdDB.SyncStatuses(); err == nil {
			out.NVDFeeds = feeds
		}
		nvdDB.Close()
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(out)
}

// Report renders the latest run record of the dataset to PDF.
func (a *App) Report(ctx context.Context, dataset, outPath string) error {
	run, err := a.store.LastRun(ctx, dataset)
	if err != nil {
		return err
	}
	if run == nil {
		return fmt.Errorf("dataset %q has no runs yet", dataset)
	}
	data, err := reporting.NewPDFExporter().ExportRunSummary(run)
	if err != nil {
		return err
	}
	return os.WriteFile(outPath, data, 0o644)
}

// Serve runs the read-only status server until the context ends.
func (a *App) Serve(ctx context.Context) error {
	server := web.NewServer(a.cfg.Addr, a.store, []string{DatasetCC, DatasetFIPS, DatasetPP}, a.broadcast)
	go func() {
		<-ctx.Done()
		server.Shutdown(context.Background())
	}()
	return server.Start()
}
