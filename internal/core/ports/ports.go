// Package ports declares the interfaces between the pipeline core and
// its adapters. Services accept interfaces and return domain values.
package ports

import (
	"context"
	"time"

	"github.com/seccorpus/certmap/internal/core/domain"
)

// DocumentKind names the per-certificate document slots.
type DocumentKind string

const (
	KindReport  DocumentKind = "report"
	KindST      DocumentKind = "st"
	KindCert    DocumentKind = "cert"
	KindProfile DocumentKind = "profile"
)

// DocumentFormat names the stored renderings of a document.
type DocumentFormat string

const (
	FormatPDF  DocumentFormat = "pdf"
	FormatTxt  DocumentFormat = "txt"
	FormatJSON DocumentFormat = "json"
)

// ArtifactStore is the content-addressed on-disk layout for documents.
type ArtifactStore interface {
	// Path returns the canonical location for a document, whether or
	// not it exists yet.
	Path(kind DocumentKind, format DocumentFormat, dgst string) string

	// Acquire hands the caller a write target via produce and, on
	// success, returns the SHA-256 of the written file. When the file
	// already exists and produce leaves it hash-equal, changed is
	// false and the acquisition is a no-op.
	Acquire(kind DocumentKind, format DocumentFormat, dgst string, produce func(path string) error) (hash string, changed bool, err error)
}

// DocumentFetcher downloads one document to a local path.
type DocumentFetcher interface {
	Fetch(ctx context.Context, url, dst string) error
}

// Converter runs the external PDF-to-text tool. The conversion itself
// is opaque to the pipeline.
type Converter interface {
	Convert(ctx context.Context, pdfPath, txtPath string) error
}

// SnapshotStore persists the three append-only collections of a
// dataset: live records, the diff log and the run log. Writes are
// idempotent by digest so a retried partial run converges.
type SnapshotStore interface {
	EnsureSchema(ctx context.Context) error
	Drop(ctx context.Context, dataset string) error

	LiveAll(ctx context.Context, dataset string) (map[string][]byte, error)
	LiveGet(ctx context.Context, dataset, dgst string) ([]byte, error)
	UpsertLive(ctx context.Context, dataset string, records map[string][]byte) error

	AppendDiffs(ctx context.Context, dataset string, diffs []domain.DiffRecord) error
	// LastDiffType returns the type of the most recent diff for the
	// digest, or "" when the digest has no diffs yet.
	LastDiffType(ctx context.Context, dataset, dgst string) (domain.DiffType, error)
	DiffsFor(ctx context.Context, dataset, dgst string) ([]domain.DiffRecord, error)

	AppendRun(ctx context.Context, run domain.RunRecord) error
	LastRun(ctx context.Context, dataset string) (*domain.RunRecord, error)

	// AcquireRunLock takes the global named run lock. A lock whose ttl
	// elapsed is considered crashed and may be stolen. The returned
	// release must be called when the run finishes.
	AcquireRunLock(ctx context.Context, name string, ttl time.Duration) (release func() error, err error)

	Close() error
}

// CVERepository reads the mirrored NVD CVE dataset.
type CVERepository interface {
	All(ctx context.Context) ([]domain.CVE, error)
	Count(ctx context.Context) (int, error)
}

// CPERepository reads the mirrored NVD CPE dictionary.
type CPERepository interface {
	All(ctx context.Context) ([]domain.CPE, error)
	Count(ctx context.Context) (int, error)
}

// MatchDictionary resolves NVD match-string criteria ids to the CPE
// URIs they expand to.
type MatchDictionary interface {
	Expand(ctx context.Context, criteriaID string) ([]string, error)
}

// DiffNotifier receives diff and run events as they are appended, for
// downstream notification consumers.
type DiffNotifier interface {
	NotifyDiff(diff domain.DiffRecord)
	NotifyRun(run domain.RunRecord)
}
