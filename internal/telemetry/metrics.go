package telemetry

import (
	"sync"

	"github.com/prometheus/client_golang/prometheus"
)

var (
	// DocumentsProcessed counts per-document pipeline outcomes
	DocumentsProcessed = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmap",
			Name:      "documents_processed_total",
			Help:      "Total number of documents processed by the pipeline",
		},
		[]string{"kind", "outcome"},
	)

	// DiffsEmitted counts diff records appended per type
	DiffsEmitted = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmap",
			Name:      "diffs_emitted_total",
			Help:      "Total number of diff records appended to the diff log",
		},
		[]string{"dataset", "type"},
	)

	// RunsTotal counts completed pipeline runs
	RunsTotal = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmap",
			Name:      "runs_total",
			Help:      "Total number of pipeline runs",
		},
		[]string{"dataset", "ok"},
	)

	// CPEMatchesFound counts certificates by whether matching produced candidates
	CPEMatchesFound = prometheus.NewCounterVec(
		prometheus.CounterOpts{
			Namespace: "certmap",
			Name:      "cpe_matches_total",
			Help:      "Total number of certificates with at least one CPE match",
		},
		[]string{"scheme"},
	)

	// ReferenceCollisions counts canonical id collisions seen while indexing
	ReferenceCollisions = prometheus.NewCounter(
		prometheus.CounterOpts{
			Namespace: "certmap",
			Name:      "reference_collisions_total",
			Help:      "Total number of certificate id collisions detected",
		},
	)

	// Ensure metrics are only registered once
	once sync.Once
)

// InitMetrics registers all metrics with the global Prometheus registry
// This function is idempotent and can be called multiple times safely
func InitMetrics() {
	once.Do(func() {
		prometheus.DefaultRegisterer.Register(DocumentsProcessed)
		prometheus.DefaultRegisterer.Register(DiffsEmitted)
		prometheus.DefaultRegisterer.Register(RunsTotal)
		prometheus.DefaultRegisterer.Register(CPEMatchesFound)
		prometheus.DefaultRegisterer.Register(ReferenceCollisions)
	})
}
