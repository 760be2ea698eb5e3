package snapshot

import (
	"context"
	"fmt"
	"log/slog"
	"sort"
	"time"

	"github.com/google/uuid"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
	"github.com/seccorpus/certmap/internal/serde"
	"github.com/seccorpus/certmap/internal/telemetry"
)

// Record is anything the updater can reconcile: certificates, FIPS
// in-process entries, anything with a stable digest and a canonical
// form.
type Record interface {
	serde.Canonicalizable
	DGST() string
}

// Updater reconciles a freshly built population against the persisted
// live state of one dataset.
type Updater struct {
	store    ports.SnapshotStore
	notifier ports.DiffNotifier
	dataset  string
	version  string
}

// NewUpdater builds an updater for the named dataset. notifier may be
// nil.
func NewUpdater(store ports.SnapshotStore, notifier ports.DiffNotifier, dataset, toolVersion string) *Updater {
	return &Updater{store: store, notifier: notifier, dataset: dataset, version: toolVersion}
}

// Reconcile runs the diff protocol over the given population: insert
// new digests, structurally diff shared digests, mark vanished digests
// removed once. The run log record is written even when a step fails;
// the live store is then left in whatever partial state the bulk
// writes produced. states optionally carries per-state document counts
// for the run log.
func (u *Updater) Reconcile(ctx context.Context, records []Record, states map[string]int) (domain.RunRecord, error) {
	start := time.Now().UTC()
	run := domain.RunRecord{
		RunID:       uuid.NewString(),
		Dataset:     u.dataset,
		StartTime:   start,
		ToolVersion: u.version,
		Length:      len(records),
		Stats:       domain.RunStats{CertStates: states},
	}

	err := u.reconcile(ctx, &run, records)
	run.EndTime = time.Now().UTC()
	run.OK = err == nil
	if err != nil {
		run.Error = err.Error()
		slog.Error("reconciliation failed", "dataset", u.dataset, "run_id", run.RunID, "error", err)
	}
	if logErr := u.store.AppendRun(ctx, run); logErr != nil {
		slog.Error("run log write failed", "dataset", u.dataset, "run_id", run.RunID, "error", logErr)
		if err == nil {
			err = logErr
		}
	}
	if u.notifier != nil {
		u.notifier.NotifyRun(run)
	}
	return run, err
}

func (u *Updater) reconcile(ctx context.Context, run *domain.RunRecord, records []Record) error {
	old, err := u.store.LiveAll(ctx, u.dataset)
	if err != nil {
		return fmt.Errorf("loading live state: %w", err)
	}

	current := make(map[string][]byte, len(records))
	trees := make(map[string]serde.Map, len(records))
	order := make([]string, 0, len(records))
	for _, r := range records {
		dgst := r.DGST()
		if _, dup := current[dgst]; dup {
			continue
		}
		tree := r.ToCanonical()
		encoded, err := serde.Marshal(tree)
		if err != nil {
			return fmt.Errorf("encoding %s: %w", dgst, err)
		}
		current[dgst] = encoded
		trees[dgst] = tree
		order = append(order, dgst)
	}
	sort.Strings(order)

	if err := u.insertNew(ctx, run, old, current, order); err != nil {
		return err
	}
	if err := u.diffUpdated(ctx, run, old, current, trees, order); err != nil {
		return err
	}
	return u.markRemoved(ctx, run, old, current)
}

func (u *Updater) insertNew(ctx context.Context, run *domain.RunRecord, old, current map[string][]byte, order []string) error {
	upserts := make(map[string][]byte)
	var diffs []domain.DiffRecord
	for _, dgst := range order {
		if _, known := old[dgst]; known {
			continue
		}
		upserts[dgst] = current[dgst]
		diffs = append(diffs, domain.DiffRecord{
			RunID:     run.RunID,
			DGST:      dgst,
			Timestamp: run.StartTime,
			Type:      domain.DiffNew,
			Diff:      current[dgst],
		})
	}
	run.Stats.NewCerts = len(diffs)
	return u.commit(ctx, upserts, diffs)
}

func (u *Updater) diffUpdated(ctx context.Context, run *domain.RunRecord, old, current map[string][]byte, trees map[string]serde.Map, order []string) error {
	upserts := make(map[string][]byte)
	var diffs []domain.DiffRecord
	for _, dgst := range order {
		stored, known := old[dgst]
		if !known {
			continue
		}
		run.Stats.UpdatedIDs++

		decoded, err := serde.Unmarshal(stored)
		if err != nil {
			return fmt.Errorf("decoding live %s: %w", dgst, err)
		}
		oldTree, ok := decoded.(serde.Map)
		if !ok {
			return fmt.Errorf("live record %s is %T, want mapping", dgst, decoded)
		}
		diff := Diff(oldTree, trees[dgst])
		if len(diff) > 0 {
			payload, err := serde.Marshal(diff)
			if err != nil {
				return fmt.Errorf("encoding diff for %s: %w", dgst, err)
			}
			upserts[dgst] = current[dgst]
			diffs = append(diffs, domain.DiffRecord{
				RunID:     run.RunID,
				DGST:      dgst,
				Timestamp: run.StartTime,
				Type:      domain.DiffChange,
				Diff:      payload,
			})
			run.Stats.ChangedIDs++
			continue
		}
		last, err := u.store.LastDiffType(ctx, u.dataset, dgst)
		if err != nil {
			return fmt.Errorf("reading last diff for %s: %w", dgst, err)
		}
		if last == domain.DiffRemove {
			diffs = append(diffs, domain.DiffRecord{
				RunID:     run.RunID,
				DGST:      dgst,
				Timestamp: run.StartTime,
				Type:      domain.DiffBack,
			})
		}
	}
	return u.commit(ctx, upserts, diffs)
}

func (u *Updater) markRemoved(ctx context.Context, run *domain.RunRecord, old, current map[string][]byte) error {
	gone := make([]string, 0)
	for dgst := range old {
		if _, present := current[dgst]; !present {
			gone = append(gone, dgst)
		}
	}
	sort.Strings(gone)

	var diffs []domain.DiffRecord
	for _, dgst := range gone {
		last, err := u.store.LastDiffType(ctx, u.dataset, dgst)
		if err != nil {
			return fmt.Errorf("reading last diff for %s: %w", dgst, err)
		}
		// remove is idempotent: an already-removed digest stays quiet.
		if last == domain.DiffRemove {
			continue
		}
		diffs = append(diffs, domain.DiffRecord{
			RunID:     run.RunID,
			DGST:      dgst,
			Timestamp: run.StartTime,
			Type:      domain.DiffRemove,
		})
	}
	run.Stats.RemovedIDs = len(diffs)
	return u.commit(ctx, nil, diffs)
}

func (u *Updater) commit(ctx context.Context, upserts map[string][]byte, diffs []domain.DiffRecord) error {
	if len(upserts) > 0 {
		if err := u.store.UpsertLive(ctx, u.dataset, upserts); err != nil {
			return fmt.Errorf("upserting live records: %w", err)
		}
	}
	if len(diffs) > 0 {
		if err := u.store.AppendDiffs(ctx, u.dataset, diffs); err != nil {
			return fmt.Errorf("appending diffs: %w", err)
		}
		for _, d := range diffs {
			telemetry.DiffsEmitted.WithLabelValues(u.dataset, string(d.Type)).Inc()
			if u.notifier != nil {
				u.notifier.NotifyDiff(d)
			}
		}
	}
	return nil
}
