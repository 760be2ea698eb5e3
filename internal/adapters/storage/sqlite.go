// Package storage persists the live, diff and run collections in
// SQLite through GORM.
package storage

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	"gorm.io/driver/sqlite"
	"gorm.io/gorm"
	"gorm.io/gorm/clause"
	"gorm.io/gorm/logger"
	"gorm.io/plugin/opentelemetry/tracing"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
)

// SQLiteStore implements ports.SnapshotStore using GORM and SQLite.
type SQLiteStore struct {
	db *gorm.DB
}

// LiveModel is one live record, replace-by-digest.
type LiveModel struct {
	Dataset   string `gorm:"primaryKey"`
	DGST      string `gorm:"primaryKey;column:dgst"`
	Record    []byte
	UpdatedAt time.Time
}

// DiffModel is one append-only diff log entry.
type DiffModel struct {
	ID        uint   `gorm:"primaryKey"`
	RunID     string `gorm:"index"`
	Dataset   string `gorm:"index:idx_diffs_digest"`
	DGST      string `gorm:"index:idx_diffs_digest;column:dgst"`
	Timestamp time.Time
	Type      string
	Diff      []byte
}

// RunModel is one run log entry, totally ordered by start time.
type RunModel struct {
	RunID       string    `gorm:"primaryKey"`
	Dataset     string    `gorm:"index"`
	StartTime   time.Time `gorm:"index"`
	EndTime     time.Time
	ToolVersion string
	Length      int
	OK          bool
	Error       string
	Stats       []byte
}

// LockModel backs the global named run lock.
type LockModel struct {
	Name       string `gorm:"primaryKey"`
	Owner      string
	AcquiredAt time.Time
	ExpiresAt  time.Time
}

// NewSQLiteStore opens the database, installs the tracing plugin and
// migrates the schema.
func NewSQLiteStore(path string) (*SQLiteStore, error) {
	db, err := gorm.Open(sqlite.Open(path), &gorm.Config{
		Logger: logger.Default.LogMode(logger.Silent),
	})
	if err != nil {
		return nil, err
	}
	if err := db.Use(tracing.NewPlugin(tracing.WithoutMetrics())); err != nil {
		return nil, err
	}

	s := &SQLiteStore{db: db}
	if err := s.EnsureSchema(context.Background()); err != nil {
		return nil, err
	}
	return s, nil
}

// EnsureSchema migrates all models and creates the query indices.
func (s *SQLiteStore) EnsureSchema(ctx context.Context) error {
	db := s.db.WithContext(ctx)
	if err := db.AutoMigrate(&LiveModel{}, &DiffModel{}, &RunModel{}, &LockModel{}); err != nil {
		return err
	}
	db.Exec("CREATE INDEX IF NOT EXISTS idx_diffs_timestamp ON diff_models(dataset, dgst, timestamp)")
	db.Exec("CREATE INDEX IF NOT EXISTS idx_runs_start ON run_models(dataset, start_time)")
	return nil
}

// Drop removes every record of the dataset. Used by the drop command
// only; a pipeline run never deletes.
func (s *SQLiteStore) Drop(ctx context.Context, dataset string) error {
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		for _, model := range []any{&LiveModel{}, &DiffModel{}, &RunModel{}} {
			if err := tx.Where("dataset = ?", dataset).Delete(model).Error; err != nil {
				return err
			}
		}
		return nil
	})
}

func (s *SQLiteStore) LiveAll(ctx context.Context, dataset string) (map[string][]byte, error) {
	var models []LiveModel
	if err := s.db.WithContext(ctx).Where("dataset = ?", dataset).Find(&models).Error; err != nil {
		return nil, err
	}
	out := make(map[string][]byte, len(models))
	for _, m := range models {
		out[m.DGST] = m.Record
	}
	return out, nil
}

func (s *SQLiteStore) LiveGet(ctx context.Context, dataset, dgst string) ([]byte, error) {
	var model LiveModel
	err := s.db.WithContext(ctx).First(&model, "dataset = ? AND dgst = ?", dataset, dgst).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	return model.Record, nil
}

// UpsertLive replaces records by digest in batches inside one
// transaction.
func (s *SQLiteStore) UpsertLive(ctx context.Context, dataset string, records map[string][]byte) error {
	if len(records) == 0 {
		return nil
	}
	now := time.Now().UTC()
	models := make([]LiveModel, 0, len(records))
	for dgst, record := range records {
		models = append(models, LiveModel{Dataset: dataset, DGST: dgst, Record: record, UpdatedAt: now})
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.Clauses(clause.OnConflict{
			UpdateAll: true,
		}).CreateInBatches(models, 100).Error
	})
}

func (s *SQLiteStore) AppendDiffs(ctx context.Context, dataset string, diffs []domain.DiffRecord) error {
	if len(diffs) == 0 {
		return nil
	}
	models := make([]DiffModel, len(diffs))
	for i, d := range diffs {
		models[i] = DiffModel{
			RunID:     d.RunID,
			Dataset:   dataset,
			DGST:      d.DGST,
			Timestamp: d.Timestamp,
			Type:      string(d.Type),
			Diff:      d.Diff,
		}
	}
	return s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		return tx.CreateInBatches(models, 100).Error
	})
}

func (s *SQLiteStore) LastDiffType(ctx context.Context, dataset, dgst string) (domain.DiffType, error) {
	var model DiffModel
	err := s.db.WithContext(ctx).
		Where("dataset = ? AND dgst = ?", dataset, dgst).
		Order("timestamp DESC, id DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return "", nil
	}
	if err != nil {
		return "", err
	}
	return domain.DiffType(model.Type), nil
}

func (s *SQLiteStore) DiffsFor(ctx context.Context, dataset, dgst string) ([]domain.DiffRecord, error) {
	var models []DiffModel
	err := s.db.WithContext(ctx).
		Where("dataset = ? AND dgst = ?", dataset, dgst).
		Order("timestamp ASC, id ASC").
		Find(&models).Error
	if err != nil {
		return nil, err
	}
	out := make([]domain.DiffRecord, len(models))
	for i, m := range models {
		out[i] = domain.DiffRecord{
			RunID:     m.RunID,
			DGST:      m.DGST,
			Timestamp: m.Timestamp,
			Type:      domain.DiffType(m.Type),
			Diff:      m.Diff,
		}
	}
	return out, nil
}

func (s *SQLiteStore) AppendRun(ctx context.Context, run domain.RunRecord) error {
	stats, err := json.Marshal(run.Stats)
	if err != nil {
		return fmt.Errorf("encoding run stats: %w", err)
	}
	model := RunModel{
		RunID:       run.RunID,
		Dataset:     run.Dataset,
		StartTime:   run.StartTime,
		EndTime:     run.EndTime,
		ToolVersion: run.ToolVersion,
		Length:      run.Length,
		OK:          run.OK,
		Error:       run.Error,
		Stats:       stats,
	}
	return s.db.WithContext(ctx).Create(&model).Error
}

func (s *SQLiteStore) LastRun(ctx context.Context, dataset string) (*domain.RunRecord, error) {
	var model RunModel
	err := s.db.WithContext(ctx).
		Where("dataset = ?", dataset).
		Order("start_time DESC").
		First(&model).Error
	if errors.Is(err, gorm.ErrRecordNotFound) {
		return nil, nil
	}
	if err != nil {
		return nil, err
	}
	run := &domain.RunRecord{
		RunID:       model.RunID,
		Dataset:     model.Dataset,
		StartTime:   model.StartTime,
		EndTime:     model.EndTime,
		ToolVersion: model.ToolVersion,
		Length:      model.Length,
		OK:          model.OK,
		Error:       model.Error,
	}
	if len(model.Stats) > 0 {
		if err := json.Unmarshal(model.Stats, &run.Stats); err != nil {
			return nil, fmt.Errorf("decoding run stats: %w", err)
		}
	}
	return run, nil
}

// AcquireRunLock takes the global named lock. An expired lock is
// treated as crashed and stolen; a live one fails the acquisition.
func (s *SQLiteStore) AcquireRunLock(ctx context.Context, name string, ttl time.Duration) (func() error, error) {
	owner := uuid.NewString()
	now := time.Now().UTC()
	err := s.db.WithContext(ctx).Transaction(func(tx *gorm.DB) error {
		var lock LockModel
		err := tx.First(&lock, "name = ?", name).Error
		switch {
		case errors.Is(err, gorm.ErrRecordNotFound):
		case err != nil:
			return err
		case lock.ExpiresAt.After(now):
			return fmt.Errorf("run lock %q held by %s until %s", name, lock.Owner, lock.ExpiresAt.Format(time.RFC3339))
		}
		return tx.Clauses(clause.OnConflict{UpdateAll: true}).Create(&LockModel{
			Name:       name,
			Owner:      owner,
			AcquiredAt: now,
			ExpiresAt:  now.Add(ttl),
		}).Error
	})
	if err != nil {
		return nil, err
	}
	release := func() error {
		return s.db.Where("name = ? AND owner = ?", name, owner).Delete(&LockModel{}).Error
	}
	return release, nil
}

func (s *SQLiteStore) Close() error {
	sqlDB, err := s.db.DB()
	if err != nil {
		return err
	}
	return sqlDB.Close()
}

var _ ports.SnapshotStore = (*SQLiteStore)(nil)
