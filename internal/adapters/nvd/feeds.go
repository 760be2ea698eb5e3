package nvd

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"time"

	"github.com/seccorpus/certmap/internal/core/domain"
)

// Feed names used in sync bookkeeping.
const (
	FeedCVE   = "cve"
	FeedCPE   = "cpe"
	FeedMatch = "cpe_match"
)

// cveFeedRecord mirrors one entry of the CVE feed.
type cveFeedRecord struct {
	ID             string   `json:"cve_id"`
	PublishedDate  string   `json:"published_date"`
	CVSS           float64  `json:"cvss"`
	VulnerableCPEs []string `json:"vulnerable_cpes"`
	Configurations [][]struct {
		Vulnerable   bool   `json:"vulnerable"`
		Criteria     string `json:"criteria"`
		CriteriaID   string `json:"criteria_id"`
		VersionStart *bound `json:"version_start,omitempty"`
		VersionEnd   *bound `json:"version_end,omitempty"`
	} `json:"vulnerable_criteria_configurations"`
}

// cpeFeedRecord mirrors one entry of the CPE dictionary feed.
type cpeFeedRecord struct {
	CPENameID string `json:"cpeNameId"`
	CPEName   string `json:"cpeName"`
	Titles    []struct {
		Title string `json:"title"`
		Lang  string `json:"lang"`
	} `json:"titles"`
}

// matchFeedRecord mirrors one entry of the match-string feed.
type matchFeedRecord struct {
	CriteriaID string `json:"criteria_id"`
	Matches    []struct {
		CPEName string `json:"cpeName"`
	} `json:"matches"`
}

// LoadCVEFeed imports the CVE feed file into the mirror. Each record's
// configurations become one single-conjunction AND-of-ORs entry, the
// shape the feed delivers them in.
func (d *DB) LoadCVEFeed(ctx context.Context, path string) error {
	var records []cveFeedRecord
	if err := readFeed(path, &records); err != nil {
		return d.failSync(FeedCVE, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.failSync(FeedCVE, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cve_records (cve_id, published_date, cvss, vulnerable_cpes, configurations)
		VALUES (?, ?, ?, ?, ?)
		ON CONFLICT(cve_id) DO UPDATE SET
			published_date = excluded.published_date,
			cvss = excluded.cvss,
			vulnerable_cpes = excluded.vulnerable_cpes,
			configurations = excluded.configurations
	`)
	if err != nil {
		tx.Rollback()
		return d.failSync(FeedCVE, err)
	}
	defer stmt.Close()

	loaded := 0
	for _, rec := range records {
		if rec.ID == "" {
			continue
		}
		cfg := &domain.CPEMatchConfiguration{}
		for _, disjunction := range rec.Configurations {
			row := make([]domain.CPEMatchCriteria, len(disjunction))
			for i, c := range disjunction {
				row[i] = domain.CPEMatchCriteria{
					Vulnerable: c.Vulnerable,
					Criteria:   c.Criteria,
					CriteriaID: c.CriteriaID,
				}
				if c.VersionStart != nil {
					row[i].VersionStart = &domain.VersionBound{Including: c.VersionStart.Including, Version: c.VersionStart.Version}
				}
				if c.VersionEnd != nil {
					row[i].VersionEnd = &domain.VersionBound{Including: c.VersionEnd.Including, Version: c.VersionEnd.Version}
				}
			}
			cfg.Criteria = append(cfg.Criteria, row)
		}
		var configurations []*domain.CPEMatchConfiguration
		if len(cfg.Criteria) > 0 {
			configurations = append(configurations, cfg)
		}
		cfgJSON, err := encodeConfigurations(configurations)
		if err != nil {
			tx.Rollback()
			return d.failSync(FeedCVE, fmt.Errorf("cve %s: %w", rec.ID, err))
		}
		cpes := rec.VulnerableCPEs
		if cpes == nil {
			cpes = []string{}
		}
		cpesJSON, _ := json.Marshal(cpes)
		if _, err := stmt.ExecContext(ctx, rec.ID, rec.PublishedDate, rec.CVSS, cpesJSON, cfgJSON); err != nil {
			tx.Rollback()
			return d.failSync(FeedCVE, fmt.Errorf("cve %s: %w", rec.ID, err))
		}
		loaded++
	}
	if err := tx.Commit(); err != nil {
		return d.failSync(FeedCVE, err)
	}
	slog.Info("feed loaded", "feed", FeedCVE, "path", path, "records", loaded)
	return d.UpdateSyncStatus(SyncStatus{Feed: FeedCVE, LastSync: time.Now().UTC(), RecordCount: loaded})
}

// LoadCPEFeed imports the CPE dictionary. Malformed URIs are skipped
// with a warning rather than failing the import.
func (d *DB) LoadCPEFeed(ctx context.Context, path string) error {
	var records []cpeFeedRecord
	if err := readFeed(path, &records); err != nil {
		return d.failSync(FeedCPE, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.failSync(FeedCPE, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO cpe_records (cpe_name_id, uri, vendor, item_name, version, title)
		VALUES (?, ?, ?, ?, ?, ?)
		ON CONFLICT(cpe_name_id) DO UPDATE SET
			uri = excluded.uri,
			vendor = excluded.vendor,
			item_name = excluded.item_name,
			version = excluded.version,
			title = excluded.title
	`)
	if err != nil {
		tx.Rollback()
		return d.failSync(FeedCPE, err)
	}
	defer stmt.Close()

	loaded := 0
	for _, rec := range records {
		title := ""
		for _, t := range rec.Titles {
			if t.Lang == "en" {
				title = t.Title
				break
			}
		}
		cpe, err := domain.NewCPE(rec.CPENameID, rec.CPEName, title)
		if err != nil {
			slog.Warn("skipping malformed CPE", "cpe_name_id", rec.CPENameID, "error", err)
			continue
		}
		if _, err := stmt.ExecContext(ctx, cpe.CPEID, cpe.URI, cpe.Vendor, cpe.ItemName, cpe.Version, cpe.Title); err != nil {
			tx.Rollback()
			return d.failSync(FeedCPE, fmt.Errorf("cpe %s: %w", rec.CPENameID, err))
		}
		loaded++
	}
	if err := tx.Commit(); err != nil {
		return d.failSync(FeedCPE, err)
	}
	slog.Info("feed loaded", "feed", FeedCPE, "path", path, "records", loaded)
	return d.UpdateSyncStatus(SyncStatus{Feed: FeedCPE, LastSync: time.Now().UTC(), RecordCount: loaded})
}

// LoadMatchFeed imports the match-string dictionary.
func (d *DB) LoadMatchFeed(ctx context.Context, path string) error {
	var records []matchFeedRecord
	if err := readFeed(path, &records); err != nil {
		return d.failSync(FeedMatch, err)
	}

	tx, err := d.db.BeginTx(ctx, nil)
	if err != nil {
		return d.failSync(FeedMatch, err)
	}
	stmt, err := tx.PrepareContext(ctx, `
		INSERT INTO match_strings (criteria_id, cpe_uris)
		VALUES (?, ?)
		ON CONFLICT(criteria_id) DO UPDATE SET cpe_uris = excluded.cpe_uris
	`)
	if err != nil {
		tx.Rollback()
		return d.failSync(FeedMatch, err)
	}
	defer stmt.Close()

	loaded := 0
	for _, rec := range records {
		if rec.CriteriaID == "" {
			continue
		}
		uris := make([]string, 0, len(rec.Matches))
		for _, m := range rec.Matches {
			uris = append(uris, m.CPEName)
		}
		urisJSON, _ := json.Marshal(uris)
		if _, err := stmt.ExecContext(ctx, rec.CriteriaID, urisJSON); err != nil {
			tx.Rollback()
			return d.failSync(FeedMatch, fmt.Errorf("criteria %s: %w", rec.CriteriaID, err))
		}
		loaded++
	}
	if err := tx.Commit(); err != nil {
		return d.failSync(FeedMatch, err)
	}
	slog.Info("feed loaded", "feed", FeedMatch, "path", path, "records", loaded)
	return d.UpdateSyncStatus(SyncStatus{Feed: FeedMatch, LastSync: time.Now().UTC(), RecordCount: loaded})
}

func readFeed(path string, out any) error {
	data, err := os.ReadFile(path)
	if err != nil {
		return fmt.Errorf("failed to read feed file: %w", err)
	}
	if err := json.Unmarshal(data, out); err != nil {
		return fmt.Errorf("failed to parse feed file %s: %w", path, err)
	}
	return nil
}

func (d *DB) failSync(feed string, err error) error {
	if statusErr := d.UpdateSyncStatus(SyncStatus{
		Feed:     feed,
		LastSync: time.Now().UTC(),
		Error:    err.Error(),
	}); statusErr != nil {
		slog.Error("sync status update failed", "feed", feed, "error", statusErr)
	}
	return err
}
