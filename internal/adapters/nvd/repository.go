package nvd

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/core/ports"
)

// CVERepository reads the mirrored CVE records.
type CVERepository struct {
	db *DB
}

// NewCVERepository builds a repository over the shared mirror.
func NewCVERepository(db *DB) *CVERepository { return &CVERepository{db: db} }

func (r *CVERepository) All(ctx context.Context) ([]domain.CVE, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT cve_id, COALESCE(published_date, ''), COALESCE(cvss, 0),
		       vulnerable_cpes, configurations
		FROM cve_records
		ORDER BY cve_id
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.CVE
	for rows.Next() {
		var cve domain.CVE
		var cpesJSON, cfgJSON []byte
		if err := rows.Scan(&cve.ID, &cve.Published, &cve.CVSS, &cpesJSON, &cfgJSON); err != nil {
			return nil, err
		}
		if err := json.Unmarshal(cpesJSON, &cve.VulnerableCPEs); err != nil {
			return nil, fmt.Errorf("cve %s vulnerable_cpes: %w", cve.ID, err)
		}
		configurations, err := decodeConfigurations(cfgJSON)
		if err != nil {
			return nil, fmt.Errorf("cve %s configurations: %w", cve.ID, err)
		}
		cve.Configurations = configurations
		out = append(out, cve)
	}
	return out, rows.Err()
}

func (r *CVERepository) Count(ctx context.Context) (int, error) {
	return count(ctx, r.db.db, "cve_records")
}

// storedConfiguration is the persisted shape of one match
// configuration.
type storedConfiguration struct {
	Criteria [][]storedCriteria `json:"criteria"`
}

type storedCriteria struct {
	Vulnerable   bool   `json:"vulnerable"`
	Criteria     string `json:"criteria"`
	CriteriaID   string `json:"criteria_id"`
	VersionStart *bound `json:"version_start,omitempty"`
	VersionEnd   *bound `json:"version_end,omitempty"`
}

type bound struct {
	Including bool   `json:"including"`
	Version   string `json:"version"`
}

func decodeConfigurations(data []byte) ([]*domain.CPEMatchConfiguration, error) {
	var stored []storedConfiguration
	if err := json.Unmarshal(data, &stored); err != nil {
		return nil, err
	}
	out := make([]*domain.CPEMatchConfiguration, 0, len(stored))
	for _, sc := range stored {
		cfg := &domain.CPEMatchConfiguration{}
		for _, disjunction := range sc.Criteria {
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
		out = append(out, cfg)
	}
	return out, nil
}

func encodeConfigurations(configurations []*domain.CPEMatchConfiguration) ([]byte, error) {
	stored := make([]storedConfiguration, 0, len(configurations))
	for _, cfg := range configurations {
		var sc storedConfiguration
		for _, disjunction := range cfg.Criteria {
			row := make([]storedCriteria, len(disjunction))
			for i, c := range disjunction {
				row[i] = storedCriteria{
					Vulnerable: c.Vulnerable,
					Criteria:   c.Criteria,
					CriteriaID: c.CriteriaID,
				}
				if c.VersionStart != nil {
					row[i].VersionStart = &bound{Including: c.VersionStart.Including, Version: c.VersionStart.Version}
				}
				if c.VersionEnd != nil {
					row[i].VersionEnd = &bound{Including: c.VersionEnd.Including, Version: c.VersionEnd.Version}
				}
			}
			sc.Criteria = append(sc.Criteria, row)
		}
		stored = append(stored, sc)
	}
	return json.Marshal(stored)
}

// CPERepository reads the mirrored CPE dictionary.
type CPERepository struct {
	db *DB
}

func NewCPERepository(db *DB) *CPERepository { return &CPERepository{db: db} }

func (r *CPERepository) All(ctx context.Context) ([]domain.CPE, error) {
	rows, err := r.db.db.QueryContext(ctx, `
		SELECT cpe_name_id, uri, vendor, item_name, version, COALESCE(title, '')
		FROM cpe_records
		ORDER BY uri
	`)
	if err != nil {
		return nil, fmt.Errorf("query failed: %w", err)
	}
	defer rows.Close()

	var out []domain.CPE
	for rows.Next() {
		var cpe domain.CPE
		if err := rows.Scan(&cpe.CPEID, &cpe.URI, &cpe.Vendor, &cpe.ItemName, &cpe.Version, &cpe.Title); err != nil {
			return nil, err
		}
		out = append(out, cpe)
	}
	return out, rows.Err()
}

func (r *CPERepository) Count(ctx context.Context) (int, error) {
	return count(ctx, r.db.db, "cpe_records")
}

// MatchStringRepository resolves criteria ids against the mirrored
// match-string dictionary.
type MatchStringRepository struct {
	db *DB
}

func NewMatchStringRepository(db *DB) *MatchStringRepository {
	return &MatchStringRepository{db: db}
}

// Expand returns the CPE URIs a criteria id stands for. A missing id
// surfaces as the taxonomy error so callers can classify it.
func (r *MatchStringRepository) Expand(ctx context.Context, criteriaID string) ([]string, error) {
	var urisJSON []byte
	err := r.db.db.QueryRowContext(ctx,
		`SELECT cpe_uris FROM match_strings WHERE criteria_id = ?`, criteriaID,
	).Scan(&urisJSON)
	if err == sql.ErrNoRows {
		return nil, &domain.MissingExpansionError{CriteriaID: criteriaID}
	}
	if err != nil {
		return nil, err
	}
	var uris []string
	if err := json.Unmarshal(urisJSON, &uris); err != nil {
		return nil, fmt.Errorf("criteria %s cpe_uris: %w", criteriaID, err)
	}
	return uris, nil
}

func count(ctx context.Context, db *sql.DB, table string) (int, error) {
	var n int
	if err := db.QueryRowContext(ctx, "SELECT COUNT(*) FROM "+table).Scan(&n); err != nil {
		return 0, err
	}
	return n, nil
}

var (
	_ ports.CVERepository   = (*CVERepository)(nil)
	_ ports.CPERepository   = (*CPERepository)(nil)
	_ ports.MatchDictionary = (*MatchStringRepository)(nil)
)
