// Package manifest reads and writes the on-disk dataset manifests in
// canonical JSON form.
package manifest

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"sort"

	"github.com/seccorpus/certmap/internal/core/domain"
	"github.com/seccorpus/certmap/internal/serde"
)

// LoadCertificates reads a dataset.json manifest: a canonical JSON
// list of typed certificate mappings.
func LoadCertificates(path string) ([]*domain.Certificate, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading manifest %s: %w", path, err)
	}
	decoded, err := serde.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing manifest %s: %w", path, err)
	}
	rehydrated, err := serde.Rehydrate(decoded)
	if err != nil {
		return nil, fmt.Errorf("rehydrating manifest %s: %w", path, err)
	}
	list, ok := rehydrated.(serde.List)
	if !ok {
		return nil, fmt.Errorf("manifest %s: top level is %T, want list", path, rehydrated)
	}
	certs := make([]*domain.Certificate, 0, len(list))
	for i, item := range list {
		cert, ok := item.(*domain.Certificate)
		if !ok {
			return nil, fmt.Errorf("manifest %s: entry %d is %T, want certificate", path, i, item)
		}
		certs = append(certs, cert)
	}
	return certs, nil
}

// WriteCertificates writes the population back out as a manifest,
// sorted by digest so re-runs are byte-stable.
func WriteCertificates(path string, certs []*domain.Certificate) error {
	sorted := make([]*domain.Certificate, len(certs))
	copy(sorted, certs)
	sort.Slice(sorted, func(i, j int) bool { return sorted[i].DGST() < sorted[j].DGST() })
	list := make(serde.List, len(sorted))
	for i, c := range sorted {
		list[i] = c.ToCanonical()
	}
	data, err := serde.Marshal(list)
	if err != nil {
		return fmt.Errorf("encoding manifest: %w", err)
	}
	if err := os.WriteFile(path, data, 0o644); err != nil {
		return fmt.Errorf("writing manifest %s: %w", path, err)
	}
	return nil
}

// AttachAuxiliary merges the optional auxiliary datasets under dir
// onto the population: maintenance updates and protection-profile
// references, both keyed by certificate digest. Missing files are
// fine; digests with no matching certificate are skipped.
func AttachAuxiliary(dir string, certs []*domain.Certificate) error {
	byDGST := make(map[string]*domain.Certificate, len(certs))
	for _, c := range certs {
		byDGST[c.DGST()] = c
	}
	if err := attachMaintenance(filepath.Join(dir, "maintenance_updates.json"), byDGST); err != nil {
		return err
	}
	return attachProfiles(filepath.Join(dir, "protection_profiles.json"), byDGST)
}

func attachMaintenance(path string, byDGST map[string]*domain.Certificate) error {
	entries, err := loadAuxiliaryMap(path)
	if err != nil || entries == nil {
		return err
	}
	for dgst, v := range entries {
		cert, ok := byDGST[dgst]
		if !ok {
			continue
		}
		list, ok := v.(serde.List)
		if !ok {
			return fmt.Errorf("auxiliary %s: entry %s is %T, want list", path, dgst, v)
		}
		for _, el := range list {
			mu, ok := el.(domain.MaintenanceReport)
			if !ok {
				return fmt.Errorf("auxiliary %s: entry %s holds %T, want maintenance report", path, dgst, el)
			}
			cert.MaintenanceUpdates = append(cert.MaintenanceUpdates, mu)
		}
	}
	return nil
}

func attachProfiles(path string, byDGST map[string]*domain.Certificate) error {
	entries, err := loadAuxiliaryMap(path)
	if err != nil || entries == nil {
		return err
	}
	for dgst, v := range entries {
		cert, ok := byDGST[dgst]
		if !ok {
			continue
		}
		refs, ok := v.(*serde.Set)
		if !ok {
			return fmt.Errorf("auxiliary %s: entry %s is %T, want set", path, dgst, v)
		}
		for _, ref := range refs.Strings() {
			cert.ProtectionProfiles.Add(ref)
		}
	}
	return nil
}

// loadAuxiliaryMap reads a digest-keyed canonical mapping; a missing
// file yields a nil map.
func loadAuxiliaryMap(path string) (serde.Map, error) {
	data, err := os.ReadFile(path)
	if errors.Is(err, os.ErrNotExist) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("reading auxiliary %s: %w", path, err)
	}
	decoded, err := serde.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing auxiliary %s: %w", path, err)
	}
	rehydrated, err := serde.Rehydrate(decoded)
	if err != nil {
		return nil, fmt.Errorf("rehydrating auxiliary %s: %w", path, err)
	}
	m, ok := rehydrated.(serde.Map)
	if !ok {
		return nil, fmt.Errorf("auxiliary %s: top level is %T, want mapping", path, rehydrated)
	}
	return m, nil
}

// LoadInProcess reads a FIPS IUT or MIP auxiliary snapshot list.
func LoadInProcess(path string) ([]any, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("reading list %s: %w", path, err)
	}
	decoded, err := serde.Unmarshal(data)
	if err != nil {
		return nil, fmt.Errorf("parsing list %s: %w", path, err)
	}
	rehydrated, err := serde.Rehydrate(decoded)
	if err != nil {
		return nil, fmt.Errorf("rehydrating list %s: %w", path, err)
	}
	list, ok := rehydrated.(serde.List)
	if !ok {
		return nil, fmt.Errorf("list %s: top level is %T, want list", path, rehydrated)
	}
	return list, nil
}
