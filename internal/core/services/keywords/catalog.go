package keywords

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"
)

// Catalog is the external rule catalog: category -> rule label -> list
// of regular expressions. It is loaded once per run.
type Catalog map[string]map[string][]string

// LoadCatalog reads a YAML rule catalog from disk.
func LoadCatalog(path string) (Catalog, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("keyword catalog: %w", err)
	}
	var cat Catalog
	if err := yaml.Unmarshal(data, &cat); err != nil {
		return nil, fmt.Errorf("keyword catalog %s: %w", path, err)
	}
	return cat, nil
}
