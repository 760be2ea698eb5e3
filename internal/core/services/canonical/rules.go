package canonical

import (
	"fmt"
	"os"
	"regexp"

	"github.com/seccorpus/certmap/internal/core/domain"
	"gopkg.in/yaml.v3"
)

// RuleTable maps a scheme code to the anchored regexes a valid cert id
// of that scheme must match.
type RuleTable map[domain.Scheme][]*regexp.Regexp

// LoadRules reads the per-scheme id rule table from YAML: a mapping
// from scheme code to a list of regex strings.
func LoadRules(path string) (RuleTable, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("scheme id rules: %w", err)
	}
	var raw map[string][]string
	if err := yaml.Unmarshal(data, &raw); err != nil {
		return nil, fmt.Errorf("scheme id rules %s: %w", path, err)
	}
	return CompileRules(raw)
}

// CompileRules compiles a scheme -> patterns mapping, anchoring each
// pattern to the full candidate string.
func CompileRules(raw map[string][]string) (RuleTable, error) {
	table := make(RuleTable, len(raw))
	for scheme, patterns := range raw {
		for _, p := range patterns {
			re, err := regexp.Compile("^(?:" + p + ")$")
			if err != nil {
				return nil, fmt.Errorf("scheme %s pattern %q: %w", scheme, p, err)
			}
			table[domain.Scheme(scheme)] = append(table[domain.Scheme(scheme)], re)
		}
	}
	return table, nil
}
