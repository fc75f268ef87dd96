package config

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/abbyhq/abby/pkg/proposal"
)

// RiskRulesFile is the layout of RISK_RULES_FILE.
type RiskRulesFile struct {
	Rules []proposal.Rule `yaml:"rules"`
}

// LoadRiskRules reads extra risk rules. An empty path yields none.
func LoadRiskRules(path string) ([]proposal.Rule, error) {
	if path == "" {
		return nil, nil
	}
	data, err := os.ReadFile(path) //nolint:gosec // operator supplied path
	if err != nil {
		return nil, fmt.Errorf("load risk rules: %w", err)
	}
	var f RiskRulesFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parse risk rules %s: %w", path, err)
	}
	seen := make(map[string]bool, len(f.Rules))
	for _, r := range f.Rules {
		if seen[r.ID] {
			return nil, fmt.Errorf("parse risk rules %s: duplicate rule id %q", path, r.ID)
		}
		seen[r.ID] = true
	}
	return f.Rules, nil
}
