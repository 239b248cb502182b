package classifier

import (
	"fmt"
	"os"

	"gopkg.in/yaml.v3"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/incident"
)

// ruleFile is the YAML layout for classification rule overrides:
//
//	rules:
//	  - threat_type: sql_injection
//	    category: system_compromise
//	    escalation: 2
//
// escalation is optional; omitted means severity-derived.
type ruleFile struct {
	Rules []ruleEntry `yaml:"rules"`
}

type ruleEntry struct {
	ThreatType string `yaml:"threat_type"`
	Category   string `yaml:"category"`
	Escalation *int   `yaml:"escalation,omitempty"`
}

var validCategories = map[incident.Category]struct{}{
	incident.CategorySecurityBreach:      {},
	incident.CategoryDataLeak:            {},
	incident.CategoryDDoSAttack:          {},
	incident.CategoryMalware:             {},
	incident.CategoryPhishing:            {},
	incident.CategoryInsiderThreat:       {},
	incident.CategoryComplianceViolation: {},
	incident.CategorySystemCompromise:    {},
	incident.CategoryAccountTakeover:     {},
	incident.CategorySuspiciousActivity:  {},
}

// LoadTable reads rule overrides from a YAML file and merges them over the
// default table. Entries for threat types already in the defaults replace
// them.
func LoadTable(path string) (Table, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read classification rules: %w", err)
	}

	var file ruleFile
	if err := yaml.Unmarshal(data, &file); err != nil {
		return nil, fmt.Errorf("failed to parse classification rules: %w", err)
	}

	table := DefaultTable()
	for i, entry := range file.Rules {
		if entry.ThreatType == "" {
			return nil, fmt.Errorf("rule %d: threat_type is required", i)
		}
		category := incident.Category(entry.Category)
		if _, ok := validCategories[category]; !ok {
			return nil, fmt.Errorf("rule %d: unknown category %q", i, entry.Category)
		}

		rule := Rule{Category: category}
		if entry.Escalation != nil {
			lvl := incident.EscalationLevel(*entry.Escalation).Clamp()
			rule.Escalation = &lvl
		}
		table[event.ThreatType(entry.ThreatType)] = rule
	}
	return table, nil
}
