package classifier

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/incident"
)

func writeRules(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "rules.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestLoadTableMergesOverDefaults(t *testing.T) {
	path := writeRules(t, `
rules:
  - threat_type: xss
    category: security_breach
    escalation: 3
  - threat_type: api_scraping
    category: suspicious_activity
`)

	table, err := LoadTable(path)
	require.NoError(t, err)

	// Overridden entry.
	rule := table[event.ThreatXSS]
	assert.Equal(t, incident.CategorySecurityBreach, rule.Category)
	require.NotNil(t, rule.Escalation)
	assert.Equal(t, incident.Level3, *rule.Escalation)

	// New threat type without a fixed level stays severity-derived.
	scraping := table[event.ThreatType("api_scraping")]
	assert.Equal(t, incident.CategorySuspiciousActivity, scraping.Category)
	assert.Nil(t, scraping.Escalation)

	// Untouched defaults survive the merge.
	assert.Equal(t, incident.CategorySystemCompromise, table[event.ThreatSQLInjection].Category)
}

func TestLoadTableRejectsUnknownCategory(t *testing.T) {
	path := writeRules(t, `
rules:
  - threat_type: xss
    category: nonsense
`)
	_, err := LoadTable(path)
	assert.Error(t, err)
}

func TestLoadTableRequiresThreatType(t *testing.T) {
	path := writeRules(t, `
rules:
  - category: malware
`)
	_, err := LoadTable(path)
	assert.Error(t, err)
}

func TestLoadTableClampsEscalation(t *testing.T) {
	path := writeRules(t, `
rules:
  - threat_type: xss
    category: malware
    escalation: 9
`)
	table, err := LoadTable(path)
	require.NoError(t, err)
	require.NotNil(t, table[event.ThreatXSS].Escalation)
	assert.Equal(t, incident.Level4, *table[event.ThreatXSS].Escalation)
}

func TestLoadTableMissingFile(t *testing.T) {
	_, err := LoadTable("/does/not/exist.yaml")
	assert.Error(t, err)
}
