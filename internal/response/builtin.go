package response

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/pam-platform/reliability/internal/incident"
)

// The builtin actions simulate enforcement so the engine is exercisable
// without firewall/IAM integrations. Each records what a production
// implementation would have done; swap them out via the registry.

// RegisterBuiltins installs the full simulated action set.
func RegisterBuiltins(r *Registry) {
	state := &simState{
		blockedRules:  make(map[string]string),
		resetUsers:    make(map[string]time.Time),
		isolatedHosts: make(map[string]time.Time),
	}
	for _, a := range []Action{
		&blockSourceIPs{state: state},
		&enableRateLimiting{},
		&activateDDoSProtection{},
		&forcePasswordReset{state: state},
		&enableMFARequirement{},
		&notifyAffectedUsers{},
		&disableAccounts{state: state},
		&isolateSystems{state: state},
		&collectForensics{},
		&restrictDataAccess{},
		&auditLogs{},
		&increaseMonitoring{},
	} {
		r.Register(a)
	}
}

// simState is shared across simulated actions so repeated steps are
// idempotent and observable in tests.
type simState struct {
	mu            sync.Mutex
	blockedRules  map[string]string
	resetUsers    map[string]time.Time
	isolatedHosts map[string]time.Time
}

func successAction(actionType, description string, details map[string]interface{}) incident.Action {
	return incident.NewAction(actionType, description, true, details)
}

func shortID(id string) string {
	if len(id) > 8 {
		return id[:8]
	}
	return id
}

type blockSourceIPs struct{ state *simState }

func (a *blockSourceIPs) Name() string { return "block_source_ips" }

func (a *blockSourceIPs) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	a.state.mu.Lock()
	ruleID := fmt.Sprintf("block-%s-%d", shortID(inc.IncidentID), time.Now().Unix())
	a.state.blockedRules[inc.IncidentID] = ruleID
	a.state.mu.Unlock()

	return successAction("block_source_ips",
		"blocked source addresses at the edge firewall",
		map[string]interface{}{
			"rule_id":      ruleID,
			"event_count":  len(inc.SourceEvents),
			"block_window": "24h",
		}), nil
}

type enableRateLimiting struct{}

func (a *enableRateLimiting) Name() string { return "enable_rate_limiting" }

func (a *enableRateLimiting) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("enable_rate_limiting",
		"tightened rate limits on affected endpoints",
		map[string]interface{}{
			"endpoints": inc.AffectedAssets,
			"limit_rps": 5,
		}), nil
}

type activateDDoSProtection struct{}

func (a *activateDDoSProtection) Name() string { return "activate_ddos_protection" }

func (a *activateDDoSProtection) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("activate_ddos_protection",
		"enabled upstream DDoS scrubbing",
		map[string]interface{}{
			"mode": "always_on",
		}), nil
}

type forcePasswordReset struct{ state *simState }

func (a *forcePasswordReset) Name() string { return "force_password_reset" }

func (a *forcePasswordReset) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	a.state.mu.Lock()
	for _, user := range inc.AffectedUsers {
		a.state.resetUsers[user] = time.Now()
	}
	a.state.mu.Unlock()

	return successAction("force_password_reset",
		"invalidated credentials for affected accounts",
		map[string]interface{}{
			"users": inc.AffectedUsers,
		}), nil
}

type enableMFARequirement struct{}

func (a *enableMFARequirement) Name() string { return "enable_mfa_requirement" }

func (a *enableMFARequirement) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("enable_mfa_requirement",
		"enforced MFA on next login for affected accounts",
		map[string]interface{}{
			"users": inc.AffectedUsers,
		}), nil
}

type notifyAffectedUsers struct{}

func (a *notifyAffectedUsers) Name() string { return "notify_affected_users" }

func (a *notifyAffectedUsers) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("notify_affected_users",
		"queued security notices to affected users",
		map[string]interface{}{
			"recipients": len(inc.AffectedUsers),
		}), nil
}

type disableAccounts struct{ state *simState }

func (a *disableAccounts) Name() string { return "disable_accounts" }

func (a *disableAccounts) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	a.state.mu.Lock()
	for _, user := range inc.AffectedUsers {
		a.state.resetUsers[user] = time.Now()
	}
	a.state.mu.Unlock()

	return successAction("disable_accounts",
		"suspended affected accounts pending review",
		map[string]interface{}{
			"users": inc.AffectedUsers,
		}), nil
}

type isolateSystems struct{ state *simState }

func (a *isolateSystems) Name() string { return "isolate_systems" }

func (a *isolateSystems) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	a.state.mu.Lock()
	for _, asset := range inc.AffectedAssets {
		a.state.isolatedHosts[asset] = time.Now()
	}
	a.state.mu.Unlock()

	return successAction("isolate_systems",
		"isolated affected systems from the network",
		map[string]interface{}{
			"assets":    inc.AffectedAssets,
			"allow_dns": true,
		}), nil
}

type collectForensics struct{}

func (a *collectForensics) Name() string { return "collect_forensics" }

func (a *collectForensics) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("collect_forensics",
		"captured forensic snapshot for investigation",
		map[string]interface{}{
			"snapshot_id": fmt.Sprintf("forensic-%s", shortID(inc.IncidentID)),
			"events":      inc.SourceEvents,
		}), nil
}

type restrictDataAccess struct{}

func (a *restrictDataAccess) Name() string { return "restrict_data_access" }

func (a *restrictDataAccess) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("restrict_data_access",
		"restricted data access to break-glass roles",
		map[string]interface{}{
			"scope": inc.AffectedAssets,
		}), nil
}

type auditLogs struct{}

func (a *auditLogs) Name() string { return "audit_logs" }

func (a *auditLogs) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("audit_logs",
		"scheduled access-log audit for the incident window",
		map[string]interface{}{
			"from": inc.CreatedAt.Add(-time.Hour),
			"to":   inc.CreatedAt,
		}), nil
}

type increaseMonitoring struct{}

func (a *increaseMonitoring) Name() string { return "increase_monitoring" }

func (a *increaseMonitoring) Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error) {
	return successAction("increase_monitoring",
		"raised monitoring sensitivity for the source",
		map[string]interface{}{
			"duration": "48h",
		}), nil
}
