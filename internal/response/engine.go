package response

import (
	"context"
	"fmt"
	"time"

	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Workflows maps an incident category to its ordered response steps.
// Categories without an entry run zero steps.
type Workflows map[incident.Category][]string

// DefaultWorkflows returns the built-in category workflows. Order matters:
// containment steps come before forensics so later steps observe the
// contained state.
func DefaultWorkflows() Workflows {
	return Workflows{
		incident.CategoryDDoSAttack:          {"block_source_ips", "enable_rate_limiting", "activate_ddos_protection"},
		incident.CategoryAccountTakeover:     {"force_password_reset", "block_source_ips", "enable_mfa_requirement", "notify_affected_users"},
		incident.CategorySecurityBreach:      {"block_source_ips", "isolate_systems", "collect_forensics", "increase_monitoring"},
		incident.CategorySystemCompromise:    {"isolate_systems", "block_source_ips", "collect_forensics", "audit_logs"},
		incident.CategoryDataLeak:            {"restrict_data_access", "audit_logs", "collect_forensics"},
		incident.CategoryMalware:             {"isolate_systems", "collect_forensics", "increase_monitoring"},
		incident.CategoryPhishing:            {"notify_affected_users", "block_source_ips"},
		incident.CategoryInsiderThreat:       {"disable_accounts", "restrict_data_access", "audit_logs"},
		incident.CategoryComplianceViolation: {"audit_logs", "restrict_data_access"},
		incident.CategorySuspiciousActivity:  {"increase_monitoring"},
	}
}

// Engine runs the response workflow for an incident's category. Steps run
// strictly in order; a failing or panicking step is recorded and the
// workflow continues.
type Engine struct {
	workflows Workflows
	registry  *Registry
	log       *logger.Logger
}

// NewEngine creates a response engine. Nil workflows use the defaults.
func NewEngine(workflows Workflows, registry *Registry, log *logger.Logger) *Engine {
	if workflows == nil {
		workflows = DefaultWorkflows()
	}
	return &Engine{
		workflows: workflows,
		registry:  registry,
		log:       log.Component("response"),
	}
}

// Execute runs the workflow for the incident's category and returns one
// action record per step, failures included.
func (e *Engine) Execute(ctx context.Context, inc *incident.Incident) []incident.Action {
	steps := e.workflows[inc.Category]
	if len(steps) == 0 {
		e.log.Info("no response workflow for category",
			"incident_id", inc.IncidentID,
			"category", string(inc.Category),
		)
		return nil
	}

	actions := make([]incident.Action, 0, len(steps))
	for _, step := range steps {
		action := e.runStep(ctx, step, inc)
		actions = append(actions, action)

		if !action.Success {
			e.log.Error("response step failed",
				"incident_id", inc.IncidentID,
				"step", step,
				"details", action.Details,
			)
		}
	}
	return actions
}

// runStep executes one step, converting errors and panics into failed
// action records.
func (e *Engine) runStep(ctx context.Context, step string, inc *incident.Incident) (action incident.Action) {
	defer func() {
		if r := recover(); r != nil {
			action = failedAction(step, fmt.Sprintf("panic: %v", r))
		}
	}()

	impl, ok := e.registry.Get(step)
	if !ok {
		return failedAction(step, "no implementation registered")
	}

	start := time.Now()
	action, err := impl.Execute(ctx, inc)
	if err != nil {
		return failedAction(step, err.Error())
	}
	if action.Details == nil {
		action.Details = make(map[string]interface{})
	}
	action.Details["duration_ms"] = time.Since(start).Milliseconds()
	return action
}

// failedAction synthesizes the record for a step that could not run.
func failedAction(step, reason string) incident.Action {
	return incident.NewAction("error",
		fmt.Sprintf("response step %s failed", step),
		false,
		map[string]interface{}{
			"step":  step,
			"error": reason,
		})
}
