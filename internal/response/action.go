// Package response executes category-specific automated response
// workflows against incidents.
package response

import (
	"context"
	"sync"

	"github.com/pam-platform/reliability/internal/incident"
)

// Action is one enforcement step in a response workflow. Implementations
// integrate with firewalls, IAM, ticketing and so on; the builtin
// simulated set stands in where no real enforcement system is wired.
type Action interface {
	// Name identifies the action in workflows and records.
	Name() string

	// Execute performs the step against the incident and returns the
	// action record. A returned error is converted by the engine into a
	// failed record; it never aborts the surrounding workflow.
	Execute(ctx context.Context, inc *incident.Incident) (incident.Action, error)
}

// Registry resolves action names to implementations. Production deployments
// replace builtin entries with real integrations one by one.
type Registry struct {
	mu      sync.RWMutex
	actions map[string]Action
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{actions: make(map[string]Action)}
}

// Register installs an action, replacing any existing one with the same
// name.
func (r *Registry) Register(a Action) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.actions[a.Name()] = a
}

// Get returns the action for a name.
func (r *Registry) Get(name string) (Action, bool) {
	r.mu.RLock()
	defer r.mu.RUnlock()
	a, ok := r.actions[name]
	return a, ok
}

// Names returns all registered action names.
func (r *Registry) Names() []string {
	r.mu.RLock()
	defer r.mu.RUnlock()
	out := make([]string, 0, len(r.actions))
	for name := range r.actions {
		out = append(out, name)
	}
	return out
}
