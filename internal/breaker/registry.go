package breaker

import (
	"sync"
)

// Registry holds one breaker per (service, operation) pair. Breakers are
// created on first use and live for the process lifetime.
type Registry struct {
	cfg      Config
	mu       sync.RWMutex
	breakers map[string]*Breaker
}

// NewRegistry creates a registry whose breakers share the given config.
func NewRegistry(cfg Config) *Registry {
	if cfg.FailureThreshold <= 0 {
		cfg = DefaultConfig()
	}
	return &Registry{
		cfg:      cfg,
		breakers: make(map[string]*Breaker),
	}
}

// Get returns the breaker for a (service, operation) pair, creating it if
// needed.
func (r *Registry) Get(service, operation string) *Breaker {
	key := service + ":" + operation

	r.mu.RLock()
	b, ok := r.breakers[key]
	r.mu.RUnlock()
	if ok {
		return b
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if b, ok := r.breakers[key]; ok {
		return b
	}
	b = New(service, operation, r.cfg)
	r.breakers[key] = b
	return b
}

// Snapshots returns the observable state of every breaker.
func (r *Registry) Snapshots() []Snapshot {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]Snapshot, 0, len(r.breakers))
	for _, b := range r.breakers {
		out = append(out, b.Snapshot())
	}
	return out
}

// OpenCount returns how many breakers are currently open, for health
// reporting.
func (r *Registry) OpenCount() int {
	r.mu.RLock()
	defer r.mu.RUnlock()

	n := 0
	for _, b := range r.breakers {
		if b.State() == StateOpen {
			n++
		}
	}
	return n
}
