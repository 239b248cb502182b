package incident

import (
	"context"
	"fmt"
	"sort"
	"sync"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/pkg/errors"
)

// RetentionDays is how long incident records are kept before they expire
// from the backing store.
const RetentionDays = 90

// ListFilter restricts which incidents a List call returns. Zero values
// mean "no restriction".
type ListFilter struct {
	Status   Status
	Severity event.Severity
	Category Category
	Limit    int
}

// Store persists incidents. Implementations must support point lookups by
// ID and filtered listing by status/severity, and must expire records after
// the retention window.
type Store interface {
	// Save writes the full incident record. Writes are serialized through
	// optimistic versioning: a save whose Version does not match the stored
	// record fails with a CONFLICT error, and a successful save bumps the
	// incident's Version in place.
	Save(ctx context.Context, inc *Incident) error

	// Get returns the incident with the given ID, or a NOT_FOUND error.
	Get(ctx context.Context, id string) (*Incident, error)

	// List returns incidents matching the filter, newest first.
	List(ctx context.Context, filter ListFilter) ([]*Incident, error)

	// Close releases the store's resources.
	Close() error
}

// MemoryStore is an in-process Store used in tests and single-node
// deployments without Redis or Postgres.
type MemoryStore struct {
	mu        sync.RWMutex
	incidents map[string]*Incident
}

// NewMemoryStore creates an empty in-memory store.
func NewMemoryStore() *MemoryStore {
	return &MemoryStore{
		incidents: make(map[string]*Incident),
	}
}

// Save stores a copy of the incident after the version check.
func (s *MemoryStore) Save(ctx context.Context, inc *Incident) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	if existing, ok := s.incidents[inc.IncidentID]; ok && existing.Version != inc.Version {
		return errors.Conflict(fmt.Sprintf("incident %s was modified concurrently", inc.IncidentID))
	}

	inc.Version++
	cp := *inc
	cp.SourceEvents = append([]string(nil), inc.SourceEvents...)
	cp.ActionsTaken = append([]Action(nil), inc.ActionsTaken...)
	s.incidents[inc.IncidentID] = &cp
	return nil
}

// Get returns a copy of the stored incident.
func (s *MemoryStore) Get(ctx context.Context, id string) (*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	inc, ok := s.incidents[id]
	if !ok {
		return nil, errors.NotFound("incident")
	}
	cp := *inc
	return &cp, nil
}

// List returns matching incidents, newest first.
func (s *MemoryStore) List(ctx context.Context, filter ListFilter) ([]*Incident, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []*Incident
	for _, inc := range s.incidents {
		if filter.Status != "" && inc.Status != filter.Status {
			continue
		}
		if filter.Severity != "" && inc.Severity != filter.Severity {
			continue
		}
		if filter.Category != "" && inc.Category != filter.Category {
			continue
		}
		cp := *inc
		out = append(out, &cp)
	}

	sort.Slice(out, func(a, b int) bool {
		return out[a].CreatedAt.After(out[b].CreatedAt)
	})

	if filter.Limit > 0 && len(out) > filter.Limit {
		out = out[:filter.Limit]
	}
	return out, nil
}

// Close is a no-op for the memory store.
func (s *MemoryStore) Close() error {
	return nil
}
