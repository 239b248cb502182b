package recovery

import (
	"sync"
	"time"
)

// historyCap bounds the rolling error history; the oldest entries are
// evicted first.
const historyCap = 1000

// History is a bounded rolling record of handled errors, used for
// frequency analysis and error-rate reporting.
type History struct {
	mu      sync.RWMutex
	entries []ErrorContext
	cap     int
}

// NewHistory creates a history with the default capacity.
func NewHistory() *History {
	return &History{cap: historyCap}
}

// Add appends an entry, evicting the oldest when full.
func (h *History) Add(ec ErrorContext) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.entries = append(h.entries, ec)
	if len(h.entries) > h.cap {
		h.entries = h.entries[len(h.entries)-h.cap:]
	}
}

// CountRecent returns how many errors for the (service, category) pair
// occurred within the window.
func (h *History) CountRecent(service string, category Category, window time.Duration) int {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	n := 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		e := h.entries[i]
		if e.Timestamp.Before(cutoff) {
			break
		}
		if e.ServiceName == service && e.Category == category {
			n++
		}
	}
	return n
}

// Recent returns up to limit entries, newest first.
func (h *History) Recent(limit int) []ErrorContext {
	h.mu.RLock()
	defer h.mu.RUnlock()

	if limit <= 0 || limit > len(h.entries) {
		limit = len(h.entries)
	}
	out := make([]ErrorContext, 0, limit)
	for i := len(h.entries) - 1; i >= 0 && len(out) < limit; i-- {
		out = append(out, h.entries[i])
	}
	return out
}

// Len returns the number of retained entries.
func (h *History) Len() int {
	h.mu.RLock()
	defer h.mu.RUnlock()
	return len(h.entries)
}

// ErrorRate returns the fraction of entries within the window that were
// never resolved.
func (h *History) ErrorRate(window time.Duration) float64 {
	h.mu.RLock()
	defer h.mu.RUnlock()

	cutoff := time.Now().Add(-window)
	total, unresolved := 0, 0
	for i := len(h.entries) - 1; i >= 0; i-- {
		if h.entries[i].Timestamp.Before(cutoff) {
			break
		}
		total++
		if !h.entries[i].Resolved {
			unresolved++
		}
	}
	if total == 0 {
		return 0
	}
	return float64(unresolved) / float64(total)
}
