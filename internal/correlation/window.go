// Package correlation buffers security events into per-key windows until
// the group warrants an incident.
package correlation

import (
	"sort"
	"strings"
	"sync"
	"time"

	"github.com/pam-platform/reliability/internal/event"
)

// DefaultWindow is how long events stay correlatable. Events older than the
// window no longer count toward incident-creation decisions.
const DefaultWindow = 10 * time.Minute

// Buffer groups pending events by correlation key (source IP + threat
// type). Events expire out of the buffer once they age past the window, so
// a quiet low-severity source cannot accumulate forever.
type Buffer struct {
	window  time.Duration
	mu      sync.Mutex
	pending map[string][]event.SecurityEvent

	// now is swappable in tests.
	now func() time.Time
}

// NewBuffer creates a buffer with the given window. A non-positive window
// falls back to DefaultWindow.
func NewBuffer(window time.Duration) *Buffer {
	if window <= 0 {
		window = DefaultWindow
	}
	return &Buffer{
		window:  window,
		pending: make(map[string][]event.SecurityEvent),
		now:     time.Now,
	}
}

// Add appends an event to its correlation window and returns the current
// group for that key, expired events already dropped.
func (b *Buffer) Add(e event.SecurityEvent) []event.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	key := e.CorrelationKey()
	group := b.dropExpiredLocked(key)
	group = append(group, e)
	b.pending[key] = group

	out := make([]event.SecurityEvent, len(group))
	copy(out, group)
	return out
}

// Group returns the live events for a key without modifying the buffer
// beyond expiry.
func (b *Buffer) Group(key string) []event.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	group := b.dropExpiredLocked(key)
	if len(group) == 0 {
		return nil
	}
	out := make([]event.SecurityEvent, len(group))
	copy(out, group)
	return out
}

// Clear removes the window for a key.
func (b *Buffer) Clear(key string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	delete(b.pending, key)
}

// SourceEvents returns every live event for a source IP across all of its
// threat-type windows, ordered by timestamp. An attacker probing several
// vectors at once shows up as one combined group here.
func (b *Buffer) SourceEvents(sourceIP string) []event.SecurityEvent {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := sourceIP + "|"
	var out []event.SecurityEvent
	for key := range b.pending {
		if strings.HasPrefix(key, prefix) {
			out = append(out, b.dropExpiredLocked(key)...)
		}
	}
	sort.SliceStable(out, func(i, j int) bool {
		return out[i].Timestamp.Before(out[j].Timestamp)
	})
	return out
}

// ClearSource removes every window belonging to a source IP. Called exactly
// once, when an incident has consumed the source's pending events.
func (b *Buffer) ClearSource(sourceIP string) {
	b.mu.Lock()
	defer b.mu.Unlock()

	prefix := sourceIP + "|"
	for key := range b.pending {
		if strings.HasPrefix(key, prefix) {
			delete(b.pending, key)
		}
	}
}

// Sweep drops expired events across all keys and returns how many events
// were removed. Intended to run on a ticker.
func (b *Buffer) Sweep() int {
	b.mu.Lock()
	defer b.mu.Unlock()

	removed := 0
	for key, group := range b.pending {
		before := len(group)
		kept := b.dropExpiredLocked(key)
		removed += before - len(kept)
		if len(kept) == 0 {
			delete(b.pending, key)
		}
	}
	return removed
}

// PendingKeys returns the number of live correlation windows.
func (b *Buffer) PendingKeys() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return len(b.pending)
}

// dropExpiredLocked filters a key's group down to events still inside the
// window and writes the result back. Caller holds b.mu.
func (b *Buffer) dropExpiredLocked(key string) []event.SecurityEvent {
	group := b.pending[key]
	if len(group) == 0 {
		return nil
	}

	cutoff := b.now().Add(-b.window)
	kept := group[:0]
	for _, e := range group {
		if e.Timestamp.After(cutoff) {
			kept = append(kept, e)
		}
	}
	if len(kept) == 0 {
		delete(b.pending, key)
		return nil
	}
	b.pending[key] = kept
	return kept
}
