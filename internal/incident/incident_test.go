package incident

import (
	"context"
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/pkg/errors"
)

func sampleEvents() []event.SecurityEvent {
	return []event.SecurityEvent{
		{
			EventID:    "e1",
			Timestamp:  time.Now(),
			SourceIP:   "203.0.113.10",
			ThreatType: event.ThreatBruteForce,
			Severity:   event.SeverityMedium,
			Endpoint:   "/login",
			UserID:     "alice",
		},
		{
			EventID:    "e2",
			Timestamp:  time.Now(),
			SourceIP:   "203.0.113.10",
			ThreatType: event.ThreatBruteForce,
			Severity:   event.SeverityHigh,
			Endpoint:   "/login",
			UserID:     "alice",
		},
		{
			EventID:    "e3",
			Timestamp:  time.Now(),
			SourceIP:   "203.0.113.10",
			ThreatType: event.ThreatBruteForce,
			Severity:   event.SeverityMedium,
			Endpoint:   "/api/auth/token",
			UserID:     "bob",
		},
	}
}

func TestNewIncidentFromEventGroup(t *testing.T) {
	inc, err := New(CategoryAccountTakeover, Level2, sampleEvents())
	require.NoError(t, err)

	assert.NotEmpty(t, inc.IncidentID)
	assert.Equal(t, CategoryAccountTakeover, inc.Category)
	assert.Equal(t, StatusOpen, inc.Status)
	assert.Equal(t, Level2, inc.EscalationLevel)
	assert.Equal(t, event.SeverityHigh, inc.Severity, "severity is the max over the group")
	assert.Equal(t, []string{"e1", "e2", "e3"}, inc.SourceEvents)
	assert.Equal(t, []string{"/login", "/api/auth/token"}, inc.AffectedAssets, "assets are deduplicated in order")
	assert.Equal(t, []string{"alice", "bob"}, inc.AffectedUsers)
	assert.Contains(t, inc.Title, "brute_force")
	assert.Contains(t, inc.Title, "203.0.113.10")
	assert.Nil(t, inc.ResolvedAt)
}

func TestNewIncidentRejectsEmptyGroup(t *testing.T) {
	_, err := New(CategoryMalware, Level1, nil)
	assert.Error(t, err)
}

func TestNewIncidentClampsLevel(t *testing.T) {
	inc, err := New(CategoryDDoSAttack, EscalationLevel(9), sampleEvents())
	require.NoError(t, err)
	assert.Equal(t, Level4, inc.EscalationLevel)
}

func TestEscalateIsMonotonic(t *testing.T) {
	inc, err := New(CategoryDDoSAttack, Level1, sampleEvents())
	require.NoError(t, err)

	inc.Escalate(Level3)
	assert.Equal(t, Level3, inc.EscalationLevel)

	// De-escalation requests are ignored.
	inc.Escalate(Level1)
	assert.Equal(t, Level3, inc.EscalationLevel)

	inc.Escalate(EscalationLevel(10))
	assert.Equal(t, Level4, inc.EscalationLevel)
}

func TestStatusTransitionsOnlyMoveForward(t *testing.T) {
	inc, err := New(CategorySecurityBreach, Level2, sampleEvents())
	require.NoError(t, err)

	require.NoError(t, inc.SetStatus(StatusInvestigating))
	require.NoError(t, inc.SetStatus(StatusContained))

	// Backward and repeated transitions are rejected.
	assert.Error(t, inc.SetStatus(StatusOpen))
	assert.Error(t, inc.SetStatus(StatusContained))
	assert.Error(t, inc.SetStatus(Status("bogus")))
	assert.Equal(t, StatusContained, inc.Status)

	// Skipping ahead is allowed as long as it moves forward.
	require.NoError(t, inc.SetStatus(StatusClosed))
}

func TestResolvedSetsTimestamp(t *testing.T) {
	inc, err := New(CategorySecurityBreach, Level2, sampleEvents())
	require.NoError(t, err)

	require.NoError(t, inc.SetStatus(StatusResolved))
	require.NotNil(t, inc.ResolvedAt)
	assert.WithinDuration(t, time.Now().UTC(), *inc.ResolvedAt, time.Second)
}

func TestAppendActionsUpdatesTimestamp(t *testing.T) {
	inc, err := New(CategoryMalware, Level1, sampleEvents())
	require.NoError(t, err)

	before := inc.UpdatedAt
	time.Sleep(time.Millisecond)
	inc.AppendActions([]Action{NewAction("isolate_systems", "done", true, nil)})

	assert.Len(t, inc.ActionsTaken, 1)
	assert.True(t, inc.UpdatedAt.After(before))

	inc.AppendActions(nil)
	assert.Len(t, inc.ActionsTaken, 1)
}

func TestMemoryStoreRoundTrip(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inc, err := New(CategoryDataLeak, Level3, sampleEvents())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, inc))

	got, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, inc.IncidentID, got.IncidentID)
	assert.Equal(t, CategoryDataLeak, got.Category)

	// The store hands out copies.
	got.Title = "mutated"
	fresh, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.NotEqual(t, "mutated", fresh.Title)
}

func TestMemoryStoreSaveBumpsVersion(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inc, err := New(CategoryMalware, Level1, sampleEvents())
	require.NoError(t, err)
	assert.Zero(t, inc.Version)

	require.NoError(t, store.Save(ctx, inc))
	assert.EqualValues(t, 1, inc.Version)
	require.NoError(t, store.Save(ctx, inc))
	assert.EqualValues(t, 2, inc.Version)
}

func TestMemoryStoreRejectsStaleWrite(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	inc, err := New(CategoryMalware, Level1, sampleEvents())
	require.NoError(t, err)
	require.NoError(t, store.Save(ctx, inc))

	// Two writers fetch the same revision.
	a, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	b, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)

	require.NoError(t, a.SetStatus(StatusInvestigating))
	require.NoError(t, store.Save(ctx, a))

	// The stale writer is rejected instead of silently clobbering.
	b.AppendActions([]Action{NewAction("block_source_ips", "done", true, nil)})
	err = store.Save(ctx, b)
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeConflict))

	stored, err := store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, StatusInvestigating, stored.Status)
	assert.Empty(t, stored.ActionsTaken)
}

func TestMemoryStoreGetMissing(t *testing.T) {
	store := NewMemoryStore()
	_, err := store.Get(context.Background(), "nope")
	require.Error(t, err)
	assert.True(t, errors.Is(err, errors.CodeNotFound))
}

func TestMemoryStoreListFilters(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	for i := 0; i < 5; i++ {
		inc, err := New(CategoryDDoSAttack, Level1, sampleEvents())
		require.NoError(t, err)
		inc.CreatedAt = time.Now().Add(time.Duration(i) * time.Minute)
		if i%2 == 0 {
			require.NoError(t, inc.SetStatus(StatusInvestigating))
		}
		require.NoError(t, store.Save(ctx, inc))
	}

	all, err := store.List(ctx, ListFilter{})
	require.NoError(t, err)
	require.Len(t, all, 5)
	for i := 1; i < len(all); i++ {
		assert.True(t, !all[i].CreatedAt.After(all[i-1].CreatedAt), "newest first")
	}

	investigating, err := store.List(ctx, ListFilter{Status: StatusInvestigating})
	require.NoError(t, err)
	assert.Len(t, investigating, 3)

	limited, err := store.List(ctx, ListFilter{Limit: 2})
	require.NoError(t, err)
	assert.Len(t, limited, 2)

	none, err := store.List(ctx, ListFilter{Category: CategoryPhishing})
	require.NoError(t, err)
	assert.Empty(t, none)
}

func TestCanTransitionTo(t *testing.T) {
	tests := []struct {
		from, to Status
		ok       bool
	}{
		{StatusOpen, StatusInvestigating, true},
		{StatusOpen, StatusClosed, true},
		{StatusInvestigating, StatusOpen, false},
		{StatusClosed, StatusResolved, false},
		{StatusResolved, StatusClosed, true},
		{StatusOpen, Status("weird"), false},
		{Status("weird"), StatusOpen, false},
	}
	for _, tc := range tests {
		t.Run(fmt.Sprintf("%s->%s", tc.from, tc.to), func(t *testing.T) {
			assert.Equal(t, tc.ok, tc.from.CanTransitionTo(tc.to))
		})
	}
}
