package engine

import (
	"context"
	"fmt"
	"io"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pam-platform/reliability/internal/classifier"
	"github.com/pam-platform/reliability/internal/correlation"
	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/health"
	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/internal/notify"
	"github.com/pam-platform/reliability/internal/response"
	"github.com/pam-platform/reliability/pkg/logger"
)

func testLogger() *logger.Logger {
	return logger.New(&logger.Config{Level: "error", Format: "json", Output: io.Discard})
}

// capturingChannel records notification payloads.
type capturingChannel struct {
	name string
	mu   sync.Mutex
	sent []notify.Payload
}

func (c *capturingChannel) Name() string { return c.name }
func (c *capturingChannel) Send(ctx context.Context, payload notify.Payload) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.sent = append(c.sent, payload)
	return nil
}

func (c *capturingChannel) payloads() []notify.Payload {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]notify.Payload(nil), c.sent...)
}

// capturingPublisher records published incidents.
type capturingPublisher struct {
	mu        sync.Mutex
	published []*incident.Incident
	fail      bool
}

func (p *capturingPublisher) PublishIncident(ctx context.Context, inc *incident.Incident) error {
	if p.fail {
		return fmt.Errorf("broker unavailable")
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	p.published = append(p.published, inc)
	return nil
}

type fixture struct {
	engine    *Engine
	buffer    *correlation.Buffer
	store     *incident.MemoryStore
	channels  map[string]*capturingChannel
	publisher *capturingPublisher
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	log := testLogger()

	buffer := correlation.NewBuffer(correlation.DefaultWindow)
	store := incident.NewMemoryStore()

	registry := response.NewRegistry()
	response.RegisterBuiltins(registry)
	responder := response.NewEngine(nil, registry, log)

	dispatcher := notify.NewDispatcher(nil, log)
	channels := make(map[string]*capturingChannel)
	for _, name := range []string{
		notify.ChannelSecuritySlack, notify.ChannelSecurityEmail,
		notify.ChannelManagementEmail, notify.ChannelExecutiveEmail,
		notify.ChannelPagerDuty, notify.ChannelExternalReporting,
	} {
		ch := &capturingChannel{name: name}
		channels[name] = ch
		dispatcher.Register(ch)
	}

	publisher := &capturingPublisher{}
	eng := New(buffer, classifier.New(nil), store, responder, dispatcher, publisher, health.NewTracker(), log)

	return &fixture{
		engine:    eng,
		buffer:    buffer,
		store:     store,
		channels:  channels,
		publisher: publisher,
	}
}

func newEngineWithStore(t *testing.T, store incident.Store) *Engine {
	t.Helper()
	log := testLogger()
	registry := response.NewRegistry()
	response.RegisterBuiltins(registry)
	return New(
		correlation.NewBuffer(correlation.DefaultWindow),
		classifier.New(nil),
		store,
		response.NewEngine(nil, registry, log),
		notify.NewDispatcher(nil, log),
		nil,
		health.NewTracker(),
		log,
	)
}

func ev(id, sourceIP string, threat event.ThreatType, severity event.Severity, endpoint string) event.SecurityEvent {
	return event.SecurityEvent{
		EventID:    id,
		Timestamp:  time.Now(),
		SourceIP:   sourceIP,
		ThreatType: threat,
		Severity:   severity,
		Endpoint:   endpoint,
		UserID:     "user-1",
	}
}

func TestLowSeverityEventsAccumulate(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.ProcessEvent(ctx, ev("e1", "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/search"))
	require.NoError(t, err)
	assert.Nil(t, inc)

	inc, err = f.engine.ProcessEvent(ctx, ev("e2", "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/search"))
	require.NoError(t, err)
	assert.Nil(t, inc)

	assert.Equal(t, 1, f.buffer.PendingKeys())
	incidents, err := f.store.List(ctx, incident.ListFilter{})
	require.NoError(t, err)
	assert.Empty(t, incidents)
}

func TestThirdEventTriggersIncident(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	for _, id := range []string{"e1", "e2"} {
		inc, err := f.engine.ProcessEvent(ctx, ev(id, "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/search"))
		require.NoError(t, err)
		require.Nil(t, inc)
	}

	inc, err := f.engine.ProcessEvent(ctx, ev("e3", "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/search"))
	require.NoError(t, err)
	require.NotNil(t, inc)

	assert.Equal(t, incident.CategorySuspiciousActivity, inc.Category)
	assert.Len(t, inc.SourceEvents, 3)

	// The consumed window is gone: the next event starts fresh.
	assert.Equal(t, 0, f.buffer.PendingKeys())
	next, err := f.engine.ProcessEvent(ctx, ev("e4", "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/search"))
	require.NoError(t, err)
	assert.Nil(t, next)
}

func TestHighSeverityCreatesIncidentImmediately(t *testing.T) {
	f := newFixture(t)

	inc, err := f.engine.ProcessEvent(context.Background(),
		ev("e1", "10.0.0.2", event.ThreatBruteForce, event.SeverityHigh, "/login"))
	require.NoError(t, err)
	require.NotNil(t, inc)
	assert.Equal(t, incident.CategoryAccountTakeover, inc.Category)
	assert.Equal(t, incident.Level1, inc.EscalationLevel)
}

func TestSQLInjectionCreatesIncidentFromSingleEvent(t *testing.T) {
	f := newFixture(t)
	ctx := context.Background()

	inc, err := f.engine.ProcessEvent(ctx,
		ev("e1", "203.0.113.5", event.ThreatSQLInjection, event.SeverityMedium, "/api/items"))
	require.NoError(t, err)
	require.NotNil(t, inc)

	assert.Equal(t, incident.CategorySystemCompromise, inc.Category)
	assert.Equal(t, incident.Level2, inc.EscalationLevel)

	// Persisted with its response actions recorded.
	stored, err := f.store.Get(ctx, inc.IncidentID)
	require.NoError(t, err)
	require.Len(t, stored.ActionsTaken, 4)
	for _, a := range stored.ActionsTaken {
		assert.True(t, a.Success)
	}

	// Level 2 notifies management email, security slack, and pagerduty.
	assert.Len(t, f.channels[notify.ChannelManagementEmail].payloads(), 1)
	assert.Len(t, f.channels[notify.ChannelSecuritySlack].payloads(), 1)
	assert.Len(t, f.channels[notify.ChannelPagerDuty].payloads(), 1)
	assert.Empty(t, f.channels[notify.ChannelExecutiveEmail].payloads())
	assert.Empty(t, f.channels[notify.ChannelExternalReporting].payloads())

	payload := f.channels[notify.ChannelSecuritySlack].payloads()[0]
	assert.Equal(t, inc.IncidentID, payload.IncidentID)
	assert.Equal(t, "incident_created", payload.NotificationType)

	// And published downstream.
	require.Len(t, f.publisher.published, 1)
	assert.Equal(t, inc.IncidentID, f.publisher.published[0].IncidentID)
}

func TestPublisherFailureDoesNotFailPipeline(t *testing.T) {
	f := newFixture(t)
	f.publisher.fail = true

	inc, err := f.engine.ProcessEvent(context.Background(),
		ev("e1", "203.0.113.5", event.ThreatSQLInjection, event.SeverityMedium, "/api/items"))
	require.NoError(t, err)
	require.NotNil(t, inc)

	_, err = f.store.Get(context.Background(), inc.IncidentID)
	assert.NoError(t, err)
}

func TestProcessBatchCreatesMultipleIncidents(t *testing.T) {
	f := newFixture(t)

	events := []event.SecurityEvent{
		ev("e1", "10.0.0.1", event.ThreatSQLInjection, event.SeverityMedium, "/api/items"),
		ev("e2", "10.0.0.2", event.ThreatXSS, event.SeverityLow, "/search"),
		ev("e3", "10.0.0.3", event.ThreatCommandInjection, event.SeverityHigh, "/api/exec"),
	}
	incidents, err := f.engine.ProcessBatch(context.Background(), events)
	require.NoError(t, err)
	assert.Len(t, incidents, 2)
}

func TestBatchGroupsEventsBeforeEvaluating(t *testing.T) {
	f := newFixture(t)

	var events []event.SecurityEvent
	for i := 0; i < 4; i++ {
		events = append(events, ev(fmt.Sprintf("e%d", i), "10.0.0.9", event.ThreatXSS, event.SeverityLow, "/search"))
	}

	incidents, err := f.engine.ProcessBatch(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, incidents, 1, "a batch correlates as a whole, not event by event")
	assert.Len(t, incidents[0].SourceEvents, 4)
}

func TestBatchCorrelatesAcrossThreatTypes(t *testing.T) {
	f := newFixture(t)

	// One source probing three vectors against an auth endpoint, twenty
	// medium events per vector.
	threats := []event.ThreatType{event.ThreatBruteForce, event.ThreatCredentialStuff, event.ThreatRateAbuse}
	var events []event.SecurityEvent
	for i := 0; i < 60; i++ {
		events = append(events, ev(fmt.Sprintf("e%d", i), "198.51.100.9", threats[i/20], event.SeverityMedium, "/api/auth/login"))
	}

	incidents, err := f.engine.ProcessBatch(context.Background(), events)
	require.NoError(t, err)
	require.Len(t, incidents, 1)

	inc := incidents[0]
	assert.Len(t, inc.SourceEvents, 60)
	assert.Equal(t, incident.CategoryAccountTakeover, inc.Category)
	// Base level for brute force plus the multi-vector, volume, and
	// critical-endpoint escalations, clamped at the top level.
	assert.Equal(t, incident.Level4, inc.EscalationLevel)
	assert.Equal(t, 0, f.buffer.PendingKeys(), "the source's windows are consumed")
}

// failingSecondSaveStore lets the incident record through and fails every
// write after it.
type failingSecondSaveStore struct {
	*incident.MemoryStore
	saves int
}

func (s *failingSecondSaveStore) Save(ctx context.Context, inc *incident.Incident) error {
	s.saves++
	if s.saves > 1 {
		return fmt.Errorf("disk full")
	}
	return s.MemoryStore.Save(ctx, inc)
}

func TestActionPersistFailurePropagates(t *testing.T) {
	store := &failingSecondSaveStore{MemoryStore: incident.NewMemoryStore()}
	eng := newEngineWithStore(t, store)

	inc, err := eng.ProcessEvent(context.Background(),
		ev("e1", "203.0.113.9", event.ThreatSQLInjection, event.SeverityMedium, "/api/items"))
	require.Error(t, err)
	assert.Contains(t, err.Error(), "persist response actions")
	require.NotNil(t, inc)

	// The incident itself was persisted before the failing write.
	stored, err := store.Get(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	assert.Empty(t, stored.ActionsTaken)
}

// statusRacerStore advances the incident's status out of band right after
// its first save, the way a concurrent ops-API writer would.
type statusRacerStore struct {
	*incident.MemoryStore
	raced bool
}

func (s *statusRacerStore) Save(ctx context.Context, inc *incident.Incident) error {
	if err := s.MemoryStore.Save(ctx, inc); err != nil {
		return err
	}
	if !s.raced {
		s.raced = true
		other, err := s.MemoryStore.Get(ctx, inc.IncidentID)
		if err != nil {
			return err
		}
		if err := other.SetStatus(incident.StatusInvestigating); err != nil {
			return err
		}
		return s.MemoryStore.Save(ctx, other)
	}
	return nil
}

func TestConcurrentStatusUpdateIsNotLost(t *testing.T) {
	store := &statusRacerStore{MemoryStore: incident.NewMemoryStore()}
	eng := newEngineWithStore(t, store)

	inc, err := eng.ProcessEvent(context.Background(),
		ev("e1", "203.0.113.9", event.ThreatSQLInjection, event.SeverityMedium, "/api/items"))
	require.NoError(t, err)
	require.NotNil(t, inc)

	stored, err := store.Get(context.Background(), inc.IncidentID)
	require.NoError(t, err)
	assert.Equal(t, incident.StatusInvestigating, stored.Status, "the racing status update survives")
	assert.Len(t, stored.ActionsTaken, 4, "the response actions survive")
}

func TestShouldCreateIncident(t *testing.T) {
	low := ev("e", "10.0.0.1", event.ThreatXSS, event.SeverityLow, "/")

	assert.False(t, shouldCreateIncident(nil))
	assert.False(t, shouldCreateIncident([]event.SecurityEvent{low}))
	assert.False(t, shouldCreateIncident([]event.SecurityEvent{low, low}))
	assert.True(t, shouldCreateIncident([]event.SecurityEvent{low, low, low}), "group size threshold")

	high := ev("e", "10.0.0.1", event.ThreatXSS, event.SeverityHigh, "/")
	assert.True(t, shouldCreateIncident([]event.SecurityEvent{high}), "high severity")

	crit := ev("e", "10.0.0.1", event.ThreatXSS, event.SeverityCritical, "/")
	assert.True(t, shouldCreateIncident([]event.SecurityEvent{crit}), "critical severity")

	sqli := ev("e", "10.0.0.1", event.ThreatSQLInjection, event.SeverityLow, "/")
	assert.True(t, shouldCreateIncident([]event.SecurityEvent{sqli}), "always-incident threat type")
}
