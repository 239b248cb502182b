// Package engine orchestrates the pipeline from raw security events to
// persisted, responded-to, and notified incidents.
package engine

import (
	"context"
	"fmt"
	"time"

	"github.com/pam-platform/reliability/internal/classifier"
	"github.com/pam-platform/reliability/internal/correlation"
	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/health"
	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/internal/notify"
	"github.com/pam-platform/reliability/internal/response"
	apperrors "github.com/pam-platform/reliability/pkg/errors"
	"github.com/pam-platform/reliability/pkg/logger"
)

// minGroupSize is the group size that triggers incident creation on its own,
// regardless of severity.
const minGroupSize = 3

// alwaysIncidentThreats create an incident from the first event. These
// attack classes are never worth batching.
var alwaysIncidentThreats = map[event.ThreatType]struct{}{
	event.ThreatSQLInjection:     {},
	event.ThreatCommandInjection: {},
	event.ThreatPathTraversal:    {},
}

// Publisher emits created incidents downstream, typically to Kafka. Nil
// publishers are allowed; publishing is best-effort.
type Publisher interface {
	PublishIncident(ctx context.Context, inc *incident.Incident) error
}

// Engine wires correlation, classification, persistence, response, and
// notification together.
type Engine struct {
	buffer     *correlation.Buffer
	classifier *classifier.Classifier
	store      incident.Store
	responder  *response.Engine
	notifier   *notify.Dispatcher
	publisher  Publisher
	tracker    *health.Tracker
	log        *logger.Logger
}

// New creates an engine. The publisher may be nil.
func New(
	buffer *correlation.Buffer,
	cls *classifier.Classifier,
	store incident.Store,
	responder *response.Engine,
	notifier *notify.Dispatcher,
	publisher Publisher,
	tracker *health.Tracker,
	log *logger.Logger,
) *Engine {
	return &Engine{
		buffer:     buffer,
		classifier: cls,
		store:      store,
		responder:  responder,
		notifier:   notifier,
		publisher:  publisher,
		tracker:    tracker,
		log:        log.Component("engine"),
	}
}

// ProcessEvent adds one event to its correlation window and, when the group
// warrants it, creates, persists, responds to, and notifies an incident.
// Returns the created incident, or nil when the event only accumulated.
func (e *Engine) ProcessEvent(ctx context.Context, ev event.SecurityEvent) (*incident.Incident, error) {
	start := time.Now()
	inc, err := e.processEvent(ctx, ev)
	if e.tracker != nil {
		e.tracker.Record(time.Since(start), err != nil)
	}
	return inc, err
}

func (e *Engine) processEvent(ctx context.Context, ev event.SecurityEvent) (*incident.Incident, error) {
	health.EventsProcessedTotal.Inc()

	group := e.buffer.Add(ev)
	if !shouldCreateIncident(group) {
		e.log.Debug("event buffered",
			"event_id", ev.EventID,
			"correlation_key", ev.CorrelationKey(),
			"group_size", len(group),
		)
		return nil, nil
	}
	return e.createIncident(ctx, ev.SourceIP)
}

// createIncident builds one incident from every pending event for the
// source, across all of its threat-type windows, so a multi-vector attack
// yields a single incident covering the whole of it. The source's windows
// are consumed exactly once.
func (e *Engine) createIncident(ctx context.Context, sourceIP string) (*incident.Incident, error) {
	group := e.buffer.SourceEvents(sourceIP)
	if len(group) == 0 {
		return nil, nil
	}

	category, level := e.classifier.Classify(group)
	inc, err := incident.New(category, level, group)
	if err != nil {
		return nil, fmt.Errorf("failed to build incident: %w", err)
	}

	if err := e.store.Save(ctx, inc); err != nil {
		return nil, fmt.Errorf("failed to persist incident %s: %w", inc.IncidentID, err)
	}

	e.buffer.ClearSource(sourceIP)

	health.IncidentsCreatedTotal.WithLabelValues(string(category)).Inc()
	e.log.Critical("incident created",
		"incident_id", inc.IncidentID,
		"category", string(category),
		"severity", string(inc.Severity),
		"escalation_level", inc.EscalationLevel.String(),
		"event_count", len(group),
		"source_ip", sourceIP,
	)

	actions := e.responder.Execute(ctx, inc)
	if len(actions) > 0 {
		inc.AppendActions(actions)
		if err := e.persistActions(ctx, inc, actions); err != nil {
			return inc, fmt.Errorf("failed to persist response actions for %s: %w", inc.IncidentID, err)
		}
	}

	e.notifier.Notify(ctx, inc, "incident_created")

	if e.publisher != nil {
		if err := e.publisher.PublishIncident(ctx, inc); err != nil {
			e.log.Error("failed to publish incident",
				"incident_id", inc.IncidentID,
				"error", err.Error(),
			)
		}
	}

	return inc, nil
}

// persistActions saves the incident's appended actions, retrying through
// concurrent-update conflicts by reapplying the actions on a fresh read.
func (e *Engine) persistActions(ctx context.Context, inc *incident.Incident, actions []incident.Action) error {
	err := e.store.Save(ctx, inc)
	for attempts := 0; attempts < 2 && apperrors.Is(err, apperrors.CodeConflict); attempts++ {
		fresh, getErr := e.store.Get(ctx, inc.IncidentID)
		if getErr != nil {
			return getErr
		}
		fresh.AppendActions(actions)
		*inc = *fresh
		err = e.store.Save(ctx, inc)
	}
	return err
}

// ProcessBatch stages the whole batch into the correlation buffer before
// evaluating any window, so events that arrive together correlate together.
// Once any of a source's windows becomes actionable, one incident is created
// from all of that source's pending events. Processing continues past
// per-source failures; the first error is returned after the batch
// completes.
func (e *Engine) ProcessBatch(ctx context.Context, events []event.SecurityEvent) ([]*incident.Incident, error) {
	start := time.Now()

	type window struct {
		key    string
		source string
	}
	var touched []window
	seen := make(map[string]struct{})
	for _, ev := range events {
		health.EventsProcessedTotal.Inc()
		e.buffer.Add(ev)
		if _, ok := seen[ev.CorrelationKey()]; !ok {
			seen[ev.CorrelationKey()] = struct{}{}
			touched = append(touched, window{key: ev.CorrelationKey(), source: ev.SourceIP})
		}
	}

	var incidents []*incident.Incident
	var firstErr error
	for _, w := range touched {
		if !shouldCreateIncident(e.buffer.Group(w.key)) {
			continue
		}
		inc, err := e.createIncident(ctx, w.source)
		if err != nil {
			if firstErr == nil {
				firstErr = err
			}
			e.log.Error("incident creation failed",
				"correlation_key", w.key,
				"error", err.Error(),
			)
		}
		if inc != nil {
			incidents = append(incidents, inc)
		}
	}

	if e.tracker != nil {
		e.tracker.Record(time.Since(start), firstErr != nil)
	}
	return incidents, firstErr
}

// StartSweeper expires stale correlation windows on an interval until the
// context is canceled.
func (e *Engine) StartSweeper(ctx context.Context, interval time.Duration) {
	if interval <= 0 {
		interval = time.Minute
	}
	go func() {
		ticker := time.NewTicker(interval)
		defer ticker.Stop()
		for {
			select {
			case <-ticker.C:
				if removed := e.buffer.Sweep(); removed > 0 {
					e.log.Debug("correlation sweep",
						"expired_events", removed,
						"pending_keys", e.buffer.PendingKeys(),
					)
				}
			case <-ctx.Done():
				return
			}
		}
	}()
}

// shouldCreateIncident decides whether a correlated group is actionable:
// any high or critical event, a group at the size threshold, or a threat
// type severe enough to act on immediately.
func shouldCreateIncident(group []event.SecurityEvent) bool {
	if len(group) == 0 {
		return false
	}
	if len(group) >= minGroupSize {
		return true
	}
	for _, ev := range group {
		if ev.Severity == event.SeverityHigh || ev.Severity == event.SeverityCritical {
			return true
		}
		if _, ok := alwaysIncidentThreats[ev.ThreatType]; ok {
			return true
		}
	}
	return false
}
