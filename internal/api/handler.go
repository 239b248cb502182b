// Package api exposes the engine's ops HTTP surface: health, incidents,
// event injection, and reliability stats.
package api

import (
	"encoding/json"
	"net/http"
	"strconv"
	"time"

	"github.com/gorilla/mux"

	"github.com/pam-platform/reliability/internal/breaker"
	"github.com/pam-platform/reliability/internal/engine"
	"github.com/pam-platform/reliability/internal/event"
	"github.com/pam-platform/reliability/internal/health"
	"github.com/pam-platform/reliability/internal/incident"
	"github.com/pam-platform/reliability/internal/recovery"
	"github.com/pam-platform/reliability/pkg/errors"
	"github.com/pam-platform/reliability/pkg/logger"
)

// Handler serves the ops API.
type Handler struct {
	engine   *engine.Engine
	store    incident.Store
	monitor  *health.Monitor
	breakers *breaker.Registry
	recovery *recovery.Coordinator
	log      *logger.Logger
}

// NewHandler creates the ops API handler.
func NewHandler(
	eng *engine.Engine,
	store incident.Store,
	monitor *health.Monitor,
	breakers *breaker.Registry,
	rec *recovery.Coordinator,
	log *logger.Logger,
) *Handler {
	return &Handler{
		engine:   eng,
		store:    store,
		monitor:  monitor,
		breakers: breakers,
		recovery: rec,
		log:      log.Component("api"),
	}
}

// RegisterRoutes registers all ops API routes.
func (h *Handler) RegisterRoutes(r *mux.Router) {
	r.HandleFunc("/health", h.Health).Methods("GET")
	r.HandleFunc("/ready", h.Ready).Methods("GET")

	v1 := r.PathPrefix("/api/v1").Subrouter()
	v1.HandleFunc("/events", h.IngestEvent).Methods("POST")
	v1.HandleFunc("/incidents", h.ListIncidents).Methods("GET")
	v1.HandleFunc("/incidents/{id}", h.GetIncident).Methods("GET")
	v1.HandleFunc("/incidents/{id}/status", h.UpdateStatus).Methods("POST")
	v1.HandleFunc("/breakers", h.Breakers).Methods("GET")
	v1.HandleFunc("/recovery/errors", h.RecentErrors).Methods("GET")
}

// Health returns the full health snapshot with per-check results.
func (h *Handler) Health(w http.ResponseWriter, r *http.Request) {
	snap := h.monitor.Snapshot(r.Context())

	status := http.StatusOK
	if snap.Status == health.StatusCritical {
		status = http.StatusServiceUnavailable
	}
	h.respondJSON(w, status, snap)
}

// Ready is a cheap liveness probe that avoids running the check suite.
func (h *Handler) Ready(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]string{"status": "ready"})
}

// IngestEvent accepts one security event and runs it through the pipeline.
// Returns 202 when the event only accumulated, 201 with the incident when
// one was created.
func (h *Handler) IngestEvent(w http.ResponseWriter, r *http.Request) {
	var ev event.SecurityEvent
	if err := json.NewDecoder(r.Body).Decode(&ev); err != nil {
		h.respondError(w, errors.BadRequest("invalid event body"))
		return
	}
	if ev.SourceIP == "" || ev.ThreatType == "" {
		h.respondError(w, errors.Validation("source_ip and threat_type are required"))
		return
	}
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now().UTC()
	}

	inc, err := h.engine.ProcessEvent(r.Context(), ev)
	if err != nil {
		h.respondError(w, errors.Wrap(err, errors.CodeInternalError, "event processing failed"))
		return
	}
	if inc == nil {
		h.respondJSON(w, http.StatusAccepted, map[string]string{
			"status":          "buffered",
			"correlation_key": ev.CorrelationKey(),
		})
		return
	}
	h.respondJSON(w, http.StatusCreated, inc)
}

// ListIncidents lists incidents filtered by status, severity, and category.
func (h *Handler) ListIncidents(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	filter := incident.ListFilter{
		Status:   incident.Status(q.Get("status")),
		Severity: event.Severity(q.Get("severity")),
		Category: incident.Category(q.Get("category")),
		Limit:    100,
	}
	if raw := q.Get("limit"); raw != "" {
		limit, err := strconv.Atoi(raw)
		if err != nil || limit <= 0 {
			h.respondError(w, errors.Validation("limit must be a positive integer"))
			return
		}
		filter.Limit = limit
	}

	incidents, err := h.store.List(r.Context(), filter)
	if err != nil {
		h.respondError(w, errors.Wrap(err, errors.CodeInternalError, "failed to list incidents"))
		return
	}
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"incidents": incidents,
		"count":     len(incidents),
	})
}

// GetIncident returns one incident by ID.
func (h *Handler) GetIncident(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	inc, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}
	h.respondJSON(w, http.StatusOK, inc)
}

type statusRequest struct {
	Status string `json:"status"`
}

// UpdateStatus advances an incident's lifecycle status. Backward moves are
// rejected with a conflict.
func (h *Handler) UpdateStatus(w http.ResponseWriter, r *http.Request) {
	id := mux.Vars(r)["id"]

	var req statusRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		h.respondError(w, errors.BadRequest("invalid request body"))
		return
	}

	inc, err := h.store.Get(r.Context(), id)
	if err != nil {
		h.respondError(w, err)
		return
	}

	if err := inc.SetStatus(incident.Status(req.Status)); err != nil {
		h.respondError(w, errors.Conflict(err.Error()))
		return
	}
	if err := h.store.Save(r.Context(), inc); err != nil {
		if errors.Is(err, errors.CodeConflict) {
			h.respondError(w, err)
			return
		}
		h.respondError(w, errors.Wrap(err, errors.CodeInternalError, "failed to persist incident"))
		return
	}

	h.log.Info("incident status updated",
		"incident_id", id,
		"status", req.Status,
	)
	h.respondJSON(w, http.StatusOK, inc)
}

// Breakers returns the state of every circuit breaker.
func (h *Handler) Breakers(w http.ResponseWriter, r *http.Request) {
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"breakers":   h.breakers.Snapshots(),
		"open_count": h.breakers.OpenCount(),
	})
}

// RecentErrors returns the recovery coordinator's rolling error history.
func (h *Handler) RecentErrors(w http.ResponseWriter, r *http.Request) {
	limit := 100
	if raw := r.URL.Query().Get("limit"); raw != "" {
		parsed, err := strconv.Atoi(raw)
		if err != nil || parsed <= 0 {
			h.respondError(w, errors.Validation("limit must be a positive integer"))
			return
		}
		limit = parsed
	}

	recent := h.recovery.History().Recent(limit)
	h.respondJSON(w, http.StatusOK, map[string]interface{}{
		"errors": recent,
		"count":  len(recent),
	})
}

func (h *Handler) respondJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		h.log.Error("failed to encode response", "error", err.Error())
	}
}

func (h *Handler) respondError(w http.ResponseWriter, err error) {
	status := errors.GetHTTPStatus(err)

	var appErr *errors.AppError
	if e, ok := err.(*errors.AppError); ok {
		appErr = e
	} else {
		appErr = errors.Internal(err.Error())
	}

	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	w.Write(appErr.ToJSON())
}
