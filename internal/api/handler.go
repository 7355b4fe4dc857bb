// Package api exposes the HTTP boundary: webhook ingestion, trigger
// management, and read access to decisions.
package api

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"io"
	"log"
	"net/http"
	"strconv"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
	"github.com/avyuktsoni0731/continuum.ai/internal/webhook"
)

const (
	maxRequestBodySize = 1 << 20 // 1 MB

	// DefaultLimit is the page size when the client does not specify one.
	DefaultLimit = 100
	// MaxLimit caps the page size a client can request.
	MaxLimit = 1000

	healthPingTimeout = 3 * time.Second
)

// Store is the read-side persistence the API requires.
type Store interface {
	ListTriggers(ctx context.Context, state string, limit, offset int) ([]domain.ScheduledTrigger, error)
	ListDecisions(ctx context.Context, userID string, limit, offset int) ([]domain.Decision, error)
}

// TriggerScheduler upserts and cancels triggers; satisfied by
// *scheduler.Scheduler.
type TriggerScheduler interface {
	Schedule(ctx context.Context, req scheduler.ScheduleRequest) (domain.ScheduledTrigger, error)
	Cancel(ctx context.Context, id uuid.UUID) error
}

// EventProcessor applies normalized change events; satisfied by
// *webhook.Normalizer.
type EventProcessor interface {
	Process(ctx context.Context, ev domain.ChangeEvent) (webhook.Result, error)
}

// HealthChecker reports backing-store reachability.
type HealthChecker interface {
	Ping(ctx context.Context) error
}

// MetricsSink receives ingestion counters. All methods must be
// non-blocking.
type MetricsSink interface {
	WebhookEventReceived(source string, duplicate bool)
}

// Handler is the HTTP handler for the service.
type Handler struct {
	store     Store
	scheduler TriggerScheduler
	events    EventProcessor
	health    HealthChecker
	metrics   MetricsSink
	clock     func() time.Time

	router chi.Router
}

// NewHandler builds the handler and mounts its routes.
func NewHandler(store Store, sched TriggerScheduler, events EventProcessor, health HealthChecker) *Handler {
	h := &Handler{
		store:     store,
		scheduler: sched,
		events:    events,
		health:    health,
		clock:     time.Now,
	}

	r := chi.NewRouter()
	r.Post("/webhooks/{source}", h.handleWebhook)
	r.Post("/triggers", h.handleCreateTrigger)
	r.Delete("/triggers/{id}", h.handleCancelTrigger)
	r.Get("/triggers", h.handleListTriggers)
	r.Get("/decisions", h.handleListDecisions)
	r.Get("/health", h.handleHealth)
	h.router = r

	return h
}

// WithMetrics attaches a metrics sink.
func (h *Handler) WithMetrics(sink MetricsSink) *Handler {
	h.metrics = sink
	return h
}

// WithClock overrides the time source, for deterministic tests.
func (h *Handler) WithClock(clock func() time.Time) *Handler {
	h.clock = clock
	return h
}

func (h *Handler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	h.router.ServeHTTP(w, r)
}

func (h *Handler) handleWebhook(w http.ResponseWriter, r *http.Request) {
	source := chi.URLParam(r, "source")

	body, err := io.ReadAll(http.MaxBytesReader(w, r.Body, maxRequestBodySize))
	if err != nil {
		if err.Error() == "http: request body too large" {
			writeError(w, http.StatusRequestEntityTooLarge, "request body too large")
			return
		}
		writeError(w, http.StatusBadRequest, "failed to read request body")
		return
	}

	ev, err := webhook.Parse(source, body, h.clock())
	if err != nil {
		if errors.Is(err, webhook.ErrMalformedPayload) {
			writeError(w, http.StatusBadRequest, err.Error())
			return
		}
		writeError(w, http.StatusInternalServerError, "failed to parse event")
		return
	}

	res, err := h.events.Process(r.Context(), ev)
	if err != nil {
		log.Printf("api: webhook source=%s event=%s: %v", source, ev.ExternalID, err)
		writeError(w, http.StatusInternalServerError, "failed to process event")
		return
	}

	if h.metrics != nil {
		h.metrics.WebhookEventReceived(source, res.Duplicate)
	}

	resp := WebhookResponse{Accepted: !res.Duplicate, Duplicate: res.Duplicate}
	if res.TriggerID != uuid.Nil {
		resp.TriggerID = res.TriggerID.String()
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleCreateTrigger(w http.ResponseWriter, r *http.Request) {
	var req CreateTriggerRequest
	if err := decodeJSON(w, r, &req); err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}

	if req.WorkItemID == "" || req.UserID == "" {
		writeError(w, http.StatusBadRequest, "work_item_id and user_id are required")
		return
	}
	at, err := time.Parse(time.RFC3339, req.ScheduledAt)
	if err != nil {
		writeError(w, http.StatusBadRequest, "scheduled_at must be RFC3339")
		return
	}

	sreq := scheduler.ScheduleRequest{
		WorkItemID: req.WorkItemID,
		UserID:     req.UserID,
		At:         at,
		Source:     "api",
	}
	if req.Priority != "" {
		prio := domain.Priority(req.Priority)
		if prio.Rank() == 0 {
			writeError(w, http.StatusBadRequest, "unknown priority")
			return
		}
		sreq.PlannedPriority = prio
	}
	sreq.PlannedLabels = req.Labels
	if req.DueAt != "" {
		due, err := time.Parse(time.RFC3339, req.DueAt)
		if err != nil {
			writeError(w, http.StatusBadRequest, "due_at must be RFC3339")
			return
		}
		sreq.PlannedDueAt = &due
	}

	trigger, err := h.scheduler.Schedule(r.Context(), sreq)
	if err != nil {
		log.Printf("api: schedule item=%s user=%s: %v", req.WorkItemID, req.UserID, err)
		writeError(w, http.StatusInternalServerError, "failed to schedule trigger")
		return
	}

	writeJSON(w, http.StatusCreated, triggerToResponse(trigger))
}

func (h *Handler) handleCancelTrigger(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, http.StatusBadRequest, "invalid trigger id")
		return
	}

	if err := h.scheduler.Cancel(r.Context(), id); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			writeError(w, http.StatusNotFound, "trigger not found")
			return
		}
		log.Printf("api: cancel trigger=%s: %v", id, err)
		writeError(w, http.StatusInternalServerError, "failed to cancel trigger")
		return
	}

	w.WriteHeader(http.StatusNoContent)
}

func (h *Handler) handleListTriggers(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	state := r.URL.Query().Get("state")
	if state != "" && !validTriggerState(state) {
		writeError(w, http.StatusBadRequest, "unknown state filter")
		return
	}

	triggers, err := h.store.ListTriggers(r.Context(), state, limit, offset)
	if err != nil {
		log.Printf("api: list triggers: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list triggers")
		return
	}

	resp := ListTriggersResponse{Triggers: make([]TriggerResponse, 0, len(triggers))}
	for _, t := range triggers {
		resp.Triggers = append(resp.Triggers, triggerToResponse(t))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleListDecisions(w http.ResponseWriter, r *http.Request) {
	limit, offset, err := parsePagination(r)
	if err != nil {
		writeError(w, http.StatusBadRequest, err.Error())
		return
	}
	userID := r.URL.Query().Get("user_id")

	decisions, err := h.store.ListDecisions(r.Context(), userID, limit, offset)
	if err != nil {
		log.Printf("api: list decisions: %v", err)
		writeError(w, http.StatusInternalServerError, "failed to list decisions")
		return
	}

	resp := ListDecisionsResponse{Decisions: make([]DecisionResponse, 0, len(decisions))}
	for _, d := range decisions {
		resp.Decisions = append(resp.Decisions, decisionToResponse(d))
	}
	writeJSON(w, http.StatusOK, resp)
}

func (h *Handler) handleHealth(w http.ResponseWriter, r *http.Request) {
	if r.URL.Query().Get("verbose") != "true" {
		writeJSON(w, http.StatusOK, HealthResponse{Status: "ok"})
		return
	}

	ctx, cancel := context.WithTimeout(r.Context(), healthPingTimeout)
	defer cancel()

	resp := HealthResponse{Status: "ok", Components: map[string]string{}}
	status := http.StatusOK
	if err := h.health.Ping(ctx); err != nil {
		resp.Status = "degraded"
		resp.Components["store"] = err.Error()
		status = http.StatusServiceUnavailable
	} else {
		resp.Components["store"] = "ok"
	}
	writeJSON(w, status, resp)
}

func triggerToResponse(t domain.ScheduledTrigger) TriggerResponse {
	resp := TriggerResponse{
		ID:              t.ID.String(),
		WorkItemID:      t.WorkItemID,
		UserID:          t.UserID,
		ScheduledAt:     formatTime(t.ScheduledAt),
		State:           string(t.State),
		Source:          t.Source,
		PlannedPriority: string(t.PlannedPriority),
		PlannedLabels:   t.PlannedLabels,
		CreatedAt:       formatTime(t.CreatedAt),
	}
	if t.PlannedDueAt != nil {
		resp.PlannedDueAt = formatTime(*t.PlannedDueAt)
	}
	if t.LastEvaluatedAt != nil {
		resp.LastEvaluatedAt = formatTime(*t.LastEvaluatedAt)
	}
	return resp
}

func decisionToResponse(d domain.Decision) DecisionResponse {
	resp := DecisionResponse{
		ID:          d.ID.String(),
		TriggerID:   d.TriggerID.String(),
		WorkItemID:  d.WorkItemID,
		UserID:      d.UserID,
		Action:      string(d.Action),
		Criticality: d.Criticality,
		Feasibility: d.Feasibility,
		Reasoning:   d.Reasoning,
		DelegateID:  d.DelegateID,
		Status:      string(d.Status),
		CreatedAt:   formatTime(d.CreatedAt),
	}
	for _, g := range d.Guardrails {
		resp.Guardrails = append(resp.Guardrails, GuardrailCheck{Name: g.Name, Passed: g.Passed})
	}
	return resp
}

func validTriggerState(s string) bool {
	switch domain.TriggerState(s) {
	case domain.TriggerStatePending, domain.TriggerStateFired, domain.TriggerStateCancelled:
		return true
	}
	return false
}

func decodeJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	body := http.MaxBytesReader(w, r.Body, maxRequestBodySize)
	dec := json.NewDecoder(body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		return errors.New("invalid request body")
	}
	return nil
}

func parsePagination(r *http.Request) (limit, offset int, err error) {
	limit = DefaultLimit
	if raw := r.URL.Query().Get("limit"); raw != "" {
		limit, err = strconv.Atoi(raw)
		if err != nil || limit < 1 {
			return 0, 0, errors.New("limit must be a positive integer")
		}
		if limit > MaxLimit {
			limit = MaxLimit
		}
	}
	if raw := r.URL.Query().Get("offset"); raw != "" {
		offset, err = strconv.Atoi(raw)
		if err != nil || offset < 0 {
			return 0, 0, errors.New("offset must be a non-negative integer")
		}
	}
	return limit, offset, nil
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(v); err != nil {
		log.Printf("api: encode response: %v", err)
	}
}

func writeError(w http.ResponseWriter, status int, msg string) {
	writeJSON(w, status, ErrorResponse{Error: msg})
}
