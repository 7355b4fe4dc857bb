package api

import (
	"bytes"
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
	"github.com/avyuktsoni0731/continuum.ai/internal/testutil"
	"github.com/avyuktsoni0731/continuum.ai/internal/webhook"
)

var apiNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

type mockStore struct {
	triggers  []domain.ScheduledTrigger
	decisions []domain.Decision
	lastState string
	lastUser  string
	lastLimit int
	lastOff   int
	err       error
}

func (s *mockStore) ListTriggers(_ context.Context, state string, limit, offset int) ([]domain.ScheduledTrigger, error) {
	s.lastState, s.lastLimit, s.lastOff = state, limit, offset
	return s.triggers, s.err
}

func (s *mockStore) ListDecisions(_ context.Context, userID string, limit, offset int) ([]domain.Decision, error) {
	s.lastUser, s.lastLimit, s.lastOff = userID, limit, offset
	return s.decisions, s.err
}

type mockScheduler struct {
	scheduled []scheduler.ScheduleRequest
	cancelled []uuid.UUID
	cancelErr error
}

func (s *mockScheduler) Schedule(_ context.Context, req scheduler.ScheduleRequest) (domain.ScheduledTrigger, error) {
	s.scheduled = append(s.scheduled, req)
	return domain.ScheduledTrigger{
		ID:              uuid.New(),
		WorkItemID:      req.WorkItemID,
		UserID:          req.UserID,
		ScheduledAt:     req.At,
		State:           domain.TriggerStatePending,
		Source:          req.Source,
		PlannedPriority: req.PlannedPriority,
		PlannedLabels:   req.PlannedLabels,
		PlannedDueAt:    req.PlannedDueAt,
		CreatedAt:       apiNow,
	}, nil
}

func (s *mockScheduler) Cancel(_ context.Context, id uuid.UUID) error {
	s.cancelled = append(s.cancelled, id)
	return s.cancelErr
}

type mockProcessor struct {
	result webhook.Result
	err    error
	events []domain.ChangeEvent
}

func (p *mockProcessor) Process(_ context.Context, ev domain.ChangeEvent) (webhook.Result, error) {
	p.events = append(p.events, ev)
	return p.result, p.err
}

type mockHealth struct{ err error }

func (h *mockHealth) Ping(context.Context) error { return h.err }

type fixture struct {
	handler   *Handler
	store     *mockStore
	scheduler *mockScheduler
	processor *mockProcessor
	health    *mockHealth
}

func newFixture() *fixture {
	f := &fixture{
		store:     &mockStore{},
		scheduler: &mockScheduler{},
		processor: &mockProcessor{},
		health:    &mockHealth{},
	}
	f.handler = NewHandler(f.store, f.scheduler, f.processor, f.health).
		WithClock(testutil.NewFakeClock(apiNow).Now)
	return f
}

func (f *fixture) do(t *testing.T, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var rd *bytes.Reader
	if body == "" {
		rd = bytes.NewReader(nil)
	} else {
		rd = bytes.NewReader([]byte(body))
	}
	req := httptest.NewRequest(method, target, rd)
	rec := httptest.NewRecorder()
	f.handler.ServeHTTP(rec, req)
	return rec
}

func decode[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	if err := json.Unmarshal(rec.Body.Bytes(), &v); err != nil {
		t.Fatalf("decode response: %v (body %q)", err, rec.Body.String())
	}
	return v
}

// TestWebhook_Accepted verifies a valid payload is parsed, processed, and
// acknowledged with the trigger id.
func TestWebhook_Accepted(t *testing.T) {
	f := newFixture()
	trigID := uuid.New()
	f.processor.result = webhook.Result{TriggerID: trigID}

	rec := f.do(t, http.MethodPost, "/webhooks/tracker",
		`{"event_id":"evt-1","kind":"item_assigned","work_item_id":"item-1","user_id":"alice","priority":"high"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200 (body %s)", rec.Code, rec.Body)
	}
	resp := decode[WebhookResponse](t, rec)
	if !resp.Accepted || resp.Duplicate {
		t.Errorf("response = %+v, want accepted and not duplicate", resp)
	}
	if resp.TriggerID != trigID.String() {
		t.Errorf("trigger_id = %s, want %s", resp.TriggerID, trigID)
	}
	if len(f.processor.events) != 1 || f.processor.events[0].Source != "tracker" {
		t.Errorf("processed events = %+v, want one from tracker", f.processor.events)
	}
}

// TestWebhook_DuplicateReplay verifies a replayed event reports duplicate
// with a 200 so the sender stops retrying.
func TestWebhook_DuplicateReplay(t *testing.T) {
	f := newFixture()
	f.processor.result = webhook.Result{Duplicate: true}

	rec := f.do(t, http.MethodPost, "/webhooks/tracker",
		`{"event_id":"evt-1","kind":"item_assigned","work_item_id":"item-1","user_id":"alice"}`)

	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[WebhookResponse](t, rec)
	if resp.Accepted || !resp.Duplicate {
		t.Errorf("response = %+v, want duplicate", resp)
	}
}

// TestWebhook_MalformedPayload verifies parse rejections map to 400.
func TestWebhook_MalformedPayload(t *testing.T) {
	f := newFixture()

	for name, body := range map[string]string{
		"not json":     `{`,
		"no event id":  `{"kind":"item_assigned","work_item_id":"item-1","user_id":"alice"}`,
		"unknown kind": `{"event_id":"evt-1","kind":"item_exploded","work_item_id":"item-1","user_id":"alice"}`,
	} {
		rec := f.do(t, http.MethodPost, "/webhooks/tracker", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	if len(f.processor.events) != 0 {
		t.Errorf("processed = %d, want 0", len(f.processor.events))
	}
}

// TestWebhook_BodyTooLarge verifies oversized payloads get a 413.
func TestWebhook_BodyTooLarge(t *testing.T) {
	f := newFixture()

	big := `{"event_id":"evt-1","padding":"` + strings.Repeat("x", maxRequestBodySize) + `"}`
	rec := f.do(t, http.MethodPost, "/webhooks/tracker", big)

	if rec.Code != http.StatusRequestEntityTooLarge {
		t.Errorf("status = %d, want 413", rec.Code)
	}
}

// TestWebhook_ProcessError verifies processor failures map to 500.
func TestWebhook_ProcessError(t *testing.T) {
	f := newFixture()
	f.processor.err = errors.New("store down")

	rec := f.do(t, http.MethodPost, "/webhooks/tracker",
		`{"event_id":"evt-1","kind":"item_assigned","work_item_id":"item-1","user_id":"alice"}`)

	if rec.Code != http.StatusInternalServerError {
		t.Errorf("status = %d, want 500", rec.Code)
	}
}

// TestCreateTrigger verifies a valid request schedules and returns 201
// with the trigger rendered.
func TestCreateTrigger(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodPost, "/triggers",
		`{"work_item_id":"item-1","user_id":"alice","scheduled_at":"2025-06-03T09:00:00Z","priority":"high","labels":["urgent"],"due_at":"2025-06-04T00:00:00Z"}`)

	if rec.Code != http.StatusCreated {
		t.Fatalf("status = %d, want 201 (body %s)", rec.Code, rec.Body)
	}
	if len(f.scheduler.scheduled) != 1 {
		t.Fatalf("scheduled = %d, want 1", len(f.scheduler.scheduled))
	}
	req := f.scheduler.scheduled[0]
	if req.Source != "api" || req.PlannedPriority != domain.PriorityHigh {
		t.Errorf("schedule request = %+v", req)
	}
	if req.PlannedDueAt == nil || !req.PlannedDueAt.Equal(time.Date(2025, 6, 4, 0, 0, 0, 0, time.UTC)) {
		t.Errorf("planned due at = %v", req.PlannedDueAt)
	}

	resp := decode[TriggerResponse](t, rec)
	if resp.WorkItemID != "item-1" || resp.State != "pending" {
		t.Errorf("response = %+v", resp)
	}
	if resp.ScheduledAt != "2025-06-03T09:00:00Z" {
		t.Errorf("scheduled_at = %s", resp.ScheduledAt)
	}
}

// TestCreateTrigger_Validation covers the request rejections.
func TestCreateTrigger_Validation(t *testing.T) {
	f := newFixture()

	for name, body := range map[string]string{
		"missing ids":   `{"scheduled_at":"2025-06-03T09:00:00Z"}`,
		"bad time":      `{"work_item_id":"item-1","user_id":"alice","scheduled_at":"tomorrow"}`,
		"bad priority":  `{"work_item_id":"item-1","user_id":"alice","scheduled_at":"2025-06-03T09:00:00Z","priority":"asap"}`,
		"bad due":       `{"work_item_id":"item-1","user_id":"alice","scheduled_at":"2025-06-03T09:00:00Z","due_at":"soon"}`,
		"unknown field": `{"work_item_id":"item-1","user_id":"alice","scheduled_at":"2025-06-03T09:00:00Z","surprise":true}`,
		"not an object": `[1,2,3]`,
	} {
		rec := f.do(t, http.MethodPost, "/triggers", body)
		if rec.Code != http.StatusBadRequest {
			t.Errorf("%s: status = %d, want 400", name, rec.Code)
		}
	}
	if len(f.scheduler.scheduled) != 0 {
		t.Errorf("scheduled = %d, want 0", len(f.scheduler.scheduled))
	}
}

// TestCancelTrigger verifies 204 on success, 404 for unknown ids, and 400
// for unparseable ids.
func TestCancelTrigger(t *testing.T) {
	f := newFixture()
	id := uuid.New()

	rec := f.do(t, http.MethodDelete, "/triggers/"+id.String(), "")
	if rec.Code != http.StatusNoContent {
		t.Errorf("status = %d, want 204", rec.Code)
	}
	if len(f.scheduler.cancelled) != 1 || f.scheduler.cancelled[0] != id {
		t.Errorf("cancelled = %v, want [%s]", f.scheduler.cancelled, id)
	}

	f.scheduler.cancelErr = sql.ErrNoRows
	rec = f.do(t, http.MethodDelete, "/triggers/"+uuid.New().String(), "")
	if rec.Code != http.StatusNotFound {
		t.Errorf("unknown: status = %d, want 404", rec.Code)
	}

	rec = f.do(t, http.MethodDelete, "/triggers/not-a-uuid", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad id: status = %d, want 400", rec.Code)
	}
}

// TestListTriggers verifies the state filter, default pagination, and the
// pagination rejections.
func TestListTriggers(t *testing.T) {
	f := newFixture()
	f.store.triggers = []domain.ScheduledTrigger{testutil.Trigger("item-1", "alice", apiNow)}

	rec := f.do(t, http.MethodGet, "/triggers?state=pending", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	resp := decode[ListTriggersResponse](t, rec)
	if len(resp.Triggers) != 1 {
		t.Fatalf("triggers = %d, want 1", len(resp.Triggers))
	}
	if f.store.lastState != "pending" || f.store.lastLimit != DefaultLimit || f.store.lastOff != 0 {
		t.Errorf("query = (%q, %d, %d)", f.store.lastState, f.store.lastLimit, f.store.lastOff)
	}

	rec = f.do(t, http.MethodGet, "/triggers?state=exploded", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("bad state: status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/triggers?limit=0", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("zero limit: status = %d, want 400", rec.Code)
	}
	rec = f.do(t, http.MethodGet, "/triggers?offset=-1", "")
	if rec.Code != http.StatusBadRequest {
		t.Errorf("negative offset: status = %d, want 400", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/triggers?limit=5000", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("huge limit: status = %d, want 200", rec.Code)
	}
	if f.store.lastLimit != MaxLimit {
		t.Errorf("limit = %d, want capped at %d", f.store.lastLimit, MaxLimit)
	}
}

// TestListDecisions verifies the user filter flows through and the
// decision rendering includes guardrails and scores.
func TestListDecisions(t *testing.T) {
	f := newFixture()
	f.store.decisions = []domain.Decision{{
		ID:          uuid.New(),
		TriggerID:   uuid.New(),
		WorkItemID:  "item-1",
		UserID:      "alice",
		Action:      domain.ActionAutomate,
		Criticality: 82,
		Feasibility: 91,
		Reasoning:   "all checks passed",
		Guardrails:  []domain.GuardrailCheck{{Name: "ci_passing", Passed: true}},
		Status:      domain.DeliveryStatusEmitted,
		CreatedAt:   apiNow,
	}}

	rec := f.do(t, http.MethodGet, "/decisions?user_id=alice", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("status = %d, want 200", rec.Code)
	}
	if f.store.lastUser != "alice" {
		t.Errorf("user filter = %q, want alice", f.store.lastUser)
	}

	resp := decode[ListDecisionsResponse](t, rec)
	if len(resp.Decisions) != 1 {
		t.Fatalf("decisions = %d, want 1", len(resp.Decisions))
	}
	d := resp.Decisions[0]
	if d.Action != "automate" || d.Criticality != 82 || d.Feasibility != 91 {
		t.Errorf("decision = %+v", d)
	}
	if len(d.Guardrails) != 1 || !d.Guardrails[0].Passed {
		t.Errorf("guardrails = %+v", d.Guardrails)
	}
}

// TestHealth verifies the shallow and verbose probes.
func TestHealth(t *testing.T) {
	f := newFixture()

	rec := f.do(t, http.MethodGet, "/health", "")
	if rec.Code != http.StatusOK {
		t.Errorf("shallow: status = %d, want 200", rec.Code)
	}

	rec = f.do(t, http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusOK {
		t.Fatalf("verbose ok: status = %d, want 200", rec.Code)
	}
	resp := decode[HealthResponse](t, rec)
	if resp.Components["store"] != "ok" {
		t.Errorf("components = %+v", resp.Components)
	}

	f.health.err = errors.New("connection refused")
	rec = f.do(t, http.MethodGet, "/health?verbose=true", "")
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("degraded: status = %d, want 503", rec.Code)
	}
	resp = decode[HealthResponse](t, rec)
	if resp.Status != "degraded" {
		t.Errorf("status = %s, want degraded", resp.Status)
	}
}
