package notifier

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/circuitbreaker"
	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/roster"
)

// mockDeliveryStore records attempts and enforces the terminal status
// guard.
type mockDeliveryStore struct {
	mu       sync.Mutex
	attempts []domain.DeliveryAttempt
	statuses map[uuid.UUID]domain.DeliveryStatus
}

func newDeliveryStore() *mockDeliveryStore {
	return &mockDeliveryStore{statuses: make(map[uuid.UUID]domain.DeliveryStatus)}
}

func (s *mockDeliveryStore) InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.attempts = append(s.attempts, attempt)
	return nil
}

func (s *mockDeliveryStore) UpdateDecisionStatus(ctx context.Context, decisionID uuid.UUID, status domain.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.statuses[decisionID]; ok &&
		(cur == domain.DeliveryStatusDelivered || cur == domain.DeliveryStatusFailed) {
		return ErrStatusTransitionDenied
	}
	s.statuses[decisionID] = status
	return nil
}

func (s *mockDeliveryStore) status(id uuid.UUID) domain.DeliveryStatus {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.statuses[id]
}

func (s *mockDeliveryStore) attemptCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.attempts)
}

// scriptedSender returns canned results per attempt, repeating the last.
type scriptedSender struct {
	mu       sync.Mutex
	script   []Result
	requests []Request
}

func (s *scriptedSender) Send(ctx context.Context, req Request) Result {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.requests = append(s.requests, req)
	idx := len(s.requests) - 1
	if idx >= len(s.script) {
		idx = len(s.script) - 1
	}
	return s.script[idx]
}

func (s *scriptedSender) sendCount() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.requests)
}

func event() domain.DecisionEvent {
	dec := domain.Decision{
		ID:          uuid.New(),
		TriggerID:   uuid.New(),
		WorkItemID:  "item-1",
		UserID:      "alice",
		Action:      domain.ActionNotify,
		Criticality: 55,
		Feasibility: 20,
		Reasoning:   "Notify user",
		Status:      domain.DeliveryStatusEmitted,
		CreatedAt:   time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC),
	}
	return domain.DecisionEvent{DecisionID: dec.ID, Decision: dec, EmittedAt: dec.CreatedAt}
}

func newNotifier(store *mockDeliveryStore, sender Sender) *Notifier {
	n := New(store, sender, roster.NewMemory(), Endpoint{URL: "https://hooks.example.com/decisions", Secret: "s3cret"})
	n.backoff = []time.Duration{0, time.Millisecond, time.Millisecond, time.Millisecond}
	return n
}

// TestDeliver_SuccessFirstAttempt verifies a 2xx marks the decision
// delivered with a single recorded attempt.
func TestDeliver_SuccessFirstAttempt(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 200}}}
	n := newNotifier(store, sender)

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusDelivered {
		t.Errorf("status = %s, want delivered", got)
	}
	if store.attemptCount() != 1 {
		t.Errorf("attempts = %d, want 1", store.attemptCount())
	}
}

// TestDeliver_RetriesThenSucceeds verifies 5xx responses are retried and a
// later success still lands as delivered.
func TestDeliver_RetriesThenSucceeds(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{
		{StatusCode: 503},
		{Error: errors.New("connection refused")},
		{StatusCode: 200},
	}}
	n := newNotifier(store, sender)

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusDelivered {
		t.Errorf("status = %s, want delivered", got)
	}
	if store.attemptCount() != 3 {
		t.Errorf("attempts = %d, want 3", store.attemptCount())
	}
}

// TestDeliver_ExhaustsAttempts verifies persistent failures stop at the
// attempt cap and mark the decision failed.
func TestDeliver_ExhaustsAttempts(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 500}}}
	n := newNotifier(store, sender)

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sender.sendCount() != maxAttempts {
		t.Errorf("sends = %d, want %d", sender.sendCount(), maxAttempts)
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

// TestDeliver_NonRetryableStops verifies a 4xx (other than 429) fails
// immediately without further attempts.
func TestDeliver_NonRetryableStops(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 404}}}
	n := newNotifier(store, sender)

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sender.sendCount() != 1 {
		t.Errorf("sends = %d, want 1", sender.sendCount())
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

// TestDeliver_TooManyRequestsRetries verifies 429 counts as retryable.
func TestDeliver_TooManyRequestsRetries(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 429}, {StatusCode: 204}}}
	n := newNotifier(store, sender)

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusDelivered {
		t.Errorf("status = %s, want delivered", got)
	}
}

// TestDeliver_TerminalReplayIsNoOp verifies re-delivering an
// already-terminal decision (a reconciler replay) does not regress its
// status or error out.
func TestDeliver_TerminalReplayIsNoOp(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 200}}}
	n := newNotifier(store, sender)

	ev := event()
	store.statuses[ev.DecisionID] = domain.DeliveryStatusDelivered

	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("replay deliver: %v", err)
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusDelivered {
		t.Errorf("status = %s, want delivered (unchanged)", got)
	}
}

// TestDeliver_PersonalEndpointPreferred verifies a user's notify URL wins
// over the fallback while keeping the shared secret.
func TestDeliver_PersonalEndpointPreferred(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 200}}}

	repo := roster.NewMemory()
	repo.PutUser(domain.UserProfile{ID: "alice", NotifyURL: "https://alice.example.com/hook"})
	n := New(store, sender, repo, Endpoint{URL: "https://hooks.example.com/decisions", Secret: "s3cret"})
	n.backoff = []time.Duration{0}

	if err := n.Deliver(context.Background(), event()); err != nil {
		t.Fatalf("deliver: %v", err)
	}

	req := sender.requests[0]
	if req.Endpoint.URL != "https://alice.example.com/hook" {
		t.Errorf("url = %s, want personal endpoint", req.Endpoint.URL)
	}
	if req.Endpoint.Secret != "s3cret" {
		t.Errorf("secret = %q, want fallback secret", req.Endpoint.Secret)
	}
}

// TestDeliver_NoEndpointFails verifies a user with no endpoint anywhere is
// marked failed without any send.
func TestDeliver_NoEndpointFails(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 200}}}
	n := New(store, sender, roster.NewMemory(), Endpoint{})

	ev := event()
	if err := n.Deliver(context.Background(), ev); err != nil {
		t.Fatalf("deliver: %v", err)
	}
	if sender.sendCount() != 0 {
		t.Errorf("sends = %d, want 0", sender.sendCount())
	}
	if got := store.status(ev.DecisionID); got != domain.DeliveryStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

// TestDeliver_CircuitOpenShortCircuits verifies an open breaker fails the
// delivery without sending.
func TestDeliver_CircuitOpenShortCircuits(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 500}}}

	breaker := circuitbreaker.New(2, time.Hour)
	n := newNotifier(store, sender).WithBreaker(breaker)

	// Two failing deliveries trip the breaker for this endpoint.
	first := event()
	if err := n.Deliver(context.Background(), first); err != nil {
		t.Fatalf("tripping deliver: %v", err)
	}
	sendsBefore := sender.sendCount()

	second := event()
	if err := n.Deliver(context.Background(), second); err != nil {
		t.Fatalf("short-circuit deliver: %v", err)
	}
	if sender.sendCount() != sendsBefore {
		t.Errorf("sends = %d, want %d (no send through open circuit)", sender.sendCount(), sendsBefore)
	}
	if got := store.status(second.DecisionID); got != domain.DeliveryStatusFailed {
		t.Errorf("status = %s, want failed", got)
	}
}

// TestRun_DrainsBufferedOnCancel verifies buffered events are still
// delivered after the context is cancelled.
func TestRun_DrainsBufferedOnCancel(t *testing.T) {
	store := newDeliveryStore()
	sender := &scriptedSender{script: []Result{{StatusCode: 200}}}
	n := newNotifier(store, sender)

	ch := make(chan domain.DecisionEvent, 2)
	ch <- event()
	ch <- event()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	done := make(chan struct{})
	go func() {
		n.Run(ctx, ch)
		close(done)
	}()

	select {
	case <-done:
	case <-time.After(5 * time.Second):
		t.Fatal("run did not return")
	}
	if sender.sendCount() != 2 {
		t.Errorf("sends = %d, want 2 (buffered events drained)", sender.sendCount())
	}
}

// TestClassifyStatus covers the bounded metric classes.
func TestClassifyStatus(t *testing.T) {
	cases := []struct {
		status int
		err    error
		want   string
	}{
		{200, nil, "2xx"},
		{404, nil, "4xx"},
		{503, nil, "5xx"},
		{0, errors.New("context deadline exceeded"), "timeout"},
		{0, errors.New("dial tcp: connection refused"), "connection_error"},
		{0, errors.New("tls: bad certificate"), "other_error"},
		{0, nil, "other_error"},
	}
	for _, tc := range cases {
		if got := classifyStatus(tc.status, tc.err); got != tc.want {
			t.Errorf("classifyStatus(%d, %v) = %s, want %s", tc.status, tc.err, got, tc.want)
		}
	}
}
