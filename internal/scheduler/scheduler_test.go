package scheduler

import (
	"context"
	"database/sql"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/testutil"
)

var schedNow = time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)

// mockStore keeps triggers in a map and enforces the pending-pair upsert
// and terminal-state guards the way the real backends do.
type mockStore struct {
	mu       sync.Mutex
	triggers map[uuid.UUID]domain.ScheduledTrigger

	markFiredErrs int // fail this many MarkFired calls before succeeding
}

func newMockStore() *mockStore {
	return &mockStore{triggers: make(map[uuid.UUID]domain.ScheduledTrigger)}
}

func (s *mockStore) UpsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for id, existing := range s.triggers {
		if existing.State == domain.TriggerStatePending &&
			existing.WorkItemID == t.WorkItemID && existing.UserID == t.UserID {
			t.ID = id
			t.CreatedAt = existing.CreatedAt
			s.triggers[id] = t
			return t, nil
		}
	}
	s.triggers[t.ID] = t
	return t, nil
}

func (s *mockStore) GetTrigger(ctx context.Context, id uuid.UUID) (domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return domain.ScheduledTrigger{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *mockStore) DueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var due []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if t.State == domain.TriggerStatePending && !t.ScheduledAt.After(now) {
			due = append(due, t)
		}
		if len(due) == limit {
			break
		}
	}
	return due, nil
}

func (s *mockStore) PendingTriggers(ctx context.Context, limit int) ([]domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var pending []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if t.State == domain.TriggerStatePending {
			pending = append(pending, t)
		}
		if len(pending) == limit {
			break
		}
	}
	return pending, nil
}

func (s *mockStore) MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.markFiredErrs > 0 {
		s.markFiredErrs--
		return errors.New("store unavailable")
	}
	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return ErrTriggerNotPending
	}
	t.State = domain.TriggerStateFired
	t.LastEvaluatedAt = &at
	s.triggers[id] = t
	return nil
}

func (s *mockStore) CancelTrigger(ctx context.Context, id uuid.UUID) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return nil
	}
	t.State = domain.TriggerStateCancelled
	s.triggers[id] = t
	return nil
}

func (s *mockStore) TouchEvaluated(ctx context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return ErrTriggerNotPending
	}
	t.LastEvaluatedAt = &at
	s.triggers[id] = t
	return nil
}

func (s *mockStore) state(id uuid.UUID) domain.TriggerState {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.triggers[id].State
}

// mockEvaluator counts evaluations; reschedule moves the trigger and reports
// Rescheduled once.
type mockEvaluator struct {
	mu         sync.Mutex
	store      *mockStore
	evaluated  []uuid.UUID
	reschedule map[uuid.UUID]time.Time
	err        error
}

func newMockEvaluator(store *mockStore) *mockEvaluator {
	return &mockEvaluator{store: store, reschedule: make(map[uuid.UUID]time.Time)}
}

func (e *mockEvaluator) Evaluate(ctx context.Context, trigger domain.ScheduledTrigger) (EvalResult, error) {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.err != nil {
		return EvalResult{}, e.err
	}
	e.evaluated = append(e.evaluated, trigger.ID)

	if at, ok := e.reschedule[trigger.ID]; ok {
		delete(e.reschedule, trigger.ID)
		e.store.mu.Lock()
		t := e.store.triggers[trigger.ID]
		t.ScheduledAt = at
		e.store.triggers[trigger.ID] = t
		e.store.mu.Unlock()
		return EvalResult{Rescheduled: true}, nil
	}
	return EvalResult{}, nil
}

func (e *mockEvaluator) count() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return len(e.evaluated)
}

func newScheduler(store *mockStore, eval Evaluator, clock *testutil.FakeClock) *Scheduler {
	return New(DefaultConfig(), store, eval).WithClock(clock.Now)
}

// TestSchedule_UpsertKeepsOnePendingPerPair verifies scheduling the same
// (item, user) pair twice updates the existing trigger in place.
func TestSchedule_UpsertKeepsOnePendingPerPair(t *testing.T) {
	store := newMockStore()
	clock := testutil.NewFakeClock(schedNow)
	sched := newScheduler(store, newMockEvaluator(store), clock)
	ctx := context.Background()

	first, err := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(time.Hour), Source: "api",
	})
	if err != nil {
		t.Fatalf("first schedule: %v", err)
	}

	second, err := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(2 * time.Hour), Source: "api",
	})
	if err != nil {
		t.Fatalf("second schedule: %v", err)
	}

	if second.ID != first.ID {
		t.Errorf("upsert created a new trigger: %s vs %s", second.ID, first.ID)
	}
	if !second.ScheduledAt.Equal(schedNow.Add(2 * time.Hour)) {
		t.Errorf("scheduled_at = %s, want updated time", second.ScheduledAt)
	}
	if len(store.triggers) != 1 {
		t.Errorf("trigger count = %d, want 1", len(store.triggers))
	}
}

// TestSchedule_RequiresIdentifiers verifies missing pair identifiers are
// rejected before touching the store.
func TestSchedule_RequiresIdentifiers(t *testing.T) {
	store := newMockStore()
	sched := newScheduler(store, newMockEvaluator(store), testutil.NewFakeClock(schedNow))

	if _, err := sched.Schedule(context.Background(), ScheduleRequest{UserID: "alice"}); err == nil {
		t.Error("empty work item id accepted")
	}
	if _, err := sched.Schedule(context.Background(), ScheduleRequest{WorkItemID: "item-1"}); err == nil {
		t.Error("empty user id accepted")
	}
}

// TestTick_FiresDueOnce verifies a due trigger is evaluated and transitioned
// to fired, and a repeated tick does not evaluate it again.
func TestTick_FiresDueOnce(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	clock := testutil.NewFakeClock(schedNow)
	sched := newScheduler(store, eval, clock)
	ctx := context.Background()

	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(-time.Minute), Source: "api",
	})

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if eval.count() != 1 {
		t.Fatalf("evaluations = %d, want 1", eval.count())
	}
	if got := store.state(trigger.ID); got != domain.TriggerStateFired {
		t.Fatalf("state = %s, want fired", got)
	}

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if eval.count() != 1 {
		t.Errorf("evaluations after second tick = %d, want 1", eval.count())
	}
}

// TestTick_SkipsNotDue verifies future triggers are untouched by the tick.
func TestTick_SkipsNotDue(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	sched := newScheduler(store, eval, testutil.NewFakeClock(schedNow))
	ctx := context.Background()

	sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(time.Hour), Source: "api",
	})

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if eval.count() != 0 {
		t.Errorf("evaluations = %d, want 0", eval.count())
	}
}

// TestTick_EvaluatorErrorKeepsPending verifies a failed evaluation leaves
// the trigger pending for the next tick.
func TestTick_EvaluatorErrorKeepsPending(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	eval.err = errors.New("pipeline down")
	sched := newScheduler(store, eval, testutil.NewFakeClock(schedNow))
	ctx := context.Background()

	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(-time.Minute), Source: "api",
	})

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := store.state(trigger.ID); got != domain.TriggerStatePending {
		t.Errorf("state = %s, want pending", got)
	}

	// Next tick retries once the evaluator recovers.
	eval.err = nil
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("recovery tick: %v", err)
	}
	if got := store.state(trigger.ID); got != domain.TriggerStateFired {
		t.Errorf("state after recovery = %s, want fired", got)
	}
}

// TestTick_RescheduledStaysPending verifies a firing that the pipeline
// re-plans keeps the trigger pending at its new time instead of marking it
// fired.
func TestTick_RescheduledStaysPending(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	clock := testutil.NewFakeClock(schedNow)
	sched := newScheduler(store, eval, clock)
	ctx := context.Background()

	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(-time.Minute), Source: "api",
	})
	newTime := schedNow.Add(3 * time.Hour)
	eval.reschedule[trigger.ID] = newTime

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := store.state(trigger.ID); got != domain.TriggerStatePending {
		t.Fatalf("state = %s, want pending", got)
	}

	// Not due again until the clock reaches the new window.
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("second tick: %v", err)
	}
	if eval.count() != 1 {
		t.Fatalf("evaluations = %d, want 1", eval.count())
	}

	clock.Set(newTime.Add(time.Minute))
	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("third tick: %v", err)
	}
	if eval.count() != 2 {
		t.Errorf("evaluations = %d, want 2", eval.count())
	}
	if got := store.state(trigger.ID); got != domain.TriggerStateFired {
		t.Errorf("final state = %s, want fired", got)
	}
}

// TestTick_MarkFiredRetries verifies the fired transition is retried with
// backoff and eventually lands.
func TestTick_MarkFiredRetries(t *testing.T) {
	store := newMockStore()
	store.markFiredErrs = 2
	eval := newMockEvaluator(store)
	clock := testutil.NewFakeClock(schedNow)

	cfg := DefaultConfig()
	cfg.MarkFiredBackoff = []time.Duration{0, time.Millisecond, time.Millisecond}
	sched := New(cfg, store, eval).WithClock(clock.Now)
	ctx := context.Background()

	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(-time.Minute), Source: "api",
	})

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if got := store.state(trigger.ID); got != domain.TriggerStateFired {
		t.Errorf("state = %s, want fired after retries", got)
	}
}

// TestCancel_TerminalIsNoOp verifies cancelling is idempotent across
// states.
func TestCancel_TerminalIsNoOp(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	sched := newScheduler(store, eval, testutil.NewFakeClock(schedNow))
	ctx := context.Background()

	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(time.Hour), Source: "api",
	})

	if err := sched.Cancel(ctx, trigger.ID); err != nil {
		t.Fatalf("cancel: %v", err)
	}
	if got := store.state(trigger.ID); got != domain.TriggerStateCancelled {
		t.Fatalf("state = %s, want cancelled", got)
	}
	if err := sched.Cancel(ctx, trigger.ID); err != nil {
		t.Errorf("second cancel: %v, want no-op", err)
	}

	if err := sched.Cancel(ctx, uuid.New()); !errors.Is(err, sql.ErrNoRows) {
		t.Errorf("unknown trigger cancel error = %v, want sql.ErrNoRows", err)
	}
}

// TestTick_SweepEvaluatesPendingNotDue verifies the sweep re-evaluates
// future pending triggers without firing them, and stamps the evaluation
// time.
func TestTick_SweepEvaluatesPendingNotDue(t *testing.T) {
	store := newMockStore()
	eval := newMockEvaluator(store)
	clock := testutil.NewFakeClock(schedNow)

	sweepAt := schedNow.Add(-time.Minute) // already due: sweeps on the first tick
	sched := newScheduler(store, eval, clock).WithSweep(fixedSweep{at: sweepAt})

	ctx := context.Background()
	trigger, _ := sched.Schedule(ctx, ScheduleRequest{
		WorkItemID: "item-1", UserID: "alice", At: schedNow.Add(2 * time.Hour), Source: "api",
	})

	if err := sched.Tick(ctx); err != nil {
		t.Fatalf("tick: %v", err)
	}
	if eval.count() != 1 {
		t.Fatalf("evaluations = %d, want 1", eval.count())
	}

	got, _ := store.GetTrigger(ctx, trigger.ID)
	if got.State != domain.TriggerStatePending {
		t.Errorf("state = %s, want pending", got.State)
	}
	if got.LastEvaluatedAt == nil {
		t.Error("last_evaluated_at not stamped by sweep")
	}
}

// fixedSweep is due at a single instant and then far in the future.
type fixedSweep struct {
	at time.Time
}

func (s fixedSweep) Next(after time.Time) time.Time {
	if s.at.After(after) {
		return s.at
	}
	return after.Add(24 * time.Hour)
}
