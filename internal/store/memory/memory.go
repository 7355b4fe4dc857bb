// Package memory is an in-process store used by tests and single-node
// deployments without PostgreSQL.
package memory

import (
	"context"
	"database/sql"
	"sort"
	"sync"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/engine"
	"github.com/avyuktsoni0731/continuum.ai/internal/notifier"
	"github.com/avyuktsoni0731/continuum.ai/internal/reconciler"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
	"github.com/avyuktsoni0731/continuum.ai/internal/webhook"
)

type eventKey struct {
	source     string
	externalID string
}

// Store keeps everything in maps behind one RWMutex. It honors the same
// guards as the PostgreSQL store: one pending trigger per (item, user)
// pair and terminal-state protection on triggers and decisions.
type Store struct {
	mu sync.RWMutex

	triggers    map[uuid.UUID]domain.ScheduledTrigger
	events      map[eventKey]domain.ChangeEvent
	snapshots   map[string]domain.WorkItem
	decisions   map[uuid.UUID]domain.Decision
	delegations []domain.DelegationRecord
	attempts    []domain.DeliveryAttempt
}

func New() *Store {
	return &Store{
		triggers:  make(map[uuid.UUID]domain.ScheduledTrigger),
		events:    make(map[eventKey]domain.ChangeEvent),
		snapshots: make(map[string]domain.WorkItem),
		decisions: make(map[uuid.UUID]domain.Decision),
	}
}

// Ping always succeeds; memory stores have no connection to lose.
func (s *Store) Ping(context.Context) error {
	return nil
}

func (s *Store) UpsertTrigger(_ context.Context, t domain.ScheduledTrigger) (domain.ScheduledTrigger, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	for id, existing := range s.triggers {
		if existing.State != domain.TriggerStatePending {
			continue
		}
		if existing.WorkItemID != t.WorkItemID || existing.UserID != t.UserID {
			continue
		}
		existing.ScheduledAt = t.ScheduledAt
		existing.Source = t.Source
		existing.ExternalEventID = t.ExternalEventID
		existing.PlannedPriority = t.PlannedPriority
		existing.PlannedLabels = t.PlannedLabels
		existing.PlannedDueAt = t.PlannedDueAt
		existing.UpdatedAt = t.CreatedAt
		s.triggers[id] = existing
		return existing, nil
	}

	t.State = domain.TriggerStatePending
	t.UpdatedAt = t.CreatedAt
	s.triggers[t.ID] = t
	return t, nil
}

func (s *Store) GetTrigger(_ context.Context, id uuid.UUID) (domain.ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	t, ok := s.triggers[id]
	if !ok {
		return domain.ScheduledTrigger{}, sql.ErrNoRows
	}
	return t, nil
}

func (s *Store) DueTriggers(_ context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var due []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if t.State == domain.TriggerStatePending && !t.ScheduledAt.After(now) {
			due = append(due, t)
		}
	}
	sort.Slice(due, func(i, j int) bool { return due[i].ScheduledAt.Before(due[j].ScheduledAt) })
	if limit > 0 && len(due) > limit {
		due = due[:limit]
	}
	return due, nil
}

func (s *Store) PendingTriggers(_ context.Context, limit int) ([]domain.ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var pending []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if t.State == domain.TriggerStatePending {
			pending = append(pending, t)
		}
	}
	sort.Slice(pending, func(i, j int) bool { return pending[i].ScheduledAt.Before(pending[j].ScheduledAt) })
	if limit > 0 && len(pending) > limit {
		pending = pending[:limit]
	}
	return pending, nil
}

func (s *Store) ListTriggers(_ context.Context, state string, limit, offset int) ([]domain.ScheduledTrigger, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.ScheduledTrigger
	for _, t := range s.triggers {
		if state == "" || string(t.State) == state {
			out = append(out, t)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ScheduledAt.After(out[j].ScheduledAt) })
	return paginate(out, limit, offset), nil
}

func (s *Store) MarkFired(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return scheduler.ErrTriggerNotPending
	}
	t.State = domain.TriggerStateFired
	t.LastEvaluatedAt = &at
	t.UpdatedAt = at
	s.triggers[id] = t
	return nil
}

func (s *Store) CancelTrigger(_ context.Context, id uuid.UUID) error {
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
	t.UpdatedAt = time.Now().UTC()
	s.triggers[id] = t
	return nil
}

func (s *Store) RescheduleTrigger(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return scheduler.ErrTriggerNotPending
	}
	t.ScheduledAt = at
	t.UpdatedAt = at
	s.triggers[id] = t
	return nil
}

func (s *Store) TouchEvaluated(_ context.Context, id uuid.UUID, at time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	t, ok := s.triggers[id]
	if !ok {
		return sql.ErrNoRows
	}
	if t.State != domain.TriggerStatePending {
		return scheduler.ErrTriggerNotPending
	}
	t.LastEvaluatedAt = &at
	t.UpdatedAt = at
	s.triggers[id] = t
	return nil
}

func (s *Store) InsertChangeEvent(_ context.Context, ev domain.ChangeEvent) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	key := eventKey{source: ev.Source, externalID: ev.ExternalID}
	if _, ok := s.events[key]; ok {
		return webhook.ErrDuplicateEvent
	}
	s.events[key] = ev
	return nil
}

func (s *Store) DeleteChangeEvent(_ context.Context, source, externalID string) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	delete(s.events, eventKey{source: source, externalID: externalID})
	return nil
}

func (s *Store) GetItemSnapshot(_ context.Context, itemID string) (domain.WorkItem, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	item, ok := s.snapshots[itemID]
	if !ok {
		return domain.WorkItem{}, sql.ErrNoRows
	}
	return item, nil
}

func (s *Store) UpsertItemSnapshot(_ context.Context, item domain.WorkItem) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.snapshots[item.ID] = item
	return nil
}

func (s *Store) InsertDecision(_ context.Context, dec domain.Decision) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.decisions[dec.ID] = dec
	return nil
}

func (s *Store) ListDecisions(_ context.Context, userID string, limit, offset int) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Decision
	for _, dec := range s.decisions {
		if userID == "" || dec.UserID == userID {
			out = append(out, dec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.After(out[j].CreatedAt) })
	return paginate(out, limit, offset), nil
}

func (s *Store) OrphanedDecisions(_ context.Context, olderThan time.Time, limit int) ([]domain.Decision, error) {
	s.mu.RLock()
	defer s.mu.RUnlock()

	var out []domain.Decision
	for _, dec := range s.decisions {
		if dec.Status == domain.DeliveryStatusEmitted && dec.CreatedAt.Before(olderThan) {
			out = append(out, dec)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].CreatedAt.Before(out[j].CreatedAt) })
	if limit > 0 && len(out) > limit {
		out = out[:limit]
	}
	return out, nil
}

func (s *Store) UpdateDecisionStatus(_ context.Context, decisionID uuid.UUID, status domain.DeliveryStatus) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	dec, ok := s.decisions[decisionID]
	if !ok {
		return sql.ErrNoRows
	}
	if dec.Status == domain.DeliveryStatusDelivered || dec.Status == domain.DeliveryStatusFailed {
		return notifier.ErrStatusTransitionDenied
	}
	dec.Status = status
	s.decisions[decisionID] = dec
	return nil
}

func (s *Store) InsertDelegationRecord(_ context.Context, rec domain.DelegationRecord) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.delegations = append(s.delegations, rec)
	return nil
}

func (s *Store) InsertDeliveryAttempt(_ context.Context, attempt domain.DeliveryAttempt) error {
	s.mu.Lock()
	defer s.mu.Unlock()

	s.attempts = append(s.attempts, attempt)
	return nil
}

// DeliveryAttempts returns recorded attempts for inspection in tests.
func (s *Store) DeliveryAttempts() []domain.DeliveryAttempt {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DeliveryAttempt, len(s.attempts))
	copy(out, s.attempts)
	return out
}

// DelegationRecords returns recorded delegations for inspection in tests.
func (s *Store) DelegationRecords() []domain.DelegationRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()

	out := make([]domain.DelegationRecord, len(s.delegations))
	copy(out, s.delegations)
	return out
}

func paginate[T any](in []T, limit, offset int) []T {
	if offset >= len(in) {
		return nil
	}
	in = in[offset:]
	if limit > 0 && len(in) > limit {
		in = in[:limit]
	}
	return in
}

// Compile-time interface assertions
var (
	_ scheduler.Store  = (*Store)(nil)
	_ webhook.Store    = (*Store)(nil)
	_ engine.Store     = (*Store)(nil)
	_ notifier.Store   = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)
