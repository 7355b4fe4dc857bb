// Package postgres persists triggers, snapshots, and decisions in
// PostgreSQL via lib/pq.
package postgres

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/lib/pq"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/engine"
	"github.com/avyuktsoni0731/continuum.ai/internal/notifier"
	"github.com/avyuktsoni0731/continuum.ai/internal/reconciler"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
	"github.com/avyuktsoni0731/continuum.ai/internal/webhook"
)

// Store implements the scheduler, webhook, engine, notifier, and
// reconciler store interfaces on PostgreSQL.
type Store struct {
	db *sql.DB
}

func New(db *sql.DB) *Store {
	return &Store{db: db}
}

// Ping verifies database connectivity.
func (s *Store) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// UpsertTrigger inserts a pending trigger or, when a pending trigger for
// the same (work_item_id, user_id) pair exists, re-plans it in place and
// returns the row with its original id.
func (s *Store) UpsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (domain.ScheduledTrigger, error) {
	row := s.db.QueryRowContext(ctx, queryUpsertTrigger,
		t.ID,
		t.WorkItemID,
		t.UserID,
		t.ScheduledAt,
		t.Source,
		t.ExternalEventID,
		string(t.PlannedPriority),
		pq.Array(t.PlannedLabels),
		t.PlannedDueAt,
		t.CreatedAt,
	)
	return scanTrigger(row)
}

func (s *Store) GetTrigger(ctx context.Context, id uuid.UUID) (domain.ScheduledTrigger, error) {
	return scanTrigger(s.db.QueryRowContext(ctx, queryGetTrigger, id))
}

func (s *Store) DueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error) {
	return s.queryTriggers(ctx, queryDueTriggers, now, limit)
}

func (s *Store) PendingTriggers(ctx context.Context, limit int) ([]domain.ScheduledTrigger, error) {
	return s.queryTriggers(ctx, queryPendingTriggers, limit)
}

// ListTriggers returns triggers filtered by state (empty = all), newest
// first.
func (s *Store) ListTriggers(ctx context.Context, state string, limit, offset int) ([]domain.ScheduledTrigger, error) {
	return s.queryTriggers(ctx, queryListTriggers, state, limit, offset)
}

// MarkFired transitions pending -> fired. The guard lives in the WHERE
// clause so concurrent firings serialize on the row lock.
func (s *Store) MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedTriggerUpdate(ctx, queryMarkFired, id, at)
}

// CancelTrigger transitions pending -> cancelled. Cancelling an already
// terminal trigger is a no-op.
func (s *Store) CancelTrigger(ctx context.Context, id uuid.UUID) error {
	result, err := s.db.ExecContext(ctx, queryCancelTrigger, id)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var state string
		if err := s.db.QueryRowContext(ctx, queryGetTriggerState, id).Scan(&state); err != nil {
			return err
		}
		// Row exists but was not updated: already terminal.
	}
	return nil
}

// RescheduleTrigger moves a pending trigger to a new scheduled time.
func (s *Store) RescheduleTrigger(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedTriggerUpdate(ctx, queryRescheduleTrigger, id, at)
}

func (s *Store) TouchEvaluated(ctx context.Context, id uuid.UUID, at time.Time) error {
	return s.guardedTriggerUpdate(ctx, queryTouchEvaluated, id, at)
}

// guardedTriggerUpdate runs an update restricted to pending triggers and
// maps a zero-row result to ErrTriggerNotPending or sql.ErrNoRows.
func (s *Store) guardedTriggerUpdate(ctx context.Context, query string, id uuid.UUID, at time.Time) error {
	result, err := s.db.ExecContext(ctx, query, id, at)
	if err != nil {
		return err
	}
	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}
	if affected == 0 {
		var state string
		err := s.db.QueryRowContext(ctx, queryGetTriggerState, id).Scan(&state)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return scheduler.ErrTriggerNotPending
	}
	return nil
}

func (s *Store) queryTriggers(ctx context.Context, query string, args ...any) ([]domain.ScheduledTrigger, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.ScheduledTrigger
	for rows.Next() {
		t, err := scanTrigger(rows)
		if err != nil {
			return nil, err
		}
		result = append(result, t)
	}
	return result, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanTrigger(row rowScanner) (domain.ScheduledTrigger, error) {
	var t domain.ScheduledTrigger
	var state, priority string
	var labels pq.StringArray
	err := row.Scan(
		&t.ID,
		&t.WorkItemID,
		&t.UserID,
		&t.ScheduledAt,
		&state,
		&t.Source,
		&t.ExternalEventID,
		&priority,
		&labels,
		&t.PlannedDueAt,
		&t.LastEvaluatedAt,
		&t.CreatedAt,
		&t.UpdatedAt,
	)
	if err != nil {
		return domain.ScheduledTrigger{}, err
	}
	t.State = domain.TriggerState(state)
	t.PlannedPriority = domain.Priority(priority)
	t.PlannedLabels = labels
	return t, nil
}

// InsertChangeEvent records the webhook de-dup key. Returns
// webhook.ErrDuplicateEvent when (source, external_id) was seen before.
func (s *Store) InsertChangeEvent(ctx context.Context, ev domain.ChangeEvent) error {
	_, err := s.db.ExecContext(ctx, queryInsertChangeEvent,
		ev.Source,
		ev.ExternalID,
		string(ev.Kind),
		ev.WorkItemID,
		ev.UserID,
		ev.ReceivedAt,
	)
	if err != nil {
		if isDuplicateKeyError(err) {
			return webhook.ErrDuplicateEvent
		}
		return err
	}
	return nil
}

// DeleteChangeEvent releases a de-dup key so a failed event can be retried.
func (s *Store) DeleteChangeEvent(ctx context.Context, source, externalID string) error {
	_, err := s.db.ExecContext(ctx, queryDeleteChangeEvent, source, externalID)
	return err
}

func (s *Store) GetItemSnapshot(ctx context.Context, itemID string) (domain.WorkItem, error) {
	var item domain.WorkItem
	var kind, ciState string
	var labels, filePaths pq.StringArray
	err := s.db.QueryRowContext(ctx, queryGetItemSnapshot, itemID).Scan(
		&item.ID,
		&kind,
		&item.Title,
		&item.Priority,
		&item.DueAt,
		&item.CreatedAt,
		&item.Size,
		&labels,
		&item.Status,
		&item.Component,
		&filePaths,
		&ciState,
		&item.Approvals,
		&item.Blocked,
		&item.Mergeable,
	)
	if err != nil {
		return domain.WorkItem{}, err
	}
	item.Kind = domain.WorkItemKind(kind)
	item.CIState = domain.CIState(ciState)
	item.Labels = labels
	item.FilePaths = filePaths
	return item, nil
}

func (s *Store) UpsertItemSnapshot(ctx context.Context, item domain.WorkItem) error {
	_, err := s.db.ExecContext(ctx, queryUpsertItemSnapshot,
		item.ID,
		string(item.Kind),
		item.Title,
		string(item.Priority),
		item.DueAt,
		item.CreatedAt,
		item.Size,
		pq.Array(item.Labels),
		item.Status,
		item.Component,
		pq.Array(item.FilePaths),
		string(item.CIState),
		item.Approvals,
		item.Blocked,
		item.Mergeable,
	)
	return err
}

func (s *Store) InsertDecision(ctx context.Context, dec domain.Decision) error {
	factors, err := json.Marshal(dec.Factors)
	if err != nil {
		return fmt.Errorf("marshal factors: %w", err)
	}
	guardrails, err := json.Marshal(dec.Guardrails)
	if err != nil {
		return fmt.Errorf("marshal guardrails: %w", err)
	}

	_, err = s.db.ExecContext(ctx, queryInsertDecision,
		dec.ID,
		dec.TriggerID,
		dec.WorkItemID,
		dec.UserID,
		string(dec.Action),
		dec.Criticality,
		dec.Feasibility,
		dec.Reasoning,
		factors,
		guardrails,
		dec.DelegateID,
		string(dec.Status),
		dec.CreatedAt,
	)
	return err
}

// ListDecisions returns decisions filtered by user (empty = all), newest
// first.
func (s *Store) ListDecisions(ctx context.Context, userID string, limit, offset int) ([]domain.Decision, error) {
	return s.queryDecisions(ctx, queryListDecisions, userID, limit, offset)
}

// OrphanedDecisions returns decisions stuck in 'emitted' older than the
// cutoff, oldest first.
func (s *Store) OrphanedDecisions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Decision, error) {
	return s.queryDecisions(ctx, queryOrphanedDecisions, olderThan, limit)
}

func (s *Store) queryDecisions(ctx context.Context, query string, args ...any) ([]domain.Decision, error) {
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var result []domain.Decision
	for rows.Next() {
		var dec domain.Decision
		var action, status string
		var factors, guardrails []byte

		err := rows.Scan(
			&dec.ID,
			&dec.TriggerID,
			&dec.WorkItemID,
			&dec.UserID,
			&action,
			&dec.Criticality,
			&dec.Feasibility,
			&dec.Reasoning,
			&factors,
			&guardrails,
			&dec.DelegateID,
			&status,
			&dec.CreatedAt,
		)
		if err != nil {
			return nil, err
		}
		dec.Action = domain.Action(action)
		dec.Status = domain.DeliveryStatus(status)
		if err := json.Unmarshal(factors, &dec.Factors); err != nil {
			return nil, fmt.Errorf("unmarshal factors: %w", err)
		}
		if len(guardrails) > 0 {
			if err := json.Unmarshal(guardrails, &dec.Guardrails); err != nil {
				return nil, fmt.Errorf("unmarshal guardrails: %w", err)
			}
		}
		result = append(result, dec)
	}
	return result, rows.Err()
}

// UpdateDecisionStatus sets the delivery status atomically. The terminal
// guard sits in the WHERE clause to avoid TOCTOU races.
func (s *Store) UpdateDecisionStatus(ctx context.Context, decisionID uuid.UUID, status domain.DeliveryStatus) error {
	result, err := s.db.ExecContext(ctx, queryUpdateDecisionStatus, string(status), decisionID)
	if err != nil {
		return err
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return err
	}

	if affected == 0 {
		var current string
		err := s.db.QueryRowContext(ctx, queryGetDecisionStatus, decisionID).Scan(&current)
		if err == sql.ErrNoRows {
			return sql.ErrNoRows
		}
		if err != nil {
			return err
		}
		return notifier.ErrStatusTransitionDenied
	}

	return nil
}

func (s *Store) InsertDelegationRecord(ctx context.Context, rec domain.DelegationRecord) error {
	_, err := s.db.ExecContext(ctx, queryInsertDelegationRecord,
		rec.ID,
		rec.WorkItemID,
		rec.TeammateID,
		rec.Ownership,
		rec.Workload,
		rec.Availability,
		rec.Total,
		rec.Reasoning,
		rec.CreatedAt,
	)
	return err
}

func (s *Store) InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error {
	_, err := s.db.ExecContext(ctx, queryInsertDeliveryAttempt,
		attempt.ID,
		attempt.DecisionID,
		attempt.Attempt,
		attempt.StatusCode,
		attempt.Error,
		attempt.StartedAt,
		attempt.FinishedAt,
	)
	return err
}

// isDuplicateKeyError reports a PostgreSQL unique violation (code 23505).
func isDuplicateKeyError(err error) bool {
	if err == nil {
		return false
	}
	if pqErr, ok := err.(*pq.Error); ok {
		return pqErr.Code == "23505"
	}
	msg := err.Error()
	return strings.Contains(msg, "23505") || strings.Contains(msg, "duplicate key") || strings.Contains(msg, "unique constraint")
}

// Compile-time interface assertions
var (
	_ scheduler.Store  = (*Store)(nil)
	_ webhook.Store    = (*Store)(nil)
	_ engine.Store     = (*Store)(nil)
	_ notifier.Store   = (*Store)(nil)
	_ reconciler.Store = (*Store)(nil)
)
