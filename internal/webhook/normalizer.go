// Package webhook normalizes inbound external change events into trigger
// mutations, idempotently keyed by (source, external event id).
package webhook

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
)

// ErrDuplicateEvent is returned by stores when a change event with the same
// (source, external id) was already recorded.
var ErrDuplicateEvent = errors.New("event already processed")

// ErrMalformedPayload wraps every payload rejection so the boundary can map
// it to a 4xx without inspecting details.
var ErrMalformedPayload = errors.New("malformed payload")

// Store is the persistence the normalizer requires.
type Store interface {
	// InsertChangeEvent durably records the de-dup key. Must return
	// ErrDuplicateEvent on replay.
	InsertChangeEvent(ctx context.Context, ev domain.ChangeEvent) error
	// DeleteChangeEvent releases a de-dup key whose processing failed, so
	// the sender's retry is not rejected as a duplicate.
	DeleteChangeEvent(ctx context.Context, source, externalID string) error
	GetItemSnapshot(ctx context.Context, itemID string) (domain.WorkItem, error)
	UpsertItemSnapshot(ctx context.Context, item domain.WorkItem) error
}

// TriggerScheduler upserts triggers; satisfied by *scheduler.Scheduler.
type TriggerScheduler interface {
	Schedule(ctx context.Context, req scheduler.ScheduleRequest) (domain.ScheduledTrigger, error)
}

// payload is the inbound JSON shape shared by all sources.
type payload struct {
	EventID    string     `json:"event_id"`
	Kind       string     `json:"kind"`
	WorkItemID string     `json:"work_item_id"`
	UserID     string     `json:"user_id"`
	ItemKind   string     `json:"item_kind,omitempty"`
	Priority   *string    `json:"priority,omitempty"`
	Labels     []string   `json:"labels,omitempty"`
	CIState    *string    `json:"ci_state,omitempty"`
	Approvals  *int       `json:"approvals,omitempty"`
	DueAt      *time.Time `json:"due_at,omitempty"`
}

// Parse validates a raw webhook body into a normalized change event.
// Every rejection wraps ErrMalformedPayload.
func Parse(source string, body []byte, now time.Time) (domain.ChangeEvent, error) {
	if source == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: source is required", ErrMalformedPayload)
	}

	var p payload
	if err := json.Unmarshal(body, &p); err != nil {
		return domain.ChangeEvent{}, fmt.Errorf("%w: invalid json: %v", ErrMalformedPayload, err)
	}
	if p.EventID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: event_id is required", ErrMalformedPayload)
	}
	if p.WorkItemID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: work_item_id is required", ErrMalformedPayload)
	}
	if p.UserID == "" {
		return domain.ChangeEvent{}, fmt.Errorf("%w: user_id is required", ErrMalformedPayload)
	}

	kind := domain.ChangeEventKind(p.Kind)
	if !domain.KnownEventKind(kind) {
		return domain.ChangeEvent{}, fmt.Errorf("%w: unknown event kind %q", ErrMalformedPayload, p.Kind)
	}

	ev := domain.ChangeEvent{
		Source:     source,
		ExternalID: p.EventID,
		Kind:       kind,
		WorkItemID: p.WorkItemID,
		UserID:     p.UserID,
		Labels:     p.Labels,
		Approvals:  p.Approvals,
		DueAt:      p.DueAt,
		ReceivedAt: now.UTC(),
	}

	if p.Priority != nil {
		prio := domain.Priority(*p.Priority)
		if prio.Rank() == 0 {
			return domain.ChangeEvent{}, fmt.Errorf("%w: unknown priority %q", ErrMalformedPayload, *p.Priority)
		}
		ev.Priority = &prio
	}
	if p.CIState != nil {
		ci := domain.CIState(*p.CIState)
		if ci != domain.CIPassing && ci != domain.CIFailing && ci != domain.CIUnknown {
			return domain.ChangeEvent{}, fmt.Errorf("%w: unknown ci_state %q", ErrMalformedPayload, *p.CIState)
		}
		ev.CIState = &ci
	}

	return ev, nil
}

// Result reports what processing an event did.
type Result struct {
	// Duplicate is true when the event id was seen before and nothing
	// changed: replays converge to the state of the first delivery.
	Duplicate bool
	// TriggerID is set when the event created or re-planned a trigger.
	TriggerID uuid.UUID
	// SnapshotUpdated is true when the referenced item's cached fields
	// were changed.
	SnapshotUpdated bool
}

// Normalizer converts normalized change events into trigger mutations.
type Normalizer struct {
	store     Store
	scheduler TriggerScheduler
	clock     func() time.Time
}

func NewNormalizer(store Store, sched TriggerScheduler) *Normalizer {
	return &Normalizer{store: store, scheduler: sched, clock: time.Now}
}

// WithClock overrides the time source, for deterministic tests.
func (n *Normalizer) WithClock(clock func() time.Time) *Normalizer {
	n.clock = clock
	return n
}

// Process applies one change event. Re-processing the same (source,
// external id) yields the same resulting state, never a duplicate trigger.
func (n *Normalizer) Process(ctx context.Context, ev domain.ChangeEvent) (Result, error) {
	if err := n.store.InsertChangeEvent(ctx, ev); err != nil {
		if errors.Is(err, ErrDuplicateEvent) {
			return Result{Duplicate: true}, nil
		}
		return Result{}, fmt.Errorf("record event: %w", err)
	}

	res, err := n.apply(ctx, ev)
	if err != nil {
		// The de-dup key must not outlive a failed delivery, or the
		// sender's retry would be swallowed as a duplicate with no
		// trigger ever created.
		n.releaseEvent(ctx, ev)
		return Result{}, err
	}
	return res, nil
}

func (n *Normalizer) releaseEvent(ctx context.Context, ev domain.ChangeEvent) {
	if err := n.store.DeleteChangeEvent(ctx, ev.Source, ev.ExternalID); err != nil {
		log.Printf("webhook: release event %s/%s: %v", ev.Source, ev.ExternalID, err)
	}
}

func (n *Normalizer) apply(ctx context.Context, ev domain.ChangeEvent) (Result, error) {
	item, updated, err := n.mergeSnapshot(ctx, ev)
	if err != nil {
		return Result{}, err
	}

	switch ev.Kind {
	case domain.EventItemUpdated, domain.EventReviewLabeled:
		// Attribute updates only touch the referenced item; an existing
		// pending trigger picks the new fields up when it fires.
		return Result{SnapshotUpdated: updated}, nil
	default:
		// Everything else warrants an immediate evaluation.
		trigger, err := n.scheduler.Schedule(ctx, scheduler.ScheduleRequest{
			WorkItemID:      ev.WorkItemID,
			UserID:          ev.UserID,
			At:              n.clock().UTC(),
			Source:          "webhook:" + ev.Source,
			ExternalEventID: ev.ExternalID,
			PlannedPriority: item.Priority,
			PlannedLabels:   item.Labels,
			PlannedDueAt:    item.DueAt,
		})
		if err != nil {
			return Result{}, fmt.Errorf("schedule trigger: %w", err)
		}
		return Result{TriggerID: trigger.ID, SnapshotUpdated: updated}, nil
	}
}

// mergeSnapshot folds the event's changed attributes into the cached item
// snapshot, creating a minimal snapshot when none exists yet.
func (n *Normalizer) mergeSnapshot(ctx context.Context, ev domain.ChangeEvent) (domain.WorkItem, bool, error) {
	item, err := n.store.GetItemSnapshot(ctx, ev.WorkItemID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			return domain.WorkItem{}, false, fmt.Errorf("get snapshot: %w", err)
		}
		item = domain.WorkItem{
			ID:        ev.WorkItemID,
			Kind:      itemKindForEvent(ev.Kind),
			Priority:  domain.PriorityMedium,
			CIState:   domain.CIUnknown,
			CreatedAt: ev.ReceivedAt,
		}
	}

	changed := false
	if ev.Priority != nil && *ev.Priority != item.Priority {
		item.Priority = *ev.Priority
		changed = true
	}
	if ev.Labels != nil {
		item.Labels = ev.Labels
		changed = true
	}
	if ev.CIState != nil && *ev.CIState != item.CIState {
		item.CIState = *ev.CIState
		changed = true
	}
	if ev.Approvals != nil && *ev.Approvals != item.Approvals {
		item.Approvals = *ev.Approvals
		changed = true
	}
	if ev.DueAt != nil {
		item.DueAt = ev.DueAt
		changed = true
	}

	if err := n.store.UpsertItemSnapshot(ctx, item); err != nil {
		return domain.WorkItem{}, false, fmt.Errorf("upsert snapshot: %w", err)
	}
	return item, changed, nil
}

func itemKindForEvent(kind domain.ChangeEventKind) domain.WorkItemKind {
	switch kind {
	case domain.EventReviewOpened, domain.EventReviewSynced, domain.EventReviewLabeled:
		return domain.WorkItemKindReview
	default:
		return domain.WorkItemKindTask
	}
}
