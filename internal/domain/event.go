package domain

import "time"

type ChangeEventKind string

const (
	EventItemCreated   ChangeEventKind = "item_created"
	EventItemUpdated   ChangeEventKind = "item_updated"
	EventItemAssigned  ChangeEventKind = "item_assigned"
	EventReviewOpened  ChangeEventKind = "review_opened"
	EventReviewSynced  ChangeEventKind = "review_synchronized"
	EventReviewLabeled ChangeEventKind = "review_labeled"
)

// KnownEventKind reports whether the normalizer understands the kind.
func KnownEventKind(k ChangeEventKind) bool {
	switch k {
	case EventItemCreated, EventItemUpdated, EventItemAssigned,
		EventReviewOpened, EventReviewSynced, EventReviewLabeled:
		return true
	}
	return false
}

// ChangeEvent is a normalized inbound change notification from an external
// source. (Source, ExternalID) is the durable idempotency key.
type ChangeEvent struct {
	Source     string
	ExternalID string
	Kind       ChangeEventKind

	WorkItemID string
	UserID     string

	// Changed attributes; nil means the event did not carry the field.
	Priority  *Priority
	Labels    []string
	CIState   *CIState
	Approvals *int
	DueAt     *time.Time

	ReceivedAt time.Time
}

// MismatchReason names a divergence between a scheduled plan and live context.
type MismatchReason string

const (
	MismatchNone            MismatchReason = ""
	MismatchBusy            MismatchReason = "busy"
	MismatchOverdue         MismatchReason = "overdue"
	MismatchPriorityChanged MismatchReason = "priority-changed"
	MismatchDueDateChanged  MismatchReason = "due-date-changed"
	MismatchUnknownContext  MismatchReason = "unknown-context"
)
