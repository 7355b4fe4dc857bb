package domain

import (
	"time"

	"github.com/google/uuid"
)

type TriggerState string

const (
	TriggerStatePending   TriggerState = "pending"
	TriggerStateFired     TriggerState = "fired"
	TriggerStateCancelled TriggerState = "cancelled"
)

// Terminal reports whether the trigger can no longer fire.
func (s TriggerState) Terminal() bool {
	return s == TriggerStateFired || s == TriggerStateCancelled
}

// ScheduledTrigger is a planned re-evaluation of a work item for a user.
// At most one pending trigger exists per (work item, user) pair; scheduling
// the same pair again updates the existing trigger in place.
type ScheduledTrigger struct {
	ID         uuid.UUID
	WorkItemID string
	UserID     string

	ScheduledAt time.Time
	State       TriggerState

	// Source records what created the trigger: "api", "sweep", or
	// "webhook:<source>" with ExternalEventID carrying the de-dup key.
	Source          string
	ExternalEventID string

	// Creation-time snapshot of the fields the mismatch detector compares
	// against live state.
	PlannedPriority Priority
	PlannedLabels   []string
	PlannedDueAt    *time.Time

	LastEvaluatedAt *time.Time
	CreatedAt       time.Time
	UpdatedAt       time.Time
}
