package domain

import (
	"time"

	"github.com/google/uuid"
)

type Action string

const (
	ActionExecute    Action = "execute"
	ActionDelegate   Action = "delegate"
	ActionAutomate   Action = "automate"
	ActionSummarize  Action = "summarize"
	ActionReschedule Action = "reschedule"
	ActionNotify     Action = "notify"
)

// GuardrailCheck is the outcome of a single automation precondition.
type GuardrailCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

// AllPassed reports whether every check in the list passed.
// An empty list passes vacuously (guardrails were not consulted).
func AllPassed(checks []GuardrailCheck) bool {
	for _, c := range checks {
		if !c.Passed {
			return false
		}
	}
	return true
}

// FactorSnapshot captures every input that fed a decision, so the outcome
// is reproducible from logs alone.
type FactorSnapshot struct {
	Priority        Priority   `json:"priority"`
	DueAt           *time.Time `json:"due_at,omitempty"`
	AgeDays         float64    `json:"age_days"`
	Size            int        `json:"size"`
	Labels          []string   `json:"labels,omitempty"`
	CIState         CIState    `json:"ci_state"`
	Approvals       int        `json:"approvals"`
	Blocked         bool       `json:"blocked"`
	Mergeable       bool       `json:"mergeable"`
	UserAvailable   bool       `json:"user_available"`
	AutomationOptIn bool       `json:"automation_opt_in"`
	MismatchReason  string     `json:"mismatch_reason,omitempty"`
}

type DeliveryStatus string

const (
	DeliveryStatusEmitted   DeliveryStatus = "emitted"
	DeliveryStatusDelivered DeliveryStatus = "delivered"
	DeliveryStatusFailed    DeliveryStatus = "failed"
)

// Decision is the immutable output of one evaluation. Produced fresh per
// trigger firing; never mutated after creation (delivery status is tracked
// alongside, not inside the decision inputs/outputs).
type Decision struct {
	ID         uuid.UUID
	TriggerID  uuid.UUID
	WorkItemID string
	UserID     string

	Action      Action
	Criticality float64
	Feasibility float64
	Reasoning   string
	Factors     FactorSnapshot
	Guardrails  []GuardrailCheck
	DelegateID  string

	Status    DeliveryStatus
	CreatedAt time.Time
}

// DecisionEvent carries a freshly persisted decision to the notifier.
type DecisionEvent struct {
	DecisionID uuid.UUID
	Decision   Decision
	EmittedAt  time.Time
}

// DeliveryAttempt records one notifier delivery try for auditability.
type DeliveryAttempt struct {
	ID         uuid.UUID
	DecisionID uuid.UUID
	Attempt    int

	StatusCode int
	Error      string

	StartedAt  time.Time
	FinishedAt time.Time
}
