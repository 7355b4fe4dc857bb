package api

import "time"

type CreateTriggerRequest struct {
	WorkItemID  string `json:"work_item_id"`
	UserID      string `json:"user_id"`
	ScheduledAt string `json:"scheduled_at"` // RFC3339

	// Optional detector snapshot; defaults come from the item snapshot.
	Priority string   `json:"priority,omitempty"`
	Labels   []string `json:"labels,omitempty"`
	DueAt    string   `json:"due_at,omitempty"` // RFC3339
}

type TriggerResponse struct {
	ID              string   `json:"id"`
	WorkItemID      string   `json:"work_item_id"`
	UserID          string   `json:"user_id"`
	ScheduledAt     string   `json:"scheduled_at"`
	State           string   `json:"state"`
	Source          string   `json:"source"`
	PlannedPriority string   `json:"planned_priority,omitempty"`
	PlannedLabels   []string `json:"planned_labels,omitempty"`
	PlannedDueAt    string   `json:"planned_due_at,omitempty"`
	LastEvaluatedAt string   `json:"last_evaluated_at,omitempty"`
	CreatedAt       string   `json:"created_at"`
}

type ListTriggersResponse struct {
	Triggers []TriggerResponse `json:"triggers"`
}

type DecisionResponse struct {
	ID          string           `json:"id"`
	TriggerID   string           `json:"trigger_id"`
	WorkItemID  string           `json:"work_item_id"`
	UserID      string           `json:"user_id"`
	Action      string           `json:"action"`
	Criticality float64          `json:"cs"`
	Feasibility float64          `json:"afs"`
	Reasoning   string           `json:"reasoning"`
	Guardrails  []GuardrailCheck `json:"guardrail_results,omitempty"`
	DelegateID  string           `json:"delegate,omitempty"`
	Status      string           `json:"status"`
	CreatedAt   string           `json:"created_at"`
}

type GuardrailCheck struct {
	Name   string `json:"name"`
	Passed bool   `json:"passed"`
}

type ListDecisionsResponse struct {
	Decisions []DecisionResponse `json:"decisions"`
}

// WebhookResponse acknowledges an ingested change event. Duplicates are
// acknowledged with accepted=false so senders stop retrying.
type WebhookResponse struct {
	Accepted  bool   `json:"accepted"`
	Duplicate bool   `json:"duplicate,omitempty"`
	TriggerID string `json:"trigger_id,omitempty"`
}

type ErrorResponse struct {
	Error string `json:"error"`
}

// HealthResponse represents the /health endpoint response.
type HealthResponse struct {
	Status     string            `json:"status"`
	Components map[string]string `json:"components,omitempty"`
}

func formatTime(t time.Time) string {
	return t.UTC().Format(time.RFC3339)
}
