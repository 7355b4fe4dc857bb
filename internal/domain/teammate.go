package domain

import (
	"time"

	"github.com/google/uuid"
)

// Teammate is read-only roster data supplied externally.
// Workload is 0-100 (lower is better); Availability is 0-100 (higher is better).
type Teammate struct {
	ID   string
	Name string

	// PathPatterns are file-path prefixes the teammate owns.
	PathPatterns []string
	// Components are component names the teammate owns.
	Components []string

	Workload     float64
	Availability float64
	Timezone     string
}

// UserProfile holds the per-user settings the decision layer consults.
type UserProfile struct {
	ID              string
	Timezone        string
	AutomationOptIn bool
	NotifyURL       string
}

// DelegationRecord is an append-only audit entry for a delegate choice.
type DelegationRecord struct {
	ID         uuid.UUID
	WorkItemID string
	TeammateID string

	Ownership    float64
	Workload     float64
	Availability float64
	Total        float64
	Reasoning    string

	CreatedAt time.Time
}
