package domain

import (
	"strings"
	"time"
)

type WorkItemKind string

const (
	WorkItemKindTask   WorkItemKind = "task"
	WorkItemKindReview WorkItemKind = "review_request"
)

type Priority string

const (
	PriorityLow    Priority = "low"
	PriorityMedium Priority = "medium"
	PriorityHigh   Priority = "high"
	PriorityUrgent Priority = "urgent"
)

// Rank orders priorities for material-change comparison.
// Unknown values rank below low.
func (p Priority) Rank() int {
	switch p {
	case PriorityUrgent:
		return 4
	case PriorityHigh:
		return 3
	case PriorityMedium:
		return 2
	case PriorityLow:
		return 1
	default:
		return 0
	}
}

type CIState string

const (
	CIPassing CIState = "passing"
	CIFailing CIState = "failing"
	CIUnknown CIState = "unknown"
)

// WorkItem is an immutable snapshot of a tracked task or review request.
// It is refreshed by the external API client before each evaluation; the
// core never mutates it.
type WorkItem struct {
	ID        string
	Kind      WorkItemKind
	Title     string
	Priority  Priority
	DueAt     *time.Time
	CreatedAt time.Time

	// Size is lines changed for reviews, story points for tasks.
	Size      int
	Labels    []string
	Status    string
	Component string
	FilePaths []string

	CIState   CIState
	Approvals int
	Blocked   bool
	Mergeable bool
}

// HasLabel reports whether the item carries the given label, case-insensitively.
func (w WorkItem) HasLabel(label string) bool {
	for _, l := range w.Labels {
		if strings.EqualFold(l, label) {
			return true
		}
	}
	return false
}
