// Package testutil provides shared test helpers.
package testutil

import (
	"context"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// FakeClock provides deterministic time for testing.
type FakeClock struct {
	mu      sync.Mutex
	current time.Time
}

// NewFakeClock creates a FakeClock set to the given time.
func NewFakeClock(t time.Time) *FakeClock {
	return &FakeClock{current: t}
}

// Now returns the current fake time.
func (c *FakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.current
}

// Advance moves the clock forward by d.
func (c *FakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = c.current.Add(d)
}

// Set moves the clock to an absolute time.
func (c *FakeClock) Set(t time.Time) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.current = t
}

// TestContext returns a context with a 5-second timeout.
// The context is cancelled when the test completes.
func TestContext(t *testing.T) context.Context {
	t.Helper()
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	t.Cleanup(cancel)
	return ctx
}

// MustParseUUID parses a UUID string and panics on error.
// Only for use in tests.
func MustParseUUID(s string) uuid.UUID {
	id, err := uuid.Parse(s)
	if err != nil {
		panic("testutil.MustParseUUID: " + err.Error())
	}
	return id
}

// Item builds a work item with sensible defaults for tests. Mutate the
// returned value for scenario specifics.
func Item(id string) domain.WorkItem {
	return domain.WorkItem{
		ID:        id,
		Kind:      domain.WorkItemKindTask,
		Title:     "test item " + id,
		Priority:  domain.PriorityMedium,
		CreatedAt: time.Date(2025, 6, 2, 9, 0, 0, 0, time.UTC),
		CIState:   domain.CIUnknown,
	}
}

// Review builds a review-request work item with passing CI and one
// approval.
func Review(id string) domain.WorkItem {
	item := Item(id)
	item.Kind = domain.WorkItemKindReview
	item.CIState = domain.CIPassing
	item.Approvals = 1
	item.Mergeable = true
	return item
}

// Trigger builds a pending trigger for the given pair, scheduled at t.
func Trigger(itemID, userID string, at time.Time) domain.ScheduledTrigger {
	return domain.ScheduledTrigger{
		ID:              uuid.New(),
		WorkItemID:      itemID,
		UserID:          userID,
		ScheduledAt:     at,
		State:           domain.TriggerStatePending,
		Source:          "api",
		PlannedPriority: domain.PriorityMedium,
		CreatedAt:       at.Add(-time.Hour),
		UpdatedAt:       at.Add(-time.Hour),
	}
}

// Teammate builds a roster entry with the given workload and
// availability.
func Teammate(id string, workload, availability float64) domain.Teammate {
	return domain.Teammate{
		ID:           id,
		Name:         "teammate " + id,
		Workload:     workload,
		Availability: availability,
		Timezone:     "UTC",
	}
}
