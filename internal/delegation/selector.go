// Package delegation ranks teammates for taking over a work item the
// owning user cannot currently handle.
package delegation

import (
	"fmt"
	"sort"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Sub-score weights. Each sub-score is normalized to [0,100] before
// weighting.
const (
	ownershipWeight    = 0.4
	workloadWeight     = 0.3
	availabilityWeight = 0.3
)

// Ownership sub-scores by match strength. File-path prefix matches take
// precedence over component matches.
const (
	ownershipPathMatch      = 100.0
	ownershipComponentMatch = 80.0
)

// Candidate is one ranked teammate with its score breakdown.
type Candidate struct {
	Teammate domain.Teammate

	Ownership    float64
	Workload     float64
	Availability float64
	Total        float64
	Reasoning    string
}

// Selector ranks roster teammates against a work item's ownership signals.
// It is stateless and deterministic: a fixed roster and item always produce
// the same order.
type Selector struct{}

func NewSelector() *Selector {
	return &Selector{}
}

// Rank scores every eligible teammate and returns them best first. The
// requester is excluded unconditionally. Ties break by lower workload,
// then by teammate id lexical order.
func (s *Selector) Rank(item domain.WorkItem, requester string, roster []domain.Teammate) []Candidate {
	candidates := make([]Candidate, 0, len(roster))
	for _, tm := range roster {
		if tm.ID == requester {
			continue
		}
		candidates = append(candidates, scoreTeammate(item, tm))
	}

	sort.SliceStable(candidates, func(i, j int) bool {
		a, b := candidates[i], candidates[j]
		if a.Total != b.Total {
			return a.Total > b.Total
		}
		if a.Workload != b.Workload {
			return a.Workload < b.Workload
		}
		return a.Teammate.ID < b.Teammate.ID
	})

	return candidates
}

// Best returns the top candidate, or ok=false when none is eligible.
func (s *Selector) Best(item domain.WorkItem, requester string, roster []domain.Teammate) (Candidate, bool) {
	ranked := s.Rank(item, requester, roster)
	if len(ranked) == 0 {
		return Candidate{}, false
	}
	return ranked[0], true
}

// TopN returns up to n candidates for fallback chains.
func (s *Selector) TopN(item domain.WorkItem, requester string, roster []domain.Teammate, n int) []Candidate {
	ranked := s.Rank(item, requester, roster)
	if len(ranked) > n {
		ranked = ranked[:n]
	}
	return ranked
}

// Record converts a candidate into an append-only audit entry.
func (c Candidate) Record(itemID string, now time.Time) domain.DelegationRecord {
	return domain.DelegationRecord{
		ID:           uuid.New(),
		WorkItemID:   itemID,
		TeammateID:   c.Teammate.ID,
		Ownership:    c.Ownership,
		Workload:     c.Workload,
		Availability: c.Availability,
		Total:        c.Total,
		Reasoning:    c.Reasoning,
		CreatedAt:    now,
	}
}

func scoreTeammate(item domain.WorkItem, tm domain.Teammate) Candidate {
	ownership := ownershipScore(item, tm)
	workload := clamp(tm.Workload)
	availability := clamp(tm.Availability)

	total := ownership*ownershipWeight +
		(100-workload)*workloadWeight +
		availability*availabilityWeight

	var parts []string
	if ownership > 50 {
		parts = append(parts, fmt.Sprintf("High ownership match (%.1f)", ownership))
	}
	if workload < 50 {
		parts = append(parts, fmt.Sprintf("Low workload (%.1f)", workload))
	}
	if availability > 50 {
		parts = append(parts, fmt.Sprintf("Available (%.1f)", availability))
	}
	reasoning := "General availability"
	if len(parts) > 0 {
		reasoning = strings.Join(parts, ". ")
	}

	return Candidate{
		Teammate:     tm,
		Ownership:    ownership,
		Workload:     workload,
		Availability: availability,
		Total:        total,
		Reasoning:    reasoning,
	}
}

// ownershipScore matches the item's file paths against the teammate's path
// patterns first, then its component against the teammate's components.
func ownershipScore(item domain.WorkItem, tm domain.Teammate) float64 {
	for _, path := range item.FilePaths {
		for _, pattern := range tm.PathPatterns {
			if pattern != "" && strings.HasPrefix(path, pattern) {
				return ownershipPathMatch
			}
		}
	}
	if item.Component != "" {
		for _, c := range tm.Components {
			if strings.EqualFold(c, item.Component) {
				return ownershipComponentMatch
			}
		}
	}
	return 0
}

func clamp(v float64) float64 {
	if v < 0 {
		return 0
	}
	if v > 100 {
		return 100
	}
	return v
}
