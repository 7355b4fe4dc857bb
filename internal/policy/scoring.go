// Package policy implements the decision intelligence core: deterministic
// criticality/feasibility scoring, the ordered decision rule table, and the
// automation guardrails.
package policy

import (
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Weights holds every scoring contribution. All values are points on the
// 0-100 scale; both scores are clamped after summing.
type Weights struct {
	PriorityUrgent float64
	PriorityHigh   float64
	PriorityMedium float64
	PriorityLow    float64

	DueSoon      float64 // due within DueSoonWindow
	OverdueExtra float64 // added on top of DueSoon when past due

	StalenessMax float64 // cap for the linear age contribution
	UrgentLabel  float64
	LargeChange  float64

	CIPassing  float64
	Approvals  float64
	NotBlocked float64
	Mergeable  float64
}

// DefaultWeights returns the documented scoring table.
func DefaultWeights() Weights {
	return Weights{
		PriorityUrgent: 40,
		PriorityHigh:   28,
		PriorityMedium: 14,
		PriorityLow:    0,

		DueSoon:      25,
		OverdueExtra: 10,

		StalenessMax: 15,
		UrgentLabel:  15,
		LargeChange:  10,

		CIPassing:  35,
		Approvals:  30,
		NotBlocked: 20,
		Mergeable:  15,
	}
}

// ScoringConfig carries the thresholds the weights are applied against.
type ScoringConfig struct {
	Weights Weights

	// DueSoonWindow is how close a due date must be to count as "due soon".
	DueSoonWindow time.Duration
	// StalenessThreshold is the age past which an item starts accruing
	// staleness points, one StalenessPerDay per day up to StalenessMax.
	StalenessThreshold time.Duration
	StalenessPerDay    float64
	// LargeChangeSize is the size metric above which an item counts as a
	// large change.
	LargeChangeSize int
	// MinApprovals is the approval count required for the AFS approval
	// contribution.
	MinApprovals int
}

// DefaultScoringConfig returns the documented defaults.
func DefaultScoringConfig() ScoringConfig {
	return ScoringConfig{
		Weights:            DefaultWeights(),
		DueSoonWindow:      24 * time.Hour,
		StalenessThreshold: 7 * 24 * time.Hour,
		StalenessPerDay:    5,
		LargeChangeSize:    500,
		MinApprovals:       1,
	}
}

// urgencyLabels are the labels that mark an item as urgent regardless of
// its priority field.
var urgencyLabels = []string{"urgent", "blocker"}

// Score computes the Criticality Score and Automation Feasibility Score for
// an item at the given instant. It is total over all valid items: missing
// optional fields contribute nothing rather than erroring, and both scores
// land in [0,100].
func Score(item domain.WorkItem, now time.Time, cfg ScoringConfig) (cs, afs float64) {
	w := cfg.Weights

	switch item.Priority {
	case domain.PriorityUrgent:
		cs += w.PriorityUrgent
	case domain.PriorityHigh:
		cs += w.PriorityHigh
	case domain.PriorityMedium:
		cs += w.PriorityMedium
	case domain.PriorityLow:
		cs += w.PriorityLow
	}

	if item.DueAt != nil {
		until := item.DueAt.Sub(now)
		if until <= cfg.DueSoonWindow {
			cs += w.DueSoon
		}
		if until < 0 {
			cs += w.OverdueExtra
		}
	}

	if !item.CreatedAt.IsZero() {
		age := now.Sub(item.CreatedAt)
		if age > cfg.StalenessThreshold {
			days := (age - cfg.StalenessThreshold).Hours() / 24
			staleness := days * cfg.StalenessPerDay
			if staleness > w.StalenessMax {
				staleness = w.StalenessMax
			}
			cs += staleness
		}
	}

	for _, label := range urgencyLabels {
		if item.HasLabel(label) {
			cs += w.UrgentLabel
			break
		}
	}

	if item.Size > cfg.LargeChangeSize {
		cs += w.LargeChange
	}

	if item.CIState == domain.CIPassing {
		afs += w.CIPassing
	}
	if item.Approvals >= cfg.MinApprovals {
		afs += w.Approvals
	}
	if !item.Blocked {
		afs += w.NotBlocked
	}
	if item.Mergeable {
		afs += w.Mergeable
	}

	return clamp(cs), clamp(afs)
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
