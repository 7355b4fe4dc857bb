package policy

import (
	"fmt"
	"strings"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Fallback selects what a gated automation downgrades to when any guardrail
// fails.
type Fallback string

const (
	// FallbackAvailability executes directly when the user is available
	// and delegates otherwise.
	FallbackAvailability Fallback = "availability"
	// FallbackDelegate always delegates.
	FallbackDelegate Fallback = "delegate"
	// FallbackNotify always notifies.
	FallbackNotify Fallback = "notify"
)

// Thresholds are the rule-table cut points.
type Thresholds struct {
	Execute   float64 // CS above this + user available -> execute
	Delegate  float64 // CS above this -> delegate / automate territory
	Summarize float64 // CS below this -> summarize
	Automate  float64 // AFS above this -> automation territory
}

// DefaultThresholds returns the documented 80/60/40/70 cut points.
func DefaultThresholds() Thresholds {
	return Thresholds{Execute: 80, Delegate: 60, Summarize: 40, Automate: 70}
}

// Config assembles everything the engine needs.
type Config struct {
	Thresholds Thresholds
	Scoring    ScoringConfig
	Guardrails GuardrailConfig
	Fallback   Fallback
}

// DefaultConfig returns the fully defaulted engine configuration.
func DefaultConfig() Config {
	return Config{
		Thresholds: DefaultThresholds(),
		Scoring:    DefaultScoringConfig(),
		Guardrails: DefaultGuardrailConfig(),
		Fallback:   FallbackAvailability,
	}
}

// DelegateFinder picks the delegate for a work item. The requester is the
// owning user and must never be returned.
type DelegateFinder interface {
	FindDelegate(item domain.WorkItem, requester string) (teammateID string, ok bool)
}

// Input is one evaluation's worth of facts. Identical inputs always produce
// an identical decision.
type Input struct {
	Item            domain.WorkItem
	CS              float64
	AFS             float64
	UserID          string
	UserAvailable   bool
	AutomationOptIn bool
	UserTimezone    string
	Now             time.Time

	MismatchReason domain.MismatchReason
	// NextFreeWindow is the user's next known free slot; nil when unknown.
	NextFreeWindow *time.Time

	// Finder picks the delegate when a rule delegates. It carries the
	// roster snapshot of this evaluation; nil means every delegation
	// downgrades to notify with "no delegate available".
	Finder DelegateFinder
}

// Outcome is what a rule produces before the engine assembles the decision.
type Outcome struct {
	Action     domain.Action
	Reasons    []string
	Guardrails []domain.GuardrailCheck
	DelegateID string
}

// rule is one (predicate, builder) entry of the ordered table.
type rule struct {
	name  string
	when  func(in Input, t Thresholds) bool
	build func(e *Engine, in Input) Outcome
}

// Engine evaluates the ordered rule table. It is stateless and safe for
// concurrent use; one engine serves every evaluation.
type Engine struct {
	cfg   Config
	rules []rule
}

// NewEngine builds an engine.
func NewEngine(cfg Config) *Engine {
	e := &Engine{cfg: cfg}
	e.rules = orderedRules()
	return e
}

// RuleNames exposes the evaluation order for inspection and logging.
func (e *Engine) RuleNames() []string {
	names := make([]string, len(e.rules))
	for i, r := range e.rules {
		names[i] = r.name
	}
	return names
}

// orderedRules is the decision table. Evaluation is strictly top to bottom;
// the first matching rule wins.
func orderedRules() []rule {
	return []rule{
		{
			name: "execute-direct",
			when: func(in Input, t Thresholds) bool {
				return in.CS > t.Execute && in.UserAvailable
			},
			build: (*Engine).buildExecute,
		},
		{
			name: "delegate-unavailable",
			when: func(in Input, t Thresholds) bool {
				return in.CS > t.Delegate && !in.UserAvailable
			},
			build: (*Engine).buildDelegate,
		},
		{
			name: "automate-gated",
			when: func(in Input, t Thresholds) bool {
				return in.CS > t.Delegate && in.AFS > t.Automate && in.AutomationOptIn
			},
			build: (*Engine).buildAutomate,
		},
		{
			name: "summarize-low",
			when: func(in Input, t Thresholds) bool {
				return in.CS < t.Summarize
			},
			build: (*Engine).buildSummarize,
		},
		{
			name: "reschedule-window",
			when: func(in Input, t Thresholds) bool {
				return in.CS >= t.Summarize && in.CS <= t.Delegate && !in.UserAvailable
			},
			build: (*Engine).buildReschedule,
		},
		{
			name:  "notify-default",
			when:  func(Input, Thresholds) bool { return true },
			build: (*Engine).buildNotify,
		},
	}
}

// Decide runs the table and assembles the decision core. Pure: no I/O, no
// shared state, deterministic for identical inputs.
func (e *Engine) Decide(in Input) domain.Decision {
	var out Outcome
	for _, r := range e.rules {
		if r.when(in, e.cfg.Thresholds) {
			out = r.build(e, in)
			break
		}
	}

	if in.MismatchReason != domain.MismatchNone {
		out.Reasons = append(out.Reasons, fmt.Sprintf("Context mismatch: %s", in.MismatchReason))
	}

	return domain.Decision{
		WorkItemID:  in.Item.ID,
		UserID:      in.UserID,
		Action:      out.Action,
		Criticality: in.CS,
		Feasibility: in.AFS,
		Reasoning:   strings.Join(out.Reasons, ". "),
		Factors:     snapshotFactors(in),
		Guardrails:  out.Guardrails,
		DelegateID:  out.DelegateID,
	}
}

func (e *Engine) buildExecute(in Input) Outcome {
	return Outcome{
		Action: domain.ActionExecute,
		Reasons: []string{
			fmt.Sprintf("High criticality (CS %.1f > %.0f)", in.CS, e.cfg.Thresholds.Execute),
			"User is available",
			"Execute directly",
		},
	}
}

func (e *Engine) buildDelegate(in Input) Outcome {
	reasons := []string{
		fmt.Sprintf("High criticality (CS %.1f > %.0f)", in.CS, e.cfg.Thresholds.Delegate),
		"User is unavailable",
	}

	id, ok := e.findDelegate(in)
	if !ok {
		return Outcome{
			Action:  domain.ActionNotify,
			Reasons: append(reasons, "No delegate available", "Notify instead"),
		}
	}
	return Outcome{
		Action:     domain.ActionDelegate,
		Reasons:    append(reasons, fmt.Sprintf("Delegate to %s", id)),
		DelegateID: id,
	}
}

func (e *Engine) buildAutomate(in Input) Outcome {
	checks := ValidateGuardrails(GuardrailInput{
		Item:            in.Item,
		Feasibility:     in.AFS,
		AutomationOptIn: in.AutomationOptIn,
		Now:             in.Now,
		UserTimezone:    in.UserTimezone,
	}, e.cfg.Guardrails)

	reasons := []string{
		fmt.Sprintf("High criticality (CS %.1f > %.0f)", in.CS, e.cfg.Thresholds.Delegate),
		fmt.Sprintf("High automation feasibility (AFS %.1f > %.0f)", in.AFS, e.cfg.Thresholds.Automate),
	}

	if domain.AllPassed(checks) {
		return Outcome{
			Action:     domain.ActionAutomate,
			Reasons:    append(reasons, "All guardrails passed", "Safe to automate"),
			Guardrails: checks,
		}
	}

	reasons = append(reasons, fmt.Sprintf("Guardrails failed: %s", failedNames(checks)))
	out := e.guardrailFallback(in, reasons)
	out.Guardrails = checks
	return out
}

// guardrailFallback applies the configured downgrade chain after a
// guardrail failure.
func (e *Engine) guardrailFallback(in Input, reasons []string) Outcome {
	switch e.cfg.Fallback {
	case FallbackNotify:
		return Outcome{
			Action:  domain.ActionNotify,
			Reasons: append(reasons, "Notify instead"),
		}
	case FallbackDelegate:
		return e.fallbackDelegate(in, reasons)
	default: // FallbackAvailability
		if in.UserAvailable {
			return Outcome{
				Action:  domain.ActionExecute,
				Reasons: append(reasons, "User is available", "Execute instead"),
			}
		}
		return e.fallbackDelegate(in, reasons)
	}
}

func (e *Engine) fallbackDelegate(in Input, reasons []string) Outcome {
	id, ok := e.findDelegate(in)
	if !ok {
		return Outcome{
			Action:  domain.ActionNotify,
			Reasons: append(reasons, "No delegate available", "Notify instead"),
		}
	}
	return Outcome{
		Action:     domain.ActionDelegate,
		Reasons:    append(reasons, fmt.Sprintf("Delegate to %s instead", id)),
		DelegateID: id,
	}
}

func (e *Engine) buildSummarize(in Input) Outcome {
	return Outcome{
		Action: domain.ActionSummarize,
		Reasons: []string{
			fmt.Sprintf("Low criticality (CS %.1f < %.0f)", in.CS, e.cfg.Thresholds.Summarize),
			"Summarize and batch for later",
		},
	}
}

func (e *Engine) buildReschedule(in Input) Outcome {
	reasons := []string{
		fmt.Sprintf("Medium criticality (CS %.1f in [%.0f,%.0f])", in.CS, e.cfg.Thresholds.Summarize, e.cfg.Thresholds.Delegate),
		"User is unavailable",
	}
	if in.NextFreeWindow == nil {
		return Outcome{
			Action:  domain.ActionNotify,
			Reasons: append(reasons, "No known free window", "Notify instead"),
		}
	}
	return Outcome{
		Action:  domain.ActionReschedule,
		Reasons: append(reasons, fmt.Sprintf("Reschedule to next free window at %s", in.NextFreeWindow.UTC().Format(time.RFC3339))),
	}
}

func (e *Engine) buildNotify(in Input) Outcome {
	return Outcome{
		Action: domain.ActionNotify,
		Reasons: []string{
			fmt.Sprintf("Criticality %.1f matched no action rule", in.CS),
			"Notify user",
		},
	}
}

func (e *Engine) findDelegate(in Input) (string, bool) {
	if in.Finder == nil {
		return "", false
	}
	return in.Finder.FindDelegate(in.Item, in.UserID)
}

func failedNames(checks []domain.GuardrailCheck) string {
	var names []string
	for _, c := range checks {
		if !c.Passed {
			names = append(names, c.Name)
		}
	}
	return strings.Join(names, ", ")
}

func snapshotFactors(in Input) domain.FactorSnapshot {
	var age float64
	if !in.Item.CreatedAt.IsZero() {
		age = in.Now.Sub(in.Item.CreatedAt).Hours() / 24
	}
	return domain.FactorSnapshot{
		Priority:        in.Item.Priority,
		DueAt:           in.Item.DueAt,
		AgeDays:         age,
		Size:            in.Item.Size,
		Labels:          in.Item.Labels,
		CIState:         in.Item.CIState,
		Approvals:       in.Item.Approvals,
		Blocked:         in.Item.Blocked,
		Mergeable:       in.Item.Mergeable,
		UserAvailable:   in.UserAvailable,
		AutomationOptIn: in.AutomationOptIn,
		MismatchReason:  string(in.MismatchReason),
	}
}
