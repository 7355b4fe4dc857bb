package policy

import (
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Guardrail check names, reported verbatim in decision output.
const (
	CheckOptIn         = "automation_opt_in"
	CheckFeasibility   = "afs_threshold"
	CheckProduction    = "production_approvals"
	CheckCIPassing     = "ci_passing"
	CheckNotBlocked    = "not_blocked"
	CheckBusinessHours = "business_hours"
)

// GuardrailConfig tunes the automation preconditions.
type GuardrailConfig struct {
	FeasibilityFloor    float64
	ProductionLabel     string
	ProductionApprovals int

	// Business hours in the owning user's timezone; [StartHour, EndHour).
	BusinessStartHour int
	BusinessEndHour   int
	DefaultTimezone   string
}

// DefaultGuardrailConfig returns the documented defaults.
func DefaultGuardrailConfig() GuardrailConfig {
	return GuardrailConfig{
		FeasibilityFloor:    70,
		ProductionLabel:     "production",
		ProductionApprovals: 2,
		BusinessStartHour:   9,
		BusinessEndHour:     18,
		DefaultTimezone:     "UTC",
	}
}

// GuardrailInput is everything the validator needs to run every check.
type GuardrailInput struct {
	Item            domain.WorkItem
	Feasibility     float64
	AutomationOptIn bool
	Now             time.Time
	UserTimezone    string
}

// ValidateGuardrails runs every automation precondition and reports each
// by name. Callers treat any single failure as a full guardrail failure;
// there is no partial automation.
func ValidateGuardrails(in GuardrailInput, cfg GuardrailConfig) []domain.GuardrailCheck {
	checks := make([]domain.GuardrailCheck, 0, 6)

	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckOptIn,
		Passed: in.AutomationOptIn,
	})

	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckFeasibility,
		Passed: in.Feasibility >= cfg.FeasibilityFloor,
	})

	productionOK := true
	if in.Item.HasLabel(cfg.ProductionLabel) {
		productionOK = in.Item.Approvals >= cfg.ProductionApprovals
	}
	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckProduction,
		Passed: productionOK,
	})

	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckCIPassing,
		Passed: in.Item.CIState == domain.CIPassing,
	})

	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckNotBlocked,
		Passed: !in.Item.Blocked,
	})

	checks = append(checks, domain.GuardrailCheck{
		Name:   CheckBusinessHours,
		Passed: withinBusinessHours(in.Now, in.UserTimezone, cfg),
	})

	return checks
}

func withinBusinessHours(now time.Time, tz string, cfg GuardrailConfig) bool {
	if tz == "" {
		tz = cfg.DefaultTimezone
	}
	loc, err := time.LoadLocation(tz)
	if err != nil {
		loc, err = time.LoadLocation(cfg.DefaultTimezone)
		if err != nil {
			loc = time.UTC
		}
	}
	hour := now.In(loc).Hour()
	return hour >= cfg.BusinessStartHour && hour < cfg.BusinessEndHour
}
