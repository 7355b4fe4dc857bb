package config

import (
	"fmt"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/cron"
)

// ValidationError represents a configuration validation error.
type ValidationError struct {
	Field   string
	Message string
}

func (e ValidationError) Error() string {
	return fmt.Sprintf("%s: %s", e.Field, e.Message)
}

// ValidationErrors is a collection of validation errors.
type ValidationErrors []ValidationError

func (e ValidationErrors) Error() string {
	if len(e) == 0 {
		return ""
	}
	if len(e) == 1 {
		return e[0].Error()
	}
	msg := fmt.Sprintf("%d validation errors:", len(e))
	for _, err := range e {
		msg += "\n  - " + err.Error()
	}
	return msg
}

// Validate checks the configuration for errors.
// Returns nil if valid, or ValidationErrors if invalid.
func Validate(cfg Config) error {
	var errs ValidationErrors

	if cfg.StoreBackend != "memory" && cfg.StoreBackend != "postgres" {
		errs = append(errs, ValidationError{
			Field:   "STORE_BACKEND",
			Message: fmt.Sprintf("must be 'memory' or 'postgres', got %q", cfg.StoreBackend),
		})
	}

	if cfg.StoreBackend == "postgres" && cfg.DatabaseURL == "" {
		errs = append(errs, ValidationError{
			Field:   "DATABASE_URL",
			Message: "required for the postgres backend",
		})
	}

	if cfg.LeaderEnabled && cfg.StoreBackend != "postgres" {
		errs = append(errs, ValidationError{
			Field:   "LEADER_ENABLED",
			Message: "leader election requires the postgres backend",
		})
	}

	errs = append(errs, validateDuration("TICK_INTERVAL", cfg.TickIntervalStr)...)
	errs = append(errs, validateDuration("OVERDUE_GRACE", cfg.OverdueGraceStr)...)
	errs = append(errs, validateDuration("NOTIFY_TIMEOUT", cfg.NotifyTimeoutStr)...)

	if cfg.SweepCron != "" {
		if err := cron.NewParser().Validate(cfg.SweepCron); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_CRON",
				Message: err.Error(),
			})
		}
		if _, err := time.LoadLocation(cfg.SweepTimezone); err != nil {
			errs = append(errs, ValidationError{
				Field:   "SWEEP_TIMEZONE",
				Message: fmt.Sprintf("invalid timezone: %v", err),
			})
		}
	}

	for _, th := range []struct {
		field string
		value float64
	}{
		{"EXECUTE_THRESHOLD", cfg.ExecuteThreshold},
		{"DELEGATE_THRESHOLD", cfg.DelegateThreshold},
		{"SUMMARIZE_THRESHOLD", cfg.SummarizeThreshold},
		{"AUTOMATE_THRESHOLD", cfg.AutomateThreshold},
		{"FEASIBILITY_FLOOR", cfg.FeasibilityFloor},
	} {
		if th.value < 0 || th.value > 100 {
			errs = append(errs, ValidationError{
				Field:   th.field,
				Message: fmt.Sprintf("must be in [0,100], got %g", th.value),
			})
		}
	}

	if cfg.ExecuteThreshold <= cfg.DelegateThreshold || cfg.DelegateThreshold <= cfg.SummarizeThreshold {
		errs = append(errs, ValidationError{
			Field:   "EXECUTE_THRESHOLD",
			Message: "thresholds must satisfy execute > delegate > summarize",
		})
	}

	switch cfg.GuardrailFallback {
	case "availability", "delegate", "notify":
	default:
		errs = append(errs, ValidationError{
			Field:   "GUARDRAIL_FALLBACK",
			Message: fmt.Sprintf("must be 'availability', 'delegate', or 'notify', got %q", cfg.GuardrailFallback),
		})
	}

	if cfg.BusinessStartHour < 0 || cfg.BusinessStartHour > 23 ||
		cfg.BusinessEndHour < 0 || cfg.BusinessEndHour > 24 ||
		cfg.BusinessStartHour >= cfg.BusinessEndHour {
		errs = append(errs, ValidationError{
			Field: "BUSINESS_START_HOUR",
			Message: fmt.Sprintf("business hours must satisfy 0 <= start < end <= 24, got %d..%d",
				cfg.BusinessStartHour, cfg.BusinessEndHour),
		})
	}

	if len(errs) > 0 {
		return errs
	}
	return nil
}

func validateDuration(field, raw string) ValidationErrors {
	if raw == "" {
		return nil
	}
	d, err := time.ParseDuration(raw)
	if err != nil {
		return ValidationErrors{{Field: field, Message: fmt.Sprintf("invalid duration: %v", err)}}
	}
	if d <= 0 {
		return ValidationErrors{{Field: field, Message: "must be positive"}}
	}
	return nil
}
