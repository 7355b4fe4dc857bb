package cron

import (
	"testing"
	"time"
)

// TestParse_Next verifies a daily expression fires at the named hour.
func TestParse_Next(t *testing.T) {
	sched, err := NewParser().Parse("0 9 * * *", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	after := time.Date(2025, 6, 2, 12, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 3, 9, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}
}

// TestParse_TimezoneAware verifies the expression is evaluated in the
// configured zone, not the input's.
func TestParse_TimezoneAware(t *testing.T) {
	sched, err := NewParser().Parse("0 9 * * *", "America/New_York")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// 08:00 UTC on June 2nd is 04:00 in New York, so the next 09:00
	// New York run is 13:00 UTC the same day.
	after := time.Date(2025, 6, 2, 8, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 2, 13, 0, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next.UTC(), want)
	}
}

// TestParse_WeekdayRange verifies day-of-week ranges skip the weekend.
func TestParse_WeekdayRange(t *testing.T) {
	sched, err := NewParser().Parse("30 8 * * 1-5", "UTC")
	if err != nil {
		t.Fatalf("parse: %v", err)
	}

	// Friday after the morning run; the next run is Monday.
	after := time.Date(2025, 6, 6, 10, 0, 0, 0, time.UTC)
	next := sched.Next(after)
	want := time.Date(2025, 6, 9, 8, 30, 0, 0, time.UTC)
	if !next.Equal(want) {
		t.Errorf("next = %s, want %s", next, want)
	}
}

// TestParse_Errors verifies malformed expressions and unknown zones are
// rejected.
func TestParse_Errors(t *testing.T) {
	p := NewParser()

	if _, err := p.Parse("99 * * * *", "UTC"); err == nil {
		t.Error("out-of-range minute accepted")
	}
	if _, err := p.Parse("* * * *", "UTC"); err == nil {
		t.Error("four-field expression accepted")
	}
	if _, err := p.Parse("@every 5m", "UTC"); err == nil {
		t.Error("descriptor accepted by the five-field parser")
	}
	if _, err := p.Parse("0 9 * * *", "Mars/Olympus"); err == nil {
		t.Error("unknown timezone accepted")
	}
}

// TestValidate mirrors Parse for expression checking only.
func TestValidate(t *testing.T) {
	p := NewParser()

	if err := p.Validate("*/15 * * * *"); err != nil {
		t.Errorf("valid expression rejected: %v", err)
	}
	if err := p.Validate("61 * * * *"); err == nil {
		t.Error("invalid expression accepted")
	}
}
