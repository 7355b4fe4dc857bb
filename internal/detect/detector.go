// Package detect decides whether a scheduled plan is still valid against
// live context (calendar, item state). Upstream failures never propagate:
// the detector degrades to a conservative "unknown-context" report instead
// of blocking or crashing the tick loop.
package detect

import (
	"context"
	"log"
	"strings"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// CalendarSource provides the user's live availability. Implementations
// are I/O-bound and may block; the detector bounds every call with its
// configured timeout.
type CalendarSource interface {
	// Busy reports whether the user has a calendar conflict overlapping
	// the window.
	Busy(ctx context.Context, userID string, start, end time.Time) (bool, error)
	// NextFreeWindow returns the user's next known free slot after the
	// given time, or ok=false when none is known.
	NextFreeWindow(ctx context.Context, userID string, after time.Time) (time.Time, bool, error)
}

// Severity mirrors how urgently a mismatch should be surfaced.
const (
	SeverityHigh   = "high"
	SeverityMedium = "medium"
)

// Report is the detector's verdict for one trigger.
type Report struct {
	Reason   domain.MismatchReason
	Severity string

	// UserAvailable is only meaningful when AvailabilityKnown is true.
	// On unknown context the pipeline must treat the user as unavailable.
	UserAvailable     bool
	AvailabilityKnown bool

	NextFreeWindow *time.Time
	DetectedAt     time.Time
}

// Mismatch reports whether the original plan is no longer valid.
func (r Report) Mismatch() bool {
	return r.Reason != domain.MismatchNone
}

type Config struct {
	// OverdueGrace is how far past its scheduled time a pending trigger
	// may drift before it counts as overdue.
	OverdueGrace time.Duration
	// FetchTimeout bounds each upstream context call.
	FetchTimeout time.Duration
	// WindowSlack pads the scheduled instant on both sides when checking
	// for calendar conflicts.
	WindowSlack time.Duration
}

func DefaultConfig() Config {
	return Config{
		OverdueGrace: time.Hour,
		FetchTimeout: 5 * time.Second,
		WindowSlack:  30 * time.Minute,
	}
}

type Detector struct {
	cfg      Config
	calendar CalendarSource
	clock    func() time.Time
}

func New(cfg Config, calendar CalendarSource) *Detector {
	return &Detector{cfg: cfg, calendar: calendar, clock: time.Now}
}

// WithClock overrides the time source, for deterministic tests.
func (d *Detector) WithClock(clock func() time.Time) *Detector {
	d.clock = clock
	return d
}

// Detect evaluates the mismatch checks in their documented order and
// returns the first applicable reason. A failed or timed-out context fetch
// yields "unknown-context" rather than an error.
func (d *Detector) Detect(ctx context.Context, trigger domain.ScheduledTrigger, item domain.WorkItem) Report {
	now := d.clock().UTC()
	report := Report{DetectedAt: now}

	busy, err := d.checkBusy(ctx, trigger)
	if err != nil {
		log.Printf("detect: trigger=%s calendar unavailable: %v", trigger.ID, err)
		report.Reason = domain.MismatchUnknownContext
		report.Severity = SeverityMedium
		return report
	}
	report.AvailabilityKnown = true
	report.UserAvailable = !busy
	report.NextFreeWindow = d.nextFreeWindow(ctx, trigger.UserID, now)

	if busy {
		report.Reason = domain.MismatchBusy
		report.Severity = SeverityHigh
		return report
	}

	if trigger.State == domain.TriggerStatePending && now.Sub(trigger.ScheduledAt) > d.cfg.OverdueGrace {
		report.Reason = domain.MismatchOverdue
		report.Severity = SeverityHigh
		return report
	}

	if priorityChanged(trigger, item) {
		report.Reason = domain.MismatchPriorityChanged
		report.Severity = SeverityMedium
		return report
	}

	if dueDateMoved(trigger, item) {
		report.Reason = domain.MismatchDueDateChanged
		report.Severity = SeverityMedium
		return report
	}

	return report
}

func (d *Detector) checkBusy(ctx context.Context, trigger domain.ScheduledTrigger) (bool, error) {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()

	start := trigger.ScheduledAt.Add(-d.cfg.WindowSlack)
	end := trigger.ScheduledAt.Add(d.cfg.WindowSlack)
	return d.calendar.Busy(ctx, trigger.UserID, start, end)
}

// nextFreeWindow is best-effort; a lookup failure just means no window is
// known, which the reschedule rule already handles.
func (d *Detector) nextFreeWindow(ctx context.Context, userID string, after time.Time) *time.Time {
	ctx, cancel := context.WithTimeout(ctx, d.cfg.FetchTimeout)
	defer cancel()

	at, ok, err := d.calendar.NextFreeWindow(ctx, userID, after)
	if err != nil {
		log.Printf("detect: user=%s free window lookup failed: %v", userID, err)
		return nil
	}
	if !ok {
		return nil
	}
	return &at
}

// priorityChanged reports a material change: the priority rank moved up, or
// an urgency label appeared that was not on the plan snapshot.
func priorityChanged(trigger domain.ScheduledTrigger, item domain.WorkItem) bool {
	if item.Priority.Rank() > trigger.PlannedPriority.Rank() {
		return true
	}
	for _, label := range []string{"urgent", "blocker"} {
		if item.HasLabel(label) && !hasLabel(trigger.PlannedLabels, label) {
			return true
		}
	}
	return false
}

func dueDateMoved(trigger domain.ScheduledTrigger, item domain.WorkItem) bool {
	planned, live := trigger.PlannedDueAt, item.DueAt
	switch {
	case planned == nil && live == nil:
		return false
	case planned == nil || live == nil:
		return true
	default:
		return !planned.Equal(*live)
	}
}

func hasLabel(labels []string, want string) bool {
	for _, l := range labels {
		if strings.EqualFold(l, want) {
			return true
		}
	}
	return false
}
