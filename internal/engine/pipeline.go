// Package engine wires the detector, scoring, rule table, and delegation
// selector into the evaluation pipeline the scheduler fires for each
// trigger.
package engine

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/delegation"
	"github.com/avyuktsoni0731/continuum.ai/internal/detect"
	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/policy"
	"github.com/avyuktsoni0731/continuum.ai/internal/roster"
	"github.com/avyuktsoni0731/continuum.ai/internal/scheduler"
)

// Store persists evaluation output.
type Store interface {
	// GetItemSnapshot returns sql.ErrNoRows when the item is unknown.
	GetItemSnapshot(ctx context.Context, itemID string) (domain.WorkItem, error)
	InsertDecision(ctx context.Context, dec domain.Decision) error
	InsertDelegationRecord(ctx context.Context, rec domain.DelegationRecord) error
	// RescheduleTrigger moves a pending trigger to a new scheduled time.
	// Returns scheduler.ErrTriggerNotPending for fired or cancelled ones.
	RescheduleTrigger(ctx context.Context, id uuid.UUID, at time.Time) error
}

// Emitter hands finished decisions to the delivery side.
type Emitter interface {
	Emit(ctx context.Context, ev domain.DecisionEvent) error
}

// AnalyticsSink records decision volume, best effort.
type AnalyticsSink interface {
	RecordDecision(ctx context.Context, dec domain.Decision)
}

// MetricsSink receives evaluation telemetry.
type MetricsSink interface {
	EvaluationCompleted(action domain.Action, duration time.Duration)
	GuardrailFailed(check string)
	MismatchDetected(reason domain.MismatchReason)
}

// Pipeline evaluates one trigger end to end: snapshot, context check,
// scoring, rule table, persistence, emit.
type Pipeline struct {
	cfg      policy.Config
	policy   *policy.Engine
	detector *detect.Detector
	selector *delegation.Selector
	roster   roster.Repository
	store    Store
	emitter  Emitter

	analytics AnalyticsSink
	metrics   MetricsSink
	clock     func() time.Time
}

// New builds a pipeline with the required collaborators.
func New(cfg policy.Config, detector *detect.Detector, repo roster.Repository, store Store, emitter Emitter) *Pipeline {
	return &Pipeline{
		cfg:      cfg,
		policy:   policy.NewEngine(cfg),
		detector: detector,
		selector: delegation.NewSelector(),
		roster:   repo,
		store:    store,
		emitter:  emitter,
		clock:    time.Now,
	}
}

// WithAnalytics attaches a best-effort analytics sink.
func (p *Pipeline) WithAnalytics(a AnalyticsSink) *Pipeline {
	p.analytics = a
	return p
}

// WithMetrics attaches a metrics sink.
func (p *Pipeline) WithMetrics(m MetricsSink) *Pipeline {
	p.metrics = m
	return p
}

// WithClock overrides the time source, for tests.
func (p *Pipeline) WithClock(clock func() time.Time) *Pipeline {
	p.clock = clock
	return p
}

// Evaluate runs the full pipeline for one trigger. A failed work item
// lookup degrades to an unknown-context decision instead of an error;
// only persistence and scoring-input failures propagate.
func (p *Pipeline) Evaluate(ctx context.Context, trigger domain.ScheduledTrigger) (scheduler.EvalResult, error) {
	started := p.clock().UTC()

	item, itemKnown := p.loadItem(ctx, trigger)
	report := p.detector.Detect(ctx, trigger, item)
	if !itemKnown {
		report = detect.Report{
			Reason:     domain.MismatchUnknownContext,
			Severity:   detect.SeverityHigh,
			DetectedAt: report.DetectedAt,
		}
	}
	if report.Mismatch() && p.metrics != nil {
		p.metrics.MismatchDetected(report.Reason)
	}

	profile, _, err := p.roster.User(ctx, trigger.UserID)
	if err != nil {
		log.Printf("engine: user lookup failed user=%s: %v", trigger.UserID, err)
	}

	cs, afs := policy.Score(item, started, p.cfg.Scoring)

	teammates, err := p.roster.Teammates(ctx)
	if err != nil {
		// Delegation degrades to "no delegate available".
		log.Printf("engine: roster fetch failed: %v", err)
		teammates = nil
	}
	in := policy.Input{
		Item:            item,
		CS:              cs,
		AFS:             afs,
		UserID:          trigger.UserID,
		UserAvailable:   report.AvailabilityKnown && report.UserAvailable,
		AutomationOptIn: profile.AutomationOptIn,
		UserTimezone:    profile.Timezone,
		Now:             started,
		MismatchReason:  report.Reason,
		NextFreeWindow:  report.NextFreeWindow,
		Finder:          &rosterFinder{selector: p.selector, roster: teammates},
	}

	dec := p.policy.Decide(in)
	dec.ID = uuid.New()
	dec.TriggerID = trigger.ID
	dec.Status = domain.DeliveryStatusEmitted
	dec.CreatedAt = started

	if err := p.store.InsertDecision(ctx, dec); err != nil {
		return scheduler.EvalResult{}, fmt.Errorf("insert decision: %w", err)
	}

	if dec.DelegateID != "" {
		p.recordDelegation(ctx, dec, item, trigger.UserID, teammates, started)
	}

	rescheduled := p.maybeReschedule(ctx, trigger, dec, report)

	if err := p.emitter.Emit(ctx, domain.DecisionEvent{
		DecisionID: dec.ID,
		Decision:   dec,
		EmittedAt:  started,
	}); err != nil {
		// The decision row is already persisted with status emitted;
		// the reconciler picks it up as an orphan.
		log.Printf("engine: emit failed decision=%s: %v", dec.ID, err)
	}

	if p.analytics != nil {
		p.analytics.RecordDecision(ctx, dec)
	}
	if p.metrics != nil {
		for _, g := range dec.Guardrails {
			if !g.Passed {
				p.metrics.GuardrailFailed(g.Name)
			}
		}
		p.metrics.EvaluationCompleted(dec.Action, p.clock().UTC().Sub(started))
	}

	log.Printf("engine: decided trigger=%s item=%s user=%s action=%s cs=%.1f afs=%.1f",
		trigger.ID, trigger.WorkItemID, trigger.UserID, dec.Action, cs, afs)

	return scheduler.EvalResult{Rescheduled: rescheduled}, nil
}

// loadItem fetches the current work item snapshot. A missing or failed
// snapshot yields a minimal stand-in and itemKnown=false.
func (p *Pipeline) loadItem(ctx context.Context, trigger domain.ScheduledTrigger) (domain.WorkItem, bool) {
	item, err := p.store.GetItemSnapshot(ctx, trigger.WorkItemID)
	if err != nil {
		if !errors.Is(err, sql.ErrNoRows) {
			log.Printf("engine: snapshot fetch failed item=%s: %v", trigger.WorkItemID, err)
		}
		return domain.WorkItem{
			ID:        trigger.WorkItemID,
			Kind:      domain.WorkItemKindTask,
			Priority:  trigger.PlannedPriority,
			Labels:    trigger.PlannedLabels,
			DueAt:     trigger.PlannedDueAt,
			CreatedAt: trigger.CreatedAt,
			CIState:   domain.CIUnknown,
		}, false
	}
	return item, true
}

// maybeReschedule re-plans the trigger when the decision calls for it and
// a concrete window is known. Returns true when the trigger stays pending.
func (p *Pipeline) maybeReschedule(ctx context.Context, trigger domain.ScheduledTrigger, dec domain.Decision, report detect.Report) bool {
	if dec.Action != domain.ActionReschedule || report.NextFreeWindow == nil {
		return false
	}
	if err := p.store.RescheduleTrigger(ctx, trigger.ID, report.NextFreeWindow.UTC()); err != nil {
		if errors.Is(err, scheduler.ErrTriggerNotPending) {
			return false
		}
		log.Printf("engine: reschedule failed trigger=%s: %v", trigger.ID, err)
		return false
	}
	log.Printf("engine: re-planned trigger=%s to %s", trigger.ID, report.NextFreeWindow.UTC().Format(time.RFC3339))
	return true
}

func (p *Pipeline) recordDelegation(ctx context.Context, dec domain.Decision, item domain.WorkItem, requester string, teammates []domain.Teammate, now time.Time) {
	cand, ok := p.selector.Best(item, requester, teammates)
	if !ok || cand.Teammate.ID != dec.DelegateID {
		return
	}
	rec := cand.Record(item.ID, now)
	if err := p.store.InsertDelegationRecord(ctx, rec); err != nil {
		log.Printf("engine: delegation record failed item=%s teammate=%s: %v", item.ID, cand.Teammate.ID, err)
	}
}

// rosterFinder adapts the selector and a roster snapshot to the rule
// table's delegate lookup.
type rosterFinder struct {
	selector *delegation.Selector
	roster   []domain.Teammate
}

func (f *rosterFinder) FindDelegate(item domain.WorkItem, requester string) (string, bool) {
	cand, ok := f.selector.Best(item, requester, f.roster)
	if !ok {
		return "", false
	}
	return cand.Teammate.ID, true
}
