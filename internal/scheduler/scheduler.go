// Package scheduler owns the set of pending re-evaluation triggers. A fixed
// tick finds due triggers and hands each one to the evaluation pipeline,
// serialized per trigger id so a concurrent webhook mutation and a tick
// firing cannot race into a double evaluation.
package scheduler

import (
	"context"
	"errors"
	"fmt"
	"log"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// ErrTriggerNotPending is returned by stores when a state transition is
// attempted on a trigger that already fired or was cancelled.
var ErrTriggerNotPending = errors.New("trigger not pending")

// Store is the trigger persistence the scheduler requires.
type Store interface {
	// UpsertTrigger enforces the one-pending-trigger-per-(item,user)
	// invariant: when a pending trigger already exists for the pair it is
	// updated in place and returned with its original id.
	UpsertTrigger(ctx context.Context, t domain.ScheduledTrigger) (domain.ScheduledTrigger, error)
	GetTrigger(ctx context.Context, id uuid.UUID) (domain.ScheduledTrigger, error)
	DueTriggers(ctx context.Context, now time.Time, limit int) ([]domain.ScheduledTrigger, error)
	PendingTriggers(ctx context.Context, limit int) ([]domain.ScheduledTrigger, error)
	// MarkFired transitions pending -> fired and stamps last_evaluated_at.
	// Must return ErrTriggerNotPending when the trigger is terminal.
	MarkFired(ctx context.Context, id uuid.UUID, at time.Time) error
	// CancelTrigger transitions pending -> cancelled; it is a no-op on
	// triggers that are already terminal.
	CancelTrigger(ctx context.Context, id uuid.UUID) error
	// TouchEvaluated stamps last_evaluated_at without a state change
	// (sweep evaluations of not-yet-due triggers).
	TouchEvaluated(ctx context.Context, id uuid.UUID, at time.Time) error
}

// EvalResult tells the scheduler how to conclude a firing. A rescheduled
// trigger was re-planned by the pipeline and must stay pending.
type EvalResult struct {
	Rescheduled bool
}

// Evaluator runs the detector -> scoring -> decision -> notifier pipeline
// for one trigger.
type Evaluator interface {
	Evaluate(ctx context.Context, trigger domain.ScheduledTrigger) (EvalResult, error)
}

// SweepSchedule yields the next periodic full re-evaluation time.
type SweepSchedule interface {
	Next(after time.Time) time.Time
}

// MetricsSink records scheduler metrics. Implementations must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	SweepCompleted(evaluated int)
}

type Config struct {
	TickInterval time.Duration
	BatchSize    int

	// MarkFiredBackoff paces retries of the fired-state transition when the
	// store is unavailable. The trigger stays pending until the transition
	// durably succeeds, so a re-evaluation is never silently lost.
	MarkFiredBackoff []time.Duration
}

func DefaultConfig() Config {
	return Config{
		TickInterval:     15 * time.Minute,
		BatchSize:        100,
		MarkFiredBackoff: []time.Duration{0, 2 * time.Second, 10 * time.Second},
	}
}

type Scheduler struct {
	config    Config
	store     Store
	evaluator Evaluator
	metrics   MetricsSink // optional, nil = disabled
	sweep     SweepSchedule
	clock     func() time.Time

	locks     *keyedLock
	nextSweep time.Time
}

func New(config Config, store Store, evaluator Evaluator) *Scheduler {
	if config.BatchSize <= 0 {
		config.BatchSize = 100
	}
	if len(config.MarkFiredBackoff) == 0 {
		config.MarkFiredBackoff = DefaultConfig().MarkFiredBackoff
	}
	return &Scheduler{
		config:    config,
		store:     store,
		evaluator: evaluator,
		clock:     time.Now,
		locks:     newKeyedLock(),
	}
}

// WithMetrics attaches a metrics sink.
func (s *Scheduler) WithMetrics(sink MetricsSink) *Scheduler {
	s.metrics = sink
	return s
}

// WithSweep enables the periodic full re-evaluation sweep.
func (s *Scheduler) WithSweep(sched SweepSchedule) *Scheduler {
	s.sweep = sched
	return s
}

// WithClock overrides the time source, for deterministic tests.
func (s *Scheduler) WithClock(clock func() time.Time) *Scheduler {
	s.clock = clock
	return s
}

// ScheduleRequest describes an upsert of a trigger.
type ScheduleRequest struct {
	WorkItemID      string
	UserID          string
	At              time.Time
	Source          string
	ExternalEventID string

	PlannedPriority domain.Priority
	PlannedLabels   []string
	PlannedDueAt    *time.Time
}

// Schedule upserts a trigger per the one-pending-per-pair invariant and
// returns the resulting trigger.
func (s *Scheduler) Schedule(ctx context.Context, req ScheduleRequest) (domain.ScheduledTrigger, error) {
	if req.WorkItemID == "" || req.UserID == "" {
		return domain.ScheduledTrigger{}, fmt.Errorf("schedule: work item id and user id are required")
	}

	now := s.clock().UTC()
	trigger := domain.ScheduledTrigger{
		ID:              uuid.New(),
		WorkItemID:      req.WorkItemID,
		UserID:          req.UserID,
		ScheduledAt:     req.At.UTC(),
		State:           domain.TriggerStatePending,
		Source:          req.Source,
		ExternalEventID: req.ExternalEventID,
		PlannedPriority: req.PlannedPriority,
		PlannedLabels:   req.PlannedLabels,
		PlannedDueAt:    req.PlannedDueAt,
		CreatedAt:       now,
		UpdatedAt:       now,
	}

	stored, err := s.store.UpsertTrigger(ctx, trigger)
	if err != nil {
		return domain.ScheduledTrigger{}, fmt.Errorf("upsert trigger: %w", err)
	}
	log.Printf("scheduler: scheduled item=%s user=%s at=%s trigger=%s",
		stored.WorkItemID, stored.UserID, stored.ScheduledAt.Format(time.RFC3339), stored.ID)
	return stored, nil
}

// Cancel transitions a trigger to cancelled. Cancelling a trigger that
// already fired or was cancelled is a no-op.
func (s *Scheduler) Cancel(ctx context.Context, id uuid.UUID) error {
	return s.store.CancelTrigger(ctx, id)
}

// Run drives the tick loop until the context is cancelled.
func (s *Scheduler) Run(ctx context.Context) error {
	ticker := time.NewTicker(s.config.TickInterval)
	defer ticker.Stop()

	log.Printf("scheduler: started, tick=%s", s.config.TickInterval)
	if s.sweep != nil {
		s.nextSweep = s.sweep.Next(s.clock().UTC())
		log.Printf("scheduler: sweep enabled, next=%s", s.nextSweep.Format(time.RFC3339))
	}

	for {
		select {
		case <-ctx.Done():
			log.Println("scheduler: stopped")
			return ctx.Err()
		case <-ticker.C:
			if err := s.Tick(ctx); err != nil {
				log.Printf("scheduler: tick error: %v", err)
			}
		}
	}
}

// Tick processes every due pending trigger once. Exported so tests can
// drive the loop with a controlled clock.
func (s *Scheduler) Tick(ctx context.Context) error {
	if s.metrics != nil {
		s.metrics.TickStarted()
	}
	start := s.clock()
	now := start.UTC()

	fired, err := s.processDue(ctx, now)

	if s.metrics != nil {
		s.metrics.TickCompleted(s.clock().Sub(start), fired, err)
	}
	if err != nil {
		return err
	}

	if s.sweep != nil && !now.Before(s.nextSweep) {
		evaluated := s.processSweep(ctx, now)
		s.nextSweep = s.sweep.Next(now)
		if s.metrics != nil {
			s.metrics.SweepCompleted(evaluated)
		}
		log.Printf("scheduler: sweep evaluated=%d next=%s", evaluated, s.nextSweep.Format(time.RFC3339))
	}
	return nil
}

func (s *Scheduler) processDue(ctx context.Context, now time.Time) (int, error) {
	due, err := s.store.DueTriggers(ctx, now, s.config.BatchSize)
	if err != nil {
		return 0, fmt.Errorf("due triggers: %w", err)
	}

	fired := 0
	for _, trigger := range due {
		if err := s.fire(ctx, trigger.ID); err != nil {
			log.Printf("scheduler: trigger %s error: %v", trigger.ID, err)
			continue
		}
		fired++
	}
	return fired, nil
}

// processSweep re-evaluates pending triggers that are not yet due. Due ones
// were already handled by processDue in the same tick.
func (s *Scheduler) processSweep(ctx context.Context, now time.Time) int {
	pending, err := s.store.PendingTriggers(ctx, s.config.BatchSize)
	if err != nil {
		log.Printf("scheduler: sweep list error: %v", err)
		return 0
	}

	evaluated := 0
	for _, trigger := range pending {
		if !trigger.ScheduledAt.After(now) {
			continue
		}
		if err := s.sweepEvaluate(ctx, trigger.ID, now); err != nil {
			log.Printf("scheduler: sweep trigger %s error: %v", trigger.ID, err)
			continue
		}
		evaluated++
	}
	return evaluated
}

// fire evaluates one due trigger and transitions it to fired, at most once.
// The per-id lock serializes concurrent fires of the same trigger; the
// fresh state read under the lock makes re-entrant ticks no-ops.
func (s *Scheduler) fire(ctx context.Context, id uuid.UUID) error {
	unlock := s.locks.lock(id)
	defer unlock()

	trigger, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return fmt.Errorf("get trigger: %w", err)
	}
	if trigger.State != domain.TriggerStatePending {
		return nil // already fired or cancelled
	}

	res, err := s.evaluator.Evaluate(ctx, trigger)
	if err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}

	if res.Rescheduled {
		// The pipeline re-planned this trigger to a new window; it stays
		// pending and fires again at the new time.
		if err := s.store.TouchEvaluated(ctx, id, s.clock().UTC()); err != nil && !errors.Is(err, ErrTriggerNotPending) {
			return fmt.Errorf("touch evaluated: %w", err)
		}
		log.Printf("scheduler: rescheduled trigger=%s item=%s user=%s", id, trigger.WorkItemID, trigger.UserID)
		return nil
	}

	if err := s.markFiredWithRetry(ctx, id); err != nil {
		// The trigger stays pending and will be re-evaluated next tick;
		// a duplicate notification beats a lost re-evaluation.
		return fmt.Errorf("mark fired: %w", err)
	}

	log.Printf("scheduler: fired trigger=%s item=%s user=%s", id, trigger.WorkItemID, trigger.UserID)
	return nil
}

func (s *Scheduler) sweepEvaluate(ctx context.Context, id uuid.UUID, now time.Time) error {
	unlock := s.locks.lock(id)
	defer unlock()

	trigger, err := s.store.GetTrigger(ctx, id)
	if err != nil {
		return fmt.Errorf("get trigger: %w", err)
	}
	if trigger.State != domain.TriggerStatePending {
		return nil
	}

	if _, err := s.evaluator.Evaluate(ctx, trigger); err != nil {
		return fmt.Errorf("evaluate: %w", err)
	}
	if err := s.store.TouchEvaluated(ctx, id, now); err != nil && !errors.Is(err, ErrTriggerNotPending) {
		return fmt.Errorf("touch evaluated: %w", err)
	}
	return nil
}

func (s *Scheduler) markFiredWithRetry(ctx context.Context, id uuid.UUID) error {
	var lastErr error
	for attempt, backoff := range s.config.MarkFiredBackoff {
		if backoff > 0 {
			timer := time.NewTimer(backoff)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err := s.store.MarkFired(ctx, id, s.clock().UTC())
		if err == nil {
			return nil
		}
		if errors.Is(err, ErrTriggerNotPending) {
			return nil // concurrent transition already landed
		}
		lastErr = err
		log.Printf("scheduler: mark fired trigger=%s attempt=%d: %v", id, attempt+1, err)
	}
	return lastErr
}
