// Package reconciler detects and re-emits orphaned decisions.
//
// A decision is orphaned when it sits in status='emitted' but never
// reached the notifier (e.g., due to bus overflow or a crash between
// persist and emit).
//
// The reconciler periodically scans for orphaned decisions and re-emits
// them to the event bus. Idempotency is guaranteed by the notifier's
// terminal state guards - if a decision was already delivered, the
// re-emit is safely ignored.
package reconciler

import (
	"context"
	"log"
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Store fetches orphaned decisions.
type Store interface {
	OrphanedDecisions(ctx context.Context, olderThan time.Time, limit int) ([]domain.Decision, error)
}

// Emitter hands re-discovered decisions back to the delivery side.
type Emitter interface {
	Emit(ctx context.Context, ev domain.DecisionEvent) error
}

// MetricsSink counts re-emitted orphans.
type MetricsSink interface {
	OrphanReemitted()
}

type Config struct {
	// Interval is how often the reconciler runs.
	Interval time.Duration

	// Threshold is the age after which an emitted decision counts as
	// orphaned.
	Threshold time.Duration

	// BatchSize caps orphans processed per cycle.
	BatchSize int
}

func DefaultConfig() Config {
	return Config{
		Interval:  5 * time.Minute,
		Threshold: 10 * time.Minute,
		BatchSize: 100,
	}
}

// Reconciler scans for orphaned decisions and re-emits them.
type Reconciler struct {
	config  Config
	store   Store
	emitter Emitter
	metrics MetricsSink
	clock   func() time.Time
}

func New(config Config, store Store, emitter Emitter) *Reconciler {
	return &Reconciler{
		config:  config,
		store:   store,
		emitter: emitter,
		clock:   time.Now,
	}
}

// WithMetrics attaches a metrics sink.
func (r *Reconciler) WithMetrics(m MetricsSink) *Reconciler {
	r.metrics = m
	return r
}

// WithClock overrides the time source, for tests.
func (r *Reconciler) WithClock(clock func() time.Time) *Reconciler {
	r.clock = clock
	return r
}

// Run starts the reconciliation loop. It blocks until ctx is cancelled.
func (r *Reconciler) Run(ctx context.Context) {
	ticker := time.NewTicker(r.config.Interval)
	defer ticker.Stop()

	log.Printf("reconciler: started (interval=%s, threshold=%s, batch=%d)",
		r.config.Interval, r.config.Threshold, r.config.BatchSize)

	// Run immediately on startup, then on ticker.
	r.Cycle(ctx)

	for {
		select {
		case <-ctx.Done():
			log.Println("reconciler: stopped")
			return
		case <-ticker.C:
			r.Cycle(ctx)
		}
	}
}

// Cycle runs one reconciliation pass.
func (r *Reconciler) Cycle(ctx context.Context) {
	now := r.clock().UTC()
	cutoff := now.Add(-r.config.Threshold)

	orphans, err := r.store.OrphanedDecisions(ctx, cutoff, r.config.BatchSize)
	if err != nil {
		// Store error: abort this cycle, retry next interval.
		log.Printf("reconciler: failed to fetch orphans: %v", err)
		return
	}

	if len(orphans) == 0 {
		return
	}

	log.Printf("reconciler: found %d orphaned decisions", len(orphans))

	emitted := 0
	failed := 0

	for _, dec := range orphans {
		if ctx.Err() != nil {
			log.Printf("reconciler: cycle interrupted, processed %d/%d orphans", emitted+failed, len(orphans))
			return
		}

		ev := domain.DecisionEvent{
			DecisionID: dec.ID,
			Decision:   dec,
			EmittedAt:  now,
		}

		if err := r.emitter.Emit(ctx, ev); err != nil {
			// Bus full or context cancelled; retry next cycle.
			log.Printf("reconciler: failed to re-emit decision=%s item=%s: %v",
				dec.ID, dec.WorkItemID, err)
			failed++
			continue
		}

		if r.metrics != nil {
			r.metrics.OrphanReemitted()
		}
		log.Printf("reconciler: re-emitted decision=%s item=%s action=%s (age=%s)",
			dec.ID, dec.WorkItemID, dec.Action, now.Sub(dec.CreatedAt).Round(time.Second))
		emitted++
	}

	log.Printf("reconciler: cycle complete, re-emitted=%d, failed=%d", emitted, failed)
}
