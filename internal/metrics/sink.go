package metrics

import (
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// Sink records operational metrics.
// All methods are fire-and-forget: implementations MUST NOT block or
// propagate errors. If the backend is unavailable, implementations log
// warnings and continue.
type Sink interface {
	// Scheduler metrics
	TickStarted()
	TickCompleted(duration time.Duration, fired int, err error)
	SweepCompleted(evaluated int)

	// Evaluation metrics
	EvaluationCompleted(action domain.Action, duration time.Duration)
	GuardrailFailed(check string)
	MismatchDetected(reason domain.MismatchReason)

	// Delivery metrics
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()

	// Bus and reconciler metrics
	BusDropped()
	OrphanReemitted()

	// Leader election metrics
	LeaderStatusChanged(isLeader bool)
	LeaderAcquired()
	LeaderLost(reason string)

	// Ingest metrics
	WebhookEventReceived(source string, duplicate bool)
}
