package metrics

import (
	"time"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// NoopSink is a no-op implementation of Sink.
// Used when metrics are disabled to avoid nil checks.
type NoopSink struct{}

func NewNoopSink() *NoopSink {
	return &NoopSink{}
}

func (n *NoopSink) TickStarted()                                                              {}
func (n *NoopSink) TickCompleted(duration time.Duration, fired int, err error)                {}
func (n *NoopSink) SweepCompleted(evaluated int)                                              {}
func (n *NoopSink) EvaluationCompleted(action domain.Action, duration time.Duration)          {}
func (n *NoopSink) GuardrailFailed(check string)                                              {}
func (n *NoopSink) MismatchDetected(reason domain.MismatchReason)                             {}
func (n *NoopSink) DeliveryAttemptCompleted(attempt int, statusClass string, d time.Duration) {}
func (n *NoopSink) DeliveryOutcome(outcome string)                                            {}
func (n *NoopSink) EventsInFlightIncr()                                                       {}
func (n *NoopSink) EventsInFlightDecr()                                                       {}
func (n *NoopSink) BusDropped()                                                               {}
func (n *NoopSink) OrphanReemitted()                                                          {}
func (n *NoopSink) LeaderStatusChanged(isLeader bool)                                         {}
func (n *NoopSink) LeaderAcquired()                                                           {}
func (n *NoopSink) LeaderLost(reason string)                                                  {}
func (n *NoopSink) WebhookEventReceived(source string, duplicate bool)                        {}
