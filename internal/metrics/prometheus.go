package metrics

import (
	"log"
	"strconv"
	"time"

	"github.com/prometheus/client_golang/prometheus"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// PrometheusSink implements Sink using the Prometheus client library.
// All methods are non-blocking and fire-and-forget. Registration errors
// are logged but never propagated.
type PrometheusSink struct {
	// Scheduler metrics
	ticksTotal      prometheus.Counter
	tickErrorsTotal prometheus.Counter
	triggersFired   prometheus.Counter
	tickDuration    prometheus.Histogram
	sweepEvaluated  prometheus.Counter

	// Evaluation metrics
	evaluationsTotal  *prometheus.CounterVec
	evalDuration      prometheus.Histogram
	guardrailFailures *prometheus.CounterVec
	mismatchesTotal   *prometheus.CounterVec

	// Delivery metrics
	deliveryAttemptsTotal *prometheus.CounterVec
	deliveryOutcomesTotal *prometheus.CounterVec
	deliveryDuration      prometheus.Histogram
	eventsInFlight        prometheus.Gauge

	// Bus, reconciler, ingest metrics
	busDroppedTotal    prometheus.Counter
	orphansReemitted   prometheus.Counter
	webhookEventsTotal *prometheus.CounterVec

	// Leader election metrics
	leaderStatus       prometheus.Gauge
	leaderAcquisitions prometheus.Counter
	leaderLossesTotal  *prometheus.CounterVec
}

// NewPrometheusSink creates a Prometheus metrics sink. If registration
// fails the sink stays functional; failed collectors just go unregistered.
func NewPrometheusSink(reg prometheus.Registerer) *PrometheusSink {
	s := &PrometheusSink{}
	s.initSchedulerMetrics(reg)
	s.initEvaluationMetrics(reg)
	s.initDeliveryMetrics(reg)
	s.initPlumbingMetrics(reg)
	s.initLeaderMetrics(reg)
	return s
}

func (s *PrometheusSink) initSchedulerMetrics(reg prometheus.Registerer) {
	s.ticksTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_scheduler_ticks_total",
		Help: "Total number of scheduler ticks processed.",
	})
	s.tickErrorsTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_scheduler_tick_errors_total",
		Help: "Total number of scheduler tick errors.",
	})
	s.triggersFired = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_scheduler_triggers_fired_total",
		Help: "Total number of triggers fired.",
	})
	s.tickDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "continuum_scheduler_tick_duration_seconds",
		Help:    "Duration of each scheduler tick in seconds.",
		Buckets: []float64{0.01, 0.05, 0.1, 0.5, 1, 2, 5, 10},
	})
	s.sweepEvaluated = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_scheduler_sweep_evaluations_total",
		Help: "Total number of pending triggers re-evaluated by sweeps.",
	})

	s.register(reg, s.ticksTotal, "continuum_scheduler_ticks_total")
	s.register(reg, s.tickErrorsTotal, "continuum_scheduler_tick_errors_total")
	s.register(reg, s.triggersFired, "continuum_scheduler_triggers_fired_total")
	s.register(reg, s.tickDuration, "continuum_scheduler_tick_duration_seconds")
	s.register(reg, s.sweepEvaluated, "continuum_scheduler_sweep_evaluations_total")
}

func (s *PrometheusSink) initEvaluationMetrics(reg prometheus.Registerer) {
	s.evaluationsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_engine_evaluations_total",
		Help: "Total number of completed evaluations per decided action.",
	}, []string{"action"})

	s.evalDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "continuum_engine_evaluation_duration_seconds",
		Help:    "End-to-end evaluation pipeline latency in seconds.",
		Buckets: []float64{0.005, 0.01, 0.05, 0.1, 0.5, 1, 2, 5},
	})

	s.guardrailFailures = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_engine_guardrail_failures_total",
		Help: "Total number of failed guardrail checks per check name.",
	}, []string{"check"})

	s.mismatchesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_detect_mismatches_total",
		Help: "Total number of context mismatches per reason.",
	}, []string{"reason"})

	s.register(reg, s.evaluationsTotal, "continuum_engine_evaluations_total")
	s.register(reg, s.evalDuration, "continuum_engine_evaluation_duration_seconds")
	s.register(reg, s.guardrailFailures, "continuum_engine_guardrail_failures_total")
	s.register(reg, s.mismatchesTotal, "continuum_detect_mismatches_total")
}

func (s *PrometheusSink) initDeliveryMetrics(reg prometheus.Registerer) {
	s.deliveryAttemptsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_notifier_delivery_attempts_total",
		Help: "Total number of notification delivery attempts.",
	}, []string{"attempt", "status_class"})

	s.deliveryOutcomesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_notifier_delivery_outcomes_total",
		Help: "Total number of final delivery outcomes per decision.",
	}, []string{"outcome"})

	s.deliveryDuration = prometheus.NewHistogram(prometheus.HistogramOpts{
		Name:    "continuum_notifier_delivery_duration_seconds",
		Help:    "Notification request latency in seconds (excludes backoff wait).",
		Buckets: []float64{0.1, 0.25, 0.5, 1, 2.5, 5, 10, 30},
	})

	s.eventsInFlight = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "continuum_notifier_events_in_flight",
		Help: "Number of decision events currently being delivered.",
	})

	s.register(reg, s.deliveryAttemptsTotal, "continuum_notifier_delivery_attempts_total")
	s.register(reg, s.deliveryOutcomesTotal, "continuum_notifier_delivery_outcomes_total")
	s.register(reg, s.deliveryDuration, "continuum_notifier_delivery_duration_seconds")
	s.register(reg, s.eventsInFlight, "continuum_notifier_events_in_flight")
}

func (s *PrometheusSink) initPlumbingMetrics(reg prometheus.Registerer) {
	s.busDroppedTotal = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_eventbus_dropped_total",
		Help: "Total number of decision events dropped on a full bus.",
	})
	s.orphansReemitted = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_reconciler_orphans_reemitted_total",
		Help: "Total number of orphaned decisions re-emitted.",
	})
	s.webhookEventsTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_webhook_events_total",
		Help: "Total number of webhook events received per source.",
	}, []string{"source", "duplicate"})

	s.register(reg, s.busDroppedTotal, "continuum_eventbus_dropped_total")
	s.register(reg, s.orphansReemitted, "continuum_reconciler_orphans_reemitted_total")
	s.register(reg, s.webhookEventsTotal, "continuum_webhook_events_total")
}

func (s *PrometheusSink) initLeaderMetrics(reg prometheus.Registerer) {
	s.leaderStatus = prometheus.NewGauge(prometheus.GaugeOpts{
		Name: "continuum_leader_status",
		Help: "1 when this replica holds the leader lock, 0 otherwise.",
	})
	s.leaderAcquisitions = prometheus.NewCounter(prometheus.CounterOpts{
		Name: "continuum_leader_acquisitions_total",
		Help: "Total number of times this replica acquired leadership.",
	})
	s.leaderLossesTotal = prometheus.NewCounterVec(prometheus.CounterOpts{
		Name: "continuum_leader_losses_total",
		Help: "Total number of leadership terms ended per reason.",
	}, []string{"reason"})

	s.register(reg, s.leaderStatus, "continuum_leader_status")
	s.register(reg, s.leaderAcquisitions, "continuum_leader_acquisitions_total")
	s.register(reg, s.leaderLossesTotal, "continuum_leader_losses_total")
}

func (s *PrometheusSink) register(reg prometheus.Registerer, c prometheus.Collector, name string) {
	if err := reg.Register(c); err != nil {
		log.Printf("metrics: failed to register %s: %v", name, err)
	}
}

func (s *PrometheusSink) TickStarted() {
	s.ticksTotal.Inc()
}

func (s *PrometheusSink) TickCompleted(duration time.Duration, fired int, err error) {
	s.tickDuration.Observe(duration.Seconds())
	s.triggersFired.Add(float64(fired))
	if err != nil {
		s.tickErrorsTotal.Inc()
	}
}

func (s *PrometheusSink) SweepCompleted(evaluated int) {
	s.sweepEvaluated.Add(float64(evaluated))
}

func (s *PrometheusSink) EvaluationCompleted(action domain.Action, duration time.Duration) {
	s.evaluationsTotal.WithLabelValues(string(action)).Inc()
	s.evalDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) GuardrailFailed(check string) {
	s.guardrailFailures.WithLabelValues(check).Inc()
}

func (s *PrometheusSink) MismatchDetected(reason domain.MismatchReason) {
	s.mismatchesTotal.WithLabelValues(string(reason)).Inc()
}

func (s *PrometheusSink) DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration) {
	s.deliveryAttemptsTotal.WithLabelValues(strconv.Itoa(attempt), statusClass).Inc()
	s.deliveryDuration.Observe(duration.Seconds())
}

func (s *PrometheusSink) DeliveryOutcome(outcome string) {
	s.deliveryOutcomesTotal.WithLabelValues(outcome).Inc()
}

func (s *PrometheusSink) EventsInFlightIncr() {
	s.eventsInFlight.Inc()
}

func (s *PrometheusSink) EventsInFlightDecr() {
	s.eventsInFlight.Dec()
}

func (s *PrometheusSink) BusDropped() {
	s.busDroppedTotal.Inc()
}

func (s *PrometheusSink) OrphanReemitted() {
	s.orphansReemitted.Inc()
}

func (s *PrometheusSink) WebhookEventReceived(source string, duplicate bool) {
	s.webhookEventsTotal.WithLabelValues(source, strconv.FormatBool(duplicate)).Inc()
}

func (s *PrometheusSink) LeaderStatusChanged(isLeader bool) {
	if isLeader {
		s.leaderStatus.Set(1)
		return
	}
	s.leaderStatus.Set(0)
}

func (s *PrometheusSink) LeaderAcquired() {
	s.leaderAcquisitions.Inc()
}

func (s *PrometheusSink) LeaderLost(reason string) {
	s.leaderLossesTotal.WithLabelValues(reason).Inc()
}

// Compile-time interface assertions
var (
	_ Sink = (*PrometheusSink)(nil)
	_ Sink = (*NoopSink)(nil)
)
