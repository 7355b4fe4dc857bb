// Package notifier delivers decision events to the messaging layer over
// signed webhooks with bounded retries.
package notifier

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/avyuktsoni0731/continuum.ai/internal/circuitbreaker"
	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
	"github.com/avyuktsoni0731/continuum.ai/internal/roster"
)

var defaultBackoff = []time.Duration{
	0,
	30 * time.Second,
	2 * time.Minute,
	10 * time.Minute,
}

const maxAttempts = 4

// ErrStatusTransitionDenied is returned when a status update would regress
// from a terminal state (delivered/failed).
var ErrStatusTransitionDenied = errors.New("status transition denied: decision already in terminal state")

type Store interface {
	InsertDeliveryAttempt(ctx context.Context, attempt domain.DeliveryAttempt) error
	// UpdateDecisionStatus sets the delivery status. Implementations MUST
	// reject transitions from terminal states (delivered/failed) and return
	// ErrStatusTransitionDenied. This keeps replays idempotent.
	UpdateDecisionStatus(ctx context.Context, decisionID uuid.UUID, status domain.DeliveryStatus) error
}

type Sender interface {
	Send(ctx context.Context, req Request) Result
}

// MetricsSink records delivery telemetry. All methods must be
// non-blocking and fire-and-forget.
type MetricsSink interface {
	DeliveryAttemptCompleted(attempt int, statusClass string, duration time.Duration)
	DeliveryOutcome(outcome string)
	EventsInFlightIncr()
	EventsInFlightDecr()
}

// Endpoint is where and how to deliver for one user.
type Endpoint struct {
	URL     string
	Secret  string
	Timeout time.Duration
}

type Request struct {
	Endpoint  Endpoint
	Payload   Payload
	AttemptID string
}

// Payload is the notification body the messaging layer renders.
type Payload struct {
	DecisionID  string                  `json:"decision_id"`
	TriggerID   string                  `json:"trigger_id"`
	WorkItemID  string                  `json:"work_item_id"`
	UserID      string                  `json:"user_id"`
	Action      domain.Action           `json:"action"`
	Criticality float64                 `json:"cs"`
	Feasibility float64                 `json:"afs"`
	Reasoning   string                  `json:"reasoning"`
	Factors     domain.FactorSnapshot   `json:"factors"`
	Guardrails  []domain.GuardrailCheck `json:"guardrail_results"`
	DelegateID  string                  `json:"delegate,omitempty"`
	DecidedAt   string                  `json:"decided_at"`
	EmittedAt   string                  `json:"emitted_at"`
}

type Result struct {
	StatusCode int
	Error      error
	Duration   time.Duration
}

func (r Result) IsSuccess() bool {
	return r.Error == nil && r.StatusCode >= 200 && r.StatusCode < 300
}

func (r Result) IsRetryable() bool {
	if r.Error != nil {
		return true
	}
	if r.StatusCode == 429 {
		return true
	}
	return r.StatusCode >= 500
}

// Notifier consumes decision events and pushes them to each user's
// notification endpoint.
type Notifier struct {
	store    Store
	sender   Sender
	roster   roster.Repository
	fallback Endpoint

	breaker *circuitbreaker.Breaker // optional, nil = disabled
	metrics MetricsSink             // optional, nil = disabled
	backoff []time.Duration
}

// New builds a notifier. fallback is used for users without a personal
// notification URL.
func New(store Store, sender Sender, repo roster.Repository, fallback Endpoint) *Notifier {
	return &Notifier{
		store:    store,
		sender:   sender,
		roster:   repo,
		fallback: fallback,
		backoff:  defaultBackoff,
	}
}

// WithBreaker attaches a per-endpoint circuit breaker.
func (n *Notifier) WithBreaker(b *circuitbreaker.Breaker) *Notifier {
	n.breaker = b
	return n
}

// WithMetrics attaches a metrics sink.
func (n *Notifier) WithMetrics(m MetricsSink) *Notifier {
	n.metrics = m
	return n
}

// Run processes events from the channel until the context is cancelled,
// then drains remaining buffered events with a timeout.
func (n *Notifier) Run(ctx context.Context, ch <-chan domain.DecisionEvent) {
	for {
		select {
		case <-ctx.Done():
			n.drain(ch)
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			if err := n.Deliver(ctx, ev); err != nil {
				log.Printf("notifier: error: %v", err)
			}
		}
	}
}

// DrainTimeout bounds shutdown processing of buffered events.
const DrainTimeout = 30 * time.Second

func (n *Notifier) drain(ch <-chan domain.DecisionEvent) {
	drainCtx, cancel := context.WithTimeout(context.Background(), DrainTimeout)
	defer cancel()

	count := 0
	for {
		select {
		case <-drainCtx.Done():
			log.Printf("notifier: drain timeout, processed %d events", count)
			return
		case ev, ok := <-ch:
			if !ok {
				log.Printf("notifier: drain complete, processed %d events", count)
				return
			}
			if err := n.Deliver(drainCtx, ev); err != nil {
				log.Printf("notifier: drain error: %v", err)
			}
			count++
		default:
			if count > 0 {
				log.Printf("notifier: drain complete, processed %d events", count)
			}
			return
		}
	}
}

// Deliver pushes one decision event, retrying per the backoff schedule.
// The decision ends in a terminal status either way; replays of an
// already-terminal decision are no-ops.
func (n *Notifier) Deliver(ctx context.Context, ev domain.DecisionEvent) error {
	if n.metrics != nil {
		n.metrics.EventsInFlightIncr()
		defer n.metrics.EventsInFlightDecr()
	}

	endpoint := n.resolveEndpoint(ctx, ev.Decision.UserID)
	if endpoint.URL == "" {
		log.Printf("notifier: decision=%s user=%s has no notification endpoint", ev.DecisionID, ev.Decision.UserID)
		return n.finish(ctx, ev, domain.DeliveryStatusFailed, "failed")
	}

	req := Request{
		Endpoint: endpoint,
		Payload:  buildPayload(ev),
	}

	var last Result

	for attempt := 1; attempt <= maxAttempts; attempt++ {
		if attempt > 1 {
			idx := attempt - 1
			if idx >= len(n.backoff) {
				idx = len(n.backoff) - 1
			}
			log.Printf("notifier: decision=%s attempt=%d backoff=%s", ev.DecisionID, attempt, n.backoff[idx])

			timer := time.NewTimer(n.backoff[idx])
			select {
			case <-ctx.Done():
				if !timer.Stop() {
					select {
					case <-timer.C:
					default:
					}
				}
				return ctx.Err()
			case <-timer.C:
			}
		}

		if n.breaker != nil {
			if err := n.breaker.Allow(endpoint.URL); err != nil {
				log.Printf("notifier: decision=%s endpoint circuit open, giving up", ev.DecisionID)
				if n.metrics != nil {
					n.metrics.DeliveryOutcome("circuit_open")
				}
				return n.finish(ctx, ev, domain.DeliveryStatusFailed, "")
			}
		}

		attemptID := uuid.New()
		req.AttemptID = attemptID.String()

		startedAt := time.Now().UTC()
		result := n.sender.Send(ctx, req)
		finishedAt := time.Now().UTC()
		last = result

		if n.metrics != nil {
			n.metrics.DeliveryAttemptCompleted(attempt, classifyStatus(result.StatusCode, result.Error), result.Duration)
		}

		record := domain.DeliveryAttempt{
			ID:         attemptID,
			DecisionID: ev.DecisionID,
			Attempt:    attempt,
			StatusCode: result.StatusCode,
			StartedAt:  startedAt,
			FinishedAt: finishedAt,
		}
		if result.Error != nil {
			record.Error = result.Error.Error()
		}
		if err := n.store.InsertDeliveryAttempt(ctx, record); err != nil {
			log.Printf("notifier: failed to record attempt: %v", err)
		}

		if result.IsSuccess() {
			if n.breaker != nil {
				n.breaker.RecordSuccess(endpoint.URL)
			}
			log.Printf("notifier: decision=%s delivered attempt=%d", ev.DecisionID, attempt)
			return n.finish(ctx, ev, domain.DeliveryStatusDelivered, "success")
		}

		if n.breaker != nil {
			n.breaker.RecordFailure(endpoint.URL)
		}

		if !result.IsRetryable() {
			log.Printf("notifier: decision=%s non-retryable status=%d", ev.DecisionID, result.StatusCode)
			break
		}

		log.Printf("notifier: decision=%s attempt=%d failed status=%d err=%v", ev.DecisionID, attempt, result.StatusCode, result.Error)
	}

	log.Printf("notifier: decision=%s failed status=%d err=%v", ev.DecisionID, last.StatusCode, last.Error)
	return n.finish(ctx, ev, domain.DeliveryStatusFailed, "failed")
}

func (n *Notifier) finish(ctx context.Context, ev domain.DecisionEvent, status domain.DeliveryStatus, outcome string) error {
	if outcome != "" && n.metrics != nil {
		n.metrics.DeliveryOutcome(outcome)
	}
	if err := n.store.UpdateDecisionStatus(ctx, ev.DecisionID, status); err != nil {
		if errors.Is(err, ErrStatusTransitionDenied) {
			// Already terminal, likely a reprocessed orphan.
			log.Printf("notifier: decision=%s already terminal, skipping status update", ev.DecisionID)
			return nil
		}
		return fmt.Errorf("update decision status: %w", err)
	}
	return nil
}

// resolveEndpoint picks the user's personal endpoint when set, otherwise
// the configured fallback.
func (n *Notifier) resolveEndpoint(ctx context.Context, userID string) Endpoint {
	if n.roster != nil {
		profile, ok, err := n.roster.User(ctx, userID)
		if err != nil {
			log.Printf("notifier: user lookup failed user=%s: %v", userID, err)
		} else if ok && profile.NotifyURL != "" {
			return Endpoint{URL: profile.NotifyURL, Secret: n.fallback.Secret, Timeout: n.fallback.Timeout}
		}
	}
	return n.fallback
}

func buildPayload(ev domain.DecisionEvent) Payload {
	dec := ev.Decision
	return Payload{
		DecisionID:  dec.ID.String(),
		TriggerID:   dec.TriggerID.String(),
		WorkItemID:  dec.WorkItemID,
		UserID:      dec.UserID,
		Action:      dec.Action,
		Criticality: dec.Criticality,
		Feasibility: dec.Feasibility,
		Reasoning:   dec.Reasoning,
		Factors:     dec.Factors,
		Guardrails:  dec.Guardrails,
		DelegateID:  dec.DelegateID,
		DecidedAt:   dec.CreatedAt.UTC().Format(time.RFC3339),
		EmittedAt:   ev.EmittedAt.UTC().Format(time.RFC3339),
	}
}

// classifyStatus maps a delivery result to a bounded metrics class:
// 2xx, 4xx, 5xx, timeout, connection_error, other_error.
func classifyStatus(statusCode int, err error) string {
	if err != nil {
		msg := err.Error()
		if containsInsensitive(msg, "timeout") || containsInsensitive(msg, "deadline exceeded") {
			return "timeout"
		}
		if containsInsensitive(msg, "connection refused") ||
			containsInsensitive(msg, "no such host") ||
			containsInsensitive(msg, "network is unreachable") ||
			containsInsensitive(msg, "dial") {
			return "connection_error"
		}
		return "other_error"
	}

	switch {
	case statusCode >= 200 && statusCode < 300:
		return "2xx"
	case statusCode >= 400 && statusCode < 500:
		return "4xx"
	case statusCode >= 500:
		return "5xx"
	default:
		return "other_error"
	}
}

func containsInsensitive(s, substr string) bool {
	return strings.Contains(strings.ToLower(s), strings.ToLower(substr))
}
