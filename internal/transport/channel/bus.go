// Package channel provides an in-process buffered event bus that carries
// decision events from the evaluation pipeline to the notifier.
package channel

import (
	"context"
	"errors"
	"log"
	"sync"

	"github.com/avyuktsoni0731/continuum.ai/internal/domain"
)

// ErrBusClosed is returned by Emit after Close.
var ErrBusClosed = errors.New("event bus closed")

// ErrBusFull is returned by Emit when the buffer is saturated. Callers
// treat the decision as orphaned; the reconciler re-emits it later.
var ErrBusFull = errors.New("event bus full")

// MetricsSink receives bus saturation signals.
type MetricsSink interface {
	BusDropped()
}

// Bus is a bounded in-memory queue of decision events. Emit never blocks:
// when the buffer is full the event is dropped and ErrBusFull returned.
type Bus struct {
	ch      chan domain.DecisionEvent
	metrics MetricsSink

	mu     sync.Mutex
	closed bool
}

// NewBus creates a bus with the given buffer size.
func NewBus(size int) *Bus {
	if size <= 0 {
		size = 256
	}
	return &Bus{ch: make(chan domain.DecisionEvent, size)}
}

// WithMetrics attaches a metrics sink. Must be called before use.
func (b *Bus) WithMetrics(m MetricsSink) *Bus {
	b.metrics = m
	return b
}

// Emit enqueues an event without blocking.
func (b *Bus) Emit(ctx context.Context, ev domain.DecisionEvent) error {
	if err := ctx.Err(); err != nil {
		return err
	}

	// The mutex is held across the non-blocking send so Close cannot
	// close the channel between the closed check and the enqueue.
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return ErrBusClosed
	}

	select {
	case b.ch <- ev:
		return nil
	default:
		if b.metrics != nil {
			b.metrics.BusDropped()
		}
		log.Printf("channel: bus full, dropped decision=%s", ev.DecisionID)
		return ErrBusFull
	}
}

// Events exposes the receive side for a single consumer. The channel is
// closed by Close after the buffer drains.
func (b *Bus) Events() <-chan domain.DecisionEvent {
	return b.ch
}

// Close stops accepting events. Buffered events remain readable until the
// consumer drains them.
func (b *Bus) Close() {
	b.mu.Lock()
	defer b.mu.Unlock()
	if b.closed {
		return
	}
	b.closed = true
	close(b.ch)
}

// Len reports the number of buffered events.
func (b *Bus) Len() int {
	return len(b.ch)
}
