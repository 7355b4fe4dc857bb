// Package circuitbreaker guards outbound notification endpoints. Each
// endpoint trips independently after a run of consecutive failures and
// recovers through a single half-open probe once the cooldown passes.
package circuitbreaker

import (
	"errors"
	"sync"
	"time"
)

var ErrOpen = errors.New("circuit open")

type state int

const (
	stateClosed state = iota
	stateOpen
	stateHalfOpen
)

type endpointState struct {
	state               state
	consecutiveFailures int
	openedAt            time.Time
}

// Breaker tracks failure runs per endpoint URL. A threshold of zero or
// less disables tripping entirely.
type Breaker struct {
	mu        sync.Mutex
	endpoints map[string]*endpointState
	threshold int
	cooldown  time.Duration
	clock     func() time.Time
}

func New(threshold int, cooldown time.Duration) *Breaker {
	return &Breaker{
		endpoints: make(map[string]*endpointState),
		threshold: threshold,
		cooldown:  cooldown,
		clock:     time.Now,
	}
}

// WithClock overrides the time source, for tests.
func (b *Breaker) WithClock(clock func() time.Time) *Breaker {
	b.clock = clock
	return b
}

// Allow reports whether a delivery to url may proceed. An open circuit
// past its cooldown transitions to half-open and admits one probe.
func (b *Breaker) Allow(url string) error {
	if b.threshold <= 0 {
		return nil
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[url]
	if !ok {
		return nil
	}

	switch s.state {
	case stateOpen:
		if b.clock().Sub(s.openedAt) >= b.cooldown {
			s.state = stateHalfOpen
			return nil
		}
		return ErrOpen
	case stateHalfOpen:
		// A probe is already in flight.
		return ErrOpen
	default:
		return nil
	}
}

// RecordSuccess closes the circuit for url and resets its failure run.
func (b *Breaker) RecordSuccess(url string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[url]
	if !ok {
		return
	}
	s.state = stateClosed
	s.consecutiveFailures = 0
}

// RecordFailure counts a failed delivery and trips the circuit when the
// run reaches the threshold. A failed half-open probe reopens immediately.
func (b *Breaker) RecordFailure(url string) {
	if b.threshold <= 0 {
		return
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	s, ok := b.endpoints[url]
	if !ok {
		s = &endpointState{}
		b.endpoints[url] = s
	}

	s.consecutiveFailures++
	if s.consecutiveFailures >= b.threshold || s.state == stateHalfOpen {
		s.state = stateOpen
		s.openedAt = b.clock()
	}
}
