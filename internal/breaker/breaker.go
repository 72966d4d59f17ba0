// Package breaker implements per-model circuit breakers.
//
// Each model gets an explicit Closed -> Open -> Half-Open state machine.
// The breaker opens after a threshold of consecutive failures, short-
// circuits attempts during a cooldown, then admits a single probe; the
// probe's outcome closes or re-opens the breaker.
package breaker

import (
	"log"
	"sync"
	"time"
)

// State is the breaker's current position in the state machine.
type State string

const (
	StateClosed   State = "closed"
	StateOpen     State = "open"
	StateHalfOpen State = "half_open"
)

const (
	// DefaultThreshold is the consecutive-failure count that opens a breaker.
	DefaultThreshold = 5

	// DefaultCooldown is how long an open breaker rejects attempts before
	// admitting a probe.
	DefaultCooldown = 30 * time.Second
)

// Breaker is the failure-isolation state machine for one model.
type Breaker struct {
	mu          sync.Mutex
	name        string
	state       State
	failures    int
	threshold   int
	cooldown    time.Duration
	lastFailure time.Time
	probing     bool
}

// NewBreaker creates a closed Breaker.
func NewBreaker(name string, threshold int, cooldown time.Duration) *Breaker {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	if cooldown <= 0 {
		cooldown = DefaultCooldown
	}
	return &Breaker{
		name:      name,
		state:     StateClosed,
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// Allow reports whether an attempt may proceed. When the cooldown of an
// open breaker has elapsed it transitions to half-open and admits exactly
// one probe; concurrent callers are rejected until the probe resolves.
func (b *Breaker) Allow() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateClosed:
		return true
	case StateOpen:
		if time.Since(b.lastFailure) >= b.cooldown {
			b.state = StateHalfOpen
			b.probing = true
			log.Printf("breaker: %s half-open, admitting probe", b.name)
			return true
		}
		return false
	case StateHalfOpen:
		if b.probing {
			return false
		}
		b.probing = true
		return true
	}
	return true
}

// Available reports whether the breaker would admit an attempt, without
// consuming the half-open probe slot. Used for candidate filtering; the
// actual admission still goes through Allow.
func (b *Breaker) Available() bool {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateOpen:
		return time.Since(b.lastFailure) >= b.cooldown
	case StateHalfOpen:
		return !b.probing
	}
	return true
}

// Success records a successful attempt. A half-open probe success closes
// the breaker and resets the failure count.
func (b *Breaker) Success() {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state == StateHalfOpen {
		log.Printf("breaker: %s probe succeeded, closing", b.name)
	}
	b.state = StateClosed
	b.failures = 0
	b.probing = false
}

// Failure records a failed attempt. Reaching the threshold in closed
// state, or failing the half-open probe, opens the breaker.
func (b *Breaker) Failure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.lastFailure = time.Now()
	b.probing = false

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		log.Printf("breaker: %s probe failed, re-opening", b.name)
	case StateClosed:
		b.failures++
		if b.failures >= b.threshold {
			b.state = StateOpen
			log.Printf("breaker: %s opened after %d consecutive failures", b.name, b.failures)
		}
	}
}

// State returns the breaker's current state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// Manager holds one breaker per model id.
type Manager struct {
	mu        sync.Mutex
	breakers  map[string]*Breaker
	threshold int
	cooldown  time.Duration
}

// NewManager creates a Manager producing breakers with the given settings.
func NewManager(threshold int, cooldown time.Duration) *Manager {
	return &Manager{
		breakers:  make(map[string]*Breaker),
		threshold: threshold,
		cooldown:  cooldown,
	}
}

// For returns the breaker for a model, creating it closed on first use.
func (m *Manager) For(modelID string) *Breaker {
	m.mu.Lock()
	defer m.mu.Unlock()

	b, ok := m.breakers[modelID]
	if !ok {
		b = NewBreaker(modelID, m.threshold, m.cooldown)
		m.breakers[modelID] = b
	}
	return b
}

// Remove drops the breaker for a model (after unregistration).
func (m *Manager) Remove(modelID string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	delete(m.breakers, modelID)
}

// OpenCount returns how many breakers are currently open.
func (m *Manager) OpenCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()

	count := 0
	for _, b := range m.breakers {
		if b.State() == StateOpen {
			count++
		}
	}
	return count
}

// States returns a snapshot of every breaker's state.
func (m *Manager) States() map[string]State {
	m.mu.Lock()
	defer m.mu.Unlock()

	out := make(map[string]State, len(m.breakers))
	for id, b := range m.breakers {
		out[id] = b.State()
	}
	return out
}
