package resilience

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned when a call is attempted while a provider's
// circuit is open.
var ErrCircuitOpen = errors.New("provider_circuit_open")

// BreakerConfig tunes the circuit breaker.
type BreakerConfig struct {
	FailureThreshold int           // K consecutive failures to trip
	Cooldown         time.Duration
}

// DefaultBreakerConfig trips after 5 consecutive failures.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{FailureThreshold: 5, Cooldown: 30 * time.Second}
}

// circuitState is one provider's failure count and open-until time. A
// small struct with a mutex suffices; the orchestrator is single-process
// with one cooperative task per run.
type circuitState struct {
	failures  int
	openUntil time.Time
}

// Breakers is the process-wide circuit map, keyed by provider id and
// owned by the orchestrator.
type Breakers struct {
	mu     sync.Mutex
	states map[string]*circuitState
	config BreakerConfig
	now    func() time.Time
}

func NewBreakers(config BreakerConfig) *Breakers {
	return &Breakers{states: make(map[string]*circuitState), config: config, now: time.Now}
}

// Allow reports whether a call to providerID may proceed. If the circuit is
// open, it returns ErrCircuitOpen and the call must fail fast without
// touching the network.
func (b *Breakers) Allow(providerID string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[providerID]
	if !ok {
		return nil
	}
	if !state.openUntil.IsZero() && b.now().Before(state.openUntil) {
		return ErrCircuitOpen
	}
	return nil
}

// RecordSuccess resets failures to 0 and clears openUntil.
func (b *Breakers) RecordSuccess(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateFor(providerID)
	state.failures = 0
	state.openUntil = time.Time{}
}

// RecordFailure increments the failure counter; after reaching the
// threshold it trips the circuit for config.Cooldown.
func (b *Breakers) RecordFailure(providerID string) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state := b.stateFor(providerID)
	state.failures++
	if state.failures >= b.config.FailureThreshold {
		state.openUntil = b.now().Add(b.config.Cooldown)
	}
}

func (b *Breakers) stateFor(providerID string) *circuitState {
	state, ok := b.states[providerID]
	if !ok {
		state = &circuitState{}
		b.states[providerID] = state
	}
	return state
}

// Snapshot returns the current failures/openUntil for a provider, for
// diagnostics and tests.
func (b *Breakers) Snapshot(providerID string) (failures int, openUntil time.Time) {
	b.mu.Lock()
	defer b.mu.Unlock()
	state, ok := b.states[providerID]
	if !ok {
		return 0, time.Time{}
	}
	return state.failures, state.openUntil
}
