package probe

import (
	"errors"
	"sync"
	"time"

	"github.com/mescon/repeatd/internal/clock"
)

// CircuitState represents the current state of a circuit breaker.
type CircuitState int

const (
	// CircuitClosed is the normal operating state - probes are sent.
	CircuitClosed CircuitState = iota
	// CircuitOpen is the failure state - probes fail fast without a request.
	CircuitOpen
	// CircuitHalfOpen lets probes through to test whether the target has recovered.
	CircuitHalfOpen
)

func (s CircuitState) String() string {
	switch s {
	case CircuitClosed:
		return "closed"
	case CircuitOpen:
		return "open"
	case CircuitHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// ErrCircuitOpen is returned when a target's circuit is open.
var ErrCircuitOpen = errors.New("circuit breaker is open: target unavailable")

// BreakerConfig configures circuit breaker behavior.
type BreakerConfig struct {
	// FailureThreshold is the number of consecutive failures before opening.
	// Default: 5
	FailureThreshold int
	// ResetTimeout is how long the circuit stays open before going half-open.
	// Default: 30 seconds
	ResetTimeout time.Duration
	// SuccessThreshold is the consecutive successes in half-open needed to close.
	// Default: 2
	SuccessThreshold int
}

// DefaultBreakerConfig returns the default circuit breaker settings.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		ResetTimeout:     30 * time.Second,
		SuccessThreshold: 2,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	d := DefaultBreakerConfig()
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = d.FailureThreshold
	}
	if c.ResetTimeout <= 0 {
		c.ResetTimeout = d.ResetTimeout
	}
	if c.SuccessThreshold <= 0 {
		c.SuccessThreshold = d.SuccessThreshold
	}
	return c
}

// CircuitBreaker tracks the health of one probe target.
type CircuitBreaker struct {
	mu          sync.Mutex
	config      BreakerConfig
	clock       clock.Clock
	state       CircuitState
	failures    int
	successes   int
	lastFailure time.Time
	rejected    int64
}

// NewCircuitBreaker creates a closed breaker. A nil clock uses the real clock.
func NewCircuitBreaker(config BreakerConfig, clk clock.Clock) *CircuitBreaker {
	if clk == nil {
		clk = clock.Default
	}
	return &CircuitBreaker{config: config.withDefaults(), clock: clk}
}

// Allow reports whether a probe may be sent now.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state != CircuitOpen {
		return true
	}
	if cb.clock.Now().Sub(cb.lastFailure) >= cb.config.ResetTimeout {
		cb.state = CircuitHalfOpen
		cb.successes = 0
		return true
	}
	cb.rejected++
	return false
}

// RecordSuccess records a successful probe, closing the circuit once the
// half-open success threshold is met.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case CircuitClosed:
		cb.failures = 0
	case CircuitHalfOpen, CircuitOpen:
		cb.state = CircuitHalfOpen
		cb.successes++
		if cb.successes >= cb.config.SuccessThreshold {
			cb.state = CircuitClosed
			cb.failures = 0
			cb.successes = 0
		}
	}
}

// RecordFailure records a failed probe, opening the circuit at the threshold
// or immediately when half-open.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.failures++
	cb.successes = 0
	cb.lastFailure = cb.clock.Now()

	switch cb.state {
	case CircuitClosed:
		if cb.failures >= cb.config.FailureThreshold {
			cb.state = CircuitOpen
		}
	case CircuitHalfOpen:
		cb.state = CircuitOpen
	}
}

func (cb *CircuitBreaker) State() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// Rejected returns how many probes were refused while open.
func (cb *CircuitBreaker) Rejected() int64 {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.rejected
}

// breakers hands out one circuit breaker per target.
type breakers struct {
	mu     sync.Mutex
	config BreakerConfig
	clock  clock.Clock
	byKey  map[string]*CircuitBreaker
}

func newBreakers(config BreakerConfig, clk clock.Clock) *breakers {
	return &breakers{config: config, clock: clk, byKey: make(map[string]*CircuitBreaker)}
}

func (b *breakers) get(target string) *CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	cb, ok := b.byKey[target]
	if !ok {
		cb = NewCircuitBreaker(b.config, b.clock)
		b.byKey[target] = cb
	}
	return cb
}
