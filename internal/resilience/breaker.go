// Package resilience provides the degradation supervisor and its
// supporting machinery: per-algorithm circuit breakers, retry policy,
// rolling health statistics, host resource monitoring, and fallback
// chain selection for compression workloads.
package resilience

import (
	"sync"
	"time"
)

// BreakerState is the circuit breaker state.
type BreakerState int

// Circuit breaker states.
const (
	StateClosed BreakerState = iota
	StateOpen
	StateHalfOpen
)

// String returns the lowercase state name.
func (s BreakerState) String() string {
	switch s {
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "closed"
	}
}

// BreakerConfig holds configuration for a circuit breaker.
type BreakerConfig struct {
	// FailureThreshold is the consecutive-failure count that opens the
	// breaker. Default: 5
	FailureThreshold int

	// RecoveryTimeout is how long the breaker stays open before a
	// half-open probe is allowed. Default: 60 seconds
	RecoveryTimeout time.Duration

	// HalfOpenRequests is the number of consecutive successes required
	// to close a half-open breaker. Default: 3
	HalfOpenRequests int
}

// DefaultBreakerConfig returns sensible breaker defaults.
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
		HalfOpenRequests: 3,
	}
}

func (c BreakerConfig) withDefaults() BreakerConfig {
	if c.FailureThreshold <= 0 {
		c.FailureThreshold = 5
	}
	if c.RecoveryTimeout <= 0 {
		c.RecoveryTimeout = 60 * time.Second
	}
	if c.HalfOpenRequests <= 0 {
		c.HalfOpenRequests = 3
	}
	return c
}

// CircuitBreaker gates attempts against a single algorithm so a failing
// codec is not paid for repeatedly. Closed admits everything and counts
// consecutive failures (a success decrements the counter, floor zero).
// Open rejects until RecoveryTimeout has elapsed since the last failure,
// then flips to HalfOpen. HalfOpen admits probes: HalfOpenRequests
// consecutive successes close the breaker, any failure reopens it.
type CircuitBreaker struct {
	mu  sync.Mutex
	cfg BreakerConfig

	state             BreakerState
	failureCount      int
	lastFailureTime   time.Time
	halfOpenSuccesses int
}

// NewCircuitBreaker creates a closed breaker with the given configuration.
func NewCircuitBreaker(cfg BreakerConfig) *CircuitBreaker {
	return &CircuitBreaker{cfg: cfg.withDefaults(), state: StateClosed}
}

// CanExecute reports whether an attempt may proceed right now. It must
// be consulted immediately before every attempt, retries included. An
// open breaker whose recovery timeout has elapsed transitions to
// half-open and admits the caller.
func (cb *CircuitBreaker) CanExecute() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateOpen:
		if time.Since(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
			cb.transition(StateHalfOpen)
			return true
		}
		return false
	default:
		return true
	}
}

// RecordSuccess records a successful attempt outcome.
func (cb *CircuitBreaker) RecordSuccess() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	switch cb.state {
	case StateClosed:
		if cb.failureCount > 0 {
			cb.failureCount--
		}
	case StateHalfOpen:
		cb.halfOpenSuccesses++
		if cb.halfOpenSuccesses >= cb.cfg.HalfOpenRequests {
			cb.transition(StateClosed)
			cb.failureCount = 0
		}
	case StateOpen:
		// A stray success while open (an abandoned attempt completing
		// late) does not change state.
	}
}

// RecordFailure records a failed attempt outcome.
func (cb *CircuitBreaker) RecordFailure() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	cb.lastFailureTime = time.Now()

	switch cb.state {
	case StateClosed:
		cb.failureCount++
		if cb.failureCount >= cb.cfg.FailureThreshold {
			cb.transition(StateOpen)
		}
	case StateHalfOpen:
		cb.transition(StateOpen)
	case StateOpen:
	}
}

// ProbeRecovery transitions an open breaker to half-open once its
// recovery timeout has elapsed. The auto-recovery loop calls this as a
// proactive nudge; CanExecute performs the same check lazily, so the
// two are idempotent with each other.
func (cb *CircuitBreaker) ProbeRecovery() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateOpen && time.Since(cb.lastFailureTime) >= cb.cfg.RecoveryTimeout {
		cb.transition(StateHalfOpen)
		return true
	}
	return false
}

// ForceClose closes a half-open breaker, used by healing when the
// algorithm's success rate has recovered.
func (cb *CircuitBreaker) ForceClose() {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	if cb.state == StateHalfOpen {
		cb.transition(StateClosed)
		cb.failureCount = 0
	}
}

// State returns the current breaker state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// FailureCount returns the current consecutive-failure count.
func (cb *CircuitBreaker) FailureCount() int {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.failureCount
}

// transition changes state and resets the half-open probe counter.
// Callers must hold cb.mu.
func (cb *CircuitBreaker) transition(to BreakerState) {
	cb.state = to
	cb.halfOpenSuccesses = 0
}

// BreakerSet owns one breaker per registered algorithm.
type BreakerSet struct {
	mu       sync.RWMutex
	cfg      BreakerConfig
	breakers map[string]*CircuitBreaker
}

// NewBreakerSet creates an empty breaker set; breakers are created on
// demand with the given configuration.
func NewBreakerSet(cfg BreakerConfig) *BreakerSet {
	return &BreakerSet{
		cfg:      cfg.withDefaults(),
		breakers: make(map[string]*CircuitBreaker),
	}
}

// Get returns the breaker for name, creating it if needed.
func (bs *BreakerSet) Get(name string) *CircuitBreaker {
	bs.mu.RLock()
	cb, ok := bs.breakers[name]
	bs.mu.RUnlock()
	if ok {
		return cb
	}

	bs.mu.Lock()
	defer bs.mu.Unlock()
	if cb, ok := bs.breakers[name]; ok {
		return cb
	}
	cb = NewCircuitBreaker(bs.cfg)
	bs.breakers[name] = cb
	return cb
}

// Names returns the names of all known breakers.
func (bs *BreakerSet) Names() []string {
	bs.mu.RLock()
	defer bs.mu.RUnlock()

	names := make([]string, 0, len(bs.breakers))
	for name := range bs.breakers {
		names = append(names, name)
	}
	return names
}
