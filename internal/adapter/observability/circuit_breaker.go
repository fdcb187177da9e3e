package observability

import (
	"errors"
	"sync"
	"time"
)

// ErrCircuitOpen is returned by Call while the breaker rejects requests.
var ErrCircuitOpen = errors.New("circuit breaker open")

// BreakerState represents the state of a circuit breaker.
type BreakerState int

const (
	// StateClosed allows all calls.
	StateClosed BreakerState = iota
	// StateOpen rejects calls until the cool-down elapses.
	StateOpen
	// StateHalfOpen allows a limited number of trial calls.
	StateHalfOpen
)

func (s BreakerState) String() string {
	switch s {
	case StateClosed:
		return "closed"
	case StateOpen:
		return "open"
	case StateHalfOpen:
		return "half-open"
	default:
		return "unknown"
	}
}

// CircuitBreaker guards calls to one upstream workflow.
type CircuitBreaker struct {
	name        string
	maxFailures int
	coolDown    time.Duration
	halfOpenMax int
	now         func() time.Time

	mu          sync.Mutex
	state       BreakerState
	failures    int
	successes   int
	lastFailure time.Time
}

// NewCircuitBreaker creates a breaker that opens after maxFailures consecutive
// failures and probes again after coolDown.
func NewCircuitBreaker(name string, maxFailures int, coolDown time.Duration) *CircuitBreaker {
	if maxFailures <= 0 {
		maxFailures = 5
	}
	return &CircuitBreaker{
		name:        name,
		maxFailures: maxFailures,
		coolDown:    coolDown,
		halfOpenMax: 2,
		now:         time.Now,
	}
}

// Allow reports whether a call may proceed, moving open to half-open once the cool-down passed.
func (cb *CircuitBreaker) Allow() bool {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if cb.state == StateOpen && cb.now().Sub(cb.lastFailure) >= cb.coolDown {
		cb.setState(StateHalfOpen)
		cb.successes = 0
	}
	switch cb.state {
	case StateClosed:
		return true
	case StateHalfOpen:
		return cb.successes < cb.halfOpenMax
	default:
		return false
	}
}

// Record updates the breaker with the outcome of a call.
func (cb *CircuitBreaker) Record(err error) {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	if err != nil {
		cb.failures++
		cb.lastFailure = cb.now()
		if cb.state == StateHalfOpen || cb.failures >= cb.maxFailures {
			cb.setState(StateOpen)
		}
		return
	}
	switch cb.state {
	case StateClosed:
		cb.failures = 0
	case StateHalfOpen:
		cb.successes++
		if cb.successes >= cb.halfOpenMax {
			cb.failures = 0
			cb.successes = 0
			cb.setState(StateClosed)
		}
	}
}

// Call runs fn when the breaker allows it.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if !cb.Allow() {
		return ErrCircuitOpen
	}
	err := fn()
	cb.Record(err)
	return err
}

// State returns the current state.
func (cb *CircuitBreaker) State() BreakerState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

func (cb *CircuitBreaker) setState(s BreakerState) {
	cb.state = s
	CircuitBreakerState.WithLabelValues(cb.name).Set(float64(s))
}

var (
	breakersMu sync.Mutex
	breakers   = map[string]*CircuitBreaker{}
)

// GetCircuitBreaker returns the shared breaker for name, creating it on first use.
func GetCircuitBreaker(name string, maxFailures int, coolDown time.Duration) *CircuitBreaker {
	breakersMu.Lock()
	defer breakersMu.Unlock()
	if cb, ok := breakers[name]; ok {
		return cb
	}
	cb := NewCircuitBreaker(name, maxFailures, coolDown)
	breakers[name] = cb
	return cb
}
