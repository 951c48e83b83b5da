package recovery

import (
	"errors"
	"fmt"
	"sync"
	"time"
)

// ErrCircuitOpen is wrapped by every error returned for a rejected call.
var ErrCircuitOpen = errors.New("circuit breaker rejected call")

// CircuitState represents the state of the circuit breaker
type CircuitState int

const (
	// StateClosed - normal operation, calls pass through
	StateClosed CircuitState = iota
	// StateOpen - failing, calls rejected immediately
	StateOpen
	// StateHalfOpen - probing recovery with a limited number of calls
	StateHalfOpen
)

// String returns the string representation of the circuit state
func (s CircuitState) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF-OPEN"
	default:
		return "UNKNOWN"
	}
}

// CircuitBreakerConfig holds configuration for circuit breaker
type CircuitBreakerConfig struct {
	MaxFailures      int           // Default: 5
	Timeout          time.Duration // Default: 30 seconds
	HalfOpenMaxTries int           // Default: 1

	// OnStateChange, when set, is called outside the lock after every transition.
	OnStateChange func(from, to CircuitState)
}

// CircuitBreaker stops calling a failing collaborator for a while so the
// caller fails fast instead of waiting on it every time.
type CircuitBreaker struct {
	maxFailures      int
	timeout          time.Duration
	halfOpenMaxTries int
	onStateChange    func(from, to CircuitState)
	now              func() time.Time

	state            CircuitState
	failures         int
	lastFailureTime  time.Time
	lastStateChange  time.Time
	halfOpenAttempts int
	halfOpenSuccess  int

	mu sync.Mutex
}

// NewCircuitBreaker creates a new circuit breaker with given configuration
func NewCircuitBreaker(config CircuitBreakerConfig) *CircuitBreaker {
	if config.MaxFailures <= 0 {
		config.MaxFailures = 5
	}
	if config.Timeout <= 0 {
		config.Timeout = 30 * time.Second
	}
	if config.HalfOpenMaxTries <= 0 {
		config.HalfOpenMaxTries = 1
	}

	cb := &CircuitBreaker{
		maxFailures:      config.MaxFailures,
		timeout:          config.Timeout,
		halfOpenMaxTries: config.HalfOpenMaxTries,
		onStateChange:    config.OnStateChange,
		now:              time.Now,
		state:            StateClosed,
	}
	cb.lastStateChange = cb.now()
	return cb
}

// Call executes fn if the circuit allows it.
// A rejected call returns an error wrapping ErrCircuitOpen without running fn.
func (cb *CircuitBreaker) Call(fn func() error) error {
	if err := cb.beforeCall(); err != nil {
		return err
	}
	err := fn()
	cb.afterCall(err)
	return err
}

func (cb *CircuitBreaker) beforeCall() error {
	cb.mu.Lock()
	from := cb.state
	var err error

	switch cb.state {
	case StateOpen:
		if cb.now().Sub(cb.lastFailureTime) < cb.timeout {
			wait := cb.lastFailureTime.Add(cb.timeout).Sub(cb.now())
			err = fmt.Errorf("%w: OPEN after %d failures, retry in %.0fs", ErrCircuitOpen, cb.failures, wait.Seconds())
			break
		}
		cb.transition(StateHalfOpen)
		cb.halfOpenAttempts = 1
	case StateHalfOpen:
		if cb.halfOpenAttempts >= cb.halfOpenMaxTries {
			err = fmt.Errorf("%w: HALF-OPEN probe limit reached", ErrCircuitOpen)
			break
		}
		cb.halfOpenAttempts++
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
	return err
}

func (cb *CircuitBreaker) afterCall(err error) {
	cb.mu.Lock()
	from := cb.state

	if err != nil {
		cb.failures++
		cb.lastFailureTime = cb.now()
		switch cb.state {
		case StateClosed:
			if cb.failures >= cb.maxFailures {
				cb.transition(StateOpen)
			}
		case StateHalfOpen:
			cb.transition(StateOpen)
		}
	} else {
		switch cb.state {
		case StateClosed:
			cb.failures = 0
		case StateHalfOpen:
			cb.halfOpenSuccess++
			if cb.halfOpenSuccess >= cb.halfOpenMaxTries {
				cb.transition(StateClosed)
				cb.failures = 0
			}
		}
	}
	to := cb.state
	cb.mu.Unlock()

	cb.notify(from, to)
}

// transition must be called with mu held.
func (cb *CircuitBreaker) transition(to CircuitState) {
	cb.state = to
	cb.halfOpenAttempts = 0
	cb.halfOpenSuccess = 0
	cb.lastStateChange = cb.now()
}

func (cb *CircuitBreaker) notify(from, to CircuitState) {
	if from != to && cb.onStateChange != nil {
		cb.onStateChange(from, to)
	}
}

// GetState returns the current state of the circuit breaker
func (cb *CircuitBreaker) GetState() CircuitState {
	cb.mu.Lock()
	defer cb.mu.Unlock()
	return cb.state
}

// IsOpen returns true if circuit is open
func (cb *CircuitBreaker) IsOpen() bool {
	return cb.GetState() == StateOpen
}

// IsClosed returns true if circuit is closed
func (cb *CircuitBreaker) IsClosed() bool {
	return cb.GetState() == StateClosed
}

// Reset manually resets the circuit breaker to closed state
func (cb *CircuitBreaker) Reset() {
	cb.mu.Lock()
	from := cb.state
	cb.transition(StateClosed)
	cb.failures = 0
	cb.mu.Unlock()
	cb.notify(from, StateClosed)
}

// GetStats returns statistics about the circuit breaker
func (cb *CircuitBreaker) GetStats() CircuitBreakerStats {
	cb.mu.Lock()
	defer cb.mu.Unlock()

	return CircuitBreakerStats{
		State:                    cb.state,
		Failures:                 cb.failures,
		LastFailureTime:          cb.lastFailureTime,
		LastStateChange:          cb.lastStateChange,
		HalfOpenAttempts:         cb.halfOpenAttempts,
		TimeSinceLastStateChange: cb.now().Sub(cb.lastStateChange),
	}
}

// CircuitBreakerStats holds statistics about the circuit breaker
type CircuitBreakerStats struct {
	State                    CircuitState
	Failures                 int
	LastFailureTime          time.Time
	LastStateChange          time.Time
	HalfOpenAttempts         int
	TimeSinceLastStateChange time.Duration
}

// String returns a string representation of the stats
func (s CircuitBreakerStats) String() string {
	last := "never"
	if !s.LastFailureTime.IsZero() {
		last = time.Since(s.LastFailureTime).Round(time.Second).String() + " ago"
	}
	return fmt.Sprintf("State: %s, Failures: %d, Last Failure: %s, Last State Change: %s ago",
		s.State, s.Failures, last, s.TimeSinceLastStateChange.Round(time.Second))
}
