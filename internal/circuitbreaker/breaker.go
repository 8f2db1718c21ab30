package circuitbreaker

import (
	"fmt"
	"sync"
	"time"

	"go.uber.org/zap"
)

// State represents the circuit breaker state
type State int

const (
	// StateClosed - circuit breaker is closed, requests pass through
	StateClosed State = iota
	// StateOpen - circuit breaker is open, requests fail fast
	StateOpen
	// StateHalfOpen - circuit breaker is half-open, testing recovery
	StateHalfOpen
)

// String returns the string representation of the state
func (s State) String() string {
	switch s {
	case StateClosed:
		return "CLOSED"
	case StateOpen:
		return "OPEN"
	case StateHalfOpen:
		return "HALF_OPEN"
	default:
		return "UNKNOWN"
	}
}

// Config represents circuit breaker configuration
type Config struct {
	// FailureThreshold is the number of consecutive failures that opens the circuit
	FailureThreshold int `yaml:"failure_threshold"`

	// RecoveryTimeout is how long the circuit stays open before a recovery probe
	RecoveryTimeout time.Duration `yaml:"recovery_timeout"`
}

// DefaultConfig returns a default circuit breaker configuration
func DefaultConfig() *Config {
	return &Config{
		FailureThreshold: 5,
		RecoveryTimeout:  60 * time.Second,
	}
}

// OpenError is returned when the circuit is open and the protected call is
// rejected without being attempted.
type OpenError struct {
	// Name identifies the breaker (usually "<module>_circuit")
	Name string

	// Failures is the consecutive failure count that opened the circuit
	Failures int

	// RetryAfter is the time remaining until a recovery probe is allowed
	RetryAfter time.Duration
}

func (e *OpenError) Error() string {
	return fmt.Sprintf("%s: circuit breaker is open (failed %d times, retry in %.1fs)",
		e.Name, e.Failures, e.RetryAfter.Seconds())
}

// Breaker protects one logical client against a failing module with a
// closed/open/half-open state machine. One breaker instance guards one
// client, not one endpoint: opening is a statement about the module being
// unreachable overall, per-endpoint health is the load balancer's job.
//
// The mutex guards state bookkeeping only; the protected call itself runs
// outside the lock.
type Breaker struct {
	name             string
	failureThreshold int
	recoveryTimeout  time.Duration
	logger           *zap.Logger

	mu              sync.Mutex
	state           State
	failureCount    int
	lastFailureTime time.Time

	// now is replaceable in tests
	now func() time.Time
}

// New creates a new circuit breaker. Out-of-range configuration values are
// clamped: FailureThreshold to at least 1, RecoveryTimeout to at least 1s.
func New(name string, config *Config, logger *zap.Logger) *Breaker {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	b := &Breaker{
		name:             name,
		failureThreshold: config.FailureThreshold,
		recoveryTimeout:  config.RecoveryTimeout,
		state:            StateClosed,
		logger:           logger,
		now:              time.Now,
	}
	if b.failureThreshold < 1 {
		b.failureThreshold = 1
	}
	if b.recoveryTimeout < time.Second {
		b.recoveryTimeout = time.Second
	}
	return b
}

// Do executes fn under circuit breaker protection. When the circuit is open
// and the recovery timeout has not elapsed, fn is not invoked and an
// *OpenError is returned. Otherwise fn runs and its outcome drives the state
// machine; fn's error is returned unchanged on failure.
func (b *Breaker) Do(fn func() error) error {
	if err := b.beforeCall(); err != nil {
		return err
	}

	if err := fn(); err != nil {
		b.recordFailure()
		return err
	}

	b.recordSuccess()
	return nil
}

// beforeCall checks whether the protected call may proceed, transitioning
// OPEN -> HALF_OPEN when the recovery timeout has elapsed.
func (b *Breaker) beforeCall() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.state != StateOpen {
		return nil
	}

	elapsed := b.now().Sub(b.lastFailureTime)
	if elapsed < b.recoveryTimeout {
		return &OpenError{
			Name:       b.name,
			Failures:   b.failureCount,
			RetryAfter: b.recoveryTimeout - elapsed,
		}
	}

	b.state = StateHalfOpen
	b.failureCount = 0
	b.logger.Info("circuit entering half-open state",
		zap.String("breaker", b.name))
	return nil
}

func (b *Breaker) recordSuccess() {
	b.mu.Lock()
	defer b.mu.Unlock()

	switch b.state {
	case StateHalfOpen:
		b.state = StateClosed
		b.failureCount = 0
		b.lastFailureTime = time.Time{}
		b.logger.Info("circuit closed, module recovered",
			zap.String("breaker", b.name))
	case StateClosed:
		b.failureCount = 0
	}
}

func (b *Breaker) recordFailure() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.failureCount++
	b.lastFailureTime = b.now()

	switch b.state {
	case StateHalfOpen:
		b.state = StateOpen
		b.logger.Warn("circuit opened, failed during recovery",
			zap.String("breaker", b.name))
	case StateClosed:
		if b.failureCount >= b.failureThreshold {
			b.state = StateOpen
			b.logger.Warn("circuit opened",
				zap.String("breaker", b.name),
				zap.Int("failures", b.failureCount))
		}
	}
}

// State returns the current circuit state.
func (b *Breaker) State() State {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.state
}

// FailureCount returns the current consecutive failure count.
func (b *Breaker) FailureCount() int {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.failureCount
}

// Reset manually resets the circuit to the closed state.
func (b *Breaker) Reset() {
	b.mu.Lock()
	defer b.mu.Unlock()

	b.state = StateClosed
	b.failureCount = 0
	b.lastFailureTime = time.Time{}
	b.logger.Info("circuit manually reset", zap.String("breaker", b.name))
}

// Name returns the breaker name.
func (b *Breaker) Name() string {
	return b.name
}
