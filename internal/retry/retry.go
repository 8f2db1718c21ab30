package retry

import (
	"time"

	"go.uber.org/zap"
)

// Config represents retry policy configuration
type Config struct {
	// MaxRetries is the number of retries after the first attempt (0 = no retries)
	MaxRetries int `yaml:"max_retries"`

	// InitialDelay is the delay before the first retry
	InitialDelay time.Duration `yaml:"initial_delay"`

	// MaxDelay caps the delay between retries
	MaxDelay time.Duration `yaml:"max_delay"`

	// Multiplier is the exponential backoff multiplier
	Multiplier float64 `yaml:"multiplier"`
}

// DefaultConfig returns a default retry configuration
func DefaultConfig() *Config {
	return &Config{
		MaxRetries:   3,
		InitialDelay: 1 * time.Second,
		MaxDelay:     60 * time.Second,
		Multiplier:   2.0,
	}
}

// Policy executes a unit of work with bounded exponential-backoff retry.
// The backoff sequence is deterministic: no jitter is applied.
type Policy struct {
	maxRetries   int
	initialDelay time.Duration
	maxDelay     time.Duration
	multiplier   float64
	logger       *zap.Logger

	// sleep is replaceable in tests
	sleep func(time.Duration)
}

// New creates a new retry policy. Out-of-range configuration values are
// clamped rather than rejected.
func New(config *Config, logger *zap.Logger) *Policy {
	if config == nil {
		config = DefaultConfig()
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	p := &Policy{
		maxRetries:   config.MaxRetries,
		initialDelay: config.InitialDelay,
		maxDelay:     config.MaxDelay,
		multiplier:   config.Multiplier,
		logger:       logger,
		sleep:        time.Sleep,
	}
	if p.maxRetries < 0 {
		p.maxRetries = 0
	}
	if p.initialDelay < 0 {
		p.initialDelay = 0
	}
	if p.maxDelay < p.initialDelay {
		p.maxDelay = p.initialDelay
	}
	if p.multiplier < 1.0 {
		p.multiplier = 1.0
	}
	return p
}

// Execute runs fn, retrying on any error until the retry budget is exhausted.
func (p *Policy) Execute(fn func() error) error {
	return p.ExecuteIf(fn, nil)
}

// ExecuteIf runs fn with retry. shouldRetry decides per error whether another
// attempt is worthwhile; a nil shouldRetry retries every error. When
// shouldRetry returns false the error is returned immediately without delay.
// The total number of attempts is MaxRetries+1 and the error from the last
// attempt is returned when the budget runs out.
func (p *Policy) ExecuteIf(fn func() error, shouldRetry func(error) bool) error {
	delay := p.initialDelay

	var lastErr error
	for attempt := 0; attempt <= p.maxRetries; attempt++ {
		lastErr = fn()
		if lastErr == nil {
			return nil
		}

		if shouldRetry != nil && !shouldRetry(lastErr) {
			return lastErr
		}

		if attempt >= p.maxRetries {
			p.logger.Debug("retry budget exhausted",
				zap.Int("attempts", attempt+1),
				zap.Error(lastErr))
			return lastErr
		}

		p.logger.Debug("retrying after failure",
			zap.Int("attempt", attempt+1),
			zap.Int("max_retries", p.maxRetries),
			zap.Duration("delay", delay),
			zap.Error(lastErr))
		p.sleep(delay)

		delay = time.Duration(float64(delay) * p.multiplier)
		if delay > p.maxDelay {
			delay = p.maxDelay
		}
	}

	return lastErr
}

// MaxRetries returns the configured retry budget after clamping.
func (p *Policy) MaxRetries() int {
	return p.maxRetries
}
