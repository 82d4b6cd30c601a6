package retrypolicy

import (
	"errors"
	"time"
)

// Done is the sentinel returned when no further retries should be attempted
const Done time.Duration = -1

const (
	defaultInitialInterval    = 50 * time.Millisecond
	defaultBackoffCoefficient = 2.0
	defaultMaximumInterval    = 10 * time.Second
	defaultExpirationInterval = time.Minute
	defaultMaximumAttempts    = 11
)

type (
	// Retry is a policy for how an operation should be retried
	Retry interface {
		// CalculateNextDelay returns the next delay interval, or Done
		CalculateNextDelay() time.Duration
	}

	// Option applies a setting to a policy
	Option func(policy *policy) error

	policy struct {
		currentAttempt     int
		maximumAttempt     int
		initialInterval    time.Duration
		backoffCoefficient float64
		maximumInterval    time.Duration
		expirationInterval time.Duration
		startTime          time.Time
	}
)

// New creates a retry policy from the given options
func New(options ...Option) (Retry, error) {
	retry := policy{
		maximumAttempt:     defaultMaximumAttempts,
		initialInterval:    defaultInitialInterval,
		backoffCoefficient: defaultBackoffCoefficient,
		maximumInterval:    defaultMaximumInterval,
		expirationInterval: defaultExpirationInterval,
		startTime:          time.Now(),
	}
	for _, option := range options {
		if err := option(&retry); err != nil {
			return nil, errors.New("failed to initialize retry policy")
		}
	}
	return &retry, nil
}

// WithInitialInterval sets the delay before the first retry
func WithInitialInterval(initialInterval time.Duration) Option {
	return func(p *policy) error {
		p.initialInterval = initialInterval
		return nil
	}
}

// WithBackoffCoefficient sets the multiplier applied between retries
func WithBackoffCoefficient(backoffCoefficient float64) Option {
	return func(p *policy) error {
		p.backoffCoefficient = backoffCoefficient
		return nil
	}
}

// WithMaximumInterval caps the delay between retries
func WithMaximumInterval(maximumInterval time.Duration) Option {
	return func(p *policy) error {
		p.maximumInterval = maximumInterval
		return nil
	}
}

// WithExpirationInterval bounds the total time spent retrying
func WithExpirationInterval(expirationInterval time.Duration) Option {
	return func(p *policy) error {
		p.expirationInterval = expirationInterval
		return nil
	}
}

// WithMaximumAttempts bounds the number of attempts
func WithMaximumAttempts(maximumAttempts int) Option {
	return func(p *policy) error {
		p.maximumAttempt = maximumAttempts
		return nil
	}
}

// CalculateNextDelay returns the next delay interval, or Done
func (p *policy) CalculateNextDelay() time.Duration {
	if p.currentAttempt >= p.maximumAttempt {
		return Done
	}

	if p.expirationInterval > 0 && time.Since(p.startTime) > p.expirationInterval {
		return Done
	}

	nextInterval := float64(p.initialInterval)
	for i := 0; i < p.currentAttempt; i++ {
		nextInterval *= p.backoffCoefficient
	}
	if nextInterval <= 0 {
		return Done
	}

	if p.maximumInterval > 0 && nextInterval > float64(p.maximumInterval) {
		nextInterval = float64(p.maximumInterval)
	}

	p.currentAttempt++
	return time.Duration(nextInterval)
}
