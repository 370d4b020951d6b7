package errors

import (
	"context"
	"fmt"
	"math"
	"math/rand"
	"strings"
	"time"
)

// RetryConfig defines retry behavior for adapter operations
type RetryConfig struct {
	MaxRetries      int           `json:"max_retries"`
	InitialInterval time.Duration `json:"initial_interval"`
	MaxInterval     time.Duration `json:"max_interval"`
	Multiplier      float64       `json:"multiplier"`
	Jitter          bool          `json:"jitter"`
}

// DefaultRetryConfig returns a default retry configuration
func DefaultRetryConfig() *RetryConfig {
	return &RetryConfig{
		MaxRetries:      3,
		InitialInterval: 1 * time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2.0,
		Jitter:          true,
	}
}

// RetryableFunc represents a function that can be retried
type RetryableFunc func() error

// RetryWithContext runs fn until it succeeds, returns an error that retryable
// rejects, or runs out of attempts. A nil retryable uses IsRetryableMessage.
func RetryWithContext(ctx context.Context, config *RetryConfig, operation string, retryable func(error) bool, fn RetryableFunc) error {
	if config == nil {
		config = DefaultRetryConfig()
	}
	if retryable == nil {
		retryable = func(err error) bool { return IsRetryableMessage(err.Error()) }
	}

	var lastErr error
	for attempt := 0; attempt <= config.MaxRetries; attempt++ {
		if attempt > 0 {
			wait := ExponentialBackoff(attempt, config.InitialInterval, config.Multiplier, config.MaxInterval, config.Jitter)
			select {
			case <-ctx.Done():
				return ctx.Err()
			case <-time.After(wait):
			}
		}

		err := fn()
		if err == nil {
			return nil
		}
		lastErr = err

		if ctx.Err() != nil || !retryable(err) {
			return err
		}
	}

	return NewErrorBuilder().
		Category(ErrorCategoryAdapter).
		Operation(operation).
		Message(fmt.Sprintf("%s failed after %d retries", operation, config.MaxRetries)).
		Cause(lastErr).
		Suggestion("Check registry connectivity and try again later").
		Build()
}

var retryablePatterns = []string{
	"connection refused",
	"connection reset",
	"network unreachable",
	"temporary failure",
	"service unavailable",
	"internal server error",
	"bad gateway",
	"gateway timeout",
	"too many requests",
	"i/o timeout",
	"no route to host",
	"unexpected eof",
}

// IsRetryableMessage reports whether an error message looks transient.
func IsRetryableMessage(msg string) bool {
	msg = strings.ToLower(msg)
	for _, pattern := range retryablePatterns {
		if strings.Contains(msg, pattern) {
			return true
		}
	}
	return false
}

// ExponentialBackoff calculates the wait time before the given attempt
func ExponentialBackoff(attempt int, initialInterval time.Duration, multiplier float64, maxInterval time.Duration, jitter bool) time.Duration {
	if attempt <= 0 {
		return 0
	}

	interval := time.Duration(float64(initialInterval) * math.Pow(multiplier, float64(attempt-1)))
	if interval > maxInterval {
		interval = maxInterval
	}

	if jitter {
		interval = addJitter(interval)
	}

	return interval
}

// addJitter adds up to 25% random jitter to the interval
func addJitter(interval time.Duration) time.Duration {
	jitter := time.Duration(rand.Float64() * 0.25 * float64(interval))
	return interval + jitter
}
