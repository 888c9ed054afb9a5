// Package resilience retries idempotent side calls such as the out-of-band
// stop notification.
package resilience

import (
	"context"
	"errors"
	"math"
	"math/rand"
	"time"
)

var (
	ErrMaxRetriesExceeded = errors.New("maximum retries exceeded")
	ErrContextCanceled    = errors.New("context canceled during retry")
)

// RetryConfig holds configuration for retry behavior
type RetryConfig struct {
	MaxAttempts     int
	InitialDelay    time.Duration
	MaxDelay        time.Duration
	Multiplier      float64
	Jitter          float64 // 0-1, percentage of delay to randomize
	RetryableErrors []error
	ShouldRetry     func(error) bool
}

// DefaultRetryConfig returns the backoff used for stop notifications
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		MaxAttempts:  3,
		InitialDelay: 200 * time.Millisecond,
		MaxDelay:     5 * time.Second,
		Multiplier:   2.0,
		Jitter:       0.1,
	}
}

// Retryer implements retry logic with exponential backoff
type Retryer struct {
	config RetryConfig
}

// NewRetryer creates a new retryer with the given configuration
func NewRetryer(config RetryConfig) *Retryer {
	defaults := DefaultRetryConfig()
	if config.MaxAttempts <= 0 {
		config.MaxAttempts = defaults.MaxAttempts
	}
	if config.InitialDelay <= 0 {
		config.InitialDelay = defaults.InitialDelay
	}
	if config.MaxDelay <= 0 {
		config.MaxDelay = defaults.MaxDelay
	}
	if config.Multiplier <= 0 {
		config.Multiplier = defaults.Multiplier
	}

	return &Retryer{config: config}
}

// RetryResult contains the result of a retry operation
type RetryResult struct {
	Attempts   int
	LastError  error
	TotalDelay time.Duration
	Success    bool
}

// Err returns nil on success, otherwise the last error wrapped with
// ErrMaxRetriesExceeded when every attempt was used.
func (r RetryResult) Err(maxAttempts int) error {
	if r.Success {
		return nil
	}
	if r.Attempts >= maxAttempts && !errors.Is(r.LastError, ErrContextCanceled) {
		return errors.Join(ErrMaxRetriesExceeded, r.LastError)
	}
	return r.LastError
}

// MaxAttempts returns the effective attempt budget.
func (r *Retryer) MaxAttempts() int {
	return r.config.MaxAttempts
}

// Execute runs the given function with retry logic
func (r *Retryer) Execute(ctx context.Context, fn func(context.Context) error) RetryResult {
	return r.ExecuteWithCallback(ctx, fn, nil)
}

// ExecuteWithCallback runs the function with retry and calls back before each wait
func (r *Retryer) ExecuteWithCallback(
	ctx context.Context,
	fn func(context.Context) error,
	onRetry func(attempt int, err error, delay time.Duration),
) RetryResult {
	result := RetryResult{}
	var totalDelay time.Duration

	for attempt := 1; attempt <= r.config.MaxAttempts; attempt++ {
		result.Attempts = attempt

		select {
		case <-ctx.Done():
			result.LastError = ErrContextCanceled
			result.TotalDelay = totalDelay
			return result
		default:
		}

		err := fn(ctx)
		if err == nil {
			result.Success = true
			result.TotalDelay = totalDelay
			return result
		}

		result.LastError = err

		if !r.shouldRetry(err) {
			result.TotalDelay = totalDelay
			return result
		}

		// Don't delay after the last attempt
		if attempt < r.config.MaxAttempts {
			delay := r.calculateDelay(attempt)
			totalDelay += delay

			if onRetry != nil {
				onRetry(attempt, err, delay)
			}

			timer := time.NewTimer(delay)
			select {
			case <-ctx.Done():
				timer.Stop()
				result.LastError = ErrContextCanceled
				result.TotalDelay = totalDelay
				return result
			case <-timer.C:
			}
		}
	}

	result.TotalDelay = totalDelay
	return result
}

// shouldRetry determines if an error should trigger a retry
func (r *Retryer) shouldRetry(err error) bool {
	if r.config.ShouldRetry != nil {
		return r.config.ShouldRetry(err)
	}

	if len(r.config.RetryableErrors) > 0 {
		for _, retryable := range r.config.RetryableErrors {
			if errors.Is(err, retryable) {
				return true
			}
		}
		return false
	}

	return true
}

// calculateDelay returns initialDelay * multiplier^(attempt-1) with jitter, capped at MaxDelay
func (r *Retryer) calculateDelay(attempt int) time.Duration {
	delay := float64(r.config.InitialDelay) * math.Pow(r.config.Multiplier, float64(attempt-1))

	if r.config.Jitter > 0 {
		jitterRange := delay * r.config.Jitter
		delay += (rand.Float64()*2 - 1) * jitterRange
	}

	if delay > float64(r.config.MaxDelay) {
		delay = float64(r.config.MaxDelay)
	}

	return time.Duration(delay)
}
