package errors

import (
	"context"
	"math/rand/v2"
	"time"
)

// RetryConfig configures how crowdgate waits for external collaborators
// (the zone database, NATS) that may still be starting.
type RetryConfig struct {
	// MaxAttempts includes the first try.
	MaxAttempts int

	// InitialBackoff is the wait after the first failure.
	InitialBackoff time.Duration

	// MaxBackoff caps the wait between attempts.
	MaxBackoff time.Duration

	// BackoffFactor multiplies the wait after each failure.
	BackoffFactor float64

	// Jitter spreads each wait by up to this fraction either way.
	Jitter float64

	// RetryableFunc decides whether an error is worth another attempt.
	// Default: IsRetryable
	RetryableFunc func(error) bool

	// OnRetry is called before each wait.
	OnRetry func(attempt int, err error, wait time.Duration)
}

// DefaultRetry is the connect retry configuration.
var DefaultRetry = RetryConfig{
	MaxAttempts:    5,
	InitialBackoff: 500 * time.Millisecond,
	MaxBackoff:     10 * time.Second,
	BackoffFactor:  2.0,
	Jitter:         0.1,
}

// Retry calls fn until it succeeds, fails with an error RetryableFunc
// rejects, runs out of attempts or ctx is done. It returns the number of
// calls made; failures are returned as *CategorizedError.
func Retry(ctx context.Context, cfg RetryConfig, fn func(context.Context) error) (int, error) {
	retryable := cfg.RetryableFunc
	if retryable == nil {
		retryable = IsRetryable
	}
	wait := cfg.InitialBackoff

	attempt := 0
	for {
		if err := ctx.Err(); err != nil {
			return attempt, &CategorizedError{Err: err, Category: CategoryPermanent, Context: "context cancelled"}
		}

		attempt++
		err := fn(ctx)
		switch {
		case err == nil:
			return attempt, nil
		case !retryable(err):
			return attempt, &CategorizedError{Err: err, Category: Categorize(err), Retries: attempt}
		case attempt >= cfg.MaxAttempts:
			return attempt, &CategorizedError{
				Err:      err,
				Category: Categorize(err),
				Retries:  attempt,
				Context:  "max retries exceeded",
			}
		}

		d := jittered(wait, cfg.Jitter)
		if cfg.OnRetry != nil {
			cfg.OnRetry(attempt, err, d)
		}
		timer := time.NewTimer(d)
		select {
		case <-ctx.Done():
			timer.Stop()
			return attempt, &CategorizedError{Err: ctx.Err(), Category: CategoryPermanent, Context: "context cancelled during backoff"}
		case <-timer.C:
		}
		wait = min(time.Duration(float64(wait)*cfg.BackoffFactor), cfg.MaxBackoff)
	}
}

// jittered returns base moved by up to base*jitter in either direction.
func jittered(base time.Duration, jitter float64) time.Duration {
	if jitter <= 0 {
		return base
	}
	return base + time.Duration(float64(base)*jitter*(rand.Float64()*2-1))
}

// RetryOption configures a RetryConfig.
type RetryOption func(*RetryConfig)

// WithMaxAttempts sets the attempt limit.
func WithMaxAttempts(n int) RetryOption {
	return func(cfg *RetryConfig) { cfg.MaxAttempts = n }
}

// WithInitialBackoff sets the first wait.
func WithInitialBackoff(d time.Duration) RetryOption {
	return func(cfg *RetryConfig) { cfg.InitialBackoff = d }
}

// WithRetryableFunc overrides the retryability check.
func WithRetryableFunc(fn func(error) bool) RetryOption {
	return func(cfg *RetryConfig) { cfg.RetryableFunc = fn }
}

// WithOnRetry sets a hook called before each wait, typically to log.
func WithOnRetry(fn func(attempt int, err error, wait time.Duration)) RetryOption {
	return func(cfg *RetryConfig) { cfg.OnRetry = fn }
}

// NewRetryConfig applies opts to DefaultRetry.
func NewRetryConfig(opts ...RetryOption) RetryConfig {
	cfg := DefaultRetry
	for _, opt := range opts {
		opt(&cfg)
	}
	return cfg
}
