package httpclient

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// Strategy selects how the delay grows between retries.
type Strategy string

const (
	// StrategyFixed waits Delay before every retry.
	StrategyFixed Strategy = "fixed"

	// StrategyLinear waits Delay * attempt.
	StrategyLinear Strategy = "linear"

	// StrategyExponential waits Delay * 2^(attempt-1).
	StrategyExponential Strategy = "exponential"
)

// ShouldRetryFunc decides whether a failed attempt is retried.
// attempt is the 1-based number of the attempt that just failed.
type ShouldRetryFunc func(err error, attempt int) bool

// RetryConfig configures the retry behavior of a call.
//
// The call is attempted at most Retries+1 times. Before each retry the
// delay is computed from Strategy and Delay and capped at MaxDelay.
//
// Example:
//
//	client := httpclient.New(
//	    httpclient.WithRetryConfig(httpclient.RetryConfig{
//	        Retries:  5,
//	        Delay:    200 * time.Millisecond,
//	        Strategy: httpclient.StrategyLinear,
//	        MaxDelay: 2 * time.Second,
//	    }),
//	)
type RetryConfig struct {
	// Retries is the maximum number of retries after the first attempt.
	// Zero disables retry.
	Retries int

	// Delay is the base delay between attempts.
	Delay time.Duration

	// Strategy is the delay growth strategy. Defaults to StrategyExponential.
	Strategy Strategy

	// MaxDelay caps any single delay. Zero means no cap.
	MaxDelay time.Duration

	// JitterFactor randomizes each delay by ±factor (0.0-1.0).
	// Zero keeps delays deterministic.
	JitterFactor float64

	// ShouldRetry decides retry eligibility. Defaults to DefaultShouldRetry.
	ShouldRetry ShouldRetryFunc
}

// DefaultRetryConfig returns the default policy: 3 retries, 1s base delay,
// exponential growth capped at 10s, DefaultShouldRetry.
func DefaultRetryConfig() RetryConfig {
	return RetryConfig{
		Retries:     3,
		Delay:       1 * time.Second,
		Strategy:    StrategyExponential,
		MaxDelay:    10 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// AggressiveRetryConfig retries more often with shorter delays.
//
// Best for idempotent reads against flaky upstreams.
func AggressiveRetryConfig() RetryConfig {
	return RetryConfig{
		Retries:     5,
		Delay:       200 * time.Millisecond,
		Strategy:    StrategyExponential,
		MaxDelay:    5 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// ConservativeRetryConfig retries rarely with a fixed delay.
func ConservativeRetryConfig() RetryConfig {
	return RetryConfig{
		Retries:     1,
		Delay:       2 * time.Second,
		Strategy:    StrategyFixed,
		MaxDelay:    2 * time.Second,
		ShouldRetry: DefaultShouldRetry,
	}
}

// NoRetryConfig disables retry.
func NoRetryConfig() RetryConfig {
	return RetryConfig{ShouldRetry: DefaultShouldRetry}
}

// IsEnabled returns true if at least one retry is allowed.
func (c RetryConfig) IsEnabled() bool {
	return c.Retries > 0
}

func (c RetryConfig) withDefaults() RetryConfig {
	if c.Retries < 0 {
		c.Retries = 0
	}
	if c.Strategy == "" {
		c.Strategy = StrategyExponential
	}
	if c.ShouldRetry == nil {
		c.ShouldRetry = DefaultShouldRetry
	}
	return c
}

// retryNotifyFunc observes a scheduled retry.
type retryNotifyFunc func(attempt int, err error, next time.Duration)

// Retry runs fn until it succeeds, the policy rejects the error, or
// cfg.Retries+1 attempts have been made. Errors wrapping ErrInvalidBody
// end the loop regardless of the policy. It returns the last error
// unchanged. Context cancellation during a delay ends the loop with the
// context's cause.
//
// Example:
//
//	user, err := httpclient.Retry(ctx, httpclient.DefaultRetryConfig(),
//	    func(ctx context.Context) (*User, error) {
//	        return loadUser(ctx, id)
//	    },
//	)
func Retry[T any](ctx context.Context, cfg RetryConfig, fn func(ctx context.Context) (T, error)) (T, error) {
	res, _, err := executeWithRetry(ctx, cfg, fn, nil)
	return res, err
}

// executeWithRetry is Retry with a notify hook. It also reports how many
// retries were performed.
func executeWithRetry[T any](
	ctx context.Context,
	cfg RetryConfig,
	fn func(ctx context.Context) (T, error),
	notify retryNotifyFunc,
) (T, int, error) {
	cfg = cfg.withDefaults()

	var attempt, retries int

	op := func() (T, error) {
		attempt++
		res, err := fn(ctx)
		if err == nil {
			return res, nil
		}
		if attempt > cfg.Retries || errors.Is(err, ErrInvalidBody) || !cfg.ShouldRetry(err, attempt) {
			return res, backoff.Permanent(err)
		}
		return res, err
	}

	res, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(newBackOff(cfg)),
		backoff.WithMaxTries(uint(cfg.Retries)+1),
		backoff.WithNotify(func(err error, next time.Duration) {
			retries++
			if notify != nil {
				notify(retries, err, next)
			}
		}),
	)

	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}

	return res, retries, err
}
