package httpclient

import (
	"math"
	"math/rand/v2"
	"time"

	"github.com/cenkalti/backoff/v5"
)

var (
	_ backoff.BackOff = (*LinearBackOff)(nil)
	_ backoff.BackOff = (*ConstantBackOffWithJitter)(nil)
)

// noCap stands in for "no max delay" where backoff needs a finite bound.
const noCap = time.Duration(math.MaxInt64)

// LinearBackOff grows the delay by Delay on every attempt:
// Delay, 2*Delay, 3*Delay, ... capped at MaxDelay.
type LinearBackOff struct {
	Delay time.Duration

	// MaxDelay caps the delay. Zero means no cap.
	MaxDelay time.Duration

	// JitterFactor randomizes each delay by ±factor. Zero disables jitter.
	JitterFactor float64

	attempt int
}

// Reset restarts the sequence.
func (b *LinearBackOff) Reset() {
	b.attempt = 0
}

// NextBackOff returns the delay before the next retry.
func (b *LinearBackOff) NextBackOff() time.Duration {
	b.attempt++

	interval := b.Delay * time.Duration(b.attempt)
	if b.Delay > 0 && interval/b.Delay != time.Duration(b.attempt) {
		interval = noCap // overflow
	}
	if b.MaxDelay > 0 && interval > b.MaxDelay {
		interval = b.MaxDelay
	}

	return applyJitter(interval, b.JitterFactor)
}

// ConstantBackOffWithJitter waits Interval ±JitterFactor between retries.
type ConstantBackOffWithJitter struct {
	Interval     time.Duration
	JitterFactor float64
}

// Reset is a no-op.
func (b *ConstantBackOffWithJitter) Reset() {}

// NextBackOff returns the jittered interval.
func (b *ConstantBackOffWithJitter) NextBackOff() time.Duration {
	return applyJitter(b.Interval, b.JitterFactor)
}

// newBackOff builds the backoff.BackOff for a retry policy.
func newBackOff(cfg RetryConfig) backoff.BackOff {
	maxDelay := cfg.MaxDelay
	if maxDelay <= 0 {
		maxDelay = noCap
	}

	switch cfg.Strategy {
	case StrategyFixed:
		delay := min(cfg.Delay, maxDelay)
		if cfg.JitterFactor > 0 {
			return &ConstantBackOffWithJitter{Interval: delay, JitterFactor: cfg.JitterFactor}
		}
		return backoff.NewConstantBackOff(delay)

	case StrategyLinear:
		return &LinearBackOff{
			Delay:        cfg.Delay,
			MaxDelay:     cfg.MaxDelay,
			JitterFactor: cfg.JitterFactor,
		}

	default:
		b := &backoff.ExponentialBackOff{
			InitialInterval:     min(cfg.Delay, maxDelay),
			RandomizationFactor: max(cfg.JitterFactor, 0),
			Multiplier:          2,
			MaxInterval:         maxDelay,
		}
		b.Reset()
		return b
	}
}

// applyJitter randomizes interval by ±jitterFactor.
func applyJitter(interval time.Duration, jitterFactor float64) time.Duration {
	if jitterFactor <= 0 {
		return interval
	}

	if jitterFactor > 1 {
		jitterFactor = 1
	}

	delta := float64(interval) * jitterFactor
	minInterval := float64(interval) - delta
	maxInterval := float64(interval) + delta

	return time.Duration(
		minInterval + rand.Float64()*(maxInterval-minInterval),
	)
}
