package httpclient

import (
	"context"
	"errors"
	"io"
	"time"

	"github.com/redis/go-redis/v9"
	gobreaker "github.com/sony/gobreaker/v2"
	gobreakerredis "github.com/sony/gobreaker/v2/redis"
)

// NewRedisStore creates a SharedDataStore backed by Redis for distributed
// circuit breaking.
//
// Usage:
//
//	rdb := redis.NewUniversalClient(&redis.UniversalOptions{Addrs: []string{"localhost:6379"}})
//	store := httpclient.NewRedisStore(rdb)
func NewRedisStore(client redis.UniversalClient) gobreaker.SharedDataStore {
	return gobreakerredis.NewStoreFromClient(client)
}

// CircuitBreaker matches the Execute method of gobreaker's local and
// distributed breakers.
type CircuitBreaker interface {
	Execute(req func() (any, error)) (any, error)
}

// BreakerClassifier reports whether a transport outcome counts as a
// failure towards tripping the breaker.
type BreakerClassifier func(resp *Response, err error) bool

// BreakerConfig holds the configuration for the circuit breaker.
//
// Concepts:
//   - Closed: Normal state, calls allowed.
//   - Open: Failing state, calls rejected immediately.
//   - Half-Open: Probing state, limited calls allowed to test recovery.
//
// The breaker wraps the adapter, so every attempt, retries included,
// counts. Rejections surface as a NetworkError wrapping
// gobreaker.ErrOpenState or gobreaker.ErrTooManyRequests and are never
// retried by DefaultShouldRetry.
type BreakerConfig struct {
	// MaxRequests is the number of calls allowed through while half-open.
	// If 0, one call is allowed.
	MaxRequests uint32

	// Interval is the cyclic period of the closed state after which the
	// counts are cleared. If 0, counts are never cleared while closed.
	Interval time.Duration

	// Timeout is how long the breaker stays open before probing.
	// If 0, gobreaker uses 60s.
	Timeout time.Duration

	// FailureThreshold is the minimum number of calls before the breaker
	// can trip.
	// Default: 20
	FailureThreshold uint32

	// FailureRatio trips the breaker when failures/requests reaches it.
	// Default: 0.5
	FailureRatio float64

	// ConsecutiveFailures trips the breaker after this many failures in a
	// row. If 0, this rule is disabled.
	ConsecutiveFailures uint32

	// Store shares breaker state across processes. If nil, the breaker is
	// local to the client.
	Store gobreaker.SharedDataStore

	// Classifier determines which outcomes count as failures.
	// Default: DefaultBreakerClassifier
	Classifier BreakerClassifier

	// OnStateChange is called when the breaker changes state.
	OnStateChange func(name string, from, to gobreaker.State)
}

// DefaultBreakerConfig returns a configuration for a local breaker:
//   - Interval: 10s
//   - Timeout: 10s
//   - FailureThreshold: 20
//   - FailureRatio: 0.5
//   - ConsecutiveFailures: 5
func DefaultBreakerConfig() BreakerConfig {
	return BreakerConfig{
		MaxRequests:         1,
		Interval:            10 * time.Second,
		Timeout:             10 * time.Second,
		FailureThreshold:    20,
		FailureRatio:        0.5,
		ConsecutiveFailures: 5,
		Classifier:          DefaultBreakerClassifier,
	}
}

// DistributedBreakerConfig returns DefaultBreakerConfig sharing its state
// through store, so that all instances stop calling a failing upstream as
// soon as one of them trips.
func DistributedBreakerConfig(store gobreaker.SharedDataStore) BreakerConfig {
	cfg := DefaultBreakerConfig()
	cfg.Store = store
	return cfg
}

// DefaultBreakerClassifier counts 5xx responses, network failures and
// timeouts. 4xx responses and cancellations are the caller's problem and
// do not trip the breaker.
func DefaultBreakerClassifier(resp *Response, err error) bool {
	if err != nil {
		return !errors.Is(err, context.Canceled) && !errors.Is(err, ErrCancel)
	}
	return resp != nil && resp.StatusCode >= 500
}

// errSyntheticFailure tells the breaker that a call failed even though
// the adapter returned a response. It never reaches the caller.
var errSyntheticFailure = errors.New("synthetic failure")

// breakerAdapter runs every adapter call through a circuit breaker.
type breakerAdapter struct {
	breaker    CircuitBreaker
	next       Adapter
	classifier BreakerClassifier
	metrics    *metrics
	name       string
}

// newBreakerAdapter wraps next in the breaker described by cfg.BreakerConfig,
// or returns next unchanged when no breaker is configured.
func newBreakerAdapter(next Adapter, cfg *internalConfig) Adapter {
	if cfg.BreakerConfig == nil {
		return next
	}
	bc := *cfg.BreakerConfig
	if bc.Classifier == nil {
		bc.Classifier = DefaultBreakerClassifier
	}

	name := cfg.ServiceName
	if name == "" {
		name = "default-http-client"
	}

	st := gobreaker.Settings{
		Name:        name,
		MaxRequests: bc.MaxRequests,
		Interval:    bc.Interval,
		Timeout:     bc.Timeout,
		ReadyToTrip: readyToTrip(bc),
		OnStateChange: func(name string, from, to gobreaker.State) {
			cfg.Metrics.recordBreakerState(context.Background(), name, int64(to))
			cfg.Logger.Warn().
				Str("breaker", name).
				Str("from", from.String()).
				Str("to", to.String()).
				Msg("circuit breaker state changed")
			if bc.OnStateChange != nil {
				bc.OnStateChange(name, from, to)
			}
		},
	}

	var cb CircuitBreaker
	if bc.Store != nil {
		dcb, err := gobreaker.NewDistributedCircuitBreaker[any](bc.Store, st)
		if err != nil {
			// A local breaker still protects this process.
			cfg.Logger.Warn().Err(err).Str("breaker", name).
				Msg("distributed circuit breaker unavailable, using local breaker")
			cb = gobreaker.NewCircuitBreaker[any](st)
		} else {
			cb = dcb
		}
	} else {
		cb = gobreaker.NewCircuitBreaker[any](st)
	}

	return &breakerAdapter{
		breaker:    cb,
		next:       next,
		classifier: bc.Classifier,
		metrics:    cfg.Metrics,
		name:       name,
	}
}

func readyToTrip(bc BreakerConfig) func(gobreaker.Counts) bool {
	return func(counts gobreaker.Counts) bool {
		if bc.ConsecutiveFailures > 0 && counts.ConsecutiveFailures >= bc.ConsecutiveFailures {
			return true
		}
		if bc.FailureThreshold > 0 && counts.Requests < bc.FailureThreshold {
			return false
		}
		if bc.FailureRatio > 0 && counts.Requests > 0 {
			ratio := float64(counts.TotalFailures) / float64(counts.Requests)
			return ratio >= bc.FailureRatio
		}
		return false
	}
}

func (a *breakerAdapter) execute(ctx context.Context, call func() (*Response, error)) (*Response, error) {
	res, err := a.breaker.Execute(func() (any, error) {
		resp, err := call()
		if a.classifier(resp, err) {
			if err != nil {
				return resp, err
			}
			return resp, errSyntheticFailure
		}
		return resp, err
	})

	switch {
	case errors.Is(err, gobreaker.ErrOpenState), errors.Is(err, gobreaker.ErrTooManyRequests):
		a.metrics.recordBreakerRequest(ctx, a.name, "rejected")
		return nil, NewNetworkError(err)
	case err != nil:
		a.metrics.recordBreakerRequest(ctx, a.name, "failure")
	default:
		a.metrics.recordBreakerRequest(ctx, a.name, "success")
	}

	resp, _ := res.(*Response)
	if errors.Is(err, errSyntheticFailure) {
		return resp, nil
	}
	return resp, err
}

// Request implements Adapter.
func (a *breakerAdapter) Request(ctx context.Context, cfg *RequestConfig) (*Response, error) {
	return a.execute(ctx, func() (*Response, error) {
		return a.next.Request(ctx, cfg)
	})
}

// Upload implements Uploader when the wrapped adapter does.
func (a *breakerAdapter) Upload(ctx context.Context, cfg *RequestConfig, body *MultipartBody) (*Response, error) {
	up, ok := a.next.(Uploader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	return a.execute(ctx, func() (*Response, error) {
		return up.Upload(ctx, cfg, body)
	})
}

// Download implements Downloader when the wrapped adapter does.
func (a *breakerAdapter) Download(
	ctx context.Context,
	cfg *RequestConfig,
	w io.Writer,
	onProgress ProgressFunc,
) (*Response, error) {
	down, ok := a.next.(Downloader)
	if !ok {
		return nil, ErrUnsupportedCapability
	}
	return a.execute(ctx, func() (*Response, error) {
		return down.Download(ctx, cfg, w, onProgress)
	})
}
