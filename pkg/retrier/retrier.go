package retrier

import (
	"context"
	"math/rand"
	"time"
)

const (
	defaultInitialInterval = 1 * time.Second
	defaultMaxInterval     = 30 * time.Second
	defaultMultiplier      = 2.0
	defaultMaxRetries      = 5
	defaultJitter          = 0.1
)

// Unlimited makes the retrier try until the function succeeds or ctx is done.
const Unlimited = -1

// BackoffFunc returns the pause before the given retry (1-based).
type BackoffFunc func(retry int) time.Duration

// ConstantBackoff waits the same duration before every retry.
func ConstantBackoff(d time.Duration) BackoffFunc {
	return func(int) time.Duration {
		return d
	}
}

// Retrier retries a function with a pluggable backoff. Default is exponential backoff with jitter.
type Retrier struct {
	initialInterval time.Duration
	maxInterval     time.Duration
	multiplier      float64
	maxRetries      int
	maxElapsed      time.Duration
	jitter          float64
	backoff         BackoffFunc
	onRetry         func(retry int, err error)
}

// Option defines a function to configure the Retrier.
type Option func(*Retrier)

// WithInitialInterval sets the initial retry interval.
func WithInitialInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.initialInterval = d
	}
}

// WithMaxInterval sets the maximum retry interval.
func WithMaxInterval(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxInterval = d
	}
}

// WithMultiplier sets the backoff multiplier.
func WithMultiplier(m float64) Option {
	return func(r *Retrier) {
		r.multiplier = m
	}
}

// WithMaxRetries sets the maximum number of retries, Unlimited disables the bound.
func WithMaxRetries(n int) Option {
	return func(r *Retrier) {
		r.maxRetries = n
	}
}

// WithMaxElapsed stops retrying once d has passed since the first attempt.
func WithMaxElapsed(d time.Duration) Option {
	return func(r *Retrier) {
		r.maxElapsed = d
	}
}

// WithJitter sets the jitter factor (0.0 to 1.0).
func WithJitter(j float64) Option {
	return func(r *Retrier) {
		r.jitter = j
	}
}

// WithBackoff replaces the exponential schedule. Jitter still applies.
func WithBackoff(b BackoffFunc) Option {
	return func(r *Retrier) {
		r.backoff = b
	}
}

// WithOnRetry registers a callback invoked with the error before each pause.
func WithOnRetry(fn func(retry int, err error)) Option {
	return func(r *Retrier) {
		r.onRetry = fn
	}
}

// New creates a new Retrier with default values and optional overrides.
func New(opts ...Option) *Retrier {
	r := &Retrier{
		initialInterval: defaultInitialInterval,
		maxInterval:     defaultMaxInterval,
		multiplier:      defaultMultiplier,
		maxRetries:      defaultMaxRetries,
		jitter:          defaultJitter,
	}

	for _, opt := range opts {
		opt(r)
	}

	if r.backoff == nil {
		r.backoff = r.exponential
	}

	return r
}

func (r *Retrier) exponential(retry int) time.Duration {
	interval := float64(r.initialInterval)
	for i := 1; i < retry; i++ {
		interval *= r.multiplier
		if interval > float64(r.maxInterval) {
			return r.maxInterval
		}
	}
	return time.Duration(interval)
}

// Do executes the given function with retries.
func (r *Retrier) Do(ctx context.Context, fn func(ctx context.Context) error) error {
	started := time.Now()

	var err error
	for attempt := 0; r.maxRetries < 0 || attempt <= r.maxRetries; attempt++ {
		if attempt > 0 {
			if r.maxElapsed > 0 && time.Since(started) >= r.maxElapsed {
				return err
			}
			if r.onRetry != nil {
				r.onRetry(attempt, err)
			}

			interval := r.backoff(attempt)
			jitter := (rand.Float64()*2 - 1) * r.jitter * float64(interval)
			sleepDuration := time.Duration(float64(interval) + jitter)

			if sleepDuration < 0 {
				sleepDuration = 0
			}

			timer := time.NewTimer(sleepDuration)
			select {
			case <-ctx.Done():
				timer.Stop()
				return ctx.Err()
			case <-timer.C:
			}
		}

		err = fn(ctx)
		if err == nil {
			return nil
		}
		if ctx.Err() != nil {
			return ctx.Err()
		}
	}

	return err
}

// DoWithData executes the given function with retries and returns a value.
func DoWithData[T any](r *Retrier, ctx context.Context, fn func(ctx context.Context) (T, error)) (T, error) {
	var result T
	err := r.Do(ctx, func(ctx context.Context) error {
		var e error
		result, e = fn(ctx)
		return e
	})
	return result, err
}
