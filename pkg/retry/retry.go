// Package retry wraps provider calls in a bounded exponential backoff.
package retry

import (
	"context"
	"errors"
	"time"

	"github.com/cenkalti/backoff/v5"
	"github.com/cuemby/ebspin/pkg/log"
)

// Policy configures how an operation is retried
type Policy struct {
	// MaxAttempts is the total number of attempts, including the first
	MaxAttempts int

	// InitialInterval is the wait before the first retry
	InitialInterval time.Duration

	// MaxInterval caps the wait between retries
	MaxInterval time.Duration

	// Multiplier grows the wait after every retry
	Multiplier float64

	// Retryable reports whether err is transient. Nil retries everything.
	Retryable func(error) bool
}

// DefaultPolicy returns 3 attempts starting at 1s and doubling up to 30s
func DefaultPolicy() Policy {
	return Policy{
		MaxAttempts:     3,
		InitialInterval: time.Second,
		MaxInterval:     30 * time.Second,
		Multiplier:      2,
	}
}

// WithRetryable returns a copy of p using the given predicate
func (p Policy) WithRetryable(fn func(error) bool) Policy {
	p.Retryable = fn
	return p
}

// Validate checks the policy bounds
func (p Policy) Validate() error {
	if p.MaxAttempts < 1 {
		return errors.New("retry: max attempts must be at least 1")
	}
	if p.InitialInterval <= 0 {
		return errors.New("retry: initial interval must be positive")
	}
	if p.MaxInterval < p.InitialInterval {
		return errors.New("retry: max interval must not be below initial interval")
	}
	if p.Multiplier < 1 {
		return errors.New("retry: multiplier must be at least 1")
	}
	return nil
}

func (p Policy) backOff() backoff.BackOff {
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = p.InitialInterval
	b.MaxInterval = p.MaxInterval
	b.Multiplier = p.Multiplier
	return b
}

// Value runs fn until it succeeds, returns a non-retryable error, or the
// attempt budget is spent. The last error is returned unchanged.
func Value[T any](ctx context.Context, p Policy, op string, fn func(context.Context) (T, error)) (T, error) {
	logger := log.WithComponent("retry")

	attempts := p.MaxAttempts
	if attempts < 1 {
		attempts = 1
	}

	operation := func() (T, error) {
		v, err := fn(ctx)
		if err != nil && p.Retryable != nil && !p.Retryable(err) {
			return v, backoff.Permanent(err)
		}
		return v, err
	}

	v, err := backoff.Retry(ctx, operation,
		backoff.WithBackOff(p.backOff()),
		backoff.WithMaxTries(uint(attempts)),
		backoff.WithNotify(func(err error, wait time.Duration) {
			logger.Warn().
				Err(err).
				Str("operation", op).
				Dur("backoff", wait).
				Msg("Transient provider error, retrying")
		}),
	)

	// the budget can run out on a permanent error, which comes back wrapped
	var permanent *backoff.PermanentError
	if errors.As(err, &permanent) {
		err = permanent.Err
	}
	return v, err
}

// Do is Value for operations without a result
func Do(ctx context.Context, p Policy, op string, fn func(context.Context) error) error {
	_, err := Value(ctx, p, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}
