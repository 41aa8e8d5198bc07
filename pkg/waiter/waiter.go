// Package waiter polls provider state until a resource settles.
package waiter

import (
	"context"
	"fmt"
	"time"

	"github.com/cuemby/ebspin/pkg/types"
)

// Waiter provides utilities for waiting on conditions with timeouts
type Waiter struct {
	Timeout  time.Duration
	Interval time.Duration
}

// New creates a new Waiter with the given timeout and polling interval
func New(timeout, interval time.Duration) Waiter {
	return Waiter{
		Timeout:  timeout,
		Interval: interval,
	}
}

// Default returns a waiter with a 10 minute timeout polling every 5s
func Default() Waiter {
	return New(10*time.Minute, 5*time.Second)
}

// Until calls poll immediately and then every Interval until done accepts
// the polled value. It returns the accepted value, the first poll error,
// or a WaitTimeoutError once Timeout has elapsed. Cancelling ctx ends the
// wait with the context's error.
func Until[T any](ctx context.Context, w Waiter, description string, poll func(context.Context) (T, error), done func(T) bool) (T, error) {
	var zero T

	deadline := time.NewTimer(w.Timeout)
	defer deadline.Stop()

	interval := w.Interval
	if interval <= 0 {
		interval = time.Second
	}
	ticker := time.NewTicker(interval)
	defer ticker.Stop()

	for {
		v, err := poll(ctx)
		if err != nil {
			return zero, err
		}
		if done(v) {
			return v, nil
		}

		select {
		case <-ctx.Done():
			return zero, ctx.Err()
		case <-deadline.C:
			return zero, types.Errorf(types.KindWaitTimeout, "wait",
				"timeout waiting for %s (timeout: %v)", description, w.Timeout)
		case <-ticker.C:
		}
	}
}

// For waits for a condition without a polled value
func For(ctx context.Context, w Waiter, description string, condition func(context.Context) (bool, error)) error {
	_, err := Until(ctx, w, description, condition, func(ok bool) bool { return ok })
	return err
}

// String describes the waiter bounds for log lines
func (w Waiter) String() string {
	return fmt.Sprintf("timeout=%v interval=%v", w.Timeout, w.Interval)
}
