package volume

import (
	"context"
	"errors"
	"net"

	"github.com/aws/smithy-go"
	"github.com/cuemby/ebspin/pkg/metrics"
	"github.com/cuemby/ebspin/pkg/retry"
	"github.com/cuemby/ebspin/pkg/types"
)

// Error codes for throttling and transient server faults. Only calls that
// are safe to repeat go through the retry policy.
var retryableCodes = map[string]bool{
	"RequestLimitExceeded": true,
	"Throttling":           true,
	"ThrottlingException":  true,
	"InternalError":        true,
	"InternalFailure":      true,
	"ServiceUnavailable":   true,
	"Unavailable":          true,
	"RequestTimeout":       true,
}

// IsRetryable reports whether err is a transient provider failure
func IsRetryable(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, context.Canceled) || errors.Is(err, context.DeadlineExceeded) {
		return false
	}

	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return retryableCodes[apiErr.ErrorCode()]
	}

	var netErr net.Error
	return errors.As(err, &netErr)
}

// ErrorCode returns the provider error code carried by err, if any
func ErrorCode(err error) string {
	var apiErr smithy.APIError
	if errors.As(err, &apiErr) {
		return apiErr.ErrorCode()
	}
	return ""
}

func isNotFound(err error) bool {
	switch ErrorCode(err) {
	case "InvalidVolume.NotFound", "InvalidSnapshot.NotFound":
		return true
	}
	return false
}

// call runs one provider operation under the shared rate limit, the
// retry policy and the API metrics
func call[T any](ctx context.Context, g *EC2Gateway, op string, fn func(context.Context) (T, error)) (T, error) {
	return retry.Value(ctx, g.policy, op, func(ctx context.Context) (T, error) {
		return attempt(ctx, g, op, fn)
	})
}

// exec is call for operations without a result
func exec(ctx context.Context, g *EC2Gateway, op string, fn func(context.Context) error) error {
	return retry.Do(ctx, g.policy, op, func(ctx context.Context) error {
		return once(ctx, g, op, fn)
	})
}

// once runs op a single time, for calls that must not be repeated blindly
func once(ctx context.Context, g *EC2Gateway, op string, fn func(context.Context) error) error {
	_, err := attempt(ctx, g, op, func(ctx context.Context) (struct{}, error) {
		return struct{}{}, fn(ctx)
	})
	return err
}

func attempt[T any](ctx context.Context, g *EC2Gateway, op string, fn func(context.Context) (T, error)) (T, error) {
	var zero T
	if err := g.limiter.Wait(ctx); err != nil {
		return zero, err
	}

	timer := metrics.NewTimer()
	v, err := fn(ctx)
	metrics.ObserveAPICall(op, timer, err)

	g.logger.Debug().
		Str("operation", op).
		Dur("took", timer.Duration()).
		AnErr("error", err).
		Msg("Provider call")
	return v, err
}

// providerError classifies a failed call that ran out of retries
func providerError(op, resource string, err error) error {
	var classified *types.Error
	if errors.As(err, &classified) {
		return err
	}
	return types.NewError(types.KindProvider, op, err).WithResource(resource)
}
