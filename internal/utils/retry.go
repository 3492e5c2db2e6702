// Package utils holds small helpers shared across modules.
package utils

import (
	"context"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v5"
)

// RetryOptions bounds a retried operation.
type RetryOptions struct {
	Retries int
	Delay   time.Duration
}

// RetryFunc is one attempt. attempt is zero-based.
type RetryFunc[T any] func(ctx context.Context, attempt int) (T, error)

// Retry runs fn sequentially until it succeeds or Retries attempts have
// failed, sleeping Delay between failures. Context cancellation stops the
// loop early.
func Retry[T any](ctx context.Context, fn RetryFunc[T], opts RetryOptions) (T, error) {
	retries := opts.Retries
	if retries <= 0 {
		retries = 1
	}

	attempt := 0
	op := func() (T, error) {
		i := attempt
		attempt++
		return fn(ctx, i)
	}

	result, err := backoff.Retry(ctx, op,
		backoff.WithBackOff(backoff.NewConstantBackOff(opts.Delay)),
		backoff.WithMaxTries(uint(retries)),
		backoff.WithMaxElapsedTime(0),
	)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("failed after %d retries: %w", retries, err)
	}
	return result, nil
}
