package orchestrator

import (
	"context"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// withRetry вызывает fn до attempts раз с экспоненциальной паузой
// base, 2*base, 4*base... Каждая попытка ограничена timeout.
// Отмена контекста прерывает повторы сразу.
func withRetry[T any](ctx context.Context, attempts int, base, timeout time.Duration, fn func(context.Context) (T, error)) (T, error) {
	if attempts < 1 {
		attempts = 1
	}

	exp := backoff.NewExponentialBackOff()
	exp.InitialInterval = base
	exp.Multiplier = 2
	exp.RandomizationFactor = 0
	exp.MaxInterval = base << 10
	exp.MaxElapsedTime = 0

	b := backoff.WithContext(backoff.WithMaxRetries(exp, uint64(attempts-1)), ctx)

	return backoff.RetryWithData(func() (T, error) {
		callCtx, cancel := ctx, context.CancelFunc(func() {})
		if timeout > 0 {
			callCtx, cancel = context.WithTimeout(ctx, timeout)
		}
		defer cancel()
		return fn(callCtx)
	}, b)
}
