package execution

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
	"go.uber.org/zap"
)

// RetryingGateway bounds every attempt with a timeout and retries failed
// attempts with exponential backoff. All attempts carry the same idempotency
// key, so a retry after a lost response cannot execute twice.
type RetryingGateway struct {
	next     Gateway
	attempts int
	initial  time.Duration
	timeout  time.Duration
	logger   *zap.Logger
}

// NewRetryingGateway wraps next.
func NewRetryingGateway(next Gateway, attempts int, initialDelay, timeout time.Duration, logger *zap.Logger) *RetryingGateway {
	if attempts < 1 {
		attempts = 1
	}
	return &RetryingGateway{next: next, attempts: attempts, initial: initialDelay, timeout: timeout, logger: logger}
}

// Submit implements Gateway. The returned error wraps ErrExecutionTimeout or
// ErrExecutionRejected unless ctx itself was canceled.
func (g *RetryingGateway) Submit(ctx context.Context, order Order) (Fill, error) {
	var fill Fill
	attempt := 0
	op := func() error {
		attempt++
		callCtx, cancel := context.WithTimeout(ctx, g.timeout)
		defer cancel()

		f, err := g.next.Submit(callCtx, order)
		if err == nil {
			fill = f
			return nil
		}
		if ctx.Err() != nil {
			return backoff.Permanent(ctx.Err())
		}
		if errors.Is(callCtx.Err(), context.DeadlineExceeded) && !errors.Is(err, ErrExecutionTimeout) {
			err = fmt.Errorf("%w: %v", ErrExecutionTimeout, err)
		}
		return err
	}

	b := backoff.NewExponentialBackOff()
	b.InitialInterval = g.initial
	b.MaxElapsedTime = 0
	policy := backoff.WithContext(backoff.WithMaxRetries(b, uint64(g.attempts-1)), ctx)

	err := backoff.RetryNotify(op, policy, func(err error, wait time.Duration) {
		g.logger.Sugar().Warnf("Submit %s %s (key %s) attempt %d failed: %v. Retrying in %v.",
			order.Side, order.Token, order.IdempotencyKey, attempt, err, wait)
	})
	if err == nil {
		return fill, nil
	}
	if ctx.Err() != nil {
		if errors.Is(ctx.Err(), context.DeadlineExceeded) {
			return Fill{}, fmt.Errorf("%w: %v", ErrExecutionTimeout, ctx.Err())
		}
		return Fill{}, ctx.Err()
	}
	if !errors.Is(err, ErrExecutionTimeout) && !errors.Is(err, ErrExecutionRejected) {
		err = fmt.Errorf("%w: %v", ErrExecutionRejected, err)
	}
	return Fill{}, fmt.Errorf("submit %s %s after %d attempt(s): %w", order.Side, order.Token, attempt, err)
}
