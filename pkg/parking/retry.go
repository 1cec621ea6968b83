package parking

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/cenkalti/backoff/v4"
)

// RetryPolicy decides how often a tick or cycle is attempted before it is abandoned.
// The zero value is invalid; DefaultRetryPolicy makes a single attempt.
type RetryPolicy struct {
	MaxAttempts    int
	InitialBackoff time.Duration
	MaxBackoff     time.Duration
	Retryable      func(error) bool
}

// DefaultRetryPolicy makes one attempt per tick or cycle; the next tick or cycle is the retry.
func DefaultRetryPolicy() RetryPolicy {
	return RetryPolicy{MaxAttempts: 1, Retryable: IsRetryable}
}

// Validate checks the policy bounds.
func (policy RetryPolicy) Validate() error {
	if policy.MaxAttempts < 1 {
		return fmt.Errorf("%w: max attempts must be at least 1", ErrInvalidRetryPolicy)
	}
	if policy.InitialBackoff < 0 || policy.MaxBackoff < 0 {
		return fmt.Errorf("%w: backoff must not be negative", ErrInvalidRetryPolicy)
	}
	if policy.MaxBackoff > 0 && policy.MaxBackoff < policy.InitialBackoff {
		return fmt.Errorf("%w: max backoff below initial backoff", ErrInvalidRetryPolicy)
	}
	return nil
}

// Do runs operation until it succeeds, fails permanently, or attempts run out.
// It returns the number of attempts made.
func (policy RetryPolicy) Do(ctx context.Context, operation func(ctx context.Context) error) (int, error) {
	retryable := policy.Retryable
	if retryable == nil {
		retryable = IsRetryable
	}
	maxAttempts := policy.MaxAttempts
	if maxAttempts < 1 {
		maxAttempts = 1
	}
	attempts := 0
	err := backoff.Retry(func() error {
		attempts++
		operationError := operation(ctx)
		if operationError != nil && !retryable(operationError) {
			return backoff.Permanent(operationError)
		}
		return operationError
	}, backoff.WithContext(backoff.WithMaxRetries(policy.schedule(), uint64(maxAttempts-1)), ctx))
	return attempts, err
}

func (policy RetryPolicy) schedule() backoff.BackOff {
	if policy.InitialBackoff <= 0 {
		return &backoff.ZeroBackOff{}
	}
	exponential := backoff.NewExponentialBackOff()
	exponential.InitialInterval = policy.InitialBackoff
	exponential.MaxInterval = policy.MaxBackoff
	if exponential.MaxInterval < policy.InitialBackoff {
		exponential.MaxInterval = policy.InitialBackoff
	}
	exponential.MaxElapsedTime = 0
	exponential.Reset()
	return exponential
}

// IsRetryable reports whether err is worth another attempt within the same tick or cycle.
// Empty results, lost races, circuit-breaker rejections, and cancellation are not.
func IsRetryable(err error) bool {
	switch {
	case err == nil:
		return false
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		return false
	case errors.Is(err, ErrNoOpenTransaction), errors.Is(err, ErrTransactionClosed), errors.Is(err, ErrUnknownTransaction):
		return false
	case errors.Is(err, ErrCircuitOpen), errors.Is(err, ErrInvalidServiceConfig):
		return false
	default:
		return true
	}
}
