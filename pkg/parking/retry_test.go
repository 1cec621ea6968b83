package parking

import (
	"context"
	"errors"
	"testing"
	"time"
)

func TestRetryPolicyDo(test *testing.T) {
	test.Parallel()
	transient := errors.New("transient")
	testCases := []struct {
		name         string
		policy       RetryPolicy
		failures     int
		failure      error
		wantAttempts int
		wantErr      error
	}{
		{name: "single attempt succeeds", policy: DefaultRetryPolicy(), wantAttempts: 1},
		{name: "single attempt fails", policy: DefaultRetryPolicy(), failures: 5, failure: transient, wantAttempts: 1, wantErr: transient},
		{name: "recovers within budget", policy: RetryPolicy{MaxAttempts: 3}, failures: 2, failure: transient, wantAttempts: 3},
		{name: "exhausts budget", policy: RetryPolicy{MaxAttempts: 3}, failures: 5, failure: transient, wantAttempts: 3, wantErr: transient},
		{name: "permanent error stops", policy: RetryPolicy{MaxAttempts: 3}, failures: 5, failure: ErrTransactionClosed, wantAttempts: 1, wantErr: ErrTransactionClosed},
		{name: "exponential schedule", policy: RetryPolicy{MaxAttempts: 2, InitialBackoff: time.Millisecond, MaxBackoff: 2 * time.Millisecond}, failures: 1, failure: transient, wantAttempts: 2},
	}
	for _, testCase := range testCases {
		testCase := testCase
		test.Run(testCase.name, func(test *testing.T) {
			test.Parallel()
			calls := 0
			attempts, err := testCase.policy.Do(context.Background(), func(context.Context) error {
				calls++
				if calls <= testCase.failures {
					return testCase.failure
				}
				return nil
			})
			if attempts != testCase.wantAttempts || calls != testCase.wantAttempts {
				test.Fatalf("expected %d attempts, got %d (calls %d)", testCase.wantAttempts, attempts, calls)
			}
			if testCase.wantErr == nil && err != nil {
				test.Fatalf("unexpected error: %v", err)
			}
			if testCase.wantErr != nil && !errors.Is(err, testCase.wantErr) {
				test.Fatalf("expected %v, got %v", testCase.wantErr, err)
			}
		})
	}
}

func TestRetryPolicyStopsOnCancelledContext(test *testing.T) {
	test.Parallel()
	ctx, cancel := context.WithCancel(context.Background())
	policy := RetryPolicy{MaxAttempts: 5, InitialBackoff: time.Millisecond, MaxBackoff: time.Millisecond}
	attempts, err := policy.Do(ctx, func(context.Context) error {
		cancel()
		return errors.New("transient")
	})
	if err == nil {
		test.Fatalf("expected error after cancellation")
	}
	if attempts != 1 {
		test.Fatalf("expected a single attempt, got %d", attempts)
	}
}

func TestRetryPolicyValidate(test *testing.T) {
	test.Parallel()
	invalid := []RetryPolicy{
		{},
		{MaxAttempts: 1, InitialBackoff: -time.Second},
		{MaxAttempts: 2, InitialBackoff: time.Second, MaxBackoff: time.Millisecond},
	}
	for _, policy := range invalid {
		if err := policy.Validate(); !errors.Is(err, ErrInvalidRetryPolicy) {
			test.Fatalf("expected ErrInvalidRetryPolicy for %+v, got %v", policy, err)
		}
	}
	if err := DefaultRetryPolicy().Validate(); err != nil {
		test.Fatalf("default policy invalid: %v", err)
	}
}

func TestIsRetryable(test *testing.T) {
	test.Parallel()
	testCases := []struct {
		err  error
		want bool
	}{
		{err: nil, want: false},
		{err: context.Canceled, want: false},
		{err: ErrNoOpenTransaction, want: false},
		{err: WrapError("close", "transaction", "conflict", ErrTransactionClosed), want: false},
		{err: WrapError("store", "transaction", "close", ErrUnknownTransaction), want: false},
		{err: ErrCircuitOpen, want: false},
		{err: ConnectionError(errors.New("refused")), want: true},
		{err: StatementError(errors.New("deadlock")), want: true},
	}
	for _, testCase := range testCases {
		if got := IsRetryable(testCase.err); got != testCase.want {
			test.Fatalf("IsRetryable(%v) = %v, want %v", testCase.err, got, testCase.want)
		}
	}
}
