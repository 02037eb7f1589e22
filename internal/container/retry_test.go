// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"errors"
	"math"
	"testing"
	"time"
)

func TestRetryWithBackoff(t *testing.T) {
	t.Parallel()

	errTransient := errors.New("transient")
	errPermanent := errors.New("permanent")

	tests := []struct {
		name      string
		failures  int
		permanent bool
		attempts  int
		wantCalls int
		wantErr   error
	}{
		{"succeeds first try", 0, false, 3, 1, nil},
		{"succeeds after retries", 2, false, 3, 3, nil},
		{"exhausted", 5, false, 3, 3, errTransient},
		{"permanent stops", 5, true, 3, 1, errPermanent},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()

			calls := 0
			err := RetryWithBackoff(context.Background(), tt.attempts, time.Millisecond, func(int) (bool, error) {
				calls++
				if calls <= tt.failures {
					if tt.permanent {
						return false, errPermanent
					}
					return true, errTransient
				}
				return false, nil
			})
			if !errors.Is(err, tt.wantErr) && !(err == nil && tt.wantErr == nil) {
				t.Errorf("RetryWithBackoff() error = %v, want %v", err, tt.wantErr)
			}
			if calls != tt.wantCalls {
				t.Errorf("calls = %d, want %d", calls, tt.wantCalls)
			}
		})
	}
}

func TestRetryWithBackoff_Cancelled(t *testing.T) {
	t.Parallel()

	ctx, cancel := context.WithCancel(context.Background())
	calls := 0
	err := RetryWithBackoff(ctx, 5, time.Hour, func(int) (bool, error) {
		calls++
		cancel()
		return true, errors.New("not yet")
	})
	if !errors.Is(err, context.Canceled) {
		t.Errorf("error = %v, want context.Canceled", err)
	}
	if calls != 1 {
		t.Errorf("calls = %d, want 1", calls)
	}
}

func TestBackoffDelay(t *testing.T) {
	t.Parallel()

	tests := []struct {
		name    string
		max     time.Duration
		attempt int
		want    time.Duration
	}{
		{"first retry", 0, 1, 100 * time.Millisecond},
		{"doubles", 0, 4, 800 * time.Millisecond},
		{"uncapped grows", 0, 10, 51200 * time.Millisecond},
		{"capped", time.Second, 10, time.Second},
		{"below cap", time.Second, 3, 400 * time.Millisecond},
		{"no overflow", 0, 200, time.Duration(math.MaxInt64)},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			t.Parallel()
			if got := BackoffDelay(100*time.Millisecond, tt.max, tt.attempt); got != tt.want {
				t.Errorf("BackoffDelay(attempt %d) = %s, want %s", tt.attempt, got, tt.want)
			}
		})
	}
}
