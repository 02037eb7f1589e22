// SPDX-License-Identifier: MPL-2.0

package container

import (
	"context"
	"fmt"
	"math"
	"time"
)

// RetryWithBackoff retries op up to maxAttempts times with exponential backoff,
// returning early when ctx is done.
//
// op returns (retry, err). When retry is false, err is returned immediately
// (nil on success). On exhaustion the last error is returned.
//
// Image builds never go through here: a failed build is final.
func RetryWithBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	return RetryWithCappedBackoff(ctx, maxAttempts, baseBackoff, 0, op)
}

// RetryWithCappedBackoff is RetryWithBackoff with the delay between attempts
// limited to maxBackoff. A zero maxBackoff leaves the delay uncapped.
func RetryWithCappedBackoff(
	ctx context.Context,
	maxAttempts int,
	baseBackoff, maxBackoff time.Duration,
	op func(attempt int) (retry bool, err error),
) error {
	var lastErr error
	for attempt := range maxAttempts {
		if attempt > 0 {
			timer := time.NewTimer(BackoffDelay(baseBackoff, maxBackoff, attempt))
			select {
			case <-ctx.Done():
				timer.Stop()
				return fmt.Errorf("retry aborted: %w", ctx.Err())
			case <-timer.C:
			}
		}

		retry, err := op(attempt)
		if err == nil {
			return nil
		}
		if !retry {
			return err
		}
		lastErr = err
	}
	return lastErr
}

// BackoffDelay is the wait before attempt (1-based retries): baseBackoff
// doubled per retry, limited to maxBackoff when it is positive.
func BackoffDelay(baseBackoff, maxBackoff time.Duration, attempt int) time.Duration {
	d := baseBackoff
	for i := 1; i < attempt; i++ {
		if maxBackoff > 0 && d >= maxBackoff {
			break
		}
		if d > math.MaxInt64/2 {
			return math.MaxInt64
		}
		d *= 2
	}
	if maxBackoff > 0 && d > maxBackoff {
		return maxBackoff
	}
	return d
}
