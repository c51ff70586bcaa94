// Package backoff computes capped exponential retry delays.
package backoff

import (
	"context"
	"time"
)

// Exponential returns base × 2^retry, capped at max. Negative retries get base.
func Exponential(base, max time.Duration, retry int) time.Duration {
	if retry <= 0 {
		return base
	}
	// 2^30 × any sane base already exceeds any sane cap.
	if retry > 30 {
		return max
	}
	d := base * time.Duration(1<<retry)
	if d > max || d <= 0 {
		return max
	}
	return d
}

// Sleep waits for d or until ctx is done, whichever comes first.
func Sleep(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
