// File: internal/coordinator/retry.go
// Brief: Backoff for provider-busy retries.

package coordinator

import (
	"context"
	"math/rand"
	"time"
)

const maxBusyWait = 20 * time.Second

func busyBackoff(attempt int) time.Duration {
	// attempt is 1-based.
	base := 2 * time.Second
	d := base
	if attempt > 1 {
		d = base * time.Duration(1<<uint(min(attempt-1, 6)))
	}
	return min(jitter(d), maxBusyWait)
}

func jitter(d time.Duration) time.Duration {
	if d <= 0 {
		return 0
	}
	// +/- 20%
	f := 0.8 + rand.Float64()*0.4
	return time.Duration(float64(d) * f)
}

func sleepContext(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return ctx.Err()
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}
