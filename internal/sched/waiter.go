package sched

import (
	"context"
	"time"

	"github.com/openbell/openbell/internal/observ"
)

// Phase boundaries for WaitUntil. Far from the target we sleep in long
// slices; inside the final second the polls tighten so the wake lands within
// a few milliseconds of the instant.
const (
	coarseFloor = time.Second
	mediumFloor = 50 * time.Millisecond
	coarseSlice = 500 * time.Millisecond
	mediumSlice = 50 * time.Millisecond
	tightSlice  = time.Millisecond
)

// WaitUntil blocks until the clock reads target or later. It never returns
// early: on wake the clock is re-read and the loop continues while any time
// remains. Cancellation is honored at every slice boundary, so even a target
// hours away aborts within one coarse slice.
func (c *Clock) WaitUntil(ctx context.Context, target time.Time) error {
	for {
		remaining := target.Sub(c.Now())
		if remaining <= 0 {
			overshoot := -remaining
			observ.SetGauge("wait_overshoot_ms", float64(overshoot.Milliseconds()), nil)
			observ.Log("wait_complete", map[string]any{
				"target":       target.Format(time.RFC3339Nano),
				"overshoot_us": overshoot.Microseconds(),
			})
			return nil
		}

		var slice time.Duration
		switch {
		case remaining > coarseFloor:
			slice = coarseSlice
		case remaining > mediumFloor:
			slice = mediumSlice
		default:
			slice = tightSlice
		}
		if slice > remaining {
			slice = remaining
		}

		timer := time.NewTimer(slice)
		select {
		case <-timer.C:
		case <-ctx.Done():
			timer.Stop()
			observ.Log("wait_cancelled", map[string]any{
				"target":       target.Format(time.RFC3339Nano),
				"remaining_ms": remaining.Milliseconds(),
			})
			return ctx.Err()
		}
	}
}
