package service

import (
	"context"
	"fmt"
	"time"

	"golang.org/x/sync/errgroup"
)

// Default window for batched per-item work (neighbour search, backfill).
const (
	DefaultBatchConcurrency = 5
	DefaultBatchDelay       = 200 * time.Millisecond
)

// runWindowed calls fn for every index in [0, n), window items at a time, pausing delay between
// windows. fn errors do not stop the run; only ctx cancellation does, and then ctx.Err() is returned.
func runWindowed(ctx context.Context, n, window int, delay time.Duration, fn func(ctx context.Context, i int)) error {
	if window <= 0 {
		window = DefaultBatchConcurrency
	}

	for start := 0; start < n; start += window {
		if err := ctx.Err(); err != nil {
			return fmt.Errorf("batch interrupted: %w", err)
		}

		if start > 0 && delay > 0 {
			if err := sleepCtx(ctx, delay); err != nil {
				return err
			}
		}

		end := min(start+window, n)

		var g errgroup.Group

		g.SetLimit(window)

		for i := start; i < end; i++ {
			g.Go(func() error {
				fn(ctx, i)

				return nil
			})
		}

		_ = g.Wait()
	}

	if err := ctx.Err(); err != nil {
		return fmt.Errorf("batch interrupted: %w", err)
	}

	return nil
}

// sleepCtx blocks for the given duration or until ctx is cancelled; returns ctx.Err() if cancelled.
func sleepCtx(ctx context.Context, d time.Duration) error {
	timer := time.NewTimer(d)
	defer timer.Stop()

	select {
	case <-ctx.Done():
		return fmt.Errorf("batch delay interrupted: %w", ctx.Err())
	case <-timer.C:
		return nil
	}
}
