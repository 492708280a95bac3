package cacheaside

import (
	"context"
	"time"

	"github.com/relaychat/cachekit/lock"
)

// warmLockKey is the cluster-wide resource guarding warm-up runs.
const warmLockKey = "cache-warming"

// Warm pre-populates the cache with a batch of values, typically at startup
// or after a flush.
//
// Only one warm-up runs across the cluster at a time: the run holds an
// exclusive lock for its duration and ErrWarmInProgress is returned when
// another process already holds it. Individual writes are best-effort, a
// failed key is logged and skipped so one bad entry never aborts the batch.
func Warm[T any](ctx context.Context, c *Cache, entries map[string]T, opts ...Option) error {
	if len(entries) == 0 {
		return nil
	}
	start := time.Now()

	acquired, err := c.locks.Acquire(ctx, warmLockKey, c.cfg.GetWarmLockTTL(), lock.WithRetryCount(0))
	if err != nil {
		c.record("warm", start, false)
		return err
	}
	if !acquired {
		c.record("warm", start, false)
		return ErrWarmInProgress
	}
	defer func() {
		if _, rerr := c.locks.Release(context.WithoutCancel(ctx), warmLockKey); rerr != nil {
			logger().Warn().Err(rerr).Msg("warm lock release failed")
		}
	}()

	written := 0
	for key, value := range entries {
		if ctx.Err() != nil {
			c.record("warm", start, false)
			return ctx.Err()
		}
		opt := c.resolveOptions(key, opts)
		c.writeEntry(ctx, key, value, opt)
		written++
	}

	logger().Info().Int("keys", written).Dur("took", time.Since(start)).Msg("cache warm-up completed")
	c.record("warm", start, true)
	return nil
}
