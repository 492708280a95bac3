package cacheaside

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"github.com/samber/lo"

	"github.com/relaychat/cachekit/metrics"
)

// BatchLoader loads values for the keys the cache could not serve. It is
// invoked exactly once per BatchGet with exactly the missing keys, and
// returns a map keyed by cache key. Keys absent from the returned map stay
// absent from the BatchGet result.
type BatchLoader[T any] func(ctx context.Context, missing []string) (map[string]T, error)

// BatchGet reads many keys in one pass.
//
// Keys are partitioned into fresh hits, stale hits, and misses. Misses are
// loaded with a single loader call and cached individually; stale keys are
// refreshed by a single detached background loader call. The result map
// contains an entry for every key the store or the loader could produce;
// callers treat absent keys as unknown.
func BatchGet[T any](ctx context.Context, c *Cache, cacheKeys []string, loader BatchLoader[T], opts ...Option) (map[string]Result[T], error) {
	if len(cacheKeys) == 0 {
		return map[string]Result[T]{}, nil
	}
	start := time.Now()
	cacheKeys = lo.Uniq(cacheKeys)
	// Flag options are key-independent; TTL policy is resolved per key at
	// the write sites so a mixed-namespace batch caches each key under its
	// own namespace policy.
	flags := c.resolveOptions(cacheKeys[0], opts)

	results := make(map[string]Result[T], len(cacheKeys))

	entries, err := c.store.MGetBytes(ctx, cacheKeys)
	if err != nil {
		// Store unreachable: degrade to one loader call for everything.
		logger().Warn().Err(err).Int("keys", len(cacheKeys)).Msg("batch read failed, loading directly")
		entries = map[string][]byte{}
	}

	markerFor := func(key string) string { return c.keys.StaleMarkerKey(key) }
	presentKeys := lo.Filter(cacheKeys, func(key string, _ int) bool {
		_, ok := entries[key]
		return ok
	})
	markers, merr := c.store.MGetBytes(ctx, lo.Map(presentKeys, func(key string, _ int) string {
		return markerFor(key)
	}))
	if merr != nil {
		logger().Warn().Err(merr).Msg("batch marker check failed")
		markers = nil // treat every present entry as fresh
	}

	var missing, stale []string
	for _, key := range cacheKeys {
		data, ok := entries[key]
		if !ok {
			missing = append(missing, key)
			c.record(metrics.OpMiss, start, true)
			continue
		}
		var value T
		if uerr := json.Unmarshal(data, &value); uerr != nil {
			logger().Warn().Err(uerr).Str("key", key).Msg("cached entry undecodable, reloading")
			missing = append(missing, key)
			c.record(metrics.OpMiss, start, true)
			continue
		}

		fresh := merr != nil
		if markers != nil {
			_, fresh = markers[markerFor(key)]
		}
		if fresh {
			results[key] = Result[T]{Data: value, FromCache: true}
			c.record(metrics.OpHit, start, true)
		} else {
			results[key] = Result[T]{Data: value, FromCache: true, IsStale: true}
			stale = append(stale, key)
			c.record(metrics.OpStale, start, true)
		}
	}

	if len(missing) > 0 {
		loaded, lerr := invokeBatchLoader(ctx, c, missing, loader)
		if lerr != nil {
			// Partial results are still useful to the caller.
			return results, lerr
		}
		for key, value := range loaded {
			results[key] = Result[T]{Data: value}
			c.writeEntry(ctx, key, value, c.resolveOptions(key, opts))
		}
	}

	if len(stale) > 0 && flags.revalidate {
		scheduleBatchRefresh(c, stale, opts, loader)
	}

	return results, nil
}

// invokeBatchLoader calls the batch loader once, wrapped by the source
// circuit breaker when one is configured.
func invokeBatchLoader[T any](ctx context.Context, c *Cache, missing []string, loader BatchLoader[T]) (map[string]T, error) {
	start := time.Now()
	var loaded map[string]T
	var err error

	if c.source != nil {
		var res any
		res, err = c.source.Execute(ctx, func(ctx context.Context) (any, error) {
			return loader(ctx, missing)
		})
		if err == nil {
			loaded = res.(map[string]T)
		}
	} else {
		loaded, err = loader(ctx, missing)
	}

	c.record("batch_load", start, err == nil)
	if err != nil {
		return nil, fmt.Errorf("cacheaside: batch load %d keys: %w", len(missing), err)
	}
	return loaded, nil
}

// scheduleBatchRefresh spawns one detached task that refreshes every stale
// key with a single loader call.
func scheduleBatchRefresh[T any](c *Cache, stale []string, opts []Option, loader BatchLoader[T]) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.GetRefreshTimeout())
		defer cancel()

		loaded, err := invokeBatchLoader(ctx, c, stale, loader)
		if err != nil {
			logger().Warn().Err(err).Int("keys", len(stale)).Msg("background batch refresh failed")
			return
		}
		for key, value := range loaded {
			c.writeEntry(ctx, key, value, c.resolveOptions(key, opts))
		}
		logger().Debug().Int("keys", len(loaded)).Msg("background batch refresh completed")
	}()
}
