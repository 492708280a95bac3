// Package cacheaside orchestrates the cache-aside pattern with
// stale-while-revalidate semantics for the chat service.
//
// A read checks the remote store first. A fresh hit returns immediately; a
// stale hit (entry present, stale marker expired) is served immediately while
// a detached background task reloads it; a miss funnels through an in-process
// singleflight group and a distributed per-key lock so that one loader call
// serves every concurrent caller.
//
// Failures of the cache infrastructure are never surfaced to readers: the
// orchestrator degrades to calling the loader directly. Failures of the
// loader itself propagate, and count against the configured circuit breaker.
package cacheaside

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"golang.org/x/sync/singleflight"

	"github.com/relaychat/cachekit/breaker"
	"github.com/relaychat/cachekit/keys"
	"github.com/relaychat/cachekit/lock"
	"github.com/relaychat/cachekit/metrics"
	"github.com/relaychat/cachekit/store"
)

// loadLockPrefix namespaces the per-key reload locks.
const loadLockPrefix = "load:"

// Result is the outcome of a cache read.
type Result[T any] struct {
	// Data is the value, from cache or loader.
	Data T
	// FromCache reports whether the value came from the remote store.
	FromCache bool
	// IsStale reports whether the value's stale marker had expired.
	IsStale bool
}

// Deps are the collaborators a Cache is built from.
type Deps struct {
	// Store is the remote store client (required).
	Store *store.Client
	// Locks serializes cross-process reloads and warm-ups (required).
	Locks *lock.Manager
	// Keys supplies namespace TTL policies and stale-marker key names
	// (required).
	Keys *keys.Strategy
	// Recorder receives one sample per operation (optional).
	Recorder *metrics.Recorder
	// Source wraps loader calls to the slow backing source (optional).
	Source *breaker.Breaker
}

// Cache is the cache-aside orchestrator. All methods are safe for
// concurrent use.
type Cache struct {
	cfg    Config
	store  *store.Client
	locks  *lock.Manager
	keys   *keys.Strategy
	rec    *metrics.Recorder
	source *breaker.Breaker

	group singleflight.Group
	bg    sync.WaitGroup
}

// New creates a cache-aside orchestrator.
func New(cfg Config, deps Deps) (*Cache, error) {
	if deps.Store == nil {
		return nil, errors.New("cacheaside: store client is required")
	}
	if deps.Locks == nil {
		return nil, errors.New("cacheaside: lock manager is required")
	}
	if deps.Keys == nil {
		return nil, errors.New("cacheaside: key strategy is required")
	}
	return &Cache{
		cfg:    cfg,
		store:  deps.Store,
		locks:  deps.Locks,
		keys:   deps.Keys,
		rec:    deps.Recorder,
		source: deps.Source,
	}, nil
}

// record reports one sample to the recorder, if any.
func (c *Cache) record(op string, start time.Time, success bool) {
	if c.rec == nil {
		return
	}
	c.rec.Record(op, time.Since(start), success)
}

// Get reads a value by key, falling back to loader on miss.
//
// The returned Result reports whether the value came from cache and whether
// it was stale. Loader errors (including breaker.ErrCircuitOpen) propagate;
// remote-store errors degrade to a direct loader call instead of failing the
// read.
func Get[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error), opts ...Option) (Result[T], error) {
	start := time.Now()
	opt := c.resolveOptions(key, opts)

	if opt.skipCache {
		value, err := invokeLoader(ctx, c, key, loader)
		if err != nil {
			return Result[T]{}, err
		}
		return Result[T]{Data: value}, nil
	}

	data, err := c.store.GetBytes(ctx, key)
	switch {
	case err == nil:
		var value T
		if uerr := json.Unmarshal(data, &value); uerr != nil {
			// Poisoned entry: treat as a miss so the reload overwrites it.
			logger().Warn().Err(uerr).Str("key", key).Msg("cached entry undecodable, reloading")
			break
		}

		fresh, merr := c.store.Exists(ctx, c.keys.StaleMarkerKey(key))
		if merr != nil {
			// Can't tell; serving as fresh beats blocking the read.
			logger().Warn().Err(merr).Str("key", key).Msg("stale marker check failed")
			fresh = true
		}
		if fresh {
			c.record(metrics.OpHit, start, true)
			return Result[T]{Data: value, FromCache: true}, nil
		}

		if opt.revalidate {
			c.record(metrics.OpStale, start, true)
			scheduleRefresh(c, key, opt, loader)
			return Result[T]{Data: value, FromCache: true, IsStale: true}, nil
		}
		// Stale and revalidation disabled: reload synchronously below.

	case errors.Is(err, store.ErrNotFound):
		// Plain miss, reload below.

	default:
		// Store unreachable: the cache must not fail the read.
		logger().Warn().Err(err).Str("key", key).Msg("store read failed, loading directly")
		value, lerr := invokeLoader(ctx, c, key, loader)
		if lerr != nil {
			return Result[T]{}, lerr
		}
		return Result[T]{Data: value}, nil
	}

	value, err := loadShared(ctx, c, key, opt, loader)
	c.record(metrics.OpMiss, start, err == nil)
	if err != nil {
		return Result[T]{}, err
	}
	return Result[T]{Data: value}, nil
}

// loadShared funnels concurrent misses for one key through an in-process
// singleflight group and the distributed per-key lock, so the loader runs at
// most once under normal contention.
func loadShared[T any](ctx context.Context, c *Cache, key string, opt callOptions, loader func(context.Context) (T, error)) (T, error) {
	var zero T

	shared, err, _ := c.group.Do(key, func() (any, error) {
		lockKey := loadLockPrefix + key
		acquired, lockErr := c.locks.Acquire(ctx, lockKey, c.cfg.GetLockTTL(),
			lock.WithRetryDelay(c.cfg.GetLockRetryDelay()),
			lock.WithRetryCount(c.cfg.GetLockRetryCount()))
		if lockErr != nil {
			// Lock infrastructure trouble reduces stampede protection, not
			// availability.
			logger().Warn().Err(lockErr).Str("key", key).Msg("load lock unavailable")
			acquired = false
		}

		if acquired {
			defer func() {
				if _, rerr := c.locks.Release(context.WithoutCancel(ctx), lockKey); rerr != nil {
					logger().Warn().Err(rerr).Str("key", key).Msg("load lock release failed")
				}
			}()

			// Double-check: another holder may have just populated the key.
			if cached, ok := lookup[T](ctx, c, key, opt); ok {
				return cached, nil
			}
			value, err := invokeLoader(ctx, c, key, loader)
			if err != nil {
				return nil, err
			}
			c.writeEntry(ctx, key, value, opt)
			return value, nil
		}

		// Couldn't get the lock within the retry budget: check once more,
		// then load without protection. Availability wins over strict
		// stampede prevention under extreme contention.
		if cached, ok := lookup[T](ctx, c, key, opt); ok {
			return cached, nil
		}
		value, err := invokeLoader(ctx, c, key, loader)
		if err != nil {
			return nil, err
		}
		c.writeEntry(ctx, key, value, opt)
		return value, nil
	})
	if err != nil {
		return zero, err
	}
	return shared.(T), nil
}

// lookup fetches and decodes a fresh entry, reporting ok=false on miss or
// any store/decoding trouble. An entry whose stale marker has expired also
// reports false: reloads entered from a stale hit must not be satisfied by
// the stale value they are replacing.
func lookup[T any](ctx context.Context, c *Cache, key string, opt callOptions) (T, bool) {
	var value T
	data, err := c.store.GetBytes(ctx, key)
	if err != nil {
		return value, false
	}
	if opt.staleWindow > 0 {
		fresh, err := c.store.Exists(ctx, c.keys.StaleMarkerKey(key))
		if err != nil || !fresh {
			return value, false
		}
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false
	}
	return value, true
}

// invokeLoader calls the caller-supplied loader, wrapped by the source
// circuit breaker when one is configured.
func invokeLoader[T any](ctx context.Context, c *Cache, key string, loader func(context.Context) (T, error)) (T, error) {
	start := time.Now()
	var value T
	var err error

	if c.source != nil {
		var res any
		res, err = c.source.Execute(ctx, func(ctx context.Context) (any, error) {
			return loader(ctx)
		})
		if err == nil {
			value = res.(T)
		}
	} else {
		value, err = loader(ctx)
	}

	c.record("load", start, err == nil)
	if err != nil {
		var zero T
		return zero, fmt.Errorf("cacheaside: load %s: %w", key, err)
	}
	return value, nil
}

// scheduleRefresh spawns the detached stale-while-revalidate task: one loader
// attempt whose failure is logged, never re-raised to the caller that
// triggered it. Concurrent stale hits for the same key collapse into one
// refresh through the singleflight group.
func scheduleRefresh[T any](c *Cache, key string, opt callOptions, loader func(context.Context) (T, error)) {
	c.bg.Add(1)
	go func() {
		defer c.bg.Done()

		// The triggering request is not joined to this task; give the
		// refresh its own deadline.
		ctx, cancel := context.WithTimeout(context.Background(), c.cfg.GetRefreshTimeout())
		defer cancel()

		_, err, _ := c.group.Do("refresh:"+key, func() (any, error) {
			value, err := invokeLoader(ctx, c, key, loader)
			if err != nil {
				return nil, err
			}
			c.writeEntry(ctx, key, value, opt)
			return value, nil
		})
		if err != nil {
			logger().Warn().Err(err).Str("key", key).Msg("background refresh failed")
		} else {
			logger().Debug().Str("key", key).Msg("background refresh completed")
		}
	}()
}

// writeEntry stores a value and its stale marker, swallowing store errors.
func (c *Cache) writeEntry(ctx context.Context, key string, value any, opt callOptions) {
	data, err := json.Marshal(value)
	if err != nil {
		logger().Error().Err(err).Str("key", key).Msg("cache encode failed")
		return
	}
	if err := c.store.SetBytes(ctx, key, data, opt.ttl); err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("cache write failed")
		return
	}
	if opt.staleWindow > 0 {
		markerTTL := markerTTL(key, opt.ttl, opt.staleWindow)
		if err := c.store.SetBytes(ctx, c.keys.StaleMarkerKey(key), []byte("1"), markerTTL); err != nil {
			logger().Warn().Err(err).Str("key", key).Msg("stale marker write failed")
		}
	}
}

// markerTTL derives the stale-marker TTL from the entry TTL and the stale
// window. The marker must always expire strictly before the entry; violating
// configurations are clamped to half the entry TTL.
func markerTTL(key string, entryTTL, staleWindow time.Duration) time.Duration {
	ttl := entryTTL - staleWindow
	if ttl <= 0 || ttl >= entryTTL {
		clamped := entryTTL / 2
		logger().Warn().
			Str("key", key).
			Dur("entry_ttl", entryTTL).
			Dur("stale_window", staleWindow).
			Dur("clamped", clamped).
			Msg("stale window out of range, clamping marker ttl")
		return clamped
	}
	return ttl
}

// Set writes a value and its stale marker.
//
// Store failures are logged and swallowed: caching never fails a caller's
// write path. Encoding failures are surfaced, they are programmer errors.
func Set[T any](ctx context.Context, c *Cache, key string, value T, opts ...Option) error {
	start := time.Now()
	opt := c.resolveOptions(key, opts)

	data, err := json.Marshal(value)
	if err != nil {
		c.record("set", start, false)
		return fmt.Errorf("%w: encode %s: %w", store.ErrSerialization, key, err)
	}

	if err := c.store.SetBytes(ctx, key, data, opt.ttl); err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("cache write failed")
		c.record("set", start, false)
		return nil
	}
	if opt.staleWindow > 0 {
		if err := c.store.SetBytes(ctx, c.keys.StaleMarkerKey(key), []byte("1"), markerTTL(key, opt.ttl, opt.staleWindow)); err != nil {
			logger().Warn().Err(err).Str("key", key).Msg("stale marker write failed")
		}
	}
	c.record("set", start, true)
	return nil
}

// Delete removes an entry and its stale marker. Best-effort: store errors
// are logged and swallowed.
func (c *Cache) Delete(ctx context.Context, key string) error {
	start := time.Now()
	err := c.store.Delete(ctx, key, c.keys.StaleMarkerKey(key))
	if err != nil {
		logger().Warn().Err(err).Str("key", key).Msg("cache delete failed")
	}
	c.record("delete", start, err == nil)
	return nil
}

// InvalidatePattern removes every entry matching a wildcard pattern along
// with their stale markers (markers share the entry's key prefix, so one
// pattern pass covers both).
func (c *Cache) InvalidatePattern(ctx context.Context, pattern string) error {
	start := time.Now()
	err := c.store.DeletePattern(ctx, pattern)
	c.record("invalidate", start, err == nil)
	if err != nil {
		return fmt.Errorf("cacheaside: invalidate %s: %w", pattern, err)
	}
	return nil
}

// WaitBackground blocks until all detached refresh tasks have finished.
// Intended for shutdown and tests; the foreground path never calls it.
func (c *Cache) WaitBackground() {
	c.bg.Wait()
}
