package cachekit

import (
	"github.com/relaychat/cachekit/breaker"
	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
	"github.com/relaychat/cachekit/lock"
	"github.com/relaychat/cachekit/store"
)

// Sentinels from the sub-packages that facade callers commonly branch on,
// re-exported so call sites only import cachekit. Compare with errors.Is.
var (
	// ErrNotFound reports a cache miss on the typed store helpers.
	ErrNotFound = store.ErrNotFound
	// ErrSerialization reports an undecodable or unencodable value.
	ErrSerialization = store.ErrSerialization
	// ErrCircuitOpen reports a loader call rejected by the breaker.
	ErrCircuitOpen = breaker.ErrCircuitOpen
	// ErrNotAcquired reports a WithLock call that lost the lock race.
	ErrNotAcquired = lock.ErrNotAcquired
	// ErrWarmInProgress reports a warm-up already running elsewhere.
	ErrWarmInProgress = cacheaside.ErrWarmInProgress
	// ErrInvalidKey reports a key that does not parse under the strategy.
	ErrInvalidKey = keys.ErrInvalidKey
)
