// Package lock provides named, TTL-bounded, ownership-tokened mutual
// exclusion across processes sharing one Redis deployment.
//
// Acquisition is a single server-side Lua script: set-if-absent with a fresh
// random token, or refresh when the stored token already belongs to this
// manager (idempotent re-acquire). Release and Extend are token-compared
// compare-and-swap scripts, so a holder can never release or extend a lock
// that expired and was re-acquired by someone else.
//
// The cache layer uses these locks to serialize cache warm-ups and to prevent
// thundering-herd reloads of the same missing key.
package lock

import (
	"context"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/redis/go-redis/v9"
)

// localPruneGrace is added to the remote TTL before the local bookkeeping
// entry is pruned. The remote lock expires on its own; the timer only keeps
// the local view from leaking when Release is never called.
const localPruneGrace = 250 * time.Millisecond

var (
	// acquireScript sets the lock if absent, or refreshes it when the caller
	// already owns it. Single round trip, atomic on the server.
	acquireScript = redis.NewScript(`
if redis.call("EXISTS", KEYS[1]) == 0 then
	redis.call("SET", KEYS[1], ARGV[1], "PX", ARGV[2])
	return 1
elseif redis.call("GET", KEYS[1]) == ARGV[1] then
	redis.call("PEXPIRE", KEYS[1], ARGV[2])
	return 1
else
	return 0
end`)

	// releaseScript deletes the lock only while the caller still owns it.
	releaseScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("DEL", KEYS[1])
else
	return 0
end`)

	// extendScript refreshes the TTL only while the caller still owns it.
	extendScript = redis.NewScript(`
if redis.call("GET", KEYS[1]) == ARGV[1] then
	return redis.call("PEXPIRE", KEYS[1], ARGV[2])
else
	return 0
end`)
)

// heldLock is the local bookkeeping record for one acquired lock.
type heldLock struct {
	token string
	timer *time.Timer
}

// Manager acquires and releases distributed locks against Redis.
// All methods are safe for concurrent use.
type Manager struct {
	client redis.UniversalClient
	cfg    Config

	mu   sync.Mutex
	held map[string]*heldLock
}

// NewManager creates a lock Manager using the given Redis client.
func NewManager(client redis.UniversalClient, cfg Config) *Manager {
	return &Manager{
		client: client,
		cfg:    cfg,
		held:   make(map[string]*heldLock),
	}
}

// resourceKey maps a logical resource name to its physical Redis key.
func (m *Manager) resourceKey(key string) string {
	return m.cfg.GetKeyPrefix() + key
}

// Acquire attempts to take the named lock for the given TTL.
//
// On contention it retries up to retryCount more times, sleeping retryDelay
// between attempts, then reports false. A false result is an outcome, not an
// error: callers degrade to their unlocked fallback path.
func (m *Manager) Acquire(ctx context.Context, key string, ttl time.Duration, opts ...AcquireOption) (bool, error) {
	if ttl <= 0 {
		ttl = m.cfg.GetDefaultTTL()
	}
	opt := m.acquireOptions(opts)

	// Reuse our token when we already hold this lock so the server-side
	// script treats the call as an idempotent re-acquire.
	m.mu.Lock()
	token := ""
	if h, ok := m.held[key]; ok {
		token = h.token
	}
	m.mu.Unlock()
	if token == "" {
		token = uuid.NewString()
	}

	attempts := opt.retryCount + 1
	for attempt := 0; attempt < attempts; attempt++ {
		acquired, err := m.tryAcquire(ctx, key, token, ttl)
		if err != nil {
			return false, err
		}
		if acquired {
			m.bookkeep(key, token, ttl)
			logger().Debug().
				Str("key", key).
				Dur("ttl", ttl).
				Int("attempt", attempt+1).
				Msg("lock acquired")
			return true, nil
		}
		if attempt == attempts-1 {
			break
		}
		select {
		case <-ctx.Done():
			return false, ctx.Err()
		case <-time.After(opt.retryDelay):
		}
	}

	logger().Debug().
		Str("key", key).
		Int("attempts", attempts).
		Msg("lock not acquired")
	return false, nil
}

// tryAcquire runs the atomic acquire script once.
func (m *Manager) tryAcquire(ctx context.Context, key, token string, ttl time.Duration) (bool, error) {
	res, err := acquireScript.Run(ctx, m.client, []string{m.resourceKey(key)}, token, ttl.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock: acquire %s: %w", key, err)
	}
	return res == 1, nil
}

// Release gives up the named lock.
//
// Returns false when this manager does not currently own the lock, including
// the case where the lock expired remotely and was re-acquired by another
// owner. The other owner's lock is left untouched.
func (m *Manager) Release(ctx context.Context, key string) (bool, error) {
	m.mu.Lock()
	h, ok := m.held[key]
	if ok {
		h.timer.Stop()
		delete(m.held, key)
	}
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	res, err := releaseScript.Run(ctx, m.client, []string{m.resourceKey(key)}, h.token).Int()
	if err != nil {
		return false, fmt.Errorf("lock: release %s: %w", key, err)
	}
	released := res == 1
	if !released {
		logger().Warn().
			Str("key", key).
			Msg("lock release skipped: token no longer owns the lock")
	}
	return released, nil
}

// Extend pushes out the TTL of a lock this manager still owns.
// Returns false when ownership was lost in the meantime.
func (m *Manager) Extend(ctx context.Context, key string, newTTL time.Duration) (bool, error) {
	if newTTL <= 0 {
		newTTL = m.cfg.GetDefaultTTL()
	}

	m.mu.Lock()
	h, ok := m.held[key]
	m.mu.Unlock()
	if !ok {
		return false, nil
	}

	res, err := extendScript.Run(ctx, m.client, []string{m.resourceKey(key)}, h.token, newTTL.Milliseconds()).Int()
	if err != nil {
		return false, fmt.Errorf("lock: extend %s: %w", key, err)
	}
	if res != 1 {
		return false, nil
	}
	m.bookkeep(key, h.token, newTTL)
	return true, nil
}

// ActiveCount returns the number of locks this manager currently tracks.
// Feeds the cache layer's active-lock gauge.
func (m *Manager) ActiveCount() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return len(m.held)
}

// bookkeep records local ownership and arms a prune timer slightly past the
// remote TTL so the map stays bounded even if Release is never called.
func (m *Manager) bookkeep(key, token string, ttl time.Duration) {
	m.mu.Lock()
	defer m.mu.Unlock()

	if h, ok := m.held[key]; ok {
		h.timer.Stop()
	}
	timer := time.AfterFunc(ttl+localPruneGrace, func() {
		m.mu.Lock()
		defer m.mu.Unlock()
		if h, ok := m.held[key]; ok && h.token == token {
			delete(m.held, key)
		}
	})
	m.held[key] = &heldLock{token: token, timer: timer}
}

// WithLock runs fn while holding the named lock and guarantees release on
// every exit path, including panics inside fn.
//
// Returns ErrNotAcquired when the lock cannot be taken within the retry
// budget; fn is not invoked in that case.
func WithLock[T any](ctx context.Context, m *Manager, key string, ttl time.Duration, fn func(ctx context.Context) (T, error), opts ...AcquireOption) (T, error) {
	var zero T

	acquired, err := m.Acquire(ctx, key, ttl, opts...)
	if err != nil {
		return zero, err
	}
	if !acquired {
		return zero, ErrNotAcquired
	}
	defer func() {
		// Release must happen even when ctx was canceled inside fn.
		if _, rerr := m.Release(context.WithoutCancel(ctx), key); rerr != nil {
			logger().Warn().Err(rerr).Str("key", key).Msg("lock release failed")
		}
	}()

	return fn(ctx)
}
