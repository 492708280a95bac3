package lock

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func setupTestRedis(t *testing.T) *miniredis.Miniredis {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)
	return mr
}

// newTestManager simulates one process attached to the shared store.
func newTestManager(t *testing.T, mr *miniredis.Miniredis) *Manager {
	t.Helper()
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})
	return NewManager(client, Config{})
}

func TestAcquireRelease(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)
	ctx := context.Background()

	acquired, err := m.Acquire(ctx, "res", 5*time.Second)
	if err != nil {
		t.Fatalf("Acquire failed: %v", err)
	}
	if !acquired {
		t.Fatal("Acquire = false, want true")
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	released, err := m.Release(ctx, "res")
	if err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if !released {
		t.Error("Release = false, want true")
	}
	if m.ActiveCount() != 0 {
		t.Errorf("ActiveCount after release = %d, want 0", m.ActiveCount())
	}
	if mr.Exists("lock:res") {
		t.Error("lock key still present after release")
	}
}

func TestAcquireContention(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)
	ctx := context.Background()

	if ok, _ := p1.Acquire(ctx, "res", 5*time.Second); !ok {
		t.Fatal("p1 failed to acquire")
	}

	// p2 must fail before expiry.
	ok, err := p2.Acquire(ctx, "res", 5*time.Second, WithRetryCount(0))
	if err != nil {
		t.Fatalf("p2 Acquire failed: %v", err)
	}
	if ok {
		t.Fatal("p2 acquired a lock p1 still holds")
	}

	// After the TTL elapses the lock is free again.
	mr.FastForward(5 * time.Second)
	ok, err = p2.Acquire(ctx, "res", 5*time.Second, WithRetryCount(0))
	if err != nil {
		t.Fatalf("p2 Acquire after expiry failed: %v", err)
	}
	if !ok {
		t.Error("p2 Acquire after expiry = false, want true")
	}
}

func TestReacquireIsIdempotent(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)
	ctx := context.Background()

	for i := 0; i < 2; i++ {
		ok, err := m.Acquire(ctx, "res", 5*time.Second, WithRetryCount(0))
		if err != nil {
			t.Fatalf("Acquire %d failed: %v", i, err)
		}
		if !ok {
			t.Fatalf("Acquire %d = false, want true (idempotent re-acquire)", i)
		}
	}
	if m.ActiveCount() != 1 {
		t.Errorf("ActiveCount = %d, want 1", m.ActiveCount())
	}
}

func TestReleaseByNonOwnerLeavesLockUntouched(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)
	ctx := context.Background()

	if ok, _ := p1.Acquire(ctx, "res", 5*time.Second); !ok {
		t.Fatal("p1 failed to acquire")
	}

	// p2 never acquired, so its release is a no-op.
	released, err := p2.Release(ctx, "res")
	if err != nil {
		t.Fatalf("p2 Release failed: %v", err)
	}
	if released {
		t.Error("p2 released a lock it does not own")
	}
	if !mr.Exists("lock:res") {
		t.Error("p1's lock disappeared")
	}

	// p1 can still extend: ownership was untouched.
	extended, err := p1.Extend(ctx, "res", 10*time.Second)
	if err != nil {
		t.Fatalf("p1 Extend failed: %v", err)
	}
	if !extended {
		t.Error("p1 Extend = false, want true")
	}
}

func TestReleaseAfterExpiryAndReacquisition(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)
	ctx := context.Background()

	if ok, _ := p1.Acquire(ctx, "res", time.Second); !ok {
		t.Fatal("p1 failed to acquire")
	}
	mr.FastForward(2 * time.Second)
	if ok, _ := p2.Acquire(ctx, "res", 30*time.Second, WithRetryCount(0)); !ok {
		t.Fatal("p2 failed to acquire expired lock")
	}

	// p1's stale release must not delete p2's lock.
	released, err := p1.Release(ctx, "res")
	if err != nil {
		t.Fatalf("p1 Release failed: %v", err)
	}
	if released {
		t.Error("p1 released p2's lock after expiry-driven reassignment")
	}
	if !mr.Exists("lock:res") {
		t.Error("p2's lock disappeared")
	}
}

func TestExtendWithoutOwnership(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)

	extended, err := m.Extend(context.Background(), "never-held", 5*time.Second)
	if err != nil {
		t.Fatalf("Extend failed: %v", err)
	}
	if extended {
		t.Error("Extend of a never-held lock = true, want false")
	}
}

func TestAcquireRetriesThenGivesUp(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)
	ctx := context.Background()

	if ok, _ := p1.Acquire(ctx, "res", time.Minute); !ok {
		t.Fatal("p1 failed to acquire")
	}

	start := time.Now()
	ok, err := p2.Acquire(ctx, "res", time.Minute,
		WithRetryCount(2), WithRetryDelay(20*time.Millisecond))
	if err != nil {
		t.Fatalf("p2 Acquire failed: %v", err)
	}
	if ok {
		t.Fatal("p2 acquired a held lock")
	}
	// Three attempts with two sleeps in between; never blocks indefinitely.
	if elapsed := time.Since(start); elapsed < 40*time.Millisecond {
		t.Errorf("Acquire returned after %v, expected at least two retry delays", elapsed)
	}
}

func TestAcquireRespectsContextCancellation(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)

	if ok, _ := p1.Acquire(context.Background(), "res", time.Minute); !ok {
		t.Fatal("p1 failed to acquire")
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Millisecond)
	defer cancel()
	_, err := p2.Acquire(ctx, "res", time.Minute,
		WithRetryCount(100), WithRetryDelay(20*time.Millisecond))
	if !errors.Is(err, context.DeadlineExceeded) {
		t.Errorf("Acquire err = %v, want context.DeadlineExceeded", err)
	}
}

func TestLocalBookkeepingPrunedAfterTTL(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)

	if ok, _ := m.Acquire(context.Background(), "res", 50*time.Millisecond); !ok {
		t.Fatal("Acquire failed")
	}
	if m.ActiveCount() != 1 {
		t.Fatalf("ActiveCount = %d, want 1", m.ActiveCount())
	}

	// The prune timer fires slightly past the TTL even without Release.
	deadline := time.Now().Add(2 * time.Second)
	for m.ActiveCount() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("local bookkeeping was never pruned")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestWithLockReleasesOnSuccess(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)

	got, err := WithLock(context.Background(), m, "res", 5*time.Second,
		func(ctx context.Context) (string, error) {
			return "done", nil
		})
	if err != nil {
		t.Fatalf("WithLock failed: %v", err)
	}
	if got != "done" {
		t.Errorf("WithLock = %q, want %q", got, "done")
	}
	if mr.Exists("lock:res") {
		t.Error("lock still held after WithLock returned")
	}
}

func TestWithLockReleasesOnError(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)
	wantErr := errors.New("boom")

	_, err := WithLock(context.Background(), m, "res", 5*time.Second,
		func(ctx context.Context) (int, error) {
			return 0, wantErr
		})
	if !errors.Is(err, wantErr) {
		t.Fatalf("WithLock err = %v, want %v", err, wantErr)
	}
	if mr.Exists("lock:res") {
		t.Error("lock still held after fn error")
	}
}

func TestWithLockReleasesOnPanic(t *testing.T) {
	mr := setupTestRedis(t)
	m := newTestManager(t, mr)

	func() {
		defer func() {
			if recover() == nil {
				t.Error("expected panic to propagate")
			}
		}()
		_, _ = WithLock(context.Background(), m, "res", 5*time.Second,
			func(ctx context.Context) (int, error) {
				panic("fn blew up")
			})
	}()

	if mr.Exists("lock:res") {
		t.Error("lock still held after fn panicked")
	}
}

func TestWithLockNotAcquired(t *testing.T) {
	mr := setupTestRedis(t)
	p1 := newTestManager(t, mr)
	p2 := newTestManager(t, mr)

	if ok, _ := p1.Acquire(context.Background(), "res", time.Minute); !ok {
		t.Fatal("p1 failed to acquire")
	}

	invoked := false
	_, err := WithLock(context.Background(), p2, "res", time.Minute,
		func(ctx context.Context) (int, error) {
			invoked = true
			return 0, nil
		}, WithRetryCount(0))
	if !errors.Is(err, ErrNotAcquired) {
		t.Errorf("WithLock err = %v, want ErrNotAcquired", err)
	}
	if invoked {
		t.Error("fn was invoked without holding the lock")
	}
}
