package cacheaside_test

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
)

func TestWarmPopulatesEntries(t *testing.T) {
	h := newHarness(t, cacheaside.Config{})
	ctx := context.Background()

	entries := map[string]profile{
		h.keys.Key(keys.NamespaceProfile, "w1"): {Name: "one"},
		h.keys.Key(keys.NamespaceProfile, "w2"): {Name: "two"},
	}
	if err := cacheaside.Warm(ctx, h.cache, entries); err != nil {
		t.Fatalf("Warm failed: %v", err)
	}

	for key := range entries {
		if !h.mr.Exists(key) {
			t.Errorf("warmed key %s missing", key)
		}
		if !h.mr.Exists(h.keys.StaleMarkerKey(key)) {
			t.Errorf("warmed key %s has no stale marker", key)
		}
	}

	// Warmed entries are fresh hits; the loader must not run.
	for key, want := range entries {
		res, err := cacheaside.Get(ctx, h.cache, key, func(ctx context.Context) (profile, error) {
			t.Errorf("loader called for warmed key %s", key)
			return profile{}, nil
		})
		if err != nil {
			t.Fatalf("Get failed: %v", err)
		}
		if !res.FromCache || res.IsStale || res.Data.Name != want.Name {
			t.Errorf("warmed read %s: %+v", key, res)
		}
	}
}

func TestWarmHeldElsewhere(t *testing.T) {
	h := newHarness(t, cacheaside.Config{})
	ctx := context.Background()

	// Another process is mid-warm-up.
	other := newTestLockManager(t, h.mr)
	acquired, err := other.Acquire(ctx, "cache-warming", time.Minute)
	if err != nil || !acquired {
		t.Fatalf("setup acquire failed: acquired=%v err=%v", acquired, err)
	}

	key := h.keys.Key(keys.NamespaceProfile, "w3")
	err = cacheaside.Warm(ctx, h.cache, map[string]profile{key: {Name: "x"}})
	if !errors.Is(err, cacheaside.ErrWarmInProgress) {
		t.Errorf("Warm = %v, want ErrWarmInProgress", err)
	}
	if h.mr.Exists(key) {
		t.Error("losing warm-up wrote entries")
	}

	if _, err := other.Release(ctx, "cache-warming"); err != nil {
		t.Fatalf("Release failed: %v", err)
	}
	if err := cacheaside.Warm(ctx, h.cache, map[string]profile{key: {Name: "x"}}); err != nil {
		t.Errorf("Warm after release = %v, want nil", err)
	}
}

func TestWarmEmptyBatch(t *testing.T) {
	h := newHarness(t, cacheaside.Config{})
	if err := cacheaside.Warm(context.Background(), h.cache, map[string]profile{}); err != nil {
		t.Errorf("Warm with no entries = %v, want nil", err)
	}
}
