package profile_test

import (
	"context"
	"errors"
	"sync/atomic"
	"testing"
	"time"

	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"

	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
	"github.com/relaychat/cachekit/lock"
	"github.com/relaychat/cachekit/profile"
	"github.com/relaychat/cachekit/store"
)

type harness struct {
	mr    *miniredis.Miniredis
	svc   *profile.Service
	cache *cacheaside.Cache
	keys  *keys.Strategy
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	mr, err := miniredis.Run()
	if err != nil {
		t.Fatalf("failed to start miniredis: %v", err)
	}
	t.Cleanup(mr.Close)

	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() {
		_ = client.Close()
	})

	ks, err := keys.New(keys.Config{})
	if err != nil {
		t.Fatalf("keys.New failed: %v", err)
	}
	cache, err := cacheaside.New(cacheaside.Config{}, cacheaside.Deps{
		Store: store.NewWithClient(client),
		Locks: lock.NewManager(client, lock.Config{}),
		Keys:  ks,
	})
	if err != nil {
		t.Fatalf("cacheaside.New failed: %v", err)
	}
	svc, err := profile.NewService(cache, ks)
	if err != nil {
		t.Fatalf("NewService failed: %v", err)
	}
	return &harness{mr: mr, svc: svc, cache: cache, keys: ks}
}

func TestGetUserProfileCachesLoaderResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (*profile.UserProfile, error) {
		calls.Add(1)
		return &profile.UserProfile{ID: "u1", Username: "ada", DisplayName: "Ada"}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := h.svc.GetUserProfile(ctx, "u1", loader)
		if err != nil {
			t.Fatalf("GetUserProfile failed: %v", err)
		}
		if got.Username != "ada" {
			t.Errorf("Username = %q, want ada", got.Username)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
}

func TestGetBusinessProfileCachesLoaderResult(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	var calls atomic.Int32
	loader := func(ctx context.Context) (*profile.BusinessProfile, error) {
		calls.Add(1)
		return &profile.BusinessProfile{ID: "b1", Name: "Acme", Verified: true}, nil
	}

	for i := 0; i < 2; i++ {
		got, err := h.svc.GetBusinessProfile(ctx, "b1", loader)
		if err != nil {
			t.Fatalf("GetBusinessProfile failed: %v", err)
		}
		if got.Name != "Acme" || !got.Verified {
			t.Errorf("got %+v", got)
		}
	}
	if got := calls.Load(); got != 1 {
		t.Errorf("loader calls = %d, want 1", got)
	}
}

func TestUserAndBusinessProfilesDoNotCollide(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// Same id for a user and a business; the cache keys differ by kind.
	u, err := h.svc.GetUserProfile(ctx, "42", func(ctx context.Context) (*profile.UserProfile, error) {
		return &profile.UserProfile{ID: "42", Username: "user42"}, nil
	})
	if err != nil {
		t.Fatalf("GetUserProfile failed: %v", err)
	}
	b, err := h.svc.GetBusinessProfile(ctx, "42", func(ctx context.Context) (*profile.BusinessProfile, error) {
		return &profile.BusinessProfile{ID: "42", Name: "Biz42"}, nil
	})
	if err != nil {
		t.Fatalf("GetBusinessProfile failed: %v", err)
	}
	if u.Username != "user42" || b.Name != "Biz42" {
		t.Errorf("profiles collided: user=%+v business=%+v", u, b)
	}
}

func TestGetBatchProfilesStatuses(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	// u-cached is a fresh hit, u-stale a stale hit, u-loaded comes from the
	// loader, u-ghost is unknown everywhere.
	if _, err := h.svc.GetUserProfile(ctx, "u-cached", func(ctx context.Context) (*profile.UserProfile, error) {
		return &profile.UserProfile{ID: "u-cached", Username: "cached"}, nil
	}); err != nil {
		t.Fatalf("seed failed: %v", err)
	}

	staleKey := h.keys.Key(keys.NamespaceProfile, "u-stale", string(profile.KindUser))
	if err := cacheaside.Set(ctx, h.cache, staleKey,
		profile.Profile{Kind: profile.KindUser, User: &profile.UserProfile{ID: "u-stale", Username: "stale"}},
		cacheaside.WithTTL(time.Minute), cacheaside.WithStaleWindow(30*time.Second)); err != nil {
		t.Fatalf("seed failed: %v", err)
	}
	h.mr.FastForward(31 * time.Second)

	// The stale id triggers a background refresh through the same loader;
	// capture only the foreground call's arguments.
	var calls atomic.Int32
	var loaderUsers, loaderBiz []string
	out, err := h.svc.GetBatchProfiles(ctx,
		[]string{"u-cached", "u-stale", "u-loaded", "u-ghost"},
		[]string{"b-loaded"},
		func(ctx context.Context, userIDs, businessIDs []string) (map[string]*profile.UserProfile, map[string]*profile.BusinessProfile, error) {
			if calls.Add(1) == 1 {
				loaderUsers = userIDs
				loaderBiz = businessIDs
			}
			return map[string]*profile.UserProfile{
					"u-loaded": {ID: "u-loaded", Username: "loaded"},
				}, map[string]*profile.BusinessProfile{
					"b-loaded": {ID: "b-loaded", Name: "Loaded Biz"},
				}, nil
		})
	if err != nil {
		t.Fatalf("GetBatchProfiles failed: %v", err)
	}
	h.cache.WaitBackground()

	if got := out.Users["u-cached"]; got.Status != profile.StatusCached || got.Profile.User.Username != "cached" {
		t.Errorf("u-cached: %+v", got)
	}
	if got := out.Users["u-stale"]; got.Status != profile.StatusStale || got.Profile.User.Username != "stale" {
		t.Errorf("u-stale: %+v", got)
	}
	if got := out.Users["u-loaded"]; got.Status != profile.StatusCached || got.Profile.User.Username != "loaded" {
		t.Errorf("u-loaded: %+v", got)
	}
	if got := out.Users["u-ghost"]; got.Status != profile.StatusMissing || got.Profile != nil {
		t.Errorf("u-ghost: %+v", got)
	}
	if got := out.Businesses["b-loaded"]; got.Status != profile.StatusCached || got.Profile.Business.Name != "Loaded Biz" {
		t.Errorf("b-loaded: %+v", got)
	}

	// The loader saw only the ids the cache could not serve. u-ghost is
	// among them; it simply came back unanswered.
	wantUsers := map[string]bool{"u-loaded": true, "u-ghost": true}
	if len(loaderUsers) != 2 || !wantUsers[loaderUsers[0]] || !wantUsers[loaderUsers[1]] {
		t.Errorf("loader userIDs = %v, want u-loaded and u-ghost", loaderUsers)
	}
	if len(loaderBiz) != 1 || loaderBiz[0] != "b-loaded" {
		t.Errorf("loader businessIDs = %v, want [b-loaded]", loaderBiz)
	}
}

func TestGetBatchProfilesLoaderError(t *testing.T) {
	h := newHarness(t)
	boom := errors.New("directory down")

	_, err := h.svc.GetBatchProfiles(context.Background(), []string{"u1"}, nil,
		func(ctx context.Context, _, _ []string) (map[string]*profile.UserProfile, map[string]*profile.BusinessProfile, error) {
			return nil, nil, boom
		})
	if !errors.Is(err, boom) {
		t.Errorf("GetBatchProfiles error = %v, want wrapped %v", err, boom)
	}
}

func TestOnProfileEventInvalidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	tests := []struct {
		name string
		kind profile.EventKind
		seed func() string
	}{
		{
			name: "user updated",
			kind: profile.EventUserUpdated,
			seed: func() string {
				_, _ = h.svc.GetUserProfile(ctx, "ev1", func(ctx context.Context) (*profile.UserProfile, error) {
					return &profile.UserProfile{ID: "ev1"}, nil
				})
				return h.keys.Key(keys.NamespaceProfile, "ev1", string(profile.KindUser))
			},
		},
		{
			name: "business deleted",
			kind: profile.EventBusinessDeleted,
			seed: func() string {
				_, _ = h.svc.GetBusinessProfile(ctx, "ev1", func(ctx context.Context) (*profile.BusinessProfile, error) {
					return &profile.BusinessProfile{ID: "ev1"}, nil
				})
				return h.keys.Key(keys.NamespaceProfile, "ev1", string(profile.KindBusiness))
			},
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			key := tt.seed()
			if !h.mr.Exists(key) {
				t.Fatal("seed entry missing")
			}
			if err := h.svc.OnProfileEvent(ctx, tt.kind, "ev1"); err != nil {
				t.Fatalf("OnProfileEvent failed: %v", err)
			}
			if h.mr.Exists(key) {
				t.Error("entry survived invalidation")
			}
		})
	}
}

func TestOnProfileEventUnknownKind(t *testing.T) {
	h := newHarness(t)
	if err := h.svc.OnProfileEvent(context.Background(), profile.EventKind(99), "x"); err == nil {
		t.Error("unknown event kind accepted")
	}
}

func TestWarmProfiles(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	err := h.svc.WarmProfiles(ctx,
		[]*profile.UserProfile{{ID: "w1", Username: "warm1"}},
		[]*profile.BusinessProfile{{ID: "w2", Name: "Warm Biz"}})
	if err != nil {
		t.Fatalf("WarmProfiles failed: %v", err)
	}

	got, err := h.svc.GetUserProfile(ctx, "w1", func(ctx context.Context) (*profile.UserProfile, error) {
		t.Error("loader called for warmed profile")
		return nil, nil
	})
	if err != nil {
		t.Fatalf("GetUserProfile failed: %v", err)
	}
	if got.Username != "warm1" {
		t.Errorf("Username = %q, want warm1", got.Username)
	}
}
