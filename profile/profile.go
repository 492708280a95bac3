// Package profile caches chat participant profiles on top of the cache-aside
// orchestrator.
//
// Two profile shapes share one namespace: user profiles and business
// profiles. A cached value is the tagged Profile variant, so batch reads can
// decode uniformly and the discriminant tells the caller which shape it
// holds. Entry lifetimes follow the profile namespace policy (24h entries,
// refreshed in the background once the stale window opens).
package profile

import (
	"context"
	"errors"
	"fmt"

	"github.com/relaychat/cachekit/cacheaside"
	"github.com/relaychat/cachekit/keys"
)

// Kind discriminates the Profile variant.
type Kind string

const (
	KindUser     Kind = "user"
	KindBusiness Kind = "business"
)

// UserProfile is a chat user's directory entry.
type UserProfile struct {
	ID          string `json:"id"`
	Username    string `json:"username"`
	DisplayName string `json:"display_name"`
	AvatarURL   string `json:"avatar_url,omitempty"`
}

// BusinessProfile is a business account's directory entry.
type BusinessProfile struct {
	ID       string `json:"id"`
	Name     string `json:"name"`
	Category string `json:"category,omitempty"`
	LogoURL  string `json:"logo_url,omitempty"`
	Verified bool   `json:"verified"`
}

// Profile is the tagged variant stored in the cache. Exactly one of User and
// Business is set, selected by Kind.
type Profile struct {
	Kind     Kind             `json:"kind"`
	User     *UserProfile     `json:"user,omitempty"`
	Business *BusinessProfile `json:"business,omitempty"`
}

// Status reports how a batch read satisfied one requested id.
type Status string

const (
	// StatusCached means the value was served fresh, from the cache or the
	// batch loader.
	StatusCached Status = "cached"
	// StatusStale means a stale cached value was served while a background
	// refresh runs.
	StatusStale Status = "stale"
	// StatusMissing means neither the cache nor the loader knew the id.
	// Callers render a placeholder instead of failing the batch.
	StatusMissing Status = "missing"
)

// BatchEntry is one id's outcome in a batch read. Profile is nil when Status
// is StatusMissing.
type BatchEntry struct {
	Profile *Profile
	Status  Status
}

// BatchProfiles is the outcome of GetBatchProfiles, keyed by the requested
// ids. Every requested id has an entry.
type BatchProfiles struct {
	Users      map[string]BatchEntry
	Businesses map[string]BatchEntry
}

// BatchLoader fetches the profiles a batch read could not serve from cache.
// Ids absent from the returned maps are reported as StatusMissing.
type BatchLoader func(ctx context.Context, userIDs, businessIDs []string) (map[string]*UserProfile, map[string]*BusinessProfile, error)

// Service is the profile cache. All methods are safe for concurrent use.
type Service struct {
	cache *cacheaside.Cache
	keys  *keys.Strategy
}

// NewService wraps a cache-aside orchestrator with profile-shaped operations.
func NewService(cache *cacheaside.Cache, ks *keys.Strategy) (*Service, error) {
	if cache == nil {
		return nil, errors.New("profile: cache is required")
	}
	if ks == nil {
		return nil, errors.New("profile: key strategy is required")
	}
	return &Service{cache: cache, keys: ks}, nil
}

func (s *Service) userKey(id string) string {
	return s.keys.Key(keys.NamespaceProfile, id, string(KindUser))
}

func (s *Service) businessKey(id string) string {
	return s.keys.Key(keys.NamespaceProfile, id, string(KindBusiness))
}

// GetUserProfile reads one user profile, calling loader on miss. Stale values
// are served while a background refresh runs.
func (s *Service) GetUserProfile(ctx context.Context, id string, loader func(ctx context.Context) (*UserProfile, error)) (*UserProfile, error) {
	res, err := cacheaside.Get(ctx, s.cache, s.userKey(id), func(ctx context.Context) (Profile, error) {
		u, err := loader(ctx)
		if err != nil {
			return Profile{}, err
		}
		return Profile{Kind: KindUser, User: u}, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Data.Kind != KindUser || res.Data.User == nil {
		return nil, fmt.Errorf("profile: cached value for user %s has kind %q", id, res.Data.Kind)
	}
	return res.Data.User, nil
}

// GetBusinessProfile reads one business profile, calling loader on miss.
func (s *Service) GetBusinessProfile(ctx context.Context, id string, loader func(ctx context.Context) (*BusinessProfile, error)) (*BusinessProfile, error) {
	res, err := cacheaside.Get(ctx, s.cache, s.businessKey(id), func(ctx context.Context) (Profile, error) {
		b, err := loader(ctx)
		if err != nil {
			return Profile{}, err
		}
		return Profile{Kind: KindBusiness, Business: b}, nil
	})
	if err != nil {
		return nil, err
	}
	if res.Data.Kind != KindBusiness || res.Data.Business == nil {
		return nil, fmt.Errorf("profile: cached value for business %s has kind %q", id, res.Data.Kind)
	}
	return res.Data.Business, nil
}

// GetBatchProfiles reads many profiles in one pass. Cached and stale values
// are served from the store; the remainder goes to loader in a single call.
// Ids nobody knows come back as StatusMissing so a bad id never fails the
// whole batch.
func (s *Service) GetBatchProfiles(ctx context.Context, userIDs, businessIDs []string, loader BatchLoader) (BatchProfiles, error) {
	type ref struct {
		kind Kind
		id   string
	}
	index := make(map[string]ref, len(userIDs)+len(businessIDs))
	cacheKeys := make([]string, 0, len(userIDs)+len(businessIDs))
	for _, id := range userIDs {
		key := s.userKey(id)
		index[key] = ref{kind: KindUser, id: id}
		cacheKeys = append(cacheKeys, key)
	}
	for _, id := range businessIDs {
		key := s.businessKey(id)
		index[key] = ref{kind: KindBusiness, id: id}
		cacheKeys = append(cacheKeys, key)
	}

	out := BatchProfiles{
		Users:      make(map[string]BatchEntry, len(userIDs)),
		Businesses: make(map[string]BatchEntry, len(businessIDs)),
	}

	results, err := cacheaside.BatchGet(ctx, s.cache, cacheKeys,
		func(ctx context.Context, missing []string) (map[string]Profile, error) {
			var missUsers, missBiz []string
			for _, key := range missing {
				switch index[key].kind {
				case KindUser:
					missUsers = append(missUsers, index[key].id)
				case KindBusiness:
					missBiz = append(missBiz, index[key].id)
				}
			}
			users, businesses, err := loader(ctx, missUsers, missBiz)
			if err != nil {
				return nil, err
			}
			loaded := make(map[string]Profile, len(users)+len(businesses))
			for id, u := range users {
				loaded[s.userKey(id)] = Profile{Kind: KindUser, User: u}
			}
			for id, b := range businesses {
				loaded[s.businessKey(id)] = Profile{Kind: KindBusiness, Business: b}
			}
			return loaded, nil
		})
	if err != nil {
		return out, err
	}

	for key, r := range index {
		entry := BatchEntry{Status: StatusMissing}
		if res, ok := results[key]; ok {
			p := res.Data
			entry = BatchEntry{Profile: &p, Status: StatusCached}
			if res.IsStale {
				entry.Status = StatusStale
			}
		}
		switch r.kind {
		case KindUser:
			out.Users[r.id] = entry
		case KindBusiness:
			out.Businesses[r.id] = entry
		}
	}
	return out, nil
}

// InvalidateUserProfile drops one user's cached profile.
func (s *Service) InvalidateUserProfile(ctx context.Context, id string) error {
	logger().Debug().Str("user_id", id).Msg("invalidating user profile")
	return s.cache.Delete(ctx, s.userKey(id))
}

// InvalidateBusinessProfile drops one business's cached profile.
func (s *Service) InvalidateBusinessProfile(ctx context.Context, id string) error {
	logger().Debug().Str("business_id", id).Msg("invalidating business profile")
	return s.cache.Delete(ctx, s.businessKey(id))
}

// WarmProfiles pre-populates the cache with known profiles, typically at
// startup. Only one warm-up runs across the cluster at a time;
// cacheaside.ErrWarmInProgress reports that another process got there first.
func (s *Service) WarmProfiles(ctx context.Context, users []*UserProfile, businesses []*BusinessProfile) error {
	entries := make(map[string]Profile, len(users)+len(businesses))
	for _, u := range users {
		entries[s.userKey(u.ID)] = Profile{Kind: KindUser, User: u}
	}
	for _, b := range businesses {
		entries[s.businessKey(b.ID)] = Profile{Kind: KindBusiness, Business: b}
	}
	return cacheaside.Warm(ctx, s.cache, entries)
}
