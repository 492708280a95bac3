// Package keys builds and parses the physical keys used by the chat cache
// layer.
//
// Keys are composed as prefix:version:namespace:identifier[:parts...]. The
// prefix and version segments make bulk invalidation and cross-version
// migration possible without guessing at key shapes. Over-long keys keep the
// prefix:version:namespace head intact and replace the variable tail with a
// truncated SHA-256 digest, so wildcard patterns by namespace stay correct.
//
// A Strategy is a pure value: it holds configuration only and is safe for
// concurrent use.
package keys

import (
	"crypto/sha256"
	"encoding/hex"
	"strings"
	"time"
)

// Well-known namespaces with TTL policies attached.
const (
	NamespaceProfile   = "profile"
	NamespacePresence  = "presence"
	NamespaceTyping    = "typing"
	NamespaceStale     = "stale"
	NamespaceSession   = "session"
	NamespaceRateLimit = "ratelimit"
)

// HashLen is the number of hex characters kept from the SHA-256 digest when
// an over-long key tail is replaced by its hash.
const HashLen = 16

// staleSuffix is the trailing segment of a stale-marker companion key.
const staleSuffix = "stale"

// CachedKey is the parsed form of a physical key.
type CachedKey struct {
	Namespace string
	ID        string
	Parts     []string
}

// Strategy builds and parses physical cache keys.
type Strategy struct {
	cfg Config
}

// New creates a Strategy from the given configuration.
func New(cfg Config) (*Strategy, error) {
	cfg.applyDefaults()
	if err := cfg.Validate(); err != nil {
		return nil, err
	}
	return &Strategy{cfg: cfg}, nil
}

// Key builds the physical key for a namespace and identifier.
// Extra parts are appended as additional segments.
//
// If the composed key would exceed the configured maximum length, the
// identifier and parts are replaced with a truncated SHA-256 digest while the
// prefix:version:namespace head is preserved.
func (s *Strategy) Key(namespace, id string, parts ...string) string {
	segs := make([]string, 0, 4+len(parts))
	segs = append(segs, s.cfg.Prefix, s.cfg.Version, namespace, id)
	segs = append(segs, parts...)
	key := strings.Join(segs, s.cfg.Separator)

	if s.cfg.MaxKeyLength > 0 && len(key) > s.cfg.MaxKeyLength {
		tail := strings.Join(append([]string{id}, parts...), s.cfg.Separator)
		key = strings.Join([]string{s.cfg.Prefix, s.cfg.Version, namespace, hashTail(tail)}, s.cfg.Separator)
	}
	return key
}

// Parse is the left inverse of Key for well-formed keys.
// It returns ErrInvalidKey for keys that do not carry this strategy's prefix
// and version or that are missing segments.
func (s *Strategy) Parse(key string) (CachedKey, error) {
	segs := strings.Split(key, s.cfg.Separator)
	if len(segs) < 4 {
		return CachedKey{}, ErrInvalidKey
	}
	if segs[0] != s.cfg.Prefix || segs[1] != s.cfg.Version {
		return CachedKey{}, ErrInvalidKey
	}
	for _, seg := range segs {
		if seg == "" {
			return CachedKey{}, ErrInvalidKey
		}
	}
	return CachedKey{
		Namespace: segs[2],
		ID:        segs[3],
		Parts:     segs[4:],
	}, nil
}

// TTLFor returns the default TTL policy for a namespace.
// Unknown namespaces fall back to the configured default TTL.
func (s *Strategy) TTLFor(namespace string) time.Duration {
	if ttl, ok := s.cfg.TTLs[namespace]; ok {
		return ttl
	}
	return s.cfg.DefaultTTL
}

// Pattern returns the wildcard pattern matching every key in a namespace.
func (s *Strategy) Pattern(namespace string) string {
	return strings.Join([]string{s.cfg.Prefix, s.cfg.Version, namespace, "*"}, s.cfg.Separator)
}

// IDPattern returns the wildcard pattern matching every key under a single
// identifier in a namespace, including its stale marker.
func (s *Strategy) IDPattern(namespace, id string) string {
	return strings.Join([]string{s.cfg.Prefix, s.cfg.Version, namespace, id, "*"}, s.cfg.Separator)
}

// StaleMarkerKey returns the companion stale-marker key for a physical key.
// The marker's presence means the entry is fresh; its absence while the entry
// still exists means the entry is stale.
func (s *Strategy) StaleMarkerKey(key string) string {
	return key + s.cfg.Separator + staleSuffix
}

// IsStaleMarkerKey reports whether key names a stale marker rather than an
// entry.
func (s *Strategy) IsStaleMarkerKey(key string) bool {
	return strings.HasSuffix(key, s.cfg.Separator+staleSuffix)
}

// Migrate rewrites a well-formed key under a different version, keeping all
// other segments. Used when rolling the key version forward without losing
// addressability of old entries.
func (s *Strategy) Migrate(key, toVersion string) (string, error) {
	parsed, err := s.Parse(key)
	if err != nil {
		return "", err
	}
	segs := make([]string, 0, 4+len(parsed.Parts))
	segs = append(segs, s.cfg.Prefix, toVersion, parsed.Namespace, parsed.ID)
	segs = append(segs, parsed.Parts...)
	return strings.Join(segs, s.cfg.Separator), nil
}

// Version returns the strategy's key version segment.
func (s *Strategy) Version() string {
	return s.cfg.Version
}

// hashTail digests a variable-length key tail down to a fixed-width segment.
func hashTail(tail string) string {
	sum := sha256.Sum256([]byte(tail))
	return hex.EncodeToString(sum[:])[:HashLen]
}
