// Package store is the client for the remote key-value store backing the
// chat cache layer.
//
// The byte-level API (GetBytes, SetBytes, MGetBytes, Exists, Delete,
// DeletePattern) treats values as opaque payloads; the generic Get/Set
// helpers layer a JSON codec on top. A missing key is reported as
// ErrNotFound, never as a raw driver error, so callers can branch with
// errors.Is.
package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/redis/go-redis/v9"
)

// scanDeleteBatch is the number of keys deleted per round trip during
// pattern invalidation.
const scanDeleteBatch = 100

// Client talks to the remote store. All methods are safe for concurrent use.
type Client struct {
	rdb       redis.UniversalClient
	ownClient bool
}

// New connects to the remote store and verifies the connection.
func New(ctx context.Context, cfg Config) (*Client, error) {
	merged := cfg.MergeDefaults()
	if err := merged.Validate(); err != nil {
		return nil, err
	}

	rdb := redis.NewClient(merged.Options())
	if err := rdb.Ping(ctx).Err(); err != nil {
		_ = rdb.Close()
		return nil, fmt.Errorf("store: connect %s: %w", merged.Addr, err)
	}

	logger().Info().
		Str("addr", merged.Addr).
		Int("db", merged.DB).
		Msg("remote store connected")

	return &Client{rdb: rdb, ownClient: true}, nil
}

// NewWithClient wraps an existing Redis client. The caller keeps ownership:
// Close becomes a no-op.
func NewWithClient(rdb redis.UniversalClient) *Client {
	return &Client{rdb: rdb}
}

// Redis exposes the underlying client for collaborators that need the same
// connection pool (the distributed lock manager does).
func (c *Client) Redis() redis.UniversalClient {
	return c.rdb
}

// GetBytes retrieves the raw payload for a key.
// Returns ErrNotFound when the key does not exist.
func (c *Client) GetBytes(ctx context.Context, key string) ([]byte, error) {
	data, err := c.rdb.Get(ctx, key).Bytes()
	if err != nil {
		if errors.Is(err, redis.Nil) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("store: get %s: %w", key, err)
	}
	return data, nil
}

// SetBytes stores a raw payload under a key. A non-positive TTL stores the
// key without expiry.
func (c *Client) SetBytes(ctx context.Context, key string, value []byte, ttl time.Duration) error {
	if ttl < 0 {
		ttl = 0
	}
	if err := c.rdb.Set(ctx, key, value, ttl).Err(); err != nil {
		return fmt.Errorf("store: set %s: %w", key, err)
	}
	return nil
}

// MGetBytes retrieves raw payloads for several keys in one round trip.
// Missing keys are absent from the result map.
func (c *Client) MGetBytes(ctx context.Context, keys []string) (map[string][]byte, error) {
	if len(keys) == 0 {
		return map[string][]byte{}, nil
	}
	values, err := c.rdb.MGet(ctx, keys...).Result()
	if err != nil {
		return nil, fmt.Errorf("store: mget: %w", err)
	}

	found := make(map[string][]byte, len(keys))
	for i, v := range values {
		if v == nil {
			continue
		}
		s, ok := v.(string)
		if !ok {
			return nil, fmt.Errorf("store: mget %s: unexpected value type %T", keys[i], v)
		}
		found[keys[i]] = []byte(s)
	}
	return found, nil
}

// Exists reports whether a key is present.
func (c *Client) Exists(ctx context.Context, key string) (bool, error) {
	n, err := c.rdb.Exists(ctx, key).Result()
	if err != nil {
		return false, fmt.Errorf("store: exists %s: %w", key, err)
	}
	return n > 0, nil
}

// Delete removes the given keys. Missing keys are ignored.
func (c *Client) Delete(ctx context.Context, keys ...string) error {
	if len(keys) == 0 {
		return nil
	}
	if err := c.rdb.Del(ctx, keys...).Err(); err != nil {
		return fmt.Errorf("store: delete: %w", err)
	}
	return nil
}

// DeletePattern removes every key matching a wildcard pattern.
// Uses SCAN rather than KEYS so the store stays responsive under load.
func (c *Client) DeletePattern(ctx context.Context, pattern string) error {
	iter := c.rdb.Scan(ctx, 0, pattern, scanDeleteBatch).Iterator()

	batch := make([]string, 0, scanDeleteBatch)
	deleted := 0
	for iter.Next(ctx) {
		batch = append(batch, iter.Val())
		if len(batch) >= scanDeleteBatch {
			if err := c.Delete(ctx, batch...); err != nil {
				return err
			}
			deleted += len(batch)
			batch = batch[:0]
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("store: scan %s: %w", pattern, err)
	}
	if len(batch) > 0 {
		if err := c.Delete(ctx, batch...); err != nil {
			return err
		}
		deleted += len(batch)
	}

	logger().Debug().
		Str("pattern", pattern).
		Int("deleted", deleted).
		Msg("pattern invalidation")
	return nil
}

// Ping verifies the connection to the remote store.
func (c *Client) Ping(ctx context.Context) error {
	if err := c.rdb.Ping(ctx).Err(); err != nil {
		return fmt.Errorf("store: ping: %w", err)
	}
	return nil
}

// Close releases the connection pool when this client owns it.
func (c *Client) Close() error {
	if !c.ownClient {
		return nil
	}
	return c.rdb.Close()
}

// Get retrieves and decodes a typed value.
// The second return value reports whether the key was found.
func Get[T any](ctx context.Context, c *Client, key string) (T, bool, error) {
	var value T

	data, err := c.GetBytes(ctx, key)
	if err != nil {
		if errors.Is(err, ErrNotFound) {
			return value, false, nil
		}
		return value, false, err
	}
	if err := json.Unmarshal(data, &value); err != nil {
		return value, false, fmt.Errorf("%w: decode %s: %w", ErrSerialization, key, err)
	}
	return value, true, nil
}

// Set encodes and stores a typed value with a TTL.
func Set[T any](ctx context.Context, c *Client, key string, value T, ttl time.Duration) error {
	data, err := json.Marshal(value)
	if err != nil {
		return fmt.Errorf("%w: encode %s: %w", ErrSerialization, key, err)
	}
	return c.SetBytes(ctx, key, data, ttl)
}
