package store

import "errors"

// Standard errors for store operations.
//
// Use errors.Is to check for these:
//
//	data, err := c.GetBytes(ctx, key)
//	if errors.Is(err, store.ErrNotFound) {
//		// cache miss
//	}
var (
	// ErrNotFound is returned when a key does not exist in the store.
	ErrNotFound = errors.New("store: key not found")

	// ErrSerialization is returned when encoding or decoding a cached
	// value fails.
	ErrSerialization = errors.New("store: serialization failed")
)
