// Package cache provides the cache used to memoize the issuer's discovery
// document and key set.
//
// Supported backends:
//   - Memory (in-process default, github.com/patrickmn/go-cache)
//   - Redis (shared between processes, github.com/redis/go-redis/v9)
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned by Get on a cache miss.
var ErrNotFound = errors.New("cache: key not found")

// IsNotFound reports whether err is a cache miss.
func IsNotFound(err error) bool {
	return errors.Is(err, ErrNotFound)
}

// Cache stores opaque byte values.
type Cache interface {
	// Get returns the value under key or ErrNotFound.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores value under key. A zero ttl does not expire.
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes key.
	Delete(ctx context.Context, key string) error

	// Clear removes every key owned by the cache.
	Clear(ctx context.Context) error

	// GetMultiple returns the values found among keys. Missing keys are
	// absent from the result.
	GetMultiple(ctx context.Context, keys []string) (map[string][]byte, error)

	// SetMultiple stores every entry of values with the same ttl.
	SetMultiple(ctx context.Context, values map[string][]byte, ttl time.Duration) error

	// DeleteMultiple removes keys.
	DeleteMultiple(ctx context.Context, keys []string) error
}
