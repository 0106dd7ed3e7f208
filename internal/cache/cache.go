// Package cache backs the shared cross-worker command cache
// (SPEC_FULL.md DOMAIN STACK): `catalog.CachedClient` stores a
// JSON-encoded `domain.CommandDef` under each command name so that
// every `serve --workers N` process shares one hot command-lookup set
// instead of each re-syncing the Definition Engine independently.
// Implementations may use in-memory maps (default), Redis, or a tiered
// combination; hit/miss counts are tracked per implementation so
// `catalog.CachedClient` can report catalog cache effectiveness
// alongside the rest of metrics.Metrics.
package cache

import (
	"context"
	"errors"
	"time"
)

// ErrNotFound is returned when a key does not exist in the cache.
var ErrNotFound = errors.New("cache: key not found")

// Stats reports a cache's cumulative hit/miss counts since creation.
// catalog.CachedClient surfaces these under the catalog_cache_* keys
// of metrics.Metrics.Snapshot so operators can see whether the shared
// command-lookup cache is actually saving Definition Engine round
// trips.
type Stats struct {
	Hits   int64
	Misses int64
}

// Cache abstracts a key-value cache with TTL support, keyed by command
// name and holding a JSON-encoded domain.CommandDef. All operations
// are safe for concurrent use.
type Cache interface {
	// Get retrieves the value associated with key.
	// Returns ErrNotFound if the key does not exist or has expired.
	Get(ctx context.Context, key string) ([]byte, error)

	// Set stores a value with the given TTL. A zero TTL means the entry
	// does not expire (or uses the implementation's default expiration).
	Set(ctx context.Context, key string, value []byte, ttl time.Duration) error

	// Delete removes a key from the cache. It is not an error to delete
	// a key that does not exist.
	Delete(ctx context.Context, key string) error

	// Exists reports whether the key exists and has not expired.
	Exists(ctx context.Context, key string) (bool, error)

	// Ping verifies connectivity to the underlying cache backend.
	Ping(ctx context.Context) error

	// Close releases all resources held by the cache implementation.
	Close() error

	// Stats returns the cumulative hit/miss count for Get calls.
	Stats() Stats
}
