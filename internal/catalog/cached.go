package catalog

import (
	"context"
	"encoding/json"
	"time"

	"github.com/avap-run/avapd/internal/cache"
	"github.com/avap-run/avapd/internal/domain"
)

// CachedClient wraps a Client with a shared cache.Cache (SPEC_FULL.md
// DOMAIN STACK: "shared cross-worker command cache"): when `serve
// --workers N` runs several OS processes behind one listener, each
// would otherwise sync_full the Definition Engine independently. A
// Redis-backed cache.Cache lets every worker's point lookups share one
// hot set, falling back to the wrapped Client (and its own Postgres
// fallback) on a miss.
type CachedClient struct {
	client *Client
	cache  cache.Cache
	ttl    time.Duration
}

// NewCachedClient wraps client with cache, caching Get results for
// ttl (zero uses the cache implementation's default).
func NewCachedClient(client *Client, c cache.Cache, ttl time.Duration) *CachedClient {
	return &CachedClient{client: client, cache: c, ttl: ttl}
}

// CacheKey returns the shared-cache key a command name is stored
// under, exported so a cross-worker invalidation publisher (e.g. the
// /compile handler) can address the same entry without duplicating
// the prefix convention.
func CacheKey(name string) string {
	return "avap:catalog:" + name
}

func (c *CachedClient) cacheKey(name string) string {
	return CacheKey(name)
}

// Get returns name's CommandDef, preferring the shared cache. A cache
// error or miss falls through to the wrapped Client transparently.
func (c *CachedClient) Get(ctx context.Context, name string) (*domain.CommandDef, error) {
	if raw, err := c.cache.Get(ctx, c.cacheKey(name)); err == nil {
		var def domain.CommandDef
		if jsonErr := json.Unmarshal(raw, &def); jsonErr == nil {
			return &def, nil
		}
	}

	def, err := c.client.Get(ctx, name)
	if err != nil {
		return nil, err
	}

	if raw, err := json.Marshal(def); err == nil {
		_ = c.cache.Set(ctx, c.cacheKey(name), raw, c.ttl)
	}
	return def, nil
}

// SyncFull delegates to the wrapped Client; a bulk sync always talks
// to the Definition Engine directly; the shared cache only smooths
// the per-lookup path between syncs.
func (c *CachedClient) SyncFull(ctx context.Context) error {
	return c.client.SyncFull(ctx)
}

// ScheduleRefresh delegates to the wrapped Client.
func (c *CachedClient) ScheduleRefresh(ctx context.Context, interval time.Duration) {
	c.client.ScheduleRefresh(ctx, interval)
}

// Stats exposes the shared cache's cumulative hit/miss count, wired
// into metrics.Metrics.Snapshot by buildApp so operators can see
// whether the cross-worker command cache is sparing Definition Engine
// round trips.
func (c *CachedClient) Stats() cache.Stats {
	return c.cache.Stats()
}

// Stop delegates to the wrapped Client.
func (c *CachedClient) Stop() {
	c.client.Stop()
}
