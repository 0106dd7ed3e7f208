package executor

import (
	"container/list"
	"sync"

	"github.com/avap-run/avapd/internal/domain"
)

// parsedScript is one parsed program plus the function table the
// parser built while parsing it (spec §3: function definitions are
// scoped to the owning parser instance).
type parsedScript struct {
	Nodes     []*domain.Node
	Functions map[string]*domain.FunctionDef
}

// astCache is the bounded, hash-keyed cache of parsed scripts (spec
// §4.D step 1, default 1000 entries). It is not an LRU: eviction picks
// the oldest insertion, which is sufficient here since the spec only
// requires boundedness, and races on insertion are explicitly declared
// harmless ("last writer wins is acceptable", §5).
//
// None of the pack's cache implementations fit: internal/cache.Cache
// is a byte-oriented, TTL-keyed interface built for Redis-backed
// command/secret lookups, not a count-bounded object cache, so this is
// a small dedicated structure built directly on container/list and
// sync.Mutex rather than forcing a TTL cache to do eviction-by-count.
type astCache struct {
	mu       sync.Mutex
	limit    int
	entries  map[string]*list.Element
	order    *list.List // front = oldest
}

type astCacheItem struct {
	key   string
	value *parsedScript
}

func newASTCache(limit int) *astCache {
	if limit <= 0 {
		limit = 1000
	}
	return &astCache{
		limit:   limit,
		entries: make(map[string]*list.Element),
		order:   list.New(),
	}
}

func (c *astCache) Get(key string) (*parsedScript, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	return el.Value.(*astCacheItem).value, true
}

func (c *astCache) Put(key string, value *parsedScript) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if _, ok := c.entries[key]; ok {
		return
	}
	if len(c.entries) >= c.limit {
		oldest := c.order.Front()
		if oldest != nil {
			c.order.Remove(oldest)
			delete(c.entries, oldest.Value.(*astCacheItem).key)
		}
	}
	el := c.order.PushBack(&astCacheItem{key: key, value: value})
	c.entries[key] = el
}

func (c *astCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}
