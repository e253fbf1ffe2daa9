package analysis

import (
	"container/list"
	"sync"
)

// resultCache is a bounded LRU of completed builds keyed by the hash of
// (dataset identity, build options)
type resultCache struct {
	mu      sync.Mutex
	limit   int
	order   *list.List // Front is most recently used
	entries map[string]*list.Element
}

type cacheEntry struct {
	key      string
	snapshot *Snapshot
}

func newResultCache(limit int) *resultCache {
	return &resultCache{
		limit:   limit,
		order:   list.New(),
		entries: make(map[string]*list.Element),
	}
}

func (c *resultCache) get(key string) (*Snapshot, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil, false
	}
	c.order.MoveToFront(el)
	return el.Value.(*cacheEntry).snapshot, true
}

func (c *resultCache) put(key string, s *Snapshot) {
	if c.limit <= 0 {
		return
	}
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		el.Value.(*cacheEntry).snapshot = s
		c.order.MoveToFront(el)
		return
	}
	c.entries[key] = c.order.PushFront(&cacheEntry{key: key, snapshot: s})
	for c.order.Len() > c.limit {
		oldest := c.order.Back()
		c.order.Remove(oldest)
		delete(c.entries, oldest.Value.(*cacheEntry).key)
	}
}

func (c *resultCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}
