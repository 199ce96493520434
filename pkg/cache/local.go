package cache

import (
	"container/list"
	"sync"
	"time"
)

// TileEntry is a cached tile. Entries are immutable once constructed and
// replaced wholesale on refresh.
type TileEntry struct {
	Body        []byte
	ContentType string
	ExpiresAt   time.Time
}

// Expired reports whether the entry is stale at the given instant.
func (e TileEntry) Expired(now time.Time) bool {
	return !now.Before(e.ExpiresAt)
}

// RemainingTTL returns the time until expiry, never less than zero.
func (e TileEntry) RemainingTTL(now time.Time) time.Duration {
	ttl := e.ExpiresAt.Sub(now)
	if ttl < 0 {
		return 0
	}
	return ttl
}

type lruItem struct {
	key   string
	entry TileEntry
}

// LocalCache is the process-local cache tier: a bounded map with
// least-recently-used eviction and lazy expiry.
//
// A single mutex serializes all operations. The critical sections only touch
// in-memory structures, so correctness is favored over lock granularity.
type LocalCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front = most recently used
	items    map[string]*list.Element
}

// NewLocalCache creates a LocalCache bounded to capacity entries.
func NewLocalCache(capacity int) *LocalCache {
	if capacity < 1 {
		capacity = 1
	}
	return &LocalCache{
		capacity: capacity,
		ll:       list.New(),
		items:    make(map[string]*list.Element),
	}
}

// Get returns the entry for key if present and not expired, promoting it to
// most-recently-used. An entry observed expired is removed.
func (c *LocalCache) Get(key string) (TileEntry, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.items[key]
	if !ok {
		return TileEntry{}, false
	}

	item := el.Value.(*lruItem)
	if item.entry.Expired(time.Now()) {
		c.removeElement(el)
		return TileEntry{}, false
	}

	c.ll.MoveToFront(el)
	return item.entry, true
}

// Set inserts or overwrites the entry for key with the given TTL, marking it
// most-recently-used and evicting the least-recently-used entries until the
// cache is within capacity. A non-positive TTL is a no-op.
func (c *LocalCache) Set(key string, body []byte, contentType string, ttl time.Duration) {
	if ttl <= 0 {
		return
	}

	entry := TileEntry{
		Body:        body,
		ContentType: contentType,
		ExpiresAt:   time.Now().Add(ttl),
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		el.Value.(*lruItem).entry = entry
		c.ll.MoveToFront(el)
		return
	}

	el := c.ll.PushFront(&lruItem{key: key, entry: entry})
	c.items[key] = el

	for len(c.items) > c.capacity {
		oldest := c.ll.Back()
		if oldest == nil {
			break
		}
		c.removeElement(oldest)
	}

	localEntries.Set(float64(len(c.items)))
}

// Evict unconditionally removes the given keys if present. Best-effort: it
// never reports whether a key existed.
func (c *LocalCache) Evict(keys ...string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	for _, key := range keys {
		if el, ok := c.items[key]; ok {
			c.removeElement(el)
		}
	}
}

// Len returns the current number of entries.
func (c *LocalCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Capacity returns the configured entry bound.
func (c *LocalCache) Capacity() int {
	return c.capacity
}

// removeElement must be called with the lock held.
func (c *LocalCache) removeElement(el *list.Element) {
	item := el.Value.(*lruItem)
	delete(c.items, item.key)
	c.ll.Remove(el)
	localEntries.Set(float64(len(c.items)))
}
