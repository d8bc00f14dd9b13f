package cache

import (
	"container/list"
	"sync"
	"time"
)

// Cache holds recently read values in memory.
type Cache interface {
	Get(key string) ([]byte, bool)
	Put(key string, value []byte, ttl time.Duration) bool
	Delete(key string) bool
	Clear()
	Stats() CacheStats
	Close() error
}

type CacheStats struct {
	Hits      int64
	Misses    int64
	Evictions int64
	Size      int
	Capacity  int
	Bytes     int64
	MaxBytes  int64
	HitRatio  float64
}

// LRUCache evicts the least recently used value once it holds more than
// capacity entries or more than maxBytes of values.
type LRUCache struct {
	mu       sync.Mutex
	capacity int
	maxBytes int64
	bytes    int64
	items    map[string]*list.Element
	order    *list.List

	hits      int64
	misses    int64
	evictions int64
}

type entry struct {
	key       string
	value     []byte
	expiresAt time.Time
}

func (e *entry) expired(now time.Time) bool {
	return !e.expiresAt.IsZero() && now.After(e.expiresAt)
}

const defaultCapacity = 1000

// NewLRUCache creates a cache bounded by entry count only.
func NewLRUCache(capacity int) *LRUCache {
	return NewLRUCacheWithLimit(capacity, 0)
}

// NewLRUCacheWithLimit creates a cache bounded by entry count and, when
// maxBytes is positive, by the total size of cached values.
func NewLRUCacheWithLimit(capacity int, maxBytes int64) *LRUCache {
	if capacity <= 0 {
		capacity = defaultCapacity
	}
	return &LRUCache{
		capacity: capacity,
		maxBytes: maxBytes,
		items:    make(map[string]*list.Element),
		order:    list.New(),
	}
}

// Get returns a copy of the cached value.
func (c *LRUCache) Get(key string) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.misses++
		return nil, false
	}
	ent := elem.Value.(*entry)
	if ent.expired(time.Now()) {
		c.remove(elem)
		c.misses++
		return nil, false
	}

	c.order.MoveToFront(elem)
	c.hits++
	return append([]byte(nil), ent.value...), true
}

// Put caches a copy of value. Values larger than the byte limit are not
// cached and Put reports false.
func (c *LRUCache) Put(key string, value []byte, ttl time.Duration) bool {
	size := int64(len(value))
	if c.maxBytes > 0 && size > c.maxBytes {
		c.Delete(key)
		return false
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	var expiresAt time.Time
	if ttl > 0 {
		expiresAt = time.Now().Add(ttl)
	}
	stored := append([]byte(nil), value...)

	if elem, ok := c.items[key]; ok {
		ent := elem.Value.(*entry)
		c.bytes += size - int64(len(ent.value))
		ent.value = stored
		ent.expiresAt = expiresAt
		c.order.MoveToFront(elem)
	} else {
		c.items[key] = c.order.PushFront(&entry{key: key, value: stored, expiresAt: expiresAt})
		c.bytes += size
	}

	for len(c.items) > c.capacity || (c.maxBytes > 0 && c.bytes > c.maxBytes) {
		c.remove(c.order.Back())
		c.evictions++
	}
	return true
}

func (c *LRUCache) Delete(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		return false
	}
	c.remove(elem)
	return true
}

// Clear drops every entry and resets the counters.
func (c *LRUCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.order.Init()
	c.bytes = 0
	c.hits, c.misses, c.evictions = 0, 0, 0
}

func (c *LRUCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := CacheStats{
		Hits:      c.hits,
		Misses:    c.misses,
		Evictions: c.evictions,
		Size:      len(c.items),
		Capacity:  c.capacity,
		Bytes:     c.bytes,
		MaxBytes:  c.maxBytes,
	}
	if total := c.hits + c.misses; total > 0 {
		stats.HitRatio = float64(c.hits) / float64(total)
	}
	return stats
}

func (c *LRUCache) Close() error {
	c.Clear()
	return nil
}

// CleanupExpired removes expired entries and returns how many were removed.
func (c *LRUCache) CleanupExpired() int {
	c.mu.Lock()
	defer c.mu.Unlock()

	now := time.Now()
	removed := 0
	for elem := c.order.Back(); elem != nil; {
		prev := elem.Prev()
		if elem.Value.(*entry).expired(now) {
			c.remove(elem)
			removed++
		}
		elem = prev
	}
	return removed
}

func (c *LRUCache) remove(elem *list.Element) {
	ent := c.order.Remove(elem).(*entry)
	delete(c.items, ent.key)
	c.bytes -= int64(len(ent.value))
}
