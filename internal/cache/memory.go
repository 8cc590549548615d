package cache

import (
	"container/list"
	"sync"
	"time"
)

// MemoryCache implements the fast tier: an in-memory LRU bounded by both an
// entry-count ceiling and a total-cost ceiling (cost is the byte length).
// Losing an entry here is only a performance issue; the disk tier is the
// source of truth.
type MemoryCache struct {
	capacity   int64 // Maximum cost in bytes
	maxEntries int   // Maximum number of entries; 0 means unbounded
	size       int64 // Current cost in bytes

	// LRU implementation
	items    map[string]*list.Element
	eviction *list.List

	mu    sync.Mutex
	stats CacheStats
}

// memoryCacheEntry represents an entry in the memory cache
type memoryCacheEntry struct {
	key       string
	value     []byte
	size      int64
	createdAt time.Time // creation time of the persistent entry it mirrors
	hits      int64
}

// NewMemoryCache creates a memory cache bounded by maxEntries and capacity bytes.
func NewMemoryCache(maxEntries int, capacity int64) *MemoryCache {
	return &MemoryCache{
		capacity:   capacity,
		maxEntries: maxEntries,
		items:      make(map[string]*list.Element),
		eviction:   list.New(),
		stats: CacheStats{
			Capacity:   capacity,
			MaxEntries: maxEntries,
		},
	}
}

// Get retrieves a value and the creation time recorded with it.
func (c *MemoryCache) Get(key string) ([]byte, time.Time, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()

	elem, ok := c.items[key]
	if !ok {
		c.stats.Misses++
		return nil, time.Time{}, false
	}

	// Move to front (most recently used)
	c.eviction.MoveToFront(elem)
	entry := elem.Value.(*memoryCacheEntry)
	entry.hits++

	c.stats.Hits++
	c.stats.LastAccess = time.Now()
	return entry.value, entry.createdAt, true
}

// Put stores a value. Items larger than the whole capacity are rejected
// with ErrItemTooLarge.
func (c *MemoryCache) Put(key string, value []byte, createdAt time.Time) error {
	c.mu.Lock()
	defer c.mu.Unlock()

	valueSize := int64(len(value))

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}

	if c.capacity > 0 && valueSize > c.capacity {
		return ErrItemTooLarge
	}

	for c.overBudget(valueSize) && c.eviction.Len() > 0 {
		c.evictOldest()
	}

	entry := &memoryCacheEntry{
		key:       key,
		value:     value,
		size:      valueSize,
		createdAt: createdAt,
	}

	c.items[key] = c.eviction.PushFront(entry)
	c.size += valueSize
	return nil
}

// Delete removes an entry from the cache.
func (c *MemoryCache) Delete(key string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if elem, ok := c.items[key]; ok {
		c.removeElement(elem)
	}
}

// Clear removes all entries from the cache.
func (c *MemoryCache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()

	c.items = make(map[string]*list.Element)
	c.eviction.Init()
	c.size = 0
}

// Size returns the current cost in bytes.
func (c *MemoryCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

// Len returns the number of entries.
func (c *MemoryCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.items)
}

// Contains checks if a key exists in the cache without updating LRU.
func (c *MemoryCache) Contains(key string) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	_, ok := c.items[key]
	return ok
}

// Stats returns cache statistics.
func (c *MemoryCache) Stats() CacheStats {
	c.mu.Lock()
	defer c.mu.Unlock()

	stats := c.stats
	stats.Size = c.size
	stats.ItemCount = int64(len(c.items))

	if stats.Hits+stats.Misses > 0 {
		stats.HitRate = float64(stats.Hits) / float64(stats.Hits+stats.Misses)
	}

	return stats
}

// Prune removes entries created before cutoff.
func (c *MemoryCache) Prune(cutoff time.Time) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	pruned := 0
	elem := c.eviction.Back()
	for elem != nil {
		prev := elem.Prev()
		if elem.Value.(*memoryCacheEntry).createdAt.Before(cutoff) {
			c.removeElement(elem)
			pruned++
		}
		elem = prev
	}

	c.stats.Expired += int64(pruned)
	return pruned
}

// overBudget reports whether adding incoming bytes would break either
// ceiling (must be called with lock held).
func (c *MemoryCache) overBudget(incoming int64) bool {
	if c.capacity > 0 && c.size+incoming > c.capacity {
		return true
	}
	return c.maxEntries > 0 && len(c.items)+1 > c.maxEntries
}

// evictOldest removes the least recently used item (must be called with lock held).
func (c *MemoryCache) evictOldest() {
	if elem := c.eviction.Back(); elem != nil {
		c.removeElement(elem)
		c.stats.Evictions++
		c.stats.LastEvict = time.Now()
	}
}

// removeElement removes an element from the cache (must be called with lock held).
func (c *MemoryCache) removeElement(elem *list.Element) {
	c.eviction.Remove(elem)
	entry := elem.Value.(*memoryCacheEntry)
	delete(c.items, entry.key)
	c.size -= entry.size
}
