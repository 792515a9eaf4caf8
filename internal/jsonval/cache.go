package jsonval

import (
	"container/list"
	"hash/fnv"
	"sync"
)

// DefaultCacheCapacity is the fixed LRU capacity for parsed documents.
const DefaultCacheCapacity = 1000

type cacheEntry struct {
	hash  uint32
	text  string
	value any
}

// Cache is a bounded LRU of hash(json_text) -> parsed value. It is safe
// for concurrent use. Parse always returns a deep clone of the cached
// value so a caller mutating its result can never poison another
// caller's read (invariant I8).
//
// Entries are keyed by a 32-bit non-cryptographic hash of the source
// text rather than the text itself, to keep the index small; on the rare
// hash collision between two different texts, the stale entry is simply
// replaced by re-parsing (no correctness impact, just a cache miss).
type Cache struct {
	mu       sync.Mutex
	capacity int
	order    *list.List // front = most recently used
	index    map[uint32]*list.Element
}

// NewCache creates a Cache with the given capacity. A non-positive
// capacity is replaced with DefaultCacheCapacity.
func NewCache(capacity int) *Cache {
	if capacity <= 0 {
		capacity = DefaultCacheCapacity
	}
	return &Cache{
		capacity: capacity,
		order:    list.New(),
		index:    make(map[uint32]*list.Element, capacity),
	}
}

func hashText(text string) uint32 {
	h := fnv.New32a()
	_, _ = h.Write([]byte(text))
	return h.Sum32()
}

// Parse returns the decoded value for text, using the cache when
// possible. The returned value is always a fresh deep clone.
func (c *Cache) Parse(text string) (any, error) {
	h := hashText(text)

	c.mu.Lock()
	if el, ok := c.index[h]; ok {
		entry := el.Value.(*cacheEntry)
		if entry.text == text {
			c.order.MoveToFront(el)
			value := entry.value
			c.mu.Unlock()
			return Clone(value), nil
		}
		// Hash collision against a different text: evict the stale entry
		// and fall through to a fresh parse below.
		c.order.Remove(el)
		delete(c.index, h)
	}
	c.mu.Unlock()

	decoded, err := Decode([]byte(text))
	if err != nil {
		return nil, err
	}

	c.mu.Lock()
	defer c.mu.Unlock()
	el := c.order.PushFront(&cacheEntry{hash: h, text: text, value: decoded})
	c.index[h] = el
	for c.order.Len() > c.capacity {
		oldest := c.order.Back()
		if oldest == nil {
			break
		}
		c.order.Remove(oldest)
		delete(c.index, oldest.Value.(*cacheEntry).hash)
	}
	return Clone(decoded), nil
}

// Len returns the number of entries currently cached.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.order.Len()
}

// Clear empties the cache. Called when the last open database closes, so
// the process-wide singleton doesn't retain documents from a closed
// database indefinitely.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.order.Init()
	c.index = make(map[uint32]*list.Element, c.capacity)
}

// defaultCache is the process-wide singleton described in spec.md §9
// ("Global caches"): keyed on document text, not database identity, so
// cross-database isolation falls out naturally (two databases storing the
// same document text legitimately share a cache line).
var defaultCache = NewCache(DefaultCacheCapacity)

// Default returns the process-wide document parse cache.
func Default() *Cache { return defaultCache }
