// LRU cache of reader mappings.
//
// The cache bounds how many segment mappings a collection keeps alive for
// reads. Entries carry an evictable flag: the active writer's mapping is
// inserted non-evictable and flipped only at rotation, so eviction can
// never unmap the segment being appended to. Eviction drops the cache's
// reference only — a mapping held by an in-flight read stays mapped until
// that reader releases it.
package octavo

import (
	"container/list"
	"sync"
)

type cacheEntry struct {
	key       uint32
	m         *mapping
	evictable bool
}

// readerCache is a capacity-bounded, internally synchronized LRU of
// segment mappings keyed by file key.
type readerCache struct {
	mu       sync.Mutex
	capacity int
	ll       *list.List // front is most recently used
	entries  map[uint32]*list.Element
}

func newReaderCache(capacity int) *readerCache {
	return &readerCache{
		capacity: capacity,
		ll:       list.New(),
		entries:  make(map[uint32]*list.Element),
	}
}

// add inserts a mapping and retains it on the cache's behalf, then evicts
// down to capacity. The caller keeps its own creator reference. If the key
// is already cached — two readers can race on the same miss — the existing
// mapping wins and is returned retained for the caller, who must release
// the loser it tried to insert.
func (c *readerCache) add(key uint32, m *mapping, evictable bool) *mapping {
	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.entries[key]; ok {
		c.ll.MoveToFront(el)
		existing := el.Value.(*cacheEntry).m
		existing.retain()
		return existing
	}

	m.retain()
	c.entries[key] = c.ll.PushFront(&cacheEntry{key: key, m: m, evictable: evictable})
	c.evictLocked()
	return m
}

// find promotes and returns the mapping for key, retained for the caller,
// or nil when absent.
func (c *readerCache) find(key uint32) *mapping {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return nil
	}
	c.ll.MoveToFront(el)
	m := el.Value.(*cacheEntry).m
	m.retain()
	return m
}

// setEvictable toggles the flag on an entry. Returns false when the key is
// not cached.
func (c *readerCache) setEvictable(key uint32, evictable bool) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	el, ok := c.entries[key]
	if !ok {
		return false
	}
	el.Value.(*cacheEntry).evictable = evictable
	return true
}

// performEviction drops least-recently-used evictable entries until the
// cache is at or below capacity.
func (c *readerCache) performEviction() {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.evictLocked()
}

func (c *readerCache) evictLocked() {
	over := len(c.entries) - c.capacity
	if over <= 0 {
		return
	}
	for el := c.ll.Back(); el != nil && over > 0; {
		prev := el.Prev()
		e := el.Value.(*cacheEntry)
		if e.evictable {
			c.ll.Remove(el)
			delete(c.entries, e.key)
			e.m.release()
			over--
		}
		el = prev
	}
}

// len reports the number of cached mappings.
func (c *readerCache) len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// drain releases every slot. Called on close; mappings still referenced by
// readers survive until those readers finish.
func (c *readerCache) drain() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for el := c.ll.Front(); el != nil; el = el.Next() {
		el.Value.(*cacheEntry).m.release()
	}
	c.ll.Init()
	clear(c.entries)
}
