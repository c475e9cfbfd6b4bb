package cache

import (
	"container/list"
	"context"
	"sync"
	"sync/atomic"

	"github.com/hupe1980/pixcache/internal/resource"
)

// LRUBlockCache is a byte-bounded least-recently-used BlockCache. Cached
// bytes are reserved against the accountant's memory ceiling, so page
// caches compete with in-memory pixel caches for the same budget.
type LRUBlockCache struct {
	mu       sync.Mutex
	capacity int64
	size     int64
	lru      *list.List // front is most recent
	items    map[CacheKey]*list.Element
	groups   map[groupKey]map[uint64]*list.Element
	acct     *resource.Accountant

	hits   atomic.Int64
	misses atomic.Int64
}

type entry struct {
	key   CacheKey
	value []byte
}

// NewLRUBlockCache creates a cache holding at most capacity bytes. acct may
// be nil.
func NewLRUBlockCache(capacity int64, acct *resource.Accountant) *LRUBlockCache {
	return &LRUBlockCache{
		capacity: capacity,
		lru:      list.New(),
		items:    make(map[CacheKey]*list.Element),
		groups:   make(map[groupKey]map[uint64]*list.Element),
		acct:     acct,
	}
}

func (c *LRUBlockCache) Get(_ context.Context, key CacheKey) ([]byte, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		c.misses.Add(1)
		return nil, false
	}
	c.hits.Add(1)
	c.lru.MoveToFront(el)
	return el.Value.(*entry).value, true
}

// Set caches b under key. Blocks larger than the capacity, and blocks the
// accountant cannot admit, are not cached.
func (c *LRUBlockCache) Set(_ context.Context, key CacheKey, b []byte) {
	n := int64(len(b))
	if n > c.capacity {
		return
	}

	c.mu.Lock()
	defer c.mu.Unlock()

	if el, ok := c.items[key]; ok {
		c.remove(el)
	}
	for c.size+n > c.capacity && c.lru.Len() > 0 {
		c.remove(c.lru.Back())
	}
	if c.acct.TryAcquire(resource.Memory, n) != nil {
		return
	}

	el := c.lru.PushFront(&entry{key: key, value: b})
	c.items[key] = el
	g := c.groups[key.group()]
	if g == nil {
		g = make(map[uint64]*list.Element)
		c.groups[key.group()] = g
	}
	g[key.Offset] = el
	c.size += n
}

// Patch replaces the block cached under key with fn(old), keeping its
// recency and leaving the hit and miss counters alone. It reports whether
// key was cached. A replacement of a different size drops the block.
func (c *LRUBlockCache) Patch(key CacheKey, fn func(old []byte) []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	el, ok := c.items[key]
	if !ok {
		return false
	}
	e := el.Value.(*entry)
	b := fn(e.value)
	if len(b) != len(e.value) {
		c.remove(el)
		return true
	}
	e.value = b
	return true
}

func (c *LRUBlockCache) InvalidateGroup(key CacheKey) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, el := range c.groups[key.group()] {
		c.remove(el)
	}
}

func (c *LRUBlockCache) Invalidate(predicate func(key CacheKey) bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	for key, el := range c.items {
		if predicate(key) {
			c.remove(el)
		}
	}
}

// Close drops every block and returns its memory.
func (c *LRUBlockCache) Close() error {
	c.mu.Lock()
	defer c.mu.Unlock()
	for c.lru.Len() > 0 {
		c.remove(c.lru.Back())
	}
	return nil
}

// Len returns the number of cached blocks.
func (c *LRUBlockCache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.lru.Len()
}

// Size returns the cached bytes.
func (c *LRUBlockCache) Size() int64 {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.size
}

func (c *LRUBlockCache) Stats() (hits, misses int64) {
	return c.hits.Load(), c.misses.Load()
}

func (c *LRUBlockCache) remove(el *list.Element) {
	e := c.lru.Remove(el).(*entry)
	delete(c.items, e.key)
	gk := e.key.group()
	if g := c.groups[gk]; g != nil {
		delete(g, e.key.Offset)
		if len(g) == 0 {
			delete(c.groups, gk)
		}
	}
	n := int64(len(e.value))
	c.size -= n
	c.acct.Release(resource.Memory, n)
}
