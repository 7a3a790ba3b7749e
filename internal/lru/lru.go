// Package lru provides the bounded page-bitmap cache. Entries are
// generation-tagged and hold raster surfaces whose backing memory must be
// explicitly handed back (to the surface pool) on eviction — a cache entry
// is never simply dereferenced and forgotten.
package lru

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/pageview"
)

// DefaultCapacity is the default number of cached page bitmaps. Raster
// pages are memory-heavy; the cache exists for scroll-back and zoom-toggle
// reuse, not full-document retention.
const DefaultCapacity = 5

// Key identifies one cached raster page.
// Scale is the quantized scale in fixed steps, not the raw float.
type Key struct {
	Page  int
	Scale int
}

// ReleaseFunc receives the backing bitmap of every evicted or cleared entry.
type ReleaseFunc func(*pageview.Bitmap)

// entry holds a cached bitmap with its LRU node and generation tag.
type entry struct {
	bitmap     *pageview.Bitmap
	generation uint64
	node       *lruNode
}

// Stats reports cache instrumentation counters.
type Stats struct {
	Len       int
	Capacity  int
	Hits      uint64
	Misses    uint64
	Evictions uint64
}

// Cache is a bounded LRU of rasterized pages.
//
// Cache is safe for concurrent use.
type Cache struct {
	mu       sync.Mutex
	entries  map[Key]*entry
	list     *lruList
	capacity int
	release  ReleaseFunc

	// Statistics (atomic for lock-free reads).
	hits      atomic.Uint64
	misses    atomic.Uint64
	evictions atomic.Uint64
}

// New creates a cache holding up to capacity bitmaps. Evicted and cleared
// entries are passed to release; a nil release drops them silently.
// If capacity <= 0, DefaultCapacity is used.
func New(capacity int, release ReleaseFunc) *Cache {
	if capacity <= 0 {
		capacity = DefaultCapacity
	}
	if release == nil {
		release = func(*pageview.Bitmap) {}
	}
	return &Cache{
		entries:  make(map[Key]*entry),
		list:     newLRUList(),
		capacity: capacity,
		release:  release,
	}
}

// GetInto returns a copy of the cached bitmap for key on a surface obtained
// from acquire, promoting the entry to most recently used on a hit. On a
// miss acquire is not called and the returned bitmap is nil.
//
// The copy happens while the cache lock is held. Cached bitmaps are recycled
// through the release hook on eviction, so a pointer handed out past the
// lock could have its backing memory cleared or rasterized over by a
// concurrent Put before the caller finishes reading it. acquire must return
// a surface of exactly the requested size.
func (c *Cache) GetInto(key Key, acquire func(width, height int) *pageview.Bitmap) (*pageview.Bitmap, uint64, bool) {
	c.mu.Lock()
	e, ok := c.entries[key]
	if !ok {
		c.mu.Unlock()
		c.misses.Add(1)
		return nil, 0, false
	}
	c.list.MoveToFront(e.node)
	dst := acquire(e.bitmap.Width(), e.bitmap.Height())
	if err := dst.CopyFrom(e.bitmap); err != nil {
		c.mu.Unlock()
		return nil, 0, false
	}
	gen := e.generation
	c.mu.Unlock()

	c.hits.Add(1)
	return dst, gen, true
}

// Put inserts a bitmap tagged with the given generation, evicting the least
// recently used entry (releasing its backing memory) when at capacity.
// Re-inserting an existing key releases the previous bitmap.
func (c *Cache) Put(key Key, bm *pageview.Bitmap, generation uint64) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if existing, ok := c.entries[key]; ok {
		c.release(existing.bitmap)
		existing.bitmap = bm
		existing.generation = generation
		c.list.MoveToFront(existing.node)
		return
	}

	for c.list.Len() >= c.capacity {
		oldest, ok := c.list.RemoveOldest()
		if !ok {
			break
		}
		if e, ok := c.entries[oldest]; ok {
			c.release(e.bitmap)
			delete(c.entries, oldest)
			c.evictions.Add(1)
		}
	}

	c.entries[key] = &entry{
		bitmap:     bm,
		generation: generation,
		node:       c.list.PushFront(key),
	}
}

// Clear releases every entry's backing memory and empties the cache.
// Invoked wholesale on every generation change: a new compile typically
// invalidates per-page geometry as well as content.
func (c *Cache) Clear() {
	c.mu.Lock()
	defer c.mu.Unlock()
	for _, e := range c.entries {
		c.release(e.bitmap)
	}
	c.entries = make(map[Key]*entry)
	c.list.Clear()
}

// Len returns the number of cached bitmaps.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	return len(c.entries)
}

// Capacity returns the maximum number of cached bitmaps.
func (c *Cache) Capacity() int {
	return c.capacity
}

// Stats returns current instrumentation counters.
func (c *Cache) Stats() Stats {
	return Stats{
		Len:       c.Len(),
		Capacity:  c.capacity,
		Hits:      c.hits.Load(),
		Misses:    c.misses.Load(),
		Evictions: c.evictions.Load(),
	}
}
