// Package pool provides a pool of reusable raster surfaces keyed by exact
// pixel dimensions. Raster pages are memory-heavy and short-lived, so the
// engine recycles surfaces instead of allocating one per render.
package pool

import (
	"sync"
	"sync/atomic"

	"github.com/gogpu/pageview"
)

// DefaultSizeCap is the default number of surfaces retained per size key.
// Beyond the cap a released surface is simply dropped for the garbage
// collector to reclaim.
const DefaultSizeCap = 3

// sizeKey identifies a bucket of same-sized surfaces.
type sizeKey struct {
	width  int
	height int
}

// Pool is a bucketed free list of raster surfaces.
// Surfaces are only handed to callers requesting their exact dimensions.
//
// Pool is safe for concurrent use.
type Pool struct {
	mu      sync.Mutex
	buckets map[sizeKey][]*pageview.Bitmap
	sizeCap int

	// Statistics (atomic for lock-free reads).
	allocs atomic.Uint64
	reuses atomic.Uint64
}

// New creates a pool retaining up to sizeCap surfaces per exact size.
// If sizeCap <= 0, DefaultSizeCap is used.
func New(sizeCap int) *Pool {
	if sizeCap <= 0 {
		sizeCap = DefaultSizeCap
	}
	return &Pool{
		buckets: make(map[sizeKey][]*pageview.Bitmap),
		sizeCap: sizeCap,
	}
}

// Acquire returns a surface with exactly the given dimensions, reusing a
// pooled one when available and allocating otherwise.
func (p *Pool) Acquire(width, height int) *pageview.Bitmap {
	key := sizeKey{width, height}

	p.mu.Lock()
	bucket := p.buckets[key]
	if n := len(bucket); n > 0 {
		bm := bucket[n-1]
		bucket[n-1] = nil
		p.buckets[key] = bucket[:n-1]
		p.mu.Unlock()
		p.reuses.Add(1)
		return bm
	}
	p.mu.Unlock()

	p.allocs.Add(1)
	return pageview.NewBitmap(width, height)
}

// Release clears a surface and returns it to its size bucket. Once the
// bucket holds sizeCap surfaces the bitmap is not retained.
//
// The caller must not use the bitmap after releasing it.
func (p *Pool) Release(bm *pageview.Bitmap) {
	if bm == nil {
		return
	}
	key := sizeKey{bm.Width(), bm.Height()}

	p.mu.Lock()
	defer p.mu.Unlock()
	bucket := p.buckets[key]
	if len(bucket) >= p.sizeCap {
		return
	}
	bm.Clear()
	p.buckets[key] = append(bucket, bm)
}

// Clear drops all pooled surfaces. Invoked alongside the cache clear on
// every generation change, since a recompile usually changes page geometry.
func (p *Pool) Clear() {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.buckets = make(map[sizeKey][]*pageview.Bitmap)
}

// Len returns the total number of pooled surfaces across all buckets.
func (p *Pool) Len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	total := 0
	for _, bucket := range p.buckets {
		total += len(bucket)
	}
	return total
}

// Allocs returns how many surfaces were allocated because no pooled surface
// of the requested size was available.
func (p *Pool) Allocs() uint64 {
	return p.allocs.Load()
}

// Reuses returns how many Acquire calls were satisfied from the pool.
func (p *Pool) Reuses() uint64 {
	return p.reuses.Load()
}
