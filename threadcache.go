// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"sync/atomic"

	"code.hybscloud.com/iox"
)

// cacheEntry is a freed (chunk, handle) pair held by a memoryRegionCache
// awaiting reuse. A zero-value cacheEntry (chunk == nil) marks an empty
// slot.
type cacheEntry struct {
	chunk  *poolChunk
	handle Handle
}

// memoryRegionCache is a single size-class bucket of a poolThreadCache,
// backed by a BoundedPool[cacheEntry] (spec §4.6 "PoolThreadCache"). Every
// operation borrows a ring slot via Get, inspects or overwrites it with
// Value/SetValue, and returns it with Put — tryAdd only overwrites a slot
// that currently holds the empty sentinel, and tryAllocate only consumes a
// slot that holds a live entry, so a cached region is never silently
// dropped.
type memoryRegionCache struct {
	queue        *BoundedPool[cacheEntry]
	normCapacity int
}

func newMemoryRegionCache(capacity, normCapacity int) *memoryRegionCache {
	c := &memoryRegionCache{
		queue:        NewBoundedPool[cacheEntry](capacity),
		normCapacity: normCapacity,
	}
	c.queue.Fill(func() cacheEntry { return cacheEntry{} })
	c.queue.SetNonblock(true)
	return c
}

func (c *memoryRegionCache) tryAdd(chunk *poolChunk, handle Handle) bool {
	indirect, err := c.queue.Get()
	if err != nil {
		return false
	}
	if c.queue.Value(indirect).chunk != nil {
		_ = c.queue.Put(indirect)
		return false
	}
	c.queue.SetValue(indirect, cacheEntry{chunk: chunk, handle: handle})
	_ = c.queue.Put(indirect)
	return true
}

func (c *memoryRegionCache) tryAllocate() (cacheEntry, bool) {
	for range c.queue.Cap() {
		indirect, err := c.queue.Get()
		if err != nil {
			return cacheEntry{}, false
		}
		e := c.queue.Value(indirect)
		if e.chunk == nil {
			_ = c.queue.Put(indirect)
			continue
		}
		c.queue.SetValue(indirect, cacheEntry{})
		_ = c.queue.Put(indirect)
		return e, true
	}
	return cacheEntry{}, false
}

// Put implements Pool[cacheEntry] (pool.go): offers a freed region back to
// the cache, the shape a PoolThreadCache bucket is built from.
func (c *memoryRegionCache) Put(entry cacheEntry) error {
	if c.tryAdd(entry.chunk, entry.handle) {
		return nil
	}
	return iox.ErrWouldBlock
}

// Get implements Pool[cacheEntry]: borrows a cached entry, if any.
func (c *memoryRegionCache) Get() (cacheEntry, error) {
	e, ok := c.tryAllocate()
	if !ok {
		return cacheEntry{}, iox.ErrWouldBlock
	}
	return e, nil
}

var _ Pool[cacheEntry] = (*memoryRegionCache)(nil)

// drain frees every live entry currently held by the cache back to arena,
// stopping at the first tryAllocate miss, which has found no live entry in
// any slot.
func (c *memoryRegionCache) drain(arena *poolArena) {
	for range c.queue.Cap() {
		e, ok := c.tryAllocate()
		if !ok {
			return
		}
		arena.Free(e.chunk, e.handle, c.normCapacity, nil)
	}
}

// trimTo frees at most queueCapacity-recentAllocations live entries back to
// arena (spec §4.6 "trim"), leaving the rest cached for reuse. A cache whose
// recent allocation count already meets or exceeds its capacity is left
// untouched.
func (c *memoryRegionCache) trimTo(arena *poolArena, recentAllocations uint64) {
	capacity := uint64(c.queue.Cap())
	if recentAllocations >= capacity {
		return
	}
	toFree := capacity - recentAllocations
	for i := uint64(0); i < toFree; i++ {
		e, ok := c.tryAllocate()
		if !ok {
			break
		}
		arena.Free(e.chunk, e.handle, c.normCapacity, nil)
	}
}

// poolThreadCache is a front-end allocation cache bound to a single arena
// (spec §4.6). Go has no goroutine-local storage, so — unlike Netty's
// FastThreadLocal-attached cache — callers obtain one explicitly through
// Allocator.NewThreadCache and must confine it to one goroutine at a time;
// see ThreadCache in allocator.go.
type poolThreadCache struct {
	arena *poolArena

	tiny   []*memoryRegionCache
	small  []*memoryRegionCache
	normal []*memoryRegionCache

	allocations atomic.Uint64
	trimInterval uint64
}

func newPoolThreadCache(arena *poolArena, tinyCacheSize, smallCacheSize, normalCacheSize, maxCachedCapacity, trimInterval int) *poolThreadCache {
	sc := arena.sizeClass
	t := &poolThreadCache{
		arena:        arena,
		tiny:         make([]*memoryRegionCache, sc.TinyCount()),
		small:        make([]*memoryRegionCache, sc.SmallCount()),
		trimInterval: uint64(trimInterval),
	}
	for i := range t.tiny {
		t.tiny[i] = newMemoryRegionCache(tinyCacheSize, i<<4)
	}
	for i := range t.small {
		t.small[i] = newMemoryRegionCache(smallCacheSize, tinySizeThreshold<<i)
	}
	for i := 0; arena.pageSize<<i <= arena.chunkSize && arena.pageSize<<i <= maxCachedCapacity; i++ {
		t.normal = append(t.normal, newMemoryRegionCache(normalCacheSize, arena.pageSize<<i))
	}
	return t
}

func (t *poolThreadCache) cacheFor(class SizeClass, normCapacity int) *memoryRegionCache {
	sc := t.arena.sizeClass
	switch class {
	case SizeClassTiny:
		idx := sc.TinyIndex(normCapacity)
		if idx < 0 || idx >= len(t.tiny) {
			return nil
		}
		return t.tiny[idx]
	case SizeClassSmall:
		idx := sc.SmallIndex(normCapacity)
		if idx < 0 || idx >= len(t.small) {
			return nil
		}
		return t.small[idx]
	case SizeClassNormal:
		idx := sc.NormalIndex(normCapacity)
		if idx < 0 || idx >= len(t.normal) {
			return nil
		}
		return t.normal[idx]
	default:
		return nil
	}
}

// allocate attempts to satisfy the request from the cache, returning false
// on a miss (spec §4.6's "fast path").
func (t *poolThreadCache) allocate(arena *poolArena, buf *PooledByteBuffer, class SizeClass, reqCapacity, normCapacity int) bool {
	cache := t.cacheFor(class, normCapacity)
	if cache == nil {
		return false
	}
	e, ok := cache.tryAllocate()
	if !ok {
		return false
	}
	e.chunk.initBuf(buf, e.handle, reqCapacity)
	buf.cache = t
	t.maybeTrim()
	return true
}

// add offers a freed (chunk, handle) pair to the cache, returning false if
// no bucket exists for this class/capacity or the one ring slot tryAdd
// draws already holds an entry (which can happen before every slot of the
// bucket is in use) — in either case the caller must fall back to freeing
// directly into the arena.
func (t *poolThreadCache) add(arena *poolArena, chunk *poolChunk, handle Handle, normCapacity int, class SizeClass) bool {
	cache := t.cacheFor(class, normCapacity)
	if cache == nil {
		return false
	}
	return cache.tryAdd(chunk, handle)
}

func (t *poolThreadCache) maybeTrim() {
	if t.trimInterval == 0 {
		return
	}
	if n := t.allocations.Add(1); n%t.trimInterval == 0 {
		recent := t.allocations.Swap(0)
		t.trim(recent)
	}
}

// trim frees up to queueCapacity-recentAllocations entries from every bucket
// back to the arena (spec §4.6). recentAllocations is the cache hit count of
// the whole poolThreadCache since the last sweep, not a per-bucket count, so
// every bucket is trimmed against the same number.
func (t *poolThreadCache) trim(recentAllocations uint64) {
	for _, c := range t.tiny {
		c.trimTo(t.arena, recentAllocations)
	}
	for _, c := range t.small {
		c.trimTo(t.arena, recentAllocations)
	}
	for _, c := range t.normal {
		c.trimTo(t.arena, recentAllocations)
	}
}

// release drains all cached entries back to the arena. Go has no
// destructors or thread-death hooks, so this takes the place of Netty's
// FastThreadLocal cleanup: the caller must invoke it when it is done using
// the cache (ThreadCache.Release).
func (t *poolThreadCache) release() {
	for _, c := range t.tiny {
		c.drain(t.arena)
	}
	for _, c := range t.small {
		c.drain(t.arena)
	}
	for _, c := range t.normal {
		c.drain(t.arena)
	}
}
