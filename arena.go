// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"sync"
	"sync/atomic"

	"code.hybscloud.com/poolbuf/internal"
)

// arenaKind distinguishes the two backing-memory capabilities an arena can
// be built with (spec §4.5 "Two arena variants exist"). They differ only in
// how raw memory is carved out; the allocation logic above that is
// identical.
type arenaKind int

const (
	arenaKindHeap arenaKind = iota
	arenaKindDirect
)

func (k arenaKind) String() string {
	if k == arenaKindDirect {
		return "direct"
	}
	return "heap"
}

// subpagePoolHead is the arena-owned anchor for one Tiny or Small element
// size's circular subpage list, guarded by its own lock — the "finer lock"
// of spec §5, acquired before (and, only when a new page must be bound,
// together with) the arena lock.
type subpagePoolHead struct {
	mu       sync.Mutex
	sentinel *poolSubpage
}

func newSubpagePoolHead() *subpagePoolHead {
	return &subpagePoolHead{sentinel: newPoolSubpageHead()}
}

// arenaCounters are the lock-free per-class allocation/deallocation and Huge
// byte counters spec §5 calls out as atomic regardless of the arena lock.
type arenaCounters struct {
	allocTiny, allocSmall, allocNormal, allocHuge atomic.Uint64

	// _ pads the alloc group onto its own cache line: allocation and
	// deallocation happen on largely disjoint call paths (producer vs.
	// consumer goroutines), so keeping the two groups apart avoids
	// bouncing a shared line between cores, the same concern
	// internal.CacheLineSize already addresses for BoundedPool's ring.
	_ [internal.CacheLineSize]byte

	deallocTiny, deallocSmall, deallocNormal, deallocHuge atomic.Uint64

	_ [internal.CacheLineSize]byte

	activeBytesHuge atomic.Int64
}

func (c *arenaCounters) recordAlloc(class SizeClass, size int) {
	switch class {
	case SizeClassTiny:
		c.allocTiny.Add(1)
	case SizeClassSmall:
		c.allocSmall.Add(1)
	case SizeClassNormal:
		c.allocNormal.Add(1)
	default:
		c.allocHuge.Add(1)
		c.activeBytesHuge.Add(int64(size))
	}
}

func (c *arenaCounters) recordDealloc(class SizeClass, size int) {
	switch class {
	case SizeClassTiny:
		c.deallocTiny.Add(1)
	case SizeClassSmall:
		c.deallocSmall.Add(1)
	case SizeClassNormal:
		c.deallocNormal.Add(1)
	default:
		c.deallocHuge.Add(1)
		c.activeBytesHuge.Add(-int64(size))
	}
}

// poolArena owns a family of chunk lists plus subpage-pool heads, serializes
// most shared state via one coarse lock, and records metrics (spec §3
// "Arena", §4.5).
type poolArena struct {
	_  noCopy
	mu sync.Mutex

	kind arenaKind

	pageSize  int
	pageShift uint
	maxOrder  int
	chunkSize int

	sizeClass *sizeClassifier
	newMemory func(size int) []byte

	qInit, q000, q025, q050, q075, q100 *poolChunkList
	// allocationOrder is the deliberately non-monotonic search order spec
	// §4.4/§9 documents as an intentional contract: mid-occupancy chunks are
	// preferred for locality, q100 (full) is never searched, and new-chunk
	// creation is the last resort.
	allocationOrder []*poolChunkList

	tinyPools  []*subpagePoolHead
	smallPools []*subpagePoolHead

	counters arenaCounters

	log diagLogger
}

func newPoolArena(kind arenaKind, cfg Config, log diagLogger) *poolArena {
	sc := newSizeClassifier(cfg.PageSize, cfg.chunkSize())
	a := &poolArena{
		kind:      kind,
		pageSize:  cfg.PageSize,
		pageShift: uint(trailingZeros(cfg.PageSize)),
		maxOrder:  cfg.MaxOrder,
		chunkSize: cfg.chunkSize(),
		sizeClass: sc,
		log:       log,
	}
	if kind == arenaKindDirect {
		a.newMemory = func(size int) []byte { return AlignedMem(size, uintptr(a.pageSize)) }
	} else {
		a.newMemory = func(size int) []byte { return make([]byte, size) }
	}

	a.qInit = newPoolChunkList(0, 25)
	a.q000 = newPoolChunkList(1, 50)
	a.q025 = newPoolChunkList(25, 75)
	a.q050 = newPoolChunkList(50, 100)
	a.q075 = newPoolChunkList(75, 100)
	a.q100 = newPoolChunkList(100, 100)

	a.qInit.nextList, a.qInit.prevList = a.q000, nil
	a.q000.nextList, a.q000.prevList = a.q025, nil
	a.q025.nextList, a.q025.prevList = a.q050, a.q000
	a.q050.nextList, a.q050.prevList = a.q075, a.q025
	a.q075.nextList, a.q075.prevList = a.q100, a.q050
	a.q100.nextList, a.q100.prevList = nil, a.q075

	a.allocationOrder = []*poolChunkList{a.q050, a.q025, a.q000, a.qInit, a.q075}

	a.tinyPools = make([]*subpagePoolHead, sc.TinyCount())
	for i := range a.tinyPools {
		a.tinyPools[i] = newSubpagePoolHead()
	}
	a.smallPools = make([]*subpagePoolHead, sc.SmallCount())
	for i := range a.smallPools {
		a.smallPools[i] = newSubpagePoolHead()
	}

	return a
}

func trailingZeros(n int) int {
	shift := 0
	for n > 1 {
		n >>= 1
		shift++
	}
	return shift
}

func (a *poolArena) subpagePoolHead(class SizeClass, normCapacity int) *subpagePoolHead {
	if class == SizeClassTiny {
		return a.tinyPools[a.sizeClass.TinyIndex(normCapacity)]
	}
	return a.smallPools[a.sizeClass.SmallIndex(normCapacity)]
}

// Allocate serves one of the four flavors described in spec §4.5.
func (a *poolArena) Allocate(cache *poolThreadCache, reqCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	normCapacity, err := a.sizeClass.Normalize(reqCapacity)
	if err != nil {
		return nil, err
	}
	if reqCapacity > maxCapacity {
		return nil, ErrInvalidArgument
	}
	class := a.sizeClass.Classify(normCapacity)
	buf := newPooledByteBuffer(a, maxCapacity)

	switch class {
	case SizeClassTiny, SizeClassSmall:
		if err := a.allocateTinySmall(cache, buf, class, reqCapacity, normCapacity); err != nil {
			return nil, err
		}
	case SizeClassNormal:
		if err := a.allocateNormal(cache, buf, reqCapacity, normCapacity); err != nil {
			return nil, err
		}
	default:
		a.allocateHuge(buf, reqCapacity)
	}
	return buf, nil
}

func (a *poolArena) allocateTinySmall(cache *poolThreadCache, buf *PooledByteBuffer, class SizeClass, reqCapacity, normCapacity int) error {
	if cache != nil && cache.allocate(a, buf, class, reqCapacity, normCapacity) {
		return nil
	}

	head := a.subpagePoolHead(class, normCapacity)
	head.mu.Lock()

	if s := head.sentinel.next; s != head.sentinel {
		bitmapIdx := s.allocate()
		handle := newSubpageHandle(s.nodeIdx, bitmapIdx)
		chunk := s.chunk
		head.mu.Unlock()
		chunk.initBuf(buf, handle, reqCapacity)
		a.counters.recordAlloc(class, normCapacity)
		return nil
	}

	// No ready subpage: bind a fresh page, holding both locks in the
	// mandated order (head, then arena) for the duration (spec §5, §9).
	a.mu.Lock()
	chunk, nodeIdx, err := a.bindNewPageLocked(a.pageSize)
	if err != nil {
		a.mu.Unlock()
		head.mu.Unlock()
		return err
	}
	subpage := chunk.bindSubpage(nodeIdx, normCapacity, head.sentinel)
	a.mu.Unlock()

	bitmapIdx := subpage.allocate()
	handle := newSubpageHandle(nodeIdx, bitmapIdx)
	head.mu.Unlock()

	chunk.initBuf(buf, handle, reqCapacity)
	a.counters.recordAlloc(class, normCapacity)
	return nil
}

func (a *poolArena) allocateNormal(cache *poolThreadCache, buf *PooledByteBuffer, reqCapacity, normCapacity int) error {
	if cache != nil && cache.allocate(a, buf, SizeClassNormal, reqCapacity, normCapacity) {
		return nil
	}

	a.mu.Lock()
	chunk, nodeIdx, err := a.bindNewPageLocked(normCapacity)
	a.mu.Unlock()
	if err != nil {
		return err
	}
	chunk.initBuf(buf, newRunHandle(nodeIdx), reqCapacity)
	a.counters.recordAlloc(SizeClassNormal, normCapacity)
	return nil
}

func (a *poolArena) allocateHuge(buf *PooledByteBuffer, reqCapacity int) {
	chunk := newUnpooledChunk(a, reqCapacity)
	chunk.initBuf(buf, newRunHandle(0), reqCapacity)
	a.counters.recordAlloc(SizeClassHuge, reqCapacity)
}

// bindNewPageLocked searches the chunk lists in the arena's deliberate
// search order, and failing that creates a new chunk (spec §4.5 flavor 3,
// §9). Caller must hold a.mu.
func (a *poolArena) bindNewPageLocked(normCapacity int) (*poolChunk, int, error) {
	for _, list := range a.allocationOrder {
		if chunk, nodeIdx, ok := list.allocate(normCapacity); ok {
			return chunk, nodeIdx, nil
		}
	}

	chunk := newPoolChunk(a, a.pageSize, a.pageShift, a.maxOrder, a.newMemory(a.chunkSize))
	nodeIdx, err := chunk.allocateRunNode(normCapacity)
	if err != nil {
		// Can only happen if system memory is exhausted enough that the
		// fresh chunk's own buddy tree cannot satisfy normCapacity, which
		// cannot happen for normCapacity <= chunkSize; surfaced per spec §7.
		return nil, 0, err
	}
	a.qInit.add(chunk)
	a.qInit.promoteIfNeeded(chunk)
	return chunk, nodeIdx, nil
}

// Free returns handle's memory to the arena (spec §4.5 "Free").
func (a *poolArena) Free(chunk *poolChunk, handle Handle, normCapacity int, cache *poolThreadCache) {
	class := a.sizeClass.Classify(normCapacity)

	if chunk.unpooled {
		a.counters.recordDealloc(SizeClassHuge, normCapacity)
		return
	}

	if cache != nil && cache.add(a, chunk, handle, normCapacity, class) {
		return
	}

	if handle.isSubpage() {
		// The subpage's pool links change under its head's lock, taken
		// before the arena lock.
		head := a.subpagePoolHead(class, normCapacity)
		head.mu.Lock()
		defer head.mu.Unlock()
	}
	a.mu.Lock()
	chunk.free(handle)
	if chunk.parentList != nil {
		chunk.parentList.free(chunk)
	}
	a.mu.Unlock()
	a.counters.recordDealloc(class, normCapacity)
}

// Reallocate grows or shrinks buf to newCapacity, possibly moving it into a
// different chunk. It copies the first min(old length, newCapacity) bytes
// of the old region and keeps the reader and writer indices, clamping
// writerIndex to newCapacity (spec §4.5 "Reallocate").
func (a *poolArena) Reallocate(buf *PooledByteBuffer, newCapacity int, freeOldMemory bool) error {
	oldChunk, oldHandle, oldMemory, oldOffset, oldLength, oldCache := buf.chunk, buf.handle, buf.memory, buf.offset, buf.length, buf.cache
	oldMaxLength := buf.maxLength

	newBuf, err := a.Allocate(oldCache, newCapacity, buf.maxCapacity)
	if err != nil {
		return err
	}

	readerIndex, writerIndex := buf.readerIndex, buf.writerIndex
	copyLen := oldLength
	if newCapacity < copyLen {
		copyLen = newCapacity
	}
	copy(newBuf.memory[newBuf.offset:newBuf.offset+copyLen], oldMemory[oldOffset:oldOffset+copyLen])

	if writerIndex > newCapacity {
		writerIndex = newCapacity
	}

	buf.chunk = newBuf.chunk
	buf.handle = newBuf.handle
	buf.memory = newBuf.memory
	buf.offset = newBuf.offset
	buf.length = newCapacity
	buf.maxLength = newBuf.maxLength
	buf.cache = newBuf.cache
	buf.readerIndex = readerIndex
	buf.writerIndex = writerIndex

	if freeOldMemory {
		a.Free(oldChunk, oldHandle, a.normCapacityOf(oldChunk, oldMaxLength), oldCache)
	}
	return nil
}

// normCapacityOf recovers the normalized capacity a chunk allocation was
// made at, needed by Free/Reallocate's bookkeeping. Unpooled chunks have no
// normalization; pooled runs/subpages always have maxLength == the
// normalized run/element length they were carved from.
func (a *poolArena) normCapacityOf(chunk *poolChunk, length int) int {
	if chunk.unpooled {
		return length
	}
	norm, _ := a.sizeClass.Normalize(length)
	return norm
}
