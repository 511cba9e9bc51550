// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import "math/bits"

// poolChunk is a single contiguous reservation managed as a binary buddy
// allocator over pages, with a secondary subpage allocator for Tiny/Small
// requests (spec §3 "Chunk", §4.2). All mutating methods are called with the
// owning arena's lock held, except where explicitly noted (subpage.allocate
// under the finer subpage-pool-head lock, spec §5).
type poolChunk struct {
	_ noCopy

	arena *poolArena

	pageSize  int
	pageShift uint
	maxOrder  int
	chunkSize int

	memory []byte

	// memoryMap[id] holds the current allocatable height of buddy-tree node
	// id; depthMap[id] holds its fixed original height. Both arrays are
	// 1-indexed (root = 1), length 2 * maxSubpageAllocs where
	// maxSubpageAllocs = 1 << maxOrder (spec §3 "Chunk" invariants).
	memoryMap []int8
	depthMap  []int8

	// subpages[id] is the subpage descriptor bound to the page at buddy-tree
	// node id, or nil if that page has never hosted a subpage (spec §3
	// "Handle" low bits / §4.2 InitBuf).
	subpages []*poolSubpage

	freeBytes int

	// unpooled marks a one-off Huge allocation (spec §4.5 flavor 4): it is
	// not tracked by any chunk list and is destroyed immediately on free.
	unpooled bool

	prev, next *poolChunk
	parentList *poolChunkList
}

func newPoolChunk(arena *poolArena, pageSize int, pageShift uint, maxOrder int, memory []byte) *poolChunk {
	maxSubpageAllocs := 1 << maxOrder
	c := &poolChunk{
		arena:     arena,
		pageSize:  pageSize,
		pageShift: pageShift,
		maxOrder:  maxOrder,
		chunkSize: pageSize << maxOrder,
		memory:    memory,
		memoryMap: make([]int8, maxSubpageAllocs<<1),
		depthMap:  make([]int8, maxSubpageAllocs<<1),
		subpages:  make([]*poolSubpage, maxSubpageAllocs<<1),
	}
	c.freeBytes = c.chunkSize

	memoryMapIndex := 1
	for d := 0; d <= maxOrder; d++ {
		subTreeSize := 1 << d
		for p := 0; p < subTreeSize; p++ {
			c.memoryMap[memoryMapIndex] = int8(d)
			c.depthMap[memoryMapIndex] = int8(d)
			memoryMapIndex++
		}
	}
	return c
}

func newUnpooledChunk(arena *poolArena, size int) *poolChunk {
	return &poolChunk{
		arena:     arena,
		chunkSize: size,
		freeBytes: 0,
		memory:    make([]byte, size),
		unpooled:  true,
	}
}

func (c *poolChunk) depth(id int) int { return bits.Len(uint(id)) - 1 }

func (c *poolChunk) runLength(id int) int { return c.chunkSize >> uint(c.depth(id)) }

func (c *poolChunk) runOffset(id int) int {
	shift := uint(c.depth(id))
	siblingBit := id ^ (1 << shift)
	return siblingBit * c.runLength(id)
}

// usage returns the chunk's fill percentage (0-100), used by PoolChunkList
// to decide list membership (spec §4.4).
func (c *poolChunk) usage() int {
	if c.freeBytes == 0 {
		return 100
	}
	freePercentage := c.freeBytes * 100 / c.chunkSize
	return 100 - freePercentage
}

// allocateNode walks the buddy tree from the root looking for a free node at
// depth d, preferring the left subtree when it can still satisfy d (spec
// §4.2 "Page-run allocation"). Returns -1 if the chunk cannot satisfy the
// request.
func (c *poolChunk) allocateNode(d int) int {
	if int(c.memoryMap[1]) > d {
		return -1
	}
	id := 1
	for c.depth(id) < d {
		id <<= 1
		if int(c.memoryMap[id]) > d {
			id ^= 1
		}
	}
	c.memoryMap[id] = int8(c.maxOrder + 1)
	c.updateParentsAlloc(id)
	return id
}

func (c *poolChunk) updateParentsAlloc(id int) {
	for id > 1 {
		parent := id >> 1
		v1, v2 := c.memoryMap[id], c.memoryMap[id^1]
		c.memoryMap[parent] = minInt8(v1, v2)
		id = parent
	}
}

func (c *poolChunk) updateParentsFree(id int) {
	logChild := c.depth(id) + 1
	for id > 1 {
		parent := id >> 1
		v1, v2 := c.memoryMap[id], c.memoryMap[id^1]
		logChild--
		if int(v1) == logChild && int(v2) == logChild {
			c.memoryMap[parent] = int8(logChild - 1)
		} else {
			c.memoryMap[parent] = minInt8(v1, v2)
		}
		id = parent
	}
}

func (c *poolChunk) free0(id int) {
	c.memoryMap[id] = c.depthMap[id]
	c.updateParentsFree(id)
}

func minInt8(a, b int8) int8 {
	if a < b {
		return a
	}
	return b
}

// allocateRunNode allocates normCapacity (>= pageSize) as a whole buddy-tree
// run, returning its node index (spec §4.2).
func (c *poolChunk) allocateRunNode(normCapacity int) (int, error) {
	d := c.maxOrder - (bits.Len(uint(normCapacity/c.pageSize)) - 1)
	id := c.allocateNode(d)
	if id < 0 {
		return 0, errOutOfSpace
	}
	c.freeBytes -= c.runLength(id)
	return id, nil
}

// allocateRun allocates normCapacity (>= pageSize) and packs the result as a
// page-run Handle.
func (c *poolChunk) allocateRun(normCapacity int) (Handle, error) {
	id, err := c.allocateRunNode(normCapacity)
	if err != nil {
		return 0, err
	}
	return newRunHandle(id), nil
}

// bindSubpage locates or creates the subpage descriptor for the page at
// nodeIdx, configuring it for elemSize and linking it into head (spec §4.2
// "Subpage allocation"). Caller must hold both the arena lock and head's
// lock.
func (c *poolChunk) bindSubpage(nodeIdx, elemSize int, head *poolSubpage) *poolSubpage {
	s := c.subpages[nodeIdx]
	if s == nil {
		s = newPoolSubpage(c, nodeIdx, c.runOffset(nodeIdx), c.pageSize, elemSize, head)
		c.subpages[nodeIdx] = s
	} else {
		s.init(elemSize, head)
	}
	return s
}

// free releases handle. For a subpage handle whose owning subpage is not
// released back to the buddy tree (poolSubpage.free returns true), only the
// bitmap is touched. Otherwise (page-run handle, or a subpage handle whose
// page is released) the buddy-tree node is restored and coalesced upward
// (spec §4.2 "Free").
func (c *poolChunk) free(handle Handle) {
	id := handle.nodeIdx()
	if handle.isSubpage() {
		s := c.subpages[id]
		if s.free(handle.bitmapIdx()) {
			return
		}
	}
	c.freeBytes += c.runLength(id)
	c.free0(id)
}

// initBuf populates buf to describe the memory region handle refers to (spec
// §4.2 "InitBuf").
func (c *poolChunk) initBuf(buf *PooledByteBuffer, handle Handle, reqCapacity int) {
	if c.unpooled {
		buf.initUnpooledOrRun(c, handle, 0, reqCapacity, c.chunkSize)
		return
	}
	id := handle.nodeIdx()
	if !handle.isSubpage() {
		buf.initUnpooledOrRun(c, handle, c.runOffset(id), reqCapacity, c.runLength(id))
		return
	}
	s := c.subpages[id]
	offset := s.runOffset + s.bitmapIdxToOffset(handle.bitmapIdx())
	buf.initUnpooledOrRun(c, handle, offset, reqCapacity, s.elemSize)
}

func (s *poolSubpage) bitmapIdxToOffset(bitmapIdx int) int {
	return bitmapIdx * s.elemSize
}
