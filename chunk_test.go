// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import "testing"

func newTestChunk(pageSize int, maxOrder int) *poolChunk {
	return newPoolChunk(nil, pageSize, uint(trailingZeros(pageSize)), maxOrder, make([]byte, pageSize<<uint(maxOrder)))
}

// snapshotMemoryMap copies a chunk's memoryMap for later comparison.
func snapshotMemoryMap(c *poolChunk) []int8 {
	return append([]int8(nil), c.memoryMap...)
}

// TestPoolChunk_BuddyCorrectness verifies spec §8's "buddy correctness"
// property: after any sequence of allocate/free pairs back to empty, the
// chunk reports freeBytes == chunkSize and the buddy tree matches its
// initial state node-for-node.
func TestPoolChunk_BuddyCorrectness(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 4 // 16 pages, small enough to exercise fully
	c := newTestChunk(pageSize, maxOrder)
	initial := snapshotMemoryMap(c)

	id1, err := c.allocateRunNode(pageSize)
	if err != nil {
		t.Fatalf("allocateRunNode(pageSize) failed: %v", err)
	}
	id2, err := c.allocateRunNode(pageSize * 2)
	if err != nil {
		t.Fatalf("allocateRunNode(pageSize*2) failed: %v", err)
	}
	id3, err := c.allocateRunNode(pageSize * 4)
	if err != nil {
		t.Fatalf("allocateRunNode(pageSize*4) failed: %v", err)
	}

	if c.freeBytes == c.chunkSize {
		t.Fatal("freeBytes unchanged after allocations")
	}

	c.freeBytes += c.runLength(id1)
	c.free0(id1)
	c.freeBytes += c.runLength(id2)
	c.free0(id2)
	c.freeBytes += c.runLength(id3)
	c.free0(id3)

	if c.freeBytes != c.chunkSize {
		t.Errorf("freeBytes = %d, want %d (chunkSize) after freeing everything", c.freeBytes, c.chunkSize)
	}
	final := snapshotMemoryMap(c)
	for i := range initial {
		if initial[i] != final[i] {
			t.Fatalf("memoryMap[%d] = %d after free-all, want initial value %d", i, final[i], initial[i])
		}
	}
}

func TestPoolChunk_AllocateRunNode_OutOfSpace(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 1 // 2 pages total
	c := newTestChunk(pageSize, maxOrder)

	if _, err := c.allocateRunNode(pageSize * 4); err != errOutOfSpace {
		t.Errorf("allocateRunNode(oversized) error = %v, want errOutOfSpace", err)
	}
}

func TestPoolChunk_RunOffsetAndLength(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 3 // chunkSize = 64 KiB
	c := newTestChunk(pageSize, maxOrder)

	id, err := c.allocateRunNode(pageSize)
	if err != nil {
		t.Fatalf("allocateRunNode failed: %v", err)
	}
	if got := c.runLength(id); got != pageSize {
		t.Errorf("runLength(%d) = %d, want %d", id, got, pageSize)
	}
	if off := c.runOffset(id); off < 0 || off+c.runLength(id) > c.chunkSize {
		t.Errorf("runOffset(%d) = %d out of chunk bounds", id, off)
	}
}

func TestPoolChunk_Usage(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 2 // chunkSize = 32 KiB
	c := newTestChunk(pageSize, maxOrder)

	if got := c.usage(); got != 0 {
		t.Errorf("usage() on a fresh chunk = %d, want 0", got)
	}

	id, err := c.allocateRunNode(c.chunkSize)
	if err != nil {
		t.Fatalf("allocateRunNode(chunkSize) failed: %v", err)
	}
	if got := c.usage(); got != 100 {
		t.Errorf("usage() after allocating the whole chunk = %d, want 100", got)
	}

	c.freeBytes += c.runLength(id)
	c.free0(id)
	if got := c.usage(); got != 0 {
		t.Errorf("usage() after freeing the whole chunk = %d, want 0", got)
	}
}

func TestPoolChunk_BindSubpageAndFree(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 2
	c := newTestChunk(pageSize, maxOrder)

	nodeIdx, err := c.allocateRunNode(pageSize)
	if err != nil {
		t.Fatalf("allocateRunNode failed: %v", err)
	}
	head := newPoolSubpageHead()
	s := c.bindSubpage(nodeIdx, 16, head)
	if s.chunk != c {
		t.Error("bound subpage's chunk does not point back at the owning chunk")
	}

	bitmapIdx := s.allocate()
	handle := newSubpageHandle(nodeIdx, bitmapIdx)
	_ = s.allocate() // a second element that stays allocated

	before := c.freeBytes
	c.free(handle)
	// The subpage still has another allocated element, so the page itself is
	// not released back to the buddy tree.
	if c.freeBytes != before {
		t.Errorf("freeBytes changed (%d -> %d) from freeing one of many subpage elements", before, c.freeBytes)
	}
}

func TestPoolChunk_FreeReleasesPageWhenSubpageEmptiesAlone(t *testing.T) {
	const pageSize = 8192
	const maxOrder = 2
	c := newTestChunk(pageSize, maxOrder)

	nodeIdx, err := c.allocateRunNode(pageSize)
	if err != nil {
		t.Fatalf("allocateRunNode failed: %v", err)
	}
	head := newPoolSubpageHead()
	s := c.bindSubpage(nodeIdx, pageSize, head) // single-element subpage
	bitmapIdx := s.allocate()
	handle := newSubpageHandle(nodeIdx, bitmapIdx)

	c.free(handle)
	if c.freeBytes != c.chunkSize {
		t.Errorf("freeBytes = %d, want %d after releasing the sole subpage element", c.freeBytes, c.chunkSize)
	}
}
