// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import "math/bits"

// poolSubpage partitions one page of a PoolChunk into elemCount equal-sized
// elements, tracked by a bitmap (spec §3 "Subpage", §4.3). It is always
// reached either through its owning chunk (under the chunk's arena lock) or
// through the arena's subpage-pool head lock for its element size; it has no
// lock of its own.
//
// Each arena subpage-pool head is itself a poolSubpage used only as a
// circular-list sentinel (zero elemSize, never allocated from); real
// subpages link into head.next/head.prev.
type poolSubpage struct {
	chunk     *poolChunk
	nodeIdx   int // buddy-tree node index of the page this subpage partitions
	runOffset int // byte offset of the page within the chunk's memory
	pageSize  int

	elemSize  int
	elemCount int
	bitmap    []uint64
	numAvail  int

	// doNotDestroy is true while this subpage is linked into the arena's
	// pool head for its element size (spec §3 invariant: "a subpage is in
	// its pool iff doNotDestroy ∧ numAvail > 0").
	doNotDestroy bool

	head       *poolSubpage // sentinel for the pool this subpage belongs to
	prev, next *poolSubpage
}

// newPoolSubpageHead creates a sentinel node for one arena subpage-pool
// list. It is never allocated from and is always linked to itself.
func newPoolSubpageHead() *poolSubpage {
	h := &poolSubpage{}
	h.prev, h.next = h, h
	return h
}

func newPoolSubpage(chunk *poolChunk, nodeIdx, runOffset, pageSize, elemSize int, head *poolSubpage) *poolSubpage {
	s := &poolSubpage{chunk: chunk, nodeIdx: nodeIdx, runOffset: runOffset, pageSize: pageSize}
	s.init(elemSize, head)
	return s
}

// init (re)configures a subpage descriptor for a new element size and links
// it into head's pool. Used both for brand-new subpages and for recycling a
// chunk's existing descriptor after its page was fully freed and reused.
func (s *poolSubpage) init(elemSize int, head *poolSubpage) {
	s.doNotDestroy = true
	s.elemSize = elemSize
	s.elemCount = s.pageSize / elemSize
	s.numAvail = s.elemCount
	words := (s.elemCount + 63) / 64
	if cap(s.bitmap) >= words {
		s.bitmap = s.bitmap[:words]
	} else {
		s.bitmap = make([]uint64, words)
	}
	for i := range s.bitmap {
		s.bitmap[i] = 0
	}
	// Mark unused tail bits (beyond elemCount) as permanently allocated so
	// bit-scan never returns an out-of-range index.
	if rem := s.elemCount % 64; rem != 0 {
		s.bitmap[words-1] = ^uint64(0) << uint(rem)
	}
	s.addToPool(head)
}

// allocate returns the lowest-numbered free element's bitmap index, or -1 if
// the subpage is full (spec §4.3). When it becomes full, it unlinks itself
// from its pool head.
func (s *poolSubpage) allocate() int {
	if s.numAvail == 0 {
		return -1
	}
	idx := -1
	for wordIdx, word := range s.bitmap {
		if word == ^uint64(0) {
			continue
		}
		bitIdx := bits.TrailingZeros64(^word)
		s.bitmap[wordIdx] = word | (uint64(1) << uint(bitIdx))
		idx = wordIdx*64 + bitIdx
		break
	}
	s.numAvail--
	if s.numAvail == 0 {
		s.removeFromPool()
	}
	return idx
}

// free clears bitmapIdx's bit. Returns true in every case except one: the
// subpage is now entirely free AND is the only subpage linked to its pool
// head. In that one case it returns false, signaling the caller (poolChunk)
// to release the whole page back to the buddy tree. Any other entirely-free
// subpage is unlinked from its pool with doNotDestroy cleared, and free
// returns true, so its page stays allocated in the chunk (spec §4.2 "Free",
// §4.3).
func (s *poolSubpage) free(bitmapIdx int) bool {
	wordIdx, bitIdx := bitmapIdx/64, uint(bitmapIdx%64)
	wasFull := s.numAvail == 0
	s.bitmap[wordIdx] &^= uint64(1) << bitIdx
	s.numAvail++

	if wasFull {
		s.addToPool(s.head)
	}
	if s.numAvail != s.elemCount {
		return true
	}
	// Entirely free now.
	if s.head.next == s && s.next == s.head {
		// sole subpage linked to this pool head: signal the chunk to release the page.
		return false
	}
	s.doNotDestroy = false
	s.removeFromPool()
	return true
}

// addToPool links s at the head of the circular list anchored at head.
func (s *poolSubpage) addToPool(head *poolSubpage) {
	s.head = head
	s.prev = head
	s.next = head.next
	s.next.prev = s
	head.next = s
}

func (s *poolSubpage) removeFromPool() {
	s.prev.next = s.next
	s.next.prev = s.prev
	s.prev, s.next = nil, nil
}
