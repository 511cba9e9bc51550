// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

// poolChunkList is a doubly-linked list of chunks grouped by fill percentage
// (spec §3 "ChunkList", §4.4). Chunks migrate between lists as their usage
// rises (after allocation) or falls (after free); both directions are
// wired once during arena construction and never change afterward.
//
// All mutation happens with the owning arena's lock held.
type poolChunkList struct {
	minUsage, maxUsage int

	head, tail *poolChunk

	// nextList is the list a chunk graduates to as usage rises past
	// maxUsage. nil only for q100.
	nextList *poolChunkList

	// prevList is the list a chunk demotes to as usage falls below
	// minUsage. nil for qInit and q000; q000 is the terminal list — a
	// chunk demoted out of q000 is destroyed rather than retained (spec
	// §4.4 "terminal case").
	prevList *poolChunkList
}

func newPoolChunkList(minUsage, maxUsage int) *poolChunkList {
	return &poolChunkList{minUsage: minUsage, maxUsage: maxUsage}
}

// add appends c to the tail of the list (spec §4.4 says chunks crossing a
// threshold are "appended" to their new list).
func (l *poolChunkList) add(c *poolChunk) {
	c.parentList = l
	c.prev = l.tail
	c.next = nil
	if l.tail != nil {
		l.tail.next = c
	} else {
		l.head = c
	}
	l.tail = c
}

func (l *poolChunkList) remove(c *poolChunk) {
	if c.prev != nil {
		c.prev.next = c.next
	} else {
		l.head = c.next
	}
	if c.next != nil {
		c.next.prev = c.prev
	} else {
		l.tail = c.prev
	}
	c.prev, c.next = nil, nil
}

// allocate walks the list head-first, returning the first chunk able to
// satisfy normCapacity and migrating it upward if the allocation pushes its
// usage to this list's maxUsage (spec §4.4 "Allocate").
func (l *poolChunkList) allocate(normCapacity int) (chunk *poolChunk, nodeIdx int, ok bool) {
	for c := l.head; c != nil; c = c.next {
		id, err := c.allocateRunNode(normCapacity)
		if err != nil {
			continue
		}
		l.promoteIfNeeded(c)
		return c, id, true
	}
	return nil, 0, false
}

// promoteIfNeeded moves c to l.nextList if its usage has reached l.maxUsage.
func (l *poolChunkList) promoteIfNeeded(c *poolChunk) {
	if l.nextList == nil || c.usage() < l.maxUsage {
		return
	}
	l.remove(c)
	l.nextList.add(c)
}

// free applies a just-freed chunk's possible demotion: if usage fell below
// l.minUsage, c moves to l.prevList, recursively re-checking against that
// list's own minUsage (spec §4.4 "After each free"). Returns true if c fell
// past the terminal list and was destroyed.
func (l *poolChunkList) free(c *poolChunk) (destroyed bool) {
	if c.usage() >= l.minUsage {
		return false
	}
	l.remove(c)
	if l.prevList == nil {
		return true
	}
	return l.prevList.addAndRecheck(c)
}

func (l *poolChunkList) addAndRecheck(c *poolChunk) bool {
	l.add(c)
	return l.free(c)
}
