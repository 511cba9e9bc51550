// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

// Handle is the 64-bit opaque allocation identifier a PoolChunk hands back
// (spec §3 "Handle"). Low 32 bits: buddy-tree node index. High 32 bits: the
// bitmap index within a subpage, with subpageHandleFlag set so the high word
// is non-zero even when bitmapIdx is 0 — the marker free() inspects to tell
// a subpage handle from a plain page-run handle.
type Handle uint64

// subpageHandleFlag marks a handle's high word as carrying a subpage bitmap
// index rather than being entirely zero (page-run handle). A subpage's
// bitmap index is below pageSize/16 (the smallest element is 16 B; 512
// elements for the default 8 KiB page), far below bit 30, so bit 30 is free
// for the marker.
const subpageHandleFlag = uint64(1) << 30

func newRunHandle(nodeIdx int) Handle {
	return Handle(uint64(uint32(nodeIdx)))
}

func newSubpageHandle(nodeIdx, bitmapIdx int) Handle {
	hi := (uint64(uint32(bitmapIdx)) | subpageHandleFlag) << 32
	return Handle(hi | uint64(uint32(nodeIdx)))
}

// nodeIdx returns the low-32-bit buddy-tree node index.
func (h Handle) nodeIdx() int { return int(uint32(h)) }

// isSubpage reports whether the handle's high word is non-zero, i.e. it
// refers to an element inside a PoolSubpage rather than a whole page run.
func (h Handle) isSubpage() bool { return uint32(h>>32) != 0 }

// bitmapIdx returns the subpage bitmap index. Only meaningful when
// isSubpage() is true.
func (h Handle) bitmapIdx() int { return int(uint32(h>>32) &^ uint32(subpageHandleFlag)) }
