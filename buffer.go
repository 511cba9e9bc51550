// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"math"
	"sync/atomic"
)

// PooledByteBuffer is a reference-counted handle to a slice of a chunk's
// memory (spec §3 "PooledByteBuffer", §4.7). A freshly allocated buffer is a
// root: it owns a chunk/handle pair and a refCount starting at 1. Slice,
// Duplicate, and their Retained variants return derived views that share the
// root's refCount and memory but track their own reader/writer indices.
type PooledByteBuffer struct {
	_ noCopy

	arena *poolArena
	chunk *poolChunk
	handle Handle
	cache *poolThreadCache

	memory []byte
	offset int

	length      int
	maxLength   int
	maxCapacity int

	readerIndex, writerIndex             int
	markedReaderIndex, markedWriterIndex int

	refCount atomic.Int32

	// root is nil for a root buffer; for a derived view it points at the
	// buffer that owns the chunk/handle and carries the real refCount.
	root *PooledByteBuffer

	leak *leakTracker
}

func newPooledByteBuffer(arena *poolArena, maxCapacity int) *PooledByteBuffer {
	b := &PooledByteBuffer{arena: arena, maxCapacity: maxCapacity}
	b.refCount.Store(1)
	return b
}

// initUnpooledOrRun populates a freshly bound root buffer (spec §4.2
// "InitBuf"). Called by poolChunk.initBuf with offset and maxLength already
// resolved for an unpooled chunk, a page run or a subpage element.
func (b *PooledByteBuffer) initUnpooledOrRun(chunk *poolChunk, handle Handle, offset, reqCapacity, maxLength int) {
	b.chunk = chunk
	b.handle = handle
	b.memory = chunk.memory
	b.offset = offset
	b.length = reqCapacity
	b.maxLength = maxLength
	b.readerIndex, b.writerIndex = 0, 0
}

func (b *PooledByteBuffer) refHolder() *PooledByteBuffer {
	if b.root != nil {
		return b.root
	}
	return b
}

// Retain increments the reference count by n (spec §4.7). Fails with
// ErrIllegalReferenceCount if the count was already zero (resurrected
// reference) or the increment would overflow int32.
func (b *PooledByteBuffer) Retain(n int32) error {
	if n <= 0 {
		return ErrInvalidArgument
	}
	root := b.refHolder()
	for {
		cur := root.refCount.Load()
		if cur <= 0 {
			return ErrIllegalReferenceCount
		}
		if cur > math.MaxInt32-n {
			return ErrIllegalReferenceCount
		}
		if root.refCount.CompareAndSwap(cur, cur+n) {
			return nil
		}
	}
}

// Release decrements the reference count by n, deallocating on the
// transition to zero (spec §4.7). Fails with ErrIllegalReferenceCount if n
// exceeds the current count.
func (b *PooledByteBuffer) Release(n int32) error {
	if n <= 0 {
		return ErrInvalidArgument
	}
	root := b.refHolder()
	for {
		cur := root.refCount.Load()
		if n > cur {
			return ErrIllegalReferenceCount
		}
		if root.refCount.CompareAndSwap(cur, cur-n) {
			if cur-n == 0 {
				root.deallocate()
			}
			return nil
		}
	}
}

// RefCount returns the current reference count.
func (b *PooledByteBuffer) RefCount() int32 {
	return b.refHolder().refCount.Load()
}

func (b *PooledByteBuffer) deallocate() {
	if b.leak != nil {
		b.leak.close()
		b.leak = nil
	}
	if b.chunk == nil {
		return
	}
	normCapacity := b.arena.normCapacityOf(b.chunk, b.maxLength)
	b.arena.Free(b.chunk, b.handle, normCapacity, b.cache)
	b.chunk = nil
	b.memory = nil
}

// AdjustCapacity changes the buffer's current capacity to n (spec §4.7).
// Only valid on a root buffer — derived views fail with ErrUnsupported.
func (b *PooledByteBuffer) AdjustCapacity(n int) error {
	if b.root != nil {
		return ErrUnsupported
	}
	if n < 0 || n > b.maxCapacity {
		return ErrIndexOutOfRange
	}
	if n == b.length {
		return nil
	}
	if b.chunk.unpooled {
		return b.arena.Reallocate(b, n, true)
	}
	if n > b.length {
		if n <= b.maxLength {
			b.length = n
			return nil
		}
		return b.arena.Reallocate(b, n, true)
	}
	// n < length: shrink in place when within the teacher's allowed
	// slack of maxLength, else reallocate into a smaller region.
	var threshold int
	if b.maxLength > 512 {
		threshold = b.maxLength / 2
	} else {
		threshold = b.maxLength - 16
	}
	if n >= threshold {
		b.length = n
		if b.readerIndex > n {
			b.readerIndex = n
		}
		if b.writerIndex > n {
			b.writerIndex = n
		}
		return nil
	}
	return b.arena.Reallocate(b, n, true)
}

// Cap returns the buffer's current capacity.
func (b *PooledByteBuffer) Cap() int { return b.length }

// MaxCapacity returns the hard capacity ceiling.
func (b *PooledByteBuffer) MaxCapacity() int { return b.maxCapacity }

func (b *PooledByteBuffer) window() []byte {
	return b.memory[b.offset : b.offset+b.length]
}

// Bytes returns the full addressable window of the buffer, ignoring
// reader/writer indices.
func (b *PooledByteBuffer) Bytes() []byte { return b.window() }

// ReadableBytes returns the slice [readerIndex, writerIndex).
func (b *PooledByteBuffer) ReadableBytes() []byte {
	return b.window()[b.readerIndex:b.writerIndex]
}

func (b *PooledByteBuffer) readableBytesPtr() (*byte, int) {
	r := b.ReadableBytes()
	if len(r) == 0 {
		return nil, 0
	}
	return &r[0], len(r)
}

// Write appends p at writerIndex, growing capacity (via AdjustCapacity and
// the allocator's growth rule) if there is not enough room.
func (b *PooledByteBuffer) Write(p []byte) (int, error) {
	need := b.writerIndex + len(p)
	if need > b.length {
		if b.root != nil {
			return 0, ErrUnsupported
		}
		newCap := CalculateNewCapacity(need, b.maxCapacity)
		if newCap > b.maxCapacity {
			return 0, ErrIndexOutOfRange
		}
		if err := b.AdjustCapacity(newCap); err != nil {
			return 0, err
		}
	}
	n := copy(b.window()[b.writerIndex:], p)
	b.writerIndex += n
	return n, nil
}

// Read copies from readerIndex into p, advancing readerIndex.
func (b *PooledByteBuffer) Read(p []byte) (int, error) {
	n := copy(p, b.ReadableBytes())
	b.readerIndex += n
	return n, nil
}

// ReaderIndex, WriterIndex return the current indices.
func (b *PooledByteBuffer) ReaderIndex() int { return b.readerIndex }
func (b *PooledByteBuffer) WriterIndex() int { return b.writerIndex }

// SetReaderIndex, SetWriterIndex reposition the indices, subject to
// 0 <= readerIndex <= writerIndex <= length.
func (b *PooledByteBuffer) SetReaderIndex(i int) error {
	if i < 0 || i > b.writerIndex {
		return ErrIndexOutOfRange
	}
	b.readerIndex = i
	return nil
}

func (b *PooledByteBuffer) SetWriterIndex(i int) error {
	if i < b.readerIndex || i > b.length {
		return ErrIndexOutOfRange
	}
	b.writerIndex = i
	return nil
}

// MarkReaderIndex / ResetReaderIndex, MarkWriterIndex / ResetWriterIndex
// save and restore a single mark per index.
func (b *PooledByteBuffer) MarkReaderIndex()  { b.markedReaderIndex = b.readerIndex }
func (b *PooledByteBuffer) ResetReaderIndex() { b.readerIndex = b.markedReaderIndex }
func (b *PooledByteBuffer) MarkWriterIndex()  { b.markedWriterIndex = b.writerIndex }
func (b *PooledByteBuffer) ResetWriterIndex() { b.writerIndex = b.markedWriterIndex }

func (b *PooledByteBuffer) newView(index, length int, readerIndex, writerIndex int) *PooledByteBuffer {
	return &PooledByteBuffer{
		arena:        b.arena,
		memory:       b.memory,
		offset:       b.offset + index,
		length:       length,
		maxLength:    length,
		maxCapacity:  length,
		readerIndex:  readerIndex,
		writerIndex:  writerIndex,
		root:         b.refHolder(),
	}
}

// Slice returns a view of [index, index+length) with its own independent
// reader/writer indices (0 and length respectively) and a fixed capacity;
// AdjustCapacity on the result fails with ErrUnsupported (spec §4.7).
func (b *PooledByteBuffer) Slice(index, length int) (*PooledByteBuffer, error) {
	if index < 0 || length < 0 || index+length > b.length {
		return nil, ErrIndexOutOfRange
	}
	return b.newView(index, length, 0, length), nil
}

// RetainedSlice behaves like Slice but additionally retains the root,
// transferring a separate reference the caller must release.
func (b *PooledByteBuffer) RetainedSlice(index, length int) (*PooledByteBuffer, error) {
	v, err := b.Slice(index, length)
	if err != nil {
		return nil, err
	}
	if err := b.Retain(1); err != nil {
		return nil, err
	}
	return v, nil
}

// Duplicate returns a view sharing the full addressable window, with
// reader/writer indices starting equal to the source's current indices but
// independent thereafter.
func (b *PooledByteBuffer) Duplicate() *PooledByteBuffer {
	return b.newView(0, b.length, b.readerIndex, b.writerIndex)
}

// RetainedDuplicate behaves like Duplicate but additionally retains the
// root.
func (b *PooledByteBuffer) RetainedDuplicate() (*PooledByteBuffer, error) {
	v := b.Duplicate()
	if err := b.Retain(1); err != nil {
		return nil, err
	}
	return v, nil
}

// ReadSlice returns a slice covering [readerIndex, readerIndex+length) and
// advances the source's readerIndex by length.
func (b *PooledByteBuffer) ReadSlice(length int) (*PooledByteBuffer, error) {
	v, err := b.Slice(b.readerIndex, length)
	if err != nil {
		return nil, err
	}
	b.readerIndex += length
	return v, nil
}

// Touch records a diagnostic breadcrumb. It is a no-op unless a leak
// tracker at Advanced or Paranoid level is attached (spec §9 "Touch").
func (b *PooledByteBuffer) Touch(hint string) *PooledByteBuffer {
	if b.leak != nil {
		b.leak.record(hint)
	}
	return b
}
