// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import "errors"

// Sentinel errors for the allocator's public surface (spec §7). Each is a
// plain comparable value, checked with errors.Is, the same discipline the
// teacher's iox package uses for ErrWouldBlock rather than typed error
// structs.
var (
	// ErrInvalidArgument reports a negative capacity or a capacity above
	// maxCapacity. Config values are not checked: any PageSize is accepted,
	// and a MaxOrder above 14 is clamped to 14.
	ErrInvalidArgument = errors.New("poolbuf: invalid argument")

	// errOutOfSpace is internal: a chunk could not satisfy a page-run
	// request. It never crosses the allocator boundary (spec §7) —
	// poolChunkList.allocate treats it as a miss, and the arena then tries
	// the next chunk list or allocates a new chunk.
	errOutOfSpace = errors.New("poolbuf: chunk out of space")

	// ErrIndexOutOfRange reports an offset/length arithmetic violation at
	// the buffer surface (Slice, ReadSlice, AdjustCapacity).
	ErrIndexOutOfRange = errors.New("poolbuf: index out of range")

	// ErrIllegalReferenceCount reports release below zero, retain of a
	// freed buffer, or retain overflow. These are caller bugs, not transient
	// failures.
	ErrIllegalReferenceCount = errors.New("poolbuf: illegal reference count")

	// ErrUnsupported reports an operation not supported by a view, e.g.
	// AdjustCapacity on a Slice.
	ErrUnsupported = errors.New("poolbuf: unsupported operation")
)
