// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

// Package poolbuf implements a jemalloc/Netty-style pooled byte-buffer
// allocator: a tree of size classes, buddy-allocated chunks, slab subpages,
// and per-goroutine front-end caches sitting in front of reference-counted
// buffer handles.
//
// # Allocation Hierarchy
//
// An Allocator owns a fixed set of heap and direct PoolArena instances. Each
// arena normalizes a requested capacity into one of four size classes:
//
//	Tiny    < 512 B             16-byte steps, served from a PoolSubpage
//	Small   512 B .. PageSize   power-of-two steps, served from a PoolSubpage
//	Normal  PageSize .. ChunkSize  power-of-two steps, served as a buddy run
//	Huge    > ChunkSize         never pooled; one-off backing memory
//
// Normal requests are satisfied by a binary buddy allocator over a
// PoolChunk's pages; Tiny and Small requests further subdivide a single page
// into equal-sized elements via a PoolSubpage bitmap. Chunks are grouped into
// six PoolChunkList buckets by usage percentage to bias allocation toward
// partially-used chunks and free mostly-empty ones back to the runtime.
//
// # Thread Cache
//
// Go has no goroutine-local storage, so PoolThreadCache is exposed as an
// explicit ThreadCache value: obtain one with Allocator.NewThreadCache,
// thread it through a hot loop confined to one goroutine, and call Release
// when done so its cached regions return to their arenas. This replaces
// Netty's JVM thread-death listener, which has no Go equivalent.
//
// # Buffers
//
// PooledByteBuffer is a reference-counted handle into an arena's memory.
// Slice, Duplicate, and their Retained variants return derived views that
// share the root's reference count and backing memory but track independent
// reader/writer indices. AdjustCapacity grows or shrinks a root buffer in
// place when possible, and reallocates (copying the old contents up to the
// new capacity) otherwise.
//
// # Diagnostics
//
// Leak detection (Config.LeakDetectionLevel) watches for buffers garbage
// collected before Release brings their reference count to zero, reporting
// through a github.com/joeycumines/logiface logger — diagnostic-only, never
// on the hot allocation path.
//
// # Dependencies
//
// poolbuf depends on:
//   - iox: semantic error types (ErrWouldBlock) used by BoundedPool
//   - spin: spin-wait primitives backing BoundedPool's lock-free ring
//   - logiface / logiface-slog: structured diagnostic logging
//   - automaxprocs: container-aware default arena counts
package poolbuf
