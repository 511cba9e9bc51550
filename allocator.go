// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"math"
	"runtime"
	"sync"
	"sync/atomic"

	"go.uber.org/automaxprocs/maxprocs"
)

// setMaxProcsOnce adjusts GOMAXPROCS to match a container's cgroup CPU
// quota the first time an Allocator is built (spec §10.2). automaxprocs
// logs nothing by default and is a silent no-op outside a container, so a
// failure to detect a quota is not reported as an error here.
var setMaxProcsOnce sync.Once

func ensureMaxProcsSet() {
	setMaxProcsOnce.Do(func() {
		_, _ = maxprocs.Set()
	})
}

// Config configures an Allocator (spec §6). The zero Config is valid and
// fills every field with the defaults documented below.
type Config struct {
	// HeapArenaCount and DirectArenaCount set how many PoolArena instances
	// back HeapBuffer and DirectBuffer allocations respectively. Default:
	// 2 * runtime.GOMAXPROCS(0), evaluated after automaxprocs has had a
	// chance to correct GOMAXPROCS for the running container.
	HeapArenaCount   int
	DirectArenaCount int

	// PageSize is the smallest unit a PoolChunk's buddy tree allocates.
	// Default: 8192.
	PageSize int
	// MaxOrder is the buddy tree depth; ChunkSize = PageSize << MaxOrder.
	// Default: 11. Clamped to 14.
	MaxOrder int

	// TinyCacheSize, SmallCacheSize, NormalCacheSize set the capacity of
	// each PoolThreadCache bucket for their respective size classes.
	// Defaults: 512, 256, 64.
	TinyCacheSize   int
	SmallCacheSize  int
	NormalCacheSize int
	// MaxCachedBufferCapacity is the largest Normal capacity the thread
	// cache will hold; Normal requests above it always go through the
	// arena. Default: 32KiB.
	MaxCachedBufferCapacity int
	// CacheTrimInterval is the number of cache allocations between
	// automatic trims. Default: 8192. A zero value selects the default, so
	// periodic trimming cannot be turned off through Config.
	CacheTrimInterval int

	// LeakDetectionLevel controls reference-count leak tracking. The zero
	// value is LeakDetectionSimple (see its doc comment).
	LeakDetectionLevel LeakDetectionLevel
	// Logger receives diagnostic output (leak reports). A nil Logger
	// writes to slog.Default()'s handler.
	Logger diagLogger
}

func (c Config) chunkSize() int { return c.PageSize << uint(c.MaxOrder) }

func (c Config) withDefaults() Config {
	if c.PageSize == 0 {
		c.PageSize = 8192
	}
	if c.MaxOrder == 0 {
		c.MaxOrder = 11
	}
	if c.MaxOrder > 14 {
		c.MaxOrder = 14
	}
	if c.HeapArenaCount == 0 {
		ensureMaxProcsSet()
		c.HeapArenaCount = 2 * runtime.GOMAXPROCS(0)
	}
	if c.DirectArenaCount == 0 {
		ensureMaxProcsSet()
		c.DirectArenaCount = 2 * runtime.GOMAXPROCS(0)
	}
	if c.TinyCacheSize == 0 {
		c.TinyCacheSize = 512
	}
	if c.SmallCacheSize == 0 {
		c.SmallCacheSize = 256
	}
	if c.NormalCacheSize == 0 {
		c.NormalCacheSize = 64
	}
	if c.MaxCachedBufferCapacity == 0 {
		c.MaxCachedBufferCapacity = 32 * 1024
	}
	if c.CacheTrimInterval == 0 {
		c.CacheTrimInterval = 8192
	}
	if c.Logger == nil {
		c.Logger = newDiagLogger(nil)
	}
	return c
}

const defaultInitialCapacity = 256

// Allocator is the public entry point for obtaining PooledByteBuffer
// values. A single Allocator owns a fixed set of heap and direct arenas for
// its lifetime (spec §6).
type Allocator struct {
	cfg       Config
	sizeClass *sizeClassifier

	heapArenas   []*poolArena
	directArenas []*poolArena

	nextHeap, nextDirect atomic.Uint64
}

func NewAllocator(cfg Config) *Allocator {
	cfg = cfg.withDefaults()
	a := &Allocator{
		cfg:       cfg,
		sizeClass: newSizeClassifier(cfg.PageSize, cfg.chunkSize()),
	}
	a.heapArenas = make([]*poolArena, cfg.HeapArenaCount)
	for i := range a.heapArenas {
		a.heapArenas[i] = newPoolArena(arenaKindHeap, cfg, cfg.Logger)
	}
	a.directArenas = make([]*poolArena, cfg.DirectArenaCount)
	for i := range a.directArenas {
		a.directArenas[i] = newPoolArena(arenaKindDirect, cfg, cfg.Logger)
	}
	return a
}

func (a *Allocator) pickHeapArena() *poolArena {
	return a.heapArenas[a.nextHeap.Add(1)%uint64(len(a.heapArenas))]
}

func (a *Allocator) pickDirectArena() *poolArena {
	return a.directArenas[a.nextDirect.Add(1)%uint64(len(a.directArenas))]
}

// ThreadCache is an explicit per-goroutine front-end cache (spec §4.6).
// Go has no goroutine-local storage, so callers obtain one explicitly and
// must confine it to a single goroutine at a time; call Release when done
// with it so its cached entries return to their arenas.
type ThreadCache struct {
	heap   *poolThreadCache
	direct *poolThreadCache
}

// NewThreadCache builds a ThreadCache sticky to one heap arena and one
// direct arena, chosen round-robin at creation time.
func (a *Allocator) NewThreadCache() *ThreadCache {
	return &ThreadCache{
		heap:   newPoolThreadCache(a.pickHeapArena(), a.cfg.TinyCacheSize, a.cfg.SmallCacheSize, a.cfg.NormalCacheSize, a.cfg.MaxCachedBufferCapacity, a.cfg.CacheTrimInterval),
		direct: newPoolThreadCache(a.pickDirectArena(), a.cfg.TinyCacheSize, a.cfg.SmallCacheSize, a.cfg.NormalCacheSize, a.cfg.MaxCachedBufferCapacity, a.cfg.CacheTrimInterval),
	}
}

// Release drains every entry cached by tc back to its owning arena.
func (tc *ThreadCache) Release() {
	tc.heap.release()
	tc.direct.release()
}

func (a *Allocator) allocate(arena *poolArena, cache *poolThreadCache, initialCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	buf, err := arena.Allocate(cache, initialCapacity, maxCapacity)
	if err != nil {
		return nil, err
	}
	if a.cfg.LeakDetectionLevel != LeakDetectionDisabled {
		class := a.sizeClass.Classify(initialCapacity).String()
		buf.leak = newLeakTracker(a.cfg.LeakDetectionLevel, a.cfg.Logger, class)
	}
	return buf, nil
}

func resolveCapacity(args []int) (initial, max int, err error) {
	initial, max = defaultInitialCapacity, math.MaxInt32
	switch len(args) {
	case 0:
	case 1:
		initial = args[0]
	case 2:
		initial, max = args[0], args[1]
	default:
		return 0, 0, ErrInvalidArgument
	}
	return initial, max, nil
}

// Buffer allocates a heap buffer. Called with no arguments it uses capacity
// 256 growing up to math.MaxInt32; with one argument it sets the initial
// capacity; with two, the initial and max capacity (spec §6).
func (a *Allocator) Buffer(capacity ...int) (*PooledByteBuffer, error) {
	initial, max, err := resolveCapacity(capacity)
	if err != nil {
		return nil, err
	}
	return a.HeapBuffer(initial, max)
}

// HeapBuffer allocates from a round-robin heap arena.
func (a *Allocator) HeapBuffer(initialCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	return a.allocate(a.pickHeapArena(), nil, initialCapacity, maxCapacity)
}

// DirectBuffer allocates from a round-robin direct (off-heap-styled,
// page-aligned) arena.
func (a *Allocator) DirectBuffer(initialCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	return a.allocate(a.pickDirectArena(), nil, initialCapacity, maxCapacity)
}

// HeapBufferWithCache and DirectBufferWithCache allocate through tc's fast
// path, falling back to tc's sticky arena on a cache miss.
func (a *Allocator) HeapBufferWithCache(tc *ThreadCache, initialCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	return a.allocate(tc.heap.arena, tc.heap, initialCapacity, maxCapacity)
}

func (a *Allocator) DirectBufferWithCache(tc *ThreadCache, initialCapacity, maxCapacity int) (*PooledByteBuffer, error) {
	return a.allocate(tc.direct.arena, tc.direct, initialCapacity, maxCapacity)
}

// CompositeBuffer returns an empty CompositeByteBuffer (spec §4.8). Called
// with no arguments it allows up to 16 components; with one, that many.
func (a *Allocator) CompositeBuffer(maxComponents ...int) (*CompositeByteBuffer, error) {
	n := defaultMaxComponents
	switch len(maxComponents) {
	case 0:
	case 1:
		n = maxComponents[0]
	default:
		return nil, ErrInvalidArgument
	}
	if n <= 0 {
		return nil, ErrInvalidArgument
	}
	return &CompositeByteBuffer{allocator: a, maxComponents: n}, nil
}

// calculateThreshold is the point (spec §6) above which growth switches
// from doubling to fixed 4MiB steps, avoiding doubling an already-large
// buffer into an enormous one from a small overshoot.
const calculateThreshold = 4 * 1024 * 1024

// CalculateNewCapacity computes the capacity to grow to so that it holds at
// least minNewCapacity bytes without exceeding maxCapacity (spec §6):
// already at max, grow no further; above the 4MiB threshold, step by 4MiB;
// otherwise double from 64 bytes until large enough.
func CalculateNewCapacity(minNewCapacity, maxCapacity int) int {
	if minNewCapacity == maxCapacity {
		return maxCapacity
	}
	if minNewCapacity > maxCapacity {
		return maxCapacity
	}
	if minNewCapacity > calculateThreshold {
		newCapacity := (minNewCapacity/calculateThreshold)*calculateThreshold + calculateThreshold
		return min(newCapacity, maxCapacity)
	}
	newCapacity := 64
	for newCapacity < minNewCapacity {
		newCapacity <<= 1
	}
	return min(newCapacity, maxCapacity)
}
