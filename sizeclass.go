// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import "math/bits"

// SizeClass classifies a normalized capacity into one of four regimes (spec
// §2, §4.1). Tiny and Small requests are served from a PoolSubpage; Normal
// requests are served as whole-page buddy runs; Huge requests bypass pooling
// entirely.
type SizeClass int

const (
	// SizeClassTiny covers normCapacity < 512, in 16-byte steps.
	SizeClassTiny SizeClass = iota
	// SizeClassSmall covers 512 <= normCapacity < pageSize, power-of-two steps.
	SizeClassSmall
	// SizeClassNormal covers pageSize <= normCapacity <= chunkSize, power-of-two steps.
	SizeClassNormal
	// SizeClassHuge covers normCapacity > chunkSize; never pooled.
	SizeClassHuge
)

func (c SizeClass) String() string {
	switch c {
	case SizeClassTiny:
		return "tiny"
	case SizeClassSmall:
		return "small"
	case SizeClassNormal:
		return "normal"
	case SizeClassHuge:
		return "huge"
	default:
		return "invalid"
	}
}

// sizeClassifier normalizes requested capacities into the arena's size
// classes. It is pure and stateless except for the three constants that
// parameterize it (pageSize, chunkSize, and their relationship), which are
// fixed once an arena/allocator is built (spec §4.1, §6 pageSize/maxOrder).
type sizeClassifier struct {
	pageSize  int
	chunkSize int

	// tinyCount is the number of Tiny size classes: 512/16 = 32.
	tinyCount int
	// smallCount is the number of Small size classes: log2(pageSize/512).
	smallCount int
}

func newSizeClassifier(pageSize, chunkSize int) *sizeClassifier {
	return &sizeClassifier{
		pageSize:   pageSize,
		chunkSize:  chunkSize,
		tinyCount:  tinySizeThreshold / 16,
		smallCount: bits.Len(uint(pageSize/tinySizeThreshold)) - 1,
	}
}

const tinySizeThreshold = 512

// Normalize maps reqCapacity to normCapacity per spec §4.1's table. Fails
// with ErrInvalidArgument only if reqCapacity < 0.
func (c *sizeClassifier) Normalize(reqCapacity int) (normCapacity int, err error) {
	if reqCapacity < 0 {
		return 0, ErrInvalidArgument
	}
	if reqCapacity >= c.chunkSize {
		return reqCapacity, nil
	}
	if reqCapacity >= tinySizeThreshold {
		return nextPowerOfTwo(reqCapacity), nil
	}
	if reqCapacity%16 == 0 {
		return reqCapacity, nil
	}
	return (reqCapacity/16 + 1) * 16, nil
}

// Classify returns the SizeClass for an already-normalized capacity.
func (c *sizeClassifier) Classify(normCapacity int) SizeClass {
	switch {
	case normCapacity > c.chunkSize:
		return SizeClassHuge
	case normCapacity >= c.pageSize:
		return SizeClassNormal
	case normCapacity >= tinySizeThreshold:
		return SizeClassSmall
	default:
		return SizeClassTiny
	}
}

// TinyIndex returns the Tiny size-class index (0..31) for a normalized Tiny
// capacity: normCapacity >> 4.
func (c *sizeClassifier) TinyIndex(normCapacity int) int {
	return normCapacity >> 4
}

// SmallIndex returns the Small size-class index for a normalized Small
// capacity: floor(log2(normCapacity/512)).
func (c *sizeClassifier) SmallIndex(normCapacity int) int {
	return bits.Len(uint(normCapacity/tinySizeThreshold)) - 1
}

// NormalIndex returns the Normal size-class index for a normalized Normal
// capacity: floor(log2(normCapacity/pageSize)).
func (c *sizeClassifier) NormalIndex(normCapacity int) int {
	return bits.Len(uint(normCapacity/c.pageSize)) - 1
}

// TinyCount is the number of distinct Tiny size classes (32 by default).
func (c *sizeClassifier) TinyCount() int { return c.tinyCount }

// SmallCount is the number of distinct Small size classes.
func (c *sizeClassifier) SmallCount() int { return c.smallCount }

// nextPowerOfTwo rounds n up to the next power of two. n must be > 0.
func nextPowerOfTwo(n int) int {
	if n&(n-1) == 0 {
		return n
	}
	return 1 << bits.Len(uint(n))
}
