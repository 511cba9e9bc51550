// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

// ArenaMetrics is a point-in-time snapshot of one arena's allocation
// counters (spec §6 "Metrics").
type ArenaMetrics struct {
	Kind string

	AllocatedTiny   uint64
	AllocatedSmall  uint64
	AllocatedNormal uint64
	AllocatedHuge   uint64

	DeallocatedTiny   uint64
	DeallocatedSmall  uint64
	DeallocatedNormal uint64
	DeallocatedHuge   uint64

	// ActiveBytesHuge is the number of bytes currently held by live
	// unpooled (Huge) allocations from this arena.
	ActiveBytesHuge int64
}

// Metrics returns a snapshot of this arena's counters.
func (a *poolArena) Metrics() ArenaMetrics {
	return ArenaMetrics{
		Kind:              a.kind.String(),
		AllocatedTiny:     a.counters.allocTiny.Load(),
		AllocatedSmall:    a.counters.allocSmall.Load(),
		AllocatedNormal:   a.counters.allocNormal.Load(),
		AllocatedHuge:     a.counters.allocHuge.Load(),
		DeallocatedTiny:   a.counters.deallocTiny.Load(),
		DeallocatedSmall:  a.counters.deallocSmall.Load(),
		DeallocatedNormal: a.counters.deallocNormal.Load(),
		DeallocatedHuge:   a.counters.deallocHuge.Load(),
		ActiveBytesHuge:   a.counters.activeBytesHuge.Load(),
	}
}

// Metrics returns a snapshot of every heap and direct arena owned by the
// allocator, heap arenas first.
func (a *Allocator) Metrics() []ArenaMetrics {
	out := make([]ArenaMetrics, 0, len(a.heapArenas)+len(a.directArenas))
	for _, arena := range a.heapArenas {
		out = append(out, arena.Metrics())
	}
	for _, arena := range a.directArenas {
		out = append(out, arena.Metrics())
	}
	return out
}
