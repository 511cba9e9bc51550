// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf

import (
	"fmt"
	"runtime"
	"sync"
	"sync/atomic"
)

// LeakDetectionLevel selects how aggressively the allocator watches for
// buffers that are dropped without reaching a zero reference count (spec
// §4.7). LeakDetectionSimple is the zero value: a bare Config{} gets
// sampled leak detection without the caller naming it explicitly, since Go
// has no clean way to distinguish "unset" from "explicitly zero" on a plain
// enum field. Callers who truly want it off set LeakDetectionDisabled.
type LeakDetectionLevel int

const (
	// LeakDetectionSimple samples roughly 1 in leakSampleRate allocations
	// and reports a leak with no allocation-site history.
	LeakDetectionSimple LeakDetectionLevel = iota
	// LeakDetectionAdvanced tracks every allocation and records Touch
	// hints, reported alongside the leak.
	LeakDetectionAdvanced
	// LeakDetectionParanoid is identical to Advanced but is intended for
	// use with every buffer in a test or staging run, not production,
	// since it removes the Simple sampling rate's overhead saving.
	LeakDetectionParanoid
	// LeakDetectionDisabled turns leak tracking off entirely.
	LeakDetectionDisabled
)

func (l LeakDetectionLevel) String() string {
	switch l {
	case LeakDetectionSimple:
		return "simple"
	case LeakDetectionAdvanced:
		return "advanced"
	case LeakDetectionParanoid:
		return "paranoid"
	case LeakDetectionDisabled:
		return "disabled"
	default:
		return "invalid"
	}
}

// leakSampleRate is the 1-in-N sampling rate applied at LeakDetectionSimple.
const leakSampleRate = 128

var leakSampleCounter atomic.Uint64

func shouldSampleLeak() bool {
	return leakSampleCounter.Add(1)%leakSampleRate == 0
}

// leakTracker watches one buffer allocation for a release that never comes.
// It is finalized via runtime.SetFinalizer rather than any third-party leak
// detector — no library in the example pack offers GC-finalizer-based
// tracking, and runtime.SetFinalizer is the only mechanism Go provides for
// observing "this value became unreachable without being explicitly
// closed" (documented in DESIGN.md as a standard-library exception).
type leakTracker struct {
	level LeakDetectionLevel
	log   diagLogger
	class string

	mu     sync.Mutex
	hints  []string
	closed atomic.Bool
}

func newLeakTracker(level LeakDetectionLevel, log diagLogger, class string) *leakTracker {
	if level == LeakDetectionDisabled {
		return nil
	}
	if level == LeakDetectionSimple && !shouldSampleLeak() {
		return nil
	}
	t := &leakTracker{level: level, log: log, class: class}
	runtime.SetFinalizer(t, (*leakTracker).report)
	return t
}

// record appends a Touch hint. Only kept at Advanced/Paranoid, where the
// cost of a mutex per Touch call is acceptable.
func (t *leakTracker) record(hint string) {
	if t == nil || t.level < LeakDetectionAdvanced {
		return
	}
	t.mu.Lock()
	t.hints = append(t.hints, hint)
	t.mu.Unlock()
}

// close marks the tracker as cleanly released, suppressing report.
func (t *leakTracker) close() {
	if t == nil {
		return
	}
	t.closed.Store(true)
}

// report runs on the finalizer goroutine if the tracker is garbage
// collected while still open — meaning its buffer was dropped before
// Release brought the reference count to zero.
func (t *leakTracker) report() {
	if t.closed.Load() || t.log == nil {
		return
	}
	t.mu.Lock()
	hints := append([]string(nil), t.hints...)
	t.mu.Unlock()

	b := t.log.Warning().Str("sizeClass", t.class)
	if len(hints) > 0 {
		b = b.Str("hints", fmt.Sprint(hints))
	}
	b.Log("pooled buffer leaked: garbage collected before its reference count reached zero")
}
