// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf_test

import (
	"testing"

	"code.hybscloud.com/poolbuf"
)

// TestPooledByteBuffer_ReferenceCountLaw verifies spec §8's reference-count
// law: release(retain(n)) is the identity on the count, and releasing from 1
// deallocates exactly once (a second Release then fails, since the buffer is
// already gone).
func TestPooledByteBuffer_ReferenceCountLaw(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(64, 64)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}

	if err := buf.Retain(3); err != nil {
		t.Fatalf("Retain(3) failed: %v", err)
	}
	if got := buf.RefCount(); got != 4 {
		t.Fatalf("RefCount() = %d, want 4 after Retain(3) on a fresh buffer (count 1)", got)
	}
	if err := buf.Release(3); err != nil {
		t.Fatalf("Release(3) failed: %v", err)
	}
	if got := buf.RefCount(); got != 1 {
		t.Fatalf("RefCount() = %d, want 1 after release(retain(n))", got)
	}

	if err := buf.Release(1); err != nil {
		t.Fatalf("final Release(1) failed: %v", err)
	}
	if err := buf.Release(1); err == nil {
		t.Error("Release() after the count reached zero should fail")
	}
}

func TestPooledByteBuffer_RetainOverflowFails(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(16, 16)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	if err := buf.Retain(0x7FFFFFFE); err != nil {
		t.Fatalf("Retain(MaxInt32-1) failed: %v", err)
	}
	if got := buf.RefCount(); got != 0x7FFFFFFF {
		t.Fatalf("RefCount() = %d, want MaxInt32", got)
	}
	if err := buf.Retain(1); err != poolbuf.ErrIllegalReferenceCount {
		t.Errorf("Retain(1) at MaxInt32 error = %v, want ErrIllegalReferenceCount", err)
	}
	if got := buf.RefCount(); got != 0x7FFFFFFF {
		t.Errorf("RefCount() changed to %d after a failed Retain, want unchanged MaxInt32", got)
	}
}

// TestPooledByteBuffer_SliceIndependence verifies spec §8's "slice
// independence": scenario 5's literal walkthrough.
func TestPooledByteBuffer_SliceIndependence(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(1024, 1024)
	if err != nil {
		t.Fatalf("HeapBuffer(1024) failed: %v", err)
	}

	s, err := buf.Slice(0, 512)
	if err != nil {
		t.Fatalf("Slice(0, 512) failed: %v", err)
	}
	r, err := buf.RetainedSlice(0, 256)
	if err != nil {
		t.Fatalf("RetainedSlice(0, 256) failed: %v", err)
	}

	buf.Bytes()[100] = 0xAB
	if s.Bytes()[100] != 0xAB {
		t.Error("write through the parent not observed at the slice's corresponding offset")
	}
	if r.Bytes()[100] != 0xAB {
		t.Error("write through the parent not observed at the retained slice's corresponding offset")
	}

	if err := buf.Release(1); err != nil {
		t.Fatalf("Release() of the parent failed: %v", err)
	}
	if buf.RefCount() <= 0 {
		t.Fatal("buffer deallocated while RetainedSlice still holds a reference")
	}

	if err := r.Release(1); err != nil {
		t.Fatalf("Release() of the retained slice failed: %v", err)
	}
	if buf.RefCount() != 0 {
		t.Errorf("RefCount() = %d, want 0 once every reference is released", buf.RefCount())
	}
}

func TestPooledByteBuffer_SliceIndependentIndices(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(256, 256)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	_, _ = buf.Write(make([]byte, 64))
	s, err := buf.Slice(0, 128)
	if err != nil {
		t.Fatalf("Slice failed: %v", err)
	}

	if err := s.SetWriterIndex(32); err != nil {
		t.Fatalf("SetWriterIndex on slice failed: %v", err)
	}
	if buf.WriterIndex() != 64 {
		t.Errorf("parent WriterIndex() = %d, want unchanged 64 (slice index must not leak into parent)", buf.WriterIndex())
	}
}

// TestPooledByteBuffer_AdjustCapacity_ResizeMonotonicity verifies spec §8:
// after AdjustCapacity(n), either length == n and readerIndex <= writerIndex
// <= n, or the call failed and nothing changed.
func TestPooledByteBuffer_AdjustCapacity_ResizeMonotonicity(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(64, 1024)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	if err := buf.AdjustCapacity(512); err != nil {
		t.Fatalf("AdjustCapacity(512) (grow) failed: %v", err)
	}
	if buf.Cap() != 512 {
		t.Errorf("Cap() = %d, want 512", buf.Cap())
	}

	oldCap := buf.Cap()
	if err := buf.AdjustCapacity(2048); err == nil {
		t.Error("AdjustCapacity(2048) should fail: exceeds maxCapacity 1024")
	} else if buf.Cap() != oldCap {
		t.Errorf("Cap() changed to %d after a failed AdjustCapacity, want unchanged %d", buf.Cap(), oldCap)
	}

	if err := buf.AdjustCapacity(64); err != nil {
		t.Fatalf("AdjustCapacity(64) (shrink) failed: %v", err)
	}
	if buf.Cap() != 64 {
		t.Errorf("Cap() = %d, want 64 after shrink", buf.Cap())
	}
	if buf.ReaderIndex() > buf.WriterIndex() || buf.WriterIndex() > buf.Cap() {
		t.Errorf("indices out of order after shrink: reader=%d writer=%d cap=%d", buf.ReaderIndex(), buf.WriterIndex(), buf.Cap())
	}
}

func TestPooledByteBuffer_AdjustCapacity_DerivedViewUnsupported(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(64, 64)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	dup := buf.Duplicate()
	if err := dup.AdjustCapacity(32); err != poolbuf.ErrUnsupported {
		t.Errorf("AdjustCapacity on a derived view error = %v, want ErrUnsupported", err)
	}
}

func TestPooledByteBuffer_WriteReadRoundTrip(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(16, 1024)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	payload := []byte("hello, pooled world")
	n, err := buf.Write(payload)
	if err != nil {
		t.Fatalf("Write failed: %v", err)
	}
	if n != len(payload) {
		t.Fatalf("Write() = %d, want %d", n, len(payload))
	}

	out := make([]byte, len(payload))
	n, err = buf.Read(out)
	if err != nil {
		t.Fatalf("Read failed: %v", err)
	}
	if string(out[:n]) != string(payload) {
		t.Errorf("Read back %q, want %q", out[:n], payload)
	}
}

func TestPooledByteBuffer_Touch_NoopWithoutLeakTracking(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{LeakDetectionLevel: poolbuf.LeakDetectionDisabled})
	buf, err := a.HeapBuffer(16, 16)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()

	if got := buf.Touch("checkpoint"); got != buf {
		t.Error("Touch() must return the same buffer it was called on")
	}
}
