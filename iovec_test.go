// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf_test

import (
	"testing"
	"unsafe"

	"code.hybscloud.com/poolbuf"
)

func TestIoVecFromBytesSlice(t *testing.T) {
	t.Run("empty slice", func(t *testing.T) {
		addr, n := poolbuf.IoVecFromBytesSlice(nil)
		if addr != 0 || n != 0 {
			t.Errorf("expected (0, 0), got (%d, %d)", addr, n)
		}
	})

	t.Run("single buffer", func(t *testing.T) {
		buf := make([]byte, 128)
		buf[0] = 0xAB
		iov := [][]byte{buf}
		addr, n := poolbuf.IoVecFromBytesSlice(iov)
		if n != 1 {
			t.Errorf("expected n=1, got %d", n)
		}
		if addr == 0 {
			t.Error("expected non-zero address")
		}
	})

	t.Run("multiple buffers", func(t *testing.T) {
		bufs := [][]byte{
			make([]byte, 64),
			make([]byte, 128),
			make([]byte, 256),
		}
		addr, n := poolbuf.IoVecFromBytesSlice(bufs)
		if n != 3 {
			t.Errorf("expected n=3, got %d", n)
		}
		if addr == 0 {
			t.Error("expected non-zero address")
		}
	})
}

func TestIoVecAddrLen(t *testing.T) {
	t.Run("empty slice", func(t *testing.T) {
		addr, n := poolbuf.IoVecAddrLen(nil)
		if addr != 0 || n != 0 {
			t.Errorf("expected (0, 0), got (%d, %d)", addr, n)
		}
	})

	t.Run("non-empty slice", func(t *testing.T) {
		vec := make([]poolbuf.IoVec, 4)
		addr, n := poolbuf.IoVecAddrLen(vec)
		if n != 4 {
			t.Errorf("expected n=4, got %d", n)
		}
		if addr == 0 {
			t.Error("expected non-zero address")
		}
		expectedAddr := uintptr(unsafe.Pointer(&vec[0]))
		if addr != expectedAddr {
			t.Errorf("expected addr=%d, got %d", expectedAddr, addr)
		}
	})
}

func TestIoVecFromPooledBuffers(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})

	t.Run("empty slice", func(t *testing.T) {
		vec := poolbuf.IoVecFromPooledBuffers(nil)
		if vec != nil {
			t.Error("expected nil for empty input")
		}
	})

	t.Run("pointer and length correctness", func(t *testing.T) {
		b1, err := a.HeapBuffer(64, 64)
		if err != nil {
			t.Fatalf("HeapBuffer: %v", err)
		}
		b2, err := a.HeapBuffer(128, 128)
		if err != nil {
			t.Fatalf("HeapBuffer: %v", err)
		}
		_, _ = b1.Write(make([]byte, 32))
		_, _ = b2.Write(make([]byte, 96))

		vec := poolbuf.IoVecFromPooledBuffers([]*poolbuf.PooledByteBuffer{b1, b2})
		if len(vec) != 2 {
			t.Fatalf("expected len=2, got %d", len(vec))
		}
		if vec[0].Len != 32 {
			t.Errorf("vec[0].Len = %d, want 32", vec[0].Len)
		}
		if vec[1].Len != 96 {
			t.Errorf("vec[1].Len = %d, want 96", vec[1].Len)
		}
	})
}
