// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf_test

import (
	"math"
	"sync"
	"testing"

	"code.hybscloud.com/poolbuf"
)

func TestAllocator_DefaultsFillZeroConfig(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(1, 1)
	if err != nil {
		t.Fatalf("HeapBuffer with zero Config failed: %v", err)
	}
	_ = buf.Release(1)
}

func TestAllocator_Buffer_DefaultCapacity(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.Buffer()
	if err != nil {
		t.Fatalf("Buffer() failed: %v", err)
	}
	defer func() { _ = buf.Release(1) }()
	if buf.Cap() != 256 {
		t.Errorf("Buffer() default Cap() = %d, want 256", buf.Cap())
	}
	if buf.MaxCapacity() != math.MaxInt32 {
		t.Errorf("Buffer() default MaxCapacity() = %d, want MaxInt32", buf.MaxCapacity())
	}
}

func TestAllocator_Buffer_TooManyArgs(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	if _, err := a.Buffer(1, 2, 3); err != poolbuf.ErrInvalidArgument {
		t.Errorf("Buffer(1,2,3) error = %v, want ErrInvalidArgument", err)
	}
}

func TestAllocator_HeapAndDirectBuffersIndependent(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	h, err := a.HeapBuffer(128, 128)
	if err != nil {
		t.Fatalf("HeapBuffer failed: %v", err)
	}
	defer func() { _ = h.Release(1) }()

	d, err := a.DirectBuffer(128, 128)
	if err != nil {
		t.Fatalf("DirectBuffer failed: %v", err)
	}
	defer func() { _ = d.Release(1) }()

	copy(h.Bytes(), []byte("heap"))
	copy(d.Bytes(), []byte("direct"))
	if string(h.Bytes()[:4]) != "heap" || string(d.Bytes()[:6]) != "direct" {
		t.Error("heap and direct buffers must not alias the same backing memory")
	}
}

func TestAllocator_ThreadCacheRoundTrip(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	tc := a.NewThreadCache()
	defer tc.Release()

	buf, err := a.HeapBufferWithCache(tc, 16, 16)
	if err != nil {
		t.Fatalf("HeapBufferWithCache failed: %v", err)
	}
	if err := buf.Release(1); err != nil {
		t.Fatalf("Release failed: %v", err)
	}

	buf2, err := a.HeapBufferWithCache(tc, 16, 16)
	if err != nil {
		t.Fatalf("HeapBufferWithCache (second) failed: %v", err)
	}
	_ = buf2.Release(1)
}

func TestAllocator_ConcurrentAllocateFree(t *testing.T) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	const goroutines = 32
	const iterations = 200

	var wg sync.WaitGroup
	wg.Add(goroutines)
	for g := 0; g < goroutines; g++ {
		go func() {
			defer wg.Done()
			tc := a.NewThreadCache()
			defer tc.Release()
			for i := 0; i < iterations; i++ {
				buf, err := a.HeapBufferWithCache(tc, 16, 16)
				if err != nil {
					t.Errorf("HeapBufferWithCache failed: %v", err)
					return
				}
				if _, err := buf.Write([]byte("x")); err != nil {
					t.Errorf("Write failed: %v", err)
					return
				}
				if err := buf.Release(1); err != nil {
					t.Errorf("Release failed: %v", err)
					return
				}
			}
		}()
	}
	wg.Wait()
}

func TestCalculateNewCapacity(t *testing.T) {
	const fourMiB = 4 * 1024 * 1024

	cases := []struct {
		name          string
		min, max, want int
	}{
		{"equal to max", 100, 100, 100},
		{"above max clamps", 200, 100, 100},
		{"doubles from 64 below threshold", 100, 1 << 30, 128},
		{"already power of two below threshold", 64, 1 << 30, 64},
		{"steps by 4MiB above threshold", fourMiB + 1, 1 << 30, 2 * fourMiB},
		{"exact 4MiB multiple above threshold always adds a step", 2 * fourMiB, 1 << 30, 3 * fourMiB},
		{"step clamped by max", fourMiB + 1, fourMiB + 1, fourMiB + 1},
	}
	for _, c := range cases {
		t.Run(c.name, func(t *testing.T) {
			if got := poolbuf.CalculateNewCapacity(c.min, c.max); got != c.want {
				t.Errorf("CalculateNewCapacity(%d, %d) = %d, want %d", c.min, c.max, got, c.want)
			}
		})
	}
}
