// ©Hayabusa Cloud Co., Ltd. 2025. All rights reserved.
// Use of this source code is governed by a MIT-style
// license that can be found in the LICENSE file.

package poolbuf_test

import (
	"testing"

	"code.hybscloud.com/poolbuf"
)

func BenchmarkAllocator_HeapBuffer_Tiny(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := a.HeapBuffer(64, 64)
		if err != nil {
			b.Fatal(err)
		}
		_ = buf.Release(1)
	}
}

func BenchmarkAllocator_HeapBuffer_Small(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := a.HeapBuffer(2048, 2048)
		if err != nil {
			b.Fatal(err)
		}
		_ = buf.Release(1)
	}
}

func BenchmarkAllocator_HeapBuffer_Normal(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		buf, err := a.HeapBuffer(16384, 16384)
		if err != nil {
			b.Fatal(err)
		}
		_ = buf.Release(1)
	}
}

func BenchmarkAllocator_HeapBuffer_Parallel(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	b.ResetTimer()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf, err := a.HeapBuffer(512, 512)
			if err != nil {
				b.Fatal(err)
			}
			_ = buf.Release(1)
		}
	})
}

func BenchmarkAllocator_ThreadCache_HeapBuffer(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	b.RunParallel(func(pb *testing.PB) {
		tc := a.NewThreadCache()
		defer tc.Release()
		for pb.Next() {
			buf, err := a.HeapBufferWithCache(tc, 512, 512)
			if err != nil {
				b.Fatal(err)
			}
			_ = buf.Release(1)
		}
	})
}

func BenchmarkPooledByteBuffer_WriteRead(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(4096, 4096)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = buf.Release(1) }()
	payload := make([]byte, 256)
	out := make([]byte, 256)

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.SetReaderIndex(0)
		_ = buf.SetWriterIndex(0)
		_, _ = buf.Write(payload)
		_, _ = buf.Read(out)
	}
}

func BenchmarkPooledByteBuffer_Duplicate(b *testing.B) {
	a := poolbuf.NewAllocator(poolbuf.Config{})
	buf, err := a.HeapBuffer(1024, 1024)
	if err != nil {
		b.Fatal(err)
	}
	defer func() { _ = buf.Release(1) }()
	_, _ = buf.Write(make([]byte, 128))

	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		_ = buf.Duplicate()
	}
}

func BenchmarkCalculateNewCapacity(b *testing.B) {
	for i := 0; i < b.N; i++ {
		_ = poolbuf.CalculateNewCapacity(100000, 1<<30)
	}
}
