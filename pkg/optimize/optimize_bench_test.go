package optimize

import (
	"testing"
)

func BenchmarkBytePool(b *testing.B) {
	pool := NewBytePool(65535)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		buf := pool.Get()
		buf[0] = byte(i)
		pool.Put(buf)
	}
}

func BenchmarkBytePoolParallel(b *testing.B) {
	pool := NewBytePool(65535)
	b.ReportAllocs()
	b.RunParallel(func(pb *testing.PB) {
		for pb.Next() {
			buf := pool.Get()
			buf[0] = 1
			pool.Put(buf)
		}
	})
}

func BenchmarkSlicePool(b *testing.B) {
	pool := NewSlicePool[int](1920)
	b.ReportAllocs()
	for i := 0; i < b.N; i++ {
		s := pool.Get()
		s = append(s, i)
		pool.Put(s)
	}
}
