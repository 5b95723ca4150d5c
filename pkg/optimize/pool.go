// Package optimize holds allocation helpers for hot paths.
package optimize

import (
	"sync"
)

// BytePool hands out byte slices of one fixed length.
type BytePool struct {
	pool sync.Pool
	size int
}

func NewBytePool(size int) *BytePool {
	return &BytePool{
		size: size,
		pool: sync.Pool{
			New: func() interface{} {
				b := make([]byte, size)
				return &b
			},
		},
	}
}

func (p *BytePool) Get() []byte {
	return *(p.pool.Get().(*[]byte))
}

// Put returns b to the pool. Slices smaller than the pool size are dropped.
func (p *BytePool) Put(b []byte) {
	if cap(b) < p.size {
		return
	}
	b = b[:p.size]
	p.pool.Put(&b)
}

// SlicePool hands out slices with at least a minimum capacity and zero
// length, for sample buffers whose length varies per use.
type SlicePool[T any] struct {
	pool    sync.Pool
	minCap  int
	maxKeep int
}

// NewSlicePool creates a pool of slices with capacity minCap. Slices that
// grew beyond 4*minCap are not kept.
func NewSlicePool[T any](minCap int) *SlicePool[T] {
	return &SlicePool[T]{
		minCap:  minCap,
		maxKeep: 4 * minCap,
		pool: sync.Pool{
			New: func() interface{} {
				s := make([]T, 0, minCap)
				return &s
			},
		},
	}
}

func (p *SlicePool[T]) Get() []T {
	return (*(p.pool.Get().(*[]T)))[:0]
}

func (p *SlicePool[T]) Put(s []T) {
	if cap(s) < p.minCap || cap(s) > p.maxKeep {
		return
	}
	s = s[:0]
	p.pool.Put(&s)
}
