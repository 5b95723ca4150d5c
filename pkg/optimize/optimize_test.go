package optimize

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestBytePool(t *testing.T) {
	pool := NewBytePool(1024)

	buf := pool.Get()
	assert.Len(t, buf, 1024)

	pool.Put(buf[:10])
	assert.Len(t, pool.Get(), 1024)

	// Undersized slices are dropped rather than handed out later.
	pool.Put(make([]byte, 8))
	assert.Len(t, pool.Get(), 1024)
}

func TestSlicePool(t *testing.T) {
	pool := NewSlicePool[int](960)

	s := pool.Get()
	assert.Empty(t, s)
	assert.GreaterOrEqual(t, cap(s), 960)

	s = append(s, 1, 2, 3)
	pool.Put(s)

	s = pool.Get()
	assert.Empty(t, s)
	assert.GreaterOrEqual(t, cap(s), 960)

	pool.Put(make([]int, 0, 960*8))
	assert.LessOrEqual(t, cap(pool.Get()), 960*4)
}
