package jitter

import (
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func payload(seq int) []byte {
	return []byte(fmt.Sprintf("frame-%d", seq))
}

// drain reads n frames and returns them, using "" for reads without payload.
func drain(b *Buffer, n int) []string {
	out := make([]string, 0, n)
	for i := 0; i < n; i++ {
		p, ok := b.Get()
		if !ok {
			out = append(out, "")
			continue
		}
		out = append(out, string(p))
	}
	return out
}

func TestBuffer_GetBeforeStart(t *testing.T) {
	b := New(3)

	for i := 0; i < 10; i++ {
		p, ok := b.Get()
		assert.False(t, ok)
		assert.Nil(t, p)
	}

	stats := b.Snapshot()
	assert.Equal(t, StateEmpty, stats.State)
	assert.Equal(t, 3, stats.Queued, "placeholders must survive reads before start")
	assert.Zero(t, stats.Missed)
	assert.Zero(t, stats.Resets)
}

func TestBuffer_InOrderDelivery(t *testing.T) {
	const bufferLength = 3
	b := New(bufferLength)

	for seq := 0; seq < 10; seq++ {
		b.Put(uint16(seq), payload(seq))
	}
	assert.Equal(t, StateActive, b.State())

	got := drain(b, bufferLength+10)
	for i := 0; i < bufferLength; i++ {
		assert.Empty(t, got[i], "read %d should be a playout-delay slot", i)
	}
	for seq := 0; seq < 10; seq++ {
		assert.Equal(t, string(payload(seq)), got[bufferLength+seq])
	}
	assert.Zero(t, b.Snapshot().Missed)
}

func TestBuffer_ReorderingTolerance(t *testing.T) {
	b := New(0)

	// 65535 establishes the timeline, then 2, 0, 1 arrive out of order.
	b.Put(65535, payload(65535))
	b.Put(2, payload(2))
	b.Put(0, payload(0))
	b.Put(1, payload(1))

	got := drain(b, 4)
	assert.Equal(t, []string{"frame-65535", "frame-0", "frame-1", "frame-2"}, got)
	assert.Zero(t, b.Snapshot().OutOfOrder)
}

func TestBuffer_ReorderingAheadOfExpected(t *testing.T) {
	b := New(1)
	b.Put(0, payload(0))

	b.Put(3, payload(3))
	b.Put(1, payload(1))
	b.Put(2, payload(2))

	got := drain(b, 5)
	assert.Equal(t, []string{"", "frame-0", "frame-1", "frame-2", "frame-3"}, got)
}

func TestBuffer_FirstPacketDefinesTimeline(t *testing.T) {
	b := New(0)

	b.Put(2, payload(2))
	b.Put(0, payload(0))
	b.Put(1, payload(1))

	stats := b.Snapshot()
	assert.Equal(t, uint64(2), stats.Late)
	assert.Equal(t, []string{"frame-2"}, drain(b, 1))
}

func TestBuffer_LossHandling(t *testing.T) {
	b := New(0)

	b.Put(0, payload(0))
	b.Put(2, payload(2))
	b.Put(3, payload(3))

	got := drain(b, 4)
	assert.Equal(t, []string{"frame-0", "", "frame-2", "frame-3"}, got)

	stats := b.Snapshot()
	assert.Zero(t, stats.Missed, "a successful read clears the miss count")
	assert.Zero(t, stats.Resets)
}

func TestBuffer_AutonomousReset(t *testing.T) {
	resets := 0
	b := New(2, WithOnReset(func() { resets++ }))

	b.Put(100, payload(100))
	require.Equal(t, []string{"", "", "frame-100"}, drain(b, 3))

	// Three consecutive reads from an empty queue.
	drain(b, 2)
	assert.True(t, b.Started())
	assert.Equal(t, 2, b.Snapshot().Missed)

	p, ok := b.Get()
	assert.False(t, ok)
	assert.Nil(t, p)

	stats := b.Snapshot()
	assert.Equal(t, StateEmpty, stats.State)
	assert.False(t, stats.HasExpected)
	assert.Equal(t, 2, stats.Queued, "playout delay is seeded again")
	assert.Zero(t, stats.OutOfOrder)
	assert.Zero(t, stats.Missed)
	assert.Equal(t, uint64(1), stats.Resets)
	assert.Equal(t, 1, resets)

	// A new packet re-establishes the expected sequence number.
	b.Put(40000, payload(40000))
	stats = b.Snapshot()
	assert.Equal(t, StateActive, stats.State)
	assert.True(t, stats.HasExpected)
	assert.Equal(t, uint16(40001), stats.Expected)
	assert.Equal(t, []string{"", "", "frame-40000"}, drain(b, 3))
}

func TestBuffer_ResetDiscardsOutOfOrder(t *testing.T) {
	b := New(0)
	b.Put(0, payload(0))
	b.Put(50, payload(50))
	drain(b, 1)

	drain(b, 3)

	stats := b.Snapshot()
	assert.Equal(t, StateEmpty, stats.State)
	assert.Zero(t, stats.OutOfOrder)
}

func TestBuffer_MissDrainsBufferedSuccessor(t *testing.T) {
	b := New(0)
	b.Put(10, payload(10))
	b.Put(12, payload(12))
	drain(b, 1)

	// 11 never arrives; giving up on it releases 12.
	p, ok := b.Get()
	assert.False(t, ok)
	assert.Nil(t, p)
	assert.Equal(t, 1, b.Snapshot().Queued)

	// 11 turning up now is too late.
	b.Put(11, payload(11))
	assert.Equal(t, uint64(1), b.Snapshot().Late)
	assert.Equal(t, []string{"frame-12"}, drain(b, 1))
}

func TestBuffer_SequenceWrap(t *testing.T) {
	b := New(0)
	for _, seq := range []uint16{65534, 65535, 0, 1} {
		b.Put(seq, payload(int(seq)))
	}
	assert.Equal(t, []string{"frame-65534", "frame-65535", "frame-0", "frame-1"}, drain(b, 4))
	assert.Equal(t, uint16(2), b.Snapshot().Expected)
}

func TestBuffer_DuplicatesAndLate(t *testing.T) {
	b := New(0)
	b.Put(5, payload(5))
	b.Put(7, payload(7))
	b.Put(7, payload(7))
	b.Put(5, payload(5))
	b.Put(4, payload(4))

	stats := b.Snapshot()
	assert.Equal(t, uint64(1), stats.Duplicates)
	assert.Equal(t, uint64(2), stats.Late)
	assert.Equal(t, 1, stats.OutOfOrder)
}

func TestBuffer_OutOfOrderBound(t *testing.T) {
	b := New(0, WithMaxOutOfOrder(2))
	b.Put(0, payload(0))
	b.Put(2, payload(2))
	b.Put(3, payload(3))
	b.Put(4, payload(4))

	stats := b.Snapshot()
	assert.Equal(t, 2, stats.OutOfOrder)
	assert.Equal(t, uint64(1), stats.Late)
}

func TestBuffer_EmptyPayloadIsAFrame(t *testing.T) {
	b := New(0)
	b.Put(0, nil)

	p, ok := b.Get()
	assert.True(t, ok)
	assert.NotNil(t, p)
	assert.Empty(t, p)
}

func TestBuffer_ConcurrentPutGet(t *testing.T) {
	b := New(3)
	done := make(chan struct{})

	go func() {
		defer close(done)
		for seq := 0; seq < 2000; seq++ {
			b.Put(uint16(seq), payload(seq))
		}
	}()
	for i := 0; i < 2000; i++ {
		b.Get()
	}
	<-done

	stats := b.Snapshot()
	assert.GreaterOrEqual(t, stats.Queued, 0)
}
