package mixer

import (
	"net"
	"testing"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/infrastructure/codec/l16"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTable(maxConnections int, now time.Time) *Table {
	codec := l16.New(domain.SampleRate)
	return NewTable(maxConnections, func(addr net.Addr) (*Connection, error) {
		return newConnection(addr, codec, DefaultConfig(), now, nil)
	})
}

func TestTable_GetOrCreate(t *testing.T) {
	table := newTestTable(0, time.Now())

	first, created, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)
	assert.True(t, created)

	again, created, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)
	assert.False(t, created)
	assert.Same(t, first, again)

	_, created, err = table.GetOrCreate(udpAddr(5001))
	require.NoError(t, err)
	assert.True(t, created)
	assert.Equal(t, 2, table.Len())
}

func TestTable_SnapshotKeepsArrivalOrder(t *testing.T) {
	table := newTestTable(0, time.Now())
	ports := []int{5003, 5001, 5002}
	for _, p := range ports {
		_, _, err := table.GetOrCreate(udpAddr(p))
		require.NoError(t, err)
	}

	snapshot := table.Snapshot()
	require.Len(t, snapshot, 3)
	for i, p := range ports {
		assert.Equal(t, udpAddr(p).String(), snapshot[i].Addr().String())
	}
}

func TestTable_MaxConnections(t *testing.T) {
	table := newTestTable(1, time.Now())

	_, _, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)

	_, _, err = table.GetOrCreate(udpAddr(5001))
	assert.ErrorIs(t, err, domain.ErrTableFull)

	_, created, err := table.GetOrCreate(udpAddr(5000))
	assert.NoError(t, err, "existing address must still resolve when full")
	assert.False(t, created)
}

func TestTable_RegisterBeforeFirstPacket(t *testing.T) {
	table := newTestTable(0, time.Now())
	table.Register(udpAddr(5000), "alice")

	conn, _, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)
	assert.Equal(t, domain.ClientID("alice"), conn.ClientID())
}

func TestTable_RegisterMovesClient(t *testing.T) {
	table := newTestTable(0, time.Now())
	oldConn, _, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)

	table.Register(udpAddr(5000), "alice")
	assert.Equal(t, domain.ClientID("alice"), oldConn.ClientID())

	table.Register(udpAddr(6000), "alice")
	assert.Empty(t, oldConn.ClientID())

	removed := table.Deregister("alice")
	assert.Nil(t, removed, "new address never sent anything")
	assert.Equal(t, 1, table.Len())
}

func TestTable_Deregister(t *testing.T) {
	table := newTestTable(0, time.Now())
	table.Register(udpAddr(5000), "alice")
	conn, _, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)

	assert.Same(t, conn, table.Deregister("alice"))
	assert.Zero(t, table.Len())
	assert.Nil(t, table.Deregister("alice"))
}

func TestTable_EvictIdle(t *testing.T) {
	start := time.Now()
	table := newTestTable(0, start)

	stale, _, err := table.GetOrCreate(udpAddr(5000))
	require.NoError(t, err)
	fresh, _, err := table.GetOrCreate(udpAddr(5001))
	require.NoError(t, err)
	fresh.Receive(decodeOrFail(t, datagram(0, nil)), start.Add(8*time.Second))

	evicted := table.EvictIdle(start.Add(12*time.Second), 10*time.Second)
	require.Len(t, evicted, 1)
	assert.Same(t, stale, evicted[0])
	assert.Equal(t, 1, table.Len())

	assert.Nil(t, table.EvictIdle(start.Add(time.Hour), 0), "zero timeout disables eviction")
}
