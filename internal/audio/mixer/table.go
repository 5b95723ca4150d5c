package mixer

import (
	"net"
	"sync"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/elliotchance/orderedmap/v2"
)

// Table maps remote addresses to connections. Its lock only covers the map;
// per-connection state has its own locks so a new peer never waits on a
// tick in progress.
type Table struct {
	mu             sync.RWMutex
	conns          *orderedmap.OrderedMap[string, *Connection]
	byClient       map[domain.ClientID]string
	pending        map[string]domain.ClientID
	maxConnections int
	create         func(addr net.Addr) (*Connection, error)
}

func NewTable(maxConnections int, create func(addr net.Addr) (*Connection, error)) *Table {
	return &Table{
		conns:          orderedmap.NewOrderedMap[string, *Connection](),
		byClient:       make(map[domain.ClientID]string),
		pending:        make(map[string]domain.ClientID),
		maxConnections: maxConnections,
		create:         create,
	}
}

func (t *Table) Lookup(addr net.Addr) (*Connection, bool) {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns.Get(addr.String())
}

// GetOrCreate returns the connection for addr, creating it on first sight.
func (t *Table) GetOrCreate(addr net.Addr) (conn *Connection, created bool, err error) {
	key := addr.String()

	t.mu.RLock()
	conn, exists := t.conns.Get(key)
	t.mu.RUnlock()
	if exists {
		return conn, false, nil
	}

	t.mu.Lock()
	defer t.mu.Unlock()

	// Double-check after acquiring write lock
	if conn, exists := t.conns.Get(key); exists {
		return conn, false, nil
	}
	if t.maxConnections > 0 && t.conns.Len() >= t.maxConnections {
		return nil, false, domain.ErrTableFull
	}

	conn, err = t.create(addr)
	if err != nil {
		return nil, false, err
	}
	if clientID, ok := t.pending[key]; ok {
		conn.setClientID(clientID)
	}
	t.conns.Set(key, conn)
	return conn, true, nil
}

// Register associates a client id with an audio address. The address does
// not need to have sent anything yet.
func (t *Table) Register(addr net.Addr, clientID domain.ClientID) {
	key := addr.String()

	t.mu.Lock()
	defer t.mu.Unlock()

	if old, ok := t.byClient[clientID]; ok && old != key {
		delete(t.pending, old)
		if conn, exists := t.conns.Get(old); exists {
			conn.setClientID("")
		}
	}
	t.byClient[clientID] = key
	t.pending[key] = clientID
	if conn, exists := t.conns.Get(key); exists {
		conn.setClientID(clientID)
	}
}

// Deregister forgets a client id and removes its connection, if any.
func (t *Table) Deregister(clientID domain.ClientID) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()

	key, ok := t.byClient[clientID]
	if !ok {
		return nil
	}
	delete(t.byClient, clientID)
	delete(t.pending, key)

	conn, exists := t.conns.Get(key)
	if !exists {
		return nil
	}
	t.conns.Delete(key)
	return conn
}

// Remove drops the connection for addr.
func (t *Table) Remove(addr net.Addr) *Connection {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.removeLocked(addr.String())
}

func (t *Table) removeLocked(key string) *Connection {
	conn, exists := t.conns.Get(key)
	if !exists {
		return nil
	}
	t.conns.Delete(key)
	delete(t.pending, key)
	for id, k := range t.byClient {
		if k == key {
			delete(t.byClient, id)
		}
	}
	return conn
}

// EvictIdle removes connections that have not received anything since
// now-timeout and returns them.
func (t *Table) EvictIdle(now time.Time, timeout time.Duration) []*Connection {
	if timeout <= 0 {
		return nil
	}
	cutoff := now.Add(-timeout)

	t.mu.Lock()
	defer t.mu.Unlock()

	var idle []string
	for el := t.conns.Front(); el != nil; el = el.Next() {
		if el.Value.LastSeen().Before(cutoff) {
			idle = append(idle, el.Key)
		}
	}

	evicted := make([]*Connection, 0, len(idle))
	for _, key := range idle {
		evicted = append(evicted, t.removeLocked(key))
	}
	return evicted
}

// Snapshot returns the connections in arrival order.
func (t *Table) Snapshot() []*Connection {
	return t.appendSnapshot(nil)
}

func (t *Table) appendSnapshot(dst []*Connection) []*Connection {
	t.mu.RLock()
	defer t.mu.RUnlock()

	for el := t.conns.Front(); el != nil; el = el.Next() {
		dst = append(dst, el.Value)
	}
	return dst
}

func (t *Table) Len() int {
	t.mu.RLock()
	defer t.mu.RUnlock()
	return t.conns.Len()
}
