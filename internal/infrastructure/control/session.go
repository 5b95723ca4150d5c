package control

import (
	"context"
	"net"
	"sync"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
)

// Session is one TCP control connection.
type Session struct {
	conn         net.Conn
	writeTimeout time.Duration

	writeMu sync.Mutex

	mu       sync.RWMutex
	clientID domain.ClientID
}

var _ ports.ClientSession = (*Session)(nil)

func newSession(conn net.Conn, writeTimeout time.Duration) *Session {
	return &Session{conn: conn, writeTimeout: writeTimeout}
}

func (s *Session) RemoteAddr() net.Addr {
	return s.conn.RemoteAddr()
}

func (s *Session) ClientID() domain.ClientID {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.clientID
}

func (s *Session) setClientID(id domain.ClientID) {
	s.mu.Lock()
	s.clientID = id
	s.mu.Unlock()
}

// Send writes a server-initiated command. payload must marshal to a JSON
// object (or be nil); its fields are sent alongside the command tag.
func (s *Session) Send(ctx context.Context, command string, payload interface{}) error {
	body, err := tagged(command, payload)
	if err != nil {
		return err
	}
	return s.write(ctx, body)
}

func (s *Session) reply(ctx context.Context, r Reply) error {
	return s.Send(ctx, r.Command, r)
}

func (s *Session) write(ctx context.Context, body []byte) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()

	deadline := time.Time{}
	if s.writeTimeout > 0 {
		deadline = time.Now().Add(s.writeTimeout)
	}
	if d, ok := ctx.Deadline(); ok && (deadline.IsZero() || d.Before(deadline)) {
		deadline = d
	}
	if err := s.conn.SetWriteDeadline(deadline); err != nil {
		return err
	}
	return writeRaw(s.conn, body)
}

func (s *Session) Close() error {
	return s.conn.Close()
}
