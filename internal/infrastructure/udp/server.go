// Package udp owns the audio socket: it feeds inbound datagrams to the
// mixer and sends each connection its mix.
package udp

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"rehearsal/internal/audio/framer"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"

	"github.com/frostbyte73/core"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

// MaxDatagramSize is the largest UDP payload, so reads never truncate.
const MaxDatagramSize = 65535

var ErrNotListening = errors.New("udp server is not listening")

// DatagramHandler consumes one inbound datagram. The buffer is reused after
// the call returns.
type DatagramHandler interface {
	HandleDatagram(addr net.Addr, datagram []byte) error
}

type Config struct {
	Address          string
	MaxDatagramBytes int
	ReadBufferBytes  int
	WriteBufferBytes int
}

type Stats struct {
	Received   uint64 `json:"received"`
	Malformed  uint64 `json:"malformed"`
	Rejected   uint64 `json:"rejected"`
	Sent       uint64 `json:"sent"`
	SendErrors uint64 `json:"send_errors"`
	BytesIn    uint64 `json:"bytes_in"`
	BytesOut   uint64 `json:"bytes_out"`
}

type Server struct {
	cfg    Config
	logger *zap.SugaredLogger

	mu   sync.RWMutex
	conn *net.UDPConn

	closed      core.Fuse
	warnLimiter *rate.Limiter

	received   atomic.Uint64
	malformed  atomic.Uint64
	rejected   atomic.Uint64
	sent       atomic.Uint64
	sendErrors atomic.Uint64
	bytesIn    atomic.Uint64
	bytesOut   atomic.Uint64
}

var _ ports.PacketSender = (*Server)(nil)

func NewServer(cfg Config, logger *zap.SugaredLogger) *Server {
	if cfg.MaxDatagramBytes <= 0 || cfg.MaxDatagramBytes > MaxDatagramSize {
		cfg.MaxDatagramBytes = MaxDatagramSize
	}
	return &Server{
		cfg:         cfg,
		logger:      logger,
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 10),
		closed:      core.NewFuse(),
	}
}

// Listen binds the socket. Send works from this point on.
func (s *Server) Listen() error {
	addr, err := net.ResolveUDPAddr("udp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to resolve udp address %s: %w", s.cfg.Address, err)
	}
	conn, err := net.ListenUDP("udp", addr)
	if err != nil {
		return fmt.Errorf("failed to listen on udp %s: %w", s.cfg.Address, err)
	}
	if s.cfg.ReadBufferBytes > 0 {
		if err := conn.SetReadBuffer(s.cfg.ReadBufferBytes); err != nil {
			s.logger.Warnw("failed to set udp read buffer", "error", err)
		}
	}
	if s.cfg.WriteBufferBytes > 0 {
		if err := conn.SetWriteBuffer(s.cfg.WriteBufferBytes); err != nil {
			s.logger.Warnw("failed to set udp write buffer", "error", err)
		}
	}

	s.mu.Lock()
	s.conn = conn
	s.mu.Unlock()

	s.logger.Infow("udp audio socket listening", "address", conn.LocalAddr().String())
	return nil
}

func (s *Server) LocalAddr() net.Addr {
	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	return s.conn.LocalAddr()
}

// Serve reads datagrams until ctx is done or Close is called. Bad datagrams
// are dropped and logged at a limited rate.
func (s *Server) Serve(ctx context.Context, handler DatagramHandler) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotListening
	}

	go func() {
		select {
		case <-ctx.Done():
		case <-s.closed.Watch():
		}
		conn.Close()
	}()

	buf := make([]byte, s.cfg.MaxDatagramBytes)
	for {
		n, addr, err := conn.ReadFromUDP(buf)
		if err != nil {
			if s.closed.IsBroken() || ctx.Err() != nil || errors.Is(err, net.ErrClosed) {
				return nil
			}
			if s.warnLimiter.Allow() {
				s.logger.Warnw("udp read failed", "error", err)
			}
			continue
		}

		s.received.Inc()
		s.bytesIn.Add(uint64(n))

		if err := handler.HandleDatagram(addr, buf[:n]); err != nil {
			switch {
			case errors.Is(err, framer.ErrMalformedPacket):
				s.malformed.Inc()
			case errors.Is(err, domain.ErrTableFull):
				s.rejected.Inc()
			}
			if s.warnLimiter.Allow() {
				s.logger.Warnw("dropped datagram",
					"addr", addr.String(),
					"bytes", n,
					"error", err,
				)
			}
		}
	}
}

// Send writes one datagram. Delivery is not confirmed.
func (s *Server) Send(datagram []byte, addr net.Addr) error {
	s.mu.RLock()
	conn := s.conn
	s.mu.RUnlock()
	if conn == nil {
		return ErrNotListening
	}

	if _, err := conn.WriteTo(datagram, addr); err != nil {
		s.sendErrors.Inc()
		return err
	}
	s.sent.Inc()
	s.bytesOut.Add(uint64(len(datagram)))
	return nil
}

func (s *Server) Close() error {
	s.closed.Break()

	s.mu.RLock()
	defer s.mu.RUnlock()
	if s.conn == nil {
		return nil
	}
	if err := s.conn.Close(); err != nil && !errors.Is(err, net.ErrClosed) {
		return err
	}
	return nil
}

func (s *Server) Stats() Stats {
	return Stats{
		Received:   s.received.Load(),
		Malformed:  s.malformed.Load(),
		Rejected:   s.rejected.Load(),
		Sent:       s.sent.Load(),
		SendErrors: s.sendErrors.Load(),
		BytesIn:    s.bytesIn.Load(),
		BytesOut:   s.bytesOut.Load(),
	}
}
