// Package control implements the TCP control plane: participants announce
// themselves, report downloads and receive play/stop/record commands.
package control

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/pkg/logger"
	"rehearsal/pkg/optimize"
	"rehearsal/pkg/tracing"
	"rehearsal/pkg/utils"
	"rehearsal/pkg/validation"

	"github.com/frostbyte73/core"
	"go.opentelemetry.io/otel/codes"
	"go.uber.org/atomic"
	"go.uber.org/zap"
)

var (
	ErrUnknownCommand = errors.New("unknown command")
	ErrNotAnnounced   = errors.New("session has not announced")
	ErrAnnounced      = errors.New("session already announced as another client")
)

// Longer display names are cut rather than rejected.
const maxUsernameRunes = 50

type Config struct {
	Address       string
	MaxFrameBytes int
	// ReadTimeout closes sessions that send nothing for this long. Zero
	// keeps idle sessions open.
	ReadTimeout  time.Duration
	WriteTimeout time.Duration
}

type commandHandler func(s *Server, ctx context.Context, sess *Session, body []byte) Reply

// dispatch maps every client command to its handler.
var dispatch = map[string]commandHandler{
	CommandAnnounce:         (*Server).handleAnnounce,
	CommandUpdateDownloaded: (*Server).handleUpdateDownloaded,
	CommandPing:             (*Server).handlePing,
}

type Server struct {
	cfg          Config
	participants ports.ParticipantService
	logger       *zap.SugaredLogger
	ctxLogger    *logger.ContextLogger
	framePool    *optimize.BytePool

	mu       sync.Mutex
	listener net.Listener
	sessions map[*Session]struct{}

	wg     sync.WaitGroup
	closed core.Fuse

	accepted atomic.Uint64
	active   atomic.Int64

	observe func(command, result string)
}

func NewServer(cfg Config, participants ports.ParticipantService, log *zap.SugaredLogger) *Server {
	if cfg.MaxFrameBytes <= 0 || cfg.MaxFrameBytes > MaxFrameSize {
		cfg.MaxFrameBytes = MaxFrameSize
	}
	return &Server{
		cfg:          cfg,
		participants: participants,
		logger:       log,
		ctxLogger:    logger.NewContextLogger(log.Desugar()),
		framePool:    optimize.NewBytePool(cfg.MaxFrameBytes),
		sessions:     make(map[*Session]struct{}),
		closed:       core.NewFuse(),
		observe:      func(string, string) {},
	}
}

// OnCommand registers fn to be told the outcome of every dispatched command.
// Call before Serve.
func (s *Server) OnCommand(fn func(command, result string)) {
	s.observe = fn
}

func (s *Server) Listen() error {
	ln, err := net.Listen("tcp", s.cfg.Address)
	if err != nil {
		return fmt.Errorf("failed to listen on tcp %s: %w", s.cfg.Address, err)
	}
	s.mu.Lock()
	s.listener = ln
	s.mu.Unlock()

	s.logger.Infow("control plane listening", "address", ln.Addr().String())
	return nil
}

func (s *Server) Addr() net.Addr {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.listener == nil {
		return nil
	}
	return s.listener.Addr()
}

// Serve accepts sessions until ctx is done or Close is called.
func (s *Server) Serve(ctx context.Context) error {
	s.mu.Lock()
	ln := s.listener
	s.mu.Unlock()
	if ln == nil {
		return errors.New("control server is not listening")
	}

	go func() {
		select {
		case <-ctx.Done():
			s.Close()
		case <-s.closed.Watch():
		}
	}()

	for {
		conn, err := ln.Accept()
		if err != nil {
			if s.closed.IsBroken() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Warnw("control accept failed", "error", err)
			continue
		}

		s.accepted.Inc()
		s.wg.Add(1)
		go s.handleConn(ctx, conn)
	}
}

func (s *Server) handleConn(ctx context.Context, conn net.Conn) {
	defer s.wg.Done()

	sess := newSession(conn, s.cfg.WriteTimeout)
	if !s.track(sess) {
		conn.Close()
		return
	}
	defer s.untrack(sess)

	s.active.Inc()
	defer s.active.Dec()

	connLog := s.ctxLogger.WithFields(zap.String("remote", conn.RemoteAddr().String())).Sugar()
	connLog.Debug("control session opened")

	buf := s.framePool.Get()
	defer s.framePool.Put(buf)

	for {
		if s.cfg.ReadTimeout > 0 {
			_ = conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		}

		body, err := ReadFrame(conn, buf, s.cfg.MaxFrameBytes)
		if errors.Is(err, ErrEmptyFrame) {
			continue
		}
		if err != nil {
			if errors.Is(err, ErrFrameTooLarge) {
				connLog.Warnw("closing control session", "error", err)
			} else if !errors.Is(err, io.EOF) && !s.closed.IsBroken() {
				connLog.Debugw("control session read ended", "error", err)
			}
			break
		}

		s.handleFrame(ctx, sess, body)
	}

	s.disconnect(sess)
}

func (s *Server) handleFrame(ctx context.Context, sess *Session, body []byte) {
	var env envelope
	if err := json.Unmarshal(body, &env); err != nil {
		s.send(ctx, sess, failure("", fmt.Errorf("invalid command: %w", err)))
		return
	}

	handler, ok := dispatch[env.Command]
	if !ok {
		s.send(ctx, sess, failure(env.Command, fmt.Errorf("%w: %q", ErrUnknownCommand, env.Command)))
		return
	}

	if id := sess.ClientID(); id != "" {
		ctx = logger.WithClientID(ctx, string(id))
	}
	ctx, span := tracing.TraceControlCommand(ctx, env.Command, string(sess.ClientID()))
	defer span.End()

	reply := handler(s, ctx, sess, body)
	s.observe(env.Command, reply.Result)
	if reply.Result == ResultError {
		span.SetStatus(codes.Error, reply.Reason)
		s.ctxLogger.WithContext(ctx).Sugar().Warnw("control command failed",
			"command", env.Command,
			"reason", reply.Reason,
		)
	}
	s.send(ctx, sess, reply)
}

func (s *Server) send(ctx context.Context, sess *Session, reply Reply) {
	if err := sess.reply(ctx, reply); err != nil {
		tracing.RecordError(ctx, err)
		s.ctxLogger.LogError(ctx, err, "failed to send control reply",
			zap.String("remote", sess.RemoteAddr().String()),
			zap.String("command", reply.Command),
		)
	}
}

func (s *Server) handleAnnounce(ctx context.Context, sess *Session, body []byte) Reply {
	var req AnnounceRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return failure(CommandAnnounce, fmt.Errorf("invalid announce: %w", err))
	}
	if err := validation.ValidateClientID(string(req.ClientID)); err != nil {
		return failure(CommandAnnounce, err)
	}
	req.Username = utils.TruncateString(utils.SanitizeString(req.Username), maxUsernameRunes)
	if err := validation.ValidateUsername(req.Username); err != nil {
		return failure(CommandAnnounce, err)
	}
	if req.UDPPort != 0 {
		if err := validation.ValidateUDPPort(req.UDPPort); err != nil {
			return failure(CommandAnnounce, err)
		}
	}
	if prev := sess.ClientID(); prev != "" && prev != req.ClientID {
		return failure(CommandAnnounce, fmt.Errorf("%w: %s", ErrAnnounced, prev))
	}

	if _, err := s.participants.JoinTCP(ctx, req.ClientID, req.Username, sess); err != nil {
		return failure(CommandAnnounce, err)
	}
	sess.setClientID(req.ClientID)

	if req.UDPPort > 0 {
		addr := &net.UDPAddr{IP: remoteIP(sess.RemoteAddr()), Port: req.UDPPort}
		if err := s.participants.JoinUDP(ctx, req.ClientID, addr); err != nil {
			return failure(CommandAnnounce, err)
		}
	}

	s.ctxLogger.WithContext(logger.WithClientID(ctx, string(req.ClientID))).Sugar().Infow("participant announced",
		"username", req.Username,
		"remote", sess.RemoteAddr().String(),
		"udp_port", req.UDPPort,
	)
	return success(CommandAnnounce)
}

func (s *Server) handleUpdateDownloaded(ctx context.Context, sess *Session, body []byte) Reply {
	clientID := sess.ClientID()
	if clientID == "" {
		return failure(CommandUpdateDownloaded, ErrNotAnnounced)
	}

	var req UpdateDownloadedRequest
	if err := json.Unmarshal(body, &req); err != nil {
		return failure(CommandUpdateDownloaded, fmt.Errorf("invalid update_downloaded: %w", err))
	}
	if err := validation.ValidateAudioID(string(req.AudioID)); err != nil {
		return failure(CommandUpdateDownloaded, err)
	}

	if err := s.participants.MarkDownloaded(ctx, clientID, req.AudioID); err != nil {
		return failure(CommandUpdateDownloaded, err)
	}
	return success(CommandUpdateDownloaded)
}

func (s *Server) handlePing(_ context.Context, _ *Session, _ []byte) Reply {
	return success(CommandPong)
}

func (s *Server) disconnect(sess *Session) {
	sess.Close()

	clientID := sess.ClientID()
	if clientID == "" {
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	if err := s.participants.Leave(ctx, clientID); err != nil && !errors.Is(err, domain.ErrParticipantNotFound) {
		s.ctxLogger.WithError(err).Sugar().Warnw("failed to remove participant", "client_id", clientID)
		return
	}
	s.logger.Infow("participant disconnected", "client_id", clientID)
}

func (s *Server) track(sess *Session) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.closed.IsBroken() {
		return false
	}
	s.sessions[sess] = struct{}{}
	return true
}

func (s *Server) untrack(sess *Session) {
	s.mu.Lock()
	delete(s.sessions, sess)
	s.mu.Unlock()
}

// ActiveSessions returns the number of open control connections.
func (s *Server) ActiveSessions() int {
	return int(s.active.Load())
}

// Close stops accepting, closes every session and waits for their
// goroutines to finish.
func (s *Server) Close() error {
	s.closed.Break()

	s.mu.Lock()
	var err error
	if s.listener != nil {
		err = s.listener.Close()
	}
	for sess := range s.sessions {
		sess.Close()
	}
	s.mu.Unlock()

	s.wg.Wait()
	if errors.Is(err, net.ErrClosed) {
		return nil
	}
	return err
}

func remoteIP(addr net.Addr) net.IP {
	switch a := addr.(type) {
	case *net.TCPAddr:
		return a.IP
	case *net.UDPAddr:
		return a.IP
	}
	host, _, err := net.SplitHostPort(addr.String())
	if err != nil {
		return nil
	}
	return net.ParseIP(host)
}
