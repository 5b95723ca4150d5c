package services

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"

	"github.com/gammazero/workerpool"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

// AudioRegistrar is the part of the mixing engine that tracks which audio
// address belongs to which client.
type AudioRegistrar interface {
	Register(addr net.Addr, clientID domain.ClientID)
	Deregister(clientID domain.ClientID)
}

// ParticipantService is the rendezvous between the control plane and the
// audio engine. Listeners run in order on a single worker so a slow
// subscriber never holds up a control-plane handler.
type ParticipantService struct {
	repo   ports.ParticipantRepository
	engine AudioRegistrar
	logger *zap.SugaredLogger
	now    func() time.Time

	mu       sync.RWMutex
	sessions map[domain.ClientID]ports.ClientSession

	listenersMu sync.RWMutex
	listeners   []func(domain.ParticipantEvent)
	notify      *workerpool.WorkerPool
}

func NewParticipantService(repo ports.ParticipantRepository, engine AudioRegistrar, logger *zap.SugaredLogger) *ParticipantService {
	return &ParticipantService{
		repo:     repo,
		engine:   engine,
		logger:   logger,
		now:      time.Now,
		sessions: make(map[domain.ClientID]ports.ClientSession),
		notify:   workerpool.New(1),
	}
}

// JoinTCP records an announced participant. A client id already held by a
// live session is refused.
func (s *ParticipantService) JoinTCP(ctx context.Context, clientID domain.ClientID, username string, session ports.ClientSession) (*domain.Participant, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, taken := s.sessions[clientID]; taken {
		return nil, fmt.Errorf("%w: %s", domain.ErrParticipantExists, clientID)
	}

	now := s.now()
	p := &domain.Participant{
		ClientID: clientID,
		Username: username,
		JoinedAt: now,
		LastSeen: now,
	}
	if addr := session.RemoteAddr(); addr != nil {
		p.TCPAddr = addr.String()
	}

	if err := s.repo.Add(ctx, p); err != nil {
		if !errors.Is(err, domain.ErrParticipantExists) {
			return nil, fmt.Errorf("failed to add participant: %w", err)
		}
		// Left over from a session that died without Leave; take it over.
		if err := s.repo.Update(ctx, p); err != nil {
			return nil, fmt.Errorf("failed to replace participant: %w", err)
		}
	}
	s.sessions[clientID] = session

	s.logger.Infow("participant joined",
		"client_id", clientID,
		"username", username,
		"tcp_addr", p.TCPAddr,
	)
	s.publish(domain.ParticipantJoined, p)
	return p, nil
}

// JoinUDP binds the participant's audio address in the engine.
func (s *ParticipantService) JoinUDP(ctx context.Context, clientID domain.ClientID, addr net.Addr) error {
	p, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return err
	}

	p.UDPAddr = addr.String()
	p.LastSeen = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}
	s.engine.Register(addr, clientID)

	s.logger.Infow("participant audio bound", "client_id", clientID, "udp_addr", p.UDPAddr)
	s.publish(domain.ParticipantUpdated, p)
	return nil
}

func (s *ParticipantService) Leave(ctx context.Context, clientID domain.ClientID) error {
	s.mu.Lock()
	delete(s.sessions, clientID)
	s.mu.Unlock()

	s.engine.Deregister(clientID)

	p, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return err
	}
	if err := s.repo.Remove(ctx, clientID); err != nil {
		return fmt.Errorf("failed to remove participant: %w", err)
	}

	s.logger.Infow("participant left",
		"client_id", clientID,
		"connected_for", s.now().Sub(p.JoinedAt).Round(time.Second).String(),
	)
	s.publish(domain.ParticipantLeft, p)
	return nil
}

func (s *ParticipantService) MarkDownloaded(ctx context.Context, clientID domain.ClientID, audioID domain.AudioID) error {
	p, err := s.repo.GetByID(ctx, clientID)
	if err != nil {
		return err
	}
	if lo.Contains(p.Downloaded, audioID) {
		return nil
	}

	p.Downloaded = append(p.Downloaded, audioID)
	p.LastSeen = s.now()
	if err := s.repo.Update(ctx, p); err != nil {
		return fmt.Errorf("failed to update participant: %w", err)
	}

	s.logger.Debugw("participant downloaded audio", "client_id", clientID, "audio_id", audioID)
	s.publish(domain.ParticipantUpdated, p)
	return nil
}

func (s *ParticipantService) Get(ctx context.Context, clientID domain.ClientID) (*domain.Participant, error) {
	return s.repo.GetByID(ctx, clientID)
}

func (s *ParticipantService) List(ctx context.Context) ([]*domain.Participant, error) {
	return s.repo.List(ctx)
}

// Sessions returns a copy of the live control sessions by client id.
func (s *ParticipantService) Sessions() map[domain.ClientID]ports.ClientSession {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return lo.Assign(s.sessions)
}

func (s *ParticipantService) Count() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.sessions)
}

// Broadcast sends a server-initiated command to every live session and
// returns the joined send errors.
func (s *ParticipantService) Broadcast(ctx context.Context, command string, payload interface{}) error {
	return broadcast(ctx, s.Sessions(), command, payload, s.logger)
}

func broadcast(ctx context.Context, sessions map[domain.ClientID]ports.ClientSession, command string, payload interface{}, logger *zap.SugaredLogger) error {
	var errs []error
	for id, sess := range sessions {
		if err := sess.Send(ctx, command, payload); err != nil {
			logger.Warnw("failed to send command",
				"client_id", id,
				"command", command,
				"error", err,
			)
			errs = append(errs, fmt.Errorf("%s: %w", id, err))
		}
	}
	return errors.Join(errs...)
}

// AddListener registers fn for every participant change.
func (s *ParticipantService) AddListener(fn func(domain.ParticipantEvent)) {
	s.listenersMu.Lock()
	s.listeners = append(s.listeners, fn)
	s.listenersMu.Unlock()
}

func (s *ParticipantService) publish(typ domain.ParticipantEventType, p *domain.Participant) {
	ev := domain.ParticipantEvent{
		Type:        typ,
		Participant: *p,
		Timestamp:   s.now(),
	}

	s.listenersMu.RLock()
	listeners := append(([]func(domain.ParticipantEvent))(nil), s.listeners...)
	s.listenersMu.RUnlock()

	if len(listeners) == 0 {
		return
	}
	s.notify.Submit(func() {
		for _, fn := range listeners {
			fn(ev)
		}
	})
}

// Close waits for queued listener calls to finish.
func (s *ParticipantService) Close() {
	s.notify.StopWait()
}

var _ ports.ParticipantService = (*ParticipantService)(nil)
