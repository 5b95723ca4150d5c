package memory

import (
	"context"
	"sort"
	"sync"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
)

type MemoryParticipantRepository struct {
	participants map[domain.ClientID]*domain.Participant
	mu           sync.RWMutex
}

func NewMemoryParticipantRepository() ports.ParticipantRepository {
	return &MemoryParticipantRepository{
		participants: make(map[domain.ClientID]*domain.Participant),
	}
}

func (r *MemoryParticipantRepository) Add(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ClientID]; exists {
		return domain.ErrParticipantExists
	}
	r.participants[p.ClientID] = cloneParticipant(p)
	return nil
}

func (r *MemoryParticipantRepository) GetByID(ctx context.Context, id domain.ClientID) (*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	p, exists := r.participants[id]
	if !exists {
		return nil, domain.ErrParticipantNotFound
	}
	return cloneParticipant(p), nil
}

func (r *MemoryParticipantRepository) Update(ctx context.Context, p *domain.Participant) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[p.ClientID]; !exists {
		return domain.ErrParticipantNotFound
	}
	r.participants[p.ClientID] = cloneParticipant(p)
	return nil
}

func (r *MemoryParticipantRepository) Remove(ctx context.Context, id domain.ClientID) error {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, exists := r.participants[id]; !exists {
		return domain.ErrParticipantNotFound
	}
	delete(r.participants, id)
	return nil
}

// List returns participants in join order.
func (r *MemoryParticipantRepository) List(ctx context.Context) ([]*domain.Participant, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Participant, 0, len(r.participants))
	for _, p := range r.participants {
		out = append(out, cloneParticipant(p))
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].JoinedAt.Equal(out[j].JoinedAt) {
			return out[i].ClientID < out[j].ClientID
		}
		return out[i].JoinedAt.Before(out[j].JoinedAt)
	})
	return out, nil
}

func cloneParticipant(p *domain.Participant) *domain.Participant {
	c := *p
	c.Downloaded = append([]domain.AudioID(nil), p.Downloaded...)
	return &c
}
