package ports

import (
	"context"

	"rehearsal/internal/core/domain"
)

type ParticipantRepository interface {
	Add(ctx context.Context, p *domain.Participant) error
	GetByID(ctx context.Context, id domain.ClientID) (*domain.Participant, error)
	Update(ctx context.Context, p *domain.Participant) error
	Remove(ctx context.Context, id domain.ClientID) error
	List(ctx context.Context) ([]*domain.Participant, error)
}

type TrackRepository interface {
	CreateTrack(ctx context.Context, track *domain.Track) (domain.TrackID, error)
	GetTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error)
	ListTracks(ctx context.Context) ([]*domain.Track, error)
	CreateTake(ctx context.Context, take *domain.Take) (domain.TakeID, error)
	GetTake(ctx context.Context, id domain.TakeID) (*domain.Take, error)
	ListTakes(ctx context.Context, trackID domain.TrackID) ([]*domain.Take, error)
}
