package ports

import (
	"context"
	"net"

	"rehearsal/internal/core/domain"
)

// ClientSession is the control-plane side of a participant: something that
// can receive server-initiated commands.
type ClientSession interface {
	RemoteAddr() net.Addr
	Send(ctx context.Context, command string, payload interface{}) error
}

type ParticipantService interface {
	JoinTCP(ctx context.Context, clientID domain.ClientID, username string, session ClientSession) (*domain.Participant, error)
	JoinUDP(ctx context.Context, clientID domain.ClientID, addr net.Addr) error
	Leave(ctx context.Context, clientID domain.ClientID) error
	MarkDownloaded(ctx context.Context, clientID domain.ClientID, audioID domain.AudioID) error
	List(ctx context.Context) ([]*domain.Participant, error)
	Sessions() map[domain.ClientID]ClientSession
	AddListener(fn func(domain.ParticipantEvent))
}

type PlaybackService interface {
	PlayForEveryone(ctx context.Context, trackID domain.TrackID, takeIDs []domain.TakeID) error
	StopForEveryone(ctx context.Context) error
	RecordForEveryone(ctx context.Context, trackID domain.TrackID) error
	State() domain.PlaybackState
	AddListener(fn func(domain.PlaybackState))
}

type TrackService interface {
	RegisterTrack(ctx context.Context, name, file string) (*domain.Track, error)
	RegisterTake(ctx context.Context, trackID domain.TrackID, clientID domain.ClientID, name, file string) (*domain.Take, error)
	GetTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error)
	ListTracks(ctx context.Context) ([]*domain.Track, error)
	GetTake(ctx context.Context, id domain.TakeID) (*domain.Take, error)
	ListTakes(ctx context.Context, trackID domain.TrackID) ([]*domain.Take, error)
	// OfferDownloads asks a participant to fetch every track and take it
	// has not downloaded yet.
	OfferDownloads(ctx context.Context, clientID domain.ClientID) error
}

// AudioEngine is the view of the mixing engine used by the control plane
// and the HTTP layer.
type AudioEngine interface {
	Register(addr net.Addr, clientID domain.ClientID)
	Deregister(clientID domain.ClientID)
	Play(source BackingTrackSource) error
	StopPlayback() error
	Playing() bool
	OnPlaybackFinished(fn func())
	Metrics() domain.EngineMetrics
}
