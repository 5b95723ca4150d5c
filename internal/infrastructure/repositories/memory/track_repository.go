package memory

import (
	"context"
	"sort"
	"sync"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
)

// MemoryTrackRepository hands out sequential ids starting at 1, matching the
// %03d file naming in the session directory.
type MemoryTrackRepository struct {
	mu        sync.RWMutex
	tracks    map[domain.TrackID]*domain.Track
	takes     map[domain.TakeID]*domain.Take
	nextTrack domain.TrackID
	nextTake  domain.TakeID
}

func NewMemoryTrackRepository() ports.TrackRepository {
	return &MemoryTrackRepository{
		tracks: make(map[domain.TrackID]*domain.Track),
		takes:  make(map[domain.TakeID]*domain.Take),
	}
}

func (r *MemoryTrackRepository) CreateTrack(ctx context.Context, track *domain.Track) (domain.TrackID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	r.nextTrack++
	stored := *track
	stored.ID = r.nextTrack
	r.tracks[stored.ID] = &stored
	return stored.ID, nil
}

func (r *MemoryTrackRepository) GetTrack(ctx context.Context, id domain.TrackID) (*domain.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	track, ok := r.tracks[id]
	if !ok {
		return nil, domain.ErrTrackNotFound
	}
	c := *track
	return &c, nil
}

func (r *MemoryTrackRepository) ListTracks(ctx context.Context) ([]*domain.Track, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	out := make([]*domain.Track, 0, len(r.tracks))
	for _, t := range r.tracks {
		c := *t
		out = append(out, &c)
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}

func (r *MemoryTrackRepository) CreateTake(ctx context.Context, take *domain.Take) (domain.TakeID, error) {
	r.mu.Lock()
	defer r.mu.Unlock()

	if _, ok := r.tracks[take.TrackID]; !ok {
		return 0, domain.ErrTrackNotFound
	}
	r.nextTake++
	stored := *take
	stored.ID = r.nextTake
	r.takes[stored.ID] = &stored
	return stored.ID, nil
}

func (r *MemoryTrackRepository) GetTake(ctx context.Context, id domain.TakeID) (*domain.Take, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	take, ok := r.takes[id]
	if !ok {
		return nil, domain.ErrTakeNotFound
	}
	c := *take
	return &c, nil
}

// ListTakes returns the takes recorded over trackID in id order.
func (r *MemoryTrackRepository) ListTakes(ctx context.Context, trackID domain.TrackID) ([]*domain.Take, error) {
	r.mu.RLock()
	defer r.mu.RUnlock()

	var out []*domain.Take
	for _, t := range r.takes {
		if t.TrackID == trackID {
			c := *t
			out = append(out, &c)
		}
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out, nil
}
