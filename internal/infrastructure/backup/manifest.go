// Package backup snapshots the session manifest, the tracks and takes
// registered so far, and replays it into an empty repository on startup.
package backup

import (
	"context"
	"fmt"
	"slices"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
)

// Manifest is what a backup holds.
type Manifest struct {
	Tracks []*domain.Track `json:"tracks"`
	Takes  []*domain.Take  `json:"takes"`
}

func (m *Manifest) size() int {
	return len(m.Tracks) + len(m.Takes)
}

// collect reads the manifest from repo, tracks and takes in id order.
func collect(ctx context.Context, repo ports.TrackRepository) (*Manifest, error) {
	tracks, err := repo.ListTracks(ctx)
	if err != nil {
		return nil, fmt.Errorf("failed to list tracks: %w", err)
	}

	m := &Manifest{Tracks: tracks}
	for _, track := range tracks {
		takes, err := repo.ListTakes(ctx, track.ID)
		if err != nil {
			return nil, fmt.Errorf("failed to list takes of track %d: %w", track.ID, err)
		}
		m.Takes = append(m.Takes, takes...)
	}

	m.sort()
	return m, nil
}

func (m *Manifest) sort() {
	slices.SortFunc(m.Tracks, func(a, b *domain.Track) int { return int(a.ID - b.ID) })
	slices.SortFunc(m.Takes, func(a, b *domain.Take) int { return int(a.ID - b.ID) })
}
