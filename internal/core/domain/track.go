package domain

import (
	"fmt"
	"time"
)

type TrackID int
type TakeID int

// Track is a backing track that can be played to everyone.
type Track struct {
	ID         TrackID   `json:"id"`
	Name       string    `json:"name"`
	Path       string    `json:"path"`
	SampleRate int       `json:"sample_rate"`
	Channels   int       `json:"channels"`
	SizeBytes  int64     `json:"size_bytes"`
	CreatedAt  time.Time `json:"created_at"`
}

// Take is a recording made by a participant over a track.
type Take struct {
	ID        TakeID    `json:"id"`
	TrackID   TrackID   `json:"track_id"`
	ClientID  ClientID  `json:"client_id"`
	Name      string    `json:"name"`
	Path      string    `json:"path"`
	CreatedAt time.Time `json:"created_at"`
}

func (id TrackID) AudioID() AudioID {
	return AudioID(fmt.Sprintf("track:%d", id))
}

func (id TakeID) AudioID() AudioID {
	return AudioID(fmt.Sprintf("take:%d", id))
}

// PlaybackState is what the whole room is currently hearing.
type PlaybackState struct {
	Playing   bool      `json:"playing"`
	TrackID   TrackID   `json:"track_id,omitempty"`
	TakeIDs   []TakeID  `json:"take_ids,omitempty"`
	StartedAt time.Time `json:"started_at,omitempty"`
}
