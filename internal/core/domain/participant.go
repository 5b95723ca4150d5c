package domain

import "time"

type ClientID string

// AudioID identifies a downloadable track or take ("track:3", "take:12").
type AudioID string

type Participant struct {
	ClientID   ClientID  `json:"client_id"`
	Username   string    `json:"username"`
	TCPAddr    string    `json:"tcp_addr,omitempty"`
	UDPAddr    string    `json:"udp_addr,omitempty"`
	JoinedAt   time.Time `json:"joined_at"`
	LastSeen   time.Time `json:"last_seen"`
	Downloaded []AudioID `json:"downloaded,omitempty"`
}

// HasUDP reports whether the participant's audio address is known.
func (p *Participant) HasUDP() bool {
	return p.UDPAddr != ""
}

// ParticipantEventType describes a change in the participant list.
type ParticipantEventType string

const (
	ParticipantJoined  ParticipantEventType = "joined"
	ParticipantUpdated ParticipantEventType = "updated"
	ParticipantLeft    ParticipantEventType = "left"
)

type ParticipantEvent struct {
	Type        ParticipantEventType `json:"type"`
	Participant Participant          `json:"participant"`
	Timestamp   time.Time            `json:"timestamp"`
}
