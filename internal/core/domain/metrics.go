package domain

import "time"

// EngineMetrics is a point-in-time view of the mixing engine.
type EngineMetrics struct {
	Connections     int           `json:"connections"`
	Periods         uint64        `json:"periods"`
	CatchUps        uint64        `json:"catch_ups"`
	FramesDecoded   uint64        `json:"frames_decoded"`
	FramesConcealed uint64        `json:"frames_concealed"`
	PacketsSent     uint64        `json:"packets_sent"`
	JitterResets    uint64        `json:"jitter_resets"`
	Evictions       uint64        `json:"evictions"`
	CodecErrors     uint64        `json:"codec_errors"`
	LastTick        time.Duration `json:"last_tick_ns"`
	MaxTick         time.Duration `json:"max_tick_ns"`
	Timestamp       time.Time     `json:"timestamp"`
}

// RoomStats summarises the rehearsal room for the stats endpoint.
type RoomStats struct {
	Participants int           `json:"participants"`
	Playback     PlaybackState `json:"playback"`
	Engine       EngineMetrics `json:"engine"`
	Uptime       time.Duration `json:"uptime_ns"`
}
