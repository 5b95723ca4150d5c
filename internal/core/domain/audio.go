package domain

import "time"

// Fixed operating parameters at the core/codec boundary.
const (
	SampleRate      = 48000
	Channels        = 1
	FrameDuration   = 20 * time.Millisecond
	SamplesPerFrame = SampleRate / 1000 * int(FrameDuration/time.Millisecond)

	// SimultaneousVoices is the number of people who may sing at once
	// without the mix clipping.
	SimultaneousVoices = 2
)

// AudioFileInfo describes a WAV file on disk.
type AudioFileInfo struct {
	SampleRate int   `json:"sample_rate"`
	Channels   int   `json:"channels"`
	BitDepth   int   `json:"bit_depth"`
	SizeBytes  int64 `json:"size_bytes"`
}
