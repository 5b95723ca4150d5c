package ports

import (
	"context"
	"net"
	"time"

	"rehearsal/internal/core/domain"
)

// Codec creates per-connection encoder and decoder instances. Every
// connection gets its own pair because codec state carries across frames.
type Codec interface {
	Name() string
	NewEncoder() (Encoder, error)
	NewDecoder() (Decoder, error)
}

// Encoder turns one frame of 16-bit mono PCM into a payload.
type Encoder interface {
	Encode(pcm []int16) ([]byte, error)
}

// Decoder turns payloads back into 16-bit mono PCM.
type Decoder interface {
	Decode(payload []byte) ([]int16, error)
	// DecodeMissing synthesises d worth of audio for a frame that never
	// arrived.
	DecodeMissing(d time.Duration) ([]int16, error)
}

// BackingTrackSource streams a backing track one chunk at a time.
type BackingTrackSource interface {
	Channels() int
	SampleRate() int
	// Next fills dst with interleaved samples in [-1, 1] and returns how
	// many were written. It returns io.EOF once the track is exhausted.
	Next(dst []float32) (int, error)
	Close() error
}

// BackingTrackOpener opens tracks for playback.
type BackingTrackOpener interface {
	Open(ctx context.Context, track *domain.Track) (BackingTrackSource, error)
	// Probe reads the format of an audio file without decoding it.
	Probe(path string) (domain.AudioFileInfo, error)
}

// PacketSender transmits a datagram to a remote address. Fire and forget.
type PacketSender interface {
	Send(datagram []byte, addr net.Addr) error
}
