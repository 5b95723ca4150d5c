// Package backingtrack streams backing tracks from WAV files into the mixer.
package backingtrack

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/pkg/optimize"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"go.uber.org/zap"
)

const (
	wavFormatPCM        = 1
	wavFormatExtensible = 0xFFFE
)

// Info describes a WAV file without decoding its samples.
type Info = domain.AudioFileInfo

// Probe reads the header of the WAV file at path.
func Probe(path string) (Info, error) {
	f, err := os.Open(path)
	if err != nil {
		return Info{}, fmt.Errorf("failed to open %s: %w", path, err)
	}
	defer f.Close()

	dec, err := validDecoder(f, path)
	if err != nil {
		return Info{}, err
	}
	st, err := f.Stat()
	if err != nil {
		return Info{}, fmt.Errorf("failed to stat %s: %w", path, err)
	}
	format := dec.Format()
	return Info{
		SampleRate: format.SampleRate,
		Channels:   format.NumChannels,
		BitDepth:   int(dec.BitDepth),
		SizeBytes:  st.Size(),
	}, nil
}

func validDecoder(r io.ReadSeeker, path string) (*wav.Decoder, error) {
	dec := wav.NewDecoder(r)
	if !dec.IsValidFile() {
		return nil, fmt.Errorf("%w: %s is not a valid wav file", domain.ErrUnsupportedFormat, path)
	}
	if dec.WavAudioFormat != wavFormatPCM && dec.WavAudioFormat != wavFormatExtensible {
		return nil, fmt.Errorf("%w: %s is not integer PCM (format %d)", domain.ErrUnsupportedFormat, path, dec.WavAudioFormat)
	}
	switch dec.BitDepth {
	case 8, 16, 24, 32:
	default:
		return nil, fmt.Errorf("%w: %s has unsupported bit depth %d", domain.ErrUnsupportedFormat, path, dec.BitDepth)
	}
	return dec, nil
}

// sampleBuffers recycles decode buffers between plays; one stereo frame at
// 48 kHz fits without growing.
var sampleBuffers = optimize.NewSlicePool[int](2 * domain.SamplesPerFrame)

// Source decodes a WAV file a chunk at a time.
type Source struct {
	file     *os.File
	decoder  *wav.Decoder
	format   *audio.Format
	buf      *audio.IntBuffer
	bitDepth int
	scale    float32
}

var _ ports.BackingTrackSource = (*Source)(nil)

func OpenFile(path string) (*Source, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s: %w", path, err)
	}

	dec, err := validDecoder(f, path)
	if err != nil {
		f.Close()
		return nil, err
	}

	format := dec.Format()
	bitDepth := int(dec.BitDepth)
	return &Source{
		file:     f,
		decoder:  dec,
		format:   format,
		buf:      &audio.IntBuffer{Format: format, SourceBitDepth: bitDepth, Data: sampleBuffers.Get()},
		bitDepth: bitDepth,
		scale:    1 / float32(int64(1)<<(bitDepth-1)),
	}, nil
}

func (s *Source) Channels() int {
	return s.format.NumChannels
}

func (s *Source) SampleRate() int {
	return s.format.SampleRate
}

// Next decodes up to len(dst) interleaved samples into dst as floats in
// [-1, 1].
func (s *Source) Next(dst []float32) (int, error) {
	if cap(s.buf.Data) < len(dst) {
		s.buf.Data = make([]int, len(dst))
	}
	s.buf.Data = s.buf.Data[:len(dst)]

	n, err := s.decoder.PCMBuffer(s.buf)
	if err != nil && !errors.Is(err, io.EOF) {
		return 0, fmt.Errorf("failed to decode wav: %w", err)
	}
	if n == 0 {
		return 0, io.EOF
	}

	for i, v := range s.buf.Data[:n] {
		// 8-bit WAV is unsigned.
		if s.bitDepth == 8 {
			v -= 128
		}
		dst[i] = max(-1, min(1, float32(v)*s.scale))
	}
	return n, nil
}

func (s *Source) Close() error {
	if s.buf.Data != nil {
		sampleBuffers.Put(s.buf.Data)
		s.buf.Data = nil
	}
	return s.file.Close()
}

// Opener opens registered tracks from disk.
type Opener struct {
	logger *zap.SugaredLogger
}

var _ ports.BackingTrackOpener = (*Opener)(nil)

func NewOpener(logger *zap.SugaredLogger) *Opener {
	return &Opener{logger: logger}
}

func (o *Opener) Open(ctx context.Context, track *domain.Track) (ports.BackingTrackSource, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}

	src, err := OpenFile(track.Path)
	if err != nil {
		return nil, err
	}
	if src.SampleRate() != domain.SampleRate {
		src.Close()
		return nil, fmt.Errorf("%w: track %d is %d Hz, want %d Hz",
			domain.ErrUnsupportedFormat, track.ID, src.SampleRate(), domain.SampleRate)
	}

	o.logger.Debugw("backing track opened",
		"track_id", track.ID,
		"path", track.Path,
		"channels", src.Channels(),
		"bit_depth", src.bitDepth,
	)
	return src, nil
}

func (o *Opener) Probe(path string) (domain.AudioFileInfo, error) {
	return Probe(path)
}
