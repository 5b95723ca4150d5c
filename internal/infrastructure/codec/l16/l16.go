// Package l16 is a linear PCM codec: samples travel as big-endian signed
// 16-bit integers. Loss concealment repeats the last good frame, halving it
// for every consecutive loss.
package l16

import (
	"encoding/binary"
	"errors"
	"fmt"
	"time"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
)

const (
	Name = "l16"

	// maxFrameDuration is the longest frame accepted, the same ceiling Opus
	// uses.
	maxFrameDuration = 120 * time.Millisecond

	// concealmentFrames is how many consecutive losses are bridged before
	// falling back to silence.
	concealmentFrames = 4
)

var ErrInvalidPayload = errors.New("invalid l16 payload")

type Codec struct {
	sampleRate int
}

var _ ports.Codec = (*Codec)(nil)

func New(sampleRate int) *Codec {
	if sampleRate <= 0 {
		sampleRate = domain.SampleRate
	}
	return &Codec{sampleRate: sampleRate}
}

func (c *Codec) Name() string {
	return Name
}

func (c *Codec) NewEncoder() (ports.Encoder, error) {
	return &Encoder{}, nil
}

func (c *Codec) NewDecoder() (ports.Decoder, error) {
	return &Decoder{
		sampleRate: c.sampleRate,
		maxSamples: samplesFor(c.sampleRate, maxFrameDuration),
	}, nil
}

type Encoder struct{}

func (e *Encoder) Encode(pcm []int16) ([]byte, error) {
	out := make([]byte, 2*len(pcm))
	for i, s := range pcm {
		binary.BigEndian.PutUint16(out[2*i:], uint16(s))
	}
	return out, nil
}

type Decoder struct {
	sampleRate int
	maxSamples int

	last   []int16
	losses int
}

func (d *Decoder) Decode(payload []byte) ([]int16, error) {
	if len(payload)%2 != 0 {
		return nil, fmt.Errorf("%w: odd length %d", ErrInvalidPayload, len(payload))
	}
	n := len(payload) / 2
	if n > d.maxSamples {
		return nil, fmt.Errorf("%w: %d samples exceeds %d", ErrInvalidPayload, n, d.maxSamples)
	}

	pcm := make([]int16, n)
	for i := range pcm {
		pcm[i] = int16(binary.BigEndian.Uint16(payload[2*i:]))
	}

	d.last = append(d.last[:0], pcm...)
	d.losses = 0
	return pcm, nil
}

func (d *Decoder) DecodeMissing(duration time.Duration) ([]int16, error) {
	n := samplesFor(d.sampleRate, duration)
	if n <= 0 || n > d.maxSamples {
		return nil, fmt.Errorf("%w: cannot conceal %s", ErrInvalidPayload, duration)
	}

	pcm := make([]int16, n)
	d.losses++
	if d.losses > concealmentFrames || len(d.last) == 0 {
		return pcm, nil
	}

	shift := uint(d.losses)
	for i := range pcm {
		pcm[i] = d.last[i%len(d.last)] >> shift
	}
	return pcm, nil
}

func samplesFor(sampleRate int, d time.Duration) int {
	return int(int64(sampleRate) * int64(d) / int64(time.Second))
}
