package mixer

import (
	"errors"
	"fmt"
	"io"
	"sync"

	"rehearsal/internal/core/ports"
)

// backingTrack feeds a streaming source into the mix bus one period at a
// time.
type backingTrack struct {
	mu       sync.Mutex
	source   ports.BackingTrackSource
	scratch  []float32
	onFinish func()
}

func (b *backingTrack) play(source ports.BackingTrackSource) error {
	b.mu.Lock()
	defer b.mu.Unlock()

	var err error
	if b.source != nil {
		err = b.source.Close()
	}
	b.source = source
	return err
}

func (b *backingTrack) stop() error {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source == nil {
		return nil
	}
	err := b.source.Close()
	b.source = nil
	return err
}

func (b *backingTrack) playing() bool {
	b.mu.Lock()
	defer b.mu.Unlock()
	return b.source != nil
}

// mix adds the next period of the track to bus as mono at half amplitude.
// A short final chunk is padded with silence.
func (b *backingTrack) mix(bus []float32) error {
	finished, err := b.mixLocked(bus)
	if finished && b.onFinish != nil {
		b.onFinish()
	}
	return err
}

func (b *backingTrack) mixLocked(bus []float32) (finished bool, err error) {
	b.mu.Lock()
	defer b.mu.Unlock()

	if b.source == nil {
		return false, nil
	}

	channels := max(b.source.Channels(), 1)
	need := len(bus) * channels
	if cap(b.scratch) < need {
		b.scratch = make([]float32, need)
	}
	chunk := b.scratch[:need]

	filled := 0
	for filled < need {
		n, readErr := b.source.Next(chunk[filled:])
		filled += n
		if errors.Is(readErr, io.EOF) || (readErr == nil && n == 0) {
			finished = true
			break
		}
		if readErr != nil {
			b.closeLocked()
			return true, fmt.Errorf("backing track: %w", readErr)
		}
	}

	frames := filled / channels
	for i := 0; i < frames; i++ {
		var sum float32
		for ch := 0; ch < channels; ch++ {
			sum += chunk[i*channels+ch]
		}
		bus[i] += sum / float32(channels) / 2
	}

	if finished {
		b.closeLocked()
	}
	return finished, nil
}

func (b *backingTrack) closeLocked() {
	_ = b.source.Close()
	b.source = nil
}
