package backingtrack

import (
	"context"
	"io"
	"os"
	"path/filepath"
	"testing"

	"rehearsal/internal/core/domain"

	"github.com/go-audio/audio"
	"github.com/go-audio/wav"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

func writeWAV(t *testing.T, sampleRate, channels int, data []int) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "track.wav")
	f, err := os.Create(path)
	require.NoError(t, err)
	defer f.Close()

	enc := wav.NewEncoder(f, sampleRate, 16, channels, wavFormatPCM)
	require.NoError(t, enc.Write(&audio.IntBuffer{
		Format:         &audio.Format{NumChannels: channels, SampleRate: sampleRate},
		Data:           data,
		SourceBitDepth: 16,
	}))
	require.NoError(t, enc.Close())
	return path
}

func TestSource_StreamsChunks(t *testing.T) {
	data := make([]int, 0, 200)
	for i := 0; i < 100; i++ {
		data = append(data, 16384, -32768)
	}
	path := writeWAV(t, domain.SampleRate, 2, data)

	src, err := OpenFile(path)
	require.NoError(t, err)
	defer src.Close()

	assert.Equal(t, 2, src.Channels())
	assert.Equal(t, domain.SampleRate, src.SampleRate())

	dst := make([]float32, 120)
	total := 0
	for {
		n, err := src.Next(dst)
		if err == io.EOF {
			break
		}
		require.NoError(t, err)
		for i := 0; i < n; i += 2 {
			assert.InDelta(t, 0.5, dst[i], 1e-6)
			assert.InDelta(t, -1.0, dst[i+1], 1e-6)
		}
		total += n
	}
	assert.Equal(t, 200, total)

	_, err = src.Next(dst)
	assert.Equal(t, io.EOF, err)
}

func TestProbe(t *testing.T) {
	path := writeWAV(t, 44100, 1, make([]int, 441))

	info, err := Probe(path)
	require.NoError(t, err)
	assert.Equal(t, 44100, info.SampleRate)
	assert.Equal(t, 1, info.Channels)
	assert.Equal(t, 16, info.BitDepth)
	assert.Positive(t, info.SizeBytes)
}

func TestOpenFile_RejectsGarbage(t *testing.T) {
	path := filepath.Join(t.TempDir(), "noise.wav")
	require.NoError(t, os.WriteFile(path, []byte("definitely not a riff header"), 0o644))

	_, err := OpenFile(path)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)

	_, err = OpenFile(filepath.Join(t.TempDir(), "missing.wav"))
	assert.Error(t, err)
}

func TestOpener_RejectsWrongSampleRate(t *testing.T) {
	opener := NewOpener(zaptest.NewLogger(t).Sugar())
	track := &domain.Track{ID: 1, Path: writeWAV(t, 44100, 2, make([]int, 882))}

	_, err := opener.Open(context.Background(), track)
	assert.ErrorIs(t, err, domain.ErrUnsupportedFormat)
}

func TestOpener_Open(t *testing.T) {
	opener := NewOpener(zaptest.NewLogger(t).Sugar())
	track := &domain.Track{ID: 1, Path: writeWAV(t, domain.SampleRate, 1, make([]int, 960))}

	src, err := opener.Open(context.Background(), track)
	require.NoError(t, err)
	assert.NoError(t, src.Close())

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err = opener.Open(ctx, track)
	assert.ErrorIs(t, err, context.Canceled)
}
