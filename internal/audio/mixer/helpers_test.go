package mixer

import (
	"encoding/binary"
	"io"
	"math"
	"net"
	"sync"
	"testing"

	"rehearsal/internal/audio/framer"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/infrastructure/codec/l16"

	"github.com/stretchr/testify/require"
)

func udpAddr(port int) *net.UDPAddr {
	return &net.UDPAddr{IP: net.IPv4(127, 0, 0, 1), Port: port}
}

func datagram(seq uint16, payload []byte) []byte {
	out := make([]byte, framer.HeaderSize+len(payload))
	binary.BigEndian.PutUint32(out[0:4], uint32(seq)*20)
	binary.BigEndian.PutUint16(out[4:6], seq)
	copy(out[framer.HeaderSize:], payload)
	return out
}

// sine returns frame number phase of a 440 Hz tone at amplitude amp.
func sine(amp float64, phase int) []int16 {
	pcm := make([]int16, domain.SamplesPerFrame)
	for i := range pcm {
		v := amp * math.Sin(2*math.Pi*440*float64(phase*len(pcm)+i)/domain.SampleRate)
		pcm[i] = int16(v * 32767)
	}
	return pcm
}

func decodeOrFail(t *testing.T, d []byte) framer.Packet {
	t.Helper()
	pkt, err := framer.Decode(d)
	require.NoError(t, err)
	return pkt
}

func encodeL16(t *testing.T, pcm []int16) []byte {
	t.Helper()
	enc, err := l16.New(domain.SampleRate).NewEncoder()
	require.NoError(t, err)
	payload, err := enc.Encode(pcm)
	require.NoError(t, err)
	return payload
}

type sentPacket struct {
	addr     string
	datagram []byte
}

type recordingSender struct {
	mu   sync.Mutex
	sent []sentPacket
	err  error
}

func (r *recordingSender) Send(d []byte, addr net.Addr) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.err != nil {
		return r.err
	}
	r.sent = append(r.sent, sentPacket{addr: addr.String(), datagram: append([]byte(nil), d...)})
	return nil
}

func (r *recordingSender) to(addr net.Addr) [][]byte {
	r.mu.Lock()
	defer r.mu.Unlock()
	var out [][]byte
	for _, p := range r.sent {
		if p.addr == addr.String() {
			out = append(out, p.datagram)
		}
	}
	return out
}

type fakeSource struct {
	channels   int
	sampleRate int
	samples    []float32
	pos        int
	err        error
	closed     bool
}

func (f *fakeSource) Channels() int   { return f.channels }
func (f *fakeSource) SampleRate() int { return f.sampleRate }

func (f *fakeSource) Next(dst []float32) (int, error) {
	if f.err != nil {
		return 0, f.err
	}
	if f.pos >= len(f.samples) {
		return 0, io.EOF
	}
	n := copy(dst, f.samples[f.pos:])
	f.pos += n
	return n, nil
}

func (f *fakeSource) Close() error {
	f.closed = true
	return nil
}
