// Package framer adds and strips the header carried by every audio datagram:
// a 4-byte big-endian millisecond timestamp followed by a 2-byte big-endian
// sequence number.
package framer

import (
	"encoding/binary"
	"errors"
	"fmt"
	"sync"
	"time"
)

// HeaderSize is the fixed length of the datagram header.
const HeaderSize = 6

var ErrMalformedPacket = errors.New("malformed packet")

// Packet is a decoded audio datagram. Payload aliases the datagram buffer.
type Packet struct {
	Timestamp uint32
	Seq       uint16
	Payload   []byte
}

// Decode splits a datagram into header fields and codec payload.
func Decode(datagram []byte) (Packet, error) {
	if len(datagram) < HeaderSize {
		return Packet{}, fmt.Errorf("%w: %d bytes, header needs %d", ErrMalformedPacket, len(datagram), HeaderSize)
	}
	return Packet{
		Timestamp: binary.BigEndian.Uint32(datagram[0:4]),
		Seq:       binary.BigEndian.Uint16(datagram[4:6]),
		Payload:   datagram[HeaderSize:],
	}, nil
}

// Framer produces outbound datagrams for one connection. It owns the
// outbound sequence counter and the millisecond clock origin.
type Framer struct {
	mu    sync.Mutex
	seq   uint16
	epoch time.Time
	now   func() time.Time
}

type Option func(*Framer)

// WithClock replaces time.Now, mainly for tests.
func WithClock(now func() time.Time) Option {
	return func(f *Framer) {
		f.now = now
	}
}

// WithInitialSeq sets the first sequence number written.
func WithInitialSeq(seq uint16) Option {
	return func(f *Framer) {
		f.seq = seq
	}
}

func New(opts ...Option) *Framer {
	f := &Framer{now: time.Now}
	for _, opt := range opts {
		opt(f)
	}
	f.epoch = f.now()
	return f
}

// Encode returns a new datagram holding the header and payload.
func (f *Framer) Encode(payload []byte) []byte {
	return f.AppendEncode(make([]byte, 0, HeaderSize+len(payload)), payload)
}

// AppendEncode appends the framed payload to dst and returns the extended slice.
func (f *Framer) AppendEncode(dst, payload []byte) []byte {
	f.mu.Lock()
	seq := f.seq
	f.seq++
	ms := uint32(f.now().Sub(f.epoch).Milliseconds())
	f.mu.Unlock()

	dst = binary.BigEndian.AppendUint32(dst, ms)
	dst = binary.BigEndian.AppendUint16(dst, seq)
	return append(dst, payload...)
}

// NextSeq returns the sequence number the next Encode will use.
func (f *Framer) NextSeq() uint16 {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.seq
}
