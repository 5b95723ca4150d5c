package mixer

import (
	"bytes"
	"fmt"
	"net"
	"sync"
	"time"

	"rehearsal/internal/audio/agc"
	"rehearsal/internal/audio/framer"
	"rehearsal/internal/audio/jitter"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"

	"go.uber.org/atomic"
)

type frameKind int

const (
	frameSilent frameKind = iota
	frameDecoded
	frameConcealed
)

// Connection is everything the engine keeps for one remote peer. The jitter
// buffer carries its own lock; mu guards the codec, gain and mixing state.
type Connection struct {
	key       string
	addr      net.Addr
	createdAt time.Time

	jitter *jitter.Buffer
	framer *framer.Framer

	mu       sync.Mutex
	clientID domain.ClientID
	decoder  ports.Decoder
	encoder  ports.Encoder
	agc      *agc.Controller
	started  bool

	// contribution is this period's gain-controlled, scaled signal, kept for
	// the personal mix hook.
	contribution []float32

	lastSeen        atomic.Int64
	packetsReceived atomic.Uint64
	packetsSent     atomic.Uint64
	framesConcealed atomic.Uint64
}

// ConnectionStats is a snapshot for the HTTP layer.
type ConnectionStats struct {
	Addr            string          `json:"addr"`
	ClientID        domain.ClientID `json:"client_id,omitempty"`
	Started         bool            `json:"started"`
	Gain            float64         `json:"gain"`
	PacketsReceived uint64          `json:"packets_received"`
	PacketsSent     uint64          `json:"packets_sent"`
	FramesConcealed uint64          `json:"frames_concealed"`
	Jitter          jitter.Stats    `json:"jitter"`
	CreatedAt       time.Time       `json:"created_at"`
	LastSeen        time.Time       `json:"last_seen"`
}

func newConnection(addr net.Addr, codec ports.Codec, cfg Config, now time.Time, onReset func()) (*Connection, error) {
	dec, err := codec.NewDecoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s decoder: %w", codec.Name(), err)
	}
	enc, err := codec.NewEncoder()
	if err != nil {
		return nil, fmt.Errorf("failed to create %s encoder: %w", codec.Name(), err)
	}

	c := &Connection{
		key:          addr.String(),
		addr:         addr,
		createdAt:    now,
		jitter:       jitter.New(cfg.BufferLength, jitter.WithOnReset(onReset)),
		framer:       framer.New(),
		decoder:      dec,
		encoder:      enc,
		agc:          agc.New(cfg.AGC),
		contribution: make([]float32, cfg.samplesPerFrame()),
	}
	c.lastSeen.Store(now.UnixNano())
	return c, nil
}

func (c *Connection) Addr() net.Addr {
	return c.addr
}

func (c *Connection) ClientID() domain.ClientID {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.clientID
}

func (c *Connection) setClientID(id domain.ClientID) {
	c.mu.Lock()
	c.clientID = id
	c.mu.Unlock()
}

// Receive hands an inbound packet to the jitter buffer. The payload is
// copied because the caller reuses its read buffer.
func (c *Connection) Receive(pkt framer.Packet, now time.Time) {
	c.jitter.Put(pkt.Seq, bytes.Clone(pkt.Payload))
	c.lastSeen.Store(now.UnixNano())
	c.packetsReceived.Inc()
}

func (c *Connection) LastSeen() time.Time {
	return time.Unix(0, c.lastSeen.Load())
}

// pull takes one frame from the jitter buffer, turns it into gain-controlled
// float PCM scaled by scale and adds it to bus.
func (c *Connection) pull(bus []float32, frameDuration time.Duration, scale float32) (frameKind, error) {
	payload, ok := c.jitter.Get()

	c.mu.Lock()
	defer c.mu.Unlock()

	var (
		pcm  []int16
		err  error
		kind frameKind
	)
	switch {
	case ok:
		pcm, err = c.decoder.Decode(payload)
		if err != nil {
			clear(c.contribution)
			return frameSilent, fmt.Errorf("decode: %w", err)
		}
		c.started = true
		kind = frameDecoded
	case c.started:
		pcm, err = c.decoder.DecodeMissing(frameDuration)
		if err != nil {
			clear(c.contribution)
			return frameSilent, fmt.Errorf("conceal: %w", err)
		}
		c.framesConcealed.Inc()
		kind = frameConcealed
	default:
		clear(c.contribution)
		return frameSilent, nil
	}

	int16ToFloat(c.contribution, pcm)
	c.agc.Apply(c.contribution)
	for i, s := range c.contribution {
		s *= scale
		c.contribution[i] = s
		bus[i] += s
	}
	return kind, nil
}

// encode turns the connection's personal mix into a payload with its own
// encoder.
func (c *Connection) encode(pcm []int16) ([]byte, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.encoder.Encode(pcm)
}

func (c *Connection) Stats() ConnectionStats {
	c.mu.Lock()
	clientID, started, gain := c.clientID, c.started, c.agc.Gain()
	c.mu.Unlock()

	return ConnectionStats{
		Addr:            c.key,
		ClientID:        clientID,
		Started:         started,
		Gain:            gain,
		PacketsReceived: c.packetsReceived.Load(),
		PacketsSent:     c.packetsSent.Load(),
		FramesConcealed: c.framesConcealed.Load(),
		Jitter:          c.jitter.Snapshot(),
		CreatedAt:       c.createdAt,
		LastSeen:        c.LastSeen(),
	}
}
