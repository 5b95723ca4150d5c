package main

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"net"
	"strconv"
	"time"

	"rehearsal/internal/audio/framer"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/infrastructure/codec/l16"
	"rehearsal/internal/infrastructure/control"
	"rehearsal/internal/infrastructure/udp"

	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
)

type singerConfig struct {
	ClientID    string
	Host        string
	ControlPort int
	AudioPort   int
	Frequency   float64
	Amplitude   float64
}

type report struct {
	ClientID string
	Sent     uint64
	Received uint64
	Lost     uint64
	BytesOut uint64
	BytesIn  uint64
}

func (r report) add(o report) report {
	return report{
		ClientID: r.ClientID,
		Sent:     r.Sent + o.Sent,
		Received: r.Received + o.Received,
		Lost:     r.Lost + o.Lost,
		BytesOut: r.BytesOut + o.BytesOut,
		BytesIn:  r.BytesIn + o.BytesIn,
	}
}

// LossPercent is the share of server frames that never arrived, judged by
// gaps in their sequence numbers.
func (r report) LossPercent() float64 {
	expected := r.Received + r.Lost
	if expected == 0 {
		return 0
	}
	return 100 * float64(r.Lost) / float64(expected)
}

type announce struct {
	Command string `json:"command"`
	control.AnnounceRequest
}

type singer struct {
	cfg    singerConfig
	logger *zap.SugaredLogger
	framer *framer.Framer

	sent     atomic.Uint64
	received atomic.Uint64
	lost     atomic.Uint64
	bytesOut atomic.Uint64
	bytesIn  atomic.Uint64
}

func newSinger(cfg singerConfig, logger *zap.SugaredLogger) *singer {
	return &singer{
		cfg:    cfg,
		logger: logger,
		framer: framer.New(),
	}
}

func (s *singer) Report() report {
	return report{
		ClientID: s.cfg.ClientID,
		Sent:     s.sent.Load(),
		Received: s.received.Load(),
		Lost:     s.lost.Load(),
		BytesOut: s.bytesOut.Load(),
		BytesIn:  s.bytesIn.Load(),
	}
}

// Run opens the audio socket first so its port can be announced, then
// streams until ctx is done.
func (s *singer) Run(ctx context.Context) error {
	server, err := net.ResolveUDPAddr("udp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.AudioPort)))
	if err != nil {
		return err
	}
	audio, err := net.ListenUDP("udp", nil)
	if err != nil {
		return fmt.Errorf("failed to open audio socket: %w", err)
	}
	defer audio.Close()

	var d net.Dialer
	ctrl, err := d.DialContext(ctx, "tcp", net.JoinHostPort(s.cfg.Host, strconv.Itoa(s.cfg.ControlPort)))
	if err != nil {
		return fmt.Errorf("failed to dial control channel: %w", err)
	}
	defer ctrl.Close()

	err = control.WriteFrame(ctrl, announce{
		Command: control.CommandAnnounce,
		AnnounceRequest: control.AnnounceRequest{
			ClientID: domain.ClientID(s.cfg.ClientID),
			Username: s.cfg.ClientID,
			UDPPort:  audio.LocalAddr().(*net.UDPAddr).Port,
		},
	})
	if err != nil {
		return fmt.Errorf("failed to announce: %w", err)
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		<-gctx.Done()
		audio.Close()
		ctrl.Close()
		return nil
	})
	g.Go(func() error {
		return s.readControl(ctrl)
	})
	g.Go(func() error {
		return s.receive(audio)
	})
	g.Go(func() error {
		return s.transmit(gctx, audio, server)
	})

	err = g.Wait()
	if ctx.Err() != nil {
		return nil
	}
	return err
}

func (s *singer) readControl(conn net.Conn) error {
	r := bufio.NewReader(conn)
	var buf []byte
	for {
		body, err := control.ReadFrame(r, buf, control.MaxFrameSize)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return fmt.Errorf("control channel: %w", err)
		}
		buf = body[:0]

		var msg map[string]json.RawMessage
		if err := json.Unmarshal(body, &msg); err != nil {
			s.logger.Warnw("unreadable control frame", "error", err)
			continue
		}
		var command string
		_ = json.Unmarshal(msg["command"], &command)
		switch command {
		case control.CommandAnnounce:
			var reply control.Reply
			_ = json.Unmarshal(body, &reply)
			if reply.Result != control.ResultSuccess {
				return fmt.Errorf("announce rejected: %s", reply.Reason)
			}
			s.logger.Debug("announced")
		default:
			s.logger.Infow("server command", "command", command, "body", string(body))
		}
	}
}

func (s *singer) receive(conn *net.UDPConn) error {
	buf := make([]byte, udp.MaxDatagramSize)
	var (
		started bool
		next    uint16
	)
	for {
		n, _, err := conn.ReadFromUDP(buf)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			return err
		}
		pkt, err := framer.Decode(buf[:n])
		if err != nil {
			continue
		}
		s.received.Inc()
		s.bytesIn.Add(uint64(n))

		if started {
			// Late or duplicate packets land behind next and are not gaps.
			if gap := pkt.Seq - next; gap > 0 && gap < 1<<15 {
				s.lost.Add(uint64(gap))
			}
		}
		started = true
		next = pkt.Seq + 1
	}
}

func (s *singer) transmit(ctx context.Context, conn *net.UDPConn, server *net.UDPAddr) error {
	codec := l16.New(domain.SampleRate)
	enc, err := codec.NewEncoder()
	if err != nil {
		return err
	}

	pcm := make([]int16, domain.SamplesPerFrame)
	step := 2 * math.Pi * s.cfg.Frequency / float64(domain.SampleRate)
	var phase float64

	ticker := time.NewTicker(domain.FrameDuration)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return nil
		case <-ticker.C:
		}

		for i := range pcm {
			pcm[i] = int16(s.cfg.Amplitude * math.MaxInt16 * math.Sin(phase))
			phase += step
		}
		phase = math.Mod(phase, 2*math.Pi)

		payload, err := enc.Encode(pcm)
		if err != nil {
			return err
		}
		datagram := s.framer.Encode(payload)
		n, err := conn.WriteToUDP(datagram, server)
		if err != nil {
			if errors.Is(err, net.ErrClosed) {
				return nil
			}
			s.logger.Debugw("audio send failed", "error", err)
			continue
		}
		s.sent.Inc()
		s.bytesOut.Add(uint64(n))
	}
}
