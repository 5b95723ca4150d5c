// Package mixer runs the real-time half of the server: the connection table
// fed by the UDP receive path and the fixed-period scheduler that mixes every
// connection, blends the backing track and sends each peer its mix.
package mixer

import (
	"context"
	"errors"
	"fmt"
	"net"
	"sync"
	"time"

	"rehearsal/internal/audio/agc"
	"rehearsal/internal/audio/framer"
	"rehearsal/internal/audio/jitter"
	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"

	"github.com/frostbyte73/core"
	"github.com/samber/lo"
	"go.uber.org/atomic"
	"go.uber.org/zap"
	"golang.org/x/time/rate"
)

var ErrAlreadyRunning = errors.New("scheduler already running")

type Config struct {
	SampleRate    int
	FrameDuration time.Duration
	// BufferLength is the jitter buffer playout delay in frames.
	BufferLength int
	// SimultaneousVoices is how many full-scale singers fit in the mix
	// before it clips; every contribution is divided by it.
	SimultaneousVoices int
	AGC                agc.Config
	// IdleTimeout evicts connections that stop sending. Zero disables it.
	IdleTimeout    time.Duration
	MaxConnections int
	// IsolateCodecErrors keeps one connection's codec failure from aborting
	// the period for everyone.
	IsolateCodecErrors bool
	SlowTickThreshold  time.Duration
}

func DefaultConfig() Config {
	return Config{
		SampleRate:         domain.SampleRate,
		FrameDuration:      domain.FrameDuration,
		BufferLength:       jitter.DefaultBufferLength,
		SimultaneousVoices: domain.SimultaneousVoices,
		AGC:                agc.DefaultConfig(),
		IdleTimeout:        10 * time.Second,
		MaxConnections:     64,
		IsolateCodecErrors: true,
		SlowTickThreshold:  5 * time.Millisecond,
	}
}

func (c Config) samplesPerFrame() int {
	return int(int64(c.SampleRate) * int64(c.FrameDuration) / int64(time.Second))
}

// PersonalMixFunc builds the mix sent to one connection from the shared bus
// and that connection's own contribution.
type PersonalMixFunc func(conn *Connection, bus, own, dst []float32)

// SharedMix sends everyone the same bus, own voice included.
func SharedMix(_ *Connection, bus, _ []float32, dst []float32) {
	copy(dst, bus)
}

type Option func(*Scheduler)

func WithMetrics(m Metrics) Option {
	return func(s *Scheduler) {
		if m != nil {
			s.metrics = m
		}
	}
}

func WithClock(now func() time.Time) Option {
	return func(s *Scheduler) {
		s.now = now
	}
}

func WithPersonalMix(fn PersonalMixFunc) Option {
	return func(s *Scheduler) {
		if fn != nil {
			s.personalMix = fn
		}
	}
}

// WithEvictionHandler is called after a connection leaves the table.
func WithEvictionHandler(fn func(stats ConnectionStats, reason string)) Option {
	return func(s *Scheduler) {
		s.onEvict = fn
	}
}

type Scheduler struct {
	cfg         Config
	codec       ports.Codec
	sender      ports.PacketSender
	logger      *zap.SugaredLogger
	metrics     Metrics
	now         func() time.Time
	personalMix PersonalMixFunc
	onEvict     func(ConnectionStats, string)
	onFinish    func()

	table   *Table
	backing backingTrack

	// Per-period scratch space, owned by whoever holds tickMu.
	tickMu   sync.Mutex
	bus      []float32
	personal []float32
	pcm      []int16
	datagram []byte
	conns    []*Connection
	active   []*Connection

	warnLimiter *rate.Limiter

	stop    core.Fuse
	running atomic.Bool

	periods      atomic.Uint64
	catchUps     atomic.Uint64
	decoded      atomic.Uint64
	concealed    atomic.Uint64
	packetsSent  atomic.Uint64
	jitterResets atomic.Uint64
	evictions    atomic.Uint64
	codecErrors  atomic.Uint64
	lastTick     atomic.Duration
	maxTick      atomic.Duration
}

var _ ports.AudioEngine = (*Scheduler)(nil)

func New(cfg Config, codec ports.Codec, sender ports.PacketSender, logger *zap.SugaredLogger, opts ...Option) *Scheduler {
	if cfg.SimultaneousVoices <= 0 {
		cfg.SimultaneousVoices = domain.SimultaneousVoices
	}
	samples := cfg.samplesPerFrame()

	s := &Scheduler{
		cfg:         cfg,
		codec:       codec,
		sender:      sender,
		logger:      logger,
		metrics:     noopMetrics{},
		now:         time.Now,
		personalMix: SharedMix,
		bus:         make([]float32, samples),
		personal:    make([]float32, samples),
		pcm:         make([]int16, samples),
		warnLimiter: rate.NewLimiter(rate.Every(time.Second), 5),
		stop:        core.NewFuse(),
	}
	for _, opt := range opts {
		opt(s)
	}

	s.table = NewTable(cfg.MaxConnections, func(addr net.Addr) (*Connection, error) {
		return newConnection(addr, s.codec, s.cfg, s.now(), s.onJitterReset)
	})
	s.backing.onFinish = s.playbackFinished
	return s
}

// HandleDatagram is the receive path: strip the header and queue the payload
// on the sender's connection, creating it if the address is new.
func (s *Scheduler) HandleDatagram(addr net.Addr, datagram []byte) error {
	pkt, err := framer.Decode(datagram)
	if err != nil {
		return err
	}

	conn, created, err := s.table.GetOrCreate(addr)
	if err != nil {
		return err
	}
	if created {
		n := s.table.Len()
		s.logger.Infow("new audio connection",
			"addr", conn.key,
			"client_id", conn.ClientID(),
			"connections", n,
		)
		s.metrics.SetConnections(n)
	}

	conn.Receive(pkt, s.now())
	return nil
}

// Run ticks once per frame period until ctx is done or Shutdown is called.
// A period that fails is fatal and its error is returned.
func (s *Scheduler) Run(ctx context.Context) error {
	if !s.running.CompareAndSwap(false, true) {
		return ErrAlreadyRunning
	}
	defer s.running.Store(false)

	period := s.cfg.FrameDuration
	ticker := time.NewTicker(period)
	defer ticker.Stop()

	s.logger.Infow("mixing scheduler started",
		"period", period,
		"sample_rate", s.cfg.SampleRate,
		"buffer_length", s.cfg.BufferLength,
	)

	start := time.Now()
	var done int64
	for {
		select {
		case <-ctx.Done():
			s.logger.Info("mixing scheduler stopped")
			return nil
		case <-s.stop.Watch():
			s.logger.Info("mixing scheduler stopped")
			return nil
		case now := <-ticker.C:
			due := int64(now.Sub(start) / period)
			count := int(due - done)
			if count < 1 {
				continue
			}
			done = due
			if err := s.Tick(count); err != nil {
				s.logger.Errorw("mixing scheduler aborted", "error", err)
				return err
			}
		}
	}
}

// Shutdown stops Run after the tick in flight completes.
func (s *Scheduler) Shutdown() {
	s.stop.Break()
}

func (s *Scheduler) Running() bool {
	return s.running.Load()
}

// Tick processes count frame periods back to back. count is above one when
// the timer fired late and the engine has to catch up.
func (s *Scheduler) Tick(count int) error {
	if count < 1 {
		return nil
	}

	s.tickMu.Lock()
	defer s.tickMu.Unlock()

	if count != 1 {
		s.logger.Warnw("catching up on missed periods", "count", count)
		s.catchUps.Inc()
		s.metrics.RecordCatchUp(count)
	}

	start := time.Now()
	for i := 0; i < count; i++ {
		if err := s.processPeriod(); err != nil {
			return fmt.Errorf("mixing period failed: %w", err)
		}
	}
	s.evictIdle()

	elapsed := time.Since(start)
	s.lastTick.Store(elapsed)
	if elapsed > s.maxTick.Load() {
		s.maxTick.Store(elapsed)
	}
	s.metrics.ObserveTick(elapsed, count)
	if s.cfg.SlowTickThreshold > 0 && elapsed > s.cfg.SlowTickThreshold {
		s.logger.Warnw("slow mixing tick",
			"duration_ms", float64(elapsed.Microseconds())/1000,
			"count", count,
		)
	}
	return nil
}

func (s *Scheduler) processPeriod() error {
	clear(s.bus)
	s.conns = s.table.appendSnapshot(s.conns[:0])
	s.active = s.active[:0]

	scale := 1 / float32(s.cfg.SimultaneousVoices)
	for _, conn := range s.conns {
		kind, err := conn.pull(s.bus, s.cfg.FrameDuration, scale)
		if err != nil {
			if err := s.codecFailure(conn, err); err != nil {
				return err
			}
			continue
		}
		s.recordFrame(kind)
		s.active = append(s.active, conn)
	}

	if err := s.backing.mix(s.bus); err != nil {
		if !s.cfg.IsolateCodecErrors {
			return err
		}
		s.codecErrors.Inc()
		s.metrics.RecordCodecError()
		s.logger.Errorw("backing track failed, playback stopped", "error", err)
	}

	for _, conn := range s.active {
		if err := s.send(conn); err != nil {
			if err := s.codecFailure(conn, err); err != nil {
				return err
			}
		}
	}

	s.periods.Inc()
	return nil
}

func (s *Scheduler) send(conn *Connection) error {
	s.personalMix(conn, s.bus, conn.contribution, s.personal)
	floatToInt16(s.pcm, s.personal)

	payload, err := conn.encode(s.pcm)
	if err != nil {
		return fmt.Errorf("encode: %w", err)
	}

	s.datagram = conn.framer.AppendEncode(s.datagram[:0], payload)
	if err := s.sender.Send(s.datagram, conn.addr); err != nil {
		s.metrics.RecordSendError()
		if s.warnLimiter.Allow() {
			s.logger.Warnw("failed to send mix", "addr", conn.key, "error", err)
		}
		return nil
	}

	conn.packetsSent.Inc()
	s.packetsSent.Inc()
	s.metrics.RecordPacketSent(len(s.datagram))
	return nil
}

func (s *Scheduler) codecFailure(conn *Connection, err error) error {
	s.codecErrors.Inc()
	s.metrics.RecordCodecError()

	if !s.cfg.IsolateCodecErrors {
		return fmt.Errorf("connection %s: %w", conn.key, err)
	}
	if s.warnLimiter.Allow() {
		s.logger.Warnw("codec failure isolated to connection",
			"addr", conn.key,
			"client_id", conn.ClientID(),
			"error", err,
		)
	}
	return nil
}

func (s *Scheduler) recordFrame(kind frameKind) {
	switch kind {
	case frameDecoded:
		s.decoded.Inc()
	case frameConcealed:
		s.concealed.Inc()
	}
	s.metrics.RecordFrame(kind.String())
}

func (s *Scheduler) onJitterReset() {
	s.jitterResets.Inc()
	s.metrics.RecordJitterReset()
}

func (s *Scheduler) evictIdle() {
	if s.cfg.IdleTimeout <= 0 {
		return
	}
	for _, conn := range s.table.EvictIdle(s.now(), s.cfg.IdleTimeout) {
		s.evicted(conn, EvictionIdle)
	}
}

func (s *Scheduler) evicted(conn *Connection, reason string) {
	stats := conn.Stats()
	s.evictions.Inc()
	s.metrics.RecordEviction(reason)
	s.metrics.SetConnections(s.table.Len())
	s.logger.Infow("audio connection evicted",
		"addr", stats.Addr,
		"client_id", stats.ClientID,
		"reason", reason,
		"packets_received", stats.PacketsReceived,
	)
	if s.onEvict != nil {
		s.onEvict(stats, reason)
	}
}

// Register binds a client id from the control plane to an audio address.
func (s *Scheduler) Register(addr net.Addr, clientID domain.ClientID) {
	s.table.Register(addr, clientID)
	s.logger.Infow("audio address registered", "addr", addr.String(), "client_id", clientID)
}

// Deregister drops the client's connection when it leaves.
func (s *Scheduler) Deregister(clientID domain.ClientID) {
	if conn := s.table.Deregister(clientID); conn != nil {
		s.evicted(conn, EvictionDeregister)
	}
}

// Play starts mixing source into every period, replacing anything playing.
func (s *Scheduler) Play(source ports.BackingTrackSource) error {
	if source.SampleRate() != s.cfg.SampleRate {
		_ = source.Close()
		return fmt.Errorf("%w: backing track is %d Hz, engine runs at %d Hz",
			domain.ErrUnsupportedFormat, source.SampleRate(), s.cfg.SampleRate)
	}
	if err := s.backing.play(source); err != nil {
		s.logger.Warnw("failed to close previous backing track", "error", err)
	}
	s.metrics.SetPlaying(true)
	s.logger.Infow("backing track playing", "channels", source.Channels())
	return nil
}

func (s *Scheduler) StopPlayback() error {
	err := s.backing.stop()
	s.metrics.SetPlaying(false)
	return err
}

func (s *Scheduler) Playing() bool {
	return s.backing.playing()
}

// OnPlaybackFinished registers a callback run when a track reaches its end.
// It runs on the scheduler goroutine and must not block.
func (s *Scheduler) OnPlaybackFinished(fn func()) {
	s.onFinish = fn
}

func (s *Scheduler) playbackFinished() {
	s.metrics.SetPlaying(false)
	s.logger.Info("backing track finished")
	if s.onFinish != nil {
		s.onFinish()
	}
}

func (s *Scheduler) Connections() []ConnectionStats {
	return lo.Map(s.table.Snapshot(), func(conn *Connection, _ int) ConnectionStats {
		return conn.Stats()
	})
}

func (s *Scheduler) Table() *Table {
	return s.table
}

func (s *Scheduler) Metrics() domain.EngineMetrics {
	return domain.EngineMetrics{
		Connections:     s.table.Len(),
		Periods:         s.periods.Load(),
		CatchUps:        s.catchUps.Load(),
		FramesDecoded:   s.decoded.Load(),
		FramesConcealed: s.concealed.Load(),
		PacketsSent:     s.packetsSent.Load(),
		JitterResets:    s.jitterResets.Load(),
		Evictions:       s.evictions.Load(),
		CodecErrors:     s.codecErrors.Load(),
		LastTick:        s.lastTick.Load(),
		MaxTick:         s.maxTick.Load(),
		Timestamp:       s.now(),
	}
}
