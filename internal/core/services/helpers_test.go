package services

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net"
	"sync"
	"testing"

	"rehearsal/internal/core/domain"
	"rehearsal/internal/core/ports"
	"rehearsal/internal/infrastructure/repositories/memory"

	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type sentCommand struct {
	command string
	payload json.RawMessage
}

type fakeSession struct {
	addr net.Addr

	mu   sync.Mutex
	sent []sentCommand
	err  error
}

func newFakeSession(addr string) *fakeSession {
	tcp, _ := net.ResolveTCPAddr("tcp", addr)
	return &fakeSession{addr: tcp}
}

func (s *fakeSession) RemoteAddr() net.Addr { return s.addr }

func (s *fakeSession) Send(_ context.Context, command string, payload interface{}) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.err != nil {
		return s.err
	}
	body, _ := json.Marshal(payload)
	s.sent = append(s.sent, sentCommand{command: command, payload: body})
	return nil
}

func (s *fakeSession) commands() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]string, len(s.sent))
	for i, c := range s.sent {
		out[i] = c.command
	}
	return out
}

func (s *fakeSession) last(t *testing.T, v interface{}) string {
	t.Helper()
	s.mu.Lock()
	defer s.mu.Unlock()
	require.NotEmpty(t, s.sent)
	c := s.sent[len(s.sent)-1]
	if v != nil {
		require.NoError(t, json.Unmarshal(c.payload, v))
	}
	return c.command
}

type fakeSource struct {
	closed bool
}

func (s *fakeSource) Channels() int               { return 1 }
func (s *fakeSource) SampleRate() int             { return domain.SampleRate }
func (s *fakeSource) Next([]float32) (int, error) { return 0, io.EOF }
func (s *fakeSource) Close() error {
	s.closed = true
	return nil
}

type fakeEngine struct {
	mu         sync.Mutex
	registered map[domain.ClientID]net.Addr
	source     ports.BackingTrackSource
	onFinish   func()
	playErr    error
}

func newFakeEngine() *fakeEngine {
	return &fakeEngine{registered: make(map[domain.ClientID]net.Addr)}
}

func (e *fakeEngine) Register(addr net.Addr, id domain.ClientID) {
	e.mu.Lock()
	e.registered[id] = addr
	e.mu.Unlock()
}

func (e *fakeEngine) Deregister(id domain.ClientID) {
	e.mu.Lock()
	delete(e.registered, id)
	e.mu.Unlock()
}

func (e *fakeEngine) Play(source ports.BackingTrackSource) error {
	if e.playErr != nil {
		source.Close()
		return e.playErr
	}
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != nil {
		e.source.Close()
	}
	e.source = source
	return nil
}

func (e *fakeEngine) StopPlayback() error {
	e.mu.Lock()
	defer e.mu.Unlock()
	if e.source != nil {
		e.source.Close()
		e.source = nil
	}
	return nil
}

func (e *fakeEngine) Playing() bool {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.source != nil
}

func (e *fakeEngine) OnPlaybackFinished(fn func()) { e.onFinish = fn }

func (e *fakeEngine) Metrics() domain.EngineMetrics {
	e.mu.Lock()
	defer e.mu.Unlock()
	return domain.EngineMetrics{Connections: len(e.registered)}
}

// finish simulates the engine reaching the end of the track.
func (e *fakeEngine) finish() {
	e.mu.Lock()
	e.source = nil
	e.mu.Unlock()
	e.onFinish()
}

type fakeOpener struct {
	infos   map[string]domain.AudioFileInfo
	opened  []domain.TrackID
	sources []*fakeSource
}

var errNoSuchFile = errors.New("no such file")

func (o *fakeOpener) Open(_ context.Context, track *domain.Track) (ports.BackingTrackSource, error) {
	o.opened = append(o.opened, track.ID)
	src := &fakeSource{}
	o.sources = append(o.sources, src)
	return src, nil
}

func (o *fakeOpener) Probe(path string) (domain.AudioFileInfo, error) {
	info, ok := o.infos[path]
	if !ok {
		return domain.AudioFileInfo{}, errNoSuchFile
	}
	return info, nil
}

type fixture struct {
	engine       *fakeEngine
	opener       *fakeOpener
	tracksRepo   ports.TrackRepository
	participants *ParticipantService
	tracks       *TrackService
	playback     *PlaybackService
}

func newFixture(t *testing.T) *fixture {
	t.Helper()
	logger := zaptest.NewLogger(t).Sugar()

	f := &fixture{
		engine:     newFakeEngine(),
		opener:     &fakeOpener{infos: map[string]domain.AudioFileInfo{}},
		tracksRepo: memory.NewMemoryTrackRepository(),
	}
	f.participants = NewParticipantService(memory.NewMemoryParticipantRepository(), f.engine, logger)
	t.Cleanup(f.participants.Close)

	f.tracks = NewTrackService(f.tracksRepo, f.opener, f.participants, "/session", "http://studio:8080/", logger)

	var err error
	f.playback, err = NewPlaybackService(f.tracksRepo, f.opener, f.engine, f.participants, logger)
	require.NoError(t, err)
	return f
}

func (f *fixture) addFile(path string, sampleRate int) {
	f.opener.infos[path] = domain.AudioFileInfo{SampleRate: sampleRate, Channels: 2, BitDepth: 16, SizeBytes: 1 << 20}
}

func (f *fixture) join(t *testing.T, id domain.ClientID) *fakeSession {
	t.Helper()
	sess := newFakeSession("10.0.0.1:40000")
	_, err := f.participants.JoinTCP(context.Background(), id, string(id), sess)
	require.NoError(t, err)
	return sess
}
