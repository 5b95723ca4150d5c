package signal

import (
	"context"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/gorilla/websocket"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/zap/zaptest"
)

type staticParticipants struct {
	mu   sync.Mutex
	list []*domain.Participant
}

func (p *staticParticipants) List(context.Context) ([]*domain.Participant, error) {
	p.mu.Lock()
	defer p.mu.Unlock()
	return append([]*domain.Participant(nil), p.list...), nil
}

func (p *staticParticipants) set(list ...*domain.Participant) {
	p.mu.Lock()
	p.list = list
	p.mu.Unlock()
}

func newTestDashboard(t *testing.T) (*DashboardServer, *staticParticipants, *websocket.Conn) {
	t.Helper()

	participants := &staticParticipants{}
	participants.set(&domain.Participant{ClientID: "alice", Username: "Alice"})

	cfg := DefaultConfig()
	cfg.DebounceInterval = 10 * time.Millisecond
	s := NewDashboardServer(cfg, participants, zaptest.NewLogger(t).Sugar())

	srv := httptest.NewServer(http.HandlerFunc(s.HandleWebSocket))
	t.Cleanup(srv.Close)
	t.Cleanup(s.Close)

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })

	return s, participants, conn
}

func readEvent(t *testing.T, conn *websocket.Conn) Event {
	t.Helper()
	require.NoError(t, conn.SetReadDeadline(time.Now().Add(2*time.Second)))
	var ev Event
	require.NoError(t, conn.ReadJSON(&ev))
	return ev
}

func TestDashboard_SnapshotOnConnect(t *testing.T) {
	_, _, conn := newTestDashboard(t)

	ev := readEvent(t, conn)
	assert.Equal(t, EventParticipants, ev.Type)
	require.Len(t, ev.Participants, 1)
	assert.Equal(t, domain.ClientID("alice"), ev.Participants[0].ClientID)

	ev = readEvent(t, conn)
	assert.Equal(t, EventPlayback, ev.Type)
	require.NotNil(t, ev.Playback)
	assert.False(t, ev.Playback.Playing)
}

func TestDashboard_DebouncedParticipants(t *testing.T) {
	s, participants, conn := newTestDashboard(t)
	readEvent(t, conn)
	readEvent(t, conn)

	participants.set(
		&domain.Participant{ClientID: "alice"},
		&domain.Participant{ClientID: "bob"},
	)
	for i := 0; i < 5; i++ {
		s.ParticipantsChanged(domain.ParticipantEvent{Type: domain.ParticipantJoined})
	}

	ev := readEvent(t, conn)
	assert.Equal(t, EventParticipants, ev.Type)
	assert.Len(t, ev.Participants, 2)

	// The burst collapsed into one message; the next one is the playback event.
	s.PlaybackChanged(domain.PlaybackState{Playing: true, TrackID: 3})
	ev = readEvent(t, conn)
	assert.Equal(t, EventPlayback, ev.Type)
	assert.Equal(t, domain.TrackID(3), ev.Playback.TrackID)
}

func TestDashboard_Eviction(t *testing.T) {
	s, _, conn := newTestDashboard(t)
	readEvent(t, conn)
	readEvent(t, conn)

	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)
	s.ConnectionEvicted("10.0.0.2:5000", "bob", "idle")

	ev := readEvent(t, conn)
	assert.Equal(t, EventConnectionEvicted, ev.Type)
	require.NotNil(t, ev.Eviction)
	assert.Equal(t, "10.0.0.2:5000", ev.Eviction.Addr)
	assert.Equal(t, "idle", ev.Eviction.Reason)
}

func TestDashboard_DisconnectRemovesClient(t *testing.T) {
	s, _, conn := newTestDashboard(t)
	readEvent(t, conn)

	require.Eventually(t, func() bool { return s.Clients() == 1 }, time.Second, 5*time.Millisecond)
	conn.Close()
	assert.Eventually(t, func() bool { return s.Clients() == 0 }, 2*time.Second, 5*time.Millisecond)
}

func TestCheckOrigin(t *testing.T) {
	s := NewDashboardServer(Config{AllowedOrigins: []string{"studio.example.com"}}, &staticParticipants{}, zaptest.NewLogger(t).Sugar())

	req := httptest.NewRequest(http.MethodGet, "/ws/dashboard", nil)
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://studio.example.com")
	assert.True(t, s.checkOrigin(req))

	req.Header.Set("Origin", "https://evil.example.com")
	assert.False(t, s.checkOrigin(req))
}
