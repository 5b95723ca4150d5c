package signal

import (
	"context"
	"encoding/json"
	"net/http"
	"net/url"
	"sync"
	"time"

	"rehearsal/internal/core/domain"

	"github.com/bep/debounce"
	"github.com/gorilla/websocket"
	"github.com/samber/lo"
	"go.uber.org/zap"
)

const (
	EventParticipants      = "participants"
	EventPlayback          = "playback"
	EventConnectionEvicted = "connection_evicted"

	sendQueueSize = 16
)

// ParticipantLister is the read side of the participant service.
type ParticipantLister interface {
	List(ctx context.Context) ([]*domain.Participant, error)
}

type Config struct {
	PingInterval     time.Duration
	PongTimeout      time.Duration
	WriteTimeout     time.Duration
	DebounceInterval time.Duration
	MaxMessageSize   int64
	// AllowedOrigins lists accepted Origin headers; "*" accepts any.
	AllowedOrigins []string
}

func DefaultConfig() Config {
	return Config{
		PingInterval:     30 * time.Second,
		PongTimeout:      60 * time.Second,
		WriteTimeout:     10 * time.Second,
		DebounceInterval: 250 * time.Millisecond,
		MaxMessageSize:   4 * 1024,
		AllowedOrigins:   []string{"*"},
	}
}

// Event is one JSON message on the dashboard feed.
type Event struct {
	Type         string                `json:"type"`
	Timestamp    time.Time             `json:"timestamp"`
	Participants []*domain.Participant `json:"participants,omitempty"`
	Playback     *domain.PlaybackState `json:"playback,omitempty"`
	Eviction     *Eviction             `json:"eviction,omitempty"`
}

type Eviction struct {
	Addr     string          `json:"addr"`
	ClientID domain.ClientID `json:"client_id,omitempty"`
	Reason   string          `json:"reason"`
}

type client struct {
	conn *websocket.Conn
	send chan []byte

	mu     sync.Mutex
	closed bool
}

// offer queues msg without blocking. It reports false when the queue is full.
func (c *client) offer(msg []byte) bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed {
		return true
	}
	select {
	case c.send <- msg:
		return true
	default:
		return false
	}
}

func (c *client) close() {
	c.mu.Lock()
	defer c.mu.Unlock()
	if !c.closed {
		c.closed = true
		close(c.send)
	}
}

// DashboardServer pushes room state to browser dashboards over websockets.
// It never reads commands from them.
type DashboardServer struct {
	cfg          Config
	participants ParticipantLister
	logger       *zap.SugaredLogger
	upgrader     websocket.Upgrader
	debounced    func(f func())

	mu       sync.RWMutex
	clients  map[*client]struct{}
	playback domain.PlaybackState
}

func NewDashboardServer(cfg Config, participants ParticipantLister, logger *zap.SugaredLogger) *DashboardServer {
	if cfg.DebounceInterval <= 0 {
		cfg.DebounceInterval = DefaultConfig().DebounceInterval
	}
	s := &DashboardServer{
		cfg:          cfg,
		participants: participants,
		logger:       logger,
		debounced:    debounce.New(cfg.DebounceInterval),
		clients:      make(map[*client]struct{}),
	}
	s.upgrader = websocket.Upgrader{
		ReadBufferSize:  1024,
		WriteBufferSize: 1024,
		CheckOrigin:     s.checkOrigin,
	}
	return s
}

func (s *DashboardServer) checkOrigin(r *http.Request) bool {
	origin := r.Header.Get("Origin")
	if origin == "" || lo.Contains(s.cfg.AllowedOrigins, "*") {
		return true
	}
	u, err := url.Parse(origin)
	if err != nil {
		return false
	}
	return lo.ContainsBy(s.cfg.AllowedOrigins, func(allowed string) bool {
		return allowed == origin || allowed == u.Host
	})
}

func (s *DashboardServer) HandleWebSocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		s.logger.Warnw("websocket upgrade failed", "error", err, "remote", r.RemoteAddr)
		return
	}

	c := &client{conn: conn, send: make(chan []byte, sendQueueSize)}

	s.mu.Lock()
	s.clients[c] = struct{}{}
	playback := s.playback
	s.mu.Unlock()

	s.logger.Infow("dashboard connected", "remote", r.RemoteAddr)

	if list, err := s.participants.List(r.Context()); err == nil {
		s.enqueue(c, s.encode(Event{Type: EventParticipants, Participants: list}))
	}
	s.enqueue(c, s.encode(Event{Type: EventPlayback, Playback: &playback}))

	go s.writePump(c)
	s.readPump(c)
}

// readPump only exists to process pongs and notice the peer going away.
func (s *DashboardServer) readPump(c *client) {
	defer s.remove(c)

	if s.cfg.MaxMessageSize > 0 {
		c.conn.SetReadLimit(s.cfg.MaxMessageSize)
	}
	c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	c.conn.SetPongHandler(func(string) error {
		return c.conn.SetReadDeadline(time.Now().Add(s.cfg.PongTimeout))
	})

	for {
		if _, _, err := c.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				s.logger.Infow("dashboard read failed", "error", err)
			}
			return
		}
	}
}

func (s *DashboardServer) writePump(c *client) {
	ticker := time.NewTicker(s.cfg.PingInterval)
	defer func() {
		ticker.Stop()
		c.conn.Close()
	}()

	for {
		select {
		case msg, ok := <-c.send:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if !ok {
				c.conn.WriteMessage(websocket.CloseMessage, nil)
				return
			}
			if err := c.conn.WriteMessage(websocket.TextMessage, msg); err != nil {
				return
			}
		case <-ticker.C:
			c.conn.SetWriteDeadline(time.Now().Add(s.cfg.WriteTimeout))
			if err := c.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

func (s *DashboardServer) remove(c *client) {
	s.mu.Lock()
	_, ok := s.clients[c]
	delete(s.clients, c)
	s.mu.Unlock()

	if ok {
		c.close()
		s.logger.Infow("dashboard disconnected")
	}
}

func (s *DashboardServer) encode(ev Event) []byte {
	if ev.Timestamp.IsZero() {
		ev.Timestamp = time.Now()
	}
	data, err := json.Marshal(ev)
	if err != nil {
		s.logger.Errorw("failed to encode dashboard event", "type", ev.Type, "error", err)
		return nil
	}
	return data
}

// enqueue drops a client whose queue is full rather than block the caller.
func (s *DashboardServer) enqueue(c *client, msg []byte) {
	if msg == nil {
		return
	}
	if !c.offer(msg) {
		s.logger.Warnw("dashboard too slow, disconnecting")
		s.remove(c)
	}
}

func (s *DashboardServer) broadcast(ev Event) {
	msg := s.encode(ev)
	if msg == nil {
		return
	}

	s.mu.RLock()
	clients := lo.Keys(s.clients)
	s.mu.RUnlock()

	for _, c := range clients {
		s.enqueue(c, msg)
	}
}

// ParticipantsChanged schedules a participant-list broadcast. Bursts of
// joins collapse into one message.
func (s *DashboardServer) ParticipantsChanged(domain.ParticipantEvent) {
	s.debounced(s.broadcastParticipants)
}

func (s *DashboardServer) broadcastParticipants() {
	ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
	defer cancel()

	list, err := s.participants.List(ctx)
	if err != nil {
		s.logger.Warnw("failed to list participants for dashboard", "error", err)
		return
	}
	s.broadcast(Event{Type: EventParticipants, Participants: list})
}

func (s *DashboardServer) PlaybackChanged(state domain.PlaybackState) {
	s.mu.Lock()
	s.playback = state
	s.mu.Unlock()
	s.broadcast(Event{Type: EventPlayback, Playback: &state})
}

func (s *DashboardServer) ConnectionEvicted(addr string, clientID domain.ClientID, reason string) {
	s.broadcast(Event{
		Type:     EventConnectionEvicted,
		Eviction: &Eviction{Addr: addr, ClientID: clientID, Reason: reason},
	})
}

func (s *DashboardServer) Clients() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.clients)
}

// Close disconnects every dashboard.
func (s *DashboardServer) Close() {
	s.mu.Lock()
	clients := lo.Keys(s.clients)
	s.clients = make(map[*client]struct{})
	s.mu.Unlock()

	for _, c := range clients {
		c.close()
	}
}
