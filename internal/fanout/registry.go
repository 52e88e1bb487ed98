package fanout

import (
	"encoding/json"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/nerrad567/rfid-bridge/internal/infrastructure/config"
	"github.com/nerrad567/rfid-bridge/internal/infrastructure/logging"
)

// ConnectedMessage is the acknowledgment every session receives first.
const ConnectedMessage = "Connected to real-time updates"

// Defaults applied when the WebSocket config leaves a value unset.
const (
	defaultSendBuffer     = 64
	defaultWriteTimeout   = 5 * time.Second
	defaultPingInterval   = 30 * time.Second
	defaultPongTimeout    = 10 * time.Second
	defaultMaxMessageSize = 4096
)

// BroadcastResult reports the outcome of one Broadcast.
type BroadcastResult struct {
	Delivered int
	Evicted   int
}

// Stats is a point-in-time view of the registry.
type Stats struct {
	Sessions   int
	Registered uint64
	Evicted    uint64
}

// Registry owns the set of live dashboard sessions.
//
// Lock ordering: the registry lock is released before any per-session
// operation, so a slow or dead session can never stall the others.
type Registry struct {
	logger *logging.Logger

	sendBuffer     int
	writeTimeout   time.Duration
	pingInterval   time.Duration
	pongTimeout    time.Duration
	maxMessageSize int64

	sessions map[string]*Session
	closed   bool
	mu       sync.RWMutex

	registered atomic.Uint64
	evicted    atomic.Uint64
}

// NewRegistry creates an empty registry.
func NewRegistry(cfg config.WebSocketConfig, logger *logging.Logger) *Registry {
	r := &Registry{
		logger:         logger,
		sendBuffer:     cfg.SendBuffer,
		writeTimeout:   time.Duration(cfg.WriteTimeout) * time.Second,
		pingInterval:   time.Duration(cfg.PingInterval) * time.Second,
		pongTimeout:    time.Duration(cfg.PongTimeout) * time.Second,
		maxMessageSize: int64(cfg.MaxMessageSize),
		sessions:       make(map[string]*Session),
	}
	if r.sendBuffer <= 0 {
		r.sendBuffer = defaultSendBuffer
	}
	if r.writeTimeout <= 0 {
		r.writeTimeout = defaultWriteTimeout
	}
	if r.pingInterval <= 0 {
		r.pingInterval = defaultPingInterval
	}
	if r.pongTimeout <= 0 {
		r.pongTimeout = defaultPongTimeout
	}
	if r.maxMessageSize <= 0 {
		r.maxMessageSize = defaultMaxMessageSize
	}
	return r
}

// NewSession wraps conn in an Open session sized from the registry config.
// The session is not registered yet.
func (r *Registry) NewSession(conn Conn, remoteAddr string) *Session {
	return newSession(conn, remoteAddr, r.sendBuffer)
}

// Serve registers a new session for conn and starts its pumps.
// On failure the transport is closed.
func (r *Registry) Serve(conn Conn, remoteAddr string) (*Session, error) {
	s := r.NewSession(conn, remoteAddr)
	if err := r.Register(s); err != nil {
		s.closeConn()
		return nil, err
	}

	go r.writePump(s)
	go r.readPump(s)

	return s, nil
}

// Register adds s to the registry and queues the connected acknowledgment
// ahead of any broadcast.
func (r *Registry) Register(s *Session) error {
	ack, err := json.Marshal(map[string]string{"message": ConnectedMessage})
	if err != nil {
		return fmt.Errorf("marshalling connected message: %w", err)
	}

	r.mu.Lock()
	if r.closed {
		r.mu.Unlock()
		return ErrRegistryClosed
	}
	if _, exists := r.sessions[s.ID]; exists {
		r.mu.Unlock()
		return ErrDuplicateSession
	}
	r.sessions[s.ID] = s
	s.enqueue(ack)
	count := len(r.sessions)
	r.mu.Unlock()

	r.registered.Add(1)
	r.logger.Info("dashboard connected",
		"session_id", s.ID,
		"remote_addr", s.RemoteAddr,
		"sessions", count,
	)
	return nil
}

// Unregister removes s and closes its queue. The write pump then sends a
// close frame and closes the transport. Safe to call more than once.
func (r *Registry) Unregister(s *Session) {
	r.mu.Lock()
	_, existed := r.sessions[s.ID]
	delete(r.sessions, s.ID)
	count := len(r.sessions)
	r.mu.Unlock()

	s.closeQueue()

	if existed {
		r.logger.Info("dashboard disconnected",
			"session_id", s.ID,
			"sessions", count,
		)
	}
}

// evict unregisters s and closes its transport immediately.
func (r *Registry) evict(s *Session, reason string) {
	r.Unregister(s)
	s.closeConn()
	r.evicted.Add(1)
	r.logger.Warn("dashboard evicted",
		"session_id", s.ID,
		"reason", reason,
	)
}

// Broadcast marshals v once and offers it to every registered session.
//
// A session that is not Open or whose queue is full is evicted; delivery to
// the remaining sessions is unaffected. Returns once every session has been
// attempted.
func (r *Registry) Broadcast(v any) (BroadcastResult, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return BroadcastResult{}, fmt.Errorf("marshalling broadcast: %w", err)
	}

	// Snapshot session list under the registry lock, then release before sending
	r.mu.RLock()
	sessions := make([]*Session, 0, len(r.sessions))
	for _, s := range r.sessions {
		sessions = append(sessions, s)
	}
	r.mu.RUnlock()

	var result BroadcastResult
	for _, s := range sessions {
		if s.enqueue(data) {
			result.Delivered++
			continue
		}
		reason := "send queue full"
		if s.State() != SessionOpen {
			reason = "session not open"
		}
		r.evict(s, reason)
		result.Evicted++
	}

	if len(sessions) > 0 {
		r.logger.Debug("broadcast sent",
			"delivered", result.Delivered,
			"evicted", result.Evicted,
		)
	}
	return result, nil
}

// Count returns the number of registered sessions.
func (r *Registry) Count() int {
	r.mu.RLock()
	defer r.mu.RUnlock()
	return len(r.sessions)
}

// Stats returns a snapshot of registry counters.
func (r *Registry) Stats() Stats {
	return Stats{
		Sessions:   r.Count(),
		Registered: r.registered.Load(),
		Evicted:    r.evicted.Load(),
	}
}

// Close disconnects every session and refuses new registrations.
func (r *Registry) Close() {
	r.mu.Lock()
	r.closed = true
	sessions := make([]*Session, 0, len(r.sessions))
	for id, s := range r.sessions {
		sessions = append(sessions, s)
		delete(r.sessions, id)
	}
	r.mu.Unlock()

	for _, s := range sessions {
		s.closeConn()
	}
	if len(sessions) > 0 {
		r.logger.Info("closed dashboard sessions", "count", len(sessions))
	}
}

// readPump drains and discards client frames. Dashboards send no commands;
// reading is needed for pongs and close detection.
func (r *Registry) readPump(s *Session) {
	defer r.Unregister(s)

	s.conn.SetReadLimit(r.maxMessageSize)
	//nolint:errcheck // Best-effort deadline on connection setup
	s.conn.SetReadDeadline(time.Now().Add(r.pingInterval + r.pongTimeout))
	s.conn.SetPongHandler(func(string) error {
		return s.conn.SetReadDeadline(time.Now().Add(r.pingInterval + r.pongTimeout))
	})

	for {
		if _, _, err := s.conn.ReadMessage(); err != nil {
			if websocket.IsUnexpectedCloseError(err, websocket.CloseGoingAway, websocket.CloseNormalClosure) {
				r.logger.Warn("websocket read error", "session_id", s.ID, "error", err)
			} else {
				r.logger.Debug("websocket closed", "session_id", s.ID, "error", err)
			}
			return
		}
		//nolint:errcheck // Any client frame proves liveness
		s.conn.SetReadDeadline(time.Now().Add(r.pingInterval + r.pongTimeout))
	}
}

// writePump writes queued frames in order and pings periodically.
// Any write failure unregisters the session.
func (r *Registry) writePump(s *Session) {
	ticker := time.NewTicker(r.pingInterval)
	defer func() {
		ticker.Stop()
		r.Unregister(s)
		s.closeConn()
	}()

	for {
		select {
		case message, ok := <-s.send:
			//nolint:errcheck // Best-effort deadline; write error caught below
			s.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			if !ok {
				// Queue closed by Unregister
				//nolint:errcheck // Best-effort close message
				s.conn.WriteMessage(websocket.CloseMessage,
					websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""))
				return
			}
			if err := s.conn.WriteMessage(websocket.TextMessage, message); err != nil {
				r.logger.Debug("websocket write failed", "session_id", s.ID, "error", err)
				return
			}
		case <-ticker.C:
			//nolint:errcheck // Best-effort deadline; ping error caught below
			s.conn.SetWriteDeadline(time.Now().Add(r.writeTimeout))
			if err := s.conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}
